package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger builds the process logger: JSON to stdout, fanned out to a JSON
// log file when path is set. The returned func closes the file.
func SetupLogger(path string, level slog.Level) (*slog.Logger, func() error) {
	stdout := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if path == "" {
		return slog.New(stdout), func() error { return nil }
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		slog.Error("failed to create log directory, using stdout only", "error", err, "file", path)
		return slog.New(stdout), func() error { return nil }
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) //nolint:gosec // operator-supplied path
	if err != nil {
		slog.Error("failed to open log file, using stdout only", "error", err, "file", path)
		return slog.New(stdout), func() error { return nil }
	}

	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return slog.New(slogmulti.Fanout(stdout, fileHandler)), file.Close
}

// SetupLoggerWithWriters fans out to two writers. Used by tests and the CLI,
// which keeps human-readable text on stderr.
func SetupLoggerWithWriters(console, file io.Writer, level slog.Level) *slog.Logger {
	consoleHandler := slog.NewTextHandler(console, &slog.HandlerOptions{Level: level})
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return slog.New(slogmulti.Fanout(consoleHandler, fileHandler))
}
