package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// TranscriptConfig controls NDJSON transcript logging.
type TranscriptConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// TranscriptEntry is one line in a transcript file.
type TranscriptEntry struct {
	Timestamp time.Time `json:"ts"`
	DeviceID  string    `json:"device_id"`
	SessionID string    `json:"session_id"`
	Event     string    `json:"event"`
	Role      string    `json:"role,omitempty"`
	Content   string    `json:"content,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Playbook  string    `json:"playbook_id,omitempty"`
}

// TranscriptLogger records conversation events. Log never blocks.
type TranscriptLogger interface {
	Log(entry TranscriptEntry)
	Close() error
}

type noopTranscriptLogger struct{}

func (noopTranscriptLogger) Log(TranscriptEntry) {}
func (noopTranscriptLogger) Close() error        { return nil }

// NopTranscript returns a logger that discards everything.
func NopTranscript() TranscriptLogger {
	return noopTranscriptLogger{}
}

type fileTranscriptLogger struct {
	dir    string
	queue  chan TranscriptEntry
	logger *slog.Logger

	files map[string]*os.File // owned by the writer goroutine

	closeOnce sync.Once
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
}

// NewTranscriptLogger returns a file-backed logger writing
// <dir>/<device>/<session>.ndjson, or a no-op when disabled.
func NewTranscriptLogger(cfg TranscriptConfig, logger *slog.Logger) (TranscriptLogger, error) {
	if !cfg.Enabled {
		return NopTranscript(), nil
	}
	if cfg.Dir == "" {
		return nil, errors.New("transcript dir is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}

	l := &fileTranscriptLogger{
		dir:    cfg.Dir,
		queue:  make(chan TranscriptEntry, cfg.QueueSize),
		logger: logger,
		files:  make(map[string]*os.File),
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

func (l *fileTranscriptLogger) Log(entry TranscriptEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- entry:
	default:
		l.logger.Warn("Transcript queue full, dropping entry", "device_id", entry.DeviceID, "event", entry.Event)
	}
}

func (l *fileTranscriptLogger) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
	})
	<-l.done
	return nil
}

func (l *fileTranscriptLogger) run() {
	defer close(l.done)
	defer func() {
		for path, f := range l.files {
			if err := f.Close(); err != nil {
				l.logger.Warn("Failed to close transcript file", "path", path, "error", err)
			}
		}
	}()

	for entry := range l.queue {
		if err := l.write(entry); err != nil {
			l.logger.Warn("Failed to write transcript entry", "device_id", entry.DeviceID, "error", err)
		}
	}
}

func (l *fileTranscriptLogger) write(entry TranscriptEntry) error {
	path := filepath.Join(l.dir, safeComponent(entry.DeviceID), safeComponent(entry.SessionID)+".ndjson")
	f, ok := l.files[path]
	if !ok {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return err
		}
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640) //nolint:gosec // path components are sanitized
		if err != nil {
			return err
		}
		l.files[path] = f
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

// safeComponent keeps a single path element free of separators and dot tricks.
func safeComponent(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
	if s == "" {
		return "unknown"
	}
	return s
}
