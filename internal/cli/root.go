// Package cli provides the command-line interface for the companion.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/campus-companion/internal/app"
	"github.com/ashureev/campus-companion/internal/config"
	"github.com/ashureev/campus-companion/internal/identity"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose  bool
	deviceID string

	// Set in PersistentPreRunE
	rt      *app.App
	logFile *os.File
)

var rootCmd = &cobra.Command{
	Use:   "companion",
	Short: "Campus peer-support companion in your terminal",
	Long: `Companion is a terminal client for the campus peer-support companion.

It talks to the same playbook engine as the web app and keeps its state in
the configured store, so a conversation can be picked up on either side when
both use the same device id.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		_ = godotenv.Load()

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		file := io.Discard
		if cfg.LogFile != "" {
			logFile, err = os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			file = logFile
		}
		logger := config.SetupLoggerWithWriters(os.Stderr, file, level)
		slog.SetDefault(logger)

		if deviceID == "" {
			deviceID, err = localDeviceID()
			if err != nil {
				return err
			}
		}
		if !identity.IsValidDeviceID(deviceID) {
			return fmt.Errorf("invalid device id %q", deviceID)
		}

		rt, err = app.Build(cmd.Context(), cfg, logger)
		return err
	},
}

// Execute runs the root command. Resources are released even when the
// command fails.
func Execute() error {
	err := rootCmd.ExecuteContext(context.Background())
	if rt != nil {
		if closeErr := rt.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close: %v\n", closeErr)
		}
	}
	if logFile != nil {
		_ = logFile.Close()
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVar(&deviceID, "device", "", "device id (default: stored in the user config dir)")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(resetCmd)
}

// localDeviceID reads the device id kept under the user config dir, creating
// one on first use.
func localDeviceID() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return loadOrCreateDeviceID(filepath.Join(dir, "campus-companion", "device_id"))
}

func loadOrCreateDeviceID(path string) (string, error) {
	if data, err := os.ReadFile(path); err == nil { //nolint:gosec // fixed path under the user config dir
		if id := strings.TrimSpace(string(data)); identity.IsValidDeviceID(id) {
			return id, nil
		}
	}
	id, err := identity.NewDeviceID()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("save device id: %w", err)
	}
	return id, nil
}
