package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/campus-companion/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to avoid SQLITE_BUSY under WAL

	maxRetries int
	baseDelay  time.Duration
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, maxRetries: 3, baseDelay: 50 * time.Millisecond}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS device_state (
		device_id TEXT NOT NULL,
		state_key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (device_id, state_key)
	);
	CREATE INDEX IF NOT EXISTS idx_device_state_updated ON device_state(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Get returns the value stored under key for a device.
func (s *SQLiteStore) Get(ctx context.Context, deviceID, key string) ([]byte, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT value FROM device_state WHERE device_id = ? AND state_key = ?`,
		deviceID, key)

	var value string
	err := row.Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan device state %s: %w", key, err)
	}
	return []byte(value), nil
}

// Put creates or replaces a value.
func (s *SQLiteStore) Put(ctx context.Context, deviceID, key string, value []byte) error {
	query := `
	INSERT INTO device_state (device_id, state_key, value, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(device_id, state_key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at`

	return s.withRetry(ctx, "put", deviceID, key, func() error {
		if _, err := s.db.ExecContext(ctx, query, deviceID, key, string(value), time.Now().Unix()); err != nil {
			return fmt.Errorf("upsert device state %s: %w", key, err)
		}
		return nil
	})
}

// Delete removes a value.
func (s *SQLiteStore) Delete(ctx context.Context, deviceID, key string) error {
	return s.withRetry(ctx, "delete", deviceID, key, func() error {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM device_state WHERE device_id = ? AND state_key = ?`,
			deviceID, key); err != nil {
			return fmt.Errorf("delete device state %s: %w", key, err)
		}
		return nil
	})
}

// withRetry runs a write with exponential backoff on SQLITE_BUSY/locked errors.
func (s *SQLiteStore) withRetry(ctx context.Context, op, deviceID, key string, fn func() error) error {
	var err error
	for i := 0; i < s.maxRetries; i++ {
		s.writeMu.Lock()
		err = fn()
		s.writeMu.Unlock()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == s.maxRetries-1 {
			break
		}

		delay := s.baseDelay * time.Duration(1<<i)
		slog.Debug("Device state write hit a locked database, retrying",
			"op", op,
			"device_id", deviceID,
			"key", key,
			"attempt", i+1,
			"delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
