package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Device is a Repository view scoped to a single device, with JSON helpers.
type Device struct {
	repo   Repository
	id     string
	logger *slog.Logger
}

// ForDevice scopes repo to deviceID. A non-nil logger is used as is and should
// already carry the device_id attribute.
func ForDevice(repo Repository, deviceID string, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default().With("device_id", deviceID)
	}
	return &Device{repo: repo, id: deviceID, logger: logger}
}

// ID returns the device identifier.
func (d *Device) ID() string {
	return d.id
}

// Load decodes the value under key into v. Absent, unreadable and malformed
// values all report false; corruption is logged and never returned.
func (d *Device) Load(ctx context.Context, key string, v any) bool {
	raw, err := d.repo.Get(ctx, d.id, key)
	if errors.Is(err, ErrNotFound) {
		return false
	}
	if err != nil {
		d.logger.Warn("Failed to read device state, treating as absent", "key", key, "error", err)
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		d.logger.Warn("Malformed device state, treating as absent", "key", key, "error", err)
		return false
	}
	return true
}

// Save encodes v as JSON under key.
func (d *Device) Save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return d.repo.Put(ctx, d.id, key, data)
}

// Delete removes key.
func (d *Device) Delete(ctx context.Context, key string) error {
	return d.repo.Delete(ctx, d.id, key)
}

// LoadRaw returns the raw bytes under key, or false when absent or unreadable.
func (d *Device) LoadRaw(ctx context.Context, key string) ([]byte, bool) {
	raw, err := d.repo.Get(ctx, d.id, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			d.logger.Warn("Failed to read device state", "key", key, "error", err)
		}
		return nil, false
	}
	return raw, true
}
