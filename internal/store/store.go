// Package store provides durable per-device state persistence.
package store

import (
	"context"
	"errors"
)

// Fixed logical keys for the persisted companion state.
const (
	KeyProfile   = "companion_profile"
	KeyMemory    = "companion_memory"
	KeyFollowUp  = "companion_followup"
	KeyPlaybook  = "playbook_state"
	KeySessionID = "session_id"
)

// ErrNotFound is returned by Get when no value exists for a key.
var ErrNotFound = errors.New("store: key not found")

// Repository defines the interface for persisting device state.
// Each key is independently readable and writable.
type Repository interface {
	// Get returns the raw value for a key, or ErrNotFound.
	Get(ctx context.Context, deviceID, key string) ([]byte, error)

	// Put creates or replaces the value for a key.
	Put(ctx context.Context, deviceID, key string, value []byte) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, deviceID, key string) error

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
