package store

import (
	"context"
	"sync"
)

// MemoryStore is a process-local Repository used by the CLI's --ephemeral mode
// and by tests.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

func memKey(deviceID, key string) string {
	return deviceID + "\x00" + key
}

// Get returns a copy of the stored value.
func (m *MemoryStore) Get(_ context.Context, deviceID, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[memKey(deviceID, key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Put stores a copy of value.
func (m *MemoryStore) Put(_ context.Context, deviceID, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[memKey(deviceID, key)] = append([]byte(nil), value...)
	return nil
}

// Delete removes a value.
func (m *MemoryStore) Delete(_ context.Context, deviceID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, memKey(deviceID, key))
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
func (m *MemoryStore) Close() error               { return nil }
