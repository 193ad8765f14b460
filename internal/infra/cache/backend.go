package cache

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned by a Backend when the key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// Backend is the raw key/value storage under a Cache.
// Implementations must be safe for concurrent use; each Put and Delete is atomic.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores value under key. ttl is a storage backstop only and may be ignored.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// DeleteIf removes key only while it still holds value, and reports
	// whether it did.
	DeleteIf(ctx context.Context, key string, value []byte) (bool, error)
	// Scan calls fn for every entry. fn must not modify the backend.
	Scan(ctx context.Context, fn func(key string, value []byte) error) error
	Count(ctx context.Context) (int, error)
	// Location describes where entries are kept (a directory or "memory").
	Location() string
	Close() error
}

// MemoryBackend keeps entries in a map guarded by an RWMutex.
// Entries are lost when the process exits.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string][]byte)}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryBackend) Put(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryBackend) DeleteIf(_ context.Context, key string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.entries[key]
	if !ok || !bytes.Equal(cur, value) {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

func (m *MemoryBackend) Scan(ctx context.Context, fn func(key string, value []byte) error) error {
	m.mu.RLock()
	snapshot := make(map[string][]byte, len(m.entries))
	for k, v := range m.entries {
		snapshot[k] = v
	}
	m.mu.RUnlock()

	for k, v := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryBackend) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *MemoryBackend) Location() string { return "memory" }

func (m *MemoryBackend) Close() error { return nil }
