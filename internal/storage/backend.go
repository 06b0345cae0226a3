package storage

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrNotExist is returned by a backend that holds no blob
	ErrNotExist = errors.New("blob does not exist")
	// ErrNotFound is returned by Store.Load when no location holds a blob
	ErrNotFound = errors.New("license not found in any location")
)

// Backend is one storage location for the license blob. Implementations
// must make Write atomic: a concurrent Read sees the old or the new blob,
// never a mix.
type Backend interface {
	// Name identifies the location in logs and telemetry
	Name() string
	// Read returns the blob and its last modification time, or ErrNotExist
	Read(ctx context.Context) ([]byte, time.Time, error)
	Write(ctx context.Context, data []byte) error
	// Remove deletes the blob. Removing an absent blob is not an error.
	Remove(ctx context.Context) error
}

// MemoryBackend keeps the blob in memory. Hosts use it for ephemeral
// installs; tests use it to simulate failing locations.
type MemoryBackend struct {
	name    string
	mu      sync.Mutex
	data    []byte
	modTime time.Time

	// Fail, when set, is returned by every operation
	Fail error
}

// NewMemoryBackend creates an empty in-memory location
func NewMemoryBackend(name string) *MemoryBackend {
	return &MemoryBackend{name: name}
}

func (m *MemoryBackend) Name() string { return m.name }

func (m *MemoryBackend) Read(context.Context) ([]byte, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return nil, time.Time{}, m.Fail
	}
	if m.data == nil {
		return nil, time.Time{}, ErrNotExist
	}
	return append([]byte(nil), m.data...), m.modTime, nil
}

func (m *MemoryBackend) Write(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.data = append([]byte(nil), data...)
	m.modTime = time.Now()
	return nil
}

func (m *MemoryBackend) Remove(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.data = nil
	m.modTime = time.Time{}
	return nil
}

// Set replaces the blob with an explicit modification time
func (m *MemoryBackend) Set(data []byte, modTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	m.modTime = modTime
}
