package storage

import (
	"context"
	"sync"
)

// MemoryBackend keeps the snapshot in process memory.
// Used for ephemeral deployments and tests; FailWrites simulates an unwritable store.
type MemoryBackend struct {
	mu     sync.Mutex
	data   []byte
	writes int

	// FailWrites, when non-nil, is returned from every Write.
	FailWrites error
	// FailReads, when non-nil, is returned from every Read.
	FailReads error
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Read returns the last written snapshot.
func (m *MemoryBackend) Read(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailReads != nil {
		return nil, m.FailReads
	}
	if m.data == nil {
		return nil, ErrSnapshotNotFound
	}
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out, nil
}

// Write replaces the snapshot.
func (m *MemoryBackend) Write(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.data = make([]byte, len(data))
	copy(m.data, data)
	m.writes++
	return nil
}

// Writes returns the number of successful writes.
func (m *MemoryBackend) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Name implements Backend.
func (m *MemoryBackend) Name() string {
	return "memory"
}

var _ Backend = (*MemoryBackend)(nil)
