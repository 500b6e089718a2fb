package pushtoken

import (
	"context"
	"sync"
)

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing. Devices should use the SQLite implementation.
type InMemoryRepository struct {
	mu     sync.RWMutex
	record *Record
}

// NewInMemoryRepository creates a new in-memory token repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

// Load returns the stored record.
func (r *InMemoryRepository) Load(_ context.Context) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.record == nil {
		return nil, ErrNoRecord
	}
	return copyRecord(r.record), nil
}

// Save replaces the stored record.
func (r *InMemoryRepository) Save(_ context.Context, record *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.record = copyRecord(record)
	return nil
}

// Clear removes the stored record.
func (r *InMemoryRepository) Clear(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.record = nil
	return nil
}

var _ Repository = (*InMemoryRepository)(nil)
