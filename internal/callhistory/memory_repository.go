package callhistory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository is an in-memory implementation of Repository, used
// when no database is configured and in tests.
type InMemoryRepository struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry
}

// NewInMemoryRepository creates a new in-memory history repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		entries: make(map[uuid.UUID]*Entry),
	}
}

// Insert stores an entry.
func (r *InMemoryRepository) Insert(_ context.Context, entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[entry.ID]; ok {
		return nil
	}
	r.entries[entry.ID] = copyEntry(entry)
	return nil
}

// Get retrieves an entry by session id.
func (r *InMemoryRepository) Get(_ context.Context, id string) (*Entry, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrEntryNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[parsed]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return copyEntry(entry), nil
}

// List returns entries newest first.
func (r *InMemoryRepository) List(_ context.Context, opts ListOptions) (*ListResult, error) {
	var before time.Time
	if opts.Cursor != "" {
		t, err := decodeCursor(opts.Cursor)
		if err != nil {
			return nil, err
		}
		before = t
	}

	r.mu.RLock()
	items := make([]*Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		if !before.IsZero() && !entry.EndedAt.Before(before) {
			continue
		}
		items = append(items, copyEntry(entry))
	}
	r.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		return items[i].EndedAt.After(items[j].EndedAt)
	})

	limit := normalizeLimit(opts.Limit)
	result := &ListResult{Items: items}
	if len(items) > limit {
		result.Items = items[:limit]
		result.NextCursor = encodeCursor(items[limit-1])
	}
	return result, nil
}

func copyEntry(e *Entry) *Entry {
	c := *e
	if e.AnsweredAt != nil {
		answered := *e.AnsweredAt
		c.AnsweredAt = &answered
	}
	return &c
}

var _ Repository = (*InMemoryRepository)(nil)
