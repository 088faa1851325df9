package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store holds entries until the relay has published them
type Store interface {
	// Enqueue adds pending entries. CreatedAt is set when zero.
	Enqueue(ctx context.Context, entries ...*Entry) error

	// Pending returns up to limit pending entries, oldest first.
	// A limit of zero or less returns all of them.
	Pending(ctx context.Context, limit int) ([]*Entry, error)

	// MarkDispatched records that the entry was published at the given time
	MarkDispatched(ctx context.Context, id string, at time.Time) error

	// Get retrieves an entry by ID
	Get(ctx context.Context, id string) (*Entry, error)
}

// MemoryStore implements Store in process memory
type MemoryStore struct {
	entries map[string]*Entry
	order   []string
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
	}
}

// Enqueue adds entries, rejecting the whole batch if any ID is already known
func (s *MemoryStore) Enqueue(_ context.Context, entries ...*Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if _, exists := s.entries[e.ID]; exists || seen[e.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicate, e.ID)
		}
		seen[e.ID] = true
	}

	now := time.Now().UTC()
	for _, e := range entries {
		stored := e.clone()
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
		if stored.Status == "" {
			stored.Status = StatusPending
		}
		s.entries[stored.ID] = stored
		s.order = append(s.order, stored.ID)
	}
	return nil
}

// Pending returns pending entries in insertion order
func (s *MemoryStore) Pending(_ context.Context, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Entry
	for _, id := range s.order {
		e := s.entries[id]
		if e.Status != StatusPending {
			continue
		}
		out = append(out, e.clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkDispatched flips an entry to dispatched
func (s *MemoryStore) MarkDispatched(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entries[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.Status = StatusDispatched
	e.DispatchedAt = &at
	return nil
}

// Get retrieves a copy of an entry
func (s *MemoryStore) Get(_ context.Context, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.entries[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.clone(), nil
}
