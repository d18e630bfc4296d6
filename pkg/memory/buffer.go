package memory

import (
	"context"
	"sync"

	"github.com/ametller/crewd/pkg/ports"
)

// BufferStore is the unbounded append-only variant: all history is
// retained per key.
type BufferStore struct {
	mu      sync.RWMutex
	entries map[string][]ports.MemoryEntry
}

// NewBufferStore creates an empty buffer store.
func NewBufferStore() *BufferStore {
	return &BufferStore{entries: make(map[string][]ports.MemoryEntry)}
}

// Load returns all entries stored under key, oldest first.
func (s *BufferStore) Load(_ context.Context, key string) ([]ports.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ports.MemoryEntry, len(s.entries[key]))
	copy(out, s.entries[key])
	return out, nil
}

// Save appends an entry under key.
func (s *BufferStore) Save(_ context.Context, key string, entry ports.MemoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = append(s.entries[key], entry)
	return nil
}

// Clear resets the store to empty.
func (s *BufferStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string][]ports.MemoryEntry)
	return nil
}
