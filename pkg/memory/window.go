package memory

import (
	"context"
	"sync"

	"github.com/ametller/crewd/pkg/ports"
)

// WindowStore retains only the most recent N entries per key; the oldest
// entry is evicted first.
type WindowStore struct {
	mu      sync.RWMutex
	size    int
	entries map[string][]ports.MemoryEntry
}

// NewWindowStore creates a window store keeping size entries per key.
func NewWindowStore(size int) *WindowStore {
	if size < 1 {
		size = 1
	}
	return &WindowStore{
		size:    size,
		entries: make(map[string][]ports.MemoryEntry),
	}
}

// Load returns the retained window for key, oldest first.
func (s *WindowStore) Load(_ context.Context, key string) ([]ports.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ports.MemoryEntry, len(s.entries[key]))
	copy(out, s.entries[key])
	return out, nil
}

// Save appends an entry, evicting the oldest when the window is full.
func (s *WindowStore) Save(_ context.Context, key string, entry ports.MemoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	window := append(s.entries[key], entry)
	if len(window) > s.size {
		window = append([]ports.MemoryEntry{}, window[len(window)-s.size:]...)
	}
	s.entries[key] = window
	return nil
}

// Clear resets the store to empty.
func (s *WindowStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string][]ports.MemoryEntry)
	return nil
}
