package memory

import (
	"context"

	"github.com/ametller/crewd/pkg/ports"
)

// RetrievalStore delegates Load to a similarity search over a backing
// index. Save appends to both a raw log and the index; Clear empties both.
type RetrievalStore struct {
	log   *BufferStore
	index ports.SearchIndex
	limit int
}

// NewRetrievalStore creates a retrieval store returning at most limit
// entries per Load.
func NewRetrievalStore(index ports.SearchIndex, limit int) *RetrievalStore {
	if limit < 1 {
		limit = 5
	}
	return &RetrievalStore{
		log:   NewBufferStore(),
		index: index,
		limit: limit,
	}
}

// Load searches the index with the key as query and returns the most
// similar entries.
func (s *RetrievalStore) Load(ctx context.Context, key string) ([]ports.MemoryEntry, error) {
	return s.index.Search(ctx, key, s.limit)
}

// Save appends the entry to the raw log and the index.
func (s *RetrievalStore) Save(ctx context.Context, key string, entry ports.MemoryEntry) error {
	if err := s.log.Save(ctx, key, entry); err != nil {
		return err
	}
	return s.index.Add(ctx, key, entry)
}

// Log returns the full raw history for key, bypassing the index.
func (s *RetrievalStore) Log(ctx context.Context, key string) ([]ports.MemoryEntry, error) {
	return s.log.Load(ctx, key)
}

// Clear resets log and index to empty.
func (s *RetrievalStore) Clear(ctx context.Context) error {
	if err := s.log.Clear(ctx); err != nil {
		return err
	}
	return s.index.Clear(ctx)
}
