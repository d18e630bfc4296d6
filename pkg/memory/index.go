package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/ametller/crewd/pkg/ports"
)

// TokenIndex is an in-memory SearchIndex scoring entries by token overlap
// with the query. It is the default backing for RetrievalStore; a vector
// backend can replace it through the ports.SearchIndex interface.
type TokenIndex struct {
	mu      sync.RWMutex
	entries []indexed
}

type indexed struct {
	key    string
	entry  ports.MemoryEntry
	tokens map[string]struct{}
}

// NewTokenIndex creates an empty index.
func NewTokenIndex() *TokenIndex {
	return &TokenIndex{}
}

// Add stores an entry for later retrieval.
func (idx *TokenIndex) Add(_ context.Context, key string, entry ports.MemoryEntry) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.entries = append(idx.entries, indexed{
		key:    key,
		entry:  entry,
		tokens: tokenize(key + " " + entry.Content),
	})
	return nil
}

// Search returns up to limit entries ranked by token overlap with query.
// Entries with no overlap are not returned.
func (idx *TokenIndex) Search(_ context.Context, query string, limit int) ([]ports.MemoryEntry, error) {
	queryTokens := tokenize(query)

	idx.mu.RLock()
	type scored struct {
		entry ports.MemoryEntry
		score int
		pos   int
	}
	var matches []scored
	for i, in := range idx.entries {
		score := 0
		for tok := range queryTokens {
			if _, ok := in.tokens[tok]; ok {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, scored{entry: in.entry, score: score, pos: i})
		}
	}
	idx.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].pos < matches[j].pos
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	out := make([]ports.MemoryEntry, len(matches))
	for i, m := range matches {
		out[i] = m.entry
	}
	return out, nil
}

// Clear empties the index.
func (idx *TokenIndex) Clear(_ context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = nil
	return nil
}

func tokenize(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]{}")
		if len(tok) > 2 {
			out[tok] = struct{}{}
		}
	}
	return out
}
