package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ametller/crewd/pkg/ports"
)

const indexKey = "crewd:index:entries"

// SearchIndex implements SearchIndex over a Redis list. Entries are stored
// as JSON and ranked in-process by token overlap, so multiple crewd
// instances share one retrieval memory without an external search engine.
type SearchIndex struct {
	client *redis.Client
	logger *zap.Logger
}

type storedEntry struct {
	Key   string            `json:"key"`
	Entry ports.MemoryEntry `json:"entry"`
}

// NewSearchIndex creates a Redis-backed search index.
func NewSearchIndex(client *redis.Client, logger *zap.Logger) *SearchIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchIndex{client: client, logger: logger}
}

// Add appends the entry to the shared index.
func (s *SearchIndex) Add(ctx context.Context, key string, entry ports.MemoryEntry) error {
	data, err := json.Marshal(storedEntry{Key: key, Entry: entry})
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	if err := s.client.RPush(ctx, indexKey, data).Err(); err != nil {
		return fmt.Errorf("failed to index entry: %w", err)
	}
	return nil
}

// Search returns up to limit entries ranked by token overlap with query.
// Entries with no overlap are not returned.
func (s *SearchIndex) Search(ctx context.Context, query string, limit int) ([]ports.MemoryEntry, error) {
	raw, err := s.client.LRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	queryTokens := tokenize(query)
	type scored struct {
		entry ports.MemoryEntry
		score int
		pos   int
	}
	var matches []scored
	for i, item := range raw {
		var stored storedEntry
		if err := json.Unmarshal([]byte(item), &stored); err != nil {
			s.logger.Warn("skipping malformed index entry", zap.Error(err))
			continue
		}
		score := 0
		for tok := range tokenize(stored.Key + " " + stored.Entry.Content) {
			if _, ok := queryTokens[tok]; ok {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, scored{entry: stored.Entry, score: score, pos: i})
		}
	}

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
func (s *SearchIndex) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, indexKey).Err(); err != nil {
		return fmt.Errorf("failed to clear index: %w", err)
	}
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
