package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ametller/crewd/pkg/domain"
	"github.com/ametller/crewd/pkg/ports"
	"github.com/ametller/crewd/pkg/resilience"
)

// SummaryStore compresses accumulated history into a single synthesized
// entry once it grows past the compaction threshold. The summarization is
// an external executor call and is routed through the resilient invoker; if
// it fails the raw history is kept and compaction is retried on a later
// save.
type SummaryStore struct {
	mu         sync.Mutex
	inner      *BufferStore
	summarizer ports.Executor
	invoker    *resilience.Invoker
	cfg        domain.ResilienceConfig
	threshold  int
	logger     *zap.Logger
}

// NewSummaryStore creates a summarizing store that compacts each key's
// history once it exceeds threshold entries.
func NewSummaryStore(summarizer ports.Executor, invoker *resilience.Invoker, cfg domain.ResilienceConfig, threshold int, logger *zap.Logger) *SummaryStore {
	if threshold < 2 {
		threshold = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SummaryStore{
		inner:      NewBufferStore(),
		summarizer: summarizer,
		invoker:    invoker,
		cfg:        cfg,
		threshold:  threshold,
		logger:     logger,
	}
}

// Load returns the current (possibly compacted) history for key.
func (s *SummaryStore) Load(ctx context.Context, key string) ([]ports.MemoryEntry, error) {
	return s.inner.Load(ctx, key)
}

// Save appends an entry and compacts the key's history when it crosses the
// threshold.
func (s *SummaryStore) Save(ctx context.Context, key string, entry ports.MemoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.inner.Save(ctx, key, entry); err != nil {
		return err
	}

	history, err := s.inner.Load(ctx, key)
	if err != nil {
		return err
	}
	if len(history) < s.threshold {
		return nil
	}
	return s.compact(ctx, key, history)
}

// Clear resets the store to empty.
func (s *SummaryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Clear(ctx)
}

func (s *SummaryStore) compact(ctx context.Context, key string, history []ports.MemoryEntry) error {
	contents := make([]string, len(history))
	for i, e := range history {
		contents[i] = e.Content
	}

	breakerKey := resilience.BreakerKey(s.summarizer.Name(), "summarize")
	summary, err := s.invoker.Invoke(ctx, breakerKey, s.cfg, func(ctx context.Context) (string, error) {
		return s.summarizer.Execute(ctx, ports.ExecutionInput{
			TaskID:         key,
			Description:    "Condense the following history into a single entry, keeping every fact later work may need:\n" + strings.Join(contents, "\n"),
			ExpectedOutput: "one concise summary paragraph",
		})
	})
	if err != nil {
		s.logger.Warn("memory compaction failed, keeping raw history",
			zap.String("key", key),
			zap.Error(err))
		return nil
	}

	s.inner.mu.Lock()
	s.inner.entries[key] = []ports.MemoryEntry{{Content: summary, CreatedAt: time.Now()}}
	s.inner.mu.Unlock()
	return nil
}
