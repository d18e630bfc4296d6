package memory

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ametller/crewd/pkg/domain"
	"github.com/ametller/crewd/pkg/ports"
	"github.com/ametller/crewd/pkg/resilience"
)

func entry(content string) ports.MemoryEntry {
	return ports.MemoryEntry{Content: content, CreatedAt: time.Now()}
}

func TestBufferStore_RetainsAllHistory(t *testing.T) {
	ctx := context.Background()
	s := NewBufferStore()

	for i := 0; i < 10; i++ {
		if err := s.Save(ctx, "task-1", entry(fmt.Sprintf("step %d", i))); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	got, err := s.Load(ctx, "task-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("expected 10 entries, got %d", len(got))
	}
	if got[0].Content != "step 0" || got[9].Content != "step 9" {
		t.Fatalf("history out of order: %v", got)
	}
}

func TestWindowStore_EvictsOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewWindowStore(3)

	for i := 0; i < 5; i++ {
		if err := s.Save(ctx, "k", entry(fmt.Sprintf("e%d", i))); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	got, err := s.Load(ctx, "k")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected window of 3, got %d", len(got))
	}
	want := []string{"e2", "e3", "e4"}
	for i, e := range got {
		if e.Content != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], e.Content)
		}
	}
}

func TestStores_ClearLeavesNoResidual(t *testing.T) {
	ctx := context.Background()
	stores := map[string]ports.MemoryStore{
		"buffer":    NewBufferStore(),
		"window":    NewWindowStore(2),
		"retrieval": NewRetrievalStore(NewTokenIndex(), 3),
	}

	for name, s := range stores {
		if err := s.Save(ctx, "k", entry("remember this fact")); err != nil {
			t.Fatalf("%s save: %v", name, err)
		}
		if err := s.Clear(ctx); err != nil {
			t.Fatalf("%s clear: %v", name, err)
		}
		got, err := s.Load(ctx, "k")
		if err != nil {
			t.Fatalf("%s load: %v", name, err)
		}
		if len(got) != 0 {
			t.Fatalf("%s: residual entries after clear: %v", name, got)
		}
	}
}

// summarizerStub joins history into one line, counting invocations.
type summarizerStub struct {
	calls int
	fail  bool
}

func (s *summarizerStub) Name() string { return "summarizer" }

func (s *summarizerStub) Execute(_ context.Context, input ports.ExecutionInput) (string, error) {
	s.calls++
	if s.fail {
		return "", fmt.Errorf("summarizer unavailable")
	}
	// First line is the compaction instruction, the rest is history.
	lines := strings.Split(input.Description, "\n")
	return fmt.Sprintf("summary of %d entries", len(lines)-1), nil
}

func summaryInvoker() *resilience.Invoker {
	return resilience.NewInvoker(domain.ResilienceConfig{
		MaxRetries:       1,
		BaseDelay:        time.Millisecond,
		MaxDelay:         2 * time.Millisecond,
		FailureThreshold: 10,
		RecoveryTimeout:  time.Minute,
	}, nil, nil)
}

func TestSummaryStore_CompactsAtThreshold(t *testing.T) {
	ctx := context.Background()
	stub := &summarizerStub{}
	s := NewSummaryStore(stub, summaryInvoker(), domain.ResilienceConfig{}, 3, nil)

	for i := 0; i < 3; i++ {
		if err := s.Save(ctx, "k", entry(fmt.Sprintf("e%d", i))); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	got, err := s.Load(ctx, "k")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected compacted history of 1 entry, got %d", len(got))
	}
	if got[0].Content != "summary of 3 entries" {
		t.Fatalf("unexpected summary: %q", got[0].Content)
	}
	if stub.calls != 1 {
		t.Fatalf("expected 1 summarizer call, got %d", stub.calls)
	}
}

func TestSummaryStore_SummarizerFailureKeepsRawHistory(t *testing.T) {
	ctx := context.Background()
	stub := &summarizerStub{fail: true}
	s := NewSummaryStore(stub, summaryInvoker(), domain.ResilienceConfig{}, 2, nil)

	if err := s.Save(ctx, "k", entry("a")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, "k", entry("b")); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load(ctx, "k")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected raw history preserved, got %d entries", len(got))
	}
}

func TestRetrievalStore_LoadReturnsSimilarEntries(t *testing.T) {
	ctx := context.Background()
	s := NewRetrievalStore(NewTokenIndex(), 2)

	facts := []string{
		"the deployment pipeline uses blue green rollout",
		"customer invoices are generated nightly",
		"the rollout failed because of a missing health check",
	}
	for _, f := range facts {
		if err := s.Save(ctx, "ops", entry(f)); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	got, err := s.Load(ctx, "rollout health")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) == 0 {
		t.Fatalf("expected similar entries")
	}
	if !strings.Contains(got[0].Content, "rollout failed") {
		t.Fatalf("expected best match first, got %q", got[0].Content)
	}

	log, err := s.Log(ctx, "ops")
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if len(log) != 3 {
		t.Fatalf("raw log incomplete: %d entries", len(log))
	}
}
