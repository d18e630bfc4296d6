package ports

import (
	"context"
	"time"

	"github.com/ametller/crewd/pkg/domain"
)

// Executor performs the work of a single task. Implementations are opaque to
// the orchestrator: LLM reasoning loops, tool wrappers and plain functions
// all satisfy the same contract.
type Executor interface {
	// Name returns the stable identifier used for executor lookup and
	// circuit breaker partitioning.
	Name() string

	// Execute runs one unit of work. The input context holds read-only
	// snapshots of upstream task results keyed by task id.
	Execute(ctx context.Context, input ExecutionInput) (string, error)
}

// Delegator is implemented by executors with delegation authority. Given a
// task description and the names of candidate executors, it picks the one
// that should perform the task.
type Delegator interface {
	Executor
	Delegate(ctx context.Context, taskDescription string, candidates []string) (string, error)
}

// ExecutionInput is the read-only payload handed to an executor.
type ExecutionInput struct {
	TaskID         string
	Description    string
	ExpectedOutput string
	Context        map[string]string
	Memory         []MemoryEntry
}

// Tool is any external callable wrapped by the resilient invoker. Tool
// identity is an opaque key used only for breaker partitioning.
type Tool func(ctx context.Context, args string) (string, error)

// MemoryEntry is one stored context item.
type MemoryEntry struct {
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// MemoryStore is the key-scoped context accumulator used by executors. The
// orchestrator treats it as opaque storage.
type MemoryStore interface {
	Load(ctx context.Context, key string) ([]MemoryEntry, error)
	Save(ctx context.Context, key string, entry MemoryEntry) error
	Clear(ctx context.Context) error
}

// SearchIndex backs the retrieval memory variant. Implementations rank
// stored entries by similarity to the query.
type SearchIndex interface {
	Add(ctx context.Context, key string, entry MemoryEntry) error
	Search(ctx context.Context, query string, limit int) ([]MemoryEntry, error)
	Clear(ctx context.Context) error
}

// RunStorage persists run reports.
type RunStorage interface {
	SaveRun(ctx context.Context, report *domain.RunReport) error
	GetRun(ctx context.Context, runID string) (*domain.RunReport, error)
	DeleteRun(ctx context.Context, runID string) error
	ListRuns(ctx context.Context) ([]string, error)
}

// EventType identifies a lifecycle event.
type EventType string

// Event is a lifecycle notification published on the event bus.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	RunID     string         `json:"run_id"`
	TaskID    string         `json:"task_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventHandler consumes events delivered by a subscription.
type EventHandler func(ctx context.Context, event Event) error

// EventBus publishes and delivers lifecycle events.
type EventBus interface {
	Publish(ctx context.Context, topic string, event Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Unsubscribe(ctx context.Context, topic string) error
	Close() error
}

// MetricsCollector records orchestration metrics.
type MetricsCollector interface {
	RecordRunSubmitted(status string)
	RecordRunCompleted(status string, duration time.Duration)
	RecordTaskExecuted(status string, duration time.Duration)
	RecordInvokerRetry(key string)
	RecordBreakerTransition(key, state string)
	RecordRateLimitWait(duration time.Duration)
	RecordExperimentOutcome(variant string, success bool, duration time.Duration)
	RecordWorkerPoolStatus(idle, busy, stopped int)
}
