package crew

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ametller/crewd/internal/application/workers"
	"github.com/ametller/crewd/pkg/domain"
	"github.com/ametller/crewd/pkg/ports"
	"github.com/ametller/crewd/pkg/resilience"
)

// Process selects the orchestration strategy for a run.
type Process string

const (
	// ProcessSequential executes tasks one at a time in dependency order,
	// using each task's assigned executor.
	ProcessSequential Process = "sequential"

	// ProcessHierarchical routes every ready task through a manager
	// executor that delegates it to one of the crew's executors, with
	// independent tasks running concurrently on the worker pool.
	ProcessHierarchical Process = "hierarchical"
)

// Config tunes a single crew run.
type Config struct {
	Process            Process
	ManagerName        string
	RateLimitPerMinute int
	CancelGrace        time.Duration
	Resilience         domain.ResilienceConfig

	// Memory, when set, accumulates completed task results under the run
	// id and is replayed to every executor invocation.
	Memory ports.MemoryStore
}

// Crew drives one run of a task graph over a set of executors. A crew is
// single-use: build it, kick it off once, read the report.
type Crew struct {
	runID    string
	graph    *domain.TaskGraph
	registry *Registry
	cfg      Config

	invoker *resilience.Invoker
	limiter *rateLimiter
	pool    taskPool
	events  ports.EventBus
	metrics ports.MetricsCollector
	logger  *zap.Logger

	// results accumulates completed task outputs for downstream input
	// assembly. Only the coordinator goroutine touches it.
	results map[string]string
}

// taskPool is the slice of the worker pool the hierarchical process needs.
type taskPool interface {
	Submit(ctx context.Context, job workers.Job) error
}

// New assembles a crew for one run. Hierarchical crews require a registered
// manager that supports delegation.
func New(runID string, graph *domain.TaskGraph, registry *Registry, cfg Config,
	invoker *resilience.Invoker, pool taskPool, events ports.EventBus,
	metrics ports.MetricsCollector, logger *zap.Logger) (*Crew, error) {

	if graph == nil || graph.Len() == 0 {
		return nil, fmt.Errorf("crew: task graph is empty")
	}
	if registry == nil {
		return nil, fmt.Errorf("crew: executor registry is nil")
	}
	if invoker == nil {
		return nil, fmt.Errorf("crew: resilient invoker is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Process {
	case ProcessSequential:
	case ProcessHierarchical:
		if cfg.ManagerName == "" {
			return nil, fmt.Errorf("crew: hierarchical process requires a manager")
		}
		if _, ok := registry.Delegator(cfg.ManagerName); !ok {
			return nil, fmt.Errorf("crew: manager %q is not registered or cannot delegate", cfg.ManagerName)
		}
		if pool == nil {
			return nil, fmt.Errorf("crew: hierarchical process requires a worker pool")
		}
	default:
		return nil, fmt.Errorf("crew: unknown process %q", cfg.Process)
	}
	for _, t := range graph.Tasks() {
		if cfg.Process == ProcessSequential || t.ExecutorName != "" {
			if _, ok := registry.Get(t.ExecutorName); !ok {
				return nil, fmt.Errorf("crew: task %q names unknown executor %q", t.ID, t.ExecutorName)
			}
		}
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = 5 * time.Second
	}

	return &Crew{
		runID:    runID,
		graph:    graph,
		registry: registry,
		cfg:      cfg,
		invoker:  invoker,
		limiter:  newRateLimiter(cfg.RateLimitPerMinute, time.Minute, metrics),
		pool:     pool,
		events:   events,
		metrics:  metrics,
		logger:   logger.With(zap.String("run_id", runID)),
		results:  make(map[string]string),
	}, nil
}

// Kickoff runs the graph to completion under the configured process. The
// returned report is always populated, including on cancellation, where the
// error is a *domain.CancelledError listing the tasks that never finished.
func (c *Crew) Kickoff(ctx context.Context) (*domain.RunReport, error) {
	c.logger.Info("run started",
		zap.String("process", string(c.cfg.Process)),
		zap.Int("tasks", c.graph.Len()))

	var err error
	switch c.cfg.Process {
	case ProcessHierarchical:
		err = c.runHierarchical(ctx)
	default:
		err = c.runSequential(ctx)
	}

	report := domain.BuildReport(c.runID, c.graph)
	if err != nil {
		report.Status = domain.RunStatusCancelled
		report.Error = err.Error()
	}
	c.logger.Info("run finished",
		zap.String("status", string(report.Status)),
		zap.Int("completed", report.Completed),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped))
	return report, err
}

// executeTask runs a task on the named executor with an input snapshot
// built from the coordinator's view of upstream results.
func (c *Crew) executeTask(ctx context.Context, task domain.Task, executorName string) (string, error) {
	return c.invokeExecutor(ctx, task, executorName, c.dependencyContext(task), c.loadMemory(ctx))
}

// invokeExecutor resolves the executor and runs it through the resilient
// invoker. The input map must already be a private snapshot: workers read
// it off the coordinator goroutine.
func (c *Crew) invokeExecutor(ctx context.Context, task domain.Task, executorName string, depResults map[string]string, mem []ports.MemoryEntry) (string, error) {
	exec, ok := c.registry.Get(executorName)
	if !ok {
		return "", fmt.Errorf("executor %q not registered", executorName)
	}

	input := ports.ExecutionInput{
		TaskID:         task.ID,
		Description:    task.Description,
		ExpectedOutput: task.ExpectedOutput,
		Context:        depResults,
		Memory:         mem,
	}

	key := resilience.BreakerKey(executorName, "execute")
	return c.invoker.Invoke(ctx, key, c.cfg.Resilience, func(callCtx context.Context) (string, error) {
		return exec.Execute(callCtx, input)
	})
}

// dependencyContext snapshots upstream results for a task. The map is fresh
// per invocation so executors cannot mutate shared state.
func (c *Crew) dependencyContext(task domain.Task) map[string]string {
	out := make(map[string]string, len(task.DependsOn))
	for _, dep := range task.DependsOn {
		if r, ok := c.results[dep]; ok {
			out[dep] = r
		}
	}
	return out
}

// loadMemory returns the accumulated run memory, or nil when no store is
// configured. Load failures degrade to an empty memory.
func (c *Crew) loadMemory(ctx context.Context) []ports.MemoryEntry {
	if c.cfg.Memory == nil {
		return nil
	}
	entries, err := c.cfg.Memory.Load(ctx, c.runID)
	if err != nil {
		c.logger.Warn("memory load failed", zap.Error(err))
		return nil
	}
	return entries
}

// applyOutcome records a finished task on the graph and the results map,
// publishes the lifecycle event and updates metrics.
func (c *Crew) applyOutcome(ctx context.Context, taskID, result string, execErr error, started time.Time) {
	elapsed := time.Since(started)
	if execErr == nil {
		if err := c.graph.MarkCompleted(taskID, result); err != nil {
			c.logger.Error("mark completed", zap.String("task_id", taskID), zap.Error(err))
			return
		}
		c.results[taskID] = result
		if c.cfg.Memory != nil {
			entry := ports.MemoryEntry{
				Content:   taskID + ": " + result,
				CreatedAt: time.Now(),
			}
			if err := c.cfg.Memory.Save(ctx, c.runID, entry); err != nil {
				c.logger.Warn("memory save failed", zap.String("task_id", taskID), zap.Error(err))
			}
		}
		c.recordTask(ctx, taskID, "completed", elapsed, nil)
		return
	}
	skipped, err := c.graph.MarkFailed(taskID, execErr)
	if err != nil {
		c.logger.Error("mark failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	c.recordTask(ctx, taskID, "failed", elapsed, execErr)
	for _, id := range skipped {
		c.logger.Info("task skipped",
			zap.String("task_id", id),
			zap.String("failed_upstream", taskID))
		c.publish(ctx, "task.skipped", id, nil)
	}
}

func (c *Crew) recordTask(ctx context.Context, taskID, status string, elapsed time.Duration, execErr error) {
	if c.metrics != nil {
		c.metrics.RecordTaskExecuted(status, elapsed)
	}
	if execErr != nil {
		c.logger.Warn("task failed",
			zap.String("task_id", taskID),
			zap.Duration("elapsed", elapsed),
			zap.Error(execErr))
	} else {
		c.logger.Info("task completed",
			zap.String("task_id", taskID),
			zap.Duration("elapsed", elapsed))
	}
	c.publish(ctx, ports.EventType("task."+status), taskID, execErr)
}

func (c *Crew) publish(ctx context.Context, eventType ports.EventType, taskID string, cause error) {
	if c.events == nil {
		return
	}
	ev := ports.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		RunID:     c.runID,
		TaskID:    taskID,
		Timestamp: time.Now(),
	}
	if cause != nil {
		ev.Data = map[string]any{"error": cause.Error()}
	}
	if err := c.events.Publish(ctx, "task.events", ev); err != nil {
		c.logger.Warn("publish event", zap.String("type", string(eventType)), zap.Error(err))
	}
}

// cancelledError lists every task that has not reached a terminal status.
func (c *Crew) cancelledError() *domain.CancelledError {
	var incomplete []string
	for _, t := range c.graph.Tasks() {
		if !t.Status.IsTerminal() {
			incomplete = append(incomplete, t.ID)
		}
	}
	return &domain.CancelledError{RunID: c.runID, Incomplete: incomplete}
}
