package crew

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ametller/crewd/internal/application/workers"
	eventsmem "github.com/ametller/crewd/pkg/adapters/events/memory"
	storagemem "github.com/ametller/crewd/pkg/adapters/storage/memory"
	"github.com/ametller/crewd/pkg/domain"
	"github.com/ametller/crewd/pkg/ports"
	"github.com/ametller/crewd/pkg/resilience"
)

type fakeExecutor struct {
	name string
	fn   func(ctx context.Context, input ports.ExecutionInput) (string, error)
}

func (f *fakeExecutor) Name() string { return f.name }

func (f *fakeExecutor) Execute(ctx context.Context, input ports.ExecutionInput) (string, error) {
	return f.fn(ctx, input)
}

type fakeManager struct {
	fakeExecutor
	picks int32
	pick  func(description string, candidates []string) (string, error)
}

func (f *fakeManager) Delegate(_ context.Context, description string, candidates []string) (string, error) {
	atomic.AddInt32(&f.picks, 1)
	return f.pick(description, candidates)
}

func echoExecutor(name string) *fakeExecutor {
	return &fakeExecutor{name: name, fn: func(_ context.Context, input ports.ExecutionInput) (string, error) {
		return "result of " + input.TaskID, nil
	}}
}

func testInvoker() *resilience.Invoker {
	return resilience.NewInvoker(domain.ResilienceConfig{
		MaxRetries:       2,
		BaseDelay:        time.Millisecond,
		MaxDelay:         5 * time.Millisecond,
		JitterFraction:   0.1,
		FailureThreshold: 100,
		RecoveryTimeout:  time.Second,
	}, zap.NewNop(), nil)
}

func buildChain(t *testing.T, policy domain.FailurePolicy) *domain.TaskGraph {
	t.Helper()
	g := domain.NewTaskGraph(policy)
	for _, step := range []struct {
		id   string
		deps []string
	}{
		{"a", nil},
		{"b", []string{"a"}},
		{"c", []string{"b"}},
	} {
		task := domain.Task{ID: step.id, Description: "do " + step.id, ExecutorName: "worker"}
		if err := g.AddTask(task, step.deps...); err != nil {
			t.Fatalf("AddTask(%s): %v", step.id, err)
		}
	}
	return g
}

func TestSequentialChainCarriesUpstreamResults(t *testing.T) {
	var mu sync.Mutex
	var order []string
	var inputForB map[string]string

	exec := &fakeExecutor{name: "worker", fn: func(_ context.Context, input ports.ExecutionInput) (string, error) {
		mu.Lock()
		order = append(order, input.TaskID)
		if input.TaskID == "b" {
			inputForB = input.Context
		}
		mu.Unlock()
		return "result of " + input.TaskID, nil
	}}

	registry := NewRegistry()
	if err := registry.Register(exec); err != nil {
		t.Fatalf("Register: %v", err)
	}

	g := buildChain(t, domain.FailFast)
	c, err := New("run-1", g, registry, Config{Process: ProcessSequential}, testInvoker(), nil, nil, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	report, err := c.Kickoff(context.Background())
	if err != nil {
		t.Fatalf("Kickoff: %v", err)
	}
	if report.Status != domain.RunStatusCompleted {
		t.Fatalf("status = %s, want completed", report.Status)
	}
	if report.Completed != 3 {
		t.Fatalf("completed = %d, want 3", report.Completed)
	}
	if want := []string{"a", "b", "c"}; strings.Join(order, ",") != strings.Join(want, ",") {
		t.Fatalf("execution order = %v, want %v", order, want)
	}
	if got := inputForB["a"]; got != "result of a" {
		t.Fatalf("input context for b = %v, want a's result", inputForB)
	}
}

func TestSequentialFailFastSkipsDownstream(t *testing.T) {
	var calls int32
	exec := &fakeExecutor{name: "worker", fn: func(context.Context, ports.ExecutionInput) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", errors.New("backend unavailable")
	}}

	registry := NewRegistry()
	if err := registry.Register(exec); err != nil {
		t.Fatalf("Register: %v", err)
	}

	g := buildChain(t, domain.FailFast)
	c, err := New("run-2", g, registry, Config{Process: ProcessSequential}, testInvoker(), nil, nil, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	report, err := c.Kickoff(context.Background())
	if err != nil {
		t.Fatalf("Kickoff: %v", err)
	}
	if report.Status != domain.RunStatusFailed {
		t.Fatalf("status = %s, want failed", report.Status)
	}
	if report.Failed != 1 || report.Skipped != 2 || report.Completed != 0 {
		t.Fatalf("failed/skipped/completed = %d/%d/%d, want 1/2/0",
			report.Failed, report.Skipped, report.Completed)
	}
	// One initial attempt plus two retries, only for the first task.
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("executor calls = %d, want 3", got)
	}

	var a domain.Task
	for _, task := range report.Tasks {
		if task.ID == "a" {
			a = task
		}
	}
	if a.Err == "" || !strings.Contains(a.Err, "backend unavailable") {
		t.Fatalf("task a error = %q, want cause preserved", a.Err)
	}
}

func TestHierarchicalRunsIndependentTasksConcurrently(t *testing.T) {
	var running, peak int32
	exec := &fakeExecutor{name: "worker", fn: func(_ context.Context, input ports.ExecutionInput) (string, error) {
		cur := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return "result of " + input.TaskID, nil
	}}
	mgr := &fakeManager{
		fakeExecutor: fakeExecutor{name: "lead", fn: func(context.Context, ports.ExecutionInput) (string, error) {
			return "", errors.New("lead does not execute")
		}},
		pick: func(_ string, candidates []string) (string, error) {
			return candidates[0], nil
		},
	}

	registry := NewRegistry()
	for _, e := range []ports.Executor{exec, mgr} {
		if err := registry.Register(e); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	g := domain.NewTaskGraph(domain.BestEffort)
	for _, id := range []string{"t1", "t2", "t3"} {
		if err := g.AddTask(domain.Task{ID: id, Description: "independent " + id}); err != nil {
			t.Fatalf("AddTask: %v", err)
		}
	}

	pool := workers.NewPool(2, nil, zap.NewNop(), time.Minute)
	if err := pool.Start(); err != nil {
		t.Fatalf("pool start: %v", err)
	}
	defer pool.Shutdown(context.Background())

	c, err := New("run-3", g, registry,
		Config{Process: ProcessHierarchical, ManagerName: "lead"},
		testInvoker(), pool, nil, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	report, err := c.Kickoff(context.Background())
	if err != nil {
		t.Fatalf("Kickoff: %v", err)
	}
	if report.Completed != 3 {
		t.Fatalf("completed = %d, want 3", report.Completed)
	}
	if got := atomic.LoadInt32(&mgr.picks); got != 3 {
		t.Fatalf("delegation decisions = %d, want 3", got)
	}
	if got := atomic.LoadInt32(&peak); got < 2 {
		t.Fatalf("peak concurrency = %d, want at least 2", got)
	}
	if got := atomic.LoadInt32(&peak); got > 2 {
		t.Fatalf("peak concurrency = %d, want at most pool size 2", got)
	}
}

func TestHierarchicalDelegationFailureFailsTask(t *testing.T) {
	exec := echoExecutor("worker")
	mgr := &fakeManager{
		fakeExecutor: fakeExecutor{name: "lead", fn: func(context.Context, ports.ExecutionInput) (string, error) {
			return "", errors.New("lead does not execute")
		}},
		pick: func(string, []string) (string, error) {
			return "", errors.New("cannot decide")
		},
	}

	registry := NewRegistry()
	for _, e := range []ports.Executor{exec, mgr} {
		if err := registry.Register(e); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	g := domain.NewTaskGraph(domain.FailFast)
	// No assigned executor, so a failed delegation decision has no fallback.
	if err := g.AddTask(domain.Task{ID: "t1", Description: "orphan"}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	pool := workers.NewPool(1, nil, zap.NewNop(), time.Minute)
	if err := pool.Start(); err != nil {
		t.Fatalf("pool start: %v", err)
	}
	defer pool.Shutdown(context.Background())

	c, err := New("run-4", g, registry,
		Config{Process: ProcessHierarchical, ManagerName: "lead"},
		testInvoker(), pool, nil, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	report, err := c.Kickoff(context.Background())
	if err != nil {
		t.Fatalf("Kickoff: %v", err)
	}
	if report.Failed != 1 || report.Completed != 0 {
		t.Fatalf("failed/completed = %d/%d, want 1/0", report.Failed, report.Completed)
	}
}

func TestHierarchicalCancellationReportsIncomplete(t *testing.T) {
	release := make(chan struct{})
	exec := &fakeExecutor{name: "worker", fn: func(ctx context.Context, input ports.ExecutionInput) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-release:
			return "result of " + input.TaskID, nil
		}
	}}
	mgr := &fakeManager{
		fakeExecutor: fakeExecutor{name: "lead", fn: func(context.Context, ports.ExecutionInput) (string, error) {
			return "", errors.New("lead does not execute")
		}},
		pick: func(_ string, candidates []string) (string, error) {
			return candidates[0], nil
		},
	}

	registry := NewRegistry()
	for _, e := range []ports.Executor{exec, mgr} {
		if err := registry.Register(e); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	// Best-effort keeps the dependent task Pending after the interrupted
	// one fails, so it shows up in the incomplete list.
	g := domain.NewTaskGraph(domain.BestEffort)
	if err := g.AddTask(domain.Task{ID: "stuck", Description: "never finishes", ExecutorName: "worker"}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if err := g.AddTask(domain.Task{ID: "after", Description: "depends on stuck", ExecutorName: "worker"}, "stuck"); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	pool := workers.NewPool(1, nil, zap.NewNop(), time.Minute)
	if err := pool.Start(); err != nil {
		t.Fatalf("pool start: %v", err)
	}
	defer pool.Shutdown(context.Background())
	defer close(release)

	// Retries disabled so the interrupted call fails once and settles
	// within the grace window.
	inv := resilience.NewInvoker(domain.ResilienceConfig{
		MaxRetries:       0,
		BaseDelay:        time.Millisecond,
		MaxDelay:         time.Millisecond,
		JitterFraction:   0.1,
		FailureThreshold: 100,
		RecoveryTimeout:  time.Second,
	}, zap.NewNop(), nil)

	c, err := New("run-5", g, registry,
		Config{Process: ProcessHierarchical, ManagerName: "lead", CancelGrace: 50 * time.Millisecond},
		inv, pool, nil, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	report, err := c.Kickoff(ctx)
	if err == nil {
		t.Fatal("Kickoff returned nil error for a cancelled run")
	}
	var cancelled *domain.CancelledError
	if !errors.As(err, &cancelled) {
		t.Fatalf("Kickoff error = %T, want *domain.CancelledError", err)
	}
	if report.Status != domain.RunStatusCancelled {
		t.Fatalf("status = %s, want cancelled", report.Status)
	}
	found := false
	for _, id := range cancelled.Incomplete {
		if id == "after" {
			found = true
		}
	}
	if !found {
		t.Fatalf("incomplete = %v, want to contain %q", cancelled.Incomplete, "after")
	}
}

func TestNewRejectsHierarchicalWithoutDelegatingManager(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(echoExecutor("worker")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	g := domain.NewTaskGraph(domain.FailFast)
	if err := g.AddTask(domain.Task{ID: "t1", ExecutorName: "worker"}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	_, err := New("run-6", g, registry,
		Config{Process: ProcessHierarchical, ManagerName: "worker"},
		testInvoker(), nil, nil, nil, zap.NewNop())
	if err == nil {
		t.Fatal("New accepted a manager that cannot delegate")
	}
}

func newTestService(t *testing.T, storage ports.RunStorage, bus ports.EventBus) *Service {
	t.Helper()
	registry := NewRegistry()
	if err := registry.Register(echoExecutor("worker")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return NewService(registry, nil, testInvoker(), storage, bus, nil, zap.NewNop(),
		Config{Process: ProcessSequential}, time.Minute)
}

func TestServiceRunsSubmissionToCompletion(t *testing.T) {
	storage := storagemem.NewRunStorage()
	bus := eventsmem.NewEventBus(zap.NewNop())
	defer bus.Close()
	svc := newTestService(t, storage, bus)

	var completedEvents int32
	err := bus.Subscribe(context.Background(), "run.events", func(_ context.Context, event ports.Event) error {
		if event.Type == "run.completed" {
			atomic.AddInt32(&completedEvents, 1)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	runID, err := svc.SubmitRun(context.Background(), RunSpec{
		Tasks: []TaskSpec{
			{ID: "a", Description: "first", Executor: "worker"},
			{ID: "b", Description: "second", Executor: "worker", DependsOn: []string{"a"}},
		},
	})
	if err != nil {
		t.Fatalf("SubmitRun: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		report, err := svc.GetRun(context.Background(), runID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if report.Status == domain.RunStatusCompleted {
			if report.Completed != 2 {
				t.Fatalf("completed = %d, want 2", report.Completed)
			}
			if report.CompletedAt == nil {
				t.Fatal("final report has no completion timestamp")
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("run never completed, last status %s", report.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	// The bus delivers asynchronously; the completion event may land
	// shortly after the final report is visible.
	deadline = time.After(time.Second)
	for atomic.LoadInt32(&completedEvents) == 0 {
		select {
		case <-deadline:
			t.Fatal("no run.completed event published")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestServiceRejectsInvalidGraphSynchronously(t *testing.T) {
	svc := newTestService(t, storagemem.NewRunStorage(), nil)

	_, err := svc.SubmitRun(context.Background(), RunSpec{
		Tasks: []TaskSpec{
			{ID: "a", Executor: "worker", DependsOn: []string{"missing"}},
		},
	})
	if err == nil {
		t.Fatal("SubmitRun accepted a graph with an unknown dependency")
	}
	var unknown *domain.UnknownDependencyError
	if !errors.As(err, &unknown) {
		t.Fatalf("error = %T, want *domain.UnknownDependencyError", err)
	}
}

func TestServiceCancelRun(t *testing.T) {
	storage := storagemem.NewRunStorage()
	registry := NewRegistry()
	release := make(chan struct{})
	defer close(release)
	err := registry.Register(&fakeExecutor{name: "worker", fn: func(ctx context.Context, _ ports.ExecutionInput) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-release:
			return "done", nil
		}
	}})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	inv := resilience.NewInvoker(domain.ResilienceConfig{
		MaxRetries:       0,
		BaseDelay:        time.Millisecond,
		MaxDelay:         time.Millisecond,
		JitterFraction:   0.1,
		FailureThreshold: 100,
		RecoveryTimeout:  time.Second,
	}, zap.NewNop(), nil)
	svc := NewService(registry, nil, inv, storage, nil, nil, zap.NewNop(),
		Config{Process: ProcessSequential, CancelGrace: 20 * time.Millisecond}, time.Minute)

	runID, err := svc.SubmitRun(context.Background(), RunSpec{
		Tasks: []TaskSpec{{ID: "stuck", Executor: "worker"}},
	})
	if err != nil {
		t.Fatalf("SubmitRun: %v", err)
	}

	// Let the run start before cancelling.
	time.Sleep(50 * time.Millisecond)
	if err := svc.CancelRun(context.Background(), runID); err != nil {
		t.Fatalf("CancelRun: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		report, err := svc.GetRun(context.Background(), runID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if report.Status == domain.RunStatusCancelled {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("run never cancelled, last status %s", report.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := svc.CancelRun(context.Background(), runID); !errors.Is(err, ErrRunNotActive) {
		t.Fatalf("CancelRun after completion = %v, want ErrRunNotActive", err)
	}
}
