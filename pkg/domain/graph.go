package domain

import (
	"sync"
	"time"
)

// FailurePolicy selects how a failed task affects its dependents.
type FailurePolicy string

const (
	// FailFast eagerly skips everything downstream of a failed task.
	FailFast FailurePolicy = "fail_fast"
	// BestEffort leaves dependents of a failed task pending; independent
	// branches keep running.
	BestEffort FailurePolicy = "best_effort"
)

// TaskGraph is a directed acyclic graph of tasks with output-forwarding
// edges. Insertion order is preserved so that scheduling among
// simultaneously ready tasks is deterministic.
//
// Mutation goes through AddTask and the Mark* methods only. All methods are
// safe for concurrent use; the orchestrator is nonetheless the single
// writer during a run.
type TaskGraph struct {
	mu     sync.RWMutex
	tasks  map[string]*Task
	order  []string
	deps   map[string][]string // task id -> dependency ids
	rdeps  map[string][]string // task id -> dependent ids
	policy FailurePolicy
}

// NewTaskGraph creates an empty graph with the given failure policy.
func NewTaskGraph(policy FailurePolicy) *TaskGraph {
	if policy == "" {
		policy = FailFast
	}
	return &TaskGraph{
		tasks:  make(map[string]*Task),
		deps:   make(map[string][]string),
		rdeps:  make(map[string][]string),
		policy: policy,
	}
}

// Policy returns the graph's failure propagation mode.
func (g *TaskGraph) Policy() FailurePolicy { return g.policy }

// AddTask inserts a task with the given dependencies. It returns
// *DuplicateIDError if the id exists, *UnknownDependencyError if a
// dependency is not in the graph, and *CycleError if the new edges would
// make the graph cyclic. On error the graph is left unmodified.
func (g *TaskGraph) AddTask(task Task, dependsOn ...string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.tasks[task.ID]; exists {
		return &DuplicateIDError{TaskID: task.ID}
	}
	deps := append(append([]string{}, task.DependsOn...), dependsOn...)
	for _, dep := range deps {
		if dep == task.ID {
			return &CycleError{TaskID: task.ID}
		}
		if _, ok := g.tasks[dep]; !ok {
			return &UnknownDependencyError{TaskID: task.ID, DependsOn: dep}
		}
	}
	if err := g.checkAcyclic(task.ID, deps); err != nil {
		return err
	}

	t := task
	t.DependsOn = deps
	t.Status = StatusPending
	if len(deps) == 0 {
		t.Status = StatusReady
	}
	g.tasks[t.ID] = &t
	g.order = append(g.order, t.ID)
	g.deps[t.ID] = deps
	for _, dep := range deps {
		g.rdeps[dep] = append(g.rdeps[dep], t.ID)
	}
	return nil
}

// AddDependency adds an edge between two existing tasks. It returns
// *CycleError and leaves the graph unmodified if the edge would make the
// graph cyclic. Both tasks must still be Pending or Ready.
func (g *TaskGraph) AddDependency(id, dependsOn string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[id]
	if !ok {
		return &UnknownDependencyError{TaskID: id, DependsOn: dependsOn}
	}
	if _, ok := g.tasks[dependsOn]; !ok {
		return &UnknownDependencyError{TaskID: id, DependsOn: dependsOn}
	}
	if id == dependsOn {
		return &CycleError{TaskID: id}
	}
	if err := g.checkAcyclic(id, append(append([]string{}, g.deps[id]...), dependsOn)); err != nil {
		return err
	}

	g.deps[id] = append(g.deps[id], dependsOn)
	t.DependsOn = append(t.DependsOn, dependsOn)
	g.rdeps[dependsOn] = append(g.rdeps[dependsOn], id)
	if t.Status == StatusReady && !g.depsCompleted(id) {
		t.Status = StatusPending
	}
	return nil
}

// checkAcyclic verifies that adding candidate with the given dependencies
// keeps the graph acyclic. Dependencies point at existing tasks only, so a
// cycle can occur solely through the candidate id appearing in its own
// transitive dependency closure (deps of existing tasks never reference the
// candidate). The DFS is kept general so the invariant does not depend on
// that assumption.
func (g *TaskGraph) checkAcyclic(candidate string, candidateDeps []string) error {
	visiting := map[string]bool{}
	visited := map[string]bool{}

	depsOf := func(id string) []string {
		if id == candidate {
			return candidateDeps
		}
		return g.deps[id]
	}

	var dfs func(id string) error
	dfs = func(id string) error {
		if visited[id] {
			return nil
		}
		if visiting[id] {
			return &CycleError{TaskID: id}
		}
		visiting[id] = true
		for _, dep := range depsOf(id) {
			if err := dfs(dep); err != nil {
				return err
			}
		}
		visiting[id] = false
		visited[id] = true
		return nil
	}

	if err := dfs(candidate); err != nil {
		return err
	}
	for _, id := range g.order {
		if err := dfs(id); err != nil {
			return err
		}
	}
	return nil
}

// ReadyTasks returns the tasks that are currently eligible to run, in
// insertion order. The result is a snapshot; calling it again restarts the
// sequence against the current state.
func (g *TaskGraph) ReadyTasks() []Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []Task
	for _, id := range g.order {
		if g.tasks[id].Status == StatusReady {
			ready = append(ready, *g.tasks[id])
		}
	}
	return ready
}

// MarkRunning transitions a Ready task to Running.
func (g *TaskGraph) MarkRunning(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, err := g.transition(id, StatusRunning)
	if err != nil {
		return err
	}
	now := time.Now()
	t.StartedAt = &now
	return nil
}

// MarkCompleted transitions a Running task to Completed, records its result
// and recomputes downstream readiness.
func (g *TaskGraph) MarkCompleted(id string, result string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, err := g.transition(id, StatusCompleted)
	if err != nil {
		return err
	}
	t.Result = result
	now := time.Now()
	t.CompletedAt = &now

	// Promote dependents whose dependencies are now all completed.
	for _, depID := range g.rdeps[id] {
		dep := g.tasks[depID]
		if dep.Status != StatusPending {
			continue
		}
		if g.depsCompleted(depID) {
			dep.Status = StatusReady
		}
	}
	return nil
}

// MarkFailed transitions a Running task to Failed and applies the graph's
// failure propagation mode. It returns the ids of the tasks skipped as a
// consequence, in breadth-first dependency order.
func (g *TaskGraph) MarkFailed(id string, taskErr error) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, err := g.transition(id, StatusFailed)
	if err != nil {
		return nil, err
	}
	if taskErr != nil {
		t.Err = taskErr.Error()
	}
	now := time.Now()
	t.CompletedAt = &now

	if g.policy == FailFast {
		return g.skipDownstream(id), nil
	}
	return nil, nil
}

// skipDownstream transitively marks every non-terminal dependent as
// Skipped. Traversal is breadth-first in insertion-preserving order.
func (g *TaskGraph) skipDownstream(id string) []string {
	var skipped []string
	queue := append([]string{}, g.rdeps[id]...)
	seen := map[string]bool{id: true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true

		t := g.tasks[cur]
		switch t.Status {
		case StatusPending, StatusReady:
			t.Status = StatusSkipped
			skipped = append(skipped, cur)
		}
		queue = append(queue, g.rdeps[cur]...)
	}
	return skipped
}

func (g *TaskGraph) depsCompleted(id string) bool {
	for _, dep := range g.deps[id] {
		if g.tasks[dep].Status != StatusCompleted {
			return false
		}
	}
	return true
}

func (g *TaskGraph) transition(id string, to TaskStatus) (*Task, error) {
	t, ok := g.tasks[id]
	if !ok {
		return nil, &InvalidTransitionError{TaskID: id, To: to}
	}
	if !allowedTransition(t.Status, to) {
		return nil, &InvalidTransitionError{TaskID: id, From: t.Status, To: to}
	}
	t.Status = to
	return t, nil
}

// Task returns a copy of the task with the given id.
func (g *TaskGraph) Task(id string) (Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Tasks returns copies of all tasks in insertion order.
func (g *TaskGraph) Tasks() []Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, *g.tasks[id])
	}
	return out
}

// Len returns the number of tasks in the graph.
func (g *TaskGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

// Running reports whether any task is currently Running.
func (g *TaskGraph) Running() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, t := range g.tasks {
		if t.Status == StatusRunning {
			return true
		}
	}
	return false
}

// Done reports whether every task is terminal. Under BestEffort a task left
// Pending behind a failed dependency can never become ready again, so those
// count as settled too.
func (g *TaskGraph) Done() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, t := range g.tasks {
		switch t.Status {
		case StatusCompleted, StatusFailed, StatusSkipped:
			continue
		case StatusPending:
			if !g.blockedForever(t.ID) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// blockedForever reports whether the pending task has a dependency that is
// terminally unsuccessful.
func (g *TaskGraph) blockedForever(id string) bool {
	for _, dep := range g.deps[id] {
		st := g.tasks[dep].Status
		if st == StatusFailed || st == StatusSkipped {
			return true
		}
		if st == StatusPending && g.blockedForever(dep) {
			return true
		}
	}
	return false
}

// Summary returns the number of tasks per status.
func (g *TaskGraph) Summary() map[TaskStatus]int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[TaskStatus]int)
	for _, t := range g.tasks {
		out[t.Status]++
	}
	return out
}
