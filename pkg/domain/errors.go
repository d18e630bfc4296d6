package domain

import (
	"fmt"
	"strings"
)

// CycleError reports a dependency edge that would make the graph cyclic.
// The graph is left unmodified when it is returned.
type CycleError struct {
	TaskID string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected at task %q", e.TaskID)
}

// DuplicateIDError reports reuse of a task identifier.
type DuplicateIDError struct {
	TaskID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate task id: %q", e.TaskID)
}

// UnknownDependencyError reports a dependency on a task that is not in the
// graph.
type UnknownDependencyError struct {
	TaskID    string
	DependsOn string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("task %q depends on unknown task %q", e.TaskID, e.DependsOn)
}

// InvalidTransitionError reports a lifecycle transition that is not allowed
// from the task's current status.
type InvalidTransitionError struct {
	TaskID string
	From   TaskStatus
	To     TaskStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for task %q: %s -> %s", e.TaskID, e.From, e.To)
}

// CancelledError is returned when a run is cancelled before all tasks reach
// a terminal state. It enumerates the tasks that did not complete.
type CancelledError struct {
	RunID      string
	Incomplete []string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("run %s cancelled with incomplete tasks: %s",
		e.RunID, strings.Join(e.Incomplete, ", "))
}
