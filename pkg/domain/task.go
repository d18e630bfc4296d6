package domain

import "time"

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusReady     TaskStatus = "ready"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusSkipped   TaskStatus = "skipped"
)

// IsTerminal reports whether the status is final.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// Task is a unit of work with declared dependencies and a lifecycle status.
// Description and ExpectedOutput are opaque payloads: the engine never
// interprets them, it only forwards them to the assigned executor.
type Task struct {
	ID             string     `json:"id"`
	Description    string     `json:"description"`
	ExpectedOutput string     `json:"expected_output,omitempty"`
	ExecutorName   string     `json:"executor"`
	DependsOn      []string   `json:"depends_on,omitempty"`
	Status         TaskStatus `json:"status"`
	Result         string     `json:"result,omitempty"`
	Err            string     `json:"error,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func allowedTransition(from, to TaskStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusReady || to == StatusSkipped
	case StatusReady:
		return to == StatusRunning || to == StatusSkipped
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}
