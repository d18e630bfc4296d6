package domain

import "time"

// RunStatus is the terminal (or in-flight) state of a whole run.
type RunStatus string

const (
	RunStatusSubmitted RunStatus = "submitted"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunReport is the always-produced result of an orchestration run. It
// reports per-task status; partial success is a valid terminal state.
type RunReport struct {
	RunID       string     `json:"run_id"`
	Status      RunStatus  `json:"status"`
	Tasks       []Task     `json:"tasks"`
	Completed   int        `json:"completed"`
	Failed      int        `json:"failed"`
	Skipped     int        `json:"skipped"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// BuildReport assembles a report from the graph's current state. The run
// status is derived from the per-task outcome: all completed → completed,
// any failure with some successes → partial, no successes → failed.
func BuildReport(runID string, g *TaskGraph) *RunReport {
	tasks := g.Tasks()
	r := &RunReport{RunID: runID, Tasks: tasks}
	for _, t := range tasks {
		switch t.Status {
		case StatusCompleted:
			r.Completed++
		case StatusFailed:
			r.Failed++
		case StatusSkipped:
			r.Skipped++
		}
	}
	switch {
	case r.Completed == len(tasks):
		r.Status = RunStatusCompleted
	case r.Completed > 0:
		r.Status = RunStatusPartial
	default:
		r.Status = RunStatusFailed
	}
	return r
}
