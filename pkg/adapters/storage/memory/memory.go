package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ametller/crewd/pkg/domain"
)

// RunStorage keeps run reports in process memory. Reports are stored as
// copies so callers cannot mutate persisted state.
type RunStorage struct {
	mu      sync.RWMutex
	reports map[string]*domain.RunReport
	order   []string
}

// NewRunStorage creates an empty in-memory run storage.
func NewRunStorage() *RunStorage {
	return &RunStorage{reports: make(map[string]*domain.RunReport)}
}

// SaveRun stores a copy of the report, replacing any previous version.
func (s *RunStorage) SaveRun(_ context.Context, report *domain.RunReport) error {
	if report == nil || report.RunID == "" {
		return fmt.Errorf("report has no run id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[report.RunID]; !ok {
		s.order = append(s.order, report.RunID)
	}
	s.reports[report.RunID] = copyReport(report)
	return nil
}

// GetRun returns a copy of the stored report.
func (s *RunStorage) GetRun(_ context.Context, runID string) (*domain.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.reports[runID]
	if !ok {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	return copyReport(report), nil
}

// DeleteRun removes a stored report. Deleting an unknown run is a no-op.
func (s *RunStorage) DeleteRun(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[runID]; !ok {
		return nil
	}
	delete(s.reports, runID)
	for i, id := range s.order {
		if id == runID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// ListRuns returns run ids in submission order.
func (s *RunStorage) ListRuns(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out, nil
}

func copyReport(in *domain.RunReport) *domain.RunReport {
	out := *in
	out.Tasks = make([]domain.Task, len(in.Tasks))
	copy(out.Tasks, in.Tasks)
	return &out
}
