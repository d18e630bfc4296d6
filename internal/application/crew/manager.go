package crew

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ametller/crewd/internal/application/workers"
	"github.com/ametller/crewd/pkg/domain"
	"github.com/ametller/crewd/pkg/experiment"
	"github.com/ametller/crewd/pkg/ports"
	"github.com/ametller/crewd/pkg/resilience"
)

// ErrRunNotActive is returned when cancelling a run that is unknown or has
// already finished.
var ErrRunNotActive = errors.New("run is not active")

// TaskSpec describes one task in a run submission.
type TaskSpec struct {
	ID             string   `json:"id"`
	Description    string   `json:"description"`
	ExpectedOutput string   `json:"expected_output,omitempty"`
	Executor       string   `json:"executor,omitempty"`
	DependsOn      []string `json:"depends_on,omitempty"`
}

// RunSpec describes a whole run submission.
type RunSpec struct {
	Tasks              []TaskSpec           `json:"tasks"`
	Process            Process              `json:"process,omitempty"`
	FailurePolicy      domain.FailurePolicy `json:"failure_policy,omitempty"`
	ManagerName        string               `json:"manager,omitempty"`
	RateLimitPerMinute int                  `json:"rate_limit_per_minute,omitempty"`

	// ExperimentKey, when set and an experiment is configured, buckets
	// the run into a variant whose outcome is recorded on completion.
	ExperimentKey string `json:"experiment_key,omitempty"`
}

// Service accepts run submissions, executes them on background crews and
// tracks their lifecycle. It is the single entry point the API layers use.
type Service struct {
	registry *Registry
	pool     *workers.Pool
	invoker  *resilience.Invoker
	storage  ports.RunStorage
	events   ports.EventBus
	metrics  ports.MetricsCollector
	logger   *zap.Logger

	defaults   Config
	runTimeout time.Duration
	exp        *experiment.Router

	// Track active runs
	runs sync.Map // map[string]*activeRun
}

// activeRun holds the handles needed to cancel and await one execution.
type activeRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates the run service.
func NewService(
	registry *Registry,
	pool *workers.Pool,
	invoker *resilience.Invoker,
	storage ports.RunStorage,
	events ports.EventBus,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	defaults Config,
	runTimeout time.Duration,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runTimeout <= 0 {
		runTimeout = 30 * time.Minute
	}
	if defaults.Process == "" {
		defaults.Process = ProcessSequential
	}
	return &Service{
		registry:   registry,
		pool:       pool,
		invoker:    invoker,
		storage:    storage,
		events:     events,
		metrics:    metrics,
		logger:     logger,
		defaults:   defaults,
		runTimeout: runTimeout,
	}
}

// SetExperiment attaches an experiment router. Runs submitted with an
// experiment key are bucketed and their outcomes recorded.
func (s *Service) SetExperiment(router *experiment.Router) {
	s.exp = router
}

// SubmitRun validates the spec, persists the initial report and starts the
// run in the background. Structural errors (cycles, duplicate ids, unknown
// dependencies or executors) are returned synchronously.
func (s *Service) SubmitRun(ctx context.Context, spec RunSpec) (string, error) {
	graph, err := s.buildGraph(spec)
	if err != nil {
		s.logger.Error("run validation failed", zap.Error(err))
		if s.metrics != nil {
			s.metrics.RecordRunSubmitted(string(domain.RunStatusFailed))
		}
		return "", fmt.Errorf("validation failed: %w", err)
	}

	runID := uuid.New().String()
	cfg := s.runConfig(spec)

	c, err := New(runID, graph, s.registry, cfg, s.invoker, s.pool, s.events, s.metrics, s.logger)
	if err != nil {
		return "", err
	}

	report := &domain.RunReport{
		RunID:       runID,
		Status:      domain.RunStatusSubmitted,
		Tasks:       graph.Tasks(),
		SubmittedAt: time.Now(),
	}
	if err := s.storage.SaveRun(ctx, report); err != nil {
		s.logger.Error("failed to save initial report",
			zap.String("run_id", runID),
			zap.Error(err))
		return "", fmt.Errorf("failed to save report: %w", err)
	}

	s.publishRunEvent(ctx, "run.submitted", runID, nil)
	if s.metrics != nil {
		s.metrics.RecordRunSubmitted(string(domain.RunStatusSubmitted))
	}

	variant := ""
	if s.exp != nil && spec.ExperimentKey != "" {
		variant = s.exp.Assign(spec.ExperimentKey)
	}

	runCtx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	active := &activeRun{cancel: cancel, done: make(chan struct{})}
	s.runs.Store(runID, active)

	s.logger.Info("run submitted",
		zap.String("run_id", runID),
		zap.String("process", string(cfg.Process)),
		zap.String("variant", variant),
		zap.Int("tasks", len(spec.Tasks)))

	go s.execute(runCtx, runID, c, report.SubmittedAt, active, variant)

	return runID, nil
}

// execute drives one crew to completion and records the final report.
func (s *Service) execute(ctx context.Context, runID string, c *Crew, submittedAt time.Time, active *activeRun, variant string) {
	defer close(active.done)
	defer active.cancel()
	defer s.runs.Delete(runID)

	started := time.Now()
	running := &domain.RunReport{
		RunID:       runID,
		Status:      domain.RunStatusRunning,
		Tasks:       c.graph.Tasks(),
		SubmittedAt: submittedAt,
		StartedAt:   &started,
	}
	if err := s.storage.SaveRun(context.Background(), running); err != nil {
		s.logger.Error("failed to save running report",
			zap.String("run_id", runID),
			zap.Error(err))
	}
	s.publishRunEvent(context.Background(), "run.started", runID, nil)

	report, runErr := c.Kickoff(ctx)
	completed := time.Now()
	report.SubmittedAt = submittedAt
	report.StartedAt = &started
	report.CompletedAt = &completed

	if err := s.storage.SaveRun(context.Background(), report); err != nil {
		s.logger.Error("failed to save final report",
			zap.String("run_id", runID),
			zap.Error(err))
	}
	s.publishRunEvent(context.Background(), ports.EventType("run."+string(report.Status)), runID, runErr)
	if s.metrics != nil {
		s.metrics.RecordRunCompleted(string(report.Status), completed.Sub(started))
	}
	if s.exp != nil && variant != "" {
		success := report.Status == domain.RunStatusCompleted
		s.exp.RecordOutcome(variant, success, completed.Sub(started))
	}
}

// GetRun returns the last persisted report for a run.
func (s *Service) GetRun(ctx context.Context, runID string) (*domain.RunReport, error) {
	report, err := s.storage.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return report, nil
}

// ListRuns returns the ids of all persisted runs.
func (s *Service) ListRuns(ctx context.Context) ([]string, error) {
	return s.storage.ListRuns(ctx)
}

// CancelRun requests cancellation of an active run. In-flight tasks get the
// configured grace period; the final report is written by the run goroutine.
func (s *Service) CancelRun(ctx context.Context, runID string) error {
	val, ok := s.runs.Load(runID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotActive, runID)
	}
	active := val.(*activeRun)
	active.cancel()

	s.publishRunEvent(ctx, "run.cancelling", runID, nil)
	s.logger.Info("run cancellation requested", zap.String("run_id", runID))
	return nil
}

// Shutdown cancels every active run and waits for their final reports,
// bounded by ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	var pending []*activeRun
	s.runs.Range(func(_, val any) bool {
		active := val.(*activeRun)
		active.cancel()
		pending = append(pending, active)
		return true
	})
	for _, active := range pending {
		select {
		case <-active.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Service) buildGraph(spec RunSpec) (*domain.TaskGraph, error) {
	if len(spec.Tasks) == 0 {
		return nil, fmt.Errorf("run has no tasks")
	}
	policy := spec.FailurePolicy
	if policy == "" {
		policy = domain.FailFast
	}
	g := domain.NewTaskGraph(policy)
	for _, t := range spec.Tasks {
		task := domain.Task{
			ID:             t.ID,
			Description:    t.Description,
			ExpectedOutput: t.ExpectedOutput,
			ExecutorName:   t.Executor,
		}
		if err := g.AddTask(task, t.DependsOn...); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (s *Service) runConfig(spec RunSpec) Config {
	cfg := s.defaults
	if spec.Process != "" {
		cfg.Process = spec.Process
	}
	if spec.ManagerName != "" {
		cfg.ManagerName = spec.ManagerName
	}
	if spec.RateLimitPerMinute > 0 {
		cfg.RateLimitPerMinute = spec.RateLimitPerMinute
	}
	return cfg
}

func (s *Service) publishRunEvent(ctx context.Context, eventType ports.EventType, runID string, cause error) {
	if s.events == nil {
		return
	}
	ev := ports.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		RunID:     runID,
		Timestamp: time.Now(),
	}
	if cause != nil {
		ev.Data = map[string]any{"error": cause.Error()}
	}
	if err := s.events.Publish(ctx, "run.events", ev); err != nil {
		s.logger.Error("failed to publish run event",
			zap.String("run_id", runID),
			zap.String("type", string(eventType)),
			zap.Error(err))
	}
}
