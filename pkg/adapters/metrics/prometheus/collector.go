package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	runsSubmitted *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	tasksExecuted *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec

	invokerRetries     *prometheus.CounterVec
	breakerTransitions *prometheus.CounterVec
	rateLimitWaitTime  prometheus.Histogram

	experimentOutcomes *prometheus.CounterVec
	experimentLatency  *prometheus.HistogramVec

	workerPoolIdle    prometheus.Gauge
	workerPoolBusy    prometheus.Gauge
	workerPoolStopped prometheus.Gauge
}

// NewCollector creates a new Prometheus metrics collector
func NewCollector() *Collector {
	return &Collector{
		runsSubmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewd_runs_submitted_total",
				Help: "Total number of runs submitted",
			},
			[]string{"status"},
		),
		runsCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewd_runs_completed_total",
				Help: "Total number of runs completed",
			},
			[]string{"status"},
		),
		runDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crewd_run_duration_seconds",
				Help:    "Run duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		tasksExecuted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewd_tasks_executed_total",
				Help: "Total number of tasks executed",
			},
			[]string{"status"},
		),
		taskDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crewd_task_duration_seconds",
				Help:    "Task execution duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		invokerRetries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewd_invoker_retries_total",
				Help: "Total number of invocation retries",
			},
			[]string{"key"},
		),
		breakerTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewd_breaker_transitions_total",
				Help: "Circuit breaker state observations per key",
			},
			[]string{"key", "state"},
		),
		rateLimitWaitTime: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crewd_rate_limit_wait_seconds",
				Help:    "Time spent waiting on the global rate limit",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
			},
		),
		experimentOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewd_experiment_outcomes_total",
				Help: "Total experiment outcomes recorded per variant",
			},
			[]string{"variant", "result"},
		),
		experimentLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crewd_experiment_latency_seconds",
				Help:    "Latency of experiment-routed executions",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"variant"},
		),
		workerPoolIdle: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crewd_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crewd_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crewd_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
	}
}

// RecordRunSubmitted records a run submission
func (c *Collector) RecordRunSubmitted(status string) {
	c.runsSubmitted.WithLabelValues(status).Inc()
}

// RecordRunCompleted records a finished run and its duration
func (c *Collector) RecordRunCompleted(status string, duration time.Duration) {
	c.runsCompleted.WithLabelValues(status).Inc()
	c.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordTaskExecuted records a task execution and its duration
func (c *Collector) RecordTaskExecuted(status string, duration time.Duration) {
	c.tasksExecuted.WithLabelValues(status).Inc()
	c.taskDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordInvokerRetry records one retry under a breaker key
func (c *Collector) RecordInvokerRetry(key string) {
	c.invokerRetries.WithLabelValues(key).Inc()
}

// RecordBreakerTransition records a breaker state observation
func (c *Collector) RecordBreakerTransition(key, state string) {
	c.breakerTransitions.WithLabelValues(key, state).Inc()
}

// RecordRateLimitWait records time spent blocked on the rate limit
func (c *Collector) RecordRateLimitWait(duration time.Duration) {
	c.rateLimitWaitTime.Observe(duration.Seconds())
}

// RecordExperimentOutcome records one experiment outcome
func (c *Collector) RecordExperimentOutcome(variant string, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.experimentOutcomes.WithLabelValues(variant, result).Inc()
	c.experimentLatency.WithLabelValues(variant).Observe(duration.Seconds())
}

// RecordWorkerPoolStatus records the worker pool composition
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}
