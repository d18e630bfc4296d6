package experiment

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ametller/crewd/pkg/ports"
)

// Variant is one of the comparable orchestrator configurations under
// experimentation.
type Variant struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// VariantStats is the accumulated outcome for one variant.
type VariantStats struct {
	Name        string        `json:"name"`
	Requests    int64         `json:"requests"`
	Successes   int64         `json:"successes"`
	SuccessRate float64       `json:"success_rate"`
	MeanLatency time.Duration `json:"mean_latency"`
}

type outcome struct {
	variant  string
	success  bool
	duration time.Duration
}

// Router deterministically assigns caller keys to variants and accumulates
// per-variant outcome metrics off the caller's critical path.
type Router struct {
	variants   []Variant
	cumulative []float64
	logger     *zap.Logger
	metrics    ports.MetricsCollector

	outcomes chan outcome
	done     chan struct{}

	mu    sync.RWMutex
	stats map[string]*VariantStats
}

// NewRouter creates a router for the given traffic split. Weights are
// normalized; at least one variant with positive weight is required.
// Metrics may be nil.
func NewRouter(variants []Variant, logger *zap.Logger, metrics ports.MetricsCollector) (*Router, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	total := 0.0
	for _, v := range variants {
		if v.Name == "" {
			return nil, fmt.Errorf("variant name is required")
		}
		if v.Weight < 0 {
			return nil, fmt.Errorf("variant %q has negative weight", v.Name)
		}
		total += v.Weight
	}
	if total <= 0 {
		return nil, fmt.Errorf("traffic split must have positive total weight")
	}

	cumulative := make([]float64, len(variants))
	acc := 0.0
	for i, v := range variants {
		acc += v.Weight / total
		cumulative[i] = acc
	}
	cumulative[len(cumulative)-1] = 1.0 // absorb float rounding

	r := &Router{
		variants:   append([]Variant{}, variants...),
		cumulative: cumulative,
		logger:     logger,
		metrics:    metrics,
		outcomes:   make(chan outcome, 1024),
		done:       make(chan struct{}),
		stats:      make(map[string]*VariantStats),
	}
	for _, v := range variants {
		r.stats[v.Name] = &VariantStats{Name: v.Name}
	}
	go r.collect()
	return r, nil
}

// Assign maps a stable caller key to a variant name. It is a pure function
// of the key hash and the configured split: the same key always yields the
// same variant for the life of the experiment.
func (r *Router) Assign(callerKey string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(callerKey))
	bucket := float64(h.Sum64()) / float64(math.MaxUint64)

	for i, c := range r.cumulative {
		if bucket < c {
			return r.variants[i].Name
		}
	}
	return r.variants[len(r.variants)-1].Name
}

// RecordOutcome accumulates an outcome for a variant without blocking the
// caller. If the collector backlog is full the outcome is dropped and
// logged.
func (r *Router) RecordOutcome(variant string, success bool, duration time.Duration) {
	select {
	case r.outcomes <- outcome{variant: variant, success: success, duration: duration}:
	default:
		r.logger.Warn("experiment outcome backlog full, dropping outcome",
			zap.String("variant", variant))
	}
}

// Stats returns a snapshot of per-variant statistics, sorted by name.
func (r *Router) Stats() []VariantStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]VariantStats, 0, len(r.stats))
	for _, s := range r.stats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close stops the collector after draining buffered outcomes.
func (r *Router) Close() {
	close(r.outcomes)
	<-r.done
}

func (r *Router) collect() {
	defer close(r.done)
	for o := range r.outcomes {
		r.mu.Lock()
		s, ok := r.stats[o.variant]
		if !ok {
			r.mu.Unlock()
			r.logger.Warn("outcome for unknown variant", zap.String("variant", o.variant))
			continue
		}
		prevTotal := time.Duration(s.Requests) * s.MeanLatency
		s.Requests++
		if o.success {
			s.Successes++
		}
		s.SuccessRate = float64(s.Successes) / float64(s.Requests)
		s.MeanLatency = (prevTotal + o.duration) / time.Duration(s.Requests)
		r.mu.Unlock()

		if r.metrics != nil {
			r.metrics.RecordExperimentOutcome(o.variant, o.success, o.duration)
		}
	}
}

// ParseSplit parses a traffic split of the form
// "control:0.5,candidate:0.5" into variants.
func ParseSplit(s string) ([]Variant, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("empty traffic split")
	}
	parts := strings.Split(s, ",")
	variants := make([]Variant, 0, len(parts))
	for _, part := range parts {
		name, weight, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("invalid traffic split entry: %q", part)
		}
		w, err := strconv.ParseFloat(weight, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid weight in %q: %w", part, err)
		}
		variants = append(variants, Variant{Name: strings.TrimSpace(name), Weight: w})
	}
	return variants, nil
}
