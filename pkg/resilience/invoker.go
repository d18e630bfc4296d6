package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ametller/crewd/pkg/domain"
	"github.com/ametller/crewd/pkg/ports"
)

// CircuitOpenError is returned when the breaker for a key rejects the call
// before it is attempted. It is recoverable: the caller may retry after
// RetryAfter.
type CircuitOpenError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %q, retry after %s", e.Key, e.RetryAfter)
}

// InvocationError wraps the last underlying error after retries are
// exhausted.
type InvocationError struct {
	Key      string
	Attempts int
	Err      error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invocation of %q failed after %d attempt(s): %v", e.Key, e.Attempts, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// Call is any external callable wrapped by the invoker.
type Call func(ctx context.Context) (string, error)

// Invoker wraps external calls with retry, backoff and circuit breaking.
// Breakers are partitioned by an opaque key, one per (executor, tool)
// pairing, and live for the invoker's lifetime.
type Invoker struct {
	defaults domain.ResilienceConfig
	logger   *zap.Logger
	metrics  ports.MetricsCollector

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker

	sleep     func(ctx context.Context, d time.Duration) error
	randFloat func() float64
}

// NewInvoker creates an invoker with the given default configuration.
// Metrics may be nil.
func NewInvoker(defaults domain.ResilienceConfig, logger *zap.Logger, metrics ports.MetricsCollector) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invoker{
		defaults:  defaults,
		logger:    logger,
		metrics:   metrics,
		breakers:  make(map[string]*CircuitBreaker),
		sleep:     sleepContext,
		randFloat: rand.Float64,
	}
}

// Invoke runs call under the breaker for key, retrying with exponential
// backoff and jitter. Retry exhaustion surfaces as *InvocationError; a
// rejecting breaker surfaces as *CircuitOpenError without the call being
// attempted.
func (inv *Invoker) Invoke(ctx context.Context, key string, cfg domain.ResilienceConfig, call Call) (string, error) {
	cfg = inv.merged(cfg)
	br := inv.breakerFor(key, cfg)

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if !br.Allow() {
			inv.recordState(key, br)
			return "", &CircuitOpenError{Key: key, RetryAfter: br.RetryAfter()}
		}

		attempts++
		result, err := call(ctx)
		if err == nil {
			br.RecordSuccess()
			inv.recordState(key, br)
			return result, nil
		}

		lastErr = err
		br.RecordFailure()
		inv.recordState(key, br)
		inv.logger.Warn("invocation attempt failed",
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == cfg.MaxRetries {
			break
		}
		if inv.metrics != nil {
			inv.metrics.RecordInvokerRetry(key)
		}
		if err := inv.sleep(ctx, inv.backoff(cfg, attempt)); err != nil {
			return "", &InvocationError{Key: key, Attempts: attempts, Err: err}
		}
	}

	return "", &InvocationError{Key: key, Attempts: attempts, Err: lastErr}
}

// WrapTool returns a tool whose every call goes through the invoker under
// the breaker for the (executor, tool) pairing.
func (inv *Invoker) WrapTool(executorName, toolName string, cfg domain.ResilienceConfig, tool ports.Tool) ports.Tool {
	key := BreakerKey(executorName, toolName)
	return func(ctx context.Context, args string) (string, error) {
		return inv.Invoke(ctx, key, cfg, func(ctx context.Context) (string, error) {
			return tool(ctx, args)
		})
	}
}

// Reset force-closes the breaker for key. It is the operator action for
// clearing a stuck-open circuit.
func (inv *Invoker) Reset(key string) {
	inv.mu.Lock()
	br, ok := inv.breakers[key]
	inv.mu.Unlock()
	if ok {
		br.Reset()
	}
}

// BreakerState returns the state of the breaker for key, or closed if no
// call has been made yet.
func (inv *Invoker) BreakerState(key string) BreakerState {
	inv.mu.Lock()
	br, ok := inv.breakers[key]
	inv.mu.Unlock()
	if !ok {
		return StateClosed
	}
	return br.State()
}

// BreakerKey builds the partition key for an (executor, tool) pairing.
func BreakerKey(executorName, toolName string) string {
	return executorName + ":" + toolName
}

// backoff computes the delay before the next attempt:
// min(baseDelay * 2^attempt, maxDelay) plus uniform jitter in
// [0, delay*jitterFraction].
func (inv *Invoker) backoff(cfg domain.ResilienceConfig, attempt int) time.Duration {
	delay := time.Duration(float64(cfg.BaseDelay) * math.Pow(2, float64(attempt)))
	if delay > cfg.MaxDelay || delay <= 0 {
		delay = cfg.MaxDelay
	}
	jitter := time.Duration(inv.randFloat() * cfg.JitterFraction * float64(delay))
	return delay + jitter
}

func (inv *Invoker) breakerFor(key string, cfg domain.ResilienceConfig) *CircuitBreaker {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	br, ok := inv.breakers[key]
	if !ok {
		br = NewCircuitBreaker(cfg.FailureThreshold, cfg.RecoveryTimeout)
		inv.breakers[key] = br
	}
	return br
}

func (inv *Invoker) recordState(key string, br *CircuitBreaker) {
	if inv.metrics != nil {
		inv.metrics.RecordBreakerTransition(key, string(br.State()))
	}
}

// merged fills zero fields of cfg from the invoker defaults.
func (inv *Invoker) merged(cfg domain.ResilienceConfig) domain.ResilienceConfig {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = inv.defaults.MaxRetries
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = inv.defaults.BaseDelay
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = inv.defaults.MaxDelay
	}
	if cfg.JitterFraction == 0 {
		cfg.JitterFraction = inv.defaults.JitterFraction
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = inv.defaults.FailureThreshold
	}
	if cfg.RecoveryTimeout == 0 {
		cfg.RecoveryTimeout = inv.defaults.RecoveryTimeout
	}
	return cfg
}

// sleepContext blocks the calling goroutine for d without busy-spinning,
// returning early if the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
