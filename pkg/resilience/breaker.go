package resilience

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// CircuitBreaker guards one (executor, tool) pairing. It lives for the
// process lifetime of that pairing and is reset only by a successful
// half-open probe or an explicit Reset.
type CircuitBreaker struct {
	mu              sync.Mutex
	state           BreakerState
	failures        int
	lastFailure     time.Time
	threshold       int
	recoveryTimeout time.Duration
	now             func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(threshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &CircuitBreaker{
		state:           StateClosed,
		threshold:       threshold,
		recoveryTimeout: recoveryTimeout,
		now:             time.Now,
	}
}

// Allow reports whether a call may proceed. When the recovery timeout has
// elapsed on an open breaker it transitions to half-open and admits exactly
// one probe call.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		// A probe is already in flight.
		return false
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.recoveryTimeout {
			return false
		}
		b.state = StateHalfOpen
		return true
	}
	return false
}

// RecordSuccess resets the breaker to closed.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.state = StateClosed
}

// RecordFailure counts a failure. A half-open probe failure reopens the
// circuit immediately; a closed breaker opens once the threshold is
// reached.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
	case StateClosed:
		if b.failures >= b.threshold {
			b.state = StateOpen
		}
	}
}

// State returns the current state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RetryAfter returns how long until an open breaker admits a probe.
func (b *CircuitBreaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return 0
	}
	remaining := b.recoveryTimeout - b.now().Sub(b.lastFailure)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset is the operator escape hatch: it forces the breaker closed and
// clears the failure count.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = StateClosed
}

// setClock overrides the time source for tests.
func (b *CircuitBreaker) setClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}
