package crew

import (
	"context"
	"sync"
	"time"

	"github.com/ametller/crewd/pkg/ports"
)

// rateLimiter enforces a global cap on executor invocations per rolling
// window. Callers block in Wait until a slot frees up or their context is
// cancelled; no invocation is ever dropped.
type rateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	stamps  []time.Time
	metrics ports.MetricsCollector

	now func() time.Time
}

// newRateLimiter creates a limiter allowing limit invocations per window.
// A non-positive limit disables limiting.
func newRateLimiter(limit int, window time.Duration, metrics ports.MetricsCollector) *rateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &rateLimiter{
		limit:   limit,
		window:  window,
		metrics: metrics,
		now:     time.Now,
	}
}

// Wait blocks until the caller may proceed. It returns the context error if
// the context is cancelled while waiting.
func (l *rateLimiter) Wait(ctx context.Context) error {
	if l == nil || l.limit <= 0 {
		return nil
	}
	start := l.now()
	for {
		l.mu.Lock()
		cutoff := l.now().Add(-l.window)
		i := 0
		for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
			i++
		}
		l.stamps = l.stamps[i:]

		if len(l.stamps) < l.limit {
			l.stamps = append(l.stamps, l.now())
			l.mu.Unlock()
			if l.metrics != nil {
				if waited := l.now().Sub(start); waited > 0 {
					l.metrics.RecordRateLimitWait(waited)
				}
			}
			return nil
		}
		sleep := l.stamps[0].Add(l.window).Sub(l.now())
		l.mu.Unlock()

		if sleep < time.Millisecond {
			sleep = time.Millisecond
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
