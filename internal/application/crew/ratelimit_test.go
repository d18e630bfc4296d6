package crew

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiterAdmitsUpToLimitImmediately(t *testing.T) {
	l := newRateLimiter(3, time.Minute, nil)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("first %d admissions took %v, want immediate", 3, elapsed)
	}
}

func TestRateLimiterBlocksUntilWindowSlides(t *testing.T) {
	l := newRateLimiter(2, 80*time.Millisecond, nil)

	for i := 0; i < 2; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}

	start := time.Now()
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("Wait over limit: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("third admission waited %v, want roughly the window length", elapsed)
	}
}

func TestRateLimiterWaitReturnsOnCancellation(t *testing.T) {
	l := newRateLimiter(1, time.Minute, nil)
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait = %v, want deadline exceeded", err)
	}
}

func TestRateLimiterDisabledWhenZero(t *testing.T) {
	l := newRateLimiter(0, time.Minute, nil)
	for i := 0; i < 100; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
}
