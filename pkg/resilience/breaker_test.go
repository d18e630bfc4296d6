package resilience

import (
	"testing"
	"time"
)

func TestBreaker_OpensAtThreshold(t *testing.T) {
	br := NewCircuitBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		br.RecordFailure()
		if br.State() != StateClosed {
			t.Fatalf("breaker opened early at failure %d", i+1)
		}
	}
	br.RecordFailure()
	if br.State() != StateOpen {
		t.Fatalf("expected open after threshold, got %s", br.State())
	}
	if br.Allow() {
		t.Fatalf("open breaker must reject calls")
	}
}

func TestBreaker_HalfOpenSingleProbe(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	br := NewCircuitBreaker(1, 30*time.Second)
	br.setClock(clock)
	br.RecordFailure()
	if br.State() != StateOpen {
		t.Fatalf("expected open, got %s", br.State())
	}

	// Before the recovery timeout: rejected.
	now = now.Add(29 * time.Second)
	if br.Allow() {
		t.Fatalf("expected rejection before recovery timeout")
	}

	// After the timeout: exactly one probe allowed.
	now = now.Add(2 * time.Second)
	if !br.Allow() {
		t.Fatalf("expected half-open probe to be admitted")
	}
	if br.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", br.State())
	}
	if br.Allow() {
		t.Fatalf("second call during half-open must be rejected")
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	br := NewCircuitBreaker(1, time.Second)
	br.setClock(func() time.Time { return now })

	br.RecordFailure()
	now = now.Add(2 * time.Second)
	if !br.Allow() {
		t.Fatalf("expected probe admitted")
	}
	br.RecordFailure()
	if br.State() != StateOpen {
		t.Fatalf("expected reopened circuit, got %s", br.State())
	}
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	now := time.Now()
	br := NewCircuitBreaker(1, time.Second)
	br.setClock(func() time.Time { return now })

	br.RecordFailure()
	now = now.Add(2 * time.Second)
	if !br.Allow() {
		t.Fatalf("expected probe admitted")
	}
	br.RecordSuccess()
	if br.State() != StateClosed {
		t.Fatalf("expected closed after probe success, got %s", br.State())
	}
	if !br.Allow() {
		t.Fatalf("closed breaker must admit calls")
	}
}

func TestBreaker_Reset(t *testing.T) {
	br := NewCircuitBreaker(1, time.Hour)
	br.RecordFailure()
	if br.State() != StateOpen {
		t.Fatalf("expected open")
	}
	br.Reset()
	if br.State() != StateClosed || !br.Allow() {
		t.Fatalf("expected reset to close the breaker")
	}
}
