package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_BoundsConcurrency(t *testing.T) {
	p := NewPool(2, nil, nil, time.Minute)
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	}()

	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		err := p.Submit(context.Background(), func(context.Context) {
			defer wg.Done()
			cur := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	wg.Wait()

	if got := atomic.LoadInt32(&peak); got > 2 {
		t.Fatalf("concurrency limit exceeded: peak %d workers", got)
	}
}

func TestPool_SubmitRespectsContext(t *testing.T) {
	p := NewPool(1, nil, nil, time.Minute)
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	}()

	// Occupy the only worker.
	blocker := make(chan struct{})
	if err := p.Submit(context.Background(), func(context.Context) { <-blocker }); err != nil {
		t.Fatalf("submit blocker: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func(context.Context) {})
	if err == nil {
		t.Fatalf("expected context error while pool is saturated")
	}
	close(blocker)
}

func TestPool_ShutdownStopsWorkers(t *testing.T) {
	p := NewPool(3, nil, nil, time.Minute)
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if err := p.Submit(context.Background(), func(context.Context) {}); err == nil {
		t.Fatalf("expected submit to fail after shutdown")
	}
}
