package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunExecutesWithinLimit(t *testing.T) {
	g := NewWithLimit(2)
	var got int32
	err := g.Run(context.Background(), func(ctx context.Context) error {
		atomic.AddInt32(&got, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected fn to run once, got %d", got)
	}
}

func TestRunQueuesBeyondLimit(t *testing.T) {
	g := NewWithLimit(1)
	release := make(chan struct{})
	var started, finished int32

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = g.Run(context.Background(), func(ctx context.Context) error {
			atomic.AddInt32(&started, 1)
			<-release
			atomic.AddInt32(&finished, 1)
			return nil
		})
	}()

	// give the first goroutine a moment to acquire the slot
	time.Sleep(20 * time.Millisecond)
	if g.InFlight() != 1 {
		t.Fatalf("expected 1 in flight, got %d", g.InFlight())
	}

	second := make(chan error, 1)
	go func() {
		second <- g.Run(context.Background(), func(ctx context.Context) error { return nil })
	}()

	select {
	case <-second:
		t.Fatal("second call should have queued behind the first")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	wg.Wait()
	if err := <-second; err != nil {
		t.Fatalf("unexpected error from queued call: %v", err)
	}
}

func TestRunPropagatesFnError(t *testing.T) {
	g := NewWithLimit(1)
	wantErr := errors.New("boom")
	err := g.Run(context.Background(), func(ctx context.Context) error { return wantErr })
	if err != wantErr {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
}
