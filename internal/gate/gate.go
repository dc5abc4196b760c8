// Package gate implements the Request Gate (C11): a global semaphore
// bounding concurrent in-flight resolutions, with FIFO overflow queuing and
// a hard per-request wall deadline (spec.md §4.11).
//
// The bounded-concurrency shape follows ManuGH-xg2g's internal/jobs/
// fetch.go buffered-channel semaphore, generalized from "N fetch workers"
// to "N concurrent resolutions, unbounded FIFO queue beyond that."
package gate

import (
	"context"
	"time"
)

const (
	maxInFlight  = 5
	wallDeadline = 15 * time.Second
)

// Gate bounds concurrent resolution work.
type Gate struct {
	sem chan struct{}
}

// New builds a Gate with the spec's fixed concurrency limit.
func New() *Gate {
	return &Gate{sem: make(chan struct{}, maxInFlight)}
}

// NewWithLimit builds a Gate with a caller-supplied limit; a non-positive
// limit falls back to the fixed default.
func NewWithLimit(limit int) *Gate {
	if limit <= 0 {
		limit = maxInFlight
	}
	return &Gate{sem: make(chan struct{}, limit)}
}

// Run acquires a slot (queuing FIFO if all are busy), applies the hard wall
// deadline, and invokes fn. If the deadline fires before a slot is
// acquired or before fn returns, Run returns ctx.Err() and fn's eventual
// result (if any) is discarded by the caller per spec.md §4.11.
func (g *Gate) Run(ctx context.Context, fn func(context.Context) error) error {
	deadlineCtx, cancel := context.WithTimeout(ctx, wallDeadline)
	defer cancel()

	select {
	case g.sem <- struct{}{}:
	case <-deadlineCtx.Done():
		return deadlineCtx.Err()
	}
	defer func() { <-g.sem }()

	done := make(chan error, 1)
	go func() {
		done <- fn(deadlineCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-deadlineCtx.Done():
		return deadlineCtx.Err()
	}
}

// InFlight reports the current number of occupied slots, for the health
// endpoint.
func (g *Gate) InFlight() int {
	return len(g.sem)
}

// Capacity reports the configured concurrency limit.
func (g *Gate) Capacity() int {
	return cap(g.sem)
}
