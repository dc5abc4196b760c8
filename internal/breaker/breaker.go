// Package breaker implements the Circuit Breaker (C4): per-(type,id)
// fault isolation for replicated-instance sources (proxy pool, legacy
// Piped/Invidious instance lists). It wraps sony/gobreaker/v2 the way
// tomtom215-cartographus's internal/sync/circuit_breaker.go does (a
// named breaker per remote instance, OnStateChange logging), but with
// ReadyToTrip simplified from cartographus's windowed failure-ratio rule
// to spec.md §4.4's exact contract: open after 5 consecutive failures,
// auto-close after a 10 minute timeout or immediately on any success.
package breaker

import (
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/rs/zerolog"
)

const (
	failureThreshold = 5
	resetWindow      = 10 * time.Minute
)

// Breaker owns one gobreaker.CircuitBreaker per (type,id) pair, created
// lazily on first use.
type Breaker struct {
	log zerolog.Logger

	mu sync.Mutex
	cb map[string]*gobreaker.CircuitBreaker[struct{}]
}

// New builds an empty Breaker registry.
func New(log zerolog.Logger) *Breaker {
	return &Breaker{
		log: log,
		cb:  make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

func key(statType, id string) string {
	return statType + "\x00" + id
}

func (b *Breaker) get(statType, id string) *gobreaker.CircuitBreaker[struct{}] {
	k := key(statType, id)

	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.cb[k]; ok {
		return cb
	}

	name := statType + ":" + id
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings[struct{}]{
		Name: name,
		// Interval left at zero: do not reset consecutive-failure counts
		// on an interval while the breaker is closed, only on success.
		Timeout: resetWindow,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.log.Warn().Str("breaker", name).Str("from", stateString(from)).Str("to", stateString(to)).Msg("circuit state changed")
		},
	})
	b.cb[k] = cb
	return cb
}

// IsAvailable reports whether the instance's circuit is currently closed
// (or half-open, i.e. eligible for a probe request).
func (b *Breaker) IsAvailable(statType, id string) bool {
	cb := b.get(statType, id)
	return cb.State() != gobreaker.StateOpen
}

// RecordSuccess executes a trivial no-op call through the breaker so its
// internal counters reset. A success must clear `failures` to 0 and
// `open` to false immediately (spec.md §8 property 5) even if the circuit
// is currently open — gobreaker only transitions out of StateOpen after
// its Timeout elapses, so an open circuit is rebuilt fresh (closed, zero
// counts) rather than asked to "recover" through Execute.
func (b *Breaker) RecordSuccess(statType, id string) {
	k := key(statType, id)

	b.mu.Lock()
	if cb, ok := b.cb[k]; ok && cb.State() == gobreaker.StateOpen {
		delete(b.cb, k)
	}
	b.mu.Unlock()

	cb := b.get(statType, id)
	_, _ = cb.Execute(func() (struct{}, error) { return struct{}{}, nil })
}

// RecordFailure executes a call that always fails through the breaker,
// incrementing its consecutive-failure counter and tripping it once the
// threshold is reached.
func (b *Breaker) RecordFailure(statType, id string) {
	cb := b.get(statType, id)
	_, _ = cb.Execute(func() (struct{}, error) { return struct{}{}, errSentinel })
}

var errSentinel = sentinelErr("recorded failure")

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

func stateString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
