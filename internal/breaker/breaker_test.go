package breaker

import (
	"testing"

	"github.com/rs/zerolog"
)

func newTestBreaker() *Breaker {
	return New(zerolog.Nop())
}

func TestOpensAfterFiveConsecutiveFailures(t *testing.T) {
	b := newTestBreaker()
	for i := 0; i < 4; i++ {
		b.RecordFailure("proxy", "wg-1")
	}
	if !b.IsAvailable("proxy", "wg-1") {
		t.Fatalf("expected circuit still closed after 4 failures")
	}
	b.RecordFailure("proxy", "wg-1")
	if b.IsAvailable("proxy", "wg-1") {
		t.Fatalf("expected circuit open after 5 consecutive failures")
	}
}

func TestSuccessClosesCircuitImmediately(t *testing.T) {
	b := newTestBreaker()
	for i := 0; i < 5; i++ {
		b.RecordFailure("proxy", "wg-1")
	}
	if b.IsAvailable("proxy", "wg-1") {
		t.Fatalf("precondition: expected circuit open")
	}
	b.RecordSuccess("proxy", "wg-1")
	if !b.IsAvailable("proxy", "wg-1") {
		t.Fatalf("expected circuit closed immediately after success")
	}
}

func TestIndependentPerInstance(t *testing.T) {
	b := newTestBreaker()
	for i := 0; i < 5; i++ {
		b.RecordFailure("proxy", "wg-1")
	}
	if !b.IsAvailable("proxy", "wg-2") {
		t.Fatalf("expected a different instance's circuit to remain closed")
	}
}
