package gateway

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"jobsieve/internal/core/domain"
)

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *time.Time) {
	b := NewBreaker(threshold, cooldown, slog.New(slog.NewTextHandler(io.Discard, nil)))
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return current }
	return b, &current
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	if err := b.Allow(); err != nil {
		t.Fatalf("breaker tripped before threshold: %v", err)
	}
	if got := b.State(); got != BreakerClosed {
		t.Fatalf("state = %v, want closed", got)
	}

	b.RecordFailure()
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("state = %v, want open", got)
	}
	if err := b.Allow(); !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("Allow = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_SuccessResetsRun(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if got := b.State(); got != BreakerClosed {
		t.Fatalf("state = %v, want closed after interleaved success", got)
	}
}

func TestBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	b, current := newTestBreaker(1, time.Minute)

	b.RecordFailure()
	if err := b.Allow(); !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("Allow = %v, want ErrCircuitOpen while cooling down", err)
	}

	*current = current.Add(2 * time.Minute)
	if got := b.State(); got != BreakerHalfOpen {
		t.Fatalf("state = %v, want half-open after cooldown", got)
	}

	if err := b.Allow(); err != nil {
		t.Fatalf("first probe rejected: %v", err)
	}
	if err := b.Allow(); !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("second caller admitted during probe: %v", err)
	}
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	b, current := newTestBreaker(1, time.Minute)

	b.RecordFailure()
	*current = current.Add(2 * time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe rejected: %v", err)
	}

	b.RecordSuccess()
	if got := b.State(); got != BreakerClosed {
		t.Fatalf("state = %v, want closed after probe success", got)
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow after close: %v", err)
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	b, current := newTestBreaker(1, time.Minute)

	b.RecordFailure()
	*current = current.Add(2 * time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe rejected: %v", err)
	}

	b.RecordFailure()
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("state = %v, want open after failed probe", got)
	}
	if err := b.Allow(); !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("Allow = %v, want ErrCircuitOpen after reopen", err)
	}
}
