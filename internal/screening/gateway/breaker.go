package gateway

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"jobsieve/internal/core/domain"
	"jobsieve/internal/screening/metrics"
)

// BreakerState is the circuit breaker position.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerHalfOpen:
		return "half-open"
	case BreakerOpen:
		return "open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Breaker trips after a run of consecutive classifier failures and lets a
// single probe through once the cooldown has passed.
type Breaker struct {
	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool

	failureThreshold int
	cooldown         time.Duration
	logger           *slog.Logger
	now              func() time.Time
}

func NewBreaker(failureThreshold int, cooldown time.Duration, logger *slog.Logger) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &Breaker{
		state:            BreakerClosed,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		logger:           logger,
		now:              time.Now,
	}
}

// Allow reports whether a classifier call may proceed right now. While open
// it returns domain.ErrCircuitOpen until the cooldown elapses, then admits
// exactly one half-open probe at a time.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return domain.ErrCircuitOpen
		}
		b.setState(BreakerHalfOpen)
		b.probing = true
		return nil
	case BreakerHalfOpen:
		if b.probing {
			return domain.ErrCircuitOpen
		}
		b.probing = true
		return nil
	}
	return nil
}

// RecordSuccess resets the failure run and closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probing = false
	if b.state != BreakerClosed {
		b.setState(BreakerClosed)
	}
}

// RecordFailure counts one failed call. A failed half-open probe reopens
// immediately; in closed state the breaker opens once the run reaches the
// threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false

	if b.state == BreakerHalfOpen {
		b.openedAt = b.now()
		b.setState(BreakerOpen)
		return
	}

	b.failures++
	if b.state == BreakerClosed && b.failures >= b.failureThreshold {
		b.openedAt = b.now()
		b.setState(BreakerOpen)
	}
}

// State returns the current position, promoting open to half-open when the
// cooldown has elapsed so readers see the same answer Allow would act on.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// setState must be called with b.mu held.
func (b *Breaker) setState(next BreakerState) {
	prev := b.state
	b.state = next
	metrics.BreakerState.Set(float64(next))
	if b.logger != nil {
		b.logger.Warn("circuit breaker state changed",
			"from", prev.String(),
			"to", next.String(),
			"consecutive_failures", b.failures,
		)
	}
}
