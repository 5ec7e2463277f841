package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"jobsieve/internal/core/domain"
	"jobsieve/internal/infra/storage"
)

// ErrRecordGone is returned when the posting to update no longer exists.
var ErrRecordGone = errors.New("posting record gone")

// Manager handles posting status updates with state machine enforcement.
// It holds no per-posting memory between calls, so callers (workers, the
// recovery sweep) may invoke it concurrently for the same identifier; the
// store's version check arbitrates.
type Manager interface {
	// Update moves a posting to a new status. It no-ops when the posting is
	// already there, rejects transitions outside the table, and writes under
	// the optimistic version token with exactly one retry on conflict.
	Update(ctx context.Context, id string, next domain.Status, reason string) error

	// SetTransitionCallback registers a callback fired after every
	// successful transition.
	SetTransitionCallback(fn func(id string, t Transition))
}

// DefaultManager implements Manager over a posting repository.
type DefaultManager struct {
	repo   storage.PostingRepository
	logger *slog.Logger

	mu       sync.RWMutex
	callback func(string, Transition)
}

// NewManager creates a status manager.
func NewManager(repo storage.PostingRepository, logger *slog.Logger) *DefaultManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultManager{repo: repo, logger: logger}
}

// SetTransitionCallback registers a callback for successful transitions.
func (m *DefaultManager) SetTransitionCallback(fn func(string, Transition)) {
	m.mu.Lock()
	m.callback = fn
	m.mu.Unlock()
}

// Update moves a posting to a new status under the version token.
func (m *DefaultManager) Update(
	ctx context.Context,
	id string,
	next domain.Status,
	reason string,
) error {
	transition, err := m.writeOnce(ctx, id, next, reason)
	if err == nil {
		if transition != nil {
			m.fireCallback(id, *transition)
		}
		return nil
	}
	if !errors.Is(err, domain.ErrOptimisticConflict) {
		return err
	}

	// Lost to a concurrent writer: re-read once and retry the write exactly
	// once. A second conflict propagates.
	m.logger.Debug("status write conflict, retrying", "posting_id", id, "to", next)
	transition, err = m.writeOnce(ctx, id, next, reason)
	if err != nil {
		if errors.Is(err, domain.ErrOptimisticConflict) {
			return fmt.Errorf("status update for %s to %s lost twice: %w", id, next, err)
		}
		return err
	}
	if transition != nil {
		m.fireCallback(id, *transition)
	}
	return nil
}

// writeOnce performs one read-validate-write pass. It returns a nil
// transition when the update was a no-op.
func (m *DefaultManager) writeOnce(
	ctx context.Context,
	id string,
	next domain.Status,
	reason string,
) (*Transition, error) {
	p, err := m.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read posting %s: %w", id, err)
	}
	if p == nil {
		return nil, fmt.Errorf("posting %s: %w", id, ErrRecordGone)
	}

	if p.Status == next {
		return nil, nil
	}

	if !CanTransition(p.Status, next) {
		return nil, fmt.Errorf(
			"%w: cannot transition %s from %s to %s",
			ErrInvalidTransition, id, p.Status, next,
		)
	}

	transition := NewTransition(p.Status, next, reason)
	p.Status = next
	p.StatusChangedAt = time.Now()

	if err := m.repo.Save(ctx, p); err != nil {
		if errors.Is(err, domain.ErrOptimisticConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to save posting %s: %w", id, err)
	}
	return &transition, nil
}

func (m *DefaultManager) fireCallback(id string, t Transition) {
	m.mu.RLock()
	fn := m.callback
	m.mu.RUnlock()
	if fn != nil {
		fn(id, t)
	}
}
