package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"jobsieve/internal/core/domain"
	"jobsieve/internal/core/status"
	"jobsieve/internal/infra/source"
	"jobsieve/internal/infra/storage"
	"jobsieve/internal/screening/cache"
	"jobsieve/internal/screening/gate"
	"jobsieve/internal/screening/gateway"
	"jobsieve/internal/screening/metrics"
	"jobsieve/internal/screening/prefilter"
	"jobsieve/internal/screening/queue"
)

// Requeuer is the queue surface the sweep needs.
type Requeuer interface {
	Enqueue(ctx context.Context, p *domain.Posting, opts ...queue.EnqueueOption) (bool, error)
	IsEmpty() bool
}

// Config holds sweeper configuration and collaborators.
type Config struct {
	Postings storage.PostingRepository
	Analyses storage.AnalysisRepository
	Cache    cache.Cache
	Status   status.Manager
	Filter   *prefilter.Filter
	Queue    Requeuer
	Gate     *gate.Gate
	Checker  source.ExistenceChecker
	Logger   *slog.Logger

	// BreakerState probes the gateway breaker; the sweep never runs while
	// it is open.
	BreakerState func() gateway.BreakerState

	Interval    time.Duration
	RetryWindow time.Duration // age boundary between the fresh and stale tiers
}

// Sweeper periodically reclaims postings parked in skipped or failed.
type Sweeper struct {
	cfg       Config
	running   atomic.Bool
	lastSweep atomic.Int64 // unix nanos of the most recent sweep attempt
	stop      chan struct{}
	wg        sync.WaitGroup
}

func New(cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.RetryWindow <= 0 {
		cfg.RetryWindow = 48 * time.Hour
	}
	return &Sweeper{
		cfg:  cfg,
		stop: make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("sweeper already running")
	}

	s.wg.Add(1)
	go s.run(ctx)

	s.cfg.Logger.Info("recovery sweeper started",
		"interval", s.cfg.Interval.String(),
		"retry_window", s.cfg.RetryWindow.String(),
	)
	return nil
}

// Stop ends the loop; a sweep already underway finishes first.
func (s *Sweeper) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.stop)
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// LastSweep reports when the sweep loop last woke up, zero before the first
// attempt. Postponed sweeps count; the signal is loop liveness, and a
// deliberate pause should not read as a stalled sweeper.
func (s *Sweeper) LastSweep() time.Time {
	ns := s.lastSweep.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Sweep runs one recovery pass over every recoverable posting. It backs off
// entirely while processing is paused, the breaker is open, or the queue
// still has work, so recovery never competes with fresh intake.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.lastSweep.Store(time.Now().UnixNano())

	switch {
	case s.cfg.Gate.Paused():
		s.cfg.Logger.Debug("sweep postponed, processing paused")
		return
	case s.cfg.BreakerState() == gateway.BreakerOpen:
		s.cfg.Logger.Debug("sweep postponed, circuit open")
		return
	case !s.cfg.Queue.IsEmpty():
		s.cfg.Logger.Debug("sweep postponed, queue busy")
		return
	}

	logger := s.cfg.Logger.With("sweep_id", uuid.NewString())
	metrics.RecoverySweeps.Inc()

	now := time.Now()
	examined := 0
	byAction := make(map[string]int)

	for _, st := range []domain.Status{domain.StatusSkipped, domain.StatusFailed} {
		postings, err := s.cfg.Postings.FindByStatus(ctx, st)
		if err != nil {
			logger.Error("failed to list recoverable postings",
				"status", string(st), "error", err)
			continue
		}

		for _, p := range postings {
			if ctx.Err() != nil {
				return
			}
			examined++
			action, err := s.sweepOne(ctx, logger, p, now)
			if err != nil {
				logger.Error("sweep action failed", "posting_id", p.ID, "error", err)
				continue
			}
			metrics.RecoveryActions.WithLabelValues(action).Inc()
			byAction[action]++
		}
	}

	logger.Info("recovery sweep finished",
		"examined", examined,
		"requeued", byAction["requeued"],
		"deleted", byAction["deleted"],
		"not_suitable", byAction["not_suitable"],
		"archived", byAction["archived"],
		"left", byAction["left"],
	)
}

// sweepOne resolves a single parked posting and names the action taken.
func (s *Sweeper) sweepOne(ctx context.Context, logger *slog.Logger, p *domain.Posting, now time.Time) (string, error) {
	// The profile may have changed since the posting was stored; a posting
	// the pre-filter rejects today is not worth keeping in any tier.
	if err := s.cfg.Filter.Check(p); err != nil {
		if !errors.Is(err, domain.ErrPreFilterRejected) {
			return "", err
		}
		logger.Info("deleting posting rejected by pre-filter", "posting_id", p.ID, "reason", err)
		return s.purge(ctx, p.ID)
	}

	result, err := s.cfg.Analyses.FindByPostingID(ctx, p.ID)
	if err != nil {
		return "", fmt.Errorf("load analysis for %s: %w", p.ID, err)
	}

	if now.Sub(p.StatusChangedAt) <= s.cfg.RetryWindow {
		// Fresh tier: optimistic retry, but a posting already judged not
		// acceptable stays parked rather than looping through the queue.
		if result != nil && !result.Acceptable {
			return "left", nil
		}
		return s.requeue(ctx, logger, p)
	}

	// Stale tier: resolve definitively.
	if result != nil {
		if !result.Acceptable {
			if err := s.cfg.Status.Update(ctx, p.ID, domain.StatusNotSuitable, "stale, analysis not acceptable"); err != nil {
				return "", err
			}
			s.cfg.Cache.MarkProcessed(p.ID)
			return "not_suitable", nil
		}
		return s.requeue(ctx, logger, p)
	}

	exists, err := s.cfg.Checker.Exists(ctx, p.ID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			if uerr := s.cfg.Status.Update(ctx, p.ID, domain.StatusInArchive, "source record gone"); uerr != nil {
				return "", uerr
			}
			return "archived", nil
		case errors.Is(err, domain.ErrRateLimited):
			logger.Debug("existence check rate limited, leaving for next sweep", "posting_id", p.ID)
			return "left", nil
		default:
			return "", fmt.Errorf("existence check for %s: %w", p.ID, err)
		}
	}
	if !exists {
		if uerr := s.cfg.Status.Update(ctx, p.ID, domain.StatusInArchive, "source record gone"); uerr != nil {
			return "", uerr
		}
		return "archived", nil
	}
	return s.requeue(ctx, logger, p)
}

// purge drops the record and every trace of it.
func (s *Sweeper) purge(ctx context.Context, id string) (string, error) {
	if err := s.cfg.Postings.Delete(ctx, id); err != nil {
		return "", err
	}
	if err := s.cfg.Analyses.Delete(ctx, id); err != nil {
		return "", err
	}
	s.cfg.Cache.Remove(id)
	return "deleted", nil
}

// requeue resets the posting to new and re-admits it. The processed check
// is skipped because the sweep has already decided the posting deserves
// another pass; the worker reconciles any stored result.
func (s *Sweeper) requeue(ctx context.Context, logger *slog.Logger, p *domain.Posting) (string, error) {
	if err := s.cfg.Status.Update(ctx, p.ID, domain.StatusNew, "recovery requeue"); err != nil {
		return "", err
	}

	fresh, err := s.cfg.Postings.FindByID(ctx, p.ID)
	if err != nil {
		return "", err
	}
	if fresh == nil {
		return "left", nil
	}

	ok, err := s.cfg.Queue.Enqueue(ctx, fresh, queue.SkipProcessedCheck())
	if err != nil {
		return "", err
	}
	if !ok {
		return "left", nil
	}
	logger.Info("requeued posting", "posting_id", p.ID)
	return "requeued", nil
}
