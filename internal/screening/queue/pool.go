package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"jobsieve/internal/core/domain"
	"jobsieve/internal/core/status"
	"jobsieve/internal/infra/notify"
	"jobsieve/internal/infra/storage"
	"jobsieve/internal/screening/cache"
	"jobsieve/internal/screening/gate"
	"jobsieve/internal/screening/gateway"
	"jobsieve/internal/screening/metrics"
)

// Analyzer is the gateway surface the workers need.
type Analyzer interface {
	Analyze(ctx context.Context, p *domain.Posting) (*domain.AnalysisResult, error)
	BreakerState() gateway.BreakerState
	InFlight() int
}

// Config holds queue configuration and collaborators.
type Config struct {
	Postings storage.PostingRepository
	Analyses storage.AnalysisRepository
	Cache    cache.Cache
	Status   status.Manager
	Analyzer Analyzer
	Gate     *gate.Gate
	Notifier notify.Notifier
	Logger   *slog.Logger

	MaxConcurrent int           // worker goroutines
	DrainTimeout  time.Duration // max wait for an open breaker to drain
}

// Queue is the deduplicated priority queue plus its worker pool. A single
// dispatcher feeds the highest-priority posting to whichever worker is free.
type Queue struct {
	cfg Config

	mu       sync.Mutex
	heap     priorityHeap
	queued   map[string]struct{}
	inflight map[string]struct{}

	wakeup  chan struct{}
	work    chan string
	stop    chan struct{}
	running atomic.Bool
	wg      sync.WaitGroup
}

func New(cfg Config) *Queue {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	return &Queue{
		cfg:      cfg,
		queued:   make(map[string]struct{}),
		inflight: make(map[string]struct{}),
		wakeup:   make(chan struct{}, 1),
		work:     make(chan string),
		stop:     make(chan struct{}),
	}
}

// Start launches the dispatcher and the worker pool.
func (q *Queue) Start(ctx context.Context) error {
	if !q.running.CompareAndSwap(false, true) {
		return fmt.Errorf("queue already running")
	}

	for i := 0; i < q.cfg.MaxConcurrent; i++ {
		q.wg.Add(1)
		go q.runWorker(ctx)
	}

	q.wg.Add(1)
	go q.dispatch(ctx)

	q.cfg.Logger.Info("queue started", "max_concurrent", q.cfg.MaxConcurrent)
	return nil
}

// Stop halts intake, waits (bounded by ctx) for workers to finish their
// current posting, then transitions everything still tracked to skipped so
// the recovery sweep can reclaim it.
func (q *Queue) Stop(ctx context.Context) error {
	if !q.running.CompareAndSwap(true, false) {
		return nil
	}
	close(q.stop)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	var timedOut bool
	select {
	case <-done:
	case <-ctx.Done():
		timedOut = true
		q.cfg.Logger.Warn("queue stop gave up waiting for in-flight workers")
	}

	// Parking must survive an exhausted shutdown context or the records
	// stay claimed until the next startup restore.
	parkCtx := context.WithoutCancel(ctx)
	drained := q.popAll()
	if timedOut {
		drained = append(drained, q.inflightIDs()...)
	}
	for _, id := range drained {
		if err := q.cfg.Status.Update(parkCtx, id, domain.StatusSkipped, "shutdown drain"); err != nil {
			q.cfg.Logger.Error("failed to park posting at shutdown", "posting_id", id, "error", err)
		}
	}
	if len(drained) > 0 {
		q.cfg.Logger.Info("queue drained at shutdown", "parked", len(drained))
	}
	if timedOut {
		return ctx.Err()
	}
	return nil
}

// inflightIDs snapshots the in-flight set; only consulted when the bounded
// worker wait expired.
func (q *Queue) inflightIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.inflight))
	for id := range q.inflight {
		ids = append(ids, id)
	}
	return ids
}

// dispatch pops by priority and hands ids to the pool one at a time. It is
// the only sender on the work channel and closes it on exit, which is how
// the workers learn to wind down.
func (q *Queue) dispatch(ctx context.Context) {
	defer q.wg.Done()
	defer close(q.work)

	for {
		id, ok := q.tryPop()
		if !ok {
			select {
			case <-q.stop:
				return
			case <-ctx.Done():
				return
			case <-q.wakeup:
				continue
			}
		}

		select {
		case q.work <- id:
		case <-q.stop:
			q.abandon(ctx, id)
			return
		case <-ctx.Done():
			q.abandon(ctx, id)
			return
		}
	}
}

// abandon parks a popped-but-undelivered id as skipped. The write runs on a
// detached context because the run context may be what triggered the exit.
func (q *Queue) abandon(ctx context.Context, id string) {
	q.markDone(id)
	if err := q.cfg.Status.Update(context.WithoutCancel(ctx), id, domain.StatusSkipped, "shutdown drain"); err != nil {
		q.cfg.Logger.Error("failed to park posting at shutdown", "posting_id", id, "error", err)
	}
}

// runWorker processes ids until the dispatcher closes the work channel, so
// an item already handed off is always finished before shutdown completes.
func (q *Queue) runWorker(ctx context.Context) {
	defer q.wg.Done()

	for id := range q.work {
		metrics.InflightWorkers.Inc()
		q.processPosting(ctx, id)
		metrics.InflightWorkers.Dec()
		q.markDone(id)
	}
}

// waitForBreaker blocks until the breaker leaves open, the drain timeout
// passes, or shutdown begins. An in-flight call succeeding closes the
// breaker, which is what makes the wait worth it.
func (q *Queue) waitForBreaker(ctx context.Context) {
	deadline := time.NewTimer(q.cfg.DrainTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case <-deadline.C:
			return
		case <-tick.C:
			if q.cfg.Analyzer.BreakerState() != gateway.BreakerOpen {
				return
			}
		}
	}
}
