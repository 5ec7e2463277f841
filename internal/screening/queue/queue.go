package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"jobsieve/internal/core/domain"
	"jobsieve/internal/screening/metrics"
)

// item is one queued posting with its ordering keys.
type item struct {
	id          string
	publishedAt time.Time // zero when the posting carries no publication date
	enqueuedAt  time.Time
	index       int
}

// priorityHeap orders freshest publication first; postings without a
// publication date sort last, ties break FIFO on enqueue time.
type priorityHeap []*item

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	if !h[i].publishedAt.Equal(h[j].publishedAt) {
		return h[i].publishedAt.After(h[j].publishedAt)
	}
	return h[i].enqueuedAt.Before(h[j].enqueuedAt)
}

func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *priorityHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

type enqueueOptions struct {
	skipProcessedCheck bool
}

// EnqueueOption tunes a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

// SkipProcessedCheck admits a posting even when the processed cache already
// knows it, for callers that have answered the processed question
// themselves: the batch path checks once in bulk, and the recovery sweep
// deliberately pushes stale-but-analyzed postings through the
// reconciliation path.
func SkipProcessedCheck() EnqueueOption {
	return func(o *enqueueOptions) { o.skipProcessedCheck = true }
}

// Enqueue admits one posting. It reports false without error when the
// posting is already waiting, already being processed, or already analyzed.
// Admission claims the record with a new → queued status transition.
func (q *Queue) Enqueue(ctx context.Context, p *domain.Posting, opts ...EnqueueOption) (bool, error) {
	var o enqueueOptions
	for _, opt := range opts {
		opt(&o)
	}

	// 1. Never double-queue an id.
	q.mu.Lock()
	_, waiting := q.queued[p.ID]
	_, busy := q.inflight[p.ID]
	q.mu.Unlock()
	if waiting || busy {
		return false, nil
	}

	// 2. Skip postings the cache already knows as processed.
	if !o.skipProcessedCheck {
		processed, err := q.cfg.Cache.IsProcessed(ctx, p.ID)
		if err != nil {
			return false, fmt.Errorf("processed check for %s: %w", p.ID, err)
		}
		if processed {
			return false, nil
		}
	}

	// 3. Claim the record. Records already in queued (startup restore)
	// no-op here; anything else invalid is rejected before we hold a slot.
	if err := q.cfg.Status.Update(ctx, p.ID, domain.StatusQueued, "enqueued"); err != nil {
		return false, fmt.Errorf("claim posting %s: %w", p.ID, err)
	}

	// 4. Push, re-checking under the lock in case of a concurrent admit.
	it := &item{id: p.ID, enqueuedAt: time.Now()}
	if p.PublishedAt != nil {
		it.publishedAt = *p.PublishedAt
	}

	q.mu.Lock()
	if _, dup := q.queued[p.ID]; dup {
		q.mu.Unlock()
		return false, nil
	}
	if _, busy := q.inflight[p.ID]; busy {
		q.mu.Unlock()
		return false, nil
	}
	heap.Push(&q.heap, it)
	q.queued[p.ID] = struct{}{}
	q.syncDepthGauge()
	q.mu.Unlock()

	metrics.PostingsEnqueued.Inc()
	q.signal()
	return true, nil
}

// EnqueueBatch admits a slice of postings and returns how many were
// accepted. One batched cache pass partitions out the already-analyzed ids
// up front; the remainder is enqueued with bounded fan-out. Per-posting
// failures are logged, not fatal to the batch.
func (q *Queue) EnqueueBatch(ctx context.Context, postings []*domain.Posting) (int, error) {
	ids := make([]string, len(postings))
	byID := make(map[string]*domain.Posting, len(postings))
	for i, p := range postings {
		ids[i] = p.ID
		byID[p.ID] = p
	}

	unprocessed, err := q.cfg.Cache.FilterUnprocessed(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("batch processed check: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	var accepted atomic.Int64
	for _, id := range unprocessed {
		p := byID[id]
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Processed already answered by the batched pass above.
			ok, err := q.Enqueue(ctx, p, SkipProcessedCheck())
			if err != nil {
				q.cfg.Logger.Warn("batch enqueue rejected posting", "posting_id", p.ID, "error", err)
				return nil
			}
			if ok {
				accepted.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(accepted.Load()), err
	}
	return int(accepted.Load()), nil
}

// Size reports how many postings are waiting or in flight.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap) + len(q.inflight)
}

// IsEmpty reports whether nothing is waiting and nothing is in flight.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap) == 0 && len(q.inflight) == 0
}

// tryPop moves the highest-priority id from waiting to in-flight.
func (q *Queue) tryPop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return "", false
	}
	it := heap.Pop(&q.heap).(*item)
	delete(q.queued, it.id)
	q.inflight[it.id] = struct{}{}
	return it.id, true
}

// markDone releases an id from the in-flight set.
func (q *Queue) markDone(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, id)
	q.syncDepthGauge()
}

// popAll empties the waiting heap and returns the ids, used at shutdown.
func (q *Queue) popAll() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.heap))
	for len(q.heap) > 0 {
		it := heap.Pop(&q.heap).(*item)
		delete(q.queued, it.id)
		ids = append(ids, it.id)
	}
	q.syncDepthGauge()
	return ids
}

// syncDepthGauge refreshes the depth metric; caller holds q.mu.
func (q *Queue) syncDepthGauge() {
	metrics.QueueDepth.Set(float64(len(q.heap) + len(q.inflight)))
}

// signal wakes the dispatcher without blocking.
func (q *Queue) signal() {
	select {
	case q.wakeup <- struct{}{}:
	default:
	}
}
