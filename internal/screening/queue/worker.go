package queue

import (
	"context"
	"errors"
	"fmt"

	"jobsieve/internal/core/domain"
	"jobsieve/internal/infra/notify"
	"jobsieve/internal/screening/gateway"
	"jobsieve/internal/screening/metrics"
)

// processPosting runs one posting through the screening pathway. Failures
// are mapped to a status here and never escape the worker.
func (q *Queue) processPosting(ctx context.Context, id string) {
	// 1. Fetch the record; it may have been deleted or moved on since
	// enqueue time.
	p, err := q.cfg.Postings.FindByID(ctx, id)
	if err != nil {
		q.cfg.Logger.Error("failed to load posting", "posting_id", id, "error", err)
		return
	}
	if p == nil {
		q.cfg.Logger.Debug("posting gone before processing", "posting_id", id)
		return
	}
	if p.Status != domain.StatusQueued && p.Status != domain.StatusNew {
		q.cfg.Logger.Debug("posting moved on since enqueue",
			"posting_id", id, "status", string(p.Status))
		return
	}

	// 2. Cache fast path, reconciling a stale entry against the store.
	if q.cfg.Cache.Contains(id) {
		result, err := q.cfg.Analyses.FindByPostingID(ctx, id)
		if err != nil {
			q.cfg.Logger.Error("failed to load stored analysis", "posting_id", id, "error", err)
			q.updateStatus(ctx, id, domain.StatusSkipped, "store lookup failed")
			metrics.PostingsProcessed.WithLabelValues("skipped").Inc()
			return
		}
		if result == nil {
			q.cfg.Cache.Remove(id)
			q.cfg.Logger.Warn("dropped cache entry with no stored analysis", "posting_id", id)
		} else {
			q.reconcileProcessed(ctx, p, result)
			return
		}
	}

	// 3. No external calls while paused; the sweep reclaims skipped items.
	if q.cfg.Gate.Paused() {
		q.updateStatus(ctx, id, domain.StatusSkipped, "processing paused")
		metrics.PostingsProcessed.WithLabelValues("skipped").Inc()
		return
	}

	// 4. An open breaker with calls still draining is worth a bounded wait;
	// a success among them closes it.
	if q.cfg.Analyzer.BreakerState() == gateway.BreakerOpen {
		if q.cfg.Analyzer.InFlight() > 0 {
			q.waitForBreaker(ctx)
		}
		if q.cfg.Analyzer.BreakerState() == gateway.BreakerOpen {
			q.updateStatus(ctx, id, domain.StatusSkipped, "circuit open")
			metrics.PostingsProcessed.WithLabelValues("skipped").Inc()
			return
		}
	}

	if err := q.updateStatus(ctx, id, domain.StatusAnalyzing, "picked by worker"); err != nil {
		return
	}

	// 5. Analyze; the gateway persists the result before returning it.
	result, err := q.cfg.Analyzer.Analyze(ctx, p)
	if err != nil {
		q.handleAnalyzeFailure(ctx, p, err)
		return
	}

	q.finishAnalyzed(ctx, p, result, true)
}

// reconcileProcessed settles a posting that already has a stored result
// without calling the classifier, and without re-notifying.
func (q *Queue) reconcileProcessed(ctx context.Context, p *domain.Posting, result *domain.AnalysisResult) {
	q.cfg.Logger.Info("reconciling posting with stored analysis",
		"posting_id", p.ID, "acceptable", result.Acceptable)
	q.finishAnalyzed(ctx, p, result, false)
}

// finishAnalyzed applies the verdict: status, cache mark, and for accepted
// fresh results the notification handoff.
func (q *Queue) finishAnalyzed(ctx context.Context, p *domain.Posting, result *domain.AnalysisResult, fresh bool) {
	q.cfg.Cache.MarkProcessed(p.ID)

	if !result.Acceptable {
		q.updateStatus(ctx, p.ID, domain.StatusNotSuitable,
			fmt.Sprintf("score %.2f, not acceptable", result.Score))
		metrics.PostingsProcessed.WithLabelValues("not_suitable").Inc()
		return
	}

	if err := q.updateStatus(ctx, p.ID, domain.StatusAnalyzed,
		fmt.Sprintf("score %.2f", result.Score)); err != nil {
		return
	}
	metrics.PostingsProcessed.WithLabelValues("analyzed").Inc()

	if !fresh || q.cfg.Notifier == nil {
		return
	}

	msg := notify.Message{
		PostingID: p.ID,
		Name:      p.Name,
		Score:     result.Score,
		Reasoning: result.Reasoning,
		Tags:      result.Tags,
	}
	if err := q.cfg.Notifier.Send(ctx, msg); err != nil {
		// Delivery failure leaves the posting analyzed; it is never
		// retried inline.
		q.cfg.Logger.Warn("notification failed", "posting_id", p.ID, "error", err)
		metrics.Notifications.WithLabelValues("error").Inc()
		return
	}
	metrics.Notifications.WithLabelValues("sent").Inc()
	q.updateStatus(ctx, p.ID, domain.StatusSentToUser, "notified")
}

// handleAnalyzeFailure maps a gateway failure onto the record's status.
func (q *Queue) handleAnalyzeFailure(ctx context.Context, p *domain.Posting, err error) {
	var parseErr *domain.ParseError

	switch {
	case errors.Is(err, domain.ErrNotFound):
		q.updateStatus(ctx, p.ID, domain.StatusInArchive, "source record gone")
		metrics.PostingsProcessed.WithLabelValues("archived").Inc()

	case errors.Is(err, domain.ErrPreFilterRejected):
		q.cfg.Logger.Info("pre-filter rejected posting", "posting_id", p.ID, "reason", err)
		if derr := q.cfg.Postings.Delete(ctx, p.ID); derr != nil {
			q.cfg.Logger.Error("failed to delete rejected posting", "posting_id", p.ID, "error", derr)
			q.updateStatus(ctx, p.ID, domain.StatusSkipped, "delete failed")
			metrics.PostingsProcessed.WithLabelValues("skipped").Inc()
			return
		}
		q.cfg.Cache.Remove(p.ID)
		metrics.PostingsProcessed.WithLabelValues("deleted").Inc()

	case errors.Is(err, domain.ErrRateLimited):
		q.updateStatus(ctx, p.ID, domain.StatusSkipped, "rate limited")
		metrics.PostingsProcessed.WithLabelValues("skipped").Inc()

	case errors.Is(err, domain.ErrCircuitOpen):
		q.updateStatus(ctx, p.ID, domain.StatusSkipped, "circuit open")
		metrics.PostingsProcessed.WithLabelValues("skipped").Inc()

	case errors.As(err, &parseErr):
		q.cfg.Logger.Error("classifier reply unusable", "posting_id", p.ID, "error", err)
		q.updateStatus(ctx, p.ID, domain.StatusFailed, "unparseable classifier reply")
		metrics.PostingsProcessed.WithLabelValues("failed").Inc()

	default:
		q.cfg.Logger.Error("analysis failed", "posting_id", p.ID, "error", err)
		q.updateStatus(ctx, p.ID, domain.StatusSkipped, "unexpected failure")
		metrics.PostingsProcessed.WithLabelValues("skipped").Inc()
	}
}

// updateStatus applies a transition and logs instead of propagating; the
// caller decides whether to carry on.
func (q *Queue) updateStatus(ctx context.Context, id string, next domain.Status, reason string) error {
	if err := q.cfg.Status.Update(ctx, id, next, reason); err != nil {
		q.cfg.Logger.Error("status update failed",
			"posting_id", id, "target", string(next), "error", err)
		return err
	}
	return nil
}
