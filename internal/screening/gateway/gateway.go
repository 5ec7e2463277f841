package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"jobsieve/internal/core/domain"
	"jobsieve/internal/infra/classifier"
	"jobsieve/internal/infra/storage"
	"jobsieve/internal/screening/metrics"
	"jobsieve/internal/screening/prefilter"
)

// Config wires the gateway's collaborators and tuning knobs.
type Config struct {
	Classifier classifier.Classifier
	Analyses   storage.AnalysisRepository
	Filter     *prefilter.Filter
	Profile    domain.Profile
	Logger     *slog.Logger

	Threshold        float64       // acceptability cutoff when the model omits the flag
	MaxAttempts      int           // classifier attempts per posting
	InitialBackoff   time.Duration // first retry delay
	FailureThreshold int           // consecutive failures before the breaker opens
	Cooldown         time.Duration // open-state hold time
}

// Gateway is the single path to the external classifier. It layers an
// idempotence check, the local pre-filter, a circuit breaker and a bounded
// retry policy around each call, and owns persisting the result.
type Gateway struct {
	classifier classifier.Classifier
	analyses   storage.AnalysisRepository
	filter     *prefilter.Filter
	breaker    *Breaker
	profile    domain.Profile
	logger     *slog.Logger

	threshold      float64
	maxAttempts    int
	initialBackoff time.Duration

	inflight atomic.Int64
}

func New(cfg Config) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.6
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 2 * time.Second
	}
	return &Gateway{
		classifier:     cfg.Classifier,
		analyses:       cfg.Analyses,
		filter:         cfg.Filter,
		breaker:        NewBreaker(cfg.FailureThreshold, cfg.Cooldown, cfg.Logger),
		profile:        cfg.Profile,
		logger:         cfg.Logger,
		threshold:      cfg.Threshold,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
	}
}

// Analyze runs one posting through the analysis pathway and returns the
// persisted result. An already-stored result is returned without any
// external call.
func (g *Gateway) Analyze(ctx context.Context, posting *domain.Posting) (*domain.AnalysisResult, error) {
	// 1. Idempotence: a stored result short-circuits everything.
	existing, err := g.analyses.FindByPostingID(ctx, posting.ID)
	if err != nil {
		return nil, fmt.Errorf("lookup existing analysis for %s: %w", posting.ID, err)
	}
	if existing != nil {
		g.logger.Debug("analysis already stored, skipping classifier", "posting_id", posting.ID)
		return existing, nil
	}

	// 2. Local pre-filter, before any external call.
	if err := g.filter.Check(posting); err != nil {
		return nil, err
	}

	// 3. Circuit breaker gate.
	if err := g.breaker.Allow(); err != nil {
		return nil, fmt.Errorf("posting %s: %w", posting.ID, err)
	}

	g.inflight.Add(1)
	defer g.inflight.Add(-1)

	// 4. Call with bounded exponential-backoff retries.
	reply, err := g.classifyWithRetry(ctx, buildPostingText(posting), buildProfileText(g.profile))
	if err != nil {
		metrics.ClassifierCalls.WithLabelValues(callResultLabel(err)).Inc()
		if ctx.Err() == nil {
			g.breaker.RecordFailure()
		}
		return nil, fmt.Errorf("classify posting %s: %w", posting.ID, err)
	}
	metrics.ClassifierCalls.WithLabelValues("success").Inc()
	g.breaker.RecordSuccess()

	acceptable := reply.Score >= g.threshold
	if reply.Acceptable != nil {
		acceptable = *reply.Acceptable
	}

	// 5. Persist exactly once; the repository keeps the first write.
	result := &domain.AnalysisResult{
		PostingID:  posting.ID,
		Score:      reply.Score,
		Acceptable: acceptable,
		Reasoning:  reply.Reasoning,
		Tags:       reply.Tags,
		CreatedAt:  time.Now().UTC(),
	}
	if err := g.analyses.Save(ctx, result); err != nil {
		return nil, fmt.Errorf("persist analysis for %s: %w", posting.ID, err)
	}

	return result, nil
}

// InFlight reports how many classifier calls are currently running.
func (g *Gateway) InFlight() int {
	return int(g.inflight.Load())
}

// BreakerState exposes the breaker position for gating decisions elsewhere.
func (g *Gateway) BreakerState() BreakerState {
	return g.breaker.State()
}

func (g *Gateway) classifyWithRetry(ctx context.Context, postingText, profileText string) (*parsedReply, error) {
	backoff := retry.NewExponential(g.initialBackoff)
	backoff = retry.WithCappedDuration(30*time.Second, backoff)
	backoff = retry.WithMaxRetries(uint64(g.maxAttempts-1), backoff)

	var reply *parsedReply
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		start := time.Now()
		raw, cerr := g.classifier.Classify(ctx, postingText, profileText)
		metrics.ClassifierLatency.Observe(time.Since(start).Seconds())
		if cerr != nil {
			return g.mapCallError(ctx, cerr)
		}

		parsed, perr := parseReply(raw)
		if perr != nil {
			g.logger.Warn("unparseable classifier reply, retrying", "error", perr)
			return retry.RetryableError(perr)
		}

		reply = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// mapCallError decides whether a classifier call error is worth retrying
// and tags rate limits with the domain sentinel.
func (g *Gateway) mapCallError(ctx context.Context, cerr error) error {
	var httpErr *classifier.HTTPError
	if errors.As(cerr, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests:
			if httpErr.RetryAfter > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(httpErr.RetryAfter):
				}
			}
			return retry.RetryableError(fmt.Errorf("%w: %v", domain.ErrRateLimited, httpErr))
		case httpErr.StatusCode >= 500:
			return retry.RetryableError(httpErr)
		default:
			// Auth and request errors will not heal on retry.
			return httpErr
		}
	}

	if errors.Is(cerr, context.Canceled) || errors.Is(cerr, context.DeadlineExceeded) {
		return cerr
	}

	// Transport-level flake.
	return retry.RetryableError(cerr)
}

func callResultLabel(err error) string {
	var perr *domain.ParseError
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.As(err, &perr):
		return "parse_error"
	default:
		return "error"
	}
}

func buildPostingText(p *domain.Posting) string {
	return p.Name + "\n\n" + p.Description
}

func buildProfileText(profile domain.Profile) string {
	var b strings.Builder
	if profile.Summary != "" {
		b.WriteString(profile.Summary)
		b.WriteString("\n")
	}
	if len(profile.Skills) > 0 {
		fmt.Fprintf(&b, "Skills: %s", strings.Join(profile.Skills, ", "))
	}
	return strings.TrimSpace(b.String())
}
