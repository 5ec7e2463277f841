package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"jobsieve/internal/core/domain"
	"jobsieve/internal/infra/classifier"
	"jobsieve/internal/screening/prefilter"
)

// ============================================================================
// Mocks
// ============================================================================

type scriptedCall struct {
	reply string
	err   error
}

// mockClassifier replays a script of replies; the last entry repeats.
type mockClassifier struct {
	mu     sync.Mutex
	script []scriptedCall
	calls  int
}

func (m *mockClassifier) Classify(_ context.Context, _, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.script) == 0 {
		return "", errors.New("no scripted reply")
	}
	i := m.calls
	m.calls++
	if i >= len(m.script) {
		i = len(m.script) - 1
	}
	return m.script[i].reply, m.script[i].err
}

func (m *mockClassifier) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockAnalysisRepo struct {
	mu        sync.Mutex
	results   map[string]*domain.AnalysisResult
	saveCalls int
}

func newMockAnalysisRepo() *mockAnalysisRepo {
	return &mockAnalysisRepo{results: make(map[string]*domain.AnalysisResult)}
}

func (m *mockAnalysisRepo) Save(_ context.Context, r *domain.AnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCalls++
	if _, ok := m.results[r.PostingID]; ok {
		return nil
	}
	m.results[r.PostingID] = r
	return nil
}

func (m *mockAnalysisRepo) FindByPostingID(_ context.Context, postingID string) (*domain.AnalysisResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results[postingID], nil
}

func (m *mockAnalysisRepo) ListPostingIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.results))
	for id := range m.results {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *mockAnalysisRepo) FilterAnalyzed(_ context.Context, ids []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		_, out[id] = m.results[id]
	}
	return out, nil
}

func (m *mockAnalysisRepo) Delete(_ context.Context, postingID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.results, postingID)
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

func testProfile() domain.Profile {
	return domain.Profile{
		Skills:          []string{"go", "postgres"},
		Summary:         "Backend engineer, distributed systems.",
		ExcludeKeywords: []string{"crypto"},
	}
}

func testPosting(id string) *domain.Posting {
	return &domain.Posting{
		ID:          id,
		Name:        "Backend Engineer",
		Description: "Build services in Go with Postgres.",
		Status:      domain.StatusAnalyzing,
		Version:     1,
	}
}

func newTestGateway(mc *mockClassifier, repo *mockAnalysisRepo) *Gateway {
	profile := testProfile()
	return New(Config{
		Classifier:       mc,
		Analyses:         repo,
		Filter:           prefilter.New(profile, 1),
		Profile:          profile,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		Threshold:        0.6,
		MaxAttempts:      2,
		InitialBackoff:   time.Millisecond,
		FailureThreshold: 3,
		Cooldown:         time.Hour,
	})
}

// ============================================================================
// Tests
// ============================================================================

func TestAnalyze_Success(t *testing.T) {
	mc := &mockClassifier{script: []scriptedCall{
		{reply: "Assessment:\n```json\n{\"score\": 0.8, \"acceptable\": true, \"reasoning\": \"solid\", \"tags\": [\"go\"]}\n```"},
	}}
	repo := newMockAnalysisRepo()
	g := newTestGateway(mc, repo)

	result, err := g.Analyze(context.Background(), testPosting("job-1"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.Score != 0.8 || !result.Acceptable {
		t.Errorf("result = %+v, want score 0.8 acceptable", result)
	}
	if stored, _ := repo.FindByPostingID(context.Background(), "job-1"); stored == nil {
		t.Error("result was not persisted")
	}
	if got := g.BreakerState(); got != BreakerClosed {
		t.Errorf("breaker = %v, want closed", got)
	}
}

func TestAnalyze_SecondCallSkipsClassifier(t *testing.T) {
	mc := &mockClassifier{script: []scriptedCall{
		{reply: `{"score": 0.7, "acceptable": true, "reasoning": "ok", "tags": []}`},
	}}
	repo := newMockAnalysisRepo()
	g := newTestGateway(mc, repo)

	first, err := g.Analyze(context.Background(), testPosting("job-1"))
	if err != nil {
		t.Fatalf("first Analyze: %v", err)
	}
	second, err := g.Analyze(context.Background(), testPosting("job-1"))
	if err != nil {
		t.Fatalf("second Analyze: %v", err)
	}

	if mc.callCount() != 1 {
		t.Errorf("classifier called %d times, want 1", mc.callCount())
	}
	if second.Score != first.Score {
		t.Errorf("second call returned different result: %+v vs %+v", second, first)
	}
}

func TestAnalyze_PreFilterRejected(t *testing.T) {
	mc := &mockClassifier{}
	repo := newMockAnalysisRepo()
	g := newTestGateway(mc, repo)

	p := testPosting("job-1")
	p.Description = "Exciting crypto exchange role."

	_, err := g.Analyze(context.Background(), p)
	if !errors.Is(err, domain.ErrPreFilterRejected) {
		t.Fatalf("expected ErrPreFilterRejected, got %v", err)
	}
	if mc.callCount() != 0 {
		t.Errorf("classifier called %d times, want 0", mc.callCount())
	}
	if g.BreakerState() != BreakerClosed {
		t.Error("pre-filter rejection must not count as a breaker failure")
	}
}

func TestAnalyze_BreakerOpensAndBlocks(t *testing.T) {
	serverErr := &classifier.HTTPError{StatusCode: http.StatusInternalServerError, Err: errors.New("boom")}
	mc := &mockClassifier{script: []scriptedCall{{err: serverErr}}}
	repo := newMockAnalysisRepo()
	g := newTestGateway(mc, repo)

	for i := 0; i < 3; i++ {
		p := testPosting(fmt.Sprintf("job-%d", i))
		if _, err := g.Analyze(context.Background(), p); err == nil {
			t.Fatalf("call %d: expected failure", i)
		}
	}
	if got := g.BreakerState(); got != BreakerOpen {
		t.Fatalf("breaker = %v, want open after 3 consecutive failures", got)
	}

	callsBefore := mc.callCount()
	_, err := g.Analyze(context.Background(), testPosting("job-z"))
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if mc.callCount() != callsBefore {
		t.Error("classifier was called while the breaker was open")
	}
}

func TestAnalyze_RateLimitedSurfacesSentinel(t *testing.T) {
	mc := &mockClassifier{script: []scriptedCall{
		{err: &classifier.HTTPError{StatusCode: http.StatusTooManyRequests}},
	}}
	repo := newMockAnalysisRepo()
	g := newTestGateway(mc, repo)

	_, err := g.Analyze(context.Background(), testPosting("job-1"))
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if mc.callCount() != 2 {
		t.Errorf("classifier called %d times, want 2 (rate limits are retried)", mc.callCount())
	}
}

func TestAnalyze_ParseErrorAfterRetries(t *testing.T) {
	mc := &mockClassifier{script: []scriptedCall{
		{reply: "I am unable to answer in JSON today."},
	}}
	repo := newMockAnalysisRepo()
	g := newTestGateway(mc, repo)

	_, err := g.Analyze(context.Background(), testPosting("job-1"))
	var perr *domain.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *domain.ParseError, got %v", err)
	}
	if mc.callCount() != 2 {
		t.Errorf("classifier called %d times, want 2", mc.callCount())
	}
	if stored, _ := repo.FindByPostingID(context.Background(), "job-1"); stored != nil {
		t.Error("no result should be persisted on parse failure")
	}
}

func TestAnalyze_RetryRecoversMidway(t *testing.T) {
	mc := &mockClassifier{script: []scriptedCall{
		{reply: "garbage"},
		{reply: `{"score": 0.65, "reasoning": "ok", "tags": []}`},
	}}
	repo := newMockAnalysisRepo()
	g := newTestGateway(mc, repo)

	result, err := g.Analyze(context.Background(), testPosting("job-1"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !result.Acceptable {
		t.Error("score 0.65 over threshold 0.6 should be acceptable when flag omitted")
	}
	if g.BreakerState() != BreakerClosed {
		t.Error("recovered call must not count as a breaker failure")
	}
}

func TestAnalyze_ExplicitAcceptableOverridesThreshold(t *testing.T) {
	mc := &mockClassifier{script: []scriptedCall{
		{reply: `{"score": 0.9, "acceptable": false, "reasoning": "visa sponsorship unavailable", "tags": []}`},
	}}
	repo := newMockAnalysisRepo()
	g := newTestGateway(mc, repo)

	result, err := g.Analyze(context.Background(), testPosting("job-1"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result.Acceptable {
		t.Error("explicit acceptable=false must win over the score threshold")
	}
}
