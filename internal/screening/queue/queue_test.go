package queue

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"jobsieve/internal/core/domain"
	"jobsieve/internal/core/status"
	"jobsieve/internal/infra/notify"
	"jobsieve/internal/infra/storage"
	"jobsieve/internal/infra/storage/memory"
	"jobsieve/internal/screening/cache"
	"jobsieve/internal/screening/gate"
	"jobsieve/internal/screening/gateway"
)

// ============================================================================
// Test fixture
// ============================================================================

// stubAnalyzer scripts gateway behavior per posting id and persists results
// the way the real gateway does.
type stubAnalyzer struct {
	mu       sync.Mutex
	analyses storage.AnalysisRepository
	results  map[string]*domain.AnalysisResult
	errs     map[string]error
	calls    []string
	state    gateway.BreakerState
	inflight int
	block    chan struct{}
}

func (s *stubAnalyzer) Analyze(ctx context.Context, p *domain.Posting) (*domain.AnalysisResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, p.ID)
	s.inflight++
	block := s.block
	err := s.errs[p.ID]
	res := s.results[p.ID]
	s.mu.Unlock()

	if block != nil {
		<-block
	}

	s.mu.Lock()
	s.inflight--
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &domain.AnalysisResult{
			PostingID: p.ID, Score: 0.9, Acceptable: true,
			Reasoning: "default stub verdict", CreatedAt: time.Now(),
		}
	}
	if serr := s.analyses.Save(ctx, res); serr != nil {
		return nil, serr
	}
	return res, nil
}

func (s *stubAnalyzer) BreakerState() gateway.BreakerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *stubAnalyzer) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

func (s *stubAnalyzer) callOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (n *captureNotifier) Send(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *captureNotifier) sentIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]string, 0, len(n.sent))
	for _, m := range n.sent {
		ids = append(ids, m.PostingID)
	}
	return ids
}

type fixture struct {
	queue    *Queue
	store    storage.Store
	cache    cache.Cache
	gate     *gate.Gate
	status   status.Manager
	analyzer *stubAnalyzer
	notifier *captureNotifier
}

func newFixture(t *testing.T, maxConcurrent int) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	c := cache.NewMemoryCache(store.Analyses, logger)
	mgr := status.NewManager(store.Postings, logger)
	g := gate.New()

	analyzer := &stubAnalyzer{
		analyses: store.Analyses,
		results:  make(map[string]*domain.AnalysisResult),
		errs:     make(map[string]error),
	}
	notifier := &captureNotifier{}

	q := New(Config{
		Postings:      store.Postings,
		Analyses:      store.Analyses,
		Cache:         c,
		Status:        mgr,
		Analyzer:      analyzer,
		Gate:          g,
		Notifier:      notifier,
		Logger:        logger,
		MaxConcurrent: maxConcurrent,
		DrainTimeout:  200 * time.Millisecond,
	})

	return &fixture{
		queue: q, store: store, cache: c, gate: g,
		status: mgr, analyzer: analyzer, notifier: notifier,
	}
}

func (f *fixture) seed(t *testing.T, id string, published time.Time) *domain.Posting {
	t.Helper()
	p := &domain.Posting{
		ID:          id,
		Name:        "Posting " + id,
		Description: "Backend role using Go.",
		Status:      domain.StatusNew,
	}
	if !published.IsZero() {
		p.PublishedAt = &published
	}
	if err := f.store.Postings.Save(context.Background(), p); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
	return p
}

func (f *fixture) statusOf(t *testing.T, id string) domain.Status {
	t.Helper()
	p, err := f.store.Postings.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load %s: %v", id, err)
	}
	if p == nil {
		t.Fatalf("posting %s gone", id)
	}
	return p.Status
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ============================================================================
// Enqueue semantics
// ============================================================================

func TestEnqueue_DuplicateRejected(t *testing.T) {
	f := newFixture(t, 1)
	p := f.seed(t, "job-1", time.Time{})

	ok, err := f.queue.Enqueue(context.Background(), p)
	if err != nil || !ok {
		t.Fatalf("first enqueue = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = f.queue.Enqueue(context.Background(), p)
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if ok {
		t.Error("duplicate enqueue was admitted")
	}
	if got := f.queue.Size(); got != 1 {
		t.Errorf("Size = %d, want 1", got)
	}
}

func TestEnqueue_ProcessedRejected(t *testing.T) {
	f := newFixture(t, 1)
	p := f.seed(t, "job-1", time.Time{})

	err := f.store.Analyses.Save(context.Background(), &domain.AnalysisResult{
		PostingID: "job-1", Score: 0.4, Acceptable: false, CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("seed analysis: %v", err)
	}

	ok, err := f.queue.Enqueue(context.Background(), p)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if ok {
		t.Error("already-analyzed posting was admitted")
	}

	ok, err = f.queue.Enqueue(context.Background(), p, SkipProcessedCheck())
	if err != nil || !ok {
		t.Fatalf("enqueue with SkipProcessedCheck = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestEnqueue_ConcurrentAdmitsOnce(t *testing.T) {
	f := newFixture(t, 1)
	p := f.seed(t, "job-1", time.Time{})

	var wg sync.WaitGroup
	var admitted sync.Map
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ok, err := f.queue.Enqueue(context.Background(), p)
			if err != nil {
				t.Errorf("enqueue %d: %v", n, err)
				return
			}
			if ok {
				admitted.Store(n, true)
			}
		}(i)
	}
	wg.Wait()

	count := 0
	admitted.Range(func(_, _ any) bool { count++; return true })
	if count != 1 {
		t.Errorf("%d concurrent enqueues admitted, want exactly 1", count)
	}
	if got := f.queue.Size(); got != 1 {
		t.Errorf("Size = %d, want 1", got)
	}
}

func TestEnqueueBatch(t *testing.T) {
	f := newFixture(t, 1)
	a := f.seed(t, "job-a", time.Time{})
	b := f.seed(t, "job-b", time.Time{})
	c := f.seed(t, "job-c", time.Time{})

	accepted, err := f.queue.EnqueueBatch(context.Background(),
		[]*domain.Posting{a, b, c, a})
	if err != nil {
		t.Fatalf("EnqueueBatch: %v", err)
	}
	if accepted != 3 {
		t.Errorf("accepted = %d, want 3 (duplicate dropped)", accepted)
	}
	if got := f.queue.Size(); got != 3 {
		t.Errorf("Size = %d, want 3", got)
	}
}

func TestEnqueueBatch_SkipsAnalyzed(t *testing.T) {
	f := newFixture(t, 1)
	a := f.seed(t, "job-a", time.Time{})
	b := f.seed(t, "job-b", time.Time{})

	err := f.store.Analyses.Save(context.Background(), &domain.AnalysisResult{
		PostingID: "job-a", Score: 0.2, Acceptable: false, CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("seed analysis: %v", err)
	}

	accepted, err := f.queue.EnqueueBatch(context.Background(), []*domain.Posting{a, b})
	if err != nil {
		t.Fatalf("EnqueueBatch: %v", err)
	}
	if accepted != 1 {
		t.Errorf("accepted = %d, want 1 (analyzed posting filtered out)", accepted)
	}
	if got := f.queue.Size(); got != 1 {
		t.Errorf("Size = %d, want 1", got)
	}
	if !f.cache.Contains("job-a") {
		t.Error("batched filter should repair the cache entry for the analyzed posting")
	}
}

// ============================================================================
// Ordering and lifecycle
// ============================================================================

func TestProcessing_FreshestPublicationFirst(t *testing.T) {
	f := newFixture(t, 1)
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	a := f.seed(t, "job-a", base.Add(1*time.Hour))
	b := f.seed(t, "job-b", base)
	c := f.seed(t, "job-c", base.Add(2*time.Hour))

	for _, p := range []*domain.Posting{a, b, c} {
		if ok, err := f.queue.Enqueue(context.Background(), p); err != nil || !ok {
			t.Fatalf("enqueue %s: (%v, %v)", p.ID, ok, err)
		}
	}

	if err := f.queue.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.queue.Stop(context.Background())

	waitFor(t, "all postings processed", func() bool {
		return len(f.analyzer.callOrder()) == 3 && f.queue.IsEmpty()
	})

	got := f.analyzer.callOrder()
	want := []string{"job-c", "job-a", "job-b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call order = %v, want %v", got, want)
		}
	}
}

func TestStart_Twice(t *testing.T) {
	f := newFixture(t, 1)
	if err := f.queue.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.queue.Stop(context.Background())

	if err := f.queue.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
}

func TestSizeAndIsEmpty_CountInflight(t *testing.T) {
	f := newFixture(t, 1)
	f.analyzer.block = make(chan struct{})
	p := f.seed(t, "job-1", time.Time{})

	if ok, err := f.queue.Enqueue(context.Background(), p); err != nil || !ok {
		t.Fatalf("enqueue: (%v, %v)", ok, err)
	}
	if err := f.queue.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.queue.Stop(context.Background())

	waitFor(t, "worker pickup", func() bool { return f.analyzer.InFlight() == 1 })

	if f.queue.Size() != 1 {
		t.Errorf("Size = %d, want 1 while the item is in flight", f.queue.Size())
	}
	if f.queue.IsEmpty() {
		t.Error("IsEmpty must be false while a worker holds an item")
	}

	close(f.analyzer.block)
	waitFor(t, "drain", func() bool { return f.queue.IsEmpty() })

	if f.queue.Size() != 0 {
		t.Errorf("Size = %d after drain, want 0", f.queue.Size())
	}
}

func TestStop_DrainsWaitingToSkipped(t *testing.T) {
	f := newFixture(t, 1)
	f.analyzer.block = make(chan struct{})

	first := f.seed(t, "job-1", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	rest := []*domain.Posting{
		f.seed(t, "job-2", time.Time{}),
		f.seed(t, "job-3", time.Time{}),
	}

	if ok, err := f.queue.Enqueue(context.Background(), first); err != nil || !ok {
		t.Fatalf("enqueue first: (%v, %v)", ok, err)
	}
	if err := f.queue.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "worker pickup", func() bool { return f.analyzer.InFlight() == 1 })

	for _, p := range rest {
		if ok, err := f.queue.Enqueue(context.Background(), p); err != nil || !ok {
			t.Fatalf("enqueue %s: (%v, %v)", p.ID, ok, err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.queue.Stop(context.Background())
	}()

	close(f.analyzer.block)
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}

	// The in-flight posting finished normally.
	if got := f.statusOf(t, "job-1"); got != domain.StatusSentToUser {
		t.Errorf("job-1 status = %s, want %s", got, domain.StatusSentToUser)
	}
	// Everything still waiting was parked for the recovery sweep.
	for _, id := range []string{"job-2", "job-3"} {
		if got := f.statusOf(t, id); got != domain.StatusSkipped {
			t.Errorf("%s status = %s, want %s", id, got, domain.StatusSkipped)
		}
	}
}

func TestStop_TimeoutParksInflight(t *testing.T) {
	f := newFixture(t, 1)
	f.analyzer.block = make(chan struct{})
	p := f.seed(t, "job-1", time.Time{})

	if ok, err := f.queue.Enqueue(context.Background(), p); err != nil || !ok {
		t.Fatalf("enqueue: (%v, %v)", ok, err)
	}
	if err := f.queue.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "worker pickup", func() bool { return f.analyzer.InFlight() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := f.queue.Stop(ctx); err == nil {
		t.Error("Stop should report the expired shutdown deadline")
	}

	// The stuck item was parked rather than left claimed.
	if got := f.statusOf(t, "job-1"); got != domain.StatusSkipped {
		t.Errorf("job-1 status = %s, want %s", got, domain.StatusSkipped)
	}
	close(f.analyzer.block)
}
