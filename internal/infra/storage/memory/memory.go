package memory

import (
	"context"
	"sync"
	"time"

	"jobsieve/internal/core/domain"
	"jobsieve/internal/infra/storage"
)

// MemoryStorage keeps postings and analysis results in process memory.
// Used by tests and the "memory" store driver. Records are copied on every
// read and write so stale in-flight copies really do lose the version check,
// same as against a real backend.
type MemoryStorage struct {
	postings map[string]*domain.Posting
	analyses map[string]*domain.AnalysisResult
	mu       sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		postings: make(map[string]*domain.Posting),
		analyses: make(map[string]*domain.AnalysisResult),
	}
}

// NewStore bundles the memory repositories.
func NewStore() storage.Store {
	ms := NewMemoryStorage()
	return storage.Store{
		Postings: NewPostingRepo(ms),
		Analyses: NewAnalysisRepo(ms),
	}
}

func (s *MemoryStorage) Ping(ctx context.Context) error { return nil }

func clonePosting(p *domain.Posting) *domain.Posting {
	c := *p
	if p.PublishedAt != nil {
		t := *p.PublishedAt
		c.PublishedAt = &t
	}
	return &c
}

func cloneAnalysis(r *domain.AnalysisResult) *domain.AnalysisResult {
	c := *r
	if r.Tags != nil {
		c.Tags = append([]string(nil), r.Tags...)
	}
	return &c
}

// -----------------------------------------------------------------------------
// Posting Repository
// -----------------------------------------------------------------------------

type PostingRepo struct {
	store *MemoryStorage
}

func NewPostingRepo(store *MemoryStorage) *PostingRepo {
	return &PostingRepo{store: store}
}

func (r *PostingRepo) FindByID(ctx context.Context, id string) (*domain.Posting, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	p, ok := r.store.postings[id]
	if !ok {
		return nil, nil
	}
	return clonePosting(p), nil
}

func (r *PostingRepo) FindByStatus(ctx context.Context, status domain.Status) ([]*domain.Posting, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.Posting
	for _, p := range r.store.postings {
		if p.Status == status {
			out = append(out, clonePosting(p))
		}
	}
	return out, nil
}

func (r *PostingRepo) Save(ctx context.Context, p *domain.Posting) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	cur, exists := r.store.postings[p.ID]
	if p.Version == 0 {
		// Insert path; an existing record means a concurrent creator won.
		if exists {
			return domain.ErrOptimisticConflict
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now()
		}
		p.Version = 1
		r.store.postings[p.ID] = clonePosting(p)
		return nil
	}

	if !exists || cur.Version != p.Version {
		return domain.ErrOptimisticConflict
	}
	p.Version++
	r.store.postings[p.ID] = clonePosting(p)
	return nil
}

func (r *PostingRepo) FindAllIDs(ctx context.Context) ([]string, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	ids := make([]string, 0, len(r.store.postings))
	for id := range r.store.postings {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *PostingRepo) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	counts := make(map[domain.Status]int)
	for _, p := range r.store.postings {
		counts[p.Status]++
	}
	return counts, nil
}

func (r *PostingRepo) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.postings, id)
	return nil
}

// -----------------------------------------------------------------------------
// Analysis Repository
// -----------------------------------------------------------------------------

type AnalysisRepo struct {
	store *MemoryStorage
}

func NewAnalysisRepo(store *MemoryStorage) *AnalysisRepo {
	return &AnalysisRepo{store: store}
}

func (r *AnalysisRepo) Save(ctx context.Context, res *domain.AnalysisResult) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.analyses[res.PostingID]; exists {
		// First write wins
		return nil
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now()
	}
	r.store.analyses[res.PostingID] = cloneAnalysis(res)
	return nil
}

func (r *AnalysisRepo) FindByPostingID(ctx context.Context, postingID string) (*domain.AnalysisResult, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	res, ok := r.store.analyses[postingID]
	if !ok {
		return nil, nil
	}
	return cloneAnalysis(res), nil
}

func (r *AnalysisRepo) ListPostingIDs(ctx context.Context) ([]string, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	ids := make([]string, 0, len(r.store.analyses))
	for id := range r.store.analyses {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *AnalysisRepo) FilterAnalyzed(ctx context.Context, ids []string) (map[string]bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		_, ok := r.store.analyses[id]
		out[id] = ok
	}
	return out, nil
}

func (r *AnalysisRepo) Delete(ctx context.Context, postingID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.analyses, postingID)
	return nil
}
