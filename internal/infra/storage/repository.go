package storage

import (
	"context"

	"jobsieve/internal/core/domain"
)

// PostingRepository handles posting record storage operations.
// Lookups return (nil, nil) when the record does not exist.
type PostingRepository interface {
	// FindByID retrieves a posting by identifier
	FindByID(ctx context.Context, id string) (*domain.Posting, error)

	// FindByStatus retrieves all postings in a status
	FindByStatus(ctx context.Context, status domain.Status) ([]*domain.Posting, error)

	// Save persists a posting under an optimistic version check: inserts
	// when Version is zero, otherwise updates only if the stored version
	// still matches, bumping it. A lost race returns
	// domain.ErrOptimisticConflict.
	Save(ctx context.Context, p *domain.Posting) error

	// FindAllIDs returns every tracked posting identifier
	FindAllIDs(ctx context.Context) ([]string, error)

	// CountByStatus returns per-status record counts
	CountByStatus(ctx context.Context) (map[domain.Status]int, error)

	// Delete removes a posting record; deleting an absent record is a no-op
	Delete(ctx context.Context, id string) error
}

// AnalysisRepository handles classifier verdict storage operations.
type AnalysisRepository interface {
	// Save persists an analysis result; the first write for a posting wins
	// and later writes are no-ops
	Save(ctx context.Context, r *domain.AnalysisResult) error

	// FindByPostingID retrieves the result for a posting, (nil, nil) if none
	FindByPostingID(ctx context.Context, postingID string) (*domain.AnalysisResult, error)

	// ListPostingIDs returns every posting identifier holding a result
	ListPostingIDs(ctx context.Context) ([]string, error)

	// FilterAnalyzed reports which of the given identifiers hold a result
	FilterAnalyzed(ctx context.Context, ids []string) (map[string]bool, error)

	// Delete removes the result for a posting; absent is a no-op
	Delete(ctx context.Context, postingID string) error
}

// Store bundles the repositories one engine provides.
type Store struct {
	Postings PostingRepository
	Analyses AnalysisRepository
}

// Pinger is implemented by engines that can report backend liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}
