package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"jobsieve/internal/core/domain"
)

// AnalysisRepo implements storage.AnalysisRepository using PostgreSQL.
type AnalysisRepo struct {
	db *DB
}

// NewAnalysisRepo creates a new PostgreSQL analysis repository.
func NewAnalysisRepo(db *DB) *AnalysisRepo {
	return &AnalysisRepo{db: db}
}

type analysisRow struct {
	PostingID  string    `db:"posting_id"`
	Score      float64   `db:"score"`
	Acceptable bool      `db:"acceptable"`
	Reasoning  string    `db:"reasoning"`
	Tags       []byte    `db:"tags"`
	CreatedAt  time.Time `db:"created_at"`
}

func (row analysisRow) toDomain() (*domain.AnalysisResult, error) {
	res := &domain.AnalysisResult{
		PostingID:  row.PostingID,
		Score:      row.Score,
		Acceptable: row.Acceptable,
		Reasoning:  row.Reasoning,
		CreatedAt:  row.CreatedAt,
	}
	if len(row.Tags) > 0 {
		if err := json.Unmarshal(row.Tags, &res.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags: %w", err)
		}
	}
	return res, nil
}

// Save persists an analysis result; the first write for a posting wins.
func (r *AnalysisRepo) Save(ctx context.Context, res *domain.AnalysisResult) error {
	tags := res.Tags
	if tags == nil {
		tags = []string{}
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO analysis_results (posting_id, score, acceptable, reasoning, tags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (posting_id) DO NOTHING
	`
	_, err = r.db.ExecContext(
		ctx,
		query,
		res.PostingID,
		res.Score,
		res.Acceptable,
		res.Reasoning,
		raw,
		res.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save analysis result: %w", err)
	}
	return nil
}

// FindByPostingID retrieves the result for a posting.
func (r *AnalysisRepo) FindByPostingID(ctx context.Context, postingID string) (*domain.AnalysisResult, error) {
	query := `
		SELECT posting_id, score, acceptable, reasoning, tags, created_at
		FROM analysis_results
		WHERE posting_id = $1
	`

	var row analysisRow
	err := r.db.GetContext(ctx, &row, query, postingID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis result: %w", err)
	}
	return row.toDomain()
}

// ListPostingIDs returns every posting identifier holding a result.
func (r *AnalysisRepo) ListPostingIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT posting_id FROM analysis_results`); err != nil {
		return nil, fmt.Errorf("failed to list analyzed ids: %w", err)
	}
	return ids, nil
}

// FilterAnalyzed reports which of the given identifiers hold a result.
func (r *AnalysisRepo) FilterAnalyzed(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	for _, id := range ids {
		out[id] = false
	}

	query, args, err := sqlx.In(`SELECT posting_id FROM analysis_results WHERE posting_id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build analyzed filter query: %w", err)
	}
	query = r.db.Rebind(query)

	var found []string
	if err := r.db.SelectContext(ctx, &found, query, args...); err != nil {
		return nil, fmt.Errorf("failed to filter analyzed ids: %w", err)
	}
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}

// Delete removes the result for a posting.
func (r *AnalysisRepo) Delete(ctx context.Context, postingID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM analysis_results WHERE posting_id = $1`, postingID); err != nil {
		return fmt.Errorf("failed to delete analysis result: %w", err)
	}
	return nil
}
