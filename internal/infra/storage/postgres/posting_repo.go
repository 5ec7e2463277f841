package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"jobsieve/internal/core/domain"
)

// PostingRepo implements storage.PostingRepository using PostgreSQL.
type PostingRepo struct {
	db *DB
}

// NewPostingRepo creates a new PostgreSQL posting repository.
func NewPostingRepo(db *DB) *PostingRepo {
	return &PostingRepo{db: db}
}

type postingRow struct {
	ID              string       `db:"id"`
	Name            string       `db:"name"`
	Description     string       `db:"description"`
	Status          string       `db:"status"`
	PublishedAt     sql.NullTime `db:"published_at"`
	StatusChangedAt time.Time    `db:"status_changed_at"`
	CreatedAt       time.Time    `db:"created_at"`
	Version         int64        `db:"version"`
}

func (row postingRow) toDomain() *domain.Posting {
	p := &domain.Posting{
		ID:              row.ID,
		Name:            row.Name,
		Description:     row.Description,
		Status:          domain.Status(row.Status),
		StatusChangedAt: row.StatusChangedAt,
		CreatedAt:       row.CreatedAt,
		Version:         row.Version,
	}
	if row.PublishedAt.Valid {
		t := row.PublishedAt.Time
		p.PublishedAt = &t
	}
	return p
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// FindByID retrieves a posting by identifier.
func (r *PostingRepo) FindByID(ctx context.Context, id string) (*domain.Posting, error) {
	query := `
		SELECT id, name, description, status, published_at, status_changed_at, created_at, version
		FROM postings
		WHERE id = $1
	`

	var row postingRow
	err := r.db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get posting: %w", err)
	}
	return row.toDomain(), nil
}

// FindByStatus retrieves all postings in a status.
func (r *PostingRepo) FindByStatus(ctx context.Context, status domain.Status) ([]*domain.Posting, error) {
	query := `
		SELECT id, name, description, status, published_at, status_changed_at, created_at, version
		FROM postings
		WHERE status = $1
		ORDER BY status_changed_at ASC
	`

	var rows []postingRow
	if err := r.db.SelectContext(ctx, &rows, query, string(status)); err != nil {
		return nil, fmt.Errorf("failed to get postings by status: %w", err)
	}

	postings := make([]*domain.Posting, 0, len(rows))
	for _, row := range rows {
		postings = append(postings, row.toDomain())
	}
	return postings, nil
}

// Save persists a posting under the optimistic version check.
func (r *PostingRepo) Save(ctx context.Context, p *domain.Posting) error {
	if p.Version == 0 {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now()
		}
		if p.StatusChangedAt.IsZero() {
			p.StatusChangedAt = p.CreatedAt
		}
		query := `
			INSERT INTO postings (id, name, description, status, published_at, status_changed_at, created_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
			ON CONFLICT (id) DO NOTHING
		`
		res, err := r.db.ExecContext(
			ctx,
			query,
			p.ID,
			p.Name,
			p.Description,
			string(p.Status),
			nullTime(p.PublishedAt),
			p.StatusChangedAt,
			p.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert posting: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read insert result: %w", err)
		}
		if n == 0 {
			// A concurrent creator got there first
			return domain.ErrOptimisticConflict
		}
		p.Version = 1
		return nil
	}

	query := `
		UPDATE postings
		SET name = $2, description = $3, status = $4, published_at = $5,
		    status_changed_at = $6, version = version + 1
		WHERE id = $1 AND version = $7
	`
	res, err := r.db.ExecContext(
		ctx,
		query,
		p.ID,
		p.Name,
		p.Description,
		string(p.Status),
		nullTime(p.PublishedAt),
		p.StatusChangedAt,
		p.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update posting: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		return domain.ErrOptimisticConflict
	}
	p.Version++
	return nil
}

// FindAllIDs returns every tracked posting identifier.
func (r *PostingRepo) FindAllIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT id FROM postings`); err != nil {
		return nil, fmt.Errorf("failed to list posting ids: %w", err)
	}
	return ids, nil
}

// CountByStatus returns per-status record counts.
func (r *PostingRepo) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	query := `SELECT status, COUNT(*) AS count FROM postings GROUP BY status`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count postings: %w", err)
	}

	counts := make(map[domain.Status]int, len(rows))
	for _, row := range rows {
		counts[domain.Status(row.Status)] = row.Count
	}
	return counts, nil
}

// Delete removes a posting record.
func (r *PostingRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM postings WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete posting: %w", err)
	}
	return nil
}
