package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"jobsieve/internal/core/domain"
)

// PostingRepo implements storage.PostingRepository using Redis.
// Records live as JSON documents keyed by identifier, with set indexes for
// membership and per-status lookup. Compare-and-save runs inside a WATCH
// transaction so a concurrent writer surfaces as an optimistic conflict.
type PostingRepo struct {
	rdb *redis.Client
}

// NewPostingRepo creates a new Redis-backed posting repository.
func NewPostingRepo(client *Client) *PostingRepo {
	return &PostingRepo{rdb: client.rdb}
}

// Key helpers
func postingKey(id string) string {
	return fmt.Sprintf("posting:%s", id)
}

func postingIDsKey() string {
	return "postings:ids"
}

func statusKey(status domain.Status) string {
	return fmt.Sprintf("postings:status:%s", status)
}

type postingDoc struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	Status          string     `json:"status"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	StatusChangedAt time.Time  `json:"status_changed_at"`
	CreatedAt       time.Time  `json:"created_at"`
	Version         int64      `json:"version"`
}

func toDoc(p *domain.Posting) postingDoc {
	return postingDoc{
		ID:              p.ID,
		Name:            p.Name,
		Description:     p.Description,
		Status:          string(p.Status),
		PublishedAt:     p.PublishedAt,
		StatusChangedAt: p.StatusChangedAt,
		CreatedAt:       p.CreatedAt,
		Version:         p.Version,
	}
}

func (d postingDoc) toDomain() *domain.Posting {
	return &domain.Posting{
		ID:              d.ID,
		Name:            d.Name,
		Description:     d.Description,
		Status:          domain.Status(d.Status),
		PublishedAt:     d.PublishedAt,
		StatusChangedAt: d.StatusChangedAt,
		CreatedAt:       d.CreatedAt,
		Version:         d.Version,
	}
}

// FindByID retrieves a posting by identifier.
func (r *PostingRepo) FindByID(ctx context.Context, id string) (*domain.Posting, error) {
	data, err := r.rdb.Get(ctx, postingKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get posting: %w", err)
	}

	var doc postingDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal posting: %w", err)
	}
	return doc.toDomain(), nil
}

// FindByStatus retrieves all postings in a status.
func (r *PostingRepo) FindByStatus(ctx context.Context, status domain.Status) ([]*domain.Posting, error) {
	ids, err := r.rdb.SMembers(ctx, statusKey(status)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read status index: %w", err)
	}

	postings := make([]*domain.Posting, 0, len(ids))
	for _, id := range ids {
		p, err := r.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		// Index may briefly outlive a deleted record
		if p != nil && p.Status == status {
			postings = append(postings, p)
		}
	}
	return postings, nil
}

// Save persists a posting under the optimistic version check.
func (r *PostingRepo) Save(ctx context.Context, p *domain.Posting) error {
	key := postingKey(p.ID)
	nextVersion := p.Version + 1

	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		exists := err != redis.Nil
		if err != nil && err != redis.Nil {
			return fmt.Errorf("failed to read posting for save: %w", err)
		}

		var prevStatus domain.Status
		if p.Version == 0 {
			// Insert path; an existing record means a concurrent creator won.
			if exists {
				return domain.ErrOptimisticConflict
			}
			if p.CreatedAt.IsZero() {
				p.CreatedAt = time.Now()
			}
			if p.StatusChangedAt.IsZero() {
				p.StatusChangedAt = p.CreatedAt
			}
			nextVersion = 1
		} else {
			if !exists {
				return domain.ErrOptimisticConflict
			}
			var cur postingDoc
			if err := json.Unmarshal(data, &cur); err != nil {
				return fmt.Errorf("failed to unmarshal posting for save: %w", err)
			}
			if cur.Version != p.Version {
				return domain.ErrOptimisticConflict
			}
			prevStatus = domain.Status(cur.Status)
		}

		doc := toDoc(p)
		doc.Version = nextVersion
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to marshal posting: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			pipe.SAdd(ctx, postingIDsKey(), p.ID)
			if prevStatus != "" && prevStatus != p.Status {
				pipe.SRem(ctx, statusKey(prevStatus), p.ID)
			}
			pipe.SAdd(ctx, statusKey(p.Status), p.ID)
			return nil
		})
		return err
	}, key)

	if err == redis.TxFailedErr {
		return domain.ErrOptimisticConflict
	}
	if err != nil {
		return err
	}
	p.Version = nextVersion
	return nil
}

// FindAllIDs returns every tracked posting identifier.
func (r *PostingRepo) FindAllIDs(ctx context.Context) ([]string, error) {
	ids, err := r.rdb.SMembers(ctx, postingIDsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list posting ids: %w", err)
	}
	return ids, nil
}

// CountByStatus returns per-status record counts.
func (r *PostingRepo) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	counts := make(map[domain.Status]int)
	for _, status := range domain.AllStatuses {
		n, err := r.rdb.SCard(ctx, statusKey(status)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to count status %s: %w", status, err)
		}
		if n > 0 {
			counts[status] = int(n)
		}
	}
	return counts, nil
}

// Delete removes a posting record and its index entries.
func (r *PostingRepo) Delete(ctx context.Context, id string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, postingKey(id))
		pipe.SRem(ctx, postingIDsKey(), id)
		for _, status := range domain.AllStatuses {
			pipe.SRem(ctx, statusKey(status), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete posting: %w", err)
	}
	return nil
}
