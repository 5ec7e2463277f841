package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"jobsieve/internal/core/domain"
)

// AnalysisRepo implements storage.AnalysisRepository using Redis.
type AnalysisRepo struct {
	rdb *redis.Client
}

// NewAnalysisRepo creates a new Redis-backed analysis repository.
func NewAnalysisRepo(client *Client) *AnalysisRepo {
	return &AnalysisRepo{rdb: client.rdb}
}

// Key helpers
func analysisKey(postingID string) string {
	return fmt.Sprintf("analysis:%s", postingID)
}

func analysisIDsKey() string {
	return "analysis:ids"
}

type analysisDoc struct {
	PostingID  string    `json:"posting_id"`
	Score      float64   `json:"score"`
	Acceptable bool      `json:"acceptable"`
	Reasoning  string    `json:"reasoning"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Save persists an analysis result; SetNX keeps the first write.
func (r *AnalysisRepo) Save(ctx context.Context, res *domain.AnalysisResult) error {
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now()
	}
	doc := analysisDoc{
		PostingID:  res.PostingID,
		Score:      res.Score,
		Acceptable: res.Acceptable,
		Reasoning:  res.Reasoning,
		Tags:       res.Tags,
		CreatedAt:  res.CreatedAt,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis result: %w", err)
	}

	if err := r.rdb.SetNX(ctx, analysisKey(res.PostingID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save analysis result: %w", err)
	}
	if err := r.rdb.SAdd(ctx, analysisIDsKey(), res.PostingID).Err(); err != nil {
		return fmt.Errorf("failed to index analysis result: %w", err)
	}
	return nil
}

// FindByPostingID retrieves the result for a posting.
func (r *AnalysisRepo) FindByPostingID(ctx context.Context, postingID string) (*domain.AnalysisResult, error) {
	data, err := r.rdb.Get(ctx, analysisKey(postingID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis result: %w", err)
	}

	var doc analysisDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analysis result: %w", err)
	}
	return &domain.AnalysisResult{
		PostingID:  doc.PostingID,
		Score:      doc.Score,
		Acceptable: doc.Acceptable,
		Reasoning:  doc.Reasoning,
		Tags:       doc.Tags,
		CreatedAt:  doc.CreatedAt,
	}, nil
}

// ListPostingIDs returns every posting identifier holding a result.
func (r *AnalysisRepo) ListPostingIDs(ctx context.Context) ([]string, error) {
	ids, err := r.rdb.SMembers(ctx, analysisIDsKey()).Result()
	if err != nil {
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

	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	hits, err := r.rdb.SMIsMember(ctx, analysisIDsKey(), members...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to filter analyzed ids: %w", err)
	}
	for i, id := range ids {
		out[id] = hits[i]
	}
	return out, nil
}

// Delete removes the result for a posting.
func (r *AnalysisRepo) Delete(ctx context.Context, postingID string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, analysisKey(postingID))
		pipe.SRem(ctx, analysisIDsKey(), postingID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete analysis result: %w", err)
	}
	return nil
}
