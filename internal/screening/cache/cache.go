package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"jobsieve/internal/infra/storage"
	"jobsieve/internal/screening/metrics"
)

// Cache defines the interface for the processed-item cache: the set of
// posting identifiers that already hold an analysis result. It is a pure
// optimization; anything correctness-critical falls back to the record
// store on a miss, and the store always wins on divergence.
type Cache interface {
	// Contains checks the in-memory set only
	Contains(id string) bool

	// IsProcessed checks the set and falls back to the store on a miss
	IsProcessed(ctx context.Context, id string) (bool, error)

	// MarkProcessed inserts an identifier; idempotent
	MarkProcessed(id string)

	// Remove drops a stale entry
	Remove(id string)

	// FilterUnprocessed returns the subset of ids without a result, using
	// one in-memory pass and a single batched store query for the misses
	FilterUnprocessed(ctx context.Context, ids []string) ([]string, error)

	// Rebuild reloads the set from the store's analyzed identifiers
	Rebuild(ctx context.Context) error

	// Size returns the number of cached identifiers
	Size() int
}

// MemoryCache implements Cache using an in-memory map.
type MemoryCache struct {
	analyses storage.AnalysisRepository
	logger   *slog.Logger

	ids map[string]struct{}
	mu  sync.RWMutex
}

// NewMemoryCache creates a processed-item cache backed by the analysis
// repository.
func NewMemoryCache(analyses storage.AnalysisRepository, logger *slog.Logger) *MemoryCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryCache{
		analyses: analyses,
		logger:   logger,
		ids:      make(map[string]struct{}),
	}
}

// Contains checks the in-memory set only.
func (c *MemoryCache) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.ids[id]
	return exists
}

// IsProcessed checks the set, falling back to the store before concluding
// "never processed". A store hit repairs the missing cache entry.
func (c *MemoryCache) IsProcessed(ctx context.Context, id string) (bool, error) {
	if c.Contains(id) {
		return true, nil
	}

	res, err := c.analyses.FindByPostingID(ctx, id)
	if err != nil {
		return false, fmt.Errorf("cache fallback lookup for %s: %w", id, err)
	}
	if res == nil {
		return false, nil
	}
	c.MarkProcessed(id)
	return true, nil
}

// MarkProcessed inserts an identifier.
func (c *MemoryCache) MarkProcessed(id string) {
	c.mu.Lock()
	c.ids[id] = struct{}{}
	size := len(c.ids)
	c.mu.Unlock()
	metrics.CacheSize.Set(float64(size))
}

// Remove drops a stale entry.
func (c *MemoryCache) Remove(id string) {
	c.mu.Lock()
	delete(c.ids, id)
	size := len(c.ids)
	c.mu.Unlock()
	metrics.CacheSize.Set(float64(size))
}

// FilterUnprocessed partitions ids into processed and not, checking memory
// first and the store once for the remainder.
func (c *MemoryCache) FilterUnprocessed(ctx context.Context, ids []string) ([]string, error) {
	var misses []string
	c.mu.RLock()
	for _, id := range ids {
		if _, exists := c.ids[id]; !exists {
			misses = append(misses, id)
		}
	}
	c.mu.RUnlock()

	if len(misses) == 0 {
		return nil, nil
	}

	analyzed, err := c.analyses.FilterAnalyzed(ctx, misses)
	if err != nil {
		return nil, fmt.Errorf("batched cache fallback: %w", err)
	}

	unprocessed := make([]string, 0, len(misses))
	for _, id := range misses {
		if analyzed[id] {
			c.MarkProcessed(id)
			continue
		}
		unprocessed = append(unprocessed, id)
	}
	return unprocessed, nil
}

// Rebuild reloads the set from the store's analyzed identifiers. Runs once
// at startup and once at the configured daily instant.
func (c *MemoryCache) Rebuild(ctx context.Context) error {
	ids, err := c.analyses.ListPostingIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to rebuild processed cache: %w", err)
	}

	fresh := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		fresh[id] = struct{}{}
	}

	c.mu.Lock()
	c.ids = fresh
	size := len(c.ids)
	c.mu.Unlock()

	metrics.CacheSize.Set(float64(size))
	metrics.CacheRebuilds.Inc()
	c.logger.Info("processed cache rebuilt", "size", size)
	return nil
}

// Size returns the number of cached identifiers.
func (c *MemoryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}
