package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"newsintel/internal/core"
	"newsintel/internal/logger"
	"newsintel/internal/persistence"
)

// DefaultCacheTTL is how long a raw LLM response stays reusable.
const DefaultCacheTTL = 24 * time.Hour

// Cache is the get-or-compute front of the extraction response cache.
// Concurrent lookups for the same key share one computation; different keys
// never wait on each other.
type Cache struct {
	repo  persistence.CacheRepository
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group
	log   *slog.Logger
}

// NewCache wraps a cache repository.
func NewCache(repo persistence.CacheRepository, ttl time.Duration, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Cache{repo: repo, ttl: ttl, now: now, log: logger.Get()}
}

type cached struct {
	value []byte
	hit   bool
}

// GetOrCompute returns the value stored under key, calling compute on a miss
// and storing its result. hit reports whether the value came from the store
// or was shared between concurrent callers. compute runs detached from the caller's cancellation so a
// caller giving up does not fail the others waiting on the same key.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute func(ctx context.Context) ([]byte, error)) (value []byte, hit bool, err error) {
	ch := c.group.DoChan(key, func() (any, error) {
		detached := context.WithoutCancel(ctx)

		v, err := c.repo.Get(detached, key, c.now())
		switch {
		case err == nil:
			return cached{value: v, hit: true}, nil
		case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrCacheExpired):
		default:
			c.log.Warn("Cache read failed, recomputing", "key", key, "error", err)
		}

		v, err = compute(detached)
		if err != nil {
			return nil, err
		}
		if err := c.repo.Set(detached, key, v, c.now().Add(c.ttl)); err != nil {
			c.log.Warn("Failed to store cache entry", "key", key, "error", err)
		}
		return cached{value: v}, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		out := res.Val.(cached)
		return out.value, out.hit || res.Shared, nil
	}
}

// Purge removes expired entries.
func (c *Cache) Purge(ctx context.Context) (int, error) {
	n, err := c.repo.DeleteExpired(ctx, c.now())
	if err != nil {
		return 0, fmt.Errorf("failed to purge extraction cache: %w", err)
	}
	return n, nil
}
