// Package cache stores resolved query results in Redis. Keys are derived from
// the sorted, normalized query terms so equivalent queries share an entry, and
// concurrent misses for one key are collapsed into a single resolution.
//
// Keys also carry the index generation. A result computed against an index
// that has since been swapped out is stored under the old generation and is
// never read again, even if it lands after Invalidate.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	pkgredis "github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "wikisearch:query:"

// Backend is the subset of the Redis client the cache uses.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// QueryCache caches query results. Cache failures are logged and treated as
// misses; they never fail a query.
type QueryCache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64

	generation func() uint64
}

// Option configures a QueryCache.
type Option func(*QueryCache)

// WithGeneration makes keys follow the index generation reported by gen,
// typically Resolver.Generation.
func WithGeneration(gen func() uint64) Option {
	return func(c *QueryCache) {
		c.generation = gen
	}
}

func New(backend Backend, ttl time.Duration, opts ...Option) *QueryCache {
	c := &QueryCache{
		backend:    backend,
		ttl:        ttl,
		logger:     slog.Default().With("component", "query-cache"),
		generation: func() uint64 { return 0 },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached paths for terms in the current generation.
func (c *QueryCache) Get(ctx context.Context, terms []string) ([]string, bool) {
	return c.get(ctx, Key(c.generation(), terms))
}

func (c *QueryCache) get(ctx context.Context, key string) ([]string, bool) {
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	var paths []string
	if err := json.Unmarshal([]byte(data), &paths); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return paths, true
}

// Set stores paths for terms in the current generation.
func (c *QueryCache) Set(ctx context.Context, terms []string, paths []string) {
	c.set(ctx, Key(c.generation(), terms), paths)
}

func (c *QueryCache) set(ctx context.Context, key string, paths []string) {
	data, err := json.Marshal(paths)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for terms or computes, stores and
// returns it. The boolean reports a cache hit. Errors from compute are not
// cached. The generation is read before compute runs, so a result computed
// across a swap is filed under the older generation.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	terms []string,
	compute func() ([]string, error),
) ([]string, bool, error) {
	key := Key(c.generation(), terms)
	if paths, ok := c.get(ctx, key); ok {
		return paths, true, nil
	}
	val, err, _ := c.group.Do(key, func() (any, error) {
		paths, err := compute()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, paths)
		return paths, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]string), false, nil
}

// Invalidate removes every cached query result.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Key returns the cache key for a sorted term list in an index generation.
func Key(generation uint64, terms []string) string {
	hash := sha256.Sum256([]byte(strings.Join(terms, "\x00")))
	return fmt.Sprintf("%s%d:%x", keyPrefix, generation, hash[:16])
}
