// Package cache stores search responses in Redis. Keys embed an index version,
// the fingerprint of the indexed records, so replicas sharing one Redis only
// share results computed over identical data and a reload never serves
// results from the previous data set. Concurrent identical misses are
// computed once.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/school-search/pkg/redis"
)

const keyPrefix = "search:"

// Backend is the subset of the Redis client the cache needs.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type QueryCache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		backend: backend,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache) Get(ctx context.Context, version uint64, query string, limit int) (*executor.SearchResult, bool) {
	key := BuildKey(version, query, limit)
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var result executor.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.ObserveCache(true)
	c.logger.Debug("cache hit", "query", query, "key", key)
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, version uint64, query string, limit int, result *executor.SearchResult) {
	key := BuildKey(version, query, limit)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached response for the query or computes and
// stores it. The bool reports a cache hit. Failed computations are not
// cached.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	version uint64,
	query string,
	limit int,
	computeFn func() (*executor.SearchResult, error),
) (*executor.SearchResult, bool, error) {
	if result, ok := c.Get(ctx, version, query, limit); ok {
		return result, true, nil
	}
	key := BuildKey(version, query, limit)
	val, err, _ := c.group.Do(key, func() (any, error) {
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, version, query, limit, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*executor.SearchResult), false, nil
}

// Invalidate drops every cached response.
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

func (c *QueryCache) miss() {
	c.misses.Add(1)
	c.metrics.ObserveCache(false)
}

// BuildKey derives the cache key. Only case is folded: the phrase score
// depends on the exact spacing and punctuation of the query.
func BuildKey(version uint64, query string, limit int) string {
	var b strings.Builder
	b.Grow(len(keyPrefix) + 48)
	b.WriteString(keyPrefix)
	b.WriteString(strconv.FormatUint(version, 16))
	b.WriteByte(':')
	b.WriteString(strconv.FormatUint(xxhash.Sum64String(strings.ToLower(query)), 16))
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(limit))
	return b.String()
}
