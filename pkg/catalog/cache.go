package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

// Prometheus metrics for catalog cache operations.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "posture_catalog_cache_hits_total",
		Help: "Catalog cache hits",
	})

	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "posture_catalog_cache_misses_total",
		Help: "Catalog cache misses",
	})

	cacheErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posture_catalog_cache_errors_total",
		Help: "Catalog cache operation errors",
	}, []string{"operation"})
)

// ErrCacheMiss indicates the requested key was not found in cache.
var ErrCacheMiss = errors.New("cache miss")

// DefaultCacheTTL keeps catalog data warm across closely spaced runs,
// typically a resume shortly after an interrupt.
const DefaultCacheTTL = time.Hour

// Cache is a small JSON payload cache over redis. Optional: a nil *Cache
// is a no-op and every lookup misses.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCache creates a cache over the given redis client.
func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

// Get unmarshals the cached value for key into out. Returns ErrCacheMiss
// when absent or expired.
func (c *Cache) Get(ctx context.Context, key string, out any) error {
	if c == nil {
		return ErrCacheMiss
	}
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			cacheMissesTotal.Inc()
			return ErrCacheMiss
		}
		cacheErrorsTotal.WithLabelValues("get").Inc()
		return fmt.Errorf("redis get: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		cacheErrorsTotal.WithLabelValues("get").Inc()
		return fmt.Errorf("unmarshal cache entry: %w", err)
	}
	cacheHitsTotal.Inc()
	return nil
}

// Set stores v under key with the cache TTL.
func (c *Cache) Set(ctx context.Context, key string, v any) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		cacheErrorsTotal.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
