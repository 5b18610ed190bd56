// Package cache provides a Redis-backed cache for fetched listing results.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/ticketwatch/internal/domain"
	"github.com/jonesrussell/ticketwatch/internal/logger"
)

const keyPrefix = "listings:"

// commander is the subset of the Redis client the cache uses.
// Tests supply an in-memory implementation.
type commander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// ListingCache caches fetch results keyed by event ID.
type ListingCache struct {
	client commander
	ttl    time.Duration
	logger logger.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// New creates a ListingCache backed by the Redis instance at addr.
func New(addr string, ttl time.Duration, log logger.Logger) *ListingCache {
	return &ListingCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
		logger: log,
	}
}

// NewWithClient creates a ListingCache around an existing client.
func NewWithClient(client commander, ttl time.Duration, log logger.Logger) *ListingCache {
	return &ListingCache{client: client, ttl: ttl, logger: log}
}

// Get returns the cached result for eventID, or found=false on a miss.
// A corrupt cache entry is treated as a miss and evicted.
func (c *ListingCache) Get(ctx context.Context, eventID string) (*domain.FetchResult, bool, error) {
	val, err := c.client.Get(ctx, key(eventID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.misses.Add(1)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	var result domain.FetchResult
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		c.logger.Warn("evicting corrupt cache entry",
			logger.String("event_id", eventID),
			logger.Error(err))
		_ = c.client.Del(ctx, key(eventID)).Err()
		c.misses.Add(1)
		return nil, false, nil
	}

	c.hits.Add(1)
	result.Cached = true
	return &result, true, nil
}

// Set stores the result for eventID with the configured TTL.
func (c *ListingCache) Set(ctx context.Context, eventID string, result *domain.FetchResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	if err := c.client.Set(ctx, key(eventID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Invalidate removes the cached entry for eventID.
func (c *ListingCache) Invalidate(ctx context.Context, eventID string) error {
	if err := c.client.Del(ctx, key(eventID)).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

// Ping verifies connectivity to the backing store.
func (c *ListingCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Stats returns a snapshot of the hit and miss counters.
func (c *ListingCache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses
	s := Stats{Hits: hits, Misses: misses}
	if total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}

// Close releases the Redis client.
func (c *ListingCache) Close() error {
	return c.client.Close()
}

func key(eventID string) string {
	return keyPrefix + eventID
}
