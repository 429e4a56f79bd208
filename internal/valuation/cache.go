package valuation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const summaryCacheKey = "valued:valuation:summary"

// Cache stores the operator summary in Redis between mutations.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a Cache with the given TTL.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

// Get returns the cached summary, reporting whether a value was present.
func (c *Cache) Get(ctx context.Context) ([]PeriodSummary, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	raw, err := c.client.Get(ctx, summaryCacheKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("valuation: cache get: %w", err)
	}
	var summaries []PeriodSummary
	if err := json.Unmarshal(raw, &summaries); err != nil {
		// A stale or malformed payload is treated as a miss.
		return nil, false, nil
	}
	return summaries, true, nil
}

// Set stores the summary with the configured TTL.
func (c *Cache) Set(ctx context.Context, summaries []PeriodSummary) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(summaries)
	if err != nil {
		return fmt.Errorf("valuation: cache marshal: %w", err)
	}
	if err := c.client.Set(ctx, summaryCacheKey, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("valuation: cache set: %w", err)
	}
	return nil
}

// Invalidate drops the cached summary after a mutation.
func (c *Cache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, summaryCacheKey).Err(); err != nil {
		return fmt.Errorf("valuation: cache invalidate: %w", err)
	}
	return nil
}
