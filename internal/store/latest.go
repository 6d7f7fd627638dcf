package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const latestKey = "abay:latest"

// LatestCache keeps the newest valid value of every snapshot column in a
// Redis hash for cheap dashboard reads.
type LatestCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewLatestCache creates a cache whose hash expires after ttl without
// updates.
func NewLatestCache(redisClient *redis.Client, ttl time.Duration) *LatestCache {
	return &LatestCache{redis: redisClient, ttl: ttl}
}

// Write replaces the cached values.
func (c *LatestCache) Write(ctx context.Context, at time.Time, values map[string]float64) error {
	fields := make(map[string]any, len(values)+1)
	fields["timestamp"] = at.UTC().Format(time.RFC3339)
	for name, v := range values {
		fields[name] = strconv.FormatFloat(v, 'f', -1, 64)
	}

	pipe := c.redis.TxPipeline()
	pipe.Del(ctx, latestKey)
	pipe.HSet(ctx, latestKey, fields)
	pipe.Expire(ctx, latestKey, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write latest values to Redis: %w", err)
	}
	return nil
}

// Read returns the cached values and their timestamp.
func (c *LatestCache) Read(ctx context.Context) (time.Time, map[string]float64, error) {
	data, err := c.redis.HGetAll(ctx, latestKey).Result()
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("failed to read latest values from Redis: %w", err)
	}

	var at time.Time
	values := make(map[string]float64, len(data))
	for field, raw := range data {
		if field == "timestamp" {
			at, err = time.Parse(time.RFC3339, raw)
			if err != nil {
				return time.Time{}, nil, fmt.Errorf("bad cached timestamp %q: %w", raw, err)
			}
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		values[field] = v
	}
	return at, values, nil
}
