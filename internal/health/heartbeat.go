// Package health records job heartbeats and reports jobs that stopped
// succeeding.
package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const heartbeatPrefix = "abay:heartbeat:"

// Scheduled jobs that report heartbeats.
const (
	JobIngest   = "ingest"
	JobForecast = "forecast"
)

// WatchedJobs are the jobs the health check expects to keep succeeding.
var WatchedJobs = []string{JobIngest, JobForecast}

// Heartbeats stores the last successful run of each job in Redis.
type Heartbeats struct {
	redis *redis.Client
}

func NewHeartbeats(redisClient *redis.Client) *Heartbeats {
	return &Heartbeats{redis: redisClient}
}

// Beat records a successful run of job at the given time.
func (h *Heartbeats) Beat(ctx context.Context, job string, at time.Time) error {
	if err := h.redis.Set(ctx, heartbeatPrefix+job, at.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("failed to record heartbeat for %s: %w", job, err)
	}
	return nil
}

// Last returns the last recorded success of job; ok is false when the job
// never reported.
func (h *Heartbeats) Last(ctx context.Context, job string) (at time.Time, ok bool, err error) {
	raw, err := h.redis.Get(ctx, heartbeatPrefix+job).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read heartbeat for %s: %w", job, err)
	}
	at, err = time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("bad heartbeat for %s %q: %w", job, raw, err)
	}
	return at, true, nil
}
