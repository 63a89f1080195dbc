package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Result reports the outcome of one counted send attempt.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts sends per (user, channel) in fixed hour buckets backed by
// Redis, so concurrent API instances share one counter.
type Limiter struct {
	rdb *redis.Client
}

func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb}
}

// bucketKey returns the counter key for the hour containing now.
func bucketKey(userID, channel string, now time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", userID, channel, now.Unix()/3600)
}

// windowEnd returns the instant the current hour bucket expires.
func windowEnd(now time.Time) time.Time {
	return now.Truncate(time.Hour).Add(time.Hour)
}

// CheckAndIncrement counts one send attempt for a user/channel pair. The
// increment is a single atomic Redis INCR, so two racing requests cannot
// both observe the last free slot. A limit of 0 means unlimited.
func (l *Limiter) CheckAndIncrement(ctx context.Context, userID, channel string, limitPerHour int) (*Result, error) {
	now := time.Now()
	if limitPerHour <= 0 {
		return &Result{Allowed: true, Limit: 0, Remaining: -1, ResetAt: windowEnd(now)}, nil
	}

	key := bucketKey(userID, channel, now)

	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		// First hit in the bucket owns the expiry.
		l.rdb.Expire(ctx, key, time.Until(windowEnd(now))+time.Minute)
	}

	remaining := limitPerHour - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return &Result{
		Allowed:   int(count) <= limitPerHour,
		Limit:     limitPerHour,
		Remaining: remaining,
		ResetAt:   windowEnd(now),
	}, nil
}
