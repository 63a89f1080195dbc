package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper is the webhook idempotency fast path. It is advisory only: the
// unique index on webhook_logs is the durable guard, so a Redis outage must
// never block processing.
type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// AcquireOnce tries to claim (provider, webhookID).
// Returns true if this is the FIRST time the webhook is seen,
// false if it is a duplicate. Fails open when Redis is unavailable.
func (d *Deduper) AcquireOnce(ctx context.Context, provider, webhookID string) bool {
	key := fmt.Sprintf("dedup:webhook:%s:%s", provider, webhookID)

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("redis dedup check failed, allowing processing",
				zap.String("provider", provider),
				zap.String("webhook_id", webhookID),
				zap.Error(err),
			)
		}
		return true
	}

	if !ok && d.logger != nil {
		d.logger.Info("skipped duplicated webhook",
			zap.String("provider", provider),
			zap.String("webhook_id", webhookID),
			zap.String("dedup_key", key),
		)
	}

	return ok
}

// Release gives back a claim taken by AcquireOnce so the provider's retry of
// the same webhook is processed instead of answered as a duplicate. Best
// effort: if the DEL fails the key expires with its TTL.
func (d *Deduper) Release(ctx context.Context, provider, webhookID string) {
	key := fmt.Sprintf("dedup:webhook:%s:%s", provider, webhookID)

	if err := d.rdb.Del(ctx, key).Err(); err != nil && d.logger != nil {
		d.logger.Warn("redis dedup release failed",
			zap.String("provider", provider),
			zap.String("webhook_id", webhookID),
			zap.Error(err),
		)
	}
}
