package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// SeenCache is a best-effort duplicate pre-check in front of the durable
// ledger. It lets a consumer drop an obvious redelivery without opening a
// database transaction. A cache miss or error always falls through to the
// ledger, so correctness never depends on Redis being up.
type SeenCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSeenCache(client *redis.Client, ttl time.Duration) *SeenCache {
	return &SeenCache{client: client, ttl: ttl}
}

func (c *SeenCache) Seen(ctx context.Context, group, eventID string) bool {
	if c == nil {
		return false
	}
	n, err := c.client.Exists(ctx, cacheKey(group, eventID)).Result()
	if err != nil {
		log.Debug().Err(err).Msg("Seen-cache lookup failed, falling through to ledger")
		return false
	}
	return n > 0
}

func (c *SeenCache) Remember(ctx context.Context, group, eventID string) {
	if c == nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(group, eventID), 1, c.ttl).Err(); err != nil {
		log.Debug().Err(err).Msg("Seen-cache write failed")
	}
}

func cacheKey(group, eventID string) string {
	return "processed:" + group + ":" + eventID
}
