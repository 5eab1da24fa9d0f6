package campaign

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"messaging-platform/pkg/utils"
)

// RedisLimiter caps concurrent detached bulk loops per account across all
// API instances. The TTL bounds how long a crashed instance can hold a slot.
type RedisLimiter struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func NewRedisLimiter(rdb *redis.Client, limit int, ttl time.Duration) *RedisLimiter {
	if limit <= 0 {
		limit = 1
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLimiter{rdb: rdb, limit: limit, ttl: ttl}
}

func bulkCapKey(accountID string) string {
	return "bulkcap:" + accountID
}

func (l *RedisLimiter) Acquire(ctx context.Context, accountID string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, bulkCapKey(accountID), l.limit, l.ttl)
}

func (l *RedisLimiter) Release(ctx context.Context, accountID string) error {
	return utils.ReleaseConcurrencyCap(ctx, l.rdb, bulkCapKey(accountID))
}
