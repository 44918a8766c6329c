package automation

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const runLockPrefix = "reporting:rule-lock:"

// RedisLocker holds per-rule run locks in Redis. The lock expires on
// its own if a crashed run never releases it.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, ruleID string) (bool, error) {
	return l.client.SetNX(ctx, runLockPrefix+ruleID, time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
}

func (l *RedisLocker) Release(ctx context.Context, ruleID string) error {
	return l.client.Del(ctx, runLockPrefix+ruleID).Err()
}
