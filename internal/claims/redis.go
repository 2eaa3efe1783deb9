package claims

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "assetgate:claimed:"

// RedisLedger stores consumed signatures in Redis with a TTL.
type RedisLedger struct {
	client *redis.Client
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func (l *RedisLedger) Claim(ctx context.Context, signature string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return l.client.SetNX(ctx, keyPrefix+signature, "1", ttl).Result()
}
