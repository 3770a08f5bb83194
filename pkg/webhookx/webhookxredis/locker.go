// Package webhookxredis provides the Redis-backed delivery locker. SET NX
// with a TTL gives a cross-process mutex per (webhook, event) pair, so
// multiple dispatch loops never send the same delivery concurrently.
package webhookxredis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Abraxas-365/recibo/pkg/webhookx"
)

// Locker implements webhookx.Locker on Redis.
type Locker struct {
	rdb *redis.Client
}

// NewLocker creates a locker on an existing Redis client.
func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb}
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, key, "1", ttl).Result()
}

func (l *Locker) Unlock(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, key).Err()
}

var _ webhookx.Locker = (*Locker)(nil)
