package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tg-insight-collector/internal/domain"
	"tg-insight-collector/internal/infra/metrics"
)

// releaseScript удаляет ключ, только если им всё ещё владеет вызывающий.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLocker реализует domain.Locker через SET NX с владельцем.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

var _ domain.Locker = (*RedisLocker)(nil)

// NewRedis создаёт блокировщик с префиксом ключей.
func NewRedis(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// TryLock пытается взять блокировку на ttl.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	fullKey := l.prefix + key
	owner := uuid.NewString()
	start := time.Now()
	ok, err := l.client.SetNX(ctx, fullKey, owner, ttl).Result()
	metrics.ObserveNetworkRequest("redis", "lock_acquire", fullKey, start, err)
	if err != nil {
		return nil, false, fmt.Errorf("setnx %s: %w", fullKey, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) error {
		start := time.Now()
		err := releaseScript.Run(ctx, l.client, []string{fullKey}, owner).Err()
		metrics.ObserveNetworkRequest("redis", "lock_release", fullKey, start, err)
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release %s: %w", fullKey, err)
		}
		return nil
	}
	return release, true, nil
}
