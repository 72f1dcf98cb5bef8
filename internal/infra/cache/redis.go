package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"companion-bot/internal/domain"
	"companion-bot/internal/infra/metrics"
)

// RedisCache реализует domain.Cache через Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
}

var _ domain.Cache = (*RedisCache)(nil)

// NewRedis создаёт кэш. prefix добавляется ко всем ключам.
func NewRedis(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// Mark ставит ключ через SET NX и сообщает, был ли он поставлен.
func (c *RedisCache) Mark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	start := time.Now()
	ok, err := c.client.SetNX(ctx, c.prefix+key, "1", ttl).Result()
	metrics.ObserveNetworkRequest("redis", "setnx", "cache", start, err)
	if err != nil {
		return false, &domain.TransientStoreError{Op: "cache_mark", Err: err}
	}
	return ok, nil
}

// Once выполняет функцию, если ключ ещё не задан. При ошибке fn ключ снимается, чтобы повтор прошёл.
func (c *RedisCache) Once(ctx context.Context, key string, ttl time.Duration, fn func() error) (bool, error) {
	ok, err := c.Mark(ctx, key, ttl)
	if err != nil || !ok {
		return false, err
	}
	if err := fn(); err != nil {
		start := time.Now()
		delErr := c.client.Del(context.WithoutCancel(ctx), c.prefix+key).Err()
		metrics.ObserveNetworkRequest("redis", "del", "cache", start, delErr)
		return true, err
	}
	return true, nil
}
