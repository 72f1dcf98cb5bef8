package memory

import (
	"context"
	"sync"
	"time"

	"companion-bot/internal/domain"
)

// Cache — TTL-хранилище ключей в памяти.
type Cache struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

var _ domain.Cache = (*Cache)(nil)

// NewCache создаёт кэш. now позволяет подменить часы в тестах.
func NewCache(now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{keys: make(map[string]time.Time), now: now}
}

// Mark ставит ключ, если его нет или он истёк.
func (c *Cache) Mark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if exp, ok := c.keys[key]; ok && now.Before(exp) {
		return false, nil
	}
	c.keys[key] = now.Add(ttl)
	return true, nil
}

// Once выполняет fn, если ключ ещё не задан. При ошибке fn ключ снимается.
func (c *Cache) Once(ctx context.Context, key string, ttl time.Duration, fn func() error) (bool, error) {
	ok, err := c.Mark(ctx, key, ttl)
	if err != nil || !ok {
		return false, err
	}
	if err := fn(); err != nil {
		c.mu.Lock()
		delete(c.keys, key)
		c.mu.Unlock()
		return true, err
	}
	return true, nil
}
