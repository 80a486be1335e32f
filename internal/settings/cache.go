package settings

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cachePrefix = "settings:"

// Cache is a read-through Redis cache in front of another provider. Concurrent
// misses for the same key share one source lookup.
type Cache struct {
	source Provider
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewCache wraps source. A nil client disables caching.
func NewCache(source Provider, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{source: source, client: client, ttl: ttl, logger: logger}
}

// Get implements Provider.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	if c.client == nil {
		return c.source.Get(ctx, key)
	}
	value, err := c.client.Get(ctx, cachePrefix+key).Result()
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, redis.Nil) {
		c.logger.Warn("settings cache read failed", slog.String("key", key), slog.Any("error", err))
	}

	// The lookup is shared by every waiter, so it must outlive the first caller.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		v, err := c.source.Get(shared, key)
		if err != nil {
			return "", err
		}
		if err := c.client.Set(shared, cachePrefix+key, v, c.ttl).Err(); err != nil {
			c.logger.Warn("settings cache write failed", slog.String("key", key), slog.Any("error", err))
		}
		return v, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached value for key.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, cachePrefix+key).Err()
}
