package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSettingsCache is a read-through TTL cache in front of another
// SettingsStore. Step execution reads settings such as the e-mail
// signature and the default sender name on every send; the cache keeps
// those reads off the primary store and bounds staleness by TTL instead
// of caching forever.
//
// Keys are stored as:
//
//	<prefix>setting:<key> => value
//
// A Redis failure is never surfaced to the caller on reads; the cache
// falls through to the inner store.
type RedisSettingsCache struct {
	inner  SettingsStore
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ SettingsStore = (*RedisSettingsCache)(nil)

// NewRedisSettingsCache creates a RedisSettingsCache over inner.
// prefix is optional but recommended (e.g. "nurture:"). A non-positive
// ttl defaults to five minutes.
func NewRedisSettingsCache(inner SettingsStore, client *redis.Client, prefix string, ttl time.Duration) *RedisSettingsCache {
	if prefix == "" {
		prefix = "nurture:"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisSettingsCache{
		inner:  inner,
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (c *RedisSettingsCache) key(key string) string {
	return c.prefix + "setting:" + key
}

func (c *RedisSettingsCache) GetSetting(ctx context.Context, key string) (string, error) {
	cached, err := c.client.Get(ctx, c.key(key)).Result()
	if err == nil {
		return cached, nil
	}
	// redis.Nil means a clean miss; anything else is a degraded cache,
	// and both fall through to the inner store.
	if !errors.Is(err, redis.Nil) && ctx.Err() != nil {
		return "", ctx.Err()
	}

	value, err := c.inner.GetSetting(ctx, key)
	if err != nil {
		return "", err
	}
	// Missing keys read as the empty string; caching them too avoids
	// hitting the inner store on every send for unset settings.
	_ = c.client.Set(ctx, c.key(key), value, c.ttl).Err()
	return value, nil
}

func (c *RedisSettingsCache) SetSetting(ctx context.Context, key, value string) error {
	if err := c.inner.SetSetting(ctx, key, value); err != nil {
		return err
	}
	// Write-through so a subsequent read within the TTL sees the new
	// value instead of the stale cached one.
	return c.client.Set(ctx, c.key(key), value, c.ttl).Err()
}

// Invalidate drops one key from the cache.
func (c *RedisSettingsCache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}
