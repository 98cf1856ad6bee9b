package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/drallgood/catalog-summarizer/internal/logger"
)

// ConnectRedis creates a Redis client from a redis:// URL and verifies connectivity.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// redisCache stores JSON encoded values under prefix+key.
type redisCache[V any] struct {
	rdb    redis.UniversalClient
	prefix string
	log    *logger.Logger
}

// NewRedisCache returns a Cache backed by Redis. Keys are namespaced with prefix.
func NewRedisCache[V any](rdb redis.UniversalClient, prefix string, log *logger.Logger) Cache[string, V] {
	if log == nil {
		log = logger.Get()
	}
	return &redisCache[V]{rdb: rdb, prefix: prefix, log: log}
}

func (c *redisCache[V]) key(k string) string {
	return c.prefix + k
}

func (c *redisCache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}
	if err := c.rdb.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *redisCache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	data, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var value V
	if err := json.Unmarshal(data, &value); err != nil {
		c.log.Warn("Dropping undecodable cache entry", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		_ = c.rdb.Del(ctx, c.key(key)).Err()
		return zero, false, nil
	}
	return value, true, nil
}

func (c *redisCache[V]) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Clear removes every key under the prefix.
func (c *redisCache[V]) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, c.prefix+"*", 200).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
