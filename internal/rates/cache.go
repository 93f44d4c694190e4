package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "ledger:rates:"

// RedisCache keeps quotes as JSON strings with a TTL.
type RedisCache struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

func NewRedisCache(client *redis.Client, prefix string, logger *slog.Logger) *RedisCache {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisCache{client: client, prefix: prefix, logger: logger.With("component", "RedisRateCache")}
}

func (c *RedisCache) key(from, to string) string {
	return fmt.Sprintf("%s%s:%s", c.prefix, from, to)
}

func (c *RedisCache) Get(ctx context.Context, from, to string) (*Quote, error) {
	key := c.key(from, to)
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		c.logger.DebugContext(ctx, "Redis cache miss", slog.String("key", key))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	var q Quote
	if err := json.Unmarshal([]byte(val), &q); err != nil {
		return nil, fmt.Errorf("decode cached quote %s: %w", key, err)
	}
	c.logger.DebugContext(ctx, "Redis cache hit", slog.String("key", key), slog.String("rate", q.Rate.String()))
	return &q, nil
}

func (c *RedisCache) Set(ctx context.Context, q Quote, ttl time.Duration) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("encode quote: %w", err)
	}
	key := c.key(q.From, q.To)
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
