package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"llmrouter/internal/core"
)

const (
	// DefaultRedisPrefix namespaces cache keys.
	DefaultRedisPrefix = "llmrouter:resp"

	scanBatch = 200
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379" or "redis://:password@host:6379/0")
	URL string

	// Prefix is prepended to every key (defaults to "llmrouter:resp")
	Prefix string

	// TTL is the time-to-live of each entry
	TTL time.Duration
}

// RedisCache implements Cache using Redis for distributed storage.
// This is suitable for multi-instance deployments behind a load balancer.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisCache creates a new Redis-based cache.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	slog.Info("redis cache connected", "prefix", prefix, "ttl", cfg.TTL.String())

	return &RedisCache{
		client: client,
		prefix: prefix,
		ttl:    cfg.TTL,
		now:    time.Now,
	}, nil
}

func (c *RedisCache) redisKey(key Key) string {
	return c.prefix + ":" + key.String()
}

// Get retrieves a result from Redis.
func (c *RedisCache) Get(ctx context.Context, key Key) (*core.GenerationResult, error) {
	if c.ttl <= 0 {
		return nil, nil
	}
	data, err := c.client.Get(ctx, c.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cache entry from redis: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to parse cache entry from redis: %w", err)
	}
	// Redis expiry is the primary bound; this guards against clock skew between writers.
	if c.now().Sub(e.InsertedAt) >= c.ttl {
		if err := c.client.Del(ctx, c.redisKey(key)).Err(); err != nil {
			slog.Debug("failed to evict stale cache entry", "provider", key.Provider, "error", err)
		}
		return nil, nil
	}
	return e.Result, nil
}

// Set stores a result in Redis with the cache TTL.
func (c *RedisCache) Set(ctx context.Context, key Key, result *core.GenerationResult) error {
	if c.ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(Entry{Provider: key.Provider, Result: result, InsertedAt: c.now()})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := c.client.Set(ctx, c.redisKey(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry in redis: %w", err)
	}
	return nil
}

// InvalidateProvider deletes the provider's keys with SCAN and DEL.
func (c *RedisCache) InvalidateProvider(ctx context.Context, provider string) (int, error) {
	return c.deleteMatching(ctx, escapeGlob(c.prefix)+":"+escapeGlob(provider)+":*")
}

// Clear deletes every key under the prefix.
func (c *RedisCache) Clear(ctx context.Context) error {
	_, err := c.deleteMatching(ctx, escapeGlob(c.prefix)+":*")
	return err
}

func (c *RedisCache) deleteMatching(ctx context.Context, pattern string) (int, error) {
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to scan redis keys: %w", err)
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("failed to delete redis keys: %w", err)
			}
			deleted += int(n)
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

// escapeGlob escapes Redis MATCH metacharacters.
func escapeGlob(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
