// Package cache is the advisory read-through cache for dashboard aggregates.
// A cache outage is a miss, never a failed read.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"flowcrm/backend/internal/telemetry"
)

// Cache stores JSON values with a TTL.
type Cache interface {
	// Get decodes the value at key into dest. ok is false on a miss.
	Get(ctx context.Context, key string, dest any) (ok bool, err error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// DeleteByPrefix removes every key starting with prefix and returns how many were removed.
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
}

// DashboardKey is the cache key of one role-scoped dashboard aggregate.
func DashboardKey(tenantID, role, name string) string {
	return fmt.Sprintf("dashboard:%s:%s:%s", tenantID, role, name)
}

// TenantPrefix matches every dashboard key of a tenant.
func TenantPrefix(tenantID string) string {
	return "dashboard:" + tenantID + ":"
}

const scanBatch = 200

// RedisCache is the Redis-backed Cache.
type RedisCache struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	if err := json.Unmarshal(b, dest); err != nil {
		// A value we cannot decode is as good as absent.
		return false, nil
	}
	return true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, b, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

// DeleteByPrefix walks the keyspace with SCAN so large tenants never block Redis.
func (c *RedisCache) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			return deleted, fmt.Errorf("cache: scan %s: %w", prefix, err)
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("cache: delete %s: %w", prefix, err)
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// Null always misses.
type Null struct{}

func (Null) Get(context.Context, string, any) (bool, error)        { return false, nil }
func (Null) Set(context.Context, string, any, time.Duration) error { return nil }
func (Null) DeleteByPrefix(context.Context, string) (int64, error) { return 0, nil }

// Open returns a RedisCache when client answers a ping and Null otherwise.
func Open(ctx context.Context, client redis.UniversalClient, logger *zap.Logger) Cache {
	if client == nil {
		return Null{}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		if logger != nil {
			logger.Warn("redis unreachable, dashboard cache disabled", zap.Error(err))
		}
		return Null{}
	}
	return NewRedis(client)
}

// GetOrCompute returns the cached value at key or computes, stores and returns it.
// Cache errors are logged and fall through to compute; only compute errors are returned.
func GetOrCompute[T any](ctx context.Context, c Cache, logger *zap.Logger, m *telemetry.Metrics, key string, ttl time.Duration, compute func(ctx context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var cached T
	ok, err := c.Get(ctx, key, &cached)
	switch {
	case err != nil:
		logger.Warn("cache lookup failed, computing", zap.String("key", key), zap.Error(err))
		m.CacheLookup(ctx, "error")
	case ok:
		m.CacheLookup(ctx, "hit")
		return cached, nil
	default:
		m.CacheLookup(ctx, "miss")
	}

	v, err := compute(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := c.Set(ctx, key, v, ttl); err != nil {
		logger.Warn("cache store failed", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}
