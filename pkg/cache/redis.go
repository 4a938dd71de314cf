package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a shared Cache backed by a Redis instance, for deployments where
// multiple pods must observe the same admin-driven evictions. Values are
// stored as JSON. Every Redis error is logged and treated as a miss so a
// cache outage never takes requests down with it.
type Redis[V any] struct {
	useCase string
	prefix  string
	rdb     *redis.Client
	logger  *slog.Logger
}

// NewRedis creates a Redis-backed cache. Keys are namespaced as
// "arbor:<useCase>:<key>".
func NewRedis[V any](useCase string, rdb *redis.Client) *Redis[V] {
	return &Redis[V]{
		useCase: useCase,
		prefix:  "arbor:" + useCase + ":",
		rdb:     rdb,
		logger:  slog.Default().With("component", "cache", "use_case", useCase),
	}
}

func (c *Redis[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	raw, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false
	}
	if err != nil {
		c.logger.Warn("Redis get failed", "key", key, "error", err)
		return zero, false
	}
	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		c.logger.Error("Cache entry is not decodable", "key", key, "error", err)
		return zero, false
	}
	return v, true
}

func (c *Redis[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Error("Cache value is not encodable", "key", key, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, c.prefix+key, raw, ttl).Err(); err != nil {
		c.logger.Warn("Redis set failed", "key", key, "error", err)
	}
}

func (c *Redis[V]) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = c.prefix + key
	}
	if err := c.rdb.Del(ctx, prefixed...).Err(); err != nil {
		c.logger.Warn("Redis delete failed", "keys", keys, "error", err)
	}
}

func (c *Redis[V]) Flush(ctx context.Context) {
	// Scan-and-delete under the use-case prefix; FLUSHDB would clobber
	// other tenants of the instance.
	iter := c.rdb.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("Redis scan failed", "error", err)
		return
	}
	if len(keys) > 0 {
		if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
			c.logger.Warn("Redis flush failed", "error", err)
		}
	}
}
