package cache

import (
	"context"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultCleanupInterval is how often the in-memory cache sweeps expired
// entries.
const DefaultCleanupInterval = 10 * time.Minute

// Memory is an in-process Cache backed by go-cache. The useCase string
// appears in log lines so overlapping caches stay distinguishable.
type Memory[V any] struct {
	useCase string
	cache   *gocache.Cache
	logger  *slog.Logger
}

// NewMemory creates an in-memory cache. defaultTTL applies when Set is
// called with a zero ttl.
func NewMemory[V any](useCase string, defaultTTL time.Duration) *Memory[V] {
	return &Memory[V]{
		useCase: useCase,
		cache:   gocache.New(defaultTTL, DefaultCleanupInterval),
		logger:  slog.Default().With("component", "cache", "use_case", useCase),
	}
}

func (c *Memory[V]) Get(_ context.Context, key string) (V, bool) {
	var zero V
	value, found := c.cache.Get(key)
	if !found {
		return zero, false
	}
	v, ok := value.(V)
	if !ok {
		// A stale entry from an incompatible writer; treat as a miss.
		c.logger.Error("Cache entry has wrong type", "key", key)
		return zero, false
	}
	return v, true
}

func (c *Memory[V]) Set(_ context.Context, key string, value V, ttl time.Duration) {
	c.cache.Set(key, value, ttl)
}

func (c *Memory[V]) Delete(_ context.Context, keys ...string) {
	for _, key := range keys {
		c.cache.Delete(key)
	}
}

func (c *Memory[V]) Flush(_ context.Context) {
	c.cache.Flush()
}
