// Package cache provides typed TTL caches behind one interface: an
// in-process one backed by go-cache and a shared one backed by Redis for
// multi-pod deployments. Callers treat every failure as a miss; a cache
// outage degrades latency, never correctness.
package cache

import (
	"context"
	"time"
)

// Cache is a typed TTL cache.
type Cache[V any] interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) (V, bool)

	// Set stores the value under key for ttl.
	Set(ctx context.Context, key string, value V, ttl time.Duration)

	// Delete evicts the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string)

	// Flush evicts everything.
	Flush(ctx context.Context)
}
