package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderTypeIsValid(t *testing.T) {
	assert.True(t, ProviderTypeAnthropic.IsValid())
	assert.True(t, ProviderTypeOpenAI.IsValid())
	assert.True(t, ProviderTypeFake.IsValid())
	assert.False(t, ProviderType("google").IsValid())
	assert.False(t, ProviderType("").IsValid())
}

func TestBlobBackendIsValid(t *testing.T) {
	assert.True(t, BlobBackendS3.IsValid())
	assert.True(t, BlobBackendMemory.IsValid())
	assert.False(t, BlobBackend("gcs").IsValid())
	assert.False(t, BlobBackend("").IsValid())
}

func TestCacheBackendIsValid(t *testing.T) {
	assert.True(t, CacheBackendMemory.IsValid())
	assert.True(t, CacheBackendRedis.IsValid())
	assert.False(t, CacheBackend("memcached").IsValid())
	assert.False(t, CacheBackend("").IsValid())
}

func TestDefaultQueueConfig(t *testing.T) {
	q := DefaultQueueConfig()
	assert.Equal(t, 5, q.WorkerCount)
	assert.Positive(t, q.PollInterval)
	assert.Positive(t, q.JobTimeout)
	assert.Equal(t, q.JobTimeout, q.DrainTimeout,
		"drain budget should cover a full generation")
}

func TestDefaultRetentionConfig(t *testing.T) {
	r := DefaultRetentionConfig()
	assert.Positive(t, r.EventTTL)
	assert.Positive(t, r.StuckJobAge)
	assert.Positive(t, r.ReapInterval)
	assert.Greater(t, r.StuckJobAge, DefaultQueueConfig().JobTimeout,
		"watchdog must not sweep jobs still inside the generation deadline")
}
