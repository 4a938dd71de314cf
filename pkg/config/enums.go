package config

// ProviderType defines supported model providers
type ProviderType string

const (
	// ProviderTypeAnthropic is the Anthropic Claude API
	ProviderTypeAnthropic ProviderType = "anthropic"
	// ProviderTypeOpenAI is the OpenAI API (or OpenAI-compatible gateways)
	ProviderTypeOpenAI ProviderType = "openai"
	// ProviderTypeFake is a deterministic in-process provider for tests and
	// local development without vendor credentials
	ProviderTypeFake ProviderType = "fake"
)

// IsValid checks if the provider type is valid
func (t ProviderType) IsValid() bool {
	switch t {
	case ProviderTypeAnthropic, ProviderTypeOpenAI, ProviderTypeFake:
		return true
	default:
		return false
	}
}

// BlobBackend defines supported blob store backends
type BlobBackend string

const (
	// BlobBackendS3 stores prompt text in an S3 bucket
	BlobBackendS3 BlobBackend = "s3"
	// BlobBackendMemory keeps prompt text in process memory (tests, dev)
	BlobBackendMemory BlobBackend = "memory"
)

// IsValid checks if the blob backend is valid
func (b BlobBackend) IsValid() bool {
	return b == BlobBackendS3 || b == BlobBackendMemory
}

// CacheBackend defines supported cache backends
type CacheBackend string

const (
	// CacheBackendMemory is a per-process TTL cache
	CacheBackendMemory CacheBackend = "memory"
	// CacheBackendRedis is a shared Redis cache for multi-pod deployments
	CacheBackendRedis CacheBackend = "redis"
)

// IsValid checks if the cache backend is valid
func (b CacheBackend) IsValid() bool {
	return b == CacheBackendMemory || b == CacheBackendRedis
}
