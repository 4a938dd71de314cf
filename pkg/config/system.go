package config

// SlackConfig is the resolved ops notification block. The bot token lives
// in the environment, never in YAML; TokenEnv names the variable holding
// it.
type SlackConfig struct {
	Enabled  bool
	TokenEnv string // defaults to SLACK_BOT_TOKEN
	Channel  string // channel ID, not a channel name
}

// BlobConfig is the resolved prompt-text store block.
type BlobConfig struct {
	Backend  BlobBackend // s3 or memory
	Bucket   string      // required for s3
	Region   string      // defaults to us-east-1
	Prefix   string      // key prefix inside the bucket
	Endpoint string      // MinIO or localstack endpoint, empty for AWS
}

// CacheConfig is the resolved cache backend block. Redis shares template
// and tier-config caches across pods; memory keeps them per pod.
type CacheConfig struct {
	Backend          CacheBackend // memory or redis
	RedisAddr        string       // host:port, required for redis
	RedisPasswordEnv string       // names the env var holding the password
	RedisDB          int          // logical database number
}
