// Package config provides configuration management for the arbor backend,
// including topic definitions, model registrations, queue tuning, and
// system-level integration settings.
package config

// Config is what Initialize hands the rest of the process: resolved
// defaults, tuning blocks, integration settings, and the topic and model
// registries.
type Config struct {
	// Resolved system-wide defaults.
	Defaults *Defaults

	// Worker pool tuning.
	Queue *QueueConfig

	// Retention and reaper tuning.
	Retention *RetentionConfig

	// Integration settings.
	Slack *SlackConfig
	Blob  *BlobConfig
	Cache *CacheConfig

	// Extra WebSocket origins allowed beyond localhost.
	AllowedWSOrigins []string

	TopicRegistry *TopicRegistry
	ModelRegistry *ModelRegistry
}

// Stats counts what was loaded, for the startup log and the health
// endpoint.
type Stats struct {
	Topics int
	Models int
}

func (c *Config) Stats() Stats {
	s := Stats{}
	if c.TopicRegistry != nil {
		s.Topics = c.TopicRegistry.Len()
	}
	if c.ModelRegistry != nil {
		s.Models = c.ModelRegistry.Len()
	}
	return s
}
