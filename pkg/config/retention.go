package config

import "time"

// RetentionConfig controls data retention and the reaper loop.
type RetentionConfig struct {
	// EventTTL is the maximum age of outbox event rows before deletion.
	// Rows only serve reconnect catch-up; a day is generous.
	EventTTL time.Duration `yaml:"event_ttl"`

	// StuckJobAge is how long a job may sit in processing before the
	// watchdog fails it. Should exceed the queue JobTimeout by a wide
	// margin so only genuinely orphaned jobs are swept.
	StuckJobAge time.Duration `yaml:"stuck_job_age"`

	// ReapInterval is how often the reaper loop runs.
	ReapInterval time.Duration `yaml:"reap_interval"`
}

// DefaultRetentionConfig is the baseline; the system retention block
// overrides it field by field.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		EventTTL:     24 * time.Hour,
		StuckJobAge:  15 * time.Minute,
		ReapInterval: 5 * time.Minute,
	}
}
