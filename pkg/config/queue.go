package config

import "time"

// QueueConfig tunes the worker pool: claim cadence, execution deadlines,
// and drain behavior. User values merge over DefaultQueueConfig, so a
// partial queue block in arbor.yaml overrides only what it names.
type QueueConfig struct {
	// WorkerCount is how many workers each pod runs. Every worker claims
	// and executes jobs independently.
	WorkerCount int `yaml:"worker_count"`

	// PollInterval paces the backstop poll that catches jobs whose wake
	// notification was lost.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollJitter spreads the backstop polls so the workers on one pod do
	// not all hit the queue in the same instant.
	PollJitter time.Duration `yaml:"poll_jitter"`

	// JobTimeout bounds a single model generation; provider calls run
	// under a context deadline of this length.
	JobTimeout time.Duration `yaml:"job_timeout"`

	// DrainTimeout caps the drain of in-flight jobs at shutdown. Keep it
	// at least JobTimeout or drains get cut short.
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	// OrphanGraceWindow is how old a pending job must be at startup
	// before its wake notification is re-published. A crash between
	// persist and notify leaves such jobs behind.
	OrphanGraceWindow time.Duration `yaml:"orphan_grace_window"`
}

// DefaultQueueConfig is the baseline a user queue block merges over.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:       5,
		PollInterval:      2 * time.Second,
		PollJitter:        500 * time.Millisecond,
		JobTimeout:        5 * time.Minute,
		DrainTimeout:      5 * time.Minute,
		OrphanGraceWindow: 30 * time.Second,
	}
}
