package config

import "time"

// Sampling defaults applied to topics that omit the corresponding field.
const (
	DefaultTemperature = 0.7
	DefaultTopP        = 1.0
	DefaultMaxTokens   = 1024
)

// Defaults contains system-wide default configurations.
// These values are used when specific components don't specify their own values.
type Defaults struct {
	// Model code for topics that omit model_code
	ModelCode string `yaml:"model_code,omitempty"`

	// Duration hint returned with 202 acceptance responses
	EstimatedDuration time.Duration `yaml:"estimated_duration,omitempty"`
}

// DefaultEstimatedDuration is the acceptance-response hint when unset.
const DefaultEstimatedDuration = 30 * time.Second
