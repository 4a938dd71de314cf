package models

import "time"

// Tier is a tenant subscription level used as a configuration resolution
// key. The empty tier is the default that all lookups fall back to.
type Tier string

const (
	TierDefault      Tier = ""
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// TierConfig is a tier-specific override of a topic's model, template, and
// sampling parameters. Owned by the admin subsystem; the core reads the
// active record per (interaction_code, tier) through a cached resolver.
// At most one record per key is active at a time.
type TierConfig struct {
	ID              string `json:"config_id"`
	InteractionCode string `json:"interaction_code"` // topic binding key
	Tier            Tier   `json:"tier,omitempty"`   // empty = default record

	ModelCode   string   `json:"model_code"`
	TemplateID  string   `json:"template_id"`
	Temperature *float64 `json:"temperature,omitempty"` // nil = topic default
	MaxTokens   *int     `json:"max_tokens,omitempty"`  // nil = topic default

	IsActive       bool       `json:"is_active"`
	EffectiveFrom  time.Time  `json:"effective_from"`
	EffectiveUntil *time.Time `json:"effective_until,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ApplyTo overlays the config's overrides on the topic's defaults.
func (c *TierConfig) ApplyTo(p SamplingParams) SamplingParams {
	if c.Temperature != nil {
		p.Temperature = *c.Temperature
	}
	if c.MaxTokens != nil {
		p.MaxTokens = *c.MaxTokens
	}
	return p
}
