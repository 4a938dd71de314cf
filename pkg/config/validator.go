package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/arbor-coach/arbor/pkg/models"
)

// Validator checks a merged Config before the server starts taking
// traffic. Validation is fail-fast: the first problem aborts startup with
// an error naming the component, ID, and field.
type Validator struct {
	cfg *Config
}

func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// Validate runs every check. Models go first since topics reference
// them by code.
func (v *Validator) Validate() error {
	checks := []struct {
		scope string
		run   func() error
	}{
		{"model", v.validateModels},
		{"topic", v.validateTopics},
		{"queue", v.validateQueue},
		{"system", v.validateSystem},
	}
	for _, c := range checks {
		if err := c.run(); err != nil {
			return fmt.Errorf("%s validation failed: %w", c.scope, err)
		}
	}
	return nil
}

func (v *Validator) validateModels() error {
	for code, model := range v.cfg.ModelRegistry.GetAll() {
		if err := checkModel(code, model); err != nil {
			return err
		}
	}
	return nil
}

func checkModel(code string, m *ModelConfig) error {
	if !m.Provider.IsValid() {
		return NewEntryError("model", code, "provider", fmt.Errorf("invalid provider type: %s", m.Provider))
	}
	if m.Model == "" {
		return NewEntryError("model", code, "model", fmt.Errorf("model identifier required"))
	}

	// The fake provider needs no credentials; everything else must have
	// its key present at startup, not at first call.
	if m.Provider != ProviderTypeFake && m.APIKeyEnv != "" {
		if os.Getenv(m.APIKeyEnv) == "" {
			return NewEntryError("model", code, "api_key_env", fmt.Errorf("environment variable %s is not set", m.APIKeyEnv))
		}
	}

	if m.MaxContextTokens < 1000 {
		return NewEntryError("model", code, "max_context_tokens", fmt.Errorf("must be at least 1000"))
	}
	return nil
}

func (v *Validator) validateTopics() error {
	for id, topic := range v.cfg.TopicRegistry.GetAll() {
		if err := v.checkTopic(id, topic); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) checkTopic(id string, topic *models.Topic) error {
	if topic.Kind != models.JobKindCoachingMessage && topic.Kind != models.JobKindSingleShotAnalysis {
		return NewEntryError("topic", id, "kind", fmt.Errorf("invalid kind: %s", topic.Kind))
	}

	if topic.ModelCode == "" {
		return NewEntryError("topic", id, "model_code", fmt.Errorf("model code required"))
	}
	if !v.cfg.ModelRegistry.Has(topic.ModelCode) {
		return NewEntryError("topic", id, "model_code", fmt.Errorf("%w: model '%s' not found", ErrDanglingRef, topic.ModelCode))
	}

	if topic.Temperature < 0 || topic.Temperature > 2 {
		return NewEntryError("topic", id, "temperature", fmt.Errorf("must be between 0 and 2"))
	}
	if topic.MaxTokens < 1 {
		return NewEntryError("topic", id, "max_tokens", fmt.Errorf("must be at least 1"))
	}
	if topic.TopP <= 0 || topic.TopP > 1 {
		return NewEntryError("topic", id, "top_p", fmt.Errorf("must be in (0, 1]"))
	}
	if topic.MaxTurns < 0 {
		return NewEntryError("topic", id, "max_turns", fmt.Errorf("must not be negative"))
	}

	// Both kinds render a user prompt; a system prompt is optional.
	if topic.PromptRefs.User == "" {
		return NewEntryError("topic", id, "prompt_refs.user", fmt.Errorf("user prompt ref required"))
	}

	if err := validateSchemaJSON(topic.ParamSchema); err != nil {
		return NewEntryError("topic", id, "param_schema", err)
	}
	if err := validateSchemaJSON(topic.ResultSchema); err != nil {
		return NewEntryError("topic", id, "result_schema", err)
	}
	return nil
}

// validateSchemaJSON checks a schema blob parses as a JSON object. Deep
// schema compilation happens where the schema is used.
func validateSchemaJSON(raw json.RawMessage) error {
	if raw == nil {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("not a JSON object: %w", err)
	}
	return nil
}

func (v *Validator) validateQueue() error {
	q := v.cfg.Queue
	switch {
	case q.WorkerCount < 1:
		return NewEntryError("queue", "queue", "worker_count", fmt.Errorf("must be at least 1"))
	case q.PollInterval <= 0:
		return NewEntryError("queue", "queue", "poll_interval", fmt.Errorf("must be positive"))
	case q.PollJitter < 0:
		return NewEntryError("queue", "queue", "poll_jitter", fmt.Errorf("must not be negative"))
	case q.JobTimeout <= 0:
		return NewEntryError("queue", "queue", "job_timeout", fmt.Errorf("must be positive"))
	case q.DrainTimeout <= 0:
		return NewEntryError("queue", "queue", "drain_timeout", fmt.Errorf("must be positive"))
	}
	return nil
}

func (v *Validator) validateSystem() error {
	if b := v.cfg.Blob; b != nil {
		if !b.Backend.IsValid() {
			return NewEntryError("system", "blob", "backend", fmt.Errorf("invalid blob backend: %s", b.Backend))
		}
		if b.Backend == BlobBackendS3 && b.Bucket == "" {
			return NewEntryError("system", "blob", "bucket", fmt.Errorf("bucket required for s3 backend"))
		}
	}

	if c := v.cfg.Cache; c != nil {
		if !c.Backend.IsValid() {
			return NewEntryError("system", "cache", "backend", fmt.Errorf("invalid cache backend: %s", c.Backend))
		}
		if c.Backend == CacheBackendRedis && c.RedisAddr == "" {
			return NewEntryError("system", "cache", "redis_addr", fmt.Errorf("redis_addr required for redis backend"))
		}
	}

	if s := v.cfg.Slack; s != nil && s.Enabled {
		if s.Channel == "" {
			return NewEntryError("system", "slack", "channel", fmt.Errorf("channel required when enabled"))
		}
		if os.Getenv(s.TokenEnv) == "" {
			return NewEntryError("system", "slack", "token_env", fmt.Errorf("environment variable %s is not set", s.TokenEnv))
		}
	}

	return nil
}
