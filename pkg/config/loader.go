package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/arbor-coach/arbor/pkg/models"
)

// ArborYAML is the top-level shape of arbor.yaml.
type ArborYAML struct {
	System   *SystemYAML    `yaml:"system"`
	Topics   map[string]TopicYAML `yaml:"topics"`
	Defaults *Defaults            `yaml:"defaults"`
	Queue    *QueueConfig         `yaml:"queue"`
}

// SystemYAML is the system block of arbor.yaml: infrastructure knobs that
// sit outside any one topic.
type SystemYAML struct {
	AllowedWSOrigins []string             `yaml:"allowed_ws_origins"`
	Slack            *SlackYAML     `yaml:"slack"`
	Blob             *BlobYAML      `yaml:"blob"`
	Cache            *CacheYAML     `yaml:"cache"`
	Retention        *RetentionYAML `yaml:"retention"`
}

// SlackYAML configures the Slack notifier.
type SlackYAML struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}

// BlobYAML holds blob store settings from YAML.
type BlobYAML struct {
	Backend  string `yaml:"backend,omitempty"`
	Bucket   string `yaml:"bucket,omitempty"`
	Region   string `yaml:"region,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

// CacheYAML holds cache backend settings from YAML.
type CacheYAML struct {
	Backend          string `yaml:"backend,omitempty"`
	RedisAddr        string `yaml:"redis_addr,omitempty"`
	RedisPasswordEnv string `yaml:"redis_password_env,omitempty"`
	RedisDB          int    `yaml:"redis_db,omitempty"`
}

// RetentionYAML holds retention settings from YAML as duration strings.
type RetentionYAML struct {
	EventTTL     string `yaml:"event_ttl,omitempty"`
	StuckJobAge  string `yaml:"stuck_job_age,omitempty"`
	ReapInterval string `yaml:"reap_interval,omitempty"`
}

// ModelsYAML is the top-level shape of models.yaml.
type ModelsYAML struct {
	Models map[string]ModelConfig `yaml:"models"`
}

// Load reads arbor.yaml and models.yaml from configDir, lays the user
// entries over the built-in topics and models, and validates the merged
// result. It is the single entry point for obtaining a Config.
func Load(ctx context.Context, configDir string) (*Config, error) {
	slog.Info("Loading configuration", "config_dir", configDir)

	cfg, err := assemble(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := NewValidator(cfg).Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	slog.Info("Configuration ready",
		"config_dir", configDir,
		"topics", stats.Topics,
		"models", stats.Models)

	return cfg, nil
}

func assemble(_ context.Context, configDir string) (*Config, error) {
	arborCfg, err := readArborYAML(configDir)
	if err != nil {
		return nil, NewFileError("arbor.yaml", err)
	}
	userModels, err := readModelsYAML(configDir)
	if err != nil {
		return nil, NewFileError("models.yaml", err)
	}

	builtin := Builtins()
	defaults := resolveDefaults(arborCfg.Defaults, builtin)

	// User entries shadow built-ins with the same ID or code.
	topicDefs := mergeTopics(builtin.Topics, arborCfg.Topics)
	modelDefs := mergeModels(builtin.Models, userModels)

	topics := make(map[string]*models.Topic, len(topicDefs))
	for id, def := range topicDefs {
		topic, err := def.toTopic(id, defaults)
		if err != nil {
			return nil, NewEntryError("topic", id, "", err)
		}
		topics[id] = topic
	}

	queueCfg, err := resolveQueueConfig(arborCfg.Queue)
	if err != nil {
		return nil, err
	}

	sys := arborCfg.System
	return &Config{
		Defaults:         defaults,
		Queue:            queueCfg,
		Retention:        resolveRetentionConfig(sys),
		Slack:            resolveSlackConfig(sys),
		Blob:             resolveBlobConfig(sys),
		Cache:            resolveCacheConfig(sys),
		AllowedWSOrigins: resolveAllowedWSOrigins(sys),
		TopicRegistry:    NewTopicRegistry(topics),
		ModelRegistry:    NewModelRegistry(modelDefs),
	}, nil
}

// readYAML loads dir/name, expands {{.VAR}} environment references, and
// unmarshals the result into target. A missing file surfaces as
// ErrConfigNotFound so callers can decide whether that is fatal.
func readYAML(dir, name string, target any) error {
	path := filepath.Join(dir, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w at %s", ErrConfigNotFound, path)
		}
		return err
	}

	// ExpandEnv hands malformed templates through untouched; the YAML
	// parser then reports the clearer error.
	if err := yaml.Unmarshal(ExpandEnv(raw), target); err != nil {
		return fmt.Errorf("%w in %s: %v", ErrInvalidYAML, name, err)
	}
	return nil
}

func readArborYAML(dir string) (*ArborYAML, error) {
	cfg := ArborYAML{Topics: make(map[string]TopicYAML)}
	if err := readYAML(dir, "arbor.yaml", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// readModelsYAML tolerates a missing models.yaml: the built-in model set
// covers deployments that never override it.
func readModelsYAML(dir string) (map[string]ModelConfig, error) {
	cfg := ModelsYAML{Models: make(map[string]ModelConfig)}
	if err := readYAML(dir, "models.yaml", &cfg); err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			return cfg.Models, nil
		}
		return nil, err
	}
	return cfg.Models, nil
}

// resolveDefaults fills unset defaulting knobs from the built-in config.
func resolveDefaults(d *Defaults, builtin *BuiltinCatalog) *Defaults {
	if d == nil {
		d = &Defaults{}
	}
	if d.ModelCode == "" {
		d.ModelCode = builtin.DefaultModelCode
	}
	if d.EstimatedDuration <= 0 {
		d.EstimatedDuration = DefaultEstimatedDuration
	}
	return d
}

// resolveQueueConfig lays user-set queue fields over the defaults so unset
// fields keep their built-in values.
func resolveQueueConfig(user *QueueConfig) (*QueueConfig, error) {
	cfg := DefaultQueueConfig()
	if user == nil {
		return cfg, nil
	}
	if err := mergo.Merge(cfg, user, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge queue config: %w", err)
	}
	return cfg, nil
}

// override copies v into dst when v is non-empty.
func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// resolveSlackConfig applies YAML Slack settings over the
// disabled-by-default baseline.
func resolveSlackConfig(sys *SystemYAML) *SlackConfig {
	cfg := &SlackConfig{TokenEnv: "SLACK_BOT_TOKEN"}
	if sys == nil || sys.Slack == nil {
		return cfg
	}
	if sys.Slack.Enabled != nil {
		cfg.Enabled = *sys.Slack.Enabled
	}
	override(&cfg.TokenEnv, sys.Slack.TokenEnv)
	override(&cfg.Channel, sys.Slack.Channel)
	return cfg
}

func resolveBlobConfig(sys *SystemYAML) *BlobConfig {
	cfg := &BlobConfig{Backend: BlobBackendMemory, Region: "us-east-1"}
	if sys == nil || sys.Blob == nil {
		return cfg
	}
	b := sys.Blob
	if b.Backend != "" {
		cfg.Backend = BlobBackend(b.Backend)
	}
	override(&cfg.Bucket, b.Bucket)
	override(&cfg.Region, b.Region)
	override(&cfg.Prefix, b.Prefix)
	override(&cfg.Endpoint, b.Endpoint)
	return cfg
}

func resolveCacheConfig(sys *SystemYAML) *CacheConfig {
	cfg := &CacheConfig{Backend: CacheBackendMemory}
	if sys == nil || sys.Cache == nil {
		return cfg
	}
	c := sys.Cache
	if c.Backend != "" {
		cfg.Backend = CacheBackend(c.Backend)
	}
	override(&cfg.RedisAddr, c.RedisAddr)
	override(&cfg.RedisPasswordEnv, c.RedisPasswordEnv)
	cfg.RedisDB = c.RedisDB
	return cfg
}

// resolveRetentionConfig parses retention durations, keeping the default for
// any field that is absent or malformed.
func resolveRetentionConfig(sys *SystemYAML) *RetentionConfig {
	cfg := DefaultRetentionConfig()
	if sys == nil || sys.Retention == nil {
		return cfg
	}
	applyDuration(&cfg.EventTTL, sys.Retention.EventTTL, "event_ttl")
	applyDuration(&cfg.StuckJobAge, sys.Retention.StuckJobAge, "stuck_job_age")
	applyDuration(&cfg.ReapInterval, sys.Retention.ReapInterval, "reap_interval")
	return cfg
}

func applyDuration(dst *time.Duration, raw, field string) {
	if raw == "" {
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("Invalid duration in retention config, using default",
			"field", field,
			"value", raw,
			"default", *dst,
			"error", err)
		return
	}
	*dst = d
}

func resolveAllowedWSOrigins(sys *SystemYAML) []string {
	if sys == nil {
		return nil
	}
	return sys.AllowedWSOrigins
}
