package config

import (
	"fmt"
	"sort"
	"sync"
)

// ModelConfig registers one invokable model under a model code. Topics and
// tier configurations reference models by code; the provider layer builds
// vendor clients from these registrations.
type ModelConfig struct {
	// Provider type (required)
	Provider ProviderType `yaml:"provider"`

	// Vendor model identifier (required), e.g. "claude-sonnet-4-20250514"
	Model string `yaml:"model"`

	// Environment variable name for the API key
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// Optional custom endpoint/base URL (OpenAI-compatible gateways)
	BaseURL string `yaml:"base_url,omitempty"`

	// Maximum context window in tokens (required, min 1000)
	MaxContextTokens int `yaml:"max_context_tokens"`

	// Whether the vendor endpoint supports token streaming. The core never
	// depends on streaming; the flag is informational for callers that do.
	SupportsStreaming bool `yaml:"supports_streaming,omitempty"`
}

// ModelRegistry stores model registrations in memory with thread-safe access,
// keyed by model code.
type ModelRegistry struct {
	models map[string]*ModelConfig
	mu     sync.RWMutex
}

// NewModelRegistry creates a new model registry
func NewModelRegistry(models map[string]*ModelConfig) *ModelRegistry {
	// Defensive copy to prevent external mutation
	copied := make(map[string]*ModelConfig, len(models))
	for k, v := range models {
		copied[k] = v
	}
	return &ModelRegistry{
		models: copied,
	}
}

// Get retrieves a model registration by model code (thread-safe)
func (r *ModelRegistry) Get(modelCode string) (*ModelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	model, exists := r.models[modelCode]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, modelCode)
	}
	return model, nil
}

// GetAll returns all model registrations (thread-safe, returns copy)
func (r *ModelRegistry) GetAll() map[string]*ModelConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*ModelConfig, len(r.models))
	for k, v := range r.models {
		result[k] = v
	}
	return result
}

// Has checks if a model code exists in the registry (thread-safe)
func (r *ModelRegistry) Has(modelCode string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.models[modelCode]
	return exists
}

// Len returns the number of model registrations (thread-safe)
func (r *ModelRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}

// Codes returns a sorted list of all registered model codes.
func (r *ModelRegistry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	codes := make([]string, 0, len(r.models))
	for code := range r.models {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
