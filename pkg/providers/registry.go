package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/arbor-coach/arbor/pkg/config"
)

// Registration pairs a constructed provider with the capability flags of
// its model registration.
type Registration struct {
	Provider          Provider
	Model             string
	SupportsStreaming bool
	MaxContextTokens  int
}

// Registry resolves model codes to ready provider clients. It is built
// once at startup from the model registrations and is read-only in
// steady state.
type Registry struct {
	providers map[string]*Registration
	mu        sync.RWMutex
}

// NewRegistry constructs a vendor client for every registered model.
// Construction fails fast when a client cannot be built, for example
// because an API key environment variable is unset.
func NewRegistry(mdls *config.ModelRegistry) (*Registry, error) {
	providers := make(map[string]*Registration)
	for code, mc := range mdls.GetAll() {
		p, err := newProvider(mc)
		if err != nil {
			return nil, fmt.Errorf("building provider for model %q: %w", code, err)
		}
		providers[code] = &Registration{
			Provider:          p,
			Model:             mc.Model,
			SupportsStreaming: mc.SupportsStreaming,
			MaxContextTokens:  mc.MaxContextTokens,
		}
	}
	return &Registry{providers: providers}, nil
}

func newProvider(mc *config.ModelConfig) (Provider, error) {
	switch mc.Provider {
	case config.ProviderTypeAnthropic:
		return NewAnthropicProvider(mc)
	case config.ProviderTypeOpenAI:
		return NewOpenAIProvider(mc)
	case config.ProviderTypeFake:
		return NewFakeProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", mc.Provider)
	}
}

// Get retrieves the registration for a model code (thread-safe)
func (r *Registry) Get(modelCode string) (*Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, exists := r.providers[modelCode]
	if !exists {
		return nil, fmt.Errorf("%w: %s", config.ErrModelNotFound, modelCode)
	}
	return reg, nil
}

// Has checks if a model code has a registered provider (thread-safe)
func (r *Registry) Has(modelCode string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.providers[modelCode]
	return exists
}

// Register installs or replaces a registration. Tests use it to script
// fakes behind real model codes.
func (r *Registry) Register(modelCode string, reg *Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[modelCode] = reg
}

// Len returns the number of registrations (thread-safe)
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// Codes returns a sorted list of all registered model codes.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	codes := make([]string, 0, len(r.providers))
	for code := range r.providers {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
