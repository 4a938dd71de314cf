package storage

import (
	"context"
	"sync"
	"time"

	"github.com/arbor-coach/arbor/pkg/models"
)

// MemoryConfigStore is an in-memory ConfigStore.
type MemoryConfigStore struct {
	mu      sync.Mutex
	configs map[string]*models.TierConfig
}

// NewMemoryConfigStore creates an empty in-memory config store.
func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{configs: make(map[string]*models.TierConfig)}
}

func (s *MemoryConfigStore) GetActive(_ context.Context, interactionCode string, tier models.Tier, now time.Time) (*models.TierConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.TierConfig
	for _, cfg := range s.configs {
		if cfg.InteractionCode != interactionCode || cfg.Tier != tier || !cfg.IsActive {
			continue
		}
		if cfg.EffectiveFrom.After(now) {
			continue
		}
		if cfg.EffectiveUntil != nil && !cfg.EffectiveUntil.After(now) {
			continue
		}
		if best == nil || cfg.EffectiveFrom.After(best.EffectiveFrom) {
			best = cfg
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	c := *best
	c.Temperature = clonePtr(best.Temperature)
	c.MaxTokens = clonePtr(best.MaxTokens)
	c.EffectiveUntil = clonePtr(best.EffectiveUntil)
	return &c, nil
}

func (s *MemoryConfigStore) Put(_ context.Context, cfg *models.TierConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *cfg
	c.Temperature = clonePtr(cfg.Temperature)
	c.MaxTokens = clonePtr(cfg.MaxTokens)
	c.EffectiveUntil = clonePtr(cfg.EffectiveUntil)
	s.configs[cfg.ID] = &c
	return nil
}

// MemoryTemplateStore is an in-memory TemplateStore.
type MemoryTemplateStore struct {
	mu        sync.Mutex
	templates map[string]*models.Template
}

// NewMemoryTemplateStore creates an empty in-memory template store.
func NewMemoryTemplateStore() *MemoryTemplateStore {
	return &MemoryTemplateStore{templates: make(map[string]*models.Template)}
}

func (s *MemoryTemplateStore) Get(_ context.Context, id string) (*models.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *tpl
	if tpl.RequiredParameters != nil {
		c.RequiredParameters = append([]string(nil), tpl.RequiredParameters...)
	}
	return &c, nil
}

func (s *MemoryTemplateStore) Put(_ context.Context, tpl *models.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *tpl
	if tpl.RequiredParameters != nil {
		c.RequiredParameters = append([]string(nil), tpl.RequiredParameters...)
	}
	s.templates[tpl.ID] = &c
	return nil
}

// NewMemoryStores bundles fresh in-memory stores, for tests and the
// storage-less dev mode.
func NewMemoryStores() Stores {
	return Stores{
		Jobs:      NewMemoryJobStore(),
		Sessions:  NewMemorySessionStore(),
		Configs:   NewMemoryConfigStore(),
		Templates: NewMemoryTemplateStore(),
	}
}
