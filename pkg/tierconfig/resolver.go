// Package tierconfig resolves the effective tier configuration for an
// interaction: the tier-specific active record when one exists, otherwise
// the default record, cached for 15 minutes per (interaction, tier) key.
// Records are reference-checked before they enter the cache, so a cached
// hit is always executable.
package tierconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/arbor-coach/arbor/pkg/cache"
	"github.com/arbor-coach/arbor/pkg/config"
	"github.com/arbor-coach/arbor/pkg/models"
	"github.com/arbor-coach/arbor/pkg/providers"
	"github.com/arbor-coach/arbor/pkg/storage"
	"github.com/arbor-coach/arbor/pkg/templates"
)

// CacheTTL bounds configuration staleness after admin mutations that were
// not followed by an explicit invalidation.
const CacheTTL = 15 * time.Minute

var (
	// ErrConfigNotFound means neither a tier-specific nor a default record
	// is active for the interaction.
	ErrConfigNotFound = errors.New("configuration not found")

	// ErrInvalidReference means the active record points at an unknown
	// interaction, model, or template. The record is unusable; resolution
	// fails rather than silently falling back.
	ErrInvalidReference = errors.New("configuration reference invalid")
)

// Resolver yields effective tier configurations through a read-through
// cache.
type Resolver struct {
	store     storage.ConfigStore
	topics    *config.TopicRegistry
	registry  *providers.Registry
	templates *templates.Service
	cache     cache.Cache[*models.TierConfig]
	logger    *slog.Logger
}

// NewResolver creates a resolver with an in-process cache.
func NewResolver(store storage.ConfigStore, topics *config.TopicRegistry, registry *providers.Registry, tpls *templates.Service) *Resolver {
	return NewResolverWithCache(store, topics, registry, tpls,
		cache.NewMemory[*models.TierConfig]("tier_config", CacheTTL))
}

// NewResolverWithCache creates a resolver over a caller-provided cache, for
// deployments that share it through Redis.
func NewResolverWithCache(store storage.ConfigStore, topics *config.TopicRegistry, registry *providers.Registry, tpls *templates.Service, c cache.Cache[*models.TierConfig]) *Resolver {
	return &Resolver{
		store:     store,
		topics:    topics,
		registry:  registry,
		templates: tpls,
		cache:     c,
		logger:    slog.Default().With("component", "tierconfig"),
	}
}

// Resolve returns the effective configuration for (interactionCode, tier):
// the tier-specific active record, else the default record, else
// ErrConfigNotFound. Found records are validated before caching.
func (r *Resolver) Resolve(ctx context.Context, interactionCode string, tier models.Tier) (*models.TierConfig, error) {
	key := cacheKey(interactionCode, tier)
	if cfg, ok := r.cache.Get(ctx, key); ok {
		return cfg, nil
	}

	now := time.Now().UTC()
	fellBack := false
	cfg, err := r.store.GetActive(ctx, interactionCode, tier, now)
	if errors.Is(err, storage.ErrNotFound) && tier != models.TierDefault {
		fellBack = true
		cfg, err = r.store.GetActive(ctx, interactionCode, models.TierDefault, now)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: interaction %s tier %q", ErrConfigNotFound, interactionCode, tier)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve configuration: %w", err)
	}

	if err := r.validate(ctx, cfg); err != nil {
		return nil, err
	}

	r.cache.Set(ctx, key, cfg, CacheTTL)
	if fellBack {
		// The default record just proved itself; populate its own key too so
		// other tiers falling back skip the store.
		r.cache.Set(ctx, cacheKey(interactionCode, models.TierDefault), cfg, CacheTTL)
	}
	return cfg, nil
}

// Invalidate evicts the cache entry for (interactionCode, tier). Callers
// invalidate both the mutated tier and the default when a default record
// changes, since other tiers may be riding on it.
func (r *Resolver) Invalidate(ctx context.Context, interactionCode string, tier models.Tier) {
	r.cache.Delete(ctx, cacheKey(interactionCode, tier))
	r.logger.Info("Configuration cache invalidated",
		"interaction_code", interactionCode, "tier", string(tier))
}

func (r *Resolver) validate(ctx context.Context, cfg *models.TierConfig) error {
	if !r.topics.Has(cfg.InteractionCode) {
		return fmt.Errorf("%w: config %s interaction %q not registered", ErrInvalidReference, cfg.ID, cfg.InteractionCode)
	}
	if !r.registry.Has(cfg.ModelCode) {
		return fmt.Errorf("%w: config %s model %q not registered", ErrInvalidReference, cfg.ID, cfg.ModelCode)
	}
	tpl, err := r.templates.Get(ctx, cfg.TemplateID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: config %s template %q not found", ErrInvalidReference, cfg.ID, cfg.TemplateID)
	}
	if err != nil {
		return fmt.Errorf("validate configuration %s: %w", cfg.ID, err)
	}
	if !tpl.IsActive {
		return fmt.Errorf("%w: config %s template %q is inactive", ErrInvalidReference, cfg.ID, cfg.TemplateID)
	}
	return nil
}

func cacheKey(interactionCode string, tier models.Tier) string {
	t := string(tier)
	if t == "" {
		t = "*"
	}
	return "cfg:" + interactionCode + ":" + t
}
