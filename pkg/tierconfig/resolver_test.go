package tierconfig

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-coach/arbor/pkg/blob"
	"github.com/arbor-coach/arbor/pkg/config"
	"github.com/arbor-coach/arbor/pkg/models"
	"github.com/arbor-coach/arbor/pkg/providers"
	"github.com/arbor-coach/arbor/pkg/storage"
	"github.com/arbor-coach/arbor/pkg/templates"
)

type countingConfigStore struct {
	storage.ConfigStore
	gets int
}

func (s *countingConfigStore) GetActive(ctx context.Context, interactionCode string, tier models.Tier, now time.Time) (*models.TierConfig, error) {
	s.gets++
	return s.ConfigStore.GetActive(ctx, interactionCode, tier, now)
}

type resolverEnv struct {
	resolver *Resolver
	configs  *countingConfigStore
	raw      *storage.MemoryConfigStore
}

func setupResolver(t *testing.T) *resolverEnv {
	t.Helper()
	ctx := context.Background()

	topics := config.NewTopicRegistry(map[string]*models.Topic{
		"career-coaching": {ID: "career-coaching", Kind: models.JobKindCoachingMessage, ModelCode: "fake-model"},
	})

	registry, err := providers.NewRegistry(config.NewModelRegistry(map[string]*config.ModelConfig{
		"fake-model": {Provider: config.ProviderTypeFake, Model: "fake-1", MaxContextTokens: 10000},
	}))
	require.NoError(t, err)

	tplStore := storage.NewMemoryTemplateStore()
	require.NoError(t, tplStore.Put(ctx, &models.Template{
		ID: "tpl-1", TemplateCode: "career-user", InteractionCode: "career-coaching",
		BlobRef: "prompts/career/user.tmpl", IsActive: true,
	}))
	require.NoError(t, tplStore.Put(ctx, &models.Template{
		ID: "tpl-retired", BlobRef: "prompts/retired.tmpl", IsActive: false,
	}))
	tpls := templates.NewService(tplStore, blob.NewMemory())

	raw := storage.NewMemoryConfigStore()
	configs := &countingConfigStore{ConfigStore: raw}
	return &resolverEnv{
		resolver: NewResolver(configs, topics, registry, tpls),
		configs:  configs,
		raw:      raw,
	}
}

func putConfig(t *testing.T, env *resolverEnv, cfg *models.TierConfig) {
	t.Helper()
	if cfg.EffectiveFrom.IsZero() {
		cfg.EffectiveFrom = time.Now().Add(-time.Hour)
	}
	if cfg.ModelCode == "" {
		cfg.ModelCode = "fake-model"
	}
	if cfg.TemplateID == "" {
		cfg.TemplateID = "tpl-1"
	}
	cfg.IsActive = true
	require.NoError(t, env.raw.Put(context.Background(), cfg))
}

func TestResolveTierSpecific(t *testing.T) {
	env := setupResolver(t)
	putConfig(t, env, &models.TierConfig{ID: "cfg-default", InteractionCode: "career-coaching"})
	putConfig(t, env, &models.TierConfig{ID: "cfg-pro", InteractionCode: "career-coaching", Tier: models.TierProfessional})

	cfg, err := env.resolver.Resolve(context.Background(), "career-coaching", models.TierProfessional)
	require.NoError(t, err)
	assert.Equal(t, "cfg-pro", cfg.ID)
}

func TestResolveFallsBackToDefault(t *testing.T) {
	env := setupResolver(t)
	putConfig(t, env, &models.TierConfig{ID: "cfg-default", InteractionCode: "career-coaching"})

	cfg, err := env.resolver.Resolve(context.Background(), "career-coaching", models.TierStarter)
	require.NoError(t, err)
	assert.Equal(t, "cfg-default", cfg.ID)
}

func TestResolveNotFound(t *testing.T) {
	env := setupResolver(t)

	_, err := env.resolver.Resolve(context.Background(), "career-coaching", models.TierStarter)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestResolveCaches(t *testing.T) {
	env := setupResolver(t)
	putConfig(t, env, &models.TierConfig{ID: "cfg-pro", InteractionCode: "career-coaching", Tier: models.TierProfessional})
	ctx := context.Background()

	_, err := env.resolver.Resolve(ctx, "career-coaching", models.TierProfessional)
	require.NoError(t, err)
	_, err = env.resolver.Resolve(ctx, "career-coaching", models.TierProfessional)
	require.NoError(t, err)
	assert.Equal(t, 1, env.configs.gets, "second resolve should hit the cache")

	env.resolver.Invalidate(ctx, "career-coaching", models.TierProfessional)

	_, err = env.resolver.Resolve(ctx, "career-coaching", models.TierProfessional)
	require.NoError(t, err)
	assert.Equal(t, 2, env.configs.gets, "invalidation should force a store read")
}

func TestResolveMissesAreNotCached(t *testing.T) {
	env := setupResolver(t)
	ctx := context.Background()

	_, err := env.resolver.Resolve(ctx, "career-coaching", models.TierDefault)
	assert.ErrorIs(t, err, ErrConfigNotFound)

	putConfig(t, env, &models.TierConfig{ID: "cfg-default", InteractionCode: "career-coaching"})

	cfg, err := env.resolver.Resolve(ctx, "career-coaching", models.TierDefault)
	require.NoError(t, err)
	assert.Equal(t, "cfg-default", cfg.ID)
}

func TestResolveValidatesReferences(t *testing.T) {
	tests := []struct {
		name string
		cfg  *models.TierConfig
	}{
		{"unknown interaction", &models.TierConfig{ID: "c1", InteractionCode: "no-such-topic"}},
		{"unknown model", &models.TierConfig{ID: "c2", InteractionCode: "career-coaching", ModelCode: "no-such-model"}},
		{"missing template", &models.TierConfig{ID: "c3", InteractionCode: "career-coaching", TemplateID: "no-such-template"}},
		{"inactive template", &models.TierConfig{ID: "c4", InteractionCode: "career-coaching", TemplateID: "tpl-retired"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupResolver(t)
			putConfig(t, env, tt.cfg)

			_, err := env.resolver.Resolve(context.Background(), tt.cfg.InteractionCode, models.TierDefault)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidReference)
		})
	}
}

func TestResolveExpiredTierRecordFallsBack(t *testing.T) {
	env := setupResolver(t)
	past := time.Now().Add(-time.Minute)
	putConfig(t, env, &models.TierConfig{ID: "cfg-default", InteractionCode: "career-coaching"})
	putConfig(t, env, &models.TierConfig{
		ID: "cfg-pro-expired", InteractionCode: "career-coaching", Tier: models.TierProfessional,
		EffectiveFrom: time.Now().Add(-time.Hour), EffectiveUntil: &past,
	})

	cfg, err := env.resolver.Resolve(context.Background(), "career-coaching", models.TierProfessional)
	require.NoError(t, err)
	assert.Equal(t, "cfg-default", cfg.ID)
}
