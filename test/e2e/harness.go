// Package e2e boots complete arbor instances against a real PostgreSQL
// database and exercises the full submit → claim → execute → deliver path
// over HTTP and WebSocket, including cross-pod NOTIFY/LISTEN delivery.
package e2e

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arbor-coach/arbor/pkg/api"
	"github.com/arbor-coach/arbor/pkg/blob"
	"github.com/arbor-coach/arbor/pkg/config"
	"github.com/arbor-coach/arbor/pkg/database"
	"github.com/arbor-coach/arbor/pkg/engine"
	"github.com/arbor-coach/arbor/pkg/events"
	"github.com/arbor-coach/arbor/pkg/metrics"
	"github.com/arbor-coach/arbor/pkg/models"
	"github.com/arbor-coach/arbor/pkg/notify"
	"github.com/arbor-coach/arbor/pkg/providers"
	"github.com/arbor-coach/arbor/pkg/queue"
	"github.com/arbor-coach/arbor/pkg/services"
	"github.com/arbor-coach/arbor/pkg/storage"
	"github.com/arbor-coach/arbor/pkg/templates"
	"github.com/arbor-coach/arbor/pkg/tierconfig"
	testdb "github.com/arbor-coach/arbor/test/database"
	"github.com/arbor-coach/arbor/test/util"
)

// TestApp boots a complete arbor instance for e2e testing. It exposes the
// handles tests reach into directly; everything else stays wired up inside
// NewTestApp and is torn down through t.Cleanup.
type TestApp struct {
	DBClient *database.Client
	Stores   storage.Stores

	// Test doubles
	Fake  *providers.FakeProvider
	Blobs *blob.Memory

	// Publisher writes outbox rows directly, bypassing the HTTP surface.
	// Delivery tests use it to stage events for catchup.
	Publisher *events.PostgresPublisher

	BaseURL  string          // e.g. "http://127.0.0.1:54321"
	WSURL    string          // e.g. "ws://127.0.0.1:54321/api/v1/ws"
	Identity models.Identity // default identity sent by the HTTP helpers

	t *testing.T
}

// appOptions accumulates harness knobs before boot.
type appOptions struct {
	workerCount int
	jobTimeout  time.Duration
	podID       string           // custom pod ID (for multi-replica tests)
	dbClient    *database.Client // injected DB client (for multi-replica tests)
	notifier    *notify.Service  // optional Slack notifier (for notification tests)
	topics      map[string]*models.Topic
	identity    *models.Identity
}

// AppOption adjusts one harness knob.
type AppOption func(*appOptions)

// WithWorkerCount sets the number of worker goroutines. Zero is valid and
// produces an API/WS-only replica that never claims jobs.
func WithWorkerCount(n int) AppOption {
	return func(o *appOptions) { o.workerCount = n }
}

// WithJobTimeout sets the per-job provider deadline.
func WithJobTimeout(d time.Duration) AppOption {
	return func(o *appOptions) { o.jobTimeout = d }
}

// WithPodID pins the claim identity. Multi-replica tests need a distinct,
// stable ID per replica.
func WithPodID(id string) AppOption {
	return func(o *appOptions) { o.podID = id }
}

// WithDBClient reuses an existing database client instead of provisioning
// a fresh schema. Replicas in multi-pod tests point at one schema this way.
func WithDBClient(client *database.Client) AppOption {
	return func(o *appOptions) { o.dbClient = client }
}

// WithNotifier injects a Slack notification service into the worker pool.
// Used for testing operator notifications against a mock Slack API.
func WithNotifier(svc *notify.Service) AppOption {
	return func(o *appOptions) { o.notifier = svc }
}

// WithTopics replaces the default topic catalog.
func WithTopics(topics map[string]*models.Topic) AppOption {
	return func(o *appOptions) { o.topics = topics }
}

// WithIdentity sets the default caller identity. Multi-replica tests pass
// the same identity to every replica so they share one user channel.
func WithIdentity(identity models.Identity) AppOption {
	return func(o *appOptions) { o.identity = &identity }
}

// NewTestApp boots a full arbor instance and registers teardown on
// t.Cleanup. The zero-option call gives two workers on a fresh schema.
func NewTestApp(t *testing.T, opts ...AppOption) *TestApp {
	t.Helper()
	ctx := context.Background()

	// Apply options.
	o := &appOptions{
		workerCount: 2,
		jobTimeout:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}

	identity := testIdentity()
	if o.identity != nil {
		identity = *o.identity
	}
	topics := o.topics
	if topics == nil {
		topics = defaultTestTopics()
	}

	cfg := &config.Config{
		Defaults: &config.Defaults{EstimatedDuration: 2 * time.Second},
		Queue: &config.QueueConfig{
			WorkerCount:       o.workerCount,
			PollInterval:      500 * time.Millisecond,
			PollJitter:        100 * time.Millisecond,
			JobTimeout:        o.jobTimeout,
			DrainTimeout:      10 * time.Second,
			OrphanGraceWindow: 30 * time.Second,
		},
		Retention:     config.DefaultRetentionConfig(),
		TopicRegistry: config.NewTopicRegistry(topics),
		ModelRegistry: config.NewModelRegistry(map[string]*config.ModelConfig{
			"fake-model": {Provider: config.ProviderTypeFake, Model: "fake-1", MaxContextTokens: 100000},
		}),
	}

	// 1. Database — per-test schema by default, injected client when
	// replicas share one schema.
	var dbClient *database.Client
	if o.dbClient != nil {
		dbClient = o.dbClient
	} else {
		dbClient = testdb.Open(t)
	}
	stores := storage.NewPostgresStores(dbClient.DB())

	// 2. Event bus — real outbox publisher backed by the test DB.
	publisher := events.NewPostgresPublisher(dbClient.DB())
	eventStore := events.NewEventStore(dbClient.DB())
	hub := events.NewHub(eventStore, 5*time.Second)

	// 3. NOTIFY listener — dedicated pgx connection on the base connection
	// string. pg_notify channels are database-global, so the listener needs
	// no search_path.
	listener := events.NewListener(util.BaseDSN(t), hub)
	require.NoError(t, listener.Start(ctx))
	hub.AttachListener(listener)

	// 4. Execution engine on the fake provider.
	registry, err := providers.NewRegistry(cfg.ModelRegistry)
	require.NoError(t, err)
	fake := providers.NewFakeProvider()
	registry.Register("fake-model", &providers.Registration{Provider: fake, Model: "fake-1"})

	blobs := blob.NewMemory()
	seedPromptBlobs(blobs)
	seedCatalog(t, stores)

	tpls := templates.NewService(stores.Templates, blobs)
	resolver := tierconfig.NewResolver(stores.Configs, cfg.TopicRegistry, registry, tpls)
	eng := engine.New(resolver, tpls, registry)

	// 5. Domain services.
	m := metrics.New()
	sessionService := services.NewSessionService(stores.Sessions, cfg.TopicRegistry, publisher)
	intakeService := services.NewIntakeService(stores.Jobs, sessionService, cfg.TopicRegistry, publisher, *cfg.Defaults, m)
	jobService := services.NewJobService(stores.Jobs)

	// 6. Worker pool — wake hints arrive through the listener, so the pool
	// registers as a sink and the jobs channel gets a LISTEN before any
	// submission can race it.
	podID := o.podID
	if podID == "" {
		podID = fmt.Sprintf("e2e-%s", t.Name())
	}
	pool := queue.NewPool(podID, stores, sessionService, cfg.TopicRegistry, eng, publisher, cfg.Queue, m, o.notifier)
	listener.AddSink(pool)
	require.NoError(t, listener.Subscribe(ctx, events.JobsChannel))
	require.NoError(t, pool.Start(ctx))

	// 7. HTTP server on a random port.
	server := api.NewServer(cfg, stores, intakeService, jobService, sessionService, hub)
	server.SetPool(pool)
	server.AttachListener(listener)
	server.SetResolver(resolver)
	server.SetTemplates(tpls)
	server.SetMetrics(m)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		_ = server.StartWithListener(lis)
	}()

	addr := lis.Addr().String()

	app := &TestApp{
		DBClient:  dbClient,
		Stores:    stores,
		Fake:      fake,
		Blobs:     blobs,
		Publisher: publisher,
		BaseURL:   fmt.Sprintf("http://%s", addr),
		WSURL:     fmt.Sprintf("ws://%s/api/v1/ws", addr),
		Identity:  identity,
		t:         t,
	}

	// Stop claiming before anything else so shutdown never races a
	// mid-flight job, then drain HTTP, then the bus.
	t.Cleanup(func() {
		pool.Stop()
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(stopCtx)
		listener.Stop(context.Background())
		// DB cleanup handled by testdb.Open / SharedSchema.
	})

	return app
}

// testIdentity returns a caller identity with a unique user ID. NOTIFY
// channels are database-global while test schemas are not, so parallel
// tests sharing a user channel name would see each other's events.
func testIdentity() models.Identity {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return models.Identity{
		TenantID: "acme",
		UserID:   "u-" + hex.EncodeToString(buf),
		Tier:     models.TierProfessional,
	}
}

// defaultTestTopics returns the standard catalog: one coaching topic with a
// three-turn cap and a completion marker, and one single-shot analysis topic
// with a parameter schema.
func defaultTestTopics() map[string]*models.Topic {
	summarySchema := json.RawMessage(`{
		"type": "object",
		"required": ["summary"],
		"properties": {"summary": {"type": "string"}}
	}`)
	return map[string]*models.Topic{
		"career-coaching": {
			ID:               "career-coaching",
			Kind:             models.JobKindCoachingMessage,
			ModelCode:        "fake-model",
			Temperature:      0.7,
			MaxTokens:        512,
			PromptRefs:       models.PromptRefs{System: "prompts/career/system.tmpl", User: "prompts/career/user.tmpl"},
			MaxTurns:         3,
			CompletionMarker: "[COACHING_COMPLETE]",
			ResultSchema:     summarySchema,
			IsActive:         true,
		},
		"weekly-reflection": {
			ID:           "weekly-reflection",
			Kind:         models.JobKindSingleShotAnalysis,
			ModelCode:    "fake-model",
			Temperature:  0.2,
			MaxTokens:    1024,
			PromptRefs:   models.PromptRefs{System: "prompts/weekly/system.tmpl", User: "prompts/weekly/user.tmpl"},
			ParamSchema:  json.RawMessage(`{"type": "object", "required": ["entries"], "properties": {"entries": {"type": "array", "minItems": 1}}}`),
			ResultSchema: summarySchema,
			IsActive:     true,
		},
	}
}

// seedPromptBlobs loads the prompt bodies into the in-process blob store.
// Blobs are per-app state, so every replica seeds its own copy.
func seedPromptBlobs(blobs *blob.Memory) {
	blobs.Seed(map[string]string{
		"prompts/career/system.tmpl": "You are a career coach.",
		"prompts/career/user.tmpl":   "The client says: {{.message}}",
		"prompts/weekly/system.tmpl": "You analyze reflection journals.",
		"prompts/weekly/user.tmpl":   "Entries: {{.entries}}",
	})
}

// seedCatalog writes the template and tier config rows for the default
// topics. Put upserts, so replicas sharing a schema can all seed.
func seedCatalog(t *testing.T, stores storage.Stores) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, stores.Templates.Put(ctx, &models.Template{
		ID: "tpl-career", TemplateCode: "career-user", InteractionCode: "career-coaching",
		BlobRef: "prompts/career/user.tmpl", RequiredParameters: []string{"message"}, IsActive: true,
	}))
	require.NoError(t, stores.Templates.Put(ctx, &models.Template{
		ID: "tpl-weekly", TemplateCode: "weekly-user", InteractionCode: "weekly-reflection",
		BlobRef: "prompts/weekly/user.tmpl", RequiredParameters: []string{"entries"}, IsActive: true,
	}))

	require.NoError(t, stores.Configs.Put(ctx, &models.TierConfig{
		ID: "cfg-career", InteractionCode: "career-coaching", ModelCode: "fake-model",
		TemplateID: "tpl-career", IsActive: true, EffectiveFrom: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, stores.Configs.Put(ctx, &models.TierConfig{
		ID: "cfg-weekly", InteractionCode: "weekly-reflection", ModelCode: "fake-model",
		TemplateID: "tpl-weekly", IsActive: true, EffectiveFrom: time.Now().Add(-time.Hour),
	}))
}
