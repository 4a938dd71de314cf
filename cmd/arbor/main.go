// Command arbor runs the coaching backend: the HTTP API, the queue
// worker pool, and WebSocket event delivery.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/arbor-coach/arbor/pkg/api"
	"github.com/arbor-coach/arbor/pkg/blob"
	"github.com/arbor-coach/arbor/pkg/cache"
	"github.com/arbor-coach/arbor/pkg/config"
	"github.com/arbor-coach/arbor/pkg/database"
	"github.com/arbor-coach/arbor/pkg/engine"
	"github.com/arbor-coach/arbor/pkg/events"
	"github.com/arbor-coach/arbor/pkg/metrics"
	"github.com/arbor-coach/arbor/pkg/models"
	"github.com/arbor-coach/arbor/pkg/notify"
	"github.com/arbor-coach/arbor/pkg/providers"
	"github.com/arbor-coach/arbor/pkg/queue"
	"github.com/arbor-coach/arbor/pkg/reaper"
	"github.com/arbor-coach/arbor/pkg/services"
	"github.com/arbor-coach/arbor/pkg/storage"
	"github.com/arbor-coach/arbor/pkg/templates"
	"github.com/arbor-coach/arbor/pkg/tierconfig"
	"github.com/arbor-coach/arbor/pkg/version"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

// envOr reads key from the environment, falling back when unset or empty.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// podIdentity names this replica for job claiming and event attribution.
// POD_ID wins, then the Kubernetes HOSTNAME, then a fixed name for local
// runs.
func podIdentity() string {
	for _, key := range []string{"POD_ID", "HOSTNAME"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return "local"
}

// fatal logs and exits without running deferred closers.
func fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}

// newBlobStore builds the prompt-text store the config names.
func newBlobStore(ctx context.Context, cfg *config.BlobConfig) blob.Store {
	if cfg.Backend != config.BlobBackendS3 {
		slog.Info("In-memory blob store initialized")
		return blob.NewMemory()
	}
	store, err := blob.NewS3Store(ctx, &blob.S3Config{
		Bucket:   cfg.Bucket,
		Region:   cfg.Region,
		Endpoint: cfg.Endpoint,
		Prefix:   cfg.Prefix,
	})
	if err != nil {
		fatal("S3 blob store unavailable", "bucket", cfg.Bucket, "error", err)
	}
	slog.Info("S3 blob store initialized", "bucket", cfg.Bucket, "region", cfg.Region)
	return store
}

// newTemplateLayer wires the template service and the tier config
// resolver. With the Redis backend the caches are shared across pods;
// otherwise each pod caches locally.
func newTemplateLayer(ctx context.Context, cfg *config.Config, stores storage.Stores, blobStore blob.Store, registry *providers.Registry) (*templates.Service, *tierconfig.Resolver) {
	if cfg.Cache.Backend != config.CacheBackendRedis {
		tpls := templates.NewService(stores.Templates, blobStore)
		return tpls, tierconfig.NewResolver(stores.Configs, cfg.TopicRegistry, registry, tpls)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.RedisAddr,
		Password: os.Getenv(cfg.Cache.RedisPasswordEnv),
		DB:       cfg.Cache.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		fatal("Redis unreachable", "addr", cfg.Cache.RedisAddr, "error", err)
	}
	tpls := templates.NewServiceWithCaches(stores.Templates, blobStore,
		cache.NewRedis[*models.Template]("template_metadata", rdb),
		cache.NewRedis[string]("template_content", rdb),
		cache.NewRedis[string]("template_rendered", rdb),
	)
	resolver := tierconfig.NewResolverWithCache(stores.Configs, cfg.TopicRegistry, registry, tpls,
		cache.NewRedis[*models.TierConfig]("tier_config", rdb))
	slog.Info("Shared Redis caches initialized", "addr", cfg.Cache.RedisAddr)
	return tpls, resolver
}

// newNotifier builds the Slack operator notifier, or nil when disabled or
// not fully configured. A nil notifier is a working no-op.
func newNotifier(cfg *config.SlackConfig) *notify.Service {
	if !cfg.Enabled {
		return nil
	}
	svc := notify.NewService(notify.Options{
		Token:        os.Getenv(cfg.TokenEnv),
		Channel:      cfg.Channel,
		DashboardURL: os.Getenv("DASHBOARD_URL"),
	})
	if svc == nil {
		slog.Warn("Slack notifications enabled but token or channel missing",
			"token_env", cfg.TokenEnv)
		return nil
	}
	slog.Info("Slack notifications enabled", "channel", cfg.Channel)
	return svc
}

func main() {
	configDir := flag.String("config-dir",
		envOr("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// A missing .env is normal outside local development.
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err == nil {
		slog.Info("Loaded environment", "path", envPath)
	} else {
		slog.Warn("No .env loaded, using process environment", "path", envPath, "error", err)
	}

	httpPort := envOr("HTTP_PORT", "8080")
	podID := podIdentity()

	slog.Info("Starting arbor",
		"version", version.GitCommit,
		"http_port", httpPort,
		"pod_id", podID,
		"config_dir", *configDir)

	ctx := context.Background()

	cfg, err := config.Load(ctx, *configDir)
	if err != nil {
		fatal("Configuration load failed", "error", err)
	}

	dbConfig, err := database.ConfigFromEnv()
	if err != nil {
		fatal("Database configuration invalid", "error", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		fatal("Database connection failed", "error", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	if status, err := dbClient.Health(ctx); err == nil {
		slog.Info("Connected to PostgreSQL database",
			"ping_ms", status.PingMS, "max_open_conns", status.MaxOpenConns)
	} else {
		slog.Info("Connected to PostgreSQL database")
	}

	m := metrics.New()
	stores := storage.NewPostgresStores(dbClient.DB())
	blobStore := newBlobStore(ctx, cfg.Blob)

	registry, err := providers.NewRegistry(cfg.ModelRegistry)
	if err != nil {
		fatal("Provider registry rejected model config", "error", err)
	}

	tpls, resolver := newTemplateLayer(ctx, cfg, stores, blobStore, registry)
	eng := engine.New(resolver, tpls, registry)

	// Event bus: outbox publisher, catchup store, WebSocket fan-out, and a
	// dedicated pgx connection holding the LISTEN subscriptions.
	publisher := events.NewPostgresPublisher(dbClient.DB())
	eventStore := events.NewEventStore(dbClient.DB())
	hub := events.NewHub(eventStore, 10*time.Second)

	listener := events.NewListener(dbConfig.DSN(), hub)
	if err := listener.Start(ctx); err != nil {
		fatal("Notification listener failed to start", "error", err)
	}
	defer listener.Stop(ctx)

	// The hub releases idle channel subscriptions back through the
	// listener.
	hub.AttachListener(listener)
	slog.Info("Event bus initialized")

	sessionService := services.NewSessionService(stores.Sessions, cfg.TopicRegistry, publisher)
	intakeService := services.NewIntakeService(stores.Jobs, sessionService, cfg.TopicRegistry, publisher, *cfg.Defaults, m)
	jobService := services.NewJobService(stores.Jobs)
	notifier := newNotifier(cfg.Slack)
	slog.Info("Services initialized")

	// The pool hangs off the listener as a sink: job creation hints on the
	// jobs channel wake idle workers ahead of their poll backstop.
	pool := queue.NewPool(podID, stores, sessionService, cfg.TopicRegistry, eng, publisher, cfg.Queue, m, notifier)
	listener.AddSink(pool)
	if err := listener.Subscribe(ctx, events.JobsChannel); err != nil {
		slog.Warn("Failed to subscribe to jobs channel, workers rely on poll backstop", "error", err)
	}

	// Jobs persisted before a crash could announce them get their hints
	// re-published; the poll backstop covers anything this misses.
	if err := pool.RecoverOrphanedPending(ctx); err != nil {
		slog.Warn("Startup orphan recovery failed", "error", err)
	}
	if err := pool.Start(ctx); err != nil {
		fatal("Worker pool failed to start", "error", err)
	}

	reaperService := reaper.NewService(cfg.Retention, stores.Jobs, sessionService, publisher, eventStore, m)
	reaperService.Start(ctx)

	httpServer := api.NewServer(cfg, stores, intakeService, jobService, sessionService, hub)
	httpServer.SetPool(pool)
	httpServer.AttachListener(listener)
	httpServer.SetResolver(resolver)
	httpServer.SetTemplates(tpls)
	httpServer.SetMetrics(m)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stats := cfg.Stats()
	slog.Info("Arbor started successfully",
		"pod_id", podID,
		"workers", cfg.Queue.WorkerCount,
		"topics", stats.Topics,
		"models", stats.Models)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	select {
	case <-sigCtx.Done():
		slog.Info("Shutdown signal received")
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Drain HTTP first so no new jobs arrive, then drain the workers. The
	// deferred listener stop and DB close run last.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	slog.Info("Draining HTTP server", "open_websockets", hub.OpenConnections())
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	pool.Stop()
	reaperService.Stop()

	slog.Info("Shutdown complete")
}
