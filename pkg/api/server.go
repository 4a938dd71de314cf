// Package api exposes the HTTP boundary: intake, job projection, session
// lifecycle, health, metrics, and the WebSocket delivery gateway. Field
// naming is snake_case here and camelCase on the event bus; translation
// happens in this package and in pkg/events, never in the core.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arbor-coach/arbor/pkg/config"
	"github.com/arbor-coach/arbor/pkg/events"
	"github.com/arbor-coach/arbor/pkg/metrics"
	"github.com/arbor-coach/arbor/pkg/queue"
	"github.com/arbor-coach/arbor/pkg/services"
	"github.com/arbor-coach/arbor/pkg/storage"
	"github.com/arbor-coach/arbor/pkg/templates"
	"github.com/arbor-coach/arbor/pkg/tierconfig"
)

// Server is the HTTP server. Required collaborators come in through
// NewServer; operational extras (pool, listener, caches, metrics) are
// attached with setters before Start.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	cfg         *config.Config
	stores      storage.Stores
	intake      *services.IntakeService
	jobs        *services.JobService
	sessions    *services.SessionService
	hub         *events.Hub

	pool      *queue.Pool
	listener  *events.Listener
	resolver  *tierconfig.Resolver
	templates *templates.Service
	metrics   *metrics.Metrics
}

// NewServer creates the API server and registers all routes.
func NewServer(
	cfg *config.Config,
	stores storage.Stores,
	intake *services.IntakeService,
	jobs *services.JobService,
	sessions *services.SessionService,
	hub *events.Hub,
) *Server {
	s := &Server{
		cfg:         cfg,
		stores:      stores,
		intake:      intake,
		jobs:        jobs,
		sessions:    sessions,
		hub:         hub,
	}
	s.echo = echo.New()
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// SetPool attaches the worker pool for health reporting.
func (s *Server) SetPool(p *queue.Pool) { s.pool = p }

// AttachListener attaches the NOTIFY listener for health reporting.
func (s *Server) AttachListener(l *events.Listener) { s.listener = l }

// SetResolver attaches the tier config resolver for admin cache invalidation.
func (s *Server) SetResolver(r *tierconfig.Resolver) { s.resolver = r }

// SetTemplates attaches the template service for admin cache invalidation.
func (s *Server) SetTemplates(t *templates.Service) { s.templates = t }

// SetMetrics attaches the metrics recorder.
func (s *Server) SetMetrics(m *metrics.Metrics) { s.metrics = m }

func (s *Server) setupMiddleware() {
	s.echo.Use(recoverPanics())
	s.echo.Use(requestLogger())
	s.echo.Use(hardenResponses())
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/metrics", func(c *echo.Context) error {
		promhttp.Handler().ServeHTTP(c.Response(), c.Request())
		return nil
	})

	g := s.echo.Group("/api/v1")

	// Registered under the API prefix too so gateway path rules that only
	// forward /api/v1 still reach it.
	g.GET("/health", s.healthHandler)

	g.POST("/messages", s.submitMessageHandler)
	g.POST("/analyses", s.submitAnalysisHandler)
	g.GET("/jobs/:id", s.getJobHandler)

	g.POST("/sessions", s.startSessionHandler)
	g.GET("/sessions", s.listSessionsHandler)
	g.GET("/sessions/:id", s.getSessionHandler)
	g.POST("/sessions/:id/pause", s.pauseSessionHandler)
	g.POST("/sessions/:id/resume", s.resumeSessionHandler)
	g.POST("/sessions/:id/cancel", s.cancelSessionHandler)

	g.GET("/ws", s.wsHandler)

	g.POST("/admin/cache/invalidations", s.invalidateCacheHandler)
}

// ServeHTTP makes the server usable directly with httptest and custom
// listeners.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start begins serving on addr. Blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on a pre-bound listener. Tests bind 127.0.0.1:0
// and read the port back from the listener address.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
