package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arbor-coach/arbor/pkg/config"
	"github.com/arbor-coach/arbor/pkg/engine"
	"github.com/arbor-coach/arbor/pkg/events"
	"github.com/arbor-coach/arbor/pkg/metrics"
	"github.com/arbor-coach/arbor/pkg/models"
	"github.com/arbor-coach/arbor/pkg/notify"
	"github.com/arbor-coach/arbor/pkg/services"
	"github.com/arbor-coach/arbor/pkg/storage"
)

// Pool manages the worker goroutines for one pod and receives job wake
// hints from the event bus.
type Pool struct {
	podID     string
	stores    storage.Stores
	sessions  *services.SessionService
	topics    *config.TopicRegistry
	engine    *engine.Engine
	publisher events.Publisher
	config    *config.QueueConfig
	metrics   *metrics.Metrics
	notifier  *notify.Service

	workers []*Worker
	wake    chan struct{}
	started bool
}

// NewPool creates a worker pool. Register it as a listener sink so bus
// hints reach the workers.
// notifier may be nil (Slack notifications disabled).
func NewPool(podID string, stores storage.Stores, sessions *services.SessionService, topics *config.TopicRegistry, eng *engine.Engine, publisher events.Publisher, cfg *config.QueueConfig, m *metrics.Metrics, notifier *notify.Service) *Pool {
	return &Pool{
		podID:     podID,
		stores:    stores,
		sessions:  sessions,
		topics:    topics,
		engine:    eng,
		publisher: publisher,
		config:    cfg,
		metrics:   m,
		notifier:  notifier,
		workers:   make([]*Worker, 0, cfg.WorkerCount),
		wake:      make(chan struct{}, 1),
	}
}

// Start spawns the worker goroutines. It is safe to call multiple times;
// subsequent calls are no-ops.
func (p *Pool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool Start called twice; ignoring", "pod_id", p.podID)
		return nil
	}
	p.started = true

	slog.Info("Spawning workers", "pod_id", p.podID, "count", p.config.WorkerCount)
	for i := range p.config.WorkerCount {
		w := NewWorker(fmt.Sprintf("%s-worker-%d", p.podID, i), p.podID, p.stores, p.sessions, p.topics, p.engine, p.publisher, p.config, p.metrics, p.notifier, p.wake)
		p.workers = append(p.workers, w)
		w.Start(ctx)
	}
	slog.Info("Worker pool up", "pod_id", p.podID)
	return nil
}

// Stop drains the pool: each worker finishes its current job before
// exiting. The wait is bounded by DrainTimeout; anything still
// running after that is left for the stuck-job watchdog to sweep.
func (p *Pool) Stop() {
	slog.Info("Draining worker pool", "pod_id", p.podID)

	drained := make(chan struct{})
	go func() {
		for _, w := range p.workers {
			w.Stop()
		}
		close(drained)
	}()

	select {
	case <-drained:
		slog.Info("Worker pool drained", "pod_id", p.podID)
	case <-time.After(p.config.DrainTimeout):
		slog.Warn("Worker pool drain timed out", "timeout", p.config.DrainTimeout)
	}
}

// Broadcast implements events.Sink. A hint on the jobs channel wakes one
// idle worker; the payload content does not matter, the claim decides
// which job runs.
func (p *Pool) Broadcast(channel string, _ []byte) {
	if channel != events.JobsChannel {
		return
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// RecoverOrphanedPending re-publishes wake hints for pending jobs older
// than the grace window, covering the crash window between job persist and
// notify: the row is durable, the hint was lost. Called once at startup;
// safe on every pod since the claim de-duplicates.
func (p *Pool) RecoverOrphanedPending(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-p.config.OrphanGraceWindow)
	orphans, err := p.stores.Jobs.ListPendingOlderThan(ctx, cutoff, 100)
	if err != nil {
		return fmt.Errorf("failed to list orphaned pending jobs: %w", err)
	}
	if len(orphans) == 0 {
		return nil
	}

	slog.Warn("Re-publishing wake hints for orphaned pending jobs",
		"pod_id", p.podID, "count", len(orphans))

	for _, job := range orphans {
		payload := events.JobCreatedPayload{
			JobID:     job.ID,
			TenantID:  job.TenantID,
			UserID:    job.UserID,
			TopicID:   job.TopicID,
			SessionID: job.SessionID,
		}
		var perr error
		if job.Kind == models.JobKindSingleShotAnalysis {
			perr = p.publisher.PublishAnalysisCreated(ctx, payload)
		} else {
			perr = p.publisher.PublishMessageCreated(ctx, payload)
		}
		if perr != nil {
			slog.Warn("Failed to re-publish wake hint", "job_id", job.ID, "error", perr)
		}
	}
	return nil
}

// Health reports pool and queue state. A store failure marks the pool
// unhealthy: workers cannot claim without it.
func (p *Pool) Health() *PoolHealth {
	ctx := context.Background()

	counts, err := p.stores.Jobs.CountByStatus(ctx)
	dbHealthy := err == nil
	var dbError string
	if err != nil {
		slog.Error("Queue depth query failed in health probe",
			"pod_id", p.podID, "error", err)
		dbError = fmt.Sprintf("queue depth query failed: %v", err)
	}

	views := make([]WorkerHealth, len(p.workers))
	active := 0
	for i, w := range p.workers {
		views[i] = w.Health()
		if views[i].Status == WorkerStatusWorking {
			active++
		}
	}

	return &PoolHealth{
		IsHealthy:      len(p.workers) > 0 && dbHealthy,
		DBReachable:    dbHealthy,
		DBError:        dbError,
		PodID:          p.podID,
		ActiveWorkers:  active,
		TotalWorkers:   len(p.workers),
		QueueDepth:     counts[models.JobStatusPending],
		ProcessingJobs: counts[models.JobStatusProcessing],
		WorkerStats:    views,
	}
}
