// Package reaper enforces data retention and sweeps stuck work.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/arbor-coach/arbor/pkg/config"
	"github.com/arbor-coach/arbor/pkg/events"
	"github.com/arbor-coach/arbor/pkg/metrics"
	"github.com/arbor-coach/arbor/pkg/models"
	"github.com/arbor-coach/arbor/pkg/services"
	"github.com/arbor-coach/arbor/pkg/storage"
)

// stuckJobMessage is surfaced to clients verbatim, so it names the cause
// rather than the mechanism that detected it.
const stuckJobMessage = "processing exceeded the watchdog threshold"

// EventPruner deletes outbox rows past their retention window. Nil is
// allowed: a deployment without a durable outbox has nothing to prune.
type EventPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service periodically enforces retention policies:
//   - Fails jobs stuck in processing past the watchdog threshold and
//     releases their session turn slots
//   - Deletes job rows past their TTL
//   - Deletes outbox event rows past their TTL
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	config    *config.RetentionConfig
	jobs      storage.JobStore
	sessions  *services.SessionService
	publisher events.Publisher
	pruner    EventPruner
	metrics   *metrics.Metrics

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new reaper service.
func NewService(
	cfg *config.RetentionConfig,
	jobs storage.JobStore,
	sessions *services.SessionService,
	publisher events.Publisher,
	pruner EventPruner,
	m *metrics.Metrics,
) *Service {
	return &Service{
		config:    cfg,
		jobs:      jobs,
		sessions:  sessions,
		publisher: publisher,
		pruner:    pruner,
		metrics:   m,
	}
}

// Start launches the background reaper loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Reaper started",
		"stuck_job_age", s.config.StuckJobAge,
		"event_ttl", s.config.EventTTL,
		"interval", s.config.ReapInterval)
}

// Stop signals the reaper loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Reaper stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.failStuckJobs(ctx)
	s.reapExpiredJobs(ctx)
	s.pruneOldEvents(ctx)
	s.refreshQueueGauge(ctx)
}

// failStuckJobs is the watchdog: a worker crash mid-processing leaves the
// job row in processing and the session slot held forever. Flipping the
// job to failed releases both and tells the client to resubmit.
func (s *Service) failStuckJobs(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.config.StuckJobAge)
	flipped, err := s.jobs.FailStuckProcessing(ctx, cutoff, stuckJobMessage, models.ErrCodeInternal)
	if err != nil {
		slog.Error("Watchdog: stuck job sweep failed", "error", err)
		return
	}
	if len(flipped) == 0 {
		return
	}

	for _, job := range flipped {
		if job.Kind == models.JobKindCoachingMessage && job.SessionID != "" {
			if err := s.sessions.AbortTurn(ctx, job.SessionID, job.ID); err != nil {
				slog.Warn("Watchdog: failed to release session turn slot",
					"job_id", job.ID, "session_id", job.SessionID, "error", err)
			}
		}
		payload := events.JobFailedPayload{
			JobID:     job.ID,
			SessionID: job.SessionID,
			TopicID:   job.TopicID,
			Error:     stuckJobMessage,
			ErrorCode: models.ErrCodeInternal,
		}
		if err := s.publisher.PublishJobFailed(ctx, job.TenantID, job.UserID, payload); err != nil {
			slog.Warn("Watchdog: failed to publish job failure", "job_id", job.ID, "error", err)
		}
	}

	slog.Info("Watchdog: failed stuck jobs", "count", len(flipped))
	s.metrics.AddStuckJobs(int64(len(flipped)))
}

func (s *Service) reapExpiredJobs(ctx context.Context) {
	count, err := s.jobs.ReapExpired(ctx, time.Now().UTC())
	if err != nil {
		slog.Error("Retention: job reap failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: reaped expired jobs", "count", count)
		s.metrics.AddReapedJobs(count)
	}
}

func (s *Service) pruneOldEvents(ctx context.Context) {
	if s.pruner == nil {
		return
	}
	count, err := s.pruner.DeleteOlderThan(ctx, time.Now().UTC().Add(-s.config.EventTTL))
	if err != nil {
		slog.Error("Retention: event pruning failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: pruned old events", "count", count)
		s.metrics.AddReapedEvents(count)
	}
}

func (s *Service) refreshQueueGauge(ctx context.Context) {
	counts, err := s.jobs.CountByStatus(ctx)
	if err != nil {
		slog.Error("Retention: queue depth query failed", "error", err)
		return
	}
	for _, status := range []models.JobStatus{
		models.JobStatusPending, models.JobStatusProcessing,
		models.JobStatusCompleted, models.JobStatusFailed,
	} {
		s.metrics.SetQueueJobs(string(status), counts[status])
	}
}
