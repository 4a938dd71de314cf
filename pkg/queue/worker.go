package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
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

// Worker claims pending jobs and drives each one to a terminal state.
type Worker struct {
	id           string
	podID        string
	jobs         storage.JobStore
	sessionStore storage.SessionStore
	sessions     *services.SessionService
	topics       *config.TopicRegistry
	engine       *engine.Engine
	publisher    events.Publisher
	config       *config.QueueConfig
	metrics      *metrics.Metrics
	notifier     *notify.Service
	wake         <-chan struct{}
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup

	// health snapshot, guarded by mu
	mu            sync.RWMutex
	status        WorkerStatus
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
}

// NewWorker creates a new queue worker. The wake channel carries bus hints
// from the pool; the poll interval is the backstop for hints that never
// arrive.
// notifier may be nil (Slack notifications disabled).
func NewWorker(id, podID string, stores storage.Stores, sessions *services.SessionService, topics *config.TopicRegistry, eng *engine.Engine, publisher events.Publisher, cfg *config.QueueConfig, m *metrics.Metrics, notifier *notify.Service, wake <-chan struct{}) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		jobs:         stores.Jobs,
		sessionStore: stores.Sessions,
		sessions:     sessions,
		topics:       topics,
		engine:       eng,
		publisher:    publisher,
		config:       cfg,
		metrics:      m,
		notifier:     notifier,
		wake:         wake,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start launches the claim loop.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the loop and blocks until the current job, if any, reaches
// its terminal state. Idempotent.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health snapshots the worker state for the pool's health report.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        w.status,
		CurrentJobID:  w.currentJobID,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("Worker online")
	defer log.Info("Worker stopped")

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		switch err := w.pollAndProcess(ctx); {
		case err == nil:
		case errors.Is(err, ErrNoJobsAvailable):
			w.idle(w.pollInterval())
		default:
			log.Error("Error processing job", "error", err)
			w.sleep(time.Second)
		}
	}
}

// idle parks until a wake hint, the poll backstop, or stop.
func (w *Worker) idle(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.wake:
	case <-t.C:
	case <-w.stopCh:
	}
}

// sleep pauses between retries; stop cuts it short.
func (w *Worker) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-w.stopCh:
	}
}

// pollAndProcess claims the oldest pending job and drives it to a terminal
// state. Returns ErrNoJobsAvailable when the queue is empty.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	job, err := w.jobs.ClaimNextPending(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ErrNoJobsAvailable
	case err != nil:
		return fmt.Errorf("failed to claim job: %w", err)
	}

	log := slog.With("job_id", job.ID, "worker_id", w.id)
	log.Info("Job claimed", "kind", job.Kind, "topic_id", job.TopicID)

	w.mark(WorkerStatusWorking, job.ID)
	defer w.mark(WorkerStatusIdle, "")

	w.process(ctx, job, log)

	w.mu.Lock()
	w.jobsProcessed++
	w.mu.Unlock()
	return nil
}

// process executes one claimed job. Terminal writes run on a background
// context: the job context may be cancelled or expired by then, and a
// claimed job must always reach a terminal state.
func (w *Worker) process(ctx context.Context, job *models.Job, log *slog.Logger) {
	topic, err := w.topics.Get(job.TopicID)
	if err != nil {
		w.failJob(job, "topic is no longer configured", models.ErrCodeConfigNotFound, log)
		return
	}

	var session *models.Session
	if job.Kind == models.JobKindCoachingMessage {
		session, err = w.revalidate(ctx, job)
		if err != nil {
			w.failJob(job, err.Error(), services.CodeOf(err), log)
			return
		}
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	outcome, err := w.engine.Execute(jobCtx, job, session, topic)
	if err != nil {
		w.failJob(job, err.Error(), engine.Classify(err), log)
		return
	}

	w.completeJob(job, session, outcome, log)
}

// revalidate re-checks the session gates between claim and execution. The
// acceptance gates ran at submit time, but the claim may be an orphan
// whose turn slot was never granted, or the session may have moved on
// while the job sat in the queue.
func (w *Worker) revalidate(ctx context.Context, job *models.Job) (*models.Session, error) {
	session, err := w.sessionStore.Get(ctx, job.SessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, services.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.Status != models.SessionStatusActive {
		return nil, services.ErrSessionNotActive
	}
	if session.IdleExpired(time.Now().UTC()) {
		return nil, services.ErrSessionIdle
	}
	if session.InFlightJobID == nil || *session.InFlightJobID != job.ID {
		return nil, fmt.Errorf("%w: turn slot was never granted", services.ErrSessionBusy)
	}
	return session, nil
}

// failJob drives the job to failed, releases the session slot, and
// publishes the terminal event. A CAS conflict means another actor already
// finished the job and everything is dropped: at most one terminal event
// per job.
func (w *Worker) failJob(job *models.Job, msg string, code models.ErrorCode, log *slog.Logger) {
	ctx := context.Background()
	failed, err := w.jobs.TransitionFailed(ctx, job.ID, msg, code)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			log.Info("Job already terminal, dropping failure", "error_code", code)
		} else {
			log.Error("Failed to record job failure", "error", err)
		}
		return
	}
	w.metrics.JobFailed(string(job.Kind), job.TopicID, string(code), processingSeconds(failed))

	if job.Kind == models.JobKindCoachingMessage && job.SessionID != "" {
		if err := w.sessions.AbortTurn(ctx, job.SessionID, job.ID); err != nil {
			log.Warn("Failed to release session turn slot",
				"session_id", job.SessionID, "error", err)
		}
	}

	payload := events.JobFailedPayload{
		JobID:     job.ID,
		SessionID: job.SessionID,
		TopicID:   job.TopicID,
		Error:     msg,
		ErrorCode: code,
	}
	if err := w.publisher.PublishJobFailed(ctx, job.TenantID, job.UserID, payload); err != nil {
		log.Warn("Failed to publish job failure", "error", err)
	}

	w.notifier.JobFailed(notify.JobFailedInput{
		JobID:     job.ID,
		SessionID: job.SessionID,
		TopicID:   job.TopicID,
		ErrorCode: string(code),
		Error:     msg,
	})

	log.Info("Job failed", "error_code", code, "error", msg)
}

// completeJob records the outcome, updates the session, and publishes the
// terminal event. The job CAS is the winner gate: losing it means a
// duplicate claim or a watchdog reclaim owns the terminal state, so
// neither the session nor the bus is touched.
func (w *Worker) completeJob(job *models.Job, session *models.Session, outcome *engine.Outcome, log *slog.Logger) {
	ctx := context.Background()
	out := models.JobOutput{Message: outcome.Message, IsFinal: outcome.IsFinal, Result: outcome.Result}
	completed, err := w.jobs.TransitionCompleted(ctx, job.ID, out)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			log.Info("Job already terminal, dropping result")
		} else {
			log.Error("Failed to record job result", "error", err)
		}
		return
	}
	w.metrics.JobCompleted(string(job.Kind), job.TopicID, processingSeconds(completed))
	w.metrics.AddTokens(outcome.ModelCode, outcome.InputTokens, outcome.OutputTokens)

	payload := events.JobCompletedPayload{
		JobID:     job.ID,
		SessionID: job.SessionID,
		TopicID:   job.TopicID,
		Message:   outcome.Message,
		IsFinal:   outcome.IsFinal,
		Result:    outcome.Result,
	}
	if session != nil {
		updated, err := w.sessions.FinishTurn(ctx, job.SessionID, job.ID, outcome.Message, outcome.IsFinal)
		if err != nil {
			// The session moved on mid-execution (abandoned, or a watchdog
			// reclaim). The job output still stands for polling clients.
			log.Warn("Failed to record turn on session",
				"session_id", job.SessionID, "error", err)
			payload.Turn = session.Turn + 1
			payload.MaxTurns = session.MaxTurns
			payload.MessageCount = session.MessageCount + 1
		} else {
			payload.Turn = updated.Turn
			payload.MaxTurns = updated.MaxTurns
			payload.MessageCount = updated.MessageCount
		}
	}

	if err := w.publisher.PublishJobCompleted(ctx, job.TenantID, job.UserID, payload); err != nil {
		log.Warn("Failed to publish job completion", "error", err)
	}

	log.Info("Job completed",
		"is_final", outcome.IsFinal, "model_code", outcome.ModelCode,
		"input_tokens", outcome.InputTokens, "output_tokens", outcome.OutputTokens)
}

func processingSeconds(job *models.Job) float64 {
	if job == nil || job.ProcessingTimeMS == nil {
		return 0
	}
	return float64(*job.ProcessingTimeMS) / 1000
}

// pollInterval is the backstop interval with jitter applied, spreading the
// workers so they do not all claim in lockstep.
func (w *Worker) pollInterval() time.Duration {
	j := w.config.PollJitter
	if j <= 0 {
		return w.config.PollInterval
	}
	return w.config.PollInterval - j + rand.N(2*j)
}

// mark records the worker's state for health snapshots.
func (w *Worker) mark(status WorkerStatus, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}
