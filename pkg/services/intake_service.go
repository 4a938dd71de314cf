package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arbor-coach/arbor/pkg/config"
	"github.com/arbor-coach/arbor/pkg/events"
	"github.com/arbor-coach/arbor/pkg/metrics"
	"github.com/arbor-coach/arbor/pkg/models"
	"github.com/arbor-coach/arbor/pkg/storage"
	"github.com/arbor-coach/arbor/pkg/topicschema"
)

// SubmitReceipt is the acceptance response for both submit operations. A
// receipt means a pending job exists and a wake hint went out, never that
// a model replied.
type SubmitReceipt struct {
	JobID               string           `json:"job_id"`
	SessionID           string           `json:"session_id,omitempty"`
	Status              models.JobStatus `json:"status"`
	EstimatedDurationMS int64            `json:"estimated_duration_ms"`
}

// IntakeService accepts work at the HTTP boundary: conversational messages
// into coaching sessions and sessionless one-shot analyses. Acceptance is
// always asynchronous; results arrive over the event bus or the job
// projection, never in the submit response.
type IntakeService struct {
	jobs      storage.JobStore
	sessions  *SessionService
	topics    *config.TopicRegistry
	publisher events.Publisher
	defaults  config.Defaults
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewIntakeService creates a new IntakeService.
func NewIntakeService(jobs storage.JobStore, sessions *SessionService, topics *config.TopicRegistry, publisher events.Publisher, defaults config.Defaults, m *metrics.Metrics) *IntakeService {
	return &IntakeService{
		jobs:      jobs,
		sessions:  sessions,
		topics:    topics,
		publisher: publisher,
		defaults:  defaults,
		metrics:   m,
		logger:    slog.Default().With("component", "intake_service"),
	}
}

// SubmitMessage runs the acceptance gates in order (ownership, existence,
// state, freshness, capacity, payload), persists the pending job, claims
// the session's turn slot, and publishes the wake hint. The job row is
// created before the turn claim: a crash between the two leaves a pending
// job the worker detects against the unclaimed slot and fails, rather
// than a claimed slot with no job to ever release it.
func (s *IntakeService) SubmitMessage(httpCtx context.Context, identity models.Identity, sessionID, message string) (*SubmitReceipt, error) {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	session, err := s.sessions.owned(ctx, identity, sessionID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if session.Status != models.SessionStatusActive {
		return nil, ErrSessionNotActive
	}
	if session.IdleExpired(now) {
		if _, err := s.sessions.refreshIdle(ctx, session); err != nil {
			return nil, err
		}
		return nil, ErrSessionIdle
	}
	if session.TurnsExhausted() {
		return nil, ErrMaxTurnsReached
	}
	if strings.TrimSpace(message) == "" {
		return nil, NewFieldError("message", "required")
	}
	if session.InFlightJobID != nil {
		return nil, ErrSessionBusy
	}

	job := s.newJob(identity, models.JobKindCoachingMessage, session.TopicID, sessionID,
		map[string]any{"message": message})
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	if _, err := s.sessions.BeginTurn(ctx, sessionID, job.ID, message); err != nil {
		// The pending job is orphaned; the worker claims it, sees the slot
		// was never granted, and fails it without touching the session.
		return nil, err
	}

	s.logger.Info("Message accepted",
		"job_id", job.ID, "session_id", sessionID, "topic_id", session.TopicID)
	s.metrics.JobSubmitted(string(job.Kind), job.TopicID)
	s.publishCreated(ctx, job, session.Turn, message)
	return s.receipt(job), nil
}

// SubmitAnalysis accepts a sessionless one-shot job. The topic must exist,
// be active, and be an analysis kind; params are validated against the
// topic's parameter schema before anything persists.
func (s *IntakeService) SubmitAnalysis(httpCtx context.Context, identity models.Identity, topicID string, params map[string]any) (*SubmitReceipt, error) {
	if !identity.Valid() {
		return nil, ErrSessionAccess
	}
	topic, err := s.topics.Get(topicID)
	if err != nil {
		return nil, NewFieldError("topic_id", "unknown topic")
	}
	if !topic.IsActive {
		return nil, NewFieldError("topic_id", "topic is disabled")
	}
	if topic.Kind != models.JobKindSingleShotAnalysis {
		return nil, NewFieldError("topic_id", "topic is not an analysis")
	}
	if err := topicschema.Validate(topic.ParamSchema, params); err != nil {
		return nil, NewFieldError("params", err.Error())
	}

	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	job := s.newJob(identity, models.JobKindSingleShotAnalysis, topicID, "", params)
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("Analysis accepted", "job_id", job.ID, "topic_id", topicID)
	s.metrics.JobSubmitted(string(job.Kind), job.TopicID)
	s.publishCreated(ctx, job, 0, "")
	return s.receipt(job), nil
}

// newJob builds a pending job stamped with the caller identity. The tier
// rides on the row so the worker can resolve configuration from the claim
// alone.
func (s *IntakeService) newJob(identity models.Identity, kind models.JobKind, topicID, sessionID string, input map[string]any) *models.Job {
	now := time.Now().UTC()
	return &models.Job{
		ID:        uuid.New().String(),
		TenantID:  identity.TenantID,
		UserID:    identity.UserID,
		Tier:      identity.Tier,
		Kind:      kind,
		TopicID:   topicID,
		SessionID: sessionID,
		Input:     input,
		Status:    models.JobStatusPending,
		CreatedAt: now,
		TTLAt:     now.Add(models.JobTTL),
	}
}

// publishCreated sends the transient wake hint. Publish failures are
// logged, not returned: the pending row is durable and the worker poll
// backstop picks it up within one interval.
func (s *IntakeService) publishCreated(ctx context.Context, job *models.Job, stage int, userMessage string) {
	payload := events.JobCreatedPayload{
		JobID:       job.ID,
		TenantID:    job.TenantID,
		UserID:      job.UserID,
		TopicID:     job.TopicID,
		SessionID:   job.SessionID,
		UserMessage: userMessage,
		Stage:       stage,
	}
	var err error
	if job.Kind == models.JobKindSingleShotAnalysis {
		err = s.publisher.PublishAnalysisCreated(ctx, payload)
	} else {
		err = s.publisher.PublishMessageCreated(ctx, payload)
	}
	if err != nil {
		s.logger.Warn("Failed to publish job created event", "job_id", job.ID, "error", err)
	}
}

func (s *IntakeService) receipt(job *models.Job) *SubmitReceipt {
	estimated := s.defaults.EstimatedDuration
	if estimated <= 0 {
		estimated = config.DefaultEstimatedDuration
	}
	return &SubmitReceipt{
		JobID:               job.ID,
		SessionID:           job.SessionID,
		Status:              job.Status,
		EstimatedDurationMS: estimated.Milliseconds(),
	}
}
