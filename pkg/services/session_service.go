// Package services contains the business logic between the HTTP surface and
// the stores: the session state machine, the intake acceptance gates, and
// the job projection for polling clients.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arbor-coach/arbor/pkg/config"
	"github.com/arbor-coach/arbor/pkg/events"
	"github.com/arbor-coach/arbor/pkg/models"
	"github.com/arbor-coach/arbor/pkg/storage"
)

// casRetries bounds optimistic-lock retry loops. A conflict means another
// actor moved the session first; the loser re-reads and reapplies.
const casRetries = 5

// SessionService owns the session lifecycle: creation, the pause, resume,
// and cancel transitions, the lazy idle flip, and the turn bookkeeping the
// intake service and worker drive around each job. Every mutation is a
// version CAS through the store; this service adds the state machine rules
// and publishes session.status events once a transition commits.
type SessionService struct {
	sessions  storage.SessionStore
	topics    *config.TopicRegistry
	publisher events.Publisher
	logger    *slog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(sessions storage.SessionStore, topics *config.TopicRegistry, publisher events.Publisher) *SessionService {
	return &SessionService{
		sessions:  sessions,
		topics:    topics,
		publisher: publisher,
		logger:    slog.Default().With("component", "session_service"),
	}
}

// Start opens a new active session for the caller on a topic. An existing
// active session for the same (tenant, user, topic) triple is abandoned
// first; starting over is always allowed regardless of the old
// conversation's state.
func (s *SessionService) Start(httpCtx context.Context, identity models.Identity, topicID string) (*models.Session, error) {
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
	if topic.Kind != models.JobKindCoachingMessage {
		return nil, NewFieldError("topic_id", "topic does not support sessions")
	}

	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	for attempt := 0; attempt < casRetries; attempt++ {
		if err := s.abandonActive(ctx, identity, topicID); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				continue
			}
			return nil, err
		}

		now := time.Now().UTC()
		session := &models.Session{
			ID:             uuid.New().String(),
			TenantID:       identity.TenantID,
			UserID:         identity.UserID,
			TopicID:        topicID,
			Status:         models.SessionStatusActive,
			MaxTurns:       topic.MaxTurns,
			CreatedAt:      now,
			LastActivityAt: now,
		}
		err := s.sessions.Create(ctx, session)
		if errors.Is(err, storage.ErrAlreadyExists) {
			// Another start won the active slot between abandon and create.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}

		s.logger.Info("Session started",
			"session_id", session.ID, "topic_id", topicID, "tenant_id", identity.TenantID)
		s.publishStatus(ctx, session)
		return session, nil
	}
	return nil, fmt.Errorf("failed to start session: %w", storage.ErrConflict)
}

// Get returns the caller's session, applying the lazy idle flip first so
// the answer reflects the state the client would act on.
func (s *SessionService) Get(httpCtx context.Context, identity models.Identity, sessionID string) (*models.Session, error) {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	session, err := s.owned(ctx, identity, sessionID)
	if err != nil {
		return nil, err
	}
	return s.refreshIdle(ctx, session)
}

// List returns the caller's sessions, newest first. Idle expiry is not
// applied on bulk reads; the flip happens when a session is next touched
// individually.
func (s *SessionService) List(httpCtx context.Context, identity models.Identity, limit int) ([]*models.Session, error) {
	if !identity.Valid() {
		return nil, ErrSessionAccess
	}
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	sessions, err := s.sessions.List(ctx, identity.TenantID, identity.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// Pause moves an active session to paused. Pausing an already-paused
// session is a no-op; a session with a message in flight refuses with
// SESSION_BUSY so paused sessions never hold a running job.
func (s *SessionService) Pause(httpCtx context.Context, identity models.Identity, sessionID string) (*models.Session, error) {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	for attempt := 0; attempt < casRetries; attempt++ {
		session, err := s.loadRefreshed(ctx, identity, sessionID)
		if err != nil {
			return nil, err
		}
		switch session.Status {
		case models.SessionStatusPaused:
			return session, nil
		case models.SessionStatusActive:
		default:
			return nil, ErrSessionNotActive
		}
		if session.InFlightJobID != nil {
			return nil, ErrSessionBusy
		}

		session.Status = models.SessionStatusPaused
		err = s.sessions.Update(ctx, session)
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to pause session: %w", err)
		}
		s.publishStatus(ctx, session)
		return session, nil
	}
	return nil, fmt.Errorf("failed to pause session: %w", storage.ErrConflict)
}

// Resume moves a paused session back to active with a fresh activity
// timestamp. Resuming an active session is a no-op. An idle-expired active
// session flips to paused on observation and then resumes in the same
// call. If a newer active session claimed the topic slot meanwhile, the
// resume refuses; the slot belongs to the newer conversation.
func (s *SessionService) Resume(httpCtx context.Context, identity models.Identity, sessionID string) (*models.Session, error) {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	for attempt := 0; attempt < casRetries; attempt++ {
		session, err := s.loadRefreshed(ctx, identity, sessionID)
		if err != nil {
			return nil, err
		}
		switch session.Status {
		case models.SessionStatusActive:
			return session, nil
		case models.SessionStatusPaused:
		default:
			return nil, ErrSessionNotActive
		}

		session.Status = models.SessionStatusActive
		session.LastActivityAt = time.Now().UTC()
		err = s.sessions.Update(ctx, session)
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, NewFieldError("session_id", "another active session exists for this topic")
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resume session: %w", err)
		}
		s.publishStatus(ctx, session)
		return session, nil
	}
	return nil, fmt.Errorf("failed to resume session: %w", storage.ErrConflict)
}

// Cancel terminates a session from active or paused. Cancelling twice is a
// no-op; completed and abandoned sessions stay what they are.
func (s *SessionService) Cancel(httpCtx context.Context, identity models.Identity, sessionID string) (*models.Session, error) {
	ctx, cancel := context.WithTimeout(httpCtx, 5*time.Second)
	defer cancel()

	for attempt := 0; attempt < casRetries; attempt++ {
		session, err := s.loadRefreshed(ctx, identity, sessionID)
		if err != nil {
			return nil, err
		}
		switch session.Status {
		case models.SessionStatusCancelled:
			return session, nil
		case models.SessionStatusActive, models.SessionStatusPaused:
		default:
			return nil, ErrSessionNotActive
		}
		if session.InFlightJobID != nil {
			return nil, ErrSessionBusy
		}

		session.Status = models.SessionStatusCancelled
		err = s.sessions.Update(ctx, session)
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to cancel session: %w", err)
		}
		s.publishStatus(ctx, session)
		return session, nil
	}
	return nil, fmt.Errorf("failed to cancel session: %w", storage.ErrConflict)
}

// BeginTurn claims the session's single in-flight slot for a job and
// appends the user message to the history. Intake calls this after the
// acceptance gates pass and the pending job row exists; the CAS loop
// re-checks the raceable gates so two concurrent submits serialize into
// one winner and one SESSION_BUSY loser.
func (s *SessionService) BeginTurn(ctx context.Context, sessionID, jobID, userMessage string) (*models.Session, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		session, err := s.sessions.Get(ctx, sessionID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get session: %w", err)
		}
		now := time.Now().UTC()
		if session.Status != models.SessionStatusActive {
			return nil, ErrSessionNotActive
		}
		if session.IdleExpired(now) {
			if _, err := s.refreshIdle(ctx, session); err != nil {
				return nil, err
			}
			return nil, ErrSessionIdle
		}
		if session.TurnsExhausted() {
			return nil, ErrMaxTurnsReached
		}
		if session.InFlightJobID != nil {
			return nil, ErrSessionBusy
		}

		session.History = append(session.History, models.ChatMessage{Role: models.RoleUser, Content: userMessage, At: now})
		session.MessageCount = len(session.History)
		session.InFlightJobID = &jobID
		session.LastActivityAt = now
		err = s.sessions.Update(ctx, session)
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to begin turn: %w", err)
		}
		return session, nil
	}
	return nil, fmt.Errorf("failed to begin turn: %w", storage.ErrConflict)
}

// FinishTurn records the assistant reply for the job holding the in-flight
// slot: appends to history, advances the turn counter, releases the slot,
// and completes the session when the reply was final. The worker calls
// this after its job CAS wins, so a mismatched or missing in-flight job
// means the session moved on (abandoned and restarted, or a watchdog
// reclaim) and the reply must not land in the history.
func (s *SessionService) FinishTurn(ctx context.Context, sessionID, jobID, message string, isFinal bool) (*models.Session, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		session, err := s.sessions.Get(ctx, sessionID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get session: %w", err)
		}
		if session.Status != models.SessionStatusActive {
			return nil, ErrSessionNotActive
		}
		if session.InFlightJobID == nil || *session.InFlightJobID != jobID {
			return nil, fmt.Errorf("%w: job %s no longer owns the turn", ErrSessionBusy, jobID)
		}

		now := time.Now().UTC()
		session.History = append(session.History, models.ChatMessage{Role: models.RoleAssistant, Content: message, At: now})
		session.Turn++
		session.MessageCount = len(session.History)
		session.InFlightJobID = nil
		session.LastActivityAt = now
		if isFinal {
			session.Status = models.SessionStatusCompleted
		}
		err = s.sessions.Update(ctx, session)
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to finish turn: %w", err)
		}
		if isFinal {
			s.publishStatus(ctx, session)
		}
		return session, nil
	}
	return nil, fmt.Errorf("failed to finish turn: %w", storage.ErrConflict)
}

// AbortTurn releases the in-flight slot after a job fails, removing the
// unanswered user message so the history stays strictly alternating and
// the client can resubmit. A slot held by a different job, or no slot at
// all, means there is nothing to undo.
func (s *SessionService) AbortTurn(ctx context.Context, sessionID, jobID string) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		session, err := s.sessions.Get(ctx, sessionID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get session: %w", err)
		}
		if session.InFlightJobID == nil || *session.InFlightJobID != jobID {
			return nil
		}

		if n := len(session.History); n > 0 && session.History[n-1].Role == models.RoleUser {
			session.History = session.History[:n-1]
		}
		session.MessageCount = len(session.History)
		session.InFlightJobID = nil
		err = s.sessions.Update(ctx, session)
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to abort turn: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed to abort turn: %w", storage.ErrConflict)
}

// owned loads the session and enforces caller scope. Callers with no
// identity are refused before existence is revealed; a foreign session
// reads as access denied.
func (s *SessionService) owned(ctx context.Context, identity models.Identity, sessionID string) (*models.Session, error) {
	if !identity.Valid() {
		return nil, ErrSessionAccess
	}
	session, err := s.sessions.Get(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session.TenantID != identity.TenantID || session.UserID != identity.UserID {
		return nil, ErrSessionAccess
	}
	return session, nil
}

// loadRefreshed combines the ownership check with the lazy idle flip.
func (s *SessionService) loadRefreshed(ctx context.Context, identity models.Identity, sessionID string) (*models.Session, error) {
	session, err := s.owned(ctx, identity, sessionID)
	if err != nil {
		return nil, err
	}
	return s.refreshIdle(ctx, session)
}

// refreshIdle applies the lazy idle flip: an active session past the idle
// TTL moves to paused the moment an operation observes it. Sessions with a
// job in flight are left alone until the stuck-job watchdog releases the
// slot. A CAS conflict means another actor moved the session first, so the
// fresh read wins.
func (s *SessionService) refreshIdle(ctx context.Context, session *models.Session) (*models.Session, error) {
	if !session.IdleExpired(time.Now().UTC()) || session.InFlightJobID != nil {
		return session, nil
	}
	session.Status = models.SessionStatusPaused
	err := s.sessions.Update(ctx, session)
	if errors.Is(err, storage.ErrConflict) {
		fresh, err := s.sessions.Get(ctx, session.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get session: %w", err)
		}
		return fresh, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pause idle session: %w", err)
	}
	s.logger.Info("Session paused after idle timeout", "session_id", session.ID)
	s.publishStatus(ctx, session)
	return session, nil
}

// publishStatus emits a session.status event. Failures are logged, not
// returned: the transition is already committed and clients can always
// re-read the session endpoints.
func (s *SessionService) publishStatus(ctx context.Context, session *models.Session) {
	payload := events.SessionStatusPayload{
		SessionID: session.ID,
		TopicID:   session.TopicID,
		Status:    session.Status,
		Turn:      session.Turn,
		MaxTurns:  session.MaxTurns,
	}
	if err := s.publisher.PublishSessionStatus(ctx, session.TenantID, session.UserID, payload); err != nil {
		s.logger.Warn("Failed to publish session status",
			"session_id", session.ID, "status", session.Status, "error", err)
	}
}

// abandonActive retires the caller's current active session for the topic,
// if any. Conflicts propagate unwrapped so the caller's retry loop can
// re-read.
func (s *SessionService) abandonActive(ctx context.Context, identity models.Identity, topicID string) error {
	existing, err := s.sessions.FindActive(ctx, identity.TenantID, identity.UserID, topicID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to find active session: %w", err)
	}

	existing.Status = models.SessionStatusAbandoned
	existing.InFlightJobID = nil
	if err := s.sessions.Update(ctx, existing); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return err
		}
		return fmt.Errorf("failed to abandon session %s: %w", existing.ID, err)
	}
	s.logger.Info("Session abandoned", "session_id", existing.ID, "topic_id", topicID)
	s.publishStatus(ctx, existing)
	return nil
}
