package models

import "time"

// SessionStatus is the state of a coaching conversation.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusPaused    SessionStatus = "paused"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
	SessionStatusAbandoned SessionStatus = "abandoned"
)

// IsTerminal reports whether the session can never return to active.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusCancelled, SessionStatusAbandoned:
		return true
	}
	return false
}

// SessionIdleTTL is the inactivity window after which the next operation on
// an active session observes an idle timeout and the session flips to paused.
const SessionIdleTTL = 30 * time.Minute

// Chat message roles for session history entries.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one entry of a session's history.
type ChatMessage struct {
	Role    string    `json:"role"` // user | assistant
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Session is a coaching conversation bound to a (tenant, user, topic) triple.
// At most one active session exists per triple. All mutations go through a
// version CAS; Version increments on every successful write.
type Session struct {
	ID       string `json:"session_id"`
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	TopicID  string `json:"topic_id"`

	Status       SessionStatus `json:"status"`
	Turn         int           `json:"turn"`      // completed assistant turns
	MaxTurns     int           `json:"max_turns"` // 0 = unlimited
	MessageCount int           `json:"message_count"`
	History      []ChatMessage `json:"history"`

	InFlightJobID *string `json:"in_flight_job_id,omitempty"`

	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// IdleExpired reports whether an active session has been idle past the TTL.
// Non-active sessions never expire.
func (s *Session) IdleExpired(now time.Time) bool {
	return s.Status == SessionStatusActive && now.Sub(s.LastActivityAt) > SessionIdleTTL
}

// TurnsExhausted reports whether the turn budget is spent.
func (s *Session) TurnsExhausted() bool {
	return s.MaxTurns > 0 && s.Turn >= s.MaxTurns
}
