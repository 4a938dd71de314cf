package events

import "github.com/arbor-coach/arbor/pkg/models"

// Bus envelopes use camelCase field names; snake_case belongs to the HTTP
// surface and is translated at the API edge, never in the core. Every
// payload carries a "type" discriminator and an RFC3339Nano timestamp.
// Durable payloads additionally gain a "dbEventId" field at publish time
// (the outbox row ID used as the catch-up cursor).

// JobCreatedPayload is the payload for message.created and analysis.created
// wake hints on the jobs channel. The hint only wakes an idle worker; the
// claim itself decides which job runs. The remaining fields let dashboards
// render the queue without a DB round trip.
type JobCreatedPayload struct {
	Type        string `json:"type"`                // EventTypeMessageCreated or EventTypeAnalysisCreated
	JobID       string `json:"jobId"`
	TenantID    string `json:"tenantId"`
	UserID      string `json:"userId"`
	TopicID     string `json:"topicId"`
	SessionID   string `json:"sessionId,omitempty"` // empty for single-shot analyses
	UserMessage string `json:"userMessage,omitempty"`
	Stage       int    `json:"stage"`               // session turn index at enqueue time, 0 for analyses
	Timestamp   string `json:"timestamp"`           // RFC3339Nano
}

// JobCompletedPayload is the payload for message.completed events.
// Published exactly once per job (the worker's CAS to completed guards
// against duplicate claims publishing twice).
type JobCompletedPayload struct {
	Type         string         `json:"type"` // always EventTypeMessageCompleted
	JobID        string         `json:"jobId"`
	SessionID    string         `json:"sessionId,omitempty"`
	TopicID      string         `json:"topicId"`
	Message      string         `json:"message"`      // assistant text
	IsFinal      bool           `json:"isFinal"`      // true when the conversation reached its terminal turn
	Turn         int            `json:"turn"`         // assistant turn count after this message
	MaxTurns     int            `json:"maxTurns"`     // 0 means unbounded
	MessageCount int            `json:"messageCount"` // total history length after this message
	Result       map[string]any `json:"result,omitempty"` // structured extraction, only on final turns
	Timestamp    string         `json:"timestamp"`    // RFC3339Nano
}

// JobFailedPayload is the payload for message.failed events.
type JobFailedPayload struct {
	Type      string           `json:"type"` // always EventTypeMessageFailed
	JobID     string           `json:"jobId"`
	SessionID string           `json:"sessionId,omitempty"`
	TopicID   string           `json:"topicId"`
	Error     string           `json:"error"`     // human-readable description
	ErrorCode models.ErrorCode `json:"errorCode"` // closed taxonomy, drives client retry policy
	Timestamp string           `json:"timestamp"` // RFC3339Nano
}

// SessionStatusPayload is the payload for session.status events.
// Published when a session transitions between lifecycle states, whether
// by user action (pause, resume, cancel) or by the worker (completed,
// idle timeout).
type SessionStatusPayload struct {
	Type      string               `json:"type"` // always EventTypeSessionStatus
	SessionID string               `json:"sessionId"`
	TopicID   string               `json:"topicId"`
	Status    models.SessionStatus `json:"status"`
	Turn      int                  `json:"turn"`
	MaxTurns  int                  `json:"maxTurns"`
	Timestamp string               `json:"timestamp"` // RFC3339Nano
}
