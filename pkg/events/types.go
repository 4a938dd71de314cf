// Package events carries job and session events from the worker that
// produced them to the client that is waiting on them: PostgreSQL
// NOTIFY/LISTEN between pods, WebSocket to the browser.
//
// ════════════════════════════════════════════════════════════════
// Event Delivery Patterns
// ════════════════════════════════════════════════════════════════
//
// Events fall into two delivery classes.
//
// Class 1 — DURABLE (outbox + NOTIFY):
//
//	message.completed  {jobId, message, isFinal, turn, ...}
//	message.failed     {jobId, error, errorCode}
//	session.status     {sessionId, status}
//
//	Terminal job results and session transitions are persisted to the
//	events outbox and broadcast via pg_notify in the SAME transaction,
//	so a committed row always has a matching NOTIFY and vice versa.
//	The outbox row ID is injected into the NOTIFY payload as
//	dbEventId; reconnecting clients use it as a catch-up cursor.
//	Delivery is at-least-once — consumers de-duplicate by jobId.
//
// Class 2 — TRANSIENT (NOTIFY only):
//
//	message.created    {jobId, tenantId, userId, topicId, ...}
//	analysis.created   {jobId, tenantId, userId, topicId, ...}
//
//	Worker wake-up hints. The durable record is the job row itself:
//	a lost notification is recovered by the worker poll backstop, so
//	persisting the hint would only duplicate state. Payloads carry
//	the jobId so an idle worker can attempt a targeted claim.
//
// Channel naming: terminal events go to the submitting user's channel
// ("user:{tenant}:{user}"); wake hints go to the shared "jobs" channel
// that every worker pod LISTENs on.
//
// ════════════════════════════════════════════════════════════════
package events

// Durable event types (outbox + NOTIFY).
const (
	// Terminal job outcomes — exactly one per job, enforced by the
	// worker's compare-and-swap status transition.
	EventTypeMessageCompleted = "message.completed"
	EventTypeMessageFailed    = "message.failed"

	// Session lifecycle transitions (started, paused, resumed, ...).
	EventTypeSessionStatus = "session.status"
)

// Transient event types (NOTIFY only, no outbox row).
const (
	EventTypeMessageCreated  = "message.created"
	EventTypeAnalysisCreated = "analysis.created"
)

// JobsChannel is the shared channel workers LISTEN on for job creation
// hints. Every pod's worker pool subscribes at startup.
const JobsChannel = "jobs"

// UserChannel returns the delivery channel for a specific user's terminal
// events. Format: "user:{tenant_id}:{user_id}".
func UserChannel(tenantID, userID string) string {
	return "user:" + tenantID + ":" + userID
}

// ClientMessage is what a connected client may send over the socket.
type ClientMessage struct {
	Action      string `json:"action"`                  // subscribe, unsubscribe, catchup, ping
	Channel     string `json:"channel,omitempty"`       // e.g. "user:acme:u-1"
	LastEventID *int64 `json:"last_event_id,omitempty"` // catch-up cursor
}
