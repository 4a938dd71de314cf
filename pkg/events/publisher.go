package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Publisher is the event emission boundary used by the intake service, the
// worker pool, and the reaper. PostgresPublisher is the production
// implementation; MemoryPublisher backs unit tests.
type Publisher interface {
	// Transient wake hints on the jobs channel.
	PublishMessageCreated(ctx context.Context, payload JobCreatedPayload) error
	PublishAnalysisCreated(ctx context.Context, payload JobCreatedPayload) error

	// Durable terminal events on the submitting user's channel.
	PublishJobCompleted(ctx context.Context, tenantID, userID string, payload JobCompletedPayload) error
	PublishJobFailed(ctx context.Context, tenantID, userID string, payload JobFailedPayload) error
	PublishSessionStatus(ctx context.Context, tenantID, userID string, payload SessionStatusPayload) error
}

// notifyByteLimit is the cutoff for NOTIFY payloads. Postgres rejects them
// at 8000 bytes; the margin leaves room for the injected cursor field.
const notifyByteLimit = 7900

// PostgresPublisher emits events for WebSocket delivery and worker wake-up.
// Durable events get an outbox row and a NOTIFY in one transaction;
// transient job-creation hints are NOTIFY only — the pending job row is
// already their durable record.
//
// Every public method takes a typed payload (payloads.go) and stamps the
// type discriminator and timestamp itself, keeping envelopes uniform across
// call sites.
type PostgresPublisher struct {
	db *sql.DB
}

// NewPostgresPublisher wraps the *sql.DB obtained from database.Client.DB().
func NewPostgresPublisher(db *sql.DB) *PostgresPublisher {
	return &PostgresPublisher{db: db}
}

// PublishMessageCreated broadcasts a message.created wake hint on the jobs
// channel.
func (p *PostgresPublisher) PublishMessageCreated(ctx context.Context, payload JobCreatedPayload) error {
	payload.Type = EventTypeMessageCreated
	payload.Timestamp = stampNow(payload.Timestamp)
	return p.transient(ctx, JobsChannel, payload)
}

// PublishAnalysisCreated broadcasts an analysis.created wake hint on the
// jobs channel.
func (p *PostgresPublisher) PublishAnalysisCreated(ctx context.Context, payload JobCreatedPayload) error {
	payload.Type = EventTypeAnalysisCreated
	payload.Timestamp = stampNow(payload.Timestamp)
	return p.transient(ctx, JobsChannel, payload)
}

// PublishJobCompleted persists and broadcasts a message.completed event on
// the submitting user's channel.
func (p *PostgresPublisher) PublishJobCompleted(ctx context.Context, tenantID, userID string, payload JobCompletedPayload) error {
	payload.Type = EventTypeMessageCompleted
	payload.Timestamp = stampNow(payload.Timestamp)
	return p.durable(ctx, UserChannel(tenantID, userID), payload)
}

// PublishJobFailed persists and broadcasts a message.failed event on the
// submitting user's channel.
func (p *PostgresPublisher) PublishJobFailed(ctx context.Context, tenantID, userID string, payload JobFailedPayload) error {
	payload.Type = EventTypeMessageFailed
	payload.Timestamp = stampNow(payload.Timestamp)
	return p.durable(ctx, UserChannel(tenantID, userID), payload)
}

// PublishSessionStatus persists and broadcasts a session.status event on the
// owning user's channel.
func (p *PostgresPublisher) PublishSessionStatus(ctx context.Context, tenantID, userID string, payload SessionStatusPayload) error {
	payload.Type = EventTypeSessionStatus
	payload.Timestamp = stampNow(payload.Timestamp)
	if err := p.durable(ctx, UserChannel(tenantID, userID), payload); err != nil {
		slog.Warn("Failed to publish session status",
			"session_id", payload.SessionID, "status", payload.Status, "error", err)
		return err
	}
	return nil
}

// durable marshals the payload, then writes the outbox row and fires NOTIFY
// in one transaction. pg_notify inside a transaction is held until COMMIT,
// so the row and the notification become visible together or not at all.
func (p *PostgresPublisher) durable(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %T: %w", payload, err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var eventID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO events (channel, payload, created_at) VALUES ($1, $2, $3) RETURNING id`,
		channel, data, time.Now(),
	).Scan(&eventID)
	if err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}

	// The NOTIFY copy carries the outbox row ID as the catch-up cursor.
	wire, err := withCursor(data, eventID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, wire); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event transaction: %w", err)
	}
	return nil
}

// transient marshals the payload and fires NOTIFY without an outbox row.
func (p *PostgresPublisher) transient(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %T: %w", payload, err)
	}
	wire, err := fitNotify(string(data))
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, wire); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// stampNow returns ts unchanged when already set, otherwise the current time
// in RFC3339Nano.
func stampNow(ts string) string {
	if ts != "" {
		return ts
	}
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// withCursor adds dbEventId to the payload for NOTIFY delivery, falling back
// to a routing stub when the result would not fit.
func withCursor(data []byte, eventID int64) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("failed to unmarshal payload for dbEventId injection: %w", err)
	}
	m["dbEventId"] = eventID

	enriched, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal enriched NOTIFY payload: %w", err)
	}
	return fitNotify(string(enriched))
}

// fitNotify passes the payload through when it fits in a NOTIFY, otherwise
// replaces it with a routing stub.
func fitNotify(payload string) (string, error) {
	if len(payload) <= notifyByteLimit {
		return payload, nil
	}
	return routingStub([]byte(payload))
}

// routingStub reduces an oversized payload to what a client needs to fetch
// the full event through the job projection instead: the type, the IDs, the
// cursor, and a truncation marker.
func routingStub(payload []byte) (string, error) {
	var fields struct {
		Type      string `json:"type"`
		JobID     string `json:"jobId"`
		SessionID string `json:"sessionId"`
		DBEventID *int64 `json:"dbEventId,omitempty"`
	}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return "", fmt.Errorf("failed to extract routing fields for truncation: %w", err)
	}

	stub := map[string]any{
		"type":      fields.Type,
		"jobId":     fields.JobID,
		"sessionId": fields.SessionID,
		"truncated": true,
	}
	if fields.DBEventID != nil {
		stub["dbEventId"] = *fields.DBEventID
	}

	out, err := json.Marshal(stub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated payload: %w", err)
	}
	return string(out), nil
}
