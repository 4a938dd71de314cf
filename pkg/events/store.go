package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventStore reads and prunes the events outbox. It implements
// CatchupSource for the Hub and backs the reaper's retention sweep.
type EventStore struct {
	db *sql.DB
}

// NewEventStore creates an EventStore over the shared database handle.
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// EventsSince returns outbox rows on a channel with ID > sinceID,
// oldest first, up to limit.
func (s *EventStore) EventsSince(ctx context.Context, channel string, sinceID int64, limit int) ([]OutboxRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload FROM events WHERE channel = $1 AND id > $2 ORDER BY id ASC LIMIT $3`,
		channel, sinceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("catchup query failed: %w", err)
	}
	defer rows.Close()

	var out []OutboxRow
	for rows.Next() {
		var (
			id      int64
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		var m map[string]any
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event %d payload: %w", id, err)
		}
		out = append(out, OutboxRow{ID: id, Payload: m})
	}
	return out, rows.Err()
}

// DeleteOlderThan removes outbox rows created before the cutoff and returns
// the number deleted. Clients reconnecting after the retention window get a
// catchup.overflow signal instead of the pruned events.
func (s *EventStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("event retention delete failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

var _ CatchupSource = (*EventStore)(nil)
