package models

import (
	"encoding/json"
	"time"
)

// Event is a row in the durable event outbox. Terminal job events are
// inserted in the same transaction as the pg_notify broadcast; the serial
// ID doubles as the catch-up cursor for reconnecting WebSocket clients.
type Event struct {
	ID        int64           `json:"id"`
	Channel   string          `json:"channel"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
