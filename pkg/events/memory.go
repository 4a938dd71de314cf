package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryPublisher is an in-process Publisher for tests and single-pod
// development. It mirrors PostgresPublisher's semantics: durable events get
// a monotonically increasing row ID and are kept for catch-up queries;
// transient events are dispatched to sinks only. Dispatch is synchronous,
// so a test can publish and immediately assert on sink state.
type MemoryPublisher struct {
	mu     sync.Mutex
	nextID int64
	rows   []memoryEvent
	sinks  []Sink
}

type memoryEvent struct {
	id      int64
	channel string
	payload []byte
}

// NewMemoryPublisher creates a MemoryPublisher dispatching to the given sinks.
func NewMemoryPublisher(sinks ...Sink) *MemoryPublisher {
	return &MemoryPublisher{sinks: sinks}
}

// AddSink registers an additional dispatch target. Used when a sink (e.g.
// the worker pool) is constructed after the publisher.
func (p *MemoryPublisher) AddSink(s Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks = append(p.sinks, s)
}

func (p *MemoryPublisher) PublishMessageCreated(ctx context.Context, payload JobCreatedPayload) error {
	payload.Type = EventTypeMessageCreated
	payload.Timestamp = stampNow(payload.Timestamp)
	return p.transient(JobsChannel, payload)
}

func (p *MemoryPublisher) PublishAnalysisCreated(ctx context.Context, payload JobCreatedPayload) error {
	payload.Type = EventTypeAnalysisCreated
	payload.Timestamp = stampNow(payload.Timestamp)
	return p.transient(JobsChannel, payload)
}

func (p *MemoryPublisher) PublishJobCompleted(ctx context.Context, tenantID, userID string, payload JobCompletedPayload) error {
	payload.Type = EventTypeMessageCompleted
	payload.Timestamp = stampNow(payload.Timestamp)
	return p.durable(UserChannel(tenantID, userID), payload)
}

func (p *MemoryPublisher) PublishJobFailed(ctx context.Context, tenantID, userID string, payload JobFailedPayload) error {
	payload.Type = EventTypeMessageFailed
	payload.Timestamp = stampNow(payload.Timestamp)
	return p.durable(UserChannel(tenantID, userID), payload)
}

func (p *MemoryPublisher) PublishSessionStatus(ctx context.Context, tenantID, userID string, payload SessionStatusPayload) error {
	payload.Type = EventTypeSessionStatus
	payload.Timestamp = stampNow(payload.Timestamp)
	return p.durable(UserChannel(tenantID, userID), payload)
}

// EventsSince implements CatchupSource over the in-memory outbox.
func (p *MemoryPublisher) EventsSince(ctx context.Context, channel string, sinceID int64, limit int) ([]OutboxRow, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []OutboxRow
	for _, row := range p.rows {
		if row.channel != channel || row.id <= sinceID {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(row.payload, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stored event %d: %w", row.id, err)
		}
		out = append(out, OutboxRow{ID: row.id, Payload: m})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// DurableCount returns the number of outbox rows on a channel. Test helper.
func (p *MemoryPublisher) DurableCount(channel string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, row := range p.rows {
		if row.channel == channel {
			n++
		}
	}
	return n
}

func (p *MemoryPublisher) durable(channel string, payload any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.rows = append(p.rows, memoryEvent{id: id, channel: channel, payload: payloadJSON})
	sinks := make([]Sink, len(p.sinks))
	copy(sinks, p.sinks)
	p.mu.Unlock()

	notifyPayload, err := withCursor(payloadJSON, id)
	if err != nil {
		return err
	}
	for _, s := range sinks {
		s.Broadcast(channel, []byte(notifyPayload))
	}
	return nil
}

func (p *MemoryPublisher) transient(channel string, payload any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	p.mu.Lock()
	sinks := make([]Sink, len(p.sinks))
	copy(sinks, p.sinks)
	p.mu.Unlock()

	for _, s := range sinks {
		s.Broadcast(channel, payloadJSON)
	}
	return nil
}
