package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/arbor-coach/arbor/pkg/models"
)

// catchupLimit caps how many outbox rows a single replay will stream. Beyond
// it the client gets catchup.overflow and reloads through the job resource.
const catchupLimit = 200

// listenTimeout bounds the blocking LISTEN issued for a channel's first
// subscriber. A wedged listener connection must not pin the client's read
// loop forever.
const listenTimeout = 10 * time.Second

// OutboxRow is one outbox row as served to a replaying client.
type OutboxRow struct {
	ID      int64
	Payload map[string]any
}

// CatchupSource reads outbox rows for replay. EventStore implements it
// against Postgres; MemoryPublisher implements it for tests.
type CatchupSource interface {
	EventsSince(ctx context.Context, channel string, sinceID int64, limit int) ([]OutboxRow, error)
}

// Hub is the delivery edge of the event bus: it owns every WebSocket
// accepted by this process, tracks which channels each one joined, and fans
// broadcast payloads out to them. Subscriptions are identity-scoped; a
// client can only ever join its own user channel, so terminal events never
// cross tenant or user boundaries.
type Hub struct {
	connMu sync.RWMutex
	conns  map[string]*client // connection ID → connection

	subMu sync.RWMutex
	subs  map[string]map[string]bool // channel → subscriber connection IDs

	// outbox serves replay queries for late or reconnecting subscribers.
	outbox CatchupSource

	lisMu    sync.RWMutex
	listener *Listener // attached after construction, may stay nil in tests

	writeTimeout time.Duration
}

// client is one WebSocket peer bound to one identity.
//
// joined is read and written without a lock. Every access happens on the
// goroutine running Serve's read loop, including its deferred drop; any
// future path that touches a client from elsewhere has to add one.
type client struct {
	id       string
	conn     *websocket.Conn
	identity models.Identity
	joined   map[string]bool
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewHub builds an empty hub. Attach the NOTIFY listener with
// AttachListener once it exists.
func NewHub(outbox CatchupSource, writeTimeout time.Duration) *Hub {
	return &Hub{
		conns:        make(map[string]*client),
		subs:         make(map[string]map[string]bool),
		outbox:       outbox,
		writeTimeout: writeTimeout,
	}
}

// AttachListener attaches the NOTIFY listener used for per-channel LISTEN and
// UNLISTEN. Called once at startup, after both sides exist.
func (h *Hub) AttachListener(l *Listener) {
	h.lisMu.Lock()
	h.listener = l
	h.lisMu.Unlock()
}

// Serve owns one upgraded WebSocket for its whole life. The HTTP handler
// calls it with the identity the gateway authenticated; it returns when the
// peer disconnects or the request context ends.
func (h *Hub) Serve(parent context.Context, conn *websocket.Conn, identity models.Identity) {
	ctx, cancel := context.WithCancel(parent)
	c := &client{
		id:       uuid.New().String(),
		conn:     conn,
		identity: identity,
		joined:   make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
	}

	h.track(c)
	defer h.drop(c)

	// The hello frame carries the one channel this identity may subscribe
	// to, so clients never assemble channel names themselves.
	h.writeJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": c.id,
		"channel":       UserChannel(identity.TenantID, identity.UserID),
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message", "connection_id", c.id, "error", err)
			continue
		}
		h.dispatch(ctx, c, &msg)
	}
}

// dispatch routes one client frame. Unknown actions are dropped silently.
func (h *Hub) dispatch(ctx context.Context, c *client, msg *ClientMessage) {
	// subscribe, unsubscribe and catchup all address a channel; reject the
	// frame before touching any state when it is missing.
	switch msg.Action {
	case "subscribe", "unsubscribe", "catchup":
		if msg.Channel == "" {
			h.writeJSON(c, map[string]string{
				"type":    "error",
				"message": "channel is required for " + msg.Action,
			})
			return
		}
	}

	switch msg.Action {
	case "subscribe":
		h.handleSubscribe(ctx, c, msg.Channel)
	case "unsubscribe":
		h.unsubscribe(c, msg.Channel)
	case "catchup":
		if !channelPermitted(c, msg.Channel) {
			return
		}
		if msg.LastEventID != nil {
			h.replay(ctx, c, msg.Channel, *msg.LastEventID)
		}
	case "ping":
		h.writeJSON(c, map[string]string{"type": "pong"})
	}
}

// handleSubscribe runs the permission check, the LISTEN handshake and the
// automatic replay for one subscribe frame.
func (h *Hub) handleSubscribe(ctx context.Context, c *client, channel string) {
	if !channelPermitted(c, channel) {
		h.writeJSON(c, map[string]string{
			"type":    "subscription.error",
			"channel": channel,
			"message": "channel not permitted for this identity",
		})
		return
	}
	if err := h.subscribe(c, channel); err != nil {
		h.writeJSON(c, map[string]string{
			"type":    "subscription.error",
			"channel": channel,
			"message": "failed to subscribe to channel",
		})
		return
	}
	h.writeJSON(c, map[string]string{
		"type":    "subscription.confirmed",
		"channel": channel,
	})
	// Replay from zero so a subscriber that connected after its job already
	// finished still receives every event for the channel.
	h.replay(ctx, c, channel, 0)
}

// channelPermitted reports whether the connection's identity may read the
// channel. Clients only ever see their own user channel; the jobs channel is
// worker-internal and unreachable from a WebSocket client.
func channelPermitted(c *client, channel string) bool {
	return channel == UserChannel(c.identity.TenantID, c.identity.UserID)
}

// subscribe adds the connection to a channel's subscriber set. The first
// subscriber triggers a synchronous LISTEN: by the time subscribe returns,
// NOTIFY delivery is active, so the automatic replay that follows cannot
// race with live events. On LISTEN failure the channel is torn down and an
// error returned, letting the caller report failure instead of a false
// confirmation.
func (h *Hub) subscribe(c *client, channel string) error {
	h.subMu.Lock()
	set, ok := h.subs[channel]
	if !ok {
		set = make(map[string]bool)
		h.subs[channel] = set
	}
	set[c.id] = true
	first := !ok
	h.subMu.Unlock()

	if first {
		if l := h.currentListener(); l != nil {
			listenCtx, cancel := context.WithTimeout(context.Background(), listenTimeout)
			defer cancel()
			if err := l.Subscribe(listenCtx, channel); err != nil {
				slog.Error("Failed to LISTEN on channel", "channel", channel, "error", err)
				h.revokeChannel(c, channel)
				return fmt.Errorf("LISTEN on channel %s: %w", channel, err)
			}
		}
	}

	c.joined[channel] = true
	return nil
}

// revokeChannel tears a channel down after LISTEN failed, notifying every
// subscriber other than the one whose subscribe triggered the LISTEN (that
// one learns of it through subscribe's error return).
//
// Connections that subscribed while the LISTEN was in flight saw the channel
// entry already present, skipped the handshake and were confirmed — but no
// PG LISTEN ever took effect for them. They get a subscription.error here,
// which can arrive after their subscription.confirmed and any replayed
// events. Clients treat subscription.error as final for the channel: discard
// what was received, then re-subscribe or fall back to polling the job
// resource.
//
// A revoked connection may keep a stale joined[channel] entry. Broadcast
// consults h.subs (already deleted here), and both unsubscribe and drop
// tolerate channels that no longer exist, so the entry is inert.
func (h *Hub) revokeChannel(trigger *client, channel string) {
	h.subMu.Lock()
	orphans := make([]string, 0, len(h.subs[channel]))
	for id := range h.subs[channel] {
		if id != trigger.id {
			orphans = append(orphans, id)
		}
	}
	delete(h.subs, channel)
	h.subMu.Unlock()

	if len(orphans) == 0 {
		return
	}

	for _, c := range h.resolve(orphans) {
		slog.Warn("Removing orphaned subscriber after LISTEN failure",
			"connection_id", c.id, "channel", channel)
		h.writeJSON(c, map[string]string{
			"type":    "subscription.error",
			"channel": channel,
			"message": "channel listen failed; subscription removed",
		})
	}
}

// unsubscribe removes the connection from a channel, dropping the PG LISTEN
// once the last subscriber is gone. The UNLISTEN runs on its own goroutine
// and re-checks the subscriber map first: a resubscribe landing between the
// delete below and the UNLISTEN would otherwise lose its delivery.
func (h *Hub) unsubscribe(c *client, channel string) {
	h.subMu.Lock()
	set, ok := h.subs[channel]
	if ok {
		delete(set, c.id)
	}
	last := ok && len(set) == 0
	if last {
		delete(h.subs, channel)
	}
	h.subMu.Unlock()

	delete(c.joined, channel)

	if !last {
		return
	}
	l := h.currentListener()
	if l == nil {
		return
	}
	go func() {
		h.subMu.RLock()
		_, resubscribed := h.subs[channel]
		h.subMu.RUnlock()
		if resubscribed {
			return
		}
		if err := l.Unsubscribe(context.Background(), channel); err != nil {
			slog.Error("Failed to UNLISTEN channel", "channel", channel, "error", err)
		}
	}()
}

// replay streams outbox rows with ID > sinceID to one connection, oldest
// first. Each payload gets its dbEventId injected from the row ID: stored
// payloads don't carry it, the publisher only stamps it on the NOTIFY copy.
func (h *Hub) replay(ctx context.Context, c *client, channel string, sinceID int64) {
	if h.outbox == nil {
		return
	}

	// Fetch one row past the limit to learn whether the window overflowed.
	rows, err := h.outbox.EventsSince(ctx, channel, sinceID, catchupLimit+1)
	if err != nil {
		slog.Error("Catchup query failed", "channel", channel, "error", err)
		return
	}

	overflow := len(rows) > catchupLimit
	if overflow {
		rows = rows[:catchupLimit]
	}

	for _, row := range rows {
		row.Payload["dbEventId"] = row.ID
		data, err := json.Marshal(row.Payload)
		if err != nil {
			continue
		}
		if err := h.write(c, data); err != nil {
			slog.Warn("Failed to send catchup event", "connection_id", c.id, "error", err)
			return
		}
	}

	// Too many rows to stream: the client reloads through the job resource
	// rather than paginating replay requests.
	if overflow {
		h.writeJSON(c, map[string]any{
			"type":     "catchup.overflow",
			"channel":  channel,
			"has_more": true,
		})
	}
}

// Broadcast fans one serialized event out to every subscriber of the channel
// on this process. It is the Sink the NOTIFY listener delivers into.
func (h *Hub) Broadcast(channel string, event []byte) {
	h.subMu.RLock()
	ids := make([]string, 0, len(h.subs[channel]))
	for id := range h.subs[channel] {
		ids = append(ids, id)
	}
	h.subMu.RUnlock()

	if len(ids) == 0 {
		return
	}

	// A write may block for up to writeTimeout, so no lock is held across
	// the sends.
	for _, c := range h.resolve(ids) {
		if err := h.write(c, event); err != nil {
			slog.Warn("Failed to send to WebSocket client", "connection_id", c.id, "error", err)
		}
	}
}

// OpenConnections reports how many WebSockets this process currently holds.
func (h *Hub) OpenConnections() int {
	h.connMu.RLock()
	defer h.connMu.RUnlock()
	return len(h.conns)
}

// subscribers is test plumbing: polling it beats sleeping.
func (h *Hub) subscribers(channel string) int {
	h.subMu.RLock()
	defer h.subMu.RUnlock()
	return len(h.subs[channel])
}

func (h *Hub) currentListener() *Listener {
	h.lisMu.RLock()
	defer h.lisMu.RUnlock()
	return h.listener
}

// resolve maps connection IDs to live connections, skipping any that
// disconnected in the meantime.
func (h *Hub) resolve(ids []string) []*client {
	h.connMu.RLock()
	defer h.connMu.RUnlock()
	out := make([]*client, 0, len(ids))
	for _, id := range ids {
		if c, ok := h.conns[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) track(c *client) {
	h.connMu.Lock()
	h.conns[c.id] = c
	h.connMu.Unlock()
}

// drop detaches a closed connection: every channel it joined is unsubscribed
// (releasing any LISTEN it alone kept alive), then the connection itself is
// forgotten and closed.
func (h *Hub) drop(c *client) {
	for ch := range c.joined {
		h.unsubscribe(c, ch)
	}

	h.connMu.Lock()
	delete(h.conns, c.id)
	h.connMu.Unlock()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

// writeJSON marshals v and sends it on one connection. Send failures are
// logged, not returned: a dead connection gets reaped by its own read loop.
func (h *Hub) writeJSON(c *client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message", "connection_id", c.id, "error", err)
		return
	}
	if err := h.write(c, data); err != nil {
		slog.Warn("Failed to send WebSocket message", "connection_id", c.id, "error", err)
	}
}

func (h *Hub) write(c *client, data []byte) error {
	ctx, cancel := context.WithTimeout(c.ctx, h.writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}
