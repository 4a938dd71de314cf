package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

// Sink receives notifications dispatched by the listener (and by the
// in-process MemoryPublisher). Implemented by the WebSocket Hub and by the
// worker pool's wake receiver.
type Sink interface {
	Broadcast(channel string, payload []byte)
}

// connCmd is one LISTEN or UNLISTEN statement queued for the receive loop,
// the sole goroutine allowed to touch the pgx connection.
type connCmd struct {
	stmt string
	done chan error
}

// Listener holds this process's LISTEN session against Postgres and
// fans incoming NOTIFY payloads out to the local sinks. One instance per
// pod, on a dedicated connection: LISTEN binds to the session, so a pooled
// connection would lose it on checkin.
type Listener struct {
	dsn    string
	conn   *pgx.Conn // owned by the receive loop
	connMu sync.Mutex

	sinks   []Sink
	sinksMu sync.RWMutex

	active   map[string]bool // channels with LISTEN in effect
	activeMu sync.RWMutex

	// cmds funnels LISTEN/UNLISTEN through the receive loop. Running Exec
	// concurrently with WaitForNotification on one pgx conn trips its busy
	// check, so every statement goes through here instead.
	cmds    chan connCmd
	running atomic.Bool

	stopLoop context.CancelFunc
	loopExit chan struct{}
}

// NewListener creates a listener for the given DSN. Call Start to dial.
func NewListener(dsn string, sinks ...Sink) *Listener {
	return &Listener{
		dsn:    dsn,
		sinks:  sinks,
		active: make(map[string]bool),
		cmds:   make(chan connCmd, 16),
	}
}

// AddSink registers an additional dispatch target. Called during startup
// wiring before Start; not safe to race with an active receive loop's
// fanout, hence the mutex on reads as well.
func (l *Listener) AddSink(s Sink) {
	l.sinksMu.Lock()
	defer l.sinksMu.Unlock()
	l.sinks = append(l.sinks, s)
}

// Start dials the dedicated connection and launches the receive loop.
func (l *Listener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return fmt.Errorf("failed to connect for LISTEN: %w", err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()
	l.running.Store(true)

	// The loop gets its own cancel so Stop can end it before the connection
	// is closed underneath WaitForNotification.
	loopCtx, cancel := context.WithCancel(ctx)
	l.stopLoop = cancel
	l.loopExit = make(chan struct{})
	go func() {
		defer close(l.loopExit)
		l.run(loopCtx)
	}()

	slog.Info("NOTIFY listener up")
	return nil
}

// Subscribe puts LISTEN in effect for a channel. Idempotent; returns once
// the statement has executed, so callers can rely on delivery being live.
func (l *Listener) Subscribe(ctx context.Context, channel string) error {
	if l.isListening(channel) {
		return nil
	}
	if !l.running.Load() {
		return fmt.Errorf("LISTEN connection not established")
	}

	quoted := pgx.Identifier{channel}.Sanitize()
	if err := l.exec(ctx, "LISTEN "+quoted); err != nil {
		return fmt.Errorf("LISTEN %s failed: %w", quoted, err)
	}

	l.activeMu.Lock()
	l.active[channel] = true
	l.activeMu.Unlock()
	slog.Debug("Subscribed to NOTIFY channel", "channel", channel)
	return nil
}

// Unsubscribe drops the LISTEN for a channel. A no-op when the channel was
// never subscribed or the listener is down.
func (l *Listener) Unsubscribe(ctx context.Context, channel string) error {
	if !l.isListening(channel) {
		return nil
	}
	if !l.running.Load() {
		return nil
	}

	quoted := pgx.Identifier{channel}.Sanitize()
	if err := l.exec(ctx, "UNLISTEN "+quoted); err != nil {
		return fmt.Errorf("UNLISTEN %s failed: %w", quoted, err)
	}

	l.activeMu.Lock()
	delete(l.active, channel)
	l.activeMu.Unlock()
	return nil
}

// exec ships one statement to the receive loop and waits for its result.
func (l *Listener) exec(ctx context.Context, stmt string) error {
	cmd := connCmd{stmt: stmt, done: make(chan error, 1)}
	select {
	case l.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run alternates between executing queued statements and waiting for
// notifications until the context ends. WaitForNotification gets a short
// deadline so the loop keeps coming back for queued commands.
func (l *Listener) run(ctx context.Context) {
	for ctx.Err() == nil {
		l.drainCmds(ctx)

		conn := l.currentConn()
		if conn == nil {
			l.redial(ctx)
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		n, err := conn.WaitForNotification(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if waitCtx.Err() != nil {
				continue // wait window elapsed, go service the queue
			}
			slog.Error("NOTIFY receive error", "error", err)
			l.redial(ctx)
			continue
		}

		l.fanout(n.Channel, []byte(n.Payload))
	}
}

// drainCmds executes every statement currently queued, answering each
// sender through its done channel.
func (l *Listener) drainCmds(ctx context.Context) {
	for {
		select {
		case cmd := <-l.cmds:
			conn := l.currentConn()
			if conn == nil {
				cmd.done <- fmt.Errorf("LISTEN connection not established")
				continue
			}
			_, err := conn.Exec(ctx, cmd.stmt)
			cmd.done <- err
		default:
			return
		}
	}
}

// fanout hands one notification to every sink.
func (l *Listener) fanout(channel string, payload []byte) {
	l.sinksMu.RLock()
	targets := make([]Sink, len(l.sinks))
	copy(targets, l.sinks)
	l.sinksMu.RUnlock()

	for _, s := range targets {
		s.Broadcast(channel, payload)
	}
}

// redial closes the dead connection and dials until one sticks, doubling
// the delay between attempts up to 30s. Channels that had LISTEN in effect
// before the drop get it re-issued on the fresh connection.
func (l *Listener) redial(ctx context.Context) {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}

	delay := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		conn, err := pgx.Connect(ctx, l.dsn)
		if err != nil {
			slog.Error("LISTEN reconnect failed", "error", err, "backoff", delay)
			delay = min(delay*2, 30*time.Second)
			continue
		}
		l.conn = conn

		l.activeMu.RLock()
		for ch := range l.active {
			if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
				slog.Error("Re-LISTEN failed", "channel", ch, "error", err)
			}
		}
		l.activeMu.RUnlock()

		slog.Info("NOTIFY listener reconnected")
		return
	}
}

// Running reports whether the receive loop is active. Health checks use
// this to flag a pod whose LISTEN connection has dropped.
func (l *Listener) Running() bool {
	return l.running.Load()
}

// isListening reports whether LISTEN is in effect for a channel.
// Unexported — tests poll it instead of sleeping.
func (l *Listener) isListening(channel string) bool {
	l.activeMu.RLock()
	defer l.activeMu.RUnlock()
	return l.active[channel]
}

func (l *Listener) currentConn() *pgx.Conn {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	return l.conn
}

// Stop ends the receive loop, waits for it, then closes the connection.
// Closing first would race WaitForNotification on the same conn.
func (l *Listener) Stop(ctx context.Context) {
	l.running.Store(false)

	if l.stopLoop != nil {
		l.stopLoop()
	}
	if l.loopExit != nil {
		<-l.loopExit
	}

	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
}
