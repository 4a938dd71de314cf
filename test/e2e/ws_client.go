package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/arbor-coach/arbor/pkg/models"
)

// Frame is one message received over the test WebSocket connection.
type Frame struct {
	Type   string
	Parsed map[string]interface{}
}

// Recorder is a WebSocket peer that keeps every frame the server pushes,
// so tests can assert on delivery order and content after the fact.
type Recorder struct {
	conn *websocket.Conn

	mu     sync.Mutex
	frames []Frame
	wake   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// DialWS opens a recording connection to wsURL with identity headers. The
// connection lives until Close or until ctx is cancelled.
func DialWS(ctx context.Context, wsURL string, identity models.Identity) (*Recorder, error) {
	hdr := http.Header{}
	hdr.Set("X-Forwarded-Tenant", identity.TenantID)
	hdr.Set("X-Forwarded-User", identity.UserID)
	hdr.Set("X-Forwarded-Tier", string(identity.Tier))

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	c := &Recorder{
		conn:   conn,
		wake:   make(chan struct{}),
		ctx:    connCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.pump()
	return c, nil
}

// Join asks the server to subscribe this connection to channel. The server
// answers with a subscription.confirmed frame.
func (c *Recorder) Join(channel string) error {
	frame, err := json.Marshal(struct {
		Action  string `json:"action"`
		Channel string `json:"channel"`
	}{Action: "subscribe", Channel: channel})
	if err != nil {
		return err
	}
	return c.conn.Write(c.ctx, websocket.MessageText, frame)
}

// AwaitType blocks until a frame with the given type arrives.
func (c *Recorder) AwaitType(typ string, timeout time.Duration) (*Frame, error) {
	return c.awaitMatch(timeout, func(f Frame) bool {
		return f.Type == typ
	})
}

// AwaitJob blocks until a frame of the given type carries jobID.
func (c *Recorder) AwaitJob(typ, jobID string, timeout time.Duration) (*Frame, error) {
	return c.awaitMatch(timeout, func(f Frame) bool {
		return f.Type == typ && f.Parsed["jobId"] == jobID
	})
}

// AwaitSessionStatus blocks until a session.status frame reports status.
func (c *Recorder) AwaitSessionStatus(status string, timeout time.Duration) (*Frame, error) {
	return c.awaitMatch(timeout, func(f Frame) bool {
		return f.Type == "session.status" && f.Parsed["status"] == status
	})
}

// FramesOfType returns every received frame with the given type.
func (c *Recorder) FramesOfType(typ string) []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Frame
	for _, f := range c.frames {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

// Close tears down the connection and waits for the reader to exit.
func (c *Recorder) Close() error {
	c.cancel()
	_ = c.conn.CloseNow()
	<-c.done
	return nil
}

// awaitMatch scans frames already received, then sleeps until the pump
// records more. Each frame is inspected exactly once.
func (c *Recorder) awaitMatch(timeout time.Duration, match func(Frame) bool) (*Frame, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	next := 0
	for {
		c.mu.Lock()
		for ; next < len(c.frames); next++ {
			if match(c.frames[next]) {
				f := c.frames[next]
				c.mu.Unlock()
				return &f, nil
			}
		}
		wake := c.wake
		total := len(c.frames)
		c.mu.Unlock()

		select {
		case <-wake:
		case <-deadline.C:
			return nil, fmt.Errorf("no matching frame within %s (%d received)", timeout, total)
		}
	}
}

func (c *Recorder) pump() {
	defer close(c.done)
	for {
		_, raw, err := c.conn.Read(c.ctx)
		if err != nil {
			return
		}

		var fields map[string]interface{}
		if json.Unmarshal(raw, &fields) != nil {
			continue
		}
		f := Frame{Parsed: fields}
		f.Type, _ = fields["type"].(string)
		c.record(f)
	}
}

// record appends the frame and wakes every waiter by cycling the wake
// channel.
func (c *Recorder) record(f Frame) {
	c.mu.Lock()
	c.frames = append(c.frames, f)
	close(c.wake)
	c.wake = make(chan struct{})
	c.mu.Unlock()
}
