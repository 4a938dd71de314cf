package database

import (
	"context"
	"time"
)

// PoolStatus is a point-in-time snapshot of connectivity and pool pressure.
type PoolStatus struct {
	Healthy      bool  `json:"healthy"`
	PingMS       int64 `json:"ping_ms"`
	Open         int   `json:"open_connections"`
	InUse        int   `json:"in_use"`
	Idle         int   `json:"idle"`
	WaitCount    int64 `json:"wait_count"`
	WaitMS       int64 `json:"wait_ms"`
	MaxOpenConns int   `json:"max_open_conns"`
}

// Health pings the database and reports pool statistics. On ping failure the
// returned status still carries the measured latency alongside the error.
func (c *Client) Health(ctx context.Context) (*PoolStatus, error) {
	start := time.Now()
	if err := c.db.PingContext(ctx); err != nil {
		return &PoolStatus{PingMS: time.Since(start).Milliseconds()}, err
	}

	s := c.db.Stats()
	return &PoolStatus{
		Healthy:      true,
		PingMS:       time.Since(start).Milliseconds(),
		Open:         s.OpenConnections,
		InUse:        s.InUse,
		Idle:         s.Idle,
		WaitCount:    s.WaitCount,
		WaitMS:       s.WaitDuration.Milliseconds(),
		MaxOpenConns: s.MaxOpenConnections,
	}, nil
}
