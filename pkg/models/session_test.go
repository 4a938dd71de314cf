package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIdleExpiredBoundary(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name   string
		status SessionStatus
		idle   time.Duration
		want   bool
	}{
		{"one second inside the window", SessionStatusActive, SessionIdleTTL - time.Second, false},
		{"exactly at the window", SessionStatusActive, SessionIdleTTL, false},
		{"one second past the window", SessionStatusActive, SessionIdleTTL + time.Second, true},
		{"paused sessions never expire", SessionStatusPaused, 48 * time.Hour, false},
		{"completed sessions never expire", SessionStatusCompleted, 48 * time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{Status: tt.status, LastActivityAt: now.Add(-tt.idle)}
			assert.Equal(t, tt.want, s.IdleExpired(now))
		})
	}
}

func TestTurnsExhaustedBoundary(t *testing.T) {
	tests := []struct {
		name     string
		turn     int
		maxTurns int
		want     bool
	}{
		{"one turn left", 2, 3, false},
		{"budget spent", 3, 3, true},
		{"zero means unlimited", 100, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{Turn: tt.turn, MaxTurns: tt.maxTurns}
			assert.Equal(t, tt.want, s.TurnsExhausted())
		})
	}
}

func TestSessionStatusIsTerminal(t *testing.T) {
	assert.False(t, SessionStatusActive.IsTerminal())
	assert.False(t, SessionStatusPaused.IsTerminal())
	assert.True(t, SessionStatusCompleted.IsTerminal())
	assert.True(t, SessionStatusCancelled.IsTerminal())
	assert.True(t, SessionStatusAbandoned.IsTerminal())
}
