package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arbor-coach/arbor/pkg/config"
	"github.com/arbor-coach/arbor/pkg/events"
	"github.com/arbor-coach/arbor/pkg/models"
	"github.com/arbor-coach/arbor/pkg/storage"
)

var (
	owner    = models.Identity{TenantID: "acme", UserID: "u-1", Tier: "premium"}
	stranger = models.Identity{TenantID: "acme", UserID: "u-2", Tier: "basic"}
)

var entriesSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"entries": {"type": "array", "minItems": 1}
	},
	"required": ["entries"]
}`)

func testTopics() *config.TopicRegistry {
	return config.NewTopicRegistry(map[string]*models.Topic{
		"career-coaching": {
			ID:        "career-coaching",
			Kind:      models.JobKindCoachingMessage,
			ModelCode: "fake-model",
			MaxTurns:  3,
			IsActive:  true,
		},
		"weekly-reflection": {
			ID:          "weekly-reflection",
			Kind:        models.JobKindSingleShotAnalysis,
			ModelCode:   "fake-model",
			ParamSchema: entriesSchema,
			IsActive:    true,
		},
		"life-coaching": {
			ID:        "life-coaching",
			Kind:      models.JobKindCoachingMessage,
			ModelCode: "fake-model",
			IsActive:  true,
		},
		"retired-topic": {
			ID:        "retired-topic",
			Kind:      models.JobKindCoachingMessage,
			ModelCode: "fake-model",
			IsActive:  false,
		},
	})
}

// recordingSink captures broadcasts so tests can assert on event flow.
type recordingSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

type sinkEvent struct {
	channel string
	payload map[string]any
}

func (s *recordingSink) Broadcast(channel string, payload []byte) {
	var m map[string]any
	_ = json.Unmarshal(payload, &m)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sinkEvent{channel: channel, payload: m})
}

func (s *recordingSink) byType(eventType string) []sinkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sinkEvent
	for _, e := range s.events {
		if e.payload["type"] == eventType {
			out = append(out, e)
		}
	}
	return out
}

// statuses returns the session.status transition sequence in publish order.
func (s *recordingSink) statuses() []string {
	var out []string
	for _, e := range s.byType(events.EventTypeSessionStatus) {
		out = append(out, e.payload["status"].(string))
	}
	return out
}

// testEnv wires the service layer over in-memory stores and a recording
// event sink.
type testEnv struct {
	stores   storage.Stores
	sink     *recordingSink
	sessions *SessionService
	intake   *IntakeService
	jobs     *JobService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	stores := storage.NewMemoryStores()
	sink := &recordingSink{}
	pub := events.NewMemoryPublisher(sink)
	topics := testTopics()
	sessions := NewSessionService(stores.Sessions, topics, pub)
	return &testEnv{
		stores:   stores,
		sink:     sink,
		sessions: sessions,
		intake:   NewIntakeService(stores.Jobs, sessions, topics, pub, config.Defaults{}, nil),
		jobs:     NewJobService(stores.Jobs),
	}
}

func (e *testEnv) mustStart(t *testing.T, identity models.Identity, topicID string) *models.Session {
	t.Helper()
	session, err := e.sessions.Start(context.Background(), identity, topicID)
	require.NoError(t, err)
	return session
}

// backdateSession rewrites a session in place, bypassing the CAS, to stage
// states the service would never write directly.
func (e *testEnv) backdateSession(sessionID string, mutate func(*models.Session)) {
	e.stores.Sessions.(*storage.MemorySessionStore).Backdate(sessionID, mutate)
}

// backdateActivity shifts a session's activity timestamp into the past to
// stage idle-timeout scenarios.
func (e *testEnv) backdateActivity(sessionID string, age time.Duration) {
	e.backdateSession(sessionID, func(s *models.Session) {
		s.LastActivityAt = s.LastActivityAt.Add(-age)
	})
}

// storedSession reads the session straight from the store, skipping the
// service layer and its lazy idle flip.
func (e *testEnv) storedSession(t *testing.T, sessionID string) *models.Session {
	t.Helper()
	session, err := e.stores.Sessions.Get(context.Background(), sessionID)
	require.NoError(t, err)
	return session
}
