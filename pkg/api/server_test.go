package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arbor-coach/arbor/pkg/config"
	"github.com/arbor-coach/arbor/pkg/events"
	"github.com/arbor-coach/arbor/pkg/models"
	"github.com/arbor-coach/arbor/pkg/services"
	"github.com/arbor-coach/arbor/pkg/storage"
)

var coachee = models.Identity{TenantID: "acme", UserID: "u-1", Tier: models.TierProfessional}

// recordingSink captures broadcasts for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []map[string]any
}

func (s *recordingSink) Broadcast(_ string, payload []byte) {
	var m map[string]any
	_ = json.Unmarshal(payload, &m)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, m)
}

func (s *recordingSink) byType(eventType string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []map[string]any
	for _, e := range s.events {
		if e["type"] == eventType {
			out = append(out, e)
		}
	}
	return out
}

// apiEnv boots the full HTTP stack over in-memory stores. Requests go
// through ServeHTTP, so routing, middleware, and handlers are all under
// test together.
type apiEnv struct {
	server   *Server
	stores   storage.Stores
	sink     *recordingSink
	sessions *services.SessionService
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	stores := storage.NewMemoryStores()
	sink := &recordingSink{}
	publisher := events.NewMemoryPublisher(sink)

	topics := config.NewTopicRegistry(map[string]*models.Topic{
		"career-coaching": {
			ID:        "career-coaching",
			Kind:      models.JobKindCoachingMessage,
			ModelCode: "fake-model",
			MaxTurns:  3,
			IsActive:  true,
		},
		"weekly-reflection": {
			ID:        "weekly-reflection",
			Kind:      models.JobKindSingleShotAnalysis,
			ModelCode: "fake-model",
			IsActive:  true,
			ParamSchema: json.RawMessage(`{
				"type": "object",
				"properties": {"week": {"type": "integer"}},
				"required": ["week"]
			}`),
		},
		"retired-topic": {
			ID:        "retired-topic",
			Kind:      models.JobKindSingleShotAnalysis,
			ModelCode: "fake-model",
			IsActive:  false,
		},
	})

	cfg := &config.Config{
		Defaults:      &config.Defaults{ModelCode: "fake-model"},
		TopicRegistry: topics,
		ModelRegistry: config.NewModelRegistry(map[string]*config.ModelConfig{
			"fake-model": {},
		}),
	}

	sessions := services.NewSessionService(stores.Sessions, topics, publisher)
	intake := services.NewIntakeService(stores.Jobs, sessions, topics, publisher, *cfg.Defaults, nil)
	jobs := services.NewJobService(stores.Jobs)

	server := NewServer(cfg, stores, intake, jobs, sessions, nil)
	return &apiEnv{server: server, stores: stores, sink: sink, sessions: sessions}
}

// do sends a request through the full middleware and routing stack. A nil
// identity leaves the forwarded headers off, simulating a request that
// bypassed the gateway.
func (env *apiEnv) do(t *testing.T, method, path string, body any, identity *models.Identity) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if identity != nil {
		req.Header.Set("X-Forwarded-Tenant", identity.TenantID)
		req.Header.Set("X-Forwarded-User", identity.UserID)
		if identity.Tier != "" {
			req.Header.Set("X-Forwarded-Tier", string(identity.Tier))
		}
	}
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v),
		"body: %s", rec.Body.String())
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	return resp
}

// startSession opens a session over HTTP and returns its ID.
func (env *apiEnv) startSession(t *testing.T, identity models.Identity, topicID string) string {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/v1/sessions", StartSessionRequest{TopicID: topicID}, &identity)
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	var session models.Session
	decodeBody(t, rec, &session)
	require.NotEmpty(t, session.ID)
	return session.ID
}
