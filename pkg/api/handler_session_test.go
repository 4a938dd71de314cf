package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-coach/arbor/pkg/models"
)

func TestStartSessionHandler(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/sessions", StartSessionRequest{TopicID: "career-coaching"}, &coachee)
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())

	var session models.Session
	decodeBody(t, rec, &session)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, "acme", session.TenantID)
	assert.Equal(t, "u-1", session.UserID)
	assert.Equal(t, "career-coaching", session.TopicID)
	assert.Equal(t, models.SessionStatusActive, session.Status)
	assert.Equal(t, 3, session.MaxTurns)
	assert.Equal(t, 0, session.Turn)
}

func TestStartSessionHandler_Validation(t *testing.T) {
	env := newAPIEnv(t)

	t.Run("missing identity returns 401", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/sessions", StartSessionRequest{TopicID: "career-coaching"}, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, models.ErrCodeSessionAccess, decodeError(t, rec).ErrorCode)
	})

	t.Run("missing topic_id returns 400", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/sessions", StartSessionRequest{}, &coachee)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, models.ErrCodeJobValidation, resp.ErrorCode)
		assert.Contains(t, resp.Message, "topic_id")
	})

	t.Run("unknown topic returns 400", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/sessions", StartSessionRequest{TopicID: "no-such-topic"}, &coachee)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("analysis topic cannot host a session", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/sessions", StartSessionRequest{TopicID: "weekly-reflection"}, &coachee)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetSessionHandler(t *testing.T) {
	env := newAPIEnv(t)
	sessionID := env.startSession(t, coachee, "career-coaching")

	rec := env.do(t, http.MethodGet, "/api/v1/sessions/"+sessionID, nil, &coachee)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	var session models.Session
	decodeBody(t, rec, &session)
	assert.Equal(t, sessionID, session.ID)
	assert.Equal(t, models.SessionStatusActive, session.Status)

	t.Run("foreign session returns 403", func(t *testing.T) {
		stranger := models.Identity{TenantID: "other-corp", UserID: "u-9"}
		rec := env.do(t, http.MethodGet, "/api/v1/sessions/"+sessionID, nil, &stranger)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, models.ErrCodeSessionAccess, decodeError(t, rec).ErrorCode)
	})

	t.Run("unknown session returns 404", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/sessions/no-such-session", nil, &coachee)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, models.ErrCodeSessionNotFound, decodeError(t, rec).ErrorCode)
	})
}

func TestListSessionsHandler(t *testing.T) {
	env := newAPIEnv(t)
	env.startSession(t, coachee, "career-coaching")

	rec := env.do(t, http.MethodGet, "/api/v1/sessions", nil, &coachee)
	require.Equal(t, http.StatusOK, rec.Code)

	var sessions []models.Session
	decodeBody(t, rec, &sessions)
	require.Len(t, sessions, 1)
	assert.Equal(t, "career-coaching", sessions[0].TopicID)

	t.Run("empty list is an array, not null", func(t *testing.T) {
		stranger := models.Identity{TenantID: "other-corp", UserID: "u-9"}
		rec := env.do(t, http.MethodGet, "/api/v1/sessions", nil, &stranger)
		require.Equal(t, http.StatusOK, rec.Code)
		var empty []models.Session
		decodeBody(t, rec, &empty)
		require.NotNil(t, empty, "body: %s", rec.Body.String())
		assert.Len(t, empty, 0)
	})
}

func TestListSessionsHandler_Validation(t *testing.T) {
	env := newAPIEnv(t)

	tests := []struct {
		name  string
		query string
	}{
		{name: "non-numeric limit", query: "limit=lots"},
		{name: "zero limit", query: "limit=0"},
		{name: "limit above cap", query: "limit=500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/v1/sessions?"+tt.query, nil, &coachee)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, models.ErrCodeJobValidation, resp.ErrorCode)
			assert.Contains(t, resp.Message, "limit")
		})
	}
}

func TestSessionLifecycleHandlers(t *testing.T) {
	env := newAPIEnv(t)
	sessionID := env.startSession(t, coachee, "career-coaching")

	pause := env.do(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/pause", nil, &coachee)
	require.Equal(t, http.StatusOK, pause.Code, "body: %s", pause.Body.String())
	var session models.Session
	decodeBody(t, pause, &session)
	assert.Equal(t, models.SessionStatusPaused, session.Status)

	resume := env.do(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/resume", nil, &coachee)
	require.Equal(t, http.StatusOK, resume.Code)
	decodeBody(t, resume, &session)
	assert.Equal(t, models.SessionStatusActive, session.Status)

	cancel := env.do(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/cancel", nil, &coachee)
	require.Equal(t, http.StatusOK, cancel.Code)
	decodeBody(t, cancel, &session)
	assert.Equal(t, models.SessionStatusCancelled, session.Status)

	t.Run("cancelled session cannot pause", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/pause", nil, &coachee)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, models.ErrCodeSessionNotActive, decodeError(t, rec).ErrorCode)
	})

	t.Run("cancelled session cannot resume", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/resume", nil, &coachee)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}
