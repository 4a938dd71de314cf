package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-coach/arbor/pkg/models"
)

// seedCompletedJob drives a job through the real store transitions so the
// projection under test carries the full terminal field set.
func seedCompletedJob(t *testing.T, env *apiEnv, id, sessionID string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, env.stores.Jobs.Create(ctx, &models.Job{
		ID:        id,
		TenantID:  coachee.TenantID,
		UserID:    coachee.UserID,
		Kind:      models.JobKindCoachingMessage,
		TopicID:   "career-coaching",
		SessionID: sessionID,
		Input:     map[string]any{"message": "I want a promotion"},
		CreatedAt: now,
		TTLAt:     now.Add(models.JobTTL),
	}))
	_, err := env.stores.Jobs.TransitionProcessing(ctx, id)
	require.NoError(t, err)
	_, err = env.stores.Jobs.TransitionCompleted(ctx, id, models.JobOutput{
		Message: "You have a plan now. Good luck out there!",
		IsFinal: true,
		Result:  map[string]any{"summary": "made a plan"},
	})
	require.NoError(t, err)
}

func TestGetJobHandler(t *testing.T) {
	env := newAPIEnv(t)
	seedCompletedJob(t, env, "job-1", "sess-1")

	rec := env.do(t, http.MethodGet, "/api/v1/jobs/job-1", nil, &coachee)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	var body map[string]any
	decodeBody(t, rec, &body)
	assert.Equal(t, "job-1", body["job_id"])
	assert.Equal(t, "sess-1", body["session_id"])
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "You have a plan now. Good luck out there!", body["message"])
	assert.Equal(t, true, body["is_final"])
	assert.Equal(t, map[string]any{"summary": "made a plan"}, body["result"])
	assert.Contains(t, body, "processing_time_ms")
	assert.NotContains(t, body, "error")
	assert.NotContains(t, body, "error_code")

	// The projection is the polling contract: turn counters live on the bus
	// events and internals never leak.
	for _, key := range []string{"turn", "max_turns", "message_count", "input", "tenant_id", "user_id", "kind", "ttl_at"} {
		assert.NotContains(t, body, key)
	}
}

func TestGetJobHandler_Failed(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, env.stores.Jobs.Create(ctx, &models.Job{
		ID: "job-2", TenantID: coachee.TenantID, UserID: coachee.UserID,
		Kind: models.JobKindCoachingMessage, TopicID: "career-coaching",
		CreatedAt: now, TTLAt: now.Add(models.JobTTL),
	}))
	_, err := env.stores.Jobs.TransitionProcessing(ctx, "job-2")
	require.NoError(t, err)
	_, err = env.stores.Jobs.TransitionFailed(ctx, "job-2", "generation timed out", models.ErrCodeLLMTimeout)
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/v1/jobs/job-2", nil, &coachee)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decodeBody(t, rec, &body)
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "generation timed out", body["error"])
	assert.Equal(t, string(models.ErrCodeLLMTimeout), body["error_code"])
	assert.NotContains(t, body, "message")
	assert.NotContains(t, body, "is_final")
}

func TestGetJobHandler_NotFound(t *testing.T) {
	env := newAPIEnv(t)
	seedCompletedJob(t, env, "job-3", "sess-3")

	t.Run("unknown job", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/jobs/no-such-job", nil, &coachee)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, models.ErrCodeJobNotFound, decodeError(t, rec).ErrorCode)
	})

	t.Run("foreign job reads as not found", func(t *testing.T) {
		stranger := models.Identity{TenantID: "other-corp", UserID: "u-9"}
		rec := env.do(t, http.MethodGet, "/api/v1/jobs/job-3", nil, &stranger)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, models.ErrCodeJobNotFound, decodeError(t, rec).ErrorCode)
	})

	t.Run("expired job reads as not found before the reaper runs", func(t *testing.T) {
		ctx := context.Background()
		old := time.Now().UTC().Add(-25 * time.Hour)
		require.NoError(t, env.stores.Jobs.Create(ctx, &models.Job{
			ID: "job-old", TenantID: coachee.TenantID, UserID: coachee.UserID,
			Kind: models.JobKindCoachingMessage, TopicID: "career-coaching",
			CreatedAt: old, TTLAt: old.Add(models.JobTTL),
		}))

		rec := env.do(t, http.MethodGet, "/api/v1/jobs/job-old", nil, &coachee)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, models.ErrCodeJobNotFound, decodeError(t, rec).ErrorCode)
	})

	t.Run("missing identity returns 401", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/jobs/job-3", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
