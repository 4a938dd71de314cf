package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arbor-coach/arbor/pkg/events"
	"github.com/arbor-coach/arbor/pkg/models"
)

// ────────────────────────────────────────────────────────────
// HTTP Client Helpers
// ────────────────────────────────────────────────────────────

// StartSession posts a new coaching session and returns the parsed session.
func (app *TestApp) StartSession(t *testing.T, topicID string) map[string]interface{} {
	t.Helper()
	return app.post(t, "/api/v1/sessions",
		map[string]string{"topic_id": topicID}, http.StatusCreated)
}

// SubmitMessage posts a coaching message and returns the 202 receipt.
func (app *TestApp) SubmitMessage(t *testing.T, sessionID, message string) map[string]interface{} {
	t.Helper()
	return app.SubmitMessageExpect(t, sessionID, message, http.StatusAccepted)
}

// SubmitMessageExpect posts a coaching message expecting a specific status.
// Used for rejection paths (busy, idle, exhausted), where the body is the
// error envelope.
func (app *TestApp) SubmitMessageExpect(t *testing.T, sessionID, message string, expectedStatus int) map[string]interface{} {
	t.Helper()
	return app.post(t, "/api/v1/messages", map[string]interface{}{
		"session_id": sessionID,
		"message":    message,
	}, expectedStatus)
}

// SubmitAnalysis posts a single-shot analysis and returns the 202 receipt.
func (app *TestApp) SubmitAnalysis(t *testing.T, topicID string, params map[string]interface{}) map[string]interface{} {
	t.Helper()
	return app.post(t, "/api/v1/analyses", map[string]interface{}{
		"topic_id": topicID,
		"params":   params,
	}, http.StatusAccepted)
}

// GetJob retrieves the polling projection of a job.
func (app *TestApp) GetJob(t *testing.T, jobID string) map[string]interface{} {
	t.Helper()
	return app.get(t, "/api/v1/jobs/"+jobID, http.StatusOK)
}

// GetSession fetches the session projection.
func (app *TestApp) GetSession(t *testing.T, sessionID string) map[string]interface{} {
	t.Helper()
	return app.get(t, "/api/v1/sessions/"+sessionID, http.StatusOK)
}

// PauseSession, ResumeSession and CancelSession drive the session
// lifecycle actions and return the refreshed projection.

func (app *TestApp) PauseSession(t *testing.T, sessionID string) map[string]interface{} {
	t.Helper()
	return app.sessionAction(t, sessionID, "pause")
}

func (app *TestApp) ResumeSession(t *testing.T, sessionID string) map[string]interface{} {
	t.Helper()
	return app.sessionAction(t, sessionID, "resume")
}

func (app *TestApp) CancelSession(t *testing.T, sessionID string) map[string]interface{} {
	t.Helper()
	return app.sessionAction(t, sessionID, "cancel")
}

func (app *TestApp) sessionAction(t *testing.T, sessionID, verb string) map[string]interface{} {
	t.Helper()
	return app.post(t, "/api/v1/sessions/"+sessionID+"/"+verb, nil, http.StatusOK)
}

// Health hits GET /health and returns the readiness report.
func (app *TestApp) Health(t *testing.T) map[string]interface{} {
	t.Helper()
	return app.get(t, "/health", http.StatusOK)
}

func (app *TestApp) post(t *testing.T, path string, body interface{}, wantStatus int) map[string]interface{} {
	t.Helper()
	return app.doJSON(t, http.MethodPost, path, body, wantStatus)
}

func (app *TestApp) get(t *testing.T, path string, wantStatus int) map[string]interface{} {
	t.Helper()
	return app.doJSON(t, http.MethodGet, path, nil, wantStatus)
}

// doJSON issues one authenticated request and decodes the JSON body,
// failing the test on any status other than wantStatus.
func (app *TestApp) doJSON(t *testing.T, method, path string, body interface{}, wantStatus int) map[string]interface{} {
	t.Helper()

	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, app.BaseURL+path, payload)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	app.setIdentityHeaders(req)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, wantStatus, resp.StatusCode, "%s %s: unexpected status", method, path)

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// setIdentityHeaders adds the proxy identity headers the gateway would
// forward in production.
func (app *TestApp) setIdentityHeaders(req *http.Request) {
	req.Header.Set("X-Forwarded-Tenant", app.Identity.TenantID)
	req.Header.Set("X-Forwarded-User", app.Identity.UserID)
	req.Header.Set("X-Forwarded-Tier", string(app.Identity.Tier))
}

// UserChannel returns the delivery channel for the app's default identity.
func (app *TestApp) UserChannel() string {
	return events.UserChannel(app.Identity.TenantID, app.Identity.UserID)
}

// ────────────────────────────────────────────────────────────
// Polling Helpers
// ────────────────────────────────────────────────────────────

// Generous ceiling so slow CI runners don't flake; the happy path
// settles in well under a second.
const (
	pollDeadline = 30 * time.Second
	pollTick     = 100 * time.Millisecond
)

// WaitForJobStatus polls the job projection until it reaches one of the
// expected statuses and returns the final body.
func (app *TestApp) WaitForJobStatus(t *testing.T, jobID string, expected ...string) map[string]interface{} {
	t.Helper()
	var last map[string]interface{}
	require.Eventually(t, func() bool {
		last = app.GetJob(t, jobID)
		got, _ := last["status"].(string)
		return slices.Contains(expected, got)
	}, pollDeadline, pollTick,
		"job %s did not reach status %v", jobID, expected)
	return last
}

// ────────────────────────────────────────────────────────────
// Database Helpers
// ────────────────────────────────────────────────────────────

// BackdateSessionActivity rewinds a session's activity timestamp by age,
// simulating idle time without sleeping through the TTL.
func (app *TestApp) BackdateSessionActivity(t *testing.T, sessionID string, age time.Duration) {
	t.Helper()
	res, err := app.DBClient.DB().ExecContext(context.Background(),
		`UPDATE sessions SET last_activity_at = $1 WHERE session_id = $2`,
		time.Now().UTC().Add(-age), sessionID)
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	require.EqualValues(t, 1, n, "session %s not found for backdating", sessionID)
}

// ────────────────────────────────────────────────────────────
// WebSocket Helpers
// ────────────────────────────────────────────────────────────

// ConnectWS dials the WebSocket endpoint with the app's identity and
// subscribes to the caller's user channel, returning once the subscription
// is confirmed. Close is registered via t.Cleanup.
func (app *TestApp) ConnectWS(t *testing.T) *Recorder {
	t.Helper()

	// The context governs the connection's lifetime, not just the dial, so
	// it must outlive this call.
	ws, err := DialWS(context.Background(), app.WSURL, app.Identity)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	_, err = ws.AwaitType("connection.established", 5*time.Second)
	require.NoError(t, err)

	require.NoError(t, ws.Join(app.UserChannel()))
	_, err = ws.AwaitType("subscription.confirmed", 5*time.Second)
	require.NoError(t, err)

	return ws
}

// requireErrorCode asserts an HTTP error envelope carries the expected code.
func requireErrorCode(t *testing.T, body map[string]interface{}, code models.ErrorCode) {
	t.Helper()
	require.Equal(t, string(code), body["error_code"],
		"unexpected error code (message: %v)", body["message"])
}

// jobIDOf extracts the job_id from a 202 receipt.
func jobIDOf(t *testing.T, receipt map[string]interface{}) string {
	t.Helper()
	id, ok := receipt["job_id"].(string)
	require.True(t, ok, "receipt missing job_id: %v", receipt)
	require.NotEmpty(t, id)
	return id
}

// sessionIDOf extracts the session_id from a session response.
func sessionIDOf(t *testing.T, body map[string]interface{}) string {
	t.Helper()
	id, ok := body["session_id"].(string)
	require.True(t, ok, "response missing session_id: %v", body)
	require.NotEmpty(t, id)
	return id
}
