package e2e

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-coach/arbor/pkg/models"
)

// ────────────────────────────────────────────────────────────
// Explicit lifecycle controls — pause, cancel, and the health probe.
//
// The idle-timeout test covers the lazy flip; this one covers the user
// pressing the buttons. Pause parks an active conversation and refuses
// new messages, cancel retires the session and frees the topic slot, and
// both are idempotent so a double-tap in a client changes nothing.
// ────────────────────────────────────────────────────────────

func TestE2E_SessionLifecycleControls(t *testing.T) {
	app := NewTestApp(t)

	health := app.Health(t)
	assert.Equal(t, "healthy", health["status"])

	ws := app.ConnectWS(t)

	sess := app.StartSession(t, "career-coaching")
	sessionID := sessionIDOf(t, sess)

	// One turn, observed through the polling projection rather than the
	// push channel.
	receipt := app.SubmitMessage(t, sessionID, "Let's talk priorities")
	jobID := jobIDOf(t, receipt)
	job := app.WaitForJobStatus(t, jobID, "completed")
	assert.Equal(t, false, job["is_final"])
	assert.NotEmpty(t, job["message"])

	// The projection reads completed a beat before the turn closes on the
	// session; the delivery event marks the slot released.
	_, err := ws.AwaitJob("message.completed", jobID, 15*time.Second)
	require.NoError(t, err)

	// Park the conversation.
	paused := app.PauseSession(t, sessionID)
	assert.Equal(t, "paused", paused["status"])

	evt, err := ws.AwaitSessionStatus("paused", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, sessionID, evt.Parsed["sessionId"])

	// Parked means parked: no new messages.
	body := app.SubmitMessageExpect(t, sessionID, "One more thing", http.StatusConflict)
	requireErrorCode(t, body, models.ErrCodeSessionNotActive)

	// Pausing a paused session changes nothing.
	assert.Equal(t, "paused", app.PauseSession(t, sessionID)["status"])

	// Retire it.
	cancelled := app.CancelSession(t, sessionID)
	assert.Equal(t, "cancelled", cancelled["status"])

	_, err = ws.AwaitSessionStatus("cancelled", 5*time.Second)
	require.NoError(t, err)

	// Cancel is terminal and idempotent; resume is refused from here on.
	assert.Equal(t, "cancelled", app.CancelSession(t, sessionID)["status"])
	body = app.post(t, "/api/v1/sessions/"+sessionID+"/resume", nil, http.StatusConflict)
	requireErrorCode(t, body, models.ErrCodeSessionNotActive)

	// The cancelled session no longer holds the topic slot.
	replacement := app.StartSession(t, "career-coaching")
	assert.Equal(t, "active", replacement["status"])
	assert.NotEqual(t, sessionID, sessionIDOf(t, replacement))
}
