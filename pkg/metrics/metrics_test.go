package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewReturnsSingleton(t *testing.T) {
	assert.Same(t, New(), New())
}

func TestNilMetricsSkipRecording(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.JobSubmitted("coaching_message", "career-coaching")
		m.JobCompleted("coaching_message", "career-coaching", 1.5)
		m.JobFailed("coaching_message", "career-coaching", "LLM_ERROR", 0.5)
		m.AddTokens("fake-model", 100, 50)
		m.SetQueueJobs("pending", 3)
		m.WSConnected()
		m.WSDisconnected()
		m.AddReapedJobs(2)
		m.AddReapedEvents(5)
		m.AddStuckJobs(1)
	})
}

// The singleton accumulates across tests in one binary, so assertions work
// on deltas rather than absolute values.
func TestRecordingDeltas(t *testing.T) {
	m := New()

	submitted := testutil.ToFloat64(m.JobsSubmitted.WithLabelValues("coaching_message", "career-coaching"))
	m.JobSubmitted("coaching_message", "career-coaching")
	m.JobSubmitted("coaching_message", "career-coaching")
	assert.Equal(t, submitted+2, testutil.ToFloat64(m.JobsSubmitted.WithLabelValues("coaching_message", "career-coaching")))

	failed := testutil.ToFloat64(m.JobsFailed.WithLabelValues("coaching_message", "career-coaching", "LLM_TIMEOUT"))
	m.JobFailed("coaching_message", "career-coaching", "LLM_TIMEOUT", 2)
	assert.Equal(t, failed+1, testutil.ToFloat64(m.JobsFailed.WithLabelValues("coaching_message", "career-coaching", "LLM_TIMEOUT")))

	tokens := testutil.ToFloat64(m.LLMTokens.WithLabelValues("fake-model", "input"))
	m.AddTokens("fake-model", 120, 40)
	assert.Equal(t, tokens+120, testutil.ToFloat64(m.LLMTokens.WithLabelValues("fake-model", "input")))

	m.SetQueueJobs("pending", 7)
	assert.Equal(t, float64(7), testutil.ToFloat64(m.QueueJobs.WithLabelValues("pending")))

	ws := testutil.ToFloat64(m.WSConnections)
	m.WSConnected()
	m.WSConnected()
	m.WSDisconnected()
	assert.Equal(t, ws+1, testutil.ToFloat64(m.WSConnections))

	reaped := testutil.ToFloat64(m.ReapedJobs)
	m.AddReapedJobs(3)
	m.AddReapedJobs(0)
	assert.Equal(t, reaped+3, testutil.ToFloat64(m.ReapedJobs))
}
