// Package metrics exposes the Prometheus collectors for job flow, model
// usage, and connection state. Collectors register on the default registry
// once; record methods are nil-safe so components constructed without
// metrics simply skip recording.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles all application collectors.
type Metrics struct {
	// JobsSubmitted counts accepted submissions.
	// Labels: kind (coaching_message|single_shot_analysis), topic_id
	JobsSubmitted *prometheus.CounterVec

	// JobsCompleted counts jobs that reached completed.
	// Labels: kind, topic_id
	JobsCompleted *prometheus.CounterVec

	// JobsFailed counts jobs that reached failed.
	// Labels: kind, topic_id, error_code
	JobsFailed *prometheus.CounterVec

	// JobDuration measures claim-to-terminal processing time in seconds.
	// Labels: kind, topic_id
	JobDuration *prometheus.HistogramVec

	// LLMTokens counts tokens by model and direction.
	// Labels: model_code, type (input|output)
	LLMTokens *prometheus.CounterVec

	// QueueJobs is the number of job rows per status, refreshed on the
	// reaper tick.
	// Labels: status
	QueueJobs *prometheus.GaugeVec

	// WSConnections is the number of open WebSocket connections.
	WSConnections prometheus.Gauge

	// ReapedJobs counts job rows deleted by TTL sweeps.
	ReapedJobs prometheus.Counter

	// ReapedEvents counts outbox rows deleted by retention sweeps.
	ReapedEvents prometheus.Counter

	// StuckJobs counts processing jobs reclaimed by the watchdog.
	StuckJobs prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// New returns the process-wide Metrics instance, registering the
// collectors on first call.
func New() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			JobsSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "arbor_jobs_submitted_total",
				Help: "Accepted job submissions by kind and topic",
			}, []string{"kind", "topic_id"}),

			JobsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "arbor_jobs_completed_total",
				Help: "Jobs that reached the completed state",
			}, []string{"kind", "topic_id"}),

			JobsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "arbor_jobs_failed_total",
				Help: "Jobs that reached the failed state, by terminal error code",
			}, []string{"kind", "topic_id", "error_code"}),

			JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "arbor_job_processing_seconds",
				Help:    "Claim-to-terminal processing time in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			}, []string{"kind", "topic_id"}),

			LLMTokens: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "arbor_llm_tokens_total",
				Help: "Model tokens consumed by model code and direction",
			}, []string{"model_code", "type"}),

			QueueJobs: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "arbor_queue_jobs",
				Help: "Job rows per status",
			}, []string{"status"}),

			WSConnections: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "arbor_ws_connections",
				Help: "Open WebSocket connections",
			}),

			ReapedJobs: promauto.NewCounter(prometheus.CounterOpts{
				Name: "arbor_reaped_jobs_total",
				Help: "Job rows deleted by TTL sweeps",
			}),

			ReapedEvents: promauto.NewCounter(prometheus.CounterOpts{
				Name: "arbor_reaped_events_total",
				Help: "Event outbox rows deleted by retention sweeps",
			}),

			StuckJobs: promauto.NewCounter(prometheus.CounterOpts{
				Name: "arbor_stuck_jobs_total",
				Help: "Processing jobs reclaimed by the watchdog",
			}),
		}
	})
	return metricsInstance
}

// JobSubmitted records one accepted submission.
func (m *Metrics) JobSubmitted(kind, topicID string) {
	if m == nil {
		return
	}
	m.JobsSubmitted.WithLabelValues(kind, topicID).Inc()
}

// JobCompleted records a completed job and its processing time.
func (m *Metrics) JobCompleted(kind, topicID string, seconds float64) {
	if m == nil {
		return
	}
	m.JobsCompleted.WithLabelValues(kind, topicID).Inc()
	m.JobDuration.WithLabelValues(kind, topicID).Observe(seconds)
}

// JobFailed records a failed job, its terminal code, and its processing time.
func (m *Metrics) JobFailed(kind, topicID, errorCode string, seconds float64) {
	if m == nil {
		return
	}
	m.JobsFailed.WithLabelValues(kind, topicID, errorCode).Inc()
	m.JobDuration.WithLabelValues(kind, topicID).Observe(seconds)
}

// AddTokens records model token usage for one generation.
func (m *Metrics) AddTokens(modelCode string, input, output int) {
	if m == nil {
		return
	}
	if input > 0 {
		m.LLMTokens.WithLabelValues(modelCode, "input").Add(float64(input))
	}
	if output > 0 {
		m.LLMTokens.WithLabelValues(modelCode, "output").Add(float64(output))
	}
}

// SetQueueJobs updates the row-count gauge for one status.
func (m *Metrics) SetQueueJobs(status string, n int64) {
	if m == nil {
		return
	}
	m.QueueJobs.WithLabelValues(status).Set(float64(n))
}

// WSConnected increments the connection gauge.
func (m *Metrics) WSConnected() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// WSDisconnected decrements the connection gauge.
func (m *Metrics) WSDisconnected() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// AddReapedJobs records job rows removed by a TTL sweep.
func (m *Metrics) AddReapedJobs(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ReapedJobs.Add(float64(n))
}

// AddReapedEvents records outbox rows removed by a retention sweep.
func (m *Metrics) AddReapedEvents(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ReapedEvents.Add(float64(n))
}

// AddStuckJobs records processing jobs flipped to failed by the watchdog.
func (m *Metrics) AddStuckJobs(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.StuckJobs.Add(float64(n))
}
