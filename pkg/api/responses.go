package api

import (
	"github.com/arbor-coach/arbor/pkg/models"
	"github.com/arbor-coach/arbor/pkg/queue"
)

// JobResponse is the polling projection of a job. Turn counters live only
// on the bus events; the projection stays stable across turns. ErrorCode
// rides along with Error so polling clients can apply the retry table
// without a WebSocket.
type JobResponse struct {
	JobID            string            `json:"job_id"`
	SessionID        string            `json:"session_id,omitempty"`
	Status           models.JobStatus  `json:"status"`
	Message          *string           `json:"message,omitempty"`
	IsFinal          *bool             `json:"is_final,omitempty"`
	Result           map[string]any    `json:"result,omitempty"`
	Error            *string           `json:"error,omitempty"`
	ErrorCode        *models.ErrorCode `json:"error_code,omitempty"`
	ProcessingTimeMS *int64            `json:"processing_time_ms,omitempty"`
}

func jobResponse(job *models.Job) *JobResponse {
	return &JobResponse{
		JobID:            job.ID,
		SessionID:        job.SessionID,
		Status:           job.Status,
		Message:          job.OutputMessage,
		IsFinal:          job.IsFinal,
		Result:           job.Result,
		Error:            job.Error,
		ErrorCode:        job.ErrorCode,
		ProcessingTimeMS: job.ProcessingTimeMS,
	}
}

// InvalidateCacheResponse is returned by POST /api/v1/admin/cache/invalidations.
type InvalidateCacheResponse struct {
	Status string `json:"status"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string                 `json:"status"`
	Version       string                 `json:"version"`
	Checks        map[string]HealthCheck `json:"checks"`
	Configuration ConfigurationStats     `json:"configuration"`
	WorkerPool    *queue.PoolHealth      `json:"worker_pool,omitempty"`
}

// HealthCheck is a single component check inside HealthResponse.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ConfigurationStats contains counts of loaded configuration items.
type ConfigurationStats struct {
	Topics int `json:"topics"`
	Models int `json:"models"`
}
