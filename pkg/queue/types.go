// Package queue runs the worker pool that drives jobs from pending to a
// terminal state: claim, re-validate, execute, record, publish. Workers
// wake on bus hints and fall back to polling for hints that never arrive.
package queue

import (
	"errors"
	"time"
)

// ErrNoJobsAvailable indicates the pending queue is empty.
var ErrNoJobsAvailable = errors.New("no jobs available")

// WorkerStatus is what a worker is doing right now.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// PoolHealth is the pool's self-assessment, embedded in the health
// endpoint response.
type PoolHealth struct {
	IsHealthy      bool           `json:"is_healthy"`
	DBReachable    bool           `json:"db_reachable"`
	DBError        string         `json:"db_error,omitempty"`
	PodID          string         `json:"pod_id"`
	ActiveWorkers  int            `json:"active_workers"`
	TotalWorkers   int            `json:"total_workers"`
	QueueDepth     int64          `json:"queue_depth"`
	ProcessingJobs int64          `json:"processing_jobs"`
	WorkerStats    []WorkerHealth `json:"worker_stats"`
}

// WorkerHealth is one worker's slice of the pool report.
type WorkerHealth struct {
	ID            string       `json:"id"`
	Status        WorkerStatus `json:"status"`
	CurrentJobID  string       `json:"current_job_id,omitempty"`
	JobsProcessed int          `json:"jobs_processed"`
	LastActivity  time.Time    `json:"last_activity"`
}
