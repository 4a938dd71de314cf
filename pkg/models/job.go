// Package models defines the core domain entities shared across services,
// storage, and transport layers. HTTP and event-bus representations are
// derived from these at the edges; the structs here are the storage shape.
package models

import "time"

// JobStatus is the lifecycle state of an asynchronous job.
// Transitions are monotonic: pending -> processing -> {completed, failed}.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status is final. Terminal jobs are frozen.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobKind distinguishes conversational turns from one-shot analyses.
type JobKind string

const (
	JobKindCoachingMessage    JobKind = "coaching_message"
	JobKindSingleShotAnalysis JobKind = "single_shot_analysis"
)

// JobTTL is how long a job record stays readable after creation.
const JobTTL = 24 * time.Hour

// Job is the durable record of one asynchronous unit of work. Created by
// intake with status pending, driven to a terminal state by exactly one
// worker, readable until TTLAt.
type Job struct {
	ID        string  `json:"job_id"`
	TenantID  string  `json:"tenant_id"`
	UserID    string  `json:"user_id"`
	Tier      Tier    `json:"tier,omitempty"` // stamped from caller identity at intake
	Kind      JobKind `json:"kind"`
	TopicID   string  `json:"topic_id"`
	SessionID string  `json:"session_id,omitempty"` // set when Kind == coaching_message

	Input map[string]any `json:"input,omitempty"` // opaque parameter map, typed per topic

	Status        JobStatus      `json:"status"`
	OutputMessage *string        `json:"output_message,omitempty"`
	IsFinal       *bool          `json:"is_final,omitempty"`
	Result        map[string]any `json:"result,omitempty"`
	Error         *string        `json:"error,omitempty"`
	ErrorCode     *ErrorCode     `json:"error_code,omitempty"`

	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	ProcessingTimeMS *int64     `json:"processing_time_ms,omitempty"`
	TTLAt            time.Time  `json:"ttl_at"` // CreatedAt + JobTTL
}

// JobOutput carries the fields written by the completed transition.
// Result keys for failed extraction: "raw_response" plus "parse_error" or
// "validation_error".
type JobOutput struct {
	Message string         `json:"message"`
	IsFinal bool           `json:"is_final"`
	Result  map[string]any `json:"result,omitempty"`
}

// Expired reports whether the job is past its TTL at the given instant.
// Expired jobs read as not found even before the reaper removes them.
func (j *Job) Expired(now time.Time) bool {
	return !now.Before(j.TTLAt)
}
