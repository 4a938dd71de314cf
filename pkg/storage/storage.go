// Package storage defines the persistence boundary for jobs, sessions, tier
// configurations, and template metadata. Two implementations exist per store:
// a postgres one for production and an in-memory one for tests and
// single-process setups. Both enforce the same conditional-update semantics,
// so callers never need to know which one they hold.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/arbor-coach/arbor/pkg/models"
)

// Sentinel errors shared by all store implementations. Services translate
// these into transport-level error codes at the boundary.
var (
	// ErrNotFound is returned when a record does not exist or is past its TTL.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a conditional update loses: the stored
	// status or version no longer matches what the caller read.
	ErrConflict = errors.New("conditional update conflict")

	// ErrAlreadyExists is returned on primary-key or unique-index collisions.
	ErrAlreadyExists = errors.New("record already exists")
)

// JobStore is the durable registry of asynchronous jobs. Status mutations go
// through conditional updates only: concurrent actors serialize on status,
// losers observe ErrConflict and must treat the job as already progressed.
type JobStore interface {
	// Create inserts a new pending job. The caller stamps CreatedAt and TTLAt.
	Create(ctx context.Context, job *models.Job) error

	// Get returns the job or ErrNotFound. Jobs past TTLAt read as not found
	// even before the reaper removes them.
	Get(ctx context.Context, id string) (*models.Job, error)

	// TransitionProcessing moves pending -> processing and stamps StartedAt.
	// Returns ErrConflict when the job already left pending.
	TransitionProcessing(ctx context.Context, id string) (*models.Job, error)

	// TransitionCompleted moves processing -> completed with the output
	// fields and stamps FinishedAt plus ProcessingTimeMS.
	TransitionCompleted(ctx context.Context, id string, out models.JobOutput) (*models.Job, error)

	// TransitionFailed moves processing -> failed with an error message and
	// code and stamps FinishedAt plus ProcessingTimeMS.
	TransitionFailed(ctx context.Context, id string, errMsg string, code models.ErrorCode) (*models.Job, error)

	// ClaimNextPending atomically claims the oldest pending job for
	// processing. Returns ErrNotFound when no pending job exists. Used by
	// the worker poll backstop; concurrent claimers never receive the same
	// job.
	ClaimNextPending(ctx context.Context) (*models.Job, error)

	// FailStuckProcessing flips processing jobs whose StartedAt is before
	// cutoff to failed and returns them so terminal events can be published.
	FailStuckProcessing(ctx context.Context, cutoff time.Time, errMsg string, code models.ErrorCode) ([]*models.Job, error)

	// CountByStatus returns the number of jobs per status, for metrics and
	// health reporting.
	CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error)

	// ListPendingOlderThan returns pending jobs created before cutoff, used
	// by startup orphan recovery to re-publish lost trigger events.
	ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error)

	// ReapExpired removes jobs whose TTLAt is at or before now and returns
	// how many were removed.
	ReapExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionStore persists conversation sessions. Every mutation is a
// compare-and-set on Version: Update writes only when the stored version
// matches the one the caller read, then increments it.
type SessionStore interface {
	// Create inserts a new session. A second active session for the same
	// (tenant, user, topic) triple collides on a partial unique index and
	// returns ErrAlreadyExists.
	Create(ctx context.Context, session *models.Session) error

	// Get returns the session or ErrNotFound. Sessions have no TTL; idle
	// expiry is a lazy state transition owned by the services layer.
	Get(ctx context.Context, id string) (*models.Session, error)

	// Update persists the mutable fields if the stored version still equals
	// session.Version, then increments session.Version in place. Losers get
	// ErrConflict and must re-read. Reactivating a session while another
	// active one exists for the same triple returns ErrAlreadyExists.
	Update(ctx context.Context, session *models.Session) error

	// FindActive returns the active session for the triple, or ErrNotFound.
	FindActive(ctx context.Context, tenantID, userID, topicID string) (*models.Session, error)

	// List returns the user's sessions, newest first, up to limit.
	List(ctx context.Context, tenantID, userID string, limit int) ([]*models.Session, error)
}

// ConfigStore reads and writes tier configuration records. The core only
// reads; writes exist for the admin subsystem and for seeding tests.
type ConfigStore interface {
	// GetActive returns the single active record for (interactionCode, tier)
	// that is effective at now, or ErrNotFound. The empty tier is the
	// default record.
	GetActive(ctx context.Context, interactionCode string, tier models.Tier, now time.Time) (*models.TierConfig, error)

	// Put upserts a record by ID.
	Put(ctx context.Context, cfg *models.TierConfig) error
}

// TemplateStore reads and writes template metadata. Template content lives
// in the blob store at Template.BlobRef.
type TemplateStore interface {
	// Get returns the template or ErrNotFound.
	Get(ctx context.Context, id string) (*models.Template, error)

	// Put upserts a template by ID.
	Put(ctx context.Context, tpl *models.Template) error
}

// Stores bundles the four stores a fully wired service layer needs.
type Stores struct {
	Jobs      JobStore
	Sessions  SessionStore
	Configs   ConfigStore
	Templates TemplateStore
}
