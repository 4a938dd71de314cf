package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arbor-coach/arbor/pkg/models"
	"github.com/arbor-coach/arbor/pkg/storage"
)

// JobService reads job state for polling clients. All writes go through the
// intake service and the worker; polling is strictly read-only.
type JobService struct {
	jobs   storage.JobStore
	logger *slog.Logger
}

// NewJobService creates a new JobService.
func NewJobService(jobs storage.JobStore) *JobService {
	return &JobService{
		jobs:   jobs,
		logger: slog.Default().With("component", "job_service"),
	}
}

// Get returns the job scoped to the caller. Foreign and expired jobs both
// read as not found; the projection never reveals whether a job ID exists
// outside the caller's scope.
func (s *JobService) Get(ctx context.Context, identity models.Identity, jobID string) (*models.Job, error) {
	if !identity.Valid() {
		return nil, ErrJobNotFound
	}
	job, err := s.jobs.Get(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if job.TenantID != identity.TenantID || job.UserID != identity.UserID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// CountByStatus reports queue depth per status for health and metrics.
func (s *JobService) CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	counts, err := s.jobs.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	return counts, nil
}
