package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arbor-coach/arbor/pkg/models"
)

// MemoryJobStore is an in-memory JobStore with the same conditional-update
// semantics as the postgres one. Values are copied on the way in and out so
// callers never alias store state.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

// NewMemoryJobStore creates an empty in-memory job store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*models.Job)}
}

func (s *MemoryJobStore) Create(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return ErrAlreadyExists
	}
	stored := cloneJob(job)
	stored.Status = models.JobStatusPending
	s.jobs[job.ID] = stored
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryJobStore) TransitionProcessing(_ context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if job.Status != models.JobStatusPending {
		return nil, ErrConflict
	}
	now := time.Now().UTC()
	job.Status = models.JobStatusProcessing
	job.StartedAt = &now
	return cloneJob(job), nil
}

func (s *MemoryJobStore) TransitionCompleted(_ context.Context, id string, out models.JobOutput) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if job.Status != models.JobStatusProcessing {
		return nil, ErrConflict
	}
	msg := out.Message
	isFinal := out.IsFinal
	job.Status = models.JobStatusCompleted
	job.OutputMessage = &msg
	job.IsFinal = &isFinal
	job.Result = out.Result
	finishJob(job)
	return cloneJob(job), nil
}

func (s *MemoryJobStore) TransitionFailed(_ context.Context, id string, errMsg string, code models.ErrorCode) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if job.Status != models.JobStatusProcessing {
		return nil, ErrConflict
	}
	failJob(job, errMsg, code)
	return cloneJob(job), nil
}

func (s *MemoryJobStore) ClaimNextPending(_ context.Context) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *models.Job
	for _, job := range s.jobs {
		if job.Status != models.JobStatusPending {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, ErrNotFound
	}
	now := time.Now().UTC()
	oldest.Status = models.JobStatusProcessing
	oldest.StartedAt = &now
	return cloneJob(oldest), nil
}

func (s *MemoryJobStore) FailStuckProcessing(_ context.Context, cutoff time.Time, errMsg string, code models.ErrorCode) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var flipped []*models.Job
	for _, job := range s.jobs {
		if job.Status != models.JobStatusProcessing || job.StartedAt == nil || !job.StartedAt.Before(cutoff) {
			continue
		}
		failJob(job, errMsg, code)
		flipped = append(flipped, cloneJob(job))
	}
	return flipped, nil
}

func (s *MemoryJobStore) CountByStatus(_ context.Context) (map[models.JobStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[models.JobStatus]int64)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func (s *MemoryJobStore) ListPendingOlderThan(_ context.Context, cutoff time.Time, limit int) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []*models.Job
	for _, job := range s.jobs {
		if job.Status == models.JobStatusPending && job.CreatedAt.Before(cutoff) {
			pending = append(pending, cloneJob(job))
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *MemoryJobStore) ReapExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, job := range s.jobs {
		if job.Expired(now) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

// Backdate rewrites a job's timestamps in place. Test hook: expiry and
// watchdog behavior depend on CreatedAt/StartedAt/TTLAt, which production
// code only ever stamps with the current time.
func (s *MemoryJobStore) Backdate(id string, mutate func(*models.Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		mutate(job)
	}
}

func finishJob(job *models.Job) {
	now := time.Now().UTC()
	job.FinishedAt = &now
	if job.StartedAt != nil {
		ms := now.Sub(*job.StartedAt).Milliseconds()
		job.ProcessingTimeMS = &ms
	}
}

func failJob(job *models.Job, errMsg string, code models.ErrorCode) {
	job.Status = models.JobStatusFailed
	job.Error = &errMsg
	job.ErrorCode = &code
	finishJob(job)
}

func cloneJob(job *models.Job) *models.Job {
	c := *job
	if job.Input != nil {
		c.Input = make(map[string]any, len(job.Input))
		for k, v := range job.Input {
			c.Input[k] = v
		}
	}
	if job.Result != nil {
		c.Result = make(map[string]any, len(job.Result))
		for k, v := range job.Result {
			c.Result[k] = v
		}
	}
	c.OutputMessage = clonePtr(job.OutputMessage)
	c.IsFinal = clonePtr(job.IsFinal)
	c.Error = clonePtr(job.Error)
	c.ErrorCode = clonePtr(job.ErrorCode)
	c.StartedAt = clonePtr(job.StartedAt)
	c.FinishedAt = clonePtr(job.FinishedAt)
	c.ProcessingTimeMS = clonePtr(job.ProcessingTimeMS)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
