package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-coach/arbor/pkg/models"
)

func newTestJob() *models.Job {
	now := time.Now().UTC()
	return &models.Job{
		ID:        uuid.New().String(),
		TenantID:  "tenant-1",
		UserID:    "user-1",
		Tier:      "premium",
		Kind:      models.JobKindCoachingMessage,
		TopicID:   "daily-checkin",
		SessionID: uuid.New().String(),
		Input:     map[string]any{"message": "hello"},
		Status:    models.JobStatusPending,
		CreatedAt: now,
		TTLAt:     now.Add(models.JobTTL),
	}
}

func TestMemoryJobStore_CreateAndGet(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()

	job := newTestJob()
	require.NoError(t, store.Create(ctx, job))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, models.Tier("premium"), got.Tier)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, "hello", got.Input["message"])

	// Duplicate ID is rejected
	assert.ErrorIs(t, store.Create(ctx, job), ErrAlreadyExists)

	// Unknown ID
	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryJobStore_GetAfterTTL(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()

	job := newTestJob()
	require.NoError(t, store.Create(ctx, job))

	// Backdate the TTL: the row still exists but must read as not found
	store.Backdate(job.ID, func(j *models.Job) {
		j.TTLAt = time.Now().Add(-time.Minute)
	})

	_, err := store.Get(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Reap removes it for real
	n, err := store.ReapExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryJobStore_TransitionLifecycle(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()

	job := newTestJob()
	require.NoError(t, store.Create(ctx, job))

	// pending -> processing
	claimed, err := store.TransitionProcessing(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, claimed.Status)
	require.NotNil(t, claimed.StartedAt)

	// Second claim observes the duplicate and loses
	_, err = store.TransitionProcessing(ctx, job.ID)
	assert.ErrorIs(t, err, ErrConflict)

	// processing -> completed
	done, err := store.TransitionCompleted(ctx, job.ID, models.JobOutput{
		Message: "here is your plan",
		IsFinal: true,
		Result:  map[string]any{"score": 7},
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	require.NotNil(t, done.OutputMessage)
	assert.Equal(t, "here is your plan", *done.OutputMessage)
	require.NotNil(t, done.IsFinal)
	assert.True(t, *done.IsFinal)
	require.NotNil(t, done.FinishedAt)
	require.NotNil(t, done.ProcessingTimeMS)

	// No second terminal state, in either direction
	_, err = store.TransitionCompleted(ctx, job.ID, models.JobOutput{Message: "again"})
	assert.ErrorIs(t, err, ErrConflict)
	_, err = store.TransitionFailed(ctx, job.ID, "boom", models.ErrCodeInternal)
	assert.ErrorIs(t, err, ErrConflict)

	// Unknown job disambiguates to not found
	_, err = store.TransitionProcessing(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryJobStore_TransitionFailed(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()

	job := newTestJob()
	require.NoError(t, store.Create(ctx, job))
	_, err := store.TransitionProcessing(ctx, job.ID)
	require.NoError(t, err)

	failed, err := store.TransitionFailed(ctx, job.ID, "provider deadline exceeded", models.ErrCodeLLMTimeout)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, failed.Status)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "provider deadline exceeded", *failed.Error)
	require.NotNil(t, failed.ErrorCode)
	assert.Equal(t, models.ErrCodeLLMTimeout, *failed.ErrorCode)
}

func TestMemoryJobStore_ClaimNextPending(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()

	// No pending jobs
	_, err := store.ClaimNextPending(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	older := newTestJob()
	older.CreatedAt = time.Now().Add(-2 * time.Minute)
	newer := newTestJob()
	newer.CreatedAt = time.Now().Add(-1 * time.Minute)
	require.NoError(t, store.Create(ctx, newer))
	require.NoError(t, store.Create(ctx, older))

	// Oldest first
	first, err := store.ClaimNextPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, older.ID, first.ID)
	assert.Equal(t, models.JobStatusProcessing, first.Status)

	second, err := store.ClaimNextPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, second.ID)

	// Queue drained
	_, err = store.ClaimNextPending(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryJobStore_FailStuckProcessing(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()

	stuck := newTestJob()
	fresh := newTestJob()
	require.NoError(t, store.Create(ctx, stuck))
	require.NoError(t, store.Create(ctx, fresh))
	_, err := store.TransitionProcessing(ctx, stuck.ID)
	require.NoError(t, err)
	_, err = store.TransitionProcessing(ctx, fresh.ID)
	require.NoError(t, err)

	// Only the backdated one is past the cutoff
	store.Backdate(stuck.ID, func(j *models.Job) {
		started := time.Now().Add(-20 * time.Minute)
		j.StartedAt = &started
	})

	flipped, err := store.FailStuckProcessing(ctx, time.Now().Add(-15*time.Minute), "worker lost", models.ErrCodeInternal)
	require.NoError(t, err)
	require.Len(t, flipped, 1)
	assert.Equal(t, stuck.ID, flipped[0].ID)
	assert.Equal(t, models.JobStatusFailed, flipped[0].Status)

	got, err := store.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, got.Status)
}

func TestMemoryJobStore_ListPendingOlderThan(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()

	old1 := newTestJob()
	old1.CreatedAt = time.Now().Add(-10 * time.Minute)
	old2 := newTestJob()
	old2.CreatedAt = time.Now().Add(-5 * time.Minute)
	recent := newTestJob()
	require.NoError(t, store.Create(ctx, old1))
	require.NoError(t, store.Create(ctx, old2))
	require.NoError(t, store.Create(ctx, recent))

	orphans, err := store.ListPendingOlderThan(ctx, time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, orphans, 2)
	assert.Equal(t, old1.ID, orphans[0].ID)
	assert.Equal(t, old2.ID, orphans[1].ID)
}

func TestMemoryJobStore_CopiesDoNotAlias(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()

	job := newTestJob()
	require.NoError(t, store.Create(ctx, job))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	got.Input["message"] = "mutated"
	got.Status = models.JobStatusFailed

	again, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", again.Input["message"])
	assert.Equal(t, models.JobStatusPending, again.Status)
}
