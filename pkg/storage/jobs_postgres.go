package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arbor-coach/arbor/pkg/models"
)

// jobColumns is the canonical column list shared by every job query.
const jobColumns = `job_id, tenant_id, user_id, tier, kind, topic_id, session_id, input,
	status, output_message, is_final, result, error, error_code,
	created_at, started_at, finished_at, processing_time_ms, ttl_at`

// PostgresJobStore persists jobs in the jobs table. Every status change is a
// conditional UPDATE guarded on the current status, so duplicate deliveries
// and concurrent claimers resolve to exactly one winner per transition.
type PostgresJobStore struct {
	db *sql.DB
}

// NewPostgresJobStore creates a job store over the shared pool.
func NewPostgresJobStore(db *sql.DB) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

// Create inserts a new pending job.
func (s *PostgresJobStore) Create(ctx context.Context, job *models.Job) error {
	inputJSON, err := marshalJSONMap(job.Input)
	if err != nil {
		return err
	}
	var sessionID sql.NullString
	if job.SessionID != "" {
		sessionID = sql.NullString{String: job.SessionID, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, tenant_id, user_id, tier, kind, topic_id, session_id, input, status, created_at, ttl_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID, job.TenantID, job.UserID, string(job.Tier), string(job.Kind), job.TopicID, sessionID,
		inputJSON, string(models.JobStatusPending), job.CreatedAt, job.TTLAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// Get returns the job by id, filtered by TTL: expired rows read as not found
// even before the reaper deletes them.
func (s *PostgresJobStore) Get(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE job_id = $1 AND ttl_at > now()`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// TransitionProcessing claims a specific job: pending -> processing.
func (s *PostgresJobStore) TransitionProcessing(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET status = $2, started_at = $3
		WHERE job_id = $1 AND status = $4
		RETURNING `+jobColumns,
		id, string(models.JobStatusProcessing), time.Now().UTC(), string(models.JobStatusPending),
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.transitionMiss(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("transition job to processing: %w", err)
	}
	return job, nil
}

// TransitionCompleted finishes a job: processing -> completed. The processing
// time is computed server-side from started_at so clock skew between workers
// cannot produce negative durations.
func (s *PostgresJobStore) TransitionCompleted(ctx context.Context, id string, out models.JobOutput) (*models.Job, error) {
	resultJSON, err := marshalJSONMap(out.Result)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET status = $2, output_message = $3, is_final = $4, result = $5,
			finished_at = $6,
			processing_time_ms = (extract(epoch FROM ($6::timestamptz - started_at)) * 1000)::bigint
		WHERE job_id = $1 AND status = $7
		RETURNING `+jobColumns,
		id, string(models.JobStatusCompleted), out.Message, out.IsFinal, resultJSON,
		time.Now().UTC(), string(models.JobStatusProcessing),
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.transitionMiss(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("transition job to completed: %w", err)
	}
	return job, nil
}

// TransitionFailed finishes a job: processing -> failed.
func (s *PostgresJobStore) TransitionFailed(ctx context.Context, id string, errMsg string, code models.ErrorCode) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET status = $2, error = $3, error_code = $4,
			finished_at = $5,
			processing_time_ms = (extract(epoch FROM ($5::timestamptz - started_at)) * 1000)::bigint
		WHERE job_id = $1 AND status = $6
		RETURNING `+jobColumns,
		id, string(models.JobStatusFailed), errMsg, string(code),
		time.Now().UTC(), string(models.JobStatusProcessing),
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.transitionMiss(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("transition job to failed: %w", err)
	}
	return job, nil
}

// ClaimNextPending claims the oldest pending job in one statement. The inner
// SELECT uses FOR UPDATE SKIP LOCKED so concurrent pollers skip rows another
// worker is claiming instead of blocking on them.
func (s *PostgresJobStore) ClaimNextPending(ctx context.Context) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET status = $1, started_at = $2
		WHERE job_id = (
			SELECT job_id FROM jobs
			WHERE status = $3
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		string(models.JobStatusProcessing), time.Now().UTC(), string(models.JobStatusPending),
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("claim next pending job: %w", err)
	}
	return job, nil
}

// FailStuckProcessing flips processing jobs started before cutoff to failed
// and returns the flipped rows. Used by the watchdog after a worker crash
// leaves a job stuck in processing.
func (s *PostgresJobStore) FailStuckProcessing(ctx context.Context, cutoff time.Time, errMsg string, code models.ErrorCode) ([]*models.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE jobs SET status = $1, error = $2, error_code = $3,
			finished_at = $4,
			processing_time_ms = (extract(epoch FROM ($4::timestamptz - started_at)) * 1000)::bigint
		WHERE status = $5 AND started_at < $6
		RETURNING `+jobColumns,
		string(models.JobStatusFailed), errMsg, string(code),
		time.Now().UTC(), string(models.JobStatusProcessing), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("fail stuck processing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stuck job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fail stuck processing jobs: %w", err)
	}
	return jobs, nil
}

// CountByStatus returns job counts grouped by status.
func (s *PostgresJobStore) CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, count(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[models.JobStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count jobs by status: %w", err)
	}
	return counts, nil
}

// ListPendingOlderThan returns pending jobs created before cutoff, oldest
// first. Startup orphan recovery re-publishes trigger events for these.
func (s *PostgresJobStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3`,
		string(models.JobStatusPending), cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	return jobs, nil
}

// ReapExpired deletes jobs whose TTL has passed.
func (s *PostgresJobStore) ReapExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE ttl_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("reap expired jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reap expired jobs: %w", err)
	}
	return n, nil
}

// transitionMiss disambiguates a zero-row conditional update: the job either
// does not exist (ErrNotFound) or already left the source status
// (ErrConflict, the duplicate-delivery case).
func (s *PostgresJobStore) transitionMiss(ctx context.Context, id string) error {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE job_id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load job status: %w", err)
	}
	return ErrConflict
}

func scanJob(scanner rowScanner) (*models.Job, error) {
	var (
		job              models.Job
		tier             string
		kind             string
		status           string
		sessionID        sql.NullString
		inputBytes       []byte
		outputMessage    sql.NullString
		isFinal          sql.NullBool
		resultBytes      []byte
		errMsg           sql.NullString
		errCode          sql.NullString
		startedAt        sql.NullTime
		finishedAt       sql.NullTime
		processingTimeMS sql.NullInt64
	)
	if err := scanner.Scan(
		&job.ID, &job.TenantID, &job.UserID, &tier, &kind, &job.TopicID, &sessionID, &inputBytes,
		&status, &outputMessage, &isFinal, &resultBytes, &errMsg, &errCode,
		&job.CreatedAt, &startedAt, &finishedAt, &processingTimeMS, &job.TTLAt,
	); err != nil {
		return nil, err
	}
	job.Tier = models.Tier(tier)
	job.Kind = models.JobKind(kind)
	job.Status = models.JobStatus(status)
	if sessionID.Valid {
		job.SessionID = sessionID.String
	}
	input, err := unmarshalJSONMap(inputBytes)
	if err != nil {
		return nil, err
	}
	job.Input = input
	if outputMessage.Valid {
		job.OutputMessage = &outputMessage.String
	}
	if isFinal.Valid {
		job.IsFinal = &isFinal.Bool
	}
	result, err := unmarshalJSONMap(resultBytes)
	if err != nil {
		return nil, err
	}
	job.Result = result
	if errMsg.Valid {
		job.Error = &errMsg.String
	}
	if errCode.Valid {
		code := models.ErrorCode(errCode.String)
		job.ErrorCode = &code
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	if processingTimeMS.Valid {
		ms := processingTimeMS.Int64
		job.ProcessingTimeMS = &ms
	}
	return &job, nil
}
