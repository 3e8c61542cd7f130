package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"tasseo/internal/types"
)

// JobRepository owns every state transition of rows in the jobs table.
//
// Transitions are guarded by the expected current state in the WHERE clause,
// so a job the reaper already failed cannot later be completed by a worker
// that was merely slow.
type JobRepository struct {
	db DBTX
}

// NewJobRepository creates a new JobRepository backed by the given database
// connection (pool or transaction).
func NewJobRepository(db DBTX) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, queue, payload, state, priority, retry_count, retry_limit,
	retry_delay_seconds, expire_after_seconds, start_after, created_at,
	started_at, completed_at, output`

// Insert stores a new job in the created state.
func (r *JobRepository) Insert(ctx context.Context, job *types.Job) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO jobs (id, queue, payload, state, priority, retry_count, retry_limit,
		                   retry_delay_seconds, expire_after_seconds, start_after, created_at)
		 VALUES ($1, $2, $3, 'created', $4, 0, $5, $6, $7, $8, $9)`,
		job.ID,
		string(job.Queue),
		[]byte(job.Payload),
		job.Priority,
		job.RetryLimit,
		int(job.RetryDelay/time.Second),
		int(job.ExpireAfter/time.Second),
		job.StartAfter,
		job.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert job", err)
	}
	return nil
}

// Claim moves up to limit due jobs of queue to active and returns them.
// FOR UPDATE SKIP LOCKED makes concurrent claimers skip rows another
// transaction is already claiming, so each job has at most one active claim.
func (r *JobRepository) Claim(ctx context.Context, queue types.QueueName, limit int, now time.Time) ([]types.Job, error) {
	rows, err := r.db.Query(ctx,
		`UPDATE jobs SET state = 'active', started_at = $3
		 WHERE id IN (
		   SELECT id FROM jobs
		   WHERE queue = $1 AND state = 'created' AND start_after <= $3
		   ORDER BY priority DESC, created_at
		   LIMIT $2
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns,
		string(queue),
		limit,
		now,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to claim jobs", err)
	}
	defer rows.Close()

	var jobs []types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating claimed jobs", err)
	}
	return jobs, nil
}

// Get returns a single job by ID.
func (r *JobRepository) Get(ctx context.Context, id string) (*types.Job, error) {
	row := r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && errors.Is(appErr.Err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundJob, "job not found", nil)
		}
		return nil, err
	}
	return job, nil
}

// Complete marks an active job completed. output may carry a fatal error
// payload (complete-with-error).
func (r *JobRepository) Complete(ctx context.Context, id string, output *types.JobOutput, now time.Time) error {
	return r.finish(ctx, id, types.JobStateCompleted, output, now)
}

// Fail marks an active job failed. No further automatic recovery happens.
func (r *JobRepository) Fail(ctx context.Context, id string, output *types.JobOutput, now time.Time) error {
	return r.finish(ctx, id, types.JobStateFailed, output, now)
}

// Expire marks an active job expired: it outlived its expire_after window.
func (r *JobRepository) Expire(ctx context.Context, id string, output *types.JobOutput, now time.Time) error {
	return r.finish(ctx, id, types.JobStateExpired, output, now)
}

func (r *JobRepository) finish(ctx context.Context, id string, state types.JobState, output *types.JobOutput, now time.Time) error {
	payload, err := marshalOutput(output)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE jobs SET state = $2, completed_at = $3, output = $4
		 WHERE id = $1 AND state = 'active'`,
		id,
		string(state),
		now,
		payload,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update job state", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundJob, "no active job with this id", nil).
			WithDetails(map[string]any{"job_id": id, "target_state": string(state)})
	}
	return nil
}

// Retry returns an active job to created with its retry counter bumped and
// start_after pushed to runAt.
func (r *JobRepository) Retry(ctx context.Context, id string, runAt time.Time, output *types.JobOutput) error {
	payload, err := marshalOutput(output)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE jobs
		 SET state = 'created', retry_count = retry_count + 1, start_after = $2,
		     started_at = NULL, output = $3
		 WHERE id = $1 AND state = 'active'`,
		id,
		runAt,
		payload,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to schedule job retry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundJob, "no active job with this id", nil).
			WithDetails(map[string]any{"job_id": id, "target_state": string(types.JobStateCreated)})
	}
	return nil
}

// FailStale fails every active job whose own expiry deadline
// (started_at + expire_after_seconds) fell before cutoff. Worker crashes
// leave such rows behind.
func (r *JobRepository) FailStale(ctx context.Context, cutoff time.Time, output *types.JobOutput, now time.Time) (int64, error) {
	payload, err := marshalOutput(output)
	if err != nil {
		return 0, err
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE jobs SET state = 'failed', completed_at = $2, output = $3
		 WHERE state = 'active'
		   AND started_at + make_interval(secs => expire_after_seconds) < $1`,
		cutoff,
		now,
		payload,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to fail stale jobs", err)
	}
	return tag.RowsAffected(), nil
}

// ExpireOverdue expires active jobs that have run past their own
// expire_after_seconds window.
func (r *JobRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	payload, err := marshalOutput(&types.JobOutput{Error: "job exceeded its expiry window"})
	if err != nil {
		return 0, err
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE jobs SET state = 'expired', completed_at = $1, output = $2
		 WHERE state = 'active'
		   AND started_at + make_interval(secs => expire_after_seconds) < $1`,
		now,
		payload,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to expire overdue jobs", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeFinished deletes terminal jobs that finished before cutoff.
func (r *JobRepository) PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM jobs
		 WHERE state IN ('completed', 'failed', 'expired') AND completed_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge finished jobs", err)
	}
	return tag.RowsAffected(), nil
}

// QueueStats is the per-state job count of one queue.
type QueueStats struct {
	Queue  types.QueueName
	Counts map[types.JobState]int
}

// Stats returns job counts grouped by queue and state.
func (r *JobRepository) Stats(ctx context.Context) ([]QueueStats, error) {
	rows, err := r.db.Query(ctx,
		`SELECT queue, state, COUNT(*) FROM jobs GROUP BY queue, state ORDER BY queue, state`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query queue stats", err)
	}
	defer rows.Close()

	var out []QueueStats
	index := make(map[types.QueueName]int)
	for rows.Next() {
		var queue, state string
		var count int
		if err := rows.Scan(&queue, &state, &count); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan queue stats", err)
		}
		q := types.QueueName(queue)
		i, ok := index[q]
		if !ok {
			i = len(out)
			index[q] = i
			out = append(out, QueueStats{Queue: q, Counts: make(map[types.JobState]int)})
		}
		out[i].Counts[types.JobState(state)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating queue stats", err)
	}
	return out, nil
}

func scanJob(row pgx.Row) (*types.Job, error) {
	var (
		job          types.Job
		queue, state string
		payload      []byte
		output       []byte
		retryDelay   int
		expireAfter  int
	)
	if err := row.Scan(
		&job.ID,
		&queue,
		&payload,
		&state,
		&job.Priority,
		&job.RetryCount,
		&job.RetryLimit,
		&retryDelay,
		&expireAfter,
		&job.StartAfter,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&output,
	); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan job", err)
	}
	job.Queue = types.QueueName(queue)
	job.State = types.JobState(state)
	job.Payload = payload
	job.Output = output
	job.RetryDelay = time.Duration(retryDelay) * time.Second
	job.ExpireAfter = time.Duration(expireAfter) * time.Second
	return &job, nil
}

func marshalOutput(output *types.JobOutput) ([]byte, error) {
	if output == nil {
		return nil, nil
	}
	b, err := json.Marshal(output)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode job output", err)
	}
	return b, nil
}
