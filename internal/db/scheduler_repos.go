package db

import (
	"context"
	"time"

	"tasseo/internal/types"
)

// ============================================================
// JobLockRepository
// ============================================================

// JobLockRepository provides distributed locking via the job_locks table.
// Cron fires in every worker process; the lock makes sure only one of them
// enqueues a given tick, and only one runs a given maintenance window.
type JobLockRepository struct {
	db  DBTX
	now func() time.Time
}

// NewJobLockRepository creates a new JobLockRepository backed by the given
// database connection (pool or transaction).
func NewJobLockRepository(db DBTX) *JobLockRepository {
	return &JobLockRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Acquire attempts to insert a lock row. Returns true if acquired, false if
// the lock already exists and has not expired. lockID is typically
// "<queue or task>:<tick time>".
//
// expires_at is computed in Go rather than with interval arithmetic because
// Go duration strings ("15m0s") are not valid PostgreSQL intervals.
func (r *JobLockRepository) Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error) {
	now := r.now()
	tag, err := r.db.Exec(ctx,
		`INSERT INTO job_locks (id, worker_id, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET worker_id = EXCLUDED.worker_id,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE job_locks.expires_at < $3`,
		lockID,
		workerID,
		now,
		now.Add(ttl),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire job lock", err)
	}
	// 0 rows: another worker holds an unexpired lock.
	return tag.RowsAffected() > 0, nil
}

// DeleteExpired removes lock rows that expired before cutoff.
func (r *JobLockRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM job_locks WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete expired job locks", err)
	}
	return tag.RowsAffected(), nil
}

// ============================================================
// JobRunRepository
// ============================================================

// JobRunRepository records executions of maintenance tasks in job_runs.
type JobRunRepository struct {
	db DBTX
}

// NewJobRunRepository creates a new JobRunRepository backed by the given
// database connection (pool or transaction).
func NewJobRunRepository(db DBTX) *JobRunRepository {
	return &JobRunRepository{db: db}
}

// Start inserts a 'running' row and returns its id.
func (r *JobRunRepository) Start(ctx context.Context, task string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO job_runs (task, started_at, status)
		 VALUES ($1, NOW(), 'running')
		 RETURNING id`,
		task,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start job run", err)
	}
	return id, nil
}

// Finish stores the outcome of a run. status is 'success' or 'failed'.
func (r *JobRunRepository) Finish(ctx context.Context, id int64, status string, items int64, runErr error) error {
	var errMsg *string
	if runErr != nil {
		s := runErr.Error()
		errMsg = &s
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE job_runs
		 SET finished_at = NOW(), status = $2, items_count = $3, error = $4
		 WHERE id = $1`,
		id,
		status,
		items,
		errMsg,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish job run", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "job run not found", nil)
	}
	return nil
}
