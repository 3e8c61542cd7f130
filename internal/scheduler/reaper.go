package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tasseo/internal/types"
)

// DefaultStaleAfter is how long past its own expiry window an active job
// may sit before the reaper assumes its worker died. The worker enforces the
// window itself, so the margin only has to cover clock skew and the outcome
// write.
const DefaultStaleAfter = 5 * time.Minute

// DefaultRetainFinished is how long terminal jobs are kept before purging.
const DefaultRetainFinished = 7 * 24 * time.Hour

// ReapedMessage is the error stored on jobs failed by the reaper.
const ReapedMessage = "cleared by cleanup task"

// JobMaintenanceStore defines the database operations needed by the Reaper.
// db.JobRepository satisfies it.
type JobMaintenanceStore interface {
	// FailStale moves active jobs whose expiry deadline
	// (started_at + expire_after_seconds) is before cutoff to failed.
	FailStale(ctx context.Context, cutoff time.Time, output *types.JobOutput, now time.Time) (int64, error)

	// ExpireOverdue moves active jobs past their own expire_after window to
	// expired.
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)

	// PurgeFinished deletes terminal jobs completed before cutoff.
	PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error)
}

// LockCleaner removes expired schedule locks. db.JobLockRepository
// satisfies it.
type LockCleaner interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Reaper recovers jobs abandoned by crashed workers and trims old rows.
// All methods take `now` so manual runs can backfill deterministically.
type Reaper struct {
	jobs   JobMaintenanceStore
	locks  LockCleaner
	logger *slog.Logger
}

// NewReaper creates a Reaper. locks may be nil.
func NewReaper(jobs JobMaintenanceStore, locks LockCleaner, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		jobs:   jobs,
		locks:  locks,
		logger: logger,
	}
}

// ReapStale fails every active job whose expiry window ended more than
// grace before now and returns how many were failed. A long batch is
// measured against its own window, not a global age. grace <= 0 selects
// DefaultStaleAfter.
func (r *Reaper) ReapStale(ctx context.Context, grace time.Duration, now time.Time) (int64, error) {
	if grace <= 0 {
		grace = DefaultStaleAfter
	}
	cutoff := now.Add(-grace)

	n, err := r.jobs.FailStale(ctx, cutoff, &types.JobOutput{Error: ReapedMessage}, now)
	if err != nil {
		return 0, fmt.Errorf("failing stale jobs: %w", err)
	}
	if n > 0 {
		r.logger.WarnContext(ctx, "stale active jobs failed",
			"count", n,
			"cutoff", cutoff.Format(time.RFC3339),
		)
	}
	return n, nil
}

// ExpireOverdue expires active jobs that outlived their expiry window
// without being reaped yet.
func (r *Reaper) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	n, err := r.jobs.ExpireOverdue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("expiring overdue jobs: %w", err)
	}
	if n > 0 {
		r.logger.WarnContext(ctx, "overdue jobs expired", "count", n)
	}
	return n, nil
}

// PurgeFinished deletes terminal jobs older than retention and expired
// schedule locks. Returns the number of jobs deleted.
func (r *Reaper) PurgeFinished(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultRetainFinished
	}
	cutoff := now.Add(-retention)

	n, err := r.jobs.PurgeFinished(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging finished jobs: %w", err)
	}

	if r.locks != nil {
		locks, err := r.locks.DeleteExpired(ctx, now)
		if err != nil {
			// Lock rows are small and harmless; the next run retries.
			r.logger.WarnContext(ctx, "failed to delete expired job locks", "error", err)
		} else if locks > 0 {
			r.logger.InfoContext(ctx, "expired job locks deleted", "count", locks)
		}
	}

	r.logger.InfoContext(ctx, "finished job purge complete",
		"deleted", n,
		"cutoff", cutoff.Format(time.RFC3339),
	)
	return n, nil
}

// Loop calls ReapStale every interval until ctx is cancelled. Errors are
// logged; the next tick retries.
func (r *Reaper) Loop(ctx context.Context, interval, grace time.Duration, clock types.Clock) error {
	if clock == nil {
		clock = types.RealClock{}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.ReapStale(ctx, grace, clock.Now()); err != nil && ctx.Err() == nil {
				r.logger.ErrorContext(ctx, "stale job reap failed", "error", err)
			}
		}
	}
}
