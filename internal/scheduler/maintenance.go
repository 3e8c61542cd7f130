package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tasseo/internal/types"
)

// maintenanceLockTTL covers one Lambda execution with margin.
const maintenanceLockTTL = 15 * time.Minute

// Locker is db.JobLockRepository.
type Locker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
}

// RunHistory is db.JobRunRepository.
type RunHistory interface {
	Start(ctx context.Context, task string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int64, runErr error) error
}

// MaintenanceRunner executes one maintenance task under an hourly lock and
// records it in job_runs. The Lambda and queuectl both drive it.
type MaintenanceRunner struct {
	Reaper         *Reaper
	Locks          Locker
	History        RunHistory
	WorkerID       string
	StaleAfter     time.Duration
	RetainFinished time.Duration
	Clock          types.Clock
	Logger         *slog.Logger
}

// Tasks lists the supported maintenance tasks with a description.
func Tasks() map[TaskType]string {
	return map[TaskType]string{
		TaskReapStaleJobs: "Fail active jobs whose worker stopped reporting",
		TaskExpireJobs:    "Expire active jobs past their own expiry window",
		TaskPurgeJobs:     "Delete finished jobs past the retention window and expired locks",
	}
}

// Run executes payload.Task. A task already running in the same hour on
// another instance is skipped without error.
func (m *MaintenanceRunner) Run(ctx context.Context, payload MaintenancePayload) (string, error) {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if _, ok := Tasks()[payload.Task]; !ok {
		return "", types.Fatal(types.NewAppError(types.ErrCodeValidationPayload,
			fmt.Sprintf("unknown maintenance task %q", payload.Task), nil))
	}

	now := m.now()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}
	task := string(payload.Task)
	logger.InfoContext(ctx, "maintenance task invoked",
		"task", task,
		"reference_time", now.Format(time.RFC3339),
		"worker_id", m.WorkerID,
	)

	if m.Locks != nil {
		lockID := fmt.Sprintf("%s:%s", task, now.Truncate(time.Hour).Format("2006-01-02T15"))
		acquired, err := m.Locks.Acquire(ctx, lockID, m.WorkerID, maintenanceLockTTL)
		if err != nil {
			return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
		}
		if !acquired {
			logger.InfoContext(ctx, "job lock held by another worker", "lock_id", lockID)
			return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
		}
	}

	var runID int64
	if m.History != nil {
		id, err := m.History.Start(ctx, task)
		if err != nil {
			// History is for operators; the task still runs.
			logger.ErrorContext(ctx, "failed to start job history", "task", task, "error", err)
		}
		runID = id
	}

	items, execErr := m.dispatch(ctx, payload.Task, now)

	if runID != 0 {
		status := "success"
		if execErr != nil {
			status = "failed"
		}
		if err := m.History.Finish(ctx, runID, status, items, execErr); err != nil {
			logger.ErrorContext(ctx, "failed to finish job history", "run_id", runID, "error", err)
		}
	}

	if execErr != nil {
		return "", fmt.Errorf("task %s failed: %w", task, execErr)
	}
	result := fmt.Sprintf("task %s complete: %d items processed", task, items)
	logger.InfoContext(ctx, result, "task", task, "items", items)
	return result, nil
}

func (m *MaintenanceRunner) dispatch(ctx context.Context, task TaskType, now time.Time) (int64, error) {
	switch task {
	case TaskReapStaleJobs:
		return m.Reaper.ReapStale(ctx, m.StaleAfter, now)
	case TaskExpireJobs:
		return m.Reaper.ExpireOverdue(ctx, now)
	case TaskPurgeJobs:
		return m.Reaper.PurgeFinished(ctx, now, m.RetainFinished)
	default:
		return 0, fmt.Errorf("unknown task type: %q", task)
	}
}

func (m *MaintenanceRunner) now() time.Time {
	if m.Clock == nil {
		return time.Now().UTC()
	}
	return m.Clock.Now().UTC()
}
