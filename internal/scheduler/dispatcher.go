package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tasseo/internal/queue"
	"tasseo/internal/types"
)

// DispatchUserStore lists the candidates of one dispatch run.
// db.UserRepository satisfies it.
type DispatchUserStore interface {
	ListDispatchable(ctx context.Context) ([]types.DispatchableUser, error)
}

// DispatchResult counts what one run did.
type DispatchResult struct {
	Kind       types.InsightKind
	Candidates int
	Dispatched int
	Failed     int
}

// DispatchRecorder receives the result of every successful run.
type DispatchRecorder interface {
	DispatchFinished(ctx context.Context, result DispatchResult)
}

// Dispatcher turns one hourly tick into one single-user insight job for
// every user whose local hour equals their preferred hour for the kind.
// It keeps no state between runs; eligibility is re-derived every tick.
type Dispatcher struct {
	users   DispatchUserStore
	enq     queue.Enqueuer
	metrics DispatchRecorder
	logger  *slog.Logger

	locations types.LocationCache
}

// NewDispatcher creates a Dispatcher. metrics may be nil.
func NewDispatcher(users DispatchUserStore, enq queue.Enqueuer, metrics DispatchRecorder, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		users:   users,
		enq:     enq,
		metrics: metrics,
		logger:  logger,
	}
}

// Dispatch runs one sweep for kind at nowUTC. A failed user query fails the
// whole sweep; a failed enqueue is counted and the sweep continues.
func (d *Dispatcher) Dispatch(ctx context.Context, kind types.InsightKind, nowUTC time.Time) (DispatchResult, error) {
	result := DispatchResult{Kind: kind}

	users, err := d.users.ListDispatchable(ctx)
	if err != nil {
		return result, fmt.Errorf("listing dispatchable users: %w", err)
	}
	result.Candidates = len(users)

	for _, u := range users {
		if !u.Settings.AllowsKind(kind) {
			continue
		}
		if d.localHour(ctx, u, nowUTC) != u.Settings.PreferredHour(kind) {
			continue
		}

		payload := types.InsightJobPayload{
			UserID:       u.ID,
			Timezone:     u.Timezone,
			ExternalID:   u.ExternalID,
			DisplayName:  u.DisplayName,
			LanguageCode: u.LanguageCode,
		}
		if id := d.enq.Enqueue(ctx, kind.SingleQueue(), payload, types.JobOptions{}); id == "" {
			d.logger.ErrorContext(ctx, "failed to enqueue insight job",
				"kind", kind,
				"user_id", u.ID,
			)
			result.Failed++
			continue
		}
		result.Dispatched++
	}

	d.logger.InfoContext(ctx, "insight dispatch complete",
		"kind", kind,
		"hour_utc", nowUTC.Hour(),
		"candidates", result.Candidates,
		"dispatched", result.Dispatched,
		"failed", result.Failed,
	)
	if d.metrics != nil {
		d.metrics.DispatchFinished(ctx, result)
	}
	return result, nil
}

// Handler adapts Dispatch to the hourly dispatch queue of kind. The tick
// time is the job's scheduled start, so a late claim still evaluates the hour
// it was fired for.
func (d *Dispatcher) Handler(kind types.InsightKind) queue.Handler {
	return func(ctx context.Context, job *types.Job) error {
		tick := job.StartAfter
		if tick.IsZero() {
			tick = time.Now()
		}
		_, err := d.Dispatch(ctx, kind, tick.UTC().Truncate(time.Hour))
		return err
	}
}

func (d *Dispatcher) localHour(ctx context.Context, u types.DispatchableUser, nowUTC time.Time) int {
	loc, ok := d.locations.Resolve(u.Timezone)
	if !ok {
		d.logger.WarnContext(ctx, "invalid user timezone, using default",
			"user_id", u.ID,
			"timezone", u.Timezone,
			"default", types.DefaultUserTimezone,
		)
	}
	return nowUTC.In(loc).Hour()
}
