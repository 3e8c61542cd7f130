package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tasseo/internal/types"
)

// Schedule fires Queue with an empty payload whenever CronExpression (five
// fields) matches the wall clock in Timezone. Options apply to every job the
// schedule enqueues.
type Schedule struct {
	Queue          types.QueueName
	CronExpression string
	Timezone       string
	Options        types.JobOptions
}

// Locker grants one process the right to act on a named tick.
// db.JobLockRepository satisfies it.
type Locker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
}

// fireLockTTL covers clock skew between worker processes firing the same tick.
const fireLockTTL = 10 * time.Minute

// CronScheduler turns Schedules into enqueued jobs. Every worker process
// runs one; with a Locker configured only the first process to claim a tick
// enqueues it.
type CronScheduler struct {
	enq      Enqueuer
	locker   Locker
	workerID string
	logger   *slog.Logger
	cron     *cron.Cron

	mu        sync.Mutex
	schedules []Schedule
}

// NewCronScheduler creates a CronScheduler. locker may be nil in
// single-process setups.
func NewCronScheduler(enq Enqueuer, locker Locker, workerID string, logger *slog.Logger) *CronScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}
	return &CronScheduler{
		enq:      enq,
		locker:   locker,
		workerID: workerID,
		logger:   logger,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
}

// ParseSchedule validates the expression and timezone of s.
func ParseSchedule(s Schedule) (cron.Schedule, error) {
	tz := s.Timezone
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidTZ,
			fmt.Sprintf("invalid timezone %q for queue %s", tz, s.Queue), err)
	}
	sched, err := cron.ParseStandard("CRON_TZ=" + tz + " " + s.CronExpression)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationCron,
			fmt.Sprintf("invalid cron expression %q for queue %s", s.CronExpression, s.Queue), err)
	}
	return sched, nil
}

// ScheduleRecurring registers s. It may be called before or after Run.
func (c *CronScheduler) ScheduleRecurring(s Schedule) error {
	sched, err := ParseSchedule(s)
	if err != nil {
		return err
	}
	c.cron.Schedule(sched, cron.FuncJob(func() {
		c.Fire(context.Background(), s, time.Now().UTC())
	}))

	c.mu.Lock()
	c.schedules = append(c.schedules, s)
	c.mu.Unlock()

	c.logger.Info("recurring schedule registered",
		"queue", s.Queue,
		"cron", s.CronExpression,
		"timezone", s.Timezone,
	)
	return nil
}

// Schedules returns a copy of the registered schedules.
func (c *CronScheduler) Schedules() []Schedule {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Schedule(nil), c.schedules...)
}

// Fire enqueues one tick of s at the given instant and returns the job ID,
// or "" when another process owns the tick or the enqueue failed.
func (c *CronScheduler) Fire(ctx context.Context, s Schedule, at time.Time) string {
	lockID := fmt.Sprintf("%s:%s", s.Queue, at.UTC().Truncate(time.Minute).Format("2006-01-02T15:04"))
	if c.locker != nil {
		acquired, err := c.locker.Acquire(ctx, lockID, c.workerID, fireLockTTL)
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to acquire schedule lock",
				"lock_id", lockID,
				"error", err,
			)
			return ""
		}
		if !acquired {
			c.logger.DebugContext(ctx, "schedule tick owned by another worker", "lock_id", lockID)
			return ""
		}
	}

	id := c.enq.Enqueue(ctx, s.Queue, nil, s.Options)
	if id != "" {
		c.logger.InfoContext(ctx, "scheduled job enqueued",
			"queue", s.Queue,
			"job_id", id,
			"lock_id", lockID,
		)
	}
	return id
}

// Run starts the cron loop and stops it when ctx is cancelled, waiting for
// running fires to finish.
func (c *CronScheduler) Run(ctx context.Context) error {
	c.cron.Start()
	<-ctx.Done()
	<-c.cron.Stop().Done()
	return nil
}

// ScheduleRecurring registers a cron-triggered enqueue on the service's
// scheduler.
func (s *Service) ScheduleRecurring(sch Schedule) error {
	return s.cron.ScheduleRecurring(sch)
}

// Schedules lists the recurring schedules registered on the service.
func (s *Service) Schedules() []Schedule {
	return s.cron.Schedules()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
