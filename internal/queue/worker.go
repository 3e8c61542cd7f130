package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tasseo/internal/types"
)

// storeTimeout bounds state updates made after the handler returned. They run
// detached from the worker context so a shutdown does not strand a finished
// job in the active state.
const storeTimeout = 10 * time.Second

// RegisterWorker binds handler to queue and returns the worker ID.
// Registering a queue twice replaces the earlier handler.
func (s *Service) RegisterWorker(queue types.QueueName, handler Handler, opts WorkerOptions) string {
	id := uuid.NewString()
	s.registry.add(queue, registration{
		workerID: id,
		handler:  handler,
		opts:     opts.withDefaults(),
	})
	return id
}

// Run starts one poll loop per registered queue plus the cron scheduler and
// blocks until ctx is cancelled or a loop fails.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("queue: service already running")
	}
	s.running = true
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, q := range s.registry.Queues() {
		reg, _ := s.registry.lookup(q)
		g.Go(func() error {
			return s.pollLoop(ctx, q, reg)
		})
	}
	g.Go(func() error {
		return s.cron.Run(ctx)
	})

	s.logger.InfoContext(ctx, "queue service started",
		"queues", len(s.registry.Queues()),
		"schedules", len(s.cron.Schedules()),
	)
	return g.Wait()
}

func (s *Service) pollLoop(ctx context.Context, queue types.QueueName, reg registration) error {
	ticker := time.NewTicker(reg.opts.PollingInterval)
	defer ticker.Stop()

	for {
		n, err := s.RunOnce(ctx, queue)
		if err != nil && ctx.Err() == nil {
			s.logger.WarnContext(ctx, "failed to claim jobs",
				"queue", queue,
				"error", err,
			)
		}
		// A full batch means more work is probably waiting.
		if n == reg.opts.BatchSize && ctx.Err() == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce claims one batch of due jobs from queue and processes them
// sequentially. It returns how many jobs were claimed.
func (s *Service) RunOnce(ctx context.Context, queue types.QueueName) (int, error) {
	reg, ok := s.registry.lookup(queue)
	if !ok {
		return 0, types.NewAppError(types.ErrCodeValidationQueue, fmt.Sprintf("no handler registered for queue %q", queue), nil)
	}

	jobs, err := s.store.Claim(ctx, queue, reg.opts.BatchSize, s.clock.Now())
	if err != nil {
		return 0, err
	}
	for i := range jobs {
		s.process(ctx, reg.handler, &jobs[i])
	}
	return len(jobs), nil
}

func (s *Service) process(ctx context.Context, handler Handler, job *types.Job) Outcome {
	logger := s.logger.With(
		"queue", job.Queue,
		"job_id", job.ID,
		"attempt", job.Attempt(),
	)
	started := time.Now()

	expireAfter := job.ExpireAfter
	if expireAfter <= 0 {
		expireAfter = types.DefaultJobTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, expireAfter)
	err := invoke(runCtx, handler, job)
	expired := errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancel()

	storeCtx, storeCancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer storeCancel()
	now := s.clock.Now()

	var outcome Outcome
	var storeErr error
	switch {
	case err == nil:
		outcome = OutcomeCompleted
		storeErr = s.store.Complete(storeCtx, job.ID, nil, now)

	case expired:
		outcome = OutcomeExpired
		out := &types.JobOutput{Error: fmt.Sprintf("job exceeded its %s expiry window: %v", expireAfter, err)}
		logger.ErrorContext(ctx, "job expired", "error", err, "expire_after", expireAfter.String())
		storeErr = s.store.Expire(storeCtx, job.ID, out, now)
		s.alert(storeCtx, job, types.JobStateExpired, out.Error, now)

	case types.Classify(err) == types.ErrorKindFatal:
		outcome = OutcomeFatal
		logger.ErrorContext(ctx, "job failed with a non-retryable error", "error", err)
		storeErr = s.store.Complete(storeCtx, job.ID, &types.JobOutput{Error: err.Error(), Fatal: true}, now)

	case job.RetryCount+1 < job.RetryLimit:
		outcome = OutcomeRetried
		delay := Backoff(job.RetryDelay, job.RetryCount)
		logger.WarnContext(ctx, "job failed, scheduling retry",
			"error", err,
			"retry_in", delay.String(),
			"retry_limit", job.RetryLimit,
		)
		storeErr = s.store.Retry(storeCtx, job.ID, now.Add(delay), &types.JobOutput{Error: err.Error()})

	default:
		outcome = OutcomeFailed
		logger.ErrorContext(ctx, "job failed after exhausting retries",
			"error", err,
			"retry_limit", job.RetryLimit,
		)
		storeErr = s.store.Fail(storeCtx, job.ID, &types.JobOutput{Error: err.Error()}, now)
		s.alert(storeCtx, job, types.JobStateFailed, err.Error(), now)
	}

	if storeErr != nil {
		// The reaper fails the row once it goes stale.
		logger.ErrorContext(ctx, "failed to record job outcome",
			"outcome", string(outcome),
			"error", storeErr,
		)
	}
	if s.metrics != nil {
		s.metrics.JobFinished(storeCtx, job.Queue, outcome, time.Since(started))
	}
	return outcome
}

// invoke runs handler and turns a panic into an error.
func invoke(ctx context.Context, handler Handler, job *types.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (s *Service) alert(ctx context.Context, job *types.Job, state types.JobState, msg string, at time.Time) {
	if s.alerts == nil {
		return
	}
	a := JobAlert{
		JobID:      job.ID,
		Queue:      job.Queue,
		State:      state,
		Attempts:   job.Attempt(),
		Error:      msg,
		OccurredAt: at,
	}
	if err := s.alerts.Publish(ctx, a); err != nil {
		s.logger.WarnContext(ctx, "failed to publish job alert",
			"job_id", job.ID,
			"error", err,
		)
	}
}
