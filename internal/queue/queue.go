// Package queue is the PostgreSQL-backed job queue: producers enqueue jobs,
// registered workers claim and run them, and the handler's error decides
// between completion, retry with backoff, failure and expiry.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tasseo/internal/types"
)

// JobStore is the subset of db.JobRepository the queue needs.
type JobStore interface {
	Insert(ctx context.Context, job *types.Job) error
	Claim(ctx context.Context, queue types.QueueName, limit int, now time.Time) ([]types.Job, error)
	Complete(ctx context.Context, id string, output *types.JobOutput, now time.Time) error
	Fail(ctx context.Context, id string, output *types.JobOutput, now time.Time) error
	Expire(ctx context.Context, id string, output *types.JobOutput, now time.Time) error
	Retry(ctx context.Context, id string, runAt time.Time, output *types.JobOutput) error
}

// Enqueuer is what producers depend on. *Service satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue types.QueueName, payload any, opts types.JobOptions) string
}

// Recorder receives one call per finished job attempt.
type Recorder interface {
	JobFinished(ctx context.Context, queue types.QueueName, outcome Outcome, elapsed time.Duration)
}

// Outcome is what happened to a job after one handler invocation.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFatal     Outcome = "fatal"
	OutcomeRetried   Outcome = "retried"
	OutcomeFailed    Outcome = "failed"
	OutcomeExpired   Outcome = "expired"
)

// ServiceConfig holds the dependencies of a Service. Alerts, Metrics and
// Locker are optional.
type ServiceConfig struct {
	Store    JobStore
	Alerts   AlertSink
	Metrics  Recorder
	Locker   Locker
	WorkerID string
	Clock    types.Clock
	Logger   *slog.Logger
}

// Service is the queue facade owned by the composition root of each binary.
type Service struct {
	store    JobStore
	alerts   AlertSink
	metrics  Recorder
	clock    types.Clock
	logger   *slog.Logger
	registry *Registry
	cron     *CronScheduler

	mu      sync.Mutex
	running bool
}

// NewService creates a Service. The caller must have verified the store is
// reachable (db.NewPool pings before returning).
func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = uuid.NewString()
	}
	s := &Service{
		store:    cfg.Store,
		alerts:   cfg.Alerts,
		metrics:  cfg.Metrics,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		registry: NewRegistry(),
	}
	s.cron = NewCronScheduler(s, cfg.Locker, cfg.WorkerID, cfg.Logger)
	return s
}

// Registry exposes the handler registry, mainly for startup validation.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Enqueue stores a new job and returns its ID. It returns "" when the payload
// cannot be encoded or the store rejects the insert; the failure is logged
// and never propagated, so request paths keep working when the queue is down.
func (s *Service) Enqueue(ctx context.Context, queue types.QueueName, payload any, opts types.JobOptions) string {
	body, err := encodePayload(payload)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to encode job payload",
			"queue", queue,
			"error", err,
		)
		return ""
	}

	opts = opts.WithDefaults()
	now := s.clock.Now()
	job := &types.Job{
		ID:          uuid.NewString(),
		Queue:       queue,
		Payload:     body,
		State:       types.JobStateCreated,
		Priority:    opts.Priority,
		RetryLimit:  opts.RetryLimit,
		RetryDelay:  opts.RetryDelay,
		ExpireAfter: opts.ExpireAfter,
		StartAfter:  now.Add(opts.StartAfter),
		CreatedAt:   now,
	}

	if err := s.store.Insert(ctx, job); err != nil {
		s.logger.ErrorContext(ctx, "failed to enqueue job",
			"queue", queue,
			"error", err,
		)
		return ""
	}

	s.logger.DebugContext(ctx, "job enqueued",
		"queue", queue,
		"job_id", job.ID,
		"start_after", job.StartAfter.Format(time.RFC3339),
	)
	return job.ID
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage(`{}`), nil
		}
		if !json.Valid(p) {
			return nil, types.NewAppError(types.ErrCodeValidationPayload, "payload is not valid JSON", nil)
		}
		return p, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return b, nil
}
