// Package handlers contains the HTTP handlers of the intake API: the
// Telegram webhook and the reading endpoints used by the WebApp and the web
// client. Both paths share Intake, which applies the credit gate and puts
// the job on the queue.
package handlers

import (
	"context"
	"log/slog"
	"time"

	"tasseo/internal/readings"
	"tasseo/internal/settings"
	"tasseo/internal/types"
)

// Enqueuer is queue.Enqueuer. It returns "" when the job could not be
// stored.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue types.QueueName, payload any, opts types.JobOptions) string
}

// CreditChecker is satisfied by external.CreditsClient.
type CreditChecker interface {
	HasSufficientCredits(ctx context.Context, userID string, cost int) (bool, error)
}

// FlagReader is satisfied by settings.Cache.
type FlagReader interface {
	Bool(ctx context.Context, key string, def bool) bool
}

// readingJobOptions puts paid readings ahead of engagement traffic and
// gives up after five minutes: a late answer is worse than none.
var readingJobOptions = types.JobOptions{
	RetryLimit:  3,
	RetryDelay:  10 * time.Second,
	ExpireAfter: 5 * time.Minute,
	Priority:    10,
}

// IntakeResult is the outcome of one submission.
type IntakeResult struct {
	JobID  string `json:"job_id,omitempty"`
	Queued bool   `json:"queued"`
}

// Intake gates paid requests on the user's balance and enqueues them.
type Intake struct {
	queue   Enqueuer
	credits CreditChecker
	flags   FlagReader
	logger  *slog.Logger
}

// NewIntake creates an Intake. credits and flags may be nil, which disables
// the credit gate.
func NewIntake(queue Enqueuer, credits CreditChecker, flags FlagReader, logger *slog.Logger) *Intake {
	if logger == nil {
		logger = slog.Default()
	}
	return &Intake{queue: queue, credits: credits, flags: flags, logger: logger}
}

// SubmitPhoto enqueues a photo-analysis job.
func (in *Intake) SubmitPhoto(ctx context.Context, p types.PhotoJobPayload) (IntakeResult, error) {
	return in.submit(ctx, p.UserID, types.QueuePhotoAnalysis, p)
}

// SubmitChat enqueues a chat-reply job.
func (in *Intake) SubmitChat(ctx context.Context, p types.ChatJobPayload) (IntakeResult, error) {
	return in.submit(ctx, p.UserID, types.QueueChatReply, p)
}

// submit returns credits_insufficient when the balance does not cover a
// reading. A failing credits service does not block the request; the debit
// after delivery is the authoritative check.
func (in *Intake) submit(ctx context.Context, userID string, queue types.QueueName, payload any) (IntakeResult, error) {
	if in.creditGateOn(ctx) {
		ok, err := in.credits.HasSufficientCredits(ctx, userID, readings.ReadingCost)
		switch {
		case err != nil:
			in.logger.WarnContext(ctx, "credit check failed, accepting request",
				"user_id", userID,
				"queue", queue,
				"error", err,
			)
		case !ok:
			return IntakeResult{}, types.NewAppError(types.ErrCodeInsufficientCredits, "not enough credits for a reading", nil).
				WithDetails(map[string]any{"cost": readings.ReadingCost})
		}
	}

	jobID := in.queue.Enqueue(ctx, queue, payload, readingJobOptions)
	if jobID == "" {
		in.logger.ErrorContext(ctx, "reading not queued",
			"user_id", userID,
			"queue", queue,
		)
	}
	return IntakeResult{JobID: jobID, Queued: jobID != ""}, nil
}

func (in *Intake) creditGateOn(ctx context.Context) bool {
	if in.credits == nil {
		return false
	}
	if in.flags == nil {
		return true
	}
	return in.flags.Bool(ctx, settings.KeyCreditCheckEnabled, true)
}
