package engagement

import (
	"context"
	"fmt"
	"log/slog"

	"tasseo/internal/queue"
	"tasseo/internal/types"
)

// InsightSender delivers the single-user insight jobs fanned out by the
// hourly dispatcher.
type InsightSender struct {
	composer *Composer
	sender   MessageSender
	ledger   Ledger
	day      LedgerDay
	clock    types.Clock
	logger   *slog.Logger
}

// NewInsightSender creates an InsightSender.
func NewInsightSender(composer *Composer, sender MessageSender, ledger Ledger, day LedgerDay, clock types.Clock, logger *slog.Logger) *InsightSender {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InsightSender{
		composer: composer,
		sender:   sender,
		ledger:   ledger,
		day:      day,
		clock:    clock,
		logger:   logger,
	}
}

// Handle sends one insight. A bad payload is fatal; a send error is returned
// as is so the queue can classify and retry it.
func (s *InsightSender) Handle(ctx context.Context, kind types.InsightKind, job *types.Job) error {
	var p types.InsightJobPayload
	if err := queue.DecodePayload(job, &p); err != nil {
		return err
	}
	mt := kind.MessageType()

	from, to := s.day.Bounds(s.clock.Now())
	sent, err := s.ledger.Exists(ctx, p.UserID, mt, from, to)
	if err != nil {
		return fmt.Errorf("checking %s ledger: %w", mt, err)
	}
	if sent {
		s.logger.InfoContext(ctx, "insight already delivered today",
			"job_id", job.ID,
			"message_type", mt,
			"recipient_id", p.UserID,
		)
		return nil
	}

	text, err := s.composer.CreateInsightMessage(ctx, kind, p.DisplayName, p.LanguageCode)
	if err != nil {
		return err
	}
	if _, err := s.sender.SendMessage(ctx, p.ExternalID, text, types.SendOptions{}); err != nil {
		return err
	}
	recordDelivery(ctx, s.ledger, s.logger, p.UserID, mt, s.clock.Now())
	return nil
}

// Handler adapts Handle to the single queue of kind.
func (s *InsightSender) Handler(kind types.InsightKind) queue.Handler {
	return func(ctx context.Context, job *types.Job) error {
		return s.Handle(ctx, kind, job)
	}
}
