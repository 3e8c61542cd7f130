package engagement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tasseo/internal/queue"
	"tasseo/internal/types"
)

// MessageSender delivers a text message to a chat. external.TelegramClient
// satisfies it.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID string, text string, opts types.SendOptions) (*types.SentMessage, error)
}

// BatchResult counts one batch run.
type BatchResult struct {
	MessageType types.MessageType
	Total       int
	Success     int
	Failed      int
}

// BatchRecorder receives the result of every batch run.
type BatchRecorder interface {
	BatchFinished(ctx context.Context, result BatchResult, elapsed time.Duration)
}

// BatchSenderConfig holds the dependencies of a BatchSender. Metrics is
// optional; Pacer defaults to a SleepPacer with DefaultSendInterval.
type BatchSenderConfig struct {
	Finder   *Finder
	Composer *Composer
	Sender   MessageSender
	Ledger   Ledger
	Pacer    Pacer
	Metrics  BatchRecorder
	Clock    types.Clock
	Logger   *slog.Logger
}

// BatchSender runs one engagement trigger end to end: find the recipients,
// compose and send each message, record each delivery in the ledger.
type BatchSender struct {
	finder   *Finder
	composer *Composer
	sender   MessageSender
	ledger   Ledger
	pacer    Pacer
	metrics  BatchRecorder
	clock    types.Clock
	logger   *slog.Logger
}

// NewBatchSender creates a BatchSender.
func NewBatchSender(cfg BatchSenderConfig) *BatchSender {
	if cfg.Pacer == nil {
		cfg.Pacer = NewSleepPacer(DefaultSendInterval)
	}
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &BatchSender{
		finder:   cfg.Finder,
		composer: cfg.Composer,
		sender:   cfg.Sender,
		ledger:   cfg.Ledger,
		pacer:    cfg.Pacer,
		metrics:  cfg.Metrics,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
	}
}

// Run sends mt to every eligible recipient. Per-recipient failures are
// counted and skipped. A failed recipient query is returned as is; a batch
// cut short by its pacer or context returns an error so the queue retries
// it, and the ledger keeps the retry away from recipients already served.
func (b *BatchSender) Run(ctx context.Context, mt types.MessageType) (BatchResult, error) {
	start := b.clock.Now()
	result := BatchResult{MessageType: mt}

	recipients, err := b.finder.Find(ctx, mt)
	if err != nil {
		return result, err
	}
	result.Total = len(recipients)

	var stopErr error
	for i, r := range recipients {
		if i > 0 {
			if err := b.pacer.Wait(ctx); err != nil {
				stopErr = fmt.Errorf("%s batch stopped with %d of %d recipients left: %w",
					mt, len(recipients)-i, len(recipients), err)
				break
			}
		}
		if err := b.deliver(ctx, mt, r); err != nil {
			result.Failed++
			b.logger.ErrorContext(ctx, "engagement send failed",
				"message_type", mt,
				"recipient_id", r.RecipientID,
				"error", err,
			)
			continue
		}
		result.Success++
	}
	if stopErr == nil && ctx.Err() != nil {
		stopErr = fmt.Errorf("%s batch stopped: %w", mt, ctx.Err())
	}

	if stopErr != nil {
		b.logger.WarnContext(ctx, "engagement batch interrupted",
			"message_type", mt,
			"total", result.Total,
			"success", result.Success,
			"failed", result.Failed,
			"error", stopErr,
		)
	} else {
		b.logger.InfoContext(ctx, "engagement batch complete",
			"message_type", mt,
			"total", result.Total,
			"success", result.Success,
			"failed", result.Failed,
		)
	}
	if b.metrics != nil {
		b.metrics.BatchFinished(ctx, result, b.clock.Now().Sub(start))
	}
	if stopErr != nil {
		return result, types.Transient(stopErr)
	}
	return result, nil
}

// Handler adapts Run to the queue of mt.
func (b *BatchSender) Handler(mt types.MessageType) queue.Handler {
	return func(ctx context.Context, _ *types.Job) error {
		_, err := b.Run(ctx, mt)
		return err
	}
}

func (b *BatchSender) deliver(ctx context.Context, mt types.MessageType, r types.Recipient) error {
	text, err := b.composer.Compose(ctx, mt, r)
	if err != nil {
		return err
	}
	if _, err := b.sender.SendMessage(ctx, r.ExternalID, text, types.SendOptions{}); err != nil {
		return err
	}
	recordDelivery(ctx, b.ledger, b.logger, r.RecipientID, mt, b.clock.Now())
	return nil
}

// recordDelivery appends to the ledger. The message is already out, so a
// failed write is only logged.
func recordDelivery(ctx context.Context, ledger Ledger, logger *slog.Logger, recipientID string, mt types.MessageType, at time.Time) {
	err := ledger.Append(ctx, types.EngagementLogEntry{
		RecipientID: recipientID,
		MessageType: mt,
		SentAt:      at,
	})
	if err != nil {
		logger.WarnContext(ctx, "failed to record engagement delivery",
			"message_type", mt,
			"recipient_id", recipientID,
			"error", err,
		)
	}
}
