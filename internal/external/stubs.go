package external

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"tasseo/internal/types"
)

// StubMessenger logs messages instead of sending them, so a local stack can
// run the engagement jobs without a real bot.
type StubMessenger struct {
	logger *slog.Logger
	nextID atomic.Int64
}

// NewStubMessenger creates a StubMessenger.
func NewStubMessenger(logger *slog.Logger) *StubMessenger {
	return &StubMessenger{logger: logger}
}

// SendMessage implements Messenger.
func (s *StubMessenger) SendMessage(ctx context.Context, chatID string, text string, opts types.SendOptions) (*types.SentMessage, error) {
	id := s.nextID.Add(1)
	s.logger.InfoContext(ctx, "stub: SendMessage called",
		"chat_id", chatID,
		"parse_mode", opts.ParseMode,
		"chars", len([]rune(text)),
	)
	return &types.SentMessage{MessageID: id, ChatID: chatID, Date: time.Now().UTC()}, nil
}
