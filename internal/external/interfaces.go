package external

import (
	"context"
	"time"

	"tasseo/internal/types"
)

const creditsTimeout = 10 * time.Second

// Messenger delivers a text message to a chat. *TelegramClient and
// *StubMessenger satisfy it.
type Messenger interface {
	SendMessage(ctx context.Context, chatID string, text string, opts types.SendOptions) (*types.SentMessage, error)
}
