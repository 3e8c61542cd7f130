package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"tasseo/internal/core"
	"tasseo/internal/types"
)

// SecretTokenHeader carries the secret registered with setWebhook.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// WebhookPath is mounted under /v1 and must be public: Telegram cannot
// send bearer tokens.
const WebhookPath = "/telegram/webhook"

// UserLookup is satisfied by db.UserRepository.
type UserLookup interface {
	FindByExternalID(ctx context.Context, externalID string) (*types.Recipient, error)
}

// Replier is satisfied by external.TelegramClient.
type Replier interface {
	SendMessage(ctx context.Context, chatID string, text string, opts types.SendOptions) (*types.SentMessage, error)
}

// Update is the subset of a Telegram update the bot reacts to.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message is an incoming Telegram message.
type Message struct {
	MessageID int64       `json:"message_id"`
	From      *User       `json:"from,omitempty"`
	Chat      Chat        `json:"chat"`
	Text      string      `json:"text,omitempty"`
	Caption   string      `json:"caption,omitempty"`
	Photo     []PhotoSize `json:"photo,omitempty"`
}

// User is a Telegram account.
type User struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LanguageCode string `json:"language_code,omitempty"`
}

// Chat is the conversation a message belongs to.
type Chat struct {
	ID int64 `json:"id"`
}

// PhotoSize is one resolution of a sent photo. Telegram lists them from
// smallest to largest.
type PhotoSize struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int64  `json:"file_size,omitempty"`
}

// TelegramWebhookHandler turns bot messages into reading jobs.
type TelegramWebhookHandler struct {
	intake *Intake
	users  UserLookup
	reply  Replier
	secret string
	logger *slog.Logger
}

// NewTelegramWebhookHandler creates the handler. An empty secret disables
// the header check, which is only acceptable in local development.
func NewTelegramWebhookHandler(intake *Intake, users UserLookup, reply Replier, secret types.SecretString, logger *slog.Logger) *TelegramWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramWebhookHandler{
		intake: intake,
		users:  users,
		reply:  reply,
		secret: secret.Unmask(),
		logger: logger,
	}
}

// RegisterRoutes mounts the webhook.
func (h *TelegramWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post(WebhookPath, h.Handle)
}

// Handle accepts one update. Anything that is not the caller's fault is
// answered with 200, because Telegram redelivers on any other status and a
// redelivered photo would be charged twice.
func (h *TelegramWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" {
		got := r.Header.Get(SecretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			core.Error(w, r, types.NewAppError(types.ErrCodeAuthSecretInvalid, "invalid webhook secret", nil))
			return
		}
	}

	var upd Update
	if err := core.DecodeJSONLenient(w, r, &upd); err != nil {
		core.Error(w, r, err)
		return
	}

	ctx := r.Context()
	msg := upd.Message
	if msg == nil || msg.From == nil || (msg.Text == "" && len(msg.Photo) == 0) {
		core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]string{"status": "ignored"}})
		return
	}

	user, err := h.users.FindByExternalID(ctx, strconv.FormatInt(msg.From.ID, 10))
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundUser {
			h.logger.InfoContext(ctx, "message from unknown telegram user",
				"update_id", upd.UpdateID,
			)
			h.notify(ctx, msg.Chat.ID, msg.From.LanguageCode, noticeNotRegistered)
			core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]string{"status": "unknown_user"}})
			return
		}
		core.Error(w, r, err)
		return
	}

	lang := user.LanguageCode
	if lang == "" {
		lang = msg.From.LanguageCode
	}

	var result IntakeResult
	if len(msg.Photo) > 0 {
		result, err = h.intake.SubmitPhoto(ctx, types.PhotoJobPayload{
			UserID:       user.RecipientID,
			ChatID:       msg.Chat.ID,
			FileID:       largestPhoto(msg.Photo).FileID,
			Channel:      types.ChannelTelegram,
			Caption:      truncate(msg.Caption, 1024),
			LanguageCode: lang,
		})
	} else {
		result, err = h.intake.SubmitChat(ctx, types.ChatJobPayload{
			UserID:       user.RecipientID,
			ChatID:       msg.Chat.ID,
			Text:         truncate(msg.Text, 4096),
			Channel:      types.ChannelTelegram,
			LanguageCode: lang,
		})
	}

	var appErr *types.AppError
	switch {
	case errors.As(err, &appErr) && appErr.Code == types.ErrCodeInsufficientCredits:
		h.notify(ctx, msg.Chat.ID, lang, noticeTopUp)
		core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]string{"status": "insufficient_credits"}})
		return
	case err != nil:
		core.Error(w, r, err)
		return
	}

	if !result.Queued {
		h.notify(ctx, msg.Chat.ID, lang, noticeTryLater)
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: result})
}

// notify sends a short service message. Failures are logged only: the
// update itself has been handled.
func (h *TelegramWebhookHandler) notify(ctx context.Context, chatID int64, lang string, n notice) {
	if h.reply == nil {
		return
	}
	if _, err := h.reply.SendMessage(ctx, strconv.FormatInt(chatID, 10), n.text(lang), types.SendOptions{}); err != nil {
		h.logger.WarnContext(ctx, "failed to send service message",
			"chat_id", chatID,
			"error", err,
		)
	}
}

func largestPhoto(sizes []PhotoSize) PhotoSize {
	best := sizes[len(sizes)-1]
	for _, s := range sizes {
		if s.Width*s.Height > best.Width*best.Height {
			best = s
		}
	}
	return best
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

type notice struct {
	ru, en string
}

func (n notice) text(lang string) string {
	if strings.HasPrefix(strings.ToLower(lang), "en") {
		return n.en
	}
	return n.ru
}

var (
	noticeTopUp = notice{
		ru: "На вашем балансе закончились кредиты. Пополните его в приложении, чтобы получить новое гадание.",
		en: "You are out of credits. Top up in the app to get a new reading.",
	}
	noticeNotRegistered = notice{
		ru: "Откройте приложение, чтобы завершить регистрацию, и пришлите фото чашки ещё раз.",
		en: "Open the app to finish signing up, then send your cup photo again.",
	}
	noticeTryLater = notice{
		ru: "Не получилось принять запрос. Попробуйте ещё раз через пару минут.",
		en: "We could not accept your request. Please try again in a couple of minutes.",
	}
)
