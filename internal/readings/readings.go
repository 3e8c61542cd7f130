// Package readings runs the paid, user-initiated jobs: a coffee cup photo
// analysed with the vision model, and a free-text chat reply. Handler
// errors propagate unchanged so the queue decides between retry and failure.
package readings

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"tasseo/internal/external"
	"tasseo/internal/queue"
	"tasseo/internal/types"
)

// ReadingCost is the credit price of one reading.
const ReadingCost = 1

// Telegram rejects messages longer than this many characters.
const maxReplyRunes = 4096

// LLM answers a conversation. external.BedrockClient satisfies it.
type LLM interface {
	Invoke(ctx context.Context, messages []types.LLMMessage) (*types.LLMCompletion, error)
}

// FileSource fetches photos sent to the bot.
type FileSource interface {
	GetFile(ctx context.Context, fileID string) (*external.TelegramFile, error)
	DownloadFile(ctx context.Context, filePath string) ([]byte, error)
}

// MessageSender delivers the reply.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID string, text string, opts types.SendOptions) (*types.SentMessage, error)
}

// Archive keeps photos and reading records. external.PhotoArchive
// satisfies it.
type Archive interface {
	PutPhoto(ctx context.Context, userID, jobID string, data []byte, contentType string) (string, error)
	PutReading(ctx context.Context, rec external.ReadingRecord) (string, error)
}

// Biller charges completed readings. external.CreditsClient satisfies it.
type Biller interface {
	Debit(ctx context.Context, userID string, cost int, reference string) error
}

// Config holds the dependencies of a Service. Archive and Biller are
// optional.
type Config struct {
	LLM     LLM
	Files   FileSource
	Sender  MessageSender
	Archive Archive
	Biller  Biller
	Clock   types.Clock
	Logger  *slog.Logger
}

// Service owns the photo-analysis and chat-reply handlers.
type Service struct {
	llm     LLM
	files   FileSource
	sender  MessageSender
	archive Archive
	biller  Biller
	clock   types.Clock
	logger  *slog.Logger
}

// NewService creates a Service.
func NewService(cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		llm:     cfg.LLM,
		files:   cfg.Files,
		sender:  cfg.Sender,
		archive: cfg.Archive,
		biller:  cfg.Biller,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
	}
}

// PhotoHandler is the photo-analysis queue handler.
func (s *Service) PhotoHandler() queue.Handler {
	return s.HandlePhoto
}

// ChatHandler is the chat-reply queue handler.
func (s *Service) ChatHandler() queue.Handler {
	return s.HandleChat
}

// HandlePhoto downloads the cup photo, archives it, asks the vision model for
// a reading and sends it to the user.
func (s *Service) HandlePhoto(ctx context.Context, job *types.Job) error {
	var p types.PhotoJobPayload
	if err := queue.DecodePayload(job, &p); err != nil {
		return err
	}

	file, err := s.files.GetFile(ctx, p.FileID)
	if err != nil {
		return err
	}
	photo, err := s.files.DownloadFile(ctx, file.FilePath)
	if err != nil {
		return err
	}
	mediaType := http.DetectContentType(photo)
	if !strings.HasPrefix(mediaType, "image/") {
		return types.Fatal(types.NewAppError(types.ErrCodeValidationPayload, "attachment is not an image: "+mediaType, nil))
	}

	var photoKey string
	if s.archive != nil {
		if photoKey, err = s.archive.PutPhoto(ctx, p.UserID, job.ID, photo, mediaType); err != nil {
			return err
		}
	}

	prompt := photoPrompt(p.Caption, p.LanguageCode)
	completion, err := s.llm.Invoke(ctx, []types.LLMMessage{{
		Role:           types.RoleUser,
		Content:        prompt,
		ImageBase64:    base64.StdEncoding.EncodeToString(photo),
		ImageMediaType: mediaType,
	}})
	if err != nil {
		return err
	}

	return s.deliver(ctx, job, p.UserID, p.ChatID, "photo", photoKey, prompt, completion)
}

// HandleChat answers a free-text question in the reader's voice.
func (s *Service) HandleChat(ctx context.Context, job *types.Job) error {
	var p types.ChatJobPayload
	if err := queue.DecodePayload(job, &p); err != nil {
		return err
	}

	prompt := chatPrompt(p.Text, p.LanguageCode)
	completion, err := s.llm.Invoke(ctx, []types.LLMMessage{{Role: types.RoleUser, Content: prompt}})
	if err != nil {
		return err
	}
	return s.deliver(ctx, job, p.UserID, p.ChatID, "chat", "", prompt, completion)
}

// deliver sends the reply. Once it is out, archiving and billing are best
// effort: failing the job now would send the reading twice.
func (s *Service) deliver(ctx context.Context, job *types.Job, userID string, chatID int64, kind, photoKey, prompt string, completion *types.LLMCompletion) error {
	reply := strings.TrimSpace(completion.Content)
	if reply == "" {
		return types.NewAppError(types.ErrCodeUpstreamLLM, "model returned an empty reading", nil)
	}
	reply = truncateRunes(reply, maxReplyRunes)

	if _, err := s.sender.SendMessage(ctx, strconv.FormatInt(chatID, 10), reply, types.SendOptions{}); err != nil {
		return err
	}

	if s.archive != nil {
		_, err := s.archive.PutReading(ctx, external.ReadingRecord{
			JobID:     job.ID,
			UserID:    userID,
			Kind:      kind,
			PhotoKey:  photoKey,
			Prompt:    prompt,
			Reply:     reply,
			Usage:     completion.Usage,
			CreatedAt: s.clock.Now(),
		})
		if err != nil {
			s.logger.WarnContext(ctx, "failed to archive reading", "job_id", job.ID, "error", err)
		}
	}
	if s.biller != nil {
		if err := s.biller.Debit(ctx, userID, ReadingCost, job.ID); err != nil {
			s.logger.ErrorContext(ctx, "failed to debit reading", "job_id", job.ID, "user_id", userID, "error", err)
		}
	}

	s.logger.InfoContext(ctx, "reading delivered",
		"job_id", job.ID,
		"kind", kind,
		"user_id", userID,
		"input_tokens", completion.Usage.InputTokens,
		"output_tokens", completion.Usage.OutputTokens,
	)
	return nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
