package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tasseo/internal/types"
)

const (
	telegramAPIBase = "https://api.telegram.org"

	// Bot API limit for getFile downloads.
	maxTelegramFileBytes = 20 << 20
)

// TelegramClientConfig holds the configuration for creating a TelegramClient.
type TelegramClientConfig struct {
	Token   string
	BaseURL string // defaults to telegramAPIBase
	Logger  *slog.Logger
}

// TelegramClient calls the Telegram Bot API. It satisfies
// engagement.MessageSender and the file access needed by readings.
type TelegramClient struct {
	base    *BaseClient
	token   string
	baseURL string
	logger  *slog.Logger
}

// NewTelegramClient creates a TelegramClient.
func NewTelegramClient(httpClient *http.Client, cfg TelegramClientConfig) *TelegramClient {
	return NewTelegramClientWithBase(
		NewBaseClient(httpClient, "telegram", DefaultRetryPolicy(), "tasseo/1.0"),
		cfg,
	)
}

// NewTelegramClientWithBase creates a TelegramClient on a pre-configured
// BaseClient.
func NewTelegramClientWithBase(base *BaseClient, cfg TelegramClientConfig) *TelegramClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = telegramAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramClient{
		base:    base,
		token:   cfg.Token,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// telegramResponse is the envelope of every Bot API answer.
type telegramResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters,omitempty"`
}

type telegramSendMessage struct {
	ChatID              string `json:"chat_id"`
	Text                string `json:"text"`
	ParseMode           string `json:"parse_mode,omitempty"`
	DisableNotification bool   `json:"disable_notification,omitempty"`
}

type telegramMessage struct {
	MessageID int64 `json:"message_id"`
	Date      int64 `json:"date"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
}

// TelegramFile is the result of getFile.
type TelegramFile struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size"`
	FilePath string `json:"file_path"`
}

// SendMessage sends text to chatID. A rejected send (blocked bot, unknown
// chat) comes back as *types.ChannelError with the API's error code.
func (c *TelegramClient) SendMessage(ctx context.Context, chatID string, text string, opts types.SendOptions) (*types.SentMessage, error) {
	var msg telegramMessage
	err := c.call(ctx, "sendMessage", telegramSendMessage{
		ChatID:              chatID,
		Text:                text,
		ParseMode:           opts.ParseMode,
		DisableNotification: opts.DisableNotification,
	}, &msg)
	if err != nil {
		return nil, err
	}
	return &types.SentMessage{
		MessageID: msg.MessageID,
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		Date:      time.Unix(msg.Date, 0).UTC(),
	}, nil
}

// GetFile resolves a file_id to a downloadable path.
func (c *TelegramClient) GetFile(ctx context.Context, fileID string) (*TelegramFile, error) {
	var f TelegramFile
	if err := c.call(ctx, "getFile", map[string]string{"file_id": fileID}, &f); err != nil {
		return nil, err
	}
	if f.FilePath == "" {
		return nil, &types.ChannelError{Channel: "telegram", StatusCode: http.StatusNotFound, Description: "file has no download path"}
	}
	return &f, nil
}

// DownloadFile fetches the bytes behind a getFile path.
func (c *TelegramClient) DownloadFile(ctx context.Context, filePath string) ([]byte, error) {
	reqURL := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, strings.TrimPrefix(filePath, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create telegram download request", c.redact(err))
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, c.redact(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &types.ChannelError{Channel: "telegram", StatusCode: resp.StatusCode, Description: "file download failed"}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTelegramFileBytes+1))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeChannelUnavailable, "failed to read telegram file", c.redact(err))
	}
	if len(data) > maxTelegramFileBytes {
		return nil, types.NewAppError(types.ErrCodeValidationPayload, "telegram file exceeds 20 MB", nil)
	}
	return data, nil
}

// call POSTs params to a Bot API method and decodes result into out.
func (c *TelegramClient) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal telegram request", err)
	}

	reqURL := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create telegram request", c.redact(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return c.redact(err)
	}
	defer resp.Body.Close()

	var envelope telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return &types.ChannelError{
			Channel:     "telegram",
			StatusCode:  resp.StatusCode,
			Description: fmt.Sprintf("%s: undecodable response", method),
		}
	}
	if !envelope.OK {
		chErr := &types.ChannelError{
			Channel:     "telegram",
			StatusCode:  envelope.ErrorCode,
			Description: envelope.Description,
		}
		if chErr.StatusCode == 0 {
			chErr.StatusCode = resp.StatusCode
		}
		if envelope.Parameters != nil {
			chErr.RetryAfter = envelope.Parameters.RetryAfter
		}
		c.logger.WarnContext(ctx, "telegram api rejected request",
			"method", method,
			"status", chErr.StatusCode,
			"description", chErr.Description,
		)
		return chErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return types.NewAppError(types.ErrCodeChannelUnavailable, fmt.Sprintf("%s: malformed result", method), err)
	}
	return nil
}

// redact removes the bot token from transport errors, which embed the URL.
func (c *TelegramClient) redact(err error) error {
	if err == nil || c.token == "" {
		return err
	}
	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Err != nil {
		scrubbed := *appErr
		scrubbed.Err = errors.New(strings.ReplaceAll(appErr.Err.Error(), c.token, "<token>"))
		return &scrubbed
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return errors.New(strings.ReplaceAll(err.Error(), c.token, "<token>"))
	}
	return err
}
