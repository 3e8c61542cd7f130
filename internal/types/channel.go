package types

import "time"

// ParseMode values accepted by the channel send API.
const (
	ParseModeNone     = ""
	ParseModeHTML     = "HTML"
	ParseModeMarkdown = "MarkdownV2"
)

// SendOptions tune one outbound message.
type SendOptions struct {
	ParseMode           string
	DisableNotification bool
}

// SentMessage is the channel's acknowledgement of a delivered message.
type SentMessage struct {
	MessageID int64
	ChatID    string
	Date      time.Time
}

// LLMMessage is one turn of a model conversation. Image fields are set only
// for vision requests.
type LLMMessage struct {
	Role           string
	Content        string
	ImageBase64    string
	ImageMediaType string
}

// LLM roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// LLMUsage reports token consumption of one invocation.
type LLMUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// LLMCompletion is the result of one model invocation.
type LLMCompletion struct {
	Content string
	Usage   LLMUsage
}
