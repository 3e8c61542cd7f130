package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"tasseo/internal/types"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// BedrockAPI is the subset of *bedrockruntime.Client used here.
type BedrockAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockConfig selects the model and sampling parameters.
type BedrockConfig struct {
	ModelID     string
	MaxTokens   int
	Temperature float64
	System      string
}

// BedrockClient invokes Anthropic models on Bedrock. It satisfies
// engagement.LLM.
type BedrockClient struct {
	api    BedrockAPI
	cfg    BedrockConfig
	logger *slog.Logger
}

// NewBedrockClient creates a BedrockClient.
func NewBedrockClient(api BedrockAPI, cfg BedrockConfig, logger *slog.Logger) *BedrockClient {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BedrockClient{api: api, cfg: cfg, logger: logger}
}

// WithSystem returns a copy of c that sends system as the system prompt.
func (c *BedrockClient) WithSystem(system string) *BedrockClient {
	cp := *c
	cp.cfg.System = system
	return &cp
}

type bedrockImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type bedrockContentBlock struct {
	Type   string              `json:"type"`
	Text   string              `json:"text,omitempty"`
	Source *bedrockImageSource `json:"source,omitempty"`
}

type bedrockMessage struct {
	Role    string                `json:"role"`
	Content []bedrockContentBlock `json:"content"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Temperature      float64          `json:"temperature,omitempty"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Invoke sends the conversation and returns the concatenated text blocks of
// the answer. Messages carrying ImageBase64 are sent as image blocks ahead
// of their text.
func (c *BedrockClient) Invoke(ctx context.Context, messages []types.LLMMessage) (*types.LLMCompletion, error) {
	if len(messages) == 0 {
		return nil, types.NewAppError(types.ErrCodeValidationPayload, "llm conversation is empty", nil)
	}

	req := bedrockRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		MaxTokens:        c.cfg.MaxTokens,
		System:           c.cfg.System,
		Temperature:      c.cfg.Temperature,
		Messages:         make([]bedrockMessage, 0, len(messages)),
	}
	for _, m := range messages {
		msg := bedrockMessage{Role: m.Role}
		if m.ImageBase64 != "" {
			msg.Content = append(msg.Content, bedrockContentBlock{
				Type: "image",
				Source: &bedrockImageSource{
					Type:      "base64",
					MediaType: m.ImageMediaType,
					Data:      m.ImageBase64,
				},
			})
		}
		if m.Content != "" {
			msg.Content = append(msg.Content, bedrockContentBlock{Type: "text", Text: m.Content})
		}
		req.Messages = append(req.Messages, msg)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal bedrock request", err)
	}

	out, err := c.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.cfg.ModelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, mapBedrockError(err)
	}

	var resp bedrockResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamLLM, "failed to parse bedrock response", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	c.logger.DebugContext(ctx, "bedrock invocation complete",
		"model", c.cfg.ModelID,
		"stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)
	return &types.LLMCompletion{
		Content: text.String(),
		Usage: types.LLMUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}, nil
}

// mapBedrockError keeps context errors as they are, makes request-shape
// rejections fatal and everything else a retryable upstream failure.
func mapBedrockError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ValidationException":
			return types.NewAppError(types.ErrCodeValidationPayload, "bedrock rejected the request", err)
		case "ThrottlingException", "ServiceQuotaExceededException":
			return types.NewAppError(types.ErrCodeUpstreamRateLimited, "bedrock throttled the request", err)
		}
	}
	return types.NewAppError(types.ErrCodeUpstreamLLM, fmt.Sprintf("bedrock invocation failed: %v", err), err)
}
