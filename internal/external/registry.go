package external

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"tasseo/internal/config"
)

// ClientRegistry builds every outbound client from configuration so the
// binaries share one wiring. Optional clients are nil when their settings
// are absent.
type ClientRegistry struct {
	Telegram *TelegramClient
	// Sender delivers messages. In local mode it only logs.
	Sender  Messenger
	LLM     *BedrockClient
	Credits *CreditsClient
	Archive *PhotoArchive
}

// LoadAWSConfig resolves AWS credentials from the default chain. A
// configured endpoint URL (LocalStack) overrides every service endpoint.
func LoadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.EndpointURL != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.EndpointURL))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return awsCfg, nil
}

// NewClientRegistry initializes the outbound clients. With APP_ENV=local
// messages are logged instead of sent.
func NewClientRegistry(cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) (*ClientRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reg := &ClientRegistry{}

	reg.Telegram = NewTelegramClient(&http.Client{Timeout: cfg.Telegram.Timeout}, TelegramClientConfig{
		Token:   cfg.Telegram.BotToken.Unmask(),
		BaseURL: cfg.Telegram.APIBaseURL,
		Logger:  logger.With("client", "telegram"),
	})
	reg.Sender = reg.Telegram
	if cfg.Environment == "local" {
		logger.Info("outbound messages run in STUB mode", "environment", cfg.Environment)
		reg.Sender = NewStubMessenger(logger.With("mode", "stub"))
	}

	reg.LLM = NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg), BedrockConfig{
		ModelID:     cfg.LLM.ModelID,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}, logger.With("client", "bedrock"))

	if cfg.Credits.BaseURL != "" {
		reg.Credits = NewCreditsClient(&http.Client{Timeout: creditsTimeout}, CreditsClientConfig{
			BaseURL: cfg.Credits.BaseURL,
			APIKey:  cfg.Credits.APIKey.Unmask(),
			Logger:  logger.With("client", "credits"),
		})
	} else {
		logger.Warn("CREDITS_BASE_URL not set, credit checks and debits are disabled")
	}

	if cfg.AWS.PhotoBucket != "" {
		s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.AWS.EndpointURL != ""
		})
		archive, err := NewPhotoArchive(s3Client, cfg.AWS.PhotoBucket)
		if err != nil {
			return nil, fmt.Errorf("creating photo archive: %w", err)
		}
		reg.Archive = archive
	}

	return reg, nil
}
