package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"tasseo/internal/types"
)

// CreditsClientConfig configures the credits service client.
type CreditsClientConfig struct {
	BaseURL string
	APIKey  string
	Logger  *slog.Logger
}

// CreditsClient asks the billing service whether a user can pay for a
// reading and debits completed readings.
type CreditsClient struct {
	base    *BaseClient
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

// NewCreditsClient creates a CreditsClient.
func NewCreditsClient(httpClient *http.Client, cfg CreditsClientConfig) *CreditsClient {
	return NewCreditsClientWithBase(
		NewBaseClient(httpClient, "credits", DefaultRetryPolicy(), "tasseo/1.0"),
		cfg,
	)
}

// NewCreditsClientWithBase creates a CreditsClient on a pre-configured
// BaseClient.
func NewCreditsClientWithBase(base *BaseClient, cfg CreditsClientConfig) *CreditsClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CreditsClient{
		base:    base,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

type creditBalance struct {
	Balance    int  `json:"balance"`
	Sufficient bool `json:"sufficient"`
}

// HasSufficientCredits reports whether userID can pay cost credits.
func (c *CreditsClient) HasSufficientCredits(ctx context.Context, userID string, cost int) (bool, error) {
	reqURL := fmt.Sprintf("%s/v1/credits/%s?cost=%s", c.baseURL, url.PathEscape(userID), strconv.Itoa(cost))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create credits request", err)
	}
	c.setAuth(req)

	resp, err := c.base.Do(req)
	if err != nil {
		return false, c.wrap("HasSufficientCredits", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return false, types.NewAppError(types.ErrCodeNotFoundUser, "credits account not found", nil)
	default:
		return false, types.NewAppError(types.ErrCodeUpstreamCredits,
			fmt.Sprintf("credits service returned %d", resp.StatusCode), nil)
	}

	var balance creditBalance
	if err := json.NewDecoder(resp.Body).Decode(&balance); err != nil {
		return false, types.NewAppError(types.ErrCodeUpstreamCredits, "malformed credits response", err)
	}
	return balance.Sufficient, nil
}

// Debit charges cost credits for a finished reading. reference makes the
// call idempotent on the billing side; readings pass the job ID so a retried
// job is charged once.
func (c *CreditsClient) Debit(ctx context.Context, userID string, cost int, reference string) error {
	body, err := json.Marshal(map[string]any{"amount": cost, "reference": reference})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal debit request", err)
	}
	reqURL := fmt.Sprintf("%s/v1/credits/%s/debit", c.baseURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create debit request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	resp, err := c.base.Do(req)
	if err != nil {
		return c.wrap("Debit", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusNoContent, resp.StatusCode == http.StatusConflict:
		// 409: already debited under this reference.
		return nil
	case resp.StatusCode == http.StatusPaymentRequired:
		return types.NewAppError(types.ErrCodeInsufficientCredits, "insufficient credits", nil)
	default:
		return types.NewAppError(types.ErrCodeUpstreamCredits,
			fmt.Sprintf("credits debit returned %d", resp.StatusCode), nil)
	}
}

func (c *CreditsClient) setAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *CreditsClient) wrap(op string, err error) error {
	c.logger.Warn("credits call failed", "op", op, "error", err)
	return err
}
