package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// HTTPClient is the subset of *http.Client used for credential probes.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DatabaseConnector opens and closes a single connection.
type DatabaseConnector interface {
	Ping(ctx context.Context, connString string) error
}

// PgxConnector implements DatabaseConnector with pgx.
type PgxConnector struct{}

// Ping connects, pings and disconnects.
func (PgxConnector) Ping(ctx context.Context, connString string) error {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())
	return conn.Ping(ctx)
}

// ValidationResult is the outcome of one check.
type ValidationResult struct {
	Valid   bool
	Message string
}

// Validator checks operator input before it reaches SSM.
type Validator struct {
	httpClient      HTTPClient
	dbConn          DatabaseConnector
	telegramBaseURL string
}

// NewValidator returns a Validator with real network dependencies.
func NewValidator() *Validator {
	return &Validator{
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		dbConn:          PgxConnector{},
		telegramBaseURL: "https://api.telegram.org",
	}
}

const validateTimeout = 10 * time.Second

// ValidateDatabaseURL checks the scheme and that a connection succeeds.
func (v *Validator) ValidateDatabaseURL(ctx context.Context, raw string) ValidationResult {
	u, err := url.Parse(raw)
	if err != nil {
		return ValidationResult{Message: fmt.Sprintf("not a valid URL: %v", err)}
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return ValidationResult{Message: fmt.Sprintf("scheme must be postgres:// or postgresql://, got %q", u.Scheme)}
	}
	if u.Host == "" {
		return ValidationResult{Message: "host is missing"}
	}

	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	if err := v.dbConn.Ping(ctx, raw); err != nil {
		return ValidationResult{Message: fmt.Sprintf("connection failed: %v", err)}
	}
	return ValidationResult{Valid: true, Message: "connected"}
}

type telegramGetMe struct {
	OK     bool `json:"ok"`
	Result struct {
		Username string `json:"username"`
	} `json:"result"`
	Description string `json:"description"`
}

// ValidateTelegramToken calls getMe with the token.
func (v *Validator) ValidateTelegramToken(ctx context.Context, token string) ValidationResult {
	if !strings.Contains(token, ":") {
		return ValidationResult{Message: "token must look like <bot-id>:<secret>"}
	}

	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.telegramBaseURL+"/bot"+token+"/getMe", nil)
	if err != nil {
		return ValidationResult{Message: fmt.Sprintf("building request: %v", err)}
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		// The URL carries the token, so the error text is not echoed.
		return ValidationResult{Message: "request to Telegram failed"}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return ValidationResult{Message: fmt.Sprintf("Telegram returned %d: %s", resp.StatusCode, truncateBody(string(body), 200))}
	}
	var me telegramGetMe
	if err := json.Unmarshal(body, &me); err != nil || !me.OK {
		return ValidationResult{Message: "unexpected getMe response"}
	}
	return ValidationResult{Valid: true, Message: "bot @" + me.Result.Username}
}

// ValidateRegex returns a check matching the whole value against pattern.
func ValidateRegex(pattern, hint string) func(context.Context, string) ValidationResult {
	re := regexp.MustCompile(pattern)
	return func(_ context.Context, value string) ValidationResult {
		if !re.MatchString(value) {
			return ValidationResult{Message: hint}
		}
		return ValidationResult{Valid: true}
	}
}

func truncateBody(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
