package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers and job handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400). Job payloads failing validation are never retried.
	ErrCodeValidationPayload      ErrorCode = "validation_invalid_payload"
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationQueue        ErrorCode = "validation_unknown_queue"
	ErrCodeValidationCron         ErrorCode = "validation_invalid_cron_expression"
	ErrCodeValidationInvalidTZ    ErrorCode = "validation_invalid_timezone"
	ErrCodeValidationMessageType  ErrorCode = "validation_invalid_message_type"
	ErrCodeValidationInsightKind  ErrorCode = "validation_invalid_insight_kind"
	ErrCodeValidationRequestBody  ErrorCode = "validation_invalid_request_body"

	// Auth (401)
	ErrCodeAuthTokenMissing  ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid  ErrorCode = "auth_token_invalid"
	ErrCodeAuthSecretInvalid ErrorCode = "auth_webhook_secret_invalid"

	// Credits (402)
	ErrCodeInsufficientCredits ErrorCode = "credits_insufficient"

	// Not Found (404)
	ErrCodeNotFoundJob  ErrorCode = "not_found_job"
	ErrCodeNotFoundUser ErrorCode = "not_found_user"

	// Channel (outbound messaging API). Rejections are permanent; throttling
	// and outages are retried.
	ErrCodeChannelRejected    ErrorCode = "channel_rejected"
	ErrCodeChannelRateLimited ErrorCode = "channel_rate_limited"
	ErrCodeChannelUnavailable ErrorCode = "channel_unavailable"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeInternalQueue       ErrorCode = "internal_queue_unavailable"
	ErrCodeUpstreamLLM         ErrorCode = "upstream_llm_unavailable"
	ErrCodeUpstreamCredits     ErrorCode = "upstream_credits_unavailable"
	ErrCodeUpstreamStorage     ErrorCode = "upstream_storage_unavailable"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case c == ErrCodeInsufficientCredits:
		return http.StatusPaymentRequired // 402
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case c == ErrCodeChannelRateLimited, c == ErrCodeUpstreamRateLimited:
		return http.StatusTooManyRequests // 429
	case strings.HasPrefix(s, "channel_"), strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case c == ErrCodeInternalQueue:
		return http.StatusServiceUnavailable // 503
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type.
// All domain, handler and job errors should be expressed as AppError so the
// queue can classify them without inspecting message text.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// ChannelError is returned by outbound channel clients when the remote API
// answers with a non-success status. StatusCode drives retry classification.
type ChannelError struct {
	Channel     string
	StatusCode  int
	Description string
	RetryAfter  int // seconds, from the API's retry hint when present
}

// Error implements the error interface.
func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Channel, e.StatusCode, e.Description)
}

// Retryable reports whether the remote API signalled a transient condition.
func (e *ChannelError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
