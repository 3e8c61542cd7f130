package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"tasseo/internal/types"
)

// maxRequestBodySize caps intake bodies. Telegram updates and reading
// requests carry file IDs, never the file itself.
const maxRequestBodySize = 1 << 20

// APIResponse wraps successful payloads as {"data": ...}.
type APIResponse struct {
	Data any `json:"data,omitempty"`
}

// APIErrorResponse wraps failures as {"error": {...}}.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the client-visible part of an error. Wrapped causes stay in
// the logs.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

func errorEnvelope(code types.ErrorCode, message, requestID string) APIErrorResponse {
	return APIErrorResponse{Error: ErrorDetail{
		Code:      string(code),
		Message:   message,
		RequestID: requestID,
	}}
}

// unexpectedError is what clients see for panics and non-AppError failures.
func unexpectedError(requestID string) APIErrorResponse {
	return errorEnvelope(types.ErrCodeInternalUnexpected, "an unexpected error occurred", requestID)
}

// JSON writes data with status. A value that cannot be encoded becomes a 500.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(errorEnvelope(types.ErrCodeInternalUnexpected, "failed to encode response", types.GetRequestID(r.Context())))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error maps err to a status through AppError.HTTPStatus. Anything that is
// not an AppError is reported as a 500 without its message.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	requestID := types.GetRequestID(r.Context())

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		JSON(w, r, http.StatusInternalServerError, unexpectedError(requestID))
		return
	}
	resp := errorEnvelope(appErr.Code, appErr.Message, requestID)
	resp.Error.Details = appErr.Details
	JSON(w, r, appErr.HTTPStatus(), resp)
}

// DecodeJSON reads exactly one JSON value into dst and rejects unknown
// fields. Every failure is an ErrCodeValidationRequestBody AppError.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return decodeJSON(w, r, dst, true)
}

// DecodeJSONLenient accepts unknown fields. Telegram updates carry far more
// than the handlers model.
func DecodeJSONLenient(w http.ResponseWriter, r *http.Request, dst any) error {
	return decodeJSON(w, r, dst, false)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, strict bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst); err != nil {
		return bodyError(err)
	}
	if dec.More() {
		return types.NewAppError(types.ErrCodeValidationRequestBody, "request body must contain a single JSON object", nil)
	}
	return nil
}

func bodyError(err error) *types.AppError {
	var (
		tooLarge   *http.MaxBytesError
		syntaxErr  *json.SyntaxError
		typeErr    *json.UnmarshalTypeError
		unknownKey = strings.HasPrefix(err.Error(), "json: unknown field ")
	)
	switch {
	case errors.As(err, &tooLarge):
		return types.NewAppError(types.ErrCodeValidationRequestBody, "request body must not exceed 1MB", err)
	case errors.As(err, &syntaxErr):
		return types.NewAppError(types.ErrCodeValidationRequestBody, "malformed JSON in request body", err)
	case errors.As(err, &typeErr):
		return types.NewAppErrorWithDetails(types.ErrCodeValidationRequestBody, "invalid value for field", err,
			map[string]any{"field": typeErr.Field, "expected": typeErr.Type.String()})
	case unknownKey:
		field := strings.TrimPrefix(err.Error(), "json: unknown field ")
		return types.NewAppError(types.ErrCodeValidationRequestBody, "unknown field in request body: "+field, err)
	case errors.Is(err, io.EOF):
		return types.NewAppError(types.ErrCodeValidationRequestBody, "request body must not be empty", err)
	default:
		return types.NewAppError(types.ErrCodeValidationRequestBody, "invalid JSON in request body", err)
	}
}
