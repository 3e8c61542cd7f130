package types

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// ErrorKind tells the queue what to do with a job whose handler failed.
type ErrorKind int

const (
	// ErrorKindTransient errors are retried with the job's backoff until its
	// retry limit is exhausted.
	ErrorKindTransient ErrorKind = iota
	// ErrorKindFatal errors complete the job with an error payload; retrying
	// would fail the same way.
	ErrorKindFatal
)

// String implements fmt.Stringer.
func (k ErrorKind) String() string {
	if k == ErrorKindFatal {
		return "fatal"
	}
	return "transient"
}

// Fatal wraps err so Classify reports ErrorKindFatal regardless of its text.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: ErrorKindFatal, err: err}
}

// Transient wraps err so Classify reports ErrorKindTransient regardless of its text.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: ErrorKindTransient, err: err}
}

type kindError struct {
	kind ErrorKind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

var (
	fatalMarkers = []string{
		"validation",
		"invalid",
		"malformed",
		"parse",
		"unmarshal",
	}
	transientMarkers = []string{
		"timeout",
		"timed out",
		"network",
		"connection",
		"econnrefused",
		"econnreset",
		"enotfound",
		"no such host",
		"rate limit",
		"too many requests",
		"429",
		"503",
		"504",
	}
)

// Classify decides whether err should be retried. Typed signals are checked
// first: explicit Fatal/Transient wrappers, AppError codes, ChannelError
// statuses, context deadlines, net errors and refused connections. Only when
// none of those match does it fall back to keywords in the lowercased
// message. Unrecognized errors are transient.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorKindTransient
	}

	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}

	var chErr *ChannelError
	if errors.As(err, &chErr) {
		if chErr.Retryable() {
			return ErrorKindTransient
		}
		return ErrorKindFatal
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		if kind, ok := kindForCode(appErr.Code); ok {
			return kind
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return ErrorKindTransient
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorKindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorKindTransient
	}

	return classifyMessage(err.Error())
}

// ShouldRetry reports whether Classify considers err transient.
func ShouldRetry(err error) bool {
	return Classify(err) == ErrorKindTransient
}

func kindForCode(code ErrorCode) (ErrorKind, bool) {
	s := string(code)
	switch {
	case strings.HasPrefix(s, "validation_"), code == ErrCodeChannelRejected:
		return ErrorKindFatal, true
	case strings.HasPrefix(s, "upstream_"), strings.HasPrefix(s, "channel_"),
		code == ErrCodeInternalDB, code == ErrCodeInternalQueue:
		return ErrorKindTransient, true
	default:
		return ErrorKindTransient, false
	}
}

// classifyMessage checks transient markers first so that "invalid response:
// timeout" style messages are retried.
func classifyMessage(msg string) ErrorKind {
	lower := strings.ToLower(msg)
	for _, m := range transientMarkers {
		if strings.Contains(lower, m) {
			return ErrorKindTransient
		}
	}
	for _, m := range fatalMarkers {
		if strings.Contains(lower, m) {
			return ErrorKindFatal
		}
	}
	return ErrorKindTransient
}
