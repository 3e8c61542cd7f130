// Package external wraps the third-party services tasseo talks to: the
// Telegram Bot API, Bedrock for LLM completions, the credits service and the
// S3 photo archive. HTTP clients route every call through BaseClient, which
// adds circuit breaking, bounded retries on 429/5xx and error mapping.
package external

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"tasseo/internal/types"
)

// RetryPolicy bounds in-call retries. MaxRetries counts retries, so a
// policy with MaxRetries 2 makes at most three requests.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy retries once. Jobs are retried again by the queue.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 1, MinWait: 300 * time.Millisecond, MaxWait: 3 * time.Second}
}

// BaseClient is an *http.Client behind a circuit breaker.
type BaseClient struct {
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	policy    RetryPolicy
	userAgent string
	sleep     func(time.Duration)
}

type BaseClientOption func(*BaseClient)

// WithSleepFunc replaces time.Sleep between attempts.
func WithSleepFunc(fn func(time.Duration)) BaseClientOption {
	return func(c *BaseClient) { c.sleep = fn }
}

// NewBaseClient builds a client whose breaker opens after six consecutive
// failed attempts and probes again after 30s.
func NewBaseClient(httpClient *http.Client, breakerName string, policy RetryPolicy, userAgent string, opts ...BaseClientOption) *BaseClient {
	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures > 5 },
	})
	return NewBaseClientWithBreaker(httpClient, breaker, policy, userAgent, opts...)
}

func NewBaseClientWithBreaker(httpClient *http.Client, breaker *gobreaker.CircuitBreaker[*http.Response], policy RetryPolicy, userAgent string, opts ...BaseClientOption) *BaseClient {
	c := &BaseClient{
		client:    httpClient,
		breaker:   breaker,
		policy:    policy,
		userAgent: userAgent,
		sleep:     time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// errRetryableStatus marks a 429 or 5xx so the breaker counts it as a
// failure while the response is still handed back for inspection.
type errRetryableStatus struct{ code int }

func (e errRetryableStatus) Error() string { return fmt.Sprintf("upstream returned %d", e.code) }

// Do sends req, retrying 429 and 5xx answers up to the policy limit.
//
// Other responses, 4xx included, are returned untouched and the caller owns
// the body. When retries run out, the breaker is open or the transport
// fails, the error is an *types.AppError with an upstream_* code. A
// cancelled request context comes back as ctx.Err().
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	if id := types.GetRequestID(req.Context()); id != "" {
		req.Header.Set("X-Request-Id", id)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	body, err := drainBody(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to buffer request body", err)
	}

	var lastStatus int
	for attempt := 0; ; attempt++ {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			resp, err := c.client.Do(req)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return resp, errRetryableStatus{code: resp.StatusCode}
			}
			return resp, nil
		})
		if err == nil {
			return resp, nil
		}

		var wait time.Duration
		if resp != nil {
			lastStatus = resp.StatusCode
			wait = c.computeBackoff(attempt, resp)
			resp.Body.Close()
		} else {
			lastStatus = 0
			wait = c.computeBackoff(attempt, nil)
		}

		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if breakerRejected(err) || attempt >= c.policy.MaxRetries {
			return nil, upstreamError(lastStatus, err)
		}
		c.sleep(wait)
	}
}

func drainBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

func breakerRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// computeBackoff prefers the upstream's Retry-After, then falls back to
// jittered exponential backoff. Both are clamped to the policy window.
func (c *BaseClient) computeBackoff(attempt int, resp *http.Response) time.Duration {
	if wait, ok := retryAfter(resp); ok {
		return max(c.policy.MinWait, min(wait, c.policy.MaxWait))
	}
	ceiling := c.policy.MinWait << min(attempt, 20)
	if ceiling > c.policy.MaxWait {
		ceiling = c.policy.MaxWait
	}
	if ceiling <= c.policy.MinWait {
		return c.policy.MinWait
	}
	return c.policy.MinWait + rand.N(ceiling-c.policy.MinWait)
}

// retryAfter reads the header in either of its forms: delta seconds or an
// HTTP date.
func retryAfter(resp *http.Response) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		return time.Until(at), true
	}
	return 0, false
}

// upstreamError keeps every outcome on an upstream_* code so the queue
// retries the job.
func upstreamError(status int, err error) *types.AppError {
	switch {
	case breakerRejected(err):
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "circuit breaker is open; upstream service unavailable", err)
	case status == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "upstream rate limit exceeded", err)
	case status >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, fmt.Sprintf("upstream returned %d after retries", status), err)
	default:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "upstream request failed", err)
	}
}
