// Package external is the boundary between delivery handlers and third-party
// vendor APIs. Outbound calls go through BaseClient, which applies a circuit
// breaker, optional in-process retries, and maps failures to types.AppError.
package external

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"eventrelay/internal/types"
)

// RetryPolicy configures in-process retries. Integration delivery keeps
// MaxRetries at zero because retries are owned by the broker listener.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// NoRetryPolicy performs a single attempt.
func NoRetryPolicy() RetryPolicy {
	return RetryPolicy{MinWait: 500 * time.Millisecond, MaxWait: 10 * time.Second}
}

// BaseClient wraps an *http.Client and a circuit breaker.
type BaseClient struct {
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	retryPolicy RetryPolicy
	userAgent   string
	sleepFn     func(time.Duration)
	clock       types.Clock
}

// BaseClientOption is a functional option for configuring a BaseClient.
type BaseClientOption func(*BaseClient)

// WithSleepFunc overrides the sleep between retries. Tests use it.
func WithSleepFunc(fn func(time.Duration)) BaseClientOption {
	return func(c *BaseClient) { c.sleepFn = fn }
}

// WithClock overrides the clock used to interpret HTTP-date Retry-After values.
func WithClock(clock types.Clock) BaseClientOption {
	return func(c *BaseClient) { c.clock = clock }
}

// BreakerSettings returns the breaker configuration used for vendor APIs:
// trip after more than five consecutive failures, probe again after 30s.
func BreakerSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}
}

func NewBaseClient(httpClient *http.Client, breakerName string, retryPolicy RetryPolicy, userAgent string, opts ...BaseClientOption) *BaseClient {
	return NewBaseClientWithBreaker(httpClient, gobreaker.NewCircuitBreaker[*http.Response](BreakerSettings(breakerName)), retryPolicy, userAgent, opts...)
}

// NewBaseClientWithBreaker lets tests supply a breaker with custom settings.
func NewBaseClientWithBreaker(httpClient *http.Client, breaker *gobreaker.CircuitBreaker[*http.Response], retryPolicy RetryPolicy, userAgent string, opts ...BaseClientOption) *BaseClient {
	bc := &BaseClient{
		client:      httpClient,
		breaker:     breaker,
		retryPolicy: retryPolicy,
		userAgent:   userAgent,
		sleepFn:     time.Sleep,
		clock:       types.RealClock{},
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

// Do sends req through the breaker. 429 and 5xx count as breaker failures and
// are retried per the policy. Any other status is returned to the caller, who
// must close the body.
//
// Failures are returned as *types.AppError. When the upstream sent Retry-After,
// Details["retry_after"] holds the parsed time.Duration.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to read request body for retry support", err)
		}
		req.Body.Close()
	}

	var (
		lastStatus     int
		lastRetryAfter time.Duration
		lastErr        error
	)

	attempts := 1 + c.retryPolicy.MaxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.client.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		lastErr = err
		lastStatus = 0
		lastRetryAfter = 0
		if resp != nil {
			lastStatus = resp.StatusCode
			lastRetryAfter = c.parseRetryAfter(resp.Header.Get("Retry-After"))
			resp.Body.Close()
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if attempt < attempts-1 {
			c.sleepFn(c.computeBackoff(attempt, lastRetryAfter))
		}
	}

	return nil, c.mapError(lastStatus, lastRetryAfter, lastErr)
}

// parseRetryAfter accepts delta-seconds or an HTTP-date. Unparseable or
// past values yield zero.
func (c *BaseClient) parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(c.clock.Now()); d > 0 {
			return d
		}
	}
	return 0
}

// computeBackoff honours Retry-After up to MaxWait, otherwise uses
// exponential backoff with jitter in [MinWait, MinWait*2^attempt].
func (c *BaseClient) computeBackoff(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return min(retryAfter, c.retryPolicy.MaxWait)
	}
	minWait := float64(c.retryPolicy.MinWait)
	ceiling := math.Min(minWait*math.Pow(2, float64(attempt)), float64(c.retryPolicy.MaxWait))
	if ceiling <= minWait {
		return c.retryPolicy.MinWait
	}
	return time.Duration(minWait + rand.Float64()*(ceiling-minWait))
}

func (c *BaseClient) mapError(status int, retryAfter time.Duration, err error) *types.AppError {
	var appErr *types.AppError
	switch {
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		appErr = types.NewAppError(types.ErrCodeUpstreamUnavailable, "circuit breaker is open; upstream service unavailable", err)
	case status == http.StatusTooManyRequests:
		appErr = types.NewAppError(types.ErrCodeUpstreamRateLimited, "upstream rate limit exceeded", err)
	case status >= 500:
		appErr = types.NewAppError(types.ErrCodeUpstreamUnavailable, fmt.Sprintf("upstream returned %d", status), err)
	default:
		return types.NewAppError(types.ErrCodeInternalUnexpected, "upstream request failed", err)
	}
	details := map[string]any{"status": status}
	if retryAfter > 0 {
		details["retry_after"] = retryAfter
	}
	return appErr.WithDetails(details)
}

// RetryAfterFrom extracts the Retry-After hint attached by Do, if any.
func RetryAfterFrom(err error) (time.Duration, bool) {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		return 0, false
	}
	d, ok := appErr.Details["retry_after"].(time.Duration)
	return d, ok && d > 0
}
