// Package core provides the shared integration infrastructure used by every
// listener: the handler contract, the kind-to-handler registry, retry backoff
// and delivery metrics.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"eventrelay/internal/config"
	"eventrelay/internal/types"
)

// IntegrationHandler delivers one typed integration message to its external
// target. Delivery problems are reported as a classified result. A returned
// error means the handler could not classify the outcome at all.
type IntegrationHandler[T any] interface {
	Handle(ctx context.Context, msg *types.IntegrationMessage[T]) (*types.IntegrationHandlerResult, error)
}

// Handler is the type-erased form the listener calls. body is the encoded
// IntegrationMessage exactly as it came off the broker.
type Handler interface {
	HandleRaw(ctx context.Context, body []byte) (*types.IntegrationHandlerResult, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, body []byte) (*types.IntegrationHandlerResult, error)

func (f HandlerFunc) HandleRaw(ctx context.Context, body []byte) (*types.IntegrationHandlerResult, error) {
	return f(ctx, body)
}

// Adapt decodes the body into IntegrationMessage[T] and calls h. A body whose
// configuration does not fit T can never succeed, so it is reported as a
// non-retryable configuration failure rather than an error.
func Adapt[T any](h IntegrationHandler[T]) Handler {
	return HandlerFunc(func(ctx context.Context, body []byte) (*types.IntegrationHandlerResult, error) {
		var msg types.IntegrationMessage[T]
		if err := json.Unmarshal(body, &msg); err != nil {
			return types.Failed(nil, types.FailureConfigurationError,
				fmt.Sprintf("configuration does not match %T: %v", msg.Configuration, err)), nil
		}
		return h.Handle(ctx, &msg)
	})
}

// RetryPolicy defines the exponential backoff parameters for delivery retries.
type RetryPolicy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy matches the listener defaults in config.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:    3,
	BaseDelay:     10 * time.Second,
	MaxDelay:      10 * time.Minute,
	BackoffFactor: 2.0,
}

// NewRetryPolicy builds a policy from the listener configuration.
func NewRetryPolicy(cfg config.ListenerConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:    cfg.MaxRetries,
		BaseDelay:     cfg.BaseDelay,
		MaxDelay:      cfg.MaxDelay,
		BackoffFactor: cfg.BackoffFactor,
	}
}

// CalculateNextRetry computes the delay before the next retry attempt using
// exponential backoff: delay = min(BaseDelay * BackoffFactor^attempt, MaxDelay).
func CalculateNextRetry(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(policy.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= policy.BackoffFactor
		if delay > float64(policy.MaxDelay) {
			break
		}
	}

	d := time.Duration(delay)
	if d > policy.MaxDelay || d < 0 {
		d = policy.MaxDelay
	}
	return d
}

// Outcome is the terminal disposition of one listener pass over a message.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeRetry      Outcome = "retry"
	OutcomeDeadLetter Outcome = "dead_letter"
	OutcomeError      Outcome = "error"
)

// Metrics abstracts delivery telemetry.
type Metrics interface {
	RecordOutcome(ctx context.Context, kind types.IntegrationType, outcome Outcome, category types.FailureCategory)
	RecordLatency(ctx context.Context, kind types.IntegrationType, duration time.Duration)
}

// NoopMetrics discards everything. Used when metrics are disabled.
type NoopMetrics struct{}

func (NoopMetrics) RecordOutcome(context.Context, types.IntegrationType, Outcome, types.FailureCategory) {}
func (NoopMetrics) RecordLatency(context.Context, types.IntegrationType, time.Duration)                  {}
