// Package listener runs the per-kind delivery state machine. Each received
// integration message is delivered once through its handler and then ends in
// exactly one place: acknowledged, re-parked on the retry path, or parked on
// the dead-letter queue. The original delivery is acknowledged only after the
// follow-up publish has been accepted by the broker.
package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"eventrelay/internal/config"
	"eventrelay/internal/integrations/core"
	"eventrelay/internal/queue"
	"eventrelay/internal/types"
)

var errNilResult = errors.New("handler returned no result")

// IntegrationListener consumes one integration kind's main queue.
type IntegrationListener struct {
	kind     types.IntegrationType
	handler  core.Handler
	retries  queue.RetryQueue
	consumer queue.Consumer
	policy   core.RetryPolicy
	timeout  time.Duration
	metrics  core.Metrics
	clock    types.Clock
	logger   types.Logger
}

// New creates a listener for kind. consumer may be nil when messages are
// pushed through ProcessMessage directly (the Lambda trigger).
func New(
	kind types.IntegrationType,
	handler core.Handler,
	retries queue.RetryQueue,
	consumer queue.Consumer,
	cfg config.ListenerConfig,
	metrics core.Metrics,
	logger types.Logger,
) *IntegrationListener {
	if metrics == nil {
		metrics = core.NoopMetrics{}
	}
	return &IntegrationListener{
		kind:     kind,
		handler:  handler,
		retries:  retries,
		consumer: consumer,
		policy:   core.NewRetryPolicy(cfg),
		timeout:  cfg.HandlerTimeout,
		metrics:  metrics,
		clock:    types.RealClock{},
		logger:   logger.With("integration_type", string(kind)),
	}
}

// SetClock overrides the clock used for not-before checks and backoff.
func (l *IntegrationListener) SetClock(c types.Clock) { l.clock = c }

// Kind returns the integration kind this listener serves.
func (l *IntegrationListener) Kind() types.IntegrationType { return l.kind }

// Run consumes until ctx is cancelled.
func (l *IntegrationListener) Run(ctx context.Context) error {
	if l.consumer == nil {
		return fmt.Errorf("listener %s: no consumer configured", l.kind)
	}
	l.logger.Info("integration listener started")
	defer l.logger.Info("integration listener stopped")
	return l.consumer.Consume(ctx, l.ProcessMessage)
}

// ProcessMessage runs one delivery attempt for body. A nil return means the
// delivery may be acknowledged; an error means the follow-up publish failed
// and the broker must redeliver.
func (l *IntegrationListener) ProcessMessage(ctx context.Context, body []byte) error {
	// Shutdown must not abandon a delivery between handler and publish.
	ctx = context.WithoutCancel(ctx)

	var msg types.RawIntegrationMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		l.logger.Error("discarding undecodable integration message", "error", err.Error(), "body_size", len(body))
		return l.deadLetter(ctx, body, "undecodable message: "+err.Error(), core.OutcomeDeadLetter, types.FailureConfigurationError)
	}

	log := l.logger.With("message_id", msg.MessageID, "organization_id", msg.OrganizationID, "retry_count", msg.RetryCount)

	now := l.clock.Now()
	if nb := msg.DelayUntilDate; nb != nil && nb.After(now) {
		if err := l.retries.PublishToRetry(ctx, body, *nb); err != nil {
			return fmt.Errorf("listener %s: re-park message %s: %w", l.kind, msg.MessageID, err)
		}
		log.Info("message arrived before its not-before, re-parked", "delay_until_date", nb.Format(time.RFC3339))
		return nil
	}

	result, err := l.invoke(ctx, body)
	l.metrics.RecordLatency(ctx, l.kind, l.clock.Now().Sub(now))
	if err == nil && result == nil {
		err = errNilResult
	}
	if err != nil {
		log.Error("Integration handler failed unexpectedly.", "error", err.Error())
		return l.deadLetter(ctx, body, "unhandled error: "+err.Error(), core.OutcomeError, "")
	}

	if result.Success {
		l.metrics.RecordOutcome(ctx, l.kind, core.OutcomeSuccess, "")
		return nil
	}

	var env types.Envelope = &msg
	if result.Message != nil {
		env = result.Message
	}

	if !result.Retryable {
		log.Warn("Integration failure - non-retryable.",
			"category", string(result.Category),
			"reason", result.FailureReason,
		)
		return l.deadLetterEnvelope(ctx, env, body, result)
	}

	notBefore := now.Add(core.CalculateNextRetry(l.policy, env.Attempts()))
	if result.DelayUntilDate != nil {
		notBefore = *result.DelayUntilDate
	}
	env.ApplyRetry(&notBefore)

	if env.Attempts() >= l.policy.MaxRetries {
		log.Warn("Integration failure - max retries exceeded.",
			"category", string(result.Category),
			"reason", result.FailureReason,
			"max_retries", l.policy.MaxRetries,
		)
		return l.deadLetterEnvelope(ctx, env, body, result)
	}

	next, err := env.Encode()
	if err != nil {
		log.Error("failed to encode message for retry", "error", err.Error())
		return l.deadLetter(ctx, body, "encode for retry: "+err.Error(), core.OutcomeError, result.Category)
	}
	if err := l.retries.PublishToRetry(ctx, next, notBefore); err != nil {
		return fmt.Errorf("listener %s: schedule retry for %s: %w", l.kind, msg.MessageID, err)
	}

	log.Warn("Integration failed, scheduling retry.",
		"category", string(result.Category),
		"reason", result.FailureReason,
		"next_retry_count", env.Attempts(),
		"delay_until_date", notBefore.UTC().Format(time.RFC3339),
	)
	l.metrics.RecordOutcome(ctx, l.kind, core.OutcomeRetry, result.Category)
	return nil
}

// invoke calls the handler under the handler timeout, turning a panic into
// an error.
func (l *IntegrationListener) invoke(ctx context.Context, body []byte) (result *types.IntegrationHandlerResult, err error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("handler panic: %v", r)
		}
	}()
	return l.handler.HandleRaw(ctx, body)
}

func (l *IntegrationListener) deadLetterEnvelope(ctx context.Context, env types.Envelope, raw []byte, result *types.IntegrationHandlerResult) error {
	body, err := env.Encode()
	if err != nil {
		body = raw
	}
	return l.deadLetter(ctx, body, result.FailureReason, core.OutcomeDeadLetter, result.Category)
}

func (l *IntegrationListener) deadLetter(ctx context.Context, body []byte, reason string, outcome core.Outcome, category types.FailureCategory) error {
	if err := l.retries.PublishToDeadLetter(ctx, body, reason); err != nil {
		return fmt.Errorf("listener %s: dead-letter: %w", l.kind, err)
	}
	l.metrics.RecordOutcome(ctx, l.kind, outcome, category)
	return nil
}
