// Package queue defines the broker contracts shared by the dispatcher and the
// integration listener. The awssqs and rabbitmq subpackages implement them.
//
// Queue topology per integration kind:
//
//	integrations-{kind}         main queue, routing key {kind}
//	integrations-{kind}-retry   delayed redelivery back into the main queue
//	integrations-dead-letter    shared terminal queue
//	events-{kind}               events waiting to be dispatched to {kind}
package queue

import (
	"context"
	"time"

	"eventrelay/internal/types"
)

// FailureReasonAttribute names the transport metadata (SQS message attribute
// or AMQP header) carrying why a message was dead-lettered.
const FailureReasonAttribute = "failure_reason"

// DeadLetterQueueName is the single dead-letter queue shared by every kind.
const DeadLetterQueueName = "integrations-dead-letter"

// IntegrationQueueName is the main queue for kind.
func IntegrationQueueName(kind types.IntegrationType) string {
	return "integrations-" + kind.RoutingKey()
}

// RetryQueueName is the delayed retry queue for kind.
func RetryQueueName(kind types.IntegrationType) string {
	return IntegrationQueueName(kind) + "-retry"
}

// EventQueueName is the queue events for kind are dispatched from.
func EventQueueName(kind types.IntegrationType) string {
	return "events-" + kind.RoutingKey()
}

// Publisher sends an integration message to the main queue for its kind.
type Publisher interface {
	Publish(ctx context.Context, msg types.Envelope) error
}

// RetryQueue is the listener's view of the retry and dead-letter paths for
// one integration kind. Bodies are published verbatim.
type RetryQueue interface {
	// PublishToRetry makes body available on the main queue no earlier than
	// notBefore (subject to the broker's delay ceiling).
	PublishToRetry(ctx context.Context, body []byte, notBefore time.Time) error
	// PublishToDeadLetter parks body on the dead-letter queue with reason.
	PublishToDeadLetter(ctx context.Context, body []byte, reason string) error
}

// MessageFunc processes one delivered body. Returning nil acknowledges the
// message; returning an error leaves it for redelivery.
type MessageFunc func(ctx context.Context, body []byte) error

// Consumer delivers messages from one queue to fn until ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context, fn MessageFunc) error
}
