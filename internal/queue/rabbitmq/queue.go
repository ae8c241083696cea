package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/retry"
	"github.com/streadway/amqp"

	"eventrelay/internal/queue"
	"eventrelay/internal/types"
)

var (
	_ queue.Publisher  = (*Publisher)(nil)
	_ queue.RetryQueue = (*RetryQueue)(nil)
	_ queue.Consumer   = (*Consumer)(nil)
)

// Publisher sends integration messages to the integration exchange using the
// kind's routing key.
type Publisher struct {
	svc    *Service
	logger types.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(svc *Service, logger types.Logger) *Publisher {
	return &Publisher{svc: svc, logger: logger}
}

// Publish declares the exchange and publishes msg. It returns once the broker
// has confirmed the message.
func (p *Publisher) Publish(ctx context.Context, msg types.Envelope) error {
	body, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("rabbitmq publisher: failed to marshal message %s: %w", msg.ID(), err)
	}

	exchange := p.svc.cfg.IntegrationExchange
	err = p.svc.withChannel(func(ch Channel) error {
		return ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, true, false, false, false, nil)
	})
	if err != nil {
		return fmt.Errorf("rabbitmq publisher: declare exchange %s: %w", exchange, err)
	}

	pub := persistent(body, p.svc.clock.Now())
	pub.MessageId = msg.ID()
	if err := p.svc.publish(ctx, exchange, msg.Kind().RoutingKey(), pub); err != nil {
		return fmt.Errorf("rabbitmq publisher: %w", err)
	}

	p.logger.Info("integration message published",
		"message_id", msg.ID(),
		"integration_type", string(msg.Kind()),
	)
	return nil
}

// RetryQueue publishes to the retry and dead-letter queues of one kind
// through the default exchange, or to the delayed exchange when the delay
// plugin is enabled.
type RetryQueue struct {
	svc   *Service
	kind  types.IntegrationType
	retry string
}

// NewRetryQueue creates the retry path for kind.
func NewRetryQueue(svc *Service, kind types.IntegrationType) *RetryQueue {
	return &RetryQueue{svc: svc, kind: kind, retry: queue.RetryQueueName(kind)}
}

// PublishToRetry parks body until it is due. On the retry queue it waits one
// RetryTiming and then dead-letters back onto the main queue, where the
// listener re-parks it if notBefore is still ahead. Through the delayed
// exchange it waits exactly until notBefore.
func (q *RetryQueue) PublishToRetry(ctx context.Context, body []byte, notBefore time.Time) error {
	now := q.svc.clock.Now()
	pub := persistent(body, now)

	var err error
	if q.svc.cfg.UseDelayPlugin {
		err = q.svc.publishDelayed(ctx, q.kind.RoutingKey(), notBefore.Sub(now), pub)
	} else {
		err = q.svc.publish(ctx, "", q.retry, pub)
	}
	if err != nil {
		return fmt.Errorf("rabbitmq retry: %w", err)
	}
	return nil
}

// PublishToDeadLetter parks body on the shared dead-letter queue with the
// reason as a header.
func (q *RetryQueue) PublishToDeadLetter(ctx context.Context, body []byte, reason string) error {
	pub := persistent(body, q.svc.clock.Now())
	pub.Headers = amqp.Table{queue.FailureReasonAttribute: reason}
	if err := q.svc.publish(ctx, "", queue.DeadLetterQueueName, pub); err != nil {
		return fmt.Errorf("rabbitmq dead-letter: %w", err)
	}
	return nil
}

// Consumer reads one queue over a single channel, processing deliveries
// sequentially. A lost channel or connection is re-established with
// exponential backoff.
type Consumer struct {
	svc    *Service
	queue  string
	logger types.Logger
}

// NewConsumer creates a Consumer for the named queue.
func NewConsumer(svc *Service, name string, logger types.Logger) *Consumer {
	return &Consumer{svc: svc, queue: name, logger: logger.With("queue", name)}
}

// Consume runs until ctx is cancelled. Deliveries are acked when fn returns
// nil and nacked with requeue otherwise. On shutdown the channel is closed
// and any unacked delivery returns to the queue.
func (c *Consumer) Consume(ctx context.Context, fn queue.MessageFunc) error {
	maxDelay := c.svc.cfg.ReconnectMaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	for retrier := retry.New(250*time.Millisecond, maxDelay); retrier.Wait(ctx); {
		err := c.consume(ctx, fn, retrier.Reset)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("rabbitmq consumer interrupted, reconnecting", "error", errString(err))
	}
	return nil
}

var errDeliveriesClosed = errors.New("delivery channel closed")

func (c *Consumer) consume(ctx context.Context, fn queue.MessageFunc, connected func()) error {
	ch, err := c.svc.openChannel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(c.svc.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))

	connected()
	c.logger.Info("rabbitmq consumer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr, ok := <-closed:
			if ok && amqpErr != nil {
				return amqpErr
			}
			return errDeliveriesClosed
		case d, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			c.handle(ctx, d, fn)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery, fn queue.MessageFunc) {
	if err := fn(ctx, d.Body); err != nil {
		c.logger.Warn("message requeued for redelivery", "message_id", d.MessageId, "error", err.Error())
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.logger.Error("failed to nack delivery", "message_id", d.MessageId, "error", nackErr.Error())
		}
		return
	}
	if err := d.Ack(false); err != nil {
		c.logger.Error("failed to ack delivery", "message_id", d.MessageId, "error", err.Error())
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
