// Package rabbitmq implements the queue contracts on a self-hosted RabbitMQ
// broker.
//
// Integration messages go through a direct exchange keyed by integration
// kind. Delayed retries are parked on a per-kind retry queue whose fixed
// x-message-ttl is RetryTiming; expired messages dead-letter back into the
// integration exchange and so return to the main queue. Every message on a
// retry queue shares one TTL, so expiry order is arrival order and no message
// waits behind a longer one. A retry that is due later than one TTL comes back
// early and is re-parked by the listener's not-before check.
//
// With UseDelayPlugin the retry queues are replaced by an x-delayed-message
// exchange bound to the main queues, and each retry carries its own x-delay.
//
// Events arrive on a fanout exchange bound to one events queue per kind.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"eventrelay/internal/config"
	"eventrelay/internal/queue"
	"eventrelay/internal/types"
)

// Channel is the subset of *amqp.Channel used by this package.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	NotifyReturn(c chan amqp.Return) chan amqp.Return
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

var (
	// ErrNotConfirmed is returned when the broker negatively acknowledges a
	// publish.
	ErrNotConfirmed = errors.New("rabbitmq: publish not confirmed by broker")
	// ErrUnroutable is returned when a mandatory publish matched no queue.
	ErrUnroutable = errors.New("rabbitmq: publish returned as unroutable")
)

const (
	// delayedExchangeType is provided by rabbitmq_delayed_message_exchange.
	delayedExchangeType = "x-delayed-message"
	delayHeader         = "x-delay"
)

// Service owns one lazily dialled connection and hands out a fresh channel
// per operation. A closed connection is redialled on next use.
type Service struct {
	cfg    config.RabbitMQConfig
	logger types.Logger
	clock  types.Clock

	mu   sync.Mutex
	conn *amqp.Connection

	openChannel func() (Channel, error)
}

// NewService creates a Service. No connection is made until first use.
func NewService(cfg config.RabbitMQConfig, logger types.Logger) *Service {
	s := &Service{cfg: cfg, logger: logger, clock: types.RealClock{}}
	s.openChannel = s.dialChannel
	return s
}

func (s *Service) dialChannel() (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || s.conn.IsClosed() {
		conn, err := amqp.Dial(s.cfg.URL.Unmask())
		if err != nil {
			return nil, fmt.Errorf("rabbitmq: dial: %w", err)
		}
		s.conn = conn
		s.logger.Info("rabbitmq connection established")
	}

	ch, err := s.conn.Channel()
	if err != nil {
		// A channel failure usually means the connection is gone.
		_ = s.conn.Close()
		s.conn = nil
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	return ch, nil
}

// Close closes the connection if one is open.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// Ping opens and closes a channel, dialling if needed.
func (s *Service) Ping() error {
	return s.withChannel(func(Channel) error { return nil })
}

func (s *Service) withChannel(fn func(Channel) error) error {
	ch, err := s.openChannel()
	if err != nil {
		return err
	}
	defer ch.Close()
	return fn(ch)
}

// DeclareIntegrationTopology ensures the integration exchange and the main
// and dead-letter queues for kind exist, plus either the kind's retry queue
// or, with UseDelayPlugin, the delayed exchange binding. Declarations are
// idempotent.
func (s *Service) DeclareIntegrationTopology(kind types.IntegrationType) error {
	exchange := s.cfg.IntegrationExchange
	mainQueue := queue.IntegrationQueueName(kind)
	retryQueue := queue.RetryQueueName(kind)

	return s.withChannel(func(ch Channel) error {
		if err := ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", exchange, err)
		}
		if _, err := ch.QueueDeclare(queue.DeadLetterQueueName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare dlq: %w", err)
		}
		if _, err := ch.QueueDeclare(mainQueue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", mainQueue, err)
		}
		if err := ch.QueueBind(mainQueue, kind.RoutingKey(), exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", mainQueue, err)
		}

		if s.cfg.UseDelayPlugin {
			delayed := s.cfg.DelayedExchange
			if err := ch.ExchangeDeclare(delayed, delayedExchangeType, true, false, false, false, delayedExchangeArgs()); err != nil {
				return fmt.Errorf("declare exchange %s: %w", delayed, err)
			}
			if err := ch.QueueBind(mainQueue, kind.RoutingKey(), delayed, false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", mainQueue, delayed, err)
			}
			return nil
		}

		if _, err := ch.QueueDeclare(retryQueue, true, false, false, false, retryQueueArgs(exchange, kind, s.cfg.RetryTiming)); err != nil {
			return fmt.Errorf("declare queue %s: %w", retryQueue, err)
		}
		return nil
	})
}

// DeclareEventTopology ensures the event fanout exchange and the events
// queue for kind exist and are bound.
func (s *Service) DeclareEventTopology(kind types.IntegrationType) error {
	exchange := s.cfg.EventExchange
	name := queue.EventQueueName(kind)

	return s.withChannel(func(ch Channel) error {
		if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", exchange, err)
		}
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", name, err)
		}
		if err := ch.QueueBind(name, "", exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", name, err)
		}
		return nil
	})
}

// publish sends msg as mandatory in confirm mode and waits for the broker's
// ack. A message the broker returns as unroutable fails with ErrUnroutable.
func (s *Service) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	return s.publishConfirmed(ctx, exchange, key, true, msg)
}

// publishDelayed publishes through the delayed exchange. The plugin routes
// only when the delay expires, so the broker would return every mandatory
// publish; these go out non-mandatory.
func (s *Service) publishDelayed(ctx context.Context, key string, delay time.Duration, msg amqp.Publishing) error {
	if msg.Headers == nil {
		msg.Headers = amqp.Table{}
	}
	msg.Headers[delayHeader] = max(delay.Milliseconds(), 0)
	return s.publishConfirmed(ctx, s.cfg.DelayedExchange, key, false, msg)
}

func (s *Service) publishConfirmed(ctx context.Context, exchange, key string, mandatory bool, msg amqp.Publishing) error {
	return s.withChannel(func(ch Channel) error {
		if err := ch.Confirm(false); err != nil {
			return fmt.Errorf("enable confirms: %w", err)
		}
		confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
		returns := ch.NotifyReturn(make(chan amqp.Return, 1))

		if err := ch.Publish(exchange, key, mandatory, false, msg); err != nil {
			return fmt.Errorf("publish to %q with key %q: %w", exchange, key, err)
		}

		select {
		case c, ok := <-confirms:
			if !ok || !c.Ack {
				return ErrNotConfirmed
			}
		case <-ctx.Done():
			return ctx.Err()
		}

		// basic.return precedes the ack on the wire, so it is already queued.
		select {
		case r := <-returns:
			return fmt.Errorf("%w: exchange %q key %q: %d %s", ErrUnroutable, exchange, key, r.ReplyCode, r.ReplyText)
		default:
			return nil
		}
	})
}

// retryQueueArgs gives the retry queue of kind a fixed TTL and routes expired
// messages back to the main queue.
func retryQueueArgs(exchange string, kind types.IntegrationType, ttl time.Duration) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    exchange,
		"x-dead-letter-routing-key": kind.RoutingKey(),
		"x-message-ttl":             ttl.Milliseconds(),
	}
}

func delayedExchangeArgs() amqp.Table {
	return amqp.Table{"x-delayed-type": amqp.ExchangeDirect}
}

func persistent(body []byte, now time.Time) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    now,
		Body:         body,
	}
}
