// Package awssqs implements the queue contracts on Amazon SQS. Queue URLs are
// formed by appending the queue name to an account-scoped prefix. Delays use
// SQS DelaySeconds, which caps at 15 minutes; longer not-before instants are
// honoured by the listener re-parking early arrivals.
package awssqs

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/coder/retry"

	"eventrelay/internal/queue"
	"eventrelay/internal/types"
)

// MaxDelay is the longest DelaySeconds SQS accepts.
const MaxDelay = 900 * time.Second

// Client abstracts the SQS operations used by this package.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type Client interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

var (
	_ queue.Publisher  = (*Publisher)(nil)
	_ queue.RetryQueue = (*RetryQueue)(nil)
	_ queue.Consumer   = (*Consumer)(nil)
)

// QueueURL joins prefix and name, inserting a slash when prefix lacks one.
func QueueURL(prefix, name string) string {
	if prefix != "" && prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}
	return prefix + name
}

// delaySeconds converts the time until notBefore into SQS DelaySeconds,
// clamped to [0, 900].
func delaySeconds(notBefore, now time.Time) int32 {
	d := notBefore.Sub(now)
	if d <= 0 {
		return 0
	}
	if d > MaxDelay {
		d = MaxDelay
	}
	return int32((d + time.Second - 1) / time.Second)
}

// Publisher sends integration messages to the main queue of their kind.
type Publisher struct {
	client Client
	prefix string
	clock  types.Clock
	logger types.Logger
}

// NewPublisher creates a Publisher for queues under prefix.
func NewPublisher(client Client, prefix string, logger types.Logger) *Publisher {
	return &Publisher{client: client, prefix: prefix, clock: types.RealClock{}, logger: logger}
}

// Publish serializes msg and sends it. A not-before already set on the
// message becomes the initial delay.
func (p *Publisher) Publish(ctx context.Context, msg types.Envelope) error {
	body, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("sqs publisher: failed to marshal message %s: %w", msg.ID(), err)
	}

	var delay int32
	if nb := msg.NotBefore(); nb != nil {
		delay = delaySeconds(*nb, p.clock.Now())
	}

	url := QueueURL(p.prefix, queue.IntegrationQueueName(msg.Kind()))
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(url),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: delay,
	})
	if err != nil {
		return fmt.Errorf("sqs publisher: failed to send message to %s: %w", url, err)
	}

	p.logger.Info("integration message published",
		"message_id", msg.ID(),
		"integration_type", string(msg.Kind()),
		"delay_seconds", delay,
	)
	return nil
}

// RetryQueue implements the retry and dead-letter paths for one kind. A retry
// goes back onto the main queue with a delivery delay.
type RetryQueue struct {
	client  Client
	mainURL string
	deadURL string
	clock   types.Clock
}

// NewRetryQueue creates the retry path for kind.
func NewRetryQueue(client Client, prefix string, kind types.IntegrationType) *RetryQueue {
	return &RetryQueue{
		client:  client,
		mainURL: QueueURL(prefix, queue.IntegrationQueueName(kind)),
		deadURL: QueueURL(prefix, queue.DeadLetterQueueName),
		clock:   types.RealClock{},
	}
}

// SetClock overrides the clock used to compute delays.
func (q *RetryQueue) SetClock(c types.Clock) { q.clock = c }

// PublishToRetry re-enqueues body on the main queue, delayed until notBefore
// or by MaxDelay, whichever is sooner.
func (q *RetryQueue) PublishToRetry(ctx context.Context, body []byte, notBefore time.Time) error {
	delay := delaySeconds(notBefore, q.clock.Now())
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(q.mainURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: delay,
	})
	if err != nil {
		return fmt.Errorf("sqs retry: failed to send message to %s: %w", q.mainURL, err)
	}
	return nil
}

// PublishToDeadLetter parks body on the shared dead-letter queue.
func (q *RetryQueue) PublishToDeadLetter(ctx context.Context, body []byte, reason string) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.deadURL),
		MessageBody: aws.String(string(body)),
	}
	if reason != "" {
		input.MessageAttributes = map[string]sqstypes.MessageAttributeValue{
			queue.FailureReasonAttribute: {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
		}
	}
	if _, err := q.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("sqs dead-letter: failed to send message to %s: %w", q.deadURL, err)
	}
	return nil
}

// Consumer long-polls one queue and hands each body to a MessageFunc.
// Messages are processed one at a time; a message is deleted only after fn
// returns nil, otherwise it becomes visible again after the visibility
// timeout.
//
// Every receive asks for the consumer's visibility timeout, which must cover
// the whole batch. Messages still unhandled once that window has elapsed are
// skipped, since another receiver may already hold them.
type Consumer struct {
	client     Client
	url        string
	waitTime   int32
	batchSize  int32
	visibility time.Duration
	clock      types.Clock
	logger     types.Logger
}

// NewConsumer creates a Consumer for the queue named name under prefix.
// visibility is requested on every receive; zero keeps the queue's default
// and disables the elapsed-window check.
func NewConsumer(client Client, prefix, name string, waitTime, batchSize int32, visibility time.Duration, logger types.Logger) *Consumer {
	return &Consumer{
		client:     client,
		url:        QueueURL(prefix, name),
		waitTime:   waitTime,
		batchSize:  batchSize,
		visibility: visibility,
		clock:      types.RealClock{},
		logger:     logger.With("queue", name),
	}
}

// SetClock overrides the clock used to track the visibility window.
func (c *Consumer) SetClock(clock types.Clock) { c.clock = clock }

// Consume polls until ctx is cancelled. Receive errors back off and retry.
// Messages already received when ctx is cancelled are left undeleted.
func (c *Consumer) Consume(ctx context.Context, fn queue.MessageFunc) error {
	for retrier := retry.New(100*time.Millisecond, 30*time.Second); retrier.Wait(ctx); {
		received := c.clock.Now()
		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.url),
			MaxNumberOfMessages: c.batchSize,
			WaitTimeSeconds:     c.waitTime,
			VisibilityTimeout:   int32(c.visibility / time.Second),
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("sqs receive failed", "error", err.Error())
			continue
		}
		retrier.Reset()

		for i, m := range out.Messages {
			if ctx.Err() != nil {
				return nil
			}
			if c.visibility > 0 && c.clock.Now().Sub(received) >= c.visibility {
				c.logger.Warn("visibility timeout elapsed, leaving rest of batch for redelivery",
					"skipped", len(out.Messages)-i,
					"visibility", c.visibility.String(),
				)
				break
			}
			c.handle(ctx, m, fn)
		}
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, m sqstypes.Message, fn queue.MessageFunc) {
	id := aws.ToString(m.MessageId)
	if err := fn(ctx, []byte(aws.ToString(m.Body))); err != nil {
		c.logger.Warn("message left for redelivery", "sqs_message_id", id, "error", err.Error())
		return
	}
	// The outcome is already durable; deletion must not be skipped on shutdown.
	_, err := c.client.DeleteMessage(context.WithoutCancel(ctx), &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.url),
		ReceiptHandle: m.ReceiptHandle,
	})
	if err != nil {
		c.logger.Error("failed to delete message", "sqs_message_id", id, "error", err.Error())
	}
}
