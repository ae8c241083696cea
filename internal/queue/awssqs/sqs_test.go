package awssqs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventrelay/internal/logging"
	"eventrelay/internal/queue"
	"eventrelay/internal/types"
)

const prefix = "https://sqs.us-east-1.amazonaws.com/123456789012/"

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// fakeClient records sends and serves queued receive batches. When the
// batches run out it cancels the consume context.
type fakeClient struct {
	mu       sync.Mutex
	sent     []*sqs.SendMessageInput
	deleted  []string
	received []*sqs.ReceiveMessageInput
	batches  [][]sqstypes.Message
	recvErrs []error
	sendErr  error
	cancel   context.CancelFunc
}

func (f *fakeClient) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, params)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("sent")}, nil
}

func (f *fakeClient) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, params)
	if len(f.recvErrs) > 0 {
		err := f.recvErrs[0]
		f.recvErrs = f.recvErrs[1:]
		return nil, err
	}
	if len(f.batches) == 0 {
		f.cancel()
		return nil, ctx.Err()
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return &sqs.ReceiveMessageOutput{Messages: batch}, nil
}

func (f *fakeClient) DeleteMessage(_ context.Context, params *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func message(id, body string) sqstypes.Message {
	return sqstypes.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String("rh-" + id),
		Body:          aws.String(body),
	}
}

func TestQueueURL(t *testing.T) {
	assert.Equal(t, prefix+"integrations-webhook", QueueURL(prefix, "integrations-webhook"))
	assert.Equal(t, prefix+"integrations-webhook", QueueURL(prefix[:len(prefix)-1], "integrations-webhook"))
}

func TestDelaySeconds(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, int32(0), delaySeconds(now.Add(-time.Minute), now))
	assert.Equal(t, int32(0), delaySeconds(now, now))
	assert.Equal(t, int32(1), delaySeconds(now.Add(200*time.Millisecond), now))
	assert.Equal(t, int32(30), delaySeconds(now.Add(30*time.Second), now))
	assert.Equal(t, int32(900), delaySeconds(now.Add(15*time.Minute), now))
	assert.Equal(t, int32(900), delaySeconds(now.Add(2*time.Hour), now))
}

func TestPublisher_Publish(t *testing.T) {
	client := &fakeClient{}
	pub := NewPublisher(client, prefix, logging.Discard())

	msg := &types.RawIntegrationMessage{
		IntegrationType:  types.IntegrationSlack,
		MessageID:        "m-1",
		Configuration:    json.RawMessage(`{"channel_id":"C1"}`),
		RenderedTemplate: "hello",
	}
	require.NoError(t, pub.Publish(context.Background(), msg))

	require.Len(t, client.sent, 1)
	in := client.sent[0]
	assert.Equal(t, prefix+"integrations-slack", aws.ToString(in.QueueUrl))
	assert.Equal(t, int32(0), in.DelaySeconds)

	var decoded types.RawIntegrationMessage
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &decoded))
	assert.Equal(t, "m-1", decoded.MessageID)
	assert.Equal(t, "hello", decoded.RenderedTemplate)
}

func TestPublisher_PublishHonoursNotBefore(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	client := &fakeClient{}
	pub := NewPublisher(client, prefix, logging.Discard())
	pub.clock = fixedClock{now: now}

	nb := now.Add(45 * time.Second)
	msg := &types.RawIntegrationMessage{IntegrationType: types.IntegrationWebhook, DelayUntilDate: &nb}
	require.NoError(t, pub.Publish(context.Background(), msg))

	require.Len(t, client.sent, 1)
	assert.Equal(t, int32(45), client.sent[0].DelaySeconds)
}

func TestPublisher_SendError(t *testing.T) {
	client := &fakeClient{sendErr: errors.New("throttled")}
	pub := NewPublisher(client, prefix, logging.Discard())

	err := pub.Publish(context.Background(), &types.RawIntegrationMessage{IntegrationType: types.IntegrationWebhook})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "integrations-webhook")
}

func TestRetryQueue_PublishToRetry(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	client := &fakeClient{}
	q := NewRetryQueue(client, prefix, types.IntegrationHec)
	q.SetClock(fixedClock{now: now})

	require.NoError(t, q.PublishToRetry(context.Background(), []byte(`{"retry_count":1}`), now.Add(20*time.Second)))
	require.NoError(t, q.PublishToRetry(context.Background(), []byte(`{"retry_count":2}`), now.Add(time.Hour)))

	require.Len(t, client.sent, 2)
	assert.Equal(t, prefix+"integrations-hec", aws.ToString(client.sent[0].QueueUrl))
	assert.Equal(t, int32(20), client.sent[0].DelaySeconds)
	assert.Equal(t, `{"retry_count":1}`, aws.ToString(client.sent[0].MessageBody))
	assert.Equal(t, int32(900), client.sent[1].DelaySeconds)
}

func TestRetryQueue_PublishToDeadLetter(t *testing.T) {
	client := &fakeClient{}
	q := NewRetryQueue(client, prefix, types.IntegrationWebhook)

	require.NoError(t, q.PublishToDeadLetter(context.Background(), []byte(`{}`), "HTTP 404"))

	require.Len(t, client.sent, 1)
	in := client.sent[0]
	assert.Equal(t, prefix+queue.DeadLetterQueueName, aws.ToString(in.QueueUrl))
	attr, ok := in.MessageAttributes[queue.FailureReasonAttribute]
	require.True(t, ok)
	assert.Equal(t, "String", aws.ToString(attr.DataType))
	assert.Equal(t, "HTTP 404", aws.ToString(attr.StringValue))
}

func TestRetryQueue_SendErrorIsReturned(t *testing.T) {
	client := &fakeClient{sendErr: errors.New("unavailable")}
	q := NewRetryQueue(client, prefix, types.IntegrationWebhook)

	assert.Error(t, q.PublishToRetry(context.Background(), []byte(`{}`), time.Now()))
	assert.Error(t, q.PublishToDeadLetter(context.Background(), []byte(`{}`), "x"))
}

func TestConsumer_DeletesOnlyAcknowledgedMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeClient{
		cancel: cancel,
		batches: [][]sqstypes.Message{
			{message("a", "ok"), message("b", "fail")},
			{message("c", "ok")},
		},
	}
	c := NewConsumer(client, prefix, "integrations-webhook", 0, 10, 5*time.Minute, logging.Discard())

	var seen []string
	err := c.Consume(ctx, func(_ context.Context, body []byte) error {
		seen = append(seen, string(body))
		if string(body) == "fail" {
			return errors.New("publish failed")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"ok", "fail", "ok"}, seen)
	assert.Equal(t, []string{"rh-a", "rh-c"}, client.deleted)
}

func TestConsumer_ReceiveErrorsAreRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeClient{
		cancel:   cancel,
		recvErrs: []error{errors.New("network")},
		batches:  [][]sqstypes.Message{{message("a", "ok")}},
	}
	c := NewConsumer(client, prefix, "events-webhook", 0, 1, time.Minute, logging.Discard())

	calls := 0
	require.NoError(t, c.Consume(ctx, func(context.Context, []byte) error {
		calls++
		return nil
	}))
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"rh-a"}, client.deleted)
}

func TestConsumer_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &fakeClient{cancel: cancel, batches: [][]sqstypes.Message{{message("a", "ok")}}}
	c := NewConsumer(client, prefix, "integrations-webhook", 0, 1, time.Minute, logging.Discard())

	called := false
	require.NoError(t, c.Consume(ctx, func(context.Context, []byte) error {
		called = true
		return nil
	}))
	assert.False(t, called)
}

func TestConsumer_RequestsVisibilityForWholeBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeClient{cancel: cancel, batches: [][]sqstypes.Message{{message("a", "ok")}}}
	c := NewConsumer(client, prefix, "integrations-webhook", 20, 10, 330*time.Second, logging.Discard())

	require.NoError(t, c.Consume(ctx, func(context.Context, []byte) error { return nil }))

	require.NotEmpty(t, client.received)
	in := client.received[0]
	assert.Equal(t, prefix+"integrations-webhook", aws.ToString(in.QueueUrl))
	assert.Equal(t, int32(10), in.MaxNumberOfMessages)
	assert.Equal(t, int32(20), in.WaitTimeSeconds)
	assert.Equal(t, int32(330), in.VisibilityTimeout)
}

// steppingClock advances by step on every read.
type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

func TestConsumer_SkipsMessagesPastVisibilityWindow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeClient{
		cancel:  cancel,
		batches: [][]sqstypes.Message{{message("a", "a"), message("b", "b"), message("c", "c")}},
	}
	c := NewConsumer(client, prefix, "integrations-webhook", 0, 3, 90*time.Second, logging.Discard())
	// Receive reads the clock at 0s; the three per-message checks see 40s, 80s and 120s.
	c.SetClock(&steppingClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), step: 40 * time.Second})

	var seen []string
	require.NoError(t, c.Consume(ctx, func(_ context.Context, body []byte) error {
		seen = append(seen, string(body))
		return nil
	}))

	assert.Equal(t, []string{"a", "b"}, seen)
	assert.Equal(t, []string{"rh-a", "rh-b"}, client.deleted)
}
