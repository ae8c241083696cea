package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventrelay/internal/logging"
	"eventrelay/internal/queue"
	"eventrelay/internal/types"
)

type recordingEventHandler struct {
	single []types.EventMessage
	many   [][]types.EventMessage
	err    error
}

func (h *recordingEventHandler) HandleEvent(_ context.Context, event types.EventMessage) error {
	h.single = append(h.single, event)
	return h.err
}

func (h *recordingEventHandler) HandleManyEvents(_ context.Context, events []types.EventMessage) error {
	h.many = append(h.many, events)
	return h.err
}

type sliceConsumer struct{ bodies [][]byte }

func (c *sliceConsumer) Consume(ctx context.Context, fn queue.MessageFunc) error {
	for _, b := range c.bodies {
		if err := fn(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

func TestEventListener_SingleEvent(t *testing.T) {
	h := &recordingEventHandler{}
	l := NewEventListener(h, nil, logging.Discard())

	err := l.ProcessMessage(context.Background(), []byte(`{"type":1101,"date":"2026-03-01T12:00:00Z"}`))
	require.NoError(t, err)

	require.Len(t, h.single, 1)
	assert.Equal(t, types.EventCipherUpdated, h.single[0].Type)
	assert.Empty(t, h.many)
}

func TestEventListener_EventArray(t *testing.T) {
	h := &recordingEventHandler{}
	l := NewEventListener(h, nil, logging.Discard())

	body := ` [{"type":1000,"date":"2026-03-01T12:00:00Z"},{"type":1101,"date":"2026-03-01T12:00:01Z"}]`
	require.NoError(t, l.ProcessMessage(context.Background(), []byte(body)))

	require.Len(t, h.many, 1)
	require.Len(t, h.many[0], 2)
	assert.Equal(t, types.EventUserLoggedIn, h.many[0][0].Type)
	assert.Empty(t, h.single)
}

func TestEventListener_UndecodableBodyIsAcknowledged(t *testing.T) {
	h := &recordingEventHandler{}
	l := NewEventListener(h, nil, logging.Discard())

	assert.NoError(t, l.ProcessMessage(context.Background(), []byte(`not json`)))
	assert.NoError(t, l.ProcessMessage(context.Background(), []byte(`[{"type":"oops"`)))
	assert.Empty(t, h.single)
	assert.Empty(t, h.many)
}

func TestEventListener_DispatchErrorIsReturned(t *testing.T) {
	boom := errors.New("lookup failed")
	h := &recordingEventHandler{err: boom}
	l := NewEventListener(h, nil, logging.Discard())

	err := l.ProcessMessage(context.Background(), []byte(`{"type":1000,"date":"2026-03-01T12:00:00Z"}`))
	assert.ErrorIs(t, err, boom)
}

func TestEventListener_RunFeedsConsumer(t *testing.T) {
	h := &recordingEventHandler{}
	consumer := &sliceConsumer{bodies: [][]byte{
		[]byte(`{"type":1000,"date":"2026-03-01T12:00:00Z"}`),
		[]byte(`{"type":1001,"date":"2026-03-01T12:00:00Z"}`),
	}}
	l := NewEventListener(h, consumer, logging.Discard())

	require.NoError(t, l.Run(context.Background()))
	assert.Len(t, h.single, 2)
}
