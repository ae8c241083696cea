package dispatch

import (
	"bytes"
	"context"
	"encoding/json"

	"eventrelay/internal/queue"
	"eventrelay/internal/types"
)

// EventListener consumes event bodies from one events queue and feeds them
// to a dispatcher. A body is either one EventMessage or a JSON array of them.
type EventListener struct {
	handler  EventHandler
	consumer queue.Consumer
	logger   types.Logger
}

// NewEventListener creates an EventListener.
func NewEventListener(handler EventHandler, consumer queue.Consumer, logger types.Logger) *EventListener {
	return &EventListener{handler: handler, consumer: consumer, logger: logger}
}

// ProcessMessage decodes body and dispatches its events. Undecodable bodies
// are logged and acknowledged since redelivery cannot fix them. Dispatch
// errors are returned so the broker redelivers the body.
func (l *EventListener) ProcessMessage(ctx context.Context, body []byte) error {
	events, err := decodeEvents(body)
	if err != nil {
		l.logger.Error("discarding undecodable event message", "error", err.Error(), "body_size", len(body))
		return nil
	}
	if len(events) == 1 {
		return l.handler.HandleEvent(ctx, events[0])
	}
	return l.handler.HandleManyEvents(ctx, events)
}

// Run consumes until ctx is cancelled.
func (l *EventListener) Run(ctx context.Context) error {
	return l.consumer.Consume(ctx, l.ProcessMessage)
}

func decodeEvents(body []byte) ([]types.EventMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var events []types.EventMessage
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, err
		}
		return events, nil
	}
	var event types.EventMessage
	if err := json.Unmarshal(trimmed, &event); err != nil {
		return nil, err
	}
	return []types.EventMessage{event}, nil
}
