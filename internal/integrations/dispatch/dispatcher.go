// Package dispatch turns domain events into integration messages. For each
// event it looks up the organization's configurations for one integration
// kind, filters them, renders the template and publishes one message per
// surviving configuration.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"eventrelay/internal/integrations/filters"
	"eventrelay/internal/integrations/templates"
	"eventrelay/internal/queue"
	"eventrelay/internal/types"
)

var validate = validator.New()

// ConfigurationProvider returns the configurations that apply to an event.
type ConfigurationProvider interface {
	GetConfigurationDetails(ctx context.Context, orgID uuid.UUID, kind types.IntegrationType, eventType types.EventType) ([]types.OrganizationIntegrationConfigurationDetails, error)
}

// ContextBuilder resolves the entities a template references.
type ContextBuilder interface {
	Build(ctx context.Context, event types.EventMessage, template string) *templates.IntegrationTemplateContext
}

// EventHandler is the kind-agnostic view of a dispatcher.
type EventHandler interface {
	HandleEvent(ctx context.Context, event types.EventMessage) error
	HandleManyEvents(ctx context.Context, events []types.EventMessage) error
}

var _ EventHandler = (*EventIntegrationDispatcher[types.SlackIntegrationConfigurationDetails])(nil)

// EventIntegrationDispatcher publishes IntegrationMessage[T] for one
// integration kind. T is the configuration shape that kind's handler expects.
type EventIntegrationDispatcher[T any] struct {
	kind      types.IntegrationType
	configs   ConfigurationProvider
	builder   ContextBuilder
	publisher queue.Publisher
	logger    types.Logger
	newID     func() string
}

// NewEventIntegrationDispatcher creates a dispatcher for kind.
func NewEventIntegrationDispatcher[T any](kind types.IntegrationType, configs ConfigurationProvider, builder ContextBuilder, publisher queue.Publisher, logger types.Logger) *EventIntegrationDispatcher[T] {
	return &EventIntegrationDispatcher[T]{
		kind:      kind,
		configs:   configs,
		builder:   builder,
		publisher: publisher,
		logger:    logger.With("integration_type", string(kind)),
		newID:     uuid.NewString,
	}
}

// HandleEvent publishes one message per applicable configuration. A single
// bad configuration (invalid filter or settings) or a failed publish is
// logged and skipped so it cannot block the others. Only a failed
// configuration lookup is returned, which lets the broker redeliver the event.
func (d *EventIntegrationDispatcher[T]) HandleEvent(ctx context.Context, event types.EventMessage) error {
	if event.OrganizationID == nil {
		return nil
	}
	orgID := *event.OrganizationID

	details, err := d.configs.GetConfigurationDetails(ctx, orgID, d.kind, event.Type)
	if err != nil {
		return fmt.Errorf("dispatch: %s configurations for organization %s: %w", d.kind, orgID, err)
	}

	log := d.logger.With("organization_id", orgID.String(), "event_type", event.Type.String())

	for i := range details {
		cfg := &details[i]
		cfgLog := log.With("configuration_id", cfg.ID.String())

		if !d.passesFilter(cfg, &event, cfgLog) {
			continue
		}

		configuration, ok := d.decodeConfiguration(cfg, cfgLog)
		if !ok {
			continue
		}

		tctx := d.builder.Build(ctx, event, cfg.Template)
		msg := &types.IntegrationMessage[T]{
			IntegrationType:  d.kind,
			MessageID:        d.newID(),
			OrganizationID:   orgID.String(),
			Configuration:    configuration,
			RenderedTemplate: templates.ReplaceTokens(cfg.Template, tctx),
		}

		if err := d.publisher.Publish(ctx, msg); err != nil {
			cfgLog.Error("failed to publish integration message",
				"message_id", msg.MessageID,
				"error", err.Error(),
			)
		}
	}
	return nil
}

// HandleManyEvents dispatches every event and joins the errors. Events that
// succeeded are not rolled back when another fails.
func (d *EventIntegrationDispatcher[T]) HandleManyEvents(ctx context.Context, events []types.EventMessage) error {
	var errs []error
	for _, event := range events {
		if err := d.HandleEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *EventIntegrationDispatcher[T]) passesFilter(cfg *types.OrganizationIntegrationConfigurationDetails, event *types.EventMessage, log types.Logger) bool {
	group, err := filters.Parse(cfg.Filters)
	if err != nil {
		log.Error("skipping configuration with invalid filter", "error", err.Error())
		return false
	}
	ok, err := filters.Evaluate(group, event)
	if err != nil {
		log.Error("skipping configuration whose filter could not be evaluated", "error", err.Error())
		return false
	}
	return ok
}

func (d *EventIntegrationDispatcher[T]) decodeConfiguration(cfg *types.OrganizationIntegrationConfigurationDetails, log types.Logger) (T, bool) {
	var out T
	merged, err := cfg.MergedConfiguration()
	if err == nil {
		err = json.Unmarshal(merged, &out)
	}
	if err == nil {
		err = validate.Struct(out)
	}
	if err != nil {
		log.Error("skipping configuration that does not match integration type", "error", err.Error())
		return out, false
	}
	return out, true
}
