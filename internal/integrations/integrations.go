// Package integrations wires the per-kind pieces together: which handler
// delivers each integration kind and which configuration shape its
// dispatcher decodes.
package integrations

import (
	"fmt"
	"net/http"

	"eventrelay/internal/config"
	"eventrelay/internal/external"
	"eventrelay/internal/integrations/core"
	"eventrelay/internal/integrations/dispatch"
	"eventrelay/internal/integrations/slack"
	"eventrelay/internal/integrations/webhook"
	"eventrelay/internal/queue"
	"eventrelay/internal/types"
)

// NewRegistry registers a handler for every known integration kind. Webhook
// and HEC share the webhook handler; HEC only differs by its configured
// Authorization scheme. Datadog uses the same request path with an API key
// header.
func NewRegistry(cfg *config.Config, logger types.Logger) (*core.Registry, error) {
	r := core.NewRegistry()

	for _, kind := range []types.IntegrationType{types.IntegrationWebhook, types.IntegrationHec} {
		h, err := webhook.NewHandler(kind, &cfg.Webhook, logger)
		if err != nil {
			return nil, fmt.Errorf("integrations: %s handler: %w", kind, err)
		}
		core.Register[types.WebhookIntegrationConfigurationDetails](r, kind, h)
	}

	dd, err := webhook.NewDatadogHandler(&cfg.Webhook, logger)
	if err != nil {
		return nil, fmt.Errorf("integrations: %s handler: %w", types.IntegrationDatadog, err)
	}
	core.Register[types.DatadogIntegrationConfigurationDetails](r, types.IntegrationDatadog, dd)

	userAgent := cfg.Service + "/" + cfg.Build.Version
	base := external.NewBaseClient(&http.Client{Timeout: cfg.Slack.Timeout}, "slack", external.NoRetryPolicy(), userAgent)
	client := external.NewSlackClient(base, cfg.Slack.APIBaseURL)
	core.Register[types.SlackIntegrationConfigurationDetails](r, types.IntegrationSlack, slack.NewHandler(client, logger))

	return r, nil
}

// NewDispatcher builds the dispatcher for kind with the configuration shape
// that kind's handler expects.
func NewDispatcher(
	kind types.IntegrationType,
	configs dispatch.ConfigurationProvider,
	builder dispatch.ContextBuilder,
	publisher queue.Publisher,
	logger types.Logger,
) (dispatch.EventHandler, error) {
	switch kind {
	case types.IntegrationWebhook, types.IntegrationHec:
		return dispatch.NewEventIntegrationDispatcher[types.WebhookIntegrationConfigurationDetails](kind, configs, builder, publisher, logger), nil
	case types.IntegrationSlack:
		return dispatch.NewEventIntegrationDispatcher[types.SlackIntegrationConfigurationDetails](kind, configs, builder, publisher, logger), nil
	case types.IntegrationDatadog:
		return dispatch.NewEventIntegrationDispatcher[types.DatadogIntegrationConfigurationDetails](kind, configs, builder, publisher, logger), nil
	default:
		return nil, fmt.Errorf("integrations: no dispatcher for kind %q", kind)
	}
}
