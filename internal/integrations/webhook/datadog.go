package webhook

import (
	"context"
	"fmt"
	"net/http"

	"eventrelay/internal/config"
	"eventrelay/internal/integrations/core"
	"eventrelay/internal/security"
	"eventrelay/internal/types"
)

// DatadogAPIKeyHeader carries the configured API key on every Datadog request.
const DatadogAPIKeyHeader = "DD-API-KEY"

type DatadogMessage = types.IntegrationMessage[types.DatadogIntegrationConfigurationDetails]

var _ core.IntegrationHandler[types.DatadogIntegrationConfigurationDetails] = (*DatadogHandler)(nil)

// DatadogHandler posts rendered templates to a Datadog intake URI. Status
// classification and Retry-After handling are the webhook handler's.
type DatadogHandler struct {
	h *Handler
}

// NewDatadogHandler creates a DatadogHandler with an SSRF-safe HTTP client.
func NewDatadogHandler(cfg *config.WebhookConfig, logger types.Logger) (*DatadogHandler, error) {
	if cfg == nil {
		return nil, fmt.Errorf("datadog handler: config is nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("datadog handler: logger is nil")
	}
	client := security.NewSafeHTTPClient(cfg.DefaultTimeout, cfg.MaxRedirects)
	return NewDatadogHandlerWithClient(cfg, client, logger), nil
}

// NewDatadogHandlerWithClient creates a DatadogHandler with a caller-supplied
// HTTP client.
func NewDatadogHandlerWithClient(cfg *config.WebhookConfig, httpClient *http.Client, logger types.Logger) *DatadogHandler {
	return &DatadogHandler{h: NewHandlerWithClient(types.IntegrationDatadog, cfg, httpClient, logger)}
}

// SetClock overrides the clock for testing.
func (d *DatadogHandler) SetClock(c types.Clock) {
	d.h.SetClock(c)
}

func (d *DatadogHandler) Handle(ctx context.Context, msg *DatadogMessage) (*types.IntegrationHandlerResult, error) {
	cfg := msg.Configuration
	if err := validate.Struct(cfg); err != nil {
		return types.Failed(msg, types.FailureConfigurationError,
			fmt.Sprintf("invalid datadog configuration: %v", err)), nil
	}

	header := http.Header{}
	header.Set(DatadogAPIKeyHeader, cfg.APIKey)
	log := d.h.logger.With("message_id", msg.MessageID, "organization_id", msg.OrganizationID)
	return d.h.post(ctx, msg, cfg.URI, msg.RenderedTemplate, header, log), nil
}
