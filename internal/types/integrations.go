package types

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// OrganizationIntegrationConfigurationDetails is one configured destination for
// an organization's events. It joins the integration row (kind plus shared
// settings such as tokens) with the configuration row (event type, template,
// per-destination settings). EventType nil means the configuration applies to
// every event type.
type OrganizationIntegrationConfigurationDetails struct {
	ID                        uuid.UUID       `json:"id"`
	OrganizationIntegrationID uuid.UUID       `json:"organization_integration_id"`
	OrganizationID            uuid.UUID       `json:"organization_id"`
	IntegrationType           IntegrationType `json:"integration_type"`
	EventType                 *EventType      `json:"event_type,omitempty"`
	Configuration             json.RawMessage `json:"configuration,omitempty"`
	IntegrationConfiguration  json.RawMessage `json:"integration_configuration,omitempty"`
	Template                  string          `json:"template"`
	Filters                   string          `json:"filters,omitempty"`
}

// MergedConfiguration overlays the configuration-level object onto the
// integration-level object. Keys set on the configuration win.
func (d *OrganizationIntegrationConfigurationDetails) MergedConfiguration() (json.RawMessage, error) {
	merged := make(map[string]json.RawMessage)
	for _, src := range []json.RawMessage{d.IntegrationConfiguration, d.Configuration} {
		if len(src) == 0 || string(src) == "null" {
			continue
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(src, &obj); err != nil {
			return nil, fmt.Errorf("configuration %s is not a JSON object: %w", d.ID, err)
		}
		for k, v := range obj {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// WebhookIntegrationConfigurationDetails configures webhook and HEC delivery.
// Scheme and Token, when both set, produce an Authorization header.
type WebhookIntegrationConfigurationDetails struct {
	URI    string `json:"uri" validate:"required,url"`
	Scheme string `json:"scheme,omitempty"`
	Token  string `json:"token,omitempty"`
}

// DatadogIntegrationConfigurationDetails configures delivery to a Datadog
// events intake. APIKey is sent as the DD-API-KEY header.
type DatadogIntegrationConfigurationDetails struct {
	APIKey string `json:"api_key" validate:"required"`
	URI    string `json:"uri" validate:"required,url"`
}

// SlackIntegrationConfigurationDetails configures chat delivery.
type SlackIntegrationConfigurationDetails struct {
	ChannelID string `json:"channel_id" validate:"required"`
	Token     string `json:"token" validate:"required"`
}
