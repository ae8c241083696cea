// Package slack delivers rendered templates to a Slack channel through the
// Web API.
package slack

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"eventrelay/internal/external"
	"eventrelay/internal/integrations/core"
	"eventrelay/internal/types"
)

var validate = validator.New()

type Message = types.IntegrationMessage[types.SlackIntegrationConfigurationDetails]

// Poster is the slice of the Slack client the handler needs.
type Poster interface {
	PostMessage(ctx context.Context, token, channelID, text string) (*external.SlackResponse, error)
}

var _ Poster = (*external.SlackClient)(nil)

var _ core.IntegrationHandler[types.SlackIntegrationConfigurationDetails] = (*Handler)(nil)

// Handler posts IntegrationMessage.RenderedTemplate as a chat message.
type Handler struct {
	client Poster
	logger types.Logger
	clock  types.Clock
}

// NewHandler creates a Slack handler.
func NewHandler(client Poster, logger types.Logger) *Handler {
	return &Handler{
		client: client,
		logger: logger.With("integration_type", string(types.IntegrationSlack)),
		clock:  types.RealClock{},
	}
}

// SetClock overrides the clock for testing.
func (h *Handler) SetClock(c types.Clock) {
	h.clock = c
}

// Handle sends one message and classifies the outcome. Slack error codes that
// cannot succeed later are non-retryable; token problems among them are
// reported as authentication failures.
func (h *Handler) Handle(ctx context.Context, msg *Message) (*types.IntegrationHandlerResult, error) {
	cfg := msg.Configuration
	if err := validate.Struct(cfg); err != nil {
		return types.Failed(msg, types.FailureConfigurationError,
			fmt.Sprintf("invalid slack configuration: %v", err)), nil
	}

	_, err := h.client.PostMessage(ctx, cfg.Token, cfg.ChannelID, msg.RenderedTemplate)
	if err == nil {
		return types.Succeeded(msg), nil
	}

	log := h.logger.With("message_id", msg.MessageID, "organization_id", msg.OrganizationID)
	log.Warn("slack delivery failed", "error", err.Error())

	var apiErr *external.SlackAPIError
	if errors.As(err, &apiErr) {
		switch {
		case external.SlackAuthErrors[apiErr.Code]:
			return types.Failed(msg, types.FailureAuthenticationFailed, apiErr.Error()), nil
		case apiErr.Permanent():
			return types.Failed(msg, types.FailurePermanent, apiErr.Error()), nil
		case apiErr.Code == "ratelimited":
			return types.Failed(msg, types.FailureRateLimited, apiErr.Error()), nil
		default:
			return types.Failed(msg, types.FailureTransientError, apiErr.Error()), nil
		}
	}

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		var result *types.IntegrationHandlerResult
		switch appErr.Code {
		case types.ErrCodeUpstreamRateLimited:
			result = types.Failed(msg, types.FailureRateLimited, appErr.Error())
		case types.ErrCodeUpstreamUnavailable:
			result = types.Failed(msg, types.FailureServiceUnavailable, appErr.Error())
		case types.ErrCodeValidationConfiguration:
			return types.Failed(msg, types.FailureConfigurationError, appErr.Error()), nil
		default:
			result = types.Failed(msg, types.FailureTransientError, appErr.Error())
		}
		if d, ok := external.RetryAfterFrom(err); ok {
			result.WithDelayUntil(h.clock.Now().Add(d))
		}
		return result, nil
	}

	return types.Failed(msg, types.FailureTransientError, err.Error()), nil
}
