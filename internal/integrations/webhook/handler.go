// Package webhook delivers rendered templates to customer HTTP endpoints.
// The same handler serves the plain webhook kind and the HEC kind; HEC
// configurations carry the Scheme and Token that become the Authorization
// header. DatadogHandler reuses the same request path with a DD-API-KEY
// header.
//
// Every request goes through the SSRF-safe client from internal/security.
package webhook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"eventrelay/internal/config"
	"eventrelay/internal/integrations/core"
	"eventrelay/internal/security"
	"eventrelay/internal/types"
)

const (
	// maxResponseBodyRead limits how much of a response body is kept for
	// failure reasons.
	maxResponseBodyRead = 512

	// maxRetryAfter caps a server's Retry-After hint.
	maxRetryAfter = 24 * time.Hour
)

var validate = validator.New()

type Message = types.IntegrationMessage[types.WebhookIntegrationConfigurationDetails]

var _ core.IntegrationHandler[types.WebhookIntegrationConfigurationDetails] = (*Handler)(nil)

// Handler posts IntegrationMessage.RenderedTemplate to the configured URI.
type Handler struct {
	kind       types.IntegrationType
	httpClient *http.Client
	userAgent  string
	logger     types.Logger
	clock      types.Clock
}

// NewHandler creates a Handler for kind with an SSRF-safe HTTP client.
func NewHandler(kind types.IntegrationType, cfg *config.WebhookConfig, logger types.Logger) (*Handler, error) {
	if cfg == nil {
		return nil, fmt.Errorf("webhook handler: config is nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("webhook handler: logger is nil")
	}
	client := security.NewSafeHTTPClient(cfg.DefaultTimeout, cfg.MaxRedirects)
	return NewHandlerWithClient(kind, cfg, client, logger), nil
}

// NewHandlerWithClient creates a Handler with a caller-supplied HTTP client.
func NewHandlerWithClient(kind types.IntegrationType, cfg *config.WebhookConfig, httpClient *http.Client, logger types.Logger) *Handler {
	return &Handler{
		kind:       kind,
		httpClient: httpClient,
		userAgent:  cfg.UserAgent,
		logger:     logger.With("integration_type", string(kind)),
		clock:      types.RealClock{},
	}
}

// SetClock overrides the clock for testing.
func (h *Handler) SetClock(c types.Clock) {
	h.clock = c
}

// Handle performs one POST and classifies the outcome:
//
//   - 2xx: success
//   - 429: rate limited, Retry-After becomes the not-before hint
//   - 408, 500, 502, 503, 504: retryable, Retry-After honoured when present
//   - 401, 403: authentication failure
//   - any other status: permanent failure
//   - network error: transient
//   - SSRF rejection or invalid configuration: configuration error
func (h *Handler) Handle(ctx context.Context, msg *Message) (*types.IntegrationHandlerResult, error) {
	cfg := msg.Configuration
	if err := validate.Struct(cfg); err != nil {
		return types.Failed(msg, types.FailureConfigurationError,
			fmt.Sprintf("invalid %s configuration: %v", h.kind, err)), nil
	}

	header := http.Header{}
	if cfg.Scheme != "" && cfg.Token != "" {
		header.Set("Authorization", cfg.Scheme+" "+cfg.Token)
	}
	log := h.logger.With("message_id", msg.MessageID, "organization_id", msg.OrganizationID)
	return h.post(ctx, msg, cfg.URI, msg.RenderedTemplate, header, log), nil
}

// post sends body to uri with the extra headers and classifies the response.
func (h *Handler) post(ctx context.Context, msg types.Envelope, uri, body string, header http.Header, log types.Logger) *types.IntegrationHandlerResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, strings.NewReader(body))
	if err != nil {
		return types.Failed(msg, types.FailureConfigurationError,
			fmt.Sprintf("invalid %s uri: %v", h.kind, err))
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		if security.IsSSRFError(err) {
			log.Error("webhook target blocked", "error", err.Error())
			return types.Failed(msg, types.FailureConfigurationError,
				fmt.Sprintf("ssrf_blocked: %v", err))
		}
		log.Warn("webhook network error", "error", err.Error())
		return types.Failed(msg, types.FailureTransientError,
			fmt.Sprintf("network_error: %v", err))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyRead))
	status := resp.StatusCode

	if status >= 200 && status < 300 {
		return types.Succeeded(msg)
	}

	reason := fmt.Sprintf("%s returned %d %s", h.kind, status, http.StatusText(status))
	if trimmed := strings.TrimSpace(string(respBody)); trimmed != "" {
		reason += ": " + trimmed
	}
	log.Warn("webhook delivery failed", "status", status)

	var result *types.IntegrationHandlerResult
	switch status {
	case http.StatusTooManyRequests:
		result = types.Failed(msg, types.FailureRateLimited, reason)
	case http.StatusServiceUnavailable:
		result = types.Failed(msg, types.FailureServiceUnavailable, reason)
	case http.StatusRequestTimeout, http.StatusInternalServerError, http.StatusBadGateway, http.StatusGatewayTimeout:
		result = types.Failed(msg, types.FailureTransientError, reason)
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.Failed(msg, types.FailureAuthenticationFailed, reason)
	default:
		return types.Failed(msg, types.FailurePermanent, reason)
	}

	if delay, ok := parseRetryAfter(resp.Header.Get("Retry-After"), h.clock); ok {
		result.WithDelayUntil(h.clock.Now().Add(delay))
	}
	return result
}

// parseRetryAfter accepts delta-seconds or an HTTP-date. ok is false when the
// header is absent or unparseable, leaving the delay to the listener's
// backoff. Hints longer than maxRetryAfter are clamped to it.
func parseRetryAfter(header string, clock types.Clock) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}

	if seconds, err := strconv.ParseInt(header, 10, 64); err == nil {
		if seconds < 0 {
			return 0, false
		}
		if seconds > int64(maxRetryAfter/time.Second) {
			return maxRetryAfter, true
		}
		return time.Duration(seconds) * time.Second, true
	}

	if t, err := http.ParseTime(header); err == nil {
		delay := t.Sub(clock.Now())
		return min(max(delay, 0), maxRetryAfter), true
	}

	return 0, false
}
