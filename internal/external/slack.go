package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"eventrelay/internal/types"
)

// maxSlackResponseRead caps how much of a Slack response is decoded.
const maxSlackResponseRead = 64 * 1024

// SlackPermanentErrors are Web API error codes that will not succeed on a
// later attempt without an administrator changing the configuration.
var SlackPermanentErrors = map[string]bool{
	"channel_not_found":       true,
	"not_in_channel":          true,
	"is_archived":             true,
	"channel_is_archived":     true,
	"invalid_auth":            true,
	"not_authed":              true,
	"account_inactive":        true,
	"token_revoked":           true,
	"token_expired":           true,
	"no_permission":           true,
	"missing_scope":           true,
	"restricted_action":       true,
	"msg_too_long":            true,
	"no_text":                 true,
	"invalid_arguments":       true,
	"invalid_blocks":          true,
	"ekm_access_denied":       true,
	"team_access_not_granted": true,
}

// SlackAuthErrors are the subset of permanent errors caused by the token.
var SlackAuthErrors = map[string]bool{
	"invalid_auth":     true,
	"not_authed":       true,
	"account_inactive": true,
	"token_revoked":    true,
	"token_expired":    true,
	"no_permission":    true,
	"missing_scope":    true,
}

// SlackResponse is the envelope shared by all Slack Web API methods.
type SlackResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Warning string `json:"warning,omitempty"`
	Channel string `json:"channel,omitempty"`
	TS      string `json:"ts,omitempty"`
}

// SlackAPIError is returned when Slack answered with ok=false.
type SlackAPIError struct {
	Method string
	Code   string
}

func (e *SlackAPIError) Error() string {
	return fmt.Sprintf("slack %s: %s", e.Method, e.Code)
}

// Permanent reports whether retrying cannot help.
func (e *SlackAPIError) Permanent() bool {
	return SlackPermanentErrors[e.Code]
}

// SlackClient posts messages to the Slack Web API with a bearer token.
type SlackClient struct {
	base    *BaseClient
	baseURL string
}

// NewSlackClient creates a client for the Web API rooted at baseURL
// (normally https://slack.com/api).
func NewSlackClient(base *BaseClient, baseURL string) *SlackClient {
	return &SlackClient{base: base, baseURL: strings.TrimRight(baseURL, "/")}
}

type postMessageRequest struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

// PostMessage calls chat.postMessage. It returns *SlackAPIError for ok=false
// responses and *types.AppError for transport or HTTP-level failures.
func (c *SlackClient) PostMessage(ctx context.Context, token, channelID, text string) (*SlackResponse, error) {
	payload, err := json.Marshal(postMessageRequest{Channel: channelID, Text: text})
	if err != nil {
		return nil, fmt.Errorf("slack: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat.postMessage", bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationConfiguration, "invalid slack request", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSlackResponseRead))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamChat, "failed to read slack response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeUpstreamChat,
			fmt.Sprintf("slack returned HTTP %d", resp.StatusCode), nil,
			map[string]any{"status": resp.StatusCode})
	}

	var out SlackResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamChat, "unparseable slack response", err)
	}
	if !out.OK {
		return &out, &SlackAPIError{Method: "chat.postMessage", Code: out.Error}
	}
	return &out, nil
}
