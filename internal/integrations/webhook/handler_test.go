package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventrelay/internal/config"
	"eventrelay/internal/logging"
	"eventrelay/internal/types"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() *config.WebhookConfig {
	return &config.WebhookConfig{
		UserAgent:      "EventRelay-Webhook/test",
		DefaultTimeout: 5 * time.Second,
		MaxRedirects:   3,
	}
}

func newTestHandler(t *testing.T, kind types.IntegrationType, srv *httptest.Server) *Handler {
	t.Helper()
	h := NewHandlerWithClient(kind, testConfig(), srv.Client(), logging.Discard())
	h.SetClock(fixedClock{now: testNow})
	return h
}

func message(uri string) *Message {
	return &Message{
		IntegrationType:  types.IntegrationWebhook,
		MessageID:        "msg-1",
		OrganizationID:   "org-1",
		Configuration:    types.WebhookIntegrationConfigurationDetails{URI: uri},
		RenderedTemplate: `{"event":"Cipher_Created"}`,
	}
}

func TestHandler_Handle_Success(t *testing.T) {
	var gotBody, gotContentType, gotAuth, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotContentType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	msg := message(srv.URL)
	res, err := newTestHandler(t, types.IntegrationWebhook, srv).Handle(context.Background(), msg)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Same(t, msg, res.Message)
	assert.Equal(t, `{"event":"Cipher_Created"}`, gotBody)
	assert.Equal(t, "application/json", gotContentType)
	assert.Empty(t, gotAuth)
	assert.Equal(t, "EventRelay-Webhook/test", gotUA)
}

func TestHandler_Handle_HecSetsAuthorization(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	msg := message(srv.URL)
	msg.IntegrationType = types.IntegrationHec
	msg.Configuration.Scheme = "Splunk"
	msg.Configuration.Token = "hec-token"

	res, err := newTestHandler(t, types.IntegrationHec, srv).Handle(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Splunk hec-token", gotAuth)
}

func TestHandler_Handle_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		category  types.FailureCategory
		retryable bool
	}{
		{http.StatusTooManyRequests, types.FailureRateLimited, true},
		{http.StatusServiceUnavailable, types.FailureServiceUnavailable, true},
		{http.StatusRequestTimeout, types.FailureTransientError, true},
		{http.StatusInternalServerError, types.FailureTransientError, true},
		{http.StatusBadGateway, types.FailureTransientError, true},
		{http.StatusGatewayTimeout, types.FailureTransientError, true},
		{http.StatusUnauthorized, types.FailureAuthenticationFailed, false},
		{http.StatusForbidden, types.FailureAuthenticationFailed, false},
		{http.StatusNotFound, types.FailurePermanent, false},
		{http.StatusBadRequest, types.FailurePermanent, false},
		{http.StatusNotImplemented, types.FailurePermanent, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer srv.Close()

			res, err := newTestHandler(t, types.IntegrationWebhook, srv).Handle(context.Background(), message(srv.URL))
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, tt.category, res.Category)
			assert.Equal(t, tt.retryable, res.Retryable)
			assert.Contains(t, res.FailureReason, "nope")
			assert.Nil(t, res.DelayUntilDate)
		})
	}
}

func TestHandler_Handle_RetryAfterSeconds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	res, err := newTestHandler(t, types.IntegrationWebhook, srv).Handle(context.Background(), message(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, types.FailureRateLimited, res.Category)
	assert.True(t, res.Retryable)
	require.NotNil(t, res.DelayUntilDate)
	assert.Equal(t, testNow.Add(60*time.Second), *res.DelayUntilDate)
}

func TestHandler_Handle_RetryAfterDateOn503(t *testing.T) {
	at := testNow.Add(5 * time.Minute)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", at.Format(http.TimeFormat))
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	res, err := newTestHandler(t, types.IntegrationWebhook, srv).Handle(context.Background(), message(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, types.FailureServiceUnavailable, res.Category)
	require.NotNil(t, res.DelayUntilDate)
	assert.Equal(t, at, *res.DelayUntilDate)
}

func TestHandler_Handle_RetryAfterIgnoredOnPermanentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	res, err := newTestHandler(t, types.IntegrationWebhook, srv).Handle(context.Background(), message(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, types.FailurePermanent, res.Category)
	assert.Nil(t, res.DelayUntilDate)
}

func TestHandler_Handle_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	client := srv.Client()
	srv.Close()

	h := NewHandlerWithClient(types.IntegrationWebhook, testConfig(), client, logging.Discard())
	res, err := h.Handle(context.Background(), message(url))
	require.NoError(t, err)
	assert.Equal(t, types.FailureTransientError, res.Category)
	assert.True(t, res.Retryable)
}

func TestHandler_Handle_SSRFBlockedIsConfigurationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach a loopback target")
	}))
	defer srv.Close()

	h, err := NewHandler(types.IntegrationWebhook, testConfig(), logging.Discard())
	require.NoError(t, err)

	res, err := h.Handle(context.Background(), message(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, types.FailureConfigurationError, res.Category)
	assert.False(t, res.Retryable)
	assert.Contains(t, res.FailureReason, "ssrf_blocked")
}

func TestHandler_Handle_InvalidConfiguration(t *testing.T) {
	h := NewHandlerWithClient(types.IntegrationWebhook, testConfig(), http.DefaultClient, logging.Discard())

	res, err := h.Handle(context.Background(), message("not a url"))
	require.NoError(t, err)
	assert.Equal(t, types.FailureConfigurationError, res.Category)
	assert.False(t, res.Retryable)
}

func TestNewHandler_RequiresDependencies(t *testing.T) {
	_, err := NewHandler(types.IntegrationWebhook, nil, logging.Discard())
	assert.Error(t, err)
	_, err = NewHandler(types.IntegrationWebhook, testConfig(), nil)
	assert.Error(t, err)
}

func TestParseRetryAfter(t *testing.T) {
	clock := fixedClock{now: testNow}

	d, ok := parseRetryAfter("120", clock)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Minute, d)

	d, ok = parseRetryAfter(testNow.Add(-time.Minute).Format(http.TimeFormat), clock)
	assert.True(t, ok)
	assert.Zero(t, d)

	_, ok = parseRetryAfter("", clock)
	assert.False(t, ok)
	_, ok = parseRetryAfter("soon", clock)
	assert.False(t, ok)
	_, ok = parseRetryAfter("-5", clock)
	assert.False(t, ok)
}

func TestParseRetryAfter_ClampsHugeValues(t *testing.T) {
	clock := fixedClock{now: testNow}

	d, ok := parseRetryAfter("9223372037", clock)
	assert.True(t, ok)
	assert.Equal(t, maxRetryAfter, d)

	d, ok = parseRetryAfter(testNow.AddDate(1, 0, 0).Format(http.TimeFormat), clock)
	assert.True(t, ok)
	assert.Equal(t, maxRetryAfter, d)
}

func TestHandler_Handle_RetryAfterOverflowStillDelays(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "99999999999999")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	res, err := newTestHandler(t, types.IntegrationWebhook, srv).Handle(context.Background(), message(srv.URL))
	require.NoError(t, err)
	require.NotNil(t, res.DelayUntilDate)
	assert.Equal(t, testNow.Add(maxRetryAfter), *res.DelayUntilDate)
}
