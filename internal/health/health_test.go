package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ping(name string, err error) Probe {
	return ProbeFunc{ProbeName: name, Fn: func(context.Context) error { return err }}
}

func get(t *testing.T, h http.Handler, path string) (int, response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var resp response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec.Code, resp
}

func TestHealthz_AlwaysHealthy(t *testing.T) {
	code, resp := get(t, NewRouter(ping("database", errors.New("down"))), "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", resp.Status)
}

func TestReadyz_AllHealthy(t *testing.T) {
	code, resp := get(t, NewRouter(ping("database", nil), ping("broker", nil)), "/readyz")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "healthy", resp.Components["database"].Status)
	assert.Equal(t, "healthy", resp.Components["broker"].Status)
}

func TestReadyz_OneUnhealthy(t *testing.T) {
	code, resp := get(t, NewRouter(ping("database", nil), ping("cache", errors.New("connection refused"))), "/readyz")

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "connection refused", resp.Components["cache"].Message)
	assert.Equal(t, "healthy", resp.Components["database"].Status)
}

func TestReadyz_PanickingProbe(t *testing.T) {
	p := ProbeFunc{ProbeName: "broker", Fn: func(context.Context) error { panic("nil channel") }}
	code, resp := get(t, NewRouter(p), "/readyz")

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, resp.Components["broker"].Message, "probe panicked")
}

func TestReadyz_SlowProbeTimesOut(t *testing.T) {
	slow := ProbeFunc{ProbeName: "database", Fn: func(ctx context.Context) error {
		select {
		case <-time.After(10 * time.Second):
			return nil
		case <-ctx.Done():
			// Finish after the handler has given up.
			time.Sleep(50 * time.Millisecond)
			return ctx.Err()
		}
	}}
	start := time.Now()
	code, resp := get(t, NewRouter(slow), "/readyz")

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "health check timed out", resp.Components["database"].Message)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestReadyz_NoProbes(t *testing.T) {
	code, resp := get(t, NewRouter(), "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", resp.Status)
}
