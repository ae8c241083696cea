// Package health serves the worker's liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// checkTimeout bounds one readiness check across all probes.
const checkTimeout = 2 * time.Second

// Probe checks one dependency (database, cache, broker).
type Probe interface {
	Name() string
	Check(ctx context.Context) error
}

// ProbeFunc adapts a ping function to Probe.
type ProbeFunc struct {
	ProbeName string
	Fn        func(ctx context.Context) error
}

func (p ProbeFunc) Name() string                    { return p.ProbeName }
func (p ProbeFunc) Check(ctx context.Context) error { return p.Fn(ctx) }

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type response struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// NewRouter mounts /healthz (process is up) and /readyz (every probe passes).
func NewRouter(probes ...Probe) chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, response{Status: "healthy"})
	})
	r.Get("/readyz", Handler(probes...))
	return r
}

// Handler runs all probes concurrently under checkTimeout. It answers 200
// when every probe passes and 503 otherwise. A probe still running at the
// deadline is reported as timed out.
func Handler(probes ...Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		var (
			mu      sync.Mutex
			results = make(map[string]error, len(probes))
			wg      sync.WaitGroup
		)
		for _, p := range probes {
			wg.Add(1)
			go func(p Probe) {
				defer wg.Done()
				err := run(ctx, p)
				mu.Lock()
				results[p.Name()] = err
				mu.Unlock()
			}(p)
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
		}

		mu.Lock()
		defer mu.Unlock()

		resp := response{Status: "healthy", Components: make(map[string]componentStatus, len(probes))}
		for _, p := range probes {
			err, finished := results[p.Name()]
			switch {
			case !finished:
				resp.Status = "unhealthy"
				resp.Components[p.Name()] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
			case err != nil:
				resp.Status = "unhealthy"
				resp.Components[p.Name()] = componentStatus{Status: "unhealthy", Message: err.Error()}
			default:
				resp.Components[p.Name()] = componentStatus{Status: "healthy"}
			}
		}

		status := http.StatusOK
		if resp.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}

func run(ctx context.Context, p Probe) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return p.Check(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
