package observe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// probeTimeout bounds a single readiness probe.
const probeTimeout = 5 * time.Second

// HealthCheck is a named readiness probe. Probe returns nil when the
// dependency is usable.
type HealthCheck struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Health serves liveness and readiness endpoints beside /metrics:
//
//   - /healthz — liveness; always 200 while the process serves HTTP.
//   - /readyz  — readiness; 200 only when every probe passes.
//
// Responses are JSON with a top-level "status" and a per-check map.
type Health struct {
	checks []HealthCheck
}

// NewHealth creates a [Health] evaluating the given probes on each /readyz
// request, sequentially and in order.
func NewHealth(checks ...HealthCheck) *Health {
	c := make([]HealthCheck, len(checks))
	copy(c, checks)
	return &Health{checks: c}
}

// Register adds the probe routes to mux.
func (h *Health) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("GET /readyz", h.readyz)
}

type healthResult struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *Health) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResult{Status: "ok"})
}

func (h *Health) readyz(w http.ResponseWriter, r *http.Request) {
	res := healthResult{
		Status: "ok",
		Checks: make(map[string]string, len(h.checks)),
	}
	status := http.StatusOK

	for _, c := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := c.Probe(ctx)
		cancel()
		if err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			res.Checks[c.Name] = "ok"
		}
	}

	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

// ServiceCheck probes the processing endpoint with a HEAD request. Any
// response, including 4xx/5xx, counts as reachable; readiness asks whether
// the wire is up, not whether a turn would succeed.
func ServiceCheck(client *http.Client, url string) HealthCheck {
	if client == nil {
		client = http.DefaultClient
	}
	return HealthCheck{
		Name: "processing_service",
		Probe: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("unreachable: %w", err)
			}
			resp.Body.Close()
			return nil
		},
	}
}
