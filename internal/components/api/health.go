package api

import (
	"context"
	"net/http"
	"time"
)

// healthTimeout bounds every dependency probe.
const healthTimeout = 2 * time.Second

// HealthCheck probes one dependency.
type HealthCheck struct {
	Name  string
	Probe func(ctx context.Context) error
}

// HealthResponse is the body of GET /api/healthz.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HealthHandler reports "ok" when every probe passes and answers 503 with
// the failing names otherwise. Probe errors are not echoed.
func HealthHandler(checks ...HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp := HealthResponse{Status: "ok"}
		status := http.StatusOK
		for _, c := range checks {
			result := "ok"
			if err := c.Probe(ctx); err != nil {
				result, resp.Status, status = "failing", "degraded", http.StatusServiceUnavailable
			}
			if resp.Checks == nil {
				resp.Checks = make(map[string]string, len(checks))
			}
			resp.Checks[c.Name] = result
		}
		WriteJSON(w, status, resp)
	}
}
