package gateway

import (
	"context"
	"net/http"
	"time"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status string `json:"status"` // "ok" or "degraded"
	Error  string `json:"error,omitempty"`
}

// handleHealth reports whether the telemetry store answers. It is public
// and leaks no state beyond that.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if _, err := g.svc.Telemetry().Stats(ctx); err != nil {
			g.logger.Warn("gateway: health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Error: "telemetry store unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
	}
}
