package gateway

import (
	"encoding/json"
	"net/http"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"` // "ok" or "shutting_down"
	Sessions int    `json:"sessions"`
	Tools    int    `json:"tools"`
}

// handleHealth returns an http.HandlerFunc for GET /health.
// Returns 503 once the gateway has begun shutting down.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{
			Status:   "ok",
			Sessions: g.sessions.Len(),
			Tools:    g.gate.Registry().Len(),
		}

		w.Header().Set("Content-Type", "application/json")
		if g.stopping.Load() {
			resp.Status = "shutting_down"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
