package handlers

import (
	"net/http"
	"time"
)

// HealthHandler responds with service health information.
type HealthHandler struct {
	Adapters  []string
	StartedAt time.Time
	Now       func() time.Time
}

// Handle implements GET /healthz.
func (h HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodGet) {
		return
	}

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	payload := map[string]any{
		"status":   "ok",
		"adapters": nonNil(h.Adapters),
	}
	if !h.StartedAt.IsZero() {
		payload["uptimeSeconds"] = int64(now().Sub(h.StartedAt).Seconds())
	}
	respondJSON(r.Context(), w, http.StatusOK, payload)
}
