package handler

import (
	"net/http"

	"github.com/elly-james/camision/internal/api/response"
	"github.com/elly-james/camision/internal/cache"
	"github.com/elly-james/camision/internal/store"
)

// NewHealthHandler returns the handler for GET /health. Degraded dependencies
// are reported per-component with a 503.
func NewHealthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		components := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			components["database"] = "unavailable"
			status = http.StatusServiceUnavailable
		}
		if err := c.Ping(r.Context()); err != nil {
			components["cache"] = "unavailable"
			status = http.StatusServiceUnavailable
		}

		response.Status(w, status, map[string]any{
			"status":     statusWord(status),
			"components": components,
		})
	}
}

func statusWord(code int) string {
	if code == http.StatusOK {
		return "healthy"
	}
	return "degraded"
}
