package handler

import (
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// MarketLister reports the markets currently synced.
type MarketLister interface {
	Markets() []string
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	mode      string
	startedAt time.Time
	markets   MarketLister
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler reporting mode, uptime and the
// synced markets.
func NewHealthHandler(mode string, startedAt time.Time, markets MarketLister, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		mode:      mode,
		startedAt: startedAt,
		markets:   markets,
		logger:    logHandler(logger, "health"),
	}
}

// HealthCheck responds with a simple JSON status indicating the server is alive.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	markets := h.markets.Markets()
	sort.Strings(markets)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"markets":        markets,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
