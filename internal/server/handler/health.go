package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// HealthReporter reports monitoring health.
type HealthReporter interface {
	Health() domain.SystemHealth
}

// HealthHandler serves liveness and monitoring health.
type HealthHandler struct {
	monitor   HealthReporter
	mode      string
	startedAt time.Time
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(monitor HealthReporter, mode string, startedAt time.Time) *HealthHandler {
	return &HealthHandler{monitor: monitor, mode: mode, startedAt: startedAt}
}

// HealthCheck reports that the process is up.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

// MonitorHealth returns the supervisor's SystemHealth.
// GET /api/monitor/health
func (h *HealthHandler) MonitorHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Health())
}
