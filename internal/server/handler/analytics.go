package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// AnalyticsReader computes trading analytics from persisted positions.
type AnalyticsReader interface {
	Performance(ctx context.Context, wallet string) (domain.PerformanceMetrics, error)
	Exposure(ctx context.Context, wallet string) (domain.ExposureMetrics, error)
	Drawdown(ctx context.Context, wallet string) (domain.DrawdownMetrics, error)
}

// AnalyticsHandler serves the analytics endpoints. They read position
// history, so they answer 503 when Postgres is disabled.
type AnalyticsHandler struct {
	analytics AnalyticsReader // nil without Postgres
	logger    *slog.Logger
}

// NewAnalyticsHandler creates an AnalyticsHandler. analytics may be nil.
func NewAnalyticsHandler(analytics AnalyticsReader, logger *slog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics, logger: logger}
}

func (h *AnalyticsHandler) available(w http.ResponseWriter) bool {
	if h.analytics == nil {
		writeError(w, http.StatusServiceUnavailable, "analytics require postgres")
		return false
	}
	return true
}

func (h *AnalyticsHandler) respond(w http.ResponseWriter, r *http.Request, key string, v any, err error) {
	wallet := r.PathValue("wallet")
	if err != nil {
		if writeDomainError(w, err) >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: analytics "+key+" failed",
				slog.String("wallet", wallet),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"wallet": wallet, key: v})
}

// Performance returns win rate, PnL and holding statistics.
// GET /api/analytics/{wallet}/performance
func (h *AnalyticsHandler) Performance(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	m, err := h.analytics.Performance(r.Context(), r.PathValue("wallet"))
	h.respond(w, r, "performance", m, err)
}

// Exposure returns directional exposure of open positions.
// GET /api/analytics/{wallet}/exposure
func (h *AnalyticsHandler) Exposure(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	m, err := h.analytics.Exposure(r.Context(), r.PathValue("wallet"))
	h.respond(w, r, "exposure", m, err)
}

// Drawdown returns drawdown of the realized PnL curve.
// GET /api/analytics/{wallet}/drawdown
func (h *AnalyticsHandler) Drawdown(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	m, err := h.analytics.Drawdown(r.Context(), r.PathValue("wallet"))
	h.respond(w, r, "drawdown", m, err)
}
