package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Supervisor is the monitoring surface the API drives.
type Supervisor interface {
	Start(ctx context.Context, wallet string) error
	Stop(ctx context.Context, wallet string) error
	Active(wallet string) bool
	AddPriceAlert(ctx context.Context, wallet string, level decimal.Decimal, direction domain.AlertDirection, expiry *time.Time) (domain.PriceAlert, error)
	RemovePriceAlert(wallet, alertID string) error
	PriceAlerts(wallet string) []domain.PriceAlert
}

// MonitorHandler serves wallet monitoring and price alert endpoints.
type MonitorHandler struct {
	monitor Supervisor
	logger  *slog.Logger
}

// NewMonitorHandler creates a MonitorHandler.
func NewMonitorHandler(monitor Supervisor, logger *slog.Logger) *MonitorHandler {
	return &MonitorHandler{monitor: monitor, logger: logger}
}

// Start begins monitoring a wallet.
// POST /api/monitor/{wallet}/start
func (h *MonitorHandler) Start(w http.ResponseWriter, r *http.Request) {
	wallet := r.PathValue("wallet")
	if err := h.monitor.Start(r.Context(), wallet); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Monitoring started for " + wallet,
	})
}

// Stop ends monitoring of a wallet.
// POST /api/monitor/{wallet}/stop
func (h *MonitorHandler) Stop(w http.ResponseWriter, r *http.Request) {
	wallet := r.PathValue("wallet")
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := h.monitor.Stop(ctx, wallet); err != nil {
		if writeDomainError(w, err) >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: stop monitoring failed",
				slog.String("wallet", wallet),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Monitoring stopped for " + wallet,
	})
}

type addAlertRequest struct {
	PriceLevel decimal.Decimal       `json:"price_level"`
	Direction  domain.AlertDirection `json:"direction"`
	Expiry     *time.Time            `json:"expiry,omitempty"`
}

// ListAlerts returns the wallet's price alerts.
// GET /api/monitor/{wallet}/alerts
func (h *MonitorHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	wallet := r.PathValue("wallet")
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts":     h.monitor.PriceAlerts(wallet),
		"monitoring": h.monitor.Active(wallet),
	})
}

// AddAlert registers a price alert.
// POST /api/monitor/{wallet}/alerts
func (h *MonitorHandler) AddAlert(w http.ResponseWriter, r *http.Request) {
	var req addAlertRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeDomainError(w, err)
		return
	}
	alert, err := h.monitor.AddPriceAlert(r.Context(), r.PathValue("wallet"), req.PriceLevel, req.Direction, req.Expiry)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, alert)
}

// RemoveAlert deletes a price alert.
// DELETE /api/monitor/{wallet}/alerts/{id}
func (h *MonitorHandler) RemoveAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.monitor.RemovePriceAlert(r.PathValue("wallet"), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "alert_id": id})
}
