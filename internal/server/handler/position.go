package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// PositionReader exposes live positions and their risk.
type PositionReader interface {
	ActivePositions(ctx context.Context, wallet string) (domain.ActivePositions, error)
	MonitorLiquidationRisks(ctx context.Context, wallet string) (map[domain.Side]domain.LiquidationRisk, error)
	CheckRiskLimits(ctx context.Context, wallet string, proposedSize, proposedLeverage decimal.Decimal) (domain.RiskCheck, error)
}

// PositionHistory exposes persisted records and statistics.
type PositionHistory interface {
	History(ctx context.Context, wallet string, status domain.PositionStatus, opts domain.ListOpts) ([]domain.PositionRecord, error)
	Stats(ctx context.Context, wallet string) (domain.TradingStats, error)
}

// PositionHandler serves position, risk and history endpoints.
type PositionHandler struct {
	live    PositionReader
	history PositionHistory // nil without Postgres
	logger  *slog.Logger
}

// NewPositionHandler creates a PositionHandler. history may be nil.
func NewPositionHandler(live PositionReader, history PositionHistory, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{live: live, history: history, logger: logger}
}

func (h *PositionHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if writeDomainError(w, err) >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("wallet", r.PathValue("wallet")),
			slog.String("error", err.Error()),
		)
	}
}

// ListPositions returns the wallet's live positions.
// GET /api/positions/{wallet}
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	active, err := h.live.ActivePositions(r.Context(), r.PathValue("wallet"))
	if err != nil {
		h.fail(w, r, "list positions", err)
		return
	}
	writeJSON(w, http.StatusOK, active)
}

// Risk returns liquidation risk per open side.
// GET /api/positions/{wallet}/risk
func (h *PositionHandler) Risk(w http.ResponseWriter, r *http.Request) {
	risks, err := h.live.MonitorLiquidationRisks(r.Context(), r.PathValue("wallet"))
	if err != nil {
		h.fail(w, r, "liquidation risk", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"risks": risks})
}

type riskCheckRequest struct {
	Size     decimal.Decimal `json:"size"`
	Leverage decimal.Decimal `json:"leverage"`
}

// RiskCheck evaluates a proposed position against the risk limits.
// POST /api/positions/{wallet}/risk-check
func (h *PositionHandler) RiskCheck(w http.ResponseWriter, r *http.Request) {
	var req riskCheckRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeDomainError(w, err)
		return
	}
	if !req.Size.IsPositive() || !req.Leverage.IsPositive() {
		writeDomainError(w, fmt.Errorf("%w: size and leverage must be positive", domain.ErrValidation))
		return
	}
	check, err := h.live.CheckRiskLimits(r.Context(), r.PathValue("wallet"), req.Size, req.Leverage)
	if err != nil {
		h.fail(w, r, "risk check", err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

// History returns persisted position records, newest first.
// GET /api/positions/{wallet}/history?status=&limit=&offset=
func (h *PositionHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "position history requires postgres")
		return
	}
	status := domain.PositionStatus(r.URL.Query().Get("status"))
	switch status {
	case "", domain.PositionStatusOpen, domain.PositionStatusClosed, domain.PositionStatusLiquidated:
	default:
		writeDomainError(w, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, status))
		return
	}
	recs, err := h.history.History(r.Context(), r.PathValue("wallet"), status, parseListOpts(r))
	if err != nil {
		h.fail(w, r, "position history", err)
		return
	}
	if recs == nil {
		recs = []domain.PositionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": recs})
}

// Stats returns the wallet's trading statistics.
// GET /api/stats/{wallet}
func (h *PositionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "trading stats require postgres")
		return
	}
	st, err := h.history.Stats(r.Context(), r.PathValue("wallet"))
	if err != nil {
		h.fail(w, r, "trading stats", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":    st,
		"win_rate": st.WinRate(),
	})
}
