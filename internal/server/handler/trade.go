package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// IntentExecutor runs trade intents.
type IntentExecutor interface {
	Execute(ctx context.Context, intent domain.TradeIntent) (domain.TradeResult, error)
}

// TradeHandler accepts trade intents over HTTP.
type TradeHandler struct {
	executor IntentExecutor
	logger   *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(executor IntentExecutor, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{executor: executor, logger: logger}
}

// Execute runs one intent for the wallet in the path.
// POST /api/trade/{wallet}
func (h *TradeHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var intent domain.TradeIntent
	if err := decodeJSON(r, &intent, false); err != nil {
		writeDomainError(w, err)
		return
	}
	intent.Wallet = r.PathValue("wallet")

	res, err := h.executor.Execute(r.Context(), intent)
	if err != nil {
		status := writeDomainError(w, err)
		h.logger.WarnContext(r.Context(), "handler: trade intent failed",
			slog.String("wallet", intent.Wallet),
			slog.String("operation", string(intent.Operation)),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
