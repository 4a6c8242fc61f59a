package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// OrderLedger defines what the order handler needs from the ledger.
type OrderLedger interface {
	Create(ctx context.Context, req domain.OrderRequest) (domain.Order, error)
	Cancel(ctx context.Context, orderID, wallet string) (domain.Order, error)
	Pending(wallet string) []domain.Order
	List(wallet string) []domain.Order
}

// OrderHandler serves conditional order endpoints.
type OrderHandler struct {
	orders OrderLedger
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(orders OrderLedger, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logger}
}

// ListOrders returns a wallet's orders; ?status=pending restricts the list
// to live orders.
// GET /api/orders/{wallet}
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	wallet := r.PathValue("wallet")
	var orders []domain.Order
	if r.URL.Query().Get("status") == string(domain.OrderStatusPending) {
		orders = h.orders.Pending(wallet)
	} else {
		orders = h.orders.List(wallet)
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// CreateOrder registers a limit, stop-loss or take-profit order.
// POST /api/orders/{wallet}
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeDomainError(w, err)
		return
	}
	req.Wallet = r.PathValue("wallet")

	order, err := h.orders.Create(r.Context(), req)
	if err != nil {
		if writeDomainError(w, err) >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: create order failed",
				slog.String("wallet", req.Wallet),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// CancelOrder cancels a pending order.
// DELETE /api/orders/{wallet}/{id}
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	order, err := h.orders.Cancel(r.Context(), id, r.PathValue("wallet"))
	if err != nil {
		if writeDomainError(w, err) >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: cancel order failed",
				slog.String("order_id", id),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	writeJSON(w, http.StatusOK, order)
}
