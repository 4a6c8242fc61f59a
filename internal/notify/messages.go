package notify

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

var (
	criticalDistance = decimal.NewFromInt(5)
	warningDistance  = decimal.NewFromInt(10)
)

// DefaultPnLThreshold is the absolute PnL, in USD, above which a position
// update is raised to high priority.
var DefaultPnLThreshold = decimal.NewFromInt(1000)

// LiquidationMessage grades a liquidation distance percentage.
func LiquidationMessage(distance decimal.Decimal) (string, domain.Priority) {
	pct := distance.StringFixed(1)
	switch {
	case distance.LessThanOrEqual(criticalDistance):
		return fmt.Sprintf("CRITICAL: Position near liquidation (%s%% away)", pct), domain.PriorityCritical
	case distance.LessThanOrEqual(warningDistance):
		return fmt.Sprintf("WARNING: Position approaching liquidation (%s%% away)", pct), domain.PriorityHigh
	default:
		return fmt.Sprintf("Position liquidation distance: %s%%", pct), domain.PriorityMedium
	}
}

// PositionUpdateMessage describes a change to a position. A closed position
// outranks the PnL check.
func PositionUpdateMessage(closed bool, pnl, threshold decimal.Decimal) (string, domain.Priority) {
	switch {
	case closed:
		return "Position Update: Position Closed", domain.PriorityHigh
	case pnl.Abs().GreaterThanOrEqual(threshold):
		return fmt.Sprintf("Position Update: PnL changed by $%s", pnl.StringFixed(2)), domain.PriorityHigh
	default:
		return "Position Update: Position parameters updated", domain.PriorityMedium
	}
}

// NotifyLiquidationRisk raises a liquidation_risk notification for r.
func (h *Hub) NotifyLiquidationRisk(ctx context.Context, wallet string, r domain.LiquidationRisk) domain.Notification {
	msg, prio := LiquidationMessage(r.DistancePercent)
	n, _ := h.Notify(ctx, wallet, domain.NotifyLiquidationRisk, msg, prio, map[string]any{
		"side":              string(r.Side),
		"distance_percent":  r.DistancePercent.StringFixed(2),
		"risk_level":        string(r.RiskLevel),
		"current_price":     r.CurrentPrice.String(),
		"liquidation_price": r.LiquidationPrice.String(),
	})
	return n
}

// NotifyPositionUpdate raises a position_update notification for p.
func (h *Hub) NotifyPositionUpdate(ctx context.Context, wallet string, p domain.Position, closed bool, threshold decimal.Decimal) domain.Notification {
	msg, prio := PositionUpdateMessage(closed, p.PnL, threshold)
	n, _ := h.Notify(ctx, wallet, domain.NotifyPositionUpdate, msg, prio, map[string]any{
		"side":              string(p.Side),
		"size":              p.Size.String(),
		"collateral":        p.Collateral.String(),
		"leverage":          p.Leverage.StringFixed(2),
		"entry_price":       p.EntryPrice.String(),
		"mark_price":        p.MarkPrice.String(),
		"liquidation_price": p.LiquidationPrice.String(),
		"pnl":               p.PnL.StringFixed(2),
		"closed":            closed,
	})
	return n
}

// NotifyOrderExecuted raises an order_executed notification.
func (h *Hub) NotifyOrderExecuted(ctx context.Context, o domain.Order) domain.Notification {
	price := o.ExecutionPrice.Decimal
	msg := fmt.Sprintf("Order Executed: %s order at $%s", o.Kind, price.StringFixed(2))
	n, _ := h.Notify(ctx, o.Wallet, domain.NotifyOrderExecuted, msg, domain.PriorityHigh, map[string]any{
		"order_id":        o.ID,
		"kind":            string(o.Kind),
		"side":            string(o.Side),
		"trigger_price":   o.TriggerPrice.String(),
		"execution_price": price.String(),
		"tx_hash":         o.TxHash,
	})
	return n
}

// NotifyOrderCancelled raises an order_cancelled notification.
func (h *Hub) NotifyOrderCancelled(ctx context.Context, o domain.Order) domain.Notification {
	msg := fmt.Sprintf("Order Cancelled: %s order %s", o.Kind, o.ID)
	n, _ := h.Notify(ctx, o.Wallet, domain.NotifyOrderCancelled, msg, domain.PriorityMedium, map[string]any{
		"order_id": o.ID,
		"kind":     string(o.Kind),
		"side":     string(o.Side),
	})
	return n
}

// NotifyOrderFailed raises a system_alert for an order that was given up on.
func (h *Hub) NotifyOrderFailed(ctx context.Context, o domain.Order) domain.Notification {
	msg := fmt.Sprintf("Order Failed: %s order %s after %d attempts: %s", o.Kind, o.ID, o.Attempts, o.LastError)
	n, _ := h.Notify(ctx, o.Wallet, domain.NotifySystemAlert, msg, domain.PriorityHigh, map[string]any{
		"order_id": o.ID,
		"kind":     string(o.Kind),
		"attempts": o.Attempts,
		"error":    o.LastError,
	})
	return n
}

// NotifyPriceAlert raises the system_alert for a fired price alert.
func (h *Hub) NotifyPriceAlert(ctx context.Context, symbol string, a domain.PriceAlert, price decimal.Decimal) domain.Notification {
	msg := fmt.Sprintf("Price Alert: %s price %s $%s", symbol, a.Direction, a.PriceLevel.String())
	n, _ := h.Notify(ctx, a.Wallet, domain.NotifySystemAlert, msg, domain.PriorityHigh, map[string]any{
		"alert_id":      a.ID,
		"price_level":   a.PriceLevel.String(),
		"direction":     string(a.Direction),
		"current_price": price.String(),
	})
	return n
}
