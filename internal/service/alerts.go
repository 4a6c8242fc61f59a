package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Alerter raises notifications. *notify.Hub satisfies it.
type Alerter interface {
	Notify(ctx context.Context, wallet string, t domain.NotificationType, message string, priority domain.Priority, payload map[string]any) (domain.Notification, []domain.HandlerOutcome)
	NotifyLiquidationRisk(ctx context.Context, wallet string, r domain.LiquidationRisk) domain.Notification
	NotifyPositionUpdate(ctx context.Context, wallet string, p domain.Position, closed bool, threshold decimal.Decimal) domain.Notification
	NotifyOrderExecuted(ctx context.Context, o domain.Order) domain.Notification
	NotifyOrderCancelled(ctx context.Context, o domain.Order) domain.Notification
	NotifyOrderFailed(ctx context.Context, o domain.Order) domain.Notification
	NotifyPriceAlert(ctx context.Context, symbol string, a domain.PriceAlert, price decimal.Decimal) domain.Notification
}
