package domain

import "time"

// NotificationType categorises a notification.
type NotificationType string

const (
	NotifyPositionUpdate  NotificationType = "position_update"
	NotifyOrderExecuted   NotificationType = "order_executed"
	NotifyOrderCancelled  NotificationType = "order_cancelled"
	NotifyLiquidationRisk NotificationType = "liquidation_risk"
	NotifyPnLAlert        NotificationType = "pnl_alert"
	NotifyFundingRate     NotificationType = "funding_rate"
	NotifySystemAlert     NotificationType = "system_alert"
)

// NotificationTypes lists every type.
var NotificationTypes = []NotificationType{
	NotifyPositionUpdate,
	NotifyOrderExecuted,
	NotifyOrderCancelled,
	NotifyLiquidationRisk,
	NotifyPnLAlert,
	NotifyFundingRate,
	NotifySystemAlert,
}

// Valid reports whether t is a known type.
func (t NotificationType) Valid() bool {
	for _, v := range NotificationTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Priority orders notifications by urgency.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank maps the priority onto an ordinal, higher is more urgent. Unknown
// priorities rank below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	}
	return 0
}

// Notification is an append-only event addressed to one wallet. Read is the
// only field that changes after creation.
type Notification struct {
	ID        string           `json:"id"`
	Wallet    string           `json:"wallet"`
	Type      NotificationType `json:"type"`
	Priority  Priority         `json:"priority"`
	Message   string           `json:"message"`
	Payload   map[string]any   `json:"data,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Read      bool             `json:"read"`
}

// HandlerOutcome reports how one subscriber handled a notification.
type HandlerOutcome struct {
	SubscriptionID string `json:"subscription_id"`
	Name           string `json:"name"`
	Err            error  `json:"-"`
}

// NotificationFilter narrows a notification listing.
type NotificationFilter struct {
	Type       NotificationType
	UnreadOnly bool
}
