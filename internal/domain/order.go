package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderKind is the conditional trigger type of an order.
type OrderKind string

const (
	OrderKindLimit      OrderKind = "limit"
	OrderKindStopLoss   OrderKind = "stop_loss"
	OrderKindTakeProfit OrderKind = "take_profit"
)

// Valid reports whether k is a known kind.
func (k OrderKind) Valid() bool {
	switch k {
	case OrderKindLimit, OrderKindStopLoss, OrderKindTakeProfit:
		return true
	}
	return false
}

// Opens reports whether executing the order opens exposure. Stop-loss and
// take-profit orders close the whole side.
func (k OrderKind) Opens() bool {
	return k == OrderKindLimit
}

// OrderStatus tracks the order lifecycle. Only pending orders may change.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusExecuted  OrderStatus = "executed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFailed    OrderStatus = "failed"
)

// Terminal reports whether s is a final state.
func (s OrderStatus) Terminal() bool {
	return s != OrderStatusPending
}

// OrderRequest carries the caller-supplied fields of a new order.
type OrderRequest struct {
	Wallet       string              `json:"wallet"`
	Kind         OrderKind           `json:"kind"`
	Side         Side                `json:"side"`
	Size         decimal.NullDecimal `json:"size"`
	TriggerPrice decimal.Decimal     `json:"trigger_price"`
	Leverage     decimal.NullDecimal `json:"leverage"`
}

// Order is a conditional order tracked by the ledger.
type Order struct {
	ID             string              `json:"id"`
	Wallet         string              `json:"wallet"`
	Kind           OrderKind           `json:"kind"`
	Side           Side                `json:"side"`
	Size           decimal.NullDecimal `json:"size"`
	TriggerPrice   decimal.Decimal     `json:"trigger_price"`
	Leverage       decimal.NullDecimal `json:"leverage"`
	Status         OrderStatus         `json:"status"`
	CreatedAt      time.Time           `json:"created_at"`
	ExecutedAt     *time.Time          `json:"executed_at,omitempty"`
	CancelledAt    *time.Time          `json:"cancelled_at,omitempty"`
	FailedAt       *time.Time          `json:"failed_at,omitempty"`
	ExecutionPrice decimal.NullDecimal `json:"execution_price"`
	TxHash         string              `json:"tx_hash,omitempty"`
	Attempts       int                 `json:"attempts"`
	LastError      string              `json:"last_error,omitempty"`
}

// Triggered reports whether price satisfies the order's trigger. Longs fire
// at or below the trigger, shorts at or above, for every kind.
func (o Order) Triggered(price decimal.Decimal) bool {
	if o.Side == SideShort {
		return price.GreaterThanOrEqual(o.TriggerPrice)
	}
	return price.LessThanOrEqual(o.TriggerPrice)
}

// Notional returns the USD size to open for a limit order.
func (o Order) Notional() decimal.Decimal {
	lev := decimal.NewFromInt(1)
	if o.Leverage.Valid {
		lev = o.Leverage.Decimal
	}
	return o.Size.Decimal.Mul(lev)
}

// SweepFailure records one order that matched but could not be executed.
type SweepFailure struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// SweepResult summarises a single matching pass.
type SweepResult struct {
	Executed []string       `json:"executed"`
	Failed   []SweepFailure `json:"failed"`
}
