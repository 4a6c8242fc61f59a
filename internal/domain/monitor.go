package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertDirection is the side of the price level that fires an alert.
type AlertDirection string

const (
	AlertAbove AlertDirection = "above"
	AlertBelow AlertDirection = "below"
)

// Valid reports whether d is a known direction.
func (d AlertDirection) Valid() bool {
	return d == AlertAbove || d == AlertBelow
}

// PriceAlert is a one-shot user alert on the spot price.
type PriceAlert struct {
	ID          string          `json:"id"`
	Wallet      string          `json:"wallet"`
	PriceLevel  decimal.Decimal `json:"price_level"`
	Direction   AlertDirection  `json:"direction"`
	CreatedAt   time.Time       `json:"created_at"`
	Expiry      *time.Time      `json:"expiry,omitempty"`
	Triggered   bool            `json:"triggered"`
	TriggeredAt *time.Time      `json:"triggered_at,omitempty"`
}

// Expired reports whether the alert's expiry is at or before now.
func (a PriceAlert) Expired(now time.Time) bool {
	return a.Expiry != nil && !now.Before(*a.Expiry)
}

// Crossed reports whether price satisfies the alert direction.
func (a PriceAlert) Crossed(price decimal.Decimal) bool {
	if a.Direction == AlertAbove {
		return price.GreaterThanOrEqual(a.PriceLevel)
	}
	return price.LessThanOrEqual(a.PriceLevel)
}

// HealthState is a coarse freshness grade.
type HealthState string

const (
	HealthHealthy HealthState = "healthy"
	HealthWarning HealthState = "warning"
)

// HealthError is one entry in the recent error ring buffer.
type HealthError struct {
	Timestamp time.Time `json:"timestamp"`
	Wallet    string    `json:"wallet"`
	Message   string    `json:"message"`
}

// SystemHealth reports monitoring freshness.
type SystemHealth struct {
	PriceFeed           HealthState   `json:"price_feed"`
	PositionMonitoring  HealthState   `json:"position_monitoring"`
	ActiveMonitors      int           `json:"active_monitors"`
	Wallets             []string      `json:"wallets"`
	RecentErrors        []HealthError `json:"recent_errors"`
	LastPriceUpdateAt   *time.Time    `json:"last_price_update,omitempty"`
	LastPositionCheckAt *time.Time    `json:"last_position_check,omitempty"`
}
