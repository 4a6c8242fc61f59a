package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a leveraged position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Sides lists both sides in a fixed order.
var Sides = []Side{SideLong, SideShort}

// RawPosition is the position state as reported by the exchange, before
// any derived metrics are computed.
type RawPosition struct {
	Size             decimal.Decimal // USD notional
	Collateral       decimal.Decimal // USD
	AveragePrice     decimal.Decimal
	EntryFundingRate decimal.Decimal
	ReserveAmount    decimal.Decimal
	RealizedPnL      decimal.Decimal
	HasProfit        bool
	LastIncreasedAt  time.Time
}

// Position is a live position enriched with risk metrics. It is rebuilt
// from the exchange on every read.
type Position struct {
	Wallet           string          `json:"wallet"`
	Side             Side            `json:"side"`
	Size             decimal.Decimal `json:"size"`
	Collateral       decimal.Decimal `json:"collateral"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	MarkPrice        decimal.Decimal `json:"mark_price"`
	Leverage         decimal.Decimal `json:"leverage"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
	PnL              decimal.Decimal `json:"pnl"`
	EntryFundingRate decimal.Decimal `json:"entry_funding_rate"`
	ReserveAmount    decimal.Decimal `json:"reserve_amount"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl"`
	LastIncreasedAt  time.Time       `json:"last_increased_at"`
	LastUpdated      time.Time       `json:"last_updated"`
}

// ActivePositions holds at most one position per side.
type ActivePositions struct {
	Long  *Position `json:"long,omitempty"`
	Short *Position `json:"short,omitempty"`
}

// Get returns the position for side, or nil.
func (a ActivePositions) Get(side Side) *Position {
	if side == SideShort {
		return a.Short
	}
	return a.Long
}

// Set stores p under its side.
func (a *ActivePositions) Set(p *Position) {
	if p.Side == SideShort {
		a.Short = p
		return
	}
	a.Long = p
}

// Each calls fn for every present position, long first.
func (a ActivePositions) Each(fn func(*Position)) {
	if a.Long != nil {
		fn(a.Long)
	}
	if a.Short != nil {
		fn(a.Short)
	}
}

// TotalSize sums the notional of every present position.
func (a ActivePositions) TotalSize() decimal.Decimal {
	total := decimal.Zero
	a.Each(func(p *Position) { total = total.Add(p.Size) })
	return total
}

// RiskLevel grades how close a position is to liquidation.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// AtLeastHigh reports whether the level warrants an alert.
func (r RiskLevel) AtLeastHigh() bool {
	return r == RiskHigh || r == RiskCritical
}

// LiquidationRisk describes the distance between spot and liquidation for
// one side.
type LiquidationRisk struct {
	Side             Side            `json:"side"`
	DistancePercent  decimal.Decimal `json:"distance_percent"`
	RiskLevel        RiskLevel       `json:"risk_level"`
	CurrentPrice     decimal.Decimal `json:"current_price"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
}

// RiskLimits is the static policy applied to new exposure.
type RiskLimits struct {
	MaxLeverage     decimal.Decimal `json:"max_leverage"`
	MaxPositionSize decimal.Decimal `json:"max_position_size"`
	MaxTotalSize    decimal.Decimal `json:"max_total_size"`
}

// Risk check names.
const (
	CheckLeverage     = "leverage_within_limit"
	CheckPositionSize = "position_size_within_limit"
	CheckTotalSize    = "total_size_within_limit"
)

// RiskCheck is the result of evaluating a proposed position against
// RiskLimits. It is advisory.
type RiskCheck struct {
	Passed       bool            `json:"passed"`
	Checks       map[string]bool `json:"checks"`
	CurrentTotal decimal.Decimal `json:"current_total"`
	Limits       RiskLimits      `json:"limits"`
}

// PositionStatus tracks the persisted lifecycle of a position record.
type PositionStatus string

const (
	PositionStatusOpen       PositionStatus = "open"
	PositionStatusClosed     PositionStatus = "closed"
	PositionStatusLiquidated PositionStatus = "liquidated"
)

// PositionRecord is the persisted history row for a position opened
// through this service.
type PositionRecord struct {
	ID               string              `json:"id"`
	Wallet           string              `json:"wallet"`
	Side             Side                `json:"side"`
	Size             decimal.Decimal     `json:"size"`
	Collateral       decimal.Decimal     `json:"collateral"`
	Leverage         decimal.Decimal     `json:"leverage"`
	EntryPrice       decimal.Decimal     `json:"entry_price"`
	LiquidationPrice decimal.Decimal     `json:"liquidation_price"`
	Status           PositionStatus      `json:"status"`
	ExitPrice        decimal.NullDecimal `json:"exit_price"`
	RealizedPnL      decimal.NullDecimal `json:"realized_pnl"`
	TxHash           string              `json:"tx_hash,omitempty"`
	OpenedAt         time.Time           `json:"opened_at"`
	ClosedAt         *time.Time          `json:"closed_at,omitempty"`
}
