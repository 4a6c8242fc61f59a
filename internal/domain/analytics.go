package domain

import "github.com/shopspring/decimal"

// PerformanceMetrics summarises a wallet's settled trades. Closed and
// liquidated records both count as settled.
type PerformanceMetrics struct {
	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	LosingTrades  int             `json:"losing_trades"`
	WinRate       decimal.Decimal `json:"win_rate"` // fraction in [0, 1]
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	AveragePnL    decimal.Decimal `json:"average_pnl"`
	BestTrade     decimal.Decimal `json:"best_trade"`
	WorstTrade    decimal.Decimal `json:"worst_trade"`
	// AverageHoldingHours covers the trades that carry a close time.
	AverageHoldingHours decimal.Decimal `json:"average_holding_hours"`
	AverageLeverage     decimal.Decimal `json:"average_leverage"`
	// RiskReward is the average win over the average loss. It is null when
	// there are no losing trades.
	RiskReward decimal.NullDecimal `json:"risk_reward"`
}

// ExposureMetrics summarises a wallet's open positions.
type ExposureMetrics struct {
	OpenPositions       int             `json:"open_positions"`
	TotalExposure       decimal.Decimal `json:"total_exposure"`
	LongExposure        decimal.Decimal `json:"long_exposure"`
	ShortExposure       decimal.Decimal `json:"short_exposure"`
	NetExposure         decimal.Decimal `json:"net_exposure"`
	MaxLeverage         decimal.Decimal `json:"max_leverage"`
	WeightedAvgLeverage decimal.Decimal `json:"weighted_avg_leverage"`
	LargestPosition     decimal.Decimal `json:"largest_position"`
	// LongShortRatio is null when there is no short exposure.
	LongShortRatio decimal.NullDecimal `json:"long_short_ratio"`
}

// DrawdownMetrics describes the cumulative realized PnL curve, one point per
// settled trade in close order. Percentages are relative to the running
// peak and are zero while the peak is not positive.
type DrawdownMetrics struct {
	Trades             int             `json:"trades"`
	PeakPnL            decimal.Decimal `json:"peak_pnl"`
	CurrentPnL         decimal.Decimal `json:"current_pnl"`
	MaxDrawdown        decimal.Decimal `json:"max_drawdown"` // USD
	MaxDrawdownPct     decimal.Decimal `json:"max_drawdown_pct"`
	CurrentDrawdownPct decimal.Decimal `json:"current_drawdown_pct"`
	// MaxDrawdownDuration is the longest run of trades spent below a peak.
	MaxDrawdownDuration int `json:"max_drawdown_duration"`
}
