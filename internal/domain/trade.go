package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradeOperation names what a trade intent asks for.
type TradeOperation string

const (
	OpOpenPosition  TradeOperation = "open_position"
	OpClosePosition TradeOperation = "close_position"
	OpAnalyze       TradeOperation = "analyze"
	OpSpotBuy       TradeOperation = "spot_buy"
	OpSpotSell      TradeOperation = "spot_sell"
)

// TradeIntent is a structured trade request produced upstream.
type TradeIntent struct {
	ID        string              `json:"id,omitempty"`
	Wallet    string              `json:"wallet"`
	Operation TradeOperation      `json:"operation"`
	Side      Side                `json:"side,omitempty"`
	Leverage  decimal.NullDecimal `json:"leverage"`
	Amount    decimal.NullDecimal `json:"amount"`
}

// Normalize fills defaults: long side and 1x leverage.
func (t *TradeIntent) Normalize() {
	if t.Side == "" {
		t.Side = SideLong
	}
	if !t.Leverage.Valid {
		t.Leverage = decimal.NewNullDecimal(decimal.NewFromInt(1))
	}
}

// Validate checks that the intent is structurally complete for its
// operation.
func (t TradeIntent) Validate() error {
	if t.Wallet == "" {
		return fmt.Errorf("%w: wallet is required", ErrValidation)
	}
	switch t.Operation {
	case OpAnalyze, OpSpotBuy, OpSpotSell:
		return nil
	case OpOpenPosition:
		if !t.Amount.Valid || !t.Amount.Decimal.IsPositive() {
			return fmt.Errorf("%w: amount must be positive", ErrValidation)
		}
		if t.Leverage.Valid && !t.Leverage.Decimal.IsPositive() {
			return fmt.Errorf("%w: leverage must be positive", ErrValidation)
		}
	case OpClosePosition:
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrValidation, t.Operation)
	}
	if t.Side != "" && !t.Side.Valid() {
		return fmt.Errorf("%w: unknown side %q", ErrValidation, t.Side)
	}
	return nil
}

// TradeResult is the outcome of an executed intent.
type TradeResult struct {
	Operation       TradeOperation  `json:"operation"`
	Side            Side            `json:"side,omitempty"`
	TxHash          string          `json:"tx_hash,omitempty"`
	Size            decimal.Decimal `json:"size"`
	Price           decimal.Decimal `json:"price"`
	AcceptablePrice decimal.Decimal `json:"acceptable_price"`
	RealizedPnL     decimal.Decimal `json:"realized_pnl"`
	Market          *MarketData     `json:"market,omitempty"`
	Risk            *RiskCheck      `json:"risk,omitempty"`
}

// PricePoint is one sample of a price history series.
type PricePoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
}

// MarketData is a 24h market summary for a symbol.
type MarketData struct {
	Symbol         string          `json:"symbol"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	PriceChange24h decimal.Decimal `json:"price_change_24h"`
	Volume24h      decimal.Decimal `json:"volume_24h"`
	High24h        decimal.Decimal `json:"high_24h"`
	Low24h         decimal.Decimal `json:"low_24h"`
	LastUpdated    time.Time       `json:"last_updated"`
}

// TradingStats aggregates closed-trade performance per wallet.
type TradingStats struct {
	Wallet        string          `json:"wallet"`
	TotalTrades   int64           `json:"total_trades"`
	WinningTrades int64           `json:"winning_trades"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	BestTrade     decimal.Decimal `json:"best_trade"`
	WorstTrade    decimal.Decimal `json:"worst_trade"`
	AvgLeverage   decimal.Decimal `json:"avg_leverage"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Apply folds one closed trade into the aggregate.
func (s *TradingStats) Apply(pnl, leverage decimal.Decimal, at time.Time) {
	s.TotalTrades++
	if pnl.IsPositive() {
		s.WinningTrades++
	}
	s.TotalPnL = s.TotalPnL.Add(pnl)
	if s.TotalTrades == 1 {
		s.BestTrade = pnl
		s.WorstTrade = pnl
		s.AvgLeverage = leverage
	} else {
		s.BestTrade = decimal.Max(s.BestTrade, pnl)
		s.WorstTrade = decimal.Min(s.WorstTrade, pnl)
		n := decimal.NewFromInt(s.TotalTrades)
		s.AvgLeverage = s.AvgLeverage.Mul(n.Sub(decimal.NewFromInt(1))).Add(leverage).Div(n)
	}
	s.UpdatedAt = at
}

// WinRate returns winning/total as a fraction, zero when no trades.
func (s TradingStats) WinRate() decimal.Decimal {
	if s.TotalTrades == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(s.WinningTrades).Div(decimal.NewFromInt(s.TotalTrades))
}
