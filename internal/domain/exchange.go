package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Supported symbols.
const (
	SymbolAVAX = "AVAX"
	SymbolUSDC = "USDC"
)

// ExchangeConnector is the perpetuals venue. Implementations classify
// failures into the exchange sentinels in errors.go.
type ExchangeConnector interface {
	GetPosition(ctx context.Context, wallet string, side Side) (RawPosition, error)
	OpenPosition(ctx context.Context, wallet string, sizeUSD decimal.Decimal, side Side, acceptablePrice decimal.Decimal) (txHash string, err error)
	ClosePosition(ctx context.Context, wallet string, side Side, acceptablePrice decimal.Decimal) (txHash string, err error)
	AvailableLiquidity(ctx context.Context, token string) (decimal.Decimal, error)
}

// PriceSource supplies spot and historical prices.
type PriceSource interface {
	SpotPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	PriceHistory(ctx context.Context, symbol string, days int) ([]PricePoint, error)
	MarketData(ctx context.Context, symbol string) (MarketData, error)
}

// SpotPricer is the narrow slice of PriceSource most components need.
type SpotPricer interface {
	SpotPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}
