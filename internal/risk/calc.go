// Package risk converts raw position fields into leverage, liquidation
// price, PnL and liquidation distance. Every function is pure.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

var (
	hundred     = decimal.NewFromInt(100)
	one         = decimal.NewFromInt(1)
	highBelow   = decimal.NewFromInt(5)
	mediumBelow = decimal.NewFromInt(10)
)

// DefaultMaintenanceMargin is the fraction of size held back before
// liquidation.
var DefaultMaintenanceMargin = decimal.RequireFromString("0.01")

// Calculator computes derived risk metrics.
type Calculator struct {
	MaintenanceMargin decimal.Decimal
}

// NewCalculator returns a Calculator using margin, or the default when
// margin is zero.
func NewCalculator(margin decimal.Decimal) Calculator {
	if margin.IsZero() {
		margin = DefaultMaintenanceMargin
	}
	return Calculator{MaintenanceMargin: margin}
}

// Leverage returns size/collateral.
func (c Calculator) Leverage(size, collateral decimal.Decimal) (decimal.Decimal, error) {
	if collateral.IsZero() {
		return decimal.Zero, fmt.Errorf("risk: leverage: %w", domain.ErrDivisionByZero)
	}
	return size.Div(collateral), nil
}

// LiquidationPrice returns the price at which the position is liquidated,
// or zero for an empty position.
//
//	long:  entry * (1 - collateral/size + margin)
//	short: entry * (1 + collateral/size - margin)
func (c Calculator) LiquidationPrice(size, collateral, entry decimal.Decimal, side domain.Side) decimal.Decimal {
	if size.IsZero() {
		return decimal.Zero
	}
	ratio := collateral.Div(size)
	if side == domain.SideShort {
		return entry.Mul(one.Add(ratio).Sub(c.MaintenanceMargin))
	}
	return entry.Mul(one.Sub(ratio).Add(c.MaintenanceMargin))
}

// PnL returns unrealized profit in USD for a position of size opened at
// entry and marked at current.
func (c Calculator) PnL(current, entry, size decimal.Decimal, side domain.Side) decimal.Decimal {
	if entry.IsZero() {
		return decimal.Zero
	}
	pnl := current.Sub(entry).Div(entry).Mul(size)
	if side == domain.SideShort {
		return pnl.Neg()
	}
	return pnl
}

// LiquidationDistance returns |current-liq|/current as a percentage.
func (c Calculator) LiquidationDistance(current, liq decimal.Decimal) (decimal.Decimal, error) {
	if current.IsZero() {
		return decimal.Zero, fmt.Errorf("risk: liquidation distance: %w", domain.ErrDivisionByZero)
	}
	return current.Sub(liq).Abs().Div(current).Mul(hundred), nil
}

// Classify grades a liquidation distance percentage.
func Classify(distance decimal.Decimal) domain.RiskLevel {
	switch {
	case distance.LessThan(highBelow):
		return domain.RiskHigh
	case distance.LessThan(mediumBelow):
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// Enrich fills the derived fields of p from its raw fields and the spot
// price. It returns an error only if collateral is zero on a non-empty
// position.
func (c Calculator) Enrich(p *domain.Position, spot decimal.Decimal) error {
	lev, err := c.Leverage(p.Size, p.Collateral)
	if err != nil {
		return err
	}
	p.Leverage = lev
	p.LiquidationPrice = c.LiquidationPrice(p.Size, p.Collateral, p.EntryPrice, p.Side)
	p.MarkPrice = spot
	p.PnL = c.PnL(spot, p.EntryPrice, p.Size, p.Side)
	return nil
}

// Assess computes the liquidation risk of p at spot. ok is false when
// either price is not positive.
func (c Calculator) Assess(p *domain.Position, spot decimal.Decimal) (domain.LiquidationRisk, bool) {
	if !spot.IsPositive() || !p.LiquidationPrice.IsPositive() {
		return domain.LiquidationRisk{}, false
	}
	dist, err := c.LiquidationDistance(spot, p.LiquidationPrice)
	if err != nil {
		return domain.LiquidationRisk{}, false
	}
	return domain.LiquidationRisk{
		Side:             p.Side,
		DistancePercent:  dist,
		RiskLevel:        Classify(dist),
		CurrentPrice:     spot,
		LiquidationPrice: p.LiquidationPrice,
	}, true
}

var bpsDenominator = decimal.NewFromInt(10_000)

// AcceptablePrice widens price by slippageBps in the direction that lets
// the trade fill. Buying exposure (opening a long, closing a short) pays
// up; selling exposure divides down.
func AcceptablePrice(price decimal.Decimal, side domain.Side, opening bool, slippageBps int64) decimal.Decimal {
	factor := one.Add(decimal.NewFromInt(slippageBps).Div(bpsDenominator))
	buying := (side == domain.SideLong) == opening
	if buying {
		return price.Mul(factor)
	}
	return price.Div(factor)
}
