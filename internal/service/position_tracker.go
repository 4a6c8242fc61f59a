package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/risk"
)

// DefaultRiskLimits mirrors the exchange account policy.
var DefaultRiskLimits = domain.RiskLimits{
	MaxLeverage:     decimal.NewFromInt(50),
	MaxPositionSize: decimal.NewFromInt(100_000),
	MaxTotalSize:    decimal.NewFromInt(200_000),
}

// Assessment is one consistent read of a wallet's positions and their
// liquidation risk.
type Assessment struct {
	Positions domain.ActivePositions
	Risks     map[domain.Side]domain.LiquidationRisk
	Price     decimal.Decimal
	At        time.Time
}

// PositionTracker reads live positions from the exchange and derives risk.
type PositionTracker struct {
	connector domain.ExchangeConnector
	prices    domain.SpotPricer
	calc      risk.Calculator
	limits    domain.RiskLimits
	symbol    string
	logger    *slog.Logger
	now       func() time.Time
}

// NewPositionTracker creates a PositionTracker. Zero-valued limits fall back
// to DefaultRiskLimits.
func NewPositionTracker(
	connector domain.ExchangeConnector,
	prices domain.SpotPricer,
	calc risk.Calculator,
	limits domain.RiskLimits,
	symbol string,
	logger *slog.Logger,
) *PositionTracker {
	if limits.MaxLeverage.IsZero() {
		limits.MaxLeverage = DefaultRiskLimits.MaxLeverage
	}
	if limits.MaxPositionSize.IsZero() {
		limits.MaxPositionSize = DefaultRiskLimits.MaxPositionSize
	}
	if limits.MaxTotalSize.IsZero() {
		limits.MaxTotalSize = DefaultRiskLimits.MaxTotalSize
	}
	if symbol == "" {
		symbol = domain.SymbolAVAX
	}
	return &PositionTracker{
		connector: connector,
		prices:    prices,
		calc:      calc,
		limits:    limits,
		symbol:    symbol,
		logger:    logger.With(slog.String("component", "position_tracker")),
		now:       time.Now,
	}
}

// Limits returns the configured risk limits.
func (t *PositionTracker) Limits() domain.RiskLimits { return t.limits }

// raw fetches both sides concurrently and drops empty ones.
func (t *PositionTracker) raw(ctx context.Context, wallet string) (map[domain.Side]domain.RawPosition, error) {
	var long, short domain.RawPosition
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := t.connector.GetPosition(gctx, wallet, domain.SideLong)
		long = p
		return err
	})
	g.Go(func() error {
		p, err := t.connector.GetPosition(gctx, wallet, domain.SideShort)
		short = p
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("position_tracker: get positions: %w", err)
	}

	out := make(map[domain.Side]domain.RawPosition, 2)
	if !long.Size.IsZero() {
		out[domain.SideLong] = long
	}
	if !short.Size.IsZero() {
		out[domain.SideShort] = short
	}
	return out, nil
}

// Assess reads the wallet's positions once, enriches them with the spot
// price and grades each side's liquidation risk.
func (t *PositionTracker) Assess(ctx context.Context, wallet string) (Assessment, error) {
	raw, err := t.raw(ctx, wallet)
	if err != nil {
		return Assessment{}, err
	}
	a := Assessment{Risks: map[domain.Side]domain.LiquidationRisk{}, At: t.now().UTC()}
	if len(raw) == 0 {
		return a, nil
	}

	price, err := t.prices.SpotPrice(ctx, t.symbol)
	if err != nil {
		return Assessment{}, fmt.Errorf("position_tracker: spot price: %w", err)
	}
	if !price.IsPositive() {
		return Assessment{}, fmt.Errorf("position_tracker: spot price %s: %w", price, domain.ErrPriceUnavailable)
	}
	a.Price = price

	for _, side := range domain.Sides {
		r, ok := raw[side]
		if !ok {
			continue
		}
		p := &domain.Position{
			Wallet:           wallet,
			Side:             side,
			Size:             r.Size,
			Collateral:       r.Collateral,
			EntryPrice:       r.AveragePrice,
			EntryFundingRate: r.EntryFundingRate,
			ReserveAmount:    r.ReserveAmount,
			RealizedPnL:      r.RealizedPnL,
			LastIncreasedAt:  r.LastIncreasedAt,
			LastUpdated:      a.At,
		}
		if err := t.calc.Enrich(p, price); err != nil {
			return Assessment{}, fmt.Errorf("position_tracker: %s position: %w", side, err)
		}
		a.Positions.Set(p)
		if lr, ok := t.calc.Assess(p, price); ok {
			a.Risks[side] = lr
		}
	}
	return a, nil
}

// ActivePositions returns the wallet's open positions.
func (t *PositionTracker) ActivePositions(ctx context.Context, wallet string) (domain.ActivePositions, error) {
	a, err := t.Assess(ctx, wallet)
	if err != nil {
		return domain.ActivePositions{}, err
	}
	return a.Positions, nil
}

// MonitorLiquidationRisks returns the liquidation risk of each open side.
// Sides without a positive price or liquidation price are omitted.
func (t *PositionTracker) MonitorLiquidationRisks(ctx context.Context, wallet string) (map[domain.Side]domain.LiquidationRisk, error) {
	a, err := t.Assess(ctx, wallet)
	if err != nil {
		return nil, err
	}
	return a.Risks, nil
}

// CheckRiskLimits evaluates a proposed position against the static limits.
// It never blocks a trade by itself.
func (t *PositionTracker) CheckRiskLimits(ctx context.Context, wallet string, proposedSize, proposedLeverage decimal.Decimal) (domain.RiskCheck, error) {
	raw, err := t.raw(ctx, wallet)
	if err != nil {
		return domain.RiskCheck{}, err
	}
	total := decimal.Zero
	for _, r := range raw {
		total = total.Add(r.Size)
	}

	checks := map[string]bool{
		domain.CheckLeverage:     proposedLeverage.LessThanOrEqual(t.limits.MaxLeverage),
		domain.CheckPositionSize: proposedSize.LessThanOrEqual(t.limits.MaxPositionSize),
		domain.CheckTotalSize:    total.Add(proposedSize).LessThanOrEqual(t.limits.MaxTotalSize),
	}
	passed := true
	for _, ok := range checks {
		passed = passed && ok
	}

	if !passed {
		t.logger.InfoContext(ctx, "position_tracker: risk limits not met",
			slog.String("wallet", wallet),
			slog.String("size", proposedSize.String()),
			slog.String("leverage", proposedLeverage.String()),
			slog.String("current_total", total.String()),
		)
	}
	return domain.RiskCheck{
		Passed:       passed,
		Checks:       checks,
		CurrentTotal: total,
		Limits:       t.limits,
	}, nil
}
