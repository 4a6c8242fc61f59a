package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

var (
	hundred    = decimal.NewFromInt(100)
	secPerHour = decimal.NewFromInt(3600)
)

// AnalyticsService derives trading performance, exposure and drawdown
// figures from persisted position records.
type AnalyticsService struct {
	positions domain.PositionStore
	logger    *slog.Logger
}

// NewAnalyticsService creates an AnalyticsService.
func NewAnalyticsService(positions domain.PositionStore, logger *slog.Logger) *AnalyticsService {
	return &AnalyticsService{
		positions: positions,
		logger:    logger.With(slog.String("component", "analytics")),
	}
}

// settled returns the wallet's closed and liquidated records that carry a
// realized PnL.
func (s *AnalyticsService) settled(ctx context.Context, op, wallet string) ([]domain.PositionRecord, error) {
	if wallet == "" {
		return nil, fmt.Errorf("analytics: %s: %w: wallet is required", op, domain.ErrValidation)
	}
	recs, err := s.positions.ListHistory(ctx, wallet, "", domain.ListOpts{})
	if err != nil {
		return nil, fmt.Errorf("analytics: %s for %q: %w", op, wallet, err)
	}
	return slices.DeleteFunc(recs, func(r domain.PositionRecord) bool {
		return r.Status == domain.PositionStatusOpen || !r.RealizedPnL.Valid
	}), nil
}

// Performance returns win rate, PnL and holding statistics for the wallet.
func (s *AnalyticsService) Performance(ctx context.Context, wallet string) (domain.PerformanceMetrics, error) {
	recs, err := s.settled(ctx, "performance", wallet)
	if err != nil {
		return domain.PerformanceMetrics{}, err
	}
	m := Performance(recs)
	s.logger.DebugContext(ctx, "analytics: performance computed",
		slog.String("wallet", wallet),
		slog.Int("trades", m.TotalTrades),
	)
	return m, nil
}

// Exposure returns the directional exposure of the wallet's open records.
func (s *AnalyticsService) Exposure(ctx context.Context, wallet string) (domain.ExposureMetrics, error) {
	if wallet == "" {
		return domain.ExposureMetrics{}, fmt.Errorf("analytics: exposure: %w: wallet is required", domain.ErrValidation)
	}
	recs, err := s.positions.ListOpen(ctx, wallet)
	if err != nil {
		return domain.ExposureMetrics{}, fmt.Errorf("analytics: exposure for %q: %w", wallet, err)
	}
	return Exposure(recs), nil
}

// Drawdown returns drawdown figures over the wallet's settled trades.
func (s *AnalyticsService) Drawdown(ctx context.Context, wallet string) (domain.DrawdownMetrics, error) {
	recs, err := s.settled(ctx, "drawdown", wallet)
	if err != nil {
		return domain.DrawdownMetrics{}, err
	}
	return Drawdown(recs), nil
}

// Performance computes PerformanceMetrics over settled records.
func Performance(recs []domain.PositionRecord) domain.PerformanceMetrics {
	var m domain.PerformanceMetrics
	if len(recs) == 0 {
		return m
	}

	var winSum, lossSum, leverage, held decimal.Decimal
	heldTrades := 0
	for i, r := range recs {
		pnl := r.RealizedPnL.Decimal
		m.TotalPnL = m.TotalPnL.Add(pnl)
		if i == 0 || pnl.GreaterThan(m.BestTrade) {
			m.BestTrade = pnl
		}
		if i == 0 || pnl.LessThan(m.WorstTrade) {
			m.WorstTrade = pnl
		}
		switch pnl.Sign() {
		case 1:
			m.WinningTrades++
			winSum = winSum.Add(pnl)
		case -1:
			m.LosingTrades++
			lossSum = lossSum.Add(pnl.Neg())
		}
		leverage = leverage.Add(r.Leverage)
		if r.ClosedAt != nil {
			secs := int64(r.ClosedAt.Sub(r.OpenedAt) / time.Second)
			held = held.Add(decimal.NewFromInt(secs))
			heldTrades++
		}
	}

	n := decimal.NewFromInt(int64(len(recs)))
	m.TotalTrades = len(recs)
	m.WinRate = decimal.NewFromInt(int64(m.WinningTrades)).Div(n)
	m.AveragePnL = m.TotalPnL.Div(n)
	m.AverageLeverage = leverage.Div(n)
	if heldTrades > 0 {
		m.AverageHoldingHours = held.Div(secPerHour).Div(decimal.NewFromInt(int64(heldTrades)))
	}
	if m.LosingTrades > 0 {
		avgLoss := lossSum.Div(decimal.NewFromInt(int64(m.LosingTrades)))
		avgWin := decimal.Zero
		if m.WinningTrades > 0 {
			avgWin = winSum.Div(decimal.NewFromInt(int64(m.WinningTrades)))
		}
		m.RiskReward = decimal.NewNullDecimal(avgWin.Div(avgLoss))
	}
	return m
}

// Exposure computes ExposureMetrics over open records.
func Exposure(recs []domain.PositionRecord) domain.ExposureMetrics {
	m := domain.ExposureMetrics{OpenPositions: len(recs)}
	var weighted decimal.Decimal
	for _, r := range recs {
		m.TotalExposure = m.TotalExposure.Add(r.Size)
		if r.Side == domain.SideLong {
			m.LongExposure = m.LongExposure.Add(r.Size)
		} else {
			m.ShortExposure = m.ShortExposure.Add(r.Size)
		}
		if r.Leverage.GreaterThan(m.MaxLeverage) {
			m.MaxLeverage = r.Leverage
		}
		if r.Size.GreaterThan(m.LargestPosition) {
			m.LargestPosition = r.Size
		}
		weighted = weighted.Add(r.Leverage.Mul(r.Size))
	}
	m.NetExposure = m.LongExposure.Sub(m.ShortExposure)
	if m.TotalExposure.IsPositive() {
		m.WeightedAvgLeverage = weighted.Div(m.TotalExposure)
	}
	if m.ShortExposure.IsPositive() {
		m.LongShortRatio = decimal.NewNullDecimal(m.LongExposure.Div(m.ShortExposure))
	}
	return m
}

func settledAt(r domain.PositionRecord) time.Time {
	if r.ClosedAt != nil {
		return *r.ClosedAt
	}
	return r.OpenedAt
}

// Drawdown computes DrawdownMetrics over settled records in close order.
func Drawdown(recs []domain.PositionRecord) domain.DrawdownMetrics {
	var m domain.DrawdownMetrics
	if len(recs) == 0 {
		return m
	}
	sorted := slices.Clone(recs)
	slices.SortStableFunc(sorted, func(a, b domain.PositionRecord) int {
		return settledAt(a).Compare(settledAt(b))
	})

	var cum, peak decimal.Decimal
	run := 0
	for i, r := range sorted {
		cum = cum.Add(r.RealizedPnL.Decimal)
		if i == 0 || cum.GreaterThanOrEqual(peak) {
			peak = cum
			run = 0
			continue
		}
		run++
		if run > m.MaxDrawdownDuration {
			m.MaxDrawdownDuration = run
		}
		dd := peak.Sub(cum)
		if dd.GreaterThan(m.MaxDrawdown) {
			m.MaxDrawdown = dd
		}
		if peak.IsPositive() {
			if pct := dd.Div(peak).Mul(hundred); pct.GreaterThan(m.MaxDrawdownPct) {
				m.MaxDrawdownPct = pct
			}
		}
	}

	m.Trades = len(sorted)
	m.PeakPnL = peak
	m.CurrentPnL = cum
	if peak.IsPositive() {
		m.CurrentDrawdownPct = peak.Sub(cum).Div(peak).Mul(hundred)
	}
	return m
}
