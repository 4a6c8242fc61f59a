package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/risk"
)

func newTracker(conn *fakeConnector, prices *fakePrices) *PositionTracker {
	return NewPositionTracker(conn, prices, risk.NewCalculator(decimal.Zero), domain.RiskLimits{}, domain.SymbolAVAX, testLogger())
}

func TestActivePositionsEnrichesAndOmitsEmptySides(t *testing.T) {
	t.Parallel()
	conn := newFakeConnector()
	conn.setPosition("0xw", domain.SideLong, domain.RawPosition{
		Size: dec("1000"), Collateral: dec("200"), AveragePrice: dec("24.50"),
	})
	prices := &fakePrices{}
	prices.set("25")

	got, err := newTracker(conn, prices).ActivePositions(context.Background(), "0xw")
	require.NoError(t, err)
	assert.Nil(t, got.Short)
	require.NotNil(t, got.Long)

	p := got.Long
	assert.True(t, p.Leverage.Equal(dec("5")))
	assert.True(t, p.LiquidationPrice.Equal(dec("19.845")))
	assert.True(t, p.MarkPrice.Equal(dec("25")))
	assert.Equal(t, "20.41", p.PnL.StringFixed(2))
	assert.False(t, p.LastUpdated.IsZero())
}

func TestActivePositionsWithoutPositionsSkipsPriceLookup(t *testing.T) {
	t.Parallel()
	conn := newFakeConnector()
	prices := &fakePrices{err: domain.ErrPriceUnavailable}

	got, err := newTracker(conn, prices).ActivePositions(context.Background(), "0xw")
	require.NoError(t, err)
	assert.Nil(t, got.Long)
	assert.Nil(t, got.Short)
	assert.Equal(t, 0, prices.calls)
	assert.Equal(t, 2, conn.getCalls)
}

func TestActivePositionsPriceUnavailable(t *testing.T) {
	t.Parallel()
	conn := newFakeConnector()
	conn.setPosition("0xw", domain.SideShort, domain.RawPosition{Size: dec("500"), Collateral: dec("100"), AveragePrice: dec("25")})
	prices := &fakePrices{err: domain.ErrPriceUnavailable}

	_, err := newTracker(conn, prices).ActivePositions(context.Background(), "0xw")
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestActivePositionsConnectorError(t *testing.T) {
	t.Parallel()
	conn := newFakeConnector()
	conn.getErr = domain.ErrConnector

	_, err := newTracker(conn, &fakePrices{}).ActivePositions(context.Background(), "0xw")
	assert.ErrorIs(t, err, domain.ErrConnector)
}

func TestCheckRiskLimits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		existing string
		size     string
		leverage string
		passed   bool
		checks   map[string]bool
	}{
		{
			name: "leverage too high on empty account", size: "1000", leverage: "60",
			checks: map[string]bool{domain.CheckLeverage: false, domain.CheckPositionSize: true, domain.CheckTotalSize: true},
		},
		{
			name: "within limits", size: "1000", leverage: "10", passed: true,
			checks: map[string]bool{domain.CheckLeverage: true, domain.CheckPositionSize: true, domain.CheckTotalSize: true},
		},
		{
			name: "position too large", size: "100001", leverage: "2",
			checks: map[string]bool{domain.CheckLeverage: true, domain.CheckPositionSize: false, domain.CheckTotalSize: true},
		},
		{
			name: "total exceeded by existing exposure", existing: "150000", size: "60000", leverage: "2",
			checks: map[string]bool{domain.CheckLeverage: true, domain.CheckPositionSize: true, domain.CheckTotalSize: false},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			conn := newFakeConnector()
			if tc.existing != "" {
				conn.setPosition("0xw", domain.SideLong, domain.RawPosition{Size: dec(tc.existing), Collateral: dec("10000"), AveragePrice: dec("25")})
			}
			rc, err := newTracker(conn, &fakePrices{}).CheckRiskLimits(context.Background(), "0xw", dec(tc.size), dec(tc.leverage))
			require.NoError(t, err)
			assert.Equal(t, tc.passed, rc.Passed)
			assert.Equal(t, tc.checks, rc.Checks)
			assert.True(t, rc.Limits.MaxLeverage.Equal(dec("50")))
		})
	}
}

func TestMonitorLiquidationRisksHigh(t *testing.T) {
	t.Parallel()
	conn := newFakeConnector()
	conn.setPosition("0xw", domain.SideLong, domain.RawPosition{Size: dec("1000"), Collateral: dec("210"), AveragePrice: dec("25")})
	prices := &fakePrices{}
	prices.set("21")

	risks, err := newTracker(conn, prices).MonitorLiquidationRisks(context.Background(), "0xw")
	require.NoError(t, err)
	require.Contains(t, risks, domain.SideLong)
	r := risks[domain.SideLong]
	assert.Equal(t, "4.76", r.DistancePercent.StringFixed(2))
	assert.Equal(t, domain.RiskHigh, r.RiskLevel)
	assert.True(t, r.LiquidationPrice.Equal(dec("20")))
	assert.NotContains(t, risks, domain.SideShort)
}
