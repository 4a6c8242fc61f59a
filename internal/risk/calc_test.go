package risk

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLeverageAndLiquidationScenario(t *testing.T) {
	t.Parallel()
	c := NewCalculator(decimal.Zero)

	lev, err := c.Leverage(dec("1000"), dec("200"))
	require.NoError(t, err)
	assert.True(t, lev.Equal(dec("5")), lev.String())

	liq := c.LiquidationPrice(dec("1000"), dec("200"), dec("24.50"), domain.SideLong)
	assert.True(t, liq.Equal(dec("19.845")), liq.String())
	assert.True(t, liq.LessThan(dec("24.50")))

	short := c.LiquidationPrice(dec("1000"), dec("200"), dec("24.50"), domain.SideShort)
	assert.True(t, short.Equal(dec("29.155")), short.String())
}

func TestLeverageZeroCollateral(t *testing.T) {
	t.Parallel()

	_, err := NewCalculator(decimal.Zero).Leverage(dec("1000"), decimal.Zero)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDivisionByZero))
}

func TestLeverageRoundTrip(t *testing.T) {
	t.Parallel()
	c := NewCalculator(decimal.Zero)

	for _, tc := range [][2]string{{"1000", "200"}, {"750", "300"}, {"12345.67", "89.1"}} {
		size, coll := dec(tc[0]), dec(tc[1])
		lev, err := c.Leverage(size, coll)
		require.NoError(t, err)
		assert.True(t, lev.Mul(coll).Sub(size).Abs().LessThan(dec("0.0000001")), tc)
	}
}

func TestLiquidationPriceMonotonicInCollateral(t *testing.T) {
	t.Parallel()
	c := NewCalculator(decimal.Zero)
	size, entry := dec("1000"), dec("25")

	prevLong := c.LiquidationPrice(size, dec("50"), entry, domain.SideLong)
	prevShort := c.LiquidationPrice(size, dec("50"), entry, domain.SideShort)
	for coll := 60; coll <= 500; coll += 10 {
		long := c.LiquidationPrice(size, decimal.NewFromInt(int64(coll)), entry, domain.SideLong)
		short := c.LiquidationPrice(size, decimal.NewFromInt(int64(coll)), entry, domain.SideShort)
		assert.True(t, long.LessThan(prevLong), "long liq must fall as collateral rises")
		assert.True(t, short.GreaterThan(prevShort), "short liq must rise as collateral rises")
		prevLong, prevShort = long, short
	}
}

func TestLiquidationPriceEmptyPosition(t *testing.T) {
	t.Parallel()
	assert.True(t, NewCalculator(decimal.Zero).LiquidationPrice(decimal.Zero, dec("10"), dec("25"), domain.SideLong).IsZero())
}

func TestPnL(t *testing.T) {
	t.Parallel()
	c := NewCalculator(decimal.Zero)

	tests := []struct {
		name                 string
		current, entry, size string
		side                 domain.Side
		want                 string
	}{
		{"long gain", "27.5", "25", "1000", domain.SideLong, "100"},
		{"long loss", "22.5", "25", "1000", domain.SideLong, "-100"},
		{"short gain", "22.5", "25", "1000", domain.SideShort, "100"},
		{"short loss", "27.5", "25", "1000", domain.SideShort, "-100"},
		{"zero entry", "27.5", "0", "1000", domain.SideLong, "0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := c.PnL(dec(tc.current), dec(tc.entry), dec(tc.size), tc.side)
			assert.True(t, got.Equal(dec(tc.want)), got.String())
		})
	}
}

func TestLiquidationDistanceAndClassify(t *testing.T) {
	t.Parallel()
	c := NewCalculator(decimal.Zero)

	dist, err := c.LiquidationDistance(dec("21"), dec("20"))
	require.NoError(t, err)
	assert.Equal(t, "4.76", dist.StringFixed(2))
	assert.Equal(t, domain.RiskHigh, Classify(dist))

	_, err = c.LiquidationDistance(decimal.Zero, dec("20"))
	assert.True(t, errors.Is(err, domain.ErrDivisionByZero))

	assert.Equal(t, domain.RiskMedium, Classify(dec("5")))
	assert.Equal(t, domain.RiskMedium, Classify(dec("9.99")))
	assert.Equal(t, domain.RiskLow, Classify(dec("10")))
}

func TestEnrichAndAssess(t *testing.T) {
	t.Parallel()
	c := NewCalculator(decimal.Zero)

	p := &domain.Position{Side: domain.SideLong, Size: dec("1000"), Collateral: dec("210"), EntryPrice: dec("25")}
	require.NoError(t, c.Enrich(p, dec("21")))
	assert.True(t, p.LiquidationPrice.Equal(dec("20")), p.LiquidationPrice.String())
	assert.True(t, p.PnL.Equal(dec("-160")), p.PnL.String())

	r, ok := c.Assess(p, dec("21"))
	require.True(t, ok)
	assert.Equal(t, domain.RiskHigh, r.RiskLevel)

	_, ok = c.Assess(p, decimal.Zero)
	assert.False(t, ok)
}

func TestAcceptablePrice(t *testing.T) {
	t.Parallel()
	price := dec("20")

	assert.True(t, AcceptablePrice(price, domain.SideLong, true, 30).Equal(dec("20.06")))
	assert.True(t, AcceptablePrice(price, domain.SideShort, false, 30).Equal(dec("20.06")))

	down := AcceptablePrice(price, domain.SideShort, true, 30)
	assert.True(t, down.LessThan(price))
	assert.Equal(t, "19.9402", down.StringFixed(4))
	assert.True(t, AcceptablePrice(price, domain.SideLong, false, 30).Equal(down))

	assert.True(t, AcceptablePrice(price, domain.SideLong, true, 0).Equal(price))
}
