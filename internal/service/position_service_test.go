package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

func TestPositionServiceOpenCloseAndStats(t *testing.T) {
	t.Parallel()
	positions := &memPositionStore{}
	stats := &memStatsStore{}
	bus := &recordingBus{}
	audit := &memAudit{}
	svc := NewPositionService(positions, stats, bus, audit, testLogger())
	ctx := context.Background()

	rec, err := svc.RecordOpen(ctx, domain.Position{
		Wallet: "0xw", Side: domain.SideLong, Size: dec("1000"), Collateral: dec("200"),
		Leverage: dec("5"), EntryPrice: dec("24.5"), LiquidationPrice: dec("19.845"),
	}, "0xtx")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, rec.Status)

	open, err := svc.Open(ctx, "0xw")
	require.NoError(t, err)
	require.Len(t, open, 1)

	require.NoError(t, svc.RecordClose(ctx, "0xw", domain.SideLong, dec("26"), dec("61.22"), dec("5")))

	open, err = svc.Open(ctx, "0xw")
	require.NoError(t, err)
	assert.Empty(t, open)

	closed, err := svc.History(ctx, "0xw", domain.PositionStatusClosed, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.True(t, closed[0].ExitPrice.Decimal.Equal(dec("26")))

	st, err := svc.Stats(ctx, "0xw")
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.TotalTrades)
	assert.EqualValues(t, 1, st.WinningTrades)
	assert.True(t, st.TotalPnL.Equal(dec("61.22")))

	assert.Len(t, bus.messages(PositionChannel), 2)
	assert.Equal(t, []string{"position_opened", "position_closed"}, audit.events)
}

func TestPositionServiceStatsForNewWallet(t *testing.T) {
	t.Parallel()
	svc := NewPositionService(&memPositionStore{}, &memStatsStore{}, nil, nil, testLogger())

	st, err := svc.Stats(context.Background(), "0xnew")
	require.NoError(t, err)
	assert.Equal(t, "0xnew", st.Wallet)
	assert.Zero(t, st.TotalTrades)
}
