package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

type ledgerFixture struct {
	ledger *OrderLedger
	conn   *fakeConnector
	prices *fakePrices
	store  *memOrderStore
	audit  *memAudit
	hub    interface {
		Notifications(string, domain.NotificationFilter) []domain.Notification
	}
}

func newLedgerFixture(t *testing.T, cfg OrderLedgerConfig) ledgerFixture {
	t.Helper()
	hub := newHub()
	f := ledgerFixture{
		conn:   newFakeConnector(),
		prices: &fakePrices{},
		store:  newMemOrderStore(),
		audit:  &memAudit{},
		hub:    hub,
	}
	f.ledger = NewOrderLedger(f.conn, f.prices, hub, f.store, f.audit, nil, cfg, testLogger())
	return f
}

func limitReq(wallet string, side domain.Side, trigger string) domain.OrderRequest {
	return domain.OrderRequest{
		Wallet:       wallet,
		Kind:         domain.OrderKindLimit,
		Side:         side,
		Size:         decimal.NewNullDecimal(dec("100")),
		TriggerPrice: dec(trigger),
	}
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	f := newLedgerFixture(t, OrderLedgerConfig{})
	ctx := context.Background()

	bad := []domain.OrderRequest{
		{Wallet: "", Kind: domain.OrderKindLimit, Side: domain.SideLong, Size: decimal.NewNullDecimal(dec("1")), TriggerPrice: dec("20")},
		{Wallet: "0xw", Kind: "iceberg", Side: domain.SideLong, TriggerPrice: dec("20")},
		{Wallet: "0xw", Kind: domain.OrderKindStopLoss, Side: "up", TriggerPrice: dec("20")},
		{Wallet: "0xw", Kind: domain.OrderKindStopLoss, Side: domain.SideLong, TriggerPrice: dec("0")},
		{Wallet: "0xw", Kind: domain.OrderKindLimit, Side: domain.SideLong, TriggerPrice: dec("20")},
		{Wallet: "0xw", Kind: domain.OrderKindLimit, Side: domain.SideLong, Size: decimal.NewNullDecimal(dec("1")), Leverage: decimal.NewNullDecimal(dec("-2")), TriggerPrice: dec("20")},
	}
	for i, req := range bad {
		_, err := f.ledger.Create(ctx, req)
		assert.ErrorIs(t, err, domain.ErrValidation, "case %d", i)
	}
	assert.Empty(t, f.ledger.Pending(""))
}

func TestCreateDefaults(t *testing.T) {
	t.Parallel()
	f := newLedgerFixture(t, OrderLedgerConfig{})
	ctx := context.Background()

	lim, err := f.ledger.Create(ctx, limitReq("0xw", domain.SideLong, "20"))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, lim.Status)
	require.True(t, lim.Leverage.Valid)
	assert.True(t, lim.Leverage.Decimal.Equal(decimal.NewFromInt(1)))
	assert.NotEmpty(t, lim.ID)

	sl, err := f.ledger.Create(ctx, domain.OrderRequest{
		Wallet: "0xw", Kind: domain.OrderKindStopLoss, Side: domain.SideLong,
		Size: decimal.NewNullDecimal(dec("5")), TriggerPrice: dec("18"),
	})
	require.NoError(t, err)
	assert.False(t, sl.Size.Valid, "stop loss closes the whole side")
	assert.False(t, sl.Leverage.Valid)

	stored, err := f.store.GetByID(ctx, lim.ID)
	require.NoError(t, err)
	assert.Equal(t, lim.ID, stored.ID)
	assert.Equal(t, []domain.Order{lim, sl}, f.ledger.Pending("0xw"))
	assert.Equal(t, []domain.Order{sl, lim}, f.ledger.List("0xw"))
}

func TestSweepExecutesLimitOnceAndIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newLedgerFixture(t, OrderLedgerConfig{SlippageBps: 30})
	ctx := context.Background()

	o, err := f.ledger.Create(ctx, limitReq("0xw", domain.SideLong, "20"))
	require.NoError(t, err)

	res := f.ledger.Sweep(ctx, dec("19.5"))
	assert.Equal(t, []string{o.ID}, res.Executed)
	assert.Empty(t, res.Failed)

	got, err := f.ledger.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusExecuted, got.Status)
	require.True(t, got.ExecutionPrice.Valid)
	assert.True(t, got.ExecutionPrice.Decimal.Equal(dec("19.5")))
	assert.Equal(t, "0xopen", got.TxHash)
	assert.NotNil(t, got.ExecutedAt)

	require.Len(t, f.conn.opens, 1)
	assert.True(t, f.conn.opens[0].Size.Equal(dec("100")))
	assert.True(t, f.conn.opens[0].Acceptable.Equal(dec("19.5585")))

	res = f.ledger.Sweep(ctx, dec("19.5"))
	assert.Empty(t, res.Executed)
	assert.Empty(t, res.Failed)
	assert.Len(t, f.conn.opens, 1)

	notes := f.hub.Notifications("0xw", domain.NotificationFilter{Type: domain.NotifyOrderExecuted})
	require.Len(t, notes, 1)
	assert.Equal(t, "Order Executed: limit order at $19.50", notes[0].Message)

	stored, err := f.store.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusExecuted, stored.Status)
	assert.Contains(t, f.audit.events, "order_executed")
}

func TestSweepTriggerDirection(t *testing.T) {
	t.Parallel()
	f := newLedgerFixture(t, OrderLedgerConfig{})
	ctx := context.Background()

	longTP, err := f.ledger.Create(ctx, domain.OrderRequest{Wallet: "0xw", Kind: domain.OrderKindTakeProfit, Side: domain.SideLong, TriggerPrice: dec("26")})
	require.NoError(t, err)
	shortSL, err := f.ledger.Create(ctx, domain.OrderRequest{Wallet: "0xw", Kind: domain.OrderKindStopLoss, Side: domain.SideShort, TriggerPrice: dec("28")})
	require.NoError(t, err)

	res := f.ledger.Sweep(ctx, dec("29"))
	assert.Equal(t, []string{shortSL.ID}, res.Executed)
	require.Len(t, f.conn.closes, 1)
	assert.Equal(t, domain.SideShort, f.conn.closes[0].Side)

	res = f.ledger.Sweep(ctx, dec("25"))
	assert.Equal(t, []string{longTP.ID}, res.Executed)
	assert.Len(t, f.conn.closes, 2)
}

func TestSweepTransientFailureRetriesThenFails(t *testing.T) {
	t.Parallel()
	f := newLedgerFixture(t, OrderLedgerConfig{MaxAttempts: 2})
	f.conn.openErr = fmt.Errorf("rpc: %w", domain.ErrConnector)
	ctx := context.Background()

	o, err := f.ledger.Create(ctx, limitReq("0xw", domain.SideLong, "20"))
	require.NoError(t, err)

	res := f.ledger.Sweep(ctx, dec("19"))
	require.Len(t, res.Failed, 1)
	assert.Equal(t, o.ID, res.Failed[0].OrderID)
	got, _ := f.ledger.Get(ctx, o.ID)
	assert.Equal(t, domain.OrderStatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)

	res = f.ledger.Sweep(ctx, dec("19"))
	require.Len(t, res.Failed, 1)
	got, _ = f.ledger.Get(ctx, o.ID)
	assert.Equal(t, domain.OrderStatusFailed, got.Status)
	assert.NotNil(t, got.FailedAt)

	alerts := f.hub.Notifications("0xw", domain.NotificationFilter{Type: domain.NotifySystemAlert})
	assert.Len(t, alerts, 1)

	res = f.ledger.Sweep(ctx, dec("19"))
	assert.Empty(t, res.Failed)
	assert.Len(t, f.conn.opens, 2)
}

func TestSweepInterruptedExecutionStaysPending(t *testing.T) {
	t.Parallel()
	f := newLedgerFixture(t, OrderLedgerConfig{MaxAttempts: 1})
	f.conn.openErr = fmt.Errorf("gmx: open: send: %w", context.Canceled)
	ctx := context.Background()

	o, err := f.ledger.Create(ctx, limitReq("0xw", domain.SideLong, "20"))
	require.NoError(t, err)

	res := f.ledger.Sweep(ctx, dec("19.5"))
	assert.Empty(t, res.Executed)
	assert.Empty(t, res.Failed)

	got, err := f.ledger.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, got.Status)
	assert.Zero(t, got.Attempts)
	stored, err := f.store.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, stored.Status)
	assert.Empty(t, f.hub.Notifications("0xw", domain.NotificationFilter{Type: domain.NotifySystemAlert}))

	f.conn.mu.Lock()
	f.conn.openErr = nil
	f.conn.mu.Unlock()
	res = f.ledger.Sweep(ctx, dec("19.5"))
	assert.Equal(t, []string{o.ID}, res.Executed)
}

func TestSweepSkipsOrderSettledByAnotherLedger(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemOrderStore()
	locks := newMemLocks()
	connA, connB := newFakeConnector(), newFakeConnector()

	a := NewOrderLedger(connA, &fakePrices{}, newHub(), store, nil, locks, OrderLedgerConfig{}, testLogger())
	b := NewOrderLedger(connB, &fakePrices{}, newHub(), store, nil, locks, OrderLedgerConfig{}, testLogger())

	o, err := a.Create(ctx, limitReq("0xw", domain.SideLong, "20"))
	require.NoError(t, err)
	n, err := b.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	res := a.Sweep(ctx, dec("19.5"))
	require.Equal(t, []string{o.ID}, res.Executed)

	res = b.Sweep(ctx, dec("19.5"))
	assert.Empty(t, res.Executed)
	assert.Empty(t, res.Failed)
	assert.Empty(t, connB.opens)
	assert.Len(t, connA.opens, 1)

	got, err := b.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusExecuted, got.Status)
	assert.Empty(t, b.Pending("0xw"))
}

func TestCancelRefusedOnceAnotherLedgerExecuted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemOrderStore()
	conn := newFakeConnector()

	a := NewOrderLedger(conn, &fakePrices{}, newHub(), store, nil, nil, OrderLedgerConfig{}, testLogger())
	b := NewOrderLedger(conn, &fakePrices{}, newHub(), store, nil, nil, OrderLedgerConfig{}, testLogger())

	o, err := a.Create(ctx, limitReq("0xw", domain.SideLong, "20"))
	require.NoError(t, err)
	_, err = b.Load(ctx)
	require.NoError(t, err)
	require.Len(t, a.Sweep(ctx, dec("19")).Executed, 1)

	_, err = b.Cancel(ctx, o.ID, "0xw")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	stored, err := store.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusExecuted, stored.Status)
	got, err := b.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusExecuted, got.Status)
}

func TestSweepPermanentFailureFailsImmediately(t *testing.T) {
	t.Parallel()
	f := newLedgerFixture(t, OrderLedgerConfig{})
	f.conn.closeErr = domain.ErrNoPosition
	ctx := context.Background()

	o, err := f.ledger.Create(ctx, domain.OrderRequest{Wallet: "0xw", Kind: domain.OrderKindStopLoss, Side: domain.SideLong, TriggerPrice: dec("20")})
	require.NoError(t, err)
	ok, err := f.ledger.Create(ctx, limitReq("0xw", domain.SideLong, "20"))
	require.NoError(t, err)

	res := f.ledger.Sweep(ctx, dec("19"))
	assert.Equal(t, []string{ok.ID}, res.Executed, "one failure does not abort the sweep")
	require.Len(t, res.Failed, 1)
	assert.Contains(t, res.Failed[0].Reason, "no active position")

	got, _ := f.ledger.Get(ctx, o.ID)
	assert.Equal(t, domain.OrderStatusFailed, got.Status)
}

func TestSweepSkipsOrdersLockedElsewhere(t *testing.T) {
	t.Parallel()
	hub := newHub()
	conn := newFakeConnector()
	ctx := context.Background()

	l := NewOrderLedger(conn, &fakePrices{}, hub, nil, nil, nil, OrderLedgerConfig{}, testLogger())
	o, err := l.Create(ctx, limitReq("0xw", domain.SideLong, "20"))
	require.NoError(t, err)
	l.locks = heldLocks{held: map[string]bool{"order:" + o.ID: true}}

	res := l.Sweep(ctx, dec("19"))
	assert.Empty(t, res.Executed)
	assert.Empty(t, res.Failed)
	assert.Empty(t, conn.opens)
}

func TestCancel(t *testing.T) {
	t.Parallel()
	f := newLedgerFixture(t, OrderLedgerConfig{})
	ctx := context.Background()

	o, err := f.ledger.Create(ctx, limitReq("0xw", domain.SideLong, "20"))
	require.NoError(t, err)

	_, err = f.ledger.Cancel(ctx, "missing", "0xw")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.ledger.Cancel(ctx, o.ID, "0xintruder")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	cancelled, err := f.ledger.Cancel(ctx, o.ID, "0xw")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)

	_, err = f.ledger.Cancel(ctx, o.ID, "0xw")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	res := f.ledger.Sweep(ctx, dec("1"))
	assert.Empty(t, res.Executed)

	notes := f.hub.Notifications("0xw", domain.NotificationFilter{Type: domain.NotifyOrderCancelled})
	assert.Len(t, notes, 1)
}

func TestTerminalStatusNeverChangesUnderConcurrency(t *testing.T) {
	t.Parallel()
	f := newLedgerFixture(t, OrderLedgerConfig{})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 20; i++ {
		o, err := f.ledger.Create(ctx, limitReq("0xw", domain.SideLong, "20"))
		require.NoError(t, err)
		ids = append(ids, o.ID)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 3; i++ {
			f.ledger.Sweep(ctx, dec("19"))
		}
	}()
	go func() {
		defer wg.Done()
		for _, oid := range ids {
			_, err := f.ledger.Cancel(ctx, oid, "0xw")
			if err != nil {
				assert.True(t, errors.Is(err, domain.ErrInvalidState), err)
			}
		}
	}()
	wg.Wait()

	executed, cancelled := 0, 0
	for _, oid := range ids {
		o, err := f.ledger.Get(ctx, oid)
		require.NoError(t, err)
		switch o.Status {
		case domain.OrderStatusExecuted:
			executed++
		case domain.OrderStatusCancelled:
			cancelled++
		default:
			t.Fatalf("order %s left in %s", oid, o.Status)
		}
	}
	assert.Equal(t, len(ids), executed+cancelled)
	assert.Len(t, f.conn.opens, executed, "each executed order hit the exchange once")
}

func TestLoadRestoresPending(t *testing.T) {
	t.Parallel()
	store := newMemOrderStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, domain.Order{ID: "01A", Wallet: "0xw", Kind: domain.OrderKindStopLoss, Side: domain.SideLong, TriggerPrice: dec("10"), Status: domain.OrderStatusPending}))
	require.NoError(t, store.Create(ctx, domain.Order{ID: "01B", Wallet: "0xw", Kind: domain.OrderKindStopLoss, Side: domain.SideLong, TriggerPrice: dec("10"), Status: domain.OrderStatusCancelled}))

	l := NewOrderLedger(newFakeConnector(), &fakePrices{}, newHub(), store, nil, nil, OrderLedgerConfig{}, testLogger())
	n, err := l.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, l.Pending("0xw"), 1)

	o, err := l.Get(ctx, "01B")
	require.NoError(t, err, "falls back to the store")
	assert.Equal(t, domain.OrderStatusCancelled, o.Status)
}

func TestRunSweepsOnTick(t *testing.T) {
	t.Parallel()
	f := newLedgerFixture(t, OrderLedgerConfig{})
	f.prices.set("19")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o, err := f.ledger.Create(ctx, limitReq("0xw", domain.SideLong, "20"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- f.ledger.Run(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		got, _ := f.ledger.Get(ctx, o.ID)
		return got.Status == domain.OrderStatusExecuted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
