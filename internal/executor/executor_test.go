package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/notify"
	"github.com/alanyoungcy/perpbot/internal/risk"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeVenue struct {
	mu        sync.Mutex
	liquidity decimal.Decimal
	openErr   error
	opens     []decimal.Decimal // size per open
	accepted  []decimal.Decimal
	closes    []domain.Side
}

func (f *fakeVenue) GetPosition(context.Context, string, domain.Side) (domain.RawPosition, error) {
	return domain.RawPosition{}, nil
}

func (f *fakeVenue) OpenPosition(_ context.Context, _ string, size decimal.Decimal, _ domain.Side, acceptable decimal.Decimal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return "", f.openErr
	}
	f.opens = append(f.opens, size)
	f.accepted = append(f.accepted, acceptable)
	return "0xopen", nil
}

func (f *fakeVenue) ClosePosition(_ context.Context, _ string, side domain.Side, acceptable decimal.Decimal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, side)
	f.accepted = append(f.accepted, acceptable)
	return "0xclose", nil
}

func (f *fakeVenue) AvailableLiquidity(context.Context, string) (decimal.Decimal, error) {
	return f.liquidity, nil
}

type fakeSource struct{ price decimal.Decimal }

func (f fakeSource) SpotPrice(context.Context, string) (decimal.Decimal, error) { return f.price, nil }

func (f fakeSource) PriceHistory(context.Context, string, int) ([]domain.PricePoint, error) {
	return nil, nil
}

func (f fakeSource) MarketData(_ context.Context, symbol string) (domain.MarketData, error) {
	return domain.MarketData{Symbol: symbol, CurrentPrice: f.price}, nil
}

type fakeTracker struct {
	positions domain.ActivePositions
	check     domain.RiskCheck
}

func (f *fakeTracker) ActivePositions(context.Context, string) (domain.ActivePositions, error) {
	return f.positions, nil
}

func (f *fakeTracker) CheckRiskLimits(context.Context, string, decimal.Decimal, decimal.Decimal) (domain.RiskCheck, error) {
	return f.check, nil
}

type fakeBook struct {
	mu     sync.Mutex
	opened []domain.Position
	closed []decimal.Decimal // realized pnl
}

func (f *fakeBook) RecordOpen(_ context.Context, p domain.Position, _ string) (domain.PositionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, p)
	return domain.PositionRecord{}, nil
}

func (f *fakeBook) RecordClose(_ context.Context, _ string, _ domain.Side, _, pnl, _ decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, pnl)
	return nil
}

type streamBus struct {
	mu        sync.Mutex
	stream    []domain.StreamMessage
	published [][]byte
}

func (b *streamBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, payload)
	return nil
}

func (b *streamBus) Subscribe(context.Context, string) (<-chan domain.BusMessage, error) {
	return nil, errors.New("not supported")
}

func (b *streamBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := time.Now().Add(time.Second).UnixMilli()
	b.stream = append(b.stream, domain.StreamMessage{ID: fmt.Sprintf("%d-0", id), Payload: payload})
	return nil
}

func (b *streamBus) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for _, m := range b.stream {
		if m.ID > lastID && len(out) < count {
			out = append(out, m)
		}
	}
	return out, nil
}

func (b *streamBus) results() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.published...)
}

type fixture struct {
	venue   *fakeVenue
	tracker *fakeTracker
	book    *fakeBook
	hub     *notify.Hub
	bus     *streamBus
	exec    *Executor
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		venue:   &fakeVenue{liquidity: dec("1000000")},
		tracker: &fakeTracker{check: domain.RiskCheck{Passed: true}},
		book:    &fakeBook{},
		hub:     notify.NewHub(testLogger()),
		bus:     &streamBus{},
	}
	f.exec = NewExecutor(f.venue, fakeSource{price: dec("20")}, f.tracker, f.book, f.hub, f.bus,
		risk.NewCalculator(decimal.Zero), cfg, testLogger())
	return f
}

func openIntent(id string) domain.TradeIntent {
	return domain.TradeIntent{
		ID:        id,
		Wallet:    "0xw",
		Operation: domain.OpOpenPosition,
		Side:      domain.SideLong,
		Amount:    decimal.NewNullDecimal(dec("100")),
		Leverage:  decimal.NewNullDecimal(dec("5")),
	}
}

func TestExecuteOpen(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{})

	res, err := f.exec.Execute(context.Background(), openIntent("i-1"))
	require.NoError(t, err)

	assert.Equal(t, "0xopen", res.TxHash)
	assert.True(t, res.Size.Equal(dec("500")))
	assert.True(t, res.Price.Equal(dec("20")))
	assert.True(t, res.AcceptablePrice.Equal(dec("20.06")), res.AcceptablePrice.String())
	require.NotNil(t, res.Risk)

	require.Len(t, f.book.opened, 1)
	p := f.book.opened[0]
	assert.True(t, p.Collateral.Equal(dec("100")))
	assert.True(t, p.LiquidationPrice.Equal(dec("16.2")), p.LiquidationPrice.String())

	notes := f.hub.Notifications("0xw", domain.NotificationFilter{Type: domain.NotifyPositionUpdate})
	require.Len(t, notes, 1)
	assert.Equal(t, "Position Update: Position parameters updated", notes[0].Message)
}

func TestExecuteOpenDefaultsSideAndLeverage(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{})

	in := domain.TradeIntent{Wallet: "0xw", Operation: domain.OpOpenPosition, Amount: decimal.NewNullDecimal(dec("50"))}
	res, err := f.exec.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, domain.SideLong, res.Side)
	assert.True(t, res.Size.Equal(dec("50")))
}

func TestExecuteDuplicateIntent(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{})
	ctx := context.Background()

	_, err := f.exec.Execute(ctx, openIntent("i-1"))
	require.NoError(t, err)
	_, err = f.exec.Execute(ctx, openIntent("i-1"))
	assert.ErrorIs(t, err, domain.ErrDuplicateIntent)
	assert.Len(t, f.venue.opens, 1)
}

func TestExecuteFailedIntentCanBeRetried(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{})
	ctx := context.Background()

	f.venue.openErr = domain.ErrConnector
	_, err := f.exec.Execute(ctx, openIntent("i-1"))
	require.ErrorIs(t, err, domain.ErrConnector)

	f.venue.openErr = nil
	_, err = f.exec.Execute(ctx, openIntent("i-1"))
	require.NoError(t, err)
}

func TestExecuteRiskLimits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	advisory := newFixture(Config{})
	advisory.tracker.check = domain.RiskCheck{Passed: false}
	res, err := advisory.exec.Execute(ctx, openIntent(""))
	require.NoError(t, err)
	assert.False(t, res.Risk.Passed)

	enforced := newFixture(Config{EnforceRiskLimits: true})
	enforced.tracker.check = domain.RiskCheck{Passed: false}
	_, err = enforced.exec.Execute(ctx, openIntent(""))
	assert.ErrorIs(t, err, domain.ErrRiskLimit)
	assert.Empty(t, enforced.venue.opens)
}

func TestExecuteInsufficientLiquidity(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{})
	f.venue.liquidity = dec("99")

	_, err := f.exec.Execute(context.Background(), openIntent(""))
	assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
	assert.Empty(t, f.venue.opens)
}

func TestExecuteClose(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{})
	f.tracker.positions.Set(&domain.Position{
		Wallet:    "0xw",
		Side:      domain.SideShort,
		Size:      dec("1000"),
		MarkPrice: dec("20"),
		Leverage:  dec("4"),
		PnL:       dec("125.5"),
	})

	res, err := f.exec.Execute(context.Background(), domain.TradeIntent{
		Wallet:    "0xw",
		Operation: domain.OpClosePosition,
		Side:      domain.SideShort,
	})
	require.NoError(t, err)
	assert.Equal(t, "0xclose", res.TxHash)
	assert.True(t, res.RealizedPnL.Equal(dec("125.5")))
	// Closing a short buys, so the bound sits above the mark.
	assert.True(t, res.AcceptablePrice.Equal(dec("20.06")), res.AcceptablePrice.String())

	require.Len(t, f.book.closed, 1)
	notes := f.hub.Notifications("0xw", domain.NotificationFilter{Type: domain.NotifyPositionUpdate})
	require.Len(t, notes, 1)
	assert.Equal(t, "Position Update: Position Closed", notes[0].Message)
	assert.Equal(t, domain.PriorityHigh, notes[0].Priority)
}

func TestExecuteCloseWithoutPosition(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{})

	_, err := f.exec.Execute(context.Background(), domain.TradeIntent{
		Wallet:    "0xw",
		Operation: domain.OpClosePosition,
		Side:      domain.SideLong,
	})
	assert.ErrorIs(t, err, domain.ErrNoPosition)
	assert.Empty(t, f.venue.closes)
}

func TestExecuteAnalyzeAndUnsupported(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{})
	ctx := context.Background()

	res, err := f.exec.Execute(ctx, domain.TradeIntent{Wallet: "0xw", Operation: domain.OpAnalyze})
	require.NoError(t, err)
	require.NotNil(t, res.Market)
	assert.Equal(t, domain.SymbolAVAX, res.Market.Symbol)

	_, err = f.exec.Execute(ctx, domain.TradeIntent{Wallet: "0xw", Operation: domain.OpSpotBuy})
	assert.ErrorIs(t, err, domain.ErrNotImplemented)

	_, err = f.exec.Execute(ctx, domain.TradeIntent{Operation: domain.OpAnalyze})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRunConsumesIntentStream(t *testing.T) {
	t.Parallel()
	f := newFixture(Config{PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.exec.Run(ctx) }()

	payload, err := json.Marshal(openIntent("s-1"))
	require.NoError(t, err)
	require.NoError(t, f.bus.StreamAppend(ctx, IntentStream, payload))
	require.NoError(t, f.bus.StreamAppend(ctx, IntentStream, []byte("not json")))

	require.Eventually(t, func() bool { return len(f.bus.results()) == 1 }, 2*time.Second, 5*time.Millisecond)

	var out intentResult
	require.NoError(t, json.Unmarshal(f.bus.results()[0], &out))
	assert.True(t, out.OK)
	assert.Equal(t, "s-1", out.IntentID)
	require.NotNil(t, out.Result)
	assert.Equal(t, "0xopen", out.Result.TxHash)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestDedupWindow(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)
	d := NewDedup(time.Minute)
	d.now = func() time.Time { return now }

	assert.False(t, d.IsDuplicate("a"))
	assert.True(t, d.IsDuplicate("a"))
	assert.False(t, d.IsDuplicate(""))
	assert.False(t, d.IsDuplicate(""))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, d.Cleanup())
	assert.Equal(t, 0, d.Len())
	assert.False(t, d.IsDuplicate("a"))

	d.Forget("a")
	assert.False(t, d.IsDuplicate("a"))
}
