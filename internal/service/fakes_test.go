package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/notify"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newHub() *notify.Hub { return notify.NewHub(testLogger()) }

type openCall struct {
	Wallet     string
	Size       decimal.Decimal
	Side       domain.Side
	Acceptable decimal.Decimal
}

type closeCall struct {
	Wallet     string
	Side       domain.Side
	Acceptable decimal.Decimal
}

// fakeConnector is an in-memory ExchangeConnector.
type fakeConnector struct {
	mu        sync.Mutex
	positions map[string]domain.RawPosition // wallet|side
	liquidity map[string]decimal.Decimal
	openErr   error
	closeErr  error
	getErr    error
	opens     []openCall
	closes    []closeCall
	getCalls  int
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		positions: map[string]domain.RawPosition{},
		liquidity: map[string]decimal.Decimal{},
	}
}

func posKey(wallet string, side domain.Side) string { return wallet + "|" + string(side) }

func (f *fakeConnector) setPosition(wallet string, side domain.Side, p domain.RawPosition) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions[posKey(wallet, side)] = p
}

func (f *fakeConnector) GetPosition(_ context.Context, wallet string, side domain.Side) (domain.RawPosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return domain.RawPosition{}, f.getErr
	}
	return f.positions[posKey(wallet, side)], nil
}

func (f *fakeConnector) OpenPosition(_ context.Context, wallet string, size decimal.Decimal, side domain.Side, acceptable decimal.Decimal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens = append(f.opens, openCall{wallet, size, side, acceptable})
	if f.openErr != nil {
		return "", f.openErr
	}
	return "0xopen", nil
}

func (f *fakeConnector) ClosePosition(_ context.Context, wallet string, side domain.Side, acceptable decimal.Decimal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, closeCall{wallet, side, acceptable})
	if f.closeErr != nil {
		return "", f.closeErr
	}
	return "0xclose", nil
}

func (f *fakeConnector) AvailableLiquidity(_ context.Context, token string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.liquidity[token]
	if !ok {
		return decimal.Zero, domain.ErrUnsupportedToken
	}
	return l, nil
}

// fakePrices is a settable PriceSource.
type fakePrices struct {
	mu    sync.Mutex
	price decimal.Decimal
	err   error
	calls int
}

func (f *fakePrices) set(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = dec(p)
	f.err = nil
}

func (f *fakePrices) SpotPrice(context.Context, string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return f.price, nil
}

func (f *fakePrices) PriceHistory(context.Context, string, int) ([]domain.PricePoint, error) {
	return []domain.PricePoint{{Timestamp: time.Unix(0, 0), Price: f.price}}, nil
}

func (f *fakePrices) MarketData(_ context.Context, symbol string) (domain.MarketData, error) {
	p, err := f.SpotPrice(context.Background(), symbol)
	if err != nil {
		return domain.MarketData{}, err
	}
	return domain.MarketData{Symbol: symbol, CurrentPrice: p}, nil
}

// memOrderStore is an in-memory OrderStore.
type memOrderStore struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

func newMemOrderStore() *memOrderStore { return &memOrderStore{orders: map[string]domain.Order{}} }

func (m *memOrderStore) Create(_ context.Context, o domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
	return nil
}

func (m *memOrderStore) Update(_ context.Context, o domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[o.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Status != domain.OrderStatusPending {
		return domain.ErrInvalidState
	}
	m.orders[o.ID] = o
	return nil
}

func (m *memOrderStore) GetByID(_ context.Context, oid string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[oid]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (m *memOrderStore) ListPending(context.Context) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if o.Status == domain.OrderStatusPending {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memOrderStore) ListByWallet(_ context.Context, wallet string, _ domain.ListOpts) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if o.Wallet == wallet {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memOrderStore) ListTerminalBefore(context.Context, time.Time) ([]domain.Order, error) {
	return nil, nil
}

func (m *memOrderStore) DeleteTerminalBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// memAudit records audit events.
type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

// heldLocks refuses every key in held.
type heldLocks struct {
	held map[string]bool
}

func (h heldLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if h.held[key] {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

// memLocks is a process-local LockManager shared between ledgers.
type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocks() *memLocks { return &memLocks{held: map[string]bool{}} }

func (m *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return nil, domain.ErrLockHeld
	}
	m.held[key] = true
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.held, key)
	}, nil
}

// recordingBus captures published messages.
type recordingBus struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.published == nil {
		b.published = map[string][][]byte{}
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *recordingBus) messages(channel string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published[channel]
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan domain.BusMessage, error) {
	ch := make(chan domain.BusMessage)
	close(ch)
	return ch, nil
}

func (b *recordingBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *recordingBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// memPositionStore is an in-memory PositionStore.
type memPositionStore struct {
	mu   sync.Mutex
	recs []domain.PositionRecord
}

func (m *memPositionStore) Create(_ context.Context, rec domain.PositionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memPositionStore) ListOpen(_ context.Context, wallet string) ([]domain.PositionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PositionRecord
	for _, r := range m.recs {
		if r.Wallet == wallet && r.Status == domain.PositionStatusOpen {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memPositionStore) CloseSide(_ context.Context, wallet string, side domain.Side, status domain.PositionStatus, exit, pnl decimal.Decimal, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.recs {
		r := &m.recs[i]
		if r.Wallet == wallet && r.Side == side && r.Status == domain.PositionStatusOpen {
			r.Status = status
			r.ExitPrice = decimal.NewNullDecimal(exit)
			r.RealizedPnL = decimal.NewNullDecimal(pnl)
			closed := at
			r.ClosedAt = &closed
			n++
		}
	}
	return n, nil
}

func (m *memPositionStore) ListHistory(_ context.Context, wallet string, status domain.PositionStatus, _ domain.ListOpts) ([]domain.PositionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PositionRecord
	for i := len(m.recs) - 1; i >= 0; i-- {
		r := m.recs[i]
		if r.Wallet == wallet && (status == "" || r.Status == status) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memPositionStore) ListClosedBefore(context.Context, time.Time) ([]domain.PositionRecord, error) {
	return nil, nil
}

func (m *memPositionStore) DeleteClosedBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// memStatsStore is an in-memory StatsStore.
type memStatsStore struct {
	mu    sync.Mutex
	stats map[string]domain.TradingStats
}

func (m *memStatsStore) Get(_ context.Context, wallet string) (domain.TradingStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stats[wallet]
	if !ok {
		return domain.TradingStats{}, domain.ErrNotFound
	}
	return st, nil
}

func (m *memStatsStore) Upsert(_ context.Context, st domain.TradingStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stats == nil {
		m.stats = map[string]domain.TradingStats{}
	}
	m.stats[st.Wallet] = st
	return nil
}
