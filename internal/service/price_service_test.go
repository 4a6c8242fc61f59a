package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

type memPriceCache struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	ts     map[string]time.Time
	err    error
}

func newMemPriceCache() *memPriceCache {
	return &memPriceCache{prices: map[string]decimal.Decimal{}, ts: map[string]time.Time{}}
}

func (m *memPriceCache) SetPrice(_ context.Context, symbol string, price decimal.Decimal, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
	m.ts[symbol] = ts
	return nil
}

func (m *memPriceCache) GetPrice(_ context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return decimal.Zero, time.Time{}, m.err
	}
	p, ok := m.prices[symbol]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	return p, m.ts[symbol], nil
}

func TestPriceServiceReadThrough(t *testing.T) {
	t.Parallel()
	upstream := &fakePrices{}
	upstream.set("25")
	cache := newMemPriceCache()
	bus := &recordingBus{}
	svc := NewPriceService(upstream, cache, bus, 30*time.Second, testLogger())
	ctx := context.Background()

	p, err := svc.SpotPrice(ctx, domain.SymbolAVAX)
	require.NoError(t, err)
	assert.True(t, p.Equal(dec("25")))
	assert.Equal(t, 1, upstream.calls)
	assert.Len(t, bus.messages(PriceChannel), 1)

	upstream.set("26")
	p, err = svc.SpotPrice(ctx, domain.SymbolAVAX)
	require.NoError(t, err)
	assert.True(t, p.Equal(dec("25")), "served from cache")
	assert.Equal(t, 1, upstream.calls)

	svc.now = func() time.Time { return time.Now().Add(time.Minute) }
	p, err = svc.SpotPrice(ctx, domain.SymbolAVAX)
	require.NoError(t, err)
	assert.True(t, p.Equal(dec("26")), "stale cache goes upstream")
	assert.Equal(t, 2, upstream.calls)
}

func TestPriceServiceBypassesBrokenCache(t *testing.T) {
	t.Parallel()
	upstream := &fakePrices{}
	upstream.set("25")
	cache := newMemPriceCache()
	cache.err = errors.New("connection refused")
	svc := NewPriceService(upstream, cache, nil, 0, testLogger())

	p, err := svc.SpotPrice(context.Background(), domain.SymbolAVAX)
	require.NoError(t, err)
	assert.True(t, p.Equal(dec("25")))
}

func TestPriceServiceUpstreamError(t *testing.T) {
	t.Parallel()
	upstream := &fakePrices{err: domain.ErrPriceUnavailable}
	svc := NewPriceService(upstream, nil, nil, 0, testLogger())

	_, err := svc.SpotPrice(context.Background(), domain.SymbolAVAX)
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}
