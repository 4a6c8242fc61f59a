package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/metrics"
)

// PriceChannel is the signal bus channel for spot price updates.
const PriceChannel = "prices"

// PriceService is a read-through cache in front of an upstream PriceSource.
// Spot prices younger than the freshness window are served from the cache;
// everything else goes upstream and refreshes the cache. A broken cache is
// logged and bypassed.
type PriceService struct {
	upstream  domain.PriceSource
	cache     domain.PriceCache
	bus       domain.SignalBus
	freshness time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewPriceService creates a PriceService. cache and bus may be nil.
func NewPriceService(
	upstream domain.PriceSource,
	cache domain.PriceCache,
	bus domain.SignalBus,
	freshness time.Duration,
	logger *slog.Logger,
) *PriceService {
	if freshness <= 0 {
		freshness = 30 * time.Second
	}
	return &PriceService{
		upstream:  upstream,
		cache:     cache,
		bus:       bus,
		freshness: freshness,
		logger:    logger.With(slog.String("component", "price_service")),
		now:       time.Now,
	}
}

// SpotPrice returns the latest spot price for symbol.
func (s *PriceService) SpotPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if s.cache != nil {
		price, ts, err := s.cache.GetPrice(ctx, symbol)
		switch {
		case err == nil && s.now().Sub(ts) < s.freshness:
			metrics.PriceCacheResults.WithLabelValues("hit").Inc()
			return price, nil
		case err == nil:
			metrics.PriceCacheResults.WithLabelValues("stale").Inc()
		case errors.Is(err, domain.ErrNotFound):
			metrics.PriceCacheResults.WithLabelValues("miss").Inc()
		default:
			metrics.PriceCacheResults.WithLabelValues("error").Inc()
			s.logger.WarnContext(ctx, "price_service: cache read failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}

	price, err := s.upstream.SpotPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price_service: spot %s: %w", symbol, err)
	}
	s.record(ctx, symbol, price)
	return price, nil
}

// record stores a fresh upstream price and announces it.
func (s *PriceService) record(ctx context.Context, symbol string, price decimal.Decimal) {
	now := s.now().UTC()
	metrics.SpotPrice.WithLabelValues(symbol).Set(price.InexactFloat64())

	if s.cache != nil {
		if err := s.cache.SetPrice(ctx, symbol, price, now); err != nil {
			s.logger.WarnContext(ctx, "price_service: cache write failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.bus == nil {
		return
	}
	evt, _ := json.Marshal(map[string]any{
		"event":     "spot_price",
		"symbol":    symbol,
		"price":     price.String(),
		"timestamp": now.Format(time.RFC3339Nano),
	})
	if err := s.bus.Publish(ctx, PriceChannel, evt); err != nil {
		s.logger.WarnContext(ctx, "price_service: publish price failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
}

// PriceHistory passes through to the upstream source.
func (s *PriceService) PriceHistory(ctx context.Context, symbol string, days int) ([]domain.PricePoint, error) {
	pts, err := s.upstream.PriceHistory(ctx, symbol, days)
	if err != nil {
		return nil, fmt.Errorf("price_service: history %s: %w", symbol, err)
	}
	return pts, nil
}

// MarketData passes through to the upstream source and refreshes the
// cached spot price as a side effect.
func (s *PriceService) MarketData(ctx context.Context, symbol string) (domain.MarketData, error) {
	md, err := s.upstream.MarketData(ctx, symbol)
	if err != nil {
		return domain.MarketData{}, fmt.Errorf("price_service: market data %s: %w", symbol, err)
	}
	if md.CurrentPrice.IsPositive() {
		s.record(ctx, symbol, md.CurrentPrice)
	}
	return md, nil
}

var _ domain.PriceSource = (*PriceService)(nil)
