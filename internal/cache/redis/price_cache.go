package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// PriceCache implements domain.PriceCache with one hash per symbol at
// "price:{SYMBOL}" holding "price" (decimal string) and "ts" (unix nanos).
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. Entries expire after ttl; zero keeps
// them forever.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(symbol string) string {
	return "price:" + strings.ToUpper(symbol)
}

// SetPrice stores the latest price for symbol.
func (pc *PriceCache) SetPrice(ctx context.Context, symbol string, price decimal.Decimal, ts time.Time) error {
	key := priceKey(symbol)
	_, err := pc.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "price", price.String(), "ts", strconv.FormatInt(ts.UnixNano(), 10))
		if pc.ttl > 0 {
			p.Expire(ctx, key, pc.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set price %s: %w", symbol, err)
	}
	return nil
}

// GetPrice returns the cached price and when it was observed, or
// domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(symbol)).Result()
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	ps, okP := vals["price"]
	ts, okT := vals["ts"]
	if !okP || !okT {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	price, err := decimal.NewFromString(ps)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse price %s: %w", symbol, err)
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", symbol, err)
	}
	return price, time.Unix(0, nanos).UTC(), nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
