package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceCache provides fast access to the latest spot prices.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price decimal.Decimal, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// BusMessage is a pub/sub delivery tagged with its concrete channel.
type BusMessage struct {
	Channel string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan BusMessage, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
