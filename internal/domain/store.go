package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderStore persists conditional orders.
type OrderStore interface {
	Create(ctx context.Context, order Order) error
	// Update applies only while the stored order is still pending and
	// returns ErrInvalidState once it is terminal.
	Update(ctx context.Context, order Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	ListPending(ctx context.Context) ([]Order, error)
	ListByWallet(ctx context.Context, wallet string, opts ListOpts) ([]Order, error)
	ListTerminalBefore(ctx context.Context, before time.Time) ([]Order, error)
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
}

// PositionStore persists position history.
type PositionStore interface {
	Create(ctx context.Context, rec PositionRecord) error
	ListOpen(ctx context.Context, wallet string) ([]PositionRecord, error)
	// CloseSide closes every open record of wallet on side and returns how
	// many rows changed.
	CloseSide(ctx context.Context, wallet string, side Side, status PositionStatus, exitPrice, realizedPnL decimal.Decimal, closedAt time.Time) (int64, error)
	ListHistory(ctx context.Context, wallet string, status PositionStatus, opts ListOpts) ([]PositionRecord, error)
	ListClosedBefore(ctx context.Context, before time.Time) ([]PositionRecord, error)
	DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error)
}

// StatsStore persists per-wallet trading statistics.
type StatsStore interface {
	Get(ctx context.Context, wallet string) (TradingStats, error)
	Upsert(ctx context.Context, stats TradingStats) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
