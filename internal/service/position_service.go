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
	"github.com/alanyoungcy/perpbot/internal/id"
)

// PositionChannel is the signal bus channel for position lifecycle events.
const PositionChannel = "positions"

// PositionService keeps the persisted history of positions opened and
// closed through this service, and the per-wallet trading statistics.
type PositionService struct {
	positions domain.PositionStore
	stats     domain.StatsStore
	bus       domain.SignalBus
	audit     domain.AuditStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewPositionService creates a PositionService. bus and audit may be nil.
func NewPositionService(
	positions domain.PositionStore,
	stats domain.StatsStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		positions: positions,
		stats:     stats,
		bus:       bus,
		audit:     audit,
		logger:    logger.With(slog.String("component", "position_service")),
		now:       time.Now,
	}
}

// RecordOpen persists a newly opened position.
func (s *PositionService) RecordOpen(ctx context.Context, p domain.Position, txHash string) (domain.PositionRecord, error) {
	rec := domain.PositionRecord{
		ID:               id.New(),
		Wallet:           p.Wallet,
		Side:             p.Side,
		Size:             p.Size,
		Collateral:       p.Collateral,
		Leverage:         p.Leverage,
		EntryPrice:       p.EntryPrice,
		LiquidationPrice: p.LiquidationPrice,
		Status:           domain.PositionStatusOpen,
		TxHash:           txHash,
		OpenedAt:         s.now().UTC(),
	}
	if err := s.positions.Create(ctx, rec); err != nil {
		return domain.PositionRecord{}, fmt.Errorf("position_service: create position: %w", err)
	}

	s.publish(ctx, map[string]any{
		"event":       "position_opened",
		"position_id": rec.ID,
		"wallet":      rec.Wallet,
		"side":        string(rec.Side),
		"size":        rec.Size.String(),
		"entry_price": rec.EntryPrice.String(),
		"leverage":    rec.Leverage.String(),
	})
	s.logAudit(ctx, "position_opened", map[string]any{
		"position_id": rec.ID,
		"wallet":      rec.Wallet,
		"side":        string(rec.Side),
		"size":        rec.Size.String(),
		"collateral":  rec.Collateral.String(),
		"entry_price": rec.EntryPrice.String(),
		"tx_hash":     txHash,
	})

	s.logger.InfoContext(ctx, "position_service: position opened",
		slog.String("position_id", rec.ID),
		slog.String("wallet", rec.Wallet),
		slog.String("side", string(rec.Side)),
		slog.String("size", rec.Size.String()),
	)
	return rec, nil
}

// RecordClose closes the wallet's open records on side and folds the
// realized PnL into the trading statistics.
func (s *PositionService) RecordClose(ctx context.Context, wallet string, side domain.Side, exitPrice, realizedPnL, leverage decimal.Decimal) error {
	now := s.now().UTC()
	n, err := s.positions.CloseSide(ctx, wallet, side, domain.PositionStatusClosed, exitPrice, realizedPnL, now)
	if err != nil {
		return fmt.Errorf("position_service: close %s %s: %w", wallet, side, err)
	}
	if n == 0 {
		s.logger.InfoContext(ctx, "position_service: closed a position opened elsewhere",
			slog.String("wallet", wallet),
			slog.String("side", string(side)),
		)
	}

	if err := s.applyStats(ctx, wallet, realizedPnL, leverage, now); err != nil {
		return err
	}

	s.publish(ctx, map[string]any{
		"event":        "position_closed",
		"wallet":       wallet,
		"side":         string(side),
		"exit_price":   exitPrice.String(),
		"realized_pnl": realizedPnL.String(),
	})
	s.logAudit(ctx, "position_closed", map[string]any{
		"wallet":       wallet,
		"side":         string(side),
		"exit_price":   exitPrice.String(),
		"realized_pnl": realizedPnL.String(),
		"records":      n,
	})

	s.logger.InfoContext(ctx, "position_service: position closed",
		slog.String("wallet", wallet),
		slog.String("side", string(side)),
		slog.String("exit_price", exitPrice.String()),
		slog.String("realized_pnl", realizedPnL.String()),
	)
	return nil
}

func (s *PositionService) applyStats(ctx context.Context, wallet string, pnl, leverage decimal.Decimal, at time.Time) error {
	st, err := s.stats.Get(ctx, wallet)
	if errors.Is(err, domain.ErrNotFound) {
		st = domain.TradingStats{Wallet: wallet}
	} else if err != nil {
		return fmt.Errorf("position_service: get stats: %w", err)
	}
	st.Apply(pnl, leverage, at)
	if err := s.stats.Upsert(ctx, st); err != nil {
		return fmt.Errorf("position_service: upsert stats: %w", err)
	}
	return nil
}

// Open returns the wallet's open position records.
func (s *PositionService) Open(ctx context.Context, wallet string) ([]domain.PositionRecord, error) {
	recs, err := s.positions.ListOpen(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("position_service: list open for %q: %w", wallet, err)
	}
	return recs, nil
}

// History returns position records newest first, optionally filtered by
// status.
func (s *PositionService) History(ctx context.Context, wallet string, status domain.PositionStatus, opts domain.ListOpts) ([]domain.PositionRecord, error) {
	recs, err := s.positions.ListHistory(ctx, wallet, status, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: history for %q: %w", wallet, err)
	}
	return recs, nil
}

// Stats returns the wallet's trading statistics. A wallet with no closed
// trades gets zeroed stats.
func (s *PositionService) Stats(ctx context.Context, wallet string) (domain.TradingStats, error) {
	st, err := s.stats.Get(ctx, wallet)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.TradingStats{Wallet: wallet}, nil
	}
	if err != nil {
		return domain.TradingStats{}, fmt.Errorf("position_service: stats for %q: %w", wallet, err)
	}
	return st, nil
}

func (s *PositionService) publish(ctx context.Context, evt map[string]any) {
	if s.bus == nil {
		return
	}
	payload, _ := json.Marshal(evt)
	if err := s.bus.Publish(ctx, PositionChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "position_service: publish event failed",
			slog.Any("event", evt["event"]),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PositionService) logAudit(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "position_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
