package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// StatsStore implements domain.StatsStore using PostgreSQL.
type StatsStore struct {
	pool *pgxpool.Pool
}

// NewStatsStore creates a new StatsStore.
func NewStatsStore(pool *pgxpool.Pool) *StatsStore {
	return &StatsStore{pool: pool}
}

// Get returns the wallet's aggregate or domain.ErrNotFound.
func (s *StatsStore) Get(ctx context.Context, wallet string) (domain.TradingStats, error) {
	const query = `
		SELECT wallet, total_trades, winning_trades, total_pnl::text,
		       best_trade::text, worst_trade::text, avg_leverage::text, updated_at
		FROM trading_stats WHERE wallet = $1`

	var (
		st                         domain.TradingStats
		total, best, worst, avgLev string
	)
	err := s.pool.QueryRow(ctx, query, wallet).Scan(
		&st.Wallet, &st.TotalTrades, &st.WinningTrades, &total,
		&best, &worst, &avgLev, &st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradingStats{}, fmt.Errorf("postgres: stats %s: %w", wallet, domain.ErrNotFound)
		}
		return domain.TradingStats{}, fmt.Errorf("postgres: get stats %s: %w", wallet, err)
	}
	if st.TotalPnL, err = parseDecimal("total_pnl", total); err != nil {
		return domain.TradingStats{}, err
	}
	if st.BestTrade, err = parseDecimal("best_trade", best); err != nil {
		return domain.TradingStats{}, err
	}
	if st.WorstTrade, err = parseDecimal("worst_trade", worst); err != nil {
		return domain.TradingStats{}, err
	}
	if st.AvgLeverage, err = parseDecimal("avg_leverage", avgLev); err != nil {
		return domain.TradingStats{}, err
	}
	return st, nil
}

// Upsert writes the whole aggregate for the wallet.
func (s *StatsStore) Upsert(ctx context.Context, st domain.TradingStats) error {
	const query = `
		INSERT INTO trading_stats (
			wallet, total_trades, winning_trades, total_pnl,
			best_trade, worst_trade, avg_leverage, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (wallet) DO UPDATE SET
			total_trades   = EXCLUDED.total_trades,
			winning_trades = EXCLUDED.winning_trades,
			total_pnl      = EXCLUDED.total_pnl,
			best_trade     = EXCLUDED.best_trade,
			worst_trade    = EXCLUDED.worst_trade,
			avg_leverage   = EXCLUDED.avg_leverage,
			updated_at     = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		st.Wallet, st.TotalTrades, st.WinningTrades, st.TotalPnL.String(),
		st.BestTrade.String(), st.WorstTrade.String(), st.AvgLeverage.String(), st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert stats %s: %w", st.Wallet, err)
	}
	return nil
}

var _ domain.StatsStore = (*StatsStore)(nil)
