package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Create inserts a position record.
func (s *PositionStore) Create(ctx context.Context, p domain.PositionRecord) error {
	const query = `
		INSERT INTO positions (
			id, wallet, side, size, collateral, leverage, entry_price,
			liquidation_price, status, exit_price, realized_pnl, tx_hash,
			opened_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Wallet, string(p.Side), p.Size.String(), p.Collateral.String(),
		p.Leverage.String(), p.EntryPrice.String(), p.LiquidationPrice.String(),
		string(p.Status), nullString(p.ExitPrice), nullString(p.RealizedPnL), p.TxHash,
		p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

const positionSelectCols = `id, wallet, side, size::text, collateral::text, leverage::text,
	entry_price::text, liquidation_price::text, status, exit_price::text,
	realized_pnl::text, tx_hash, opened_at, closed_at`

func scanPosition(row rowScanner) (domain.PositionRecord, error) {
	var (
		p                           domain.PositionRecord
		side, status                string
		size, coll, lev, entry, liq string
		exit, pnl                   *string
	)
	err := row.Scan(
		&p.ID, &p.Wallet, &side, &size, &coll, &lev,
		&entry, &liq, &status, &exit,
		&pnl, &p.TxHash, &p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.PositionRecord{}, err
	}
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)

	for _, f := range []struct {
		col string
		src string
		dst *decimal.Decimal
	}{
		{"size", size, &p.Size},
		{"collateral", coll, &p.Collateral},
		{"leverage", lev, &p.Leverage},
		{"entry_price", entry, &p.EntryPrice},
		{"liquidation_price", liq, &p.LiquidationPrice},
	} {
		if *f.dst, err = parseDecimal(f.col, f.src); err != nil {
			return domain.PositionRecord{}, err
		}
	}
	if p.ExitPrice, err = parseNullDecimal("exit_price", exit); err != nil {
		return domain.PositionRecord{}, err
	}
	if p.RealizedPnL, err = parseNullDecimal("realized_pnl", pnl); err != nil {
		return domain.PositionRecord{}, err
	}
	return p, nil
}

func (s *PositionStore) query(ctx context.Context, op, sql string, args ...any) ([]domain.PositionRecord, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.PositionRecord
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	return out, nil
}

// ListOpen returns the wallet's open records.
func (s *PositionStore) ListOpen(ctx context.Context, wallet string) ([]domain.PositionRecord, error) {
	return s.query(ctx, "list open positions",
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE wallet = $1 AND status = 'open' ORDER BY opened_at DESC`, wallet)
}

// CloseSide marks every open record of wallet on side as closed or
// liquidated.
func (s *PositionStore) CloseSide(ctx context.Context, wallet string, side domain.Side, status domain.PositionStatus, exitPrice, realizedPnL decimal.Decimal, closedAt time.Time) (int64, error) {
	const query = `
		UPDATE positions
		SET status = $3, exit_price = $4, realized_pnl = $5, closed_at = $6
		WHERE wallet = $1 AND side = $2 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query,
		wallet, string(side), string(status), exitPrice.String(), realizedPnL.String(), closedAt)
	if err != nil {
		return 0, fmt.Errorf("postgres: close %s %s position: %w", wallet, side, err)
	}
	return tag.RowsAffected(), nil
}

// ListHistory returns the wallet's records newest first. An empty status
// matches every status.
func (s *PositionStore) ListHistory(ctx context.Context, wallet string, status domain.PositionStatus, opts domain.ListOpts) ([]domain.PositionRecord, error) {
	q := `SELECT ` + positionSelectCols + ` FROM positions WHERE wallet = $1`
	args := []any{wallet}
	if status != "" {
		q += ` AND status = $2`
		args = append(args, string(status))
	}
	q, args = paginate(q, args, "opened_at", opts)
	return s.query(ctx, "list position history", q, args...)
}

// ListClosedBefore returns closed and liquidated records that ended before
// the cutoff.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.PositionRecord, error) {
	return s.query(ctx, "list closed positions",
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status <> 'open' AND closed_at < $1 ORDER BY closed_at ASC`, before)
}

// DeleteClosedBefore removes the rows ListClosedBefore would return.
func (s *PositionStore) DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM positions WHERE status <> 'open' AND closed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete closed positions: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
