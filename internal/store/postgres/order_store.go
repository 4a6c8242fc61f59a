package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Create inserts a new order.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, wallet, kind, side, size, trigger_price, leverage, status,
			execution_price, tx_hash, attempts, last_error,
			created_at, executed_at, cancelled_at, failed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16
		)`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.Wallet, string(o.Kind), string(o.Side),
		nullString(o.Size), o.TriggerPrice.String(), nullString(o.Leverage), string(o.Status),
		nullString(o.ExecutionPrice), o.TxHash, o.Attempts, o.LastError,
		o.CreatedAt, o.ExecutedAt, o.CancelledAt, o.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// Update overwrites the mutable fields of a pending order. Once another
// writer has moved the row to a terminal status the update is refused with
// domain.ErrInvalidState.
func (s *OrderStore) Update(ctx context.Context, o domain.Order) error {
	const query = `
		UPDATE orders SET
			status = $2, execution_price = $3, tx_hash = $4, attempts = $5,
			last_error = $6, executed_at = $7, cancelled_at = $8, failed_at = $9,
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	tag, err := s.pool.Exec(ctx, query,
		o.ID, string(o.Status), nullString(o.ExecutionPrice), o.TxHash, o.Attempts,
		o.LastError, o.ExecutedAt, o.CancelledAt, o.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update order %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		row := s.pool.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, o.ID)
		return updateMissError(o.ID, row)
	}
	return nil
}

// updateMissError explains why a guarded update touched no row.
func updateMissError(id string, row rowScanner) error {
	var status string
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("postgres: update order %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("postgres: update order %s: %w", id, err)
	}
	return fmt.Errorf("postgres: update order %s in status %s: %w", id, status, domain.ErrInvalidState)
}

const orderSelectCols = `id, wallet, kind, side, size::text, trigger_price::text,
	leverage::text, status, execution_price::text, tx_hash, attempts, last_error,
	created_at, executed_at, cancelled_at, failed_at`

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o                        domain.Order
		kind, side, status, trig string
		size, lev, execPrice     *string
	)
	err := row.Scan(
		&o.ID, &o.Wallet, &kind, &side, &size, &trig,
		&lev, &status, &execPrice, &o.TxHash, &o.Attempts, &o.LastError,
		&o.CreatedAt, &o.ExecutedAt, &o.CancelledAt, &o.FailedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Kind = domain.OrderKind(kind)
	o.Side = domain.Side(side)
	o.Status = domain.OrderStatus(status)

	if o.TriggerPrice, err = parseDecimal("trigger_price", trig); err != nil {
		return domain.Order{}, err
	}
	if o.Size, err = parseNullDecimal("size", size); err != nil {
		return domain.Order{}, err
	}
	if o.Leverage, err = parseNullDecimal("leverage", lev); err != nil {
		return domain.Order{}, err
	}
	if o.ExecutionPrice, err = parseNullDecimal("execution_price", execPrice); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (s *OrderStore) query(ctx context.Context, op, sql string, args ...any) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	return orders, nil
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, fmt.Errorf("postgres: order %s: %w", id, domain.ErrNotFound)
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// ListPending returns every pending order, oldest first, so the ledger can
// be rebuilt after a restart.
func (s *OrderStore) ListPending(ctx context.Context) ([]domain.Order, error) {
	return s.query(ctx, "list pending orders",
		`SELECT `+orderSelectCols+` FROM orders WHERE status = 'pending' ORDER BY created_at ASC`)
}

// ListByWallet returns a wallet's orders, newest first.
func (s *OrderStore) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Order, error) {
	q, args := paginate(`SELECT `+orderSelectCols+` FROM orders WHERE wallet = $1`,
		[]any{wallet}, "created_at", opts)
	return s.query(ctx, "list orders by wallet", q, args...)
}

const terminalBefore = `status <> 'pending' AND COALESCE(executed_at, cancelled_at, failed_at, created_at) < $1`

// ListTerminalBefore returns executed, cancelled and failed orders that
// reached their final state before the cutoff.
func (s *OrderStore) ListTerminalBefore(ctx context.Context, before time.Time) ([]domain.Order, error) {
	return s.query(ctx, "list terminal orders",
		`SELECT `+orderSelectCols+` FROM orders WHERE `+terminalBefore+` ORDER BY created_at ASC`, before)
}

// DeleteTerminalBefore removes the rows ListTerminalBefore would return.
func (s *OrderStore) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM orders WHERE `+terminalBefore, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete terminal orders: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.OrderStore = (*OrderStore)(nil)
