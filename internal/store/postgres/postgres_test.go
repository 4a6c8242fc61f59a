package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

func TestDSN(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "postgres://bot:pw@db:5432/perp?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "perp", User: "bot", Password: "pw"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestPaginate(t *testing.T) {
	t.Parallel()
	since := time.Unix(100, 0)
	q, args := paginate("SELECT 1 FROM t WHERE wallet = $1", []any{"w"}, "created_at",
		domain.ListOpts{Limit: 10, Offset: 20, Since: &since})
	assert.Equal(t, "SELECT 1 FROM t WHERE wallet = $1 AND created_at >= $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4", q)
	assert.Equal(t, []any{"w", since, 10, 20}, args)

	q, args = paginate("SELECT 1 FROM t WHERE TRUE", nil, "ts", domain.ListOpts{})
	assert.Equal(t, "SELECT 1 FROM t WHERE TRUE ORDER BY ts DESC", q)
	assert.Empty(t, args)
}

func TestNullDecimalRoundTrip(t *testing.T) {
	t.Parallel()
	assert.Nil(t, nullString(decimal.NullDecimal{}))
	s := nullString(decimal.NewNullDecimal(decimal.RequireFromString("1.50")))
	require.NotNil(t, s)
	assert.Equal(t, "1.5", *s)

	d, err := parseNullDecimal("x", s)
	require.NoError(t, err)
	assert.True(t, d.Valid)
	d, err = parseNullDecimal("x", nil)
	require.NoError(t, err)
	assert.False(t, d.Valid)

	bad := "abc"
	_, err = parseNullDecimal("x", &bad)
	assert.Error(t, err)
}

// fakeRow assigns fixed values to Scan destinations in order.
type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.vals) {
		return errors.New("column count mismatch")
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.vals[i].(string)
		case **string:
			if r.vals[i] != nil {
				v := r.vals[i].(string)
				*p = &v
			}
		case *int:
			*p = r.vals[i].(int)
		case *time.Time:
			*p = r.vals[i].(time.Time)
		case **time.Time:
			if r.vals[i] != nil {
				v := r.vals[i].(time.Time)
				*p = &v
			}
		default:
			return errors.New("unsupported destination")
		}
	}
	return nil
}

func TestScanOrder(t *testing.T) {
	t.Parallel()
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	executed := created.Add(time.Minute)
	o, err := scanOrder(fakeRow{vals: []any{
		"01ORDER", "0xabc", "limit", "short", "100", "25.5",
		"3", "executed", "25.6", "0xhash", 1, "",
		created, executed, nil, nil,
	}})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderKindLimit, o.Kind)
	assert.Equal(t, domain.SideShort, o.Side)
	assert.Equal(t, domain.OrderStatusExecuted, o.Status)
	assert.True(t, o.TriggerPrice.Equal(decimal.RequireFromString("25.5")))
	assert.True(t, o.Size.Valid)
	assert.True(t, o.ExecutionPrice.Decimal.Equal(decimal.RequireFromString("25.6")))
	require.NotNil(t, o.ExecutedAt)
	assert.Nil(t, o.CancelledAt)

	o, err = scanOrder(fakeRow{vals: []any{
		"01SL", "0xabc", "stop_loss", "long", nil, "18",
		nil, "pending", nil, "", 0, "",
		created, nil, nil, nil,
	}})
	require.NoError(t, err)
	assert.False(t, o.Size.Valid)
	assert.False(t, o.Leverage.Valid)
}

func TestUpdateMissError(t *testing.T) {
	t.Parallel()
	err := updateMissError("01A", fakeRow{err: pgx.ErrNoRows})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = updateMissError("01A", fakeRow{vals: []any{"executed"}})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Contains(t, err.Error(), "executed")

	err = updateMissError("01A", fakeRow{err: errors.New("conn reset")})
	assert.NotErrorIs(t, err, domain.ErrInvalidState)
	assert.ErrorContains(t, err, "conn reset")
}

func TestScanPosition(t *testing.T) {
	t.Parallel()
	opened := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	p, err := scanPosition(fakeRow{vals: []any{
		"01POS", "0xabc", "long", "1000", "200", "5",
		"20", "16.2", "closed", "22",
		"100", "0xhash", opened, opened.Add(time.Hour),
	}})
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, p.Status)
	assert.True(t, p.LiquidationPrice.Equal(decimal.RequireFromString("16.2")))
	assert.True(t, p.RealizedPnL.Decimal.Equal(decimal.NewFromInt(100)))
	require.NotNil(t, p.ClosedAt)

	_, err = scanPosition(fakeRow{vals: []any{
		"01POS", "0xabc", "long", "oops", "200", "5",
		"20", "16.2", "open", nil,
		nil, "", opened, nil,
	}})
	assert.Error(t, err)
}

func TestMigrationsEmbedded(t *testing.T) {
	t.Parallel()
	b, err := migrationsFS.ReadFile("migrations/001_init.sql")
	require.NoError(t, err)
	for _, table := range []string{"orders", "positions", "trading_stats", "audit_log"} {
		assert.Contains(t, string(b), "CREATE TABLE IF NOT EXISTS "+table)
	}
}
