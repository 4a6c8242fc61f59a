package postgres

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// NUMERIC columns are read back as text and parsed here so no precision is
// lost through float64.

func parseDecimal(col string, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: parse %s %q: %w", col, s, err)
	}
	return d, nil
}

func parseNullDecimal(col string, s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := parseDecimal(col, *s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

// nullString returns nil for an invalid NullDecimal so it is written as SQL
// NULL.
func nullString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

type rowScanner interface {
	Scan(dest ...any) error
}

// paginate appends time bounds, ordering and paging to a query whose WHERE
// clause is already open. col is the timestamp column used for bounds and
// ordering.
func paginate(query string, args []any, col string, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(query)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if opts.Since != nil {
		fmt.Fprintf(&b, " AND %s >= %s", col, next(*opts.Since))
	}
	if opts.Until != nil {
		fmt.Fprintf(&b, " AND %s <= %s", col, next(*opts.Until))
	}
	fmt.Fprintf(&b, " ORDER BY %s DESC", col)
	if opts.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %s", next(opts.Limit))
	}
	if opts.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET %s", next(opts.Offset))
	}
	return b.String(), args
}
