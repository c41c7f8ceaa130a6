package store

import (
	"context"
	"database/sql"
	"fmt"
)

type scanner interface {
	Scan(dest ...any) error
}

// Cursor is a position-addressable query result. It satisfies
// live.PagingSource. A Cursor never caches rows: every Load reads the
// database as it is at that moment, so callers should re-create their pagers
// when the versions of the underlying tables change.
type Cursor[T any] struct {
	db    *sql.DB
	query string
	args  []any
	scan  func(scanner) (T, error)
}

func newCursor[T any](db *sql.DB, scan func(scanner) (T, error), query string, args ...any) *Cursor[T] {
	return &Cursor[T]{db: db, query: query, args: args, scan: scan}
}

// Count returns the number of rows of the full result.
func (c *Cursor[T]) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ("+c.query+")", c.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Load returns up to limit rows starting at offset.
func (c *Cursor[T]) Load(ctx context.Context, offset, limit int) ([]T, error) {
	args := append(append([]any{}, c.args...), limit, offset)
	return queryAll(ctx, c.db, c.scan, c.query+" LIMIT ? OFFSET ?", args...)
}

// All returns the complete result.
func (c *Cursor[T]) All(ctx context.Context) ([]T, error) {
	return queryAll(ctx, c.db, c.scan, c.query, c.args...)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryAll[T any](ctx context.Context, q querier, scan func(scanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}
	return out, nil
}
