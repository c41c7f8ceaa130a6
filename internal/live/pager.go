package live

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultPageSize is the number of rows per page of a live query.
const DefaultPageSize = 20

// PagingSource is a position-addressable result set.
type PagingSource[T any] interface {
	Count(ctx context.Context) (int, error)
	Load(ctx context.Context, offset, limit int) ([]T, error)
}

// Pager loads a PagingSource page by page and caches every page it loaded.
// A Pager belongs to a single query evaluation; a newer evaluation produces a
// new Pager rather than mutating this one.
type Pager[T any] struct {
	source   PagingSource[T]
	pageSize int
	at       time.Time

	mu    sync.Mutex
	pages map[int][]T
	count int
	known bool
}

// NewPager wraps source. at is the clock instant the query was evaluated for.
func NewPager[T any](source PagingSource[T], pageSize int, at time.Time) *Pager[T] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Pager[T]{
		source:   source,
		pageSize: pageSize,
		at:       at,
		pages:    make(map[int][]T),
	}
}

// At returns the instant this evaluation was made for.
func (p *Pager[T]) At() time.Time { return p.at }

// PageSize returns the configured page size.
func (p *Pager[T]) PageSize() int { return p.pageSize }

// Page returns page n (0-based). Pages past the end are empty.
func (p *Pager[T]) Page(ctx context.Context, n int) ([]T, error) {
	if n < 0 {
		return nil, fmt.Errorf("live: negative page %d", n)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if rows, ok := p.pages[n]; ok {
		return rows, nil
	}
	rows, err := p.source.Load(ctx, n*p.pageSize, p.pageSize)
	if err != nil {
		return nil, fmt.Errorf("live: load page %d: %w", n, err)
	}
	p.pages[n] = rows
	return rows, nil
}

// Count returns the total number of rows, cached after the first call.
func (p *Pager[T]) Count(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.known {
		return p.count, nil
	}
	n, err := p.source.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("live: count: %w", err)
	}
	p.count = n
	p.known = true
	return n, nil
}

// Pages returns the number of pages needed to hold every row.
func (p *Pager[T]) Pages(ctx context.Context) (int, error) {
	n, err := p.Count(ctx)
	if err != nil {
		return 0, err
	}
	return (n + p.pageSize - 1) / p.pageSize, nil
}
