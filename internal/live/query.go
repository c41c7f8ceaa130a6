package live

import (
	"context"
	"slices"
	"sync"
	"time"

	appLog "confsched/internal/log"
)

// Query is a paginated query re-evaluated on every tick of a shared Clock and
// on every change of the version counters it depends on.
//
// Evaluation only happens while the Query has subscribers. Each evaluation
// with a new key (tick instant plus dependency versions) publishes a fresh
// Pager; identical keys are dropped. The latest Pager stays cached until the
// scope ends, so a subscriber that re-attaches gets it back immediately.
type Query[T any] struct {
	name     string
	scope    context.Context
	clock    *Clock
	deps     []*Value[int64]
	factory  func(now time.Time) PagingSource[T]
	pageSize int
	out      *Value[*Pager[T]]

	mu       sync.Mutex
	cancel   context.CancelFunc
	lastKey  queryKey
	hasKey   bool
	evalRuns int
}

type queryKey struct {
	now      time.Time
	versions []int64
}

func (k queryKey) equal(o queryKey) bool {
	return k.now.Equal(o.now) && slices.Equal(k.versions, o.versions)
}

// NewQuery creates a Query owned by scope. When scope ends the Query stops
// for good and every subscription channel is closed.
func NewQuery[T any](scope context.Context, name string, clock *Clock, pageSize int, factory func(now time.Time) PagingSource[T], deps ...*Value[int64]) *Query[T] {
	q := &Query[T]{
		name:     name,
		scope:    scope,
		clock:    clock,
		deps:     deps,
		factory:  factory,
		pageSize: pageSize,
		out:      NewValue[*Pager[T]](),
	}
	q.out.OnSubscribers(func(int) { q.reconcile() })
	return q
}

// Subscribe returns the stream of pagers until ctx or the scope is done.
func (q *Query[T]) Subscribe(ctx context.Context) <-chan *Pager[T] {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(q.scope, cancel)
	context.AfterFunc(ctx, func() { stop() })
	return q.out.Subscribe(ctx)
}

// Latest returns the cached pager of the most recent evaluation.
func (q *Query[T]) Latest() (*Pager[T], bool) {
	return q.out.Get()
}

// Evaluations returns how many times the query has been re-issued.
func (q *Query[T]) Evaluations() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evalRuns
}

func (q *Query[T]) reconcile() {
	n := q.out.SubscriberCount()

	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case n > 0 && q.cancel == nil && q.scope.Err() == nil:
		ctx, cancel := context.WithCancel(q.scope)
		q.cancel = cancel
		go q.run(ctx)
	case n == 0 && q.cancel != nil:
		q.cancel()
		q.cancel = nil
	}
}

func (q *Query[T]) run(ctx context.Context) {
	trigger := make(chan struct{}, 1)
	poke := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	ticks := q.clock.Subscribe(ctx)
	go func() {
		for range ticks {
			poke()
		}
	}()
	for _, dep := range q.deps {
		ch := dep.Subscribe(ctx)
		go func() {
			for range ch {
				poke()
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-trigger:
			q.evaluate(ctx)
		}
	}
}

func (q *Query[T]) evaluate(ctx context.Context) {
	now, ok := q.clock.Now()
	if !ok {
		return
	}
	key := queryKey{now: now, versions: make([]int64, len(q.deps))}
	for i, dep := range q.deps {
		key.versions[i], _ = dep.Get()
	}

	q.mu.Lock()
	if ctx.Err() != nil || (q.hasKey && key.equal(q.lastKey)) {
		q.mu.Unlock()
		return
	}
	q.lastKey = key
	q.hasKey = true
	q.evalRuns++
	q.mu.Unlock()

	appLog.Debug("live query evaluated", "query", q.name, "now", now.Format(time.RFC3339))
	q.out.Set(NewPager(q.factory(now), q.pageSize, now))
}
