// Package live provides observable values, a shared clock and continuously
// refreshing paginated queries built on top of them.
package live

import (
	"context"
	"sync"
)

// Value holds the latest value of something that changes over time.
//
// Subscribers receive the current value (if any) immediately and then every
// later value. Delivery is coalescing: a slow subscriber only ever sees the
// latest value, never a backlog. Value also tracks how many subscribers are
// attached so producers can suspend while nobody is watching.
type Value[T any] struct {
	mu   sync.Mutex
	v    T
	set  bool
	subs map[chan T]struct{}

	hookMu sync.Mutex
	hooks  []func(n int)
}

// NewValue returns a Value with no initial value. Subscribers receive nothing
// until the first Set.
func NewValue[T any]() *Value[T] {
	return &Value[T]{subs: make(map[chan T]struct{})}
}

// NewValueOf returns a Value initialized to v.
func NewValueOf[T any](v T) *Value[T] {
	val := NewValue[T]()
	val.v = v
	val.set = true
	return val
}

// Get returns the latest value and whether one has been set.
func (x *Value[T]) Get() (T, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.v, x.set
}

// Set stores v and publishes it to every subscriber.
func (x *Value[T]) Set(v T) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.v = v
	x.set = true
	for ch := range x.subs {
		offer(ch, v)
	}
}

// Update atomically replaces the value with fn(current) and publishes the
// result, which is also returned.
func (x *Value[T]) Update(fn func(T) T) T {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.v = fn(x.v)
	x.set = true
	for ch := range x.subs {
		offer(ch, x.v)
	}
	return x.v
}

// Subscribe returns a channel of values that stays open until ctx is done.
func (x *Value[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, 1)

	x.mu.Lock()
	if x.set {
		ch <- x.v
	}
	x.subs[ch] = struct{}{}
	n := len(x.subs)
	x.mu.Unlock()
	x.notifyHooks(n)

	context.AfterFunc(ctx, func() {
		x.mu.Lock()
		delete(x.subs, ch)
		close(ch)
		n := len(x.subs)
		x.mu.Unlock()
		x.notifyHooks(n)
	})
	return ch
}

// SubscriberCount returns the number of attached subscribers.
func (x *Value[T]) SubscriberCount() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.subs)
}

// OnSubscribers registers fn to be called with the subscriber count every
// time a subscriber attaches or detaches. Calls are serialized but may
// arrive after the count has moved on; re-read SubscriberCount when the
// exact number matters.
func (x *Value[T]) OnSubscribers(fn func(n int)) {
	x.hookMu.Lock()
	defer x.hookMu.Unlock()
	x.hooks = append(x.hooks, fn)
}

func (x *Value[T]) notifyHooks(n int) {
	x.hookMu.Lock()
	defer x.hookMu.Unlock()
	for _, fn := range x.hooks {
		fn(n)
	}
}

// offer replaces any pending value in ch with v. Only called with the owning
// Value's mutex held, so no other sender can race the drain.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- v
}
