package live

import (
	"context"
	"sync"
	"testing"
	"time"
)

// everySchedule is a cron.Schedule with an arbitrary, sub-second period.
type everySchedule time.Duration

func (e everySchedule) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

type sliceSource []int

func (s sliceSource) Count(context.Context) (int, error) { return len(s), nil }

func (s sliceSource) Load(_ context.Context, offset, limit int) ([]int, error) {
	if offset >= len(s) {
		return nil, nil
	}
	end := min(offset+limit, len(s))
	return s[offset:end], nil
}

type recorder struct {
	mu   sync.Mutex
	nows []time.Time
}

func (r *recorder) factory(rows sliceSource) func(time.Time) PagingSource[int] {
	return func(now time.Time) PagingSource[int] {
		r.mu.Lock()
		r.nows = append(r.nows, now)
		r.mu.Unlock()
		return rows
	}
}

func (r *recorder) snapshot() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Time(nil), r.nows...)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestValueCoalescesAndCountsSubscribers(t *testing.T) {
	v := NewValueOf(1)
	var counts []int
	var mu sync.Mutex
	v.OnSubscribers(func(n int) {
		mu.Lock()
		counts = append(counts, n)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	ch := v.Subscribe(ctx)
	if got := <-ch; got != 1 {
		t.Fatalf("initial value = %d, want 1", got)
	}

	for i := 2; i <= 10; i++ {
		v.Set(i)
	}
	if got := <-ch; got != 10 {
		t.Fatalf("coalesced value = %d, want 10", got)
	}
	if v.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", v.SubscriberCount())
	}

	cancel()
	eventually(t, "unsubscribe", func() bool { return v.SubscriberCount() == 0 })
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(counts) != 2 || counts[0] != 1 || counts[1] != 0 {
		t.Fatalf("subscriber hook saw %v, want [1 0]", counts)
	}
}

func TestValueWithoutInitialValueWaitsForSet(t *testing.T) {
	v := NewValue[string]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := v.Subscribe(ctx)

	select {
	case got := <-ch:
		t.Fatalf("unexpected value %q before Set", got)
	default:
	}
	v.Set("ready")
	if got := <-ch; got != "ready" {
		t.Fatalf("got %q, want ready", got)
	}
	if got := v.Update(func(s string) string { return s + "!" }); got != "ready!" {
		t.Fatalf("Update returned %q", got)
	}
}

func TestClockRunsOnlyWhileObserved(t *testing.T) {
	c := NewClock(everySchedule(10 * time.Millisecond))
	if c.Running() {
		t.Fatalf("new clock should be stopped")
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := c.Subscribe(ctx)
	first := <-ch
	if first.IsZero() {
		t.Fatalf("first tick should carry a timestamp")
	}
	second := <-ch
	if !second.After(first) {
		t.Fatalf("ticks should advance: %s then %s", first, second)
	}
	if !c.Running() {
		t.Fatalf("clock should run with a subscriber")
	}

	cancel()
	eventually(t, "clock suspension", func() bool { return !c.Running() })

	last, _ := c.Now()
	time.Sleep(40 * time.Millisecond)
	if now, _ := c.Now(); !now.Equal(last) {
		t.Fatalf("clock ticked while suspended: %s -> %s", last, now)
	}
}

func TestClockReusesTickWithinPeriod(t *testing.T) {
	c := NewClock(everySchedule(time.Hour))

	ctx1, cancel1 := context.WithCancel(context.Background())
	first := <-c.Subscribe(ctx1)
	cancel1()
	eventually(t, "clock suspension", func() bool { return !c.Running() })

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	again := <-c.Subscribe(ctx2)
	if !again.Equal(first) {
		t.Fatalf("re-attach inside the period should reuse tick %s, got %s", first, again)
	}
}

func TestQueriesShareClockInstant(t *testing.T) {
	scope, endScope := context.WithCancel(context.Background())
	defer endScope()

	c := NewClock(everySchedule(time.Hour))
	var next, inProgress recorder
	qa := NewQuery(scope, "next", c, 2, next.factory(sliceSource{1, 2, 3}))
	qb := NewQuery(scope, "now", c, 2, inProgress.factory(sliceSource{4}))

	subCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	qa.Subscribe(subCtx)
	qb.Subscribe(subCtx)

	eventually(t, "first evaluation", func() bool {
		return len(next.snapshot()) == 1 && len(inProgress.snapshot()) == 1
	})

	tick := time.Now().Add(time.Minute)
	c.value.Set(tick)
	eventually(t, "second evaluation", func() bool {
		return len(next.snapshot()) == 2 && len(inProgress.snapshot()) == 2
	})

	a, b := next.snapshot(), inProgress.snapshot()
	for i := range a {
		if !a[i].Equal(b[i]) {
			t.Fatalf("evaluation %d saw different instants: %s vs %s", i, a[i], b[i])
		}
	}
	if !a[1].Equal(tick) {
		t.Fatalf("second evaluation at %s, want %s", a[1], tick)
	}
}

func TestQuerySuppressesDuplicateKeysAndFollowsVersions(t *testing.T) {
	scope, endScope := context.WithCancel(context.Background())
	defer endScope()

	c := NewClock(everySchedule(time.Hour))
	version := NewValueOf[int64](1)
	var rec recorder
	q := NewQuery(scope, "all", c, 2, rec.factory(sliceSource{1, 2, 3, 4, 5}), version)

	subCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pagers := q.Subscribe(subCtx)

	p := <-pagers
	if p.PageSize() != 2 {
		t.Fatalf("PageSize = %d, want 2", p.PageSize())
	}
	rows, err := p.Page(context.Background(), 2)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if len(rows) != 1 || rows[0] != 5 {
		t.Fatalf("page 2 = %v, want [5]", rows)
	}
	if pages, _ := p.Pages(context.Background()); pages != 3 {
		t.Fatalf("Pages = %d, want 3", pages)
	}

	// Same tick, same version: nothing new.
	now, _ := c.Now()
	c.value.Set(now)
	time.Sleep(30 * time.Millisecond)
	if q.Evaluations() != 1 {
		t.Fatalf("duplicate key re-queried: %d evaluations", q.Evaluations())
	}

	version.Set(2)
	p2 := <-pagers
	if p2 == p {
		t.Fatalf("version bump should supersede the pager")
	}
	if q.Evaluations() != 2 {
		t.Fatalf("Evaluations = %d, want 2", q.Evaluations())
	}
}

func TestQueryCachesPagerAcrossReattach(t *testing.T) {
	scope, endScope := context.WithCancel(context.Background())
	c := NewClock(everySchedule(time.Hour))
	var rec recorder
	q := NewQuery(scope, "all", c, 20, rec.factory(sliceSource{1}))

	ctx1, cancel1 := context.WithCancel(context.Background())
	first := <-q.Subscribe(ctx1)
	cancel1()
	eventually(t, "clock suspension", func() bool { return !c.Running() })

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	again := <-q.Subscribe(ctx2)
	if again != first {
		t.Fatalf("re-attach should return the cached pager")
	}
	time.Sleep(30 * time.Millisecond)
	if q.Evaluations() != 1 {
		t.Fatalf("re-attach re-queried: %d evaluations", q.Evaluations())
	}

	endScope()
	eventually(t, "scope shutdown", func() bool { return !c.Running() })
	c.value.Set(time.Now().Add(time.Hour))
	time.Sleep(30 * time.Millisecond)
	if q.Evaluations() != 1 {
		t.Fatalf("query evaluated after its scope ended")
	}
}
