package live

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "confsched/internal/log"
)

// DefaultTick fires at the start of every wall-clock minute.
const DefaultTick = "* * * * *"

// Clock is a ticker shared by every live query of a consumer group, so that
// lists observed together always agree on "now".
//
// The clock only runs while it has at least one subscriber. The first
// subscriber triggers an immediate tick unless the last tick is still inside
// the current schedule period, in which case that tick is reused. After the
// last subscriber leaves the clock keeps no goroutine and no timer.
type Clock struct {
	schedule cron.Schedule
	now      func() time.Time
	value    *Value[time.Time]

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewClock returns a stopped clock ticking on schedule boundaries.
func NewClock(schedule cron.Schedule) *Clock {
	c := &Clock{
		schedule: schedule,
		now:      time.Now,
		value:    NewValue[time.Time](),
	}
	c.value.OnSubscribers(func(int) { c.reconcile() })
	return c
}

// ParseClock builds a Clock from a standard 5-field cron spec.
func ParseClock(spec string) (*Clock, error) {
	if spec == "" {
		spec = DefaultTick
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, err
	}
	return NewClock(sched), nil
}

// Subscribe attaches a subscriber until ctx is done.
func (c *Clock) Subscribe(ctx context.Context) <-chan time.Time {
	return c.value.Subscribe(ctx)
}

// Now returns the instant of the latest tick.
func (c *Clock) Now() (time.Time, bool) {
	return c.value.Get()
}

// Running reports whether the tick loop is active.
func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

func (c *Clock) reconcile() {
	n := c.value.SubscriberCount()

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case n > 0 && c.cancel == nil:
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel

		last, ok := c.value.Get()
		now := c.now()
		if !ok || !now.Before(c.schedule.Next(last)) {
			c.value.Set(now)
			last = now
		}
		appLog.Debug("live clock started", "subscribers", n)
		go c.run(ctx, last)
	case n == 0 && c.cancel != nil:
		c.cancel()
		c.cancel = nil
		appLog.Debug("live clock suspended")
	}
}

func (c *Clock) run(ctx context.Context, last time.Time) {
	for {
		next := c.schedule.Next(last)
		if next.IsZero() {
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			return
		}
		last = c.now()
		c.value.Set(last)
		c.mu.Unlock()
	}
}
