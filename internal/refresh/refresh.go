// Package refresh keeps the local schedule in sync with the conference feed.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"confsched/internal/feed"
	"confsched/internal/live"
	appLog "confsched/internal/log"
	"confsched/internal/model"
)

// Store is the part of the schedule store a refresh writes to.
type Store interface {
	LastModifiedTag(ctx context.Context) (string, error)
	Replace(ctx context.Context, records iter.Seq2[model.DetailedEvent, error], changeTag string) (int, error)
}

// Sink is told when a refresh replaced the schedule.
type Sink interface {
	OnScheduleRefreshed()
}

// Fetcher downloads the feed.
type Fetcher interface {
	Fetch(ctx context.Context, url, lastTag string) (*feed.Response, error)
}

// Status describes the outcome of the most recent refresh.
type Status struct {
	At          time.Time `json:"at"`
	Events      int       `json:"events"`
	NotModified bool      `json:"not_modified"`
	Error       string    `json:"error,omitempty"`
}

// Job fetches the feed and replaces the stored schedule. Runs never overlap.
type Job struct {
	store   Store
	fetcher Fetcher
	sink    Sink
	url     string
	loc     *time.Location
	now     func() time.Time

	runMu  sync.Mutex
	status *live.Value[Status]
}

// NewJob creates a refresh job for url. Feed times without an offset are
// read in loc.
func NewJob(store Store, fetcher Fetcher, sink Sink, url string, loc *time.Location) *Job {
	if loc == nil {
		loc = time.UTC
	}
	return &Job{
		store:   store,
		fetcher: fetcher,
		sink:    sink,
		url:     url,
		loc:     loc,
		now:     time.Now,
		status:  live.NewValue[Status](),
	}
}

// Status returns the outcome of the last run, if any.
func (j *Job) Status() (Status, bool) {
	return j.status.Get()
}

// RunOnce performs a single refresh and returns the number of imported
// events. A feed that did not change since the stored tag returns (0, nil).
func (j *Job) RunOnce(ctx context.Context) (int, error) {
	j.runMu.Lock()
	defer j.runMu.Unlock()

	n, err := j.run(ctx)
	st := Status{At: j.now(), Events: n, NotModified: errors.Is(err, feed.ErrNotModified)}
	if st.NotModified {
		err = nil
	}
	if err != nil {
		st.Error = err.Error()
	}
	j.status.Set(st)
	return n, err
}

func (j *Job) run(ctx context.Context) (int, error) {
	tag, err := j.store.LastModifiedTag(ctx)
	if err != nil {
		return 0, fmt.Errorf("refresh: read change tag: %w", err)
	}

	resp, err := j.fetcher.Fetch(ctx, j.url, tag)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := j.store.Replace(ctx, feed.Parse(resp.Body, j.loc), resp.Tag)
	if err != nil {
		return 0, fmt.Errorf("refresh: %w", err)
	}
	if n > 0 && j.sink != nil {
		j.sink.OnScheduleRefreshed()
	}
	return n, nil
}

// Start schedules RunOnce on spec (standard 5-field cron) until ctx is
// done. The returned function stops the scheduler and waits for a running
// refresh to finish.
func (j *Job) Start(ctx context.Context, spec string) (stop func(), err error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if _, err := j.RunOnce(ctx); err != nil {
			appLog.Error("scheduled refresh failed", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("refresh: invalid schedule %q: %w", spec, err)
	}
	c.Start()
	appLog.Info("schedule refresh scheduled", "cron", spec)

	var once sync.Once
	stop = func() {
		once.Do(func() {
			<-c.Stop().Done()
		})
	}
	return stop, nil
}
