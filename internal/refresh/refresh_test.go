package refresh

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"confsched/internal/feed"
	"confsched/internal/store"
)

const schedule = `<?xml version="1.0" encoding="UTF-8"?>
<schedule>
  <day index="1" date="2026-02-01">
    <room name="Janson">
      <event id="7">
        <date>2026-02-01T09:00:00+01:00</date>
        <start>09:00</start>
        <duration>00:50</duration>
        <title>Opening</title>
        <track type="keynote">Keynotes</track>
      </event>
      <event id="8">
        <date>2026-02-01T10:00:00+01:00</date>
        <start>10:00</start>
        <duration>00:50</duration>
        <title>Closing</title>
        <track type="keynote">Keynotes</track>
      </event>
    </room>
  </day>
</schedule>`

type countingSink struct{ n atomic.Int32 }

func (s *countingSink) OnScheduleRefreshed() { s.n.Add(1) }

func TestRunOnceImportsAndHonoursChangeTag(t *testing.T) {
	const lastModified = "Sun, 01 Feb 2026 07:00:00 GMT"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-Modified-Since") == lastModified {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Last-Modified", lastModified)
		io.WriteString(w, schedule)
	}))
	defer srv.Close()

	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "schedule.db"), store.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	sink := &countingSink{}
	job := NewJob(st, feed.NewFetcher(srv.Client()), sink, srv.URL, time.UTC)

	n, err := job.RunOnce(ctx)
	if err != nil || n != 2 {
		t.Fatalf("first RunOnce = %d, %v", n, err)
	}
	if sink.n.Load() != 1 {
		t.Fatalf("sink notified %d times, want 1", sink.n.Load())
	}
	if tag, _ := st.LastModifiedTag(ctx); tag != lastModified {
		t.Fatalf("stored tag = %q", tag)
	}

	n, err = job.RunOnce(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second RunOnce = %d, %v", n, err)
	}
	status, ok := job.Status()
	if !ok || !status.NotModified {
		t.Fatalf("status = %+v", status)
	}
	if sink.n.Load() != 1 {
		t.Fatalf("unchanged feed notified the sink")
	}
}

func TestRunOnceReportsFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "schedule.db"), store.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	job := NewJob(st, feed.NewFetcher(srv.Client()), nil, srv.URL, nil)
	if _, err := job.RunOnce(ctx); err == nil {
		t.Fatal("RunOnce succeeded against a failing server")
	}
	if status, _ := job.Status(); status.Error == "" {
		t.Fatalf("status carries no error: %+v", status)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	job := NewJob(nil, nil, nil, "", nil)
	if _, err := job.Start(context.Background(), "not a cron"); err == nil {
		t.Fatal("Start accepted an invalid schedule")
	}
}
