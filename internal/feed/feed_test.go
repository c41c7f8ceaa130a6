package feed

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"confsched/internal/model"
)

const sampleSchedule = `<?xml version="1.0" encoding="UTF-8"?>
<schedule>
  <conference><title>Example Conf</title></conference>
  <day index="1" date="2026-02-01">
    <room name="Janson">
      <event id="101">
        <start>09:30</start>
        <duration>00:25</duration>
        <room>Janson</room>
        <slug>welcome</slug>
        <url>https://example.org/101</url>
        <title>Welcome</title>
        <subtitle></subtitle>
        <track type="keynote">Keynotes</track>
        <abstract>&lt;p&gt;Hello&lt;/p&gt;</abstract>
        <persons>
          <person id="1">Ada Lovelace</person>
          <person id="2">Grace Hopper</person>
        </persons>
        <links>
          <link href="https://example.org/slides.pdf">Slides</link>
        </links>
      </event>
    </room>
    <room name="K.1.105">
      <event id="102">
        <date>2026-02-01T11:00:00+01:00</date>
        <start>11:00</start>
        <duration>01:00</duration>
        <title>Security in Go</title>
        <track>Go</track>
        <type>devroom</type>
      </event>
    </room>
  </day>
</schedule>`

func collect(t *testing.T, r io.Reader) []model.DetailedEvent {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Brussels")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}
	var out []model.DetailedEvent
	for ev, err := range Parse(r, loc) {
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		out = append(out, ev)
	}
	return out
}

func TestParsePentabarf(t *testing.T) {
	events := collect(t, strings.NewReader(sampleSchedule))
	if len(events) != 2 {
		t.Fatalf("parsed %d events, want 2", len(events))
	}

	first := events[0]
	if first.Event.ID != 101 || first.Event.RoomName != "Janson" || first.Event.Day.Index != 1 {
		t.Fatalf("first = %+v", first.Event)
	}
	wantStart := time.Date(2026, 2, 1, 8, 30, 0, 0, time.UTC)
	if !first.Event.Start.Equal(wantStart) {
		t.Fatalf("start = %s, want %s", first.Event.Start, wantStart)
	}
	if first.Event.Duration() != 25*time.Minute {
		t.Fatalf("duration = %s", first.Event.Duration())
	}
	if first.Event.Track.Type != model.TrackKeynote || first.Event.AbstractText != "<p>Hello</p>" {
		t.Fatalf("track/abstract = %+v / %q", first.Event.Track, first.Event.AbstractText)
	}
	if first.Event.PersonsSummary != "Ada Lovelace, Grace Hopper" || len(first.Details.Persons) != 2 {
		t.Fatalf("persons = %q", first.Event.PersonsSummary)
	}
	if len(first.Details.Links) != 1 || first.Details.Links[0].Description != "Slides" {
		t.Fatalf("links = %+v", first.Details.Links)
	}

	second := events[1]
	if second.Event.RoomName != "K.1.105" || second.Event.Track.Type != model.TrackDevroom {
		t.Fatalf("second = %+v", second.Event)
	}
	if !second.Event.Start.Equal(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("second start = %s", second.Event.Start)
	}
}

func TestParseStopsOnMalformedDocument(t *testing.T) {
	doc := `<schedule><day index="1" date="2026-02-01"><room name="A"><event id="1"><title>x</title></event><event id="2">`
	var got, errs int
	for _, err := range Parse(strings.NewReader(doc), time.UTC) {
		if err != nil {
			errs++
			continue
		}
		got++
	}
	if got != 1 || errs != 1 {
		t.Fatalf("events=%d errors=%d, want 1 and 1", got, errs)
	}
}

func TestFetchConditional(t *testing.T) {
	const lastModified = "Sun, 01 Feb 2026 08:00:00 GMT"
	var sawIMS string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawIMS = r.Header.Get("If-Modified-Since")
		if sawIMS == lastModified {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Last-Modified", lastModified)
		io.WriteString(w, sampleSchedule)
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client())
	ctx := context.Background()

	resp, err := f.Fetch(ctx, srv.URL+"/schedule.xml", "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.Tag != lastModified || !strings.Contains(string(body), "<schedule>") {
		t.Fatalf("tag=%q body=%d bytes", resp.Tag, len(body))
	}

	if _, err := f.Fetch(ctx, srv.URL+"/schedule.xml", resp.Tag); !errors.Is(err, ErrNotModified) {
		t.Fatalf("second Fetch error = %v, want ErrNotModified", err)
	}
	if sawIMS != lastModified {
		t.Fatalf("If-Modified-Since = %q", sawIMS)
	}
}

func TestFetchUsesETag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v2"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client())
	if _, err := f.Fetch(context.Background(), srv.URL, `"v2"`); !errors.Is(err, ErrNotModified) {
		t.Fatalf("Fetch with etag = %v", err)
	}
	if _, err := f.Fetch(context.Background(), srv.URL, ""); err == nil || errors.Is(err, ErrNotModified) {
		t.Fatalf("server error not reported: %v", err)
	}
}

func TestRedactURL(t *testing.T) {
	if got := redactURL("https://example.org/private/schedule.xml?token=x"); got != "https://example.org/...(redacted)" {
		t.Fatalf("redactURL = %q", got)
	}
}
