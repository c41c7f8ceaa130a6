package model

import (
	"testing"
	"time"
)

func TestEventIsRunningAt(t *testing.T) {
	start := time.Date(2024, 6, 13, 10, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)
	ev := Event{ID: 1, Start: &start, End: &end}

	if !ev.IsRunningAt(start) {
		t.Errorf("event should be running at its start")
	}
	if ev.IsRunningAt(end) {
		t.Errorf("end bound is exclusive")
	}
	if ev.IsRunningAt(start.Add(-time.Second)) {
		t.Errorf("event should not run before its start")
	}
	if got := ev.Duration(); got != 30*time.Minute {
		t.Errorf("Duration = %s, want 30m", got)
	}

	open := Event{ID: 2, Start: &start}
	if open.IsRunningAt(start) {
		t.Errorf("event without end should never be running")
	}
	if open.Duration() != 0 {
		t.Errorf("Duration of open event = %s, want 0", open.Duration())
	}
}

func TestParseTrackType(t *testing.T) {
	cases := map[string]TrackType{
		"Keynote":   TrackKeynote,
		" devroom ": TrackDevroom,
		"workshop":  TrackWorkshop,
		"":          TrackOther,
		"panel":     TrackOther,
	}
	for in, want := range cases {
		if got := ParseTrackType(in); got != want {
			t.Errorf("ParseTrackType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAlarmInfoPayload(t *testing.T) {
	start := time.Date(2024, 6, 13, 10, 0, 0, 0, time.UTC)
	info := AlarmInfo{EventID: 7, StartTime: start, Title: "Privacy", RoomName: "K.1", Persons: "Ada"}

	if got := info.TriggerAt(10 * time.Minute); !got.Equal(start.Add(-10 * time.Minute)) {
		t.Errorf("TriggerAt = %s", got)
	}
	title, body := info.Payload()
	if title != "Privacy" || body != "K.1 - Ada" {
		t.Errorf("Payload = %q, %q", title, body)
	}
}
