package model

import (
	"strings"
	"time"
)

// TrackType is the category tag of a track, used by clients for color theming.
type TrackType string

const (
	TrackOther         TrackType = "other"
	TrackKeynote       TrackType = "keynote"
	TrackMaintrack     TrackType = "maintrack"
	TrackDevroom       TrackType = "devroom"
	TrackLightningTalk TrackType = "lightningtalk"
	TrackCertification TrackType = "certification"
	TrackWorkshop      TrackType = "workshop"
	TrackTalk          TrackType = "talk"
)

// ParseTrackType maps a feed value to a TrackType. Unknown values become
// TrackOther.
func ParseTrackType(s string) TrackType {
	switch t := TrackType(strings.ToLower(strings.TrimSpace(s))); t {
	case TrackKeynote, TrackMaintrack, TrackDevroom, TrackLightningTalk,
		TrackCertification, TrackWorkshop, TrackTalk:
		return t
	default:
		return TrackOther
	}
}

// Track groups events. ID is assigned locally on every import and is not
// stable across imports; (Name, Type) is the identity.
type Track struct {
	ID   int64
	Name string
	Type TrackType
}

// TrackKey is the de-duplication key of a track during import.
type TrackKey struct {
	Name string
	Type TrackType
}

func (t Track) Key() TrackKey {
	return TrackKey{Name: t.Name, Type: t.Type}
}

// Day is a conference day. Index is the ordinal the feed gives the day;
// Date is a calendar date at midnight UTC.
type Day struct {
	Index int
	Date  time.Time
}

// Person is a speaker. IDs come from the feed; the first name seen for an ID
// wins.
type Person struct {
	ID   int64
	Name string
}

// Link is an external resource attached to an event. Links keep the feed
// order through their local sequence ID.
type Link struct {
	ID          int64
	EventID     int64
	URL         string
	Description string
}

// Event is a single scheduled talk. Start and End are nil when unknown.
type Event struct {
	ID             int64
	Day            Day
	Start          *time.Time
	End            *time.Time
	RoomName       string
	Slug           string
	URL            string
	Title          string
	Subtitle       string
	Track          Track
	AbstractText   string
	Description    string
	PersonsSummary string
}

// IsRunningAt reports whether t falls inside [Start, End).
func (e Event) IsRunningAt(t time.Time) bool {
	if e.Start == nil || e.End == nil {
		return false
	}
	return !t.Before(*e.Start) && t.Before(*e.End)
}

// Duration is zero when either bound is unknown.
func (e Event) Duration() time.Duration {
	if e.Start == nil || e.End == nil {
		return 0
	}
	return e.End.Sub(*e.Start)
}

// EventDetails holds the per-event collections that are stored in their own
// tables.
type EventDetails struct {
	Persons []Person
	Links   []Link
}

// DetailedEvent is one record of the import feed.
type DetailedEvent struct {
	Event   Event
	Details EventDetails
}

// StatusEvent is an event together with its bookmark status.
type StatusEvent struct {
	Event
	IsBookmarked bool
}

// AlarmInfo describes the alarm that should exist for a bookmarked event.
// It is derived from the Event and Bookmark tables and never persisted.
type AlarmInfo struct {
	EventID   int64
	StartTime time.Time
	Title     string
	RoomName  string
	Persons   string
}

// TriggerAt returns the moment the alarm should fire for the given lead time.
func (a AlarmInfo) TriggerAt(lead time.Duration) time.Time {
	return a.StartTime.Add(-lead)
}

// Payload is the notification text shown when the alarm fires.
func (a AlarmInfo) Payload() (title, body string) {
	title = a.Title
	parts := make([]string, 0, 2)
	if a.RoomName != "" {
		parts = append(parts, a.RoomName)
	}
	if a.Persons != "" {
		parts = append(parts, a.Persons)
	}
	return title, strings.Join(parts, " - ")
}
