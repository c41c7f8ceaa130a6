package feed

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"
	"time"

	appLog "confsched/internal/log"
	"confsched/internal/model"
)

type xmlEvent struct {
	ID          int64       `xml:"id,attr"`
	Date        string      `xml:"date"`
	Start       string      `xml:"start"`
	Duration    string      `xml:"duration"`
	Room        string      `xml:"room"`
	Slug        string      `xml:"slug"`
	URL         string      `xml:"url"`
	Title       string      `xml:"title"`
	Subtitle    string      `xml:"subtitle"`
	Track       xmlTrack    `xml:"track"`
	Type        string      `xml:"type"`
	Abstract    string      `xml:"abstract"`
	Description string      `xml:"description"`
	Persons     []xmlPerson `xml:"persons>person"`
	Links       []xmlLink   `xml:"links>link"`
}

type xmlTrack struct {
	Type string `xml:"type,attr"`
	Name string `xml:",chardata"`
}

type xmlPerson struct {
	ID   int64  `xml:"id,attr"`
	Name string `xml:",chardata"`
}

type xmlLink struct {
	Href string `xml:"href,attr"`
	Text string `xml:",chardata"`
}

// Parse streams the events of a Pentabarf schedule document. Times without
// an explicit offset are interpreted in loc. A malformed document yields one
// error and stops.
func Parse(r io.Reader, loc *time.Location) iter.Seq2[model.DetailedEvent, error] {
	if loc == nil {
		loc = time.UTC
	}
	return func(yield func(model.DetailedEvent, error) bool) {
		dec := xml.NewDecoder(r)
		var (
			day  model.Day
			room string
			n    int
		)
		for {
			tok, err := dec.Token()
			if errors.Is(err, io.EOF) {
				appLog.Debug("schedule parse completed", "events", n)
				return
			}
			if err != nil {
				yield(model.DetailedEvent{}, fmt.Errorf("parse schedule: %w", err))
				return
			}
			start, ok := tok.(xml.StartElement)
			if !ok {
				continue
			}

			switch start.Name.Local {
			case "day":
				day, err = parseDay(start)
				if err != nil {
					yield(model.DetailedEvent{}, err)
					return
				}
			case "room":
				room = attr(start, "name")
			case "event":
				var xe xmlEvent
				if err := dec.DecodeElement(&xe, &start); err != nil {
					yield(model.DetailedEvent{}, fmt.Errorf("parse event: %w", err))
					return
				}
				n++
				if !yield(toDetailedEvent(xe, day, room, loc), nil) {
					return
				}
			}
		}
	}
}

func attr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func parseDay(el xml.StartElement) (model.Day, error) {
	idx, err := strconv.Atoi(attr(el, "index"))
	if err != nil {
		return model.Day{}, fmt.Errorf("parse day index: %w", err)
	}
	date, err := time.Parse("2006-01-02", attr(el, "date"))
	if err != nil {
		return model.Day{}, fmt.Errorf("parse day date: %w", err)
	}
	return model.Day{Index: idx, Date: date}, nil
}

func toDetailedEvent(xe xmlEvent, day model.Day, room string, loc *time.Location) model.DetailedEvent {
	if r := strings.TrimSpace(xe.Room); r != "" {
		room = r
	}
	trackType := xe.Track.Type
	if trackType == "" {
		trackType = xe.Type
	}

	ev := model.Event{
		ID:           xe.ID,
		Day:          day,
		RoomName:     room,
		Slug:         strings.TrimSpace(xe.Slug),
		URL:          strings.TrimSpace(xe.URL),
		Title:        strings.TrimSpace(xe.Title),
		Subtitle:     strings.TrimSpace(xe.Subtitle),
		Track:        model.Track{Name: strings.TrimSpace(xe.Track.Name), Type: model.ParseTrackType(trackType)},
		AbstractText: strings.TrimSpace(xe.Abstract),
		Description:  strings.TrimSpace(xe.Description),
	}
	if start, ok := startTime(xe, day, loc); ok {
		ev.Start = &start
		if d, ok := parseClock(xe.Duration); ok {
			end := start.Add(d)
			ev.End = &end
		}
	}

	var details model.EventDetails
	names := make([]string, 0, len(xe.Persons))
	for _, p := range xe.Persons {
		name := strings.TrimSpace(p.Name)
		details.Persons = append(details.Persons, model.Person{ID: p.ID, Name: name})
		names = append(names, name)
	}
	ev.PersonsSummary = strings.Join(names, ", ")
	for _, l := range xe.Links {
		if l.Href == "" {
			continue
		}
		details.Links = append(details.Links, model.Link{EventID: xe.ID, URL: l.Href, Description: strings.TrimSpace(l.Text)})
	}
	return model.DetailedEvent{Event: ev, Details: details}
}

// startTime prefers the full <date> timestamp and falls back to the
// day date plus the <start> clock time.
func startTime(xe xmlEvent, day model.Day, loc *time.Location) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(xe.Date)); err == nil {
		return t, true
	}
	clock, ok := parseClock(xe.Start)
	if !ok || day.Date.IsZero() {
		return time.Time{}, false
	}
	y, m, d := day.Date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc).Add(clock), true
}

// parseClock reads "HH:MM" or "HH:MM:SS" as a duration.
func parseClock(s string) (time.Duration, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	var total time.Duration
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, false
		}
		total += time.Duration(n) * units[i]
	}
	return total, true
}
