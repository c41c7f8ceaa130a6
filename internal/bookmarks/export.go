package bookmarks

import (
	"context"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "confsched/internal/log"
	"confsched/internal/model"
)

const propAltDesc = ical.ComponentProperty("X-ALT-DESC")

// Export writes every bookmarked event to w as an iCalendar document.
func (s *Service) Export(ctx context.Context, w io.Writer) error {
	events, err := s.repo.Bookmarks(ctx, nil)
	if err != nil {
		return fmt.Errorf("export bookmarks: %w", err)
	}

	cal := ical.NewCalendar()
	cal.SetVersion("2.0")
	cal.SetProductId(fmt.Sprintf("-//%s//NONSGML %s//EN", s.appID, s.version))

	stamp := s.now()
	for _, ev := range events {
		s.addEvent(cal, ev, stamp)
	}

	if err := cal.SerializeTo(w); err != nil {
		return fmt.Errorf("write calendar: %w", err)
	}
	appLog.Info("bookmarks exported", "count", len(events))
	return nil
}

func (s *Service) addEvent(cal *ical.Calendar, ev model.Event, stamp time.Time) {
	vev := cal.AddEvent(eventUID(ev, s.appID))
	vev.SetDtStampTime(stamp)
	if ev.Start != nil {
		vev.SetStartAt(*ev.Start)
	}
	if ev.End != nil {
		vev.SetEndAt(*ev.End)
	}
	vev.SetSummary(ev.Title)

	description := ev.AbstractText
	if description == "" {
		description = ev.Description
	}
	if description != "" {
		vev.SetDescription(stripHTML(description))
		vev.SetProperty(propAltDesc, description, ical.WithFmtType("text/html"))
	}
	vev.SetClass(ical.ClassificationPublic)
	vev.AddCategory(ev.Track.Name)
	if ev.URL != "" {
		vev.SetURL(ev.URL)
	}
	vev.SetLocation(ev.RoomName)
}

// eventUID is "<event id>@<year>@<app id>". Import relies on the leading id.
func eventUID(ev model.Event, appID string) string {
	return fmt.Sprintf("%d@%d@%s", ev.ID, ev.Day.Date.Year(), appID)
}

var (
	blockTags = regexp.MustCompile(`(?i)<\s*(br|/p|/li|/div|/h[1-6])\s*/?>`)
	anyTag    = regexp.MustCompile(`<[^>]*>`)
	blankRuns = regexp.MustCompile(`\n{3,}`)
)

// stripHTML turns an HTML fragment into plain text, keeping line breaks.
func stripHTML(s string) string {
	s = blockTags.ReplaceAllString(s, "\n")
	s = anyTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
