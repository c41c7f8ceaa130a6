package bookmarks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	ical "github.com/arran4/golang-ical"

	appLog "confsched/internal/log"
)

var (
	// ErrNoEvents is returned by Import when the calendar names no event.
	ErrNoEvents = errors.New("calendar contains no bookmarked events")
	// ErrInvalidCalendar is returned when the input is not iCalendar data.
	ErrInvalidCalendar = errors.New("invalid calendar")
)

// Import bookmarks every event listed in an iCalendar document produced by
// Export, and returns how many event ids were found. Events missing from the
// current schedule are ignored by the store.
func (s *Service) Import(ctx context.Context, r io.Reader) (int, error) {
	ids, err := ParseEventIDs(r)
	if err != nil {
		return 0, err
	}
	if err := s.Add(ctx, ids); err != nil {
		return 0, fmt.Errorf("import bookmarks: %w", err)
	}
	appLog.Info("bookmarks imported", "count", len(ids))
	return len(ids), nil
}

// ParseEventIDs extracts the event ids from the UIDs of an exported
// calendar. VEVENTs with foreign UIDs are skipped.
func ParseEventIDs(r io.Reader) ([]int64, error) {
	cal, err := ical.ParseCalendar(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCalendar, err)
	}

	seen := make(map[int64]bool)
	var ids []int64
	for _, ve := range cal.Events() {
		uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
		if uidProp == nil || uidProp.Value == "" {
			continue
		}
		id, ok := parseUID(uidProp.Value)
		if !ok {
			appLog.Debug("skipping foreign vevent", "uid", uidProp.Value)
			continue
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, ErrNoEvents
	}
	return ids, nil
}

func parseUID(uid string) (int64, bool) {
	head, _, found := strings.Cut(uid, "@")
	if !found {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(head), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
