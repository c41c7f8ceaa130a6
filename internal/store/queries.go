package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"confsched/internal/model"
)

const eventColumns = `e.id, e.day_index, d.date, e.start_time, e.end_time,
	e.room_name, e.slug, e.url, et.title, et.subtitle, e.abstract, e.description,
	(SELECT GROUP_CONCAT(p.name, ', ') FROM events_persons ep JOIN persons p ON p.id = ep.person_id WHERE ep.event_id = e.id) AS persons,
	t.id, t.name, t.type,
	EXISTS (SELECT 1 FROM bookmarks b WHERE b.event_id = e.id) AS is_bookmarked`

const eventFrom = `FROM events e
	JOIN event_titles et ON et.event_id = e.id
	JOIN days d ON d.idx = e.day_index
	JOIN tracks t ON t.id = e.track_id`

const (
	orderAsc  = " ORDER BY e.start_time ASC, e.id ASC"
	orderDesc = " ORDER BY e.start_time DESC, e.id DESC"
)

func eventQuery(where, order string) string {
	return "SELECT " + eventColumns + " " + eventFrom + " WHERE " + where + order
}

func scanStatusEvent(sc scanner) (model.StatusEvent, error) {
	var (
		se                      model.StatusEvent
		date                    string
		start, end              sql.NullInt64
		room, slug, url         sql.NullString
		abstract, desc, persons sql.NullString
		trackName, trackType    string
	)
	err := sc.Scan(
		&se.ID, &se.Day.Index, &date, &start, &end,
		&room, &slug, &url, &se.Title, &se.Subtitle, &abstract, &desc,
		&persons,
		&se.Track.ID, &trackName, &trackType,
		&se.IsBookmarked,
	)
	if err != nil {
		return se, err
	}
	se.Day.Date, err = time.Parse(dayLayout, date)
	if err != nil {
		return se, fmt.Errorf("parse day %q: %w", date, err)
	}
	se.Start = timeFromMillis(start)
	se.End = timeFromMillis(end)
	se.RoomName = room.String
	se.Slug = slug.String
	se.URL = url.String
	se.AbstractText = abstract.String
	se.Description = desc.String
	se.PersonsSummary = persons.String
	se.Track.Name = trackName
	se.Track.Type = model.TrackType(trackType)
	return se, nil
}

func scanEvent(sc scanner) (model.Event, error) {
	se, err := scanStatusEvent(sc)
	return se.Event, err
}

// eventCursor pages events together with their bookmark status.
func (s *Store) eventCursor(where, order string, args ...any) *Cursor[model.StatusEvent] {
	return newCursor(s.db, scanStatusEvent, eventQuery(where, order), args...)
}

// Event returns the event with the given id. A missing event is reported
// through the boolean, not as an error.
func (s *Store) Event(ctx context.Context, id int64) (model.Event, bool, error) {
	ev, err := scanEvent(s.db.QueryRowContext(ctx, eventQuery("e.id = ?", ""), id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, false, nil
	}
	if err != nil {
		return model.Event{}, false, fmt.Errorf("event %d: %w", id, err)
	}
	return ev, true, nil
}

// Events returns every event ordered by start time.
func (s *Store) Events() *Cursor[model.StatusEvent] {
	return s.eventCursor("1", orderAsc)
}

// EventsByIDs returns the listed events ordered by start time. Unknown ids
// are ignored.
func (s *Store) EventsByIDs(ids []int64) *Cursor[model.StatusEvent] {
	if len(ids) == 0 {
		return s.eventCursor("0", orderAsc)
	}
	where, args := inClause("e.id", ids)
	return s.eventCursor(where, orderAsc, args...)
}

// EventsWithStartTime returns events starting inside [minStart, maxStart].
func (s *Store) EventsWithStartTime(minStart, maxStart time.Time) *Cursor[model.StatusEvent] {
	return s.eventCursor("e.start_time BETWEEN ? AND ?", orderAsc, millis(minStart), millis(maxStart))
}

// EventsInProgress returns events running at t, most recently started first.
func (s *Store) EventsInProgress(t time.Time) *Cursor[model.StatusEvent] {
	ms := millis(t)
	return s.eventCursor("e.start_time <= ? AND e.end_time > ?", orderDesc, ms, ms)
}

// EventsByPerson returns the events a person takes part in.
func (s *Store) EventsByPerson(personID int64) *Cursor[model.StatusEvent] {
	return s.eventCursor("e.id IN (SELECT event_id FROM events_persons WHERE person_id = ?)", orderAsc, personID)
}

// EventsByDayTrack returns the events of one track on one day together with
// their bookmark status.
func (s *Store) EventsByDayTrack(ctx context.Context, day int, track model.TrackKey) ([]model.StatusEvent, error) {
	q := eventQuery("e.day_index = ? AND t.name = ? AND t.type = ?", orderAsc)
	events, err := queryAll(ctx, s.db, scanStatusEvent, q, day, track.Name, string(track.Type))
	if err != nil {
		return nil, fmt.Errorf("events of day %d track %q: %w", day, track.Name, err)
	}
	return events, nil
}

// Search matches title and subtitle words by prefix, track names by
// substring and person name words by prefix. Every event appears at most
// once.
func (s *Store) Search(query string) *Cursor[model.StatusEvent] {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.eventCursor("0", orderAsc)
	}
	where := `e.id IN (
		SELECT rowid FROM event_titles_fts WHERE event_titles_fts MATCH ?
		UNION
		SELECT e2.id FROM events e2 JOIN tracks t2 ON t2.id = e2.track_id WHERE t2.name LIKE ? ESCAPE '\'
		UNION
		SELECT ep.event_id FROM persons_fts JOIN events_persons ep ON ep.person_id = persons_fts.rowid WHERE persons_fts MATCH ?
	)`
	match := ftsPrefix(query)
	return s.eventCursor(where, orderAsc, match, "%"+escapeLike(query)+"%", match)
}

// ftsPrefix turns free text into an FTS5 prefix phrase query.
func ftsPrefix(q string) string {
	return `"` + strings.ReplaceAll(q, `"`, `""`) + `"*`
}

func escapeLike(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(q)
}

func inClause(column string, ids []int64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return column + " IN (" + strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + ")", args
}

func scanTrack(sc scanner) (model.Track, error) {
	var t model.Track
	var typ string
	if err := sc.Scan(&t.ID, &t.Name, &typ); err != nil {
		return t, err
	}
	t.Type = model.TrackType(typ)
	return t, nil
}

// Tracks returns the tracks that have events on the given day.
func (s *Store) Tracks(ctx context.Context, day int) ([]model.Track, error) {
	tracks, err := queryAll(ctx, s.db, scanTrack, `SELECT DISTINCT t.id, t.name, t.type
		FROM tracks t JOIN events e ON e.track_id = t.id
		WHERE e.day_index = ?
		ORDER BY t.name COLLATE NOCASE ASC, t.type ASC`, day)
	if err != nil {
		return nil, fmt.Errorf("tracks of day %d: %w", day, err)
	}
	return tracks, nil
}

func scanDay(sc scanner) (model.Day, error) {
	var d model.Day
	var date string
	if err := sc.Scan(&d.Index, &date); err != nil {
		return d, err
	}
	t, err := time.Parse(dayLayout, date)
	if err != nil {
		return d, fmt.Errorf("parse day %q: %w", date, err)
	}
	d.Date = t
	return d, nil
}

// Days returns the conference days in order.
func (s *Store) Days(ctx context.Context) ([]model.Day, error) {
	days, err := queryAll(ctx, s.db, scanDay, "SELECT idx, date FROM days ORDER BY idx ASC")
	if err != nil {
		return nil, fmt.Errorf("days: %w", err)
	}
	return days, nil
}

// Year is the year of the first conference day, or the current year when no
// schedule is stored.
func (s *Store) Year(ctx context.Context) (int, error) {
	d, err := scanDay(s.db.QueryRowContext(ctx, "SELECT idx, date FROM days ORDER BY idx ASC LIMIT 1"))
	if errors.Is(err, sql.ErrNoRows) {
		return s.now().Year(), nil
	}
	if err != nil {
		return 0, fmt.Errorf("year: %w", err)
	}
	return d.Date.Year(), nil
}

func scanPerson(sc scanner) (model.Person, error) {
	var p model.Person
	err := sc.Scan(&p.ID, &p.Name)
	return p, err
}

// Persons returns every speaker ordered by name.
func (s *Store) Persons() *Cursor[model.Person] {
	return newCursor(s.db, scanPerson, "SELECT id, name FROM persons ORDER BY name COLLATE NOCASE ASC, id ASC")
}

func scanLink(sc scanner) (model.Link, error) {
	var l model.Link
	var desc sql.NullString
	if err := sc.Scan(&l.ID, &l.EventID, &l.URL, &desc); err != nil {
		return l, err
	}
	l.Description = desc.String
	return l, nil
}

// EventDetails loads the persons and links of an event. Both collections are
// read concurrently from the pool.
func (s *Store) EventDetails(ctx context.Context, id int64) (model.EventDetails, error) {
	var (
		details          model.EventDetails
		wg               sync.WaitGroup
		personsErr, lErr error
	)
	wg.Go(func() {
		details.Persons, personsErr = queryAll(ctx, s.db, scanPerson, `SELECT p.id, p.name
			FROM persons p JOIN events_persons ep ON ep.person_id = p.id
			WHERE ep.event_id = ?
			ORDER BY p.name COLLATE NOCASE ASC`, id)
	})
	wg.Go(func() {
		details.Links, lErr = queryAll(ctx, s.db, scanLink,
			"SELECT id, event_id, url, description FROM links WHERE event_id = ? ORDER BY id ASC", id)
	})
	wg.Wait()
	if err := errors.Join(personsErr, lErr); err != nil {
		return model.EventDetails{}, fmt.Errorf("details of event %d: %w", id, err)
	}
	return details, nil
}
