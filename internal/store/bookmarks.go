package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"confsched/internal/model"
)

const alarmQuery = `SELECT e.id, e.start_time, et.title, e.room_name,
	(SELECT GROUP_CONCAT(p.name, ', ') FROM events_persons ep JOIN persons p ON p.id = ep.person_id WHERE ep.event_id = e.id)
	FROM bookmarks b
	JOIN events e ON e.id = b.event_id
	JOIN event_titles et ON et.event_id = e.id
	WHERE e.start_time IS NOT NULL`

func scanAlarm(sc scanner) (model.AlarmInfo, error) {
	var (
		a             model.AlarmInfo
		start         int64
		room, persons sql.NullString
	)
	if err := sc.Scan(&a.EventID, &start, &a.Title, &room, &persons); err != nil {
		return a, err
	}
	a.StartTime = time.UnixMilli(start)
	a.RoomName = room.String
	a.Persons = persons.String
	return a, nil
}

// AddBookmarks bookmarks the given events. Ids of unknown events and ids that
// were already bookmarked are ignored. The alarm infos of the newly added
// bookmarks with a known start time are returned.
func (s *Store) AddBookmarks(ctx context.Context, ids []int64) ([]model.AlarmInfo, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("add bookmarks: begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var added []int64
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO bookmarks(event_id) SELECT id FROM events WHERE id = ?", id)
		if err != nil {
			return nil, fmt.Errorf("add bookmark %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added = append(added, id)
		}
	}
	if len(added) == 0 {
		return nil, nil
	}

	where, args := inClause("e.id", added)
	alarms, err := queryAll(ctx, tx, scanAlarm, alarmQuery+" AND "+where+" ORDER BY e.start_time ASC", args...)
	if err != nil {
		return nil, fmt.Errorf("add bookmarks: alarms: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("add bookmarks: commit: %w", err)
	}
	committed = true
	s.versions.bump(TableBookmarks)
	return alarms, nil
}

// RemoveBookmarks deletes the given bookmarks and returns how many existed.
func (s *Store) RemoveBookmarks(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	where, args := inClause("event_id", ids)
	res, err := s.db.ExecContext(ctx, "DELETE FROM bookmarks WHERE "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("remove bookmarks: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.versions.bump(TableBookmarks)
	}
	return int(n), nil
}

// BookmarkedEvents returns the bookmarked events ordered by start time. With
// a non-nil minEnd only events ending after it are included.
func (s *Store) BookmarkedEvents(minEnd *time.Time) *Cursor[model.StatusEvent] {
	where := "e.id IN (SELECT event_id FROM bookmarks)"
	var args []any
	if minEnd != nil {
		where += " AND e.end_time > ?"
		args = append(args, millis(*minEnd))
	}
	return s.eventCursor(where, orderAsc, args...)
}

// Bookmarks loads BookmarkedEvents in one go.
func (s *Store) Bookmarks(ctx context.Context, minEnd *time.Time) ([]model.Event, error) {
	marked, err := s.BookmarkedEvents(minEnd).All(ctx)
	if err != nil {
		return nil, fmt.Errorf("bookmarks: %w", err)
	}
	events := make([]model.Event, len(marked))
	for i, se := range marked {
		events[i] = se.Event
	}
	return events, nil
}

// BookmarkIDs returns every bookmarked event id, including ids of events the
// current schedule does not contain.
func (s *Store) BookmarkIDs(ctx context.Context) ([]int64, error) {
	ids, err := queryAll(ctx, s.db, func(sc scanner) (int64, error) {
		var id int64
		err := sc.Scan(&id)
		return id, err
	}, "SELECT event_id FROM bookmarks ORDER BY event_id ASC")
	if err != nil {
		return nil, fmt.Errorf("bookmark ids: %w", err)
	}
	return ids, nil
}

func (s *Store) IsBookmarked(ctx context.Context, id int64) (bool, error) {
	var ok bool
	if err := s.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM bookmarks WHERE event_id = ?)", id).Scan(&ok); err != nil {
		return false, fmt.Errorf("is bookmarked %d: %w", id, err)
	}
	return ok, nil
}

// BookmarkAlarms returns the alarm infos of every bookmarked event starting
// after minStart.
func (s *Store) BookmarkAlarms(ctx context.Context, minStart time.Time) ([]model.AlarmInfo, error) {
	alarms, err := queryAll(ctx, s.db, scanAlarm, alarmQuery+" AND e.start_time > ? ORDER BY e.start_time ASC", millis(minStart))
	if err != nil {
		return nil, fmt.Errorf("bookmark alarms: %w", err)
	}
	return alarms, nil
}
