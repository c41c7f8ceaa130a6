package store

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"math"
	"strconv"

	appLog "confsched/internal/log"
	"confsched/internal/model"
)

const (
	metaLatestUpdateTime = "latest_update_time"
	metaLastModifiedTag  = "last_modified_tag"
)

// Replace swaps the whole schedule for the records yielded by feed.
//
// Everything happens in one transaction: old schedule rows are cleared, the
// new ones inserted, bookmarks pointing below the smallest imported event id
// are purged and the metadata rewritten. Records whose event id was already
// seen in this import (or whose times are inconsistent) are skipped. When no
// record could be inserted the transaction is rolled back and (0, nil) is
// returned, leaving the previous dataset untouched. Any other failure,
// including an error yielded by feed, rolls back and returns an error
// wrapping ErrImportFailed.
func (s *Store) Replace(ctx context.Context, feed iter.Seq2[model.DetailedEvent, error], changeTag string) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	n, purged, err := s.replaceTx(ctx, feed, changeTag)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrImportFailed, err)
	}
	if n == 0 {
		appLog.Info("schedule import contained no usable events, keeping previous data")
		return 0, nil
	}

	s.versions.bump(scheduleTables...)
	if purged > 0 {
		s.versions.bump(TableBookmarks)
	}
	appLog.Info("schedule replaced", "events", n, "purged_bookmarks", purged, "tag", changeTag)
	return n, nil
}

func (s *Store) replaceTx(ctx context.Context, feed iter.Seq2[model.DetailedEvent, error], changeTag string) (int, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := clearSchedule(ctx, tx); err != nil {
		return 0, 0, err
	}

	imp, err := newImporter(ctx, tx)
	if err != nil {
		return 0, 0, err
	}
	defer imp.close()

	for rec, ferr := range feed {
		if ferr != nil {
			return 0, 0, fmt.Errorf("read feed: %w", ferr)
		}
		if err := imp.add(ctx, rec); err != nil {
			return 0, 0, err
		}
	}
	if imp.inserted == 0 {
		return 0, 0, nil
	}

	if err := imp.writeDays(ctx); err != nil {
		return 0, 0, err
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM bookmarks WHERE event_id < ?", imp.minID)
	if err != nil {
		return 0, 0, fmt.Errorf("purge bookmarks: %w", err)
	}
	purged, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, "DELETE FROM metadata"); err != nil {
		return 0, 0, fmt.Errorf("clear metadata: %w", err)
	}
	meta := map[string]string{
		metaLatestUpdateTime: strconv.FormatInt(millis(s.now()), 10),
		metaLastModifiedTag:  changeTag,
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, "INSERT INTO metadata(key, value) VALUES (?, ?)", k, v); err != nil {
			return 0, 0, fmt.Errorf("write metadata %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return imp.inserted, purged, nil
}

func clearSchedule(ctx context.Context, tx *sql.Tx) error {
	// Children before parents so foreign keys hold at every step.
	for _, table := range []string{
		TableLinks,
		TableEventsPersons,
		TableEventTitles,
		TableEvents,
		TablePersons,
		TableTracks,
		TableDays,
	} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

// importer carries the per-import state of Replace.
type importer struct {
	tx       *sql.Tx
	tracks   map[model.TrackKey]int64
	days     map[int]string
	minID    int64
	inserted int

	insTrack, insEvent, insTitle, insPerson, insEventPerson, insLink *sql.Stmt
}

func newImporter(ctx context.Context, tx *sql.Tx) (*importer, error) {
	imp := &importer{
		tx:     tx,
		tracks: make(map[model.TrackKey]int64),
		days:   make(map[int]string),
		minID:  math.MaxInt64,
	}
	stmts := []struct {
		dst **sql.Stmt
		sql string
	}{
		{&imp.insTrack, "INSERT INTO tracks(id, name, type) VALUES (?, ?, ?)"},
		{&imp.insEvent, `INSERT OR IGNORE INTO events(id, day_index, start_time, end_time, room_name, slug, url, track_id, abstract, description)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`},
		{&imp.insTitle, "INSERT INTO event_titles(event_id, title, subtitle) VALUES (?, ?, ?)"},
		{&imp.insPerson, "INSERT OR IGNORE INTO persons(id, name) VALUES (?, ?)"},
		{&imp.insEventPerson, "INSERT OR IGNORE INTO events_persons(event_id, person_id) VALUES (?, ?)"},
		{&imp.insLink, "INSERT INTO links(event_id, url, description) VALUES (?, ?, ?)"},
	}
	for _, st := range stmts {
		prepared, err := tx.PrepareContext(ctx, st.sql)
		if err != nil {
			imp.close()
			return nil, fmt.Errorf("prepare import: %w", err)
		}
		*st.dst = prepared
	}
	return imp, nil
}

func (imp *importer) close() {
	for _, st := range []*sql.Stmt{imp.insTrack, imp.insEvent, imp.insTitle, imp.insPerson, imp.insEventPerson, imp.insLink} {
		if st != nil {
			_ = st.Close()
		}
	}
}

func (imp *importer) trackID(ctx context.Context, t model.Track) (int64, error) {
	key := t.Key()
	if id, ok := imp.tracks[key]; ok {
		return id, nil
	}
	id := int64(len(imp.tracks) + 1)
	if _, err := imp.insTrack.ExecContext(ctx, id, key.Name, string(key.Type)); err != nil {
		return 0, fmt.Errorf("insert track %q: %w", key.Name, err)
	}
	imp.tracks[key] = id
	return id, nil
}

func (imp *importer) add(ctx context.Context, rec model.DetailedEvent) error {
	ev := rec.Event
	trackID, err := imp.trackID(ctx, ev.Track)
	if err != nil {
		return err
	}

	res, err := imp.insEvent.ExecContext(ctx,
		ev.ID, ev.Day.Index, nullableMillis(ev.Start), nullableMillis(ev.End),
		ev.RoomName, ev.Slug, ev.URL, trackID, ev.AbstractText, ev.Description)
	if err != nil {
		return fmt.Errorf("insert event %d: %w", ev.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		appLog.Debug("skipping event", "id", ev.ID)
		return nil
	}

	if _, err := imp.insTitle.ExecContext(ctx, ev.ID, ev.Title, ev.Subtitle); err != nil {
		return fmt.Errorf("insert title %d: %w", ev.ID, err)
	}
	for _, p := range rec.Details.Persons {
		if _, err := imp.insPerson.ExecContext(ctx, p.ID, p.Name); err != nil {
			return fmt.Errorf("insert person %d: %w", p.ID, err)
		}
		if _, err := imp.insEventPerson.ExecContext(ctx, ev.ID, p.ID); err != nil {
			return fmt.Errorf("link person %d to event %d: %w", p.ID, ev.ID, err)
		}
	}
	for _, l := range rec.Details.Links {
		if _, err := imp.insLink.ExecContext(ctx, ev.ID, l.URL, l.Description); err != nil {
			return fmt.Errorf("insert link for event %d: %w", ev.ID, err)
		}
	}

	if _, ok := imp.days[ev.Day.Index]; !ok {
		imp.days[ev.Day.Index] = ev.Day.Date.Format(dayLayout)
	}
	imp.minID = min(imp.minID, ev.ID)
	imp.inserted++
	return nil
}

func (imp *importer) writeDays(ctx context.Context) error {
	for idx, date := range imp.days {
		if _, err := imp.tx.ExecContext(ctx, "INSERT INTO days(idx, date) VALUES (?, ?)", idx, date); err != nil {
			return fmt.Errorf("insert day %d: %w", idx, err)
		}
	}
	return nil
}
