package store

// schemaVersion is stored in PRAGMA user_version. Any other non-zero value
// found on open triggers a destructive reset: there are no migrations, the
// next refresh simply re-imports the schedule.
const schemaVersion = 3

// Table names double as keys of the version counters.
const (
	TableEvents        = "events"
	TableEventTitles   = "event_titles"
	TablePersons       = "persons"
	TableEventsPersons = "events_persons"
	TableLinks         = "links"
	TableTracks        = "tracks"
	TableDays          = "days"
	TableBookmarks     = "bookmarks"
	TableMetadata      = "metadata"
)

// scheduleTables are the tables recreated by every successful Replace.
var scheduleTables = []string{
	TableEvents,
	TableEventTitles,
	TablePersons,
	TableEventsPersons,
	TableLinks,
	TableTracks,
	TableDays,
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS tracks (
	id   INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	UNIQUE(name, type)
)`,
	`CREATE TABLE IF NOT EXISTS days (
	idx  INTEGER PRIMARY KEY,
	date TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS events (
	id          INTEGER PRIMARY KEY,
	day_index   INTEGER NOT NULL,
	start_time  INTEGER,
	end_time    INTEGER,
	room_name   TEXT,
	slug        TEXT,
	url         TEXT,
	track_id    INTEGER NOT NULL REFERENCES tracks(id),
	abstract    TEXT,
	description TEXT,
	CHECK (start_time IS NULL OR end_time IS NULL OR end_time >= start_time)
)`,
	"CREATE INDEX IF NOT EXISTS event_day_index_idx ON events (day_index)",
	"CREATE INDEX IF NOT EXISTS event_start_time_idx ON events (start_time)",
	"CREATE INDEX IF NOT EXISTS event_end_time_idx ON events (end_time)",
	"CREATE INDEX IF NOT EXISTS event_track_id_idx ON events (track_id)",
	`CREATE TABLE IF NOT EXISTS event_titles (
	event_id INTEGER PRIMARY KEY REFERENCES events(id) ON DELETE CASCADE,
	title    TEXT NOT NULL DEFAULT '',
	subtitle TEXT NOT NULL DEFAULT ''
)`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS event_titles_fts USING fts5(
	title,
	subtitle,
	content='event_titles',
	content_rowid='event_id'
)`,
	`CREATE TRIGGER IF NOT EXISTS event_titles_ai AFTER INSERT ON event_titles BEGIN
	INSERT INTO event_titles_fts(rowid, title, subtitle) VALUES (new.event_id, new.title, new.subtitle);
END`,
	`CREATE TRIGGER IF NOT EXISTS event_titles_ad AFTER DELETE ON event_titles BEGIN
	INSERT INTO event_titles_fts(event_titles_fts, rowid, title, subtitle) VALUES ('delete', old.event_id, old.title, old.subtitle);
END`,
	`CREATE TABLE IF NOT EXISTS persons (
	id   INTEGER PRIMARY KEY,
	name TEXT NOT NULL
)`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS persons_fts USING fts5(
	name,
	content='persons',
	content_rowid='id'
)`,
	`CREATE TRIGGER IF NOT EXISTS persons_ai AFTER INSERT ON persons BEGIN
	INSERT INTO persons_fts(rowid, name) VALUES (new.id, new.name);
END`,
	`CREATE TRIGGER IF NOT EXISTS persons_ad AFTER DELETE ON persons BEGIN
	INSERT INTO persons_fts(persons_fts, rowid, name) VALUES ('delete', old.id, old.name);
END`,
	`CREATE TABLE IF NOT EXISTS events_persons (
	event_id  INTEGER NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	person_id INTEGER NOT NULL,
	PRIMARY KEY (event_id, person_id)
)`,
	"CREATE INDEX IF NOT EXISTS event_person_person_id_idx ON events_persons (person_id)",
	`CREATE TABLE IF NOT EXISTS links (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id    INTEGER NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	url         TEXT NOT NULL,
	description TEXT
)`,
	"CREATE INDEX IF NOT EXISTS link_event_id_idx ON links (event_id)",
	// Bookmarks outlive schedule refreshes, so they carry no foreign key.
	`CREATE TABLE IF NOT EXISTS bookmarks (
	event_id INTEGER PRIMARY KEY
)`,
}
