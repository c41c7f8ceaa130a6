// Package store owns the local conference schedule: an SQLite database that
// is replaced wholesale on every refresh, plus the bookmarks and metadata that
// survive refreshes.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	appLog "confsched/internal/log"
)

var (
	// ErrImportFailed is returned by Replace when the import transaction
	// could not be completed. The previous dataset is left untouched.
	ErrImportFailed = errors.New("schedule import failed")
	ErrNotFound     = errors.New("not found")
)

// DefaultReadPoolSize bounds the number of concurrent read connections.
const DefaultReadPoolSize = 4

// Store is the single-writer schedule repository.
type Store struct {
	db       *sql.DB
	writeMu  sync.Mutex
	versions *Versions
	now      func() time.Time
}

// Options tweaks Open.
type Options struct {
	// ReadPoolSize is the number of pooled connections available to
	// readers; one more is reserved for the writer.
	ReadPoolSize int
}

// Open opens (or creates) the schedule database at path.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	pool := opts.ReadPoolSize
	if pool <= 0 {
		pool = DefaultReadPoolSize
	}
	db.SetMaxOpenConns(pool + 1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		db.Close()
		return nil, fmt.Errorf("chmod db path: %w", err)
	}

	s := &Store{
		db:       db,
		versions: newVersions(),
		now:      time.Now,
	}
	if err := s.applySchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Versions exposes the per-table change counters.
func (s *Store) Versions() *Versions {
	return s.versions
}

func (s *Store) applySchema(ctx context.Context) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("schema conn: %w", err)
	}
	defer conn.Close()

	var current int
	if err := conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current != 0 && current != schemaVersion {
		appLog.Info("schema version mismatch, resetting database", "found", current, "want", schemaVersion)
		if err := resetDatabase(ctx, conn); err != nil {
			return err
		}
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("schema tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// resetDatabase drops every table, including metadata and bookmarks.
func resetDatabase(ctx context.Context, conn *sql.Conn) error {
	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("disable foreign keys: %w", err)
	}
	defer conn.ExecContext(ctx, "PRAGMA foreign_keys = ON") //nolint:errcheck

	// Virtual tables first: dropping them also drops their shadow tables.
	for _, virtual := range []bool{true, false} {
		names, err := tableNames(ctx, conn, virtual)
		if err != nil {
			return err
		}
		for _, name := range names {
			if _, err := conn.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %q", name)); err != nil {
				return fmt.Errorf("drop table %s: %w", name, err)
			}
		}
	}
	return nil
}

func tableNames(ctx context.Context, conn *sql.Conn, virtual bool) ([]string, error) {
	q := `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND sql NOT LIKE 'CREATE VIRTUAL TABLE%'`
	if virtual {
		q = `SELECT name FROM sqlite_master WHERE type = 'table' AND sql LIKE 'CREATE VIRTUAL TABLE%'`
	}
	rows, err := conn.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func timeFromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

const dayLayout = "2006-01-02"
