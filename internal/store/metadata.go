package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

func (s *Store) metadata(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("metadata %s: %w", key, err)
	}
	return v, nil
}

// LatestUpdateTime is the moment of the last successful import. ok is false
// when no import happened yet.
func (s *Store) LatestUpdateTime(ctx context.Context) (t time.Time, ok bool, err error) {
	v, err := s.metadata(ctx, metaLatestUpdateTime)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse %s: %w", metaLatestUpdateTime, err)
	}
	return time.UnixMilli(ms), true, nil
}

// LastModifiedTag is the change tag of the last successful import, empty
// when unknown.
func (s *Store) LastModifiedTag(ctx context.Context) (string, error) {
	v, err := s.metadata(ctx, metaLastModifiedTag)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}
