// Package bookmarks is the user-facing side of bookmarks: adding and
// removing them (keeping alarms in sync), listing, and moving them in and
// out of the application as iCalendar files.
package bookmarks

import (
	"context"
	"fmt"
	"time"

	appLog "confsched/internal/log"
	"confsched/internal/model"
)

// Repository is the part of the schedule store holding bookmarks.
type Repository interface {
	AddBookmarks(ctx context.Context, ids []int64) ([]model.AlarmInfo, error)
	RemoveBookmarks(ctx context.Context, ids []int64) (int, error)
	Bookmarks(ctx context.Context, minEnd *time.Time) ([]model.Event, error)
	Year(ctx context.Context) (int, error)
}

// AlarmSink is told about bookmark changes so alarms can follow them.
type AlarmSink interface {
	OnBookmarksAdded(alarms []model.AlarmInfo)
	OnBookmarksRemoved(eventIDs []int64)
}

// Service coordinates bookmark changes with alarms.
type Service struct {
	repo    Repository
	alarms  AlarmSink
	appID   string
	version string
	now     func() time.Time
}

func NewService(repo Repository, alarms AlarmSink, appID, version string) *Service {
	return &Service{
		repo:    repo,
		alarms:  alarms,
		appID:   appID,
		version: version,
		now:     time.Now,
	}
}

// Add bookmarks the given events.
func (s *Service) Add(ctx context.Context, ids []int64) error {
	added, err := s.repo.AddBookmarks(ctx, ids)
	if err != nil {
		return err
	}
	if len(added) > 0 {
		s.alarms.OnBookmarksAdded(added)
	}
	return nil
}

// Remove unbookmarks the given events and reports how many were bookmarked.
func (s *Service) Remove(ctx context.Context, ids []int64) (int, error) {
	n, err := s.repo.RemoveBookmarks(ctx, ids)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.alarms.OnBookmarksRemoved(ids)
	}
	return n, nil
}

// List returns bookmarked events. With upcomingOnly, events that already
// ended are left out.
func (s *Service) List(ctx context.Context, upcomingOnly bool) ([]model.Event, error) {
	var minEnd *time.Time
	if upcomingOnly {
		now := s.now()
		minEnd = &now
	}
	return s.repo.Bookmarks(ctx, minEnd)
}

// ExportFileName is the suggested name of the exported calendar.
func (s *Service) ExportFileName(ctx context.Context) string {
	year, err := s.repo.Year(ctx)
	if err != nil {
		appLog.Error("resolve schedule year failed", err)
		year = s.now().Year()
	}
	return fmt.Sprintf("bookmarks-%d.ics", year)
}
