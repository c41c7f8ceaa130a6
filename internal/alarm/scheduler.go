// Package alarm keeps event alarms in sync with bookmarks and notification
// preferences.
package alarm

import (
	"context"
	"sync"
	"time"

	appLog "confsched/internal/log"
)

// Payload is the text of the notification shown when an alarm fires.
type Payload struct {
	Title string
	Body  string
}

// Scheduler is the port to whatever fires alarms. Implementations must be
// idempotent: scheduling an event id that already has an alarm replaces it,
// and cancelling an unknown id is a no-op.
type Scheduler interface {
	ScheduleAt(ctx context.Context, eventID int64, at time.Time, payload Payload) error
	Cancel(ctx context.Context, eventID int64) error
	CancelAll(ctx context.Context) error
}

// TimerScheduler fires alarms from in-process timers. Alarms do not survive
// a restart; the manager re-creates them on DeviceRebooted.
type TimerScheduler struct {
	fire func(eventID int64)

	mu     sync.Mutex
	timers map[int64]*time.Timer
}

// NewTimerScheduler returns a scheduler calling fire when an alarm is due.
func NewTimerScheduler(fire func(eventID int64)) *TimerScheduler {
	return &TimerScheduler{fire: fire, timers: make(map[int64]*time.Timer)}
}

func (s *TimerScheduler) ScheduleAt(_ context.Context, eventID int64, at time.Time, payload Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[eventID]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(max(time.Until(at), 0), func() {
		s.mu.Lock()
		current := s.timers[eventID] == timer
		if current {
			delete(s.timers, eventID)
		}
		s.mu.Unlock()
		if current {
			s.fire(eventID)
		}
	})
	s.timers[eventID] = timer
	appLog.Debug("alarm scheduled", "event", eventID, "at", at.Format(time.RFC3339), "title", payload.Title)
	return nil
}

func (s *TimerScheduler) Cancel(_ context.Context, eventID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[eventID]; ok {
		t.Stop()
		delete(s.timers, eventID)
	}
	return nil
}

func (s *TimerScheduler) CancelAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	return nil
}

// Pending returns the number of armed alarms.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
