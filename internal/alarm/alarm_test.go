package alarm

import (
	"context"
	"maps"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"confsched/internal/config"
	"confsched/internal/model"
)

type fakeStore struct {
	mu        sync.Mutex
	alarms    map[int64]model.AlarmInfo
	bookmarks map[int64]bool
}

func newFakeStore(alarms ...model.AlarmInfo) *fakeStore {
	s := &fakeStore{alarms: make(map[int64]model.AlarmInfo), bookmarks: make(map[int64]bool)}
	for _, a := range alarms {
		s.alarms[a.EventID] = a
		s.bookmarks[a.EventID] = true
	}
	return s
}

func (s *fakeStore) BookmarkAlarms(_ context.Context, minStart time.Time) ([]model.AlarmInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AlarmInfo
	for id, a := range s.alarms {
		if s.bookmarks[id] && a.StartTime.After(minStart) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeStore) IsBookmarked(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookmarks[id], nil
}

func (s *fakeStore) Event(_ context.Context, id int64) (model.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alarms[id]
	if !ok {
		return model.Event{}, false, nil
	}
	return model.Event{ID: id, Title: a.Title, RoomName: a.RoomName, PersonsSummary: a.Persons}, true, nil
}

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled map[int64]time.Time
	calls     int
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{scheduled: make(map[int64]time.Time)}
}

func (s *fakeScheduler) ScheduleAt(_ context.Context, id int64, at time.Time, _ Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled[id] = at
	s.calls++
	return nil
}

func (s *fakeScheduler) Cancel(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scheduled, id)
	return nil
}

func (s *fakeScheduler) CancelAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.scheduled)
	return nil
}

func (s *fakeScheduler) snapshot() map[int64]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.scheduled)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []Payload
}

func (n *fakeNotifier) Notify(_ context.Context, p Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, p)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type harness struct {
	store     *fakeStore
	scheduler *fakeScheduler
	notifier  *fakeNotifier
	prefs     *config.PreferencesStore
	manager   *Manager
}

func newHarness(t *testing.T, enabled bool, alarms ...model.AlarmInfo) *harness {
	t.Helper()
	prefs, err := config.LoadPreferences(filepath.Join(t.TempDir(), "prefs.yaml"))
	if err != nil {
		t.Fatalf("LoadPreferences: %v", err)
	}
	if _, err := prefs.Update(func(p *config.Preferences) {
		p.NotificationsEnabled = enabled
		p.NotificationsDelayMinutes = 10
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := &harness{
		store:     newFakeStore(alarms...),
		scheduler: newFakeScheduler(),
		notifier:  &fakeNotifier{},
		prefs:     prefs,
	}
	h.manager = NewManager(ctx, h.store, prefs, h.scheduler, h.notifier)
	return h
}

// settle waits until the queue has processed n commands in total.
func (h *harness) settle(t *testing.T, n int64) {
	t.Helper()
	eventually(t, "alarm queue", func() bool { return h.manager.Queue().Processed() >= n })
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func upcoming(id int64, in time.Duration) model.AlarmInfo {
	return model.AlarmInfo{
		EventID:   id,
		StartTime: time.Now().Add(in).Truncate(time.Second),
		Title:     "Talk",
		RoomName:  "K.1.105",
		Persons:   "Ada",
	}
}

func TestEnableThenDisableCancelsEveryAlarm(t *testing.T) {
	a, b := upcoming(1, time.Hour), upcoming(2, 2*time.Hour)
	h := newHarness(t, false, a, b)

	if _, err := h.prefs.Update(func(p *config.Preferences) { p.NotificationsEnabled = true }); err != nil {
		t.Fatalf("enable: %v", err)
	}
	h.settle(t, 1)
	got := h.scheduler.snapshot()
	if len(got) != 2 {
		t.Fatalf("scheduled %v, want two alarms", got)
	}
	if want := a.StartTime.Add(-10 * time.Minute); !got[1].Equal(want) {
		t.Fatalf("alarm 1 at %s, want %s", got[1], want)
	}

	if _, err := h.prefs.Update(func(p *config.Preferences) { p.NotificationsEnabled = false }); err != nil {
		t.Fatalf("disable: %v", err)
	}
	h.settle(t, 2)
	if got := h.scheduler.snapshot(); len(got) != 0 {
		t.Fatalf("alarms left after disable: %v", got)
	}
}

func TestUpdateIsIdempotent(t *testing.T) {
	h := newHarness(t, true, upcoming(1, time.Hour), upcoming(2, 2*time.Hour))

	h.manager.Deliver(DeviceRebooted{})
	h.settle(t, 1)
	first := h.scheduler.snapshot()

	h.manager.Deliver(DeviceRebooted{})
	h.settle(t, 2)
	second := h.scheduler.snapshot()

	if !maps.Equal(first, second) || len(second) != 2 {
		t.Fatalf("repeated update changed alarms: %v -> %v", first, second)
	}
}

func TestDelayChangeReschedules(t *testing.T) {
	a := upcoming(1, time.Hour)
	h := newHarness(t, true, a)

	if _, err := h.prefs.Update(func(p *config.Preferences) { p.NotificationsDelayMinutes = 30 }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	h.settle(t, 1)
	if got := h.scheduler.snapshot()[1]; !got.Equal(a.StartTime.Add(-30 * time.Minute)) {
		t.Fatalf("alarm at %s after delay change", got)
	}
}

func TestBookmarkChangesWhileDisabledAreIgnored(t *testing.T) {
	h := newHarness(t, false)
	h.manager.OnBookmarksAdded([]model.AlarmInfo{upcoming(5, time.Hour)})
	h.manager.OnScheduleRefreshed()
	time.Sleep(30 * time.Millisecond)
	if n := h.manager.Queue().Processed(); n != 0 {
		t.Fatalf("%d commands ran while disabled", n)
	}
}

func TestCommandsQueuedBeforeDisableDoNotSchedule(t *testing.T) {
	h := newHarness(t, true, upcoming(1, time.Hour))
	h.manager.Deliver(DeviceRebooted{})
	h.settle(t, 1)

	if _, err := h.prefs.Update(func(p *config.Preferences) { p.NotificationsEnabled = false }); err != nil {
		t.Fatalf("disable: %v", err)
	}
	h.settle(t, 2)
	eventually(t, "disabled state", func() bool { return !h.manager.Enabled() })

	// A caller that saw notifications enabled submits after the disable.
	add := newCommand(Add)
	add.Alarms = []model.AlarmInfo{upcoming(2, time.Hour)}
	h.manager.Queue().Submit(add)
	h.manager.Queue().Submit(newCommand(Update))
	h.settle(t, 4)

	if got := h.scheduler.snapshot(); len(got) != 0 {
		t.Fatalf("alarms scheduled while disabled: %v", got)
	}
}

func TestAddAndRemoveTouchOnlyGivenEvents(t *testing.T) {
	h := newHarness(t, true, upcoming(1, time.Hour))
	h.manager.Deliver(DeviceRebooted{})
	h.settle(t, 1)

	soon := upcoming(2, 5*time.Minute) // trigger already passed with a 10 minute lead
	later := upcoming(3, 3*time.Hour)
	h.manager.OnBookmarksAdded([]model.AlarmInfo{soon, later})
	h.settle(t, 2)
	got := h.scheduler.snapshot()
	if _, ok := got[2]; ok {
		t.Fatalf("alarm with a past trigger was scheduled")
	}
	if len(got) != 2 {
		t.Fatalf("scheduled %v, want events 1 and 3", got)
	}

	h.manager.OnBookmarksRemoved([]int64{3})
	h.settle(t, 3)
	got = h.scheduler.snapshot()
	if _, ok := got[1]; !ok || len(got) != 1 {
		t.Fatalf("after remove %v, want only event 1", got)
	}
}

func TestAlarmFiredNotifiesBookmarkedEvents(t *testing.T) {
	h := newHarness(t, true, upcoming(1, time.Hour))

	h.manager.Deliver(AlarmFired{EventID: 1})
	eventually(t, "notification", func() bool { return h.notifier.count() == 1 })

	h.store.mu.Lock()
	h.store.bookmarks[1] = false
	h.store.mu.Unlock()
	h.manager.Deliver(AlarmFired{EventID: 1})
	time.Sleep(30 * time.Millisecond)
	if n := h.notifier.count(); n != 1 {
		t.Fatalf("notified %d times, want 1", n)
	}

	h.notifier.mu.Lock()
	defer h.notifier.mu.Unlock()
	if p := h.notifier.sent[0]; p.Title != "Talk" || p.Body != "K.1.105 - Ada" {
		t.Fatalf("payload = %+v", p)
	}
}

func TestTimerSchedulerReplacesAndCancels(t *testing.T) {
	var mu sync.Mutex
	fired := map[int64]int{}
	s := NewTimerScheduler(func(id int64) {
		mu.Lock()
		fired[id]++
		mu.Unlock()
	})
	ctx := context.Background()

	_ = s.ScheduleAt(ctx, 1, time.Now().Add(time.Hour), Payload{})
	_ = s.ScheduleAt(ctx, 1, time.Now().Add(10*time.Millisecond), Payload{})
	_ = s.ScheduleAt(ctx, 2, time.Now().Add(20*time.Millisecond), Payload{})
	if s.Pending() != 2 {
		t.Fatalf("Pending = %d, want 2", s.Pending())
	}
	_ = s.Cancel(ctx, 2)

	eventually(t, "alarm 1", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired[1] == 1
	})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if fired[1] != 1 || fired[2] != 0 {
		t.Fatalf("fired = %v, want only event 1 once", fired)
	}
	if s.Pending() != 0 {
		t.Fatalf("Pending = %d after firing", s.Pending())
	}
}
