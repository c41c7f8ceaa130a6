package alarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"confsched/internal/config"
	appLog "confsched/internal/log"
	"confsched/internal/model"
)

// Bookmarks is the read side of the schedule store the manager needs.
type Bookmarks interface {
	BookmarkAlarms(ctx context.Context, minStart time.Time) ([]model.AlarmInfo, error)
	IsBookmarked(ctx context.Context, id int64) (bool, error)
	Event(ctx context.Context, id int64) (model.Event, bool, error)
}

// PreferenceSource publishes the notification preferences.
type PreferenceSource interface {
	Get() config.Preferences
	Subscribe(ctx context.Context) <-chan config.Preferences
}

// SystemEvent is an inbound notification from outside the application
// flow.
type SystemEvent interface {
	systemEvent()
}

// DeviceRebooted means every previously scheduled alarm is gone.
type DeviceRebooted struct{}

// AlarmFired means the alarm of an event is due.
type AlarmFired struct {
	EventID int64
}

func (DeviceRebooted) systemEvent() {}
func (AlarmFired) systemEvent()     {}

// Manager reconciles scheduled alarms with bookmarks and preferences.
//
// While notifications are disabled bookmark changes are ignored. Enabling
// them, changing the lead time, a schedule refresh or a reboot recompute
// every alarm; disabling them cancels every alarm.
type Manager struct {
	ctx       context.Context
	store     Bookmarks
	scheduler Scheduler
	notifier  Notifier
	queue     *Queue
	system    chan SystemEvent
	now       func() time.Time

	mu      sync.Mutex
	enabled bool
	delay   time.Duration
}

// NewManager starts a manager bound to ctx, normally the process context.
func NewManager(ctx context.Context, store Bookmarks, prefs PreferenceSource, scheduler Scheduler, notifier Notifier) *Manager {
	p := prefs.Get()
	m := &Manager{
		ctx:       ctx,
		store:     store,
		scheduler: scheduler,
		notifier:  notifier,
		system:    make(chan SystemEvent, 8),
		now:       time.Now,
		enabled:   p.NotificationsEnabled,
		delay:     p.Delay(),
	}
	m.queue = NewQueue(ctx, m.execute)
	go m.run(prefs.Subscribe(ctx))
	return m
}

// Enabled reports whether notifications are currently enabled.
func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Queue exposes the command queue, mostly for status reporting.
func (m *Manager) Queue() *Queue {
	return m.queue
}

// Deliver hands a system event to the manager.
func (m *Manager) Deliver(ev SystemEvent) {
	select {
	case m.system <- ev:
	case <-m.ctx.Done():
	}
}

func (m *Manager) OnBookmarksAdded(alarms []model.AlarmInfo) {
	if !m.Enabled() || len(alarms) == 0 {
		return
	}
	cmd := newCommand(Add)
	cmd.Alarms = alarms
	m.queue.Submit(cmd)
}

func (m *Manager) OnBookmarksRemoved(eventIDs []int64) {
	if !m.Enabled() || len(eventIDs) == 0 {
		return
	}
	cmd := newCommand(Remove)
	cmd.EventIDs = eventIDs
	m.queue.Submit(cmd)
}

func (m *Manager) OnScheduleRefreshed() {
	if m.Enabled() {
		m.queue.Submit(newCommand(Update))
	}
}

func (m *Manager) run(prefs <-chan config.Preferences) {
	for {
		select {
		case <-m.ctx.Done():
			return
		case p, ok := <-prefs:
			if !ok {
				return
			}
			m.onPreferences(p)
		case ev := <-m.system:
			m.onSystem(ev)
		}
	}
}

func (m *Manager) onPreferences(p config.Preferences) {
	m.mu.Lock()
	wasEnabled, oldDelay := m.enabled, m.delay
	m.enabled, m.delay = p.NotificationsEnabled, p.Delay()
	m.mu.Unlock()

	switch {
	case p.NotificationsEnabled && !wasEnabled:
		appLog.Info("notifications enabled")
		m.queue.Submit(newCommand(Update))
	case !p.NotificationsEnabled && wasEnabled:
		appLog.Info("notifications disabled")
		m.queue.Submit(newCommand(Disable))
	case p.NotificationsEnabled && p.Delay() != oldDelay:
		appLog.Info("notification delay changed", "delay", p.Delay().String())
		m.queue.Submit(newCommand(Update))
	}
}

func (m *Manager) onSystem(ev SystemEvent) {
	switch ev := ev.(type) {
	case DeviceRebooted:
		if m.Enabled() {
			m.queue.Submit(newCommand(Update))
		}
	case AlarmFired:
		go func() {
			if err := m.notifyEvent(m.ctx, ev.EventID); err != nil {
				appLog.Error("alarm notification failed", err, "event", ev.EventID)
			}
		}()
	}
}

func (m *Manager) notifyEvent(ctx context.Context, eventID int64) error {
	if !m.Enabled() {
		return nil
	}
	bookmarked, err := m.store.IsBookmarked(ctx, eventID)
	if err != nil {
		return err
	}
	if !bookmarked {
		return nil
	}
	ev, ok, err := m.store.Event(ctx, eventID)
	if err != nil || !ok {
		return err
	}
	info := model.AlarmInfo{
		EventID:  ev.ID,
		Title:    ev.Title,
		RoomName: ev.RoomName,
		Persons:  ev.PersonsSummary,
	}
	title, body := info.Payload()
	return m.notifier.Notify(ctx, Payload{Title: title, Body: body})
}

func (m *Manager) execute(ctx context.Context, cmd Command) error {
	m.mu.Lock()
	enabled, delay := m.enabled, m.delay
	m.mu.Unlock()
	now := m.now()

	// Commands queued before a disable took effect must not re-arm alarms.
	if !enabled && (cmd.Kind == Add || cmd.Kind == Update) {
		appLog.Debug("alarm command skipped, notifications disabled", "kind", cmd.Kind.String(), "id", cmd.ID.String())
		return nil
	}

	switch cmd.Kind {
	case Add:
		for _, a := range cmd.Alarms {
			at := a.TriggerAt(delay)
			if at.Before(now) {
				continue
			}
			if err := m.schedule(ctx, a, at); err != nil {
				return err
			}
		}
	case Remove:
		for _, id := range cmd.EventIDs {
			if err := m.scheduler.Cancel(ctx, id); err != nil {
				return fmt.Errorf("cancel alarm %d: %w", id, err)
			}
		}
	case Update:
		alarms, err := m.store.BookmarkAlarms(ctx, now)
		if err != nil {
			return err
		}
		if err := m.scheduler.CancelAll(ctx); err != nil {
			return fmt.Errorf("cancel alarms: %w", err)
		}
		for _, a := range alarms {
			at := a.TriggerAt(delay)
			if at.Before(now) {
				continue
			}
			if err := m.schedule(ctx, a, at); err != nil {
				return err
			}
		}
		appLog.Info("alarms updated", "count", len(alarms), "delay", delay.String())
	case Disable:
		if err := m.scheduler.CancelAll(ctx); err != nil {
			return fmt.Errorf("cancel alarms: %w", err)
		}
	default:
		return fmt.Errorf("unknown alarm command %d", cmd.Kind)
	}
	return nil
}

func (m *Manager) schedule(ctx context.Context, a model.AlarmInfo, at time.Time) error {
	title, body := a.Payload()
	if err := m.scheduler.ScheduleAt(ctx, a.EventID, at, Payload{Title: title, Body: body}); err != nil {
		return fmt.Errorf("schedule alarm %d: %w", a.EventID, err)
	}
	return nil
}
