package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"confsched/internal/live"
)

// Preferences are the user settings that drive event alarms. Unlike Config
// they change at runtime and are written back by the API.
type Preferences struct {
	NotificationsEnabled bool `yaml:"notifications_enabled" json:"notifications_enabled"`
	// NotificationsDelayMinutes is how long before an event starts its alarm
	// fires.
	NotificationsDelayMinutes int `yaml:"notifications_delay_minutes" json:"notifications_delay_minutes"`
}

// Delay returns the alarm lead time.
func (p Preferences) Delay() time.Duration {
	return time.Duration(p.NotificationsDelayMinutes) * time.Minute
}

func (p *Preferences) normalize() {
	if p.NotificationsDelayMinutes < 0 {
		p.NotificationsDelayMinutes = 0
	}
}

// PreferencesStore persists Preferences and publishes every change.
type PreferencesStore struct {
	path  string
	mu    sync.Mutex
	value *live.Value[Preferences]
}

// LoadPreferences reads the preferences file, creating it with defaults on
// first run.
func LoadPreferences(path string) (*PreferencesStore, error) {
	if path == "" {
		return nil, errors.New("preferences path is empty")
	}

	var prefs Preferences
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := savePreferences(path, prefs); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, &prefs); err != nil {
			return nil, fmt.Errorf("parse preferences: %w", err)
		}
		prefs.normalize()
	}

	return &PreferencesStore{path: path, value: live.NewValueOf(prefs)}, nil
}

// Get returns the current preferences.
func (s *PreferencesStore) Get() Preferences {
	p, _ := s.value.Get()
	return p
}

// Update applies fn to a copy of the current preferences, saves the result
// and publishes it. Nothing is published when saving fails.
func (s *PreferencesStore) Update(fn func(*Preferences)) (Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.Get()
	fn(&p)
	p.normalize()
	if err := savePreferences(s.path, p); err != nil {
		return s.Get(), err
	}
	s.value.Set(p)
	return p, nil
}

// Subscribe streams the current preferences and every later change until ctx
// is done.
func (s *PreferencesStore) Subscribe(ctx context.Context) <-chan Preferences {
	return s.value.Subscribe(ctx)
}

func savePreferences(path string, p Preferences) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}
