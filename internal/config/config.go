package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	appLog "confsched/internal/log"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// DBPath is the SQLite database holding the schedule and bookmarks.
	DBPath string `yaml:"db_path" json:"db_path"`

	// FeedURL is the schedule XML endpoint.
	FeedURL string `yaml:"feed_url" json:"feed_url"`

	// RefreshCron is a cron-style schedule string (e.g. "0 */2 * * *")
	// used for periodic schedule refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// LiveTick is the cron schedule of the shared clock driving live
	// queries. The default ticks on every wall-clock minute.
	LiveTick string `yaml:"live_tick" json:"live_tick"`

	// PageSize is the number of events per page of a live query.
	PageSize int `yaml:"page_size" json:"page_size"`

	// NextEventsHours is the look-ahead window of the "next events" query.
	NextEventsHours int `yaml:"next_events_hours" json:"next_events_hours"`

	// ReadPoolSize bounds concurrent database readers.
	ReadPoolSize int `yaml:"read_pool_size" json:"read_pool_size"`

	// AppID namespaces exported calendar UIDs (e.g. "be.digitalia.fosdem").
	AppID string `yaml:"app_id" json:"app_id"`

	// PrefsPath is the user preferences file. Relative paths are resolved
	// against the directory of the config file.
	PrefsPath string `yaml:"prefs_path" json:"prefs_path"`

	// Timezone is the IANA zone of the conference, used for feed times that
	// carry no offset.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Notify selects how fired alarms are delivered:
	//   - "dbus" (desktop notification, default)
	//   - "log"
	Notify string `yaml:"notify" json:"notify"`

	// LogLevel is one of DEBUG, INFO, WARN, ERROR.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen       = "127.0.0.1:8080"
	defaultDBPath       = "schedule.db"
	defaultRefresh      = "0 */2 * * *"
	defaultLiveTick     = "* * * * *"
	defaultPageSize     = 20
	defaultNextHours    = 3
	defaultReadPoolSize = 4
	defaultAppID        = "confsched"
	defaultPrefsPath    = "prefs.yaml"
	defaultTimezone     = "Europe/Brussels"
	defaultNotify       = "dbus"
	defaultLogLevel     = "INFO"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:          defaultListen,
		DBPath:          defaultDBPath,
		FeedURL:         "",
		RefreshCron:     defaultRefresh,
		LiveTick:        defaultLiveTick,
		PageSize:        defaultPageSize,
		NextEventsHours: defaultNextHours,
		ReadPoolSize:    defaultReadPoolSize,
		AppID:           defaultAppID,
		PrefsPath:       defaultPrefsPath,
		Timezone:        defaultTimezone,
		Notify:          defaultNotify,
		LogLevel:        defaultLogLevel,
		BasicAuth:       nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.DBPath == "" {
		c.DBPath = defaultDBPath
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefresh
	}
	if c.LiveTick == "" {
		c.LiveTick = defaultLiveTick
	}
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.NextEventsHours <= 0 {
		c.NextEventsHours = defaultNextHours
	}
	if c.ReadPoolSize <= 0 {
		c.ReadPoolSize = defaultReadPoolSize
	}
	if c.AppID == "" {
		c.AppID = defaultAppID
	}
	if c.PrefsPath == "" {
		c.PrefsPath = defaultPrefsPath
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	switch c.Notify {
	case "dbus", "log":
	default:
		// Unknown value; fall back to the desktop notifier.
		c.Notify = defaultNotify
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
}

// Location loads the Timezone zone, falling back to UTC when it is empty or
// unknown.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to UTC", err, "name", c.Timezone)
		return time.UTC
	}
	return loc
}

// Resolve makes DBPath and PrefsPath absolute, relative to the directory of
// the config file at path.
func (c *Config) Resolve(path string) {
	dir := filepath.Dir(path)
	if !filepath.IsAbs(c.DBPath) {
		c.DBPath = filepath.Join(dir, c.DBPath)
	}
	if !filepath.IsAbs(c.PrefsPath) {
		c.PrefsPath = filepath.Join(dir, c.PrefsPath)
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically with
// 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}

// writeFileAtomic writes data to a temp file in the same directory, then
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".confsched-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
