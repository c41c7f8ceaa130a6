package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"confsched/internal/alarm"
	"confsched/internal/bookmarks"
	"confsched/internal/config"
	"confsched/internal/live"
	appLog "confsched/internal/log"
	"confsched/internal/model"
	"confsched/internal/refresh"
	"confsched/internal/store"
)

// SystemEvents receives system broadcasts relayed by the API.
type SystemEvents interface {
	Deliver(ev alarm.SystemEvent)
}

// Refresher runs the schedule refresh on demand.
type Refresher interface {
	RunOnce(ctx context.Context) (int, error)
	Status() (refresh.Status, bool)
}

// Deps are the components the API serves.
type Deps struct {
	Store     *store.Store
	Bookmarks *bookmarks.Service
	Prefs     *config.PreferencesStore
	Alarms    SystemEvents
	Refresh   Refresher
	// Clock drives the live queries. A nil Clock is built from cfg.LiveTick.
	Clock *live.Clock
}

// Server provides HTTP APIs for browsing the schedule, managing bookmarks
// and following live event lists.
type Server struct {
	cfg    *config.Config
	router *mux.Router

	store     *store.Store
	bookmarks *bookmarks.Service
	prefs     *config.PreferencesStore
	alarms    SystemEvents
	refresh   Refresher

	live map[string]*live.Query[model.StatusEvent]
}

// NewServer constructs a new Server. Live queries stay alive until scope is
// done.
func NewServer(scope context.Context, cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:       cfg,
		router:    mux.NewRouter(),
		store:     deps.Store,
		bookmarks: deps.Bookmarks,
		prefs:     deps.Prefs,
		alarms:    deps.Alarms,
		refresh:   deps.Refresh,
	}
	clock := deps.Clock
	if clock == nil {
		var err error
		if clock, err = live.ParseClock(cfg.LiveTick); err != nil {
			appLog.Error("invalid live tick; using default", err, "live_tick", cfg.LiveTick)
			clock, _ = live.ParseClock(live.DefaultTick)
		}
	}
	s.live = s.liveQueries(scope, clock)
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="confsched", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	r := s.router
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/events/{id:[0-9]+}", s.handleEvent).Methods(http.MethodGet)
	api.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
	api.HandleFunc("/persons", s.handlePersons).Methods(http.MethodGet)
	api.HandleFunc("/persons/{id:[0-9]+}/events", s.handlePersonEvents).Methods(http.MethodGet)
	api.HandleFunc("/days", s.handleDays).Methods(http.MethodGet)
	api.HandleFunc("/days/{day:[0-9]+}/tracks", s.handleTracks).Methods(http.MethodGet)
	api.HandleFunc("/days/{day:[0-9]+}/events", s.handleDayTrackEvents).Methods(http.MethodGet)

	api.HandleFunc("/bookmarks", s.handleBookmarksList).Methods(http.MethodGet)
	api.HandleFunc("/bookmarks", s.handleBookmarksAdd).Methods(http.MethodPost)
	api.HandleFunc("/bookmarks", s.handleBookmarksRemove).Methods(http.MethodDelete)
	api.HandleFunc("/bookmarks.ics", s.handleBookmarksExport).Methods(http.MethodGet)
	api.HandleFunc("/bookmarks/import", s.handleBookmarksImport).Methods(http.MethodPost)

	api.HandleFunc("/preferences", s.handlePreferencesGet).Methods(http.MethodGet)
	api.HandleFunc("/preferences", s.handlePreferencesPut).Methods(http.MethodPut)

	api.HandleFunc("/live/{kind}", s.handleLive).Methods(http.MethodGet)
	api.HandleFunc("/refresh", s.handleRefreshStatus).Methods(http.MethodGet)
	api.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/system/reboot", s.handleReboot).Methods(http.MethodPost)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
