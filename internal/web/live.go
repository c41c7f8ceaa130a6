package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"confsched/internal/alarm"
	"confsched/internal/live"
	appLog "confsched/internal/log"
	"confsched/internal/model"
	"confsched/internal/refresh"
	"confsched/internal/store"
)

// Live list names served under /api/live/{kind}.
const (
	LiveNext      = "next"
	LiveNow       = "now"
	LiveBookmarks = "bookmarks"
)

// liveQueries builds the live event lists. They share one clock so that
// lists shown side by side agree on the current time.
func (s *Server) liveQueries(scope context.Context, clock *live.Clock) map[string]*live.Query[model.StatusEvent] {
	st := s.store
	versions := st.Versions()
	window := time.Duration(s.cfg.NextEventsHours) * time.Hour

	return map[string]*live.Query[model.StatusEvent]{
		LiveNext: live.NewQuery(scope, LiveNext, clock, s.cfg.PageSize,
			func(now time.Time) live.PagingSource[model.StatusEvent] {
				return st.EventsWithStartTime(now, now.Add(window))
			},
			versions.Events(), versions.Bookmarks()),
		LiveNow: live.NewQuery(scope, LiveNow, clock, s.cfg.PageSize,
			func(now time.Time) live.PagingSource[model.StatusEvent] {
				return st.EventsInProgress(now)
			},
			versions.Events(), versions.Bookmarks()),
		LiveBookmarks: live.NewQuery(scope, LiveBookmarks, clock, s.cfg.PageSize,
			func(now time.Time) live.PagingSource[model.StatusEvent] {
				return st.BookmarkedEvents(&now)
			},
			versions.Events(), versions.Bookmarks()),
	}
}

// handleLive streams a page of a live list as server-sent events. A new
// message is written every time the list is re-evaluated.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["kind"]
	q, ok := s.live[kind]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown live list")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	page, _ := s.pageParams(r)
	ctx := r.Context()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	appLog.Debug("live stream opened", "kind", kind, "page", page)
	for pager := range q.Subscribe(ctx) {
		resp, err := pageOf(ctx, pager, page, toStatusEventDTO)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			appLog.Error("live stream: load page failed", err, "kind", kind)
			continue
		}
		data, err := json.Marshal(resp)
		if err != nil {
			appLog.Error("live stream: encode failed", err, "kind", kind)
			continue
		}
		if _, err := fmt.Fprintf(w, "event: page\ndata: %s\n\n", data); err != nil {
			break
		}
		flusher.Flush()
	}
	appLog.Debug("live stream closed", "kind", kind)
}

func (s *Server) handleRefreshStatus(w http.ResponseWriter, r *http.Request) {
	type statusResponse struct {
		LatestUpdate *time.Time      `json:"latest_update,omitempty"`
		Tag          string          `json:"tag,omitempty"`
		LastRun      *refresh.Status `json:"last_run,omitempty"`
	}

	ctx := r.Context()
	var resp statusResponse
	if t, ok, err := s.store.LatestUpdateTime(ctx); err != nil {
		appLog.Error("api: load update time failed", err)
	} else if ok {
		resp.LatestUpdate = &t
	}
	tag, err := s.store.LastModifiedTag(ctx)
	if err != nil {
		appLog.Error("api: load change tag failed", err)
	}
	resp.Tag = tag
	if s.refresh != nil {
		if st, ok := s.refresh.Status(); ok {
			resp.LastRun = &st
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresh == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh not configured")
		return
	}
	n, err := s.refresh.RunOnce(r.Context())
	if err != nil {
		appLog.Error("api: refresh failed", err)
		status := http.StatusBadGateway
		if errors.Is(err, store.ErrImportFailed) {
			status = http.StatusInternalServerError
		}
		writeError(w, status, "refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"events": n})
}

// handleReboot relays a device reboot broadcast so alarms are rebuilt.
func (s *Server) handleReboot(w http.ResponseWriter, _ *http.Request) {
	if s.alarms != nil {
		s.alarms.Deliver(alarm.DeviceRebooted{})
	}
	w.WriteHeader(http.StatusAccepted)
}
