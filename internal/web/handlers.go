package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"confsched/internal/bookmarks"
	"confsched/internal/config"
	"confsched/internal/live"
	appLog "confsched/internal/log"
	"confsched/internal/model"
)

const (
	maxPageSize  = 200
	maxBodyBytes = 4 << 20
)

func (s *Server) pageParams(r *http.Request) (page, size int) {
	q := r.URL.Query()
	page = max(parseIntDefault(q.Get("page"), 0), 0)
	size = parseIntDefault(q.Get("size"), s.cfg.PageSize)
	if size <= 0 {
		size = live.DefaultPageSize
	}
	return page, min(size, maxPageSize)
}

// writeEventPage serves one page of a cursor.
func (s *Server) writeEventPage(w http.ResponseWriter, r *http.Request, src live.PagingSource[model.StatusEvent]) {
	page, size := s.pageParams(r)
	resp, err := pageOf(r.Context(), live.NewPager(src, size, time.Now()), page, toStatusEventDTO)
	if err != nil {
		appLog.Error("api: load events page failed", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func pathInt64(r *http.Request, name string) (int64, bool) {
	n, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	return n, err == nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.writeEventPage(w, r, s.store.Events())
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathInt64(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	ev, found, err := s.store.Event(ctx, id)
	if err != nil {
		appLog.Error("api: load event failed", err, "id", id)
		writeError(w, http.StatusInternalServerError, "failed to load event")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	details, err := s.store.EventDetails(ctx, id)
	if err != nil {
		appLog.Error("api: load event details failed", err, "id", id)
		writeError(w, http.StatusInternalServerError, "failed to load event")
		return
	}
	bookmarked, err := s.store.IsBookmarked(ctx, id)
	if err != nil {
		appLog.Error("api: load bookmark status failed", err, "id", id)
		writeError(w, http.StatusInternalServerError, "failed to load event")
		return
	}

	resp := eventDetailDTO{
		eventDTO: toStatusEventDTO(model.StatusEvent{Event: ev, IsBookmarked: bookmarked}),
		Speakers: make([]personDTO, 0, len(details.Persons)),
		Links:    make([]linkDTO, 0, len(details.Links)),
	}
	for _, p := range details.Persons {
		resp.Speakers = append(resp.Speakers, toPersonDTO(p))
	}
	for _, l := range details.Links {
		resp.Links = append(resp.Links, linkDTO{URL: l.URL, Description: l.Description})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing query")
		return
	}
	s.writeEventPage(w, r, s.store.Search(q))
}

func (s *Server) handlePersons(w http.ResponseWriter, r *http.Request) {
	page, size := s.pageParams(r)
	resp, err := pageOf(r.Context(), live.NewPager[model.Person](s.store.Persons(), size, time.Now()), page, toPersonDTO)
	if err != nil {
		appLog.Error("api: load persons failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load persons")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePersonEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid person id")
		return
	}
	s.writeEventPage(w, r, s.store.EventsByPerson(id))
}

func (s *Server) handleDays(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	days, err := s.store.Days(ctx)
	if err != nil {
		appLog.Error("api: load days failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load days")
		return
	}
	year, err := s.store.Year(ctx)
	if err != nil {
		appLog.Error("api: load year failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load days")
		return
	}

	type daysResponse struct {
		Year int      `json:"year"`
		Days []dayDTO `json:"days"`
	}
	resp := daysResponse{Year: year, Days: make([]dayDTO, 0, len(days))}
	for _, d := range days {
		resp.Days = append(resp.Days, dayDTO{Index: d.Index, Date: d.Date.Format(time.DateOnly)})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	day, err := strconv.Atoi(mux.Vars(r)["day"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid day")
		return
	}
	tracks, err := s.store.Tracks(r.Context(), day)
	if err != nil {
		appLog.Error("api: load tracks failed", err, "day", day)
		writeError(w, http.StatusInternalServerError, "failed to load tracks")
		return
	}
	out := make([]trackDTO, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, trackDTO{Name: t.Name, Type: t.Type})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDayTrackEvents lists the events of ?track=<name>&type=<type> on a
// day, with bookmark status.
func (s *Server) handleDayTrackEvents(w http.ResponseWriter, r *http.Request) {
	day, err := strconv.Atoi(mux.Vars(r)["day"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid day")
		return
	}
	q := r.URL.Query()
	name := q.Get("track")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing track")
		return
	}
	key := model.TrackKey{Name: name, Type: model.ParseTrackType(q.Get("type"))}

	events, err := s.store.EventsByDayTrack(r.Context(), day, key)
	if err != nil {
		appLog.Error("api: load track events failed", err, "day", day, "track", name)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	out := make([]eventDTO, 0, len(events))
	for _, se := range events {
		out = append(out, toStatusEventDTO(se))
	}
	writeJSON(w, http.StatusOK, out)
}

type idsRequest struct {
	IDs []int64 `json:"ids"`
}

func readIDs(w http.ResponseWriter, r *http.Request) ([]int64, bool) {
	var req idsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "no event ids")
		return nil, false
	}
	return req.IDs, true
}

func (s *Server) handleBookmarksList(w http.ResponseWriter, r *http.Request) {
	upcoming := r.URL.Query().Get("upcoming")
	events, err := s.bookmarks.List(r.Context(), upcoming == "1" || upcoming == "true")
	if err != nil {
		appLog.Error("api: list bookmarks failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load bookmarks")
		return
	}
	out := make([]eventDTO, 0, len(events))
	for _, ev := range events {
		out = append(out, toStatusEventDTO(model.StatusEvent{Event: ev, IsBookmarked: true}))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBookmarksAdd(w http.ResponseWriter, r *http.Request) {
	ids, ok := readIDs(w, r)
	if !ok {
		return
	}
	if err := s.bookmarks.Add(r.Context(), ids); err != nil {
		appLog.Error("api: add bookmarks failed", err, "count", len(ids))
		writeError(w, http.StatusInternalServerError, "failed to add bookmarks")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBookmarksRemove(w http.ResponseWriter, r *http.Request) {
	ids, ok := readIDs(w, r)
	if !ok {
		return
	}
	n, err := s.bookmarks.Remove(r.Context(), ids)
	if err != nil {
		appLog.Error("api: remove bookmarks failed", err, "count", len(ids))
		writeError(w, http.StatusInternalServerError, "failed to remove bookmarks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

type trackingWriter struct {
	http.ResponseWriter
	wrote bool
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	t.wrote = true
	return t.ResponseWriter.Write(p)
}

// handleBookmarksExport streams the calendar. Once the body has started an
// error can only be logged.
func (s *Server) handleBookmarksExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", s.bookmarks.ExportFileName(ctx)))

	tw := &trackingWriter{ResponseWriter: w}
	if err := s.bookmarks.Export(ctx, tw); err != nil {
		appLog.Error("api: export bookmarks failed", err)
		if !tw.wrote {
			writeError(w, http.StatusInternalServerError, "failed to export bookmarks")
		}
	}
}

func (s *Server) handleBookmarksImport(w http.ResponseWriter, r *http.Request) {
	n, err := s.bookmarks.Import(r.Context(), http.MaxBytesReader(w, r.Body, maxBodyBytes))
	switch {
	case errors.Is(err, bookmarks.ErrNoEvents), errors.Is(err, bookmarks.ErrInvalidCalendar):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		appLog.Error("api: import bookmarks failed", err)
		writeError(w, http.StatusInternalServerError, "failed to import bookmarks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}

func (s *Server) handlePreferencesGet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.prefs.Get())
}

func (s *Server) handlePreferencesPut(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NotificationsEnabled      *bool `json:"notifications_enabled"`
		NotificationsDelayMinutes *int  `json:"notifications_delay_minutes"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.NotificationsDelayMinutes != nil && *req.NotificationsDelayMinutes < 0 {
		writeError(w, http.StatusBadRequest, "notifications_delay_minutes must not be negative")
		return
	}

	prefs, err := s.prefs.Update(func(p *config.Preferences) {
		if req.NotificationsEnabled != nil {
			p.NotificationsEnabled = *req.NotificationsEnabled
		}
		if req.NotificationsDelayMinutes != nil {
			p.NotificationsDelayMinutes = *req.NotificationsDelayMinutes
		}
	})
	if err != nil {
		appLog.Error("api: save preferences failed", err)
		writeError(w, http.StatusInternalServerError, "failed to save preferences")
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}
