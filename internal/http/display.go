package http

import (
	"net/http"

	"schoolboard/internal/apperr"
	"schoolboard/internal/events"
	"schoolboard/internal/live"
	"schoolboard/internal/validate"
)

type clockRequest struct {
	Day  string `json:"day" validate:"required,oneof=0 1 2 3 4 5 6"`
	Time string `json:"time" validate:"required,clock"`
}

// momentFromQuery reads the optional ?day=&time= simulation pair. Both or
// neither must be given.
func momentFromQuery(r *http.Request) (*live.Moment, error) {
	query := r.URL.Query()
	day, clock := query.Get("day"), query.Get("time")
	if day == "" && clock == "" {
		return nil, nil
	}
	m, err := live.ParseMoment(day, clock)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Server) handleDisplayNow(w http.ResponseWriter, r *http.Request) {
	override, err := momentFromQuery(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	at, err := live.At(r.Context(), s.svc.Clock, override)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	snapshot, err := s.svc.Aggregator.Aggregate(r.Context(), at)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleDisplayStream(w http.ResponseWriter, r *http.Request) {
	override, err := momentFromQuery(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.svc.Hub.ServeWS(w, r, override)
}

// handleSetClock pins every display to a simulated moment until cleared.
func (s *Server) handleSetClock(w http.ResponseWriter, r *http.Request) {
	var req clockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		s.respondError(w, r, err)
		return
	}
	m, err := live.ParseMoment(req.Day, req.Time)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.svc.ClockOverride.Set(r.Context(), m); err != nil {
		s.respondError(w, r, err)
		return
	}
	events.Notify(r.Context(), s.events, s.log, events.Event{Collection: events.CollectionClock, Op: "set"})
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleClearClock(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ClockOverride.Clear(r.Context()); err != nil {
		s.respondError(w, r, err)
		return
	}
	events.Notify(r.Context(), s.events, s.log, events.Event{Collection: events.CollectionClock, Op: "clear"})
	w.WriteHeader(http.StatusNoContent)
}
