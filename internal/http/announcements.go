package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"schoolboard/internal/announcements"
	"schoolboard/internal/apperr"
)

func (s *Server) handleListAnnouncements(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Announcements.List(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleActiveAnnouncements(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Announcements.Active(r.Context(), s.now().UTC())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateAnnouncement(w http.ResponseWriter, r *http.Request) {
	var req announcements.Input
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest)
		return
	}
	a, err := s.svc.Announcements.Create(r.Context(), claimsFromContext(r.Context()).UserID, req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handlePatchAnnouncement(w http.ResponseWriter, r *http.Request) {
	var req announcements.UpdateInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest)
		return
	}
	a, err := s.svc.Announcements.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDeleteAnnouncement(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Announcements.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBirthdays uses the school's local date, not UTC.
func (s *Server) handleBirthdays(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Announcements.Birthdays(r.Context(), s.now().In(s.location))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
