package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"schoolboard/internal/apperr"
	"schoolboard/internal/parliament"
)

type dateStatusRequest struct {
	Status string `json:"status"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleListDates(w http.ResponseWriter, r *http.Request) {
	dates, err := s.svc.Parliament.ListDates(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dates)
}

func (s *Server) handleCreateDate(w http.ResponseWriter, r *http.Request) {
	var req parliament.DateInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest)
		return
	}
	date, err := s.svc.Parliament.CreateDate(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, date)
}

func (s *Server) handlePatchDate(w http.ResponseWriter, r *http.Request) {
	var req dateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest)
		return
	}
	date, err := s.svc.Parliament.SetDateStatus(r.Context(), chi.URLParam(r, "dateId"), req.Status)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, date)
}

func (s *Server) handleListSubjects(w http.ResponseWriter, r *http.Request) {
	subjects, err := s.svc.Parliament.Subjects(r.Context(), claimsFromContext(r.Context()), chi.URLParam(r, "dateId"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subjects)
}

func (s *Server) handleSubmitSubject(w http.ResponseWriter, r *http.Request) {
	var req parliament.SubjectInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest)
		return
	}
	subject, err := s.svc.Parliament.Submit(r.Context(), claimsFromContext(r.Context()), chi.URLParam(r, "dateId"), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, subject)
}

func (s *Server) handleApproveSubject(w http.ResponseWriter, r *http.Request) {
	subject, err := s.svc.Parliament.Approve(r.Context(), claimsFromContext(r.Context()), chi.URLParam(r, "subjectId"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subject)
}

func (s *Server) handleRejectSubject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest)
		return
	}
	subject, err := s.svc.Parliament.Reject(r.Context(), claimsFromContext(r.Context()), chi.URLParam(r, "subjectId"), req.Reason)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subject)
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := s.svc.Parliament.Notes(r.Context(), claimsFromContext(r.Context()), chi.URLParam(r, "subjectId"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (s *Server) handleAddNote(w http.ResponseWriter, r *http.Request) {
	var req parliament.NoteInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest)
		return
	}
	note, err := s.svc.Parliament.AddNote(r.Context(), claimsFromContext(r.Context()), chi.URLParam(r, "subjectId"), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Parliament.DeleteNote(r.Context(), claimsFromContext(r.Context()), chi.URLParam(r, "noteId")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
