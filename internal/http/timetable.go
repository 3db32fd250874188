package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"schoolboard/internal/apperr"
	"schoolboard/internal/timetable"
)

type openDraftRequest struct {
	ClassID  string `json:"classId"`
	LessonID string `json:"lessonId,omitempty"`
}

type selectDraftRequest struct {
	ClassID  *string `json:"classId,omitempty"`
	LessonID *string `json:"lessonId,omitempty"`
}

type selectDraftResponse struct {
	*timetable.View
	// Dropped counts staged changes discarded by the new selection.
	Dropped int `json:"dropped"`
}

type clickResponse struct {
	*timetable.View
	Action timetable.Action `json:"action"`
}

type saveResponse struct {
	Result timetable.SaveResult `json:"result"`
	View   *timetable.View      `json:"view"`
}

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Timetable.Schedule())
}

// handleTimetable lists committed entries. classId may be either id form; day
// is optional.
func (s *Server) handleTimetable(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	day := -1
	if raw := query.Get("day"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 || parsed > 6 {
			writeError(w, http.StatusBadRequest, "invalid_day")
			return
		}
		day = parsed
	}
	entries, err := s.svc.Timetable.Entries(r.Context(), query.Get("classId"), day)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleOpenDraft(w http.ResponseWriter, r *http.Request) {
	var req openDraftRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest)
		return
	}
	view, err := s.svc.Timetable.Open(r.Context(), claimsFromContext(r.Context()).UserID, req.ClassID, req.LessonID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Timetable.Get(r.Context(), claimsFromContext(r.Context()).UserID, chi.URLParam(r, "draftId"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSelectDraft(w http.ResponseWriter, r *http.Request) {
	var req selectDraftRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest)
		return
	}
	view, dropped, err := s.svc.Timetable.Select(r.Context(), claimsFromContext(r.Context()).UserID, chi.URLParam(r, "draftId"), req.ClassID, req.LessonID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, selectDraftResponse{View: view, Dropped: dropped})
}

func (s *Server) handleClickCell(w http.ResponseWriter, r *http.Request) {
	var cell timetable.CellKey
	if err := decodeJSON(r, &cell); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest)
		return
	}
	view, action, err := s.svc.Timetable.Click(r.Context(), claimsFromContext(r.Context()).UserID, chi.URLParam(r, "draftId"), cell)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clickResponse{View: view, Action: action})
}

func (s *Server) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	result, view, err := s.svc.Timetable.Save(r.Context(), claimsFromContext(r.Context()).UserID, chi.URLParam(r, "draftId"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saveResponse{Result: result, View: view})
}

func (s *Server) handleCancelDraft(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Timetable.Cancel(r.Context(), claimsFromContext(r.Context()).UserID, chi.URLParam(r, "draftId"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDiscardDraft(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Timetable.Discard(r.Context(), claimsFromContext(r.Context()).UserID, chi.URLParam(r, "draftId")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
