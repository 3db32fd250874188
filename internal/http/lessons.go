package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"schoolboard/internal/apperr"
	"schoolboard/internal/lessonname"
	"schoolboard/internal/lessons"
	"schoolboard/internal/validate"
)

type moveLevelRequest struct {
	FromLessonID   string   `json:"fromLessonId" validate:"required"`
	ToLevel        int      `json:"toLevel" validate:"min=0"`
	TargetLessonID string   `json:"targetLessonId,omitempty"`
	StudentIDs     []string `json:"studentIds,omitempty"`
}

func (s *Server) handleListLessons(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Lessons.List(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateLesson(w http.ResponseWriter, r *http.Request) {
	var req lessons.Input
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest)
		return
	}
	lesson, err := s.svc.Lessons.Create(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, lesson)
}

func (s *Server) handleGetLesson(w http.ResponseWriter, r *http.Request) {
	lesson, err := s.svc.Lessons.Get(r.Context(), chi.URLParam(r, "lessonId"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lesson)
}

func (s *Server) handlePatchLesson(w http.ResponseWriter, r *http.Request) {
	var req lessons.UpdateInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest)
		return
	}
	lesson, err := s.svc.Lessons.Update(r.Context(), chi.URLParam(r, "lessonId"), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lesson)
}

func (s *Server) handleDeleteLesson(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Lessons.Delete(r.Context(), chi.URLParam(r, "lessonId")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddLessonStudents(w http.ResponseWriter, r *http.Request) {
	var req studentIDsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest)
		return
	}
	result, err := s.svc.Roster.AddToLesson(r.Context(), chi.URLParam(r, "lessonId"), req.StudentIDs, req.Override)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRemoveLessonStudent(w http.ResponseWriter, r *http.Request) {
	err := s.svc.Roster.RemoveFromLesson(r.Context(), chi.URLParam(r, "lessonId"), []string{chi.URLParam(r, "studentId")})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLessonLevels(w http.ResponseWriter, r *http.Request) {
	groups, err := s.svc.Roster.Levels(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleMoveLevel(w http.ResponseWriter, r *http.Request) {
	var req moveLevelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		s.respondError(w, r, err)
		return
	}
	result, err := s.svc.Roster.Move(r.Context(), lessonname.MoveRequest{
		FromLessonID:   req.FromLessonID,
		ToLevel:        req.ToLevel,
		TargetLessonID: req.TargetLessonID,
		StudentIDs:     req.StudentIDs,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
