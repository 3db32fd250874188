package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"schoolboard/internal/apperr"
	"schoolboard/internal/classes"
)

type studentIDsRequest struct {
	StudentIDs []string `json:"studentIds"`
	// Override adds students even when they already attend another lesson of
	// the same subject. Only lesson rosters use it.
	Override bool `json:"override,omitempty"`
}

type resolveRequest struct {
	Refs []string `json:"refs"`
}

func (s *Server) handleListClasses(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Classes.List(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateClass(w http.ResponseWriter, r *http.Request) {
	var req classes.CreateInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest)
		return
	}
	class, err := s.svc.Classes.Create(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, class)
}

func (s *Server) handleGetClass(w http.ResponseWriter, r *http.Request) {
	class, err := s.svc.Classes.Get(r.Context(), chi.URLParam(r, "classRef"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, class)
}

func (s *Server) handlePatchClass(w http.ResponseWriter, r *http.Request) {
	var req classes.UpdateInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest)
		return
	}
	class, err := s.svc.Classes.Update(r.Context(), chi.URLParam(r, "classRef"), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, class)
}

func (s *Server) handleDeleteClass(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Classes.Delete(r.Context(), chi.URLParam(r, "classRef")); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleResolveClasses maps class references of either form to display labels.
func (s *Server) handleResolveClasses(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest)
		return
	}
	labels, err := s.svc.Classes.Resolve(r.Context(), req.Refs)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"labels": labels})
}

func (s *Server) handleAddClassStudents(w http.ResponseWriter, r *http.Request) {
	var req studentIDsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest)
		return
	}
	result, err := s.svc.Roster.AddToClass(r.Context(), chi.URLParam(r, "classRef"), req.StudentIDs)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRemoveClassStudent(w http.ResponseWriter, r *http.Request) {
	err := s.svc.Roster.RemoveFromClass(r.Context(), chi.URLParam(r, "classRef"), []string{chi.URLParam(r, "studentId")})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
