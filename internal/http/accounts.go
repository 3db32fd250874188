package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"schoolboard/internal/accounts"
	"schoolboard/internal/apperr"
	"schoolboard/internal/model"
	"schoolboard/internal/store"
)

type meResponse struct {
	UserID   string      `json:"userId"`
	Username string      `json:"username"`
	Role     string      `json:"role"`
	Profile  *model.User `json:"profile,omitempty"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	resp := meResponse{UserID: claims.UserID, Username: claims.Username, Role: claims.Role}
	profile, err := s.store.GetUser(r.Context(), claims.UserID)
	switch {
	case err == nil:
		resp.Profile = &profile
	case !isNotFound(err):
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Accounts

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accounts.CreateInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest)
		return
	}
	user, err := s.svc.Accounts.Create(r.Context(), claimsFromContext(r.Context()), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handlePatchAccount(w http.ResponseWriter, r *http.Request) {
	var req accounts.UpdateInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperr.CodeInvalidRequest)
		return
	}
	user, err := s.svc.Accounts.Update(r.Context(), claimsFromContext(r.Context()), chi.URLParam(r, "userId"), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.Accounts.Delete(r.Context(), claimsFromContext(r.Context()), chi.URLParam(r, "userId"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUsernameAvailable(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	if username == "" {
		writeError(w, http.StatusBadRequest, "missing_username")
		return
	}
	available, err := s.svc.Accounts.UsernameAvailable(r.Context(), username)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"available": available})
}

// Users

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	users, err := s.store.ListUsers(r.Context(), store.UserFilter{Role: query.Get("role")})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if classRef := query.Get("classId"); classRef != "" {
		class, err := s.svc.Classes.Get(r.Context(), classRef)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		users = usersInClass(users, class)
	}
	writeJSON(w, http.StatusOK, users)
}

// handleGetUser lets staff read any profile and everyone else only their own.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	userID := chi.URLParam(r, "userId")
	if userID != claims.UserID && !claims.HasRole(model.RoleAdmin, model.RoleTeacher) {
		writeError(w, http.StatusForbidden, apperr.CodeForbidden)
		return
	}
	user, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, accounts.ErrUserNotFound)
			return
		}
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// usersInClass keeps users assigned to class by any of the profile's class
// fields or by the class roster.
func usersInClass(users []model.User, class model.Class) []model.User {
	roster := make(map[string]bool, len(class.StudentIDs))
	for _, id := range class.StudentIDs {
		roster[id] = true
	}
	out := make([]model.User, 0, len(users))
	for _, user := range users {
		switch {
		case roster[user.ID],
			user.ClassDocID == class.ID,
			user.ClassID != "" && strings.EqualFold(user.ClassID, class.ClassID),
			user.ClassID == class.ID,
			contains(user.Classes, class.ID),
			contains(user.Classes, class.ClassID):
			out = append(out, user)
		}
	}
	return out
}

func contains(values []string, target string) bool {
	if target == "" {
		return false
	}
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
