package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"schoolboard/internal/accounts"
	"schoolboard/internal/announcements"
	"schoolboard/internal/apperr"
	"schoolboard/internal/auth"
	"schoolboard/internal/classes"
	"schoolboard/internal/config"
	"schoolboard/internal/events"
	"schoolboard/internal/lessons"
	"schoolboard/internal/live"
	"schoolboard/internal/metrics"
	"schoolboard/internal/model"
	"schoolboard/internal/parliament"
	"schoolboard/internal/roster"
	"schoolboard/internal/store"
	"schoolboard/internal/timetable"
)

// Services are the domain services the API exposes.
type Services struct {
	Accounts      *accounts.Service
	Classes       *classes.Service
	Lessons       *lessons.Service
	Roster        *roster.Service
	Timetable     *timetable.Service
	Aggregator    *live.Aggregator
	Clock         live.Clock
	ClockOverride live.OverrideStore
	Hub           *live.Hub
	Announcements *announcements.Service
	Parliament    *parliament.Service
}

type Server struct {
	cfg      config.Config
	store    store.Store
	svc      Services
	events   events.Publisher
	metrics  *metrics.Metrics
	log      *zap.Logger
	location *time.Location
	now      func() time.Time
}

func NewServer(cfg config.Config, st store.Store, svc Services, pub events.Publisher, m *metrics.Metrics, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	loc, err := time.LoadLocation(cfg.SchoolTimezone)
	if err != nil {
		log.Warn("unknown school timezone, using UTC", zap.String("timezone", cfg.SchoolTimezone), zap.Error(err))
		loc = time.UTC
	}
	return &Server{
		cfg:      cfg,
		store:    st,
		svc:      svc,
		events:   pub,
		metrics:  m,
		log:      log,
		location: loc,
		now:      time.Now,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	// The display stream is long-lived and stays outside the request timeout.
	r.With(s.authMiddleware).Get("/display/stream", s.handleDisplayStream)

	r.Group(func(r chi.Router) {
		if s.cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.cfg.RequestTimeout))
		}
		staff := s.requireRole(model.RoleAdmin, model.RoleTeacher)
		admin := s.requireRole(model.RoleAdmin)

		r.With(s.authMiddleware).Get("/me", s.handleMe)

		r.With(s.authMiddleware, admin).Post("/accounts", s.handleCreateAccount)
		r.With(s.authMiddleware, admin).Get("/accounts/username-available", s.handleUsernameAvailable)
		r.With(s.authMiddleware, admin).Patch("/accounts/{userId}", s.handlePatchAccount)
		r.With(s.authMiddleware, admin).Delete("/accounts/{userId}", s.handleDeleteAccount)

		r.With(s.authMiddleware, staff).Get("/users", s.handleListUsers)
		r.With(s.authMiddleware).Get("/users/{userId}", s.handleGetUser)

		r.With(s.authMiddleware).Get("/classes", s.handleListClasses)
		r.With(s.authMiddleware, admin).Post("/classes", s.handleCreateClass)
		r.With(s.authMiddleware).Post("/classes/resolve", s.handleResolveClasses)
		r.With(s.authMiddleware).Get("/classes/{classRef}", s.handleGetClass)
		r.With(s.authMiddleware, admin).Patch("/classes/{classRef}", s.handlePatchClass)
		r.With(s.authMiddleware, admin).Delete("/classes/{classRef}", s.handleDeleteClass)
		r.With(s.authMiddleware, staff).Post("/classes/{classRef}/students", s.handleAddClassStudents)
		r.With(s.authMiddleware, staff).Delete("/classes/{classRef}/students/{studentId}", s.handleRemoveClassStudent)

		r.With(s.authMiddleware).Get("/lessons", s.handleListLessons)
		r.With(s.authMiddleware, staff).Post("/lessons", s.handleCreateLesson)
		r.With(s.authMiddleware, staff).Get("/lessons/levels", s.handleLessonLevels)
		r.With(s.authMiddleware, staff).Post("/lessons/levels/move", s.handleMoveLevel)
		r.With(s.authMiddleware).Get("/lessons/{lessonId}", s.handleGetLesson)
		r.With(s.authMiddleware, staff).Patch("/lessons/{lessonId}", s.handlePatchLesson)
		r.With(s.authMiddleware, staff).Delete("/lessons/{lessonId}", s.handleDeleteLesson)
		r.With(s.authMiddleware, staff).Post("/lessons/{lessonId}/students", s.handleAddLessonStudents)
		r.With(s.authMiddleware, staff).Delete("/lessons/{lessonId}/students/{studentId}", s.handleRemoveLessonStudent)

		r.With(s.authMiddleware).Get("/timetable/slots", s.handleSlots)
		r.With(s.authMiddleware).Get("/timetable", s.handleTimetable)
		r.With(s.authMiddleware, staff).Post("/timetable/drafts", s.handleOpenDraft)
		r.With(s.authMiddleware, staff).Get("/timetable/drafts/{draftId}", s.handleGetDraft)
		r.With(s.authMiddleware, staff).Patch("/timetable/drafts/{draftId}", s.handleSelectDraft)
		r.With(s.authMiddleware, staff).Post("/timetable/drafts/{draftId}/cells", s.handleClickCell)
		r.With(s.authMiddleware, staff).Post("/timetable/drafts/{draftId}/save", s.handleSaveDraft)
		r.With(s.authMiddleware, staff).Post("/timetable/drafts/{draftId}/cancel", s.handleCancelDraft)
		r.With(s.authMiddleware, staff).Delete("/timetable/drafts/{draftId}", s.handleDiscardDraft)

		r.With(s.authMiddleware).Get("/display/now", s.handleDisplayNow)
		r.With(s.authMiddleware, admin).Put("/display/clock", s.handleSetClock)
		r.With(s.authMiddleware, admin).Delete("/display/clock", s.handleClearClock)

		r.With(s.authMiddleware, staff).Get("/announcements", s.handleListAnnouncements)
		r.With(s.authMiddleware).Get("/announcements/active", s.handleActiveAnnouncements)
		r.With(s.authMiddleware, staff).Post("/announcements", s.handleCreateAnnouncement)
		r.With(s.authMiddleware, staff).Patch("/announcements/{id}", s.handlePatchAnnouncement)
		r.With(s.authMiddleware, staff).Delete("/announcements/{id}", s.handleDeleteAnnouncement)
		r.With(s.authMiddleware).Get("/birthdays/today", s.handleBirthdays)

		r.With(s.authMiddleware).Get("/parliament/dates", s.handleListDates)
		r.With(s.authMiddleware, staff).Post("/parliament/dates", s.handleCreateDate)
		r.With(s.authMiddleware, staff).Patch("/parliament/dates/{dateId}", s.handlePatchDate)
		r.With(s.authMiddleware).Get("/parliament/dates/{dateId}/subjects", s.handleListSubjects)
		r.With(s.authMiddleware).Post("/parliament/dates/{dateId}/subjects", s.handleSubmitSubject)
		r.With(s.authMiddleware, staff).Post("/parliament/subjects/{subjectId}/approve", s.handleApproveSubject)
		r.With(s.authMiddleware, staff).Post("/parliament/subjects/{subjectId}/reject", s.handleRejectSubject)
		r.With(s.authMiddleware).Get("/parliament/subjects/{subjectId}/notes", s.handleListNotes)
		r.With(s.authMiddleware).Post("/parliament/subjects/{subjectId}/notes", s.handleAddNote)
		r.With(s.authMiddleware).Delete("/parliament/notes/{noteId}", s.handleDeleteNote)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Middleware

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		s.metrics.ObserveRequest(r.Method, route, status, elapsed)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// Auth

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		// Browsers cannot set headers on a websocket handshake.
		if token == "" && websocket.IsWebSocketUpgrade(r) {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

func (s *Server) requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !claimsFromContext(r.Context()).HasRole(roles...) {
				writeError(w, http.StatusForbidden, apperr.CodeForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Helpers

type errorResponse struct {
	Error  string              `json:"error"`
	Fields map[string]string   `json:"fields,omitempty"`
	Cells  []timetable.CellKey `json:"cells,omitempty"`
}

// respondError maps domain errors to status codes. Anything unrecognised is
// logged and reported as server_error.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *timetable.ConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, errorResponse{Error: timetable.ErrTimetableConflict, Cells: conflict.Cells})
		return
	}
	if appErr, ok := apperr.As(err); ok {
		writeJSON(w, appErr.Status, errorResponse{Error: appErr.Code, Fields: appErr.Fields})
		return
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, apperr.CodeNotFound)
	case errors.Is(err, store.ErrUsernameTaken):
		writeError(w, http.StatusConflict, accounts.ErrUsernameTaken)
	case errors.Is(err, store.ErrClassIDTaken):
		writeError(w, http.StatusConflict, classes.ErrClassIDTaken)
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, apperr.CodeConflict)
	case errors.Is(err, live.ErrInvalidMoment):
		writeError(w, http.StatusBadRequest, live.ErrInvalidMoment.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout")
	default:
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, apperr.CodeServerError)
	}
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
