// Package lessons manages lesson records. A lesson is taught either by a
// teacher or by a designated student-teacher, never both.
package lessons

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"schoolboard/internal/apperr"
	"schoolboard/internal/events"
	"schoolboard/internal/model"
	"schoolboard/internal/roster"
	"schoolboard/internal/store"
	"schoolboard/internal/textnorm"
	"schoolboard/internal/validate"
)

const (
	ErrLessonNotFound   = "lesson_not_found"
	ErrTeacherNotFound  = "teacher_not_found"
	ErrNotATeacher      = "not_a_teacher"
	ErrNotAStudent      = "not_a_student"
	ErrTeacherRequired  = "teacher_or_student_teacher_required"
	ErrTeacherAmbiguous = "teacher_and_student_teacher_exclusive"
)

type Backend interface {
	store.Lessons
	GetUser(ctx context.Context, id string) (model.User, error)
}

// Enroller applies the roster checks to students added to a lesson.
type Enroller interface {
	AddToLesson(ctx context.Context, lessonID string, studentIDs []string, override bool) (roster.Result, error)
}

type Service struct {
	store  Backend
	roster Enroller
	events events.Publisher
	log    *zap.Logger
}

func NewService(backend Backend, enroller Enroller, pub events.Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: backend, roster: enroller, events: pub, log: log}
}

type Input struct {
	Name                 string   `json:"name" validate:"notblank"`
	TeacherUserID        string   `json:"teacherUserId,omitempty"`
	IsStudentTeacher     bool     `json:"isStudentTeacher"`
	StudentTeacherUserID string   `json:"studentTeacherUserId,omitempty"`
	StudentsUserIDs      []string `json:"studentsUserIds,omitempty"`
}

// Created is a new lesson plus the initial students the roster refused.
type Created struct {
	model.Lesson
	Skipped []roster.Skip `json:"skipped"`
}

// UpdateInput carries no students; rosters change through the roster endpoints.
type UpdateInput struct {
	Name                 *string `json:"name,omitempty" validate:"omitempty,notblank"`
	TeacherUserID        *string `json:"teacherUserId,omitempty"`
	IsStudentTeacher     *bool   `json:"isStudentTeacher,omitempty"`
	StudentTeacherUserID *string `json:"studentTeacherUserId,omitempty"`
}

func (s *Service) List(ctx context.Context) ([]model.Lesson, error) {
	return s.store.ListLessons(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (model.Lesson, error) {
	lesson, err := s.store.GetLesson(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Lesson{}, apperr.NotFound(ErrLessonNotFound)
	}
	return lesson, err
}

// Create stores the lesson with an empty roster, then enrols the initial
// students through the roster checks. Refused students are reported, not fatal.
func (s *Service) Create(ctx context.Context, in Input) (Created, error) {
	if err := validate.Struct(in); err != nil {
		return Created{}, err
	}
	lesson := model.Lesson{
		Name:                 textnorm.Clean(in.Name),
		TeacherUserID:        in.TeacherUserID,
		IsStudentTeacher:     in.IsStudentTeacher,
		StudentTeacherUserID: in.StudentTeacherUserID,
	}
	if err := s.assignTeacher(ctx, &lesson); err != nil {
		return Created{}, err
	}
	created, err := s.store.CreateLesson(ctx, lesson)
	if err != nil {
		return Created{}, err
	}
	s.notify(ctx, created.ID, "create")

	out := Created{Lesson: created, Skipped: []roster.Skip{}}
	if len(in.StudentsUserIDs) == 0 {
		return out, nil
	}
	result, err := s.roster.AddToLesson(ctx, created.ID, in.StudentsUserIDs, false)
	if err != nil {
		return Created{}, err
	}
	out.Skipped = result.Skipped
	if out.Lesson, err = s.store.GetLesson(ctx, created.ID); err != nil {
		return Created{}, err
	}
	return out, nil
}

func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (model.Lesson, error) {
	if err := validate.Struct(in); err != nil {
		return model.Lesson{}, err
	}
	lesson, err := s.Get(ctx, id)
	if err != nil {
		return model.Lesson{}, err
	}
	if in.Name != nil {
		lesson.Name = textnorm.Clean(*in.Name)
	}
	if in.IsStudentTeacher != nil {
		lesson.IsStudentTeacher = *in.IsStudentTeacher
	}
	if in.TeacherUserID != nil {
		lesson.TeacherUserID = *in.TeacherUserID
	}
	if in.StudentTeacherUserID != nil {
		lesson.StudentTeacherUserID = *in.StudentTeacherUserID
	}
	// Switching mode drops the other side's assignment unless it was sent too.
	if in.IsStudentTeacher != nil {
		if lesson.IsStudentTeacher && in.TeacherUserID == nil {
			lesson.TeacherUserID = ""
		}
		if !lesson.IsStudentTeacher && in.StudentTeacherUserID == nil {
			lesson.StudentTeacherUserID = ""
		}
	}
	if err := s.assignTeacher(ctx, &lesson); err != nil {
		return model.Lesson{}, err
	}
	updated, err := s.store.UpdateLesson(ctx, lesson)
	if errors.Is(err, store.ErrNotFound) {
		return model.Lesson{}, apperr.NotFound(ErrLessonNotFound)
	}
	if err != nil {
		return model.Lesson{}, err
	}
	s.notify(ctx, updated.ID, "update")
	return updated, nil
}

// Delete removes the lesson together with its timetable entries.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteLesson(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound(ErrLessonNotFound)
		}
		return err
	}
	s.notify(ctx, id, "delete")
	events.Notify(ctx, s.events, s.log, events.Event{Collection: events.CollectionTimetable, ID: id, Op: "delete"})
	return nil
}

// assignTeacher enforces teacher xor student-teacher and copies the teacher's
// name onto the lesson.
func (s *Service) assignTeacher(ctx context.Context, lesson *model.Lesson) error {
	if lesson.IsStudentTeacher {
		if lesson.TeacherUserID != "" {
			return apperr.BadRequest(ErrTeacherAmbiguous)
		}
		if lesson.StudentTeacherUserID == "" {
			return apperr.BadRequest(ErrTeacherRequired)
		}
		user, err := s.user(ctx, lesson.StudentTeacherUserID)
		if err != nil {
			return err
		}
		if user.Role != model.RoleStudent {
			return apperr.BadRequest(ErrNotAStudent)
		}
		lesson.TeacherFirstName, lesson.TeacherLastName = "", ""
		return nil
	}

	if lesson.StudentTeacherUserID != "" {
		return apperr.BadRequest(ErrTeacherAmbiguous)
	}
	if lesson.TeacherUserID == "" {
		return apperr.BadRequest(ErrTeacherRequired)
	}
	user, err := s.user(ctx, lesson.TeacherUserID)
	if err != nil {
		return err
	}
	if user.Role != model.RoleTeacher && user.Role != model.RoleAdmin {
		return apperr.BadRequest(ErrNotATeacher)
	}
	lesson.TeacherFirstName, lesson.TeacherLastName = user.FirstName, user.LastName
	return nil
}

func (s *Service) user(ctx context.Context, id string) (model.User, error) {
	user, err := s.store.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.User{}, apperr.NotFound(ErrTeacherNotFound)
	}
	return user, err
}

func (s *Service) notify(ctx context.Context, id, op string) {
	events.Notify(ctx, s.events, s.log, events.Event{Collection: events.CollectionLessons, ID: id, Op: op})
}
