// Package roster manages which students belong to lessons and classes.
package roster

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"schoolboard/internal/apperr"
	"schoolboard/internal/events"
	"schoolboard/internal/lessonname"
	"schoolboard/internal/metrics"
	"schoolboard/internal/model"
	"schoolboard/internal/resolver"
	"schoolboard/internal/store"
	"schoolboard/internal/textnorm"
)

const (
	SkipAlreadyMember       = "already_member"
	SkipSameSubjectConflict = "same_subject_conflict"
	SkipUnknownStudent      = "unknown_student"
	SkipNotAStudent         = "not_a_student"
)

const (
	ErrLessonNotFound = "lesson_not_found"
	ErrClassNotFound  = "class_not_found"
	ErrNoStudents     = "no_students"
)

type Skip struct {
	StudentID string `json:"studentId"`
	Reason    string `json:"reason"`
}

// Result reports a bulk membership change. A bulk call never fails because of a
// single student; those are listed in Skipped.
type Result struct {
	Added   []string `json:"added"`
	Skipped []Skip   `json:"skipped"`
}

type MoveResult struct {
	Moved   []lessonname.Move `json:"moved"`
	Skipped []Skip            `json:"skipped"`
}

type Backend interface {
	store.Lessons
	resolver.ClassFinder
	AddClassStudents(ctx context.Context, id string, studentIDs []string) error
	RemoveClassStudents(ctx context.Context, id string, studentIDs []string) error
	ListUsers(ctx context.Context, filter store.UserFilter) ([]model.User, error)
}

type Service struct {
	store    Backend
	resolver *resolver.Resolver
	metrics  *metrics.Metrics
	events   events.Publisher
	log      *zap.Logger
}

func NewService(backend Backend, res *resolver.Resolver, m *metrics.Metrics, pub events.Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: backend, resolver: res, metrics: m, events: pub, log: log}
}

// AddToLesson adds students to a lesson. A student already enrolled in another
// lesson of the same base subject is skipped unless override is set.
func (s *Service) AddToLesson(ctx context.Context, lessonID string, studentIDs []string, override bool) (Result, error) {
	if len(studentIDs) == 0 {
		return Result{}, apperr.BadRequest(ErrNoStudents)
	}
	lesson, err := s.store.GetLesson(ctx, lessonID)
	if err != nil {
		return Result{}, lessonErr(err)
	}
	students, err := s.students(ctx, studentIDs)
	if err != nil {
		return Result{}, err
	}

	var siblings []model.Lesson
	if !override {
		all, err := s.store.ListLessons(ctx)
		if err != nil {
			return Result{}, err
		}
		base := textnorm.Fold(lessonname.Parse(lesson.Name).Base)
		for _, other := range all {
			if other.ID != lesson.ID && textnorm.Fold(lessonname.Parse(other.Name).Base) == base {
				siblings = append(siblings, other)
			}
		}
	}

	result := Result{Added: []string{}, Skipped: []Skip{}}
	for _, id := range dedupe(studentIDs) {
		reason := s.studentSkip(students, id)
		if reason == "" && lesson.HasStudent(id) {
			reason = SkipAlreadyMember
		}
		if reason == "" {
			for _, sibling := range siblings {
				if sibling.HasStudent(id) {
					reason = SkipSameSubjectConflict
					break
				}
			}
		}
		if reason != "" {
			result.Skipped = append(result.Skipped, Skip{StudentID: id, Reason: reason})
			s.metrics.RosterSkip(reason)
			continue
		}
		result.Added = append(result.Added, id)
	}
	if len(result.Added) > 0 {
		if err := s.store.AddLessonStudents(ctx, lesson.ID, result.Added); err != nil {
			return Result{}, lessonErr(err)
		}
		events.Notify(ctx, s.events, s.log, events.Event{Collection: events.CollectionLessons, ID: lesson.ID, Op: "update"})
	}
	return result, nil
}

func (s *Service) RemoveFromLesson(ctx context.Context, lessonID string, studentIDs []string) error {
	if err := s.store.RemoveLessonStudents(ctx, lessonID, studentIDs); err != nil {
		return lessonErr(err)
	}
	events.Notify(ctx, s.events, s.log, events.Event{Collection: events.CollectionLessons, ID: lessonID, Op: "update"})
	return nil
}

// AddToClass adds students to a class referenced by document id or business id.
func (s *Service) AddToClass(ctx context.Context, classRef string, studentIDs []string) (Result, error) {
	if len(studentIDs) == 0 {
		return Result{}, apperr.BadRequest(ErrNoStudents)
	}
	class, err := s.class(ctx, classRef)
	if err != nil {
		return Result{}, err
	}
	students, err := s.students(ctx, studentIDs)
	if err != nil {
		return Result{}, err
	}
	members := map[string]bool{}
	for _, id := range class.StudentIDs {
		members[id] = true
	}

	result := Result{Added: []string{}, Skipped: []Skip{}}
	for _, id := range dedupe(studentIDs) {
		reason := s.studentSkip(students, id)
		if reason == "" && members[id] {
			reason = SkipAlreadyMember
		}
		if reason != "" {
			result.Skipped = append(result.Skipped, Skip{StudentID: id, Reason: reason})
			s.metrics.RosterSkip(reason)
			continue
		}
		result.Added = append(result.Added, id)
	}
	if len(result.Added) > 0 {
		if err := s.store.AddClassStudents(ctx, class.ID, result.Added); err != nil {
			return Result{}, classErr(err)
		}
		events.Notify(ctx, s.events, s.log, events.Event{Collection: events.CollectionClasses, ID: class.ID, Op: "update"})
	}
	return result, nil
}

func (s *Service) RemoveFromClass(ctx context.Context, classRef string, studentIDs []string) error {
	class, err := s.class(ctx, classRef)
	if err != nil {
		return err
	}
	if err := s.store.RemoveClassStudents(ctx, class.ID, studentIDs); err != nil {
		return classErr(err)
	}
	events.Notify(ctx, s.events, s.log, events.Event{Collection: events.CollectionClasses, ID: class.ID, Op: "update"})
	return nil
}

// Levels groups every lesson by base subject for the level-move screen.
func (s *Service) Levels(ctx context.Context) ([]lessonname.LevelGroup, error) {
	lessons, err := s.store.ListLessons(ctx)
	if err != nil {
		return nil, err
	}
	return lessonname.GroupByBase(lessons), nil
}

// Move relocates students from one lesson to a lesson of another level in the
// same base group. Without a target lesson each student goes to the least
// loaded lesson of the destination level.
func (s *Service) Move(ctx context.Context, req lessonname.MoveRequest) (MoveResult, error) {
	groups, err := s.Levels(ctx)
	if err != nil {
		return MoveResult{}, err
	}
	var group *lessonname.LevelGroup
	for i := range groups {
		if _, ok := groups[i].Lesson(req.FromLessonID); ok {
			group = &groups[i]
			break
		}
	}
	if group == nil {
		return MoveResult{}, apperr.NotFound(ErrLessonNotFound)
	}

	moves, skips, err := lessonname.PlanMove(*group, req)
	switch {
	case errors.Is(err, lessonname.ErrTargetNotInLevel), errors.Is(err, lessonname.ErrEmptyLevel),
		errors.Is(err, lessonname.ErrSameLesson), errors.Is(err, lessonname.ErrSourceNotInGroup):
		return MoveResult{}, apperr.BadRequest(err.Error())
	case err != nil:
		return MoveResult{}, err
	}

	result := MoveResult{Moved: []lessonname.Move{}, Skipped: []Skip{}}
	for _, skip := range skips {
		result.Skipped = append(result.Skipped, Skip{StudentID: skip.StudentID, Reason: skip.Reason})
		s.metrics.RosterSkip(skip.Reason)
	}

	byTarget := map[string][]string{}
	var targets []string
	for _, move := range moves {
		if _, ok := byTarget[move.ToLessonID]; !ok {
			targets = append(targets, move.ToLessonID)
		}
		byTarget[move.ToLessonID] = append(byTarget[move.ToLessonID], move.StudentID)
	}
	for _, target := range targets {
		if err := s.store.MoveLessonStudents(ctx, req.FromLessonID, target, byTarget[target]); err != nil {
			s.log.Error("lesson move failed", zap.String("from", req.FromLessonID), zap.String("to", target), zap.Error(err))
			return result, lessonErr(err)
		}
		for _, move := range moves {
			if move.ToLessonID == target {
				result.Moved = append(result.Moved, move)
			}
		}
		events.Notify(ctx, s.events, s.log, events.Event{Collection: events.CollectionLessons, ID: target, Op: "update"})
	}
	if len(moves) > 0 {
		events.Notify(ctx, s.events, s.log, events.Event{Collection: events.CollectionLessons, ID: req.FromLessonID, Op: "update"})
	}
	return result, nil
}

func (s *Service) class(ctx context.Context, classRef string) (model.Class, error) {
	labels, err := s.resolver.Resolve(ctx, []string{classRef})
	if err != nil {
		return model.Class{}, err
	}
	class, ok := labels.Class(classRef)
	if !ok {
		return model.Class{}, apperr.NotFound(ErrClassNotFound)
	}
	return class, nil
}

func (s *Service) students(ctx context.Context, ids []string) (map[string]model.User, error) {
	users, err := s.store.ListUsers(ctx, store.UserFilter{IDs: dedupe(ids)})
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.User, len(users))
	for _, user := range users {
		out[user.ID] = user
	}
	return out, nil
}

func (s *Service) studentSkip(users map[string]model.User, id string) string {
	user, ok := users[id]
	switch {
	case !ok:
		return SkipUnknownStudent
	case user.Role != model.RoleStudent:
		return SkipNotAStudent
	}
	return ""
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func lessonErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(ErrLessonNotFound)
	}
	return err
}

func classErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(ErrClassNotFound)
	}
	return err
}
