package store

import (
	"context"
	"errors"
	"time"

	"schoolboard/internal/model"
	"schoolboard/internal/textnorm"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrUsernameTaken = errors.New("username taken")
	ErrClassIDTaken  = errors.New("class id taken")
)

type UserFilter struct {
	Role string
	IDs  []string
}

// EntryFilter selects timetable entries. ClassRefs matches the stored class reference
// against any of the given ids; Day < 0 means every day.
type EntryFilter struct {
	ClassRefs []string
	LessonID  string
	Day       int
}

func AllDays() EntryFilter {
	return EntryFilter{Day: -1}
}

type Users interface {
	CreateUser(ctx context.Context, user model.User) (model.User, error)
	GetUser(ctx context.Context, id string) (model.User, error)
	GetUserByUsername(ctx context.Context, usernameLower string) (model.User, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]model.User, error)
	UpdateUser(ctx context.Context, user model.User) (model.User, error)
	DeleteUser(ctx context.Context, id string) error
}

type Classes interface {
	CreateClass(ctx context.Context, class model.Class) (model.Class, error)
	GetClass(ctx context.Context, id string) (model.Class, error)
	// FindClassesByBusinessID matches case-folded business ids.
	FindClassesByBusinessID(ctx context.Context, classIDsLower []string) ([]model.Class, error)
	FindClassesByID(ctx context.Context, ids []string) ([]model.Class, error)
	ListClasses(ctx context.Context) ([]model.Class, error)
	// UpdateClass also re-points timetable entries and user profiles that hold
	// the previous business id when the business id changes.
	UpdateClass(ctx context.Context, class model.Class) (model.Class, error)
	// DeleteClass also removes the timetable entries that reference the class by either id.
	DeleteClass(ctx context.Context, id string) error
	AddClassStudents(ctx context.Context, id string, studentIDs []string) error
	RemoveClassStudents(ctx context.Context, id string, studentIDs []string) error
}

type Lessons interface {
	CreateLesson(ctx context.Context, lesson model.Lesson) (model.Lesson, error)
	GetLesson(ctx context.Context, id string) (model.Lesson, error)
	ListLessons(ctx context.Context) ([]model.Lesson, error)
	FindLessonsByID(ctx context.Context, ids []string) ([]model.Lesson, error)
	UpdateLesson(ctx context.Context, lesson model.Lesson) (model.Lesson, error)
	// DeleteLesson also removes the lesson's timetable entries.
	DeleteLesson(ctx context.Context, id string) error
	AddLessonStudents(ctx context.Context, id string, studentIDs []string) error
	RemoveLessonStudents(ctx context.Context, id string, studentIDs []string) error
	// MoveLessonStudents removes ids from one lesson and adds them to another in one step.
	MoveLessonStudents(ctx context.Context, fromID, toID string, studentIDs []string) error
	CountLessonsWithStudent(ctx context.Context, userID string) (int, error)
}

type Timetable interface {
	ListEntries(ctx context.Context, filter EntryFilter) ([]model.TimetableEntry, error)
	// ApplyTimetableBatch applies deletes, then updates, then creates, all or nothing.
	// A missing delete/update target or a create overlapping an existing entry of
	// its own class yields ErrConflict and nothing is written. A create whose class
	// is one of classRefs is checked against every form in classRefs.
	ApplyTimetableBatch(ctx context.Context, classRefs []string, batch model.TimetableBatch) error
}

type Announcements interface {
	CreateAnnouncement(ctx context.Context, a model.Announcement) (model.Announcement, error)
	GetAnnouncement(ctx context.Context, id string) (model.Announcement, error)
	ListAnnouncements(ctx context.Context) ([]model.Announcement, error)
	UpdateAnnouncement(ctx context.Context, a model.Announcement) (model.Announcement, error)
	DeleteAnnouncement(ctx context.Context, id string) error
	DeleteAnnouncementsEndedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Parliament interface {
	CreateParliamentDate(ctx context.Context, d model.ParliamentDate) (model.ParliamentDate, error)
	GetParliamentDate(ctx context.Context, id string) (model.ParliamentDate, error)
	ListParliamentDates(ctx context.Context) ([]model.ParliamentDate, error)
	UpdateParliamentDate(ctx context.Context, d model.ParliamentDate) (model.ParliamentDate, error)

	CreateSubject(ctx context.Context, s model.ParliamentSubject) (model.ParliamentSubject, error)
	GetSubject(ctx context.Context, id string) (model.ParliamentSubject, error)
	ListSubjects(ctx context.Context, dateID string) ([]model.ParliamentSubject, error)
	UpdateSubject(ctx context.Context, s model.ParliamentSubject) (model.ParliamentSubject, error)

	CreateNote(ctx context.Context, n model.ParliamentNote) (model.ParliamentNote, error)
	GetNote(ctx context.Context, id string) (model.ParliamentNote, error)
	ListNotes(ctx context.Context, subjectID string) ([]model.ParliamentNote, error)
	// DeleteNote removes the note and its replies.
	DeleteNote(ctx context.Context, id string) error
}

// Store is the persistence contract shared by the Postgres and in-memory backends.
// Implementations are safe for concurrent use.
type Store interface {
	Users
	Classes
	Lessons
	Timetable
	Announcements
	Parliament
	Ping(ctx context.Context) error
	Close()
}

// Overlaps reports whether two half-open minute intervals on the same day intersect.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}

// ConflictScope returns the class references a create for classID must not overlap.
func ConflictScope(classRefs []string, classID string) []string {
	folded := textnorm.Fold(classID)
	for _, ref := range classRefs {
		if textnorm.Fold(ref) == folded {
			return classRefs
		}
	}
	return []string{classID}
}

// Chunk splits values into slices of at most size elements.
func Chunk(values []string, size int) [][]string {
	if len(values) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(values)
	}
	out := make([][]string, 0, (len(values)+size-1)/size)
	for start := 0; start < len(values); start += size {
		end := start + size
		if end > len(values) {
			end = len(values)
		}
		out = append(out, values[start:end])
	}
	return out
}
