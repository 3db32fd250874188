// Package live answers "what is happening right now" for the signage display and
// streams the answer to connected screens.
package live

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"schoolboard/internal/model"
	"schoolboard/internal/resolver"
	"schoolboard/internal/slots"
	"schoolboard/internal/store"
	"schoolboard/internal/textnorm"
)

const (
	RosterFromLesson    = "lesson"
	RosterFromClassList = "class"
	RosterFromClass     = "class_profile"
)

type Backend interface {
	resolver.ClassFinder
	ListLessons(ctx context.Context) ([]model.Lesson, error)
	ListEntries(ctx context.Context, filter store.EntryFilter) ([]model.TimetableEntry, error)
	ListUsers(ctx context.Context, filter store.UserFilter) ([]model.User, error)
}

type Student struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type LiveLesson struct {
	EntryID      string    `json:"entryId"`
	LessonID     string    `json:"lessonId"`
	LessonName   string    `json:"lessonName"`
	TeacherName  string    `json:"teacherName,omitempty"`
	ClassRef     string    `json:"classRef"`
	ClassID      string    `json:"classId,omitempty"`
	ClassLabel   string    `json:"classLabel"`
	Location     string    `json:"location,omitempty"`
	StartMinutes int       `json:"startMinutes"`
	EndMinutes   int       `json:"endMinutes"`
	Start        string    `json:"start"`
	End          string    `json:"end"`
	RosterSource string    `json:"rosterSource"`
	Students     []Student `json:"students"`
}

type LiveClass struct {
	ClassID  string   `json:"classId"`
	Label    string   `json:"label"`
	Location string   `json:"location,omitempty"`
	EntryIDs []string `json:"entryIds"`
	Resolved bool     `json:"resolved"`
}

type Snapshot struct {
	Day       int          `json:"day"`
	Minute    int          `json:"minute"`
	Clock     string       `json:"clock"`
	Simulated bool         `json:"simulated"`
	Lessons   []LiveLesson `json:"lessons"`
	Classes   []LiveClass  `json:"classes"`
}

// IsLive reports whether entry is in session: same day and start <= minute < end.
func IsLive(entry model.TimetableEntry, day, minute int) bool {
	return entry.Day == day && entry.StartMinutes <= minute && minute < entry.EndMinutes
}

type Aggregator struct {
	store    Backend
	resolver *resolver.Resolver
}

func NewAggregator(backend Backend, res *resolver.Resolver) *Aggregator {
	return &Aggregator{store: backend, resolver: res}
}

// Aggregate builds the snapshot for one moment. Entries, lessons and students are
// loaded concurrently; class references are resolved by either id form.
func (a *Aggregator) Aggregate(ctx context.Context, at Moment) (Snapshot, error) {
	var (
		entries  []model.TimetableEntry
		lessons  []model.Lesson
		students []model.User
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entries, err = a.store.ListEntries(gctx, store.EntryFilter{Day: at.Day})
		return err
	})
	g.Go(func() error {
		var err error
		lessons, err = a.store.ListLessons(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		students, err = a.store.ListUsers(gctx, store.UserFilter{Role: model.RoleStudent})
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	live := make([]model.TimetableEntry, 0, len(entries))
	refs := make([]string, 0, len(entries))
	for _, entry := range entries {
		if IsLive(entry, at.Day, at.Minute) {
			live = append(live, entry)
			refs = append(refs, entry.ClassID)
		}
	}
	labels, err := a.resolver.Resolve(ctx, refs)
	if err != nil {
		return Snapshot{}, err
	}

	lessonByID := make(map[string]model.Lesson, len(lessons))
	for _, lesson := range lessons {
		lessonByID[lesson.ID] = lesson
	}
	studentByID := make(map[string]model.User, len(students))
	for _, student := range students {
		studentByID[student.ID] = student
	}

	snap := Snapshot{
		Day:       at.Day,
		Minute:    at.Minute,
		Clock:     slots.FormatMinutes(at.Minute),
		Simulated: at.Simulated,
		Lessons:   make([]LiveLesson, 0, len(live)),
		Classes:   []LiveClass{},
	}
	for _, entry := range live {
		lesson := lessonByID[entry.LessonID]
		item := LiveLesson{
			EntryID:      entry.ID,
			LessonID:     entry.LessonID,
			LessonName:   lesson.Name,
			TeacherName:  teacherName(lesson, studentByID),
			ClassRef:     entry.ClassID,
			ClassLabel:   labels.Label(entry.ClassID),
			StartMinutes: entry.StartMinutes,
			EndMinutes:   entry.EndMinutes,
			Start:        slots.FormatMinutes(entry.StartMinutes),
			End:          slots.FormatMinutes(entry.EndMinutes),
		}
		if item.LessonName == "" {
			item.LessonName = entry.LessonID
		}
		class, resolved := labels.Class(entry.ClassID)
		if resolved {
			item.ClassID = class.ID
			item.Location = class.Location
		}
		item.Students, item.RosterSource = roster(lesson, entry.ClassID, class, resolved, students, studentByID)
		snap.Lessons = append(snap.Lessons, item)
	}
	sort.SliceStable(snap.Lessons, func(i, j int) bool {
		a, b := snap.Lessons[i], snap.Lessons[j]
		if a.StartMinutes != b.StartMinutes {
			return a.StartMinutes < b.StartMinutes
		}
		if la, lb := textnorm.Fold(a.ClassLabel), textnorm.Fold(b.ClassLabel); la != lb {
			return la < lb
		}
		if na, nb := textnorm.Fold(a.LessonName), textnorm.Fold(b.LessonName); na != nb {
			return na < nb
		}
		return a.EntryID < b.EntryID
	})

	classIndex := map[string]int{}
	for _, item := range snap.Lessons {
		key := item.ClassID
		if key == "" {
			key = item.ClassRef
		}
		idx, ok := classIndex[key]
		if !ok {
			idx = len(snap.Classes)
			classIndex[key] = idx
			snap.Classes = append(snap.Classes, LiveClass{
				ClassID:  key,
				Label:    item.ClassLabel,
				Location: item.Location,
				Resolved: item.ClassID != "",
			})
		}
		snap.Classes[idx].EntryIDs = append(snap.Classes[idx].EntryIDs, item.EntryID)
	}
	return snap, nil
}

// roster prefers the lesson's own student list, then the class's student list.
// When both are empty, students are matched by the class fields on their profile.
func roster(lesson model.Lesson, ref string, class model.Class, resolved bool, students []model.User, byID map[string]model.User) ([]Student, string) {
	if len(lesson.StudentsUserIDs) > 0 {
		return named(lesson.StudentsUserIDs, byID), RosterFromLesson
	}
	if resolved && len(class.StudentIDs) > 0 {
		return named(class.StudentIDs, byID), RosterFromClassList
	}

	out := []Student{}

	keys := map[string]bool{textnorm.Fold(ref): true}
	if resolved {
		for _, k := range []string{class.ID, class.ClassID, class.Name} {
			if k != "" {
				keys[textnorm.Fold(k)] = true
			}
		}
	}
	for _, user := range students {
		if matchesClass(user, keys) {
			out = append(out, Student{ID: user.ID, Name: user.FullName()})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return textnorm.Fold(out[i].Name) < textnorm.Fold(out[j].Name) })
	return out, RosterFromClass
}

func named(ids []string, byID map[string]model.User) []Student {
	out := make([]Student, 0, len(ids))
	for _, id := range ids {
		student := Student{ID: id, Name: id}
		if user, ok := byID[id]; ok {
			student.Name = user.FullName()
		}
		out = append(out, student)
	}
	return out
}

func matchesClass(user model.User, keys map[string]bool) bool {
	for _, v := range []string{user.ClassID, user.ClassDocID, user.ClassName} {
		if v != "" && keys[textnorm.Fold(v)] {
			return true
		}
	}
	for _, v := range user.Classes {
		if v != "" && keys[textnorm.Fold(v)] {
			return true
		}
	}
	return false
}

func teacherName(lesson model.Lesson, students map[string]model.User) string {
	if lesson.IsStudentTeacher {
		if user, ok := students[lesson.StudentTeacherUserID]; ok {
			return user.FullName()
		}
		return ""
	}
	return model.User{FirstName: lesson.TeacherFirstName, LastName: lesson.TeacherLastName}.FullName()
}
