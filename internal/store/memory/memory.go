package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"schoolboard/internal/model"
	"schoolboard/internal/store"
	"schoolboard/internal/textnorm"
)

// Store keeps every collection in maps behind one RWMutex.
type Store struct {
	mu            sync.RWMutex
	users         map[string]*model.User
	classes       map[string]*model.Class
	lessons       map[string]*model.Lesson
	entries       map[string]*model.TimetableEntry
	announcements map[string]*model.Announcement
	dates         map[string]*model.ParliamentDate
	subjects      map[string]*model.ParliamentSubject
	notes         map[string]*model.ParliamentNote
	now           func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:         map[string]*model.User{},
		classes:       map[string]*model.Class{},
		lessons:       map[string]*model.Lesson{},
		entries:       map[string]*model.TimetableEntry{},
		announcements: map[string]*model.Announcement{},
		dates:         map[string]*model.ParliamentDate{},
		subjects:      map[string]*model.ParliamentSubject{},
		notes:         map[string]*model.ParliamentNote{},
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() {}

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func cloneStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func addMembers(current, ids []string) []string {
	out := cloneStrings(current)
	for _, id := range ids {
		if !containsString(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func removeMembers(current, ids []string) []string {
	out := make([]string, 0, len(current))
	for _, id := range current {
		if !containsString(ids, id) {
			out = append(out, id)
		}
	}
	return out
}

// Users

func (s *Store) CreateUser(_ context.Context, user model.User) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.UsernameLower == user.UsernameLower {
			return model.User{}, store.ErrUsernameTaken
		}
	}
	now := s.now()
	user.ID = newID(user.ID)
	if _, ok := s.users[user.ID]; ok {
		return model.User{}, store.ErrConflict
	}
	user.Classes = cloneStrings(user.Classes)
	user.CreatedAt, user.UpdatedAt = now, now
	s.users[user.ID] = &user
	return user, nil
}

func (s *Store) GetUser(_ context.Context, id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if user, ok := s.users[id]; ok {
		return *user, nil
	}
	return model.User{}, store.ErrNotFound
}

func (s *Store) GetUserByUsername(_ context.Context, usernameLower string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if user.UsernameLower == usernameLower {
			return *user, nil
		}
	}
	return model.User{}, store.ErrNotFound
}

func (s *Store) ListUsers(_ context.Context, filter store.UserFilter) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.User, 0, len(s.users))
	for _, user := range s.users {
		if filter.Role != "" && user.Role != filter.Role {
			continue
		}
		if filter.IDs != nil && !containsString(filter.IDs, user.ID) {
			continue
		}
		out = append(out, *user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UsernameLower < out[j].UsernameLower })
	return out, nil
}

func (s *Store) UpdateUser(_ context.Context, user model.User) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.users[user.ID]
	if !ok {
		return model.User{}, store.ErrNotFound
	}
	for _, existing := range s.users {
		if existing.ID != user.ID && existing.UsernameLower == user.UsernameLower {
			return model.User{}, store.ErrUsernameTaken
		}
	}
	user.CreatedAt = current.CreatedAt
	user.UpdatedAt = s.now()
	user.Classes = cloneStrings(user.Classes)
	s.users[user.ID] = &user
	return user, nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

// Classes

func (s *Store) CreateClass(_ context.Context, class model.Class) (model.Class, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.classes {
		if class.ClassIDLower != "" && existing.ClassIDLower == class.ClassIDLower {
			return model.Class{}, store.ErrClassIDTaken
		}
	}
	now := s.now()
	class.ID = newID(class.ID)
	class.StudentIDs = cloneStrings(class.StudentIDs)
	class.CreatedAt, class.UpdatedAt = now, now
	s.classes[class.ID] = &class
	return class, nil
}

func (s *Store) GetClass(_ context.Context, id string) (model.Class, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if class, ok := s.classes[id]; ok {
		return *class, nil
	}
	return model.Class{}, store.ErrNotFound
}

func (s *Store) FindClassesByBusinessID(_ context.Context, classIDsLower []string) ([]model.Class, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.Class{}
	for _, class := range s.classes {
		if containsString(classIDsLower, class.ClassIDLower) {
			out = append(out, *class)
		}
	}
	return out, nil
}

func (s *Store) FindClassesByID(_ context.Context, ids []string) ([]model.Class, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.Class{}
	for _, id := range ids {
		if class, ok := s.classes[id]; ok {
			out = append(out, *class)
		}
	}
	return out, nil
}

func (s *Store) ListClasses(_ context.Context) ([]model.Class, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Class, 0, len(s.classes))
	for _, class := range s.classes {
		out = append(out, *class)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateClass(_ context.Context, class model.Class) (model.Class, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.classes[class.ID]
	if !ok {
		return model.Class{}, store.ErrNotFound
	}
	for _, existing := range s.classes {
		if existing.ID != class.ID && class.ClassIDLower != "" && existing.ClassIDLower == class.ClassIDLower {
			return model.Class{}, store.ErrClassIDTaken
		}
	}
	now := s.now()
	if current.ClassIDLower != "" && current.ClassIDLower != class.ClassIDLower {
		s.renameClassRef(current.ClassIDLower, class.ClassID, now)
	}
	class.CreatedAt = current.CreatedAt
	class.UpdatedAt = now
	class.StudentIDs = cloneStrings(class.StudentIDs)
	s.classes[class.ID] = &class
	return class, nil
}

// renameClassRef rewrites every reference to the business id oldLower. Callers hold mu.
func (s *Store) renameClassRef(oldLower, newID string, now time.Time) {
	for _, entry := range s.entries {
		if textnorm.Fold(entry.ClassID) == oldLower {
			entry.ClassID = newID
			entry.UpdatedAt = now
		}
	}
	for _, user := range s.users {
		changed := false
		if textnorm.Fold(user.ClassID) == oldLower {
			user.ClassID = newID
			changed = true
		}
		for i, ref := range user.Classes {
			if textnorm.Fold(ref) == oldLower {
				user.Classes[i] = newID
				changed = true
			}
		}
		if changed {
			user.UpdatedAt = now
		}
	}
}

func (s *Store) DeleteClass(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	class, ok := s.classes[id]
	if !ok {
		return store.ErrNotFound
	}
	for entryID, entry := range s.entries {
		if entry.ClassID == class.ID || (class.ClassID != "" && entry.ClassID == class.ClassID) {
			delete(s.entries, entryID)
		}
	}
	delete(s.classes, id)
	return nil
}

func (s *Store) AddClassStudents(_ context.Context, id string, studentIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	class, ok := s.classes[id]
	if !ok {
		return store.ErrNotFound
	}
	class.StudentIDs = addMembers(class.StudentIDs, studentIDs)
	class.UpdatedAt = s.now()
	return nil
}

func (s *Store) RemoveClassStudents(_ context.Context, id string, studentIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	class, ok := s.classes[id]
	if !ok {
		return store.ErrNotFound
	}
	class.StudentIDs = removeMembers(class.StudentIDs, studentIDs)
	class.UpdatedAt = s.now()
	return nil
}

// Lessons

func (s *Store) CreateLesson(_ context.Context, lesson model.Lesson) (model.Lesson, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	lesson.ID = newID(lesson.ID)
	if _, ok := s.lessons[lesson.ID]; ok {
		return model.Lesson{}, store.ErrConflict
	}
	lesson.StudentsUserIDs = addMembers(nil, lesson.StudentsUserIDs)
	lesson.CreatedAt, lesson.UpdatedAt = now, now
	s.lessons[lesson.ID] = &lesson
	return lesson, nil
}

func (s *Store) GetLesson(_ context.Context, id string) (model.Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if lesson, ok := s.lessons[id]; ok {
		return copyLesson(lesson), nil
	}
	return model.Lesson{}, store.ErrNotFound
}

func copyLesson(lesson *model.Lesson) model.Lesson {
	out := *lesson
	out.StudentsUserIDs = cloneStrings(lesson.StudentsUserIDs)
	return out
}

func (s *Store) ListLessons(_ context.Context) ([]model.Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Lesson, 0, len(s.lessons))
	for _, lesson := range s.lessons {
		out = append(out, copyLesson(lesson))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) FindLessonsByID(_ context.Context, ids []string) ([]model.Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.Lesson{}
	for _, id := range ids {
		if lesson, ok := s.lessons[id]; ok {
			out = append(out, copyLesson(lesson))
		}
	}
	return out, nil
}

func (s *Store) UpdateLesson(_ context.Context, lesson model.Lesson) (model.Lesson, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.lessons[lesson.ID]
	if !ok {
		return model.Lesson{}, store.ErrNotFound
	}
	lesson.CreatedAt = current.CreatedAt
	lesson.UpdatedAt = s.now()
	lesson.StudentsUserIDs = addMembers(nil, lesson.StudentsUserIDs)
	s.lessons[lesson.ID] = &lesson
	return lesson, nil
}

func (s *Store) DeleteLesson(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lessons[id]; !ok {
		return store.ErrNotFound
	}
	for entryID, entry := range s.entries {
		if entry.LessonID == id {
			delete(s.entries, entryID)
		}
	}
	delete(s.lessons, id)
	return nil
}

func (s *Store) AddLessonStudents(_ context.Context, id string, studentIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lesson, ok := s.lessons[id]
	if !ok {
		return store.ErrNotFound
	}
	lesson.StudentsUserIDs = addMembers(lesson.StudentsUserIDs, studentIDs)
	lesson.UpdatedAt = s.now()
	return nil
}

func (s *Store) RemoveLessonStudents(_ context.Context, id string, studentIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lesson, ok := s.lessons[id]
	if !ok {
		return store.ErrNotFound
	}
	lesson.StudentsUserIDs = removeMembers(lesson.StudentsUserIDs, studentIDs)
	lesson.UpdatedAt = s.now()
	return nil
}

func (s *Store) MoveLessonStudents(_ context.Context, fromID, toID string, studentIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	from, ok := s.lessons[fromID]
	if !ok {
		return store.ErrNotFound
	}
	to, ok := s.lessons[toID]
	if !ok {
		return store.ErrNotFound
	}
	now := s.now()
	from.StudentsUserIDs = removeMembers(from.StudentsUserIDs, studentIDs)
	from.UpdatedAt = now
	to.StudentsUserIDs = addMembers(to.StudentsUserIDs, studentIDs)
	to.UpdatedAt = now
	return nil
}

func (s *Store) CountLessonsWithStudent(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, lesson := range s.lessons {
		if lesson.HasStudent(userID) {
			count++
		}
	}
	return count, nil
}

// Timetable

func (s *Store) ListEntries(_ context.Context, filter store.EntryFilter) ([]model.TimetableEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.TimetableEntry{}
	for _, entry := range s.entries {
		if filter.ClassRefs != nil && !containsString(filter.ClassRefs, entry.ClassID) {
			continue
		}
		if filter.LessonID != "" && entry.LessonID != filter.LessonID {
			continue
		}
		if filter.Day >= 0 && entry.Day != filter.Day {
			continue
		}
		out = append(out, *entry)
	}
	sortEntries(out)
	return out, nil
}

func sortEntries(entries []model.TimetableEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.StartMinutes != b.StartMinutes {
			return a.StartMinutes < b.StartMinutes
		}
		return a.ID < b.ID
	})
}

func (s *Store) ApplyTimetableBatch(_ context.Context, classRefs []string, batch model.TimetableBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate against a working copy so a failure leaves the map untouched.
	working := make(map[string]model.TimetableEntry, len(s.entries))
	for id, entry := range s.entries {
		working[id] = *entry
	}
	for _, id := range batch.Deletes {
		if _, ok := working[id]; !ok {
			return store.ErrConflict
		}
		delete(working, id)
	}
	now := s.now()
	for _, update := range batch.Updates {
		entry, ok := working[update.ID]
		if !ok {
			return store.ErrConflict
		}
		entry.LessonID = update.LessonID
		entry.UpdatedAt = now
		working[update.ID] = entry
	}
	for _, create := range batch.Creates {
		scope := store.ConflictScope(classRefs, create.ClassID)
		for _, existing := range working {
			if existing.Day == create.Day && containsString(scope, existing.ClassID) &&
				store.Overlaps(existing.StartMinutes, existing.EndMinutes, create.StartMinutes, create.EndMinutes) {
				return store.ErrConflict
			}
		}
		create.ID = newID(create.ID)
		create.CreatedAt, create.UpdatedAt = now, now
		working[create.ID] = create
	}

	s.entries = make(map[string]*model.TimetableEntry, len(working))
	for id, entry := range working {
		entry := entry
		s.entries[id] = &entry
	}
	return nil
}

// Announcements

func (s *Store) CreateAnnouncement(_ context.Context, a model.Announcement) (model.Announcement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	a.ID = newID(a.ID)
	a.CreatedAt, a.UpdatedAt = now, now
	s.announcements[a.ID] = &a
	return a, nil
}

func (s *Store) GetAnnouncement(_ context.Context, id string) (model.Announcement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.announcements[id]; ok {
		return *a, nil
	}
	return model.Announcement{}, store.ErrNotFound
}

func (s *Store) ListAnnouncements(_ context.Context) ([]model.Announcement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Announcement, 0, len(s.announcements))
	for _, a := range s.announcements {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateAnnouncement(_ context.Context, a model.Announcement) (model.Announcement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.announcements[a.ID]
	if !ok {
		return model.Announcement{}, store.ErrNotFound
	}
	a.CreatedAt = current.CreatedAt
	a.CreatedBy = current.CreatedBy
	a.UpdatedAt = s.now()
	s.announcements[a.ID] = &a
	return a, nil
}

func (s *Store) DeleteAnnouncement(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.announcements[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.announcements, id)
	return nil
}

func (s *Store) DeleteAnnouncementsEndedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, a := range s.announcements {
		if a.EndAt != nil && a.EndAt.Before(cutoff) {
			delete(s.announcements, id)
			removed++
		}
	}
	return removed, nil
}

// Parliament

func (s *Store) CreateParliamentDate(_ context.Context, d model.ParliamentDate) (model.ParliamentDate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	d.ID = newID(d.ID)
	d.CreatedAt, d.UpdatedAt = now, now
	s.dates[d.ID] = &d
	return d, nil
}

func (s *Store) GetParliamentDate(_ context.Context, id string) (model.ParliamentDate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.dates[id]; ok {
		return *d, nil
	}
	return model.ParliamentDate{}, store.ErrNotFound
}

func (s *Store) ListParliamentDates(_ context.Context) ([]model.ParliamentDate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ParliamentDate, 0, len(s.dates))
	for _, d := range s.dates {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateParliamentDate(_ context.Context, d model.ParliamentDate) (model.ParliamentDate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.dates[d.ID]
	if !ok {
		return model.ParliamentDate{}, store.ErrNotFound
	}
	d.CreatedAt = current.CreatedAt
	d.UpdatedAt = s.now()
	s.dates[d.ID] = &d
	return d, nil
}

func (s *Store) CreateSubject(_ context.Context, sub model.ParliamentSubject) (model.ParliamentSubject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dates[sub.DateID]; !ok {
		return model.ParliamentSubject{}, store.ErrNotFound
	}
	now := s.now()
	sub.ID = newID(sub.ID)
	sub.CreatedAt, sub.UpdatedAt = now, now
	s.subjects[sub.ID] = &sub
	return sub, nil
}

func (s *Store) GetSubject(_ context.Context, id string) (model.ParliamentSubject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sub, ok := s.subjects[id]; ok {
		return *sub, nil
	}
	return model.ParliamentSubject{}, store.ErrNotFound
}

func (s *Store) ListSubjects(_ context.Context, dateID string) ([]model.ParliamentSubject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.ParliamentSubject{}
	for _, sub := range s.subjects {
		if sub.DateID == dateID {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateSubject(_ context.Context, sub model.ParliamentSubject) (model.ParliamentSubject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.subjects[sub.ID]
	if !ok {
		return model.ParliamentSubject{}, store.ErrNotFound
	}
	sub.CreatedAt = current.CreatedAt
	sub.UpdatedAt = s.now()
	s.subjects[sub.ID] = &sub
	return sub, nil
}

func (s *Store) CreateNote(_ context.Context, n model.ParliamentNote) (model.ParliamentNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subjects[n.SubjectID]; !ok {
		return model.ParliamentNote{}, store.ErrNotFound
	}
	n.ID = newID(n.ID)
	n.CreatedAt = s.now()
	s.notes[n.ID] = &n
	return n, nil
}

func (s *Store) GetNote(_ context.Context, id string) (model.ParliamentNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.notes[id]; ok {
		return *n, nil
	}
	return model.ParliamentNote{}, store.ErrNotFound
}

func (s *Store) ListNotes(_ context.Context, subjectID string) ([]model.ParliamentNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.ParliamentNote{}
	for _, n := range s.notes {
		if n.SubjectID == subjectID {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) DeleteNote(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[id]; !ok {
		return store.ErrNotFound
	}
	for noteID, n := range s.notes {
		if n.ParentID == id {
			delete(s.notes, noteID)
		}
	}
	delete(s.notes, id)
	return nil
}
