package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"schoolboard/internal/model"
	"schoolboard/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("SCHOOLBOARD_TEST_DB")
	if dsn == "" {
		t.Skip("SCHOOLBOARD_TEST_DB not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("db connect: %v", err)
	}
	s := NewStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(pool.Close)
	return s
}

func TestUsernameUniqueIndex(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	lower := "user-" + uuid.NewString()[:8]

	created, err := s.CreateUser(ctx, model.User{Username: lower, UsernameLower: lower, Role: model.RoleStudent})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	defer s.DeleteUser(ctx, created.ID)

	_, err = s.CreateUser(ctx, model.User{Username: lower, UsernameLower: lower, Role: model.RoleStudent})
	if !errors.Is(err, store.ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}

	got, err := s.GetUserByUsername(ctx, lower)
	if err != nil || got.ID != created.ID {
		t.Fatalf("lookup by username: %v %+v", err, got)
	}
}

func TestApplyTimetableBatchRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	classRef := "class-" + uuid.NewString()
	refs := []string{classRef}

	if err := s.ApplyTimetableBatch(ctx, refs, model.TimetableBatch{
		Creates: []model.TimetableEntry{{ClassID: classRef, LessonID: "l1", Day: 2, StartMinutes: 480, EndMinutes: 525}},
	}); err != nil {
		t.Fatalf("seed batch: %v", err)
	}
	entries, err := s.ListEntries(ctx, store.EntryFilter{ClassRefs: refs, Day: -1})
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one entry, got %d (%v)", len(entries), err)
	}

	err = s.ApplyTimetableBatch(ctx, refs, model.TimetableBatch{
		Updates: []model.EntryUpdate{{ID: entries[0].ID, LessonID: "l2"}},
		Creates: []model.TimetableEntry{{ClassID: classRef, LessonID: "l3", Day: 2, StartMinutes: 500, EndMinutes: 540}},
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	entries, err = s.ListEntries(ctx, store.EntryFilter{ClassRefs: refs, Day: 2})
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 || entries[0].LessonID != "l1" {
		t.Fatalf("expected rollback to keep l1, got %+v", entries)
	}

	if err := s.ApplyTimetableBatch(ctx, refs, model.TimetableBatch{Deletes: []string{entries[0].ID}}); err != nil {
		t.Fatalf("cleanup batch: %v", err)
	}
}

func TestApplyTimetableBatchScopesForeignClass(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	own, other := "class-"+uuid.NewString(), "class-"+uuid.NewString()
	refs := []string{own}

	err := s.ApplyTimetableBatch(ctx, refs, model.TimetableBatch{
		Creates: []model.TimetableEntry{
			{ClassID: own, LessonID: "l1", Day: 3, StartMinutes: 480, EndMinutes: 525},
			{ClassID: other, LessonID: "l1", Day: 3, StartMinutes: 480, EndMinutes: 525},
		},
	})
	if err != nil {
		t.Fatalf("expected a foreign class at the same time to be accepted, got %v", err)
	}
	entries, err := s.ListEntries(ctx, store.EntryFilter{ClassRefs: []string{own, other}, Day: 3})
	if err != nil || len(entries) != 2 {
		t.Fatalf("expected two entries, got %d (%v)", len(entries), err)
	}
	ids := []string{entries[0].ID, entries[1].ID}
	if err := s.ApplyTimetableBatch(ctx, refs, model.TimetableBatch{Deletes: ids}); err != nil {
		t.Fatalf("cleanup batch: %v", err)
	}
}

func TestUpdateClassRepointsEntries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	oldID := "P" + uuid.NewString()[:5]
	newID := "Q" + uuid.NewString()[:5]
	class, err := s.CreateClass(ctx, model.Class{ClassID: oldID, ClassIDLower: strings.ToLower(oldID), Name: "rename"})
	if err != nil {
		t.Fatalf("create class: %v", err)
	}
	defer s.DeleteClass(ctx, class.ID)
	if err := s.ApplyTimetableBatch(ctx, []string{class.ID, oldID}, model.TimetableBatch{
		Creates: []model.TimetableEntry{{ClassID: oldID, LessonID: "l1", Day: 4, StartMinutes: 480, EndMinutes: 525}},
	}); err != nil {
		t.Fatalf("seed batch: %v", err)
	}

	class.ClassID, class.ClassIDLower = newID, strings.ToLower(newID)
	if _, err := s.UpdateClass(ctx, class); err != nil {
		t.Fatalf("update class: %v", err)
	}
	entries, err := s.ListEntries(ctx, store.EntryFilter{ClassRefs: []string{newID}, Day: 4})
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected the entry under the new business id, got %d (%v)", len(entries), err)
	}
}

func TestLessonMembershipArrays(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	lesson, err := s.CreateLesson(ctx, model.Lesson{Name: "Physics", TeacherUserID: "t1", StudentsUserIDs: []string{"s1"}})
	if err != nil {
		t.Fatalf("create lesson: %v", err)
	}
	defer s.DeleteLesson(ctx, lesson.ID)

	if err := s.AddLessonStudents(ctx, lesson.ID, []string{"s1", "s2", "s2"}); err != nil {
		t.Fatalf("add students: %v", err)
	}
	if err := s.RemoveLessonStudents(ctx, lesson.ID, []string{"s1"}); err != nil {
		t.Fatalf("remove students: %v", err)
	}
	got, err := s.GetLesson(ctx, lesson.ID)
	if err != nil {
		t.Fatalf("get lesson: %v", err)
	}
	if len(got.StudentsUserIDs) != 1 || got.StudentsUserIDs[0] != "s2" {
		t.Fatalf("unexpected roster %v", got.StudentsUserIDs)
	}
	if err := s.AddLessonStudents(ctx, "missing", []string{"s1"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
