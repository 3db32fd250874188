package lessons

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolboard/internal/apperr"
	"schoolboard/internal/model"
	"schoolboard/internal/resolver"
	"schoolboard/internal/roster"
	"schoolboard/internal/store"
	"schoolboard/internal/store/memory"
)

func seeded(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	mem := memory.New()
	users := []model.User{
		{ID: "t1", Username: "cohen", UsernameLower: "cohen", FirstName: "Dana", LastName: "Cohen", Role: model.RoleTeacher},
		{ID: "t2", Username: "levi", UsernameLower: "levi", FirstName: "Amit", LastName: "Levi", Role: model.RoleTeacher},
		{ID: "s1", Username: "noa", UsernameLower: "noa", FirstName: "Noa", Role: model.RoleStudent},
	}
	for _, user := range users {
		_, err := mem.CreateUser(ctx, user)
		require.NoError(t, err)
	}
	enroller := roster.NewService(mem, resolver.New(mem, 0), nil, nil, nil)
	return NewService(mem, enroller, nil, nil), mem
}

func TestCreateDenormalisesTeacher(t *testing.T) {
	svc, _ := seeded(t)
	lesson, err := svc.Create(context.Background(), Input{Name: "Math  level 2", TeacherUserID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "Math level 2", lesson.Name)
	assert.Equal(t, "Dana", lesson.TeacherFirstName)
	assert.Equal(t, "Cohen", lesson.TeacherLastName)
}

func TestTeacherXorStudentTeacher(t *testing.T) {
	svc, _ := seeded(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   Input
		code string
	}{
		{"none", Input{Name: "Art"}, ErrTeacherRequired},
		{"both", Input{Name: "Art", TeacherUserID: "t1", IsStudentTeacher: true, StudentTeacherUserID: "s1"}, ErrTeacherAmbiguous},
		{"student id without flag", Input{Name: "Art", TeacherUserID: "t1", StudentTeacherUserID: "s1"}, ErrTeacherAmbiguous},
		{"flag without student", Input{Name: "Art", IsStudentTeacher: true}, ErrTeacherRequired},
		{"teacher is a student", Input{Name: "Art", TeacherUserID: "s1"}, ErrNotATeacher},
		{"student-teacher is a teacher", Input{Name: "Art", IsStudentTeacher: true, StudentTeacherUserID: "t1"}, ErrNotAStudent},
		{"unknown teacher", Input{Name: "Art", TeacherUserID: "ghost"}, ErrTeacherNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.in)
			assert.True(t, apperr.HasCode(err, tc.code), "got %v", err)
		})
	}

	lesson, err := svc.Create(ctx, Input{Name: "Chess club", IsStudentTeacher: true, StudentTeacherUserID: "s1"})
	require.NoError(t, err)
	assert.Empty(t, lesson.TeacherFirstName)
}

func TestUpdateSwitchesTeacherMode(t *testing.T) {
	svc, _ := seeded(t)
	ctx := context.Background()
	lesson, err := svc.Create(ctx, Input{Name: "Bio", TeacherUserID: "t1"})
	require.NoError(t, err)

	other := "t2"
	updated, err := svc.Update(ctx, lesson.ID, UpdateInput{TeacherUserID: &other})
	require.NoError(t, err)
	assert.Equal(t, "Levi", updated.TeacherLastName)

	yes, student := true, "s1"
	updated, err = svc.Update(ctx, lesson.ID, UpdateInput{IsStudentTeacher: &yes, StudentTeacherUserID: &student})
	require.NoError(t, err)
	assert.Empty(t, updated.TeacherUserID)
	assert.Empty(t, updated.TeacherLastName)
	assert.Equal(t, "s1", updated.StudentTeacherUserID)

	_, err = svc.Update(ctx, "missing", UpdateInput{TeacherUserID: &other})
	assert.True(t, apperr.HasCode(err, ErrLessonNotFound))
}

func TestDeleteRemovesEntries(t *testing.T) {
	svc, mem := seeded(t)
	ctx := context.Background()
	lesson, err := svc.Create(ctx, Input{Name: "History", TeacherUserID: "t2"})
	require.NoError(t, err)
	require.NoError(t, mem.ApplyTimetableBatch(ctx, []string{"c1"}, model.TimetableBatch{
		Creates: []model.TimetableEntry{{ClassID: "c1", LessonID: lesson.ID, Day: 1, StartMinutes: 480, EndMinutes: 525}},
	}))

	require.NoError(t, svc.Delete(ctx, lesson.ID))
	entries, err := mem.ListEntries(ctx, store.AllDays())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.True(t, apperr.HasCode(svc.Delete(ctx, lesson.ID), ErrLessonNotFound))
}

func TestCreateEnrolsThroughRosterChecks(t *testing.T) {
	svc, _ := seeded(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, Input{Name: "מתמטיקה רמה 3", TeacherUserID: "t1", StudentsUserIDs: []string{"s1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, first.StudentsUserIDs)
	assert.Empty(t, first.Skipped)

	second, err := svc.Create(ctx, Input{Name: "מתמטיקה רמה 4", TeacherUserID: "t2", StudentsUserIDs: []string{"s1", "t1", "ghost"}})
	require.NoError(t, err)
	assert.Empty(t, second.StudentsUserIDs)

	reasons := map[string]string{}
	for _, skip := range second.Skipped {
		reasons[skip.StudentID] = skip.Reason
	}
	assert.Equal(t, map[string]string{
		"s1":    roster.SkipSameSubjectConflict,
		"t1":    roster.SkipNotAStudent,
		"ghost": roster.SkipUnknownStudent,
	}, reasons)
}
