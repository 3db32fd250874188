package accounts

import (
	"context"
	"net/http"
	"testing"

	"schoolboard/internal/apperr"
	"schoolboard/internal/auth"
	"schoolboard/internal/identity"
	"schoolboard/internal/model"
	"schoolboard/internal/resolver"
	"schoolboard/internal/store/memory"
)

type recordingProvider struct {
	created []identity.Account
	deleted []string
	fail    error
}

func (p *recordingProvider) CreateAccount(_ context.Context, a identity.Account) error {
	if p.fail != nil {
		return p.fail
	}
	p.created = append(p.created, a)
	return nil
}

func (p *recordingProvider) UpdateAccount(context.Context, identity.Account) error { return p.fail }

func (p *recordingProvider) DeleteAccount(_ context.Context, id string) error {
	if p.fail != nil {
		return p.fail
	}
	p.deleted = append(p.deleted, id)
	return nil
}

func newService(t *testing.T) (*Service, *memory.Store, *recordingProvider, *auth.Claims) {
	t.Helper()
	ctx := context.Background()
	mem := memory.New()
	admin, err := mem.CreateUser(ctx, model.User{ID: "admin-1", Username: "root", UsernameLower: "root", Role: model.RoleAdmin})
	if err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	if _, err := mem.CreateClass(ctx, model.Class{ID: "c1", ClassID: "ZX34CV", ClassIDLower: "zx34cv", Name: "10C"}); err != nil {
		t.Fatalf("seed class: %v", err)
	}
	provider := &recordingProvider{}
	svc := NewService(mem, provider, resolver.New(mem, 0), "school.local", nil, nil)
	return svc, mem, provider, &auth.Claims{UserID: admin.ID, Role: model.RoleAdmin}
}

func TestCreateAccount(t *testing.T) {
	svc, _, provider, admin := newService(t)
	user, err := svc.Create(context.Background(), admin, CreateInput{
		Username: " Alice ", Password: "secret1", FirstName: "Alice", LastName: "Ben  David", Role: model.RoleStudent, ClassID: "zx34cv",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if user.UsernameLower != "alice" || user.Email != "alice@school.local" {
		t.Fatalf("unexpected identity fields %+v", user)
	}
	if user.ClassDocID != "c1" || user.ClassID != "ZX34CV" || user.ClassName != "10C" {
		t.Fatalf("class not denormalised: %+v", user)
	}
	if user.LastName != "Ben David" {
		t.Fatalf("expected cleaned last name, got %q", user.LastName)
	}
	if len(provider.created) != 1 || provider.created[0].Password != "secret1" {
		t.Fatalf("provider not called with password")
	}
}

func TestCreateRejectsCaseInsensitiveDuplicate(t *testing.T) {
	svc, _, _, admin := newService(t)
	ctx := context.Background()
	if _, err := svc.Create(ctx, admin, CreateInput{Username: "Alice", FirstName: "A", Role: model.RoleStudent}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := svc.Create(ctx, admin, CreateInput{Username: "alice", FirstName: "B", Role: model.RoleStudent})
	if !apperr.HasCode(err, ErrUsernameTaken) {
		t.Fatalf("expected username_taken, got %v", err)
	}
	available, err := svc.UsernameAvailable(ctx, "ALICE")
	if err != nil || available {
		t.Fatalf("expected ALICE unavailable, got %v %v", available, err)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _, admin := newService(t)
	_, err := svc.Create(context.Background(), admin, CreateInput{Username: "a", Role: "janitor"})
	appErr, ok := apperr.As(err)
	if !ok || appErr.Code != apperr.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, field := range []string{"username", "role", "firstName"} {
		if _, ok := appErr.Fields[field]; !ok {
			t.Fatalf("expected %s in fields %v", field, appErr.Fields)
		}
	}
}

func TestRequireAdminChecksStoredProfile(t *testing.T) {
	svc, mem, _, _ := newService(t)
	ctx := context.Background()
	demoted, err := mem.CreateUser(ctx, model.User{ID: "t1", Username: "teach", UsernameLower: "teach", Role: model.RoleTeacher})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Token still claims admin but the stored profile says teacher.
	_, err = svc.Create(ctx, &auth.Claims{UserID: demoted.ID, Role: model.RoleAdmin}, CreateInput{Username: "bob", FirstName: "Bob", Role: model.RoleStudent})
	if !apperr.HasCode(err, ErrAdminRequired) {
		t.Fatalf("expected admin_required, got %v", err)
	}
	_, err = svc.Create(ctx, &auth.Claims{UserID: demoted.ID, Role: model.RoleTeacher}, CreateInput{Username: "bob", FirstName: "Bob", Role: model.RoleStudent})
	if !apperr.HasCode(err, ErrAdminRequired) {
		t.Fatalf("expected admin_required, got %v", err)
	}
}

func TestCreateRollsBackWhenProviderFails(t *testing.T) {
	svc, mem, provider, admin := newService(t)
	ctx := context.Background()
	provider.fail = &identity.ProviderError{Status: http.StatusConflict, Code: "email_exists"}

	_, err := svc.Create(ctx, admin, CreateInput{Username: "carol", FirstName: "Carol", Role: model.RoleTeacher})
	if !apperr.HasCode(err, "email_exists") {
		t.Fatalf("expected provider code, got %v", err)
	}
	if _, err := mem.GetUserByUsername(ctx, "carol"); err == nil {
		t.Fatalf("profile should have been rolled back")
	}
}

func TestUpdateAndDelete(t *testing.T) {
	svc, mem, provider, admin := newService(t)
	ctx := context.Background()
	user, err := svc.Create(ctx, admin, CreateInput{Username: "dave", FirstName: "Dave", Role: model.RoleStudent})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, admin, CreateInput{Username: "erin", FirstName: "Erin", Role: model.RoleStudent}); err != nil {
		t.Fatalf("create: %v", err)
	}

	taken := "ERIN"
	if _, err := svc.Update(ctx, admin, user.ID, UpdateInput{Username: &taken}); !apperr.HasCode(err, ErrUsernameTaken) {
		t.Fatalf("expected username_taken, got %v", err)
	}
	teacher, err := mem.CreateUser(ctx, model.User{ID: "t1", Username: "tamar", UsernameLower: "tamar", FirstName: "Tamar", LastName: "Levi", Role: model.RoleTeacher})
	if err != nil {
		t.Fatalf("seed teacher: %v", err)
	}
	rename, advisor := "David", teacher.ID
	updated, err := svc.Update(ctx, admin, user.ID, UpdateInput{Username: &rename, AdvisorID: &advisor})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Email != "david@school.local" || updated.AdvisorName != "Tamar Levi" {
		t.Fatalf("unexpected update result %+v", updated)
	}

	if _, err := mem.CreateLesson(ctx, model.Lesson{ID: "l1", Name: "Art", StudentsUserIDs: []string{user.ID}}); err != nil {
		t.Fatalf("seed lesson: %v", err)
	}
	result, err := svc.Delete(ctx, admin, user.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if result.LessonReferences != 1 {
		t.Fatalf("expected 1 lesson reference, got %d", result.LessonReferences)
	}
	if len(provider.deleted) != 1 {
		t.Fatalf("provider delete not called")
	}
	if _, err := svc.Delete(ctx, admin, user.ID); !apperr.HasCode(err, ErrUserNotFound) {
		t.Fatalf("expected user_not_found, got %v", err)
	}
	if _, err := svc.Delete(ctx, admin, admin.UserID); !apperr.HasCode(err, ErrSelfDelete) {
		t.Fatalf("expected cannot_delete_self, got %v", err)
	}
}

func TestAdvisorMustBeTeacher(t *testing.T) {
	svc, _, _, admin := newService(t)
	ctx := context.Background()
	student, err := svc.Create(ctx, admin, CreateInput{Username: "gil", FirstName: "Gil", Role: model.RoleStudent})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = svc.Create(ctx, admin, CreateInput{Username: "hila", FirstName: "Hila", Role: model.RoleStudent, AdvisorID: student.ID})
	if !apperr.HasCode(err, ErrAdvisorRole) {
		t.Fatalf("expected advisor_not_teacher for a student advisor, got %v", err)
	}
	advisor := admin.UserID
	if _, err := svc.Update(ctx, admin, student.ID, UpdateInput{AdvisorID: &advisor}); !apperr.HasCode(err, ErrAdvisorRole) {
		t.Fatalf("expected advisor_not_teacher for an admin advisor, got %v", err)
	}
	missing := "nobody"
	if _, err := svc.Update(ctx, admin, student.ID, UpdateInput{AdvisorID: &missing}); !apperr.HasCode(err, ErrAdvisorNotFound) {
		t.Fatalf("expected advisor_not_found, got %v", err)
	}
}

func TestUpdateRestoresProfileWhenProviderFails(t *testing.T) {
	svc, mem, provider, admin := newService(t)
	ctx := context.Background()
	user, err := svc.Create(ctx, admin, CreateInput{Username: "irit", FirstName: "Irit", Role: model.RoleStudent, ClassID: "c1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	provider.fail = &identity.ProviderError{Status: http.StatusConflict, Code: "email_exists"}
	rename, first := "yael", "Yael"
	_, err = svc.Update(ctx, admin, user.ID, UpdateInput{Username: &rename, FirstName: &first})
	if !apperr.HasCode(err, "email_exists") {
		t.Fatalf("expected provider code, got %v", err)
	}

	stored, err := mem.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Username != "irit" || stored.Email != "irit@school.local" || stored.FirstName != "Irit" || stored.ClassDocID != "c1" {
		t.Fatalf("profile not restored: %+v", stored)
	}
	if _, err := mem.GetUserByUsername(ctx, "yael"); err == nil {
		t.Fatalf("new username should not stay reserved")
	}
}
