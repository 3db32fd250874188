// Package accounts manages user profiles together with their login accounts at
// the identity provider. Only administrators may change accounts.
package accounts

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"schoolboard/internal/apperr"
	"schoolboard/internal/auth"
	"schoolboard/internal/events"
	"schoolboard/internal/identity"
	"schoolboard/internal/model"
	"schoolboard/internal/resolver"
	"schoolboard/internal/store"
	"schoolboard/internal/textnorm"
	"schoolboard/internal/validate"
)

const (
	ErrAdminRequired   = "admin_required"
	ErrUsernameTaken   = "username_taken"
	ErrUserNotFound    = "user_not_found"
	ErrClassNotFound   = "class_not_found"
	ErrAdvisorNotFound = "advisor_not_found"
	ErrAdvisorRole     = "advisor_not_teacher"
	ErrSelfDelete      = "cannot_delete_self"
)

type Backend interface {
	store.Users
	resolver.ClassFinder
	CountLessonsWithStudent(ctx context.Context, userID string) (int, error)
}

type Service struct {
	store       Backend
	provider    identity.Provider
	resolver    *resolver.Resolver
	emailDomain string
	events      events.Publisher
	log         *zap.Logger
}

func NewService(backend Backend, provider identity.Provider, res *resolver.Resolver, emailDomain string, pub events.Publisher, log *zap.Logger) *Service {
	if provider == nil {
		provider = identity.NopProvider{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: backend, provider: provider, resolver: res, emailDomain: emailDomain, events: pub, log: log}
}

type CreateInput struct {
	Username  string   `json:"username" validate:"required,username"`
	Password  string   `json:"password,omitempty" validate:"omitempty,min=6"`
	FirstName string   `json:"firstName" validate:"notblank"`
	LastName  string   `json:"lastName"`
	Role      string   `json:"role" validate:"required,role"`
	Birthday  string   `json:"birthday,omitempty" validate:"omitempty,isodate"`
	ClassID   string   `json:"classId,omitempty"`
	Classes   []string `json:"classes,omitempty"`
	AdvisorID string   `json:"advisorId,omitempty"`
}

type UpdateInput struct {
	Username  *string   `json:"username,omitempty" validate:"omitempty,username"`
	Password  *string   `json:"password,omitempty" validate:"omitempty,min=6"`
	FirstName *string   `json:"firstName,omitempty" validate:"omitempty,notblank"`
	LastName  *string   `json:"lastName,omitempty"`
	Role      *string   `json:"role,omitempty" validate:"omitempty,role"`
	Birthday  *string   `json:"birthday,omitempty" validate:"omitempty,isodate"`
	ClassID   *string   `json:"classId,omitempty"`
	Classes   *[]string `json:"classes,omitempty"`
	AdvisorID *string   `json:"advisorId,omitempty"`
}

type DeleteResult struct {
	UserID string `json:"userId"`
	// LessonReferences counts lessons whose roster still lists the user.
	LessonReferences int `json:"lessonReferences"`
}

// Email is the synthetic login address the provider uses for username.
func (s *Service) Email(username string) string {
	return textnorm.Fold(username) + "@" + s.emailDomain
}

// UsernameAvailable compares case-insensitively: "Alice" and "alice" collide.
func (s *Service) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	_, err := s.store.GetUserByUsername(ctx, textnorm.Fold(username))
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

func (s *Service) Create(ctx context.Context, caller *auth.Claims, in CreateInput) (model.User, error) {
	if err := s.requireAdmin(ctx, caller); err != nil {
		return model.User{}, err
	}
	in.Username = strings.TrimSpace(in.Username)
	if err := validate.Struct(in); err != nil {
		return model.User{}, err
	}
	available, err := s.UsernameAvailable(ctx, in.Username)
	if err != nil {
		return model.User{}, err
	}
	if !available {
		return model.User{}, apperr.Conflict(ErrUsernameTaken)
	}

	user := model.User{
		Username:      in.Username,
		UsernameLower: textnorm.Fold(in.Username),
		FirstName:     textnorm.Clean(in.FirstName),
		LastName:      textnorm.Clean(in.LastName),
		Role:          in.Role,
		Email:         s.Email(in.Username),
		Birthday:      in.Birthday,
		Classes:       in.Classes,
	}
	if err := s.assignClass(ctx, &user, in.ClassID); err != nil {
		return model.User{}, err
	}
	if err := s.assignAdvisor(ctx, &user, in.AdvisorID); err != nil {
		return model.User{}, err
	}

	created, err := s.store.CreateUser(ctx, user)
	if errors.Is(err, store.ErrUsernameTaken) {
		return model.User{}, apperr.Conflict(ErrUsernameTaken)
	}
	if err != nil {
		return model.User{}, err
	}
	if err := s.provider.CreateAccount(ctx, accountOf(created, in.Password)); err != nil {
		// The profile is useless without a login; roll it back.
		if delErr := s.store.DeleteUser(ctx, created.ID); delErr != nil {
			s.log.Error("account rollback failed", zap.String("user", created.ID), zap.Error(delErr))
		}
		return model.User{}, providerErr(err)
	}
	events.Notify(ctx, s.events, s.log, events.Event{Collection: events.CollectionUsers, ID: created.ID, Op: "create"})
	return created, nil
}

func (s *Service) Update(ctx context.Context, caller *auth.Claims, userID string, in UpdateInput) (model.User, error) {
	if err := s.requireAdmin(ctx, caller); err != nil {
		return model.User{}, err
	}
	if in.Username != nil {
		trimmed := strings.TrimSpace(*in.Username)
		in.Username = &trimmed
	}
	if err := validate.Struct(in); err != nil {
		return model.User{}, err
	}
	user, err := s.get(ctx, userID)
	if err != nil {
		return model.User{}, err
	}
	previous := user
	previous.Classes = append([]string(nil), user.Classes...)

	if in.Username != nil && textnorm.Fold(*in.Username) != user.UsernameLower {
		available, err := s.UsernameAvailable(ctx, *in.Username)
		if err != nil {
			return model.User{}, err
		}
		if !available {
			return model.User{}, apperr.Conflict(ErrUsernameTaken)
		}
	}
	if in.Username != nil {
		user.Username = *in.Username
		user.UsernameLower = textnorm.Fold(*in.Username)
		user.Email = s.Email(*in.Username)
	}
	if in.FirstName != nil {
		user.FirstName = textnorm.Clean(*in.FirstName)
	}
	if in.LastName != nil {
		user.LastName = textnorm.Clean(*in.LastName)
	}
	if in.Role != nil {
		user.Role = *in.Role
	}
	if in.Birthday != nil {
		user.Birthday = *in.Birthday
	}
	if in.Classes != nil {
		user.Classes = *in.Classes
	}
	if in.ClassID != nil {
		if err := s.assignClass(ctx, &user, *in.ClassID); err != nil {
			return model.User{}, err
		}
	}
	if in.AdvisorID != nil {
		if err := s.assignAdvisor(ctx, &user, *in.AdvisorID); err != nil {
			return model.User{}, err
		}
	}

	updated, err := s.store.UpdateUser(ctx, user)
	switch {
	case errors.Is(err, store.ErrUsernameTaken):
		return model.User{}, apperr.Conflict(ErrUsernameTaken)
	case errors.Is(err, store.ErrNotFound):
		return model.User{}, apperr.NotFound(ErrUserNotFound)
	case err != nil:
		return model.User{}, err
	}
	password := ""
	if in.Password != nil {
		password = *in.Password
	}
	if err := s.provider.UpdateAccount(ctx, accountOf(updated, password)); err != nil {
		// The login still carries the old identity; put the profile back to match it.
		if _, restoreErr := s.store.UpdateUser(ctx, previous); restoreErr != nil {
			s.log.Error("account restore failed", zap.String("user", previous.ID), zap.Error(restoreErr))
		}
		return model.User{}, providerErr(err)
	}
	events.Notify(ctx, s.events, s.log, events.Event{Collection: events.CollectionUsers, ID: updated.ID, Op: "update"})
	return updated, nil
}

// Delete removes the login and the profile. Lesson rosters are left untouched;
// the result reports how many still reference the user.
func (s *Service) Delete(ctx context.Context, caller *auth.Claims, userID string) (DeleteResult, error) {
	if err := s.requireAdmin(ctx, caller); err != nil {
		return DeleteResult{}, err
	}
	if caller.UserID == userID {
		return DeleteResult{}, apperr.BadRequest(ErrSelfDelete)
	}
	if _, err := s.get(ctx, userID); err != nil {
		return DeleteResult{}, err
	}
	if err := s.provider.DeleteAccount(ctx, userID); err != nil {
		var perr *identity.ProviderError
		if !errors.As(err, &perr) || perr.Status != http.StatusNotFound {
			return DeleteResult{}, providerErr(err)
		}
	}
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return DeleteResult{}, apperr.NotFound(ErrUserNotFound)
		}
		return DeleteResult{}, err
	}
	refs, err := s.store.CountLessonsWithStudent(ctx, userID)
	if err != nil {
		s.log.Warn("lesson reference count failed", zap.String("user", userID), zap.Error(err))
	}
	events.Notify(ctx, s.events, s.log, events.Event{Collection: events.CollectionUsers, ID: userID, Op: "delete"})
	return DeleteResult{UserID: userID, LessonReferences: refs}, nil
}

// requireAdmin checks both the token role and the caller's stored profile, so a
// demoted admin with a still-valid token is refused.
func (s *Service) requireAdmin(ctx context.Context, caller *auth.Claims) error {
	if !caller.HasRole(model.RoleAdmin) {
		return apperr.Forbidden(ErrAdminRequired)
	}
	profile, err := s.store.GetUser(ctx, caller.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.Forbidden(ErrAdminRequired)
	}
	if err != nil {
		return err
	}
	if profile.Role != model.RoleAdmin {
		return apperr.Forbidden(ErrAdminRequired)
	}
	return nil
}

func (s *Service) get(ctx context.Context, userID string) (model.User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return model.User{}, apperr.NotFound(ErrUserNotFound)
	}
	return user, err
}

func (s *Service) assignClass(ctx context.Context, user *model.User, classRef string) error {
	classRef = strings.TrimSpace(classRef)
	if classRef == "" {
		user.ClassID, user.ClassDocID, user.ClassName = "", "", ""
		return nil
	}
	labels, err := s.resolver.Resolve(ctx, []string{classRef})
	if err != nil {
		return err
	}
	class, ok := labels.Class(classRef)
	if !ok {
		return apperr.NotFound(ErrClassNotFound)
	}
	user.ClassID, user.ClassDocID, user.ClassName = class.ClassID, class.ID, class.Name
	return nil
}

func (s *Service) assignAdvisor(ctx context.Context, user *model.User, advisorID string) error {
	if advisorID == "" {
		user.AdvisorID, user.AdvisorName = "", ""
		return nil
	}
	advisor, err := s.store.GetUser(ctx, advisorID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(ErrAdvisorNotFound)
	}
	if err != nil {
		return err
	}
	if advisor.Role != model.RoleTeacher {
		return apperr.BadRequest(ErrAdvisorRole)
	}
	user.AdvisorID, user.AdvisorName = advisor.ID, advisor.FullName()
	return nil
}

func accountOf(user model.User, password string) identity.Account {
	return identity.Account{
		UserID:      user.ID,
		Username:    user.Username,
		Email:       user.Email,
		Role:        user.Role,
		DisplayName: user.FullName(),
		Password:    password,
	}
}

func providerErr(err error) error {
	var perr *identity.ProviderError
	if errors.As(err, &perr) {
		return apperr.New(http.StatusBadGateway, perr.Code)
	}
	return err
}
