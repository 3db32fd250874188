// Package classes manages class records and their short business ids.
package classes

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"

	"go.uber.org/zap"

	"schoolboard/internal/apperr"
	"schoolboard/internal/events"
	"schoolboard/internal/model"
	"schoolboard/internal/resolver"
	"schoolboard/internal/store"
	"schoolboard/internal/textnorm"
	"schoolboard/internal/validate"
)

const (
	ErrClassNotFound    = "class_not_found"
	ErrClassIDTaken     = "class_id_taken"
	ErrClassIDExhausted = "class_id_generation_failed"
)

const (
	businessIDLength   = 6
	businessIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxIDAttempts      = 5
)

type Backend interface {
	store.Classes
}

type Service struct {
	store    Backend
	resolver *resolver.Resolver
	events   events.Publisher
	log      *zap.Logger
	// newID is swapped in tests to force collisions.
	newID func() (string, error)
}

func NewService(backend Backend, res *resolver.Resolver, pub events.Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: backend, resolver: res, events: pub, log: log, newID: NewBusinessID}
}

type CreateInput struct {
	ClassID    string   `json:"classId,omitempty" validate:"omitempty,alphanum,len=6"`
	Name       string   `json:"name" validate:"notblank"`
	Location   string   `json:"location,omitempty"`
	TeacherID  string   `json:"teacherId,omitempty"`
	StudentIDs []string `json:"studentIds,omitempty"`
}

type UpdateInput struct {
	ClassID   *string `json:"classId,omitempty" validate:"omitempty,alphanum,len=6"`
	Name      *string `json:"name,omitempty" validate:"omitempty,notblank"`
	Location  *string `json:"location,omitempty"`
	TeacherID *string `json:"teacherId,omitempty"`
}

// NewBusinessID returns six random characters from A-Z and 0-9.
func NewBusinessID() (string, error) {
	var b strings.Builder
	limit := big.NewInt(int64(len(businessIDAlphabet)))
	for i := 0; i < businessIDLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(businessIDAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func (s *Service) List(ctx context.Context) ([]model.Class, error) {
	return s.store.ListClasses(ctx)
}

// Get accepts either the document id or the business id.
func (s *Service) Get(ctx context.Context, ref string) (model.Class, error) {
	labels, err := s.resolver.Resolve(ctx, []string{ref})
	if err != nil {
		return model.Class{}, err
	}
	class, ok := labels.Class(ref)
	if !ok {
		return model.Class{}, apperr.NotFound(ErrClassNotFound)
	}
	return class, nil
}

// Resolve maps each ref to its class label. Unknown refs map to themselves.
func (s *Service) Resolve(ctx context.Context, refs []string) (map[string]string, error) {
	labels, err := s.resolver.Resolve(ctx, refs)
	if err != nil {
		return nil, err
	}
	return labels.Map(refs), nil
}

// Create inserts a class. Without an explicit business id one is generated,
// retrying on collisions up to maxIDAttempts times.
func (s *Service) Create(ctx context.Context, in CreateInput) (model.Class, error) {
	in.ClassID = strings.ToUpper(strings.TrimSpace(in.ClassID))
	if err := validate.Struct(in); err != nil {
		return model.Class{}, err
	}
	class := model.Class{
		Name:       textnorm.Clean(in.Name),
		Location:   textnorm.Clean(in.Location),
		TeacherID:  in.TeacherID,
		StudentIDs: in.StudentIDs,
	}

	if in.ClassID != "" {
		taken, err := s.businessIDTaken(ctx, in.ClassID)
		if err != nil {
			return model.Class{}, err
		}
		if taken {
			return model.Class{}, apperr.Conflict(ErrClassIDTaken)
		}
		class.ClassID, class.ClassIDLower = in.ClassID, textnorm.Fold(in.ClassID)
		created, err := s.store.CreateClass(ctx, class)
		if errors.Is(err, store.ErrClassIDTaken) {
			return model.Class{}, apperr.Conflict(ErrClassIDTaken)
		}
		if err != nil {
			return model.Class{}, err
		}
		s.notify(ctx, created.ID, "create")
		return created, nil
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return model.Class{}, err
		}
		taken, err := s.businessIDTaken(ctx, id)
		if err != nil {
			return model.Class{}, err
		}
		if taken {
			continue
		}
		class.ClassID, class.ClassIDLower = id, textnorm.Fold(id)
		created, err := s.store.CreateClass(ctx, class)
		if errors.Is(err, store.ErrClassIDTaken) {
			s.log.Info("class id collided on insert, retrying", zap.String("class_id", id))
			continue
		}
		if err != nil {
			return model.Class{}, err
		}
		s.notify(ctx, created.ID, "create")
		return created, nil
	}
	return model.Class{}, apperr.Conflict(ErrClassIDExhausted)
}

func (s *Service) Update(ctx context.Context, ref string, in UpdateInput) (model.Class, error) {
	if in.ClassID != nil {
		upper := strings.ToUpper(strings.TrimSpace(*in.ClassID))
		in.ClassID = &upper
	}
	if err := validate.Struct(in); err != nil {
		return model.Class{}, err
	}
	class, err := s.Get(ctx, ref)
	if err != nil {
		return model.Class{}, err
	}
	if in.ClassID != nil && textnorm.Fold(*in.ClassID) != class.ClassIDLower {
		taken, err := s.businessIDTaken(ctx, *in.ClassID)
		if err != nil {
			return model.Class{}, err
		}
		if taken {
			return model.Class{}, apperr.Conflict(ErrClassIDTaken)
		}
		class.ClassID, class.ClassIDLower = *in.ClassID, textnorm.Fold(*in.ClassID)
	}
	if in.Name != nil {
		class.Name = textnorm.Clean(*in.Name)
	}
	if in.Location != nil {
		class.Location = textnorm.Clean(*in.Location)
	}
	if in.TeacherID != nil {
		class.TeacherID = *in.TeacherID
	}
	updated, err := s.store.UpdateClass(ctx, class)
	switch {
	case errors.Is(err, store.ErrClassIDTaken):
		return model.Class{}, apperr.Conflict(ErrClassIDTaken)
	case errors.Is(err, store.ErrNotFound):
		return model.Class{}, apperr.NotFound(ErrClassNotFound)
	case err != nil:
		return model.Class{}, err
	}
	s.notify(ctx, updated.ID, "update")
	return updated, nil
}

// Delete removes the class and the timetable entries that point at it.
func (s *Service) Delete(ctx context.Context, ref string) error {
	class, err := s.Get(ctx, ref)
	if err != nil {
		return err
	}
	if err := s.store.DeleteClass(ctx, class.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound(ErrClassNotFound)
		}
		return err
	}
	s.notify(ctx, class.ID, "delete")
	events.Notify(ctx, s.events, s.log, events.Event{Collection: events.CollectionTimetable, ID: class.ID, Op: "delete"})
	return nil
}

func (s *Service) businessIDTaken(ctx context.Context, classID string) (bool, error) {
	found, err := s.store.FindClassesByBusinessID(ctx, []string{textnorm.Fold(classID)})
	if err != nil {
		return false, err
	}
	return len(found) > 0, nil
}

func (s *Service) notify(ctx context.Context, id, op string) {
	events.Notify(ctx, s.events, s.log, events.Event{Collection: events.CollectionClasses, ID: id, Op: op})
}
