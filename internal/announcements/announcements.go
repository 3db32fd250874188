// Package announcements manages the ticker messages shown on the signage and
// the daily birthday banner.
package announcements

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"schoolboard/internal/apperr"
	"schoolboard/internal/events"
	"schoolboard/internal/metrics"
	"schoolboard/internal/model"
	"schoolboard/internal/store"
	"schoolboard/internal/textnorm"
	"schoolboard/internal/validate"
)

const (
	ErrAnnouncementNotFound = "announcement_not_found"
	ErrInvalidWindow        = "end_before_start"
)

type Backend interface {
	store.Announcements
	ListUsers(ctx context.Context, filter store.UserFilter) ([]model.User, error)
}

type Service struct {
	store   Backend
	metrics *metrics.Metrics
	events  events.Publisher
	log     *zap.Logger
}

func NewService(backend Backend, m *metrics.Metrics, pub events.Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: backend, metrics: m, events: pub, log: log}
}

type Input struct {
	Text    string     `json:"text" validate:"notblank"`
	Type    string     `json:"type" validate:"omitempty,oneof=news birthday"`
	StartAt *time.Time `json:"startAt,omitempty"`
	EndAt   *time.Time `json:"endAt,omitempty"`
}

type UpdateInput struct {
	Text    *string    `json:"text,omitempty" validate:"omitempty,notblank"`
	Type    *string    `json:"type,omitempty" validate:"omitempty,oneof=news birthday"`
	StartAt *time.Time `json:"startAt,omitempty"`
	EndAt   *time.Time `json:"endAt,omitempty"`
	// ClearWindow removes both bounds before StartAt/EndAt are applied.
	ClearWindow bool `json:"clearWindow,omitempty"`
}

// Birthday is one entry of today's birthday banner.
type Birthday struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	ClassName string `json:"className,omitempty"`
}

func (s *Service) List(ctx context.Context) ([]model.Announcement, error) {
	return s.store.ListAnnouncements(ctx)
}

// Active returns the announcements whose window contains now, newest first.
func (s *Service) Active(ctx context.Context, now time.Time) ([]model.Announcement, error) {
	all, err := s.store.ListAnnouncements(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Announcement, 0, len(all))
	for _, a := range all {
		if a.ActiveAt(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Service) Create(ctx context.Context, createdBy string, in Input) (model.Announcement, error) {
	if err := validate.Struct(in); err != nil {
		return model.Announcement{}, err
	}
	a := model.Announcement{
		Text:      textnorm.Clean(in.Text),
		Type:      in.Type,
		StartAt:   in.StartAt,
		EndAt:     in.EndAt,
		CreatedBy: createdBy,
	}
	if a.Type == "" {
		a.Type = model.AnnouncementNews
	}
	if err := checkWindow(a); err != nil {
		return model.Announcement{}, err
	}
	created, err := s.store.CreateAnnouncement(ctx, a)
	if err != nil {
		return model.Announcement{}, err
	}
	s.notify(ctx, created.ID, "create")
	return created, nil
}

func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (model.Announcement, error) {
	if err := validate.Struct(in); err != nil {
		return model.Announcement{}, err
	}
	a, err := s.store.GetAnnouncement(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Announcement{}, apperr.NotFound(ErrAnnouncementNotFound)
	}
	if err != nil {
		return model.Announcement{}, err
	}
	if in.Text != nil {
		a.Text = textnorm.Clean(*in.Text)
	}
	if in.Type != nil {
		a.Type = *in.Type
	}
	if in.ClearWindow {
		a.StartAt, a.EndAt = nil, nil
	}
	if in.StartAt != nil {
		a.StartAt = in.StartAt
	}
	if in.EndAt != nil {
		a.EndAt = in.EndAt
	}
	if err := checkWindow(a); err != nil {
		return model.Announcement{}, err
	}
	updated, err := s.store.UpdateAnnouncement(ctx, a)
	if errors.Is(err, store.ErrNotFound) {
		return model.Announcement{}, apperr.NotFound(ErrAnnouncementNotFound)
	}
	if err != nil {
		return model.Announcement{}, err
	}
	s.notify(ctx, updated.ID, "update")
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteAnnouncement(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound(ErrAnnouncementNotFound)
		}
		return err
	}
	s.notify(ctx, id, "delete")
	return nil
}

// Birthdays lists users whose birthday falls on today's month and day. Feb 29
// birthdays show on Feb 28 in non-leap years.
func (s *Service) Birthdays(ctx context.Context, today time.Time) ([]Birthday, error) {
	users, err := s.store.ListUsers(ctx, store.UserFilter{})
	if err != nil {
		return nil, err
	}
	out := []Birthday{}
	for _, user := range users {
		if user.Birthday == "" {
			continue
		}
		born, err := time.Parse("2006-01-02", user.Birthday)
		if err != nil {
			s.log.Debug("skipping unparsable birthday", zap.String("user", user.ID), zap.String("birthday", user.Birthday))
			continue
		}
		if sameDay(born, today) {
			out = append(out, Birthday{UserID: user.ID, Name: user.FullName(), ClassName: user.ClassName})
		}
	}
	return out, nil
}

// Purge deletes announcements that ended more than retention before now.
func (s *Service) Purge(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	removed, err := s.store.DeleteAnnouncementsEndedBefore(ctx, now.Add(-retention))
	if err != nil {
		return 0, err
	}
	s.metrics.AnnouncementsPurged(removed)
	if removed > 0 {
		s.notify(ctx, "", "purge")
	}
	return removed, nil
}

func (s *Service) notify(ctx context.Context, id, op string) {
	events.Notify(ctx, s.events, s.log, events.Event{Collection: events.CollectionAnnouncements, ID: id, Op: op})
}

func checkWindow(a model.Announcement) error {
	if a.StartAt != nil && a.EndAt != nil && !a.EndAt.After(*a.StartAt) {
		return apperr.BadRequest(ErrInvalidWindow)
	}
	return nil
}

func sameDay(born, today time.Time) bool {
	if born.Month() == today.Month() && born.Day() == today.Day() {
		return true
	}
	if born.Month() == time.February && born.Day() == 29 && today.Month() == time.February && today.Day() == 28 {
		return !isLeap(today.Year())
	}
	return false
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}
