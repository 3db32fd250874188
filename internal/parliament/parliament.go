// Package parliament runs the student parliament board: session dates, subjects
// submitted for a date and moderated by staff, and discussion notes on
// approved subjects.
package parliament

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"schoolboard/internal/apperr"
	"schoolboard/internal/auth"
	"schoolboard/internal/events"
	"schoolboard/internal/model"
	"schoolboard/internal/store"
	"schoolboard/internal/textnorm"
	"schoolboard/internal/validate"
)

const (
	ErrDateNotFound      = "date_not_found"
	ErrSubjectNotFound   = "subject_not_found"
	ErrNoteNotFound      = "note_not_found"
	ErrDateClosed        = "date_closed"
	ErrNotPending        = "subject_not_pending"
	ErrNotApproved       = "subject_not_approved"
	ErrReasonRequired    = "reject_reason_required"
	ErrInvalidParent     = "invalid_parent_note"
	ErrModeratorRequired = "moderator_required"
	ErrNotNoteAuthor     = "not_note_author"
	ErrInvalidStatus     = "invalid_status"
)

type Backend interface {
	store.Parliament
	GetUser(ctx context.Context, id string) (model.User, error)
}

type Service struct {
	store  Backend
	events events.Publisher
	log    *zap.Logger
	now    func() time.Time
}

func NewService(backend Backend, pub events.Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: backend, events: pub, log: log, now: func() time.Time { return time.Now().UTC() }}
}

type DateInput struct {
	Date  string `json:"date" validate:"required,isodate"`
	Title string `json:"title"`
}

type SubjectInput struct {
	Title       string `json:"title" validate:"notblank"`
	Description string `json:"description,omitempty"`
}

type NoteInput struct {
	Text     string `json:"text" validate:"notblank"`
	ParentID string `json:"parentId,omitempty"`
}

// IsModerator reports whether the caller may moderate subjects and notes.
func IsModerator(caller *auth.Claims) bool {
	return caller.HasRole(model.RoleAdmin, model.RoleTeacher)
}

// Dates

func (s *Service) CreateDate(ctx context.Context, in DateInput) (model.ParliamentDate, error) {
	if err := validate.Struct(in); err != nil {
		return model.ParliamentDate{}, err
	}
	created, err := s.store.CreateParliamentDate(ctx, model.ParliamentDate{
		Date:   in.Date,
		Title:  textnorm.Clean(in.Title),
		Status: model.DateOpen,
	})
	if err != nil {
		return model.ParliamentDate{}, err
	}
	s.notify(ctx, created.ID, "create")
	return created, nil
}

func (s *Service) ListDates(ctx context.Context) ([]model.ParliamentDate, error) {
	return s.store.ListParliamentDates(ctx)
}

// SetDateStatus opens or closes a date for new subjects.
func (s *Service) SetDateStatus(ctx context.Context, dateID, status string) (model.ParliamentDate, error) {
	if status != model.DateOpen && status != model.DateClosed {
		return model.ParliamentDate{}, apperr.BadRequest(ErrInvalidStatus)
	}
	date, err := s.date(ctx, dateID)
	if err != nil {
		return model.ParliamentDate{}, err
	}
	date.Status = status
	updated, err := s.store.UpdateParliamentDate(ctx, date)
	if err != nil {
		return model.ParliamentDate{}, err
	}
	s.notify(ctx, updated.ID, "update")
	return updated, nil
}

// Subjects

// Submit files a pending subject for an open date.
func (s *Service) Submit(ctx context.Context, caller *auth.Claims, dateID string, in SubjectInput) (model.ParliamentSubject, error) {
	if err := validate.Struct(in); err != nil {
		return model.ParliamentSubject{}, err
	}
	date, err := s.date(ctx, dateID)
	if err != nil {
		return model.ParliamentSubject{}, err
	}
	if date.Status != model.DateOpen {
		return model.ParliamentSubject{}, apperr.Conflict(ErrDateClosed)
	}
	created, err := s.store.CreateSubject(ctx, model.ParliamentSubject{
		DateID:        date.ID,
		Title:         textnorm.Clean(in.Title),
		Description:   in.Description,
		SubmittedBy:   caller.UserID,
		SubmitterName: s.displayName(ctx, caller),
		Status:        model.SubjectPending,
	})
	if errors.Is(err, store.ErrNotFound) {
		return model.ParliamentSubject{}, apperr.NotFound(ErrDateNotFound)
	}
	if err != nil {
		return model.ParliamentSubject{}, err
	}
	s.notify(ctx, created.ID, "create")
	return created, nil
}

// Subjects lists what the caller may see: approved subjects for everyone,
// everything for moderators, and the caller's own pending or rejected ones.
func (s *Service) Subjects(ctx context.Context, caller *auth.Claims, dateID string) ([]model.ParliamentSubject, error) {
	if _, err := s.date(ctx, dateID); err != nil {
		return nil, err
	}
	all, err := s.store.ListSubjects(ctx, dateID)
	if err != nil {
		return nil, err
	}
	out := make([]model.ParliamentSubject, 0, len(all))
	for _, subject := range all {
		if visible(caller, subject) {
			out = append(out, subject)
		}
	}
	return out, nil
}

func (s *Service) Approve(ctx context.Context, caller *auth.Claims, subjectID string) (model.ParliamentSubject, error) {
	return s.moderate(ctx, caller, subjectID, model.SubjectApproved, "")
}

func (s *Service) Reject(ctx context.Context, caller *auth.Claims, subjectID, reason string) (model.ParliamentSubject, error) {
	reason = textnorm.Clean(reason)
	if reason == "" {
		return model.ParliamentSubject{}, apperr.BadRequest(ErrReasonRequired)
	}
	return s.moderate(ctx, caller, subjectID, model.SubjectRejected, reason)
}

func (s *Service) moderate(ctx context.Context, caller *auth.Claims, subjectID, status, reason string) (model.ParliamentSubject, error) {
	if !IsModerator(caller) {
		return model.ParliamentSubject{}, apperr.Forbidden(ErrModeratorRequired)
	}
	subject, err := s.subject(ctx, subjectID)
	if err != nil {
		return model.ParliamentSubject{}, err
	}
	if subject.Status != model.SubjectPending {
		return model.ParliamentSubject{}, apperr.Conflict(ErrNotPending)
	}
	now := s.now()
	subject.Status = status
	subject.RejectReason = reason
	subject.ModeratedBy = caller.UserID
	subject.ModeratedAt = &now
	updated, err := s.store.UpdateSubject(ctx, subject)
	if err != nil {
		return model.ParliamentSubject{}, err
	}
	s.notify(ctx, updated.ID, status)
	return updated, nil
}

// Notes

// AddNote posts a top-level note, or a reply when ParentID names a top-level
// note of the same subject. Replies to replies are refused.
func (s *Service) AddNote(ctx context.Context, caller *auth.Claims, subjectID string, in NoteInput) (model.ParliamentNote, error) {
	if err := validate.Struct(in); err != nil {
		return model.ParliamentNote{}, err
	}
	subject, err := s.subject(ctx, subjectID)
	if err != nil {
		return model.ParliamentNote{}, err
	}
	if subject.Status != model.SubjectApproved {
		return model.ParliamentNote{}, apperr.Conflict(ErrNotApproved)
	}
	if in.ParentID != "" {
		parent, err := s.store.GetNote(ctx, in.ParentID)
		if errors.Is(err, store.ErrNotFound) {
			return model.ParliamentNote{}, apperr.BadRequest(ErrInvalidParent)
		}
		if err != nil {
			return model.ParliamentNote{}, err
		}
		if parent.SubjectID != subject.ID || parent.ParentID != "" {
			return model.ParliamentNote{}, apperr.BadRequest(ErrInvalidParent)
		}
	}
	created, err := s.store.CreateNote(ctx, model.ParliamentNote{
		SubjectID:  subject.ID,
		ParentID:   in.ParentID,
		AuthorID:   caller.UserID,
		AuthorName: s.displayName(ctx, caller),
		Text:       textnorm.Clean(in.Text),
	})
	if err != nil {
		return model.ParliamentNote{}, err
	}
	s.notify(ctx, created.ID, "create")
	return created, nil
}

func (s *Service) Notes(ctx context.Context, caller *auth.Claims, subjectID string) ([]model.ParliamentNote, error) {
	subject, err := s.subject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if !visible(caller, subject) {
		return nil, apperr.NotFound(ErrSubjectNotFound)
	}
	return s.store.ListNotes(ctx, subject.ID)
}

// DeleteNote removes a note and its replies. Only the author or a moderator may.
func (s *Service) DeleteNote(ctx context.Context, caller *auth.Claims, noteID string) error {
	note, err := s.store.GetNote(ctx, noteID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(ErrNoteNotFound)
	}
	if err != nil {
		return err
	}
	if note.AuthorID != caller.UserID && !IsModerator(caller) {
		return apperr.Forbidden(ErrNotNoteAuthor)
	}
	if err := s.store.DeleteNote(ctx, noteID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound(ErrNoteNotFound)
		}
		return err
	}
	s.notify(ctx, noteID, "delete")
	return nil
}

func visible(caller *auth.Claims, subject model.ParliamentSubject) bool {
	return subject.Status == model.SubjectApproved || IsModerator(caller) || subject.SubmittedBy == caller.UserID
}

func (s *Service) date(ctx context.Context, id string) (model.ParliamentDate, error) {
	date, err := s.store.GetParliamentDate(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.ParliamentDate{}, apperr.NotFound(ErrDateNotFound)
	}
	return date, err
}

func (s *Service) subject(ctx context.Context, id string) (model.ParliamentSubject, error) {
	subject, err := s.store.GetSubject(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.ParliamentSubject{}, apperr.NotFound(ErrSubjectNotFound)
	}
	return subject, err
}

func (s *Service) displayName(ctx context.Context, caller *auth.Claims) string {
	user, err := s.store.GetUser(ctx, caller.UserID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Warn("author lookup failed", zap.String("user", caller.UserID), zap.Error(err))
		}
		return caller.Username
	}
	return user.FullName()
}

func (s *Service) notify(ctx context.Context, id, op string) {
	events.Notify(ctx, s.events, s.log, events.Event{Collection: events.CollectionParliament, ID: id, Op: op})
}
