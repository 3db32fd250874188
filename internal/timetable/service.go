package timetable

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"schoolboard/internal/apperr"
	"schoolboard/internal/events"
	"schoolboard/internal/metrics"
	"schoolboard/internal/model"
	"schoolboard/internal/resolver"
	"schoolboard/internal/slots"
	"schoolboard/internal/store"
)

const (
	ErrClassNotFound       = "class_not_found"
	ErrLessonNotFound      = "lesson_not_found"
	ErrCellOutsideSchedule = "cell_outside_schedule"
	ErrDraftForbidden      = "draft_forbidden"
	ErrTimetableConflict   = "timetable_conflict"
)

// ConflictError lists the staged cells whose committed state changed since they were staged.
type ConflictError struct {
	Cells []CellKey
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %d cells", ErrTimetableConflict, len(e.Cells))
}

type Backend interface {
	store.Timetable
	resolver.ClassFinder
	GetLesson(ctx context.Context, id string) (model.Lesson, error)
	FindLessonsByID(ctx context.Context, ids []string) ([]model.Lesson, error)
}

type Service struct {
	backend  Backend
	drafts   DraftStore
	resolver *resolver.Resolver
	schedule slots.Schedule
	metrics  *metrics.Metrics
	events   events.Publisher
	log      *zap.Logger
	now      func() time.Time

	locksMu sync.Mutex
	locks   map[string]*draftLock
}

// draftLock serialises operations on one draft. It leaves the table once no
// caller holds or waits on it.
type draftLock struct {
	mu   sync.Mutex
	refs int
}

func NewService(backend Backend, drafts DraftStore, res *resolver.Resolver, schedule slots.Schedule, m *metrics.Metrics, pub events.Publisher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		backend:  backend,
		drafts:   drafts,
		resolver: res,
		schedule: schedule,
		metrics:  m,
		events:   pub,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		locks:    map[string]*draftLock{},
	}
}

func (s *Service) Schedule() slots.Schedule {
	return s.schedule
}

// View is a draft rendered against the current committed entries.
type View struct {
	Draft      *Draft     `json:"draft"`
	ClassLabel string     `json:"classLabel"`
	Pending    int        `json:"pending"`
	Grid       []GridCell `json:"grid"`
}

type SaveResult struct {
	Created int `json:"created"`
	Deleted int `json:"deleted"`
	Updated int `json:"updated"`
}

func (s *Service) lock(id string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &draftLock{}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}
}

// Entries lists committed entries for a class reference, matching either id form.
func (s *Service) Entries(ctx context.Context, classRef string, day int) ([]model.TimetableEntry, error) {
	filter := store.EntryFilter{Day: day}
	if classRef != "" {
		labels, err := s.resolver.Resolve(ctx, []string{classRef})
		if err != nil {
			return nil, err
		}
		filter.ClassRefs = labels.Refs(classRef)
	}
	return s.backend.ListEntries(ctx, filter)
}

// Open starts a draft for ownerID on a class, optionally with a lesson selected.
func (s *Service) Open(ctx context.Context, ownerID, classRef, lessonID string) (*View, error) {
	if _, err := s.resolveClass(ctx, classRef); err != nil {
		return nil, err
	}
	if err := s.checkLesson(ctx, lessonID); err != nil {
		return nil, err
	}
	draft := NewDraft(uuid.NewString(), ownerID, classRef, lessonID)
	draft.UpdatedAt = s.now()
	if err := s.drafts.Put(ctx, draft); err != nil {
		return nil, err
	}
	return s.render(ctx, draft)
}

func (s *Service) Get(ctx context.Context, ownerID, draftID string) (*View, error) {
	draft, err := s.load(ctx, ownerID, draftID)
	if err != nil {
		return nil, err
	}
	return s.render(ctx, draft)
}

// Select changes the selected class and/or lesson. Staged changes are dropped;
// the count of dropped changes is returned so callers can warn about it.
func (s *Service) Select(ctx context.Context, ownerID, draftID string, classRef, lessonID *string) (*View, int, error) {
	unlock := s.lock(draftID)
	defer unlock()

	draft, err := s.load(ctx, ownerID, draftID)
	if err != nil {
		return nil, 0, err
	}
	dropped := 0
	if classRef != nil && *classRef != draft.ClassRef {
		if _, err := s.resolveClass(ctx, *classRef); err != nil {
			return nil, 0, err
		}
		dropped += draft.SelectClass(*classRef)
	}
	if lessonID != nil && *lessonID != draft.LessonID {
		if err := s.checkLesson(ctx, *lessonID); err != nil {
			return nil, 0, err
		}
		dropped += draft.SelectLesson(*lessonID)
	}
	if err := s.persist(ctx, draft); err != nil {
		return nil, 0, err
	}
	view, err := s.render(ctx, draft)
	return view, dropped, err
}

// Click toggles one cell of the draft.
func (s *Service) Click(ctx context.Context, ownerID, draftID string, cell CellKey) (*View, Action, error) {
	if !s.schedule.Contains(cell.Day, cell.StartMinutes, cell.EndMinutes) {
		return nil, "", apperr.BadRequest(ErrCellOutsideSchedule)
	}
	unlock := s.lock(draftID)
	defer unlock()

	draft, err := s.load(ctx, ownerID, draftID)
	if err != nil {
		return nil, "", err
	}
	committed, _, err := s.committed(ctx, draft.ClassRef)
	if err != nil {
		return nil, "", err
	}
	action, err := draft.Click(cell, committed)
	if errors.Is(err, ErrLessonRequired) {
		return nil, "", apperr.BadRequest(ErrLessonRequired.Error())
	}
	if err != nil {
		return nil, "", err
	}
	if err := s.persist(ctx, draft); err != nil {
		return nil, "", err
	}
	view, err := s.renderWith(ctx, draft, committed)
	return view, action, err
}

// Cancel clears staged changes without touching committed entries.
func (s *Service) Cancel(ctx context.Context, ownerID, draftID string) (*View, error) {
	unlock := s.lock(draftID)
	defer unlock()

	draft, err := s.load(ctx, ownerID, draftID)
	if err != nil {
		return nil, err
	}
	draft.Cancel()
	if err := s.persist(ctx, draft); err != nil {
		return nil, err
	}
	return s.render(ctx, draft)
}

func (s *Service) Discard(ctx context.Context, ownerID, draftID string) error {
	unlock := s.lock(draftID)
	defer unlock()

	if _, err := s.load(ctx, ownerID, draftID); err != nil {
		return err
	}
	return s.drafts.Delete(ctx, draftID)
}

// Save re-reads the committed entries, rejects the batch if any staged cell no
// longer matches them, then applies all operations as one unit. Staged state is
// kept on any failure and cleared on success.
func (s *Service) Save(ctx context.Context, ownerID, draftID string) (SaveResult, *View, error) {
	unlock := s.lock(draftID)
	defer unlock()

	draft, err := s.load(ctx, ownerID, draftID)
	if err != nil {
		return SaveResult{}, nil, err
	}
	committed, labels, err := s.committed(ctx, draft.ClassRef)
	if err != nil {
		return SaveResult{}, nil, err
	}
	if cells := Collisions(draft, committed); len(cells) > 0 {
		s.metrics.DraftConflict()
		return SaveResult{}, nil, &ConflictError{Cells: cells}
	}
	class, ok := labels.Class(draft.ClassRef)
	if !ok {
		return SaveResult{}, nil, apperr.NotFound(ErrClassNotFound)
	}

	batch := draft.Batch(class.ID)
	result := SaveResult{Created: len(batch.Creates), Deleted: len(batch.Deletes), Updated: len(batch.Updates)}
	if !batch.Empty() {
		if err := s.backend.ApplyTimetableBatch(ctx, labels.Refs(draft.ClassRef), batch); err != nil {
			if errors.Is(err, store.ErrConflict) {
				s.metrics.DraftConflict()
				return SaveResult{}, nil, &ConflictError{}
			}
			s.log.Error("timetable batch failed", zap.String("draft", draft.ID), zap.Error(err))
			return SaveResult{}, nil, err
		}
		s.metrics.TimetableBatch(result.Created, result.Deleted, result.Updated)
		events.Notify(ctx, s.events, s.log, events.Event{Collection: events.CollectionTimetable, ID: class.ID, Op: "batch"})
	}

	draft.Cancel()
	if err := s.persist(ctx, draft); err != nil {
		return result, nil, err
	}
	view, err := s.render(ctx, draft)
	return result, view, err
}

// Collisions returns the staged cells that no longer agree with committed:
// additions onto an occupied slot, deletions of entries that are gone and
// replacements of entries whose lesson changed.
func Collisions(draft *Draft, committed Committed) []CellKey {
	byID := make(map[string]model.TimetableEntry, len(committed))
	for _, entry := range committed {
		byID[entry.ID] = entry
	}
	var out []CellKey
	for _, cell := range sortedKeys(draft.Adds) {
		if occupied(cell, committed) {
			out = append(out, cell)
		}
	}
	for _, cell := range sortedKeys(draft.Deletes) {
		if _, ok := byID[draft.Deletes[cell]]; !ok {
			out = append(out, cell)
		}
	}
	for _, cell := range sortedKeys(draft.Replaces) {
		r := draft.Replaces[cell]
		entry, ok := byID[r.EntryID]
		if !ok || entry.LessonID != r.FromLessonID {
			out = append(out, cell)
		}
	}
	return out
}

func (s *Service) load(ctx context.Context, ownerID, draftID string) (*Draft, error) {
	draft, err := s.drafts.Get(ctx, draftID)
	if errors.Is(err, ErrDraftNotFound) {
		return nil, apperr.NotFound(ErrDraftNotFound.Error())
	}
	if err != nil {
		return nil, err
	}
	if draft.OwnerID != ownerID {
		return nil, apperr.Forbidden(ErrDraftForbidden)
	}
	return draft, nil
}

func (s *Service) persist(ctx context.Context, draft *Draft) error {
	draft.UpdatedAt = s.now()
	return s.drafts.Put(ctx, draft)
}

func (s *Service) resolveClass(ctx context.Context, classRef string) (resolver.Labels, error) {
	if classRef == "" {
		return resolver.Labels{}, apperr.BadRequest("missing_class")
	}
	labels, err := s.resolver.Resolve(ctx, []string{classRef})
	if err != nil {
		return resolver.Labels{}, err
	}
	if _, ok := labels.Class(classRef); !ok {
		return resolver.Labels{}, apperr.NotFound(ErrClassNotFound)
	}
	return labels, nil
}

func (s *Service) checkLesson(ctx context.Context, lessonID string) error {
	if lessonID == "" {
		return nil
	}
	if _, err := s.backend.GetLesson(ctx, lessonID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound(ErrLessonNotFound)
		}
		return err
	}
	return nil
}

func (s *Service) committed(ctx context.Context, classRef string) (Committed, resolver.Labels, error) {
	labels, err := s.resolveClass(ctx, classRef)
	if err != nil {
		return nil, resolver.Labels{}, err
	}
	entries, err := s.backend.ListEntries(ctx, store.EntryFilter{ClassRefs: labels.Refs(classRef), Day: -1})
	if err != nil {
		return nil, resolver.Labels{}, err
	}
	return NewCommitted(entries), labels, nil
}

func (s *Service) render(ctx context.Context, draft *Draft) (*View, error) {
	committed, _, err := s.committed(ctx, draft.ClassRef)
	if err != nil {
		return nil, err
	}
	return s.renderWith(ctx, draft, committed)
}

func (s *Service) renderWith(ctx context.Context, draft *Draft, committed Committed) (*View, error) {
	ids := map[string]bool{}
	for _, entry := range committed {
		ids[entry.LessonID] = true
	}
	for _, id := range draft.Adds {
		ids[id] = true
	}
	for _, r := range draft.Replaces {
		ids[r.FromLessonID] = true
		ids[r.ToLessonID] = true
	}
	lessonIDs := make([]string, 0, len(ids))
	for id := range ids {
		lessonIDs = append(lessonIDs, id)
	}
	lessons, err := s.backend.FindLessonsByID(ctx, lessonIDs)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(lessons))
	for _, lesson := range lessons {
		names[lesson.ID] = lesson.Name
	}
	labels, err := s.resolver.Resolve(ctx, []string{draft.ClassRef})
	if err != nil {
		return nil, err
	}
	return &View{
		Draft:      draft,
		ClassLabel: labels.Label(draft.ClassRef),
		Pending:    draft.Pending(),
		Grid:       draft.Grid(s.schedule, committed, names),
	}, nil
}
