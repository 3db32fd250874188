// Package timetable holds the staging engine used to paint lesson assignments
// onto the weekly grid and commit them as one batch.
package timetable

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"schoolboard/internal/model"
)

var ErrLessonRequired = errors.New("lesson_required")

type CellKey struct {
	Day          int `json:"day"`
	StartMinutes int `json:"startMinutes"`
	EndMinutes   int `json:"endMinutes"`
}

func (k CellKey) String() string {
	return fmt.Sprintf("%d:%d-%d", k.Day, k.StartMinutes, k.EndMinutes)
}

func keyOf(entry model.TimetableEntry) CellKey {
	return CellKey{Day: entry.Day, StartMinutes: entry.StartMinutes, EndMinutes: entry.EndMinutes}
}

type Replacement struct {
	EntryID      string `json:"entryId"`
	FromLessonID string `json:"fromLessonId"`
	ToLessonID   string `json:"toLessonId"`
}

// Committed indexes a class's stored entries by grid cell.
type Committed map[CellKey]model.TimetableEntry

func NewCommitted(entries []model.TimetableEntry) Committed {
	out := make(Committed, len(entries))
	for _, entry := range entries {
		key := keyOf(entry)
		if _, ok := out[key]; ok {
			continue
		}
		out[key] = entry
	}
	return out
}

type Action string

const (
	ActionUnstaged      Action = "unstaged"
	ActionStagedAdd     Action = "stagedAdd"
	ActionStagedDelete  Action = "stagedDelete"
	ActionStagedReplace Action = "stagedReplace"
)

// Draft is one operator's set of staged changes for a single class. A cell is
// present in at most one of Adds, Deletes and Replaces.
type Draft struct {
	ID        string
	OwnerID   string
	ClassRef  string
	LessonID  string
	Adds      map[CellKey]string
	Deletes   map[CellKey]string
	Replaces  map[CellKey]Replacement
	UpdatedAt time.Time
}

func NewDraft(id, ownerID, classRef, lessonID string) *Draft {
	d := &Draft{ID: id, OwnerID: ownerID, ClassRef: classRef, LessonID: lessonID}
	d.reset()
	return d
}

func (d *Draft) reset() {
	d.Adds = map[CellKey]string{}
	d.Deletes = map[CellKey]string{}
	d.Replaces = map[CellKey]Replacement{}
}

func (d *Draft) Pending() int {
	return len(d.Adds) + len(d.Deletes) + len(d.Replaces)
}

func (d *Draft) staged(cell CellKey) bool {
	if _, ok := d.Adds[cell]; ok {
		return true
	}
	if _, ok := d.Deletes[cell]; ok {
		return true
	}
	_, ok := d.Replaces[cell]
	return ok
}

// Click applies the toggle rules for one grid cell.
func (d *Draft) Click(cell CellKey, committed Committed) (Action, error) {
	if d.staged(cell) {
		delete(d.Adds, cell)
		delete(d.Deletes, cell)
		delete(d.Replaces, cell)
		return ActionUnstaged, nil
	}
	if entry, ok := committed[cell]; ok {
		if d.LessonID == "" || d.LessonID == entry.LessonID {
			d.Deletes[cell] = entry.ID
			return ActionStagedDelete, nil
		}
		d.Replaces[cell] = Replacement{EntryID: entry.ID, FromLessonID: entry.LessonID, ToLessonID: d.LessonID}
		return ActionStagedReplace, nil
	}
	if entry, ok := covering(cell, committed); ok {
		d.Deletes[cell] = entry.ID
		return ActionStagedDelete, nil
	}
	if d.LessonID == "" {
		return "", ErrLessonRequired
	}
	d.Adds[cell] = d.LessonID
	return ActionStagedAdd, nil
}

// Cancel drops every staged change.
func (d *Draft) Cancel() {
	d.reset()
}

// SelectClass switches the class and discards staged changes. It returns how
// many staged changes were dropped.
func (d *Draft) SelectClass(classRef string) int {
	if classRef == d.ClassRef {
		return 0
	}
	dropped := d.Pending()
	d.ClassRef = classRef
	d.reset()
	return dropped
}

// SelectLesson switches the selected lesson and discards staged changes.
func (d *Draft) SelectLesson(lessonID string) int {
	if lessonID == d.LessonID {
		return 0
	}
	dropped := d.Pending()
	d.LessonID = lessonID
	d.reset()
	return dropped
}

// Batch translates the staged maps into store operations: one create per
// addition, one delete per deleted entry and one update per replacement.
func (d *Draft) Batch(classID string) model.TimetableBatch {
	batch := model.TimetableBatch{
		Creates: make([]model.TimetableEntry, 0, len(d.Adds)),
		Deletes: make([]string, 0, len(d.Deletes)),
		Updates: make([]model.EntryUpdate, 0, len(d.Replaces)),
	}
	for _, cell := range sortedKeys(d.Adds) {
		batch.Creates = append(batch.Creates, model.TimetableEntry{
			ClassID:      classID,
			LessonID:     d.Adds[cell],
			Day:          cell.Day,
			StartMinutes: cell.StartMinutes,
			EndMinutes:   cell.EndMinutes,
		})
	}
	deleted := map[string]bool{}
	for _, cell := range sortedKeys(d.Deletes) {
		id := d.Deletes[cell]
		if deleted[id] {
			continue
		}
		deleted[id] = true
		batch.Deletes = append(batch.Deletes, id)
	}
	for _, cell := range sortedKeys(d.Replaces) {
		r := d.Replaces[cell]
		batch.Updates = append(batch.Updates, model.EntryUpdate{ID: r.EntryID, LessonID: r.ToLessonID})
	}
	return batch
}

func sortedKeys[V any](m map[CellKey]V) []CellKey {
	keys := make([]CellKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.StartMinutes != b.StartMinutes {
			return a.StartMinutes < b.StartMinutes
		}
		return a.EndMinutes < b.EndMinutes
	})
	return keys
}

type stagedAdd struct {
	Cell     CellKey `json:"cell"`
	LessonID string  `json:"lessonId"`
}

type stagedDelete struct {
	Cell    CellKey `json:"cell"`
	EntryID string  `json:"entryId"`
}

type stagedReplace struct {
	Cell CellKey `json:"cell"`
	Replacement
}

type draftJSON struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"ownerId"`
	ClassRef  string          `json:"classRef"`
	LessonID  string          `json:"lessonId"`
	Adds      []stagedAdd     `json:"adds"`
	Deletes   []stagedDelete  `json:"deletes"`
	Replaces  []stagedReplace `json:"replaces"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (d *Draft) MarshalJSON() ([]byte, error) {
	wire := draftJSON{
		ID:        d.ID,
		OwnerID:   d.OwnerID,
		ClassRef:  d.ClassRef,
		LessonID:  d.LessonID,
		Adds:      make([]stagedAdd, 0, len(d.Adds)),
		Deletes:   make([]stagedDelete, 0, len(d.Deletes)),
		Replaces:  make([]stagedReplace, 0, len(d.Replaces)),
		UpdatedAt: d.UpdatedAt,
	}
	for _, cell := range sortedKeys(d.Adds) {
		wire.Adds = append(wire.Adds, stagedAdd{Cell: cell, LessonID: d.Adds[cell]})
	}
	for _, cell := range sortedKeys(d.Deletes) {
		wire.Deletes = append(wire.Deletes, stagedDelete{Cell: cell, EntryID: d.Deletes[cell]})
	}
	for _, cell := range sortedKeys(d.Replaces) {
		wire.Replaces = append(wire.Replaces, stagedReplace{Cell: cell, Replacement: d.Replaces[cell]})
	}
	return json.Marshal(wire)
}

func (d *Draft) UnmarshalJSON(data []byte) error {
	var wire draftJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	d.ID, d.OwnerID, d.ClassRef, d.LessonID, d.UpdatedAt = wire.ID, wire.OwnerID, wire.ClassRef, wire.LessonID, wire.UpdatedAt
	d.reset()
	for _, a := range wire.Adds {
		d.Adds[a.Cell] = a.LessonID
	}
	for _, del := range wire.Deletes {
		d.Deletes[del.Cell] = del.EntryID
	}
	for _, r := range wire.Replaces {
		d.Replaces[r.Cell] = r.Replacement
	}
	return nil
}
