package timetable

import (
	"schoolboard/internal/model"
	"schoolboard/internal/slots"
	"schoolboard/internal/store"
)

type CellState string

const (
	StateEmpty             CellState = "empty"
	StateCommittedSelected CellState = "committedSelected"
	StateCommittedOther    CellState = "committedOther"
	StateWillAdd           CellState = "willAdd"
	StateWillDelete        CellState = "willDelete"
	StateWillReplace       CellState = "willReplace"
	// StateConflict marks a staged addition whose cell has since been taken by a committed entry.
	StateConflict CellState = "conflict"
	// StateMisaligned marks a grid cell covered by a committed entry whose times
	// match no grid cell. Clicking it stages deletion of that entry.
	StateMisaligned CellState = "misaligned"
)

// State resolves a cell's display state. Precedence: deletion, addition,
// replacement, committed entry of the selected lesson, other committed entry,
// misaligned entry, empty.
func (d *Draft) State(cell CellKey, committed Committed) CellState {
	if _, ok := d.Deletes[cell]; ok {
		return StateWillDelete
	}
	if _, ok := d.Adds[cell]; ok {
		if occupied(cell, committed) {
			return StateConflict
		}
		return StateWillAdd
	}
	if _, ok := d.Replaces[cell]; ok {
		return StateWillReplace
	}
	if entry, ok := committed[cell]; ok {
		if d.LessonID != "" && entry.LessonID == d.LessonID {
			return StateCommittedSelected
		}
		return StateCommittedOther
	}
	if _, ok := covering(cell, committed); ok {
		return StateMisaligned
	}
	return StateEmpty
}

func occupied(cell CellKey, committed Committed) bool {
	for key := range committed {
		if key.Day == cell.Day && store.Overlaps(key.StartMinutes, key.EndMinutes, cell.StartMinutes, cell.EndMinutes) {
			return true
		}
	}
	return false
}

// covering returns the committed entry stored at cell, or else the earliest
// committed entry overlapping it.
func covering(cell CellKey, committed Committed) (model.TimetableEntry, bool) {
	if entry, ok := committed[cell]; ok {
		return entry, true
	}
	var found model.TimetableEntry
	ok := false
	for key, entry := range committed {
		if key.Day != cell.Day || !store.Overlaps(key.StartMinutes, key.EndMinutes, cell.StartMinutes, cell.EndMinutes) {
			continue
		}
		if !ok || entry.StartMinutes < found.StartMinutes || (entry.StartMinutes == found.StartMinutes && entry.ID < found.ID) {
			found, ok = entry, true
		}
	}
	return found, ok
}

type GridCell struct {
	CellKey
	State    CellState `json:"state"`
	Text     string    `json:"text"`
	LessonID string    `json:"lessonId,omitempty"`
	EntryID  string    `json:"entryId,omitempty"`
}

// Text returns the label a cell shows. A replacement shows the old lesson
// with an arrow until it is saved or cancelled.
func (d *Draft) Text(cell CellKey, committed Committed, lessonNames map[string]string) string {
	name := func(id string) string {
		if n, ok := lessonNames[id]; ok && n != "" {
			return n
		}
		return id
	}
	switch d.State(cell, committed) {
	case StateWillAdd, StateConflict:
		return name(d.Adds[cell])
	case StateWillReplace:
		return name(d.Replaces[cell].FromLessonID) + " (→)"
	case StateWillDelete, StateCommittedSelected, StateCommittedOther, StateMisaligned:
		entry, _ := covering(cell, committed)
		return name(entry.LessonID)
	}
	return ""
}

// Grid renders every schedule cell, row by row.
func (d *Draft) Grid(schedule slots.Schedule, committed Committed, lessonNames map[string]string) []GridCell {
	cells := schedule.Cells()
	out := make([]GridCell, 0, len(cells))
	for _, c := range cells {
		key := CellKey{Day: c.Day, StartMinutes: c.StartMinutes, EndMinutes: c.EndMinutes}
		gc := GridCell{
			CellKey: key,
			State:   d.State(key, committed),
			Text:    d.Text(key, committed, lessonNames),
		}
		if entry, ok := covering(key, committed); ok {
			gc.EntryID = entry.ID
			gc.LessonID = entry.LessonID
		}
		switch gc.State {
		case StateWillAdd, StateConflict:
			gc.LessonID = d.Adds[key]
		case StateWillReplace:
			gc.LessonID = d.Replaces[key].ToLessonID
		}
		out = append(out, gc)
	}
	return out
}
