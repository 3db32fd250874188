package timetable

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolboard/internal/model"
	"schoolboard/internal/slots"
)

var (
	cellA = CellKey{Day: 1, StartMinutes: 480, EndMinutes: 525}
	cellB = CellKey{Day: 1, StartMinutes: 525, EndMinutes: 570}
	cellC = CellKey{Day: 2, StartMinutes: 480, EndMinutes: 525}
)

func committedFixture() Committed {
	return NewCommitted([]model.TimetableEntry{
		{ID: "e-math", ClassID: "c1", LessonID: "math", Day: 1, StartMinutes: 525, EndMinutes: 570},
		{ID: "e-bio", ClassID: "c1", LessonID: "bio", Day: 2, StartMinutes: 480, EndMinutes: 525},
	})
}

func TestClickEmptyCellTogglesAddition(t *testing.T) {
	d := NewDraft("d1", "u1", "c1", "math")
	committed := committedFixture()

	action, err := d.Click(cellA, committed)
	require.NoError(t, err)
	assert.Equal(t, ActionStagedAdd, action)
	assert.Equal(t, StateWillAdd, d.State(cellA, committed))

	action, err = d.Click(cellA, committed)
	require.NoError(t, err)
	assert.Equal(t, ActionUnstaged, action)
	assert.Equal(t, StateEmpty, d.State(cellA, committed))
	assert.Zero(t, d.Pending())
}

func TestClickEmptyCellWithoutLesson(t *testing.T) {
	d := NewDraft("d1", "u1", "c1", "")
	_, err := d.Click(cellA, committedFixture())
	assert.ErrorIs(t, err, ErrLessonRequired)
	assert.Zero(t, d.Pending())
}

func TestClickCommittedCellStagesDeletion(t *testing.T) {
	committed := committedFixture()
	names := map[string]string{"math": "Math", "bio": "Biology"}

	for _, selected := range []string{"", "math"} {
		d := NewDraft("d1", "u1", "c1", selected)
		before := d.Text(cellB, committed, names)

		action, err := d.Click(cellB, committed)
		require.NoError(t, err)
		assert.Equal(t, ActionStagedDelete, action)
		assert.Equal(t, StateWillDelete, d.State(cellB, committed))
		assert.Equal(t, "e-math", d.Deletes[cellB])

		_, err = d.Click(cellB, committed)
		require.NoError(t, err)
		assert.Equal(t, before, d.Text(cellB, committed, names))
		assert.Zero(t, d.Pending())
	}
}

func TestClickCommittedCellWithOtherLessonStagesReplacement(t *testing.T) {
	committed := committedFixture()
	names := map[string]string{"math": "Math", "bio": "Biology"}
	d := NewDraft("d1", "u1", "c1", "bio")

	assert.Equal(t, StateCommittedOther, d.State(cellB, committed))
	assert.Equal(t, StateCommittedSelected, d.State(cellC, committed))

	action, err := d.Click(cellB, committed)
	require.NoError(t, err)
	assert.Equal(t, ActionStagedReplace, action)
	assert.Equal(t, StateWillReplace, d.State(cellB, committed))
	assert.Equal(t, "Math (→)", d.Text(cellB, committed, names))
	assert.Equal(t, Replacement{EntryID: "e-math", FromLessonID: "math", ToLessonID: "bio"}, d.Replaces[cellB])

	d.Cancel()
	assert.Equal(t, "Math", d.Text(cellB, committed, names))
}

func TestStatePrecedence(t *testing.T) {
	committed := committedFixture()
	d := NewDraft("d1", "u1", "c1", "bio")
	// Force overlapping staged state to check precedence.
	d.Deletes[cellB] = "e-math"
	d.Adds[cellB] = "bio"
	d.Replaces[cellB] = Replacement{EntryID: "e-math", FromLessonID: "math", ToLessonID: "bio"}
	assert.Equal(t, StateWillDelete, d.State(cellB, committed))

	delete(d.Deletes, cellB)
	assert.Equal(t, StateConflict, d.State(cellB, committed))

	d.Adds[cellA] = "bio"
	assert.Equal(t, StateWillAdd, d.State(cellA, committed))

	delete(d.Adds, cellB)
	assert.Equal(t, StateWillReplace, d.State(cellB, committed))
}

func TestCellInAtMostOneMap(t *testing.T) {
	committed := committedFixture()
	d := NewDraft("d1", "u1", "c1", "art")
	for _, cell := range []CellKey{cellA, cellB, cellC, cellA, cellB} {
		_, err := d.Click(cell, committed)
		require.NoError(t, err)
		count := 0
		if _, ok := d.Adds[cell]; ok {
			count++
		}
		if _, ok := d.Deletes[cell]; ok {
			count++
		}
		if _, ok := d.Replaces[cell]; ok {
			count++
		}
		assert.LessOrEqual(t, count, 1)
	}
}

func TestSelectionSwitchDiscardsStagedState(t *testing.T) {
	committed := committedFixture()
	d := NewDraft("d1", "u1", "c1", "art")
	_, _ = d.Click(cellA, committed)
	_, _ = d.Click(cellB, committed)

	assert.Equal(t, 0, d.SelectLesson("art"))
	assert.Equal(t, 2, d.Pending())
	assert.Equal(t, 2, d.SelectLesson("math"))
	assert.Zero(t, d.Pending())

	_, _ = d.Click(cellA, committed)
	assert.Equal(t, 1, d.SelectClass("c2"))
	assert.Zero(t, d.Pending())
}

func TestBatchCounts(t *testing.T) {
	committed := committedFixture()
	d := NewDraft("d1", "u1", "c1", "art")
	_, _ = d.Click(cellA, committed) // add
	_, _ = d.Click(cellB, committed) // replace math -> art
	_, _ = d.Click(CellKey{Day: 3, StartMinutes: 480, EndMinutes: 525}, committed)
	d.LessonID = ""
	_, _ = d.Click(cellC, committed) // delete

	batch := d.Batch("class-doc")
	assert.Len(t, batch.Creates, 2)
	assert.Len(t, batch.Deletes, 1)
	assert.Len(t, batch.Updates, 1)
	assert.Equal(t, "class-doc", batch.Creates[0].ClassID)
	assert.Equal(t, []string{"e-bio"}, batch.Deletes)
	assert.Equal(t, model.EntryUpdate{ID: "e-math", LessonID: "art"}, batch.Updates[0])
}

func TestDraftJSONRoundTrip(t *testing.T) {
	committed := committedFixture()
	d := NewDraft("d1", "u1", "c1", "art")
	_, _ = d.Click(cellA, committed)
	_, _ = d.Click(cellB, committed)

	data, err := json.Marshal(d)
	require.NoError(t, err)
	var back Draft
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, d.Adds, back.Adds)
	assert.Equal(t, d.Replaces, back.Replaces)
	assert.Empty(t, back.Deletes)
	assert.Equal(t, "u1", back.OwnerID)
}

func TestGridRendersEveryCell(t *testing.T) {
	schedule, err := slots.Parse("08:00-08:45,08:45-09:30", []int{1, 2})
	require.NoError(t, err)
	committed := committedFixture()
	d := NewDraft("d1", "u1", "c1", "art")
	_, _ = d.Click(cellA, committed)

	grid := d.Grid(schedule, committed, map[string]string{"art": "Art", "math": "Math", "bio": "Biology"})
	require.Len(t, grid, 4)
	states := map[CellKey]GridCell{}
	for _, c := range grid {
		states[c.CellKey] = c
	}
	assert.Equal(t, StateWillAdd, states[cellA].State)
	assert.Equal(t, "Art", states[cellA].Text)
	assert.Equal(t, StateCommittedOther, states[cellB].State)
	assert.Equal(t, "e-math", states[cellB].EntryID)
	assert.Equal(t, StateEmpty, states[CellKey{Day: 2, StartMinutes: 525, EndMinutes: 570}].State)
}

func TestMisalignedEntryIsDeletable(t *testing.T) {
	committed := NewCommitted([]model.TimetableEntry{
		{ID: "e-odd", ClassID: "c1", LessonID: "chem", Day: 1, StartMinutes: 500, EndMinutes: 545},
	})
	names := map[string]string{"chem": "Chemistry"}
	d := NewDraft("d1", "u1", "c1", "art")

	for _, cell := range []CellKey{cellA, cellB} {
		assert.Equal(t, StateMisaligned, d.State(cell, committed))
		assert.Equal(t, "Chemistry", d.Text(cell, committed, names))
	}

	action, err := d.Click(cellA, committed)
	require.NoError(t, err)
	assert.Equal(t, ActionStagedDelete, action)
	action, err = d.Click(cellB, committed)
	require.NoError(t, err)
	assert.Equal(t, ActionStagedDelete, action)
	assert.Equal(t, StateWillDelete, d.State(cellA, committed))
	assert.Empty(t, Collisions(d, committed))

	batch := d.Batch("c1")
	assert.Equal(t, []string{"e-odd"}, batch.Deletes)
	assert.Empty(t, batch.Creates)

	schedule, err := slots.Parse("08:00-08:45,08:45-09:30", []int{1})
	require.NoError(t, err)
	for _, c := range d.Grid(schedule, committed, names) {
		assert.Equal(t, "e-odd", c.EntryID)
	}
}
