// Package lessonname extracts level and group information from free-text lesson
// names and groups leveled lessons that share a base subject.
package lessonname

import (
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"schoolboard/internal/model"
	"schoolboard/internal/textnorm"
)

type Parsed struct {
	Base  string `json:"base"`
	Level *int   `json:"level,omitempty"`
	Group string `json:"group,omitempty"`
}

func (p Parsed) Leveled() bool {
	return p.Level != nil
}

var patterns = []*regexp.Regexp{
	regexp.MustCompile(`^(.+?)\s+רמה\s*(\d+)(?:\s+קבוצה\s*(\S+))?$`),
	regexp.MustCompile(`(?i)^(.+?)\s+level\s*(\d+)(?:\s+group\s*(\S+))?$`),
}

// Parse recognises "<base> רמה <N> [קבוצה <G>]" and "<base> Level <N> [Group <G>]".
// Any other name is returned as a base without level.
func Parse(name string) Parsed {
	name = textnorm.Clean(name)
	for _, re := range patterns {
		m := re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		level, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		return Parsed{Base: strings.TrimSpace(m[1]), Level: &level, Group: m[3]}
	}
	return Parsed{Base: name}
}

type Level struct {
	Level   int            `json:"level"`
	Lessons []model.Lesson `json:"lessons"`
}

// LevelGroup is the set of lessons sharing a base subject. Unleveled lessons of the
// base are kept apart from the numbered levels.
type LevelGroup struct {
	Base      string         `json:"base"`
	Levels    []Level        `json:"levels"`
	Unleveled []model.Lesson `json:"unleveled,omitempty"`
}

// Lesson returns the lesson with the given id from any level of the group.
func (g LevelGroup) Lesson(id string) (model.Lesson, bool) {
	for _, level := range g.Levels {
		for _, lesson := range level.Lessons {
			if lesson.ID == id {
				return lesson, true
			}
		}
	}
	for _, lesson := range g.Unleveled {
		if lesson.ID == id {
			return lesson, true
		}
	}
	return model.Lesson{}, false
}

func (g LevelGroup) LessonsAt(level int) []model.Lesson {
	for _, l := range g.Levels {
		if l.Level == level {
			return l.Lessons
		}
	}
	return nil
}

// GroupByBase groups lessons by parsed base. A base is returned only when it has at
// least two lessons and at least one of them carries a level.
func GroupByBase(lessons []model.Lesson) []LevelGroup {
	type bucket struct {
		base    string
		lessons []model.Lesson
		parsed  []Parsed
	}
	buckets := map[string]*bucket{}
	var order []string
	for _, lesson := range lessons {
		p := Parse(lesson.Name)
		key := textnorm.Fold(p.Base)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{base: p.Base}
			buckets[key] = b
			order = append(order, key)
		}
		b.lessons = append(b.lessons, lesson)
		b.parsed = append(b.parsed, p)
	}

	var out []LevelGroup
	for _, key := range order {
		b := buckets[key]
		if len(b.lessons) < 2 {
			continue
		}
		levels := map[int][]model.Lesson{}
		group := LevelGroup{Base: b.base}
		for i, p := range b.parsed {
			if p.Leveled() {
				levels[*p.Level] = append(levels[*p.Level], b.lessons[i])
			} else {
				group.Unleveled = append(group.Unleveled, b.lessons[i])
			}
		}
		if len(levels) == 0 {
			continue
		}
		for level, ls := range levels {
			sort.SliceStable(ls, func(i, j int) bool { return lessLesson(ls[i], ls[j]) })
			group.Levels = append(group.Levels, Level{Level: level, Lessons: ls})
		}
		sort.Slice(group.Levels, func(i, j int) bool { return group.Levels[i].Level < group.Levels[j].Level })
		out = append(out, group)
	}
	sort.SliceStable(out, func(i, j int) bool { return textnorm.Fold(out[i].Base) < textnorm.Fold(out[j].Base) })
	return out
}

// SmallestLesson picks the lesson with the fewest students. Ties go to the lower
// group label, then the lower lesson id.
func SmallestLesson(lessons []model.Lesson) (model.Lesson, bool) {
	if len(lessons) == 0 {
		return model.Lesson{}, false
	}
	best := lessons[0]
	for _, lesson := range lessons[1:] {
		if len(lesson.StudentsUserIDs) < len(best.StudentsUserIDs) ||
			(len(lesson.StudentsUserIDs) == len(best.StudentsUserIDs) && lessLesson(lesson, best)) {
			best = lesson
		}
	}
	return best, true
}

func lessLesson(a, b model.Lesson) bool {
	ga, gb := Parse(a.Name).Group, Parse(b.Name).Group
	if ga != gb {
		return compareGroup(ga, gb)
	}
	return a.ID < b.ID
}

// compareGroup orders numeric group labels numerically and the rest by folded text.
func compareGroup(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return textnorm.Fold(a) < textnorm.Fold(b)
}

// Move is one student leaving a lesson for another.
type Move struct {
	StudentID    string `json:"studentId"`
	FromLessonID string `json:"fromLessonId"`
	ToLessonID   string `json:"toLessonId"`
}

type MoveRequest struct {
	FromLessonID string
	ToLevel      int
	// TargetLessonID pins the destination; empty picks the smallest lesson of ToLevel.
	TargetLessonID string
	// StudentIDs limits the move; empty moves every student of the source lesson.
	StudentIDs []string
}

type Skip struct {
	StudentID string `json:"studentId"`
	Reason    string `json:"reason"`
}

const (
	SkipNotInSource   = "not_in_source"
	SkipAlreadyMember = "already_member"
)

var (
	ErrSourceNotInGroup = errors.New("source_lesson_not_in_group")
	ErrTargetNotInLevel = errors.New("target_lesson_not_in_level")
	ErrEmptyLevel       = errors.New("level_has_no_lessons")
	ErrSameLesson       = errors.New("same_lesson")
)

// PlanMove computes the moves for "move one" (explicit StudentIDs) and "move all".
// Each destination pick uses the lesson sizes as they would be after the earlier
// moves of the same plan, so a large move spreads across the level's lessons.
func PlanMove(group LevelGroup, req MoveRequest) ([]Move, []Skip, error) {
	source, ok := group.Lesson(req.FromLessonID)
	if !ok {
		return nil, nil, ErrSourceNotInGroup
	}
	candidates := group.LessonsAt(req.ToLevel)
	if len(candidates) == 0 {
		return nil, nil, ErrEmptyLevel
	}
	if req.TargetLessonID != "" {
		var pinned []model.Lesson
		for _, lesson := range candidates {
			if lesson.ID == req.TargetLessonID {
				pinned = append(pinned, lesson)
			}
		}
		if len(pinned) == 0 {
			return nil, nil, ErrTargetNotInLevel
		}
		candidates = pinned
	}
	if len(candidates) == 1 && candidates[0].ID == source.ID {
		return nil, nil, ErrSameLesson
	}

	studentIDs := req.StudentIDs
	if len(studentIDs) == 0 {
		studentIDs = source.StudentsUserIDs
	}

	// Work on copies so sizes can grow as the plan assigns students.
	working := make([]model.Lesson, 0, len(candidates))
	for _, lesson := range candidates {
		if lesson.ID == source.ID {
			continue
		}
		lesson.StudentsUserIDs = append([]string(nil), lesson.StudentsUserIDs...)
		working = append(working, lesson)
	}

	var moves []Move
	var skips []Skip
	seen := map[string]bool{}
	for _, id := range studentIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if !source.HasStudent(id) {
			skips = append(skips, Skip{StudentID: id, Reason: SkipNotInSource})
			continue
		}
		if memberOfAny(working, id) {
			skips = append(skips, Skip{StudentID: id, Reason: SkipAlreadyMember})
			continue
		}
		target, _ := SmallestLesson(working)
		for i := range working {
			if working[i].ID == target.ID {
				working[i].StudentsUserIDs = append(working[i].StudentsUserIDs, id)
			}
		}
		moves = append(moves, Move{StudentID: id, FromLessonID: source.ID, ToLessonID: target.ID})
	}
	return moves, skips, nil
}

func memberOfAny(lessons []model.Lesson, id string) bool {
	for _, lesson := range lessons {
		if lesson.HasStudent(id) {
			return true
		}
	}
	return false
}
