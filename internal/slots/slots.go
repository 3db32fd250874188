// Package slots describes the school's bell schedule: the fixed daily periods
// and the teaching days that together form the timetable grid.
package slots

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const MinutesPerDay = 24 * 60

type Slot struct {
	Index        int    `json:"index"`
	StartMinutes int    `json:"startMinutes"`
	EndMinutes   int    `json:"endMinutes"`
	Label        string `json:"label"`
}

type Schedule struct {
	Slots []Slot `json:"slots"`
	Days  []int  `json:"days"`
}

type Cell struct {
	Day          int `json:"day"`
	StartMinutes int `json:"startMinutes"`
	EndMinutes   int `json:"endMinutes"`
}

var defaultPeriods = []string{
	"08:00-08:45",
	"08:45-09:30",
	"09:50-10:35",
	"10:35-11:20",
	"11:35-12:20",
	"12:20-13:05",
	"13:15-14:00",
	"14:00-14:45",
}

func Default() Schedule {
	schedule, err := Parse(strings.Join(defaultPeriods, ","), []int{0, 1, 2, 3, 4})
	if err != nil {
		panic(err)
	}
	return schedule
}

// Parse reads a comma separated list of HH:MM-HH:MM periods. Periods must be
// ordered and must not overlap.
func Parse(spec string, days []int) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Schedule{}, errors.New("empty bell schedule")
	}
	if len(days) == 0 {
		return Schedule{}, errors.New("no school days")
	}
	seen := map[int]bool{}
	for _, day := range days {
		if day < 0 || day > 6 {
			return Schedule{}, fmt.Errorf("invalid day %d", day)
		}
		if seen[day] {
			return Schedule{}, fmt.Errorf("duplicate day %d", day)
		}
		seen[day] = true
	}

	parts := strings.Split(spec, ",")
	out := Schedule{Slots: make([]Slot, 0, len(parts)), Days: append([]int(nil), days...)}
	prevEnd := -1
	for i, part := range parts {
		bounds := strings.Split(strings.TrimSpace(part), "-")
		if len(bounds) != 2 {
			return Schedule{}, fmt.Errorf("invalid period %q", part)
		}
		start, err := ParseClock(bounds[0])
		if err != nil {
			return Schedule{}, err
		}
		end, err := ParseClock(bounds[1])
		if err != nil {
			return Schedule{}, err
		}
		if start >= end {
			return Schedule{}, fmt.Errorf("period %q ends before it starts", part)
		}
		if start < prevEnd {
			return Schedule{}, fmt.Errorf("period %q overlaps the previous one", part)
		}
		prevEnd = end
		out.Slots = append(out.Slots, Slot{
			Index:        i + 1,
			StartMinutes: start,
			EndMinutes:   end,
			Label:        FormatMinutes(start) + "-" + FormatMinutes(end),
		})
	}
	return out, nil
}

// Cells enumerates the grid row by row: every slot across every day.
func (s Schedule) Cells() []Cell {
	out := make([]Cell, 0, len(s.Slots)*len(s.Days))
	for _, slot := range s.Slots {
		for _, day := range s.Days {
			out = append(out, Cell{Day: day, StartMinutes: slot.StartMinutes, EndMinutes: slot.EndMinutes})
		}
	}
	return out
}

func (s Schedule) Contains(day, start, end int) bool {
	dayOK := false
	for _, d := range s.Days {
		if d == day {
			dayOK = true
			break
		}
	}
	if !dayOK {
		return false
	}
	for _, slot := range s.Slots {
		if slot.StartMinutes == start && slot.EndMinutes == end {
			return true
		}
	}
	return false
}

// SlotAt returns the slot containing minute, if any.
func (s Schedule) SlotAt(minute int) (Slot, bool) {
	for _, slot := range s.Slots {
		if slot.StartMinutes <= minute && minute < slot.EndMinutes {
			return slot, true
		}
	}
	return Slot{}, false
}

// ParseClock converts "HH:MM" into minutes after midnight. "24:00" is accepted as end of day.
func ParseClock(value string) (int, error) {
	value = strings.TrimSpace(value)
	hh, mm, ok := strings.Cut(value, ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q", value)
	}
	hours, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", value)
	}
	minutes, err := strconv.Atoi(mm)
	if err != nil || len(mm) != 2 {
		return 0, fmt.Errorf("invalid time %q", value)
	}
	total := hours*60 + minutes
	if hours < 0 || minutes < 0 || minutes > 59 || total > MinutesPerDay {
		return 0, fmt.Errorf("invalid time %q", value)
	}
	return total, nil
}

func FormatMinutes(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
