package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// HabitDefinition is one tracked habit. IDs are opaque, stable and never
// reused after deletion.
type HabitDefinition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon"`
}

// DayRecord maps habit id -> completion flag for one calendar day.
// Invariant: contains an entry for every currently-active habit id
// (restored by Normalize after loads and schema changes).
type DayRecord map[string]bool

// MonthDataset is the unit of persistence and synchronization: the full
// state for one (user, year, month) tuple.
type MonthDataset struct {
	Habits []HabitDefinition    `json:"habits"`
	Days   map[string]DayRecord `json:"days"`
}

// DefaultHabits returns the seeded habit set for a first run.
func DefaultHabits() []HabitDefinition {
	return []HabitDefinition{
		{ID: "h1", Name: "Wake up at 6:30 AM", Icon: "⏰"},
		{ID: "h2", Name: "Morning walk — 10K steps", Icon: "🚶"},
		{ID: "h3", Name: "Drink 5 liters of water", Icon: "💧"},
		{ID: "h4", Name: "Sleep hygiene 6h", Icon: "🛏️"},
		{ID: "h5", Name: "Work/Planning the day 8h", Icon: "📝"},
		{ID: "h6", Name: "Gym workout", Icon: "🏋️"},
		{ID: "h7", Name: "Skill development (2h)", Icon: "📚"},
		{ID: "h8", Name: "Healthy eating", Icon: "🥗"},
		{ID: "h9", Name: "Limit social media (≤30 min)", Icon: "📱"},
		{ID: "h10", Name: "No junk food", Icon: "🚫"},
	}
}

// NewHabitID generates a fresh unique habit id.
func NewHabitID() string {
	return "h-" + uuid.NewString()
}

// DaysIn returns the number of days in the given month (month is 1..12).
func DaysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DayKey builds the canonical YYYY-MM-DD key for a day of the month.
func DayKey(year, month, day int) string {
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
}

// ParseDayKey validates a YYYY-MM-DD key and reports whether it falls
// inside the given month.
func ParseDayKey(key string, year, month int) (day int, ok bool) {
	t, err := time.Parse("2006-01-02", key)
	if err != nil {
		return 0, false
	}
	if t.Year() != year || int(t.Month()) != month {
		return 0, false
	}
	return t.Day(), true
}

// NewMonthDataset builds a fresh dataset: default habits and one all-false
// DayRecord for every day of the month.
func NewMonthDataset(year, month int) *MonthDataset {
	ds := &MonthDataset{
		Habits: DefaultHabits(),
		Days:   make(map[string]DayRecord),
	}
	for d := 1; d <= DaysIn(year, month); d++ {
		rec := make(DayRecord, len(ds.Habits))
		for _, h := range ds.Habits {
			rec[h.ID] = false
		}
		ds.Days[DayKey(year, month, d)] = rec
	}
	return ds
}

// Normalize is the reconciliation pass run after any load and after
// schema-changing mutations: every day of the month gets a DayRecord and
// every DayRecord gets an entry for every active habit (false default).
// It only adds entries; stale habit keys are removed by RemoveHabit alone.
func (ds *MonthDataset) Normalize(year, month int) {
	if ds.Days == nil {
		ds.Days = make(map[string]DayRecord)
	}
	for d := 1; d <= DaysIn(year, month); d++ {
		key := DayKey(year, month, d)
		rec, exists := ds.Days[key]
		if !exists {
			rec = make(DayRecord, len(ds.Habits))
			ds.Days[key] = rec
		}
		for _, h := range ds.Habits {
			if _, present := rec[h.ID]; !present {
				rec[h.ID] = false
			}
		}
	}
}

// HasHabit reports whether id references a currently-active habit.
func (ds *MonthDataset) HasHabit(id string) bool {
	for _, h := range ds.Habits {
		if h.ID == id {
			return true
		}
	}
	return false
}

// EnsureDay returns the DayRecord for key, creating it on demand with every
// active habit defaulted to false.
func (ds *MonthDataset) EnsureDay(key string) DayRecord {
	if ds.Days == nil {
		ds.Days = make(map[string]DayRecord)
	}
	rec, exists := ds.Days[key]
	if !exists {
		rec = make(DayRecord, len(ds.Habits))
		for _, h := range ds.Habits {
			rec[h.ID] = false
		}
		ds.Days[key] = rec
	}
	return rec
}

// Clone returns a deep copy of the dataset.
func (ds *MonthDataset) Clone() *MonthDataset {
	out := &MonthDataset{
		Habits: make([]HabitDefinition, len(ds.Habits)),
		Days:   make(map[string]DayRecord, len(ds.Days)),
	}
	copy(out.Habits, ds.Habits)
	for key, rec := range ds.Days {
		cp := make(DayRecord, len(rec))
		for id, done := range rec {
			cp[id] = done
		}
		out.Days[key] = cp
	}
	return out
}
