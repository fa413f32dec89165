// Package stats computes read-only analytics over a reconciled
// MonthDataset: streaks, completion aggregates and heatmap levels. It never
// mutates the dataset.
package stats

import (
	"dailydrive/internal/model"
)

// DailyRate is one day's completion percentage (0..100).
type DailyRate struct {
	Day  int `json:"day"`
	Rate int `json:"rate"`
}

// Summary aggregates the month up to and including today.
type Summary struct {
	OverallCompletion int         `json:"overall_completion"`
	PerfectDays       int         `json:"perfect_days"`
	BestHabit         string      `json:"best_habit"`
	WorstHabit        string      `json:"worst_habit"`
	DailyRates        []DailyRate `json:"daily_rates"`
}

// DayLevel is a heatmap bucket for one day. Level runs 0 (nothing done)
// to 5 (everything done); Upcoming marks days after today.
type DayLevel struct {
	Day      int  `json:"day"`
	Level    int  `json:"level"`
	Upcoming bool `json:"upcoming"`
}

func dayCounts(ds *model.MonthDataset, year, month, day int) (done, total int) {
	rec := ds.Days[model.DayKey(year, month, day)]
	for _, h := range ds.Habits {
		if rec[h.ID] {
			done++
		}
	}
	return done, len(ds.Habits)
}

// Streak counts consecutive fully-complete days ending today, walking
// backwards from today to the 1st.
func Streak(ds *model.MonthDataset, year, month, today int) int {
	streak := 0
	for d := today; d >= 1; d-- {
		done, total := dayCounts(ds, year, month, d)
		if total == 0 || done != total {
			break
		}
		streak++
	}
	return streak
}

// Summarize computes the month's aggregates over days 1..today.
func Summarize(ds *model.MonthDataset, year, month, today int) Summary {
	totalHabits := len(ds.Habits)
	completions := make(map[string]int, totalHabits)

	s := Summary{
		BestHabit:  "—",
		WorstHabit: "—",
		DailyRates: make([]DailyRate, 0, today),
	}

	totalChecks := 0
	totalPossible := 0

	for d := 1; d <= today; d++ {
		rec := ds.Days[model.DayKey(year, month, d)]
		dayDone := 0
		for _, h := range ds.Habits {
			if rec[h.ID] {
				dayDone++
				completions[h.ID]++
			}
		}

		totalChecks += dayDone
		totalPossible += totalHabits
		if dayDone == totalHabits && totalHabits > 0 {
			s.PerfectDays++
		}

		rate := 0
		if totalHabits > 0 {
			rate = percent(dayDone, totalHabits)
		}
		s.DailyRates = append(s.DailyRates, DailyRate{Day: d, Rate: rate})
	}

	if totalPossible > 0 {
		s.OverallCompletion = percent(totalChecks, totalPossible)
	}

	bestCount := -1
	worstCount := int(^uint(0) >> 1)
	for _, h := range ds.Habits {
		count := completions[h.ID]
		if count > bestCount {
			bestCount = count
			s.BestHabit = h.Name
		}
		if count < worstCount {
			worstCount = count
			s.WorstHabit = h.Name
		}
	}

	return s
}

// HeatmapLevels buckets every day of the month. Days past today are marked
// upcoming; the rest map completion to levels 0..5.
func HeatmapLevels(ds *model.MonthDataset, year, month, today int) []DayLevel {
	days := model.DaysIn(year, month)
	levels := make([]DayLevel, 0, days)
	for d := 1; d <= days; d++ {
		if d > today {
			levels = append(levels, DayLevel{Day: d, Upcoming: true})
			continue
		}
		done, total := dayCounts(ds, year, month, d)
		levels = append(levels, DayLevel{Day: d, Level: level(done, total)})
	}
	return levels
}

func level(done, total int) int {
	if total == 0 || done == 0 {
		return 0
	}
	pct := float64(done) / float64(total)
	switch {
	case pct == 1:
		return 5
	case pct >= 0.75:
		return 4
	case pct >= 0.5:
		return 3
	case pct >= 0.25:
		return 2
	default:
		return 1
	}
}

// IncompleteToday lists the habits not yet completed today. Presentation
// uses it to decide whether to nag; the message content lives elsewhere.
func IncompleteToday(ds *model.MonthDataset, year, month, today int) []model.HabitDefinition {
	rec := ds.Days[model.DayKey(year, month, today)]
	var incomplete []model.HabitDefinition
	for _, h := range ds.Habits {
		if !rec[h.ID] {
			incomplete = append(incomplete, h)
		}
	}
	return incomplete
}

func percent(part, whole int) int {
	return int(float64(part)/float64(whole)*100 + 0.5)
}
