// Package dashboard holds the period math behind the dashboard summary.
package dashboard

import (
	"fmt"
	"time"

	"github.com/geocoder89/timetracker/internal/domain/timeentry"
)

// Boundaries are the inclusive lower bounds of each reporting period.
type Boundaries struct {
	Today time.Time
	Week  time.Time
	Month time.Time
}

// Totals are summed duration_seconds of stopped entries per period.
type Totals struct {
	TodaySeconds int
	WeekSeconds  int
	MonthSeconds int
}

type PeriodTotal struct {
	Seconds   int    `json:"seconds"`
	Formatted string `json:"formatted"`
}

type Summary struct {
	Today         PeriodTotal           `json:"today"`
	Week          PeriodTotal           `json:"week"`
	Month         PeriodTotal           `json:"month"`
	RecentEntries []timeentry.TimeEntry `json:"recentEntries"`
	RunningEntry  *timeentry.TimeEntry  `json:"runningEntry"`
	PeriodStarts  PeriodStarts          `json:"periodStarts"`
	GeneratedAt   time.Time             `json:"generatedAt"`
}

type PeriodStarts struct {
	Today time.Time `json:"today"`
	Week  time.Time `json:"week"`
	Month time.Time `json:"month"`
}

// BoundariesAt returns midnight of now's day, of the Monday on or before now,
// and of the first of now's month, all in loc.
func BoundariesAt(now time.Time, loc *time.Location) Boundaries {
	if loc == nil {
		loc = time.UTC
	}

	local := now.In(loc)
	y, m, d := local.Date()

	today := time.Date(y, m, d, 0, 0, 0, 0, loc)

	// Monday=0 ... Sunday=6
	offset := (int(local.Weekday()) + 6) % 7
	week := time.Date(y, m, d-offset, 0, 0, 0, 0, loc)

	month := time.Date(y, m, 1, 0, 0, 0, 0, loc)

	return Boundaries{Today: today, Week: week, Month: month}
}

// FormatHoursMinutes renders seconds as "{h}h {m}m", dropping leftover seconds.
func FormatHoursMinutes(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
}

// TotalsFrom sums stopped entries against b. Entries that are not stopped add nothing.
func TotalsFrom(entries []timeentry.TimeEntry, b Boundaries) Totals {
	var t Totals

	for _, e := range entries {
		if e.Status != timeentry.StatusStopped {
			continue
		}
		if !e.StartTime.Before(b.Today) {
			t.TodaySeconds += e.DurationSeconds
		}
		if !e.StartTime.Before(b.Week) {
			t.WeekSeconds += e.DurationSeconds
		}
		if !e.StartTime.Before(b.Month) {
			t.MonthSeconds += e.DurationSeconds
		}
	}

	return t
}

func Build(now time.Time, b Boundaries, totals Totals, recent []timeentry.TimeEntry, running *timeentry.TimeEntry) Summary {
	if recent == nil {
		recent = []timeentry.TimeEntry{}
	}

	return Summary{
		Today:         PeriodTotal{Seconds: totals.TodaySeconds, Formatted: FormatHoursMinutes(totals.TodaySeconds)},
		Week:          PeriodTotal{Seconds: totals.WeekSeconds, Formatted: FormatHoursMinutes(totals.WeekSeconds)},
		Month:         PeriodTotal{Seconds: totals.MonthSeconds, Formatted: FormatHoursMinutes(totals.MonthSeconds)},
		RecentEntries: recent,
		RunningEntry:  running,
		PeriodStarts:  PeriodStarts{Today: b.Today, Week: b.Week, Month: b.Month},
		GeneratedAt:   now,
	}
}
