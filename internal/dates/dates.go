// Package dates implements the calendar arithmetic used by the ledger:
// advancing recurring schedules and computing budget period windows.
// All functions are pure; none of them reads the clock.
package dates

import (
	"fmt"
	"time"

	"ledgercore/internal/models"
)

// Bucket key layouts.
const (
	DayLayout   = "2006-01-02"
	MonthLayout = "2006-01"
)

// DateOf returns the calendar day of t as UTC midnight. The day is taken in
// t's own location so that 23:30 local time stays on the local date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Advance shifts date by one unit of pattern. Monthly and yearly steps keep
// the day of month when the target month has it and clamp to the last day
// otherwise (Jan 31 -> Feb 28/29, Feb 29 -> Feb 28 next year).
func Advance(date time.Time, pattern models.RecurrencePattern) (time.Time, error) {
	day := DateOf(date)
	switch pattern {
	case models.RecurrenceDaily:
		return day.AddDate(0, 0, 1), nil
	case models.RecurrenceWeekly:
		return day.AddDate(0, 0, 7), nil
	case models.RecurrenceBiweekly:
		return day.AddDate(0, 0, 14), nil
	case models.RecurrenceMonthly:
		return addMonthsClamped(day, 1), nil
	case models.RecurrenceYearly:
		return addMonthsClamped(day, 12), nil
	default:
		return time.Time{}, fmt.Errorf("unknown recurrence pattern: %q", pattern)
	}
}

// ValidPattern reports whether pattern is one Advance understands.
func ValidPattern(pattern models.RecurrencePattern) bool {
	_, err := Advance(time.Time{}, pattern)
	return err == nil
}

func addMonthsClamped(day time.Time, months int) time.Time {
	y, m, d := day.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	if last := DaysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// CurrentPeriodWindow returns the half-open range [start, end) of the period
// containing ref. Weeks start on Monday. Bounds are UTC midnights of the
// calendar days seen in ref's location.
func CurrentPeriodWindow(period models.BudgetPeriod, ref time.Time) (time.Time, time.Time, error) {
	day := DateOf(ref)
	switch period {
	case models.BudgetPeriodMonthly:
		start := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0), nil
	case models.BudgetPeriodWeekly:
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7), nil
	case models.BudgetPeriodYearly:
		start := time.Date(day.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(1, 0, 0), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown budget period: %q", period)
	}
}

// PeriodKey identifies one concrete period of a budget, e.g. "monthly:2024-05-01".
func PeriodKey(period models.BudgetPeriod, start time.Time) string {
	return string(period) + ":" + DayKey(start)
}

// DayKey returns the day bucket key of t.
func DayKey(t time.Time) string {
	return t.Format(DayLayout)
}

// MonthKey returns the month bucket key of t.
func MonthKey(t time.Time) string {
	return t.Format(MonthLayout)
}
