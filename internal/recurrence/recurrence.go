// Package recurrence computes the next scheduled run instant for a pipeline.
//
// All arithmetic is in UTC. Targets are calendar-anchored: daily runs fire at
// midnight, weekly runs at Monday 00:00, monthly runs at 00:00 on the 1st.
// The calculation is pure — same inputs, same output — so the scheduler and
// the run executor can both call it without coordination.
package recurrence

import (
	"fmt"
	"time"

	"github.com/tributary-data/tributary/internal/domain"
)

// NextRun returns the next occurrence for freq strictly after now, given the
// instant the pipeline last ran (nil if it never has). Equality with now can
// only occur at an exact period boundary; callers treat it as due.
func NextRun(freq domain.RunFrequency, lastRun *time.Time, now time.Time) (time.Time, error) {
	now = now.UTC()

	var target time.Time
	switch freq {
	case domain.FrequencyDaily:
		target = midnight(now)
		if lastRun != nil && !dateBefore(lastRun.UTC(), now) {
			// Already ran today (or later): day after the later of the two.
			later := lastRun.UTC()
			if now.After(later) {
				later = now
			}
			return midnight(later).AddDate(0, 0, 1), nil
		}
		if !target.After(now) {
			target = target.AddDate(0, 0, 1)
		}
	case domain.FrequencyWeekly:
		target = startOfISOWeek(now)
		if lastRun != nil && !lastRun.UTC().Before(target) {
			// Already ran this week: next Monday.
			return target.AddDate(0, 0, 7), nil
		}
		if !target.After(now) {
			target = target.AddDate(0, 0, 7)
		}
	case domain.FrequencyMonthly:
		target = firstOfMonth(now)
		if lastRun != nil && !lastRun.UTC().Before(target) {
			// Already ran this month: 1st of next month.
			return target.AddDate(0, 1, 0), nil
		}
		if !target.After(now) {
			target = target.AddDate(0, 1, 0)
		}
	default:
		return time.Time{}, fmt.Errorf("unknown run frequency %q", freq)
	}
	return target, nil
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// startOfISOWeek returns Monday 00:00 of t's week.
func startOfISOWeek(t time.Time) time.Time {
	wd := int(t.Weekday())
	if wd == 0 {
		wd = 7 // Sunday belongs to the week that started six days earlier
	}
	return midnight(t).AddDate(0, 0, -(wd - 1))
}

func firstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// dateBefore reports whether a's calendar date precedes b's.
func dateBefore(a, b time.Time) bool {
	return midnight(a).Before(midnight(b))
}
