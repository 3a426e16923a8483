// Package recurrence materializes recurring events into concrete,
// date-stamped instances for a display window.
package recurrence

import (
	"fmt"
	"time"

	"popup-events/internal/common/metrics"
	"popup-events/internal/models"
)

// maxOccurrences caps expansion of a single event. Hitting the cap stops
// generation silently; a misconfigured rule or window must not produce
// unbounded output.
const maxOccurrences = 100

// KnownRule reports whether rule is one of the recurrence rules Expand
// can step through.
func KnownRule(rule string) bool {
	switch rule {
	case models.RuleWeekly, models.RuleBiweekly, models.RuleMonthly:
		return true
	}
	return false
}

// Expand generates the instances of ev whose occurrence start falls in
// [from, to]. It never mutates ev and is safe to call concurrently; its
// only side effect is counting cap truncations.
//
// Non-recurring events (and events with an unrecognized rule) pass
// through as a single instance carrying the stored dates, with no window
// filtering; callers that need window filtering for those must apply it
// themselves.
func Expand(ev *models.Event, from, to time.Time) []models.EventInstance {
	if !ev.IsRecurring || !KnownRule(ev.RecurrenceRule) {
		return []models.EventInstance{passthrough(ev)}
	}

	var step time.Duration
	switch ev.RecurrenceRule {
	case models.RuleWeekly:
		step = 7 * 24 * time.Hour
	case models.RuleBiweekly:
		step = 14 * 24 * time.Hour
	case models.RuleMonthly:
		// handled by addMonth below
	}

	duration := ev.Duration()
	instances := make([]models.EventInstance, 0)
	current := ev.StartDate

	for i := 0; i < maxOccurrences; i++ {
		if ev.RecurrenceEndDate != nil && current.After(*ev.RecurrenceEndDate) {
			return instances
		}
		if current.After(to) {
			return instances
		}

		if !current.Before(from) {
			instances = append(instances, makeInstance(ev, current, duration))
		}

		if ev.RecurrenceRule == models.RuleMonthly {
			current = addMonth(current)
		} else {
			current = current.Add(step)
		}
	}

	metrics.ExpansionTruncations.Inc()
	return instances
}

func passthrough(ev *models.Event) models.EventInstance {
	return models.EventInstance{
		Event:      *ev,
		InstanceID: InstanceID(ev.ID, ev.StartDate),
	}
}

func makeInstance(ev *models.Event, start time.Time, duration time.Duration) models.EventInstance {
	inst := models.EventInstance{
		Event:      *ev,
		InstanceID: InstanceID(ev.ID, start),
	}
	inst.StartDate = start
	end := start.Add(duration)
	inst.EndDate = &end
	return inst
}

// InstanceID derives the stable per-occurrence identifier consumers use
// for de-duplication across repeated calls.
func InstanceID(eventID int64, occurrence time.Time) string {
	return fmt.Sprintf("%d_%s", eventID, occurrence.Format("20060102"))
}

// addMonth advances t by one calendar month, clamping the day of month to
// the last valid day of the target month (Jan 31 -> Feb 28/29). This is
// deliberate normalization rather than time.AddDate, whose overflow would
// turn Jan 31 into Mar 2/3.
func addMonth(t time.Time) time.Time {
	year, month := t.Year(), t.Month()+1
	if month > time.December {
		month = time.January
		year++
	}

	day := t.Day()
	if last := daysIn(year, month); day > last {
		day = last
	}

	return time.Date(year, month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// daysIn returns the number of days in the given month.
func daysIn(year int, month time.Month) int {
	// Day 0 of the next month normalizes to the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
