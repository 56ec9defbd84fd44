package services

import (
	"time"

	"github.com/Vivekb0311/sla/db"
)

// ShiftDirection selects whether ShiftWorkingTime moves forward or backward.
type ShiftDirection string

const (
	ShiftAdd ShiftDirection = "add"
	ShiftSub ShiftDirection = "sub"
)

// ShiftWorkingTime moves t by the given number of minutes while honoring the
// daily business window and, optionally, weekend exclusion. It is a pure
// function and the single source of truth for every compliance deadline.
//
// Behavior notes, kept deliberately:
//   - a starting point on Saturday/Sunday rolls forward (Sat +2d, Sun +1d)
//     for both directions;
//   - a window wrapping past midnight gets a next-day end, clipped to Friday
//     23:59 when weekends are excluded;
//   - an amount exactly equal to the remaining window budget takes the
//     multi-day path and lands on the neighboring window's edge.
func ShiftWorkingTime(t time.Time, minutes int, dir ShiftDirection, excludeWeekends bool,
	hoursMode string, windowStart, windowEnd db.TimeOfDay, loc *time.Location) time.Time {

	if loc != nil {
		t = t.In(loc)
	}

	if hoursMode == db.HoursModeCalendar {
		if dir == ShiftSub {
			return t.Add(-time.Duration(minutes) * time.Minute)
		}
		return t.Add(time.Duration(minutes) * time.Minute)
	}

	if excludeWeekends {
		t = rollOffWeekend(t)
	}

	start := atTime(t, windowStart.Hours, windowStart.Minutes)
	end := windowEndFor(t, windowStart, windowEnd, excludeWeekends)

	t = clampIntoWindow(t, start, end, dir, windowStart, windowEnd)
	if minutes <= 0 {
		return t
	}

	// Recompute the window edges of the (possibly new) day after clamping.
	start = atTime(t, windowStart.Hours, windowStart.Minutes)
	end = windowEndFor(t, windowStart, windowEnd, excludeWeekends)

	var remaining int
	if dir == ShiftAdd {
		remaining = int(end.Sub(t).Minutes())
	} else {
		remaining = int(t.Sub(start).Minutes())
	}

	if minutes < remaining {
		if dir == ShiftAdd {
			return t.Add(time.Duration(minutes) * time.Minute)
		}
		return t.Add(-time.Duration(minutes) * time.Minute)
	}

	return consumeWindows(t, minutes-remaining, dir, excludeWeekends, windowStart, windowEnd)
}

// consumeWindows drains whole business windows one day at a time in the
// direction of travel, then applies the leftover from the landing window's
// edge.
func consumeWindows(t time.Time, minutes int, dir ShiftDirection, excludeWeekends bool,
	windowStart, windowEnd db.TimeOfDay) time.Time {

	t = rollToAdjacentWindow(t, dir, excludeWeekends, windowStart, windowEnd)

	span := windowSpanMinutes(t, windowStart, windowEnd, excludeWeekends)
	for minutes >= span && span > 0 {
		minutes -= span
		t = rollToAdjacentWindow(t, dir, excludeWeekends, windowStart, windowEnd)
		span = windowSpanMinutes(t, windowStart, windowEnd, excludeWeekends)
	}

	if dir == ShiftAdd {
		return t.Add(time.Duration(minutes) * time.Minute)
	}
	return t.Add(-time.Duration(minutes) * time.Minute)
}

// rollToAdjacentWindow moves to the next day's window start (add) or the
// previous day's window end (sub), skipping weekend days one at a time when
// excluded.
func rollToAdjacentWindow(t time.Time, dir ShiftDirection, excludeWeekends bool,
	windowStart, windowEnd db.TimeOfDay) time.Time {

	if dir == ShiftAdd {
		t = t.AddDate(0, 0, 1)
		if excludeWeekends {
			t = skipWeekends(t, dir)
		}
		return atTime(t, windowStart.Hours, windowStart.Minutes)
	}

	t = t.AddDate(0, 0, -1)
	if excludeWeekends {
		t = skipWeekends(t, dir)
	}
	return windowEndFor(t, windowStart, windowEnd, excludeWeekends)
}

func clampIntoWindow(t, start, end time.Time, dir ShiftDirection, windowStart, windowEnd db.TimeOfDay) time.Time {
	if t.Before(start) {
		return start
	}
	if t.After(end) {
		if dir == ShiftAdd {
			return atTime(t.AddDate(0, 0, 1), windowStart.Hours, windowStart.Minutes)
		}
		return atTime(t.AddDate(0, 0, -1), windowEnd.Hours, windowEnd.Minutes)
	}
	return t
}

// windowEndFor computes the end of t's business window. A window whose start
// is numerically past its end spans midnight into the next calendar day; with
// weekends excluded a Friday window is clipped to 23:59 instead of spilling
// into Saturday.
func windowEndFor(t time.Time, windowStart, windowEnd db.TimeOfDay, excludeWeekends bool) time.Time {
	wraps := windowStart.Hours > windowEnd.Hours ||
		(windowStart.Hours == windowEnd.Hours && windowStart.Minutes > windowEnd.Minutes)
	if !wraps {
		return atTime(t, windowEnd.Hours, windowEnd.Minutes)
	}
	if excludeWeekends && t.Weekday() == time.Friday {
		return atTime(t, 23, 59)
	}
	return atTime(t.AddDate(0, 0, 1), windowEnd.Hours, windowEnd.Minutes)
}

func windowSpanMinutes(t time.Time, windowStart, windowEnd db.TimeOfDay, excludeWeekends bool) int {
	start := atTime(t, windowStart.Hours, windowStart.Minutes)
	end := windowEndFor(t, windowStart, windowEnd, excludeWeekends)
	return int(end.Sub(start).Minutes())
}

func rollOffWeekend(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return t.AddDate(0, 0, 2)
	case time.Sunday:
		return t.AddDate(0, 0, 1)
	}
	return t
}

func skipWeekends(t time.Time, dir ShiftDirection) time.Time {
	for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		if dir == ShiftAdd {
			t = t.AddDate(0, 0, 1)
		} else {
			t = t.AddDate(0, 0, -1)
		}
	}
	return t
}

func atTime(t time.Time, hours, minutes int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hours, minutes, 0, 0, t.Location())
}
