package model

import (
	"fmt"
	"time"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// TimeWindow is the [entry, exit] span a booking reserves. DateOnly windows
// (daily and monthly rates) compare at calendar-day granularity: the booking
// owns its calendar days regardless of clock times.
type TimeWindow struct {
	Entry    time.Time
	Exit     time.Time
	DateOnly bool
}

// NewTimeWindow builds a window from date and clock strings. A missing entry
// clock means start of day, a missing exit clock means 23:59.
func NewTimeWindow(rate RateType, entryDate, entryTime, exitDate, exitTime string) (TimeWindow, error) {
	if entryTime == "" {
		entryTime = "00:00"
	}
	if exitDate == "" {
		exitDate = entryDate
	}
	if exitTime == "" {
		exitTime = "23:59"
	}

	entry, err := time.ParseInLocation(dateLayout+" "+timeLayout, entryDate+" "+entryTime, time.Local)
	if err != nil {
		return TimeWindow{}, fmt.Errorf("parsing entry %q %q: %w", entryDate, entryTime, err)
	}
	exit, err := time.ParseInLocation(dateLayout+" "+timeLayout, exitDate+" "+exitTime, time.Local)
	if err != nil {
		return TimeWindow{}, fmt.Errorf("parsing exit %q %q: %w", exitDate, exitTime, err)
	}
	if exit.Before(entry) {
		return TimeWindow{}, fmt.Errorf("exit %s before entry %s", exit.Format(dateLayout), entry.Format(dateLayout))
	}

	return TimeWindow{
		Entry:    entry,
		Exit:     exit,
		DateOnly: rate == RateDaily || rate == RateMonthly,
	}, nil
}

// Overlaps reports whether the two windows collide. Granularity follows the
// receiver: hourly windows collide only when the instants overlap, date-only
// windows collide when the date ranges touch.
func (w TimeWindow) Overlaps(other TimeWindow) bool {
	if w.DateOnly {
		return !dateOf(w.Entry).After(dateOf(other.Exit)) && !dateOf(w.Exit).Before(dateOf(other.Entry))
	}
	return w.Entry.Before(other.Exit) && w.Exit.After(other.Entry)
}

// Contains reports whether the instant falls inside the window, endpoints
// included.
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Entry) && !t.After(w.Exit)
}

// Expired reports whether the window's exit lies in the past.
func (w TimeWindow) Expired(now time.Time) bool {
	return now.After(w.Exit)
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
