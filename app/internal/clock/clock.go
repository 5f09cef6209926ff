// Package clock holds the civil-time arithmetic shared by the schedule,
// statistics and chart code. Every boundary is computed in one configured zone.
package clock

import (
	"fmt"
	"time"
)

// SlotsPerDay is the number of half-hour schedule slots in a day.
const SlotsPerDay = 48

// DateLayout is the storage format for local dates.
const DateLayout = "2006-01-02"

// Now returns the current time; tests substitute their own.
type Now func() time.Time

// DayStart returns local midnight of the day containing t.
func DayStart(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// AddDays moves a local midnight by n calendar days.
func AddDays(dayStart time.Time, n int) time.Time {
	y, m, d := dayStart.Date()
	return time.Date(y, m, d+n, 0, 0, 0, 0, dayStart.Location())
}

// WeekStart returns Monday 00:00 local of the week containing t.
func WeekStart(t time.Time, loc *time.Location) time.Time {
	day := DayStart(t, loc)
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
	return AddDays(day, -offset)
}

// DateKey formats the local date of t as YYYY-MM-DD.
func DateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// ParseDateKey parses YYYY-MM-DD as local midnight.
func ParseDateKey(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// SlotIndex returns the half-hour slot of t: hour*2, plus one from minute 30.
func SlotIndex(t time.Time, loc *time.Location) int {
	lt := t.In(loc)
	idx := lt.Hour() * 2
	if lt.Minute() >= 30 {
		idx++
	}
	return idx
}

// SlotLabel formats a slot index as HH:MM, wrapping modulo one day.
func SlotLabel(slot int) string {
	idx := ((slot % SlotsPerDay) + SlotsPerDay) % SlotsPerDay
	return fmt.Sprintf("%02d:%02d", idx/2, (idx%2)*30)
}

// ClockLabel formats t as local HH:MM.
func ClockLabel(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("15:04")
}

// Millis converts t to epoch milliseconds; the zero time maps to 0.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromMillis converts epoch milliseconds to a time; 0 maps to the zero time.
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
