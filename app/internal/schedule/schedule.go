// Package schedule models the utility's published outage plan as 48 half-hour
// slots per day and answers "when is power due back" and "when is the next cut".
package schedule

import (
	"strconv"
	"time"

	"powerwatch/app/internal/clock"
)

// SlotCode is the feed's per-hour availability code
type SlotCode int

const (
	CodeOn            SlotCode = iota // power for the whole hour
	CodeOff                           // "no": off for the whole hour
	CodeFirstHalfOff                  // "first": off for minutes 0-29
	CodeSecondHalfOff                 // "second": off for minutes 30-59
)

// ParseCode maps a feed string to a SlotCode. Unknown strings mean power on.
func ParseCode(raw string) SlotCode {
	switch raw {
	case "no":
		return CodeOff
	case "first":
		return CodeFirstHalfOff
	case "second":
		return CodeSecondHalfOff
	default:
		return CodeOn
	}
}

// Halves returns the (first, second) half-hour availability for the code.
func (c SlotCode) Halves() (bool, bool) {
	switch c {
	case CodeOff:
		return false, false
	case CodeFirstHalfOff:
		return false, true
	case CodeSecondHalfOff:
		return true, false
	default:
		return true, true
	}
}

// Day is one local day of half-hour slots; true means power is scheduled on.
// A Day of any length other than 48 is treated as unknown.
type Day []bool

// Valid reports whether d carries a full day of slots.
func (d Day) Valid() bool {
	return len(d) == clock.SlotsPerDay
}

// ParseDay converts the feed's hourly codes, keyed "1".."24", into 48 slots.
// Hour key h covers [(h-1):00, h:00). Missing hours default to on.
func ParseDay(hourly map[string]string) Day {
	day := make(Day, 0, clock.SlotsPerDay)
	for h := 1; h <= 24; h++ {
		first, second := ParseCode(hourly[strconv.Itoa(h)]).Halves()
		day = append(day, first, second)
	}
	return day
}

// Point is a slot on the two-day timeline. Slot is 0..47 within its day.
type Point struct {
	Slot    int
	NextDay bool
}

// Label formats the point as HH:MM.
func (p Point) Label() string {
	return clock.SlotLabel(p.Slot)
}

func pointAt(idx int) Point {
	return Point{Slot: idx % clock.SlotsPerDay, NextDay: idx >= clock.SlotsPerDay}
}

// Window is a planned outage block. End is exclusive.
type Window struct {
	Start Point
	End   Point
}

// ScheduledRestoration estimates when power returns for an outage detected at now.
// It reports false when no estimate exists, including when the current slot is
// scheduled on (the outage is unplanned).
func ScheduledRestoration(today, tomorrow Day, now time.Time, loc *time.Location) (Point, bool) {
	current := clock.SlotIndex(now, loc)

	if today.Valid() {
		if today[current] {
			return Point{}, false
		}
		for i := current; i < clock.SlotsPerDay; i++ {
			if today[i] {
				return Point{Slot: i}, true
			}
		}
	}
	if tomorrow.Valid() {
		for i := 0; i < clock.SlotsPerDay; i++ {
			if tomorrow[i] {
				return Point{Slot: i, NextDay: true}, true
			}
		}
	}
	return Point{}, false
}

// NextScheduledOutage finds the next distinct planned outage after now on the
// today+tomorrow timeline. An OFF run already in progress at now is skipped.
// Without today's schedule there is nothing to anchor on and it reports false.
func NextScheduledOutage(today, tomorrow Day, now time.Time, loc *time.Location) (Window, bool) {
	if !today.Valid() {
		return Window{}, false
	}
	timeline := make([]bool, 0, 2*clock.SlotsPerDay)
	timeline = append(timeline, today...)
	if tomorrow.Valid() {
		timeline = append(timeline, tomorrow...)
	}

	current := clock.SlotIndex(now, loc)
	from := current + 1
	if !timeline[current] {
		for from < len(timeline) && !timeline[from] {
			from++
		}
	}

	start := -1
	for i := from; i < len(timeline); i++ {
		if !timeline[i] {
			start = i
			break
		}
	}
	if start < 0 {
		return Window{}, false
	}

	end := start
	for end < len(timeline) && !timeline[end] {
		end++
	}
	return Window{Start: pointAt(start), End: pointAt(end)}, true
}

// Hours returns the scheduled on/off hours of d within [0, cutoffHour).
func (d Day) Hours(cutoffHour float64) (on, off float64) {
	if !d.Valid() {
		return 0, 0
	}
	for i, powered := range d {
		slotStart := float64(i) * 0.5
		if slotStart >= cutoffHour {
			break
		}
		span := 0.5
		if cutoffHour-slotStart < span {
			span = cutoffHour - slotStart
		}
		if powered {
			on += span
		} else {
			off += span
		}
	}
	return on, off
}
