package stats

import (
	"sort"
	"time"

	"powerwatch/app/internal/clock"
	"powerwatch/app/internal/models"
	"powerwatch/app/internal/schedule"
)

// BuildWeek lays the outages of one device over the seven local days starting
// at weekStart. Today is cut at now and later days carry no observed data.
// With complete set every day is treated as fully elapsed, which is how a
// finished week is rendered for the last time. Open outages end at now.
func BuildWeek(weekStart, now time.Time, loc *time.Location, group string, outages []models.Outage, schedules map[string]schedule.Day, complete bool) Week {
	weekStart = clock.DayStart(weekStart, loc)
	today := clock.DayStart(now, loc)

	w := Week{Start: weekStart, Group: group, Complete: complete}
	for i := range w.Days {
		dayStart := clock.AddDays(weekStart, i)
		dayEnd := clock.AddDays(weekStart, i+1)

		day := ChartDay{
			Date:     dayStart,
			Schedule: schedules[clock.DateKey(dayStart, loc)],
		}
		if !complete {
			day.IsToday = dayStart.Equal(today)
			day.IsFuture = dayStart.After(today)
		}

		if !day.IsFuture {
			cutoff := dayEnd
			if day.IsToday {
				cutoff = now
				day.NowHour = clampHour(now.Sub(dayStart).Hours())
			}
			day.Outages = clipOutages(outages, dayStart, cutoff, now)
		}
		w.Days[i] = day
	}
	return w
}

// clipOutages returns the parts of outages falling inside [dayStart, cutoff),
// in hours from dayStart, sorted by start.
func clipOutages(outages []models.Outage, dayStart, cutoff, now time.Time) []Interval {
	var out []Interval
	for _, o := range outages {
		end := o.EndOr(now)
		if !end.After(dayStart) || !o.Start.Before(cutoff) {
			continue
		}
		s := o.Start
		if s.Before(dayStart) {
			s = dayStart
		}
		if end.After(cutoff) {
			end = cutoff
		}
		out = append(out, Interval{
			StartHour: clampHour(s.Sub(dayStart).Hours()),
			EndHour:   clampHour(end.Sub(dayStart).Hours()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartHour < out[j].StartHour })
	return out
}

func clampHour(h float64) float64 {
	if h < 0 {
		return 0
	}
	if h > 24 {
		return 24
	}
	return h
}
