package stats

import "math"

// Compute derives the weekly statistics from the day rows of w. Future days
// are ignored. Schedule comparison only covers days with schedule data, so a
// week without any schedule reports zero diff.
func Compute(w Week) WeeklyStats {
	var (
		totalOn, totalOff     float64
		schedOn, schedOff     float64
		actualOnScheduledDays float64
		elapsed               float64
		longestOn, longestOff float64
		count                 int
	)

	for _, day := range w.Days {
		if day.IsFuture {
			continue
		}
		cutoff := day.Cutoff()
		elapsed += cutoff

		off := 0.0
		prevEnd := 0.0
		for _, o := range day.Outages {
			dur := o.Hours()
			off += dur
			count++
			longestOff = math.Max(longestOff, dur)
			longestOn = math.Max(longestOn, o.StartHour-prevEnd)
			prevEnd = o.EndHour
		}
		longestOn = math.Max(longestOn, cutoff-prevEnd)

		on := cutoff - off
		totalOff += off
		totalOn += on

		if day.HasSchedule() {
			son, soff := day.Schedule.Hours(cutoff)
			schedOn += son
			schedOff += soff
			actualOnScheduledDays += on
		}
	}

	s := WeeklyStats{
		TotalPowerOnHours:  round1(totalOn),
		TotalPowerOffHours: round1(totalOff),
		ScheduledOnHours:   round1(schedOn),
		ScheduledOffHours:  round1(schedOff),
		OutageCount:        count,
		LongestOn:          round1(longestOn),
		LongestOff:         round1(longestOff),
		ElapsedHours:       round1(elapsed),
	}
	if schedOn > 0 {
		diff := actualOnScheduledDays - schedOn
		s.DiffMinutes = int(math.Round(diff * 60))
		s.DiffPercent = round1(diff / schedOn * 100)
	}
	if count > 0 {
		s.AvgOutage = round1(totalOff / float64(count))
	}
	return s
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
