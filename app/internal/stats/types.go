package stats

import (
	"time"

	"powerwatch/app/internal/schedule"
)

// DayLabels are the Ukrainian weekday abbreviations, Monday first.
var DayLabels = [7]string{"ПН", "ВТ", "СР", "ЧТ", "ПТ", "СБ", "НД"}

// Interval is an outage clipped to one day, in fractional hours within [0, 24].
type Interval struct {
	StartHour float64 `json:"start_hour"`
	EndHour   float64 `json:"end_hour"`
}

// Hours returns the length of the interval.
func (i Interval) Hours() float64 {
	return i.EndHour - i.StartHour
}

// ChartDay is one row of the weekly chart.
type ChartDay struct {
	Date     time.Time    `json:"date"`
	IsToday  bool         `json:"is_today"`
	IsFuture bool         `json:"is_future"`
	NowHour  float64      `json:"now_hour"` // meaningful only when IsToday
	Outages  []Interval   `json:"outages"`
	Schedule schedule.Day `json:"schedule"`
}

// Cutoff is the hour up to which actual data exists for the day.
func (d ChartDay) Cutoff() float64 {
	switch {
	case d.IsFuture:
		return 0
	case d.IsToday:
		return d.NowHour
	default:
		return 24
	}
}

// OffHours sums the clipped outages of the day.
func (d ChartDay) OffHours() float64 {
	var h float64
	for _, o := range d.Outages {
		h += o.Hours()
	}
	return h
}

// OnHours is the observed power-on time up to the cutoff.
func (d ChartDay) OnHours() float64 {
	on := d.Cutoff() - d.OffHours()
	if on < 0 {
		return 0
	}
	return on
}

// HasSchedule reports whether a full day of schedule slots is known.
func (d ChartDay) HasSchedule() bool {
	return d.Schedule.Valid()
}

// Week is the input of one chart render.
type Week struct {
	Start    time.Time   `json:"week_start"`
	Group    string      `json:"group"`
	Complete bool        `json:"complete"`
	Days     [7]ChartDay `json:"days"`
}

// Label formats the week range as "dd.mm - dd.mm".
func (w Week) Label() string {
	return w.Days[0].Date.Format("02.01") + " - " + w.Days[6].Date.Format("02.01")
}

// WeeklyStats aggregates a week's observed and scheduled availability.
// Hour values are rounded to 0.1h, DiffPercent to 0.1%.
type WeeklyStats struct {
	TotalPowerOnHours  float64 `json:"total_power_on_hours"`
	TotalPowerOffHours float64 `json:"total_power_off_hours"`
	ScheduledOnHours   float64 `json:"scheduled_on_hours"`
	ScheduledOffHours  float64 `json:"scheduled_off_hours"`
	DiffMinutes        int     `json:"diff_minutes"`
	DiffPercent        float64 `json:"diff_percent"`
	OutageCount        int     `json:"outage_count"`
	LongestOn          float64 `json:"longest_on"`
	LongestOff         float64 `json:"longest_off"`
	AvgOutage          float64 `json:"avg_outage"`
	ElapsedHours       float64 `json:"elapsed_hours"`
}

// UptimePercent is observed on-time over elapsed time, rounded to 0.1%.
func (s WeeklyStats) UptimePercent() float64 {
	elapsed := s.ElapsedHours
	if elapsed < 1 {
		elapsed = 1
	}
	return round1(s.TotalPowerOnHours / elapsed * 100)
}
