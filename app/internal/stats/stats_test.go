package stats

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powerwatch/app/internal/models"
	"powerwatch/app/internal/schedule"
)

func kyiv(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Kyiv")
	require.NoError(t, err)
	return loc
}

// Week of Monday 2024-03-04 in Kyiv.
func local(loc *time.Location, day, hour, min int) time.Time {
	return time.Date(2024, 3, day, hour, min, 0, 0, loc)
}

func closed(start, end time.Time) models.Outage {
	return models.Outage{
		DeviceID:        "default",
		Start:           start,
		End:             end,
		DurationSeconds: int64(end.Sub(start) / time.Second),
	}
}

func allOn() schedule.Day {
	d := make(schedule.Day, 48)
	for i := range d {
		d[i] = true
	}
	return d
}

func TestBuildWeek_DayFlags(t *testing.T) {
	loc := kyiv(t)
	now := local(loc, 7, 12, 0) // Thursday noon

	w := BuildWeek(local(loc, 4, 0, 0), now, loc, "GPV1.1", nil, nil, false)

	for i, day := range w.Days {
		assert.Equal(t, i == 3, day.IsToday, "day %d today", i)
		assert.Equal(t, i > 3, day.IsFuture, "day %d future", i)
	}
	assert.InDelta(t, 12.0, w.Days[3].NowHour, 1e-9)
	assert.Equal(t, "04.03 - 10.03", w.Label())
	assert.Equal(t, "GPV1.1", w.Group)
}

func TestBuildWeek_ClipsAcrossMidnight(t *testing.T) {
	loc := kyiv(t)
	now := local(loc, 7, 12, 0)
	outages := []models.Outage{closed(local(loc, 5, 22, 0), local(loc, 6, 2, 0))}

	w := BuildWeek(local(loc, 4, 0, 0), now, loc, "", outages, nil, false)

	require.Len(t, w.Days[1].Outages, 1)
	assert.Equal(t, Interval{StartHour: 22, EndHour: 24}, w.Days[1].Outages[0])
	require.Len(t, w.Days[2].Outages, 1)
	assert.Equal(t, Interval{StartHour: 0, EndHour: 2}, w.Days[2].Outages[0])
	assert.Empty(t, w.Days[0].Outages)
}

func TestBuildWeek_OpenOutageEndsAtNow(t *testing.T) {
	loc := kyiv(t)
	now := local(loc, 7, 12, 0)
	outages := []models.Outage{{DeviceID: "default", Start: local(loc, 7, 10, 0)}}

	w := BuildWeek(local(loc, 4, 0, 0), now, loc, "", outages, nil, false)

	require.Len(t, w.Days[3].Outages, 1)
	assert.Equal(t, Interval{StartHour: 10, EndHour: 12}, w.Days[3].Outages[0])
	for _, day := range w.Days[4:] {
		assert.Empty(t, day.Outages)
	}
}

func TestBuildWeek_OutageBeforeWeekIsClipped(t *testing.T) {
	loc := kyiv(t)
	now := local(loc, 7, 12, 0)
	outages := []models.Outage{
		closed(local(loc, 3, 20, 0), local(loc, 4, 1, 30)),
		closed(local(loc, 2, 8, 0), local(loc, 2, 9, 0)),
	}

	w := BuildWeek(local(loc, 4, 0, 0), now, loc, "", outages, nil, false)

	require.Len(t, w.Days[0].Outages, 1)
	assert.Equal(t, Interval{StartHour: 0, EndHour: 1.5}, w.Days[0].Outages[0])
}

func TestBuildWeek_Complete(t *testing.T) {
	loc := kyiv(t)
	now := local(loc, 11, 0, 10) // following Monday
	outages := []models.Outage{closed(local(loc, 10, 23, 0), local(loc, 11, 0, 5))}

	w := BuildWeek(local(loc, 4, 0, 0), now, loc, "", outages, nil, true)

	for _, day := range w.Days {
		assert.False(t, day.IsToday)
		assert.False(t, day.IsFuture)
	}
	require.Len(t, w.Days[6].Outages, 1)
	assert.Equal(t, Interval{StartHour: 23, EndHour: 24}, w.Days[6].Outages[0])

	s := Compute(w)
	assert.Equal(t, 168.0, s.ElapsedHours)
	assert.Equal(t, 1.0, s.TotalPowerOffHours)
}

func TestCompute_SingleOutageNoSchedule(t *testing.T) {
	loc := kyiv(t)
	now := local(loc, 7, 12, 0)
	outages := []models.Outage{closed(local(loc, 6, 10, 0), local(loc, 6, 13, 0))}

	s := Compute(BuildWeek(local(loc, 4, 0, 0), now, loc, "", outages, nil, false))

	assert.Equal(t, 1, s.OutageCount)
	assert.Equal(t, 3.0, s.LongestOff)
	assert.Equal(t, 3.0, s.TotalPowerOffHours)
	assert.Equal(t, 81.0, s.TotalPowerOnHours)
	assert.Equal(t, 84.0, s.ElapsedHours)
	assert.Equal(t, 3.0, s.AvgOutage)
	assert.Equal(t, 24.0, s.LongestOn)
	assert.Zero(t, s.DiffMinutes)
	assert.Zero(t, s.DiffPercent)
	assert.Zero(t, s.ScheduledOnHours)
	assert.Zero(t, s.ScheduledOffHours)
}

func TestCompute_ScheduleDiff(t *testing.T) {
	loc := kyiv(t)
	now := local(loc, 5, 0, 0) // Tuesday midnight, so Monday is fully elapsed
	monday := allOn()
	for i := 0; i < 8; i++ {
		monday[i] = false
	}
	schedules := map[string]schedule.Day{"2024-03-04": monday}

	s := Compute(BuildWeek(local(loc, 4, 0, 0), now, loc, "", nil, schedules, false))

	assert.Equal(t, 20.0, s.ScheduledOnHours)
	assert.Equal(t, 4.0, s.ScheduledOffHours)
	assert.Equal(t, 240, s.DiffMinutes)
	assert.Equal(t, 20.0, s.DiffPercent)
	assert.Equal(t, 24.0, s.TotalPowerOnHours)
}

func TestCompute_TodayScheduleStopsAtNow(t *testing.T) {
	loc := kyiv(t)
	now := local(loc, 4, 12, 0)
	outages := []models.Outage{closed(local(loc, 4, 9, 0), local(loc, 4, 10, 30))}
	schedules := map[string]schedule.Day{"2024-03-04": allOn()}

	s := Compute(BuildWeek(local(loc, 4, 0, 0), now, loc, "", outages, schedules, false))

	assert.Equal(t, 12.0, s.ElapsedHours)
	assert.Equal(t, 12.0, s.ScheduledOnHours)
	assert.Equal(t, 10.5, s.TotalPowerOnHours)
	assert.Equal(t, -90, s.DiffMinutes)
	assert.Equal(t, -12.5, s.DiffPercent)
	assert.Equal(t, 9.0, s.LongestOn)
}

func TestCompute_LongestOnIncludesTrailingEdge(t *testing.T) {
	loc := kyiv(t)
	now := local(loc, 5, 0, 0)
	outages := []models.Outage{
		closed(local(loc, 4, 2, 0), local(loc, 4, 3, 0)),
		closed(local(loc, 4, 5, 0), local(loc, 4, 6, 0)),
	}

	s := Compute(BuildWeek(local(loc, 4, 0, 0), now, loc, "", outages, nil, false))

	assert.Equal(t, 2, s.OutageCount)
	assert.Equal(t, 18.0, s.LongestOn)
	assert.Equal(t, 1.0, s.LongestOff)
	assert.Equal(t, 1.0, s.AvgOutage)
}

func TestWeeklyStats_UptimePercent(t *testing.T) {
	s := WeeklyStats{TotalPowerOnHours: 81, ElapsedHours: 84}
	assert.Equal(t, 96.4, s.UptimePercent())

	assert.Equal(t, 0.0, WeeklyStats{}.UptimePercent())
}

func TestPeriod(t *testing.T) {
	now := time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)
	device := models.Device{ID: "d1", Name: "Home", Status: models.StatusOnline}
	outages := []models.Outage{
		{DeviceID: "d1", Start: now.Add(-48 * time.Hour), End: now.Add(-47 * time.Hour), DurationSeconds: 3600},
		{DeviceID: "d1", Start: now.Add(-30 * time.Hour), End: now.Add(-29*time.Hour - 30*time.Minute), DurationSeconds: 1800},
		{DeviceID: "d1", Start: now.Add(-10 * 24 * time.Hour), End: now.Add(-10*24*time.Hour + time.Hour), DurationSeconds: 3600},
		{DeviceID: "d1", Start: now.Add(-time.Hour)},
		{DeviceID: "d2", Start: now.Add(-5 * time.Hour), End: now.Add(-4 * time.Hour), DurationSeconds: 3600},
	}

	st := Period(device, outages, 7, now)

	assert.Equal(t, 2, st.OutageCount)
	assert.Equal(t, int64(5400), st.TotalOutageSeconds)
	assert.Equal(t, 1.5, st.TotalOutageHours)
	assert.Equal(t, 99.11, st.UptimePercent)
	assert.Equal(t, "Home", st.DeviceName)
}

func TestClampDays(t *testing.T) {
	assert.Equal(t, 1, ClampDays(0))
	assert.Equal(t, 1, ClampDays(-3))
	assert.Equal(t, 7, ClampDays(7))
	assert.Equal(t, 90, ClampDays(365))
}
