package chart

import (
	"bytes"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powerwatch/app/internal/models"
	"powerwatch/app/internal/schedule"
	"powerwatch/app/internal/stats"
)

var monday = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func sampleWeek(now time.Time, complete bool) stats.Week {
	outage := models.Outage{
		Start: monday.AddDate(0, 0, 2).Add(10 * time.Hour),
		End:   monday.AddDate(0, 0, 2).Add(13 * time.Hour),
	}
	day := make(schedule.Day, 48)
	for i := range day {
		day[i] = i < 20 || i >= 28
	}
	schedules := map[string]schedule.Day{"2024-03-06": day}
	return stats.BuildWeek(monday, now, time.UTC, "GPV1.1", []models.Outage{outage}, schedules, complete)
}

func pixelAt(t *testing.T, data []byte, hour float64, row int, bar float64) color.RGBA {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	x := int(hourToX(hour) * Scale)
	y := int((topPad + titleH + float64(row)*dayH + dayPad + bar) * Scale)
	r, g, b, a := img.At(x, y).RGBA()
	return color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), uint8(a >> 8)}
}

func TestRender_Dimensions(t *testing.T) {
	r, err := NewPNGRenderer()
	require.NoError(t, err)

	w := sampleWeek(monday.AddDate(0, 0, 7), true)
	data, err := r.Render(w, stats.Compute(w))
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, int(width*Scale), img.Bounds().Dx())
	assert.Equal(t, 1022, img.Bounds().Dy())
}

func TestRender_Bars(t *testing.T) {
	r, err := NewPNGRenderer()
	require.NoError(t, err)

	now := monday.AddDate(0, 0, 4).Add(12 * time.Hour) // Friday noon
	w := sampleWeek(now, false)
	data, err := r.Render(w, stats.Compute(w))
	require.NoError(t, err)

	mid := actualH / 2
	assert.Equal(t, colRed, pixelAt(t, data, 11.5, 2, mid), "outage on Wednesday")
	assert.Equal(t, colGreen, pixelAt(t, data, 5.2, 2, mid), "power on Wednesday morning")
	assert.Equal(t, colEmptyBar, pixelAt(t, data, 5.2, 6, mid), "Sunday is in the future")

	sched := actualH + barGap + schedH/2
	assert.Equal(t, colYellow, pixelAt(t, data, 5.2, 2, sched), "scheduled on")
	assert.Equal(t, colSchedOff, pixelAt(t, data, 11.2, 2, sched), "scheduled off")
	assert.Equal(t, colEmptyBar, pixelAt(t, data, 5.2, 1, sched), "no schedule on Tuesday")
}

func TestRender_ConcurrentCalls(t *testing.T) {
	r, err := NewPNGRenderer()
	require.NoError(t, err)
	w := sampleWeek(monday.AddDate(0, 0, 7), true)
	s := stats.Compute(w)

	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, err := r.Render(w, s)
			done <- err
		}()
	}
	for i := 0; i < 4; i++ {
		assert.NoError(t, <-done)
	}
}

func TestFormatHours(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0хв"},
		{0.5, "30хв"},
		{3, "3год"},
		{81, "81год"},
		{2.25, "2год 15хв"},
		{1.999, "2год"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatHours(tt.in), "%v", tt.in)
	}
}

func TestFormatDiff(t *testing.T) {
	assert.Equal(t, "+240хв (+20%)", FormatDiff(stats.WeeklyStats{DiffMinutes: 240, DiffPercent: 20}))
	assert.Equal(t, "-90хв (-12.5%)", FormatDiff(stats.WeeklyStats{DiffMinutes: -90, DiffPercent: -12.5}))
	assert.Equal(t, "0хв (0%)", FormatDiff(stats.WeeklyStats{}))
}

func TestCaption(t *testing.T) {
	w := sampleWeek(monday.AddDate(0, 0, 7), true)
	got := Caption(w, stats.Compute(w))

	assert.Contains(t, got, "<b>Тижневий графік відключень</b>\n")
	assert.Contains(t, got, "Група: GPV1.1\n")
	assert.Contains(t, got, "Відключень: 1, всього 3 год\n")
}

func TestCaption_EscapesGroup(t *testing.T) {
	w := sampleWeek(monday.AddDate(0, 0, 7), true)
	w.Group = "A&<B>"

	got := Caption(w, stats.Compute(w))

	assert.Contains(t, got, "Група: A&amp;&lt;B&gt;\n")
	assert.NotContains(t, got, "<B>")
}
