// Package chart renders the weekly outage timeline as a PNG for Telegram.
//
// Each day row has an observed bar (green on, red off, empty for future days)
// above a thin schedule bar (yellow planned on, grey planned off), with a
// summary column on the right and the week statistics underneath.
package chart

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"math"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"

	"powerwatch/app/internal/stats"
)

// Renderer turns a week into image bytes.
type Renderer interface {
	Render(w stats.Week, s stats.WeeklyStats) ([]byte, error)
}

var (
	colBg         = hex("#ffffff")
	colBorder     = hex("#e2e8f0")
	colGridMajor  = hex("#cbd5e1")
	colGridMinor  = hex("#e2e8f0")
	colText       = hex("#1e293b")
	colMuted      = hex("#64748b")
	colDimmed     = hex("#94a3b8")
	colGreen      = hex("#22c55e")
	colRed        = hex("#ef4444")
	colYellow     = hex("#eab308")
	colSchedOff   = hex("#cbd5e1")
	colAccent     = hex("#3b82f6")
	colTodayBg    = hex("#eff6ff")
	colEmptyBar   = hex("#f1f5f9")
	colSummaryOn  = hex("#15803d")
	colSummaryExp = hex("#a16207")
	colDiffPos    = hex("#059669")
	colDiffNeg    = hex("#dc2626")
	colStatLabel  = hex("#475569")
)

// layout, in units before scaling
const (
	width      = 720.0
	labelW     = 80.0
	padX       = 16.0
	summaryCol = 72.0
	summaryGap = 8.0
	barAreaW   = width - labelW - padX*2 - summaryCol - summaryGap
	titleH     = 44.0
	actualH    = 20.0
	schedH     = 8.0
	barGap     = 3.0
	dayPad     = 6.0
	dayH       = dayPad + actualH + barGap + schedH + dayPad + 4
	axisH      = 24.0
	legendH    = 28.0
	statsH     = 64.0
	topPad     = 10.0
	height     = topPad + titleH + 7*dayH + axisH + legendH + statsH + 12
	barLeft    = labelW + padX
)

// Scale is the bitmap pixels per layout unit.
const Scale = 2.0

// PNGRenderer draws charts with the embedded Go fonts, which cover Cyrillic.
// Font faces are not safe for concurrent use, so renders are serialised.
type PNGRenderer struct {
	mu    sync.Mutex
	faces map[string]font.Face
}

// NewPNGRenderer parses the fonts and builds the faces used by Render.
func NewPNGRenderer() (*PNGRenderer, error) {
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse regular font: %w", err)
	}
	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse bold font: %w", err)
	}

	specs := []struct {
		name string
		f    *opentype.Font
		size float64
	}{
		{"title", bold, 16},
		{"subtitle", regular, 11},
		{"day", bold, 13},
		{"date", regular, 9.5},
		{"small", regular, 9.5},
		{"smallBold", bold, 10},
		{"tiny", bold, 9},
		{"stat", regular, 10},
		{"statBold", bold, 10},
	}
	r := &PNGRenderer{faces: make(map[string]font.Face, len(specs))}
	for _, s := range specs {
		face, err := opentype.NewFace(s.f, &opentype.FaceOptions{
			Size:    s.size * Scale,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err != nil {
			return nil, fmt.Errorf("font face %s: %w", s.name, err)
		}
		r.faces[s.name] = face
	}
	return r, nil
}

func hourToX(h float64) float64 {
	return barLeft + h/24*barAreaW
}

// Render draws w with its statistics s and encodes the result as PNG.
func (r *PNGRenderer) Render(w stats.Week, s stats.WeeklyStats) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := newCanvas(width, height, Scale, colBg)
	f := r.faces

	titleY := topPad + 20
	c.text(width/2, titleY, "Відключення за тиждень "+w.Label(), f["title"], colText, alignCenter)
	if w.Group != "" {
		c.text(width/2, titleY+16, "Група: "+w.Group, f["subtitle"], colMuted, alignCenter)
	}

	chartTop := topPad + titleH
	axisY := chartTop + 7*dayH

	for h := 1; h < 24; h++ {
		x := hourToX(float64(h))
		if h%4 == 0 {
			c.vline(x, chartTop, axisY, 0.75, colGridMajor)
		} else {
			c.vline(x, chartTop, axisY, 0.5, colGridMinor)
		}
	}

	for i, day := range w.Days {
		r.drawDay(c, i, day, chartTop+float64(i)*dayH)
	}

	// the now marker goes on top of the grid and bars
	for i, day := range w.Days {
		if !day.IsToday {
			continue
		}
		rowY := chartTop + float64(i)*dayH + dayPad
		x := hourToX(day.NowHour)
		c.vline(x, rowY-3, rowY+actualH+barGap+schedH+3, 2.5, colAccent)
		c.rect(x-3, rowY-6, 6, 6, colAccent)
	}

	tickY := axisY + 2
	for h := 0; h <= 24; h++ {
		x := hourToX(float64(h))
		if h%4 == 0 {
			c.vline(x, tickY, tickY+5, 1, colMuted)
			c.text(x, tickY+16, fmt.Sprint(h), f["small"], colMuted, alignCenter)
		} else {
			c.vline(x, tickY, tickY+3, 0.5, colDimmed)
		}
	}

	legY := axisY + axisH + 6
	legX := barLeft
	for _, item := range []struct {
		col   color.RGBA
		label string
	}{
		{colGreen, "Є світло"},
		{colRed, "Відключення"},
		{colYellow, "Графік: увімк"},
		{colSchedOff, "Графік: вимк"},
	} {
		c.rect(legX, legY, 10, 10, item.col)
		c.text(legX+14, legY+9, item.label, f["small"], colMuted, alignLeft)
		legX += 14 + c.textWidth(item.label, f["small"]) + 14
	}

	statsTop := legY + legendH
	c.hline(padX, width-padX, statsTop-4, 0.5, colBorder)
	r.drawStats(c, s, statsTop)

	var buf bytes.Buffer
	if err := png.Encode(&buf, c.img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *PNGRenderer) drawDay(c *canvas, i int, day stats.ChartDay, rowY float64) {
	f := r.faces
	if day.IsToday {
		c.rect(padX/2, rowY, width-padX, dayH-2, colTodayBg)
	}
	if i > 0 {
		c.hline(barLeft, width-padX, rowY, 0.5, colBorder)
	}

	labelCol := colText
	switch {
	case day.IsToday:
		labelCol = colAccent
	case day.IsFuture:
		labelCol = colDimmed
	}
	c.text(labelW-6, rowY+dayPad+13, stats.DayLabels[i], f["day"], labelCol, alignRight)
	c.text(labelW-6, rowY+dayPad+26, day.Date.Format("02.01"), f["date"], colDimmed, alignRight)

	actualY := rowY + dayPad
	if day.IsFuture {
		c.rect(barLeft, actualY, barAreaW, actualH, colEmptyBar)
		c.outline(barLeft, actualY, barAreaW, actualH, colBorder)
	} else {
		cutoff := day.Cutoff()
		c.rect(barLeft, actualY, hourToX(cutoff)-barLeft, actualH, colGreen)
		for _, o := range day.Outages {
			left, right := hourToX(o.StartHour), hourToX(o.EndHour)
			c.rect(left, actualY, right-left, actualH, colRed)
		}
		c.outline(barLeft, actualY, hourToX(cutoff)-barLeft, actualH, colBorder)
	}

	schedY := actualY + actualH + barGap
	if day.HasSchedule() {
		c.rect(barLeft, schedY, barAreaW, schedH, colSchedOff)
		runStart := 0
		for s := 1; s <= len(day.Schedule); s++ {
			if s < len(day.Schedule) && day.Schedule[s] == day.Schedule[runStart] {
				continue
			}
			if day.Schedule[runStart] {
				left, right := hourToX(float64(runStart)*0.5), hourToX(float64(s)*0.5)
				c.rect(left, schedY, right-left, schedH, colYellow)
			}
			runStart = s
		}
	} else {
		c.rect(barLeft, schedY, barAreaW, schedH, colEmptyBar)
	}
	c.outline(barLeft, schedY, barAreaW, schedH, colBorder)

	if day.IsFuture {
		return
	}
	right := width - padX - 2
	actualOn := math.Max(0, roundTenth(day.OnHours()))
	c.text(right, actualY+12, FormatHours(actualOn), f["smallBold"], colSummaryOn, alignRight)
	if !day.HasSchedule() {
		return
	}
	c.hline(right-44, right, actualY+16, 0.75, colBorder)
	expOn, _ := day.Schedule.Hours(day.Cutoff())
	expOn = roundTenth(expOn)
	c.text(right, actualY+26, FormatHours(expOn), f["small"], colSummaryExp, alignRight)

	diff := roundTenth(actualOn - expOn)
	col, sign := colMuted, ""
	switch {
	case diff > 0:
		col, sign = colDiffPos, "+"
	case diff < 0:
		col, sign = colDiffNeg, "-"
	}
	c.text(right, actualY+36, sign+FormatHours(math.Abs(diff)), f["tiny"], col, alignRight)
}

func (r *PNGRenderer) drawStats(c *canvas, s stats.WeeklyStats, top float64) {
	col1 := padX + 8
	col2 := width/2 + 8
	lines := []struct {
		x            float64
		label, value string
	}{
		{col1, "Зі світлом: ", fmt.Sprintf("%s (%s%%)", FormatHours(s.TotalPowerOnHours), trimFloat(s.UptimePercent()))},
		{col2, "Без світла: ", fmt.Sprintf("%s, %d відкл.", FormatHours(s.TotalPowerOffHours), s.OutageCount)},
		{col1, "Найдовше зі світлом: ", FormatHours(s.LongestOn)},
		{col2, "Найдовше без світла: ", FormatHours(s.LongestOff)},
		{col1, "Середнє відключення: ", FormatHours(s.AvgOutage)},
		{col2, "Різниця від графіку: ", FormatDiff(s)},
	}
	for i, l := range lines {
		y := top + 12 + float64(i/2)*15
		c.text(l.x, y, l.label, r.faces["stat"], colStatLabel, alignLeft)
		c.text(l.x+c.textWidth(l.label, r.faces["stat"]), y, l.value, r.faces["statBold"], colStatLabel, alignLeft)
	}
}
