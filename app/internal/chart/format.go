package chart

import (
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"

	"powerwatch/app/internal/stats"
)

// FormatHours renders fractional hours as "Xгод Yхв", dropping a zero part.
func FormatHours(h float64) string {
	hrs := int(math.Floor(h))
	mins := int(math.Round((h - float64(hrs)) * 60))
	if mins == 60 {
		hrs, mins = hrs+1, 0
	}
	switch {
	case hrs == 0:
		return fmt.Sprintf("%dхв", mins)
	case mins == 0:
		return fmt.Sprintf("%dгод", hrs)
	default:
		return fmt.Sprintf("%dгод %dхв", hrs, mins)
	}
}

// FormatDiff renders the schedule difference as "+90хв (+12.5%)".
func FormatDiff(s stats.WeeklyStats) string {
	minSign, pctSign := "", ""
	if s.DiffMinutes > 0 {
		minSign = "+"
	}
	if s.DiffPercent > 0 {
		pctSign = "+"
	}
	return fmt.Sprintf("%s%dхв (%s%s%%)", minSign, s.DiffMinutes, pctSign, trimFloat(s.DiffPercent))
}

// Caption is the HTML caption sent with the chart photo.
func Caption(w stats.Week, s stats.WeeklyStats) string {
	var b strings.Builder
	b.WriteString("<b>Тижневий графік відключень</b>\n")
	if w.Group != "" {
		b.WriteString("Група: " + html.EscapeString(w.Group) + "\n")
	}
	fmt.Fprintf(&b, "Відключень: %d, всього %s год\n", s.OutageCount, trimFloat(s.TotalPowerOffHours))
	b.WriteString("🟢 є світло  🔴 немає  🟡 графік увімк  ⬛ графік вимк")
	return b.String()
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

// trimFloat formats v with at most one decimal and no trailing ".0".
func trimFloat(v float64) string {
	return strconv.FormatFloat(roundTenth(v), 'f', -1, 64)
}
