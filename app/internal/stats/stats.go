package stats

import (
	"math"
	"time"

	"powerwatch/app/internal/models"
)

// Period summarises closed outages of a device that started within the last
// days before now. Open outages are not counted until they close.
func Period(device models.Device, outages []models.Outage, days int, now time.Time) models.DeviceStats {
	since := now.Add(-time.Duration(days) * 24 * time.Hour)
	st := models.DeviceStats{
		DeviceID:   device.ID,
		DeviceName: device.Name,
		Status:     device.Status,
	}
	for _, o := range outages {
		if o.DeviceID != device.ID || o.Open() || !o.Start.After(since) {
			continue
		}
		st.OutageCount++
		st.TotalOutageSeconds += o.DurationSeconds
	}

	periodSeconds := float64(days) * 24 * 3600
	st.TotalOutageHours = round2(float64(st.TotalOutageSeconds) / 3600)
	st.UptimePercent = round2((periodSeconds - float64(st.TotalOutageSeconds)) / periodSeconds * 100)
	return st
}

// ClampDays bounds a requested look-back window to 1..90 days.
func ClampDays(days int) int {
	if days < 1 {
		return 1
	}
	if days > 90 {
		return 90
	}
	return days
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
