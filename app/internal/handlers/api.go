package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"powerwatch/app/internal/clock"
	"powerwatch/app/internal/database"
	"powerwatch/app/internal/models"
	"powerwatch/app/internal/stats"
)

type deviceStatus struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Group            string        `json:"group_name"`
	Status           models.Status `json:"status"`
	LastPing         *int64        `json:"last_ping"`
	LastPingAgo      *int64        `json:"last_ping_ago"`
	LastStatusChange *int64        `json:"last_status_change"`
}

func millisOrNil(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	ms := clock.Millis(t)
	return &ms
}

func (a *API) internalError(c *gin.Context, msg string, err error) {
	a.log.Error(msg, zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}

// GET /api/status
func (a *API) status(c *gin.Context) {
	devices, err := a.store.ListDevices(c.Request.Context())
	if err != nil {
		a.internalError(c, "failed to list devices", err)
		return
	}
	now := a.opts.Now()

	out := make([]deviceStatus, 0, len(devices))
	for _, d := range devices {
		row := deviceStatus{
			ID:               d.ID,
			Name:             d.Name,
			Group:            d.Group,
			Status:           d.Status,
			LastPing:         millisOrNil(d.LastPing),
			LastStatusChange: millisOrNil(d.LastStatusChange),
		}
		if !d.LastPing.IsZero() {
			ago := int64(now.Sub(d.LastPing) / time.Second)
			row.LastPingAgo = &ago
		}
		out = append(out, row)
	}
	c.JSON(http.StatusOK, gin.H{"devices": out, "timestamp": clock.Millis(now)})
}

// GET /api/devices
func (a *API) devices(c *gin.Context) {
	devices, err := a.store.ListDevices(c.Request.Context())
	if err != nil {
		a.internalError(c, "failed to list devices", err)
		return
	}
	if devices == nil {
		devices = []models.Device{}
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

// daysParam parses a look-back window like "7" or "7d", clamped to 1..90.
func daysParam(raw string) int {
	n, err := strconv.Atoi(strings.TrimSuffix(raw, "d"))
	if err != nil {
		n = 7
	}
	return stats.ClampDays(n)
}

// GET /api/outages?days=N
func (a *API) outages(c *gin.Context) {
	days := daysParam(c.DefaultQuery("days", "7"))
	since := a.opts.Now().Add(-time.Duration(days) * 24 * time.Hour)

	outages, err := a.store.RecentOutages(c.Request.Context(), since)
	if err != nil {
		a.internalError(c, "failed to list outages", err)
		return
	}
	if outages == nil {
		outages = []models.OutageWithDevice{}
	}
	c.JSON(http.StatusOK, gin.H{"outages": outages, "days": days})
}

// GET /api/stats?period=Nd
func (a *API) stats(c *gin.Context) {
	ctx := c.Request.Context()
	days := daysParam(c.DefaultQuery("period", "7d"))
	now := a.opts.Now()

	devices, err := a.store.ListDevices(ctx)
	if err != nil {
		a.internalError(c, "failed to list devices", err)
		return
	}
	recent, err := a.store.RecentOutages(ctx, now.Add(-time.Duration(days)*24*time.Hour))
	if err != nil {
		a.internalError(c, "failed to list outages", err)
		return
	}
	outages := make([]models.Outage, len(recent))
	for i, o := range recent {
		outages[i] = o.Outage
	}

	out := make([]models.DeviceStats, 0, len(devices))
	for _, d := range devices {
		out = append(out, stats.Period(d, outages, days, now))
	}
	c.JSON(http.StatusOK, gin.H{"stats": out, "period_days": days})
}

// GET /api/schedule?date=YYYY-MM-DD&group=G
func (a *API) schedule(c *gin.Context) {
	loc := a.opts.Location
	date := c.DefaultQuery("date", clock.DateKey(a.opts.Now(), loc))
	if _, err := clock.ParseDateKey(date, loc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}
	group := c.DefaultQuery("group", a.opts.DefaultGroup)

	day, err := a.store.GetScheduleDay(c.Request.Context(), date, group)
	if database.IsNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no schedule cached for " + group + " on " + date})
		return
	}
	if err != nil {
		a.internalError(c, "failed to load schedule", err)
		return
	}
	c.JSON(http.StatusOK, day)
}

func (a *API) currentWeek(c *gin.Context) (stats.Week, stats.WeeklyStats, bool) {
	if a.weeks == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "weekly chart disabled"})
		return stats.Week{}, stats.WeeklyStats{}, false
	}
	now := a.opts.Now()
	w, s, err := a.weeks.Build(c.Request.Context(), clock.WeekStart(now, a.opts.Location), now, false)
	if err != nil {
		a.internalError(c, "failed to build week", err)
		return stats.Week{}, stats.WeeklyStats{}, false
	}
	return w, s, true
}

// GET /api/week
func (a *API) week(c *gin.Context) {
	w, s, ok := a.currentWeek(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"label":          w.Label(),
		"week":           w,
		"stats":          s,
		"uptime_percent": s.UptimePercent(),
	})
}

// GET /api/week/chart.png
func (a *API) weekChart(c *gin.Context) {
	if a.renderer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "weekly chart disabled"})
		return
	}
	w, s, ok := a.currentWeek(c)
	if !ok {
		return
	}
	png, err := a.renderer.Render(w, s)
	if err != nil {
		a.internalError(c, "failed to render chart", err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

// GET /api/logs?level=&category=&subject=&limit=&offset=
func (a *API) logs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 1 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	entries, err := a.store.GetLogs(limit, c.Query("level"), c.Query("category"), c.Query("subject"), offset)
	if err != nil {
		a.internalError(c, "failed to load logs", err)
		return
	}
	if entries == nil {
		entries = []models.LogEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": entries, "limit": limit, "offset": offset})
}
