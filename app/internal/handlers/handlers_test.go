package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"powerwatch/app/internal/database"
	"powerwatch/app/internal/models"
	"powerwatch/app/internal/schedule"
	"powerwatch/app/internal/stats"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const adminKey = "admin-secret"

type fakeHeartbeater struct {
	mu    sync.Mutex
	ids   []string
	prior models.Status
	err   error
}

func (f *fakeHeartbeater) Heartbeat(_ context.Context, id string) (models.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return f.prior, f.err
}

type fakeWeeks struct{ err error }

func (f fakeWeeks) Build(_ context.Context, weekStart, now time.Time, complete bool) (stats.Week, stats.WeeklyStats, error) {
	if f.err != nil {
		return stats.Week{}, stats.WeeklyStats{}, f.err
	}
	w := stats.BuildWeek(weekStart, now, time.UTC, "GPV1.1", nil, nil, complete)
	return w, stats.Compute(w), nil
}

type fakeRenderer struct{}

func (fakeRenderer) Render(stats.Week, stats.WeeklyStats) ([]byte, error) {
	return []byte("\x89PNG"), nil
}

type harness struct {
	t         *testing.T
	store     *database.Store
	hb        *fakeHeartbeater
	api       *API
	router    *gin.Engine
	now       time.Time
	keyChecks int
}

func newHarness(t *testing.T, opts ...func(*Options)) *harness {
	t.Helper()
	store, err := database.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{t: t, store: store, hb: &fakeHeartbeater{prior: models.StatusOnline},
		now: time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)}
	o := Options{
		CheckAPIKey: func(key string) bool {
			h.keyChecks++
			return key == adminKey
		},
		DefaultGroup: "GPV1.1",
		CORSOrigin:   "https://example.org",
		PingRate:     30,
		Now:          func() time.Time { return h.now },
		Log:          zaptest.NewLogger(t),
	}
	for _, fn := range opts {
		fn(&o)
	}
	h.api = New(store, h.hb, fakeWeeks{}, fakeRenderer{}, o)
	h.router = h.api.Router()
	return h
}

func (h *harness) do(method, target, body string) *httptest.ResponseRecorder {
	h.t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (h *harness) addDevice(id, key, group string, lastPing time.Time) {
	h.t.Helper()
	status := models.StatusUnknown
	if !lastPing.IsZero() {
		status = models.StatusOnline
	}
	require.NoError(h.t, h.store.CreateDevice(context.Background(), models.Device{
		ID: id, Key: key, Name: strings.ToUpper(id), Group: group, Status: status,
		LastPing: lastPing, LastStatusChange: lastPing, CreatedAt: h.now.Add(-24 * time.Hour),
	}))
}

// --- health & middleware ---

func TestHealth(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["ok"])
	assert.Equal(t, "https://example.org", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealth_ReportsMQTTLink(t *testing.T) {
	connected := false
	h := newHarness(t, func(o *Options) { o.MQTTConnected = func() bool { return connected } })

	body := decode(t, h.do(http.MethodGet, "/health", ""))
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, false, body["mqtt"])

	connected = true
	assert.Equal(t, true, decode(t, h.do(http.MethodGet, "/health", ""))["mqtt"])
}

func TestHealth_OmitsMQTTWhenDisabled(t *testing.T) {
	h := newHarness(t)

	_, present := decode(t, h.do(http.MethodGet, "/health", ""))["mqtt"]
	assert.False(t, present)
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodOptions, "/api/status", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "GET")
}

func TestNoRoute(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/nope", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found", decode(t, rec)["error"])
}

// --- ping ---

func TestPing_MissingKey(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/ping", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, h.hb.ids)
}

func TestPing_UnknownKey(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/ping?key=wrong", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, h.hb.ids)
}

func TestPing_APIKeyHeartbeatsDefaultDevice(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/ping?key="+adminKey, "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, models.DefaultDeviceID, body["device_id"])
	assert.Equal(t, false, body["recovered"])
	assert.Equal(t, []string{models.DefaultDeviceID}, h.hb.ids)
}

func TestPing_DeviceKeyPost(t *testing.T) {
	h := newHarness(t)
	h.addDevice("garage", "garage-key", "GPV2.1", time.Time{})
	h.hb.prior = models.StatusOffline

	req := httptest.NewRequest(http.MethodPost, "/ping", nil)
	req.Header.Set("Authorization", "Bearer garage-key")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["recovered"])
	assert.Equal(t, []string{"garage"}, h.hb.ids)
}

func TestPing_VerifiedKeyIsCached(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/ping?key="+adminKey, "").Code)
	}
	assert.Equal(t, 1, h.keyChecks)
	assert.Len(t, h.hb.ids, 3)
}

func TestPing_RateLimited(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.PingRate = 2 })

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/ping?key="+adminKey, "").Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/ping?key="+adminKey, "").Code)
	rec := h.do(http.MethodGet, "/ping?key="+adminKey, "")

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.Len(t, h.hb.ids, 2)

	// another key has its own bucket
	h.addDevice("garage", "garage-key", "", time.Time{})
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/ping?key=garage-key", "").Code)

	h.now = h.now.Add(time.Minute)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/ping?key="+adminKey, "").Code)
}

func TestPing_DeviceVanished(t *testing.T) {
	h := newHarness(t)
	h.hb.err = database.ErrNotFound{Resource: "device", ID: "default"}

	rec := h.do(http.MethodGet, "/ping?key="+adminKey, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPing_HeartbeatError(t *testing.T) {
	h := newHarness(t)
	h.hb.err = errors.New("disk full")

	rec := h.do(http.MethodGet, "/ping?key="+adminKey, "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decode(t, rec)["error"])
}

// --- register ---

func TestRegister(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/register?key="+adminKey, `{"name":"Kitchen"}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "Kitchen", body["name"])
	assert.Equal(t, "GPV1.1", body["group_name"])
	key, _ := body["key"].(string)
	require.Len(t, key, 32)
	assert.Equal(t, "http://example.com/ping?key="+key, body["ping_url"])

	d, err := h.store.GetDeviceByKey(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, body["id"], d.ID)
	assert.Equal(t, models.StatusUnknown, d.Status)

	// the new key pings its own device
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/ping?key="+key, "").Code)
	assert.Equal(t, []string{d.ID}, h.hb.ids)
}

func TestRegister_Validation(t *testing.T) {
	h := newHarness(t)
	h.addDevice("garage", "garage-key", "", time.Time{})

	tests := []struct {
		name   string
		target string
		body   string
		want   int
	}{
		{"no key", "/register", `{"name":"x"}`, http.StatusUnauthorized},
		{"device key is not admin", "/register?key=garage-key", `{"name":"x"}`, http.StatusUnauthorized},
		{"empty name", "/register?key=" + adminKey, `{"name":"  ","group_name":"GPV2.1"}`, http.StatusBadRequest},
		{"bad json", "/register?key=" + adminKey, `{"name":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(http.MethodPost, tt.target, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode(t, rec)["error"])
		})
	}
}

// --- read API ---

func TestAPI_RequiresKey(t *testing.T) {
	h := newHarness(t)
	for _, path := range []string{"/api/status", "/api/devices", "/api/outages", "/api/stats", "/api/schedule", "/api/week", "/api/week/chart.png"} {
		rec := h.do(http.MethodGet, path, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	h.addDevice("kitchen", "k1", "GPV1.1", h.now.Add(-90*time.Second))
	h.addDevice("garage", "k2", "GPV2.1", time.Time{})

	rec := h.do(http.MethodGet, "/api/status?key="+adminKey, "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Devices   []deviceStatus `json:"devices"`
		Timestamp int64          `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Devices, 2)
	assert.Equal(t, h.now.UnixMilli(), body.Timestamp)

	byID := map[string]deviceStatus{}
	for _, d := range body.Devices {
		byID[d.ID] = d
	}
	require.NotNil(t, byID["kitchen"].LastPingAgo)
	assert.Equal(t, int64(90), *byID["kitchen"].LastPingAgo)
	assert.Nil(t, byID["garage"].LastPing)
	assert.Nil(t, byID["garage"].LastPingAgo)
}

func TestDevices_Empty(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/api/devices?key="+adminKey, "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"devices":[]}`, rec.Body.String())
}

func (h *harness) addOutage(id string, start, end time.Time) {
	h.t.Helper()
	ctx := context.Background()
	_, err := h.store.ApplyStatusChange(ctx, database.StatusChange{
		DeviceID: id, From: models.StatusOnline, To: models.StatusOffline,
		ChangedAt: start, OpenOutageAt: start,
	})
	require.NoError(h.t, err)
	if end.IsZero() {
		return
	}
	_, err = h.store.ApplyStatusChange(ctx, database.StatusChange{
		DeviceID: id, From: models.StatusOffline, To: models.StatusOnline,
		ChangedAt: end, LastPing: end, CloseOutageAt: end,
	})
	require.NoError(h.t, err)
}

func TestOutages(t *testing.T) {
	h := newHarness(t)
	h.addDevice("kitchen", "k1", "GPV1.1", h.now.Add(-time.Hour))
	h.addOutage("kitchen", h.now.Add(-50*time.Hour), h.now.Add(-48*time.Hour))
	h.addOutage("kitchen", h.now.Add(-3*time.Hour), h.now.Add(-2*time.Hour))

	rec := h.do(http.MethodGet, "/api/outages?days=1&key="+adminKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Outages []models.OutageWithDevice `json:"outages"`
		Days    int                       `json:"days"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Days)
	require.Len(t, body.Outages, 1)
	assert.Equal(t, "KITCHEN", body.Outages[0].DeviceName)
	assert.Equal(t, int64(3600), body.Outages[0].DurationSeconds)

	rec = h.do(http.MethodGet, "/api/outages?days=500&key="+adminKey, "")
	assert.Equal(t, float64(90), decode(t, rec)["days"])
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	h.addDevice("kitchen", "k1", "GPV1.1", h.now.Add(-time.Hour))
	h.addOutage("kitchen", h.now.Add(-5*time.Hour), h.now.Add(-2*time.Hour))

	rec := h.do(http.MethodGet, "/api/stats?period=1d&key="+adminKey, "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Stats      []models.DeviceStats `json:"stats"`
		PeriodDays int                  `json:"period_days"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.PeriodDays)
	require.Len(t, body.Stats, 1)
	assert.Equal(t, 1, body.Stats[0].OutageCount)
	assert.Equal(t, int64(3*3600), body.Stats[0].TotalOutageSeconds)
	assert.InDelta(t, 3.0, body.Stats[0].TotalOutageHours, 1e-9)
	assert.InDelta(t, 87.5, body.Stats[0].UptimePercent, 1e-9)
}

func TestDaysParam(t *testing.T) {
	assert.Equal(t, 7, daysParam("7d"))
	assert.Equal(t, 30, daysParam("30"))
	assert.Equal(t, 1, daysParam("0d"))
	assert.Equal(t, 90, daysParam("365d"))
	assert.Equal(t, 7, daysParam("week"))
}

func TestSchedule(t *testing.T) {
	h := newHarness(t)
	day := schedule.ParseDay(map[string]string{"1": "no"})
	require.NoError(t, h.store.UpsertScheduleDay(context.Background(), "2024-03-06", "GPV1.1", day, h.now))

	rec := h.do(http.MethodGet, "/api/schedule?key="+adminKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.ScheduleDay
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "2024-03-06", got.Date)
	require.Len(t, got.Slots, 48)
	assert.False(t, got.Slots[0])
	assert.True(t, got.Slots[2])

	rec = h.do(http.MethodGet, "/api/schedule?date=2024-03-07&group=GPV1.1&key="+adminKey, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodGet, "/api/schedule?date=07.03.2024&key="+adminKey, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWeek(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/api/week?key="+adminKey, "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "04.03 - 10.03", body["label"])
	week, _ := body["week"].(map[string]any)
	assert.Equal(t, "GPV1.1", week["group"])
}

func TestWeekChart(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/api/week/chart.png?key="+adminKey, "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, []byte("\x89PNG"), rec.Body.Bytes())
}

func TestWeek_Disabled(t *testing.T) {
	h := newHarness(t)
	h.api = New(h.store, h.hb, nil, nil, h.api.opts)
	h.router = h.api.Router()

	assert.Equal(t, http.StatusServiceUnavailable, h.do(http.MethodGet, "/api/week?key="+adminKey, "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, h.do(http.MethodGet, "/api/week/chart.png?key="+adminKey, "").Code)
}

func TestWeek_BuildError(t *testing.T) {
	h := newHarness(t)
	h.api = New(h.store, h.hb, fakeWeeks{err: errors.New("db locked")}, fakeRenderer{}, h.api.opts)
	h.router = h.api.Router()

	rec := h.do(http.MethodGet, "/api/week?key="+adminKey, "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed to build week", decode(t, rec)["error"])
}

func TestSecureHeaders(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/health", "")

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
}

func TestRegister_BodyTooLarge(t *testing.T) {
	h := newHarness(t)
	body := `{"name":"` + strings.Repeat("x", maxBodyBytes) + `"}`

	rec := h.do(http.MethodPost, "/register?key="+adminKey, body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogs(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.InsertLog(database.LogLevelInfo, database.LogCategoryStatus, "kitchen", "Device offline", ""))
	require.NoError(t, h.store.InsertLog(database.LogLevelWarn, database.LogCategoryNotification, "kitchen", "Telegram failed", "http 502"))

	rec := h.do(http.MethodGet, "/api/logs?category=notification&key="+adminKey, "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Logs  []models.LogEntry `json:"logs"`
		Limit int               `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 100, body.Limit)
	require.Len(t, body.Logs, 1)
	assert.Equal(t, "Telegram failed", body.Logs[0].Message)

	rec = h.do(http.MethodGet, "/api/logs?limit=5000&key="+adminKey, "")
	assert.Equal(t, float64(1000), decode(t, rec)["limit"])
}
