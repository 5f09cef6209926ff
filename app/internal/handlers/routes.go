// Package handlers exposes the heartbeat endpoint and the read-only JSON API.
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"powerwatch/app/internal/cache"
	"powerwatch/app/internal/chart"
	"powerwatch/app/internal/models"
	"powerwatch/app/internal/ratelimit"
	"powerwatch/app/internal/stats"
)

// Store is the ledger slice the API reads and writes.
type Store interface {
	Ping(ctx context.Context) error
	GetDeviceByKey(ctx context.Context, key string) (*models.Device, error)
	CreateDevice(ctx context.Context, d models.Device) error
	ListDevices(ctx context.Context) ([]models.Device, error)
	RecentOutages(ctx context.Context, since time.Time) ([]models.OutageWithDevice, error)
	GetScheduleDay(ctx context.Context, date, group string) (*models.ScheduleDay, error)
	InsertLog(level, category, subject, message, details string) error
	GetLogs(limit int, level, category, subject string, offset int) ([]models.LogEntry, error)
}

// Heartbeater applies one heartbeat and returns the prior status.
type Heartbeater interface {
	Heartbeat(ctx context.Context, deviceID string) (models.Status, error)
}

// WeekBuilder assembles a chart week as seen at now.
type WeekBuilder interface {
	Build(ctx context.Context, weekStart, now time.Time, complete bool) (stats.Week, stats.WeeklyStats, error)
}

// Options configures the API.
type Options struct {
	CheckAPIKey  func(key string) bool
	DefaultGroup string
	Location     *time.Location
	CORSOrigin   string
	PingRate     int           // heartbeats per minute per key
	KeyCacheTTL  time.Duration // how long a verified key skips bcrypt

	// MQTTConnected, when set, adds the broker link state to /health.
	MQTTConnected func() bool
	Now           func() time.Time
	Log           *zap.Logger
}

// API holds the handler dependencies.
type API struct {
	store    Store
	monitor  Heartbeater
	weeks    WeekBuilder
	renderer chart.Renderer
	opts     Options
	log      *zap.Logger
	keys     *cache.Cache[principal]
	limiter  *ratelimit.Limiter
}

// New creates the API. renderer and weeks may be nil, which disables the
// week endpoints.
func New(store Store, monitor Heartbeater, weeks WeekBuilder, renderer chart.Renderer, opts Options) *API {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	if opts.PingRate <= 0 {
		opts.PingRate = 30
	}
	if opts.KeyCacheTTL <= 0 {
		opts.KeyCacheTTL = 10 * time.Minute
	}
	return &API{
		store:    store,
		monitor:  monitor,
		weeks:    weeks,
		renderer: renderer,
		opts:     opts,
		log:      opts.Log,
		keys:     cache.New[principal](opts.KeyCacheTTL).WithClock(opts.Now),
		limiter: ratelimit.New(ratelimit.Config{
			TokensPerMinute: opts.PingRate,
			ErrorMessage:    "Too many pings. Please slow down.",
			Now:             opts.Now,
		}),
	}
}

// Router builds the gin engine with every route registered.
func (a *API) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(a.log))
	r.Use(secureHeaders())
	r.Use(cors(a.opts.CORSOrigin))

	r.GET("/health", a.health)
	r.GET("/ping", a.ping)
	r.POST("/ping", a.ping)

	admin := r.Group("/")
	admin.Use(a.requireAPIKey())
	{
		admin.POST("/register", a.register)
	}

	api := r.Group("/api")
	api.Use(a.requireAPIKey())
	{
		api.GET("/status", a.status)
		api.GET("/devices", a.devices)
		api.GET("/outages", a.outages)
		api.GET("/stats", a.stats)
		api.GET("/schedule", a.schedule)
		api.GET("/week", a.week)
		api.GET("/week/chart.png", a.weekChart)
		api.GET("/logs", a.logs)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
	return r
}

// Prune drops expired key-cache entries and idle limiter buckets.
func (a *API) Prune() {
	a.keys.Prune()
	a.limiter.Prune(10 * time.Minute)
}

// requestLogger logs one line per request. The query string is left out
// because it carries keys.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Error("request", fields...)
		case c.Request.URL.Path == "/ping" || c.Request.URL.Path == "/health":
			log.Debug("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

// maxBodyBytes bounds request bodies; the largest is a registration.
const maxBodyBytes = 64 << 10

func secureHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		c.Next()
	}
}

func cors(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (a *API) health(c *gin.Context) {
	if err := a.store.Ping(c.Request.Context()); err != nil {
		a.log.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": "database unavailable"})
		return
	}
	body := gin.H{"ok": true}
	if a.opts.MQTTConnected != nil {
		body["mqtt"] = a.opts.MQTTConnected()
	}
	c.JSON(http.StatusOK, body)
}

// presentedKey reads ?key= first, then an Authorization bearer token.
func presentedKey(c *gin.Context) string {
	if k := c.Query("key"); k != "" {
		return k
	}
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}
