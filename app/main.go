package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"powerwatch/app/internal/alerts"
	"powerwatch/app/internal/chart"
	"powerwatch/app/internal/config"
	"powerwatch/app/internal/database"
	"powerwatch/app/internal/feed"
	"powerwatch/app/internal/handlers"
	"powerwatch/app/internal/models"
	"powerwatch/app/internal/monitor"
	"powerwatch/app/internal/mqtt"
	"powerwatch/app/internal/scheduler"
	"powerwatch/app/internal/weekly"
)

// logsKept is how many system_logs rows survive each sweep.
const logsKept = 10000

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		logger.Fatal("Failed to open database", zap.String("path", cfg.DBPath), zap.Error(err))
	}
	defer store.Close()

	tg := alerts.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID)
	if !tg.Configured() {
		logger.Warn("Telegram not configured, notifications and chart are disabled")
	}
	notifier := &alerts.Notifier{
		Messenger: tg,
		Audit:     store,
		Location:  cfg.Location,
		Log:       logger.Named("alerts"),
	}

	// MQTT heartbeats are queued so the paho callback never blocks on the database.
	pings := make(chan string, 64)
	var publisher mqtt.Publisher
	var mqttConnected func() bool
	if cfg.MQTTBroker != "" {
		client, err := mqtt.NewRealClient(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopicPrefix, func(key string) {
			select {
			case pings <- key:
			default:
				logger.Warn("MQTT ping queue full, heartbeat dropped")
			}
		}, logger.Named("mqtt"))
		if err != nil {
			logger.Fatal("Failed to connect MQTT", zap.String("broker", cfg.MQTTBroker), zap.Error(err))
		}
		defer client.Close()
		publisher = client
		mqttConnected = client.IsConnected
		logger.Info("MQTT enabled", zap.String("broker", cfg.MQTTBroker), zap.String("prefix", cfg.MQTTTopicPrefix))
	}

	mon := monitor.New(store, notifier, monitor.Options{
		Location:       cfg.Location,
		StaleThreshold: cfg.StaleThreshold,
		OutageStart:    cfg.OutageStart,
		DefaultGroup:   cfg.OutageGroup,
		Log:            logger.Named("monitor"),
		Publisher:      publisher,
	})
	go consumePings(ctx, pings, store, mon, cfg, logger.Named("mqtt"))

	feedClient, err := feed.NewClient(cfg.ScheduleURL)
	if err != nil {
		logger.Fatal("Failed to create schedule feed client", zap.Error(err))
	}
	refresher := &feed.Refresher{
		Fetcher:      feedClient,
		Store:        store,
		DefaultGroup: cfg.OutageGroup,
		Location:     cfg.Location,
		Now:          time.Now,
		Log:          logger.Named("feed"),
	}

	renderer, err := chart.NewPNGRenderer()
	if err != nil {
		logger.Fatal("Failed to load chart fonts", zap.Error(err))
	}
	reporter := weekly.New(store, tg, renderer, weekly.Options{
		Location:     cfg.Location,
		DeviceID:     cfg.ChartDeviceID,
		DefaultGroup: cfg.OutageGroup,
		Log:          logger.Named("weekly"),
	})

	api := handlers.New(store, mon, reporter, renderer, handlers.Options{
		CheckAPIKey:   cfg.CheckAPIKey,
		DefaultGroup:  cfg.OutageGroup,
		Location:      cfg.Location,
		CORSOrigin:    cfg.CORSOrigin,
		PingRate:      cfg.PingRatePerMinute,
		MQTTConnected: mqttConnected,
		Log:           logger.Named("http"),
	})

	sched := scheduler.New(store.EnsureSchema, logger.Named("scheduler"))
	sched.Add(scheduler.Job{
		Name:     "sweep",
		Interval: cfg.SweepInterval,
		Run: func(ctx context.Context) error {
			res, err := mon.Sweep(ctx)
			if err != nil {
				return err
			}
			if res.Offline > 0 || res.Failed > 0 {
				logger.Info("sweep finished", zap.Int("stale", res.Stale), zap.Int("offline", res.Offline), zap.Int("failed", res.Failed))
			}
			if _, err := store.PrunePings(ctx, time.Now().Add(-cfg.PingRetention)); err != nil {
				logger.Warn("prune pings failed", zap.Error(err))
			}
			if err := store.PruneLogs(logsKept); err != nil {
				logger.Warn("prune logs failed", zap.Error(err))
			}
			mon.PruneCache()
			api.Prune()
			return nil
		},
	})
	sched.Add(scheduler.Job{
		Name:     "schedule",
		Interval: cfg.RefreshInterval,
		Run: func(ctx context.Context) error {
			n, err := refresher.Refresh(ctx)
			if err != nil {
				return err
			}
			mon.InvalidateSchedules()
			logger.Debug("schedule refreshed", zap.Int("rows", n))
			return nil
		},
	})
	if cfg.ChartEnabled {
		sched.Add(scheduler.Job{
			Name:     "chart",
			Interval: cfg.ChartInterval,
			Run: func(ctx context.Context) error {
				action, err := reporter.Tick(ctx)
				if err != nil {
					return err
				}
				logger.Debug("chart tick", zap.String("action", string(action)))
				return nil
			},
		})
	}
	sched.Start(ctx)

	if !cfg.LogDev {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("Server starting", zap.String("addr", srv.Addr), zap.String("timezone", cfg.Location.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
	sched.Wait()
	logger.Info("Stopped")
}

// newLogger builds a production JSON logger, or a console logger with LOG_DEV.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc := zap.NewProductionConfig()
	if cfg.LogDev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// consumePings routes MQTT heartbeats through the same path as /ping.
func consumePings(ctx context.Context, pings <-chan string, store *database.Store, mon *monitor.Monitor, cfg *config.Config, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case key := <-pings:
			id := ""
			if cfg.CheckAPIKey(key) {
				id = models.DefaultDeviceID
			} else if d, err := store.GetDeviceByKey(ctx, key); err == nil {
				id = d.ID
			} else if !database.IsNotFound(err) {
				log.Warn("MQTT ping key lookup failed", zap.Error(err))
				continue
			}
			if id == "" {
				log.Debug("MQTT ping with unknown key ignored")
				continue
			}
			if _, err := mon.Heartbeat(ctx, id); err != nil {
				log.Warn("MQTT heartbeat failed", zap.String("device", id), zap.Error(err))
			}
		}
	}
}
