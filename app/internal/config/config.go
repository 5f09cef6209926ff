package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // zone data for minimal containers

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// DefaultScheduleURL is the community-maintained outage schedule feed for the Kyiv region.
const DefaultScheduleURL = "https://raw.githubusercontent.com/Baskerville42/outage-data-ua/refs/heads/main/data/kyiv-region.json"

// Outage start modes
const (
	OutageStartLastPing = "last_ping"
	OutageStartDetected = "detected"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port       string
	DBPath     string
	CORSOrigin string

	// Auth
	APIKeyHash []byte

	// Telegram
	TelegramBotToken string
	TelegramChatID   string

	// Schedule
	OutageGroup     string
	ScheduleURL     string
	Location        *time.Location
	RefreshInterval time.Duration

	// Monitoring
	StaleThreshold    time.Duration
	OutageStart       string
	SweepInterval     time.Duration
	PingRetention     time.Duration
	PingRatePerMinute int
	ChartEnabled      bool
	ChartInterval     time.Duration
	ChartDeviceID     string

	// MQTT (disabled when MQTTBroker is empty)
	MQTTBroker      string
	MQTTClientID    string
	MQTTTopicPrefix string

	// Logging
	LogLevel string
	LogDev   bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getenv("PORT", "8787"),
		DBPath:            getenv("DB_PATH", "./powerwatch.db"),
		CORSOrigin:        getenv("CORS_ORIGIN", "*"),
		TelegramBotToken:  getenv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:    getenv("TELEGRAM_CHAT_ID", ""),
		OutageGroup:       getenv("OUTAGE_GROUP", "GPV1.1"),
		ScheduleURL:       getenv("SCHEDULE_URL", DefaultScheduleURL),
		RefreshInterval:   envDur("SCHEDULE_REFRESH_INTERVAL", 5*time.Minute),
		StaleThreshold:    envDur("STALE_THRESHOLD", 5*time.Minute),
		OutageStart:       strings.ToLower(getenv("OUTAGE_START", OutageStartLastPing)),
		SweepInterval:     envDur("SWEEP_INTERVAL", time.Minute),
		PingRetention:     envDur("PING_RETENTION", 30*24*time.Hour),
		PingRatePerMinute: envInt("PING_RATE_PER_MINUTE", 30),
		ChartEnabled:      envBool("CHART_ENABLED", true),
		ChartInterval:     envDur("CHART_INTERVAL", 10*time.Minute),
		ChartDeviceID:     getenv("CHART_DEVICE_ID", "default"),
		MQTTBroker:        getenv("MQTT_BROKER", ""),
		MQTTClientID:      getenv("MQTT_CLIENT_ID", "powerwatch"),
		MQTTTopicPrefix:   strings.Trim(getenv("MQTT_TOPIC_PREFIX", "powerwatch"), "/"),
		LogLevel:          strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogDev:            envBool("LOG_DEV", false),
	}

	loc, err := time.LoadLocation(getenv("TIMEZONE", "Europe/Kyiv"))
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	cfg.Location = loc

	// API key: a bcrypt hash wins over the plain key
	if h := getenv("API_KEY_BCRYPT", ""); h != "" {
		cfg.APIKeyHash = []byte(h)
	} else {
		key := getenv("API_KEY", "")
		if key == "" {
			return nil, errors.New("missing API_KEY or API_KEY_BCRYPT")
		}
		h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash api key: %w", err)
		}
		cfg.APIKeyHash = h
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.OutageStart != OutageStartLastPing && c.OutageStart != OutageStartDetected {
		return fmt.Errorf("OUTAGE_START must be %q or %q, got %q", OutageStartLastPing, OutageStartDetected, c.OutageStart)
	}
	for name, d := range map[string]time.Duration{
		"STALE_THRESHOLD":           c.StaleThreshold,
		"SWEEP_INTERVAL":            c.SweepInterval,
		"SCHEDULE_REFRESH_INTERVAL": c.RefreshInterval,
		"CHART_INTERVAL":            c.ChartInterval,
		"PING_RETENTION":            c.PingRetention,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.PingRatePerMinute <= 0 {
		return errors.New("PING_RATE_PER_MINUTE must be positive")
	}
	return nil
}

// TelegramConfigured reports whether both bot token and chat id are set.
func (c *Config) TelegramConfigured() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

// CheckAPIKey compares a presented key against the configured hash.
func (c *Config) CheckAPIKey(key string) bool {
	if key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(c.APIKeyHash, []byte(key)) == nil
}

// Helper functions
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(k string, def bool) bool {
	v := strings.ToLower(getenv(k, ""))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes"
}

// envDur accepts Go duration strings ("90s", "5m") or a bare number of seconds.
func envDur(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}
