// Package monitor runs the device power state machine: heartbeats bring a
// device online, the sweep marks silent devices offline.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"powerwatch/app/internal/alerts"
	"powerwatch/app/internal/cache"
	"powerwatch/app/internal/clock"
	"powerwatch/app/internal/config"
	"powerwatch/app/internal/database"
	"powerwatch/app/internal/models"
	"powerwatch/app/internal/mqtt"
	"powerwatch/app/internal/schedule"
)

// heartbeatAttempts bounds how often a heartbeat re-reads the device after
// losing a conditional write to a concurrent sweep or heartbeat.
const heartbeatAttempts = 3

// escalateAfter is the failure streak after which sweep errors log at error level.
const escalateAfter = 3

// Store is the ledger slice the state machine needs.
type Store interface {
	GetDevice(ctx context.Context, id string) (*models.Device, error)
	EnsureDefaultDevice(ctx context.Context, now time.Time) (*models.Device, error)
	ListStaleOnline(ctx context.Context, cutoff time.Time) ([]models.Device, error)
	TouchPing(ctx context.Context, id string, at time.Time) (bool, error)
	RecordPing(ctx context.Context, id string, at time.Time) error
	ApplyStatusChange(ctx context.Context, c database.StatusChange) (bool, error)
	ScheduleDays(ctx context.Context, group string, dates []string) (map[string]schedule.Day, error)
	InsertLog(level, category, subject, message, details string) error
}

// Notifier delivers transition notices.
type Notifier interface {
	NotifyOutage(ctx context.Context, a alerts.OutageAlert) error
	NotifyRecovery(ctx context.Context, a alerts.RecoveryAlert) error
}

// Options configures a Monitor.
type Options struct {
	Location       *time.Location
	StaleThreshold time.Duration
	OutageStart    string // config.OutageStartLastPing or config.OutageStartDetected
	DefaultGroup   string
	Now            func() time.Time
	Log            *zap.Logger
	// Publisher mirrors applied transitions to MQTT; nil disables it.
	Publisher mqtt.Publisher
}

// Monitor applies heartbeats and sweeps against the ledger.
type Monitor struct {
	store     Store
	notifier  Notifier
	opts      Options
	log       *zap.Logger
	failures  *FailureTracker
	schedules *cache.Cache[schedule.Day]
}

// New creates a Monitor.
func New(store Store, notifier Notifier, opts Options) *Monitor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Monitor{
		store:     store,
		notifier:  notifier,
		opts:      opts,
		log:       opts.Log,
		failures:  NewFailureTracker(),
		schedules: cache.New[schedule.Day](time.Minute),
	}
}

// InvalidateSchedules drops cached schedule days, e.g. after a feed refresh.
func (m *Monitor) InvalidateSchedules() {
	m.schedules.Clear()
}

// PruneCache removes expired schedule lookups.
func (m *Monitor) PruneCache() int {
	return m.schedules.Prune()
}

// Failures exposes the per-device sweep failure streaks.
func (m *Monitor) Failures() *FailureTracker {
	return m.failures
}

// Heartbeat records a ping from deviceID and moves the device online if needed.
// It returns the state the device was in before the ping.
func (m *Monitor) Heartbeat(ctx context.Context, deviceID string) (models.Status, error) {
	now := m.opts.Now()

	for attempt := 0; attempt < heartbeatAttempts; attempt++ {
		d, err := m.store.GetDevice(ctx, deviceID)
		if database.IsNotFound(err) && deviceID == models.DefaultDeviceID {
			// the implicit device appears on its first ping
			d, err = m.store.EnsureDefaultDevice(ctx, now)
		}
		if err != nil {
			return "", err
		}

		applied, err := m.heartbeat(ctx, d, now)
		if err != nil {
			return "", err
		}
		if applied {
			if err := m.store.RecordPing(ctx, deviceID, now); err != nil {
				return d.Status, err
			}
			return d.Status, nil
		}
		m.log.Debug("heartbeat lost a race, retrying", zap.String("device", deviceID), zap.Int("attempt", attempt+1))
	}
	return "", fmt.Errorf("heartbeat %s: device state kept changing", deviceID)
}

func (m *Monitor) heartbeat(ctx context.Context, d *models.Device, now time.Time) (bool, error) {
	switch d.Status {
	case models.StatusOnline:
		return m.store.TouchPing(ctx, d.ID, now)

	case models.StatusOffline:
		applied, err := m.store.ApplyStatusChange(ctx, database.StatusChange{
			DeviceID:      d.ID,
			From:          models.StatusOffline,
			To:            models.StatusOnline,
			ChangedAt:     now,
			LastPing:      now,
			CloseOutageAt: now,
		})
		if err != nil || !applied {
			return applied, err
		}
		m.onRecovery(ctx, *d, now)
		return true, nil

	default:
		applied, err := m.store.ApplyStatusChange(ctx, database.StatusChange{
			DeviceID:  d.ID,
			From:      d.Status,
			To:        models.StatusOnline,
			ChangedAt: now,
			LastPing:  now,
		})
		if err != nil || !applied {
			return applied, err
		}
		m.log.Info("device online", zap.String("device", d.ID))
		m.audit(d.ID, "Device came online", "first heartbeat")
		m.publish(*d, models.StatusOnline, now, 0)
		return true, nil
	}
}

func (m *Monitor) onRecovery(ctx context.Context, d models.Device, now time.Time) {
	var offlineFor time.Duration
	if !d.LastStatusChange.IsZero() && now.After(d.LastStatusChange) {
		offlineFor = now.Sub(d.LastStatusChange)
	}

	m.log.Info("device recovered", zap.String("device", d.ID), zap.Duration("offline_for", offlineFor))
	m.audit(d.ID, "Power restored", fmt.Sprintf("offline for %s", offlineFor.Round(time.Second)))
	m.publish(d, models.StatusOnline, now, offlineFor)

	alert := alerts.RecoveryAlert{Device: d, At: now, OfflineFor: offlineFor}
	if today, tomorrow, ok := m.lookupSchedule(ctx, d, now); ok {
		if w, found := schedule.NextScheduledOutage(today, tomorrow, now, m.opts.Location); found {
			alert.NextOutage = &w
		}
	}
	m.notify(d.ID, func() error { return m.notifier.NotifyRecovery(ctx, alert) })
}

// SweepResult summarises one sweep.
type SweepResult struct {
	Stale   int
	Offline int
	Failed  int
}

// Sweep marks every online device that has been silent for longer than the
// stale threshold offline. A failure on one device does not stop the others.
func (m *Monitor) Sweep(ctx context.Context) (SweepResult, error) {
	now := m.opts.Now()
	var res SweepResult

	stale, err := m.store.ListStaleOnline(ctx, now.Add(-m.opts.StaleThreshold))
	if err != nil {
		return res, err
	}
	res.Stale = len(stale)

	ids := make([]string, 0, len(stale))
	for _, d := range stale {
		ids = append(ids, d.ID)
		applied, err := m.markOffline(ctx, d, now)
		if err != nil {
			res.Failed++
			streak := m.failures.Fail(d.ID)
			fields := []zap.Field{zap.String("device", d.ID), zap.Int("streak", streak), zap.Error(err)}
			if streak >= escalateAfter {
				m.log.Error("sweep keeps failing for device", fields...)
			} else {
				m.log.Warn("sweep failed for device", fields...)
			}
			continue
		}
		m.failures.Succeed(d.ID)
		if applied {
			res.Offline++
		}
	}
	m.failures.Retain(ids)
	return res, nil
}

func (m *Monitor) markOffline(ctx context.Context, d models.Device, now time.Time) (bool, error) {
	at := d.LastPing
	if m.opts.OutageStart == config.OutageStartDetected || at.IsZero() {
		at = now
	}

	applied, err := m.store.ApplyStatusChange(ctx, database.StatusChange{
		DeviceID:       d.ID,
		From:           models.StatusOnline,
		To:             models.StatusOffline,
		ChangedAt:      at,
		ExpectLastPing: d.LastPing,
		OpenOutageAt:   at,
	})
	if err != nil {
		return false, err
	}
	if !applied {
		m.log.Debug("device changed during sweep, skipped", zap.String("device", d.ID))
		return false, nil
	}

	var onlineFor time.Duration
	if !d.LastStatusChange.IsZero() && at.After(d.LastStatusChange) {
		onlineFor = at.Sub(d.LastStatusChange)
	}

	m.log.Info("device offline", zap.String("device", d.ID), zap.Time("since", at), zap.Duration("online_for", onlineFor))
	m.audit(d.ID, "Power lost", fmt.Sprintf("last ping %s", clock.ClockLabel(d.LastPing, m.opts.Location)))
	m.publish(d, models.StatusOffline, at, onlineFor)

	alert := alerts.OutageAlert{Device: d, At: at, OnlineFor: onlineFor}
	if today, tomorrow, ok := m.lookupSchedule(ctx, d, now); ok {
		if p, found := schedule.ScheduledRestoration(today, tomorrow, now, m.opts.Location); found {
			alert.Restoration = &p
		}
	}
	m.notify(d.ID, func() error { return m.notifier.NotifyOutage(ctx, alert) })
	return true, nil
}

// lookupSchedule returns the device group's schedule for now's day and the
// next. Lookup failures are logged and treated as no schedule.
func (m *Monitor) lookupSchedule(ctx context.Context, d models.Device, now time.Time) (today, tomorrow schedule.Day, ok bool) {
	group := d.Group
	if group == "" {
		group = m.opts.DefaultGroup
	}
	if group == "" {
		return nil, nil, false
	}

	dayStart := clock.DayStart(now, m.opts.Location)
	todayKey := clock.DateKey(dayStart, m.opts.Location)
	tomorrowKey := clock.DateKey(clock.AddDays(dayStart, 1), m.opts.Location)

	var missing []string
	for _, key := range []string{todayKey, tomorrowKey} {
		if _, hit := m.schedules.Get(group + "|" + key); !hit {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		days, err := m.store.ScheduleDays(ctx, group, missing)
		if err != nil {
			m.log.Warn("schedule lookup failed", zap.String("group", group), zap.Error(err))
			return nil, nil, false
		}
		for _, key := range missing {
			m.schedules.Set(group+"|"+key, days[key])
		}
	}

	today, _ = m.schedules.Get(group + "|" + todayKey)
	tomorrow, _ = m.schedules.Get(group + "|" + tomorrowKey)
	return today, tomorrow, today.Valid() || tomorrow.Valid()
}

func (m *Monitor) notify(deviceID string, send func() error) {
	if m.notifier == nil {
		return
	}
	err := send()
	if err != nil && !errors.Is(err, alerts.ErrNotConfigured) {
		m.log.Warn("notification failed", zap.String("device", deviceID), zap.Error(err))
	}
}

func (m *Monitor) publish(d models.Device, status models.Status, at time.Time, prev time.Duration) {
	if m.opts.Publisher == nil {
		return
	}
	err := m.opts.Publisher.Publish(mqtt.StatusEvent{
		DeviceID:   d.ID,
		DeviceName: d.Name,
		Status:     string(status),
		At:         at,
		Duration:   prev,
	})
	if err != nil {
		m.log.Warn("mqtt publish failed", zap.String("device", d.ID), zap.Error(err))
	}
}

func (m *Monitor) audit(deviceID, message, details string) {
	if err := m.store.InsertLog(database.LogLevelInfo, database.LogCategoryStatus, deviceID, message, details); err != nil {
		m.log.Warn("failed to write audit log", zap.Error(err))
	}
}
