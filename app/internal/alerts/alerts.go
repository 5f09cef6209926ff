// Package alerts formats power outage/recovery notices and delivers them to Telegram.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"go.uber.org/zap"

	"powerwatch/app/internal/clock"
	"powerwatch/app/internal/database"
	"powerwatch/app/internal/models"
	"powerwatch/app/internal/schedule"
)

// Messenger sends a text message.
type Messenger interface {
	SendMessage(ctx context.Context, text string) error
}

// Auditor records notification attempts in system_logs.
type Auditor interface {
	InsertLog(level, category, subject, message, details string) error
}

// OutageAlert describes an Online -> Offline transition.
type OutageAlert struct {
	Device      models.Device
	At          time.Time
	OnlineFor   time.Duration
	Restoration *schedule.Point // nil when there is no estimate
}

// RecoveryAlert describes an Offline -> Online transition.
type RecoveryAlert struct {
	Device     models.Device
	At         time.Time
	OfflineFor time.Duration
	NextOutage *schedule.Window // nil when nothing is planned
}

// FormatDuration renders d as "Xгод Yхв", or "Yхв" under an hour.
func FormatDuration(d time.Duration) string {
	totalMin := int64(d / time.Minute)
	hours := totalMin / 60
	mins := totalMin % 60
	if hours > 0 {
		return fmt.Sprintf("%dгод %dхв", hours, mins)
	}
	return fmt.Sprintf("%dхв", mins)
}

func devicePrefix(d models.Device) string {
	if d.ID == "" || d.ID == models.DefaultDeviceID {
		return ""
	}
	name := d.Name
	if name == "" {
		name = d.ID
	}
	return "🏠 <b>" + html.EscapeString(name) + "</b>\n"
}

// OutageText builds the outage notice.
func OutageText(a OutageAlert, loc *time.Location) string {
	lines := []string{fmt.Sprintf("<b>🔴 %s Світло зникло</b>", clock.ClockLabel(a.At, loc))}
	if a.OnlineFor >= time.Minute {
		lines = append(lines, "🕓 Воно було "+FormatDuration(a.OnlineFor))
	}
	if p := a.Restoration; p != nil {
		when := "о <b>" + p.Label() + "</b>"
		if p.NextDay {
			when = "<b>завтра о " + p.Label() + "</b>"
		}
		lines = append(lines, "🗓 Очікуємо за графіком "+when)
	}
	return devicePrefix(a.Device) + strings.Join(lines, "\n")
}

// RecoveryText builds the recovery notice.
func RecoveryText(a RecoveryAlert, loc *time.Location) string {
	lines := []string{fmt.Sprintf("<b>🟢 %s Світло з'явилося</b>", clock.ClockLabel(a.At, loc))}
	if a.OfflineFor >= time.Minute {
		lines = append(lines, "🕓 Його не було "+FormatDuration(a.OfflineFor))
	}
	if w := a.NextOutage; w != nil {
		lines = append(lines, fmt.Sprintf("🗓 Наступне планове: <b>%s - %s</b>", w.Start.Label(), w.End.Label()))
	}
	return devicePrefix(a.Device) + strings.Join(lines, "\n")
}

// Notifier delivers alerts and audits each attempt.
type Notifier struct {
	Messenger Messenger
	Audit     Auditor
	Location  *time.Location
	Log       *zap.Logger
}

// NotifyOutage sends the outage notice for a.
func (n *Notifier) NotifyOutage(ctx context.Context, a OutageAlert) error {
	return n.send(ctx, a.Device.ID, "outage", OutageText(a, n.Location))
}

// NotifyRecovery sends the recovery notice for a.
func (n *Notifier) NotifyRecovery(ctx context.Context, a RecoveryAlert) error {
	return n.send(ctx, a.Device.ID, "recovery", RecoveryText(a, n.Location))
}

func (n *Notifier) send(ctx context.Context, deviceID, kind, text string) error {
	err := n.Messenger.SendMessage(ctx, text)
	switch {
	case errors.Is(err, ErrNotConfigured):
		n.Log.Debug("telegram not configured, notice skipped", zap.String("device", deviceID), zap.String("kind", kind))
		return err
	case err != nil:
		n.Log.Warn("telegram notice failed", zap.String("device", deviceID), zap.String("kind", kind), zap.Error(err))
		n.audit(database.LogLevelError, deviceID, "Telegram "+kind+" notice failed", err.Error())
		return err
	}
	n.Log.Info("telegram notice sent", zap.String("device", deviceID), zap.String("kind", kind))
	n.audit(database.LogLevelInfo, deviceID, "Telegram "+kind+" notice sent", "")
	return nil
}

func (n *Notifier) audit(level, subject, message, details string) {
	if n.Audit == nil {
		return
	}
	if err := n.Audit.InsertLog(level, database.LogCategoryNotification, subject, message, details); err != nil {
		n.Log.Warn("failed to write audit log", zap.Error(err))
	}
}
