// Package weekly keeps one Telegram photo per week up to date with the
// outage chart and finalises it when the week rolls over.
package weekly

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"powerwatch/app/internal/alerts"
	"powerwatch/app/internal/chart"
	"powerwatch/app/internal/clock"
	"powerwatch/app/internal/database"
	"powerwatch/app/internal/models"
	"powerwatch/app/internal/schedule"
	"powerwatch/app/internal/stats"
)

// Messenger is the photo side of the messaging sink.
type Messenger interface {
	Configured() bool
	SendPhoto(ctx context.Context, png []byte, caption string) (int64, error)
	EditPhoto(ctx context.Context, id int64, png []byte, caption string) error
	DeleteMessage(ctx context.Context, id int64) error
}

// Store is the ledger slice used to build and track the chart.
type Store interface {
	GetDevice(ctx context.Context, id string) (*models.Device, error)
	OutagesBetween(ctx context.Context, deviceID string, from, to time.Time) ([]models.Outage, error)
	ScheduleDays(ctx context.Context, group string, dates []string) (map[string]schedule.Day, error)
	GetChartState(ctx context.Context) (models.ChartState, bool, error)
	InsertChartStateIfAbsent(ctx context.Context, st models.ChartState) (bool, error)
	ReplaceChartState(ctx context.Context, oldWeek string, st models.ChartState) (bool, error)
	ClearChartState(ctx context.Context, st models.ChartState) (bool, error)
	InsertLog(level, category, subject, message, details string) error
}

// Action is what one tick did.
type Action string

const (
	ActionSkipped    Action = "skipped"     // messaging not configured
	ActionSent       Action = "sent"        // first message for the current week
	ActionEdited     Action = "edited"      // current week's message refreshed
	ActionRolledOver Action = "rolled_over" // previous week finalised, new message sent
	ActionLostRace   Action = "lost_race"   // another tick owned the row; our message was deleted
	ActionReset      Action = "reset"       // recorded message disappeared; row cleared
)

// Options configures a Reporter.
type Options struct {
	Location     *time.Location
	DeviceID     string // whose outages are charted
	DefaultGroup string
	Now          func() time.Time
	Log          *zap.Logger
}

// Reporter owns the chart-message lifecycle.
type Reporter struct {
	store     Store
	messenger Messenger
	renderer  chart.Renderer
	opts      Options
	log       *zap.Logger
}

// New creates a Reporter.
func New(store Store, messenger Messenger, renderer chart.Renderer, opts Options) *Reporter {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.DeviceID == "" {
		opts.DeviceID = models.DefaultDeviceID
	}
	return &Reporter{store: store, messenger: messenger, renderer: renderer, opts: opts, log: opts.Log}
}

// Build assembles the week starting at weekStart as seen at now.
func (r *Reporter) Build(ctx context.Context, weekStart, now time.Time, complete bool) (stats.Week, stats.WeeklyStats, error) {
	loc := r.opts.Location
	weekStart = clock.DayStart(weekStart, loc)
	weekEnd := clock.AddDays(weekStart, 7)

	group := r.opts.DefaultGroup
	if d, err := r.store.GetDevice(ctx, r.opts.DeviceID); err == nil && d.Group != "" {
		group = d.Group
	} else if err != nil && !database.IsNotFound(err) {
		return stats.Week{}, stats.WeeklyStats{}, err
	}

	outages, err := r.store.OutagesBetween(ctx, r.opts.DeviceID, weekStart, weekEnd)
	if err != nil {
		return stats.Week{}, stats.WeeklyStats{}, err
	}

	dates := make([]string, 7)
	for i := range dates {
		dates[i] = clock.DateKey(clock.AddDays(weekStart, i), loc)
	}
	schedules, err := r.store.ScheduleDays(ctx, group, dates)
	if err != nil {
		return stats.Week{}, stats.WeeklyStats{}, err
	}

	w := stats.BuildWeek(weekStart, now, loc, group, outages, schedules, complete)
	return w, stats.Compute(w), nil
}

type rendered struct {
	png     []byte
	caption string
}

func (r *Reporter) render(ctx context.Context, weekStart, now time.Time, complete bool) (rendered, error) {
	w, s, err := r.Build(ctx, weekStart, now, complete)
	if err != nil {
		return rendered{}, fmt.Errorf("build week %s: %w", clock.DateKey(weekStart, r.opts.Location), err)
	}
	png, err := r.renderer.Render(w, s)
	if err != nil {
		return rendered{}, fmt.Errorf("render week %s: %w", clock.DateKey(weekStart, r.opts.Location), err)
	}
	return rendered{png: png, caption: chart.Caption(w, s)}, nil
}

// Tick advances the lifecycle by one step. Every failure leaves the stored
// chart row as it was, so the next tick retries from the same state.
func (r *Reporter) Tick(ctx context.Context) (Action, error) {
	if !r.messenger.Configured() {
		r.log.Debug("telegram not configured, chart tick skipped")
		return ActionSkipped, nil
	}

	now := r.opts.Now()
	current := clock.WeekStart(now, r.opts.Location)
	currentKey := clock.DateKey(current, r.opts.Location)

	st, ok, err := r.store.GetChartState(ctx)
	if err != nil {
		return "", err
	}

	switch {
	case !ok:
		return r.sendFirst(ctx, current, currentKey, now)
	case st.WeekStart == currentKey:
		return r.refresh(ctx, st, current, now)
	default:
		return r.rollOver(ctx, st, current, currentKey, now)
	}
}

func (r *Reporter) sendFirst(ctx context.Context, current time.Time, currentKey string, now time.Time) (Action, error) {
	img, err := r.render(ctx, current, now, false)
	if err != nil {
		return "", err
	}
	id, err := r.messenger.SendPhoto(ctx, img.png, img.caption)
	if err != nil {
		return "", fmt.Errorf("send chart: %w", err)
	}

	created, err := r.store.InsertChartStateIfAbsent(ctx, models.ChartState{MessageID: id, WeekStart: currentKey})
	if err != nil {
		r.discard(ctx, id)
		return "", err
	}
	if !created {
		r.log.Info("chart row already created by another tick", zap.Int64("message_id", id))
		r.discard(ctx, id)
		return ActionLostRace, nil
	}

	r.log.Info("chart message sent", zap.Int64("message_id", id), zap.String("week", currentKey))
	r.audit("Weekly chart sent", fmt.Sprintf("message_id=%d, week=%s", id, currentKey))
	return ActionSent, nil
}

func (r *Reporter) refresh(ctx context.Context, st models.ChartState, current, now time.Time) (Action, error) {
	img, err := r.render(ctx, current, now, false)
	if err != nil {
		return "", err
	}
	err = r.messenger.EditPhoto(ctx, st.MessageID, img.png, img.caption)
	if alerts.IsMessageGone(err) {
		// someone deleted the message in the chat; start over on the next tick
		if _, cerr := r.store.ClearChartState(ctx, st); cerr != nil {
			return "", cerr
		}
		r.log.Warn("chart message is gone, state cleared", zap.Int64("message_id", st.MessageID))
		r.audit("Weekly chart message missing, state cleared", fmt.Sprintf("message_id=%d", st.MessageID))
		return ActionReset, nil
	}
	if err != nil {
		return "", fmt.Errorf("edit chart %d: %w", st.MessageID, err)
	}
	r.log.Debug("chart message refreshed", zap.Int64("message_id", st.MessageID))
	return ActionEdited, nil
}

func (r *Reporter) rollOver(ctx context.Context, st models.ChartState, current time.Time, currentKey string, now time.Time) (Action, error) {
	var final *rendered
	if prev, err := clock.ParseDateKey(st.WeekStart, r.opts.Location); err != nil {
		r.log.Warn("stored chart week is unreadable, skipping final render", zap.String("week", st.WeekStart), zap.Error(err))
	} else {
		img, err := r.render(ctx, prev, now, true)
		if err != nil {
			return "", err
		}
		final = &img
	}
	fresh, err := r.render(ctx, current, now, false)
	if err != nil {
		return "", err
	}

	if final != nil {
		if err := r.messenger.EditPhoto(ctx, st.MessageID, final.png, final.caption); err != nil {
			// the new week proceeds even when the old message cannot be finalised
			r.log.Warn("final chart edit failed", zap.Int64("message_id", st.MessageID), zap.Error(err))
		}
	}

	id, err := r.messenger.SendPhoto(ctx, fresh.png, fresh.caption)
	if err != nil {
		return "", fmt.Errorf("send chart: %w", err)
	}

	replaced, err := r.store.ReplaceChartState(ctx, st.WeekStart, models.ChartState{MessageID: id, WeekStart: currentKey})
	if err != nil {
		r.discard(ctx, id)
		return "", err
	}
	if !replaced {
		r.log.Info("chart rollover already done by another tick", zap.Int64("message_id", id))
		r.discard(ctx, id)
		return ActionLostRace, nil
	}

	r.log.Info("chart rolled over", zap.String("from", st.WeekStart), zap.String("to", currentKey), zap.Int64("message_id", id))
	r.audit("Weekly chart rolled over", fmt.Sprintf("finalised=%d, week=%s, message_id=%d", st.MessageID, currentKey, id))
	return ActionRolledOver, nil
}

func (r *Reporter) discard(ctx context.Context, id int64) {
	if err := r.messenger.DeleteMessage(ctx, id); err != nil {
		r.log.Warn("failed to delete surplus chart message", zap.Int64("message_id", id), zap.Error(err))
	}
}

func (r *Reporter) audit(message, details string) {
	if err := r.store.InsertLog(database.LogLevelInfo, database.LogCategoryChart, "", message, details); err != nil {
		r.log.Warn("failed to write audit log", zap.Error(err))
	}
}
