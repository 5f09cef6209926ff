package feed

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"powerwatch/app/internal/models"
	"powerwatch/app/internal/schedule"
)

// Store is the slice of the ledger the refresher writes to.
type Store interface {
	ListDevices(ctx context.Context) ([]models.Device, error)
	UpsertScheduleDay(ctx context.Context, date, group string, slots schedule.Day, updatedAt time.Time) error
}

// Fetcher returns the current feed document.
type Fetcher interface {
	Fetch(ctx context.Context) (*Document, error)
}

// Refresher copies the feed into schedule_days for every group in use.
type Refresher struct {
	Fetcher      Fetcher
	Store        Store
	DefaultGroup string
	Location     *time.Location
	Now          func() time.Time
	Log          *zap.Logger
}

// Groups returns the default group plus every distinct device group, sorted.
func (r *Refresher) Groups(ctx context.Context) ([]string, error) {
	devices, err := r.Store.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	seen := map[string]bool{}
	if r.DefaultGroup != "" {
		seen[r.DefaultGroup] = true
	}
	for _, d := range devices {
		if d.Group != "" {
			seen[d.Group] = true
		}
	}
	groups := make([]string, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups, nil
}

// Refresh fetches the feed and upserts each published day. A fetch failure
// leaves every stored row untouched. It returns the number of rows written.
func (r *Refresher) Refresh(ctx context.Context) (int, error) {
	groups, err := r.Groups(ctx)
	if err != nil {
		return 0, err
	}

	doc, err := r.Fetcher.Fetch(ctx)
	if err != nil {
		return 0, err
	}

	now := r.Now()
	written := 0
	for _, group := range groups {
		days := doc.Days(group, r.Location)
		if len(days) == 0 {
			r.Log.Debug("feed has no data for group", zap.String("group", group))
			continue
		}
		for _, day := range days {
			if err := r.Store.UpsertScheduleDay(ctx, day.Date, group, day.Slots, now); err != nil {
				return written, fmt.Errorf("store schedule %s/%s: %w", group, day.Date, err)
			}
			written++
		}
	}

	r.Log.Info("schedule refreshed", zap.Strings("groups", groups), zap.Int("days", written))
	return written, nil
}
