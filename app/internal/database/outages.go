package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"powerwatch/app/internal/clock"
	"powerwatch/app/internal/models"
)

func scanOutage(r rowScanner, extra ...any) (models.Outage, error) {
	var (
		o        models.Outage
		start    int64
		end, dur sql.NullInt64
	)
	dest := append([]any{&o.ID, &o.DeviceID, &start, &end, &dur}, extra...)
	if err := r.Scan(dest...); err != nil {
		return o, err
	}
	o.Start = clock.FromMillis(start)
	o.End = fromNullMillis(end)
	o.DurationSeconds = dur.Int64
	return o, nil
}

// OpenOutage returns the open outage of a device.
func (s *Store) OpenOutage(ctx context.Context, deviceID string) (*models.Outage, error) {
	o, err := scanOutage(s.db.QueryRowContext(ctx, `SELECT id, device_id, start_time, end_time, duration
		FROM outages WHERE device_id = ? AND end_time IS NULL`, deviceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound{Resource: "open outage", ID: deviceID}
	}
	if err != nil {
		return nil, fmt.Errorf("open outage %s: %w", deviceID, err)
	}
	return &o, nil
}

// OutagesBetween returns outages of a device overlapping [from, to), oldest first.
// Open outages overlap every range that ends after their start.
func (s *Store) OutagesBetween(ctx context.Context, deviceID string, from, to time.Time) ([]models.Outage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, device_id, start_time, end_time, duration
		FROM outages
		WHERE device_id = ? AND start_time < ? AND (end_time IS NULL OR end_time > ?)
		ORDER BY start_time`, deviceID, clock.Millis(to), clock.Millis(from))
	if err != nil {
		return nil, fmt.Errorf("query outages: %w", err)
	}
	defer rows.Close()

	var out []models.Outage
	for rows.Next() {
		o, err := scanOutage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outage: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// RecentOutages returns outages of all devices started after since, newest first.
func (s *Store) RecentOutages(ctx context.Context, since time.Time) ([]models.OutageWithDevice, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT o.id, o.device_id, o.start_time, o.end_time, o.duration,
			d.name, d.group_name
		FROM outages o JOIN devices d ON d.id = o.device_id
		WHERE o.start_time > ?
		ORDER BY o.start_time DESC`, clock.Millis(since))
	if err != nil {
		return nil, fmt.Errorf("query recent outages: %w", err)
	}
	defer rows.Close()

	var out []models.OutageWithDevice
	for rows.Next() {
		var row models.OutageWithDevice
		o, err := scanOutage(rows, &row.DeviceName, &row.DeviceGroup)
		if err != nil {
			return nil, fmt.Errorf("scan outage: %w", err)
		}
		row.Outage = o
		out = append(out, row)
	}
	return out, rows.Err()
}
