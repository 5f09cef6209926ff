package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"powerwatch/app/internal/clock"
	"powerwatch/app/internal/models"
	"powerwatch/app/internal/schedule"
)

// UpsertScheduleDay stores the slots for (date, group); the latest write wins.
func (s *Store) UpsertScheduleDay(ctx context.Context, date, group string, slots schedule.Day, updatedAt time.Time) error {
	raw, err := json.Marshal([]bool(slots))
	if err != nil {
		return fmt.Errorf("encode slots: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO schedule_days (date, group_name, slots, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date, group_name) DO UPDATE SET slots = excluded.slots, updated_at = excluded.updated_at`,
		date, group, string(raw), clock.Millis(updatedAt))
	if err != nil {
		return fmt.Errorf("upsert schedule %s/%s: %w", date, group, err)
	}
	return nil
}

// ScheduleDays returns the cached slots of group for the given dates, keyed by
// date. Dates without a row, or whose row does not decode to 48 slots, are absent.
func (s *Store) ScheduleDays(ctx context.Context, group string, dates []string) (map[string]schedule.Day, error) {
	out := make(map[string]schedule.Day, len(dates))
	if len(dates) == 0 {
		return out, nil
	}

	args := make([]any, 0, len(dates)+1)
	args = append(args, group)
	for _, d := range dates {
		args = append(args, d)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(dates)), ",")

	rows, err := s.db.QueryContext(ctx, `SELECT date, slots FROM schedule_days
		WHERE group_name = ? AND date IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query schedule days: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var date, raw string
		if err := rows.Scan(&date, &raw); err != nil {
			return nil, fmt.Errorf("scan schedule day: %w", err)
		}
		if day, ok := decodeSlots(raw); ok {
			out[date] = day
		}
	}
	return out, rows.Err()
}

// GetScheduleDay returns one cached row. Slots is nil when the row is corrupt.
func (s *Store) GetScheduleDay(ctx context.Context, date, group string) (*models.ScheduleDay, error) {
	var (
		raw       string
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT slots, updated_at FROM schedule_days WHERE date = ? AND group_name = ?`,
		date, group).Scan(&raw, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound{Resource: "schedule day", ID: group + "/" + date}
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule day: %w", err)
	}

	row := &models.ScheduleDay{Date: date, Group: group, UpdatedAt: clock.FromMillis(updatedAt)}
	if day, ok := decodeSlots(raw); ok {
		row.Slots = day
	}
	return row, nil
}

func decodeSlots(raw string) (schedule.Day, bool) {
	var slots []bool
	if err := json.Unmarshal([]byte(raw), &slots); err != nil {
		return nil, false
	}
	day := schedule.Day(slots)
	return day, day.Valid()
}
