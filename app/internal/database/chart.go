package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"powerwatch/app/internal/models"
)

// GetChartState returns the live chart message. ok is false when none is recorded.
func (s *Store) GetChartState(ctx context.Context) (st models.ChartState, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT message_id, week_start FROM telegram_chart WHERE id = 1`).
		Scan(&st.MessageID, &st.WeekStart)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChartState{}, false, nil
	}
	if err != nil {
		return models.ChartState{}, false, fmt.Errorf("get chart state: %w", err)
	}
	return st, true, nil
}

// InsertChartStateIfAbsent records st unless a row already exists. It reports
// whether this call created the row.
func (s *Store) InsertChartStateIfAbsent(ctx context.Context, st models.ChartState) (bool, error) {
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO telegram_chart (id, message_id, week_start) VALUES (1, ?, ?)`,
		st.MessageID, st.WeekStart)
	if err != nil {
		return false, fmt.Errorf("insert chart state: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ReplaceChartState swaps the row to st only if it still refers to oldWeek.
func (s *Store) ReplaceChartState(ctx context.Context, oldWeek string, st models.ChartState) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE telegram_chart SET message_id = ?, week_start = ?
		WHERE id = 1 AND week_start = ?`, st.MessageID, st.WeekStart, oldWeek)
	if err != nil {
		return false, fmt.Errorf("replace chart state: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ClearChartState forgets the live chart message if the row still equals st.
func (s *Store) ClearChartState(ctx context.Context, st models.ChartState) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM telegram_chart WHERE id = 1 AND message_id = ? AND week_start = ?`,
		st.MessageID, st.WeekStart)
	if err != nil {
		return false, fmt.Errorf("clear chart state: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
