package database

import "powerwatch/app/internal/models"

// ============================================
// Audit log
// ============================================

// LogLevel constants
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// LogCategory constants
const (
	LogCategoryStatus       = "status"
	LogCategoryNotification = "notification"
	LogCategoryChart        = "chart"
	LogCategorySchedule     = "schedule"
	LogCategorySystem       = "system"
)

// InsertLog adds a new log entry
func (s *Store) InsertLog(level, category, subject, message, details string) error {
	_, err := s.db.Exec(`INSERT INTO system_logs (timestamp, level, category, subject, message, details)
		VALUES (strftime('%Y-%m-%d %H:%M:%f', 'now'), ?, ?, ?, ?, ?)`,
		level, category, subject, message, details)
	return err
}

// GetLogs retrieves logs with optional filtering, newest first
func (s *Store) GetLogs(limit int, level, category, subject string, offset int) ([]models.LogEntry, error) {
	query := `SELECT id, timestamp, level, category, COALESCE(subject, ''), message, COALESCE(details, '')
		FROM system_logs WHERE 1=1`
	args := []any{}

	if level != "" {
		query += " AND level = ?"
		args = append(args, level)
	}
	if category != "" {
		query += " AND category = ?"
		args = append(args, category)
	}
	if subject != "" {
		query += " AND subject = ?"
		args = append(args, subject)
	}

	query += " ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.LogEntry
	for rows.Next() {
		var e models.LogEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Level, &e.Category, &e.Subject, &e.Message, &e.Details); err != nil {
			return nil, err
		}
		logs = append(logs, e)
	}
	return logs, rows.Err()
}

// PruneLogs keeps only the newest keepCount entries
func (s *Store) PruneLogs(keepCount int) error {
	_, err := s.db.Exec(`DELETE FROM system_logs WHERE id NOT IN (
		SELECT id FROM system_logs ORDER BY timestamp DESC, id DESC LIMIT ?
	)`, keepCount)
	return err
}
