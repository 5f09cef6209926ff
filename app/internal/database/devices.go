package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"powerwatch/app/internal/clock"
	"powerwatch/app/internal/models"
)

const deviceColumns = `id, key, name, group_name, status, last_ping, last_status_change, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(r rowScanner) (*models.Device, error) {
	var (
		d                    models.Device
		status               string
		lastPing, lastChange sql.NullInt64
		createdAt            int64
	)
	if err := r.Scan(&d.ID, &d.Key, &d.Name, &d.Group, &status, &lastPing, &lastChange, &createdAt); err != nil {
		return nil, err
	}
	d.Status = models.Status(status)
	if !d.Status.Valid() {
		d.Status = models.StatusUnknown
	}
	d.LastPing = fromNullMillis(lastPing)
	d.LastStatusChange = fromNullMillis(lastChange)
	d.CreatedAt = clock.FromMillis(createdAt)
	return &d, nil
}

// NewDeviceKey returns a random ping token.
func NewDeviceKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CreateDevice registers a new device in the unknown state.
func (s *Store) CreateDevice(ctx context.Context, d models.Device) error {
	if d.Status == "" {
		d.Status = models.StatusUnknown
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Key, d.Name, d.Group, string(d.Status),
		nullMillis(d.LastPing), nullMillis(d.LastStatusChange), clock.Millis(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("create device %s: %w", d.ID, err)
	}
	return nil
}

// EnsureDefaultDevice returns the implicit single-pinger device, creating it on first use.
func (s *Store) EnsureDefaultDevice(ctx context.Context, now time.Time) (*models.Device, error) {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO devices (id, key, name, group_name, status, created_at)
		VALUES (?, ?, 'Default', '', 'unknown', ?)`,
		models.DefaultDeviceID, NewDeviceKey(), clock.Millis(now))
	if err != nil {
		return nil, fmt.Errorf("ensure default device: %w", err)
	}
	return s.GetDevice(ctx, models.DefaultDeviceID)
}

// GetDevice loads a device by id.
func (s *Store) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	d, err := scanDevice(s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound{Resource: "device", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get device %s: %w", id, err)
	}
	return d, nil
}

// GetDeviceByKey loads a device by its ping token.
func (s *Store) GetDeviceByKey(ctx context.Context, key string) (*models.Device, error) {
	d, err := scanDevice(s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound{Resource: "device key", ID: "***"}
	}
	if err != nil {
		return nil, fmt.Errorf("get device by key: %w", err)
	}
	return d, nil
}

// ListDevices returns every device ordered by group and name.
func (s *Store) ListDevices(ctx context.Context) ([]models.Device, error) {
	return s.queryDevices(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY group_name, name`)
}

// ListStaleOnline returns online devices whose last ping is older than cutoff.
func (s *Store) ListStaleOnline(ctx context.Context, cutoff time.Time) ([]models.Device, error) {
	return s.queryDevices(ctx, `SELECT `+deviceColumns+` FROM devices
		WHERE status = 'online' AND last_ping < ? ORDER BY id`, clock.Millis(cutoff))
}

func (s *Store) queryDevices(ctx context.Context, query string, args ...any) ([]models.Device, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, *d)
	}
	return devices, rows.Err()
}

// TouchPing refreshes last_ping of a device that is still online. It reports
// false when the device left the online state in the meantime.
func (s *Store) TouchPing(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE devices SET last_ping = ? WHERE id = ? AND status = 'online'`,
		clock.Millis(at), id)
	if err != nil {
		return false, fmt.Errorf("touch ping %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RecordPing appends a heartbeat to the ping log.
func (s *Store) RecordPing(ctx context.Context, id string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, `INSERT INTO pings (device_id, timestamp) VALUES (?, ?)`,
		id, clock.Millis(at)); err != nil {
		return fmt.Errorf("record ping %s: %w", id, err)
	}
	return nil
}

// PrunePings deletes ping log rows older than before and returns how many went.
func (s *Store) PrunePings(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pings WHERE timestamp < ?`, clock.Millis(before))
	if err != nil {
		return 0, fmt.Errorf("prune pings: %w", err)
	}
	return res.RowsAffected()
}

// StatusChange describes one transition of the device state machine. The
// store applies it only if the device is still in From (and, when
// ExpectLastPing is set, still has that last_ping).
type StatusChange struct {
	DeviceID       string
	From           models.Status
	To             models.Status
	ChangedAt      time.Time // new last_status_change
	LastPing       time.Time // new last_ping; zero keeps the stored value
	ExpectLastPing time.Time
	OpenOutageAt   time.Time // open an outage starting here
	CloseOutageAt  time.Time // close the open outage here
}

// ApplyStatusChange writes the outage change and the status update in one
// transaction, outage first. It reports false, with nothing written, when the
// precondition no longer holds because a concurrent writer got there first.
func (s *Store) ApplyStatusChange(ctx context.Context, c StatusChange) (applied bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin status change: %w", err)
	}
	defer func() {
		if !applied {
			_ = tx.Rollback()
		}
	}()

	if !c.CloseOutageAt.IsZero() {
		end := clock.Millis(c.CloseOutageAt)
		if _, err := tx.ExecContext(ctx, `UPDATE outages
			SET end_time = MAX(?, start_time), duration = (MAX(?, start_time) - start_time) / 1000
			WHERE device_id = ? AND end_time IS NULL`, end, end, c.DeviceID); err != nil {
			return false, fmt.Errorf("close outage %s: %w", c.DeviceID, err)
		}
	}

	if !c.OpenOutageAt.IsZero() {
		res, err := tx.ExecContext(ctx, `INSERT INTO outages (device_id, start_time) VALUES (?, ?)
			ON CONFLICT DO NOTHING`, c.DeviceID, clock.Millis(c.OpenOutageAt))
		if err != nil {
			return false, fmt.Errorf("open outage %s: %w", c.DeviceID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return false, nil
		}
	}

	query := `UPDATE devices SET status = ?, last_status_change = ?, last_ping = COALESCE(?, last_ping)
		WHERE id = ? AND status = ?`
	args := []any{string(c.To), clock.Millis(c.ChangedAt), nullMillis(c.LastPing), c.DeviceID, string(c.From)}
	if !c.ExpectLastPing.IsZero() {
		query += ` AND last_ping = ?`
		args = append(args, clock.Millis(c.ExpectLastPing))
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update status %s: %w", c.DeviceID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit status change %s: %w", c.DeviceID, err)
	}
	return true, nil
}
