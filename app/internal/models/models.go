package models

import "time"

// Status is the inferred power state of a device
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusUnknown, StatusOnline, StatusOffline:
		return true
	}
	return false
}

// DefaultDeviceID is the implicit device used by single-pinger deployments.
const DefaultDeviceID = "default"

// Device is one heartbeat source. Zero LastPing/LastStatusChange mean "never".
type Device struct {
	ID               string    `json:"id"`
	Key              string    `json:"-"`
	Name             string    `json:"name"`
	Group            string    `json:"group_name"`
	Status           Status    `json:"status"`
	LastPing         time.Time `json:"last_ping"`
	LastStatusChange time.Time `json:"last_status_change"`
	CreatedAt        time.Time `json:"created_at"`
}

// Outage is a contiguous offline interval. End is zero while the outage is open.
type Outage struct {
	ID              int64     `json:"id"`
	DeviceID        string    `json:"device_id"`
	Start           time.Time `json:"start_time"`
	End             time.Time `json:"end_time"`
	DurationSeconds int64     `json:"duration_seconds"`
}

// Open reports whether the outage has not been closed yet.
func (o Outage) Open() bool {
	return o.End.IsZero()
}

// EndOr returns the close instant, or now for an open outage.
func (o Outage) EndOr(now time.Time) time.Time {
	if o.Open() {
		return now
	}
	return o.End
}

// OutageWithDevice joins an outage with its device labels for API listings
type OutageWithDevice struct {
	Outage
	DeviceName  string `json:"device_name"`
	DeviceGroup string `json:"group_name"`
}

// ScheduleDay holds the 48 half-hour slots for one local date and group.
// Slots is nil when the stored row could not be decoded.
type ScheduleDay struct {
	Date      string    `json:"date"`
	Group     string    `json:"group_name"`
	Slots     []bool    `json:"slots"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChartState is the live weekly chart message, if any.
type ChartState struct {
	MessageID int64
	WeekStart string // YYYY-MM-DD, Monday of the charted week
}

// DeviceStats summarises outages of one device over a period
type DeviceStats struct {
	DeviceID           string  `json:"device_id"`
	DeviceName         string  `json:"device_name"`
	Status             Status  `json:"status"`
	OutageCount        int     `json:"outage_count"`
	TotalOutageSeconds int64   `json:"total_outage_seconds"`
	TotalOutageHours   float64 `json:"total_outage_hours"`
	UptimePercent      float64 `json:"uptime_percent"`
}

// LogEntry is one row of the system_logs audit table
type LogEntry struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Category  string `json:"category"`
	Subject   string `json:"subject"`
	Message   string `json:"message"`
	Details   string `json:"details"`
}
