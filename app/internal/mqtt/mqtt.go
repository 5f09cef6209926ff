// Package mqtt mirrors device status transitions to a broker and accepts
// heartbeats published by pingers that cannot reach the HTTP endpoint.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"
)

// Publisher publishes status events.
type Publisher interface {
	// Publish sends a status transition. Errors must not stop the caller.
	Publish(event StatusEvent) error

	// Close disconnects from the broker.
	Close() error
}

// StatusEvent is one applied device transition.
type StatusEvent struct {
	DeviceID   string
	DeviceName string
	Status     string
	At         time.Time
	// Duration is how long the device spent in the previous state.
	Duration time.Duration
}

// Payload is the JSON body of a status message.
type Payload struct {
	Device DevicePayload `json:"device"`
}

// DevicePayload contains the transition details.
type DevicePayload struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Status          string `json:"status"`
	At              string `json:"at"`
	DurationSeconds int64  `json:"duration_seconds"`
}

// FormatPayload creates the JSON payload for a status event.
func FormatPayload(event StatusEvent) ([]byte, error) {
	return json.Marshal(Payload{
		Device: DevicePayload{
			ID:              event.DeviceID,
			Name:            event.DeviceName,
			Status:          event.Status,
			At:              event.At.UTC().Format(time.RFC3339),
			DurationSeconds: int64(event.Duration / time.Second),
		},
	})
}

// StatusTopic is where transitions of device id are published.
func StatusTopic(prefix, id string) string {
	return prefix + "/devices/" + id + "/status"
}

// PingFilter is the subscription filter for MQTT heartbeats.
func PingFilter(prefix string) string {
	return prefix + "/ping/+"
}

// KeyFromTopic extracts the device key from a ping topic, or "" when topic
// is not a ping topic under prefix.
func KeyFromTopic(prefix, topic string) string {
	rest, ok := strings.CutPrefix(topic, prefix+"/ping/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return ""
	}
	return rest
}
