// Package mqtt publishes hub reports and lifecycle events, with an
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sweeney/now-remote/internal/logic"
)

// DefaultTopicPrefix is the root of every topic the hub publishes to.
const DefaultTopicPrefix = "now-remote/hub"

// ReportTopic returns the topic for button reports under prefix.
func ReportTopic(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/reports"
}

// SystemTopic returns the topic for lifecycle events under prefix.
func SystemTopic(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/system"
}

// Publisher publishes hub events to MQTT.
type Publisher interface {
	// PublishReport sends a received button report to the broker.
	// Returns error if publishing fails (should not crash the process).
	PublishReport(report logic.Report) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a hub lifecycle event (startup, shutdown, reload).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "RELOADED"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload for a report.
type Payload struct {
	Report ReportPayload `json:"report"`
}

// ReportPayload contains the report details.
type ReportPayload struct {
	ID        string          `json:"id"`
	Remote    string          `json:"remote"`
	Timestamp string          `json:"timestamp"`
	Buttons   []ButtonPayload `json:"buttons"`
}

// ButtonPayload is one button's gesture.
type ButtonPayload struct {
	Index  int    `json:"index"`
	Event  string `json:"event"`
	Clicks uint8  `json:"clicks"`
}

// FormatPayload creates the JSON payload for a report.
func FormatPayload(report logic.Report) ([]byte, error) {
	buttons := make([]ButtonPayload, len(report.Events))
	for i, e := range report.Events {
		buttons[i] = ButtonPayload{Index: i, Event: e.Type.String(), Clicks: e.ClickCount}
	}
	payload := Payload{
		Report: ReportPayload{
			ID:        report.ID,
			Remote:    report.Remote,
			Timestamp: report.ReceivedAt.UTC().Format(time.RFC3339),
			Buttons:   buttons,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
