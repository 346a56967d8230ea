package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	MAC           string       `json:"mac"`
	Channel       uint8        `json:"channel"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"packet_counts"`
	Remotes       []RemoteJSON `json:"remotes"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of packet counts.
type CountsJSON struct {
	Reports     int `json:"reports"`
	Pings       int `json:"pings"`
	Discoveries int `json:"discoveries"`
	Unknown     int `json:"unknown"`
	Errors      int `json:"errors"`
}

// RemoteJSON is the JSON representation of one remote.
type RemoteJSON struct {
	MAC      string   `json:"mac"`
	Reports  int      `json:"reports"`
	LastSeen string   `json:"last_seen"`
	Buttons  []string `json:"buttons"`
}

// ConfigJSON is the JSON representation of hub config.
type ConfigJSON struct {
	Broker      string `json:"broker"`
	TopicPrefix string `json:"topic_prefix"`
	HTTPAddr    string `json:"http_addr"`
	Journal     string `json:"journal,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	remotes := make([]RemoteJSON, len(snap.Remotes))
	for i, r := range snap.Remotes {
		buttons := make([]string, len(r.LastEvents))
		for j, e := range r.LastEvents {
			buttons[j] = e.String()
		}
		remotes[i] = RemoteJSON{
			MAC:      r.MAC,
			Reports:  r.Reports,
			LastSeen: r.LastSeen.UTC().Format(time.RFC3339),
			Buttons:  buttons,
		}
	}

	return StatusInner{
		MAC:           snap.Config.MAC,
		Channel:       snap.Config.Channel,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Reports:     snap.Counts.Reports,
			Pings:       snap.Counts.Pings,
			Discoveries: snap.Counts.Discoveries,
			Unknown:     snap.Counts.Unknown,
			Errors:      snap.Counts.Errors,
		},
		Remotes: remotes,
		Config: ConfigJSON{
			Broker:      snap.Config.Broker,
			TopicPrefix: snap.Config.TopicPrefix,
			HTTPAddr:    snap.Config.HTTPAddr,
			Journal:     snap.Config.Journal,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
