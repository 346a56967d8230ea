package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/now-remote/internal/logic"
)

var testStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		MAC:         "AA:BB:CC:DD:EE:01",
		Channel:     6,
		Broker:      "tcp://localhost:1883",
		TopicPrefix: "now-remote/hub",
		HTTPAddr:    ":8080",
	}
}

func testReport(remote string, at time.Time, events ...logic.ButtonEvent) logic.Report {
	return logic.Report{ID: "r", Remote: remote, Events: events, ReceivedAt: at}
}

func TestNewTracker(t *testing.T) {
	tr := NewTracker(testStart, testConfig())

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(testStart) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, testStart)
	}
	if snap.Config.HTTPAddr != ":8080" {
		t.Errorf("Config.HTTPAddr: got %q, want %q", snap.Config.HTTPAddr, ":8080")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
	if len(snap.Remotes) != 0 {
		t.Errorf("expected no remotes, got %d", len(snap.Remotes))
	}
}

func TestRecordReport(t *testing.T) {
	tr := NewTracker(testStart, Config{})
	at := testStart.Add(time.Minute)

	tr.RecordReport(testReport("02:00:00:00:00:02", at, logic.ButtonEvent{Type: logic.EventClicked, ClickCount: 1}))
	tr.RecordReport(testReport("02:00:00:00:00:01", at, logic.ButtonEvent{Type: logic.EventHold, ClickCount: 1}))
	tr.RecordReport(testReport("02:00:00:00:00:01", at.Add(time.Second), logic.ButtonEvent{Type: logic.EventReleased, ClickCount: 1}))

	snap := tr.Snapshot()
	if snap.Counts.Reports != 3 {
		t.Errorf("Counts.Reports: got %d, want 3", snap.Counts.Reports)
	}
	if len(snap.Remotes) != 2 {
		t.Fatalf("expected 2 remotes, got %d", len(snap.Remotes))
	}
	first := snap.Remotes[0]
	if first.MAC != "02:00:00:00:00:01" {
		t.Errorf("expected remotes sorted by MAC, got %s first", first.MAC)
	}
	if first.Reports != 2 {
		t.Errorf("Reports: got %d, want 2", first.Reports)
	}
	if !first.LastSeen.Equal(at.Add(time.Second)) {
		t.Errorf("LastSeen: got %v", first.LastSeen)
	}
	if len(first.LastEvents) != 1 || first.LastEvents[0].Type != logic.EventReleased {
		t.Errorf("LastEvents: got %v", first.LastEvents)
	}
}

func TestCounters(t *testing.T) {
	tr := NewTracker(testStart, Config{})
	tr.CountPing()
	tr.CountPing()
	tr.CountDiscovery()
	tr.CountUnknown()
	tr.CountError()

	c := tr.Snapshot().Counts
	if c.Pings != 2 || c.Discoveries != 1 || c.Unknown != 1 || c.Errors != 1 {
		t.Errorf("unexpected counts %+v", c)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSetConfig(t *testing.T) {
	tr := NewTracker(testStart, testConfig())
	cfg := testConfig()
	cfg.TopicPrefix = "home/remote"
	tr.SetConfig(cfg)

	if got := tr.Snapshot().Config.TopicPrefix; got != "home/remote" {
		t.Errorf("TopicPrefix: got %q, want home/remote", got)
	}
}

func TestSnapshotUptime(t *testing.T) {
	snap := Snapshot{
		StartTime: testStart,
		Now:       testStart.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotNowUsesClock(t *testing.T) {
	tr := NewTracker(testStart, Config{})
	tr.clockFunc = func() time.Time { return testStart.Add(time.Hour) }

	if got := tr.Snapshot().Uptime(); got != time.Hour {
		t.Errorf("Uptime: got %v, want 1h", got)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.RecordReport(testReport("a", testStart, logic.ButtonEvent{Type: logic.EventClicked, ClickCount: 1}))

	snap1 := tr.Snapshot()
	snap1.Remotes[0].LastEvents[0].ClickCount = 9

	tr.RecordReport(testReport("a", testStart, logic.ButtonEvent{Type: logic.EventHold, ClickCount: 2}))

	if snap1.Remotes[0].Reports != 1 {
		t.Error("snapshot should be a copy; Reports was modified")
	}
	if tr.Snapshot().Remotes[0].LastEvents[0].ClickCount != 2 {
		t.Error("mutating a snapshot must not reach the tracker")
	}
}

func TestFormatJSON(t *testing.T) {
	snap := Snapshot{
		StartTime:     testStart,
		Now:           testStart.Add(15 * time.Minute),
		MQTTConnected: true,
		Counts:        Counts{Reports: 5, Pings: 2, Discoveries: 1},
		Remotes: []Remote{{
			MAC:        "02:00:00:00:00:01",
			Reports:    5,
			LastSeen:   testStart.Add(10 * time.Minute),
			LastEvents: []logic.ButtonEvent{{Type: logic.EventClicked, ClickCount: 2}},
		}},
		Config: testConfig(),
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.MAC != "AA:BB:CC:DD:EE:01" || parsed.Status.Channel != 6 {
		t.Errorf("unexpected hub identity %q/%d", parsed.Status.MAC, parsed.Status.Channel)
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
	if !parsed.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if parsed.Status.Counts.Reports != 5 || parsed.Status.Counts.Pings != 2 {
		t.Errorf("unexpected counts %+v", parsed.Status.Counts)
	}
	if len(parsed.Status.Remotes) != 1 {
		t.Fatalf("expected 1 remote, got %d", len(parsed.Status.Remotes))
	}
	r := parsed.Status.Remotes[0]
	if r.LastSeen != "2026-01-01T00:10:00Z" {
		t.Errorf("LastSeen: got %q", r.LastSeen)
	}
	if len(r.Buttons) != 1 || r.Buttons[0] != "{CLICKED,2}" {
		t.Errorf("Buttons: got %v", r.Buttons)
	}
	if parsed.Status.Config.TopicPrefix != "now-remote/hub" {
		t.Errorf("Config.TopicPrefix: got %q", parsed.Status.Config.TopicPrefix)
	}
	if parsed.Status.Event != "" || parsed.Status.Reason != "" {
		t.Errorf("expected no event/reason for web format, got %q/%q", parsed.Status.Event, parsed.Status.Reason)
	}
}

func TestFormatJSONEmptyRemotesIsArray(t *testing.T) {
	data := FormatJSON(Snapshot{StartTime: testStart, Now: testStart})

	var raw map[string]map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := raw["status"]["remotes"].([]interface{}); !ok {
		t.Errorf("expected remotes to be an array, got %v", raw["status"]["remotes"])
	}
}

func TestFormatStatusEvent(t *testing.T) {
	snap := Snapshot{
		StartTime: testStart,
		Now:       testStart.Add(30 * time.Minute),
		Config:    testConfig(),
	}

	data := FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" {
		t.Errorf("Event: got %q, want SHUTDOWN", parsed.Status.Event)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", parsed.Status.Reason)
	}
	if parsed.Status.UptimeSeconds != 1800 {
		t.Errorf("UptimeSeconds: got %d, want 1800", parsed.Status.UptimeSeconds)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	snap := Snapshot{StartTime: testStart, Now: testStart.Add(time.Second)}

	data := FormatStatusEvent(snap, "STARTUP", "")

	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	status := raw["status"].(map[string]interface{})
	if _, exists := status["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if status["event"] != "STARTUP" {
		t.Errorf("event: got %v, want STARTUP", status["event"])
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.RecordReport(testReport("a", time.Now(), logic.ButtonEvent{ClickCount: uint8(i)}))
			tr.CountPing()
			tr.SetMQTTConnected(i%2 == 0)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
		}
	}()

	wg.Wait()
}
