package internal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sweeney/now-remote/internal/button"
	"github.com/sweeney/now-remote/internal/gpio"
	"github.com/sweeney/now-remote/internal/link"
	"github.com/sweeney/now-remote/internal/logic"
	"github.com/sweeney/now-remote/internal/mqtt"
	"github.com/sweeney/now-remote/internal/nowio"
)

const (
	pinA = 17
	pinB = 18
)

var (
	startTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	remoteMAC = link.MAC{0x02, 0, 0, 0, 0, 0x01}
)

// tickUntil drives the manager like the remote's application loop.
func tickUntil(m *button.Manager, from, to time.Time) {
	for now := from; !now.After(to); now = now.Add(10 * time.Millisecond) {
		m.Tick(now)
	}
}

// deliver carries events from the remote to the hub's publisher the way
// the radio path does: packed, framed as bytes, parsed and unpacked.
func deliver(t *testing.T, events []logic.ButtonEvent, publisher *mqtt.FakePublisher, at time.Time) {
	t.Helper()
	body, err := nowio.Pack(nowio.TypeButton, events)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	p, err := nowio.ParsePacket(1, remoteMAC, body.Marshal())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got, err := nowio.Unpack[logic.ButtonEvent](p.Body)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	report := logic.Report{
		ID:         "0b6f4f44-1b0a-4c1e-9b7e-6d1f0e2a3c4d",
		Remote:     p.MAC.String(),
		Events:     got,
		ReceivedAt: at,
	}
	if err := publisher.PublishReport(report); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

// TestIntegrationDoubleClick follows a wake press plus one more click from
// the button lines to the MQTT payload.
func TestIntegrationDoubleClick(t *testing.T) {
	inputs := gpio.NewFakeInputs(pinA, pinB)
	publisher := mqtt.NewFakePublisher()
	m := button.NewManager(inputs, logic.DefaultIntervals())

	// The wake press was released before the lines were opened.
	if err := m.Begin(gpio.Mask([]int{pinA}), startTime); err != nil {
		t.Fatalf("begin: %v", err)
	}
	inputs.SetLevel(pinA, true, startTime.Add(100*time.Millisecond))
	inputs.SetLevel(pinA, false, startTime.Add(180*time.Millisecond))

	tickUntil(m, startTime, startTime.Add(500*time.Millisecond))
	if !m.Empty() {
		t.Fatal("clicks should not be reported before the press wait elapses")
	}
	tickUntil(m, startTime.Add(510*time.Millisecond), startTime.Add(time.Second))
	if m.Empty() || !m.Idle() {
		t.Fatal("expected a finished gesture")
	}

	deliver(t, m.Events(), publisher, startTime.Add(time.Second))

	expected := `{"report":{"id":"0b6f4f44-1b0a-4c1e-9b7e-6d1f0e2a3c4d","remote":"02:00:00:00:00:01","timestamp":"2026-01-01T12:00:01Z","buttons":[{"index":0,"event":"CLICKED","clicks":2},{"index":1,"event":"CLICKED","clicks":0}]}}`
	if string(publisher.Payloads[0]) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(publisher.Payloads[0]), expected)
	}
}

// TestIntegrationHoldAndRelease verifies a held wake button reports HOLD
// while down and RELEASED after.
func TestIntegrationHoldAndRelease(t *testing.T) {
	inputs := gpio.NewFakeInputs(pinA, pinB)
	publisher := mqtt.NewFakePublisher()
	m := button.NewManager(inputs, logic.DefaultIntervals())

	inputs.SetLevel(pinB, true, startTime)
	if err := m.Begin(gpio.Mask([]int{pinB}), startTime); err != nil {
		t.Fatalf("begin: %v", err)
	}

	tickUntil(m, startTime, startTime.Add(700*time.Millisecond))
	if !m.Holding() {
		t.Fatal("expected hold after the hold interval")
	}
	deliver(t, m.Events(), publisher, startTime.Add(700*time.Millisecond))

	inputs.SetLevel(pinB, false, startTime.Add(1500*time.Millisecond))
	tickUntil(m, startTime.Add(1510*time.Millisecond), startTime.Add(1600*time.Millisecond))
	if m.Holding() || !m.Idle() {
		t.Fatal("expected the hold to end on release")
	}
	deliver(t, m.Events(), publisher, startTime.Add(1600*time.Millisecond))

	if len(publisher.Reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(publisher.Reports))
	}
	if e := publisher.Reports[0].Events[1]; e.Type != logic.EventHold || e.ClickCount != 1 {
		t.Errorf("report 0: expected {HOLD,1}, got %v", e)
	}
	if e := publisher.Reports[1].Events[1]; e.Type != logic.EventReleased || e.ClickCount != 1 {
		t.Errorf("report 1: expected {RELEASED,1}, got %v", e)
	}
	if e := publisher.Reports[1].Events[0]; e != (logic.ButtonEvent{Type: logic.EventClicked}) {
		t.Errorf("report 1: expected untouched button 0, got %v", e)
	}
}

// TestIntegrationBounceRejection verifies edges closer than the silence
// interval do not add clicks.
func TestIntegrationBounceRejection(t *testing.T) {
	inputs := gpio.NewFakeInputs(pinA)
	m := button.NewManager(inputs, logic.DefaultIntervals())
	if err := m.Begin(gpio.Mask([]int{pinA}), startTime); err != nil {
		t.Fatalf("begin: %v", err)
	}

	inputs.SetLevel(pinA, true, startTime.Add(100*time.Millisecond))
	inputs.SetLevel(pinA, false, startTime.Add(102*time.Millisecond))
	inputs.SetLevel(pinA, true, startTime.Add(104*time.Millisecond))
	inputs.SetLevel(pinA, false, startTime.Add(200*time.Millisecond))
	tickUntil(m, startTime, startTime.Add(time.Second))

	events := m.Events()
	if len(events) != 1 || events[0].ClickCount != 2 {
		t.Errorf("expected 2 clicks, got %v", events)
	}
}

// TestIntegrationNothingToReport verifies a wake without any gesture leaves
// nothing to send.
func TestIntegrationNothingToReport(t *testing.T) {
	inputs := gpio.NewFakeInputs(pinA, pinB)
	m := button.NewManager(inputs, logic.DefaultIntervals())
	if err := m.Begin(0, startTime); err != nil {
		t.Fatalf("begin: %v", err)
	}
	tickUntil(m, startTime, startTime.Add(time.Second))

	if !m.Empty() {
		t.Errorf("expected nothing to report, got %v", m.Events())
	}
}

// TestIntegrationShutdownPayloadFormat verifies the exact JSON structure for
// the simple shutdown event.
func TestIntegrationShutdownPayloadFormat(t *testing.T) {
	publisher := mqtt.NewFakePublisher()

	event := mqtt.SystemEvent{
		Timestamp: time.Date(2026, 2, 3, 10, 30, 45, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	}
	if err := publisher.PublishSystem(event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-03T10:30:45Z","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(publisher.SystemPayloads[0]) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(publisher.SystemPayloads[0]), expected)
	}

	var parsed mqtt.SystemPayload
	if err := json.Unmarshal(publisher.SystemPayloads[0], &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.System.Reason != "SIGTERM" {
		t.Errorf("payload reason: expected SIGTERM, got %s", parsed.System.Reason)
	}
}
