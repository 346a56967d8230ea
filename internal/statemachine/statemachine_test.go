package statemachine

import (
	"errors"
	"testing"
	"time"

	"github.com/sweeney/now-remote/internal/handler"
	"github.com/sweeney/now-remote/internal/link"
	"github.com/sweeney/now-remote/internal/logic"
	"github.com/sweeney/now-remote/internal/nowio"
	"github.com/sweeney/now-remote/internal/rtc"
)

var (
	t0     = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	hubMAC = link.MAC{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x01}
)

type fakeButtons struct {
	idle    bool
	holding bool
	events  []logic.ButtonEvent
	ended   int
}

func (f *fakeButtons) Idle() bool    { return f.idle }
func (f *fakeButtons) Holding() bool { return f.holding }
func (f *fakeButtons) Empty() bool {
	for _, e := range f.events {
		if e.ClickCount > 0 {
			return false
		}
	}
	return true
}
func (f *fakeButtons) Events() []logic.ButtonEvent { return f.events }
func (f *fakeButtons) End()                        { f.ended++ }

type fakeNetwork struct {
	err      error
	begun    int
	channels []uint8
}

func (f *fakeNetwork) Begin() error       { f.begun++; return f.err }
func (f *fakeNetwork) LocalMAC() link.MAC { return link.MAC{0x02, 0, 0, 0, 0, 1} }
func (f *fakeNetwork) ChangeChannel(ch uint8) error {
	f.channels = append(f.channels, ch)
	return nil
}

type fakeDiscovery struct {
	state  handler.State
	hub    nowio.Hub
	begins int
}

func (f *fakeDiscovery) Begin() bool          { f.begins++; f.state = handler.Pending; return true }
func (f *fakeDiscovery) State() handler.State { return f.state }
func (f *fakeDiscovery) Hub() (nowio.Hub, bool) {
	return f.hub, f.state == handler.Success
}

type fakeSender struct {
	state handler.State
	macs  []link.MAC
	sent  [][]logic.ButtonEvent
}

func (f *fakeSender) Begin(mac link.MAC, events []logic.ButtonEvent) bool {
	f.macs = append(f.macs, mac)
	f.sent = append(f.sent, append([]logic.ButtonEvent(nil), events...))
	f.state = handler.Pending
	return true
}
func (f *fakeSender) State() handler.State { return f.state }

type fakeIndication struct {
	state  handler.State
	blinks []int
}

func (f *fakeIndication) Begin(n int, _ time.Time) bool {
	f.blinks = append(f.blinks, n)
	f.state = handler.Pending
	return true
}
func (f *fakeIndication) State() handler.State { return f.state }

type fakeLED struct{ off int }

func (f *fakeLED) TurnOff() { f.off++ }

type rig struct {
	buttons    *fakeButtons
	network    *fakeNetwork
	discovery  *fakeDiscovery
	sender     *fakeSender
	indication *fakeIndication
	led        *fakeLED
	m          *Machine
}

func newRig(cfg Config, persisted rtc.State) *rig {
	r := &rig{
		buttons:    &fakeButtons{idle: true},
		network:    &fakeNetwork{},
		discovery:  &fakeDiscovery{},
		sender:     &fakeSender{},
		indication: &fakeIndication{},
		led:        &fakeLED{},
	}
	r.m = New(cfg, Deps{
		Buttons:    r.buttons,
		Network:    r.network,
		Discovery:  r.discovery,
		Sender:     r.sender,
		Indication: r.indication,
		LED:        r.led,
	}, persisted)
	return r
}

func storedHub(errors uint8) rtc.State {
	return rtc.State{HubAddrPresent: true, HubMAC: hubMAC, WifiChannel: 6, ErrorCount: errors}
}

func click(n uint8) []logic.ButtonEvent {
	return []logic.ButtonEvent{{Type: logic.EventClicked, ClickCount: n}, {Type: logic.EventClicked}}
}

func TestStringers(t *testing.T) {
	if Initial.String() != "INITIAL" || End.String() != "END" || AppState(99).String() != "UNKNOWN(99)" {
		t.Error("unexpected AppState names")
	}
	if SendTimeout.String() != "SEND_TIMEOUT" || CommandState(42).String() != "UNKNOWN(42)" {
		t.Error("unexpected CommandState names")
	}
}

func TestBlinkCounts(t *testing.T) {
	tests := map[CommandState]int{
		Unknown:       0,
		Success:       0,
		NothingToSend: 0,
		HubMissing:    5,
		SendTimeout:   4,
		SendError:     3,
	}
	for c, want := range tests {
		if got := c.BlinkCount(); got != want {
			t.Errorf("%s: expected %d blinks, got %d", c, want, got)
		}
	}
}

func TestColdBootDiscoversAndSends(t *testing.T) {
	r := newRig(DefaultConfig(), rtc.State{})
	r.buttons.events = click(1)

	r.m.Execute(t0)
	if r.m.State() != DiscoveryWait {
		t.Fatalf("expected DISCOVERY_WAIT, got %s", r.m.State())
	}
	if r.network.begun != 1 || r.discovery.begins != 1 {
		t.Errorf("expected network begun and discovery started, got %d/%d", r.network.begun, r.discovery.begins)
	}

	r.discovery.state = handler.Success
	r.discovery.hub = nowio.Hub{MAC: hubMAC, Channel: 6}
	now := t0.Add(200 * time.Millisecond)
	r.m.Execute(now)
	if r.m.State() != ButtonHandle {
		t.Fatalf("expected BUTTON_HANDLE, got %s", r.m.State())
	}

	r.m.Execute(now.Add(600 * time.Millisecond))
	if r.m.State() != ButtonHandle {
		t.Fatalf("wait window must be strictly exceeded, got %s", r.m.State())
	}
	r.m.Execute(now.Add(601 * time.Millisecond))
	if r.m.State() != DataSendingWait {
		t.Fatalf("expected DATA_SENDING_WAIT, got %s", r.m.State())
	}
	if len(r.sender.sent) != 1 || r.sender.macs[0] != hubMAC {
		t.Fatalf("expected one send to the hub, got %v", r.sender.macs)
	}

	r.sender.state = handler.Success
	r.m.Execute(now.Add(650 * time.Millisecond))
	if !r.m.Done() {
		t.Fatalf("expected END, got %s", r.m.State())
	}
	if r.m.Command() != Success {
		t.Errorf("expected SUCCESS, got %s", r.m.Command())
	}
	if len(r.indication.blinks) != 0 {
		t.Errorf("success must not blink, got %v", r.indication.blinks)
	}
	if r.buttons.ended != 1 || r.led.off != 1 {
		t.Errorf("expected buttons ended and LED off, got %d/%d", r.buttons.ended, r.led.off)
	}

	want := storedHub(0)
	if r.m.Persisted() != want {
		t.Errorf("expected persisted %+v, got %+v", want, r.m.Persisted())
	}
}

func TestStoredHubSkipsDiscovery(t *testing.T) {
	r := newRig(DefaultConfig(), storedHub(0))
	r.m.Execute(t0)

	if r.m.State() != ButtonHandle {
		t.Fatalf("expected BUTTON_HANDLE, got %s", r.m.State())
	}
	if r.discovery.begins != 0 {
		t.Error("discovery must be skipped")
	}
	if len(r.network.channels) != 1 || r.network.channels[0] != 6 {
		t.Errorf("expected channel 6, got %v", r.network.channels)
	}
}

func TestButtonHandleWaitsForClickCounting(t *testing.T) {
	r := newRig(DefaultConfig(), storedHub(0))
	r.buttons.events = click(2)
	r.buttons.idle = false
	r.m.Execute(t0)

	r.m.Execute(t0.Add(time.Second))
	if r.m.State() != ButtonHandle {
		t.Fatalf("must wait while clicks are being counted, got %s", r.m.State())
	}
	r.buttons.idle = true
	r.m.Execute(t0.Add(time.Second))
	if r.m.State() != DataSendingWait {
		t.Errorf("expected DATA_SENDING_WAIT, got %s", r.m.State())
	}
}

func TestHoldRepeatsThenReleases(t *testing.T) {
	r := newRig(DefaultConfig(), storedHub(0))
	r.buttons.idle = false
	r.buttons.holding = true
	r.buttons.events = []logic.ButtonEvent{{Type: logic.EventClicked}, {Type: logic.EventHold, ClickCount: 1}}
	r.m.Execute(t0)

	now := t0.Add(601 * time.Millisecond)
	r.m.Execute(now)
	if len(r.sender.sent) != 1 {
		t.Fatalf("expected first send at 600 ms, got %d sends", len(r.sender.sent))
	}
	r.sender.state = handler.Success
	r.m.Execute(now)
	if r.m.State() != ButtonHandle {
		t.Fatalf("expected repeat wait, got %s", r.m.State())
	}

	r.m.Execute(now.Add(1000 * time.Millisecond))
	if len(r.sender.sent) != 1 {
		t.Fatal("repeat must wait the repeat interval")
	}
	now = now.Add(1001 * time.Millisecond)
	r.m.Execute(now)
	if len(r.sender.sent) != 2 {
		t.Fatalf("expected repeat send, got %d sends", len(r.sender.sent))
	}

	// Released while the second send is in flight.
	r.buttons.holding = false
	r.buttons.idle = true
	r.buttons.events = []logic.ButtonEvent{{Type: logic.EventClicked}, {Type: logic.EventReleased, ClickCount: 1}}
	r.sender.state = handler.Success
	r.m.Execute(now)
	if len(r.sender.sent) != 3 {
		t.Fatalf("expected release send, got %d sends", len(r.sender.sent))
	}
	if e := r.sender.sent[2][1]; e.Type != logic.EventReleased || e.ClickCount != 1 {
		t.Errorf("expected {RELEASED,1}, got %s", e)
	}
	if r.m.State() != DataSendingWait {
		t.Fatalf("expected to wait for the release send, got %s", r.m.State())
	}

	r.sender.state = handler.Success
	r.m.Execute(now)
	if !r.m.Done() || r.m.Command() != Success {
		t.Errorf("expected END with SUCCESS, got %s/%s", r.m.State(), r.m.Command())
	}
	if len(r.sender.sent) != 3 {
		t.Errorf("release must be sent once, got %d sends", len(r.sender.sent))
	}
}

func TestReleaseAlreadyReportedIsNotRepeated(t *testing.T) {
	r := newRig(DefaultConfig(), storedHub(0))
	r.buttons.idle = false
	r.buttons.holding = true
	r.buttons.events = []logic.ButtonEvent{{Type: logic.EventHold, ClickCount: 1}}
	r.m.Execute(t0)

	now := t0.Add(601 * time.Millisecond)
	r.m.Execute(now)
	r.sender.state = handler.Success
	r.m.Execute(now)

	// Released during the repeat wait.
	r.buttons.holding = false
	r.buttons.idle = true
	r.buttons.events = []logic.ButtonEvent{{Type: logic.EventReleased, ClickCount: 1}}
	now = now.Add(1001 * time.Millisecond)
	r.m.Execute(now)
	r.sender.state = handler.Success
	r.m.Execute(now)

	if len(r.sender.sent) != 2 {
		t.Errorf("expected 2 sends, got %d", len(r.sender.sent))
	}
	if !r.m.Done() {
		t.Errorf("expected END, got %s", r.m.State())
	}
}

func TestNothingToSend(t *testing.T) {
	r := newRig(DefaultConfig(), storedHub(1))
	r.buttons.events = click(0)
	r.m.Execute(t0)
	r.m.Execute(t0.Add(time.Second))

	if !r.m.Done() || r.m.Command() != NothingToSend {
		t.Errorf("expected END with NOTHING_TO_SEND, got %s/%s", r.m.State(), r.m.Command())
	}
	if len(r.sender.sent) != 0 {
		t.Error("nothing should be sent")
	}
	if r.m.Persisted().ErrorCount != 1 {
		t.Errorf("error count must be untouched, got %d", r.m.Persisted().ErrorCount)
	}
}

func TestSendFailures(t *testing.T) {
	tests := []struct {
		name   string
		state  handler.State
		want   CommandState
		blinks int
	}{
		{"timeout", handler.Timeout, SendTimeout, 4},
		{"error", handler.Error, SendError, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(DefaultConfig(), storedHub(0))
			r.buttons.events = click(1)
			r.m.Execute(t0)
			r.m.Execute(t0.Add(601 * time.Millisecond))

			r.sender.state = tt.state
			r.m.Execute(t0.Add(time.Second))
			if r.m.State() != ResultIndicationWait {
				t.Fatalf("expected RESULT_INDICATION_WAIT, got %s", r.m.State())
			}
			if r.m.Command() != tt.want {
				t.Errorf("expected %s, got %s", tt.want, r.m.Command())
			}
			if len(r.indication.blinks) != 1 || r.indication.blinks[0] != tt.blinks {
				t.Errorf("expected %d blinks, got %v", tt.blinks, r.indication.blinks)
			}
			if r.m.Persisted().ErrorCount != 1 {
				t.Errorf("expected error count 1, got %d", r.m.Persisted().ErrorCount)
			}

			r.indication.state = handler.Success
			r.m.Execute(t0.Add(2 * time.Second))
			if !r.m.Done() {
				t.Errorf("expected END, got %s", r.m.State())
			}
		})
	}
}

func TestOuterRetries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OuterRetries = 2
	r := newRig(cfg, storedHub(0))
	r.buttons.events = click(1)
	r.m.Execute(t0)
	r.m.Execute(t0.Add(601 * time.Millisecond))

	for i := 0; i < 2; i++ {
		r.sender.state = handler.Error
		r.m.Execute(t0.Add(time.Second))
		if r.m.State() != DataSendingWait {
			t.Fatalf("retry %d: expected DATA_SENDING_WAIT, got %s", i, r.m.State())
		}
	}
	r.sender.state = handler.Error
	r.m.Execute(t0.Add(time.Second))
	if len(r.sender.sent) != 3 {
		t.Errorf("expected 3 sends, got %d", len(r.sender.sent))
	}
	if r.m.Command() != SendError {
		t.Errorf("expected SEND_ERROR, got %s", r.m.Command())
	}
}

func TestSuccessResetsErrorCount(t *testing.T) {
	r := newRig(DefaultConfig(), storedHub(2))
	r.buttons.events = click(1)
	r.m.Execute(t0)
	r.m.Execute(t0.Add(601 * time.Millisecond))
	r.sender.state = handler.Success
	r.m.Execute(t0.Add(time.Second))

	if r.m.Persisted().ErrorCount != 0 {
		t.Errorf("expected error count reset, got %d", r.m.Persisted().ErrorCount)
	}
}

func TestTooManyErrorsResets(t *testing.T) {
	r := newRig(DefaultConfig(), storedHub(3))
	r.m.Execute(t0)

	if r.m.State() != DiscoveryWait {
		t.Fatalf("expected rediscovery, got %s", r.m.State())
	}
	if got := r.m.Persisted(); got != (rtc.State{}) {
		t.Errorf("expected cleared state, got %+v", got)
	}
}

func TestHubMissing(t *testing.T) {
	r := newRig(DefaultConfig(), rtc.State{})
	r.buttons.events = click(1)
	r.m.Execute(t0)

	r.discovery.state = handler.Timeout
	r.m.Execute(t0.Add(5 * time.Second))
	if r.m.Command() != HubMissing {
		t.Errorf("expected HUB_MISSING, got %s", r.m.Command())
	}
	if len(r.indication.blinks) != 1 || r.indication.blinks[0] != 5 {
		t.Errorf("expected 5 blinks, got %v", r.indication.blinks)
	}
	if r.m.Persisted().HubAddrPresent {
		t.Error("hub must not be stored")
	}
}

func TestFinishedWaitsForIdle(t *testing.T) {
	r := newRig(DefaultConfig(), rtc.State{})
	r.m.Execute(t0)
	r.buttons.idle = false
	r.discovery.state = handler.Error
	r.m.Execute(t0.Add(time.Second))

	if r.m.State() != Finished {
		t.Fatalf("expected FINISHED while a button is active, got %s", r.m.State())
	}
	if r.buttons.ended != 0 {
		t.Error("buttons must not end while active")
	}
	r.buttons.idle = true
	r.m.Execute(t0.Add(2 * time.Second))
	if r.m.State() != ResultIndicationWait {
		t.Errorf("expected RESULT_INDICATION_WAIT, got %s", r.m.State())
	}
}

func TestNetworkInitFailure(t *testing.T) {
	r := newRig(DefaultConfig(), storedHub(0))
	r.network.err = errors.New("radio down")
	r.m.Execute(t0)

	if r.m.Command() != SendError {
		t.Errorf("expected SEND_ERROR, got %s", r.m.Command())
	}
	if r.m.State() != ResultIndicationWait {
		t.Errorf("expected RESULT_INDICATION_WAIT, got %s", r.m.State())
	}
}

func TestWakeMaskArmedAtTurnOff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WakeMask = 0b11
	r := newRig(cfg, storedHub(0))
	r.buttons.events = click(0)

	r.m.Execute(t0)
	if r.m.WakeMask() != 0 {
		t.Error("wake mask armed early")
	}
	r.m.Execute(t0.Add(time.Second))
	if r.m.WakeMask() != 0b11 {
		t.Errorf("expected wake mask 0b11, got %b", r.m.WakeMask())
	}
}
