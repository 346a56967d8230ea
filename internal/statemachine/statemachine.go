// Package statemachine drives one wake cycle of the remote: network start,
// hub discovery, report sending with retry, result indication and the
// hand-off to deep sleep.
//
// Execute is called from the application loop with the current time. It
// never blocks; asynchronous work is started through handlers whose state is
// polled on later ticks.
package statemachine

import (
	"log"
	"time"

	"github.com/sweeney/now-remote/internal/debug"
	"github.com/sweeney/now-remote/internal/handler"
	"github.com/sweeney/now-remote/internal/link"
	"github.com/sweeney/now-remote/internal/logic"
	"github.com/sweeney/now-remote/internal/nowio"
	"github.com/sweeney/now-remote/internal/rtc"
)

// Defaults.
const (
	DefaultButtonWait        = 600 * time.Millisecond
	DefaultButtonRepeat      = 1000 * time.Millisecond
	DefaultErrorsBeforeReset = 3
)

// Buttons is the button manager.
type Buttons interface {
	Idle() bool
	Holding() bool
	Empty() bool
	Events() []logic.ButtonEvent
	End()
}

// Network is the radio stack.
type Network interface {
	Begin() error
	LocalMAC() link.MAC
	ChangeChannel(channel uint8) error
}

// Discoverer is the hub discovery handler.
type Discoverer interface {
	Begin() bool
	State() handler.State
	Hub() (nowio.Hub, bool)
}

// Sender is the report handler.
type Sender interface {
	Begin(mac link.MAC, events []logic.ButtonEvent) bool
	State() handler.State
}

// Indicator is the result indication handler.
type Indicator interface {
	Begin(n int, now time.Time) bool
	State() handler.State
}

// LED is the status light.
type LED interface {
	TurnOff()
}

// Deps are the collaborators of one wake cycle.
type Deps struct {
	Buttons    Buttons
	Network    Network
	Discovery  Discoverer
	Sender     Sender
	Indication Indicator
	LED        LED
}

// Config tunes the machine.
type Config struct {
	ButtonWait   time.Duration
	ButtonRepeat time.Duration
	// OuterRetries re-enters DATA_SENDING after a failed send. The send
	// handler retries on its own, so this is normally zero.
	OuterRetries      int
	ErrorsBeforeReset uint8
	// WakeMask is the union of button pin masks armed at TURNING_OFF.
	WakeMask uint64
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		ButtonWait:        DefaultButtonWait,
		ButtonRepeat:      DefaultButtonRepeat,
		ErrorsBeforeReset: DefaultErrorsBeforeReset,
	}
}

// Machine is the wake cycle state machine.
type Machine struct {
	cfg  Config
	deps Deps
	rtc  rtc.State

	state   AppState
	command CommandState
	now     time.Time

	buttonWaitStart time.Time
	sentCount       int
	retryCount      int
	lastHadRelease  bool
	wakeArmed       uint64
}

// New creates a machine for one wake cycle starting from the persisted state.
func New(cfg Config, deps Deps, persisted rtc.State) *Machine {
	return &Machine{cfg: cfg, deps: deps, rtc: persisted}
}

// State returns the application state.
func (m *Machine) State() AppState { return m.state }

// Command returns the cycle outcome so far.
func (m *Machine) Command() CommandState { return m.command }

// Persisted returns the state to carry into deep sleep.
func (m *Machine) Persisted() rtc.State { return m.rtc }

// Done reports whether the cycle reached END.
func (m *Machine) Done() bool { return m.state == End }

// WakeMask returns the wake mask armed at TURNING_OFF, zero before.
func (m *Machine) WakeMask() uint64 { return m.wakeArmed }

// Execute advances the machine, repeating while a step changed the state.
func (m *Machine) Execute(now time.Time) {
	m.now = now
	for {
		prev := m.state
		m.step()
		if m.state == prev {
			return
		}
	}
}

func (m *Machine) changeState(next AppState) {
	if m.state == next {
		return
	}
	debug.Printf("statemachine: change state from %s to %s", m.state, next)
	if next == ButtonHandle {
		m.buttonWaitStart = m.now
	}
	m.state = next
}

func (m *Machine) finish(c CommandState) {
	m.command = c
	m.changeState(Finished)
}

func (m *Machine) step() {
	switch m.state {
	case Initial:
		m.initial()
	case Reset:
		m.reset()
	case NetworkInit:
		m.networkInit()
	case Discovery:
		m.deps.Discovery.Begin()
		m.changeState(DiscoveryWait)
	case DiscoveryWait:
		m.discoveryWait()
	case ButtonHandle:
		m.buttonHandle()
	case DataSending:
		m.dataSending()
	case DataSendingWait:
		m.dataSendingWait()
	case DataSendingSuccess:
		m.dataSendingSuccess()
	case DataSendingError:
		m.dataSendingError()
	case Finished:
		m.finished()
	case ResultIndication:
		m.resultIndication()
	case ResultIndicationWait:
		if m.deps.Indication.State() != handler.Pending {
			m.changeState(TurningOff)
		}
	case TurningOff:
		m.turningOff()
	case End:
	default:
		log.Printf("statemachine: unknown state %s", m.state)
		m.changeState(End)
	}
}

func (m *Machine) initial() {
	if m.rtc.ErrorCount >= m.cfg.ErrorsBeforeReset {
		log.Printf("statemachine: %d consecutive send errors, resetting saved hub", m.rtc.ErrorCount)
		m.changeState(Reset)
		return
	}
	m.changeState(NetworkInit)
}

func (m *Machine) reset() {
	m.rtc.ClearHub()
	m.changeState(NetworkInit)
}

func (m *Machine) networkInit() {
	if err := m.deps.Network.Begin(); err != nil {
		log.Printf("statemachine: network init failed: %v", err)
		m.finish(SendError)
		return
	}
	log.Printf("statemachine: local mac %s", m.deps.Network.LocalMAC())

	if !m.rtc.HubAddrPresent {
		m.changeState(Discovery)
		return
	}
	if err := m.deps.Network.ChangeChannel(m.rtc.WifiChannel); err != nil {
		log.Printf("statemachine: change channel %d: %v", m.rtc.WifiChannel, err)
	}
	m.changeState(ButtonHandle)
}

func (m *Machine) discoveryWait() {
	if m.deps.Discovery.State() == handler.Pending {
		return
	}
	hub, ok := m.deps.Discovery.Hub()
	if !ok {
		log.Printf("statemachine: unable to find hub")
		m.finish(HubMissing)
		return
	}
	log.Printf("statemachine: hub %s on channel %d", hub.MAC, hub.Channel)
	m.rtc.HubAddrPresent = true
	m.rtc.HubMAC = hub.MAC
	m.rtc.WifiChannel = hub.Channel
	m.changeState(ButtonHandle)
}

func (m *Machine) buttonHandle() {
	elapsed := m.now.Sub(m.buttonWaitStart)
	var ready bool
	if m.sentCount == 0 {
		b := m.deps.Buttons
		ready = (b.Holding() || b.Idle()) && elapsed > m.cfg.ButtonWait
	} else {
		ready = elapsed > m.cfg.ButtonRepeat
	}
	if ready {
		m.changeState(DataSending)
	}
}

func (m *Machine) dataSending() {
	if m.deps.Buttons.Empty() {
		log.Printf("statemachine: nothing to send")
		m.finish(NothingToSend)
		return
	}
	events := m.deps.Buttons.Events()
	m.lastHadRelease = false
	for _, e := range events {
		if e.Type == logic.EventReleased {
			m.lastHadRelease = true
		}
	}
	m.deps.Sender.Begin(m.rtc.HubMAC, events)
	m.changeState(DataSendingWait)
}

func (m *Machine) dataSendingWait() {
	switch m.deps.Sender.State() {
	case handler.Pending:
	case handler.Success:
		m.changeState(DataSendingSuccess)
	default:
		m.changeState(DataSendingError)
	}
}

func (m *Machine) dataSendingSuccess() {
	m.rtc.ErrorCount = 0
	switch {
	case m.deps.Buttons.Holding():
		log.Printf("statemachine: button still held, repeating")
		m.sentCount++
		m.changeState(ButtonHandle)
	case m.sentCount > 0 && !m.lastHadRelease:
		log.Printf("statemachine: button released, sending release event")
		m.sentCount = 0
		m.changeState(DataSending)
	default:
		m.sentCount = 0
		m.finish(Success)
	}
}

func (m *Machine) dataSendingError() {
	state := m.deps.Sender.State()
	if m.retryCount < m.cfg.OuterRetries {
		m.retryCount++
		log.Printf("statemachine: send failed (%s), retry %d/%d", state, m.retryCount, m.cfg.OuterRetries)
		m.changeState(DataSending)
		return
	}

	c := SendError
	if state == handler.Timeout {
		c = SendTimeout
	}
	log.Printf("statemachine: failed to send report: %s", c)
	if m.rtc.ErrorCount < 255 {
		m.rtc.ErrorCount++
	}
	m.finish(c)
}

func (m *Machine) finished() {
	if !m.deps.Buttons.Idle() {
		return
	}
	m.deps.Buttons.End()
	m.changeState(ResultIndication)
}

func (m *Machine) resultIndication() {
	n := m.command.BlinkCount()
	if n == 0 {
		m.changeState(TurningOff)
		return
	}
	m.deps.Indication.Begin(n, m.now)
	m.changeState(ResultIndicationWait)
}

func (m *Machine) turningOff() {
	m.deps.LED.TurnOff()
	log.Printf("statemachine: finished with result %s", m.command)
	m.wakeArmed = m.cfg.WakeMask
	m.changeState(End)
}
