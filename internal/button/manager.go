// Package button binds gesture detectors to GPIO button lines and answers
// aggregate questions about all buttons of the remote.
package button

import (
	"fmt"
	"log"
	"time"

	"github.com/sweeney/now-remote/internal/gpio"
	"github.com/sweeney/now-remote/internal/logic"
)

// Manager owns one detector per button line.
type Manager struct {
	inputs      gpio.Inputs
	intervals   logic.Intervals
	detectors   []*logic.Detector
	byPin       map[int]*logic.Detector
	initialized bool
}

// NewManager creates a manager over the lines of inputs.
func NewManager(inputs gpio.Inputs, intervals logic.Intervals) *Manager {
	return &Manager{inputs: inputs, intervals: intervals}
}

// Begin arms a detector per line and starts receiving edges. wakeMask is
// the set of pins that woke the board (zero on a cold boot).
// Calling Begin twice has no effect.
func (m *Manager) Begin(wakeMask uint64, now time.Time) error {
	if m.initialized {
		return nil
	}

	pins := m.inputs.Pins()
	m.detectors = make([]*logic.Detector, 0, len(pins))
	m.byPin = make(map[int]*logic.Detector, len(pins))
	for _, pin := range pins {
		level, err := m.inputs.Level(pin)
		if err != nil {
			return fmt.Errorf("read button %d: %w", pin, err)
		}
		d := logic.NewDetector(pin, m.intervals)
		d.Begin(level, gpio.Woken(wakeMask, pin), now)
		m.detectors = append(m.detectors, d)
		m.byPin[pin] = d
	}
	m.inputs.Watch(m.onEdge)
	m.initialized = true
	return nil
}

func (m *Manager) onEdge(e gpio.Edge) {
	if d, ok := m.byPin[e.Pin]; ok {
		d.OnEdge(e.Active, e.Time)
	}
}

// End detaches the edge handler and stops every detector. Snapshots stay
// readable so the session result can still be reported.
func (m *Manager) End() {
	if !m.initialized {
		return
	}
	m.inputs.Watch(nil)
	for _, d := range m.detectors {
		d.End()
	}
	m.initialized = false
}

// Tick advances every detector with its current line level.
func (m *Manager) Tick(now time.Time) {
	if !m.initialized {
		return
	}
	for _, d := range m.detectors {
		level, err := m.inputs.Level(d.Pin())
		if err != nil {
			log.Printf("button(%d): read level: %v", d.Pin(), err)
			continue
		}
		d.Handle(level, now)
	}
}

// Detectors returns the detectors in line order.
func (m *Manager) Detectors() []*logic.Detector {
	return m.detectors
}

// Idle reports whether every button is idle.
func (m *Manager) Idle() bool {
	for _, d := range m.detectors {
		if !d.Idle() {
			return false
		}
	}
	return true
}

// Holding reports whether any button is mid-gesture with a hold snapshot.
func (m *Manager) Holding() bool {
	for _, d := range m.detectors {
		if !d.Idle() && d.LastState().Hold {
			return true
		}
	}
	return false
}

// Empty reports whether no button has anything to report.
func (m *Manager) Empty() bool {
	for _, d := range m.detectors {
		if d.LastState().ClickCount != 0 {
			return false
		}
	}
	return true
}

// Events returns one event per button in line order.
func (m *Manager) Events() []logic.ButtonEvent {
	events := make([]logic.ButtonEvent, len(m.detectors))
	for i, d := range m.detectors {
		events[i] = d.Event()
	}
	return events
}
