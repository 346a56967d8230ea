// Package logic contains the pure button gesture classification.
// This package has NO external dependencies (no GPIO, radio, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"fmt"
	"time"
)

// ButtonEventType classifies a reported gesture. Values are wire codes.
type ButtonEventType uint8

const (
	EventClicked  ButtonEventType = 0
	EventHold     ButtonEventType = 1
	EventReleased ButtonEventType = 2
)

func (t ButtonEventType) String() string {
	switch t {
	case EventClicked:
		return "CLICKED"
	case EventHold:
		return "HOLD"
	case EventReleased:
		return "RELEASED"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
}

// ButtonEvent is one button's report: gesture type and click count.
type ButtonEvent struct {
	Type       ButtonEventType
	ClickCount uint8
}

func (e ButtonEvent) String() string {
	return fmt.Sprintf("{%s,%d}", e.Type, e.ClickCount)
}

// ButtonState is the most recently published gesture snapshot of a button.
type ButtonState struct {
	Hold       bool
	ClickCount uint8
	Timestamp  time.Time
}

// Intervals are the gesture detector timings.
type Intervals struct {
	// Edges closer than Silence to the previous one are bounce.
	Silence time.Duration
	// Active level held this long enters hold.
	Hold time.Duration
	// Period of on_hold callbacks while holding.
	HoldCall time.Duration
	// Quiet time after the last release before clicks are reported.
	PressWait time.Duration
	// A press arriving this long after an unconsumed gesture starts over.
	Reset time.Duration
}

// DefaultIntervals returns the production detector timings.
func DefaultIntervals() Intervals {
	return Intervals{
		Silence:   5 * time.Millisecond,
		Hold:      600 * time.Millisecond,
		HoldCall:  500 * time.Millisecond,
		PressWait: 600 * time.Millisecond,
		Reset:     1000 * time.Millisecond,
	}
}
