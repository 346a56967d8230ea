// Package gpio provides the button inputs, the status LED output and the
// deep-sleep wake source with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"context"
	"errors"
	"time"
)

// DefaultChip is the GPIO character device the lines live on.
const DefaultChip = "gpiochip0"

// Consumer labels the lines this process requests.
const Consumer = "now-remote"

// ErrUnknownPin is returned for a line offset that was not requested.
var ErrUnknownPin = errors.New("gpio: unknown pin")

// Edge is a level change observed on a button line.
type Edge struct {
	Pin int
	// Active is the logical level after the change.
	Active bool
	Time   time.Time
}

// EdgeHandler receives edges on the event goroutine of the line driver.
// It must not block.
type EdgeHandler func(Edge)

// Inputs are the button lines, reported in logical form (true = pressed).
type Inputs interface {
	// Pins returns the requested line offsets in configuration order.
	Pins() []int
	// Level returns the current logical level of pin.
	Level(pin int) (bool, error)
	// Watch installs the edge handler; nil detaches it.
	Watch(fn EdgeHandler)
	// Close releases the lines.
	Close() error
}

// Output drives the status LED line.
type Output interface {
	Set(on bool) error
	Close() error
}

// Waker blocks until any of pins reads active, the deep-sleep wake source.
type Waker interface {
	// WaitForWake returns the mask of pins that were active at wake.
	WaitForWake(ctx context.Context, pins []int) (uint64, error)
}

// Mask returns the wake mask bit set for pins.
func Mask(pins []int) uint64 {
	var m uint64
	for _, p := range pins {
		m |= 1 << uint(p)
	}
	return m
}

// Woken reports whether pin is part of mask.
func Woken(mask uint64, pin int) bool {
	return mask&(1<<uint(pin)) != 0
}
