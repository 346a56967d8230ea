package gpio

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FakeInputs is a test double for button lines driven by SetLevel.
type FakeInputs struct {
	mu      sync.Mutex
	pins    []int
	levels  map[int]bool
	handler EdgeHandler

	// Closed tracks if Close was called
	Closed bool

	// LevelError, if set, will be returned by Level()
	LevelError error
}

// NewFakeInputs creates inactive fake lines for pins.
func NewFakeInputs(pins ...int) *FakeInputs {
	return &FakeInputs{pins: pins, levels: make(map[int]bool)}
}

// Pins returns the configured offsets.
func (f *FakeInputs) Pins() []int {
	return f.pins
}

// Level returns the scripted level of pin.
func (f *FakeInputs) Level(pin int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LevelError != nil {
		return false, f.LevelError
	}
	if !f.known(pin) {
		return false, fmt.Errorf("%w: %d", ErrUnknownPin, pin)
	}
	return f.levels[pin], nil
}

// Watch installs the edge handler.
func (f *FakeInputs) Watch(fn EdgeHandler) {
	f.mu.Lock()
	f.handler = fn
	f.mu.Unlock()
}

// SetLevel changes pin's level and, when watched, delivers an edge at the
// given time. Setting the current level again still delivers an edge, like
// a bouncing contact would.
func (f *FakeInputs) SetLevel(pin int, active bool, at time.Time) {
	f.mu.Lock()
	f.levels[pin] = active
	fn := f.handler
	f.mu.Unlock()

	if fn != nil {
		fn(Edge{Pin: pin, Active: active, Time: at})
	}
}

// Close marks the lines as closed and detaches the handler.
func (f *FakeInputs) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	f.handler = nil
	return nil
}

func (f *FakeInputs) known(pin int) bool {
	for _, p := range f.pins {
		if p == pin {
			return true
		}
	}
	return false
}

// FakeOutput records LED line writes.
type FakeOutput struct {
	mu sync.Mutex

	// Writes records every Set call in order.
	Writes []bool

	// Closed tracks if Close was called
	Closed bool

	// SetError, if set, will be returned by Set()
	SetError error
}

// Set records on.
func (f *FakeOutput) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.Writes = append(f.Writes, on)
	return nil
}

// On reports the last written level.
func (f *FakeOutput) On() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Writes) > 0 && f.Writes[len(f.Writes)-1]
}

// Pulses counts off-to-on transitions.
func (f *FakeOutput) Pulses() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	prev := false
	for _, w := range f.Writes {
		if w && !prev {
			n++
		}
		prev = w
	}
	return n
}

// Close marks the output as closed.
func (f *FakeOutput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// FakeWaker returns scripted wake masks.
type FakeWaker struct {
	mu sync.Mutex

	// Masks are returned one per call; when exhausted WaitForWake blocks
	// until ctx is done.
	Masks []uint64

	// Calls records the pins of every WaitForWake call.
	Calls [][]int
}

// WaitForWake returns the next scripted mask.
func (f *FakeWaker) WaitForWake(ctx context.Context, pins []int) (uint64, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, pins)
	if len(f.Masks) > 0 {
		m := f.Masks[0]
		f.Masks = f.Masks[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()

	<-ctx.Done()
	return 0, ctx.Err()
}
