//go:build linux

package gpio

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

func inputOptions(activeLow bool) []gpiocdev.LineReqOption {
	if activeLow {
		return []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.AsActiveLow, gpiocdev.WithPullUp, gpiocdev.WithConsumer(Consumer)}
	}
	return []gpiocdev.LineReqOption{gpiocdev.AsInput, gpiocdev.WithPullDown, gpiocdev.WithConsumer(Consumer)}
}

// RealInputs reads button lines from actual hardware with both-edge events.
type RealInputs struct {
	chip    *gpiocdev.Chip
	lines   *gpiocdev.Lines
	pins    []int
	handler atomic.Pointer[EdgeHandler]
}

// NewRealInputs requests pins on chipName as inputs with edge detection.
// With activeLow a pressed button pulls the line low.
func NewRealInputs(chipName string, pins []int, activeLow bool) (*RealInputs, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	r := &RealInputs{chip: chip, pins: append([]int(nil), pins...)}
	opts := append(inputOptions(activeLow), gpiocdev.WithBothEdges, gpiocdev.WithEventHandler(r.onEvent))
	lines, err := chip.RequestLines(r.pins, opts...)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request button pins %v: %w", pins, err)
	}
	r.lines = lines
	return r, nil
}

func (r *RealInputs) onEvent(evt gpiocdev.LineEvent) {
	fn := r.handler.Load()
	if fn == nil || *fn == nil {
		return
	}
	(*fn)(Edge{
		Pin:    evt.Offset,
		Active: evt.Type == gpiocdev.LineEventRisingEdge,
		Time:   time.Now(),
	})
}

// Pins returns the requested offsets.
func (r *RealInputs) Pins() []int {
	return r.pins
}

// Level returns the logical level of pin.
func (r *RealInputs) Level(pin int) (bool, error) {
	idx := -1
	for i, p := range r.pins {
		if p == pin {
			idx = i
		}
	}
	if idx < 0 {
		return false, fmt.Errorf("%w: %d", ErrUnknownPin, pin)
	}
	values := make([]int, len(r.pins))
	if err := r.lines.Values(values); err != nil {
		return false, fmt.Errorf("read pin %d: %w", pin, err)
	}
	return values[idx] == 1, nil
}

// Watch installs the edge handler.
func (r *RealInputs) Watch(fn EdgeHandler) {
	r.handler.Store(&fn)
}

// Close releases the lines, leaving them as inputs with pull-down.
func (r *RealInputs) Close() error {
	var errs []error
	r.handler.Store(nil)
	if r.lines != nil {
		if err := r.lines.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure button pins: %w", err))
		}
		if err := r.lines.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close button pins: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// RealOutput drives the LED line.
type RealOutput struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealOutput requests pin on chipName as an output, initially off.
func NewRealOutput(chipName string, pin int) (*RealOutput, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0), gpiocdev.WithConsumer(Consumer))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request LED pin %d: %w", pin, err)
	}
	return &RealOutput{chip: chip, line: line}, nil
}

// Set drives the line high when on.
func (o *RealOutput) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := o.line.SetValue(v); err != nil {
		return fmt.Errorf("set LED pin: %w", err)
	}
	return nil
}

// Close turns the LED off and returns the line to an input with pull-down.
func (o *RealOutput) Close() error {
	var errs []error
	if o.line != nil {
		if err := o.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure LED pin: %w", err))
		}
		if err := o.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close LED pin: %w", err))
		}
	}
	if o.chip != nil {
		if err := o.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// RealWaker waits for a level-high wake on button lines.
type RealWaker struct {
	chipName  string
	activeLow bool
}

// NewRealWaker creates a wake source on chipName.
func NewRealWaker(chipName string, activeLow bool) *RealWaker {
	return &RealWaker{chipName: chipName, activeLow: activeLow}
}

// WaitForWake requests pins, returns at once if any already reads active,
// otherwise blocks for the first active edge. The lines are released before
// returning.
func (w *RealWaker) WaitForWake(ctx context.Context, pins []int) (uint64, error) {
	woke := make(chan int, len(pins))
	opts := append(inputOptions(w.activeLow), gpiocdev.WithRisingEdge, gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
		select {
		case woke <- evt.Offset:
		default:
		}
	}))
	lines, err := gpiocdev.RequestLines(w.chipName, pins, opts...)
	if err != nil {
		return 0, fmt.Errorf("request wake pins %v: %w", pins, err)
	}
	defer lines.Close()

	values := make([]int, len(pins))
	if err := lines.Values(values); err != nil {
		return 0, fmt.Errorf("read wake pins: %w", err)
	}
	var mask uint64
	for i, v := range values {
		if v == 1 {
			mask |= 1 << uint(pins[i])
		}
	}
	if mask != 0 {
		return mask, nil
	}

	select {
	case pin := <-woke:
		return 1 << uint(pin), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
