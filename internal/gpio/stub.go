//go:build !linux

package gpio

import (
	"context"
	"errors"
)

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealInputs is not available on non-Linux platforms.
type RealInputs struct{}

// NewRealInputs returns an error on non-Linux platforms.
func NewRealInputs(chipName string, pins []int, activeLow bool) (*RealInputs, error) {
	return nil, errUnsupported
}

func (r *RealInputs) Pins() []int                 { return nil }
func (r *RealInputs) Level(pin int) (bool, error) { return false, errUnsupported }
func (r *RealInputs) Watch(fn EdgeHandler)        {}
func (r *RealInputs) Close() error                { return nil }

// RealOutput is not available on non-Linux platforms.
type RealOutput struct{}

// NewRealOutput returns an error on non-Linux platforms.
func NewRealOutput(chipName string, pin int) (*RealOutput, error) {
	return nil, errUnsupported
}

func (o *RealOutput) Set(on bool) error { return errUnsupported }
func (o *RealOutput) Close() error      { return nil }

// RealWaker is not available on non-Linux platforms.
type RealWaker struct{}

// NewRealWaker returns a waker that always fails on non-Linux platforms.
func NewRealWaker(chipName string, activeLow bool) *RealWaker {
	return &RealWaker{}
}

func (w *RealWaker) WaitForWake(ctx context.Context, pins []int) (uint64, error) {
	return 0, errUnsupported
}
