// Package remote runs the wake cycles of the button remote: each cycle opens
// the button lines and the radio, drives the state machine to completion,
// persists the RTC state and releases everything before sleeping on the
// button lines.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sweeney/now-remote/internal/async"
	"github.com/sweeney/now-remote/internal/button"
	"github.com/sweeney/now-remote/internal/gpio"
	"github.com/sweeney/now-remote/internal/handler"
	"github.com/sweeney/now-remote/internal/interaction"
	"github.com/sweeney/now-remote/internal/led"
	"github.com/sweeney/now-remote/internal/link"
	"github.com/sweeney/now-remote/internal/logic"
	"github.com/sweeney/now-remote/internal/nowio"
	"github.com/sweeney/now-remote/internal/rtc"
	"github.com/sweeney/now-remote/internal/statemachine"
)

const (
	// DefaultTickInterval is the application loop period.
	DefaultTickInterval = 10 * time.Millisecond
	// HoldBlinkInterval is the LED repeat period while a button is held.
	HoldBlinkInterval = 200 * time.Millisecond
)

// Config is the remote's runtime configuration.
type Config struct {
	Pins             []int
	Intervals        logic.Intervals
	Machine          statemachine.Config
	Send             handler.SendOptions
	DiscoveryTimeout time.Duration
	DiscoveryWindow  time.Duration
	ReassemblyTTL    time.Duration
	TickInterval     time.Duration
	// Cycles stops Run after that many wake cycles; zero runs until the
	// context is cancelled.
	Cycles int
}

// DefaultConfig returns the stock configuration for pins.
func DefaultConfig(pins ...int) Config {
	return Config{
		Pins:             pins,
		Intervals:        logic.DefaultIntervals(),
		Machine:          statemachine.DefaultConfig(),
		Send:             handler.DefaultSendOptions(),
		DiscoveryTimeout: handler.DefaultDiscoveryTimeout,
		DiscoveryWindow:  nowio.DefaultDiscoveryWindow,
		ReassemblyTTL:    interaction.DefaultReassemblyTTL,
		TickInterval:     DefaultTickInterval,
	}
}

// Hardware opens the per-cycle resources. Inputs and the radio driver are
// opened at every wake and closed before sleeping so the waker can claim
// the button lines.
type Hardware struct {
	OpenInputs func(pins []int) (gpio.Inputs, error)
	OpenDriver func() (link.Driver, error)
	LED        gpio.Output
	Waker      gpio.Waker
	Store      rtc.Store
}

// Result is the outcome of one wake cycle.
type Result struct {
	Command statemachine.CommandState
	State   rtc.State
	Elapsed time.Duration
}

// Remote is the button remote.
type Remote struct {
	cfg        Config
	hw         Hardware
	led        *led.Led
	dispatcher *async.Dispatcher
	timer      *async.Timer

	// OnCycle, when set, observes every finished cycle.
	OnCycle func(Result)
}

// New creates a remote.
func New(cfg Config, hw Hardware) *Remote {
	d := async.NewDispatcher()
	l := led.New(hw.LED)
	l.SetTimings(led.DefaultActive, led.DefaultGap, HoldBlinkInterval)
	return &Remote{
		cfg:        cfg,
		hw:         hw,
		led:        l,
		dispatcher: d,
		timer:      async.NewTimer(d),
	}
}

// Run starts the timer and dispatcher and runs wake cycles, the first with
// wakeMask as its boot reason. It returns when ctx is cancelled or after
// cfg.Cycles cycles.
func (r *Remote) Run(ctx context.Context, wakeMask uint64) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.dispatcher.Run(gctx) })
	g.Go(func() error { return r.timer.Run(gctx) })
	g.Go(func() error {
		defer cancel()
		return r.loop(gctx, wakeMask)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Remote) loop(ctx context.Context, wakeMask uint64) error {
	for n := 1; ; n++ {
		res, err := r.Cycle(ctx, wakeMask)
		if err != nil {
			return err
		}
		if r.OnCycle != nil {
			r.OnCycle(res)
		}
		if r.cfg.Cycles > 0 && n >= r.cfg.Cycles {
			return nil
		}

		log.Printf("remote: sleeping, wake on pins %v", r.cfg.Pins)
		wakeMask, err = r.hw.Waker.WaitForWake(ctx, r.cfg.Pins)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for wake: %w", err)
		}
		log.Printf("remote: woken, mask 0x%X", wakeMask)
	}
}

// Cycle runs one wake cycle to END and persists the resulting RTC state.
func (r *Remote) Cycle(ctx context.Context, wakeMask uint64) (Result, error) {
	start := time.Now()
	persisted, err := r.hw.Store.Load()
	if err != nil {
		log.Printf("remote: %v, starting cold", err)
		persisted = rtc.State{}
	}

	inputs, err := r.hw.OpenInputs(r.cfg.Pins)
	if err != nil {
		return Result{}, fmt.Errorf("open buttons: %w", err)
	}
	defer inputs.Close()

	buttons := button.NewManager(inputs, r.cfg.Intervals)
	if err := buttons.Begin(wakeMask, start); err != nil {
		return Result{}, fmt.Errorf("begin buttons: %w", err)
	}
	defer buttons.End()
	r.led.Flash(0, start)

	driver, err := r.hw.OpenDriver()
	if err != nil {
		return Result{}, fmt.Errorf("open radio: %w", err)
	}
	l := link.New(driver, r.dispatcher)
	defer l.End()

	ia := interaction.New(l)
	ia.SetReassemblyTTL(r.cfg.ReassemblyTTL)
	io := nowio.New(ia, r.timer)
	io.SetDiscoveryWindow(r.cfg.DiscoveryWindow)

	mcfg := r.cfg.Machine
	mcfg.WakeMask = gpio.Mask(r.cfg.Pins)
	m := statemachine.New(mcfg, statemachine.Deps{
		Buttons:    buttons,
		Network:    network{io: io, link: l},
		Discovery:  handler.NewDiscovery(io, r.timer, r.cfg.DiscoveryTimeout),
		Sender:     handler.NewButtonEventSend(io, r.timer, r.cfg.Send),
		Indication: handler.NewStateIndication(r.led, r.timer),
		LED:        r.led,
	}, persisted)

	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for !m.Done() {
		select {
		case <-ctx.Done():
			r.led.TurnOff()
			return Result{}, ctx.Err()
		case now := <-ticker.C:
			buttons.Tick(now)
			r.holdIndication(buttons, m.State(), now)
			r.led.Tick(now)
			m.Execute(now)
		}
	}

	res := Result{Command: m.Command(), State: m.Persisted(), Elapsed: time.Since(start)}
	if err := r.hw.Store.Save(res.State); err != nil {
		log.Printf("remote: failed to persist state: %v", err)
	}
	log.Printf("remote: cycle finished with %s in %v (hub present=%v channel=%d errors=%d)",
		res.Command, res.Elapsed.Round(time.Millisecond), res.State.HubAddrPresent, res.State.WifiChannel, res.State.ErrorCount)
	return res, nil
}

// holdIndication blinks once per repeat interval while a button is held and
// the cycle is still reporting.
func (r *Remote) holdIndication(buttons *button.Manager, state statemachine.AppState, now time.Time) {
	if state >= statemachine.Finished {
		return
	}
	if buttons.Holding() && r.led.BlinkCount() == 0 {
		r.led.Blink(1, true, now)
	}
}

// network adapts the radio stack to the state machine.
type network struct {
	io   *nowio.IO
	link *link.Link
}

func (n network) Begin() error                      { return n.io.Begin() }
func (n network) LocalMAC() link.MAC                { return n.link.LocalMAC() }
func (n network) ChangeChannel(channel uint8) error { return n.link.ChangeChannel(channel) }
