package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/now-remote/internal/async"
	"github.com/sweeney/now-remote/internal/config"
	"github.com/sweeney/now-remote/internal/gpio"
	"github.com/sweeney/now-remote/internal/hub"
	"github.com/sweeney/now-remote/internal/interaction"
	"github.com/sweeney/now-remote/internal/link"
	"github.com/sweeney/now-remote/internal/link/sim"
	"github.com/sweeney/now-remote/internal/logic"
	"github.com/sweeney/now-remote/internal/mqtt"
	"github.com/sweeney/now-remote/internal/nowio"
	"github.com/sweeney/now-remote/internal/remote"
	"github.com/sweeney/now-remote/internal/rtc"
)

// Station addresses used when the config leaves them empty.
var (
	simRemoteMAC = link.MAC{0x02, 0, 0, 0, 0, 0x01}
	simHubMAC    = link.MAC{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x01}
)

const (
	// simSettle gives a cycle time to start watching the lines before the
	// script touches them.
	simSettle      = 50 * time.Millisecond
	simPress       = 80 * time.Millisecond
	simGap         = 150 * time.Millisecond
	simDefaultHold = 1500 * time.Millisecond
)

// gesture is what the simulated user does during one wake cycle. The press
// that wakes the board is the first click or the start of the hold.
type gesture struct {
	name   string
	clicks int
	hold   time.Duration
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a remote and a hub on an in-memory radio with scripted presses",
		Long: `Runs one wake cycle per scripted gesture. Gestures are comma separated:
click, double, triple, <n> (n clicks), hold or hold:<duration>.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s, _ := cmd.Flags().GetString("script")
			script, err := parseScript(s)
			if err != nil {
				return err
			}
			ctx, cancel := withSignals(cmd.Context())
			defer cancel()
			_, err = runSimulation(ctx, cfg, script, cmd.OutOrStdout())
			return err
		},
	}
	cmd.Flags().String("script", "click,double,hold", "gestures, one per wake cycle")
	return cmd
}

func parseScript(s string) ([]gesture, error) {
	var script []gesture
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		switch {
		case tok == "click":
			script = append(script, gesture{name: tok, clicks: 1})
		case tok == "double":
			script = append(script, gesture{name: tok, clicks: 2})
		case tok == "triple":
			script = append(script, gesture{name: tok, clicks: 3})
		case tok == "hold":
			script = append(script, gesture{name: tok, hold: simDefaultHold})
		case strings.HasPrefix(tok, "hold:"):
			d, err := time.ParseDuration(strings.TrimPrefix(tok, "hold:"))
			if err != nil || d <= 0 {
				return nil, fmt.Errorf("parse script: bad hold %q", tok)
			}
			script = append(script, gesture{name: tok, hold: d})
		default:
			n, err := strconv.Atoi(tok)
			if err != nil || n < 1 || n > 255 {
				return nil, fmt.Errorf("parse script: unknown gesture %q", tok)
			}
			script = append(script, gesture{name: tok, clicks: n})
		}
	}
	return script, nil
}

// syncWriter serializes output from the remote loop and the hub worker.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
}

// printPublisher stands in for the broker and prints what would be published.
type printPublisher struct {
	out    *syncWriter
	prefix string
}

func (p *printPublisher) PublishReport(report logic.Report) error {
	payload, err := mqtt.FormatPayload(report)
	if err != nil {
		return err
	}
	p.out.Printf("%s %s\n", mqtt.ReportTopic(p.prefix), payload)
	return nil
}

// runSimulation plays script against a remote and a hub sharing one ether
// and returns the result of every cycle.
func runSimulation(ctx context.Context, cfg config.Config, script []gesture, w io.Writer) ([]remote.Result, error) {
	if len(script) == 0 {
		return nil, errors.New("simulate: empty script")
	}
	remoteMAC, hubMAC := simRemoteMAC, simHubMAC
	if cfg.Remote.MAC != "" {
		remoteMAC, _ = link.ParseMAC(cfg.Remote.MAC)
	}
	if cfg.Hub.MAC != "" {
		hubMAC, _ = link.ParseMAC(cfg.Hub.MAC)
	}
	out := &syncWriter{w: w}
	ether := sim.NewEther()

	d := async.NewDispatcher()
	timer := async.NewTimer(d)
	hubLink := link.New(ether.Station(hubMAC), d)
	defer hubLink.End()
	ia := interaction.New(hubLink)
	ia.SetReassemblyTTL(cfg.ReassemblyTTL)
	h := hub.New(nowio.New(ia, timer), &printPublisher{out: out, prefix: cfg.Hub.TopicPrefix}, nil, nil)
	if err := h.Begin(); err != nil {
		return nil, fmt.Errorf("begin hub: %w", err)
	}
	if err := hubLink.ChangeChannel(cfg.Hub.Channel); err != nil {
		return nil, fmt.Errorf("select channel: %w", err)
	}
	out.Printf("hub %s listening on channel %d\n", hubMAC, cfg.Hub.Channel)

	pin := cfg.Remote.Pins[0]
	wake := gpio.Mask([]int{pin})
	inputs := gpio.NewFakeInputs(cfg.Remote.Pins...)
	waker := &gpio.FakeWaker{}
	for range script[1:] {
		waker.Masks = append(waker.Masks, wake)
	}

	var (
		results []remote.Result
		cycle   int
	)
	hw := remote.Hardware{
		OpenInputs: func(pins []int) (gpio.Inputs, error) {
			g := script[cycle]
			if g.hold > 0 {
				inputs.SetLevel(pin, true, time.Now())
			}
			go perform(ctx, inputs, pin, g)
			return inputs, nil
		},
		OpenDriver: func() (link.Driver, error) {
			return ether.Station(remoteMAC), nil
		},
		LED:   &gpio.FakeOutput{},
		Waker: waker,
		Store: rtc.NewMemoryStore(rtc.State{}),
	}
	rc := cfg.RemoteRuntime()
	rc.Cycles = len(script)
	r := remote.New(rc, hw)
	r.OnCycle = func(res remote.Result) {
		out.Printf("cycle %d (%s): %s in %v, hub present=%v channel=%d errors=%d\n",
			cycle+1, script[cycle].name, res.Command, res.Elapsed.Round(time.Millisecond),
			res.State.HubAddrPresent, res.State.WifiChannel, res.State.ErrorCount)
		results = append(results, res)
		cycle++
	}

	g, gctx := errgroup.WithContext(ctx)
	hubCtx, stopHub := context.WithCancel(gctx)
	g.Go(func() error { return d.Run(hubCtx) })
	g.Go(func() error { return timer.Run(hubCtx) })
	g.Go(func() error { return h.Run(hubCtx) })
	g.Go(func() error {
		defer stopHub()
		return r.Run(gctx, wake)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return results, err
	}
	return results, nil
}

// perform plays g on pin after the cycle has started watching the line.
func perform(ctx context.Context, inputs *gpio.FakeInputs, pin int, g gesture) {
	if !sleep(ctx, simSettle) {
		return
	}
	if g.hold > 0 {
		if sleep(ctx, g.hold) {
			inputs.SetLevel(pin, false, time.Now())
		}
		return
	}
	for i := 1; i < g.clicks; i++ {
		inputs.SetLevel(pin, true, time.Now())
		if !sleep(ctx, simPress) {
			return
		}
		inputs.SetLevel(pin, false, time.Now())
		if !sleep(ctx, simGap) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
