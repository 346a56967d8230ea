package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sweeney/now-remote/internal/config"
	"github.com/sweeney/now-remote/internal/gpio"
	"github.com/sweeney/now-remote/internal/link"
	"github.com/sweeney/now-remote/internal/link/udp"
	"github.com/sweeney/now-remote/internal/remote"
	"github.com/sweeney/now-remote/internal/rtc"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the remote: report button gestures, sleep until the next press",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			wakeMask, _ := cmd.Flags().GetUint64("wake-mask")

			ctx, cancel := withSignals(cmd.Context())
			defer cancel()
			return runRemote(ctx, cfg, wakeMask)
		},
	}
	cmd.Flags().Uint64("wake-mask", 0, "boot reason for the first cycle (0 = cold boot)")
	cmd.Flags().Int("cycles", 0, "stop after this many wake cycles (0 = forever)")
	viper.BindPFlag("remote.cycles", cmd.Flags().Lookup("cycles"))
	return cmd
}

// runRemote runs the remote on the GPIO character device and the UDP radio.
func runRemote(ctx context.Context, cfg config.Config, wakeMask uint64) error {
	opts, err := stationOptions(cfg, cfg.Remote.MAC)
	if err != nil {
		return err
	}

	var out gpio.Output = nullOutput{}
	if cfg.Remote.LEDPin >= 0 {
		o, err := gpio.NewRealOutput(cfg.Remote.Chip, cfg.Remote.LEDPin)
		if err != nil {
			return fmt.Errorf("init led: %w", err)
		}
		defer o.Close()
		out = o
	}

	hw := remote.Hardware{
		OpenInputs: func(pins []int) (gpio.Inputs, error) {
			return gpio.NewRealInputs(cfg.Remote.Chip, pins, cfg.Remote.ActiveLow)
		},
		OpenDriver: func() (link.Driver, error) {
			return udp.New(opts)
		},
		LED:   out,
		Waker: gpio.NewRealWaker(cfg.Remote.Chip, cfg.Remote.ActiveLow),
		Store: rtc.NewFileStore(cfg.Remote.RTCPath),
	}

	log.Printf("started: pins=%v led=%d station=%s rtc=%s", cfg.Remote.Pins, cfg.Remote.LEDPin, opts.MAC, cfg.Remote.RTCPath)
	return remote.New(cfg.RemoteRuntime(), hw).Run(ctx, wakeMask)
}

// stationOptions fixes the station address once so every wake cycle uses
// the same one, even when it had to be picked at random.
func stationOptions(cfg config.Config, mac string) (udp.Options, error) {
	var addr link.MAC
	if mac != "" {
		m, err := link.ParseMAC(mac)
		if err != nil {
			return udp.Options{}, err
		}
		addr = m
	}
	resolved, err := udp.ResolveMAC(cfg.UDPOptions(addr))
	if err != nil {
		return udp.Options{}, fmt.Errorf("init radio: %w", err)
	}
	return cfg.UDPOptions(resolved), nil
}

// nullOutput is the LED when no line is configured.
type nullOutput struct{}

func (nullOutput) Set(bool) error { return nil }
func (nullOutput) Close() error   { return nil }
