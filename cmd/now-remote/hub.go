package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/now-remote/internal/async"
	"github.com/sweeney/now-remote/internal/config"
	"github.com/sweeney/now-remote/internal/hub"
	"github.com/sweeney/now-remote/internal/interaction"
	"github.com/sweeney/now-remote/internal/journal"
	"github.com/sweeney/now-remote/internal/link"
	"github.com/sweeney/now-remote/internal/link/udp"
	"github.com/sweeney/now-remote/internal/mqtt"
	"github.com/sweeney/now-remote/internal/nowio"
	"github.com/sweeney/now-remote/internal/status"
	"github.com/sweeney/now-remote/internal/web"
)

// connectionPoll is how often the MQTT connection state is copied into the
// status tracker.
const connectionPoll = time.Second

// hubPublisher is what the hub command needs from the MQTT side.
type hubPublisher interface {
	mqtt.Publisher
	mqtt.ConnectionStatus
	SetTopicPrefix(prefix string)
}

func newHubCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Answer remotes and forward their reports to MQTT",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			opts, err := stationOptions(cfg, cfg.Hub.MAC)
			if err != nil {
				return err
			}
			driver, err := udp.New(opts)
			if err != nil {
				return fmt.Errorf("init radio: %w", err)
			}
			publisher := mqtt.NewRealPublisher(cfg.Hub.Broker, cfg.Hub.TopicPrefix)
			defer publisher.Close()

			if viper.ConfigFileUsed() != "" {
				viper.WatchConfig()
			}

			ctx, cancel := withSignals(cmd.Context())
			defer cancel()
			return runHub(ctx, cfg, driver, publisher)
		},
	}
	cmd.Flags().String("broker", "", "MQTT broker address")
	cmd.Flags().Uint8("channel", 0, "radio channel to serve on")
	cmd.Flags().String("http", "", "HTTP status address (empty keeps the configured one)")
	viper.BindPFlag("hub.broker", cmd.Flags().Lookup("broker"))
	viper.BindPFlag("hub.channel", cmd.Flags().Lookup("channel"))
	viper.BindPFlag("hub.http_addr", cmd.Flags().Lookup("http"))
	return cmd
}

// runHub serves remotes on driver until ctx is cancelled.
func runHub(ctx context.Context, cfg config.Config, driver link.Driver, publisher hubPublisher) error {
	d := async.NewDispatcher()
	timer := async.NewTimer(d)
	l := link.New(driver, d)
	defer l.End()

	ia := interaction.New(l)
	ia.SetReassemblyTTL(cfg.ReassemblyTTL)
	io := nowio.New(ia, timer)

	var (
		recorder hub.Recorder
		lister   web.ReportLister
	)
	if cfg.Hub.Journal != "" {
		j, err := journal.Open(cfg.Hub.Journal)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		recorder, lister = j, j
	}

	tracker := status.NewTracker(time.Now(), hubStatusConfig(cfg, l.LocalMAC()))
	h := hub.New(io, publisher, recorder, tracker)
	if err := h.Begin(); err != nil {
		return fmt.Errorf("begin hub: %w", err)
	}
	if err := l.ChangeChannel(cfg.Hub.Channel); err != nil {
		return fmt.Errorf("select channel: %w", err)
	}

	viper.OnConfigChange(reloader(publisher, tracker, l.LocalMAC()))

	publishLifecycle(publisher, tracker, "STARTUP", "")

	if cfg.Hub.HTTPAddr != "" {
		srv := web.New(cfg.Hub.HTTPAddr, tracker, lister)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.Hub.HTTPAddr)
	}

	log.Printf("started: hub %s on channel %d broker=%s prefix=%s", l.LocalMAC(), cfg.Hub.Channel, cfg.Hub.Broker, cfg.Hub.TopicPrefix)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Run(gctx) })
	g.Go(func() error { return timer.Run(gctx) })
	g.Go(func() error { return h.Run(gctx) })
	g.Go(func() error { return watchConnection(gctx, publisher, tracker) })
	err := g.Wait()

	publishLifecycle(publisher, tracker, "SHUTDOWN", shutdownReason(ctx))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func hubStatusConfig(cfg config.Config, mac link.MAC) status.Config {
	return status.Config{
		MAC:         mac.String(),
		Channel:     cfg.Hub.Channel,
		Broker:      cfg.Hub.Broker,
		TopicPrefix: cfg.Hub.TopicPrefix,
		HTTPAddr:    cfg.Hub.HTTPAddr,
		Journal:     cfg.Hub.Journal,
	}
}

// reloader re-reads the configuration after the file changed and applies
// what can change without restarting: the MQTT topic prefix.
func reloader(publisher hubPublisher, tracker *status.Tracker, mac link.MAC) func(fsnotify.Event) {
	return func(e fsnotify.Event) {
		log.Printf("config: %s changed (%s), reloading", e.Name, e.Op)
		cfg, err := config.Load()
		if err != nil {
			log.Printf("config: reload rejected: %v", err)
			return
		}
		prev := tracker.Snapshot().Config
		next := hubStatusConfig(cfg, mac)
		// Only the prefix is hot; everything else keeps its running value.
		next.Channel, next.Broker, next.HTTPAddr, next.Journal = prev.Channel, prev.Broker, prev.HTTPAddr, prev.Journal
		if next.TopicPrefix != prev.TopicPrefix {
			publisher.SetTopicPrefix(next.TopicPrefix)
		}
		tracker.SetConfig(next)
		publishLifecycle(publisher, tracker, "RELOADED", "")
	}
}

func publishLifecycle(publisher hubPublisher, tracker *status.Tracker, event, reason string) {
	tracker.SetMQTTConnected(publisher.IsConnected())
	snap := tracker.Snapshot()
	err := publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		log.Printf("failed to publish %s event: %v", event, err)
		return
	}
	log.Printf("published %s event", event)
}

func watchConnection(ctx context.Context, conn mqtt.ConnectionStatus, tracker *status.Tracker) error {
	ticker := time.NewTicker(connectionPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			tracker.SetMQTTConnected(conn.IsConnected())
		}
	}
}
