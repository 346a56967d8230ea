// Package hub answers remotes: it replies to PING and DISCOVERY and turns
// button packets into reports that are journaled and published.
package hub

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/now-remote/internal/async"
	"github.com/sweeney/now-remote/internal/debug"
	"github.com/sweeney/now-remote/internal/link"
	"github.com/sweeney/now-remote/internal/logic"
	"github.com/sweeney/now-remote/internal/nowio"
	"github.com/sweeney/now-remote/internal/status"
)

// DefaultQueueSize is how many reports may wait for the worker.
const DefaultQueueSize = 64

// Publisher forwards reports to the outside world.
type Publisher interface {
	PublishReport(report logic.Report) error
}

// Recorder persists reports.
type Recorder interface {
	Record(ctx context.Context, report logic.Report) (logic.Report, error)
}

// Packets is the typed packet layer the hub serves on.
type Packets interface {
	Begin() error
	SetOnPacket(fn func(nowio.Packet))
	Respond(id uint8, mac link.MAC, b nowio.Body) async.Future[async.Void]
}

// Hub serves remotes on one channel. Packets arrive on the dispatcher
// goroutine; reports are handed to Run so publishing never stalls the radio.
type Hub struct {
	packets   Packets
	publisher Publisher
	journal   Recorder
	tracker   *status.Tracker
	reports   chan logic.Report
	now       func() time.Time

	// OnReport, if set, is called from Run after a report was handled.
	OnReport func(logic.Report)
}

// New creates a hub. journal and tracker may be nil.
func New(packets Packets, publisher Publisher, journal Recorder, tracker *status.Tracker) *Hub {
	return &Hub{
		packets:   packets,
		publisher: publisher,
		journal:   journal,
		tracker:   tracker,
		reports:   make(chan logic.Report, DefaultQueueSize),
		now:       time.Now,
	}
}

// Begin starts the packet layer and installs the packet handler.
func (h *Hub) Begin() error {
	if err := h.packets.Begin(); err != nil {
		return fmt.Errorf("begin packets: %w", err)
	}
	h.packets.SetOnPacket(h.handle)
	return nil
}

// Run journals and publishes queued reports until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-h.reports:
			h.process(ctx, r)
		}
	}
}

func (h *Hub) handle(p nowio.Packet) {
	switch p.Type {
	case nowio.TypePing:
		debug.Printf("hub: ping from %s", p.MAC)
		h.reply(p)
		if h.tracker != nil {
			h.tracker.CountPing()
		}
	case nowio.TypeDiscovery:
		log.Printf("hub: discovery from %s", p.MAC)
		h.reply(p)
		if h.tracker != nil {
			h.tracker.CountDiscovery()
		}
	case nowio.TypeButton:
		events, err := nowio.Unpack[logic.ButtonEvent](p.Body)
		if err != nil {
			log.Printf("hub: bad button packet from %s: %v", p.MAC, err)
			if h.tracker != nil {
				h.tracker.CountError()
			}
			return
		}
		r := logic.Report{
			ID:         uuid.New().String(),
			Remote:     p.MAC.String(),
			Events:     events,
			ReceivedAt: h.now(),
		}
		select {
		case h.reports <- r:
		default:
			log.Printf("hub: report queue full, dropping report from %s", p.MAC)
			if h.tracker != nil {
				h.tracker.CountError()
			}
		}
	default:
		log.Printf("hub: ignoring packet type 0x%02X from %s", p.Type, p.MAC)
		if h.tracker != nil {
			h.tracker.CountUnknown()
		}
	}
}

func (h *Hub) reply(p nowio.Packet) {
	h.packets.Respond(p.ID, p.MAC, nowio.Body{Type: nowio.TypeSystemResponse}).OnFinished(func(err error) {
		if err != nil {
			log.Printf("hub: respond to %s: %v", p.MAC, err)
		}
	})
}

func (h *Hub) process(ctx context.Context, r logic.Report) {
	log.Printf("hub: report %s from %s %v", r.ID, r.Remote, r.Events)
	if h.journal != nil {
		if _, err := h.journal.Record(ctx, r); err != nil {
			log.Printf("hub: journal: %v", err)
		}
	}
	if err := h.publisher.PublishReport(r); err != nil {
		log.Printf("hub: publish: %v", err)
	}
	if h.tracker != nil {
		h.tracker.RecordReport(r)
	}
	if h.OnReport != nil {
		h.OnReport(r)
	}
}
