// Package nowio puts typed packet bodies on top of the interaction layer and
// implements hub discovery and ping.
package nowio

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeney/now-remote/internal/async"
	"github.com/sweeney/now-remote/internal/debug"
	"github.com/sweeney/now-remote/internal/interaction"
	"github.com/sweeney/now-remote/internal/link"
)

// DefaultDiscoveryWindow is how long each channel waits for a discovery
// response.
const DefaultDiscoveryWindow = 100 * time.Millisecond

var (
	// ErrHubMissing is returned when no channel produced a discovery response.
	ErrHubMissing = errors.New("nowio: hub missing")
	// ErrInvalidResponse is returned for a system reply that is not an empty
	// SYSTEM_RESPONSE.
	ErrInvalidResponse = errors.New("nowio: invalid system response")
)

// Delayer produces futures that succeed after a delay.
type Delayer interface {
	Delay(d time.Duration) async.Future[async.Void]
}

// Hub is a discovered hub.
type Hub struct {
	MAC     link.MAC
	Channel uint8
}

// IO is the typed packet layer.
type IO struct {
	ia    *interaction.Interaction
	timer Delayer

	mu       sync.Mutex
	window   time.Duration
	onPacket func(Packet)
}

// New creates the packet layer over ia. timer provides the per-channel
// discovery window.
func New(ia *interaction.Interaction, timer Delayer) *IO {
	return &IO{ia: ia, timer: timer, window: DefaultDiscoveryWindow}
}

// SetDiscoveryWindow changes the per-channel discovery window.
func (io *IO) SetDiscoveryWindow(d time.Duration) {
	io.mu.Lock()
	io.window = d
	io.mu.Unlock()
}

// Begin starts the interaction layer and installs the inbound hook.
func (io *IO) Begin() error {
	if err := io.ia.Begin(); err != nil {
		return fmt.Errorf("begin interaction: %w", err)
	}
	io.ia.SetOnMessage(io.onMessage)
	return nil
}

// SetOnPacket installs the hook for inbound non-response packets.
func (io *IO) SetOnPacket(fn func(Packet)) {
	io.mu.Lock()
	io.onPacket = fn
	io.mu.Unlock()
}

// Send sends b to mac.
func (io *IO) Send(mac link.MAC, b Body) async.Future[async.Void] {
	debug.Printf("nowio: send type 0x%02X count %d to %s", b.Type, b.Count, mac)
	return async.Discard(io.ia.Send(mac, b.Marshal()))
}

// Request sends b to mac and settles with the parsed response.
func (io *IO) Request(mac link.MAC, b Body) async.Future[Packet] {
	return io.request(mac, b, io.ia.Request(mac, b.Marshal()))
}

func (io *IO) request(mac link.MAC, b Body, raw async.Future[interaction.Message]) async.Future[Packet] {
	debug.Printf("nowio: request type 0x%02X count %d to %s", b.Type, b.Count, mac)
	return async.Then(raw, func(m interaction.Message) async.Future[Packet] {
		p, err := ParsePacket(m.ID, m.MAC, m.Data)
		if err != nil {
			return async.Errored[Packet](err)
		}
		return async.Successful(p)
	})
}

// Respond answers request id from mac with b.
func (io *IO) Respond(id uint8, mac link.MAC, b Body) async.Future[async.Void] {
	return io.ia.Respond(id, mac, b.Marshal())
}

// Ping checks that mac answers a PING with an empty SYSTEM_RESPONSE.
func (io *IO) Ping(mac link.MAC) async.Future[async.Void] {
	return async.Then(io.Request(mac, Body{Type: TypePing}), func(p Packet) async.Future[async.Void] {
		if err := checkSystemResponse(p); err != nil {
			log.Printf("nowio: ping %s: %v", mac, err)
			return async.Errored[async.Void](err)
		}
		return async.Successful(async.Void{})
	})
}

// Discovery broadcasts a DISCOVERY request on the current channel and
// settles with the MAC of the first hub that answers.
func (io *IO) Discovery() async.Future[link.MAC] {
	f, _ := io.discovery()
	return f
}

// discovery is Discovery plus a cancel func that withdraws the pending
// broadcast request.
func (io *IO) discovery() (async.Future[link.MAC], func()) {
	b := Body{Type: TypeDiscovery}
	raw := io.ia.Request(link.Broadcast, b.Marshal())
	cancel := func() { io.ia.CancelRequest(raw) }
	return async.Then(io.request(link.Broadcast, b, raw), func(p Packet) async.Future[link.MAC] {
		if err := checkSystemResponse(p); err != nil {
			log.Printf("nowio: discovery reply from %s: %v", p.MAC, err)
			return async.Errored[link.MAC](err)
		}
		return async.Successful(p.MAC)
	}), cancel
}

// DiscoverHub scans channels 0..link.MaxChannel, racing a discovery against
// the discovery window on each, and confirms the first responder with a
// ping. The radio stays on the winning channel.
func (io *IO) DiscoverHub() async.Future[Hub] {
	io.mu.Lock()
	window := io.window
	io.mu.Unlock()

	channel := uint8(0)
	found := async.Sequential(io.discoverOn(channel, window),
		func(prev async.Future[Hub]) bool {
			if prev.Success() || channel >= link.MaxChannel {
				return false
			}
			channel++
			return true
		},
		func(async.Future[Hub]) async.Future[Hub] {
			return io.discoverOn(channel, window)
		})

	return async.Then(found, func(hub Hub) async.Future[Hub] {
		log.Printf("nowio: hub %s answered on channel %d, pinging", hub.MAC, hub.Channel)
		return async.Map(io.Ping(hub.MAC), func(async.Void) Hub { return hub })
	}).OnError(func(err error) async.Future[Hub] {
		return async.Errored[Hub](fmt.Errorf("discover hub: %w", err))
	})
}

func (io *IO) discoverOn(channel uint8, window time.Duration) async.Future[Hub] {
	if err := io.ia.ChangeChannel(channel); err != nil {
		return async.Errored[Hub](fmt.Errorf("change channel %d: %w", channel, err))
	}
	debug.Printf("nowio: discovery on channel %d", channel)

	disc, cancel := io.discovery()
	return async.Then(async.Any(disc, io.timer.Delay(window)), func(async.Void) async.Future[Hub] {
		if !disc.Finished() {
			// The window closed first; nobody will read a late reply.
			cancel()
			return async.Errored[Hub](ErrHubMissing)
		}
		mac, err := disc.Value()
		if err != nil {
			return async.Errored[Hub](ErrHubMissing)
		}
		return async.Successful(Hub{MAC: mac, Channel: channel})
	})
}

func (io *IO) onMessage(m interaction.Message) {
	p, err := ParsePacket(m.ID, m.MAC, m.Data)
	if err != nil {
		log.Printf("nowio: dropping message %d from %s: %v", m.ID, m.MAC, err)
		return
	}
	io.mu.Lock()
	fn := io.onPacket
	io.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

func checkSystemResponse(p Packet) error {
	if p.Type != TypeSystemResponse || p.Count != 0 || len(p.Items) != 0 {
		return fmt.Errorf("%w: type 0x%02X count %d size %d", ErrInvalidResponse, p.Type, p.Count, len(p.Items))
	}
	return nil
}
