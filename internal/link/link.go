// Package link wraps a connectionless radio driver with peer bookkeeping,
// channel selection and per-send completion futures.
package link

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/sweeney/now-remote/internal/async"
	"github.com/sweeney/now-remote/internal/debug"
)

// MTU is the largest datagram the radio carries.
const MTU = 250

// MaxChannel is the highest selectable channel; channels are 0..MaxChannel.
const MaxChannel = 13

var (
	// ErrNotInitialized is returned before Begin succeeds.
	ErrNotInitialized = errors.New("link: not initialized")
	// ErrRadioRefused means the driver rejected a send outright.
	ErrRadioRefused = errors.New("link: radio refused send")
	// ErrSendNotAcked means the driver reported a failed delivery.
	ErrSendNotAcked = errors.New("link: send not acknowledged")
	// ErrBadChannel is returned for channels outside 0..MaxChannel.
	ErrBadChannel = errors.New("link: channel out of range")
	// ErrTooLarge is returned for datagrams over MTU.
	ErrTooLarge = errors.New("link: datagram exceeds MTU")
)

// Packet is one received datagram.
type Packet struct {
	MAC  MAC
	Data []byte
}

// Link is the asynchronous link layer. Driver callbacks are routed through
// the dispatcher so every send future settles on the dispatcher goroutine.
type Link struct {
	driver     Driver
	dispatcher *async.Dispatcher

	// sendMu keeps queue order equal to driver submission order.
	sendMu sync.Mutex

	mu          sync.Mutex
	initialized bool
	channel     uint8
	peers       map[MAC]uint8
	sendOrder   map[MAC][]*async.Promise[async.Void]
	onPacket    func(Packet)
}

// New creates a link over driver. A nil dispatcher runs callbacks on the
// driver goroutine.
func New(driver Driver, dispatcher *async.Dispatcher) *Link {
	return &Link{
		driver:     driver,
		dispatcher: dispatcher,
		peers:      make(map[MAC]uint8),
		sendOrder:  make(map[MAC][]*async.Promise[async.Void]),
	}
}

// Begin initializes the driver. Calling it again is a no-op.
func (l *Link) Begin() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.initialized {
		return nil
	}
	if err := l.driver.Init(l.onSent, l.onRecv); err != nil {
		return fmt.Errorf("init radio: %w", err)
	}
	l.initialized = true
	return nil
}

// End closes the driver and fails every pending send.
func (l *Link) End() error {
	l.mu.Lock()
	if !l.initialized {
		l.mu.Unlock()
		return nil
	}
	l.initialized = false
	l.onPacket = nil
	pending := l.sendOrder
	l.sendOrder = make(map[MAC][]*async.Promise[async.Void])
	l.peers = make(map[MAC]uint8)
	l.mu.Unlock()

	for _, queue := range pending {
		for _, p := range queue {
			p.Reject(ErrNotInitialized)
		}
	}
	return l.driver.Close()
}

// LocalMAC returns the station address of this radio.
func (l *Link) LocalMAC() MAC {
	return l.driver.LocalMAC()
}

// SetOnPacket installs the receive hook.
func (l *Link) SetOnPacket(fn func(Packet)) {
	l.mu.Lock()
	l.onPacket = fn
	l.mu.Unlock()
}

// Send transmits data to mac, registering the peer if needed. The future
// settles when the driver reports the send complete.
func (l *Link) Send(mac MAC, data []byte) async.Future[async.Void] {
	if len(data) > MTU {
		return async.Errored[async.Void](fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data)))
	}
	if err := l.RegisterPeer(mac, 0); err != nil {
		log.Printf("link: failed to send packet to %s: %v", mac, err)
		return async.Errored[async.Void](err)
	}

	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	p := async.NewPromise[async.Void]()
	l.mu.Lock()
	l.sendOrder[mac] = append(l.sendOrder[mac], p)
	l.mu.Unlock()

	if err := l.driver.Send(mac, data); err != nil {
		l.mu.Lock()
		l.dropPending(mac, p)
		l.mu.Unlock()
		log.Printf("link: failed to send packet to %s: %v", mac, err)
		return async.Errored[async.Void](fmt.Errorf("%w: %v", ErrRadioRefused, err))
	}
	debug.Printf("link: sending %d bytes to %s", len(data), mac)
	return p.Future()
}

func (l *Link) dropPending(mac MAC, p *async.Promise[async.Void]) {
	queue := l.sendOrder[mac]
	for i := range queue {
		if queue[i] == p {
			l.sendOrder[mac] = append(queue[:i:i], queue[i+1:]...)
			return
		}
	}
}

// RegisterPeer adds mac to the driver's peer table. Registering a known
// peer succeeds without touching the driver.
func (l *Link) RegisterPeer(mac MAC, channel uint8) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.initialized {
		return ErrNotInitialized
	}
	if _, ok := l.peers[mac]; ok {
		return nil
	}
	if err := l.driver.AddPeer(mac, channel); err != nil {
		return fmt.Errorf("register peer %s: %w", mac, err)
	}
	l.peers[mac] = channel
	log.Printf("link: registered peer %s", mac)
	return nil
}

// UnregisterPeer removes mac from the driver's peer table.
func (l *Link) UnregisterPeer(mac MAC) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.initialized {
		return ErrNotInitialized
	}
	if _, ok := l.peers[mac]; !ok {
		return nil
	}
	delete(l.peers, mac)
	log.Printf("link: unregistered peer %s", mac)
	if err := l.driver.DelPeer(mac); err != nil {
		return fmt.Errorf("unregister peer %s: %w", mac, err)
	}
	return nil
}

// IsPeer reports whether mac is registered.
func (l *Link) IsPeer(mac MAC) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.peers[mac]
	return l.initialized && ok
}

// ChangeChannel switches the radio to channel.
func (l *Link) ChangeChannel(channel uint8) error {
	if channel > MaxChannel {
		return fmt.Errorf("%w: %d", ErrBadChannel, channel)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.initialized {
		return ErrNotInitialized
	}
	if err := l.driver.SetChannel(channel); err != nil {
		return fmt.Errorf("change channel to %d: %w", channel, err)
	}
	l.channel = channel
	debug.Printf("link: channel %d", channel)
	return nil
}

// Channel returns the last selected channel.
func (l *Link) Channel() uint8 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.channel
}

func (l *Link) onSent(mac MAC, ok bool) {
	l.run(func() { l.handleSent(mac, ok) })
}

func (l *Link) onRecv(mac MAC, data []byte) {
	l.run(func() { l.handleRecv(mac, data) })
}

func (l *Link) run(fn func()) {
	if l.dispatcher == nil || !l.dispatcher.Dispatch(fn) {
		fn()
	}
}

func (l *Link) handleSent(mac MAC, ok bool) {
	l.mu.Lock()
	queue := l.sendOrder[mac]
	if len(queue) == 0 {
		l.mu.Unlock()
		log.Printf("link: unexpected sent event for %s", mac)
		return
	}
	p := queue[0]
	queue[0] = nil
	l.sendOrder[mac] = queue[1:]
	l.mu.Unlock()

	if ok {
		debug.Printf("link: send confirmed %s", mac)
		p.Resolve(async.Void{})
		return
	}
	log.Printf("link: error while sending data to %s", mac)
	p.Reject(ErrSendNotAcked)
}

func (l *Link) handleRecv(mac MAC, data []byte) {
	l.mu.Lock()
	fn := l.onPacket
	l.mu.Unlock()

	debug.Printf("link: received %d bytes from %s", len(data), mac)
	if fn != nil {
		fn(Packet{MAC: mac, Data: data})
	}
}
