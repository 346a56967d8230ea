// Package udp carries link datagrams over IPv4 multicast, one group port
// per channel, with link-level acknowledgements standing in for the radio's
// send-complete status.
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/ipv4"

	"github.com/sweeney/now-remote/internal/debug"
	"github.com/sweeney/now-remote/internal/link"
)

// Defaults for Options.
const (
	DefaultGroup      = "239.255.77.77"
	DefaultBasePort   = 47100
	DefaultAckTimeout = 30 * time.Millisecond
)

const (
	headerLen = 15
	kindData  = 0
	kindAck   = 1
	queueSize = 64
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("udp: driver closed")
	// ErrNotStarted is returned before Init.
	ErrNotStarted = errors.New("udp: driver not initialized")
	// ErrQueueFull is returned when the transmit queue is full.
	ErrQueueFull = errors.New("udp: transmit queue full")
)

// Options configure the driver.
type Options struct {
	Group      string
	BasePort   int
	Interface  string
	MAC        link.MAC
	AckTimeout time.Duration
}

type outgoing struct {
	dst  link.MAC
	data []byte
}

type ack struct {
	from link.MAC
	seq  uint16
}

// Driver implements link.Driver over UDP multicast.
type Driver struct {
	opts  Options
	ifi   *net.Interface
	group net.IP
	mac   link.MAC

	mu      sync.Mutex
	channel uint8
	rx      *net.UDPConn
	tx      *ipv4.PacketConn
	onSent  link.SentFunc
	onRecv  link.RecvFunc
	queue   chan outgoing
	acks    chan ack
	done    chan struct{}
	seq     uint16
	closed  bool
}

// New resolves opts. The station address comes from opts.MAC, then the
// interface hardware address, then a random locally administered one.
func New(opts Options) (*Driver, error) {
	if opts.Group == "" {
		opts.Group = DefaultGroup
	}
	if opts.BasePort == 0 {
		opts.BasePort = DefaultBasePort
	}
	if opts.AckTimeout == 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	group := net.ParseIP(opts.Group).To4()
	if group == nil || !group.IsMulticast() {
		return nil, fmt.Errorf("udp: %q is not an IPv4 multicast group", opts.Group)
	}

	ifi, err := lookupInterface(opts.Interface)
	if err != nil {
		return nil, err
	}
	return &Driver{opts: opts, group: group, ifi: ifi, mac: stationMAC(opts.MAC, ifi)}, nil
}

// ResolveMAC returns the station address New would pick for opts without
// building a driver. A random pick differs on every call.
func ResolveMAC(opts Options) (link.MAC, error) {
	ifi, err := lookupInterface(opts.Interface)
	if err != nil {
		return link.MAC{}, err
	}
	return stationMAC(opts.MAC, ifi), nil
}

func lookupInterface(name string) (*net.Interface, error) {
	if name == "" {
		return nil, nil
	}
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("udp: lookup interface: %w", err)
	}
	return ifi, nil
}

func stationMAC(mac link.MAC, ifi *net.Interface) link.MAC {
	if !mac.IsZero() {
		return mac
	}
	if ifi != nil && len(ifi.HardwareAddr) == 6 {
		copy(mac[:], ifi.HardwareAddr)
		return mac
	}
	return randomMAC()
}

func randomMAC() link.MAC {
	var m link.MAC
	u := uuid.New()
	copy(m[:], u[:6])
	// Locally administered, unicast.
	m[0] = (m[0] | 0x02) &^ 0x01
	return m
}

// Init opens the sockets and starts the transmit worker.
func (d *Driver) Init(onSent link.SentFunc, onRecv link.RecvFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.queue != nil {
		d.onSent, d.onRecv = onSent, onRecv
		return nil
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return fmt.Errorf("udp: open sender: %w", err)
	}
	tx := ipv4.NewPacketConn(conn)
	if err := tx.SetMulticastTTL(1); err != nil {
		conn.Close()
		return fmt.Errorf("udp: set multicast ttl: %w", err)
	}
	if err := tx.SetMulticastLoopback(true); err != nil {
		conn.Close()
		return fmt.Errorf("udp: set multicast loopback: %w", err)
	}
	if d.ifi != nil {
		if err := tx.SetMulticastInterface(d.ifi); err != nil {
			conn.Close()
			return fmt.Errorf("udp: set multicast interface: %w", err)
		}
	}

	d.tx = tx
	d.onSent, d.onRecv = onSent, onRecv
	d.queue = make(chan outgoing, queueSize)
	d.acks = make(chan ack, queueSize)
	d.done = make(chan struct{})
	if err := d.listen(d.channel); err != nil {
		conn.Close()
		d.queue = nil
		return err
	}
	go d.transmit()
	log.Printf("udp: station %s on %s:%d", d.mac, d.group, d.port(d.channel))
	return nil
}

func (d *Driver) port(channel uint8) int {
	return d.opts.BasePort + int(channel)
}

// listen swaps the receive socket to channel's port. Caller holds d.mu.
func (d *Driver) listen(channel uint8) error {
	rx, err := net.ListenMulticastUDP("udp4", d.ifi, &net.UDPAddr{IP: d.group, Port: d.port(channel)})
	if err != nil {
		return fmt.Errorf("udp: join channel %d: %w", channel, err)
	}
	if d.rx != nil {
		d.rx.Close()
	}
	d.rx = rx
	go d.receive(rx)
	return nil
}

// AddPeer is a no-op; multicast needs no peer table.
func (d *Driver) AddPeer(mac link.MAC, channel uint8) error { return nil }

// DelPeer is a no-op.
func (d *Driver) DelPeer(mac link.MAC) error { return nil }

// SetChannel moves the receive socket to the channel's port.
func (d *Driver) SetChannel(channel uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.rx != nil && channel != d.channel {
		if err := d.listen(channel); err != nil {
			return err
		}
	}
	d.channel = channel
	return nil
}

// Send queues data for dst.
func (d *Driver) Send(dst link.MAC, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.queue == nil {
		return ErrNotStarted
	}
	select {
	case d.queue <- outgoing{dst: dst, data: append([]byte(nil), data...)}:
		return nil
	default:
		return ErrQueueFull
	}
}

// LocalMAC returns the station address.
func (d *Driver) LocalMAC() link.MAC {
	return d.mac
}

// Close stops the worker and closes both sockets.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.done != nil {
		close(d.done)
	}
	var errs []error
	if d.rx != nil {
		errs = append(errs, d.rx.Close())
	}
	if d.tx != nil {
		errs = append(errs, d.tx.Close())
	}
	return errors.Join(errs...)
}

func (d *Driver) transmit() {
	for {
		select {
		case <-d.done:
			return
		case out := <-d.queue:
			ok := d.transmitOne(out)
			d.mu.Lock()
			onSent := d.onSent
			d.mu.Unlock()
			if onSent != nil {
				onSent(out.dst, ok)
			}
		}
	}
}

func (d *Driver) transmitOne(out outgoing) bool {
	d.mu.Lock()
	d.seq++
	seq := d.seq
	channel := d.channel
	d.mu.Unlock()

	if err := d.write(out.dst, kindData, seq, channel, out.data); err != nil {
		log.Printf("udp: send to %s: %v", out.dst, err)
		return false
	}
	if out.dst.IsBroadcast() {
		return true
	}

	timeout := time.NewTimer(d.opts.AckTimeout)
	defer timeout.Stop()
	for {
		select {
		case a := <-d.acks:
			if a.from == out.dst && a.seq == seq {
				return true
			}
			debug.Printf("udp: stale ack %d from %s", a.seq, a.from)
		case <-timeout.C:
			return false
		case <-d.done:
			return false
		}
	}
}

func (d *Driver) write(dst link.MAC, kind byte, seq uint16, channel uint8, payload []byte) error {
	buf := make([]byte, headerLen+len(payload))
	copy(buf[0:6], dst[:])
	copy(buf[6:12], d.mac[:])
	buf[12] = kind
	binary.LittleEndian.PutUint16(buf[13:15], seq)
	copy(buf[headerLen:], payload)

	_, err := d.tx.WriteTo(buf, nil, &net.UDPAddr{IP: d.group, Port: d.port(channel)})
	return err
}

func (d *Driver) receive(rx *net.UDPConn) {
	buf := make([]byte, headerLen+link.MTU)
	for {
		n, _, err := rx.ReadFromUDP(buf)
		if err != nil {
			// Closed by SetChannel or Close.
			return
		}
		if n < headerLen {
			continue
		}
		var dst, src link.MAC
		copy(dst[:], buf[0:6])
		copy(src[:], buf[6:12])
		if src == d.mac || (dst != d.mac && !dst.IsBroadcast()) {
			continue
		}
		kind := buf[12]
		seq := binary.LittleEndian.Uint16(buf[13:15])

		if kind == kindAck {
			select {
			case d.acks <- ack{from: src, seq: seq}:
			default:
			}
			continue
		}

		d.mu.Lock()
		onRecv := d.onRecv
		channel := d.channel
		d.mu.Unlock()

		if dst == d.mac {
			if err := d.write(src, kindAck, seq, channel, nil); err != nil {
				log.Printf("udp: ack to %s: %v", src, err)
			}
		}
		if onRecv != nil {
			onRecv(src, append([]byte(nil), buf[headerLen:n]...))
		}
	}
}
