// Package sim is an in-memory ether of radio stations for tests and the
// simulate command. Stations only hear each other on the same channel.
package sim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/now-remote/internal/link"
)

var (
	// ErrClosed is returned by a station after Close.
	ErrClosed = errors.New("sim: station closed")
	// ErrNotStarted is returned before Init.
	ErrNotStarted = errors.New("sim: station not initialized")
	// ErrQueueFull is returned when a station's transmit queue is full.
	ErrQueueFull = errors.New("sim: transmit queue full")
)

const queueSize = 64

// Ether connects stations.
type Ether struct {
	mu        sync.Mutex
	stations  map[link.MAC]*Station
	blackhole map[link.MAC]bool
	latency   time.Duration
}

// NewEther creates an empty ether.
func NewEther() *Ether {
	return &Ether{
		stations:  make(map[link.MAC]*Station),
		blackhole: make(map[link.MAC]bool),
	}
}

// SetLatency delays every transmission by d.
func (e *Ether) SetLatency(d time.Duration) {
	e.mu.Lock()
	e.latency = d
	e.mu.Unlock()
}

// Blackhole makes unicast frames to mac vanish without a send-complete
// report, like a radio that never hears back. Off restores delivery.
func (e *Ether) Blackhole(mac link.MAC, on bool) {
	e.mu.Lock()
	e.blackhole[mac] = on
	e.mu.Unlock()
}

// Station creates a station with address mac on channel 0.
func (e *Ether) Station(mac link.MAC) *Station {
	s := &Station{ether: e, mac: mac, peers: make(map[link.MAC]uint8)}
	e.mu.Lock()
	e.stations[mac] = s
	e.mu.Unlock()
	return s
}

type frame struct {
	dst  link.MAC
	data []byte
}

// Station implements link.Driver on the ether.
type Station struct {
	ether *Ether
	mac   link.MAC

	mu      sync.Mutex
	channel uint8
	peers   map[link.MAC]uint8
	onSent  link.SentFunc
	onRecv  link.RecvFunc
	tx      chan frame
	done    chan struct{}
	closed  bool

	// Sent records every accepted outgoing datagram.
	Sent []link.Packet
}

// Init starts the station's transmit goroutine.
func (s *Station) Init(onSent link.SentFunc, onRecv link.RecvFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.onSent, s.onRecv = onSent, onRecv
	if s.tx == nil {
		s.tx = make(chan frame, queueSize)
		s.done = make(chan struct{})
		go s.transmit(s.tx, s.done)
	}
	return nil
}

// AddPeer records mac.
func (s *Station) AddPeer(mac link.MAC, channel uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[mac] = channel
	return nil
}

// DelPeer forgets mac.
func (s *Station) DelPeer(mac link.MAC) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, mac)
	return nil
}

// SetChannel tunes the station.
func (s *Station) SetChannel(channel uint8) error {
	if channel > link.MaxChannel {
		return fmt.Errorf("sim: channel %d out of range", channel)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channel = channel
	return nil
}

// Channel returns the tuned channel.
func (s *Station) Channel() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// Send queues data for transmission.
func (s *Station) Send(mac link.MAC, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.tx == nil {
		return ErrNotStarted
	}
	buf := append([]byte(nil), data...)
	select {
	case s.tx <- frame{dst: mac, data: buf}:
	default:
		return ErrQueueFull
	}
	s.Sent = append(s.Sent, link.Packet{MAC: mac, Data: buf})
	return nil
}

// SentPackets returns a copy of the accepted outgoing datagrams.
func (s *Station) SentPackets() []link.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]link.Packet(nil), s.Sent...)
}

// LocalMAC returns the station address.
func (s *Station) LocalMAC() link.MAC {
	return s.mac
}

// Close stops the station and takes it off the ether.
func (s *Station) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	done := s.done
	s.mu.Unlock()

	s.ether.mu.Lock()
	if s.ether.stations[s.mac] == s {
		delete(s.ether.stations, s.mac)
	}
	s.ether.mu.Unlock()

	if done != nil {
		close(done)
	}
	return nil
}

func (s *Station) transmit(tx <-chan frame, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case f := <-tx:
			s.deliver(f)
		}
	}
}

func (s *Station) deliver(f frame) {
	s.mu.Lock()
	channel := s.channel
	onSent := s.onSent
	s.mu.Unlock()

	e := s.ether
	e.mu.Lock()
	latency := e.latency
	lost := e.blackhole[f.dst]
	var targets []*Station
	for mac, st := range e.stations {
		if st == s || st.Channel() != channel {
			continue
		}
		if f.dst.IsBroadcast() || mac == f.dst {
			targets = append(targets, st)
		}
	}
	e.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}
	if lost && !f.dst.IsBroadcast() {
		return
	}

	for _, st := range targets {
		st.receive(s.mac, f.data)
	}
	// Broadcast is never acknowledged, so it always completes.
	ok := f.dst.IsBroadcast() || len(targets) > 0
	if onSent != nil {
		onSent(f.dst, ok)
	}
}

func (s *Station) receive(from link.MAC, data []byte) {
	s.mu.Lock()
	onRecv := s.onRecv
	closed := s.closed
	s.mu.Unlock()
	if closed || onRecv == nil {
		return
	}
	onRecv(from, append([]byte(nil), data...))
}
