// Package interaction fragments messages into link frames, reassembles them
// on receipt and correlates requests with their responses.
package interaction

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeney/now-remote/internal/async"
	"github.com/sweeney/now-remote/internal/debug"
	"github.com/sweeney/now-remote/internal/link"
)

// DefaultReassemblyTTL bounds how long a partial message waits for its
// remaining frames.
const DefaultReassemblyTTL = 5 * time.Second

var (
	// ErrNotInitialized is returned before Begin succeeds.
	ErrNotInitialized = errors.New("interaction: not initialized")
	// ErrEmptyMessage is returned for zero-length sends.
	ErrEmptyMessage = errors.New("interaction: empty message")
	// ErrOversize is returned for messages over MaxMessageSize.
	ErrOversize = errors.New("interaction: message too large")
	// ErrRequestCancelled fails a request whose id was reused by a newer one.
	ErrRequestCancelled = errors.New("interaction: request cancelled")
)

// Link is the part of the link layer this package drives.
type Link interface {
	Begin() error
	Send(mac link.MAC, data []byte) async.Future[async.Void]
	SetOnPacket(fn func(link.Packet))
	ChangeChannel(channel uint8) error
	RegisterPeer(mac link.MAC, channel uint8) error
	IsPeer(mac link.MAC) bool
}

// SendResponse identifies a sent message.
type SendResponse struct {
	ID uint8
}

// Message is a fully reassembled message.
type Message struct {
	ID         uint8
	IsResponse bool
	MAC        link.MAC
	Data       []byte
}

type messageKey struct {
	id         uint8
	isResponse bool
	mac        link.MAC
}

type partial struct {
	started  time.Time
	parts    uint8
	received uint8
	seen     []bool
	size     int
	data     []byte
}

// pendingRequest is a request awaiting its response. out is the future
// handed to the caller.
type pendingRequest struct {
	p   *async.Promise[Message]
	out async.Future[Message]
}

// Interaction is the message layer over one link.
type Interaction struct {
	link Link
	ttl  time.Duration
	now  func() time.Time

	mu          sync.Mutex
	initialized bool
	nextID      uint8
	requests    map[uint8]*pendingRequest
	messages    map[messageKey]*partial
	onMessage   func(Message)
}

// New creates the message layer over l.
func New(l Link) *Interaction {
	return &Interaction{
		link:     l,
		ttl:      DefaultReassemblyTTL,
		now:      time.Now,
		requests: make(map[uint8]*pendingRequest),
		messages: make(map[messageKey]*partial),
	}
}

// SetReassemblyTTL changes how long partial messages are kept; zero keeps
// them until completed or replaced.
func (i *Interaction) SetReassemblyTTL(d time.Duration) {
	i.mu.Lock()
	i.ttl = d
	i.mu.Unlock()
}

// Begin starts the link and installs the receive hook. Calling it again is
// a no-op.
func (i *Interaction) Begin() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.initialized {
		return nil
	}
	if err := i.link.Begin(); err != nil {
		return err
	}
	i.link.SetOnPacket(i.onPacket)
	i.initialized = true
	return nil
}

// SetOnMessage installs the hook for complete non-response messages.
func (i *Interaction) SetOnMessage(fn func(Message)) {
	i.mu.Lock()
	i.onMessage = fn
	i.mu.Unlock()
}

// Send fragments data to mac under a fresh id. The future settles once
// every frame has been acknowledged by the link.
func (i *Interaction) Send(mac link.MAC, data []byte) async.Future[SendResponse] {
	id, err := i.allocateID()
	if err != nil {
		return async.Errored[SendResponse](err)
	}
	return i.send(id, false, mac, data)
}

// Request sends data under a fresh id and settles with the correlated
// response.
func (i *Interaction) Request(mac link.MAC, data []byte) async.Future[Message] {
	id, err := i.allocateID()
	if err != nil {
		return async.Errored[Message](err)
	}
	return i.request(id, mac, data)
}

// Respond answers request id from mac.
func (i *Interaction) Respond(id uint8, mac link.MAC, data []byte) async.Future[async.Void] {
	if !i.Initialized() {
		return async.Errored[async.Void](ErrNotInitialized)
	}
	return async.Discard(i.send(id, true, mac, data))
}

// Initialized reports whether Begin succeeded.
func (i *Interaction) Initialized() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.initialized
}

// PendingMessages returns the number of partially reassembled messages.
func (i *Interaction) PendingMessages() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.messages)
}

// PendingRequests returns the number of requests awaiting a response.
func (i *Interaction) PendingRequests() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.requests)
}

func (i *Interaction) allocateID() (uint8, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.initialized {
		return 0, ErrNotInitialized
	}
	id := i.nextID
	i.nextID++
	return id, nil
}

func (i *Interaction) send(id uint8, isResponse bool, mac link.MAC, data []byte) async.Future[SendResponse] {
	frames, err := Fragment(id, isResponse, data)
	if err != nil {
		log.Printf("interaction: send message %d: %v", id, err)
		return async.Errored[SendResponse](err)
	}

	futures := make([]async.Awaitable, 0, len(frames))
	for idx, frame := range frames {
		debug.Printf("interaction: sending message %d frame %d/%d, size %d", id, idx+1, len(frames), len(frame)-HeaderSize)
		futures = append(futures, i.link.Send(mac, frame))
	}
	return async.Map(async.All(futures...), func(async.Void) SendResponse {
		return SendResponse{ID: id}
	})
}

func (i *Interaction) request(id uint8, mac link.MAC, data []byte) async.Future[Message] {
	p := async.NewPromise[Message]()
	entry := &pendingRequest{p: p}

	i.mu.Lock()
	prev, collided := i.requests[id]
	i.requests[id] = entry
	i.mu.Unlock()

	if collided {
		log.Printf("interaction: request %d already exists, cancelling", id)
		prev.p.Reject(ErrRequestCancelled)
	}

	sent := i.send(id, false, mac, data)
	out := async.Then(sent, func(SendResponse) async.Future[Message] {
		debug.Printf("interaction: request %d sent, waiting for response", id)
		return p.Future()
	}).OnError(func(err error) async.Future[Message] {
		i.forgetRequest(id, p)
		return async.Errored[Message](err)
	})

	i.mu.Lock()
	entry.out = out
	i.mu.Unlock()
	return out
}

// CancelRequest drops the request behind f, a future returned by Request,
// and fails it with ErrRequestCancelled. It reports whether f was still
// waiting for a response.
func (i *Interaction) CancelRequest(f async.Future[Message]) bool {
	if f.Same(async.Future[Message]{}) {
		return false
	}
	i.mu.Lock()
	var entry *pendingRequest
	for id, e := range i.requests {
		if e.out.Same(f) {
			entry = e
			delete(i.requests, id)
			break
		}
	}
	i.mu.Unlock()

	if entry == nil {
		return false
	}
	entry.p.Reject(ErrRequestCancelled)
	return true
}

// forgetRequest drops id only while it still belongs to p; a newer request
// may have taken the id over.
func (i *Interaction) forgetRequest(id uint8, p *async.Promise[Message]) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if e, ok := i.requests[id]; ok && e.p == p {
		delete(i.requests, id)
	}
}

func (i *Interaction) onPacket(pkt link.Packet) {
	h, payload, err := ParseFrame(pkt.Data)
	if err != nil {
		log.Printf("interaction: dropping frame from %s: %v", pkt.MAC, err)
		return
	}

	msg, complete := i.reassemble(pkt.MAC, h, payload)
	if !complete {
		return
	}
	debug.Printf("interaction: received message %d from %s, %d bytes", msg.ID, msg.MAC, len(msg.Data))

	if msg.IsResponse {
		i.mu.Lock()
		e, ok := i.requests[msg.ID]
		if ok {
			delete(i.requests, msg.ID)
		}
		i.mu.Unlock()

		if !ok {
			log.Printf("interaction: unexpected response %d from %s", msg.ID, msg.MAC)
			return
		}
		e.p.Resolve(msg)
		return
	}

	i.mu.Lock()
	fn := i.onMessage
	i.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (i *Interaction) reassemble(mac link.MAC, h Header, payload []byte) (Message, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()
	i.purgeExpired(now)

	key := messageKey{id: h.ID, isResponse: h.IsResponse, mac: mac}
	m, ok := i.messages[key]
	if !ok || m.parts != h.Count {
		if ok {
			log.Printf("interaction: message %d from %s restarted with %d parts", h.ID, mac, h.Count)
		}
		m = &partial{
			started: now,
			parts:   h.Count,
			seen:    make([]bool, h.Count),
			data:    make([]byte, int(h.Count)*MaxFramePayload),
		}
		i.messages[key] = m
	}
	if m.seen[h.Index] {
		debug.Printf("interaction: duplicate frame %d of message %d", h.Index, h.ID)
		return Message{}, false
	}

	copy(m.data[int(h.Index)*MaxFramePayload:], payload)
	m.seen[h.Index] = true
	m.received++
	m.size += len(payload)

	if m.received != m.parts {
		return Message{}, false
	}
	delete(i.messages, key)
	return Message{ID: h.ID, IsResponse: h.IsResponse, MAC: mac, Data: m.data[:m.size]}, true
}

func (i *Interaction) purgeExpired(now time.Time) {
	if i.ttl <= 0 {
		return
	}
	for key, m := range i.messages {
		if now.Sub(m.started) > i.ttl {
			log.Printf("interaction: dropping stale message %d from %s (%d/%d frames)", key.id, key.mac, m.received, m.parts)
			delete(i.messages, key)
		}
	}
}

// DiscoverPeerChannel tries channels 0..MaxChannel in order and returns the
// first on which a one-byte send to mac is acknowledged.
func (i *Interaction) DiscoverPeerChannel(mac link.MAC) async.Future[uint8] {
	if !i.Initialized() {
		return async.Errored[uint8](ErrNotInitialized)
	}
	if !i.link.IsPeer(mac) {
		if err := i.link.RegisterPeer(mac, 0); err != nil {
			return async.Errored[uint8](err)
		}
	}
	log.Printf("interaction: discovering channel of %s", mac)

	channel := uint8(0)
	return async.Sequential(i.tryChannel(mac, channel),
		func(prev async.Future[uint8]) bool {
			channel++
			return !prev.Success() && channel <= link.MaxChannel
		},
		func(async.Future[uint8]) async.Future[uint8] {
			return i.tryChannel(mac, channel)
		})
}

func (i *Interaction) tryChannel(mac link.MAC, channel uint8) async.Future[uint8] {
	if err := i.link.ChangeChannel(channel); err != nil {
		return async.Errored[uint8](err)
	}
	debug.Printf("interaction: trying channel %d", channel)
	return async.Map(i.link.Send(mac, []byte{0}), func(async.Void) uint8 {
		log.Printf("interaction: channel %d is valid", channel)
		return channel
	}).OnError(func(err error) async.Future[uint8] {
		debug.Printf("interaction: channel %d is not valid", channel)
		return async.Errored[uint8](fmt.Errorf("channel %d: %w", channel, err))
	})
}

// ChangeChannel switches the underlying radio channel.
func (i *Interaction) ChangeChannel(channel uint8) error {
	return i.link.ChangeChannel(channel)
}
