package handler

import (
	"log"
	"time"

	"github.com/sweeney/now-remote/internal/async"
	"github.com/sweeney/now-remote/internal/link"
	"github.com/sweeney/now-remote/internal/logic"
	"github.com/sweeney/now-remote/internal/nowio"
)

// Send defaults.
const (
	DefaultSendTimeout    = 300 * time.Millisecond
	DefaultSendRetries    = 2
	DefaultSendRetryDelay = 100 * time.Millisecond
)

// Sender delivers typed packets.
type Sender interface {
	Send(mac link.MAC, b nowio.Body) async.Future[async.Void]
}

// SendOptions tune the attempt timeout and retry policy.
type SendOptions struct {
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
}

// DefaultSendOptions returns the stock send policy.
func DefaultSendOptions() SendOptions {
	return SendOptions{
		Timeout:    DefaultSendTimeout,
		Retries:    DefaultSendRetries,
		RetryDelay: DefaultSendRetryDelay,
	}
}

// ButtonEventSend reports button events to the hub. Each attempt is bounded
// by the send timeout; failed attempts are retried after the retry delay.
type ButtonEventSend struct {
	*Handler[async.Void]
	io    Sender
	timer Timer
	opts  SendOptions
}

// NewButtonEventSend creates the report handler.
func NewButtonEventSend(io Sender, timer Timer, opts SendOptions) *ButtonEventSend {
	return &ButtonEventSend{
		Handler: newHandler[async.Void]("send", timer),
		io:      io,
		timer:   timer,
		opts:    opts,
	}
}

// Begin starts sending events to mac.
func (s *ButtonEventSend) Begin(mac link.MAC, events []logic.ButtonEvent) bool {
	body, err := nowio.Pack(nowio.TypeButton, events)
	if err != nil {
		return s.Start(func() async.Future[async.Void] { return async.Errored[async.Void](err) }, 0)
	}
	log.Printf("send: reporting %v to %s", events, mac)
	return s.Start(func() async.Future[async.Void] { return s.withRetry(mac, body) }, 0)
}

func (s *ButtonEventSend) attempt(mac link.MAC, body nowio.Body) async.Future[async.Void] {
	return async.WithTimeout(s.io.Send(mac, body), s.timer, s.opts.Timeout)
}

func (s *ButtonEventSend) withRetry(mac link.MAC, body nowio.Body) async.Future[async.Void] {
	attempts := 0
	return async.Sequential(s.attempt(mac, body),
		func(prev async.Future[async.Void]) bool {
			if prev.Success() || attempts >= s.opts.Retries {
				return false
			}
			attempts++
			log.Printf("send: attempt failed (%v), retry %d/%d", prev.Err(), attempts, s.opts.Retries)
			return true
		},
		func(async.Future[async.Void]) async.Future[async.Void] {
			return async.Then(s.timer.Delay(s.opts.RetryDelay), func(async.Void) async.Future[async.Void] {
				return s.attempt(mac, body)
			})
		})
}
