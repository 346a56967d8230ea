// Package handler wraps single-shot asynchronous jobs (hub discovery, report
// sending, result indication) in a pollable state.
package handler

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeney/now-remote/internal/async"
)

// State is the lifecycle of a handler run.
type State uint8

const (
	NotStarted State = iota
	Pending
	Success
	Error
	Timeout
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case Pending:
		return "PENDING"
	case Success:
		return "SUCCESS"
	case Error:
		return "ERROR"
	case Timeout:
		return "TIMEOUT"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
}

// Timer is the system timer as seen by handlers.
type Timer interface {
	async.Scheduler
	Delay(d time.Duration) async.Future[async.Void]
}

// Handler runs one future at a time and tracks its outcome. A run whose
// deadline passes is TIMEOUT even if the future settles later.
type Handler[T any] struct {
	name  string
	timer Timer

	mu     sync.Mutex
	state  State
	run    uint64
	future async.Future[T]
}

func newHandler[T any](name string, timer Timer) *Handler[T] {
	return &Handler[T]{name: name, timer: timer}
}

// Start invokes produce and tracks its future. A positive timeout arms a
// deadline on the system timer; if the deadline cannot be armed the run is
// ERROR and produce is never called. Start is a no-op while a run is pending.
func (h *Handler[T]) Start(produce func() async.Future[T], timeout time.Duration) bool {
	h.mu.Lock()
	if h.state == Pending {
		h.mu.Unlock()
		log.Printf("handler: %s already pending", h.name)
		return false
	}
	h.run++
	run := h.run
	h.state = Pending
	h.mu.Unlock()

	if timeout > 0 {
		armed := h.timer.SetTimeout(timeout, func() {
			if h.transition(run, Timeout) {
				log.Printf("handler: %s timed out after %v", h.name, timeout)
			}
		})
		if !armed {
			log.Printf("handler: %s: failed to arm timeout", h.name)
			h.transition(run, Error)
			return false
		}
	}

	f := produce()
	h.mu.Lock()
	if h.run == run {
		h.future = f
	}
	h.mu.Unlock()

	f.OnFinished(func(err error) {
		next := Success
		switch {
		case errors.Is(err, async.ErrTimeout):
			next = Timeout
		case err != nil:
			next = Error
		}
		if h.transition(run, next) && err != nil {
			log.Printf("handler: %s failed: %v", h.name, err)
		}
	})
	return true
}

// transition leaves PENDING for run; later transitions are ignored.
func (h *Handler[T]) transition(run uint64, next State) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.run != run || h.state != Pending {
		return false
	}
	h.state = next
	return true
}

// State returns the current run's state.
func (h *Handler[T]) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Finished reports whether the current run left PENDING.
func (h *Handler[T]) Finished() bool {
	s := h.State()
	return s != NotStarted && s != Pending
}

// Future returns the current run's future.
func (h *Handler[T]) Future() async.Future[T] {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.future
}

// Reset forgets the current run.
func (h *Handler[T]) Reset() {
	h.mu.Lock()
	h.run++
	h.state = NotStarted
	h.future = async.Future[T]{}
	h.mu.Unlock()
}
