// Package async provides the completion fabric of the remote: single-producer
// Promise/Future cells with chaining and aggregation, the System Timer that
// fires deferred callbacks, and the Dispatcher that serializes completions
// onto one goroutine.
package async

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

var (
	// ErrFailed is used when a promise is rejected with a nil error.
	ErrFailed = errors.New("async: operation failed")
	// ErrTimeout is the outcome of WithTimeout when the deadline passes first.
	ErrTimeout = errors.New("async: timed out")
	// ErrEmpty is the outcome of All or Any over no futures.
	ErrEmpty = errors.New("async: empty collection")
	// ErrSchedule is returned when a timer callback could not be scheduled.
	ErrSchedule = errors.New("async: unable to schedule timer")
	// ErrPending is returned by Value on an unfinished future.
	ErrPending = errors.New("async: future not finished")
)

// Void is the value type of futures that carry no result.
type Void = struct{}

// Promise is the write side of a completion cell. It finishes exactly once;
// later Resolve/Reject calls are logged and ignored.
type Promise[T any] struct {
	mu        sync.Mutex
	finished  bool
	value     T
	err       error
	callbacks []func(error)
	done      chan struct{}
}

// NewPromise creates an unfinished promise.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// Future returns a read handle sharing this promise's cell.
func (p *Promise[T]) Future() Future[T] {
	return Future[T]{p: p}
}

// Resolve finishes the promise successfully with v.
// Returns false if the promise was already finished.
func (p *Promise[T]) Resolve(v T) bool {
	if !p.settle(v, nil) {
		log.Printf("async: promise %p already finished, ignoring success", p)
		return false
	}
	return true
}

// Reject finishes the promise with err (ErrFailed if err is nil).
// Returns false if the promise was already finished.
func (p *Promise[T]) Reject(err error) bool {
	var zero T
	if err == nil {
		err = ErrFailed
	}
	if !p.settle(zero, err) {
		log.Printf("async: promise %p already finished, ignoring error: %v", p, err)
		return false
	}
	return true
}

// Finished reports whether the promise has been settled.
func (p *Promise[T]) Finished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished
}

// adopt settles p with the outcome of f, quietly losing a race.
func (p *Promise[T]) adopt(f Future[T]) {
	v, err := f.Value()
	p.settle(v, err)
}

func (p *Promise[T]) settle(v T, err error) bool {
	p.mu.Lock()
	if p.finished {
		p.mu.Unlock()
		return false
	}
	p.finished = true
	p.value = v
	p.err = err
	callbacks := p.callbacks
	p.callbacks = nil
	close(p.done)
	p.mu.Unlock()

	// Callbacks run outside the lock so they may register further continuations.
	for _, cb := range callbacks {
		cb(err)
	}
	return true
}

func (p *Promise[T]) onFinished(cb func(error)) {
	p.mu.Lock()
	if !p.finished {
		p.callbacks = append(p.callbacks, cb)
		p.mu.Unlock()
		return
	}
	err := p.err
	p.mu.Unlock()
	cb(err)
}

// Future is a cheap, copyable read handle to a Promise.
// The zero Future is invalid; obtain one from a Promise or a combinator.
type Future[T any] struct {
	p *Promise[T]
}

// Awaitable is the type-erased view of a future used by All and Any.
type Awaitable interface {
	Finished() bool
	Err() error
	OnFinished(cb func(err error))
}

// Successful returns a future already finished with v.
func Successful[T any](v T) Future[T] {
	p := NewPromise[T]()
	p.settle(v, nil)
	return p.Future()
}

// Errored returns a future already finished with err.
func Errored[T any](err error) Future[T] {
	p := NewPromise[T]()
	p.Reject(err)
	return p.Future()
}

// Finished reports whether the underlying promise has been settled.
func (f Future[T]) Finished() bool {
	return f.p.Finished()
}

// Success reports whether the future finished without error.
func (f Future[T]) Success() bool {
	f.p.mu.Lock()
	defer f.p.mu.Unlock()
	return f.p.finished && f.p.err == nil
}

// Err returns the failure of a finished future, ErrPending if unfinished,
// nil on success.
func (f Future[T]) Err() error {
	f.p.mu.Lock()
	defer f.p.mu.Unlock()
	if !f.p.finished {
		return ErrPending
	}
	return f.p.err
}

// Value returns the outcome without panicking.
func (f Future[T]) Value() (T, error) {
	f.p.mu.Lock()
	defer f.p.mu.Unlock()
	if !f.p.finished {
		var zero T
		return zero, ErrPending
	}
	return f.p.value, f.p.err
}

// Result returns the value of a successfully finished future.
// Reading an unfinished or failed future is a programming error and panics.
func (f Future[T]) Result() T {
	v, err := f.Value()
	if err != nil {
		panic("async: result of unfinished or unsuccessful future: " + err.Error())
	}
	return v
}

// OnFinished registers cb to run once the future settles. If it already has,
// cb runs immediately on the calling goroutine.
func (f Future[T]) OnFinished(cb func(err error)) {
	f.p.onFinished(cb)
}

// Done returns a channel closed when the future settles.
func (f Future[T]) Done() <-chan struct{} {
	return f.p.done
}

// Same reports whether both handles point at the same cell.
func (f Future[T]) Same(other Future[T]) bool {
	return f.p == other.p
}

// Wait blocks up to timeout for the future to settle; zero waits forever.
// Returns true iff the future finished within the budget.
func (f Future[T]) Wait(timeout time.Duration) bool {
	if timeout == 0 {
		<-f.p.done
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-f.p.done:
		return true
	case <-t.C:
		return f.Finished()
	}
}

// Await blocks until the future settles or ctx is done.
func (f Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.p.done:
		return f.Value()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OnError runs fn when the future fails and adopts the outcome of the future
// it returns. Success passes through unchanged.
func (f Future[T]) OnError(fn func(err error) Future[T]) Future[T] {
	chained := NewPromise[T]()
	f.OnFinished(func(err error) {
		if err == nil {
			chained.adopt(f)
			return
		}
		next := fn(err)
		next.OnFinished(func(error) { chained.adopt(next) })
	})
	return chained.Future()
}

// Finally runs fn once the future settles, whatever the outcome. The returned
// future adopts the original outcome after fn has run.
func (f Future[T]) Finally(fn func(Future[T])) Future[T] {
	chained := NewPromise[T]()
	f.OnFinished(func(error) {
		fn(f)
		chained.adopt(f)
	})
	return chained.Future()
}
