package async

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/sweeney/now-remote/internal/debug"
)

// DispatchBatchBudget bounds a drain before the dispatcher yields.
const DispatchBatchBudget = 100 * time.Microsecond

// Dispatcher is a serial queue of closures drained by the goroutine running
// Run. Dispatch never blocks, so it is safe to call from GPIO edge handlers
// and radio callbacks.
type Dispatcher struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool
	notify  chan struct{}
}

// NewDispatcher creates an idle dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{notify: make(chan struct{}, 1)}
}

// Dispatch enqueues fn for the dispatcher goroutine.
// Returns false if fn is nil or the dispatcher has stopped.
func (d *Dispatcher) Dispatch(fn func()) bool {
	if fn == nil {
		return false
	}
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
	return true
}

// Run drains the queue until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer func() {
		d.mu.Lock()
		d.stopped = true
		d.queue = nil
		d.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.notify:
		}
		debug.Printf("dispatcher: received event")
		d.drain()
	}
}

func (d *Dispatcher) drain() {
	begin := time.Now()
	for {
		fn, left, ok := d.pop()
		if !ok {
			return
		}
		debug.Printf("dispatcher: running dispatched function, %d left", left)
		fn()
		if time.Since(begin) > DispatchBatchBudget {
			runtime.Gosched()
			begin = time.Now()
		}
	}
}

func (d *Dispatcher) pop() (func(), int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return nil, 0, false
	}
	fn := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	return fn, len(d.queue), true
}
