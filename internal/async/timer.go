package async

import (
	"container/heap"
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/sweeney/now-remote/internal/debug"
)

const (
	// TimerPollInterval is how long the timer sleeps when nothing is due.
	TimerPollInterval = time.Millisecond
	// TimerBatchBudget bounds a run of due callbacks before the timer yields.
	TimerBatchBudget = 100 * time.Microsecond
)

// Scheduler runs a callback once a duration has elapsed.
type Scheduler interface {
	SetTimeout(d time.Duration, cb func()) bool
}

type timerTask struct {
	deadline time.Time
	seq      uint64
	cb       func()
}

type taskHeap []timerTask

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(timerTask)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = timerTask{}
	*h = old[:n-1]
	return t
}

// Timer is the System Timer: a min-heap of callbacks keyed by monotonic
// deadline, drained by the goroutine running Run. Callbacks never fire
// before their deadline. There is no cancellation; subscribers ignore
// late events instead.
type Timer struct {
	mu       sync.Mutex
	tasks    taskHeap
	seq      uint64
	stopped  bool
	dispatch *Dispatcher
	now      func() time.Time
}

// NewTimer creates a timer. When d is non-nil, due callbacks are handed to
// the dispatcher instead of running on the timer goroutine.
func NewTimer(d *Dispatcher) *Timer {
	return &Timer{dispatch: d, now: time.Now}
}

// SetTimeout schedules cb to run once d has elapsed.
// Returns false if cb is nil or the timer has stopped.
func (t *Timer) SetTimeout(d time.Duration, cb func()) bool {
	if cb == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.seq++
	heap.Push(&t.tasks, timerTask{deadline: t.now().Add(d), seq: t.seq, cb: cb})
	debug.Printf("timer: add task, total %d", t.tasks.Len())
	return true
}

// Delay returns a future that succeeds once d has elapsed, or fails with
// ErrSchedule if the callback could not be scheduled.
func (t *Timer) Delay(d time.Duration) Future[Void] {
	p := NewPromise[Void]()
	if !t.SetTimeout(d, func() { p.Resolve(Void{}) }) {
		p.Reject(ErrSchedule)
	}
	return p.Future()
}

// Pending returns the number of scheduled callbacks.
func (t *Timer) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tasks.Len()
}

// Run drains due callbacks until ctx is done. Pending callbacks are dropped
// when Run returns and later SetTimeout calls fail.
func (t *Timer) Run(ctx context.Context) error {
	ticker := time.NewTicker(TimerPollInterval)
	defer ticker.Stop()
	defer func() {
		t.mu.Lock()
		t.stopped = true
		t.tasks = nil
		t.mu.Unlock()
	}()

	for {
		t.processDue()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (t *Timer) processDue() {
	begin := time.Now()
	for {
		task, ok := t.popDue()
		if !ok {
			return
		}
		debug.Printf("timer: triggered %s late", t.now().Sub(task.deadline))
		if t.dispatch == nil || !t.dispatch.Dispatch(task.cb) {
			task.cb()
		}
		if time.Since(begin) > TimerBatchBudget {
			runtime.Gosched()
			begin = time.Now()
		}
	}
}

func (t *Timer) popDue() (timerTask, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tasks.Len() == 0 || t.tasks[0].deadline.After(t.now()) {
		return timerTask{}, false
	}
	return heap.Pop(&t.tasks).(timerTask), true
}
