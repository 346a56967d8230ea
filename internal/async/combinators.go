package async

import (
	"sync"
	"time"
)

// Then chains fn onto a successful future; fn's future becomes the outcome.
// Failure short-circuits to the chained future without calling fn.
func Then[T, R any](f Future[T], fn func(T) Future[R]) Future[R] {
	chained := NewPromise[R]()
	f.OnFinished(func(err error) {
		if err != nil {
			chained.settle(*new(R), err)
			return
		}
		next := fn(f.Result())
		next.OnFinished(func(error) { chained.adopt(next) })
	})
	return chained.Future()
}

// Map is Then for continuations that produce a plain value.
func Map[T, R any](f Future[T], fn func(T) R) Future[R] {
	chained := NewPromise[R]()
	f.OnFinished(func(err error) {
		if err != nil {
			chained.settle(*new(R), err)
			return
		}
		chained.settle(fn(f.Result()), nil)
	})
	return chained.Future()
}

// Discard erases the value type of f.
func Discard[T any](f Future[T]) Future[Void] {
	return Map(f, func(T) Void { return Void{} })
}

// All succeeds once every input succeeds and fails on the first input error.
// An empty input fails with ErrEmpty.
func All(futures ...Awaitable) Future[Void] {
	result := NewPromise[Void]()
	if len(futures) == 0 {
		result.settle(Void{}, ErrEmpty)
		return result.Future()
	}

	var mu sync.Mutex
	left := len(futures)
	for _, f := range futures {
		f.OnFinished(func(err error) {
			if err != nil {
				result.settle(Void{}, err)
				return
			}
			mu.Lock()
			left--
			last := left == 0
			mu.Unlock()
			if last {
				result.settle(Void{}, nil)
			}
		})
	}
	return result.Future()
}

// Any settles with the outcome of the first input to finish.
// An empty input fails with ErrEmpty.
func Any(futures ...Awaitable) Future[Void] {
	result := NewPromise[Void]()
	if len(futures) == 0 {
		result.settle(Void{}, ErrEmpty)
		return result.Future()
	}
	for _, f := range futures {
		f.OnFinished(func(err error) {
			result.settle(Void{}, err)
		})
	}
	return result.Future()
}

// Sequential runs first; each time the current step finishes, hasNext decides
// whether next is invoked with it. The last step's outcome is adopted.
func Sequential[T any](first Future[T], hasNext func(prev Future[T]) bool, next func(prev Future[T]) Future[T]) Future[T] {
	result := NewPromise[T]()
	sequentialStep(result, first, hasNext, next)
	return result.Future()
}

func sequentialStep[T any](result *Promise[T], step Future[T], hasNext func(Future[T]) bool, next func(Future[T]) Future[T]) {
	step.OnFinished(func(error) {
		if hasNext(step) {
			sequentialStep(result, next(step), hasNext, next)
			return
		}
		result.adopt(step)
	})
}

// WithTimeout settles with f's outcome if f finishes within d, otherwise with
// ErrTimeout. f keeps running; a late outcome is ignored.
func WithTimeout[T any](f Future[T], s Scheduler, d time.Duration) Future[T] {
	result := NewPromise[T]()
	if !s.SetTimeout(d, func() { result.settle(*new(T), ErrTimeout) }) {
		result.settle(*new(T), ErrSchedule)
		return result.Future()
	}
	f.OnFinished(func(error) { result.adopt(f) })
	return result.Future()
}
