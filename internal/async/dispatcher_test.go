package async

import (
	"context"
	"sync"
	"testing"
)

func TestDispatcherRunsInOrder(t *testing.T) {
	d := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Queued before Run starts; drained once it does.
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		i := i
		wg.Add(1)
		if !d.Dispatch(func() {
			order = append(order, i)
			wg.Done()
		}) {
			t.Fatal("Dispatch refused")
		}
	}
	go d.Run(ctx)
	wg.Wait()

	for i, v := range order {
		if v != i {
			t.Fatalf("dispatch order broken at %d: %d", i, v)
		}
	}
}

func TestDispatcherFromManyGoroutines(t *testing.T) {
	d := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	var mu sync.Mutex
	count := 0
	var wg sync.WaitGroup
	wg.Add(400)
	for g := 0; g < 8; g++ {
		go func() {
			for i := 0; i < 50; i++ {
				d.Dispatch(func() {
					mu.Lock()
					count++
					mu.Unlock()
					wg.Done()
				})
			}
		}()
	}
	wg.Wait()
	if count != 400 {
		t.Errorf("expected 400 callbacks, got %d", count)
	}
}

func TestDispatcherStopped(t *testing.T) {
	d := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if d.Dispatch(func() {}) {
		t.Error("stopped dispatcher should refuse work")
	}
	if d.Dispatch(nil) {
		t.Error("nil function should be refused")
	}
}
