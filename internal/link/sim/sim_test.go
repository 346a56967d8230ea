package sim

import (
	"sync"
	"testing"
	"time"

	"github.com/sweeney/now-remote/internal/link"
)

func TestBlackholeSwallowsCompletion(t *testing.T) {
	e := NewEther()
	a := e.Station(link.MAC{1})
	b := e.Station(link.MAC{2})

	var mu sync.Mutex
	var results []bool
	a.Init(func(_ link.MAC, ok bool) {
		mu.Lock()
		results = append(results, ok)
		mu.Unlock()
	}, nil)
	b.Init(nil, nil)
	defer a.Close()
	defer b.Close()

	e.Blackhole(link.MAC{2}, true)
	if err := a.Send(link.MAC{2}, []byte{1}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	if len(results) != 0 {
		t.Errorf("blackholed send must not complete, got %v", results)
	}
	mu.Unlock()
	if len(a.SentPackets()) != 1 {
		t.Error("send should still be recorded")
	}

	e.Blackhole(link.MAC{2}, false)
	a.Send(link.MAC{2}, []byte{2})
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(results) != 1 || !results[0] {
		t.Errorf("expected one successful completion, got %v", results)
	}
}

func TestClosedStation(t *testing.T) {
	e := NewEther()
	a := e.Station(link.MAC{1})
	a.Close()
	if err := a.Init(nil, nil); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := a.Send(link.MAC{2}, nil); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestSendBeforeInit(t *testing.T) {
	e := NewEther()
	a := e.Station(link.MAC{1})
	if err := a.Send(link.MAC{2}, nil); err != ErrNotStarted {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}
}
