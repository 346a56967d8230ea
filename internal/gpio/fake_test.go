package gpio

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFakeInputsEdges(t *testing.T) {
	f := NewFakeInputs(4, 17)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	var edges []Edge
	f.Watch(func(e Edge) { edges = append(edges, e) })

	f.SetLevel(17, true, now)
	f.SetLevel(17, false, now.Add(50*time.Millisecond))

	if len(edges) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(edges))
	}
	if edges[0].Pin != 17 || !edges[0].Active {
		t.Errorf("unexpected first edge %+v", edges[0])
	}
	if edges[1].Active || !edges[1].Time.Equal(now.Add(50*time.Millisecond)) {
		t.Errorf("unexpected second edge %+v", edges[1])
	}

	level, err := f.Level(17)
	if err != nil || level {
		t.Errorf("expected inactive, got %v, %v", level, err)
	}
}

func TestFakeInputsUnknownPin(t *testing.T) {
	f := NewFakeInputs(4)
	if _, err := f.Level(5); !errors.Is(err, ErrUnknownPin) {
		t.Errorf("expected ErrUnknownPin, got %v", err)
	}
}

func TestFakeInputsClose(t *testing.T) {
	f := NewFakeInputs(4)
	called := false
	f.Watch(func(Edge) { called = true })

	if err := f.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.SetLevel(4, true, time.Now())
	if called {
		t.Error("closed lines must not deliver edges")
	}
	if !f.Closed {
		t.Error("should be closed after Close()")
	}
}

func TestFakeOutputPulses(t *testing.T) {
	f := &FakeOutput{}
	for _, on := range []bool{true, false, false, true, true, false} {
		f.Set(on)
	}
	if got := f.Pulses(); got != 2 {
		t.Errorf("expected 2 pulses, got %d", got)
	}
	if f.On() {
		t.Error("expected off")
	}
}

func TestFakeWaker(t *testing.T) {
	w := &FakeWaker{Masks: []uint64{Mask([]int{17})}}

	mask, err := w.WaitForWake(context.Background(), []int{4, 17})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !Woken(mask, 17) || Woken(mask, 4) {
		t.Errorf("unexpected mask %b", mask)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := w.WaitForWake(ctx, []int{4}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if len(w.Calls) != 2 {
		t.Errorf("expected 2 calls, got %d", len(w.Calls))
	}
}

func TestMask(t *testing.T) {
	m := Mask([]int{0, 1, 26})
	if m != 1|2|1<<26 {
		t.Errorf("unexpected mask %b", m)
	}
	if Woken(m, 2) {
		t.Error("pin 2 not in mask")
	}
}
