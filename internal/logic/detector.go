package logic

import (
	"log"
	"sync"
	"time"

	"github.com/sweeney/now-remote/internal/debug"
)

// GestureFunc receives the click count of a classified gesture.
type GestureFunc func(count uint8)

// Detector classifies the edges of one button into clicks and holds.
//
// OnEdge is the interrupt path and may run on any goroutine; Handle runs on
// the application loop. Both take the logical level (true = active) so the
// detector never touches hardware.
type Detector struct {
	mu        sync.Mutex
	pin       int
	intervals Intervals

	initialized   bool
	hold          bool
	clickCount    int
	lastImpulse   time.Time
	lastHoldCall  time.Time
	lastEdgeLevel bool
	last          ButtonState

	onClick       GestureFunc
	onHold        GestureFunc
	onHoldRelease GestureFunc
}

// NewDetector creates a detector for the button on pin.
func NewDetector(pin int, intervals Intervals) *Detector {
	return &Detector{pin: pin, intervals: intervals}
}

// Pin returns the line offset this detector was created for.
func (d *Detector) Pin() int {
	return d.pin
}

// SetOnClick installs the click callback.
func (d *Detector) SetOnClick(fn GestureFunc) { d.mu.Lock(); d.onClick = fn; d.mu.Unlock() }

// SetOnHold installs the callback fired every HoldCall while holding.
func (d *Detector) SetOnHold(fn GestureFunc) { d.mu.Lock(); d.onHold = fn; d.mu.Unlock() }

// SetOnHoldRelease installs the callback fired once when a hold ends.
func (d *Detector) SetOnHoldRelease(fn GestureFunc) { d.mu.Lock(); d.onHoldRelease = fn; d.mu.Unlock() }

// Begin arms the detector with the line's current level. When the board was
// woken by this pin and the press already finished before boot, that press
// is counted as the first click. Calling Begin twice has no effect.
func (d *Detector) Begin(level, wokeByPin bool, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return
	}

	d.lastImpulse = now
	if wokeByPin && !level {
		d.clickCount = 1
		log.Printf("button(%d): counting the press that woke the board", d.pin)
	}
	d.lastEdgeLevel = level
	d.initialized = true
	log.Printf("button(%d): watching edges", d.pin)
}

// End stops classification and clears the live counters.
// The last snapshot is kept.
func (d *Detector) End() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return
	}
	d.clickCount = 0
	d.hold = false
	d.initialized = false
	log.Printf("button(%d): stopped watching edges", d.pin)
}

// OnEdge records a level change reported by the line.
func (d *Detector) OnEdge(level bool, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return
	}

	delta := now.Sub(d.lastImpulse)
	d.lastImpulse = now
	if delta < d.intervals.Silence {
		debug.Printf("button(%d): filtering noise", d.pin)
		return
	}

	// Two edges reporting the same level mean one was lost to bounce.
	if level == d.lastEdgeLevel {
		debug.Printf("button(%d): repeated level %v, inverting", d.pin, level)
		level = !level
	}
	d.lastEdgeLevel = level

	if level {
		if (d.clickCount > 0 || d.hold) && delta > d.intervals.Reset {
			debug.Printf("button(%d): stale gesture, starting over", d.pin)
			d.hold = false
			d.clickCount = 0
		}
		return
	}
	if !d.hold {
		d.clickCount++
	}
}

// Handle advances the gesture with the current level and fires callbacks.
func (d *Detector) Handle(level bool, now time.Time) {
	d.mu.Lock()
	if !d.initialized {
		d.mu.Unlock()
		return
	}

	var fire []func()
	delta := now.Sub(d.lastImpulse)

	if !d.hold && level && delta >= d.intervals.Hold {
		debug.Printf("button(%d): hold", d.pin)
		d.hold = true
		d.clickCount++
		d.lastHoldCall = time.Time{}
	} else if d.hold && !level {
		count := clamp(d.clickCount)
		log.Printf("button(%d): hold release", d.pin)
		d.last = ButtonState{Hold: true, ClickCount: count, Timestamp: now}
		if fn := d.onHoldRelease; fn != nil {
			fire = append(fire, func() { fn(count) })
		}
		d.hold = false
		d.clickCount = 0
		d.lastEdgeLevel = false
	}

	if d.hold {
		if now.Sub(d.lastHoldCall) >= d.intervals.HoldCall {
			count := clamp(d.clickCount)
			log.Printf("button(%d): hold #%d", d.pin, count)
			d.last = ButtonState{Hold: true, ClickCount: count, Timestamp: now}
			if fn := d.onHold; fn != nil {
				fire = append(fire, func() { fn(count) })
			}
			d.lastHoldCall = now
		}
	} else if d.clickCount > 0 && delta > d.intervals.PressWait {
		count := clamp(d.clickCount)
		log.Printf("button(%d): click count %d", d.pin, count)
		d.last = ButtonState{Hold: false, ClickCount: count, Timestamp: now}
		if fn := d.onClick; fn != nil {
			fire = append(fire, func() { fn(count) })
		}
		d.clickCount = 0
		d.lastEdgeLevel = false
	}
	d.mu.Unlock()

	for _, fn := range fire {
		fn()
	}
}

// Idle reports whether no gesture is in progress.
func (d *Detector) Idle() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.hold && d.clickCount == 0
}

// LastState returns the most recently published snapshot.
func (d *Detector) LastState() ButtonState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// Event derives the reportable event from the last snapshot: a hold that
// has since ended is RELEASED.
func (d *Detector) Event() ButtonEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := ButtonEvent{Type: EventClicked, ClickCount: d.last.ClickCount}
	if d.last.Hold {
		e.Type = EventHold
		if !d.hold && d.clickCount == 0 {
			e.Type = EventReleased
		}
	}
	return e
}

func clamp(n int) uint8 {
	if n > 255 {
		return 255
	}
	return uint8(n)
}
