// Package led drives the status LED: counted blinks for result codes and a
// steady flash while the remote is busy.
package led

import (
	"log"
	"sync"
	"time"

	"github.com/sweeney/now-remote/internal/debug"
	"github.com/sweeney/now-remote/internal/gpio"
)

// Default blink timings.
const (
	DefaultActive = 60 * time.Millisecond
	DefaultGap    = 140 * time.Millisecond
	DefaultRepeat = 3 * time.Second
)

// Led is a tick-driven LED on a GPIO output.
type Led struct {
	mu  sync.Mutex
	out gpio.Output

	activeDuration time.Duration
	gapDuration    time.Duration
	repeatInterval time.Duration

	active        bool
	continuously  bool
	blinkCount    int
	blinkLeft     int
	flashDuration time.Duration
	start         time.Time
	lit           bool
}

// New creates an LED with the default timings, initially off.
func New(out gpio.Output) *Led {
	return &Led{
		out:            out,
		activeDuration: DefaultActive,
		gapDuration:    DefaultGap,
		repeatInterval: DefaultRepeat,
	}
}

// SetTimings overrides the blink on-time, gap and continuous repeat interval.
func (l *Led) SetTimings(active, gap, repeat time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.activeDuration, l.gapDuration, l.repeatInterval = active, gap, repeat
}

// BlinkDuration returns how long n blinks take.
func (l *Led) BlinkDuration(n int) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Duration(n) * (l.activeDuration + l.gapDuration)
}

// Flash lights the LED for d, or until TurnOff when d is zero.
// An ongoing flash is left alone.
func (l *Led) Flash(d time.Duration, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active && l.blinkCount == 0 {
		return
	}
	l.active = true
	l.start = now
	l.flashDuration = d
	l.blinkCount = 0
	l.blinkLeft = 0
	l.continuously = false
	l.set(true)
	debug.Printf("led: flash for %s", d)
}

// Blink starts n blinks, repeated every repeat interval when continuously.
// A running blink sequence is reconfigured in place; n == 0 turns it off.
func (l *Led) Blink(n int, continuously bool, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.active && n == 0:
		l.turnOff()
	case l.active && l.blinkCount > 0:
		l.continuously = continuously
		l.blinkCount = n
		l.blinkLeft = min(l.blinkLeft, n)
		debug.Printf("led: reconfigure blink, count %d", n)
	default:
		l.active = true
		l.start = now
		l.flashDuration = 0
		l.blinkCount = n
		l.blinkLeft = n
		l.continuously = continuously
		l.set(true)
		debug.Printf("led: blink %d times", n)
	}
}

// TurnOff stops any blink or flash.
func (l *Led) TurnOff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turnOff()
}

func (l *Led) turnOff() {
	if !l.active {
		return
	}
	l.active = false
	l.set(false)
	debug.Printf("led: off")
}

// Active reports whether a blink or flash is running.
func (l *Led) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// BlinkCount returns the configured blink count, zero when flashing.
func (l *Led) BlinkCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blinkCount
}

// Tick advances the blink pattern.
func (l *Led) Tick(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.active {
		return
	}

	delta := now.Sub(l.start)
	switch {
	case l.blinkLeft > 0:
		if delta < l.activeDuration {
			l.set(true)
			return
		}
		l.set(false)
		if delta-l.activeDuration >= l.gapDuration {
			l.start = now
			l.blinkLeft--
			if l.blinkLeft == 0 && !l.continuously {
				l.turnOff()
			}
		}
	case l.blinkCount > 0 && l.continuously:
		if delta > l.repeatInterval {
			l.start = now
			l.blinkLeft = l.blinkCount
			l.set(true)
		}
	default:
		if l.flashDuration > 0 && delta >= l.flashDuration {
			l.turnOff()
		}
	}
}

func (l *Led) set(on bool) {
	if l.lit == on {
		return
	}
	if err := l.out.Set(on); err != nil {
		log.Printf("led: %v", err)
		return
	}
	l.lit = on
}
