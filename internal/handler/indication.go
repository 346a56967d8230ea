package handler

import (
	"time"

	"github.com/sweeney/now-remote/internal/async"
)

// Indicator is the status LED.
type Indicator interface {
	TurnOff()
	Blink(n int, continuously bool, now time.Time)
	BlinkDuration(n int) time.Duration
}

// StateIndication blinks a result code and completes once the blinks are
// over.
type StateIndication struct {
	*Handler[async.Void]
	led   Indicator
	timer Timer
}

// NewStateIndication creates the indication handler.
func NewStateIndication(led Indicator, timer Timer) *StateIndication {
	return &StateIndication{
		Handler: newHandler[async.Void]("indication", timer),
		led:     led,
		timer:   timer,
	}
}

// Begin blinks n times starting at now.
func (s *StateIndication) Begin(n int, now time.Time) bool {
	return s.Start(func() async.Future[async.Void] {
		s.led.TurnOff()
		s.led.Blink(n, false, now)
		return s.timer.Delay(s.led.BlinkDuration(n))
	}, 0)
}
