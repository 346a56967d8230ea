package logic

import "time"

// Report is one button report received by the hub.
type Report struct {
	ID         string
	Remote     string
	Events     []ButtonEvent
	ReceivedAt time.Time
}

// Clicks returns the total click count across all buttons.
func (r Report) Clicks() int {
	n := 0
	for _, e := range r.Events {
		n += int(e.ClickCount)
	}
	return n
}
