// Package status provides a thread-safe status tracker for the hub daemon.
// It is read by the HTTP handlers and the MQTT lifecycle events.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/sweeney/now-remote/internal/logic"
)

// Config contains hub configuration for display.
type Config struct {
	MAC         string
	Channel     uint8
	Broker      string
	TopicPrefix string
	HTTPAddr    string
	Journal     string
}

// Counts are the packets the hub has handled since start.
type Counts struct {
	Reports     int
	Pings       int
	Discoveries int
	Unknown     int
	Errors      int
}

// Remote is what the hub last heard from one remote.
type Remote struct {
	MAC        string
	Reports    int
	LastSeen   time.Time
	LastEvents []logic.ButtonEvent
}

// Snapshot is a point-in-time view of hub state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Counts        Counts
	Remotes       []Remote
	Config        Config
}

// Uptime returns the duration since the hub started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable hub state behind an RWMutex.
type Tracker struct {
	mu        sync.RWMutex
	snap      Snapshot
	remotes   map[string]*Remote
	clockFunc func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		remotes:   make(map[string]*Remote),
		clockFunc: time.Now,
	}
}

// RecordReport counts a button report and remembers it as the sender's latest.
func (t *Tracker) RecordReport(report logic.Report) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Counts.Reports++
	r, ok := t.remotes[report.Remote]
	if !ok {
		r = &Remote{MAC: report.Remote}
		t.remotes[report.Remote] = r
	}
	r.Reports++
	r.LastSeen = report.ReceivedAt
	r.LastEvents = append([]logic.ButtonEvent(nil), report.Events...)
}

// CountPing counts an answered PING.
func (t *Tracker) CountPing() {
	t.mu.Lock()
	t.snap.Counts.Pings++
	t.mu.Unlock()
}

// CountDiscovery counts an answered DISCOVERY.
func (t *Tracker) CountDiscovery() {
	t.mu.Lock()
	t.snap.Counts.Discoveries++
	t.mu.Unlock()
}

// CountUnknown counts a packet of a type the hub does not handle.
func (t *Tracker) CountUnknown() {
	t.mu.Lock()
	t.snap.Counts.Unknown++
	t.mu.Unlock()
}

// CountError counts a packet that could not be decoded or answered.
func (t *Tracker) CountError() {
	t.mu.Lock()
	t.snap.Counts.Errors++
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetConfig replaces the displayed config after a reload.
func (t *Tracker) SetConfig(cfg Config) {
	t.mu.Lock()
	t.snap.Config = cfg
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the hub state, remotes sorted by
// MAC. The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Remotes = make([]Remote, 0, len(t.remotes))
	for _, r := range t.remotes {
		c := *r
		c.LastEvents = append([]logic.ButtonEvent(nil), r.LastEvents...)
		s.Remotes = append(s.Remotes, c)
	}
	t.mu.RUnlock()
	sort.Slice(s.Remotes, func(i, j int) bool { return s.Remotes[i].MAC < s.Remotes[j].MAC })
	s.Now = t.clockFunc()
	return s
}
