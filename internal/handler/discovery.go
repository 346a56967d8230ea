package handler

import (
	"time"

	"github.com/sweeney/now-remote/internal/async"
	"github.com/sweeney/now-remote/internal/nowio"
)

// DefaultDiscoveryTimeout bounds a full channel scan.
const DefaultDiscoveryTimeout = 5 * time.Second

// Discoverer finds the hub.
type Discoverer interface {
	DiscoverHub() async.Future[nowio.Hub]
}

// Discovery runs a hub channel scan.
type Discovery struct {
	*Handler[nowio.Hub]
	io      Discoverer
	timeout time.Duration
}

// NewDiscovery creates a discovery handler.
func NewDiscovery(io Discoverer, timer Timer, timeout time.Duration) *Discovery {
	return &Discovery{
		Handler: newHandler[nowio.Hub]("discovery", timer),
		io:      io,
		timeout: timeout,
	}
}

// Begin starts the scan.
func (d *Discovery) Begin() bool {
	return d.Start(d.io.DiscoverHub, d.timeout)
}

// Hub returns the discovered hub once the scan succeeded.
func (d *Discovery) Hub() (nowio.Hub, bool) {
	if d.State() != Success {
		return nowio.Hub{}, false
	}
	hub, err := d.Future().Value()
	return hub, err == nil
}
