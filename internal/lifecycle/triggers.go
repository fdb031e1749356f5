// Package lifecycle wires page events to the tracker: named flush triggers
// and the built-in page-activity producers.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"example.com/pagepulse/internal/clock"
	"example.com/pagepulse/internal/tracker"
)

// Core is the part of the tracker service the lifecycle layer drives.
type Core interface {
	Enqueue(eventType string, payload any)
	Flush(ctx context.Context) tracker.FlushResult
	FlushAsync()
	TouchSession()
	NoteReferrer(ref string)
}

const (
	DefaultHeartbeat       = 5 * time.Second
	DefaultRouteFlushDelay = 250 * time.Millisecond
)

// Triggers converge every flush source on the tracker's single flush entry
// point; the tracker's own guard rejects overlaps.
type Triggers struct {
	core       Core
	clock      clock.Clock
	interval   time.Duration
	routeDelay time.Duration
	lg         zerolog.Logger

	mu        sync.Mutex
	running   bool
	heartbeat clock.Timer
	route     clock.Timer
}

func NewTriggers(core Core, clk clock.Clock, interval, routeDelay time.Duration, lg zerolog.Logger) *Triggers {
	if clk == nil {
		clk = clock.Real()
	}
	if interval <= 0 {
		interval = DefaultHeartbeat
	}
	if routeDelay < 0 {
		routeDelay = DefaultRouteFlushDelay
	}
	return &Triggers{
		core:       core,
		clock:      clk,
		interval:   interval,
		routeDelay: routeDelay,
		lg:         lg.With().Str("component", "triggers").Logger(),
	}
}

// Start arms the heartbeat timer.
func (t *Triggers) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.running = true
	t.armHeartbeatLocked()
}

// Stop disarms all timers. Pending records stay queued.
func (t *Triggers) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	if t.heartbeat != nil {
		t.heartbeat.Stop()
		t.heartbeat = nil
	}
	if t.route != nil {
		t.route.Stop()
		t.route = nil
	}
}

func (t *Triggers) armHeartbeatLocked() {
	t.heartbeat = t.clock.AfterFunc(t.interval, t.tick)
}

func (t *Triggers) tick() {
	t.core.FlushAsync()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		t.armHeartbeatLocked()
	}
}

// Online handles the network coming back.
func (t *Triggers) Online() {
	t.lg.Debug().Msg("online")
	t.core.FlushAsync()
}

// Hidden handles the page becoming hidden.
func (t *Triggers) Hidden() {
	t.core.FlushAsync()
}

// Unload flushes directly, without any delay. With a working beacon this
// returns as soon as the batch is accepted for dispatch.
func (t *Triggers) Unload(ctx context.Context) tracker.FlushResult {
	res := t.core.Flush(ctx)
	t.lg.Debug().Str("outcome", res.Outcome.String()).Int("count", res.Count).Msg("unload flush")
	return res
}

// RouteChanged schedules a flush after the route delay, restarting the
// countdown on every call so the navigation's own pageview is included.
func (t *Triggers) RouteChanged() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.route != nil {
		t.route.Stop()
	}
	var timer clock.Timer
	timer = t.clock.AfterFunc(t.routeDelay, func() {
		t.mu.Lock()
		if t.route != timer {
			// Superseded or stopped while this callback was starting.
			t.mu.Unlock()
			return
		}
		t.route = nil
		t.mu.Unlock()
		t.core.FlushAsync()
	})
	t.route = timer
}
