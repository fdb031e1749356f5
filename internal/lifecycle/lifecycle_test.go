package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/pagepulse/internal/clock"
	"example.com/pagepulse/internal/domain"
	"example.com/pagepulse/internal/page"
	"example.com/pagepulse/internal/tracker"
)

type enqueued struct {
	typ     string
	payload map[string]any
}

type fakeCore struct {
	mu        sync.Mutex
	calls     []string
	events    []enqueued
	referrers []string
}

func (c *fakeCore) log(s string) {
	c.mu.Lock()
	c.calls = append(c.calls, s)
	c.mu.Unlock()
}

func (c *fakeCore) Enqueue(eventType string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "enqueue:"+eventType)
	m, _ := payload.(map[string]any)
	c.events = append(c.events, enqueued{eventType, m})
}

func (c *fakeCore) Flush(context.Context) tracker.FlushResult {
	c.log("flush")
	return tracker.FlushResult{Outcome: tracker.Delivered, Via: tracker.ViaBeacon}
}

func (c *fakeCore) FlushAsync()   { c.log("flush_async") }
func (c *fakeCore) TouchSession() { c.log("touch") }

func (c *fakeCore) NoteReferrer(ref string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "referrer")
	c.referrers = append(c.referrers, ref)
}

func (c *fakeCore) count(call string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, x := range c.calls {
		if x == call {
			n++
		}
	}
	return n
}

func (c *fakeCore) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func newTriggers() (*Triggers, *fakeCore, *clock.Fake) {
	core := &fakeCore{}
	clk := clock.NewFake(time.Unix(0, 0))
	return NewTriggers(core, clk, 5*time.Second, 250*time.Millisecond, zerolog.Nop()), core, clk
}

func TestTriggers_Heartbeat(t *testing.T) {
	tr, core, clk := newTriggers()
	tr.Start()
	tr.Start()

	clk.Advance(4999 * time.Millisecond)
	assert.Equal(t, 0, core.count("flush_async"))

	clk.Advance(time.Millisecond)
	assert.Equal(t, 1, core.count("flush_async"))

	clk.Advance(10 * time.Second)
	assert.Equal(t, 3, core.count("flush_async"))

	tr.Stop()
	clk.Advance(time.Minute)
	assert.Equal(t, 3, core.count("flush_async"))
	assert.Equal(t, 0, clk.Pending())
}

func TestTriggers_RouteChangeIsDebounced(t *testing.T) {
	tr, core, clk := newTriggers()

	tr.RouteChanged()
	clk.Advance(200 * time.Millisecond)
	tr.RouteChanged()
	clk.Advance(200 * time.Millisecond)
	assert.Equal(t, 0, core.count("flush_async"))

	clk.Advance(50 * time.Millisecond)
	assert.Equal(t, 1, core.count("flush_async"))

	clk.Advance(time.Second)
	assert.Equal(t, 1, core.count("flush_async"))
}

func TestTriggers_ImmediateSources(t *testing.T) {
	tr, core, _ := newTriggers()
	tr.Online()
	tr.Hidden()
	assert.Equal(t, 2, core.count("flush_async"))

	res := tr.Unload(context.Background())
	assert.Equal(t, tracker.Delivered, res.Outcome)
	assert.Equal(t, 1, core.count("flush"))
}

func newPage(referrer string) (*Page, *fakeCore, *page.State, *clock.Fake) {
	tr, core, clk := newTriggers()
	env := page.NewState()
	env.SetURL("https://shop.example.com/")
	env.SetReferrer(referrer)
	env.SetViewport(800, 500)
	env.SetDocumentHeight(2000)
	return NewPage(core, env, tr), core, env, clk
}

func TestPage_LoadNotesExternalReferrerFirst(t *testing.T) {
	p, core, _, _ := newPage("https://news.example.org/story")
	p.Load()

	assert.Equal(t, []string{"referrer", "enqueue:" + domain.TypePageView}, core.snapshot())
	assert.Equal(t, []string{"https://news.example.org/story"}, core.referrers)
}

func TestPage_LoadSkipsInternalOrEmptyReferrer(t *testing.T) {
	for _, ref := range []string{"", "https://SHOP.example.com/prev", "not a url"} {
		p, core, _, _ := newPage(ref)
		p.Load()
		assert.Equal(t, 0, core.count("referrer"), ref)
		assert.Equal(t, 1, core.count("enqueue:"+domain.TypePageView))
	}
}

func TestPage_RouteChangedOrdersPageviewBeforeFlush(t *testing.T) {
	p, core, env, clk := newPage("")
	env.SetURL("https://shop.example.com/cart")
	p.RouteChanged()

	assert.Equal(t, []string{"touch", "enqueue:" + domain.TypePageView}, core.snapshot())
	clk.Advance(250 * time.Millisecond)
	assert.Equal(t, []string{"touch", "enqueue:" + domain.TypePageView, "flush_async"}, core.snapshot())
	assert.Equal(t, "spa", core.events[0].payload["navigation"])
}

func TestPage_ScrollMilestonesOncePerView(t *testing.T) {
	p, core, env, _ := newPage("")

	env.SetScroll(0, 600) // (600+500)/2000 = 55%
	p.Scrolled()
	p.Scrolled()
	env.SetScroll(0, 1500)
	p.Scrolled()

	var depths []any
	for _, e := range core.events {
		depths = append(depths, e.payload["depth"])
	}
	assert.Equal(t, []any{25, 50, 75, 100}, depths)

	p.RouteChanged()
	env.SetScroll(0, 0)
	p.Scrolled()
	assert.Equal(t, 25, core.events[len(core.events)-1].payload["depth"])
}

func TestPage_VisibilityHiddenFlushes(t *testing.T) {
	p, core, _, _ := newPage("")
	p.VisibilityChanged(false)
	assert.Equal(t, 0, core.count("flush_async"))

	p.VisibilityChanged(true)
	assert.Equal(t, 1, core.count("flush_async"))
	require.Len(t, core.events, 2)
	assert.Equal(t, "hidden", core.events[1].payload["state"])
}

func TestPage_ProducersEnqueueTypedEvents(t *testing.T) {
	p, core, _, _ := newPage("")
	p.Click("#buy", map[string]any{"target": "ignored", "sku": "42"})
	p.Error("boom", "app.js", 12)
	p.Performance(map[string]float64{"ttfb": 120})
	p.Online()
	p.Unload(context.Background())

	require.Len(t, core.events, 3)
	assert.Equal(t, enqueued{domain.TypeClick, map[string]any{"target": "#buy", "sku": "42"}}, core.events[0])
	assert.Equal(t, domain.TypeError, core.events[1].typ)
	assert.Equal(t, 12, core.events[1].payload["line"])
	assert.Equal(t, 120.0, core.events[2].payload["ttfb"])
	assert.Equal(t, 1, core.count("flush_async"))
	assert.Equal(t, 1, core.count("flush"))
}

// lateTimer never prevents its callback, like a real timer whose callback
// has already started.
type lateTimer struct{ stopped bool }

func (l *lateTimer) Stop() bool {
	l.stopped = true
	return false
}

type manualClock struct {
	fns    []func()
	timers []*lateTimer
}

func (c *manualClock) Now() time.Time { return time.Unix(0, 0) }

func (c *manualClock) AfterFunc(_ time.Duration, f func()) clock.Timer {
	lt := &lateTimer{}
	c.fns = append(c.fns, f)
	c.timers = append(c.timers, lt)
	return lt
}

func TestTriggers_SupersededRouteCallbackKeepsNewTimer(t *testing.T) {
	core := &fakeCore{}
	clk := &manualClock{}
	tr := NewTriggers(core, clk, time.Second, 250*time.Millisecond, zerolog.Nop())

	tr.RouteChanged()
	tr.RouteChanged()
	require.Len(t, clk.fns, 2)

	// The first callback lost the race with the second RouteChanged.
	clk.fns[0]()
	assert.Equal(t, 0, core.count("flush_async"))

	tr.Stop()
	assert.True(t, clk.timers[1].stopped, "Stop must still reach the newest timer")

	// A callback firing after Stop does nothing either.
	clk.fns[1]()
	assert.Equal(t, 0, core.count("flush_async"))
}

func TestTriggers_RouteCallbackClearsItsOwnTimer(t *testing.T) {
	core := &fakeCore{}
	clk := &manualClock{}
	tr := NewTriggers(core, clk, time.Second, 250*time.Millisecond, zerolog.Nop())

	tr.RouteChanged()
	clk.fns[0]()
	assert.Equal(t, 1, core.count("flush_async"))

	tr.Stop()
	assert.False(t, clk.timers[0].stopped)
}
