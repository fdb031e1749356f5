package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/pagepulse/internal/clock"
	"example.com/pagepulse/internal/config"
	"example.com/pagepulse/internal/domain"
	"example.com/pagepulse/internal/kv"
	"example.com/pagepulse/internal/lifecycle"
	"example.com/pagepulse/internal/page"
	"example.com/pagepulse/internal/tracker"
)

type recordingBeacon struct {
	mu     sync.Mutex
	events []domain.EventRecord
}

func (b *recordingBeacon) Send(_ string, body []byte) bool {
	var batch domain.Batch
	if err := json.Unmarshal(body, &batch); err != nil {
		return false
	}
	b.mu.Lock()
	b.events = append(b.events, batch.Events...)
	b.mu.Unlock()
	return true
}

func (b *recordingBeacon) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	svc    *tracker.Service
	runner *Runner
	beacon *recordingBeacon
	clk    *clock.Fake
}

func newHarness(t *testing.T, requireConsent bool) *harness {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	state := page.NewState()
	state.SetViewport(1000, 800)
	state.SetDocumentHeight(3200)
	state.SetLanguage("en-US")

	beacon := &recordingBeacon{}
	net := &Network{Beacon: beacon}

	cfg := config.DefaultTracker()
	cfg.SiteID = "site-1"
	cfg.Endpoint = "https://collect.example.com/v1/collect"
	cfg.RequireConsent = requireConsent

	svc := tracker.NewService(cfg, tracker.ServiceDeps{
		Store:  kv.New(kv.NewMemory(), zerolog.Nop()),
		Env:    state,
		Beacon: net,
		Poster: net,
		Clock:  clk,
		Logger: zerolog.Nop(),
	})
	trig := lifecycle.NewTriggers(svc, clk, cfg.HeartbeatInterval, cfg.RouteFlushDelay, zerolog.Nop())
	r := &Runner{
		Tracker: svc,
		Page:    lifecycle.NewPage(svc, state, trig),
		State:   state,
		Network: net,
		Log:     zerolog.Nop(),
		Sleep: func(_ context.Context, d time.Duration) error {
			clk.Advance(d)
			return nil
		},
	}
	return &harness{svc: svc, runner: r, beacon: beacon, clk: clk}
}

func mustParse(t *testing.T, script string) []Step {
	t.Helper()
	steps, err := ParseScript(strings.NewReader(script))
	require.NoError(t, err)
	return steps
}

func TestParseScript(t *testing.T) {
	steps := mustParse(t, `
# a comment
{"op":"load","url":"https://shop.example.com/","title":"Shop"}

{"op":"CLICK","target":"#buy","data":{"sku":"42"}}
`)
	require.Len(t, steps, 2)
	assert.Equal(t, OpLoad, steps[0].Op)
	assert.Equal(t, OpClick, steps[1].Op)
	assert.Equal(t, "42", steps[1].Data["sku"])
}

func TestParseScript_Errors(t *testing.T) {
	_, err := ParseScript(strings.NewReader(`{"op":"jump"}`))
	assert.ErrorContains(t, err, `line 1: unknown op "jump"`)

	_, err = ParseScript(strings.NewReader("{\"op\":\"load\"}\n{\"op\":\"load\",\"bogus\":1}"))
	assert.ErrorContains(t, err, "line 2")

	_, err = ParseScript(strings.NewReader(`{"op":`))
	assert.Error(t, err)
}

func TestRunner_SessionFlow(t *testing.T) {
	h := newHarness(t, false)
	steps := mustParse(t, `
{"op":"load","url":"https://shop.example.com/?utm_source=news","title":"Shop","referrer":"https://news.example.org/a"}
{"op":"click","target":"#buy"}
{"op":"scroll","y":1600}
{"op":"route","url":"https://shop.example.com/cart","title":"Cart"}
{"op":"wait","ms":250}
`)
	require.NoError(t, h.runner.Run(context.Background(), steps))

	assert.Equal(t, []string{"pageview", "click", "scroll_depth", "scroll_depth", "scroll_depth", "pageview"}, h.beacon.types())
	assert.Zero(t, h.svc.Len())

	first := h.beacon.events[0]
	assert.Equal(t, "site-1", first.SiteID)
	assert.Equal(t, map[string]string{"utm_source": "news"}, first.UTMParameters)
	assert.Equal(t, []string{"https://news.example.org/a"}, first.ReferrerTrail)
	assert.Equal(t, "/cart", *h.beacon.events[5].Path)
}

func TestRunner_OfflineRequeuesUntilOnline(t *testing.T) {
	h := newHarness(t, false)
	steps := mustParse(t, `
{"op":"load","url":"https://shop.example.com/"}
{"op":"offline"}
{"op":"hidden"}
`)
	require.NoError(t, h.runner.Run(context.Background(), steps))

	// The fallback runs in the background and puts the batch back.
	require.Eventually(t, func() bool { return !h.svc.Flushing() && h.svc.Len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, h.beacon.types())

	require.NoError(t, h.runner.Run(context.Background(), mustParse(t, `{"op":"online"}`)))
	assert.Equal(t, []string{"pageview", "visibility"}, h.beacon.types())
	assert.Zero(t, h.svc.Len())
}

func TestRunner_ConsentGatesCollection(t *testing.T) {
	h := newHarness(t, true)
	steps := mustParse(t, `
{"op":"custom","type":"signup","data":{"plan":"pro"}}
{"op":"consent","grant":true}
{"op":"custom","type":"signup","data":{"plan":"pro"}}
{"op":"unload"}
{"op":"consent"}
{"op":"custom","type":"ignored"}
`)
	require.NoError(t, h.runner.Run(context.Background(), steps))
	assert.Equal(t, []string{"signup"}, h.beacon.types())
	assert.Zero(t, h.svc.Len())
}

func TestRunner_DoNotTrack(t *testing.T) {
	h := newHarness(t, false)
	steps := mustParse(t, `
{"op":"dnt","value":"1"}
{"op":"load","url":"https://shop.example.com/"}
{"op":"unload"}
`)
	require.NoError(t, h.runner.Run(context.Background(), steps))
	assert.Empty(t, h.beacon.types())
}

func TestRunner_StopsOnCancel(t *testing.T) {
	h := newHarness(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.runner.Run(ctx, mustParse(t, `{"op":"click","target":"a"}`))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, h.svc.Len())
}

func TestNetwork(t *testing.T) {
	b := &recordingBeacon{}
	n := &Network{Beacon: b}
	assert.True(t, n.Send("u", []byte(`{"events":[]}`)))

	n.SetOffline(true)
	assert.True(t, n.Offline())
	assert.False(t, n.Send("u", []byte(`{"events":[]}`)))
	assert.ErrorIs(t, n.Post(context.Background(), "u", nil), ErrOffline)
}
