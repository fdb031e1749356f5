package lifecycle

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"example.com/pagepulse/internal/domain"
	"example.com/pagepulse/internal/page"
)

var scrollMilestones = []int{25, 50, 75, 100}

// Page turns host-page activity into tracker events. It only talks to the
// core through Enqueue and the session/referrer accessors.
type Page struct {
	core     Core
	env      page.Environment
	triggers *Triggers

	mu          sync.Mutex
	scrollMarks map[int]bool
}

func NewPage(core Core, env page.Environment, triggers *Triggers) *Page {
	return &Page{core: core, env: env, triggers: triggers, scrollMarks: map[int]bool{}}
}

// Load records the initial pageview. An external referrer joins the trail
// first so the pageview carries it.
func (p *Page) Load() {
	if ref, ok := p.externalReferrer(); ok {
		p.core.NoteReferrer(ref)
	}
	p.core.Enqueue(domain.TypePageView, map[string]any{"navigation": "load"})
}

// RouteChanged records an SPA navigation; the environment must already
// reflect the new URL.
func (p *Page) RouteChanged() {
	p.mu.Lock()
	p.scrollMarks = map[int]bool{}
	p.mu.Unlock()

	p.core.TouchSession()
	p.core.Enqueue(domain.TypePageView, map[string]any{"navigation": "spa"})
	if p.triggers != nil {
		p.triggers.RouteChanged()
	}
}

func (p *Page) Click(target string, extra map[string]any) {
	payload := map[string]any{"target": target}
	for k, v := range extra {
		if k != "target" {
			payload[k] = v
		}
	}
	p.core.Enqueue(domain.TypeClick, payload)
}

// Scrolled records each depth milestone once per page view.
func (p *Page) Scrolled() {
	depth, err := page.ScrollDepth(p.env)
	if err != nil {
		return
	}
	var reached []int
	p.mu.Lock()
	for _, m := range scrollMilestones {
		if depth >= m && !p.scrollMarks[m] {
			p.scrollMarks[m] = true
			reached = append(reached, m)
		}
	}
	p.mu.Unlock()

	for _, m := range reached {
		p.core.Enqueue(domain.TypeScrollDepth, map[string]any{"depth": m})
	}
}

func (p *Page) Error(message, source string, line int) {
	p.core.Enqueue(domain.TypeError, map[string]any{
		"message": message,
		"source":  source,
		"line":    line,
	})
}

func (p *Page) VisibilityChanged(hidden bool) {
	state := "visible"
	if hidden {
		state = "hidden"
	}
	p.core.Enqueue(domain.TypeVisibility, map[string]any{"state": state})
	if hidden && p.triggers != nil {
		p.triggers.Hidden()
	}
}

// Performance records navigation timings in milliseconds.
func (p *Page) Performance(timings map[string]float64) {
	payload := make(map[string]any, len(timings))
	for k, v := range timings {
		payload[k] = v
	}
	p.core.Enqueue(domain.TypePerformance, payload)
}

func (p *Page) Online() {
	if p.triggers != nil {
		p.triggers.Online()
	}
}

func (p *Page) Unload(ctx context.Context) {
	if p.triggers != nil {
		p.triggers.Unload(ctx)
	}
}

func (p *Page) externalReferrer() (string, bool) {
	if p.env == nil {
		return "", false
	}
	ref, err := p.env.Referrer()
	if err != nil || strings.TrimSpace(ref) == "" {
		return "", false
	}
	refURL, err := url.Parse(ref)
	if err != nil || refURL.Host == "" {
		return "", false
	}
	cur, err := p.env.URL()
	if err != nil {
		return ref, true
	}
	curURL, err := url.Parse(cur)
	if err != nil {
		return ref, true
	}
	return ref, !strings.EqualFold(refURL.Host, curURL.Host)
}
