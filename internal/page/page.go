// Package page reads the host page's environment at event time.
package page

import (
	"fmt"
	"net/url"

	"example.com/pagepulse/internal/domain"
)

// Environment is the host page as seen by the tracker. Any accessor may fail
// or panic; Snapshot degrades that field to nil.
type Environment interface {
	URL() (string, error)
	Title() (string, error)
	Referrer() (string, error)
	Language() (string, error)
	Timezone() (string, error)
	Viewport() (domain.Viewport, error)
	ScrollOffset() (domain.ScrollOffset, error)
	DocumentHeight() (int, error)
	DoNotTrackSignals() []string
}

// Context is the per-event page snapshot.
type Context struct {
	URL          *string
	Path         *string
	Title        *string
	Referrer     *string
	Language     *string
	Timezone     *string
	Viewport     *domain.Viewport
	ScrollOffset *domain.ScrollOffset
	UTM          map[string]string
}

// Snapshot reads every field fresh from env. A nil env yields an empty
// context.
func Snapshot(env Environment) Context {
	c := Context{UTM: map[string]string{}}
	if env == nil {
		return c
	}
	c.URL = read(env.URL)
	c.Title = read(env.Title)
	c.Referrer = read(env.Referrer)
	c.Language = read(env.Language)
	c.Timezone = read(env.Timezone)
	c.Viewport = read(env.Viewport)
	c.ScrollOffset = read(env.ScrollOffset)

	if c.URL != nil {
		if u, err := url.Parse(*c.URL); err == nil {
			p := u.Path
			if p == "" {
				p = "/"
			}
			c.Path = &p
			c.UTM = UTMParameters(u)
		}
	}
	return c
}

// UTMParameters extracts the known campaign parameters present in u.
func UTMParameters(u *url.URL) map[string]string {
	out := map[string]string{}
	q := u.Query()
	for _, k := range domain.UTMKeys {
		if v := q.Get(k); v != "" {
			out[k] = v
		}
	}
	return out
}

// read calls get, turning errors and panics into nil.
func read[T any](get func() (T, error)) (out *T) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
		}
	}()
	v, err := get()
	if err != nil {
		return nil
	}
	return &v
}

// ScrollDepth returns how far down the document the bottom of the viewport
// is, as a percentage in [0,100].
func ScrollDepth(env Environment) (pct int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scroll depth: %v", r)
		}
	}()
	off, err := env.ScrollOffset()
	if err != nil {
		return 0, err
	}
	vp, err := env.Viewport()
	if err != nil {
		return 0, err
	}
	h, err := env.DocumentHeight()
	if err != nil {
		return 0, err
	}
	if h <= 0 {
		return 100, nil
	}
	pct = (off.Y + vp.Height) * 100 / h
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return pct, nil
}
