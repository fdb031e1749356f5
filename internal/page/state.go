package page

import (
	"errors"
	"sync"

	"example.com/pagepulse/internal/domain"
)

var ErrUnavailable = errors.New("page: value unavailable")

// State is an in-process Environment whose values are set by the embedding
// runtime. Unset string fields read as ErrUnavailable.
type State struct {
	mu             sync.RWMutex
	url            string
	title          string
	referrer       string
	language       string
	timezone       string
	viewport       *domain.Viewport
	scroll         domain.ScrollOffset
	documentHeight int
	dnt            []string
}

func NewState() *State { return &State{} }

func (s *State) SetURL(u string) {
	s.mu.Lock()
	s.url = u
	s.mu.Unlock()
}

func (s *State) SetTitle(t string) {
	s.mu.Lock()
	s.title = t
	s.mu.Unlock()
}

func (s *State) SetReferrer(r string) {
	s.mu.Lock()
	s.referrer = r
	s.mu.Unlock()
}

func (s *State) SetLanguage(l string) {
	s.mu.Lock()
	s.language = l
	s.mu.Unlock()
}

func (s *State) SetTimezone(z string) {
	s.mu.Lock()
	s.timezone = z
	s.mu.Unlock()
}

func (s *State) SetViewport(w, h int) {
	s.mu.Lock()
	s.viewport = &domain.Viewport{Width: w, Height: h}
	s.mu.Unlock()
}

func (s *State) SetScroll(x, y int) {
	s.mu.Lock()
	s.scroll = domain.ScrollOffset{X: x, Y: y}
	s.mu.Unlock()
}

func (s *State) SetDocumentHeight(h int) {
	s.mu.Lock()
	s.documentHeight = h
	s.mu.Unlock()
}

// SetDoNotTrack replaces the raw do-not-track indicator values.
func (s *State) SetDoNotTrack(values ...string) {
	s.mu.Lock()
	s.dnt = append([]string(nil), values...)
	s.mu.Unlock()
}

func (s *State) str(v string) (string, error) {
	if v == "" {
		return "", ErrUnavailable
	}
	return v, nil
}

func (s *State) URL() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.str(s.url)
}

func (s *State) Title() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.title, nil
}

// Referrer is "" (not unavailable) when the page was opened directly.
func (s *State) Referrer() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.referrer, nil
}

func (s *State) Language() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.str(s.language)
}

func (s *State) Timezone() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.str(s.timezone)
}

func (s *State) Viewport() (domain.Viewport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.viewport == nil {
		return domain.Viewport{}, ErrUnavailable
	}
	return *s.viewport, nil
}

func (s *State) ScrollOffset() (domain.ScrollOffset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scroll, nil
}

func (s *State) DocumentHeight() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.documentHeight, nil
}

func (s *State) DoNotTrackSignals() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.dnt...)
}
