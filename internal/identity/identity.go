// Package identity derives the durable visitor id, the rolling session and
// the referrer trail from the persistent store.
package identity

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/pagepulse/internal/clock"
	"example.com/pagepulse/internal/kv"
)

const (
	visitorKey = "pp_visitor_id"
	sessionKey = "pp_session"
	trailKey   = "pp_referrer_trail"

	DefaultSessionTimeout = 30 * time.Minute
	MaxTrailLength        = 5
)

// Session timestamps are unix milliseconds.
type Session struct {
	ID      string `json:"id"`
	Started int64  `json:"started"`
	Last    int64  `json:"last"`
}

// Expired reports whether more than timeout has passed since the last touch.
func (s Session) Expired(now time.Time, timeout time.Duration) bool {
	return now.UnixMilli()-s.Last > timeout.Milliseconds()
}

type Manager struct {
	// mu serialises read-modify-write cycles on the session and trail.
	mu      sync.Mutex
	store   *kv.Store
	clock   clock.Clock
	timeout time.Duration
	newID   func() string
}

func NewManager(store *kv.Store, clk clock.Clock, sessionTimeout time.Duration) *Manager {
	if clk == nil {
		clk = clock.Real()
	}
	if sessionTimeout <= 0 {
		sessionTimeout = DefaultSessionTimeout
	}
	return &Manager{
		store:   store,
		clock:   clk,
		timeout: sessionTimeout,
		newID:   uuid.NewString,
	}
}

// VisitorID returns the persisted visitor id, minting and storing one on
// first contact. When storage is unavailable an ephemeral id is returned.
func (m *Manager) VisitorID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var id string
	if m.store.Get(visitorKey, &id) && id != "" {
		return id
	}
	id = m.newID()
	m.store.Set(visitorKey, id)
	return id
}

// SessionID returns the current session id, rotating the session when it
// has expired. Every call refreshes the session's last-touch time.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	s, ok := m.loadSession()
	if !ok || s.Expired(now, m.timeout) {
		s = m.startSession(now)
	}
	s.Last = now.UnixMilli()
	m.store.Set(sessionKey, s)
	return s.ID
}

// TouchSession extends an existing session. It never creates one; an
// expired session is replaced.
func (m *Manager) TouchSession() {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.loadSession()
	if !ok {
		return
	}
	now := m.clock.Now()
	if s.Expired(now, m.timeout) {
		s = m.startSession(now)
	}
	s.Last = now.UnixMilli()
	m.store.Set(sessionKey, s)
}

// CurrentSession returns the stored session without touching it.
func (m *Manager) CurrentSession() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadSession()
}

func (m *Manager) loadSession() (Session, bool) {
	var s Session
	if !m.store.Get(sessionKey, &s) || s.ID == "" {
		return Session{}, false
	}
	return s, true
}

func (m *Manager) startSession(now time.Time) Session {
	ms := now.UnixMilli()
	return Session{ID: m.newID(), Started: ms, Last: ms}
}

// AppendReferrer adds ref to the trail unless it is empty or equal to the
// most recent entry. The trail keeps the MaxTrailLength newest entries.
func (m *Manager) AppendReferrer(ref string) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	trail := m.loadTrail()
	if n := len(trail); n > 0 && trail[n-1] == ref {
		return
	}
	trail = append(trail, ref)
	if len(trail) > MaxTrailLength {
		trail = trail[len(trail)-MaxTrailLength:]
	}
	m.store.Set(trailKey, trail)
}

// ReferrerTrail returns a copy of the trail, oldest first.
func (m *Manager) ReferrerTrail() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadTrail()
}

func (m *Manager) loadTrail() []string {
	var trail []string
	if !m.store.Get(trailKey, &trail) {
		return []string{}
	}
	if len(trail) > MaxTrailLength {
		trail = trail[len(trail)-MaxTrailLength:]
	}
	return append([]string{}, trail...)
}
