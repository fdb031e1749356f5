package tracker

import (
	"github.com/rs/zerolog"

	"example.com/pagepulse/internal/clock"
	"example.com/pagepulse/internal/config"
	"example.com/pagepulse/internal/delivery"
	"example.com/pagepulse/internal/identity"
	"example.com/pagepulse/internal/kv"
	"example.com/pagepulse/internal/page"
	"example.com/pagepulse/internal/privacy"
)

// Service is the one object collaborators receive: the queue plus the
// identity and consent accessors that share its store and clock.
type Service struct {
	*Tracker
	Identity *identity.Manager
	Privacy  *privacy.Gate
}

type ServiceDeps struct {
	Store  *kv.Store
	Env    page.Environment
	Beacon delivery.Beacon
	Poster delivery.Poster
	Clock  clock.Clock
	Logger zerolog.Logger
}

func NewService(cfg config.Tracker, deps ServiceDeps) *Service {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	ids := identity.NewManager(deps.Store, deps.Clock, cfg.SessionTimeout)

	var signals privacy.SignalSource
	if deps.Env != nil {
		signals = deps.Env
	}
	gate := privacy.NewGate(privacy.Config{
		SiteID:         cfg.SiteID,
		Endpoint:       cfg.Endpoint,
		RequireConsent: cfg.RequireConsent,
	}, signals, deps.Store, deps.Clock)

	t := New(Options{
		SiteID:       cfg.SiteID,
		Endpoint:     cfg.Endpoint,
		MaxBatchSize: cfg.MaxBatchSize,
	}, Deps{
		Gate:     gate,
		Identity: ids,
		Env:      deps.Env,
		Beacon:   deps.Beacon,
		Poster:   deps.Poster,
		Clock:    deps.Clock,
		Logger:   deps.Logger,
	})
	return &Service{Tracker: t, Identity: ids, Privacy: gate}
}

func (s *Service) VisitorID() string { return s.Identity.VisitorID() }

func (s *Service) SessionID() string { return s.Identity.SessionID() }

// TouchSession extends the current session when tracking is allowed.
func (s *Service) TouchSession() {
	if !s.Privacy.Allowed() {
		return
	}
	s.Identity.TouchSession()
}

// NoteReferrer appends ref to the visitor's referrer trail when tracking is
// allowed.
func (s *Service) NoteReferrer(ref string) {
	if !s.Privacy.Allowed() {
		return
	}
	s.Identity.AppendReferrer(ref)
}

func (s *Service) GrantConsent() { s.Privacy.GrantConsent() }

func (s *Service) RevokeConsent() { s.Privacy.RevokeConsent() }

// TrackingAllowed evaluates the privacy gate now.
func (s *Service) TrackingAllowed() bool { return s.Privacy.Allowed() }
