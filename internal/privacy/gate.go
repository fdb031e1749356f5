// Package privacy decides whether tracking may happen right now.
package privacy

import (
	"strings"

	"example.com/pagepulse/internal/clock"
	"example.com/pagepulse/internal/kv"
)

const consentKey = "pp_consent"

// SignalSource exposes the raw values of every do-not-track indicator the
// platform has (current and legacy), unset ones included as "".
type SignalSource interface {
	DoNotTrackSignals() []string
}

type Config struct {
	SiteID         string
	Endpoint       string
	RequireConsent bool
}

type consentRecord struct {
	Granted bool  `json:"granted"`
	At      int64 `json:"at"`
}

// Gate is re-evaluated on every call; nothing is cached.
type Gate struct {
	cfg     Config
	signals SignalSource
	store   *kv.Store
	clock   clock.Clock
}

func NewGate(cfg Config, signals SignalSource, store *kv.Store, clk clock.Clock) *Gate {
	if clk == nil {
		clk = clock.Real()
	}
	return &Gate{cfg: cfg, signals: signals, store: store, clock: clk}
}

// Allowed = !DNT && (consent not required || consent granted) && site id && endpoint.
func (g *Gate) Allowed() bool {
	if g.DoNotTrack() {
		return false
	}
	if g.cfg.RequireConsent && !g.ConsentGranted() {
		return false
	}
	return strings.TrimSpace(g.cfg.SiteID) != "" && strings.TrimSpace(g.cfg.Endpoint) != ""
}

func (g *Gate) DoNotTrack() bool {
	if g.signals == nil {
		return false
	}
	for _, v := range g.signals.DoNotTrackSignals() {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "yes":
			return true
		}
	}
	return false
}

func (g *Gate) ConsentGranted() bool {
	var rec consentRecord
	return g.store.Get(consentKey, &rec) && rec.Granted
}

// GrantConsent records explicit consent. If storage is unavailable the
// grant is lost and consent-gated tracking stays off.
func (g *Gate) GrantConsent() {
	g.store.Set(consentKey, consentRecord{Granted: true, At: g.clock.Now().UnixMilli()})
}

func (g *Gate) RevokeConsent() {
	g.store.Delete(consentKey)
}
