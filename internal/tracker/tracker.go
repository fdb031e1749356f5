// Package tracker owns the pending event queue and the flush protocol that
// drains it to the collector.
package tracker

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"example.com/pagepulse/internal/clock"
	"example.com/pagepulse/internal/delivery"
	"example.com/pagepulse/internal/domain"
	"example.com/pagepulse/internal/metrics"
	"example.com/pagepulse/internal/page"
)

const DefaultMaxBatchSize = 20

// Gate is consulted before every enqueue and flush.
type Gate interface {
	Allowed() bool
}

// Identity stamps records with visitor and session.
type Identity interface {
	VisitorID() string
	SessionID() string
	ReferrerTrail() []string
}

type Options struct {
	SiteID       string
	Endpoint     string
	MaxBatchSize int
}

type Deps struct {
	Gate     Gate
	Identity Identity
	Env      page.Environment
	// Beacon is optional; without it every flush uses Poster.
	Beacon delivery.Beacon
	Poster delivery.Poster
	Clock  clock.Clock
	Logger zerolog.Logger
}

// Tracker is the page-wide queue. All producers share one instance.
type Tracker struct {
	opts     Options
	gate     Gate
	identity Identity
	env      page.Environment
	beacon   delivery.Beacon
	poster   delivery.Poster
	clock    clock.Clock
	lg       zerolog.Logger
	newID    func() string

	// mu guards queue and flushing. flushing is set in the same critical
	// section that takes the snapshot, before any network call.
	mu       sync.Mutex
	queue    []domain.EventRecord
	flushing bool

	inflight sync.WaitGroup
}

func New(opts Options, deps Deps) *Tracker {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = DefaultMaxBatchSize
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Poster == nil {
		deps.Poster = delivery.NewHTTPPoster(nil)
	}
	return &Tracker{
		opts:     opts,
		gate:     deps.Gate,
		identity: deps.Identity,
		env:      deps.Env,
		beacon:   deps.Beacon,
		poster:   deps.Poster,
		clock:    deps.Clock,
		lg:       deps.Logger.With().Str("component", "tracker").Logger(),
		newID:    uuid.NewString,
	}
}

// Enqueue records one event. It never blocks on the network and never
// panics. When tracking is denied it does nothing. Reaching the batch size
// starts a flush before Enqueue returns.
func (t *Tracker) Enqueue(eventType string, payload any) {
	defer func() {
		if r := recover(); r != nil {
			t.lg.Error().Interface("panic", r).Str("type", eventType).Msg("enqueue dropped record")
		}
	}()

	if !t.allowed() {
		metrics.RecordDenied()
		return
	}
	rec := t.buildRecord(eventType, payload)

	t.mu.Lock()
	t.queue = append(t.queue, rec)
	n := len(t.queue)
	t.mu.Unlock()

	metrics.RecordEnqueued()
	metrics.SetQueueDepth(n)

	if n >= t.opts.MaxBatchSize {
		t.FlushAsync()
	}
}

func (t *Tracker) buildRecord(eventType string, payload any) domain.EventRecord {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		eventType = domain.TypeCustom
	}
	pc := page.Snapshot(t.env)

	trail := t.identity.ReferrerTrail()
	if trail == nil {
		trail = []string{}
	}
	return domain.EventRecord{
		ID:            t.newID(),
		Type:          eventType,
		Timestamp:     t.clock.Now().UTC(),
		SessionID:     t.identity.SessionID(),
		VisitorID:     t.identity.VisitorID(),
		SiteID:        t.opts.SiteID,
		URL:           pc.URL,
		Path:          pc.Path,
		Title:         pc.Title,
		Referrer:      pc.Referrer,
		Language:      pc.Language,
		Timezone:      pc.Timezone,
		Viewport:      pc.Viewport,
		ScrollOffset:  pc.ScrollOffset,
		UTMParameters: pc.UTM,
		ReferrerTrail: trail,
		Payload:       normalizePayload(payload),
	}
}

// normalizePayload deep-copies payload into a JSON object. Anything that
// does not encode as an object becomes an empty one.
func normalizePayload(payload any) map[string]any {
	out := map[string]any{}
	if payload == nil {
		return out
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return out
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return out
	}
	return m
}

// Len returns the number of pending records.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Pending returns a copy of the pending queue in delivery order.
func (t *Tracker) Pending() []domain.EventRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.EventRecord(nil), t.queue...)
}

// Flushing reports whether a flush is in progress.
func (t *Tracker) Flushing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushing
}

// Close waits for background fallback requests to finish.
func (t *Tracker) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) allowed() bool {
	return t.gate == nil || t.gate.Allowed()
}
