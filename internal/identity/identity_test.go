package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/pagepulse/internal/clock"
	"example.com/pagepulse/internal/kv"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type brokenBackend struct{}

func (brokenBackend) Load(context.Context, string) ([]byte, error) {
	return nil, errors.New("disabled")
}
func (brokenBackend) Save(context.Context, string, []byte) error { return errors.New("disabled") }
func (brokenBackend) Remove(context.Context, string) error       { return errors.New("disabled") }

func newManager(timeout time.Duration) (*Manager, *clock.Fake, *kv.Store) {
	clk := clock.NewFake(t0)
	store := kv.New(kv.NewMemory(), zerolog.Nop())
	return NewManager(store, clk, timeout), clk, store
}

func TestVisitorID_PersistedOnFirstContact(t *testing.T) {
	m, _, store := newManager(0)

	id := m.VisitorID()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())

	assert.Equal(t, id, m.VisitorID())

	var stored string
	require.True(t, store.Get(visitorKey, &stored))
	assert.Equal(t, id, stored)

	other := NewManager(store, clock.NewFake(t0), 0)
	assert.Equal(t, id, other.VisitorID(), "shared store yields the same visitor")
}

// slowBackend widens the window between reading and writing an entry.
type slowBackend struct{ *kv.Memory }

func (b slowBackend) Load(ctx context.Context, key string) ([]byte, error) {
	time.Sleep(time.Millisecond)
	return b.Memory.Load(ctx, key)
}

func TestVisitorID_ConcurrentFirstContactAgrees(t *testing.T) {
	store := kv.New(slowBackend{kv.NewMemory()}, zerolog.Nop())
	m := NewManager(store, clock.NewFake(t0), 0)

	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = m.VisitorID()
		}(i)
	}
	wg.Wait()

	var stored string
	require.True(t, store.Get(visitorKey, &stored))
	for _, id := range ids {
		assert.Equal(t, stored, id)
	}
}

func TestVisitorID_EphemeralWhenStorageBroken(t *testing.T) {
	m := NewManager(kv.New(brokenBackend{}, zerolog.Nop()), clock.NewFake(t0), 0)

	a, b := m.VisitorID(), m.VisitorID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestSessionID_ExpiryBoundary(t *testing.T) {
	timeout := 30 * time.Minute
	m, clk, _ := newManager(timeout)

	first := m.SessionID()

	clk.Advance(timeout - time.Millisecond)
	assert.Equal(t, first, m.SessionID(), "read just inside the window keeps the session")

	clk.Advance(timeout)
	assert.Equal(t, first, m.SessionID(), "exactly timeout since last touch is not expired")

	clk.Advance(timeout + time.Millisecond)
	assert.NotEqual(t, first, m.SessionID())
}

func TestSessionID_Scenario(t *testing.T) {
	m, clk, _ := newManager(time.Second)

	a := m.SessionID()
	clk.Set(t0.Add(500 * time.Millisecond))
	assert.Equal(t, a, m.SessionID())

	clk.Set(t0.Add(1500 * time.Millisecond))
	b := m.SessionID()
	assert.NotEqual(t, a, b)
}

func TestSessionID_RotationResetsTimestamps(t *testing.T) {
	m, clk, _ := newManager(time.Second)
	m.SessionID()

	clk.Advance(5 * time.Second)
	m.SessionID()

	s, ok := m.CurrentSession()
	require.True(t, ok)
	assert.Equal(t, clk.Now().UnixMilli(), s.Started)
	assert.Equal(t, s.Started, s.Last)
}

func TestSessionID_NewSessionEveryCallWhenStorageBroken(t *testing.T) {
	m := NewManager(kv.New(brokenBackend{}, zerolog.Nop()), clock.NewFake(t0), 0)
	assert.NotEqual(t, m.SessionID(), m.SessionID())
}

func TestTouchSession(t *testing.T) {
	t.Run("no-op without a session", func(t *testing.T) {
		m, _, _ := newManager(time.Second)
		m.TouchSession()
		_, ok := m.CurrentSession()
		assert.False(t, ok)
	})

	t.Run("extends without rotating", func(t *testing.T) {
		m, clk, _ := newManager(time.Second)
		id := m.SessionID()

		for i := 0; i < 5; i++ {
			clk.Advance(800 * time.Millisecond)
			m.TouchSession()
		}
		s, ok := m.CurrentSession()
		require.True(t, ok)
		assert.Equal(t, id, s.ID)
		assert.Equal(t, clk.Now().UnixMilli(), s.Last)
		assert.Equal(t, id, m.SessionID())
	})

	t.Run("replaces an expired session", func(t *testing.T) {
		m, clk, _ := newManager(time.Second)
		id := m.SessionID()

		clk.Advance(2 * time.Second)
		m.TouchSession()
		s, ok := m.CurrentSession()
		require.True(t, ok)
		assert.NotEqual(t, id, s.ID)
	})
}

func TestReferrerTrail(t *testing.T) {
	t.Run("bounded FIFO", func(t *testing.T) {
		m, _, _ := newManager(0)
		for i := 1; i <= 6; i++ {
			m.AppendReferrer(fmt.Sprintf("https://ref%d.example", i))
		}
		trail := m.ReferrerTrail()
		assert.Len(t, trail, MaxTrailLength)
		assert.Equal(t, "https://ref2.example", trail[0])
		assert.Equal(t, "https://ref6.example", trail[4])
	})

	t.Run("no consecutive duplicates", func(t *testing.T) {
		m, _, _ := newManager(0)
		m.AppendReferrer("https://a.example")
		m.AppendReferrer("https://a.example")
		assert.Equal(t, []string{"https://a.example"}, m.ReferrerTrail())

		m.AppendReferrer("https://b.example")
		m.AppendReferrer("https://a.example")
		assert.Equal(t, []string{"https://a.example", "https://b.example", "https://a.example"}, m.ReferrerTrail())
	})

	t.Run("empty referrer ignored", func(t *testing.T) {
		m, _, _ := newManager(0)
		m.AppendReferrer("  ")
		assert.Empty(t, m.ReferrerTrail())
	})

	t.Run("returned trail is a copy", func(t *testing.T) {
		m, _, _ := newManager(0)
		m.AppendReferrer("https://a.example")
		trail := m.ReferrerTrail()
		trail[0] = "mutated"
		assert.Equal(t, []string{"https://a.example"}, m.ReferrerTrail())
	})
}
