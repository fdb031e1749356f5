package delivery

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	mu           sync.Mutex
	bodies       []string
	contentTypes []string
	got          chan struct{}
}

func newCapture() *capture { return &capture{got: make(chan struct{}, 16)} }

func (c *capture) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, string(b))
		c.contentTypes = append(c.contentTypes, r.Header.Get("Content-Type"))
		c.mu.Unlock()
		w.WriteHeader(status)
		c.got <- struct{}{}
	}
}

func (c *capture) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.got:
	case <-time.After(2 * time.Second):
		t.Fatal("no request received")
	}
}

func TestHTTPPoster_Success(t *testing.T) {
	c := newCapture()
	srv := httptest.NewServer(c.handler(http.StatusAccepted))
	defer srv.Close()

	err := NewHTTPPoster(nil).Post(context.Background(), srv.URL, []byte(`{"events":[]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{`{"events":[]}`}, c.bodies)
	assert.Equal(t, []string{ContentTypeJSON}, c.contentTypes)
}

func TestHTTPPoster_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(newCapture().handler(http.StatusServiceUnavailable))
	defer srv.Close()

	err := NewHTTPPoster(nil).Post(context.Background(), srv.URL, []byte(`{}`))
	assert.ErrorIs(t, err, ErrStatus)
}

func TestHTTPPoster_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewHTTPPoster(nil).Post(context.Background(), url, []byte(`{}`))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrStatus)
}

func TestDispatcher_SendsAcceptedBeacon(t *testing.T) {
	c := newCapture()
	srv := httptest.NewServer(c.handler(http.StatusNoContent))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := NewDispatcher(srv.Client(), 4, zerolog.Nop())
	d.Start(ctx)

	assert.True(t, d.Send(srv.URL, []byte(`{"events":[1]}`)))
	c.wait(t)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, []string{`{"events":[1]}`}, c.bodies)
	assert.Equal(t, []string{ContentTypeBeacon}, c.contentTypes)
}

func TestDispatcher_RejectsOversizedBody(t *testing.T) {
	d := NewDispatcher(nil, 4, zerolog.Nop())
	assert.False(t, d.Send("http://unused", bytes.Repeat([]byte("x"), MaxBeaconBytes+1)))
	assert.True(t, d.Send("http://unused", bytes.Repeat([]byte("x"), MaxBeaconBytes)))
}

func TestDispatcher_RejectsWhenQueueFull(t *testing.T) {
	d := NewDispatcher(nil, 1, zerolog.Nop())
	assert.True(t, d.Send("http://unused", []byte("a")))
	assert.False(t, d.Send("http://unused", []byte("b")))
}

func TestDispatcher_DrainsOnShutdownAndRejectsAfter(t *testing.T) {
	c := newCapture()
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	d := NewDispatcher(srv.Client(), 4, zerolog.Nop())
	require.True(t, d.Send(srv.URL, []byte("first")))
	require.True(t, d.Send(srv.URL, []byte("second")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Start(ctx)

	waitCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	require.NoError(t, d.Wait(waitCtx))

	c.mu.Lock()
	assert.ElementsMatch(t, []string{"first", "second"}, c.bodies)
	c.mu.Unlock()
	assert.False(t, d.Send(srv.URL, []byte("late")))
}
