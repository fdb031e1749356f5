package agent

import (
	"context"
	"errors"
	"sync/atomic"

	"example.com/pagepulse/internal/delivery"
)

var ErrOffline = errors.New("agent: network offline")

// Network wraps both delivery paths with an offline switch.
type Network struct {
	Beacon delivery.Beacon
	Poster delivery.Poster

	offline atomic.Bool
}

func (n *Network) SetOffline(v bool) { n.offline.Store(v) }

func (n *Network) Offline() bool { return n.offline.Load() }

func (n *Network) Send(url string, body []byte) bool {
	if n.offline.Load() || n.Beacon == nil {
		return false
	}
	return n.Beacon.Send(url, body)
}

func (n *Network) Post(ctx context.Context, url string, body []byte) error {
	if n.offline.Load() {
		return ErrOffline
	}
	if n.Poster == nil {
		return ErrOffline
	}
	return n.Poster.Post(ctx, url, body)
}
