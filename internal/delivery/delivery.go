// Package delivery moves serialized batches to the collector.
//
// Two paths exist: a fire-and-forget beacon that only reports whether a
// body was accepted for dispatch, and a plain HTTP POST whose outcome the
// caller observes.
package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const (
	// MaxBeaconBytes mirrors the browser beacon payload limit.
	MaxBeaconBytes = 64 << 10

	ContentTypeJSON   = "application/json"
	ContentTypeBeacon = "text/plain;charset=UTF-8"
)

var ErrStatus = errors.New("delivery: unexpected status")

// Beacon accepts a body for background delivery. Send must not block on the
// network.
type Beacon interface {
	Send(url string, body []byte) bool
}

type Poster interface {
	Post(ctx context.Context, url string, body []byte) error
}

// HTTPPoster is the fallback path. No client timeout is set; the request
// lives as long as ctx and the transport allow.
type HTTPPoster struct {
	Client *http.Client
}

func NewHTTPPoster(client *http.Client) *HTTPPoster {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPPoster{Client: client}
}

func (p *HTTPPoster) Post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", ContentTypeJSON)

	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}
	return nil
}
