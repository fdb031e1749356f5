package delivery

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"example.com/pagepulse/internal/metrics"
)

type beaconRequest struct {
	url  string
	body []byte
}

// Dispatcher is the beacon primitive: Send hands the body to a background
// worker and returns immediately. Accepted bodies are sent even while the
// dispatcher shuts down; failures after acceptance are only logged.
type Dispatcher struct {
	mu     sync.RWMutex
	closed bool
	queue  chan beaconRequest
	client *http.Client
	done   chan struct{}
	lg     zerolog.Logger
}

func NewDispatcher(client *http.Client, queueSize int, lg zerolog.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Dispatcher{
		queue:  make(chan beaconRequest, queueSize),
		client: client,
		done:   make(chan struct{}),
		lg:     lg.With().Str("component", "beacon").Logger(),
	}
}

// Start runs the worker until ctx is cancelled, then drains what was
// already accepted.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		defer close(d.done)
		for {
			select {
			case <-ctx.Done():
				d.mu.Lock()
				d.closed = true
				d.mu.Unlock()
				d.drain()
				return
			case req := <-d.queue:
				d.send(context.Background(), req)
			}
		}
	}()
}

// Wait blocks until the worker has drained after cancellation or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send reports whether body was accepted for dispatch. Oversized bodies,
// a full queue or a stopped dispatcher are rejections.
func (d *Dispatcher) Send(url string, body []byte) bool {
	if len(body) > MaxBeaconBytes {
		metrics.RecordBeacon("rejected")
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.RecordBeacon("rejected")
		return false
	}
	select {
	case d.queue <- beaconRequest{url: url, body: append([]byte(nil), body...)}:
		metrics.RecordBeacon("accepted")
		return true
	default:
		metrics.RecordBeacon("rejected")
		return false
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case req := <-d.queue:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			d.send(ctx, req)
			cancel()
		default:
			return
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, req beaconRequest) {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.url, bytes.NewReader(req.body))
	if err != nil {
		metrics.RecordBeacon("failed")
		d.lg.Debug().Err(err).Msg("build beacon request")
		return
	}
	hreq.Header.Set("Content-Type", ContentTypeBeacon)

	resp, err := d.client.Do(hreq)
	if err != nil {
		metrics.RecordBeacon("failed")
		d.lg.Debug().Err(err).Str("url", req.url).Msg("beacon send failed")
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.RecordBeacon("failed")
		d.lg.Debug().Int("status", resp.StatusCode).Msg("beacon not accepted by collector")
		return
	}
	metrics.RecordBeacon("sent")
}
