package tracker

import (
	"context"
	"encoding/json"
	"fmt"

	"example.com/pagepulse/internal/domain"
	"example.com/pagepulse/internal/metrics"
)

type Outcome int

const (
	Skipped Outcome = iota
	Delivered
	Requeued
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Requeued:
		return "requeued"
	default:
		return "skipped"
	}
}

// Delivery paths and skip reasons reported in FlushResult.
const (
	ViaBeacon = "beacon"
	ViaPost   = "post"

	ReasonDenied     = "denied"
	ReasonInProgress = "in_progress"
	ReasonEmpty      = "empty"
)

type FlushResult struct {
	Outcome Outcome
	Via     string
	Reason  string
	Count   int
	Err     error
}

// Flush drains the queue and waits for the delivery outcome. Delivery
// errors are reported in the result only; a failed batch is back at the
// front of the queue when Flush returns.
func (t *Tracker) Flush(ctx context.Context) FlushResult {
	res, wait := t.startFlush(ctx)
	if wait == nil {
		return res
	}
	select {
	case r := <-wait:
		return r
	case <-ctx.Done():
		// The request is tied to ctx and will requeue on its own.
		return FlushResult{Outcome: Requeued, Via: ViaPost, Count: res.Count, Err: ctx.Err()}
	}
}

// FlushAsync starts a flush without waiting for a fallback request. The
// snapshot and the beacon attempt happen before it returns.
func (t *Tracker) FlushAsync() {
	t.startFlush(context.Background())
}

func (t *Tracker) startFlush(ctx context.Context) (FlushResult, <-chan FlushResult) {
	if !t.allowed() {
		return t.skipped(ReasonDenied), nil
	}

	t.mu.Lock()
	if t.flushing {
		t.mu.Unlock()
		return t.skipped(ReasonInProgress), nil
	}
	if len(t.queue) == 0 {
		t.mu.Unlock()
		return t.skipped(ReasonEmpty), nil
	}
	batch := t.queue
	t.queue = nil
	t.flushing = true
	t.mu.Unlock()
	metrics.SetQueueDepth(0)

	body, err := json.Marshal(domain.Batch{Events: batch})
	if err != nil {
		t.finish(batch, err)
		res := FlushResult{Outcome: Requeued, Count: len(batch), Err: fmt.Errorf("encode batch: %w", err)}
		t.record(res)
		return res, nil
	}

	if t.beacon != nil && t.beacon.Send(t.opts.Endpoint, body) {
		t.finish(nil, nil)
		res := FlushResult{Outcome: Delivered, Via: ViaBeacon, Count: len(batch)}
		t.record(res)
		return res, nil
	}

	out := make(chan FlushResult, 1)
	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		res := FlushResult{Outcome: Requeued, Via: ViaPost, Count: len(batch)}
		defer func() {
			if r := recover(); r != nil {
				res.Err = fmt.Errorf("post panicked: %v", r)
				t.finish(batch, res.Err)
			}
			t.record(res)
			out <- res
		}()

		err := t.poster.Post(ctx, t.opts.Endpoint, body)
		if err != nil {
			res.Err = err
			t.finish(batch, err)
			return
		}
		res.Outcome = Delivered
		t.finish(nil, nil)
	}()
	return FlushResult{Outcome: Skipped, Via: ViaPost, Count: len(batch)}, out
}

// finish clears the flushing flag. A failed batch goes back in front of
// anything enqueued meanwhile, keeping its own order.
func (t *Tracker) finish(failed []domain.EventRecord, err error) {
	t.mu.Lock()
	if err != nil {
		requeued := make([]domain.EventRecord, 0, len(failed)+len(t.queue))
		requeued = append(requeued, failed...)
		t.queue = append(requeued, t.queue...)
	}
	t.flushing = false
	n := len(t.queue)
	t.mu.Unlock()

	metrics.SetQueueDepth(n)
	if err != nil {
		t.lg.Warn().Err(err).Int("requeued", len(failed)).Int("pending", n).Msg("delivery failed, batch requeued")
	}
}

func (t *Tracker) skipped(reason string) FlushResult {
	res := FlushResult{Outcome: Skipped, Reason: reason}
	t.record(res)
	return res
}

func (t *Tracker) record(res FlushResult) {
	via := res.Via
	if via == "" {
		via = res.Reason
	}
	metrics.RecordFlush(res.Outcome.String(), via)
}
