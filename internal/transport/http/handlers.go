package transporthttp

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"example.com/pagepulse/internal/config"
	"example.com/pagepulse/internal/domain"
	"example.com/pagepulse/internal/metrics"
	spg "example.com/pagepulse/internal/storage/postgres"
)

// Ingestor accepts validated records for asynchronous storage.
type Ingestor interface {
	EnqueueBatch(ctx context.Context, events []domain.EventRecord) (int, error)
}

// StatsStore answers readiness and stats queries.
type StatsStore interface {
	Ready(ctx context.Context) error
	QueryTotals(ctx context.Context, f spg.StatsFilter) (spg.StatsTotals, error)
	QueryBucketsDaily(ctx context.Context, f spg.StatsFilter) ([]spg.StatsBucket, error)
}

type ServerDeps struct {
	Cfg      config.Collector
	Ingestor Ingestor
	Store    StatsStore
	Now      func() time.Time
	Log      zerolog.Logger
}

func decodeJSONStrict(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// --- Health ---

func (d *ServerDeps) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (d *ServerDeps) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := d.Store.Ready(r.Context()); err != nil {
		WriteProblem(w, http.StatusServiceUnavailable, "not ready", "database not reachable", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Collect ---

type collectResp struct {
	AcceptedCount int                 `json:"accepted_count"`
	RejectedCount int                 `json:"rejected_count"`
	Errors        map[string][]string `json:"errors,omitempty"`
}

// HandleCollect takes a tracker batch. Invalid records are dropped and
// reported; the valid rest is accepted, so a batch is never retried forever
// for one bad record. Trackers resend their whole backlog after an outage,
// so a batch of any length is validated and ingested in chunks of
// MaxEventsPerBatch. Structural errors reject the whole body.
func (d *ServerDeps) HandleCollect(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)

	transport := "post"
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "text/plain" {
		transport = "beacon"
	}

	var batch domain.Batch
	if err := decodeJSONStrict(r, &batch); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.RecordRejected("too_large", 1)
			WriteProblem(w, http.StatusRequestEntityTooLarge, "body too large", err.Error(), nil)
			return
		}
		metrics.RecordRejected("invalid_json", 1)
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	if len(batch.Events) == 0 {
		metrics.RecordRejected("batch", 1)
		WriteProblem(w, http.StatusBadRequest, "validation failed", "events: required and must contain at least one item", nil)
		return
	}
	metrics.RecordReceived(transport, len(batch.Events))

	resp := collectResp{}
	now := d.Now()
	offset := 0
	chunks := domain.Chunks(batch.Events, d.Cfg.MaxEventsPerBatch)
	valid := make([][]domain.EventRecord, 0, len(chunks))
	for _, chunk := range chunks {
		perItem, top := domain.ValidateBatch(chunk, len(chunk), now, d.Cfg.ClockSkew)
		if top != nil {
			metrics.RecordRejected("batch", len(batch.Events))
			WriteProblem(w, http.StatusBadRequest, "validation failed", top.Error(), nil)
			return
		}
		ok := make([]domain.EventRecord, 0, len(chunk))
		for i, errs := range perItem {
			if len(errs) == 0 {
				ok = append(ok, chunk[i])
				continue
			}
			if resp.Errors == nil {
				resp.Errors = map[string][]string{}
			}
			k := "events[" + strconv.Itoa(offset+i) + "]"
			for _, fe := range errs {
				resp.Errors[k+"."+fe.Field] = append(resp.Errors[k+"."+fe.Field], fe.Msg)
			}
			resp.RejectedCount++
		}
		valid = append(valid, ok)
		offset += len(chunk)
	}
	if resp.RejectedCount > 0 {
		metrics.RecordRejected("validation", resp.RejectedCount)
	}

	ctx := r.Context()
	if d.Cfg.EnqueueWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Cfg.EnqueueWait)
		defer cancel()
	}
	for _, chunk := range valid {
		n, err := d.Ingestor.EnqueueBatch(ctx, chunk)
		resp.AcceptedCount += n
		if err != nil {
			metrics.RecordRejected("queue_full", len(batch.Events)-resp.AcceptedCount-resp.RejectedCount)
			d.Log.Warn().Err(err).Int("accepted", resp.AcceptedCount).Msg("ingest queue stayed full")
			WriteProblem(w, http.StatusServiceUnavailable, "overloaded", "ingest queue is full, please retry", nil)
			return
		}
	}

	d.Log.Debug().
		Str("transport", transport).
		Int("accepted", resp.AcceptedCount).
		Int("rejected", resp.RejectedCount).
		Int("chunks", len(chunks)).
		Msg("batch queued")
	writeJSON(w, http.StatusAccepted, resp)
}

// --- Stats ---

type statsResp struct {
	Totals  spg.StatsTotals   `json:"totals"`
	Buckets []spg.StatsBucket `json:"buckets,omitempty"`
}

const defaultWindowSeconds = int64(24 * 60 * 60)  // last 24h default
const maxWindowSeconds = int64(90 * 24 * 60 * 60) // cap at 90 days (guardrail)

func (d *ServerDeps) HandleGetStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, err := parseWindow(q.Get("from"), q.Get("to"), d.Now().Unix())
	if err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid parameters", err.Error(), nil)
		return
	}
	if from > to {
		WriteProblem(w, http.StatusBadRequest, "invalid parameters", "from must not be after to", nil)
		return
	}

	f := spg.StatsFilter{
		From:   time.Unix(from, 0),
		To:     time.Unix(to, 0),
		Type:   strings.TrimSpace(q.Get("type")),
		SiteID: strings.TrimSpace(q.Get("site_id")),
	}

	ctx := r.Context()
	var resp statsResp
	resp.Totals, err = d.Store.QueryTotals(ctx, f)
	if err != nil {
		d.Log.Error().Err(err).Msg("stats totals query failed")
		WriteProblem(w, http.StatusInternalServerError, "query error", "stats query failed", nil)
		return
	}

	if q.Get("group_by") == "day" {
		resp.Buckets, err = d.Store.QueryBucketsDaily(ctx, f)
		if err != nil {
			d.Log.Error().Err(err).Msg("stats buckets query failed")
			WriteProblem(w, http.StatusInternalServerError, "query error", "stats query failed", nil)
			return
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// parseWindow resolves optional epoch-second bounds against now. A missing
// bound is derived from the other with the default window, and the range is
// capped to maxWindowSeconds.
func parseWindow(fromStr, toStr string, now int64) (from, to int64, err error) {
	parse := func(name, s string) (int64, error) {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, errors.New(name + " must be epoch seconds")
		}
		return v, nil
	}

	switch {
	case fromStr == "" && toStr == "":
		from, to = now-defaultWindowSeconds, now
	case fromStr != "" && toStr == "":
		if from, err = parse("from", fromStr); err != nil {
			return 0, 0, err
		}
		to = now
	case fromStr == "" && toStr != "":
		if to, err = parse("to", toStr); err != nil {
			return 0, 0, err
		}
		from = to - defaultWindowSeconds
	default:
		if from, err = parse("from", fromStr); err != nil {
			return 0, 0, err
		}
		if to, err = parse("to", toStr); err != nil {
			return 0, 0, err
		}
	}

	if to-from > maxWindowSeconds {
		from = to - maxWindowSeconds
	}
	return from, to, nil
}
