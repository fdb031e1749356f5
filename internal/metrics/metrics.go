package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Tracker side
	eventsEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagepulse_tracker_events_enqueued_total",
			Help: "Total number of event records appended to the pending queue",
		},
	)

	eventsDeniedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagepulse_tracker_events_denied_total",
			Help: "Total number of enqueue calls ignored by the privacy gate",
		},
	)

	flushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagepulse_tracker_flush_total",
			Help: "Flush attempts by outcome and delivery path",
		},
		[]string{"outcome", "via"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagepulse_tracker_queue_depth",
			Help: "Number of event records waiting for delivery",
		},
	)

	beaconsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagepulse_tracker_beacon_total",
			Help: "Beacon sends by result (accepted, rejected, sent, failed)",
		},
		[]string{"result"},
	)

	// Collector side
	eventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagepulse_collector_events_received_total",
			Help: "Events received by the collector by transport (json, beacon)",
		},
		[]string{"transport"},
	)

	eventsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagepulse_collector_events_rejected_total",
			Help: "Events rejected by the collector",
		},
		[]string{"reason"},
	)

	batchWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagepulse_collector_batch_writes_total",
			Help: "Storage batch writes by result",
		},
		[]string{"result"},
	)

	batchWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pagepulse_collector_batch_write_duration_seconds",
			Help:    "Storage batch write duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
	)

	publishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagepulse_collector_published_total",
			Help: "Events fanned out to the message broker by result",
		},
		[]string{"result"},
	)
)

func RecordEnqueued() { eventsEnqueuedTotal.Inc() }

func RecordDenied() { eventsDeniedTotal.Inc() }

func SetQueueDepth(n int) { queueDepth.Set(float64(n)) }

func RecordBeacon(result string) { beaconsTotal.WithLabelValues(result).Inc() }

// RecordFlush records one flush attempt.
func RecordFlush(outcome, via string) {
	flushesTotal.WithLabelValues(outcome, via).Inc()
}

func RecordReceived(transport string, n int) {
	eventsReceivedTotal.WithLabelValues(transport).Add(float64(n))
}

func RecordRejected(reason string, n int) {
	eventsRejectedTotal.WithLabelValues(reason).Add(float64(n))
}

// RecordBatchWrite records a storage write and its duration.
func RecordBatchWrite(err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	batchWritesTotal.WithLabelValues(result).Inc()
	batchWriteDuration.Observe(duration.Seconds())
}

func RecordPublished(err error, n int) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	publishedTotal.WithLabelValues(result).Add(float64(n))
}

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}
