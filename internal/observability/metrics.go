package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Batch outcomes recorded by RecordBatch.
const (
	OutcomeApplied    = "applied"
	OutcomeDuplicate  = "duplicate"
	OutcomeMalformed  = "malformed"
	OutcomeOutOfOrder = "out_of_order"
	OutcomeFailed     = "failed"
	OutcomeRefused    = "refused"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rbmirror",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"service", "method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rbmirror",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "route", "status"},
	)
	batches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rbmirror",
			Subsystem: "session",
			Name:      "batches_total",
			Help:      "Render batches received, by outcome.",
		},
		[]string{"outcome"},
	)
	editsApplied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rbmirror",
			Subsystem: "session",
			Name:      "edits_applied_total",
			Help:      "Edits replayed against the mirror tree.",
		},
	)
	applyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rbmirror",
			Subsystem: "session",
			Name:      "apply_duration_seconds",
			Help:      "Time spent decoding and applying one render batch.",
			Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		},
		[]string{"outcome"},
	)
	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rbmirror",
			Subsystem: "events",
			Name:      "dispatches_total",
			Help:      "Event dispatch requests, by success.",
		},
		[]string{"success"},
	)
	consistencyWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rbmirror",
			Subsystem: "mirror",
			Name:      "consistency_warnings_total",
			Help:      "Lookups or removals that found no node.",
		},
		[]string{"op"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			batches, editsApplied, applyDuration,
			dispatches, consistencyWarnings,
		)
	})
}

func RecordHTTPRequest(service, method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	code := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, route, code).Inc()
	httpDuration.WithLabelValues(service, method, route, code).Observe(duration.Seconds())
}

// RecordBatch counts one batch outcome. edits is only added for applied
// batches.
func RecordBatch(outcome string, edits int, duration time.Duration) {
	RegisterMetrics()
	batches.WithLabelValues(outcome).Inc()
	applyDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if outcome == OutcomeApplied && edits > 0 {
		editsApplied.Add(float64(edits))
	}
}

func RecordDispatch(success bool) {
	RegisterMetrics()
	dispatches.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func RecordConsistencyWarning(op string) {
	RegisterMetrics()
	consistencyWarnings.WithLabelValues(op).Inc()
}
