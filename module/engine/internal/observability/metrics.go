package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SamplesConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fenceping_samples_consumed_total",
		Help: "Location samples pulled from the input stream",
	})
	SamplesInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fenceping_samples_invalid_total",
		Help: "Samples dropped for malformed payloads or coordinates",
	})
	SamplesStale = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fenceping_samples_stale_total",
		Help: "Samples discarded by the per-pair staleness rule",
	})
	SamplesDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fenceping_samples_deadlettered_total",
		Help: "Samples routed to the dead-letter queue after the retry budget",
	})
	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fenceping_events_emitted_total",
		Help: "Geofence transition events emitted, by type",
	}, []string{"type"})
	EventsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fenceping_events_duplicate_total",
		Help: "Event log writes that hit the deterministic-id constraint",
	})
	DurabilityRisk = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fenceping_state_durability_risk_total",
		Help: "Containment state writes that exhausted persistence retries",
	})
	IndexLoads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fenceping_index_loads_total",
		Help: "Geofence index load-throughs to the source of truth",
	})
	IndexLoadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fenceping_index_load_failures_total",
		Help: "Geofence index loads that failed",
	})
	FencesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fenceping_fences_skipped_total",
		Help: "Geofences skipped for malformed geometry",
	})
	EvalLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fenceping_sample_eval_latency_seconds",
		Help:    "End-to-end latency of evaluating one sample",
		Buckets: prometheus.DefBuckets,
	})
)

func ObserveEvalLatency(start time.Time) {
	EvalLatency.Observe(time.Since(start).Seconds())
}
