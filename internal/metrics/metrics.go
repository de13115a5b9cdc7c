// Package metrics exposes layer synchronization and click metrics for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeEmpty   = "empty"
	OutcomeSkipped = "skipped"
	OutcomeTimeout = "timeout"
	OutcomeHTTP    = "http_error"
	OutcomeParse   = "parse_error"
	OutcomeError   = "error"
)

// Click outcomes.
const (
	ClickOpened     = "opened"
	ClickSuppressed = "suppressed"
	ClickEmpty      = "empty"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	fetches        *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	batches        prometheus.Counter
	staleDiscards  *prometheus.CounterVec
	clicks         *prometheus.CounterVec
	batchDurations prometheus.Histogram
}

// New creates a fresh registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	fetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "platmap",
		Name:      "layer_fetches_total",
		Help:      "Layer fetches by layer and outcome",
	}, []string{"layer", "outcome"})

	fetchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "platmap",
		Name:      "layer_fetch_duration_seconds",
		Help:      "Duration of individual layer fetches",
		Buckets:   prometheus.DefBuckets,
	}, []string{"layer"})

	batches := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "platmap",
		Name:      "sync_batches_total",
		Help:      "Dynamic layer sync batches dispatched",
	})

	staleDiscards := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "platmap",
		Name:      "sync_stale_discards_total",
		Help:      "Layer results discarded because a newer viewport was already applied",
	}, []string{"layer"})

	clicks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "platmap",
		Name:      "clicks_total",
		Help:      "Map clicks by outcome",
	}, []string{"outcome"})

	batchDurations := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "platmap",
		Name:      "sync_batch_duration_seconds",
		Help:      "Duration of a dynamic sync batch from dispatch to apply",
		Buckets:   prometheus.DefBuckets,
	})

	registry.MustRegister(fetches, fetchDuration, batches, staleDiscards, clicks, batchDurations)

	return &Metrics{
		registry:       registry,
		fetches:        fetches,
		fetchDuration:  fetchDuration,
		batches:        batches,
		staleDiscards:  staleDiscards,
		clicks:         clicks,
		batchDurations: batchDurations,
	}
}

// ObserveFetch records one layer fetch.
func (m *Metrics) ObserveFetch(layer, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(layer, outcome).Inc()
	if outcome != OutcomeSkipped {
		m.fetchDuration.WithLabelValues(layer).Observe(duration.Seconds())
	}
}

// ObserveBatch records a completed dynamic sync batch.
func (m *Metrics) ObserveBatch(duration time.Duration) {
	if m == nil {
		return
	}
	m.batches.Inc()
	m.batchDurations.Observe(duration.Seconds())
}

// IncStaleDiscard records a stale layer result that was not applied.
func (m *Metrics) IncStaleDiscard(layer string) {
	if m == nil {
		return
	}
	m.staleDiscards.WithLabelValues(layer).Inc()
}

// IncClick records a click outcome (opened, suppressed, empty).
func (m *Metrics) IncClick(outcome string) {
	if m == nil {
		return
	}
	m.clicks.WithLabelValues(outcome).Inc()
}

// Handler returns the Prometheus scrape handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
