// Package metrics defines the Prometheus collectors used by the pipeline
// stages and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	BatchesTotal            *prometheus.CounterVec
	WordsTotal              *prometheus.CounterVec
	TokensTotal             prometheus.Counter
	RequestDuration         *prometheus.HistogramVec
	CheckpointSize          prometheus.Gauge
	CircuitBreakerState     *prometheus.GaugeVec
	SimilarityBuildDuration prometheus.Histogram
	SimilarityWords         prometheus.Gauge
	CacheHitsTotal          *prometheus.CounterVec
	CacheMissesTotal        prometheus.Counter
}

// New creates all collectors and registers them with reg. Passing
// prometheus.DefaultRegisterer exposes them on the scrape handler; tests pass
// a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embedding_batches_total",
				Help: "Embedding batches by outcome (success, rate_limited, transient, malformed, breaker_open, empty).",
			},
			[]string{"status"},
		),
		WordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embedding_words_total",
				Help: "Words handled by the batch driver by result (embedded, empty_text, missing_vector).",
			},
			[]string{"result"},
		),
		TokensTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "embedding_tokens_total",
				Help: "Tokens billed by the embedding provider.",
			},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "embedding_request_duration_seconds",
				Help:    "Embedding request latency in seconds.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider"},
		),
		CheckpointSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "embedding_checkpoint_size",
				Help: "Number of words in the checkpoint log.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		SimilarityBuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "similarity_build_duration_seconds",
				Help:    "Time to compute the top-K neighbour index.",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
		SimilarityWords: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "similarity_index_words",
				Help: "Number of words in the last built neighbour index.",
			},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neighbor_cache_hits_total",
				Help: "Neighbour cache hits by tier (memory, redis).",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "neighbor_cache_misses_total",
				Help: "Neighbour cache misses.",
			},
		),
	}

	reg.MustRegister(
		m.BatchesTotal,
		m.WordsTotal,
		m.TokensTotal,
		m.RequestDuration,
		m.CheckpointSize,
		m.CircuitBreakerState,
		m.SimilarityBuildDuration,
		m.SimilarityWords,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
