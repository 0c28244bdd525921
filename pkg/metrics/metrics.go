// Package metrics holds the Prometheus instrumentation shared by the core
// components. Collectors live on a module-owned registry so embedding
// applications control exposition.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles all collectors for the core.
type Metrics struct {
	Registry *prometheus.Registry

	AnalysisDuration *prometheus.HistogramVec // level, backend
	AnalysisErrors   *prometheus.CounterVec   // level, backend
	CacheHits        *prometheus.CounterVec   // tier: feature, local, remote, ai
	CacheMisses      *prometheus.CounterVec   // tier
	CacheEvictions   prometheus.Counter
	WarmerQueueDepth prometheus.Gauge
	WarmerPauses     prometheus.Counter
	VectorUpserts    prometheus.Counter
	VectorSearches   prometheus.Histogram
	AIRequests       *prometheus.CounterVec // provider, outcome
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		AnalysisDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "samplemind_analysis_duration_seconds",
			Help:    "Audio analysis duration by level and backend.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"level", "backend"}),
		AnalysisErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "samplemind_analysis_errors_total",
			Help: "Failed analyses by level and backend.",
		}, []string{"level", "backend"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "samplemind_cache_hits_total",
			Help: "Cache hits by tier.",
		}, []string{"tier"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "samplemind_cache_misses_total",
			Help: "Cache misses by tier.",
		}, []string{"tier"}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "samplemind_cache_evictions_total",
			Help: "Entries evicted from the in-process cache.",
		}),
		WarmerQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "samplemind_warmer_queue_depth",
			Help: "Pending warmup tasks.",
		}),
		WarmerPauses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "samplemind_warmer_pauses_total",
			Help: "Warmer pauses due to resource pressure.",
		}),
		VectorUpserts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "samplemind_vector_upserts_total",
			Help: "Vector records upserted.",
		}),
		VectorSearches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "samplemind_vector_search_duration_seconds",
			Help:    "Similarity search duration.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		AIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "samplemind_ai_requests_total",
			Help: "AI provider requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
	}

	registry.MustRegister(
		m.AnalysisDuration, m.AnalysisErrors,
		m.CacheHits, m.CacheMisses, m.CacheEvictions,
		m.WarmerQueueDepth, m.WarmerPauses,
		m.VectorUpserts, m.VectorSearches,
		m.AIRequests,
	)
	return m
}

// Nop returns a Metrics whose collectors are registered on a throwaway
// registry. Components accept it when the caller does not care about
// instrumentation.
func Nop() *Metrics { return New() }
