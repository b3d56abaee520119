package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the recommender's Prometheus instruments. They are registered
// on the registry given to NewMetrics; a nil registry leaves them
// unregistered, which is what tests use.
type Metrics struct {
	ratingsIngested   *prometheus.CounterVec
	requestLatency    *prometheus.HistogramVec
	buildDuration     prometheus.Histogram
	modelSize         *prometheus.GaugeVec
	cacheRequests     *prometheus.CounterVec
	unresolvedQueries prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ratingsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recengine_ratings_ingested_total",
			Help: "Rating events added to the engine",
		}, []string{"source"}),
		requestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recengine_request_duration_seconds",
			Help:    "Latency of engine queries",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"operation"}),
		buildDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "recengine_build_duration_seconds",
			Help:    "Duration of offline model builds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		}),
		modelSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "recengine_model_size",
			Help: "Users, items and events known to the engine",
		}, []string{"kind"}),
		cacheRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recengine_cache_requests_total",
			Help: "Recommendation cache lookups",
		}, []string{"result"}),
		unresolvedQueries: factory.NewCounter(prometheus.CounterOpts{
			Name: "recengine_unresolved_queries_total",
			Help: "Predictions for which no fallback value existed",
		}),
	}
}
