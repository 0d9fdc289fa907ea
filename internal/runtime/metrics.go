package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors updated by an Engine.
type Metrics struct {
	passes       *prometheus.CounterVec
	ruleOutcomes *prometheus.CounterVec
	passDuration prometheus.Histogram
	layerSize    prometheus.Histogram
	cacheHits    prometheus.Counter
	cacheMisses  prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		passes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "symbolica_passes_total",
			Help: "Reasoning passes by outcome (complete or truncated).",
		}, []string{"outcome"}),
		ruleOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "symbolica_rule_evaluations_total",
			Help: "Rule evaluations by outcome (fired, not_fired, error).",
		}, []string{"outcome"}),
		passDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "symbolica_pass_duration_seconds",
			Help:    "Wall time of a reasoning pass.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		layerSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "symbolica_layer_rules",
			Help:    "Number of rules evaluated concurrently per layer.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "symbolica_eval_cache_hits_total",
			Help: "Evaluation cache hits.",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "symbolica_eval_cache_misses_total",
			Help: "Evaluation cache misses.",
		}),
	}
}
