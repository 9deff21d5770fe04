package tokens

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
	encodingFallbacks prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ai_gateway",
			Subsystem: "tokens",
			Name:      "cache_hits_total",
			Help:      "Text estimates served from the cache.",
		}),
		cacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ai_gateway",
			Subsystem: "tokens",
			Name:      "cache_misses_total",
			Help:      "Text estimates that had to be computed.",
		}),
		encodingFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ai_gateway",
			Subsystem: "tokens",
			Name:      "encoding_fallbacks_total",
			Help:      "Estimates computed with the character heuristic because no encoding was available.",
		}),
	}
}
