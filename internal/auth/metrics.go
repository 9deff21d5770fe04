package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	refreshes       *prometheus.CounterVec
	sessionsCreated *prometheus.CounterVec
	corruptReads    prometheus.Counter
}

// newMetrics registers the store's collectors with reg. A nil reg yields
// working but unregistered collectors.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ai_gateway",
			Subsystem: "sessions",
			Name:      "refreshes_total",
			Help:      "OIDC session refresh attempts by result.",
		}, []string{"result"}),
		sessionsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ai_gateway",
			Subsystem: "sessions",
			Name:      "created_total",
			Help:      "Sessions created by authentication method.",
		}, []string{"method"}),
		corruptReads: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ai_gateway",
			Subsystem: "sessions",
			Name:      "corrupt_reads_total",
			Help:      "Reads of an unparsable stored session list.",
		}),
	}
}
