// Package obs exposes the engine's prometheus instruments.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all metrics
type Metrics struct {
	Appends       prometheus.Counter
	Configures    prometheus.Counter
	LinearQueries prometheus.Counter
	IVFQueries    prometheus.Counter
	QueryErrors   prometheus.Counter
	QueryLatency  prometheus.Histogram
}

// NewMetrics creates a metrics instance registered against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Appends: f.NewCounter(prometheus.CounterOpts{
			Name: "rii_appends_total",
			Help: "Total append operations",
		}),
		Configures: f.NewCounter(prometheus.CounterOpts{
			Name: "rii_configures_total",
			Help: "Total coarse reconfigurations",
		}),
		LinearQueries: f.NewCounter(prometheus.CounterOpts{
			Name: "rii_query_linear_total",
			Help: "Total linear-scan queries",
		}),
		IVFQueries: f.NewCounter(prometheus.CounterOpts{
			Name: "rii_query_ivf_total",
			Help: "Total inverted-file queries",
		}),
		QueryErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "rii_query_errors_total",
			Help: "Total query errors",
		}),
		QueryLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name: "rii_query_latency_seconds",
			Help: "Query latency",
		}),
	}
}
