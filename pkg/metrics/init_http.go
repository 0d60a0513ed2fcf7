package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// The route label is the mux pattern that served the request, never the raw
// path, so switch and link names in URLs do not add series.
func (r *Registry) initHTTPMetrics() {
	labels := []string{"method", "route", "status"}

	r.HTTPRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdn_http_requests_total",
			Help: "Operator API requests",
		},
		labels,
	)

	r.HTTPRequestDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sdn_http_request_duration_seconds",
			Help:    "Operator API latency in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		labels,
	)

	r.HTTPRequestsInFlight = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "sdn_http_requests_in_flight",
			Help: "Operator API requests being served",
		},
	)
}
