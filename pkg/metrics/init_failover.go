package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initFailoverMetrics() {
	r.FailoverStagedLinks = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "sdn_failover_staged_links",
			Help: "Protected links with staged failover batches",
		},
	)

	r.FailoverActionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdn_failover_actions_total",
			Help: "Failover batch transmissions",
		},
		[]string{"action"}, // activate, deactivate
	)

	r.EmulationEventsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdn_emulation_events_total",
			Help: "Link failure emulation events",
		},
		[]string{"event"}, // down, up, reroute, restore
	)

	r.EmulationEventGap = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sdn_emulation_event_gap_seconds",
			Help:    "Time between consecutive emulation events",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	r.MarkerPacketsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdn_marker_packets_total",
			Help: "Packet-ins addressed to a failure emulation trigger",
		},
		[]string{"trigger"},
	)
}
