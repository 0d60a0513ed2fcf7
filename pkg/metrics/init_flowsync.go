package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initFlowSyncMetrics() {
	r.SwitchesByState = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sdn_switches",
			Help: "Known switches by synchronisation state",
		},
		[]string{"state"},
	)

	r.FlowResetsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdn_flow_resets_total",
			Help: "Flow table resets by result",
		},
		[]string{"result"}, // ok, error
	)

	r.FlowModsSentTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "sdn_flow_mods_sent_total",
			Help: "Flow-mod messages sent to switches",
		},
	)

	r.BarrierRTT = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sdn_barrier_rtt_seconds",
			Help:    "Barrier round-trip time in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	r.BarriersPending = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "sdn_barriers_pending",
			Help: "Barriers sent and not yet acknowledged",
		},
	)

	r.BarrierUnknownAckTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "sdn_barrier_unknown_acks_total",
			Help: "Barrier replies for unknown or already handled ids",
		},
	)
}
