package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initTopologyMetrics() {
	r.TopologyNodes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "sdn_topology_nodes",
			Help: "Number of nodes in the current topology",
		},
	)

	r.TopologyLinks = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "sdn_topology_links",
			Help: "Number of links in the current topology",
		},
	)

	r.TopologyRoutes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "sdn_topology_routes",
			Help: "Number of routes in the current topology",
		},
	)

	r.TopologyReloadsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdn_topology_reloads_total",
			Help: "Total number of topology loads",
		},
		[]string{"result"}, // loaded, empty
	)

	r.RoutesSkippedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "sdn_routes_skipped_total",
			Help: "Node pairs left without a route during generation",
		},
	)

	r.FabricDiameter = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "sdn_fabric_diameter_hops",
			Help: "Longest switch-to-switch shortest path in the current topology",
		},
	)

	r.FabricPartitions = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "sdn_fabric_partitions",
			Help: "Disconnected switch islands in the current topology",
		},
	)

	r.AttachmentsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdn_attachments_total",
			Help: "Dynamic host attachments",
		},
		[]string{"result"}, // attached, exhausted, error
	)

	r.ReachabilityProbesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdn_reachability_probes_total",
			Help: "Reachability probes of topology source hosts",
		},
		[]string{"result"}, // reachable, unreachable
	)
}
