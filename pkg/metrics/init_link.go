package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initLinkMetrics() {
	r.LinkUtilization = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sdn_link_utilization_ratio",
			Help: "Link bandwidth relative to its observed peak",
		},
		[]string{"link"},
	)

	r.LinkBandwidth = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sdn_link_bandwidth_bytes_per_second",
			Help: "Link bandwidth in bytes per second",
		},
		[]string{"link"},
	)
}

func (r *Registry) initExportMetrics() {
	r.ExportMessagesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "sdn_export_messages_total",
			Help: "Events published to external consumers",
		},
		[]string{"topic", "result"},
	)

	r.ExportBytesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "sdn_export_bytes_total",
			Help: "Bytes published to external consumers",
		},
	)
}
