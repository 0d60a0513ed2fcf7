package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the controller
type Registry struct {
	// HTTP Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Topology Metrics
	TopologyNodes           prometheus.Gauge
	TopologyLinks           prometheus.Gauge
	TopologyRoutes          prometheus.Gauge
	TopologyReloadsTotal    *prometheus.CounterVec
	RoutesSkippedTotal      prometheus.Counter
	FabricDiameter          prometheus.Gauge
	FabricPartitions        prometheus.Gauge
	AttachmentsTotal        *prometheus.CounterVec
	ReachabilityProbesTotal *prometheus.CounterVec

	// Flow Synchronisation Metrics
	SwitchesByState        *prometheus.GaugeVec
	FlowResetsTotal        *prometheus.CounterVec
	FlowModsSentTotal      prometheus.Counter
	BarrierRTT             prometheus.Histogram
	BarriersPending        prometheus.Gauge
	BarrierUnknownAckTotal prometheus.Counter

	// Failover Metrics
	FailoverStagedLinks  prometheus.Gauge
	FailoverActionsTotal *prometheus.CounterVec
	EmulationEventsTotal *prometheus.CounterVec
	EmulationEventGap    prometheus.Histogram
	MarkerPacketsTotal   *prometheus.CounterVec

	// Link Utilisation Metrics
	LinkUtilization *prometheus.GaugeVec
	LinkBandwidth   *prometheus.GaugeVec

	// Export Metrics
	ExportMessagesTotal *prometheus.CounterVec
	ExportBytesTotal    prometheus.Counter

	// System Metrics
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge
	LoopQueued       prometheus.Gauge
	LoopTimers       prometheus.Gauge

	registry *prometheus.Registry
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	r.initHTTPMetrics()
	r.initTopologyMetrics()
	r.initFlowSyncMetrics()
	r.initFailoverMetrics()
	r.initLinkMetrics()
	r.initExportMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
