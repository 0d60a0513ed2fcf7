package metrics

import (
	"runtime"
	"time"
)

// Switch states as used for the sdn_switches label.
var switchStates = []string{"disconnected", "settling", "resetting", "synced"}

// RecordHTTPRequest records an HTTP request with its duration
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// UpdateTopology records the size of a freshly published topology
func (r *Registry) UpdateTopology(nodes, links, routes, skipped int) {
	r.TopologyNodes.Set(float64(nodes))
	r.TopologyLinks.Set(float64(links))
	r.TopologyRoutes.Set(float64(routes))
	r.RoutesSkippedTotal.Add(float64(skipped))
}

// UpdateFabric records the shape of the switch fabric
func (r *Registry) UpdateFabric(diameter, partitions int) {
	r.FabricDiameter.Set(float64(diameter))
	r.FabricPartitions.Set(float64(partitions))
}

// RecordReset records one flow table reset and the number of flow-mods it sent
func (r *Registry) RecordReset(err error, mods int) {
	if err != nil {
		r.FlowResetsTotal.WithLabelValues("error").Inc()
		return
	}
	r.FlowResetsTotal.WithLabelValues("ok").Inc()
	r.FlowModsSentTotal.Add(float64(mods))
}

// SetSwitchStates publishes the number of switches per state. States
// missing from counts are reported as zero.
func (r *Registry) SetSwitchStates(counts map[string]int) {
	for _, s := range switchStates {
		r.SwitchesByState.WithLabelValues(s).Set(float64(counts[s]))
	}
}

// RecordBarrierRTT records an acknowledged barrier
func (r *Registry) RecordBarrierRTT(rtt time.Duration, pending int) {
	r.BarrierRTT.Observe(rtt.Seconds())
	r.BarriersPending.Set(float64(pending))
}

// RecordEmulationEvent counts an emulation event and the gap since the previous one
func (r *Registry) RecordEmulationEvent(event string, gap time.Duration) {
	r.EmulationEventsTotal.WithLabelValues(event).Inc()
	if gap > 0 {
		r.EmulationEventGap.Observe(gap.Seconds())
	}
}

// SetLinkUtilization publishes a utilisation sample
func (r *Registry) SetLinkUtilization(link string, utilization, bandwidth float64) {
	r.LinkUtilization.WithLabelValues(link).Set(utilization)
	r.LinkBandwidth.WithLabelValues(link).Set(bandwidth)
}

// RecordExport records a published event
func (r *Registry) RecordExport(topic string, size int, err error) {
	if err != nil {
		r.ExportMessagesTotal.WithLabelValues(topic, "error").Inc()
		return
	}
	r.ExportMessagesTotal.WithLabelValues(topic, "ok").Inc()
	r.ExportBytesTotal.Add(float64(size))
}

// UpdateSystemMetrics samples process and event loop gauges.
func (r *Registry) UpdateSystemMetrics(started time.Time, queued, timers int) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	r.UptimeSeconds.Set(time.Since(started).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))
	r.MemoryAllocBytes.Set(float64(m.Alloc))
	r.LoopQueued.Set(float64(queued))
	r.LoopTimers.Set(float64(timers))
}
