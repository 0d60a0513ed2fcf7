package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initSystemMetrics() {
	factory := promauto.With(r.registry)

	r.UptimeSeconds = factory.NewGauge(prometheus.GaugeOpts{
		Name: "sdn_uptime_seconds",
		Help: "Seconds since the controller started",
	})
	r.GoRoutines = factory.NewGauge(prometheus.GaugeOpts{
		Name: "sdn_goroutines",
		Help: "Number of goroutines",
	})
	r.MemoryAllocBytes = factory.NewGauge(prometheus.GaugeOpts{
		Name: "sdn_memory_alloc_bytes",
		Help: "Bytes of allocated heap objects",
	})

	// The event loop runs every topology mutation and switch event, so a
	// growing queue means handlers are falling behind.
	r.LoopQueued = factory.NewGauge(prometheus.GaugeOpts{
		Name: "sdn_loop_queued_tasks",
		Help: "Tasks waiting to run on the event loop",
	})
	r.LoopTimers = factory.NewGauge(prometheus.GaugeOpts{
		Name: "sdn_loop_timers",
		Help: "Timers armed on the event loop",
	})
}
