// Package metrics exposes the agent's Prometheus metrics endpoint: gauges
// and counters tracking per-device health state and recent metric samples,
// plus histograms of detection tier latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gdnd-project/gdnd/pkg/device"
	"github.com/gdnd-project/gdnd/pkg/detect"
	"github.com/gdnd-project/gdnd/pkg/health"
)

// Registry wraps a dedicated prometheus.Registry with the series this
// agent reports. It is a plain Collector set, not a Collect-on-scrape
// pull model: callers push samples as they observe them, the same way the
// scheduler drives detection.
type Registry struct {
	registry *prometheus.Registry

	gpuStatus       *prometheus.GaugeVec
	gpuTemperature  *prometheus.GaugeVec
	gpuUtilization  *prometheus.GaugeVec
	gpuMemoryUsed   *prometheus.GaugeVec
	checkDuration   *prometheus.HistogramVec
	checkFailures   *prometheus.CounterVec
	isolationAction *prometheus.CounterVec
	gpuCount        prometheus.Gauge
}

// New creates a Registry with every series registered.
func New() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		gpuStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpu_status",
			Help: "Current health state per device: 0=Healthy, 1=Suspected, 2=Unhealthy, 3=Isolated.",
		}, []string{"gpu", "uuid", "name"}),
		gpuTemperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpu_temperature_celsius",
			Help: "Most recently sampled device temperature.",
		}, []string{"gpu"}),
		gpuUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpu_utilization_percent",
			Help: "Most recently sampled device compute utilization.",
		}, []string{"gpu"}),
		gpuMemoryUsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpu_memory_used_bytes",
			Help: "Most recently sampled device memory in use.",
		}, []string{"gpu"}),
		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "check_duration_seconds",
			Help:    "Wall-clock duration of the detector pass that produced this device's result (one pass covers every device of the tier).",
			Buckets: prometheus.DefBuckets,
		}, []string{"level", "gpu"}),
		checkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "check_failures_total",
			Help: "Count of detection findings by tier, device, and reason.",
		}, []string{"level", "gpu", "reason"}),
		isolationAction: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "isolation_actions_total",
			Help: "Count of isolation or recovery actions executed, by kind.",
		}, []string{"action"}),
		gpuCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpu_count",
			Help: "Number of devices currently enumerated by the backend.",
		}),
	}

	r.registry.MustRegister(
		r.gpuStatus,
		r.gpuTemperature,
		r.gpuUtilization,
		r.gpuMemoryUsed,
		r.checkDuration,
		r.checkFailures,
		r.isolationAction,
		r.gpuCount,
	)
	return r
}

// Gatherer exposes the underlying registry for promhttp.HandlerFor.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.registry }

// SetDeviceCount records how many devices the backend currently reports.
func (r *Registry) SetDeviceCount(n int) { r.gpuCount.Set(float64(n)) }

// ObserveHealth records a device's current state-machine state.
func (r *Registry) ObserveHealth(h *health.Health) {
	r.gpuStatus.WithLabelValues(h.Device.String(), h.Device.UUID, h.Device.Name).Set(float64(h.State))
}

// ObserveMetrics records a fresh metrics sample for one device.
func (r *Registry) ObserveMetrics(id device.ID, m device.Metrics) {
	label := id.String()
	r.gpuTemperature.WithLabelValues(label).Set(float64(m.Temperature))
	r.gpuUtilization.WithLabelValues(label).Set(float64(m.GPUUtilization))
	r.gpuMemoryUsed.WithLabelValues(label).Set(float64(m.MemoryUsed))
}

// ObserveCheckDuration records how long one detector pass took.
func (r *Registry) ObserveCheckDuration(tier detect.Tier, id device.ID, seconds float64) {
	r.checkDuration.WithLabelValues(tier.String(), id.String()).Observe(seconds)
}

// ObserveCheckFailure increments the failure counter for a detection tier,
// device, and reason (a Finding's type).
func (r *Registry) ObserveCheckFailure(tier detect.Tier, id device.ID, reason string) {
	r.checkFailures.WithLabelValues(tier.String(), id.String(), reason).Inc()
}

// ObserveIsolationAction increments the isolation action counter.
func (r *Registry) ObserveIsolationAction(kind health.ActionKind) {
	r.isolationAction.WithLabelValues(string(kind)).Inc()
}
