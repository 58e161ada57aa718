package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MemoryMetrics exposes memory tracker samples
type MemoryMetrics struct {
	pressurePercent prometheus.Gauge
	residentBytes   prometheus.Gauge
	peakBytes       prometheus.Gauge
	trendMBps       prometheus.Gauge
	notifications   prometheus.Counter
	cleanupRequests *prometheus.CounterVec
}

// NewMemoryMetrics creates and registers memory tracker metrics
func NewMemoryMetrics(registry prometheus.Registerer) (*MemoryMetrics, error) {
	m := &MemoryMetrics{
		pressurePercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mediacore_memory_pressure_percent",
			Help: "System memory pressure (0-100)",
		}),
		residentBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mediacore_memory_process_resident_bytes",
			Help: "Process resident set size",
		}),
		peakBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mediacore_memory_process_peak_bytes",
			Help: "Highest observed resident set size",
		}),
		trendMBps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mediacore_memory_trend_mb_per_second",
			Help: "Resident set growth over the sample history",
		}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mediacore_memory_pressure_notifications_total",
			Help: "Pressure level changes broadcast to callbacks",
		}),
		cleanupRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediacore_memory_cleanup_requests_total",
			Help: "Forced cleanup requests by outcome",
		}, []string{"outcome"}), // delivered, rate_limited
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Describe implements the prometheus.Collector interface
func (m *MemoryMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.pressurePercent.Describe(ch)
	m.residentBytes.Describe(ch)
	m.peakBytes.Describe(ch)
	m.trendMBps.Describe(ch)
	m.notifications.Describe(ch)
	m.cleanupRequests.Describe(ch)
}

// Collect implements the prometheus.Collector interface
func (m *MemoryMetrics) Collect(ch chan<- prometheus.Metric) {
	m.pressurePercent.Collect(ch)
	m.residentBytes.Collect(ch)
	m.peakBytes.Collect(ch)
	m.trendMBps.Collect(ch)
	m.notifications.Collect(ch)
	m.cleanupRequests.Collect(ch)
}

// UpdateSample records the latest tracker sample
func (m *MemoryMetrics) UpdateSample(pressure int, resident, peak uint64, trend float64) {
	m.pressurePercent.Set(float64(pressure))
	m.residentBytes.Set(float64(resident))
	m.peakBytes.Set(float64(peak))
	m.trendMBps.Set(trend)
}

// RecordNotification counts one broadcast to pressure callbacks
func (m *MemoryMetrics) RecordNotification() {
	m.notifications.Inc()
}

// RecordCleanupRequest counts a cleanup request
func (m *MemoryMetrics) RecordCleanupRequest(delivered bool) {
	if delivered {
		m.cleanupRequests.WithLabelValues("delivered").Inc()
		return
	}
	m.cleanupRequests.WithLabelValues("rate_limited").Inc()
}
