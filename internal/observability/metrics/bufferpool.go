// Package metrics provides Prometheus collectors for the media pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BufferPoolMetrics contains Prometheus metrics for pooled buffer operations
type BufferPoolMetrics struct {
	acquiresTotal    *prometheus.CounterVec
	releasesTotal    *prometheus.CounterVec
	evictionsTotal   *prometheus.CounterVec
	pooledBytes      *prometheus.GaugeVec
	peakPooledBytes  *prometheus.GaugeVec
	hitRatio         *prometheus.GaugeVec
	pressureLevel    *prometheus.GaugeVec
	acquireSizeBytes *prometheus.HistogramVec
}

// NewBufferPoolMetrics creates and registers buffer pool metrics
func NewBufferPoolMetrics(registry prometheus.Registerer) (*BufferPoolMetrics, error) {
	m := &BufferPoolMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *BufferPoolMetrics) initMetrics() {
	m.acquiresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediacore_bufpool_acquires_total",
			Help: "Total buffer acquisitions by result",
		},
		[]string{"pool", "result"}, // result: hit, miss, unpooled
	)

	m.releasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediacore_bufpool_releases_total",
			Help: "Total buffer releases by outcome",
		},
		[]string{"pool", "outcome"}, // outcome: pooled, dropped
	)

	m.evictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediacore_bufpool_evictions_total",
			Help: "Buffers evicted while enforcing pressure limits",
		},
		[]string{"pool", "level"},
	)

	m.pooledBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mediacore_bufpool_pooled_bytes",
			Help: "Bytes currently held in free lists",
		},
		[]string{"pool"},
	)

	m.peakPooledBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mediacore_bufpool_peak_pooled_bytes",
			Help: "Highest number of bytes ever held in free lists",
		},
		[]string{"pool"},
	)

	m.hitRatio = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mediacore_bufpool_hit_ratio",
			Help: "Pool hit ratio (0.0 to 1.0)",
		},
		[]string{"pool"},
	)

	m.pressureLevel = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mediacore_bufpool_pressure_level",
			Help: "Pressure level applied to the pool (0 normal, 1 high, 2 critical)",
		},
		[]string{"pool"},
	)

	m.acquireSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediacore_bufpool_acquire_size_bytes",
			Help:    "Requested buffer sizes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 11), // 1KB to 1MB
		},
		[]string{"pool"},
	)
}

// Describe implements the prometheus.Collector interface
func (m *BufferPoolMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.acquiresTotal.Describe(ch)
	m.releasesTotal.Describe(ch)
	m.evictionsTotal.Describe(ch)
	m.pooledBytes.Describe(ch)
	m.peakPooledBytes.Describe(ch)
	m.hitRatio.Describe(ch)
	m.pressureLevel.Describe(ch)
	m.acquireSizeBytes.Describe(ch)
}

// Collect implements the prometheus.Collector interface
func (m *BufferPoolMetrics) Collect(ch chan<- prometheus.Metric) {
	m.acquiresTotal.Collect(ch)
	m.releasesTotal.Collect(ch)
	m.evictionsTotal.Collect(ch)
	m.pooledBytes.Collect(ch)
	m.peakPooledBytes.Collect(ch)
	m.hitRatio.Collect(ch)
	m.pressureLevel.Collect(ch)
	m.acquireSizeBytes.Collect(ch)
}

// RecordAcquire records one acquisition and its requested size
func (m *BufferPoolMetrics) RecordAcquire(pool, result string, size int) {
	m.acquiresTotal.WithLabelValues(pool, result).Inc()
	m.acquireSizeBytes.WithLabelValues(pool).Observe(float64(size))
}

// RecordRelease records whether a released buffer was kept
func (m *BufferPoolMetrics) RecordRelease(pool string, pooled bool) {
	outcome := "dropped"
	if pooled {
		outcome = "pooled"
	}
	m.releasesTotal.WithLabelValues(pool, outcome).Inc()
}

// RecordEvictions adds evicted buffer count for a pressure level
func (m *BufferPoolMetrics) RecordEvictions(pool, level string, n int) {
	if n > 0 {
		m.evictionsTotal.WithLabelValues(pool, level).Add(float64(n))
	}
}

// UpdatePoolState sets the size and ratio gauges from a stats snapshot
func (m *BufferPoolMetrics) UpdatePoolState(pool string, pooled, peak int64, hitRatio float64, level int) {
	m.pooledBytes.WithLabelValues(pool).Set(float64(pooled))
	m.peakPooledBytes.WithLabelValues(pool).Set(float64(peak))
	m.hitRatio.WithLabelValues(pool).Set(hitRatio)
	m.pressureLevel.WithLabelValues(pool).Set(float64(level))
}
