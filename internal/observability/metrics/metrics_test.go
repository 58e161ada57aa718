package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPoolMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewBufferPoolMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordAcquire("io", "hit", 4096)
	m.RecordAcquire("io", "hit", 4096)
	m.RecordAcquire("io", "miss", 8192)
	m.RecordRelease("io", true)
	m.RecordRelease("io", false)
	m.RecordEvictions("io", "critical", 3)
	m.RecordEvictions("io", "normal", 0)
	m.UpdatePoolState("io", 1<<20, 2<<20, 0.75, 2)

	assert.InDelta(t, 2, testutil.ToFloat64(m.acquiresTotal.WithLabelValues("io", "hit")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.releasesTotal.WithLabelValues("io", "dropped")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.evictionsTotal.WithLabelValues("io", "critical")), 0)
	assert.InDelta(t, 1<<20, testutil.ToFloat64(m.pooledBytes.WithLabelValues("io")), 0)
	assert.InDelta(t, 0.75, testutil.ToFloat64(m.hitRatio.WithLabelValues("io")), 1e-9)
	assert.Equal(t, 1, testutil.CollectAndCount(m.evictionsTotal))
}

func TestDuplicateRegistrationFails(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewMemoryMetrics(reg)
	require.NoError(t, err)
	_, err = NewMemoryMetrics(reg)
	assert.Error(t, err)
}

func TestMemoryMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewMemoryMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.UpdateSample(42, 100, 200, 0.5)
	m.RecordNotification()
	m.RecordCleanupRequest(true)
	m.RecordCleanupRequest(false)
	m.RecordCleanupRequest(false)

	assert.InDelta(t, 42, testutil.ToFloat64(m.pressurePercent), 0)
	assert.InDelta(t, 200, testutil.ToFloat64(m.peakBytes), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.notifications), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.cleanupRequests.WithLabelValues("rate_limited")), 0)
}

func TestCodecMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewCodecMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	var rec DecodeRecorder = m
	rec.RecordFrame("flac", 4096, 0.0002)
	rec.RecordFrame("flac", 4096, 0.0002)
	rec.RecordDecodeError("flac", ErrTypeFrameCRC)
	rec.RecordChunk("ogg")
	rec.RecordSeek("mp4", false)
	m.RecordProbe("", "none")
	m.RecordParseError("mp4")

	assert.InDelta(t, 2, testutil.ToFloat64(m.framesTotal.WithLabelValues("flac")), 0)
	assert.InDelta(t, 8192, testutil.ToFloat64(m.samplesTotal.WithLabelValues("flac")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.errorsTotal.WithLabelValues("flac", ErrTypeFrameCRC)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.seeksTotal.WithLabelValues("mp4", "error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.probesTotal.WithLabelValues("unknown", "none")), 0)

	NopRecorder{}.RecordFrame("x", 1, 1)
}
