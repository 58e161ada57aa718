package memtrack

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/mediacore/internal/observability/metrics"
)

const gib = 1024 * 1024 * 1024

type fakeSampler struct {
	mu     sync.Mutex
	sample Sample
	err    error
}

func (f *fakeSampler) set(pressure int, resident uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sample = Sample{
		TotalPhysical:     100 * gib,
		AvailablePhysical: uint64(100-pressure) * gib,
		ProcessResident:   resident,
	}
}

func (f *fakeSampler) Sample() (Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sample, f.err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTracker(t *testing.T) (*Tracker, *fakeSampler, *fakeClock) {
	t.Helper()
	s := &fakeSampler{}
	s.set(10, 100*1024*1024)
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	tr := New(s, Config{})
	tr.now = clk.Now
	return tr, s, clk
}

func TestSamplePressure(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, Sample{}.Pressure())
	assert.Equal(t, 75, Sample{TotalPhysical: 100, AvailablePhysical: 25}.Pressure())
	assert.Equal(t, 0, Sample{TotalPhysical: 100, AvailablePhysical: 200}.Pressure())
}

func TestUpdateHysteresis(t *testing.T) {
	t.Parallel()

	tr, s, clk := newTestTracker(t)

	var calls []int
	var mu sync.Mutex
	tr.RegisterCallback(func(level int) {
		mu.Lock()
		calls = append(calls, level)
		mu.Unlock()
	})

	require.NoError(t, tr.Update()) // first sample always broadcasts
	s.set(13, 0)
	clk.Advance(time.Second)
	require.NoError(t, tr.Update()) // +3, below hysteresis
	s.set(15, 0)
	clk.Advance(time.Second)
	require.NoError(t, tr.Update()) // +5 from last broadcast
	s.set(11, 0)
	clk.Advance(time.Second)
	require.NoError(t, tr.Update()) // -4

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 10, 15}, calls, "registration call, then two broadcasts")
	assert.Equal(t, 11, tr.Level())
}

func TestRegisterCallbackInvokesImmediately(t *testing.T) {
	t.Parallel()

	tr, _, _ := newTestTracker(t)
	require.NoError(t, tr.Update())

	var got atomic.Int32
	got.Store(-1)
	id := tr.RegisterCallback(func(level int) { got.Store(int32(level)) })
	assert.Equal(t, int32(10), got.Load())
	assert.Equal(t, 1, tr.Stats().Callbacks)

	tr.UnregisterCallback(id)
	assert.Equal(t, 0, tr.Stats().Callbacks)
}

func TestCallbackMayReenterTracker(t *testing.T) {
	t.Parallel()

	tr, s, _ := newTestTracker(t)
	var seen atomic.Int32
	tr.RegisterCallback(func(int) {
		seen.Store(int32(tr.Level()))
	})

	s.set(50, 0)
	require.NoError(t, tr.Update())
	assert.Equal(t, int32(50), seen.Load())
}

func TestRequestCleanupRateLimit(t *testing.T) {
	t.Parallel()

	tr, _, clk := newTestTracker(t)
	reg := prometheus.NewRegistry()
	m, err := metrics.NewMemoryMetrics(reg)
	require.NoError(t, err)
	tr.SetMetrics(m)

	var levels []int
	tr.RegisterCallback(func(level int) { levels = append(levels, level) })

	assert.True(t, tr.RequestCleanup(90))
	assert.False(t, tr.RequestCleanup(90))
	clk.Advance(9 * time.Second)
	assert.False(t, tr.RequestCleanup(90))
	clk.Advance(time.Second)
	assert.True(t, tr.RequestCleanup(95))

	assert.Equal(t, []int{0, 90, 95}, levels)
	assert.Equal(t, 2, testutil.CollectAndCount(m, "mediacore_memory_cleanup_requests_total"), "delivered and rate_limited series")
}

func TestTrend(t *testing.T) {
	t.Parallel()

	tr, s, clk := newTestTracker(t)
	for i := range HistorySize + 5 {
		s.set(10, uint64(i)*1024*1024) // +1 MB per second
		require.NoError(t, tr.Update())
		clk.Advance(time.Second)
	}
	assert.InDelta(t, 1.0, tr.Trend(), 0.0001)

	st := tr.Stats()
	assert.Equal(t, uint64(14*1024*1024), st.PeakResident)
	assert.Equal(t, uint64(100*gib), st.TotalPhysical)
}

func TestAutoTrackRequestsCleanup(t *testing.T) {
	t.Parallel()

	tr, s, clk := newTestTracker(t)
	s.set(85, 0)
	require.NoError(t, tr.Update())
	clk.Advance(time.Second)
	s.set(85, 10*1024*1024)

	var cleanups atomic.Int32
	tr.RegisterCallback(func(level int) {
		if level >= 85 {
			cleanups.Add(1)
		}
	})
	before := cleanups.Load()

	tr.autoTrack()
	assert.Equal(t, before+1, cleanups.Load())
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	tr, _, _ := newTestTracker(t)
	tr.Start(context.Background(), 5*time.Millisecond)
	tr.Start(context.Background(), 5*time.Millisecond) // no-op

	assert.Eventually(t, func() bool {
		return !tr.Stats().LastUpdate.IsZero()
	}, time.Second, 5*time.Millisecond)

	tr.Stop()
	tr.Stop()
}
