// Package memtrack samples system and process memory and broadcasts pressure
// changes to subscribers such as buffer pools and decode-ahead queues.
//
// A Tracker is constructed once by the composition root and passed to the
// components that need it. Callbacks are always invoked without the tracker's
// lock held, so they may call back into the tracker.
package memtrack

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/mediacore/internal/logger"
	"github.com/tphakala/mediacore/internal/observability/metrics"
)

const (
	// HistorySize is the number of resident-size samples kept for the trend.
	HistorySize = 10

	// defaultHysteresis is the minimum change in pressure points that triggers a broadcast.
	defaultHysteresis = 5

	defaultCleanupInterval    = 10 * time.Second
	defaultCleanupThreshold   = 80
	defaultTrendThresholdMBps = 0.1

	bytesPerMB = 1024 * 1024
)

// GetLogger returns the memtrack module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("memtrack")
}

// Callback receives the current pressure level (0-100).
type Callback = func(level int)

// Config tunes a Tracker. Zero values select defaults.
type Config struct {
	Hysteresis         int
	CleanupInterval    time.Duration // minimum gap between forced cleanups
	CleanupThreshold   int           // pressure above which auto-tracking may force cleanup
	TrendThresholdMBps float64       // resident growth that counts as "rising"
}

func (c *Config) applyDefaults() {
	if c.Hysteresis <= 0 {
		c.Hysteresis = defaultHysteresis
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = defaultCleanupInterval
	}
	if c.CleanupThreshold <= 0 {
		c.CleanupThreshold = defaultCleanupThreshold
	}
	if c.TrendThresholdMBps <= 0 {
		c.TrendThresholdMBps = defaultTrendThresholdMBps
	}
}

// Stats is a snapshot of the tracker state.
type Stats struct {
	TotalPhysical     uint64
	AvailablePhysical uint64
	ProcessResident   uint64
	ProcessVirtual    uint64
	PeakResident      uint64
	Level             int
	TrendMBps         float64
	LastUpdate        time.Time
	Callbacks         int
}

// Tracker is the synchronized façade over trackerState.
type Tracker struct {
	mu    sync.Mutex
	state trackerState

	sampler Sampler
	cfg     Config
	metrics *metrics.MemoryMetrics
	now     func() time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type historySample struct {
	at       time.Time
	resident uint64
}

// trackerState holds everything guarded by Tracker.mu. Its methods never lock.
type trackerState struct {
	history [HistorySize]historySample
	head    int
	count   int

	last        Sample
	peak        uint64
	level       int
	notified    int
	hasNotified bool
	trend       float64
	lastUpdate  time.Time
	lastCleanup time.Time
	callbacks   map[int]Callback
	nextID      int
}

// New creates a tracker reading from sampler.
func New(sampler Sampler, cfg Config) *Tracker {
	cfg.applyDefaults()
	return &Tracker{
		sampler: sampler,
		cfg:     cfg,
		now:     time.Now,
		state:   trackerState{callbacks: make(map[int]Callback)},
	}
}

// SetMetrics attaches Prometheus collectors. Passing nil disables them.
func (t *Tracker) SetMetrics(m *metrics.MemoryMetrics) {
	t.mu.Lock()
	t.metrics = m
	t.mu.Unlock()
}

// Update resamples memory counters and broadcasts the new level when it moved
// by at least the hysteresis amount since the last broadcast.
func (t *Tracker) Update() error {
	s, err := t.sampler.Sample()
	if err != nil {
		GetLogger().Warn("memory sample failed", logger.Error(err))
		return err
	}

	t.mu.Lock()
	changed := t.state.record(s, t.now(), t.cfg.Hysteresis)
	var cbs []Callback
	if changed {
		cbs = t.state.snapshotCallbacks()
	}
	level, peak, trend, m := t.state.level, t.state.peak, t.state.trend, t.metrics
	t.mu.Unlock()

	if m != nil {
		m.UpdateSample(level, s.ProcessResident, peak, trend)
	}
	if changed {
		GetLogger().Debug("memory pressure changed",
			logger.Int("level", level),
			logger.Float64("trend_mbps", trend))
		if m != nil {
			m.RecordNotification()
		}
		invoke(cbs, level)
	}
	return nil
}

// Level returns the last computed pressure level.
func (t *Tracker) Level() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.level
}

// Trend returns the resident-size growth in MB/s over the sample history.
func (t *Tracker) Trend() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.trend
}

// RegisterCallback subscribes fn and invokes it once with the current level
// before returning. The returned id unregisters it.
func (t *Tracker) RegisterCallback(fn Callback) int {
	t.mu.Lock()
	t.state.nextID++
	id := t.state.nextID
	t.state.callbacks[id] = fn
	level := t.state.level
	t.mu.Unlock()

	fn(level)
	return id
}

// UnregisterCallback removes a subscription. Unknown ids are ignored.
func (t *Tracker) UnregisterCallback(id int) {
	t.mu.Lock()
	delete(t.state.callbacks, id)
	t.mu.Unlock()
}

// RequestCleanup forces a broadcast outside the polling cadence. Requests are
// rate limited to one per cleanup interval; the return value reports whether
// this one was delivered. Subscribers receive the higher of the current level
// and urgency.
func (t *Tracker) RequestCleanup(urgency int) bool {
	now := t.now()

	t.mu.Lock()
	if !t.state.lastCleanup.IsZero() && now.Sub(t.state.lastCleanup) < t.cfg.CleanupInterval {
		m := t.metrics
		t.mu.Unlock()
		if m != nil {
			m.RecordCleanupRequest(false)
		}
		return false
	}
	t.state.lastCleanup = now
	level := max(t.state.level, min(urgency, 100))
	cbs := t.state.snapshotCallbacks()
	m := t.metrics
	t.mu.Unlock()

	if m != nil {
		m.RecordCleanupRequest(true)
	}
	GetLogger().Info("memory cleanup requested",
		logger.Int("urgency", urgency),
		logger.Int("subscribers", len(cbs)))
	invoke(cbs, level)
	return true
}

// Stats returns a snapshot of the tracker.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		TotalPhysical:     t.state.last.TotalPhysical,
		AvailablePhysical: t.state.last.AvailablePhysical,
		ProcessResident:   t.state.last.ProcessResident,
		ProcessVirtual:    t.state.last.ProcessVirtual,
		PeakResident:      t.state.peak,
		Level:             t.state.level,
		TrendMBps:         t.state.trend,
		LastUpdate:        t.state.lastUpdate,
		Callbacks:         len(t.state.callbacks),
	}
}

// Start begins auto-tracking at the given interval. After each update a
// cleanup is requested when pressure is above the cleanup threshold and
// resident memory is still growing. Start is a no-op if already running.
func (t *Tracker) Start(ctx context.Context, interval time.Duration) {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if t.cancel != nil {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.wg.Add(1)
	go t.trackLoop(ctx, interval)

	GetLogger().Info("memory tracking started", logger.Duration("interval", interval))
}

// Stop ends auto-tracking and waits for the loop to exit.
func (t *Tracker) Stop() {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if t.cancel == nil {
		return
	}
	t.cancel()
	t.wg.Wait()
	t.cancel = nil
}

func (t *Tracker) trackLoop(ctx context.Context, interval time.Duration) {
	defer t.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.autoTrack()
		case <-ctx.Done():
			return
		}
	}
}

func (t *Tracker) autoTrack() {
	if err := t.Update(); err != nil {
		return
	}
	t.mu.Lock()
	level, trend := t.state.level, t.state.trend
	t.mu.Unlock()

	if level > t.cfg.CleanupThreshold && trend > t.cfg.TrendThresholdMBps {
		t.RequestCleanup(level)
	}
}

// record stores s and reports whether the level moved enough to broadcast.
func (s *trackerState) record(sample Sample, at time.Time, hysteresis int) bool {
	s.last = sample
	s.lastUpdate = at
	s.peak = max(s.peak, sample.ProcessResident)

	s.history[s.head] = historySample{at: at, resident: sample.ProcessResident}
	s.head = (s.head + 1) % HistorySize
	if s.count < HistorySize {
		s.count++
	}
	s.trend = s.computeTrend()

	s.level = sample.Pressure()
	if s.hasNotified {
		diff := s.level - s.notified
		if diff < 0 {
			diff = -diff
		}
		if diff < hysteresis {
			return false
		}
	}
	s.notified = s.level
	s.hasNotified = true
	return true
}

// computeTrend returns (newest - oldest) / elapsed in MB/s.
func (s *trackerState) computeTrend() float64 {
	if s.count < 2 {
		return 0
	}
	newest := s.history[(s.head-1+HistorySize)%HistorySize]
	oldest := s.history[(s.head-s.count+HistorySize)%HistorySize]
	elapsed := newest.at.Sub(oldest.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	delta := float64(newest.resident) - float64(oldest.resident)
	return delta / bytesPerMB / elapsed
}

func (s *trackerState) snapshotCallbacks() []Callback {
	cbs := make([]Callback, 0, len(s.callbacks))
	for _, fn := range s.callbacks {
		cbs = append(cbs, fn)
	}
	return cbs
}

func invoke(cbs []Callback, level int) {
	for _, fn := range cbs {
		fn(level)
	}
}
