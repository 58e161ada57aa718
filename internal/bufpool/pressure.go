package bufpool

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/tphakala/mediacore/internal/logger"
)

// PressureLevel is the pool's coarse view of memory pressure.
type PressureLevel int

const (
	PressureNormal PressureLevel = iota
	PressureHigh
	PressureCritical
)

const (
	highPressureThreshold     = 75
	criticalPressureThreshold = 90

	defaultMonitorInterval = 5 * time.Second
	bigSizeGap             = 32 << 10
)

func (l PressureLevel) String() string {
	switch l {
	case PressureHigh:
		return "high"
	case PressureCritical:
		return "critical"
	default:
		return "normal"
	}
}

// LevelFromPercent maps a 0-100 pressure percentage to a level.
func LevelFromPercent(percent int) PressureLevel {
	switch {
	case percent > criticalPressureThreshold:
		return PressureCritical
	case percent > highPressureThreshold:
		return PressureHigh
	default:
		return PressureNormal
	}
}

// evictionFactor is the share of a bucket removed per eviction pass.
func (l PressureLevel) evictionFactor() float64 {
	switch l {
	case PressureHigh:
		return 0.75
	case PressureCritical:
		return 0.9
	default:
		return 0.5
	}
}

// Level returns the current pressure level.
func (p *Pool) Level() PressureLevel {
	return PressureLevel(p.level.Load())
}

// SetPressureLevel applies a 0-100 pressure percentage. On a level change the
// effective limits are recomputed and enforced immediately.
func (p *Pool) SetPressureLevel(percent int) {
	percent = max(0, min(100, percent))
	p.pressure.Store(int32(percent))

	next := LevelFromPercent(percent)
	prev := PressureLevel(p.level.Swap(int32(next)))
	if prev == next {
		return
	}

	divisor := int64(1)
	switch next {
	case PressureHigh:
		divisor = 2
	case PressureCritical:
		divisor = 4
	}
	p.effMaxPoolSize.Store(p.maxPoolSize / divisor)
	p.effMaxBuffersPerSize.Store(max(1, int64(p.maxBuffersPerSize)/divisor))

	GetLogger().Info("buffer pool pressure level changed",
		logger.String("pool", p.name),
		logger.String("from", prev.String()),
		logger.String("to", next.String()),
		logger.Int("pressure", percent),
		logger.Int64("max_pool_size", p.effMaxPoolSize.Load()))

	if next > prev {
		p.EvictIfNeeded()
		p.EnforceBoundedLimits()
	} else if next == PressureNormal {
		p.PreAllocate()
	}
}

// EvictIfNeeded removes free buffers until pooled bytes fit the effective
// limit. Victims are ordered by level: largest first when normal, large and
// cold first when high, lowest hit rate first when critical.
func (p *Pool) EvictIfNeeded() int {
	if p.pooledBytes.Load() <= p.effMaxPoolSize.Load() {
		return 0
	}

	p.dirMu.Lock()
	defer p.dirMu.Unlock()

	level := p.Level()
	victims := p.core.sorted()
	switch level {
	case PressureCritical:
		slices.SortStableFunc(victims, func(a, b *bucket) int {
			return cmpFloat(a.hitRate(), b.hitRate())
		})
	case PressureHigh:
		slices.SortStableFunc(victims, func(a, b *bucket) int {
			if a.size > b.size+bigSizeGap {
				return -1
			}
			if b.size > a.size+bigSizeGap {
				return 1
			}
			return cmpFloat(a.hitRate(), b.hitRate())
		})
	default:
		slices.Reverse(victims)
	}

	factor := level.evictionFactor()
	evicted := 0
	for _, b := range victims {
		if p.pooledBytes.Load() <= p.effMaxPoolSize.Load() {
			break
		}
		b.mu.Lock()
		n := len(b.free)
		if n == 0 {
			b.mu.Unlock()
			continue
		}
		remove := max(1, int(float64(n)*factor))
		if level != PressureCritical && isCommonSize(b.size) && n > 1 {
			remove = min(remove, n-1)
		}
		evicted += p.dropFree(b, remove)
		b.mu.Unlock()
	}

	p.finishEviction(level, evicted)
	return evicted
}

// EnforceBoundedLimits trims the pool against its effective limits: per-bucket
// counts are capped, then a share of every bucket is dropped according to how
// full the pool is.
func (p *Pool) EnforceBoundedLimits() int {
	p.dirMu.Lock()
	defer p.dirMu.Unlock()

	perSize := int(p.effMaxBuffersPerSize.Load())
	evicted := 0
	for _, b := range p.core.buckets {
		b.mu.Lock()
		if over := len(b.free) - perSize; over > 0 {
			evicted += p.dropFree(b, over)
		}
		b.mu.Unlock()
	}

	limit := p.effMaxPoolSize.Load()
	usage := 0.0
	if limit > 0 {
		usage = float64(p.pooledBytes.Load()) * 100 / float64(limit)
	}

	var share func(n int) int
	switch {
	case usage > 100:
		share = func(n int) int { return n }
	case usage > 95:
		share = func(n int) int { return n * 9 / 10 }
	case usage > 90:
		share = func(n int) int { return n / 2 }
	case usage > 80:
		share = func(n int) int { return n / 4 }
	}
	if share != nil {
		for _, b := range p.core.buckets {
			b.mu.Lock()
			evicted += p.dropFree(b, share(len(b.free)))
			b.mu.Unlock()
		}
	}

	p.finishEviction(p.Level(), evicted)
	return evicted
}

// dropFree removes up to n buffers from b. Caller holds b.mu.
func (p *Pool) dropFree(b *bucket, n int) int {
	n = min(n, len(b.free))
	for i := range n {
		b.free[len(b.free)-1-i] = nil
	}
	b.free = b.free[:len(b.free)-n]
	p.pooledBytes.Add(-int64(n * b.size))
	return n
}

func (p *Pool) finishEviction(level PressureLevel, evicted int) {
	if evicted == 0 {
		return
	}
	p.evicted.Add(uint64(evicted))
	GetLogger().Debug("evicted pooled buffers",
		logger.String("pool", p.name),
		logger.Int("count", evicted),
		logger.String("level", level.String()),
		logger.Int64("pooled_bytes", p.pooledBytes.Load()))
	if m := p.getMetrics(); m != nil {
		m.RecordEvictions(p.name, level.String(), evicted)
	}
}

// PreAllocate warms the common sizes with two buffers each. It does nothing
// unless pressure is normal and stops at the pool limits.
func (p *Pool) PreAllocate() int {
	if p.Level() != PressureNormal {
		return 0
	}
	added := 0
	for _, size := range commonSizes {
		b := p.bucketFor(size)
		for range 2 {
			b.mu.Lock()
			full := int64(len(b.free)) >= p.effMaxBuffersPerSize.Load()
			b.mu.Unlock()
			if full || !p.reserve(int64(size)) {
				break
			}
			b.mu.Lock()
			b.free = append(b.free, make([]byte, size))
			b.mu.Unlock()
			added++
		}
	}
	return added
}

func isCommonSize(size int) bool {
	return slices.Contains(commonSizes, size)
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// PressureSource supplies the current 0-100 memory pressure.
type PressureSource interface {
	Level() int
}

type monitorState struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Start runs the pressure monitor, which samples src every interval and
// applies the result. It is the pool's only background goroutine; Stop joins it.
func (p *Pool) Start(ctx context.Context, src PressureSource, interval time.Duration) {
	p.monitor.mu.Lock()
	defer p.monitor.mu.Unlock()
	if p.monitor.cancel != nil {
		return
	}
	if interval <= 0 {
		interval = defaultMonitorInterval
	}

	ctx, cancel := context.WithCancel(ctx)
	p.monitor.cancel = cancel
	p.monitor.wg.Add(1)
	go p.monitorLoop(ctx, src, interval)
}

// Stop ends the monitor and waits for it to exit.
func (p *Pool) Stop() {
	p.monitor.mu.Lock()
	defer p.monitor.mu.Unlock()
	if p.monitor.cancel == nil {
		return
	}
	p.monitor.cancel()
	p.monitor.wg.Wait()
	p.monitor.cancel = nil
}

func (p *Pool) monitorLoop(ctx context.Context, src PressureSource, interval time.Duration) {
	defer p.monitor.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.SetPressureLevel(src.Level())
			if m := p.getMetrics(); m != nil {
				p.RecordMetrics(m, p.name)
			}
		case <-ctx.Done():
			return
		}
	}
}
