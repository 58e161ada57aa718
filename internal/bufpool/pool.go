// Package bufpool provides size-bucketed byte buffer recycling with limits that
// adapt to memory pressure.
//
// Pool keeps free lists per power-of-two size between 1 KiB and 1 MiB. Total
// pooled bytes never exceed the effective pool limit and no bucket holds more
// than the effective per-size limit; both shrink under memory pressure.
//
// Lock order: Pool.dirMu (bucket directory) before bucket.mu. No lock is held
// while calling into another component.
package bufpool

import (
	"math/bits"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/logger"
	"github.com/tphakala/mediacore/internal/observability/metrics"
)

const (
	// MinPooledSize is the smallest size served from a bucket.
	MinPooledSize = 1 << 10
	// MaxPooledSize is the largest size served from a bucket.
	MaxPooledSize = 1 << 20
	// MaxAllocation bounds a single direct allocation.
	MaxAllocation = 256 << 20

	DefaultMaxPoolSize       = 16 << 20
	DefaultMaxBuffersPerSize = 8
)

// commonSizes are kept warm by PreAllocate and survive non-critical eviction.
var commonSizes = []int{4 << 10, 8 << 10, 16 << 10, 32 << 10, 64 << 10, 128 << 10, 256 << 10, 512 << 10}

var (
	ErrZeroSize = errors.NewStd("bufpool: zero size request")
	ErrTooLarge = errors.NewStd("bufpool: request exceeds maximum allocation")
)

// GetLogger returns the bufpool module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("bufpool")
}

// Config holds pool limits. Zero values select defaults.
type Config struct {
	Name              string
	MaxPoolSize       int64
	MaxBuffersPerSize int
}

// Pool is the synchronized façade over the bucket directory.
type Pool struct {
	name string

	dirMu sync.RWMutex
	core  poolCore // guarded by dirMu

	maxPoolSize       int64
	maxBuffersPerSize int

	effMaxPoolSize       atomic.Int64
	effMaxBuffersPerSize atomic.Int64
	level                atomic.Int32
	pressure             atomic.Int32

	pooledBytes atomic.Int64
	peakBytes   atomic.Int64
	hits        atomic.Uint64
	misses      atomic.Uint64
	unpooled    atomic.Uint64
	dropped     atomic.Uint64
	evicted     atomic.Uint64

	components sync.Map // component tag -> *atomic.Int64 live bytes

	metricsMu sync.RWMutex
	metrics   *metrics.BufferPoolMetrics

	monitor monitorState
}

// poolCore is the bucket directory. Its methods assume the caller holds
// Pool.dirMu (read for lookups, write for structural changes).
type poolCore struct {
	buckets map[int]*bucket
}

// bucket is one size class. free is guarded by mu.
type bucket struct {
	size   int
	mu     sync.Mutex
	free   [][]byte
	hits   atomic.Uint64
	misses atomic.Uint64
}

func (b *bucket) hitRate() float64 {
	h, m := b.hits.Load(), b.misses.Load()
	if h+m == 0 {
		return 0
	}
	return float64(h) / float64(h+m)
}

// New creates a pool.
func New(cfg Config) *Pool {
	if cfg.MaxPoolSize <= 0 {
		cfg.MaxPoolSize = DefaultMaxPoolSize
	}
	if cfg.MaxBuffersPerSize <= 0 {
		cfg.MaxBuffersPerSize = DefaultMaxBuffersPerSize
	}
	if cfg.Name == "" {
		cfg.Name = "io"
	}
	p := &Pool{
		name:              cfg.Name,
		core:              poolCore{buckets: make(map[int]*bucket)},
		maxPoolSize:       cfg.MaxPoolSize,
		maxBuffersPerSize: cfg.MaxBuffersPerSize,
	}
	p.effMaxPoolSize.Store(cfg.MaxPoolSize)
	p.effMaxBuffersPerSize.Store(int64(cfg.MaxBuffersPerSize))
	return p
}

// SetMetrics attaches Prometheus collectors. Passing nil disables them.
func (p *Pool) SetMetrics(m *metrics.BufferPoolMetrics) {
	p.metricsMu.Lock()
	p.metrics = m
	p.metricsMu.Unlock()
}

func (p *Pool) getMetrics() *metrics.BufferPoolMetrics {
	p.metricsMu.RLock()
	defer p.metricsMu.RUnlock()
	return p.metrics
}

// bucketSize rounds size up to its bucket, or returns 0 if size is not pooled.
func bucketSize(size int) int {
	if size < MinPooledSize || size > MaxPooledSize {
		return 0
	}
	if size&(size-1) == 0 {
		return size
	}
	return 1 << bits.Len(uint(size))
}

// Acquire returns a buffer of exactly size bytes. It returns an empty buffer
// only when size is zero, negative or above MaxAllocation.
func (p *Pool) Acquire(size int) *Buffer {
	b, _ := p.AcquireE(size)
	return b
}

// AcquireE is Acquire with the reason for an empty buffer.
func (p *Pool) AcquireE(size int) (*Buffer, error) {
	if size <= 0 {
		return &Buffer{}, ErrZeroSize
	}
	if size > MaxAllocation {
		return &Buffer{}, ErrTooLarge
	}

	bs := bucketSize(size)
	if bs == 0 {
		p.unpooled.Add(1)
		p.observeAcquire("unpooled", size)
		return &Buffer{data: make([]byte, size)}, nil
	}

	b := p.bucketFor(bs)
	b.mu.Lock()
	if n := len(b.free); n > 0 {
		data := b.free[n-1]
		b.free[n-1] = nil
		b.free = b.free[:n-1]
		b.mu.Unlock()

		p.pooledBytes.Add(-int64(bs))
		b.hits.Add(1)
		p.hits.Add(1)
		p.observeAcquire("hit", size)
		return &Buffer{data: data[:size], owner: p}, nil
	}
	b.mu.Unlock()

	b.misses.Add(1)
	p.misses.Add(1)
	p.observeAcquire("miss", size)
	return &Buffer{data: make([]byte, size, bs), owner: p}, nil
}

func (p *Pool) observeAcquire(result string, size int) {
	if m := p.getMetrics(); m != nil {
		m.RecordAcquire(p.name, result, size)
	}
}

// bucketFor returns the bucket for size, creating it if needed.
func (p *Pool) bucketFor(size int) *bucket {
	p.dirMu.RLock()
	b := p.core.lookup(size)
	p.dirMu.RUnlock()
	if b != nil {
		return b
	}

	p.dirMu.Lock()
	defer p.dirMu.Unlock()
	return p.core.getOrCreate(size)
}

func (c *poolCore) lookup(size int) *bucket {
	return c.buckets[size]
}

func (c *poolCore) getOrCreate(size int) *bucket {
	if b, ok := c.buckets[size]; ok {
		return b
	}
	b := &bucket{size: size}
	c.buckets[size] = b
	return b
}

// sorted returns the buckets in ascending size order.
func (c *poolCore) sorted() []*bucket {
	out := make([]*bucket, 0, len(c.buckets))
	for _, b := range c.buckets {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].size < out[j].size })
	return out
}

// release returns data to its bucket if both limits allow it, otherwise drops it.
func (p *Pool) release(data []byte) {
	bs := cap(data)
	if bucketSize(bs) != bs {
		p.dropped.Add(1)
		p.observeRelease(false)
		return
	}

	if !p.reserve(int64(bs)) {
		p.dropped.Add(1)
		p.observeRelease(false)
		return
	}

	b := p.bucketFor(bs)
	b.mu.Lock()
	if int64(len(b.free)) >= p.effMaxBuffersPerSize.Load() {
		b.mu.Unlock()
		p.pooledBytes.Add(-int64(bs))
		p.dropped.Add(1)
		p.observeRelease(false)
		return
	}
	b.free = append(b.free, data[:bs])
	b.mu.Unlock()
	p.observeRelease(true)
}

// reserve adds n to the pooled byte count if the effective limit allows it.
func (p *Pool) reserve(n int64) bool {
	for {
		cur := p.pooledBytes.Load()
		if cur+n > p.effMaxPoolSize.Load() {
			return false
		}
		if p.pooledBytes.CompareAndSwap(cur, cur+n) {
			p.updatePeak(cur + n)
			return true
		}
	}
}

func (p *Pool) updatePeak(v int64) {
	for {
		peak := p.peakBytes.Load()
		if v <= peak || p.peakBytes.CompareAndSwap(peak, v) {
			return
		}
	}
}

func (p *Pool) observeRelease(pooled bool) {
	if m := p.getMetrics(); m != nil {
		m.RecordRelease(p.name, pooled)
	}
}

// Clear drops every pooled buffer.
func (p *Pool) Clear() {
	p.dirMu.RLock()
	defer p.dirMu.RUnlock()
	for _, b := range p.core.buckets {
		b.mu.Lock()
		n := len(b.free)
		b.free = nil
		b.mu.Unlock()
		p.pooledBytes.Add(-int64(n * b.size))
	}
}

// BucketStats describes one size class.
type BucketStats struct {
	Size    int
	Free    int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	Hits                 uint64
	Misses               uint64
	Unpooled             uint64
	Dropped              uint64
	Evicted              uint64
	HitRate              float64
	PooledBytes          int64
	PeakPooledBytes      int64
	MaxPoolSize          int64
	EffectiveMaxPoolSize int64
	EffectiveMaxPerSize  int
	Pressure             int
	Level                PressureLevel
	Buckets              []BucketStats
}

// Stats returns hit/miss counts and pooled bytes per bucket.
func (p *Pool) Stats() Stats {
	hits, misses := p.hits.Load(), p.misses.Load()
	st := Stats{
		Hits:                 hits,
		Misses:               misses,
		Unpooled:             p.unpooled.Load(),
		Dropped:              p.dropped.Load(),
		Evicted:              p.evicted.Load(),
		PooledBytes:          p.pooledBytes.Load(),
		PeakPooledBytes:      p.peakBytes.Load(),
		MaxPoolSize:          p.maxPoolSize,
		EffectiveMaxPoolSize: p.effMaxPoolSize.Load(),
		EffectiveMaxPerSize:  int(p.effMaxBuffersPerSize.Load()),
		Pressure:             int(p.pressure.Load()),
		Level:                p.Level(),
	}
	if hits+misses > 0 {
		st.HitRate = float64(hits) / float64(hits+misses)
	}

	p.dirMu.RLock()
	buckets := p.core.sorted()
	p.dirMu.RUnlock()

	for _, b := range buckets {
		b.mu.Lock()
		free := len(b.free)
		b.mu.Unlock()
		st.Buckets = append(st.Buckets, BucketStats{
			Size:    b.size,
			Free:    free,
			Hits:    b.hits.Load(),
			Misses:  b.misses.Load(),
			HitRate: b.hitRate(),
		})
	}
	return st
}

// RecordMetrics publishes the current state to m under poolName.
func (p *Pool) RecordMetrics(m *metrics.BufferPoolMetrics, poolName string) {
	if m == nil {
		return
	}
	st := p.Stats()
	m.UpdatePoolState(poolName, st.PooledBytes, st.PeakPooledBytes, st.HitRate, int(st.Level))
}
