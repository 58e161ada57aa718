package bufpool

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	smallTierLimit  = 8 << 10  // below: small tier
	mediumTierLimit = 64 << 10 // up to: medium tier

	tieredMaxPooled     = 32
	tieredMinPooled     = 8
	tieredMaxBufferSize = 1 << 20
	tieredMinBufferSize = 256 << 10
	tieredMinPoolable   = 1 << 10

	tieredHighPressure     = 70
	tieredModeratePressure = 50
	tieredCleanupInterval  = 30 * time.Second
)

// TieredStats is a snapshot of a TieredPool.
type TieredStats struct {
	Buffers    int
	Bytes      int
	Largest    int
	Smallest   int
	Hits       uint64
	Misses     uint64
	HitRatio   float64
	Pressure   int
	ReuseCount uint64
}

// TieredPool recycles variable-capacity slices in small, medium and large
// tiers. Unlike Pool it returns any slice with enough capacity, which suits
// growable staging buffers. Limits shrink linearly with pressure.
type TieredPool struct {
	mu          sync.Mutex
	tiers       [3][][]byte
	lastCleanup time.Time

	pressure atomic.Int32
	hits     atomic.Uint64
	misses   atomic.Uint64
	reuse    atomic.Uint64

	now func() time.Time
}

var _ Allocator = (*TieredPool)(nil)

// NewTieredPool creates an empty tiered pool.
func NewTieredPool() *TieredPool {
	return &TieredPool{now: time.Now, lastCleanup: time.Now()}
}

func tierFor(size int) int {
	switch {
	case size < smallTierLimit:
		return 0
	case size <= mediumTierLimit:
		return 1
	default:
		return 2
	}
}

// maxPooled returns the total pooled-buffer budget at the current pressure.
func (t *TieredPool) maxPooled() int {
	p := int(t.pressure.Load())
	return tieredMaxPooled - (tieredMaxPooled-tieredMinPooled)*p/100
}

// MaxBufferSize returns the largest capacity kept at the current pressure.
func (t *TieredPool) MaxBufferSize() int {
	p := int(t.pressure.Load())
	return tieredMaxBufferSize - (tieredMaxBufferSize-tieredMinBufferSize)*p/100
}

// Get returns a zero-length slice with capacity of at least minSize.
// preferred, when larger, sizes a fresh allocation.
func (t *TieredPool) Get(minSize, preferred int) []byte {
	if minSize < 0 {
		minSize = 0
	}
	target := max(minSize, preferred)

	if minSize > t.MaxBufferSize() {
		t.misses.Add(1)
		return make([]byte, 0, minSize)
	}

	t.mu.Lock()
	t.cleanupLocked()
	home := tierFor(minSize)
	if buf, ok := t.takeLocked(home, minSize); ok {
		t.mu.Unlock()
		return buf
	}
	if home != 2 {
		if buf, ok := t.takeLocked(2, minSize); ok {
			t.mu.Unlock()
			return buf
		}
	}
	if home != 1 && minSize >= smallTierLimit {
		if buf, ok := t.takeLocked(1, minSize); ok {
			t.mu.Unlock()
			return buf
		}
	}
	t.mu.Unlock()

	t.misses.Add(1)
	return make([]byte, 0, roundCapacity(target))
}

func (t *TieredPool) takeLocked(tier, minSize int) ([]byte, bool) {
	list := t.tiers[tier]
	for i, buf := range list {
		if cap(buf) >= minSize {
			t.tiers[tier] = append(list[:i], list[i+1:]...)
			t.hits.Add(1)
			t.reuse.Add(1)
			return buf[:0], true
		}
	}
	return nil, false
}

// roundCapacity picks 4, 16 or 64 KiB, or the next multiple of 64 KiB.
func roundCapacity(size int) int {
	switch {
	case size <= 4<<10:
		return 4 << 10
	case size <= 16<<10:
		return 16 << 10
	case size <= 64<<10:
		return 64 << 10
	default:
		return (size + (64 << 10) - 1) / (64 << 10) * (64 << 10)
	}
}

// Allocate implements Allocator with a slice of exactly size bytes. The
// contents are not cleared. Component tags are not tracked.
func (t *TieredPool) Allocate(size int, _ string) []byte {
	if size <= 0 || size > MaxAllocation {
		return nil
	}
	return t.Get(size, size)[:size]
}

// Free implements Allocator.
func (t *TieredPool) Free(buf []byte, _ string) {
	t.Put(buf)
}

// Put offers buf for reuse. Tiny, oversized and, under high pressure, large
// buffers are dropped, as are buffers beyond the tier's share of the budget.
func (t *TieredPool) Put(buf []byte) {
	c := cap(buf)
	if c < tieredMinPoolable || c > t.MaxBufferSize() {
		return
	}
	if t.pressure.Load() > tieredHighPressure && c > mediumTierLimit {
		return
	}

	tier := tierFor(c)
	perTier := t.maxPooled() / 3

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.tiers[tier]) < perTier {
		t.tiers[tier] = append(t.tiers[tier], buf[:0])
	}
}

// SetPressure applies a 0-100 pressure. Above 70 every tier is halved.
func (t *TieredPool) SetPressure(level int) {
	level = max(0, min(100, level))
	t.pressure.Store(int32(level))
	if level <= tieredHighPressure {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.tiers {
		t.tiers[i] = shrink(t.tiers[i], len(t.tiers[i])/2)
	}
}

// Pressure returns the last applied pressure.
func (t *TieredPool) Pressure() int {
	return int(t.pressure.Load())
}

// cleanupLocked trims each tier to three quarters under moderate pressure,
// at most once per cleanup interval.
func (t *TieredPool) cleanupLocked() {
	now := t.now()
	if now.Sub(t.lastCleanup) < tieredCleanupInterval {
		return
	}
	t.lastCleanup = now
	if t.pressure.Load() < tieredModeratePressure {
		return
	}
	for i := range t.tiers {
		if n := len(t.tiers[i]); n > 2 {
			t.tiers[i] = shrink(t.tiers[i], n*3/4)
		}
	}
}

func shrink(list [][]byte, keep int) [][]byte {
	for i := keep; i < len(list); i++ {
		list[i] = nil
	}
	return list[:keep]
}

// Clear drops every pooled buffer.
func (t *TieredPool) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.tiers {
		t.tiers[i] = nil
	}
}

// Stats returns a snapshot of the pool.
func (t *TieredPool) Stats() TieredStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := TieredStats{
		Hits:       t.hits.Load(),
		Misses:     t.misses.Load(),
		Pressure:   int(t.pressure.Load()),
		ReuseCount: t.reuse.Load(),
	}
	for _, tier := range t.tiers {
		for _, buf := range tier {
			c := cap(buf)
			st.Buffers++
			st.Bytes += c
			st.Largest = max(st.Largest, c)
			if st.Smallest == 0 || c < st.Smallest {
				st.Smallest = c
			}
		}
	}
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRatio = float64(st.Hits) / float64(total)
	}
	return st
}

// PressureSubscriber is satisfied by memtrack.Tracker.
type PressureSubscriber interface {
	RegisterCallback(fn func(level int)) int
}

// Subscribe registers the pool for pressure updates from s and returns the
// subscription id.
func (t *TieredPool) Subscribe(s PressureSubscriber) int {
	return s.RegisterCallback(t.SetPressure)
}
