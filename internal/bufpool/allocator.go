package bufpool

import (
	"sync/atomic"
)

// Allocator hands out raw byte slices on behalf of a named component so
// staging memory is visible per owner and recycled through the pool.
type Allocator interface {
	Allocate(size int, component string) []byte
	Free(buf []byte, component string)
}

// Allocate returns a slice of exactly size bytes, or nil when size is zero,
// negative or above MaxAllocation.
func (p *Pool) Allocate(size int, component string) []byte {
	b, err := p.AcquireE(size)
	if err != nil {
		return nil
	}
	data := b.Detach()
	p.componentCounter(component).Add(int64(cap(data)))
	return data
}

// Free returns memory obtained from Allocate. Slices whose capacity is not a
// bucket size are dropped.
func (p *Pool) Free(buf []byte, component string) {
	if cap(buf) == 0 {
		return
	}
	p.componentCounter(component).Add(-int64(cap(buf)))
	p.release(buf[:cap(buf)])
}

func (p *Pool) componentCounter(component string) *atomic.Int64 {
	if v, ok := p.components.Load(component); ok {
		return v.(*atomic.Int64)
	}
	v, _ := p.components.LoadOrStore(component, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// ComponentUsage returns live bytes allocated through Allocate per component.
func (p *Pool) ComponentUsage() map[string]int64 {
	out := make(map[string]int64)
	p.components.Range(func(k, v any) bool {
		out[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return out
}

// HeapAllocator allocates directly from the Go heap. It is used when no pool
// is configured.
type HeapAllocator struct{}

func (HeapAllocator) Allocate(size int, _ string) []byte {
	if size <= 0 || size > MaxAllocation {
		return nil
	}
	return make([]byte, size)
}

func (HeapAllocator) Free([]byte, string) {}

var (
	_ Allocator = (*Pool)(nil)
	_ Allocator = HeapAllocator{}
)
