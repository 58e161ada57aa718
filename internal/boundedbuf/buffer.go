// Package boundedbuf provides byte buffers with a hard size ceiling for
// staging untrusted container data, and a fixed-capacity ring for streaming.
//
// Every mutating call fails closed: an operation that would exceed the
// ceiling returns false and leaves the buffer unchanged.
package boundedbuf

import (
	"github.com/tphakala/mediacore/internal/bufpool"
)

// Buffer is a growable byte buffer that never grows past maxSize.
type Buffer struct {
	data      []byte
	maxSize   int
	alloc     bufpool.Allocator
	component string
}

// New returns an empty buffer capped at maxSize. A nil alloc uses the heap.
func New(maxSize int, alloc bufpool.Allocator, component string) *Buffer {
	if alloc == nil {
		alloc = bufpool.HeapAllocator{}
	}
	return &Buffer{maxSize: max(0, maxSize), alloc: alloc, component: component}
}

// Bytes returns the current contents. The slice is valid until the next mutating call.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the number of bytes stored.
func (b *Buffer) Len() int { return len(b.data) }

// Cap returns the usable capacity. A pooled allocation may be larger, but the
// excess is never usable past the ceiling.
func (b *Buffer) Cap() int { return min(cap(b.data), b.maxSize) }

// MaxSize returns the ceiling.
func (b *Buffer) MaxSize() int { return b.maxSize }

// Reserve ensures capacity for at least n bytes.
func (b *Buffer) Reserve(n int) bool {
	if n < 0 || n > b.maxSize {
		return false
	}
	if n <= cap(b.data) {
		return true
	}
	return b.realloc(n)
}

// Resize sets the length to n. New bytes are zero.
func (b *Buffer) Resize(n int) bool {
	if n < 0 || n > b.maxSize {
		return false
	}
	old := len(b.data)
	if n > cap(b.data) && !b.realloc(n) {
		return false
	}
	b.data = b.data[:n]
	if n > old {
		clear(b.data[old:])
	}
	return true
}

// Append adds p, growing capacity by 1.5x (capped at the ceiling) when needed.
func (b *Buffer) Append(p []byte) bool {
	need := len(b.data) + len(p)
	if need > b.maxSize {
		return false
	}
	if need > cap(b.data) {
		grown := min(b.maxSize, max(need, cap(b.data)+cap(b.data)/2))
		if !b.realloc(grown) {
			return false
		}
	}
	b.data = append(b.data, p...)
	return true
}

// Set replaces the contents with p.
func (b *Buffer) Set(p []byte) bool {
	if len(p) > b.maxSize {
		return false
	}
	if len(p) > cap(b.data) && !b.realloc(len(p)) {
		return false
	}
	b.data = append(b.data[:0], p...)
	return true
}

// Clear empties the buffer and keeps its capacity.
func (b *Buffer) Clear() {
	b.data = b.data[:0]
}

// ShrinkToFit reduces capacity to the current length.
func (b *Buffer) ShrinkToFit() bool {
	if cap(b.data) == len(b.data) {
		return true
	}
	if len(b.data) == 0 {
		b.Release()
		return true
	}
	return b.realloc(len(b.data))
}

// Release returns the memory to the allocator.
func (b *Buffer) Release() {
	if b.data != nil {
		b.alloc.Free(b.data, b.component)
	}
	b.data = nil
}

// realloc moves the contents into a fresh allocation of capacity n.
func (b *Buffer) realloc(n int) bool {
	fresh := b.alloc.Allocate(n, b.component)
	if fresh == nil || len(fresh) < len(b.data) {
		return false
	}
	fresh = fresh[:len(b.data)]
	copy(fresh, b.data)
	if b.data != nil {
		b.alloc.Free(b.data, b.component)
	}
	b.data = fresh
	return true
}
