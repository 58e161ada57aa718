package boundedbuf

import (
	"github.com/tphakala/mediacore/internal/bufpool"
)

// Circular is a fixed-capacity ring. count is tracked explicitly, so
// Available()+Space() == Capacity() holds after every call.
type Circular struct {
	buf       []byte
	readPos   int
	writePos  int
	count     int
	alloc     bufpool.Allocator
	component string
}

// NewCircular allocates a ring of the given capacity. It returns nil if the
// allocation fails.
func NewCircular(capacity int, alloc bufpool.Allocator, component string) *Circular {
	if alloc == nil {
		alloc = bufpool.HeapAllocator{}
	}
	buf := alloc.Allocate(capacity, component)
	if buf == nil {
		return nil
	}
	return &Circular{buf: buf[:capacity], alloc: alloc, component: component}
}

// Capacity returns the ring size.
func (c *Circular) Capacity() int { return len(c.buf) }

// Available returns the number of bytes ready to read.
func (c *Circular) Available() int { return c.count }

// Space returns the number of bytes that can be written.
func (c *Circular) Space() int { return len(c.buf) - c.count }

// Write copies as much of p as fits and returns the number of bytes written.
func (c *Circular) Write(p []byte) int {
	n := min(len(p), c.Space())
	if n == 0 {
		return 0
	}
	first := copy(c.buf[c.writePos:], p[:n])
	if first < n {
		copy(c.buf, p[first:n])
	}
	c.writePos = (c.writePos + n) % len(c.buf)
	c.count += n
	return n
}

// Peek copies up to len(p) bytes without consuming them.
func (c *Circular) Peek(p []byte) int {
	n := min(len(p), c.count)
	if n == 0 {
		return 0
	}
	first := copy(p[:n], c.buf[c.readPos:])
	if first < n {
		copy(p[first:n], c.buf)
	}
	return n
}

// Read copies up to len(p) bytes and consumes them.
func (c *Circular) Read(p []byte) int {
	n := c.Peek(p)
	c.advance(n)
	return n
}

// Skip discards up to n bytes and returns the number discarded.
func (c *Circular) Skip(n int) int {
	n = max(0, min(n, c.count))
	c.advance(n)
	return n
}

func (c *Circular) advance(n int) {
	if n == 0 {
		return
	}
	c.readPos = (c.readPos + n) % len(c.buf)
	c.count -= n
}

// Clear discards all data.
func (c *Circular) Clear() {
	c.readPos, c.writePos, c.count = 0, 0, 0
}

// Release returns the ring memory to the allocator. The ring is unusable afterwards.
func (c *Circular) Release() {
	if c.buf != nil {
		c.alloc.Free(c.buf, c.component)
	}
	c.buf = nil
	c.Clear()
}
