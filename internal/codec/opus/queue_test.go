package opus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/mediacore/internal/bufpool"
	"github.com/tphakala/mediacore/internal/codec/base"
)

type countingAlloc struct {
	bufpool.HeapAllocator
	allocs, frees int
}

func (a *countingAlloc) Allocate(size int, component string) []byte {
	a.allocs++
	return a.HeapAllocator.Allocate(size, component)
}

func (a *countingAlloc) Free(buf []byte, component string) {
	a.frees++
}

func TestFrameQueueSampleCeiling(t *testing.T) {
	t.Parallel()
	q := newFrameQueue(base.Options{}.WithDefaults(), 16, 10)
	assert.Equal(t, 20, q.ring.Capacity())

	assert.Zero(t, q.push([]int16{1, 2, 3, 4}))
	assert.Zero(t, q.push([]int16{5, 6, 7, 8}))
	assert.False(t, q.overflow)

	dropped := q.push([]int16{9, 10, 11, 12})
	assert.Equal(t, 4, dropped, "oldest frame gives way")
	assert.True(t, q.overflow)
	assert.Equal(t, 8, q.queued())
	assert.Equal(t, q.ring.Capacity(), q.ring.Available()+q.ring.Space())

	assert.Equal(t, []int16{5, 6, 7, 8, 9, 10, 11, 12}, q.drain())
	assert.Zero(t, q.queued())
	assert.Nil(t, q.drain())
}

func TestFrameQueueFrameCeiling(t *testing.T) {
	t.Parallel()
	q := newFrameQueue(base.Options{}.WithDefaults(), 2, 100)
	q.push([]int16{1})
	q.push([]int16{-2, -3})
	assert.Equal(t, 1, q.push([]int16{4}))
	assert.Equal(t, []int16{-2, -3, 4}, q.drain())

	assert.Equal(t, 101, q.push(make([]int16, 101)), "a frame above the ceiling is dropped whole")
	assert.True(t, q.overflow)
	q.reset()
	assert.False(t, q.overflow)
	assert.Zero(t, q.queued())
}

func TestFrameQueueWrapsAround(t *testing.T) {
	t.Parallel()
	q := newFrameQueue(base.Options{}.WithDefaults(), 8, 6)
	for round := range 5 {
		v := int16(round * 10)
		q.push([]int16{v, v + 1, v + 2, v + 3})
		require.Equal(t, []int16{v, v + 1, v + 2, v + 3}, q.drain())
	}
}

func TestFrameQueueUsesAllocator(t *testing.T) {
	t.Parallel()
	alloc := &countingAlloc{}
	q := newFrameQueue(base.Options{Alloc: alloc}.WithDefaults(), 4, 64)
	assert.Equal(t, 1, alloc.allocs, "ring storage")

	q.push([]int16{1, 2})
	q.drain()
	assert.Equal(t, 3, alloc.allocs)
	assert.Equal(t, 2, alloc.frees, "staging returned after each call")
}
