// Package base holds options and helpers shared by the audio codecs.
package base

import (
	"math"

	"github.com/tphakala/mediacore/internal/bufpool"
	"github.com/tphakala/mediacore/internal/observability/metrics"
)

// Options are the dependencies every codec accepts.
type Options struct {
	Alloc    bufpool.Allocator
	Recorder metrics.DecodeRecorder
}

// WithDefaults fills unset fields.
func (o Options) WithDefaults() Options {
	if o.Alloc == nil {
		o.Alloc = bufpool.HeapAllocator{}
	}
	if o.Recorder == nil {
		o.Recorder = metrics.NopRecorder{}
	}
	return o
}

// Scratch returns n bytes of working memory from Alloc, or from the heap
// when Alloc refuses the size. Callers hand it back with Alloc.Free.
func (o Options) Scratch(n int, component string) []byte {
	if o.Alloc != nil {
		if buf := o.Alloc.Allocate(n, component); len(buf) >= n {
			return buf[:n]
		}
	}
	return make([]byte, n)
}

// FloatToInt16 clamps f to [-1, 1] and scales it by 32767.
func FloatToInt16(f float32) int16 {
	switch {
	case math.IsNaN(float64(f)):
		return 0
	case f > 1:
		f = 1
	case f < -1:
		f = -1
	}
	return int16(f * math.MaxInt16)
}

// ClampInt16 saturates v to the int16 range.
func ClampInt16(v int64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
