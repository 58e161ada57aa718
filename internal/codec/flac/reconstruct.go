package flac

import (
	"github.com/tphakala/mediacore/internal/codec/base"
)

// SampleReconstructor converts decoded channels at their native depth to
// interleaved 16-bit samples.
type SampleReconstructor struct{}

// ToInt16 scales one sample from bps bits to 16 bits.
func (SampleReconstructor) ToInt16(v int64, bps uint8) int16 {
	switch {
	case bps > 16:
		v >>= bps - 16
	case bps < 16:
		v <<= 16 - bps
	}
	return base.ClampInt16(v)
}

// Interleave appends blockSize frames of ch to dst.
func (r SampleReconstructor) Interleave(dst []int16, ch [][]int64, blockSize int, bps uint8) []int16 {
	for i := range blockSize {
		for c := range ch {
			dst = append(dst, r.ToInt16(ch[c][i], bps))
		}
	}
	return dst
}
