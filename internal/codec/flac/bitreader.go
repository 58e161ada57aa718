package flac

import (
	"bytes"

	"github.com/icza/bitio"
)

// BitReader reads MSB-first bit fields from an in-memory frame.
type BitReader struct {
	r *bitio.CountReader
}

// NewBitReader returns a reader positioned at the first bit of data.
func NewBitReader(data []byte) *BitReader {
	return &BitReader{r: bitio.NewCountReader(bytes.NewReader(data))}
}

// ReadBits reads an n-bit unsigned field, n <= 64.
func (b *BitReader) ReadBits(n uint8) (uint64, error) {
	if n == 0 {
		return 0, nil
	}
	v, err := b.r.ReadBits(n)
	if err != nil {
		return 0, bitstreamError("read %d bits at bit %d: %v", n, b.r.BitsCount, err)
	}
	return v, nil
}

// ReadSigned reads an n-bit two's complement field.
func (b *BitReader) ReadSigned(n uint8) (int64, error) {
	v, err := b.ReadBits(n)
	if err != nil || n == 0 {
		return 0, err
	}
	shift := 64 - n
	return int64(v<<shift) >> shift, nil
}

// ReadUnary counts zero bits up to and including the terminating one.
func (b *BitReader) ReadUnary() (uint32, error) {
	var n uint32
	for {
		bit, err := b.r.ReadBool()
		if err != nil {
			return 0, bitstreamError("unary code at bit %d: %v", b.r.BitsCount, err)
		}
		if bit {
			return n, nil
		}
		n++
	}
}

// Align skips to the next byte boundary.
func (b *BitReader) Align() {
	b.r.Align()
}

// BitPos returns the number of bits consumed.
func (b *BitReader) BitPos() int64 {
	return b.r.BitsCount
}

// BytePos returns the number of whole bytes consumed, rounding up a
// partially read byte.
func (b *BitReader) BytePos() int {
	return int((b.r.BitsCount + 7) / 8)
}

// decodeUTF8Number decodes the extended UTF-8 coding of a frame or sample
// number from p. It returns the value and its encoded length.
func decodeUTF8Number(p []byte) (uint64, int, bool) {
	if len(p) == 0 {
		return 0, 0, false
	}
	c := p[0]
	var n int
	var v uint64
	switch {
	case c&0x80 == 0:
		return uint64(c), 1, true
	case c&0xE0 == 0xC0:
		n, v = 2, uint64(c&0x1F)
	case c&0xF0 == 0xE0:
		n, v = 3, uint64(c&0x0F)
	case c&0xF8 == 0xF0:
		n, v = 4, uint64(c&0x07)
	case c&0xFC == 0xF8:
		n, v = 5, uint64(c&0x03)
	case c&0xFE == 0xFC:
		n, v = 6, uint64(c&0x01)
	case c == 0xFE:
		n, v = 7, 0
	default:
		return 0, 0, false
	}
	if len(p) < n {
		return 0, 0, false
	}
	for _, cb := range p[1:n] {
		if cb&0xC0 != 0x80 {
			return 0, 0, false
		}
		v = v<<6 | uint64(cb&0x3F)
	}
	return v, n, true
}
