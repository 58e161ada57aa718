package demux

import (
	"bytes"
	"encoding/binary"

	"github.com/tphakala/mediacore/internal/cpuspec"
)

// ProbeSize is the number of leading bytes examined by ProbeFormat.
const ProbeSize = 128

// Signature is a magic byte sequence at a fixed offset.
type Signature struct {
	FormatID string
	Magic    []byte
	Offset   int
	Priority int
	order    int
}

// matchFunc compares len(magic) bytes of data starting at 0.
type matchFunc func(data, magic []byte) bool

// wideCompare is selected when the CPU has 128-bit vector loads. It compares
// 16-byte blocks as two 64-bit words and the tail byte by byte.
func wideCompare(data, magic []byte) bool {
	i := 0
	for ; i+16 <= len(magic); i += 16 {
		if binary.LittleEndian.Uint64(data[i:]) != binary.LittleEndian.Uint64(magic[i:]) ||
			binary.LittleEndian.Uint64(data[i+8:]) != binary.LittleEndian.Uint64(magic[i+8:]) {
			return false
		}
	}
	return bytes.Equal(data[i:len(magic)], magic[i:])
}

func scalarCompare(data, magic []byte) bool {
	return bytes.Equal(data[:len(magic)], magic)
}

// selectCompare picks the comparison routine for the running CPU.
func selectCompare() (matchFunc, string) {
	if cpuspec.HasVectorCompare() {
		return wideCompare, "wide"
	}
	return scalarCompare, "scalar"
}

func (s Signature) matches(header []byte, cmp matchFunc) bool {
	if len(s.Magic) == 0 || s.Offset < 0 || s.Offset+len(s.Magic) > len(header) {
		return false
	}
	return cmp(header[s.Offset:], s.Magic)
}
