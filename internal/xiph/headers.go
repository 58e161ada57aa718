// Package xiph parses the header packets of the Xiph.Org codecs carried in
// Ogg: Vorbis, Opus, Speex and FLAC-in-Ogg, plus the comment block they
// share.
package xiph

import (
	"encoding/binary"
	"fmt"

	"github.com/tphakala/mediacore/internal/media"
)

// PackHeaders joins header packets for StreamInfo.CodecPrivate. Each packet
// is preceded by its length as a little-endian uint32.
func PackHeaders(pkts [][]byte) []byte {
	n := 0
	for _, p := range pkts {
		n += 4 + len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range pkts {
		out = binary.LittleEndian.AppendUint32(out, uint32(len(p)))
		out = append(out, p...)
	}
	return out
}

// UnpackHeaders splits data produced by PackHeaders. The returned slices
// alias p.
func UnpackHeaders(p []byte) ([][]byte, error) {
	var pkts [][]byte
	for len(p) > 0 {
		if len(p) < 4 {
			return nil, fmt.Errorf("%w: header length truncated", media.ErrInvalidMedia)
		}
		n := binary.LittleEndian.Uint32(p)
		p = p[4:]
		if uint64(n) > uint64(len(p)) {
			return nil, fmt.Errorf("%w: header of %d bytes in %d", media.ErrInvalidMedia, n, len(p))
		}
		pkts = append(pkts, p[:n:n])
		p = p[n:]
	}
	return pkts, nil
}
