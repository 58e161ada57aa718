package xiph

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/tphakala/mediacore/internal/media"
)

// FLACMappingSize is the length of the first FLAC-in-Ogg packet: the
// mapping header, the fLaC marker and the STREAMINFO block.
const FLACMappingSize = 51

var flacMappingMagic = []byte("\x7fFLAC")

// FLACMapping is the first packet of a FLAC-in-Ogg stream.
type FLACMapping struct {
	Major, Minor uint8
	// HeaderPackets is the number of metadata packets that follow, 0 when
	// unknown.
	HeaderPackets uint16
	StreamInfo    []byte // 34-byte STREAMINFO body
}

// IsFLACMapping reports whether p starts with the FLAC-in-Ogg magic.
func IsFLACMapping(p []byte) bool { return bytes.HasPrefix(p, flacMappingMagic) }

// ParseFLACMapping decodes the mapping packet.
func ParseFLACMapping(p []byte) (FLACMapping, error) {
	var m FLACMapping
	if !IsFLACMapping(p) || len(p) < FLACMappingSize {
		return m, fmt.Errorf("%w: not a FLAC-in-Ogg mapping packet", media.ErrInvalidMedia)
	}
	m.Major, m.Minor = p[5], p[6]
	if m.Major != 1 {
		return m, fmt.Errorf("%w: FLAC-in-Ogg mapping version %d.%d", media.ErrUnsupported, m.Major, m.Minor)
	}
	m.HeaderPackets = binary.BigEndian.Uint16(p[7:])
	if string(p[9:13]) != "fLaC" || p[13]&0x7F != 0 {
		return m, fmt.Errorf("%w: FLAC-in-Ogg mapping without STREAMINFO", media.ErrInvalidMedia)
	}
	m.StreamInfo = p[17:FLACMappingSize:FLACMappingSize]
	return m, nil
}
