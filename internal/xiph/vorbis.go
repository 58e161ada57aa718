package xiph

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/tphakala/mediacore/internal/media"
)

// Vorbis header packet types
const (
	VorbisIdentification = 1
	VorbisComments       = 3
	VorbisSetup          = 5
)

const vorbisIdentSize = 30

var vorbisMagic = []byte("vorbis")

// VorbisIdent is the identification header.
type VorbisIdent struct {
	Channels       uint8
	SampleRate     uint32
	BitrateMax     int32
	BitrateNominal int32
	BitrateMin     int32
	BlockSize0     int
	BlockSize1     int
}

// IsVorbisHeader reports whether p is a Vorbis header packet of type typ.
func IsVorbisHeader(p []byte, typ byte) bool {
	return len(p) >= 7 && p[0] == typ && bytes.Equal(p[1:7], vorbisMagic)
}

// ParseVorbisIdent decodes and validates an identification header.
func ParseVorbisIdent(p []byte) (VorbisIdent, error) {
	var id VorbisIdent
	if !IsVorbisHeader(p, VorbisIdentification) || len(p) < vorbisIdentSize {
		return id, fmt.Errorf("%w: not a vorbis identification header", media.ErrInvalidMedia)
	}
	if v := binary.LittleEndian.Uint32(p[7:]); v != 0 {
		return id, fmt.Errorf("%w: vorbis version %d", media.ErrUnsupported, v)
	}
	id.Channels = p[11]
	id.SampleRate = binary.LittleEndian.Uint32(p[12:])
	id.BitrateMax = int32(binary.LittleEndian.Uint32(p[16:]))
	id.BitrateNominal = int32(binary.LittleEndian.Uint32(p[20:]))
	id.BitrateMin = int32(binary.LittleEndian.Uint32(p[24:]))
	e0, e1 := p[28]&0x0F, p[28]>>4
	id.BlockSize0, id.BlockSize1 = 1<<e0, 1<<e1

	switch {
	case id.Channels == 0:
		return id, fmt.Errorf("%w: vorbis with 0 channels", media.ErrInvalidMedia)
	case id.SampleRate == 0:
		return id, fmt.Errorf("%w: vorbis sample rate 0", media.ErrInvalidMedia)
	case e0 < 6 || e1 > 13 || e0 > e1:
		return id, fmt.Errorf("%w: vorbis block sizes %d/%d", media.ErrInvalidMedia, id.BlockSize0, id.BlockSize1)
	case p[29]&0x01 == 0:
		return id, fmt.Errorf("%w: vorbis framing bit clear", media.ErrInvalidMedia)
	}
	return id, nil
}

// ParseVorbisCommentHeader decodes a type 3 header packet.
func ParseVorbisCommentHeader(p []byte) (VorbisComment, error) {
	if !IsVorbisHeader(p, VorbisComments) {
		return VorbisComment{}, fmt.Errorf("%w: not a vorbis comment header", media.ErrInvalidMedia)
	}
	return ParseVorbisComment(p[7:])
}
