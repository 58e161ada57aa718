package xiph

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/tphakala/mediacore/internal/media"
)

const speexHeaderSize = 80

var speexMagic = []byte("Speex   ")

// SpeexHeader holds the fields of the Speex header needed to describe the
// stream.
type SpeexHeader struct {
	SampleRate      uint32
	Channels        uint32
	Bitrate         int32
	FrameSize       uint32
	FramesPerPacket uint32
	ExtraHeaders    uint32
}

// IsSpeexHeader reports whether p starts with the Speex magic.
func IsSpeexHeader(p []byte) bool { return bytes.HasPrefix(p, speexMagic) }

// ParseSpeexHeader decodes the first Speex packet.
func ParseSpeexHeader(p []byte) (SpeexHeader, error) {
	var h SpeexHeader
	if !IsSpeexHeader(p) || len(p) < speexHeaderSize {
		return h, fmt.Errorf("%w: not a speex header", media.ErrInvalidMedia)
	}
	h.SampleRate = binary.LittleEndian.Uint32(p[36:])
	h.Channels = binary.LittleEndian.Uint32(p[48:])
	h.Bitrate = int32(binary.LittleEndian.Uint32(p[52:]))
	h.FrameSize = binary.LittleEndian.Uint32(p[56:])
	h.FramesPerPacket = binary.LittleEndian.Uint32(p[64:])
	h.ExtraHeaders = binary.LittleEndian.Uint32(p[68:])
	if h.Channels == 0 || h.Channels > 2 || h.SampleRate == 0 {
		return h, fmt.Errorf("%w: speex %d Hz %d channels", media.ErrInvalidMedia, h.SampleRate, h.Channels)
	}
	return h, nil
}
