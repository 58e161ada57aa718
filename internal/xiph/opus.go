package xiph

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/tphakala/mediacore/internal/media"
)

// OpusRate is the rate Opus granule positions and decoders run at.
const OpusRate = 48000

// Channel mapping families
const (
	MappingRTP       = 0
	MappingVorbis    = 1
	MappingDiscrete  = 255
	maxVorbisMapping = 8
)

// SilentChannel in a mapping table marks an output channel with no source.
const SilentChannel = 255

var (
	opusHeadMagic = []byte("OpusHead")
	opusTagsMagic = []byte("OpusTags")
)

// OpusHead is the identification header.
type OpusHead struct {
	Version       uint8
	Channels      uint8
	PreSkip       uint16
	InputRate     uint32
	OutputGain    int16 // Q7.8 dB
	MappingFamily uint8
	Streams       uint8
	Coupled       uint8
	Mapping       []uint8 // output channel to decoded channel
}

// IsOpusHead reports whether p starts with the OpusHead magic.
func IsOpusHead(p []byte) bool { return bytes.HasPrefix(p, opusHeadMagic) }

// IsOpusTags reports whether p starts with the OpusTags magic.
func IsOpusTags(p []byte) bool { return bytes.HasPrefix(p, opusTagsMagic) }

// ParseOpusHead decodes and validates an OpusHead packet.
func ParseOpusHead(p []byte) (OpusHead, error) {
	var h OpusHead
	if !IsOpusHead(p) || len(p) < 19 {
		return h, fmt.Errorf("%w: not an OpusHead packet", media.ErrInvalidMedia)
	}
	h.Version = p[8]
	if h.Version>>4 != 0 {
		return h, fmt.Errorf("%w: OpusHead version %d", media.ErrUnsupported, h.Version)
	}
	h.Channels = p[9]
	h.PreSkip = binary.LittleEndian.Uint16(p[10:])
	h.InputRate = binary.LittleEndian.Uint32(p[12:])
	h.OutputGain = int16(binary.LittleEndian.Uint16(p[16:]))
	h.MappingFamily = p[18]
	if h.Channels == 0 {
		return h, fmt.Errorf("%w: OpusHead with 0 channels", media.ErrInvalidMedia)
	}

	if h.MappingFamily == MappingRTP {
		if h.Channels > 2 {
			return h, fmt.Errorf("%w: mapping family 0 with %d channels", media.ErrInvalidMedia, h.Channels)
		}
		h.Streams = 1
		h.Coupled = h.Channels - 1
		h.Mapping = []uint8{0, 1}[:h.Channels]
		return h, nil
	}

	if h.MappingFamily == MappingVorbis && h.Channels > maxVorbisMapping {
		return h, fmt.Errorf("%w: mapping family 1 with %d channels", media.ErrInvalidMedia, h.Channels)
	}
	if h.MappingFamily != MappingVorbis && h.MappingFamily != MappingDiscrete {
		return h, fmt.Errorf("%w: channel mapping family %d", media.ErrUnsupported, h.MappingFamily)
	}
	if len(p) < 21+int(h.Channels) {
		return h, fmt.Errorf("%w: OpusHead mapping table truncated", media.ErrInvalidMedia)
	}
	h.Streams = p[19]
	h.Coupled = p[20]
	if h.Streams == 0 || h.Coupled > h.Streams || int(h.Streams)+int(h.Coupled) > 255 {
		return h, fmt.Errorf("%w: %d streams with %d coupled", media.ErrInvalidMedia, h.Streams, h.Coupled)
	}
	h.Mapping = append([]uint8(nil), p[21:21+int(h.Channels)]...)
	decoded := int(h.Streams) + int(h.Coupled)
	for i, m := range h.Mapping {
		if m != SilentChannel && int(m) >= decoded {
			return h, fmt.Errorf("%w: channel %d maps to %d of %d", media.ErrInvalidMedia, i, m, decoded)
		}
	}
	return h, nil
}

// GainScale returns the linear factor for the output gain.
func (h OpusHead) GainScale() float64 {
	return math.Pow(10, float64(h.OutputGain)/(20*256))
}

// ParseOpusTags decodes an OpusTags packet.
func ParseOpusTags(p []byte) (VorbisComment, error) {
	if !IsOpusTags(p) {
		return VorbisComment{}, fmt.Errorf("%w: not an OpusTags packet", media.ErrInvalidMedia)
	}
	return ParseVorbisComment(p[len(opusTagsMagic):])
}

// opusFrameSamples is the frame length in 48 kHz samples per TOC config.
var opusFrameSamples = [32]int{
	480, 960, 1920, 2880, // SILK NB
	480, 960, 1920, 2880, // SILK MB
	480, 960, 1920, 2880, // SILK WB
	480, 960, // Hybrid SWB
	480, 960, // Hybrid FB
	120, 240, 480, 960, // CELT NB
	120, 240, 480, 960, // CELT WB
	120, 240, 480, 960, // CELT SWB
	120, 240, 480, 960, // CELT FB
}

// OpusFrameSamples returns the samples per frame at 48 kHz for a TOC byte.
func OpusFrameSamples(toc byte) int {
	return opusFrameSamples[toc>>3]
}

// OpusPacketSamples returns the number of 48 kHz samples in a packet, or 0
// for a malformed one.
func OpusPacketSamples(pkt []byte) int {
	if len(pkt) == 0 {
		return 0
	}
	var frames int
	switch pkt[0] & 0x03 {
	case 0:
		frames = 1
	case 1, 2:
		frames = 2
	default:
		if len(pkt) < 2 {
			return 0
		}
		frames = int(pkt[1] & 0x3F)
	}
	n := frames * OpusFrameSamples(pkt[0])
	if n > 5760 { // 120 ms
		return 0
	}
	return n
}
