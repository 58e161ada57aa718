package mpeg

import (
	"encoding/binary"
)

// HeaderSize is the length of an MPEG audio frame header.
const HeaderSize = 4

// Version of the MPEG audio standard a frame follows.
type Version uint8

const (
	MPEG25 Version = iota
	versionReserved
	MPEG2
	MPEG1
)

func (v Version) String() string {
	switch v {
	case MPEG1:
		return "MPEG-1"
	case MPEG2:
		return "MPEG-2"
	case MPEG25:
		return "MPEG-2.5"
	default:
		return "reserved"
	}
}

const layer3 = 1

// channelModeMono is the channel mode field value for single channel frames.
const channelModeMono = 3

// kbps per bitrate index for Layer III
var (
	bitratesV1 = [16]uint32{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
	bitratesV2 = [16]uint32{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}
)

var sampleRatesV1 = [3]uint32{44100, 48000, 32000}

// FrameHeader is a decoded Layer III frame header.
type FrameHeader struct {
	Version    Version
	Protected  bool // a CRC-16 follows the header
	Bitrate    uint32
	SampleRate uint32
	Padding    bool
	Channels   uint16
	Size       int // whole frame, header included
}

// SamplesPerFrame returns the PCM samples per channel a frame decodes to.
func (h FrameHeader) SamplesPerFrame() uint32 {
	if h.Version == MPEG1 {
		return 1152
	}
	return 576
}

// sideInfoSize returns the side information length following the header.
func (h FrameHeader) sideInfoSize() int {
	n := 0
	switch {
	case h.Version == MPEG1 && h.Channels == 1:
		n = 17
	case h.Version == MPEG1:
		n = 32
	case h.Channels == 1:
		n = 9
	default:
		n = 17
	}
	if h.Protected {
		n += 2
	}
	return n
}

// compatible reports whether o can follow h in the same stream.
func (h FrameHeader) compatible(o FrameHeader) bool {
	return h.Version == o.Version && h.SampleRate == o.SampleRate && h.Channels == o.Channels
}

// IsSync reports whether p starts with an 11-bit frame sync.
func IsSync(p []byte) bool {
	return len(p) >= 2 && p[0] == 0xFF && p[1]&0xE0 == 0xE0
}

// ParseHeader decodes a Layer III header. Free-format and reserved values
// are rejected.
func ParseHeader(p []byte) (FrameHeader, bool) {
	var h FrameHeader
	if len(p) < HeaderSize || !IsSync(p) {
		return h, false
	}
	h.Version = Version(p[1] >> 3 & 0x03)
	if h.Version == versionReserved || p[1]>>1&0x03 != layer3 {
		return h, false
	}
	h.Protected = p[1]&0x01 == 0

	brIdx := p[2] >> 4
	srIdx := p[2] >> 2 & 0x03
	if brIdx == 0 || brIdx == 15 || srIdx == 3 {
		return h, false
	}
	if h.Version == MPEG1 {
		h.Bitrate = bitratesV1[brIdx] * 1000
	} else {
		h.Bitrate = bitratesV2[brIdx] * 1000
	}
	h.SampleRate = sampleRatesV1[srIdx]
	switch h.Version {
	case MPEG2:
		h.SampleRate /= 2
	case MPEG25:
		h.SampleRate /= 4
	}
	h.Padding = p[2]&0x02 != 0
	h.Channels = 2
	if p[3]>>6 == channelModeMono {
		h.Channels = 1
	}

	coef := uint32(144)
	if h.Version != MPEG1 {
		coef = 72
	}
	h.Size = int(coef * h.Bitrate / h.SampleRate)
	if h.Padding {
		h.Size++
	}
	return h, true
}

// Xing flag bits
const (
	xingFrames = 0x1
	xingBytes  = 0x2
	xingTOC    = 0x4
)

// VBRInfo is the content of a Xing, Info or VBRI header frame.
type VBRInfo struct {
	Tag    string // "Xing", "Info" or "VBRI"
	Frames uint32
	Bytes  uint32
	TOC    []byte // 100 entries, Xing only
}

// ParseVBRInfo looks for a VBR header inside the first frame.
func ParseVBRInfo(h FrameHeader, frame []byte) (VBRInfo, bool) {
	var v VBRInfo
	off := HeaderSize + h.sideInfoSize()
	if len(frame) >= off+8 {
		tag := string(frame[off : off+4])
		if tag == "Xing" || tag == "Info" {
			v.Tag = tag
			flags := binary.BigEndian.Uint32(frame[off+4:])
			p := frame[off+8:]
			if flags&xingFrames != 0 {
				if len(p) < 4 {
					return v, false
				}
				v.Frames = binary.BigEndian.Uint32(p)
				p = p[4:]
			}
			if flags&xingBytes != 0 {
				if len(p) < 4 {
					return v, false
				}
				v.Bytes = binary.BigEndian.Uint32(p)
				p = p[4:]
			}
			if flags&xingTOC != 0 && len(p) >= 100 {
				v.TOC = append([]byte(nil), p[:100]...)
			}
			return v, true
		}
	}

	// VBRI sits at a fixed offset after a 32 byte gap
	const vbriOff = HeaderSize + 32
	if len(frame) >= vbriOff+18 && string(frame[vbriOff:vbriOff+4]) == "VBRI" {
		v.Tag = "VBRI"
		v.Bytes = binary.BigEndian.Uint32(frame[vbriOff+10:])
		v.Frames = binary.BigEndian.Uint32(frame[vbriOff+14:])
		return v, true
	}
	return v, false
}

// tocOffset maps a position in percent of the duration to a byte offset
// relative to the start of the audio.
func (v VBRInfo) tocOffset(percent float64, total int64) int64 {
	if len(v.TOC) < 100 || total <= 0 {
		return -1
	}
	percent = min(max(percent, 0), 99.999)
	i := int(percent)
	a := float64(v.TOC[i])
	b := 256.0
	if i < 99 {
		b = float64(v.TOC[i+1])
	}
	x := a + (b-a)*(percent-float64(i))
	return int64(x / 256 * float64(total))
}
