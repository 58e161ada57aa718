package flac

import (
	"encoding/binary"
	"fmt"

	"github.com/tphakala/mediacore/internal/media"
)

// StreamInfoSize is the length of a STREAMINFO metadata block body.
const StreamInfoSize = 34

// StreamInfo limits
const (
	MaxSampleRate = 655350
	MaxChannels   = 8
	MinBitDepth   = 4
	MaxBitDepth   = 32
)

// StreamInfo is the decoded STREAMINFO block.
type StreamInfo struct {
	MinBlockSize  uint16
	MaxBlockSize  uint16
	MinFrameSize  uint32
	MaxFrameSize  uint32
	SampleRate    uint32
	Channels      uint8
	BitsPerSample uint8
	TotalSamples  uint64 // 0 when unknown
	MD5           [16]byte
}

// HasMD5 reports whether the encoder stored a signature.
func (si StreamInfo) HasMD5() bool {
	return si.MD5 != [16]byte{}
}

// FixedBlockSize returns the block size when every frame but the last has
// the same length, or 0.
func (si StreamInfo) FixedBlockSize() uint32 {
	if si.MinBlockSize == si.MaxBlockSize {
		return uint32(si.MaxBlockSize)
	}
	return 0
}

// ParseStreamInfo decodes a 34-byte STREAMINFO body and checks its ranges.
func ParseStreamInfo(p []byte) (StreamInfo, error) {
	if len(p) < StreamInfoSize {
		return StreamInfo{}, fmt.Errorf("%w: STREAMINFO of %d bytes", media.ErrInvalidMedia, len(p))
	}
	si := StreamInfo{
		MinBlockSize: binary.BigEndian.Uint16(p[0:]),
		MaxBlockSize: binary.BigEndian.Uint16(p[2:]),
		MinFrameSize: uint32(p[4])<<16 | uint32(p[5])<<8 | uint32(p[6]),
		MaxFrameSize: uint32(p[7])<<16 | uint32(p[8])<<8 | uint32(p[9]),
	}
	packed := binary.BigEndian.Uint64(p[10:])
	si.SampleRate = uint32(packed >> 44)
	si.Channels = uint8(packed>>41&0x7) + 1
	si.BitsPerSample = uint8(packed>>36&0x1F) + 1
	si.TotalSamples = packed & (1<<36 - 1)
	copy(si.MD5[:], p[18:34])

	switch {
	case si.SampleRate == 0 || si.SampleRate > MaxSampleRate:
		return si, fmt.Errorf("%w: STREAMINFO sample rate %d", media.ErrInvalidMedia, si.SampleRate)
	case si.BitsPerSample < MinBitDepth:
		return si, fmt.Errorf("%w: STREAMINFO bit depth %d", media.ErrInvalidMedia, si.BitsPerSample)
	case si.MinBlockSize < 16 && si.MinBlockSize != si.MaxBlockSize:
		return si, fmt.Errorf("%w: STREAMINFO minimum block size %d", media.ErrInvalidMedia, si.MinBlockSize)
	case si.MaxBlockSize < si.MinBlockSize:
		return si, fmt.Errorf("%w: STREAMINFO block sizes %d > %d", media.ErrInvalidMedia, si.MinBlockSize, si.MaxBlockSize)
	}
	return si, nil
}

// Encode writes si as a 34-byte STREAMINFO body.
func (si StreamInfo) Encode() []byte {
	p := make([]byte, StreamInfoSize)
	binary.BigEndian.PutUint16(p[0:], si.MinBlockSize)
	binary.BigEndian.PutUint16(p[2:], si.MaxBlockSize)
	p[4], p[5], p[6] = byte(si.MinFrameSize>>16), byte(si.MinFrameSize>>8), byte(si.MinFrameSize)
	p[7], p[8], p[9] = byte(si.MaxFrameSize>>16), byte(si.MaxFrameSize>>8), byte(si.MaxFrameSize)
	packed := uint64(si.SampleRate)<<44 |
		uint64(si.Channels-1)&0x7<<41 |
		uint64(si.BitsPerSample-1)&0x1F<<36 |
		si.TotalSamples&(1<<36-1)
	binary.BigEndian.PutUint64(p[10:], packed)
	copy(p[18:], si.MD5[:])
	return p
}

// streamInfoFromPrivate accepts a bare STREAMINFO body, a STREAMINFO block
// with its 4-byte header, or a stream beginning with the fLaC marker.
func streamInfoFromPrivate(p []byte) ([]byte, bool) {
	if len(p) >= 8+StreamInfoSize && string(p[:4]) == "fLaC" {
		p = p[4:]
	}
	switch {
	case len(p) >= 4+StreamInfoSize && p[0]&0x7F == 0 && int(p[1])<<16|int(p[2])<<8|int(p[3]) == StreamInfoSize:
		return p[4 : 4+StreamInfoSize], true
	case len(p) >= StreamInfoSize:
		return p[:StreamInfoSize], true
	}
	return nil, false
}
