package alac

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/tphakala/mediacore/internal/media"
)

const cookieSize = 24

// Cookie is the ALACSpecificConfig carried in the MP4 sample entry.
type Cookie struct {
	FrameLength       uint32 // samples per frame
	CompatibleVersion uint8
	BitDepth          uint8
	PB, MB, KB        uint8 // rice tuning
	Channels          uint8
	MaxRun            uint16
	MaxFrameBytes     uint32
	AvgBitRate        uint32
	SampleRate        uint32
}

// ParseCookie decodes a magic cookie. It accepts the bare 24-byte config,
// the config inside its 'alac' atom, and the QuickTime layout where a
// 'frma' atom precedes it.
func ParseCookie(p []byte) (Cookie, error) {
	var c Cookie
	if len(p) >= 12 && bytes.Equal(p[4:8], []byte("frma")) {
		p = p[12:]
	}
	if len(p) >= 12 && bytes.Equal(p[4:8], []byte("alac")) {
		p = p[12:]
	}
	if len(p) < cookieSize {
		return c, fmt.Errorf("%w: alac cookie of %d bytes", media.ErrInvalidMedia, len(p))
	}
	c.FrameLength = binary.BigEndian.Uint32(p[0:])
	c.CompatibleVersion = p[4]
	c.BitDepth = p[5]
	c.PB, c.MB, c.KB = p[6], p[7], p[8]
	c.Channels = p[9]
	c.MaxRun = binary.BigEndian.Uint16(p[10:])
	c.MaxFrameBytes = binary.BigEndian.Uint32(p[12:])
	c.AvgBitRate = binary.BigEndian.Uint32(p[16:])
	c.SampleRate = binary.BigEndian.Uint32(p[20:])

	switch {
	case c.CompatibleVersion != 0:
		return c, fmt.Errorf("%w: alac compatible version %d", media.ErrUnsupported, c.CompatibleVersion)
	case c.FrameLength == 0 || c.SampleRate == 0:
		return c, fmt.Errorf("%w: alac cookie without frame length or rate", media.ErrInvalidMedia)
	case c.BitDepth != 16 && c.BitDepth != 24:
		return c, fmt.Errorf("%w: alac %d-bit", media.ErrUnsupported, c.BitDepth)
	case c.Channels != 1 && c.Channels != 2:
		return c, fmt.Errorf("%w: alac with %d channels", media.ErrUnsupported, c.Channels)
	}
	return c, nil
}
