package raw

import (
	"encoding/binary"
	"fmt"

	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/media"
)

const (
	auMagic      = ".snd"
	auHeaderSize = 24
	auSizeUnset  = 0xFFFFFFFF
)

// Sun/NeXT encoding numbers
const (
	auMuLaw   = 1
	auPCM8    = 2
	auPCM16   = 3
	auPCM24   = 4
	auPCM32   = 5
	auFloat32 = 6
	auFloat64 = 7
	auALaw    = 27
)

// auHeader is the fixed .au file header. All fields are big-endian.
type auHeader struct {
	DataOffset uint32
	DataSize   uint32
	Encoding   uint32
	SampleRate uint32
	Channels   uint32
}

// IsAU reports whether hdr begins with the .au magic.
func IsAU(hdr []byte) bool {
	return len(hdr) >= 4 && string(hdr[:4]) == auMagic
}

func parseAUHeader(p []byte) (auHeader, error) {
	if len(p) < auHeaderSize || !IsAU(p) {
		return auHeader{}, errors.New(media.ErrWrongFormat).
			Component("raw").
			Category(errors.CategoryContainer).
			Context("reason", "missing .snd magic").
			Build()
	}
	h := auHeader{
		DataOffset: binary.BigEndian.Uint32(p[4:]),
		DataSize:   binary.BigEndian.Uint32(p[8:]),
		Encoding:   binary.BigEndian.Uint32(p[12:]),
		SampleRate: binary.BigEndian.Uint32(p[16:]),
		Channels:   binary.BigEndian.Uint32(p[20:]),
	}
	if h.DataOffset < auHeaderSize || h.SampleRate == 0 || h.Channels == 0 || h.Channels > 8 {
		return auHeader{}, errors.New(fmt.Errorf("%w: .au header offset %d, rate %d, channels %d",
			media.ErrInvalidMedia, h.DataOffset, h.SampleRate, h.Channels)).
			Component("raw").
			Category(errors.CategoryContainer).
			Build()
	}
	return h, nil
}

// format maps the header to a sample layout.
func (h auHeader) format() (Format, error) {
	f := Format{
		SampleRate: h.SampleRate,
		Channels:   uint16(h.Channels),
		ByteOrder:  media.BigEndian,
	}
	switch h.Encoding {
	case auMuLaw:
		f.Codec, f.BitsPerSample = media.CodecMuLaw, 8
	case auALaw:
		f.Codec, f.BitsPerSample = media.CodecALaw, 8
	case auPCM8, auPCM16, auPCM24, auPCM32:
		f.Codec = media.CodecPCM
		f.BitsPerSample = uint16(8 * (h.Encoding - 1))
	case auFloat32:
		f.Codec, f.BitsPerSample, f.SampleFormat = media.CodecPCM, 32, media.SampleFormatFloat
	case auFloat64:
		f.Codec, f.BitsPerSample, f.SampleFormat = media.CodecPCM, 64, media.SampleFormatFloat
	default:
		return Format{}, errors.New(fmt.Errorf("%w: .au encoding %d", media.ErrUnsupported, h.Encoding)).
			Component("raw").
			Category(errors.CategoryUnsupported).
			Build()
	}
	return f, nil
}
