package chunk

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/media"
)

var aiffTextChunks = map[string]string{
	"NAME": "title",
	"AUTH": "artist",
	"ANNO": "comment",
	"(c) ": "copyright",
}

// extendedToUint converts an 80-bit IEEE 754 extended value to an integer.
// Negative, fractional bits and out-of-range values are discarded.
func extendedToUint(b []byte) uint32 {
	if len(b) < 10 || b[0]&0x80 != 0 {
		return 0
	}
	exp := int(binary.BigEndian.Uint16(b) & 0x7FFF)
	mant := binary.BigEndian.Uint64(b[2:])
	if exp == 0 || mant == 0 {
		return 0
	}
	shift := exp - 16383 - 63
	switch {
	case shift >= 0:
		return 0
	case shift <= -64:
		return 0
	}
	v := mant >> uint(-shift)
	if v > 0xFFFFFFFF {
		return 0
	}
	return uint32(v)
}

// aiffCompression maps an AIFC compression type onto codec, sample format
// and byte order.
func aiffCompression(kind string, info *media.StreamInfo) error {
	info.ByteOrder = media.BigEndian
	switch kind {
	case "NONE", "twos":
		info.CodecName = media.CodecPCM
	case "sowt":
		info.CodecName = media.CodecPCM
		info.ByteOrder = media.LittleEndian
	case "fl32", "FL32":
		info.CodecName = media.CodecPCM
		info.SampleFormat = media.SampleFormatFloat
		info.BitsPerSample = 32
	case "fl64", "FL64":
		info.CodecName = media.CodecPCM
		info.SampleFormat = media.SampleFormatFloat
		info.BitsPerSample = 64
	case "ulaw", "ULAW":
		info.CodecName = media.CodecMuLaw
		info.BitsPerSample = 8
	case "alaw", "ALAW":
		info.CodecName = media.CodecALaw
		info.BitsPerSample = 8
	default:
		return errors.New(fmt.Errorf("%w: AIFC compression %q", media.ErrUnsupported, kind)).
			Component("chunk").
			Category(errors.CategoryUnsupported).
			Build()
	}
	return nil
}

func parseAIFF(h media.IOHandler, aifc bool) (layout, error) {
	l := layout{kind: KindAIFF, tags: make(map[string]string)}
	size := h.Size()

	var (
		comm      []byte
		ssndFound bool
		ssndSize  int64
	)
	var hdr [8]byte
	for off := int64(12); off+8 <= size; {
		if err := readAt(h, off, hdr[:]); err != nil {
			return l, err
		}
		id := string(hdr[0:4])
		csize := int64(binary.BigEndian.Uint32(hdr[4:]))
		body := off + 8

		switch id {
		case "SSND":
			var ssnd [8]byte
			if csize < 8 || body+8 > size {
				return l, containerError("SSND chunk of %d bytes", csize)
			}
			if err := readAt(h, body, ssnd[:]); err != nil {
				return l, err
			}
			ssndFound = true
			l.dataStart = body + 8 + int64(binary.BigEndian.Uint32(ssnd[0:]))
			ssndSize = csize - 8 - int64(binary.BigEndian.Uint32(ssnd[0:]))
		case "COMM", "NAME", "AUTH", "ANNO", "(c) ":
			if csize > maxMetaChunk || csize > size-body {
				return l, containerError("%q chunk of %d bytes at %d", id, csize, off)
			}
			p := make([]byte, csize)
			if err := readAt(h, body, p); err != nil {
				return l, err
			}
			if id == "COMM" {
				comm = p
			} else if v := strings.TrimRight(string(p), "\x00 "); v != "" {
				l.tags[aiffTextChunks[id]] = v
			}
		}
		if csize > size-body {
			break
		}
		off = body + csize + csize&1
	}

	if comm == nil {
		return l, containerError("no COMM chunk")
	}
	if !ssndFound {
		return l, containerError("no SSND chunk")
	}
	minComm := 18
	if aifc {
		minComm = 22
	}
	if len(comm) < minComm {
		return l, containerError("COMM chunk of %d bytes", len(comm))
	}

	info := media.StreamInfo{
		Channels:      binary.BigEndian.Uint16(comm[0:]),
		BitsPerSample: binary.BigEndian.Uint16(comm[6:]),
		SampleRate:    extendedToUint(comm[8:18]),
	}
	frames := uint64(binary.BigEndian.Uint32(comm[2:]))
	kind := "NONE"
	if aifc {
		kind = string(comm[18:22])
	}
	info.CodecTag = binary.BigEndian.Uint32([]byte(kind))
	if err := aiffCompression(kind, &info); err != nil {
		return l, err
	}
	if info.Channels == 0 || info.SampleRate == 0 || info.BitsPerSample == 0 || info.BitsPerSample > 64 {
		return l, containerError("COMM with %d channels, %d bits at %d Hz",
			info.Channels, info.BitsPerSample, info.SampleRate)
	}

	align := int(info.BitsPerSample+7) / 8 * int(info.Channels)
	end := min(l.dataStart+max(ssndSize, 0), size)
	if l.dataStart > end {
		return l, containerError("SSND offset past the end of the file")
	}
	if avail := uint64(end-l.dataStart) / uint64(align); frames == 0 || frames > avail {
		frames = avail
	}
	end = l.dataStart + int64(frames)*int64(align)

	info.DurationSamples = frames
	info.DurationMs = info.SamplesToMs(frames)
	info.Bitrate = info.SampleRate * uint32(align) * 8

	l.info = info
	l.dataEnd = end
	l.blockAlign = align
	l.byteRate = info.SampleRate * uint32(align)
	return l, nil
}
