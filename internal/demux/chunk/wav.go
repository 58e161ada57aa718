package chunk

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/media"
)

// WAVE format tags
const (
	TagPCM        = 0x0001
	TagFloat      = 0x0003
	TagALaw       = 0x0006
	TagMuLaw      = 0x0007
	TagMPEG       = 0x0055
	TagExtensible = 0xFFFE
)

// maxMetaChunk bounds the size of any non-audio chunk loaded into memory.
const maxMetaChunk = 1 << 20

// WAVFormat is the decoded fmt chunk.
type WAVFormat struct {
	Tag           uint16 // resolved through the extensible subformat
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	ValidBits     uint16
	ChannelMask   uint32
}

var infoTags = map[string]string{
	"INAM": "title",
	"IART": "artist",
	"IPRD": "album",
	"ICMT": "comment",
	"ICOP": "copyright",
	"IGNR": "genre",
	"ICRD": "date",
	"ITRK": "track",
}

func containerError(format string, args ...any) error {
	return errors.New(fmt.Errorf("%w: %s", media.ErrInvalidMedia, fmt.Sprintf(format, args...))).
		Component("chunk").
		Category(errors.CategoryContainer).
		Build()
}

func parseWAVFormat(p []byte) (WAVFormat, error) {
	if len(p) < 16 {
		return WAVFormat{}, containerError("fmt chunk of %d bytes", len(p))
	}
	f := WAVFormat{
		Tag:           binary.LittleEndian.Uint16(p[0:]),
		Channels:      binary.LittleEndian.Uint16(p[2:]),
		SampleRate:    binary.LittleEndian.Uint32(p[4:]),
		ByteRate:      binary.LittleEndian.Uint32(p[8:]),
		BlockAlign:    binary.LittleEndian.Uint16(p[12:]),
		BitsPerSample: binary.LittleEndian.Uint16(p[14:]),
	}
	f.ValidBits = f.BitsPerSample
	if f.Tag == TagExtensible {
		if len(p) < 40 {
			return WAVFormat{}, containerError("extensible fmt chunk of %d bytes", len(p))
		}
		if vb := binary.LittleEndian.Uint16(p[18:]); vb > 0 {
			f.ValidBits = vb
		}
		f.ChannelMask = binary.LittleEndian.Uint32(p[20:])
		// the subformat GUID begins with the plain format tag
		f.Tag = binary.LittleEndian.Uint16(p[24:])
	}
	if f.Channels == 0 || f.SampleRate == 0 {
		return WAVFormat{}, containerError("fmt with %d channels at %d Hz", f.Channels, f.SampleRate)
	}
	return f, nil
}

// streamInfo maps the fmt chunk onto a stream description.
func (f WAVFormat) streamInfo() (media.StreamInfo, int, error) {
	info := media.StreamInfo{
		CodecTag:      uint32(f.Tag),
		SampleRate:    f.SampleRate,
		Channels:      f.Channels,
		BitsPerSample: f.BitsPerSample,
		Bitrate:       f.ByteRate * 8,
		ByteOrder:     media.LittleEndian,
	}
	switch f.Tag {
	case TagPCM:
		info.CodecName = media.CodecPCM
		if f.BitsPerSample == 8 {
			info.SampleFormat = media.SampleFormatUint
		}
		if f.BitsPerSample == 0 || f.BitsPerSample > 32 {
			return info, 0, containerError("PCM with %d bits", f.BitsPerSample)
		}
	case TagFloat:
		info.CodecName = media.CodecPCM
		info.SampleFormat = media.SampleFormatFloat
		if f.BitsPerSample != 32 && f.BitsPerSample != 64 {
			return info, 0, containerError("float PCM with %d bits", f.BitsPerSample)
		}
	case TagALaw:
		info.CodecName = media.CodecALaw
		info.BitsPerSample = 8
	case TagMuLaw:
		info.CodecName = media.CodecMuLaw
		info.BitsPerSample = 8
	case TagMPEG:
		info.CodecName = media.CodecMP3
		info.BitsPerSample = 0
		return info, 0, nil
	default:
		return info, 0, errors.New(fmt.Errorf("%w: WAVE format tag %#04x", media.ErrUnsupported, f.Tag)).
			Component("chunk").
			Category(errors.CategoryUnsupported).
			Build()
	}
	align := int(f.BlockAlign)
	if want := int(info.BitsPerSample+7) / 8 * int(f.Channels); align < want {
		align = want
	}
	return info, align, nil
}

// parseInfoList decodes a LIST chunk of type INFO into tags.
func parseInfoList(p []byte, tags map[string]string) {
	if len(p) < 4 || string(p[:4]) != "INFO" {
		return
	}
	for off := 4; off+8 <= len(p); {
		id := string(p[off : off+4])
		size := int(binary.LittleEndian.Uint32(p[off+4:]))
		off += 8
		if size > len(p)-off {
			return
		}
		if key, ok := infoTags[id]; ok {
			if v := strings.TrimRight(string(p[off:off+size]), "\x00 "); v != "" {
				tags[key] = v
			}
		}
		off += size + size&1
	}
}

func parseWAV(h media.IOHandler, rf64 bool) (layout, error) {
	l := layout{kind: KindRIFF, tags: make(map[string]string)}
	size := h.Size()

	var (
		format      *WAVFormat
		factSamples uint64
		ds64Data    uint64
		dataFound   bool
		dataSize    uint64
	)
	var hdr [8]byte
scan:
	for off := int64(12); off+8 <= size; {
		if err := readAt(h, off, hdr[:]); err != nil {
			return l, err
		}
		id := string(hdr[0:4])
		csize := uint64(binary.LittleEndian.Uint32(hdr[4:]))
		body := off + 8

		switch id {
		case "data":
			dataFound = true
			l.dataStart = body
			dataSize = csize
			if rf64 && csize == 0xFFFFFFFF {
				dataSize = ds64Data
			}
			if dataSize == 0 || dataSize > uint64(size-body) {
				// open-ended data runs to the end of the file
				break scan
			}
		case "fmt ", "fact", "LIST", "ds64":
			if csize > maxMetaChunk || csize > uint64(size-body) {
				return l, containerError("%q chunk of %d bytes at %d", id, csize, off)
			}
			p := make([]byte, csize)
			if err := readAt(h, body, p); err != nil {
				return l, err
			}
			switch id {
			case "fmt ":
				f, err := parseWAVFormat(p)
				if err != nil {
					return l, err
				}
				format = &f
			case "fact":
				if len(p) >= 4 {
					factSamples = uint64(binary.LittleEndian.Uint32(p))
				}
			case "LIST":
				parseInfoList(p, l.tags)
			case "ds64":
				if len(p) >= 16 {
					ds64Data = binary.LittleEndian.Uint64(p[8:])
				}
			}
		}
		// chunks are padded to even length
		off = body + int64(csize) + int64(csize&1)
	}

	if format == nil {
		return l, containerError("no fmt chunk")
	}
	if !dataFound {
		return l, containerError("no data chunk")
	}
	info, align, err := format.streamInfo()
	if err != nil {
		return l, err
	}

	// streaming writers leave the data size at zero or past the end
	end := l.dataStart + int64(dataSize)
	if dataSize == 0 || end > size || end < l.dataStart {
		end = size
	}
	if align > 0 {
		end = l.dataStart + (end-l.dataStart)/int64(align)*int64(align)
		info.DurationSamples = uint64(end-l.dataStart) / uint64(align)
	} else if format.ByteRate > 0 {
		info.DurationSamples = uint64(end-l.dataStart) * uint64(format.SampleRate) / uint64(format.ByteRate)
	}
	if factSamples > 0 && align == 0 {
		info.DurationSamples = factSamples
	}
	info.DurationMs = info.SamplesToMs(info.DurationSamples)
	if n, err := strconv.Atoi(l.tags["track"]); err == nil && n > 0 {
		info.TrackNumber = uint32(n)
	}

	l.info = info
	l.dataEnd = end
	l.blockAlign = align
	l.byteRate = format.ByteRate
	return l, nil
}
