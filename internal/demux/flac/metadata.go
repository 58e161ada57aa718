package flac

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	flaccodec "github.com/tphakala/mediacore/internal/codec/flac"
	"github.com/tphakala/mediacore/internal/demux/base"
	"github.com/tphakala/mediacore/internal/logger"
	"github.com/tphakala/mediacore/internal/media"
	"github.com/tphakala/mediacore/internal/xiph"
)

// Metadata block types
const (
	BlockStreamInfo    = 0
	BlockPadding       = 1
	BlockApplication   = 2
	BlockSeekTable     = 3
	BlockVorbisComment = 4
	BlockCueSheet      = 5
	BlockPicture       = 6
	blockInvalid       = 127
)

const (
	blockHeaderSize   = 4
	seekPointSize     = 18
	placeholderSample = 0xFFFFFFFFFFFFFFFF
)

// SeekPoint maps a sample number to a frame offset relative to the first
// frame.
type SeekPoint struct {
	Sample uint64
	Offset uint64
	Frames uint16
}

// Metadata is everything read before the first frame.
type Metadata struct {
	StreamInfo flaccodec.StreamInfo
	SeekTable  []SeekPoint
	Comment    xiph.VorbisComment
	HasPicture bool
	AudioStart int64 // offset of the first frame
}

// parseSeekTable decodes seek points, dropping placeholders, sorted by
// sample.
func parseSeekTable(p []byte) ([]SeekPoint, error) {
	if len(p)%seekPointSize != 0 {
		return nil, fmt.Errorf("%w: SEEKTABLE of %d bytes", media.ErrInvalidMedia, len(p))
	}
	points := make([]SeekPoint, 0, len(p)/seekPointSize)
	for off := 0; off < len(p); off += seekPointSize {
		sp := SeekPoint{
			Sample: binary.BigEndian.Uint64(p[off:]),
			Offset: binary.BigEndian.Uint64(p[off+8:]),
			Frames: binary.BigEndian.Uint16(p[off+16:]),
		}
		if sp.Sample == placeholderSample {
			continue
		}
		points = append(points, sp)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Sample < points[j].Sample })
	return points, nil
}

// readMetadata reads the fLaC marker and the metadata blocks that follow.
// h is positioned just after any ID3v2 tag.
func (s *demuxState) readMetadata() (Metadata, error) {
	var md Metadata
	var marker [4]byte
	if err := media.ReadFull(s.h, marker[:]); err != nil || string(marker[:]) != "fLaC" {
		return md, s.containerErr(media.ErrWrongFormat, "missing fLaC marker")
	}

	first := true
	for {
		var hdr [blockHeaderSize]byte
		if err := media.ReadFull(s.h, hdr[:]); err != nil {
			return md, s.containerErr(media.ErrInvalidMedia, "metadata block header: %v", err)
		}
		last := hdr[0]&0x80 != 0
		typ := hdr[0] & 0x7F
		size := int64(hdr[1])<<16 | int64(hdr[2])<<8 | int64(hdr[3])
		start := s.h.Tell()

		switch {
		case first && typ != BlockStreamInfo:
			return md, s.containerErr(media.ErrInvalidMedia, "first metadata block has type %d", typ)
		case !first && typ == BlockStreamInfo:
			return md, s.containerErr(media.ErrInvalidMedia, "second STREAMINFO block")
		case typ == blockInvalid:
			return md, s.containerErr(media.ErrInvalidMedia, "metadata block type 127")
		}
		if s.h.Size() > 0 && start+size > s.h.Size() {
			return md, s.containerErr(media.ErrInvalidMedia, "metadata block of %d bytes past end of file", size)
		}

		switch typ {
		case BlockStreamInfo:
			if size != flaccodec.StreamInfoSize {
				return md, s.containerErr(media.ErrInvalidMedia, "STREAMINFO of %d bytes", size)
			}
			if err := base.ReadInto(s.h, s.staging, size); err != nil {
				return md, s.containerErr(media.ErrInvalidMedia, "STREAMINFO: %v", err)
			}
			si, err := flaccodec.ParseStreamInfo(s.staging.Bytes())
			if err != nil {
				return md, s.containerErr(media.ErrInvalidMedia, "%v", err)
			}
			md.StreamInfo = si
		case BlockSeekTable:
			if err := base.ReadInto(s.h, s.staging, size); err != nil {
				return md, s.containerErr(media.ErrInvalidMedia, "SEEKTABLE: %v", err)
			}
			points, err := parseSeekTable(s.staging.Bytes())
			if err != nil {
				// a broken seek table only costs seek speed
				GetLogger().Warn("ignoring seek table", logger.Error(err))
			} else {
				md.SeekTable = points
			}
		case BlockVorbisComment:
			if err := base.ReadInto(s.h, s.staging, size); err != nil {
				return md, s.containerErr(media.ErrInvalidMedia, "VORBIS_COMMENT: %v", err)
			}
			vc, err := xiph.ParseVorbisComment(s.staging.Bytes())
			if err != nil {
				GetLogger().Warn("ignoring vorbis comment", logger.Error(err))
			} else {
				md.Comment = vc
			}
		case BlockPicture:
			md.HasPicture = true
		}

		if _, err := s.h.Seek(start+size, io.SeekStart); err != nil {
			return md, s.containerErr(media.ErrIO, "seek past metadata block: %v", err)
		}
		first = false
		if last {
			break
		}
	}
	md.AudioStart = s.h.Tell()
	s.staging.Clear()
	return md, nil
}
