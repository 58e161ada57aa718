package ogg

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/logger"
	"github.com/tphakala/mediacore/internal/observability/metrics"
)

const (
	capturePattern = "OggS"
	pageHeaderSize = 27
	maxPageSize    = pageHeaderSize + 255 + 255*255
	syncWindow     = 64 << 10
)

// Header type flags
const (
	flagContinued = 0x01
	flagBOS       = 0x02
	flagEOS       = 0x04
)

// noGranule marks a page on which no packet ends.
const noGranule = -1

var (
	errNoPage  = errors.NewStd("ogg: no further page")
	errNotPage = errors.NewStd("ogg: not a page")
	errPageCRC = errors.NewStd("ogg: page checksum mismatch")
)

// page is one decoded page. body aliases the demuxer's staging buffer and
// is valid until the next page is read.
type page struct {
	off      int64
	flags    byte
	granule  int64
	serial   uint32
	sequence uint32
	lacing   []byte
	body     []byte
}

func (p *page) size() int64 {
	return int64(pageHeaderSize + len(p.lacing) + len(p.body))
}

func (p *page) end() int64 { return p.off + p.size() }

// readPageAt reads and verifies the page at off.
func (s *demuxState) readPageAt(off int64) (page, error) {
	p := page{off: off}
	if s.size > 0 && off+pageHeaderSize > s.size {
		return p, errNoPage
	}
	if _, err := s.h.Seek(off, io.SeekStart); err != nil {
		return p, err
	}
	hdr := s.hdr[:pageHeaderSize]
	if _, err := io.ReadFull(s.h, hdr); err != nil {
		return p, errNoPage
	}
	if string(hdr[:4]) != capturePattern || hdr[4] != 0 {
		return p, errNotPage
	}
	p.flags = hdr[5]
	p.granule = int64(binary.LittleEndian.Uint64(hdr[6:]))
	p.serial = binary.LittleEndian.Uint32(hdr[14:])
	p.sequence = binary.LittleEndian.Uint32(hdr[18:])
	want := binary.LittleEndian.Uint32(hdr[22:])

	nseg := int(hdr[26])
	full := s.hdr[:pageHeaderSize+nseg]
	if _, err := io.ReadFull(s.h, full[pageHeaderSize:]); err != nil {
		return p, errNoPage
	}
	p.lacing = full[pageHeaderSize:]
	bodyLen := 0
	for _, l := range p.lacing {
		bodyLen += int(l)
	}
	if !s.staging.Resize(bodyLen) {
		return p, errNoPage
	}
	p.body = s.staging.Bytes()
	if _, err := io.ReadFull(s.h, p.body); err != nil {
		return p, errNoPage
	}
	if got := pageChecksum(full, p.body); got != want {
		return p, errPageCRC
	}
	return p, nil
}

// findCapture returns the offset of the next capture pattern at or after
// from, or -1.
func (s *demuxState) findCapture(from int64) (int64, error) {
	buf := make([]byte, syncWindow)
	for {
		if s.size > 0 && from >= s.size {
			return -1, nil
		}
		if _, err := s.h.Seek(from, io.SeekStart); err != nil {
			return -1, err
		}
		n, err := io.ReadFull(s.h, buf)
		if n < len(capturePattern) {
			return -1, nil
		}
		if i := bytes.Index(buf[:n], []byte(capturePattern)); i >= 0 {
			return from + int64(i), nil
		}
		if err != nil {
			return -1, nil
		}
		from += int64(n - len(capturePattern) + 1)
	}
}

// nextPage returns the first valid page at or after off, skipping damaged
// pages and garbage.
func (s *demuxState) nextPage(off int64) (page, error) {
	for {
		p, err := s.readPageAt(off)
		switch {
		case err == nil:
			return p, nil
		case errors.Is(err, errNoPage):
			return p, errNoPage
		case errors.Is(err, errPageCRC):
			s.crcErrors++
			s.opts.Recorder.RecordDecodeError(formatName, metrics.ErrTypeFrameCRC)
			GetLogger().Debug("page checksum mismatch", logger.Int64("offset", off))
		case errors.Is(err, errNotPage):
		default:
			return p, err
		}
		next, err := s.findCapture(off + 1)
		if err != nil {
			return page{}, err
		}
		if next < 0 {
			return page{}, errNoPage
		}
		s.resyncs++
		off = next
	}
}

// packets splits the page body at lacing boundaries. complete is false for
// the last packet when it continues on the next page.
func (p *page) packets(yield func(data []byte, complete bool)) {
	start, pos := 0, 0
	for i, l := range p.lacing {
		pos += int(l)
		if l < 255 {
			yield(p.body[start:pos], true)
			start = pos
		} else if i == len(p.lacing)-1 {
			yield(p.body[start:pos], false)
		}
	}
}
