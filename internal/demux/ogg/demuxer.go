// Package ogg demultiplexes Ogg files carrying Vorbis, Opus, FLAC or Speex
// logical streams. Header packets of Vorbis and Opus streams are delivered
// as the first chunks of their stream and are also kept in CodecPrivate.
package ogg

import (
	"fmt"
	"sync"

	"github.com/tphakala/mediacore/internal/boundedbuf"
	"github.com/tphakala/mediacore/internal/demux/base"
	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/logger"
	"github.com/tphakala/mediacore/internal/media"
)

const formatName = "ogg"

const (
	// maxHeaderPages bounds the pages read while collecting headers.
	maxHeaderPages = 1024
	// durationWindow is the tail scanned for the last granule.
	durationWindow = 64 << 10
	maxSeekProbes  = 32
)

// GetLogger returns the ogg demuxer logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("ogg-demux")
}

// Options configure the demuxer.
type Options struct {
	base.Options
}

// Stats counts damage found while reading.
type Stats struct {
	CRCErrors uint64
	Resyncs   uint64
}

// Demuxer streams packets of an Ogg file. All methods are safe for
// concurrent use.
type Demuxer struct {
	mu sync.Mutex
	st demuxState
}

type demuxState struct {
	h       media.IOHandler
	opts    Options
	staging *boundedbuf.Buffer
	hdr     [pageHeaderSize + 255]byte
	size    int64

	parsed    bool
	streams   []*logicalStream // usable streams, indexed by StreamID
	bySerial  map[uint32]*logicalStream
	selected  *logicalStream
	dataStart int64
	pos       int64

	crcErrors uint64
	resyncs   uint64
}

// New returns a demuxer over h.
func New(h media.IOHandler, opts Options) *Demuxer {
	opts.Options = opts.Options.WithDefaults()
	return &Demuxer{st: demuxState{
		h:        h,
		opts:     opts,
		staging:  opts.NewStaging("ogg-demux"),
		bySerial: make(map[uint32]*logicalStream),
	}}
}

// Open builds and parses a demuxer.
func Open(h media.IOHandler, opts Options) (*Demuxer, error) {
	d := New(h, opts)
	if err := d.ParseContainer(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Demuxer) ParseContainer() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.parse()
}

func (d *Demuxer) Streams() []media.StreamInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.st.parsed {
		return nil
	}
	out := make([]media.StreamInfo, 0, len(d.st.streams))
	for _, ls := range d.st.streams {
		out = append(out, ls.info)
	}
	return out
}

func (d *Demuxer) StreamInfo(id uint32) (media.StreamInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.st.parsed || int(id) >= len(d.st.streams) {
		return media.StreamInfo{}, false
	}
	return d.st.streams[id].info, true
}

func (d *Demuxer) ReadChunk() (media.MediaChunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.st.parsed {
		return media.MediaChunk{}, media.ErrNotParsed
	}
	return d.st.readChunkFor(d.st.selected)
}

func (d *Demuxer) ReadChunkFor(id uint32) (media.MediaChunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.st.parsed {
		return media.MediaChunk{}, media.ErrNotParsed
	}
	if int(id) >= len(d.st.streams) {
		return media.MediaChunk{}, media.ErrUnknownStream
	}
	return d.st.readChunkFor(d.st.streams[id])
}

func (d *Demuxer) SeekTo(ms uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.st.seekTo(ms)
	d.st.opts.Recorder.RecordSeek(formatName, err == nil)
	return err
}

func (d *Demuxer) EOF() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &d.st
	if !s.parsed {
		return true
	}
	return len(s.selected.queue) == 0 && (s.selected.eos || s.pos >= s.end())
}

func (d *Demuxer) Duration() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.st.parsed {
		return 0
	}
	return d.st.selected.info.DurationMs
}

func (d *Demuxer) Position() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.st.parsed {
		return 0
	}
	ls := d.st.selected
	return ls.info.SamplesToMs(ls.lastTS)
}

// Close releases the staging buffer. The IOHandler stays open.
func (d *Demuxer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.st.staging.Release()
	return nil
}

// Stats returns page damage counters.
func (d *Demuxer) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{CRCErrors: d.st.crcErrors, Resyncs: d.st.resyncs}
}

func (s *demuxState) containerErr(sentinel error, format string, args ...any) error {
	return errors.New(fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))).
		Component("ogg-demux").
		Category(errors.CategoryContainer).
		Build()
}

func (s *demuxState) end() int64 {
	if s.size > 0 {
		return s.size
	}
	return 1<<63 - 1
}

func (s *demuxState) headersPending() bool {
	for _, ls := range s.bySerial {
		if !ls.ignored && !ls.headersDone {
			return true
		}
	}
	return false
}

func (s *demuxState) parse() error {
	if s.parsed {
		return nil
	}
	if s.h == nil {
		return media.ErrIO
	}
	s.size = s.h.Size()

	first, err := s.readPageAt(0)
	switch {
	case errors.Is(err, errNotPage), errors.Is(err, errNoPage):
		return s.containerErr(media.ErrWrongFormat, "no Ogg page at offset 0")
	case errors.Is(err, errPageCRC):
		return s.containerErr(media.ErrInvalidMedia, "first page fails its checksum")
	case err != nil:
		return s.containerErr(media.ErrIO, "%v", err)
	}
	if first.flags&flagBOS == 0 {
		return s.containerErr(media.ErrInvalidMedia, "first page is not a beginning of stream")
	}

	var order []*logicalStream
	p := first
	for n := 0; ; n++ {
		ls, ok := s.bySerial[p.serial]
		if !ok {
			ls = newLogicalStream(p.serial)
			s.bySerial[p.serial] = ls
			order = append(order, ls)
		}
		ls.consume(&p)
		s.pos = p.end()

		if !s.headersPending() || n >= maxHeaderPages {
			// further BOS pages may still follow
			next, err := s.readPageAt(s.pos)
			if err != nil || next.flags&flagBOS == 0 {
				break
			}
			p = next
			continue
		}
		p, err = s.nextPage(s.pos)
		if err != nil {
			break
		}
	}
	s.dataStart = s.pos

	for _, ls := range order {
		if ls.ignored {
			continue
		}
		if !ls.headersDone {
			GetLogger().Warn("stream headers incomplete",
				logger.Uint32("serial", ls.serial),
				logger.String("codec", ls.info.CodecName),
				logger.Int("headers", len(ls.headers)))
			ls.finishHeaders()
		}
		id := uint32(len(s.streams))
		ls.info.StreamID = id
		for i := range ls.queue {
			ls.queue[i].StreamID = id
		}
		s.streams = append(s.streams, ls)
	}
	if len(s.streams) == 0 {
		return s.containerErr(media.ErrUnsupported, "no supported logical stream")
	}
	s.selected = s.streams[0]
	for _, ls := range s.streams {
		if ls.info.CodecName != media.CodecSpeex {
			s.selected = ls
			break
		}
	}

	s.scanDuration()
	s.parsed = true

	for _, ls := range s.streams {
		GetLogger().Debug("ogg stream",
			logger.Uint32("id", ls.info.StreamID),
			logger.Uint32("serial", ls.serial),
			logger.String("codec", ls.info.CodecName),
			logger.Uint32("rate", ls.info.SampleRate),
			logger.Int("channels", int(ls.info.Channels)),
			logger.Uint64("duration_ms", ls.info.DurationMs))
	}
	return nil
}

// probePage returns the first intact page at or after off without
// recording damage.
func (s *demuxState) probePage(off int64) (page, bool) {
	for {
		next, err := s.findCapture(off)
		if err != nil || next < 0 {
			return page{}, false
		}
		p, err := s.readPageAt(next)
		if err == nil {
			return p, true
		}
		if errors.Is(err, errNoPage) {
			return page{}, false
		}
		off = next + 1
	}
}

// scanDuration reads the granules in the tail of the file.
func (s *demuxState) scanDuration() {
	if s.size <= 0 {
		return
	}
	off := max(s.dataStart, s.size-durationWindow)
	for {
		p, ok := s.probePage(off)
		if !ok {
			break
		}
		if ls, ok := s.bySerial[p.serial]; ok && p.granule != noGranule {
			ls.maxGran = max(ls.maxGran, p.granule)
		}
		off = p.end()
	}
	for _, ls := range s.streams {
		if ls.maxGran <= 0 {
			continue
		}
		samples := uint64(ls.maxGran)
		if samples < ls.preSkip {
			samples = 0
		} else {
			samples -= ls.preSkip
		}
		ls.info.DurationSamples = samples
		ls.info.DurationMs = ls.info.SamplesToMs(samples)
	}
	if len(s.streams) == 1 {
		info := &s.streams[0].info
		if info.Bitrate == 0 && info.DurationMs > 0 && s.size > s.dataStart {
			info.Bitrate = uint32(uint64(s.size-s.dataStart) * 8 * 1000 / info.DurationMs)
		}
	}
}

func (s *demuxState) readChunkFor(ls *logicalStream) (media.MediaChunk, error) {
	for {
		if len(ls.queue) > 0 {
			c := ls.queue[0]
			ls.queue = ls.queue[1:]
			ls.lastTS = max(ls.lastTS, c.TimestampSamples)
			s.opts.Recorder.RecordChunk(formatName)
			return c, nil
		}
		eos := media.MediaChunk{StreamID: ls.info.StreamID}
		if ls.eos || s.pos >= s.end() {
			ls.lastTS = max(ls.lastTS, ls.timestamp())
			return eos, media.ErrEndOfStream
		}
		p, err := s.nextPage(s.pos)
		if errors.Is(err, errNoPage) {
			s.pos = s.end()
			continue
		}
		if err != nil {
			return media.MediaChunk{}, errors.New(err).
				Component("ogg-demux").
				Category(errors.CategoryFileIO).
				StreamContext(ls.info.CodecName, s.pos).
				Build()
		}
		s.pos = p.end()
		owner, ok := s.bySerial[p.serial]
		if !ok {
			GetLogger().Debug("skipping page of unknown stream",
				logger.Uint32("serial", p.serial),
				logger.Int64("offset", p.off))
			continue
		}
		if owner.ignored {
			continue
		}
		owner.consume(&p)
	}
}

func (s *demuxState) seekTo(ms uint64) error {
	if !s.parsed {
		return media.ErrNotParsed
	}
	sel := s.selected
	if sel.info.DurationMs > 0 && ms > sel.info.DurationMs {
		return errors.Newf("seek to %d ms beyond duration %d ms", ms, sel.info.DurationMs).
			Component("ogg-demux").
			Category(errors.CategoryValidation).
			Build()
	}
	target := int64(ms*uint64(sel.info.SampleRate)/1000 + sel.preSkip)

	startOff, startGran := s.dataStart, int64(0)
	if target > 0 && s.size > 0 {
		lo, hi := s.dataStart, s.size
		for range maxSeekProbes {
			if hi-lo < syncWindow {
				break
			}
			mid := lo + (hi-lo)/2
			p, ok := s.granulePage(mid, hi, sel.serial)
			if !ok || p.granule >= target {
				hi = mid
				continue
			}
			startOff, startGran = p.end(), p.granule
			lo = p.end()
		}
		// linear pass over the remaining interval
		for off := startOff; ; {
			p, ok := s.granulePage(off, s.size, sel.serial)
			if !ok || p.granule >= target {
				break
			}
			startOff, startGran = p.end(), p.granule
			off = p.end()
		}
	}

	s.pos = startOff
	for _, ls := range s.streams {
		if ls == sel {
			ls.resetForSeek(startGran)
		} else {
			ls.resetForSeek(noGranule)
		}
	}
	GetLogger().Debug("seek",
		logger.Uint64("ms", ms),
		logger.Int64("offset", startOff),
		logger.Int64("granule", startGran))
	return nil
}

// granulePage returns the first page of serial carrying a granule that
// starts in [from, limit).
func (s *demuxState) granulePage(from, limit int64, serial uint32) (page, bool) {
	for off := from; off < limit; {
		p, ok := s.probePage(off)
		if !ok || p.off >= limit {
			return page{}, false
		}
		if p.serial == serial && p.granule != noGranule {
			return p, true
		}
		off = p.end()
	}
	return page{}, false
}
