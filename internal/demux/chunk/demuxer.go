// Package chunk demultiplexes chunk-structured PCM containers: RIFF WAVE
// (including RF64) and AIFF/AIFC.
package chunk

import (
	"io"
	"sync"

	"github.com/tphakala/mediacore/internal/demux/base"
	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/logger"
	"github.com/tphakala/mediacore/internal/media"
)

// GetLogger returns the chunk module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("chunk")
}

// Delivery sizes
const (
	PCMChunkFrames   = 4096
	TelephonyChunkMs = 20
	// compressed payloads carried in WAV (MPEG audio) are cut at this many bytes
	opaqueChunkBytes = 4096
)

// Container kinds
const (
	KindRIFF = "riff"
	KindAIFF = "aiff"
)

// Options configure the demuxer.
type Options struct {
	base.Options
}

// layout is the parse result shared by both container kinds.
type layout struct {
	kind       string
	info       media.StreamInfo
	tags       map[string]string
	dataStart  int64
	dataEnd    int64
	blockAlign int    // bytes per frame, 0 for opaque payloads
	byteRate   uint32 // for opaque payloads
}

// Demuxer streams the single audio track of a WAV or AIFF file. All
// methods are safe for concurrent use.
type Demuxer struct {
	mu sync.Mutex
	st demuxState
}

type demuxState struct {
	h    media.IOHandler
	opts Options

	parsed bool
	l      layout
	pos    int64
}

// New returns a demuxer over h.
func New(h media.IOHandler, opts Options) *Demuxer {
	opts.Options = opts.Options.WithDefaults()
	return &Demuxer{st: demuxState{h: h, opts: opts}}
}

// Open builds and parses a demuxer.
func Open(h media.IOHandler, opts Options) (*Demuxer, error) {
	d := New(h, opts)
	if err := d.ParseContainer(); err != nil {
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
	return []media.StreamInfo{d.st.l.info}
}

func (d *Demuxer) StreamInfo(id uint32) (media.StreamInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.st.parsed || id != d.st.l.info.StreamID {
		return media.StreamInfo{}, false
	}
	return d.st.l.info, true
}

func (d *Demuxer) ReadChunk() (media.MediaChunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.readChunk()
}

func (d *Demuxer) ReadChunkFor(id uint32) (media.MediaChunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.st.parsed && id != d.st.l.info.StreamID {
		return media.MediaChunk{}, media.ErrUnknownStream
	}
	return d.st.readChunk()
}

func (d *Demuxer) SeekTo(ms uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.st.seekTo(ms)
	d.st.opts.Recorder.RecordSeek(d.st.l.kind, err == nil)
	return err
}

func (d *Demuxer) EOF() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.st.parsed || d.st.pos >= d.st.l.dataEnd
}

func (d *Demuxer) Duration() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.l.info.DurationMs
}

func (d *Demuxer) Position() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.l.info.SamplesToMs(d.st.sampleAt(d.st.pos))
}

// Close is a no-op; the IOHandler belongs to the caller.
func (d *Demuxer) Close() error { return nil }

// Kind returns KindRIFF or KindAIFF.
func (d *Demuxer) Kind() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.l.kind
}

// Tags returns the textual metadata chunks, keyed by lower-case name.
func (d *Demuxer) Tags() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]string, len(d.st.l.tags))
	for k, v := range d.st.l.tags {
		out[k] = v
	}
	return out
}

func (s *demuxState) parse() error {
	if s.parsed {
		return nil
	}
	if s.h == nil {
		return media.ErrIO
	}
	var hdr [12]byte
	if n, _ := media.ReadAt(s.h, 0, hdr[:]); n < len(hdr) {
		return errors.New(media.ErrWrongFormat).
			Component("chunk").
			Category(errors.CategoryContainer).
			Context("reason", "file shorter than a container header").
			Build()
	}

	var (
		l   layout
		err error
	)
	switch {
	case (string(hdr[0:4]) == "RIFF" || string(hdr[0:4]) == "RF64") && string(hdr[8:12]) == "WAVE":
		l, err = parseWAV(s.h, string(hdr[0:4]) == "RF64")
	case string(hdr[0:4]) == "FORM" && (string(hdr[8:12]) == "AIFF" || string(hdr[8:12]) == "AIFC"):
		l, err = parseAIFF(s.h, string(hdr[8:12]) == "AIFC")
	default:
		return errors.New(media.ErrWrongFormat).
			Component("chunk").
			Category(errors.CategoryContainer).
			Context("magic", string(hdr[0:4])).
			Build()
	}
	if err != nil {
		return err
	}
	l.info.StreamID = 0
	l.info.CodecType = "audio"
	applyTags(&l.info, l.tags)

	s.l = l
	s.pos = l.dataStart
	s.parsed = true

	GetLogger().Debug("chunk container parsed",
		logger.String("kind", l.kind),
		logger.String("codec", l.info.CodecName),
		logger.Int("rate", int(l.info.SampleRate)),
		logger.Int("channels", int(l.info.Channels)),
		logger.Int64("data_bytes", l.dataEnd-l.dataStart))
	return nil
}

func applyTags(info *media.StreamInfo, tags map[string]string) {
	info.Title = tags["title"]
	info.Artist = tags["artist"]
	info.Album = tags["album"]
	info.Genre = tags["genre"]
	info.Date = tags["date"]
}

// sampleAt maps a data offset to a frame index.
func (s *demuxState) sampleAt(pos int64) uint64 {
	rel := pos - s.l.dataStart
	if rel <= 0 {
		return 0
	}
	if s.l.blockAlign > 0 {
		return uint64(rel / int64(s.l.blockAlign))
	}
	if s.l.byteRate == 0 {
		return 0
	}
	return uint64(rel) * uint64(s.l.info.SampleRate) / uint64(s.l.byteRate)
}

func (s *demuxState) chunkBytes() int64 {
	if s.l.blockAlign == 0 {
		return opaqueChunkBytes
	}
	frames := PCMChunkFrames
	if c := s.l.info.CodecName; c == media.CodecALaw || c == media.CodecMuLaw {
		frames = max(1, int(s.l.info.SampleRate)*TelephonyChunkMs/1000)
	}
	return int64(frames * s.l.blockAlign)
}

func (s *demuxState) readChunk() (media.MediaChunk, error) {
	if !s.parsed {
		return media.MediaChunk{}, media.ErrNotParsed
	}
	n := min(s.chunkBytes(), s.l.dataEnd-s.pos)
	if n <= 0 {
		return media.MediaChunk{StreamID: s.l.info.StreamID}, media.ErrEndOfStream
	}
	data, err := base.ReadPayload(s.h, s.pos, int(n))
	if err != nil {
		return media.MediaChunk{}, errors.New(err).
			Component("chunk").
			Category(errors.CategoryFileIO).
			StreamContext(s.l.info.CodecName, s.pos).
			Build()
	}
	c := media.MediaChunk{
		StreamID:         s.l.info.StreamID,
		Data:             data,
		FileOffset:       uint64(s.pos),
		TimestampSamples: s.sampleAt(s.pos),
		Keyframe:         true,
	}
	s.pos += n
	s.opts.Recorder.RecordChunk(s.l.kind)
	return c, nil
}

func (s *demuxState) seekTo(ms uint64) error {
	if !s.parsed {
		return media.ErrNotParsed
	}
	if ms > s.l.info.DurationMs {
		return errors.Newf("seek to %d ms beyond duration %d ms", ms, s.l.info.DurationMs).
			Component("chunk").
			Category(errors.CategoryValidation).
			Build()
	}
	var off int64
	if s.l.blockAlign > 0 {
		frame := min(ms*uint64(s.l.info.SampleRate)/1000, s.l.info.DurationSamples)
		off = int64(frame) * int64(s.l.blockAlign)
	} else {
		off = int64(ms * uint64(s.l.byteRate) / 1000)
	}
	s.pos = min(s.l.dataStart+off, s.l.dataEnd)
	return nil
}

// readAt reads exactly len(p) bytes at off.
func readAt(h media.IOHandler, off int64, p []byte) error {
	if _, err := h.Seek(off, io.SeekStart); err != nil {
		return err
	}
	return media.ReadFull(h, p)
}
