// Package mpeg demultiplexes MPEG-1, MPEG-2 and MPEG-2.5 Layer III streams.
// Each chunk carries one frame. Duration comes from a Xing, Info or VBRI
// header when present and from the bitrate otherwise.
package mpeg

import (
	"fmt"
	"io"
	"sync"

	"github.com/tphakala/mediacore/internal/boundedbuf"
	"github.com/tphakala/mediacore/internal/demux/base"
	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/logger"
	"github.com/tphakala/mediacore/internal/media"
)

const formatName = "mp3"

const (
	scanWindow = 64 << 10
	id3v1Size  = media.ID3v1Size
	// maxFrameSize covers the largest Layer III frame with padding.
	maxFrameSize = 2881
)

// GetLogger returns the mpeg demuxer logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("mpeg-demux")
}

// Options configure the demuxer.
type Options struct {
	base.Options
}

// Demuxer streams the frames of an MPEG audio file. All methods are safe
// for concurrent use.
type Demuxer struct {
	mu sync.Mutex
	st demuxState
}

type demuxState struct {
	h       media.IOHandler
	opts    Options
	staging *boundedbuf.Buffer

	parsed     bool
	info       media.StreamInfo
	first      FrameHeader
	vbr        *VBRInfo
	audioStart int64
	end        int64

	pos       int64
	nextFrame uint64
}

// New returns a demuxer over h.
func New(h media.IOHandler, opts Options) *Demuxer {
	opts.Options = opts.Options.WithDefaults()
	return &Demuxer{st: demuxState{
		h:       h,
		opts:    opts,
		staging: opts.NewStaging("mpeg-demux"),
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
	return []media.StreamInfo{d.st.info}
}

func (d *Demuxer) StreamInfo(id uint32) (media.StreamInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.st.parsed || id != d.st.info.StreamID {
		return media.StreamInfo{}, false
	}
	return d.st.info, true
}

func (d *Demuxer) ReadChunk() (media.MediaChunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.readChunk()
}

func (d *Demuxer) ReadChunkFor(id uint32) (media.MediaChunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.st.parsed && id != d.st.info.StreamID {
		return media.MediaChunk{}, media.ErrUnknownStream
	}
	return d.st.readChunk()
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
	return !d.st.parsed || d.st.pos >= d.st.end
}

func (d *Demuxer) Duration() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.info.DurationMs
}

func (d *Demuxer) Position() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.info.SamplesToMs(d.st.nextFrame * uint64(d.st.first.SamplesPerFrame()))
}

// Close releases the staging buffer. The IOHandler stays open.
func (d *Demuxer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.st.staging.Release()
	return nil
}

// VBRInfo returns the VBR header of the file, if any.
func (d *Demuxer) VBRInfo() (VBRInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.st.vbr == nil {
		return VBRInfo{}, false
	}
	return *d.st.vbr, true
}

func (s *demuxState) containerErr(sentinel error, format string, args ...any) error {
	return errors.New(fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))).
		Component("mpeg-demux").
		Category(errors.CategoryContainer).
		Build()
}

// window reads up to n bytes at off into the staging buffer.
func (s *demuxState) window(off, n int64) ([]byte, error) {
	n = min(n, s.end-off)
	if n <= 0 {
		return nil, nil
	}
	if _, err := s.h.Seek(off, io.SeekStart); err != nil {
		return nil, err
	}
	if !s.staging.Resize(int(n)) {
		return nil, media.ErrInvalidMedia
	}
	got, err := io.ReadFull(s.h, s.staging.Bytes())
	if err != nil && got == 0 {
		return nil, err
	}
	return s.staging.Bytes()[:got], nil
}

// findFrame returns the first frame at or after off whose successor is a
// compatible header or the end of the data. ref is the zero header before
// the first frame is known.
func (s *demuxState) findFrame(off int64, ref *FrameHeader) (FrameHeader, int64, bool, error) {
	for off < s.end {
		p, err := s.window(off, scanWindow)
		if err != nil {
			return FrameHeader{}, 0, false, err
		}
		atEnd := off+int64(len(p)) >= s.end || len(p) < scanWindow
		last := len(p) - HeaderSize
		if !atEnd {
			last -= maxFrameSize
		}
		for i := 0; i <= last; i++ {
			h, ok := ParseHeader(p[i:])
			if !ok || (ref != nil && !ref.compatible(h)) {
				continue
			}
			next := i + h.Size
			switch {
			case off+int64(next) >= s.end:
				return h, off + int64(i), true, nil
			case next+HeaderSize <= len(p):
				if n, ok := ParseHeader(p[next:]); ok && h.compatible(n) {
					return h, off + int64(i), true, nil
				}
			}
		}
		if atEnd {
			break
		}
		off += int64(max(last, 1))
	}
	return FrameHeader{}, 0, false, nil
}

// readTags reads the leading ID3v2 tag and the trailing ID3v1 tag. The
// ID3v2 fields win; ID3v1 fills the gaps. s.end is moved before an ID3v1
// trailer.
func (s *demuxState) readTags(tagSize int64) media.ID3Tags {
	var v2, v1 media.ID3Tags
	if tagSize > 0 {
		n := min(tagSize, int64(s.staging.MaxSize()))
		if _, err := s.h.Seek(0, io.SeekStart); err == nil && base.ReadInto(s.h, s.staging, n) == nil {
			v2, _ = media.ParseID3v2(s.staging.Bytes())
		}
	}
	if s.h.Size() > 0 && s.end-tagSize >= id3v1Size {
		var trailer [id3v1Size]byte
		if _, err := s.h.Seek(s.end-id3v1Size, io.SeekStart); err == nil {
			if err := media.ReadFull(s.h, trailer[:]); err == nil {
				var ok bool
				if v1, ok = media.ParseID3v1(trailer[:]); ok {
					s.end -= id3v1Size
				}
			}
		}
	}
	return v2.Merge(v1)
}

func (s *demuxState) parse() error {
	if s.parsed {
		return nil
	}
	if s.h == nil {
		return media.ErrIO
	}
	if _, err := s.h.Seek(0, io.SeekStart); err != nil {
		return s.containerErr(media.ErrIO, "%v", err)
	}
	tag, err := media.SkipID3v2(s.h)
	if err != nil {
		return s.containerErr(media.ErrIO, "skip id3: %v", err)
	}
	s.end = s.h.Size()
	if s.end <= 0 {
		s.end = 1<<63 - 1
	}
	tags := s.readTags(tag)

	h, off, ok, err := s.findFrame(tag, nil)
	if err != nil {
		return s.containerErr(media.ErrIO, "%v", err)
	}
	if !ok {
		if tag > 0 {
			return s.containerErr(media.ErrInvalidMedia, "no audio frame after %d byte ID3 tag", tag)
		}
		return s.containerErr(media.ErrWrongFormat, "no MPEG audio frame")
	}
	if skipped := off - tag; skipped > 0 {
		GetLogger().Debug("skipped bytes before first frame", logger.Int64("bytes", skipped))
	}
	s.first = h
	s.audioStart = off

	frame, err := base.ReadPayload(s.h, off, int(min(int64(h.Size), s.end-off)))
	if err != nil {
		return s.containerErr(media.ErrIO, "%v", err)
	}
	if v, ok := ParseVBRInfo(h, frame); ok {
		s.vbr = &v
		s.audioStart = off + int64(h.Size)
	}

	spf := uint64(h.SamplesPerFrame())
	info := media.StreamInfo{
		CodecType:     "audio",
		CodecName:     media.CodecMP3,
		SampleRate:    h.SampleRate,
		Channels:      h.Channels,
		BitsPerSample: 16,
		Bitrate:       h.Bitrate,
	}
	switch {
	case s.vbr != nil && s.vbr.Frames > 0:
		info.DurationSamples = uint64(s.vbr.Frames) * spf
		if ms := info.SamplesToMs(info.DurationSamples); ms > 0 {
			size := uint64(s.vbr.Bytes)
			if size == 0 && s.h.Size() > 0 {
				size = uint64(s.end - s.audioStart)
			}
			info.Bitrate = uint32(size * 8 * 1000 / ms)
		}
	case s.h.Size() > 0:
		info.DurationSamples = uint64(s.end-s.audioStart) * 8 * uint64(h.SampleRate) / uint64(h.Bitrate)
	}
	info.DurationMs = info.SamplesToMs(info.DurationSamples)
	tags.Apply(&info)

	s.info = info
	s.pos = s.audioStart
	s.nextFrame = 0
	s.parsed = true

	vbrTag := ""
	if s.vbr != nil {
		vbrTag = s.vbr.Tag
	}
	GetLogger().Debug("mpeg stream parsed",
		logger.String("version", h.Version.String()),
		logger.Uint32("rate", h.SampleRate),
		logger.Int("channels", int(h.Channels)),
		logger.Uint32("bitrate", info.Bitrate),
		logger.String("vbr", vbrTag),
		logger.Uint64("duration_ms", info.DurationMs))
	return nil
}

func (s *demuxState) readChunk() (media.MediaChunk, error) {
	if !s.parsed {
		return media.MediaChunk{}, media.ErrNotParsed
	}
	eos := media.MediaChunk{StreamID: s.info.StreamID}
	if s.pos >= s.end {
		return eos, media.ErrEndOfStream
	}

	var hdr [HeaderSize]byte
	h, off, ok := FrameHeader{}, s.pos, false
	if _, err := s.h.Seek(s.pos, io.SeekStart); err == nil && media.ReadFull(s.h, hdr[:]) == nil {
		h, ok = ParseHeader(hdr[:])
		ok = ok && s.first.compatible(h)
	}
	if !ok {
		var err error
		h, off, ok, err = s.findFrame(s.pos, &s.first)
		if err != nil {
			return media.MediaChunk{}, errors.New(err).
				Component("mpeg-demux").
				Category(errors.CategoryFileIO).
				StreamContext(media.CodecMP3, s.pos).
				Build()
		}
		if !ok {
			s.pos = s.end
			return eos, media.ErrEndOfStream
		}
		GetLogger().Debug("resynced to frame",
			logger.Int64("offset", s.pos),
			logger.Int64("bytes", off-s.pos))
	}
	if off+int64(h.Size) > s.end {
		GetLogger().Debug("dropping truncated final frame", logger.Int64("offset", off))
		s.pos = s.end
		return eos, media.ErrEndOfStream
	}
	data, err := base.ReadPayload(s.h, off, h.Size)
	if err != nil {
		return media.MediaChunk{}, errors.New(err).
			Component("mpeg-demux").
			Category(errors.CategoryFileIO).
			StreamContext(media.CodecMP3, off).
			Build()
	}
	ts := s.nextFrame * uint64(h.SamplesPerFrame())
	s.pos = off + int64(h.Size)
	s.nextFrame++
	s.opts.Recorder.RecordChunk(formatName)
	return media.MediaChunk{
		StreamID:         s.info.StreamID,
		Data:             data,
		FileOffset:       uint64(off),
		TimestampSamples: ts,
		Keyframe:         true,
	}, nil
}

func (s *demuxState) seekTo(ms uint64) error {
	if !s.parsed {
		return media.ErrNotParsed
	}
	if s.info.DurationMs > 0 && ms > s.info.DurationMs {
		return errors.Newf("seek to %d ms beyond duration %d ms", ms, s.info.DurationMs).
			Component("mpeg-demux").
			Category(errors.CategoryValidation).
			Build()
	}
	spf := uint64(s.first.SamplesPerFrame())
	target := ms * uint64(s.info.SampleRate) / 1000
	frame := target / spf
	if s.info.DurationSamples > 0 {
		frame = min(frame, (s.info.DurationSamples-1)/spf)
	}

	var off int64
	switch {
	case s.vbr == nil || s.vbr.Tag == "Info":
		// constant bitrate: average frame length including padding
		perFrame := float64(spf) * float64(s.first.Bitrate) / 8 / float64(s.first.SampleRate)
		off = s.audioStart + int64(float64(frame)*perFrame)
	case len(s.vbr.TOC) == 100 && s.info.DurationMs > 0:
		total := int64(s.vbr.Bytes)
		if total == 0 {
			total = s.end - s.audioStart
		}
		off = s.audioStart + s.vbr.tocOffset(float64(ms)*100/float64(s.info.DurationMs), total)
	default:
		return s.scanTo(frame)
	}

	_, at, ok, err := s.findFrame(max(off, s.audioStart), &s.first)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Newf("seek to %d ms: no frame at offset %d", ms, off).
			Component("mpeg-demux").
			Category(errors.CategoryNotFound).
			Build()
	}
	s.pos = at
	s.nextFrame = frame
	return nil
}

// scanTo walks frame headers from the start of the audio.
func (s *demuxState) scanTo(frame uint64) error {
	off := s.audioStart
	var hdr [HeaderSize]byte
	for n := uint64(0); n < frame; n++ {
		if _, err := s.h.Seek(off, io.SeekStart); err != nil {
			return err
		}
		if err := media.ReadFull(s.h, hdr[:]); err != nil {
			break
		}
		h, ok := ParseHeader(hdr[:])
		if !ok || !s.first.compatible(h) {
			var at int64
			var err error
			h, at, ok, err = s.findFrame(off, &s.first)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			off = at
		}
		if off+int64(h.Size) >= s.end {
			frame = n
			break
		}
		off += int64(h.Size)
	}
	s.pos = off
	s.nextFrame = frame
	return nil
}
