// Package flac demultiplexes native FLAC streams: an optional ID3v2 tag,
// the fLaC marker, metadata blocks and a sequence of frames. Each chunk
// carries exactly one frame.
package flac

import (
	"fmt"
	"io"
	"sync"

	"github.com/tphakala/mediacore/internal/boundedbuf"
	flaccodec "github.com/tphakala/mediacore/internal/codec/flac"
	"github.com/tphakala/mediacore/internal/demux/base"
	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/logger"
	"github.com/tphakala/mediacore/internal/media"
)

const formatName = "flac"

// initialWindow is the first read size when looking for the end of a
// frame. It grows until the next header is found or MaxStaging is reached.
const initialWindow = 64 << 10

// maxSeekProbes bounds the bisection steps taken without a seek table.
const maxSeekProbes = 24

// GetLogger returns the flac demuxer logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("flac-demux")
}

// Options configure the demuxer.
type Options struct {
	base.Options
}

// Demuxer streams the frames of a native FLAC file. All methods are safe
// for concurrent use.
type Demuxer struct {
	mu sync.Mutex
	st demuxState
}

type demuxState struct {
	h       media.IOHandler
	opts    Options
	staging *boundedbuf.Buffer

	parsed bool
	md     Metadata
	info   media.StreamInfo
	end    int64 // end of audio data

	pos        int64  // offset of the next frame
	nextSample uint64 // first sample of the next frame
}

// New returns a demuxer over h.
func New(h media.IOHandler, opts Options) *Demuxer {
	opts.Options = opts.Options.WithDefaults()
	return &Demuxer{st: demuxState{
		h:       h,
		opts:    opts,
		staging: opts.NewStaging("flac-demux"),
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
	return d.st.info.SamplesToMs(d.st.nextSample)
}

// Close releases the staging buffer. The IOHandler stays open.
func (d *Demuxer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.st.staging.Release()
	return nil
}

// Metadata returns the parsed metadata blocks.
func (d *Demuxer) Metadata() Metadata {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.md
}

func (s *demuxState) containerErr(sentinel error, format string, args ...any) error {
	return errors.New(fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))).
		Component("flac-demux").
		Category(errors.CategoryContainer).
		Build()
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
	if _, err := media.SkipID3v2(s.h); err != nil {
		return s.containerErr(media.ErrIO, "skip id3: %v", err)
	}
	md, err := s.readMetadata()
	if err != nil {
		return err
	}

	si := md.StreamInfo
	info := media.StreamInfo{
		StreamID:        0,
		CodecType:       "audio",
		CodecName:       media.CodecFLAC,
		SampleRate:      si.SampleRate,
		Channels:        uint16(si.Channels),
		BitsPerSample:   uint16(si.BitsPerSample),
		DurationSamples: si.TotalSamples,
		CodecPrivate:    si.Encode(),
		HasArtwork:      md.HasPicture,
	}
	md.Comment.Apply(&info)
	info.HasArtwork = info.HasArtwork || md.HasPicture
	info.DurationMs = info.SamplesToMs(si.TotalSamples)

	s.end = s.h.Size()
	if s.end <= 0 {
		s.end = 1<<63 - 1
	}
	if info.DurationMs > 0 && s.h.Size() > md.AudioStart {
		info.Bitrate = uint32(uint64(s.h.Size()-md.AudioStart) * 8 * 1000 / info.DurationMs)
	}

	s.md = md
	s.info = info
	s.pos = md.AudioStart
	s.nextSample = 0
	s.parsed = true

	GetLogger().Debug("flac container parsed",
		logger.Uint32("rate", si.SampleRate),
		logger.Int("channels", int(si.Channels)),
		logger.Int("bits", int(si.BitsPerSample)),
		logger.Uint64("samples", si.TotalSamples),
		logger.Int("seek_points", len(md.SeekTable)),
		logger.Int64("audio_start", md.AudioStart))
	return nil
}

// frameRef locates one frame.
type frameRef struct {
	off    int64
	size   int64
	header flaccodec.FrameHeader
	// confirmed is set when the frame ends at a header continuing its
	// numbering or at the end of the data
	confirmed bool
}

func (s *demuxState) fixedBlockSize() uint32 {
	return s.md.StreamInfo.FixedBlockSize()
}

// validHeader parses a header and checks it against STREAMINFO.
func (s *demuxState) validHeader(p []byte) (flaccodec.FrameHeader, bool) {
	h, err := flaccodec.ParseFrameHeader(p, &s.md.StreamInfo)
	if err != nil {
		return h, false
	}
	si := s.md.StreamInfo
	if h.Channels != int(si.Channels) || h.BitsPerSample != si.BitsPerSample {
		return h, false
	}
	if si.MaxBlockSize > 0 && h.BlockSize > uint32(si.MaxBlockSize) {
		return h, false
	}
	return h, true
}

// follows reports whether next continues the numbering of cur.
func (s *demuxState) follows(cur, next flaccodec.FrameHeader) bool {
	if cur.VariableBlocking != next.VariableBlocking {
		return false
	}
	if cur.VariableBlocking {
		return next.Number == cur.Number+uint64(cur.BlockSize)
	}
	return next.Number == cur.Number+1
}

// window reads up to n bytes at off into the staging buffer.
func (s *demuxState) window(off, n int64) ([]byte, error) {
	n = min(n, s.end-off)
	if s.h.Size() <= 0 {
		n = min(n, int64(s.staging.MaxSize()))
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

// findFrame locates the first frame at or after off. The frame ends at
// the next header that continues its numbering, at a plausible header if
// none does, or at the end of the data.
func (s *demuxState) findFrame(off int64) (frameRef, bool, error) {
	win := int64(initialWindow)
	if mfs := int64(s.md.StreamInfo.MaxFrameSize); mfs > 0 {
		win = max(win, 2*mfs+flaccodec.MaxFrameHeaderSize)
	}
	limit := int64(s.staging.MaxSize())
	for {
		if off >= s.end {
			return frameRef{}, false, nil
		}
		p, err := s.window(off, min(win, limit))
		if err != nil {
			return frameRef{}, false, err
		}
		atEnd := off+int64(len(p)) >= s.end || int64(len(p)) < min(win, limit)

		start := -1
		var cur flaccodec.FrameHeader
		for i := flaccodec.FindSync(p, 0); i >= 0; i = flaccodec.FindSync(p, i+1) {
			if h, ok := s.validHeader(p[i:]); ok {
				start, cur = i, h
				break
			}
		}
		if start < 0 {
			if atEnd {
				return frameRef{}, false, nil
			}
			// no header in this window; skip it but keep a sync-sized overlap
			off += max(int64(len(p))-flaccodec.MaxFrameHeaderSize, 1)
			continue
		}

		fallback := -1
		for i := flaccodec.FindSync(p, start+cur.Size); i >= 0; i = flaccodec.FindSync(p, i+1) {
			h, ok := s.validHeader(p[i:])
			if !ok {
				continue
			}
			if s.follows(cur, h) {
				return frameRef{off: off + int64(start), size: int64(i - start), header: cur, confirmed: true}, true, nil
			}
			if fallback < 0 {
				fallback = i
			}
		}
		switch {
		case fallback >= 0 && (atEnd || win >= limit):
			return frameRef{off: off + int64(start), size: int64(fallback - start), header: cur}, true, nil
		case atEnd:
			return frameRef{off: off + int64(start), size: int64(len(p) - start), header: cur, confirmed: true}, true, nil
		case win >= limit:
			return frameRef{}, false, s.containerErr(media.ErrInvalidMedia, "frame at %d larger than %d bytes", off+int64(start), limit)
		}
		off += int64(start)
		win *= 2
	}
}

func (s *demuxState) readChunk() (media.MediaChunk, error) {
	if !s.parsed {
		return media.MediaChunk{}, media.ErrNotParsed
	}
	eos := media.MediaChunk{StreamID: s.info.StreamID}
	if s.pos >= s.end {
		return eos, media.ErrEndOfStream
	}
	ref, ok, err := s.findFrame(s.pos)
	if err != nil {
		return media.MediaChunk{}, errors.New(err).
			Component("flac-demux").
			Category(errors.CategoryFileIO).
			StreamContext(media.CodecFLAC, s.pos).
			Build()
	}
	if !ok {
		s.pos = s.end
		return eos, media.ErrEndOfStream
	}
	if skipped := ref.off - s.pos; skipped > 0 {
		GetLogger().Debug("skipped bytes before frame",
			logger.Int64("offset", s.pos),
			logger.Int64("bytes", skipped))
	}
	data, err := base.ReadPayload(s.h, ref.off, int(ref.size))
	if err != nil {
		return media.MediaChunk{}, errors.New(err).
			Component("flac-demux").
			Category(errors.CategoryFileIO).
			StreamContext(media.CodecFLAC, ref.off).
			Build()
	}
	first := ref.header.FirstSample(s.fixedBlockSize())
	s.pos = ref.off + ref.size
	s.nextSample = first + uint64(ref.header.BlockSize)
	s.opts.Recorder.RecordChunk(formatName)
	return media.MediaChunk{
		StreamID:         s.info.StreamID,
		Data:             data,
		FileOffset:       uint64(ref.off),
		TimestampSamples: first,
		Keyframe:         true,
	}, nil
}

// seekStart returns an offset at or before the frame holding target.
func (s *demuxState) seekStart(target uint64) (int64, error) {
	start := s.md.AudioStart
	for _, sp := range s.md.SeekTable {
		if sp.Sample > target {
			break
		}
		start = s.md.AudioStart + int64(sp.Offset)
	}
	if len(s.md.SeekTable) > 0 || s.md.StreamInfo.TotalSamples == 0 || s.h.Size() <= 0 {
		return start, nil
	}

	// bisect on frame positions
	lo, hi := s.md.AudioStart, s.end
	for range maxSeekProbes {
		if hi-lo < initialWindow {
			break
		}
		mid := lo + (hi-lo)/2
		ref, ok, err := s.findFrame(mid)
		if err != nil {
			return 0, err
		}
		if !ok || !ref.confirmed || ref.header.FirstSample(s.fixedBlockSize()) > target {
			hi = mid
			continue
		}
		lo = ref.off
	}
	return lo, nil
}

func (s *demuxState) seekTo(ms uint64) error {
	if !s.parsed {
		return media.ErrNotParsed
	}
	if s.info.DurationMs > 0 && ms > s.info.DurationMs {
		return errors.Newf("seek to %d ms beyond duration %d ms", ms, s.info.DurationMs).
			Component("flac-demux").
			Category(errors.CategoryValidation).
			Build()
	}
	target := ms * uint64(s.info.SampleRate) / 1000
	off, err := s.seekStart(target)
	if err != nil {
		return err
	}
	for {
		ref, ok, err := s.findFrame(off)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Newf("seek to %d ms: no frame holds sample %d", ms, target).
				Component("flac-demux").
				Category(errors.CategoryNotFound).
				Build()
		}
		first := ref.header.FirstSample(s.fixedBlockSize())
		if target < first+uint64(ref.header.BlockSize) || ref.off+ref.size >= s.end {
			s.pos = ref.off
			s.nextSample = first
			return nil
		}
		off = ref.off + ref.size
	}
}
