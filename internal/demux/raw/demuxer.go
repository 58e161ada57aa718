package raw

import (
	"io"
	"sync"

	"github.com/tphakala/mediacore/internal/demux/base"
	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/logger"
	"github.com/tphakala/mediacore/internal/media"
)

const formatName = "raw"

// Options configure the demuxer.
type Options struct {
	base.Options
	// Format overrides the layout implied by the path. It is ignored for
	// .au files.
	Format *Format
}

// Demuxer streams a single raw track in fixed-duration chunks. All methods
// are safe for concurrent use.
type Demuxer struct {
	mu sync.Mutex
	st demuxState
}

type demuxState struct {
	h    media.IOHandler
	path string
	opts Options

	parsed    bool
	format    Format
	info      media.StreamInfo
	dataStart int64
	dataEnd   int64
	pos       int64
}

// New returns a demuxer over h. path selects the layout by extension.
func New(h media.IOHandler, path string, opts Options) *Demuxer {
	opts.Options = opts.Options.WithDefaults()
	return &Demuxer{st: demuxState{h: h, path: path, opts: opts}}
}

// Open builds and parses a demuxer.
func Open(h media.IOHandler, path string, opts Options) (*Demuxer, error) {
	d := New(h, path, opts)
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
	return !d.st.parsed || d.st.dataEnd-d.st.pos < int64(d.st.format.BytesPerFrame())
}

func (d *Demuxer) Duration() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.info.DurationMs
}

func (d *Demuxer) Position() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.info.SamplesToMs(d.st.frameAt(d.st.pos))
}

// Close is a no-op; the IOHandler belongs to the caller.
func (d *Demuxer) Close() error { return nil }

// Format returns the resolved sample layout.
func (d *Demuxer) Format() Format {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.format
}

func (s *demuxState) parse() error {
	if s.parsed {
		return nil
	}
	if s.h == nil {
		return media.ErrIO
	}
	size := s.h.Size()
	var hdr [auHeaderSize]byte
	n, _ := media.ReadAt(s.h, 0, hdr[:])

	f, start, end := Format{}, int64(0), size
	switch {
	case IsAU(hdr[:n]) || isAUPath(s.path):
		au, err := parseAUHeader(hdr[:n])
		if err != nil {
			return err
		}
		if f, err = au.format(); err != nil {
			return err
		}
		start = int64(au.DataOffset)
		if au.DataSize != auSizeUnset && start+int64(au.DataSize) < end {
			end = start + int64(au.DataSize)
		}
	case s.opts.Format != nil:
		f = *s.opts.Format
	default:
		var ok bool
		if f, ok = FormatForPath(s.path); !ok {
			return errors.New(media.ErrWrongFormat).
				Component("raw").
				Category(errors.CategoryUnsupported).
				FileContext(s.path, size).
				Build()
		}
	}
	if !f.valid() {
		return errors.New(media.ErrInvalidMedia).
			Component("raw").
			Category(errors.CategoryValidation).
			Context("format", f).
			Build()
	}
	if start > end {
		return errors.New(media.ErrInvalidMedia).
			Component("raw").
			Category(errors.CategoryContainer).
			Context("data_offset", start).
			Build()
	}

	bpf := int64(f.BytesPerFrame())
	end = start + (end-start)/bpf*bpf
	frames := uint64((end - start) / bpf)

	s.format = f
	s.dataStart, s.dataEnd, s.pos = start, end, start
	s.info = media.StreamInfo{
		StreamID:        0,
		CodecType:       "audio",
		CodecName:       f.Codec,
		SampleRate:      f.SampleRate,
		Channels:        f.Channels,
		BitsPerSample:   f.BitsPerSample,
		Bitrate:         f.SampleRate * uint32(f.BytesPerFrame()) * 8,
		DurationSamples: frames,
		SampleFormat:    f.SampleFormat,
		ByteOrder:       f.ByteOrder,
	}
	s.info.DurationMs = s.info.SamplesToMs(frames)
	s.parsed = true

	GetLogger().Debug("raw stream",
		logger.String("codec", f.Codec),
		logger.Int("rate", int(f.SampleRate)),
		logger.Int("channels", int(f.Channels)),
		logger.Uint64("frames", frames))
	return nil
}

func (s *demuxState) frameAt(pos int64) uint64 {
	bpf := int64(s.format.BytesPerFrame())
	if bpf == 0 || pos <= s.dataStart {
		return 0
	}
	return uint64((pos - s.dataStart) / bpf)
}

func (s *demuxState) readChunk() (media.MediaChunk, error) {
	if !s.parsed {
		return media.MediaChunk{}, media.ErrNotParsed
	}
	bpf := int64(s.format.BytesPerFrame())
	n := min(int64(s.format.ChunkFrames())*bpf, s.dataEnd-s.pos)
	n = n / bpf * bpf
	if n <= 0 {
		return media.MediaChunk{StreamID: s.info.StreamID}, media.ErrEndOfStream
	}
	if _, err := s.h.Seek(s.pos, io.SeekStart); err != nil {
		return media.MediaChunk{}, err
	}
	data := make([]byte, n)
	got, err := io.ReadFull(s.h, data)
	got = got / int(bpf) * int(bpf)
	if got == 0 {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return media.MediaChunk{}, errors.New(err).
			Component("raw").
			Category(errors.CategoryFileIO).
			StreamContext(s.format.Codec, s.pos).
			Build()
	}
	chunk := media.MediaChunk{
		StreamID:         s.info.StreamID,
		Data:             data[:got],
		FileOffset:       uint64(s.pos),
		TimestampSamples: s.frameAt(s.pos),
		Keyframe:         true,
	}
	s.pos += int64(got)
	if int64(got) < n {
		// truncated file: the remaining bytes are gone
		s.dataEnd = s.pos
	}
	s.opts.Recorder.RecordChunk(formatName)
	return chunk, nil
}

func (s *demuxState) seekTo(ms uint64) error {
	if !s.parsed {
		return media.ErrNotParsed
	}
	if ms > s.info.DurationMs {
		return errors.Newf("seek to %d ms beyond duration %d ms", ms, s.info.DurationMs).
			Component("raw").
			Category(errors.CategoryValidation).
			Build()
	}
	frame := ms * uint64(s.format.SampleRate) / 1000
	frame = min(frame, s.info.DurationSamples)
	s.pos = s.dataStart + int64(frame)*int64(s.format.BytesPerFrame())
	return nil
}
