// Package pipeline composes an input handler, a demuxer and a codec into a
// playback session that yields PCM frames for the first audio stream.
package pipeline

import (
	"fmt"
	"sync"

	"github.com/tphakala/mediacore/internal/codec"
	"github.com/tphakala/mediacore/internal/demux"
	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/logger"
	"github.com/tphakala/mediacore/internal/media"
	"github.com/tphakala/mediacore/internal/observability/metrics"
)

// GetLogger returns the pipeline logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("pipeline")
}

// Deps are the collaborators a session is built from.
type Deps struct {
	Registry *demux.Registry
	Codecs   *codec.Factory
	Recorder metrics.DecodeRecorder
}

// maxEmptyDecodes bounds consecutive chunks that decode to nothing before
// NextFrame gives up on the stream.
const maxEmptyDecodes = 4096

// Session decodes one stream. All methods are safe for concurrent use.
type Session struct {
	mu sync.Mutex

	path    string
	h       media.IOHandler
	demuxer media.Demuxer
	codec   media.AudioCodec
	info    media.StreamInfo
	rec     metrics.DecodeRecorder
	flushed bool
	closed  bool
	frames  uint64
}

// Open opens path and prepares its first audio stream for decoding.
func Open(path string, deps Deps) (*Session, error) {
	h, err := media.OpenFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	s, err := OpenHandler(h, path, deps)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	return s, nil
}

// OpenHandler builds a session over h. path is used only for extension
// based format detection and may be empty. The session takes ownership of
// h and closes it on Close.
func OpenHandler(h media.IOHandler, path string, deps Deps) (*Session, error) {
	if deps.Registry == nil {
		deps.Registry = demux.NewDefaultRegistry(demux.Options{})
	}
	if deps.Codecs == nil {
		deps.Codecs = codec.NewDefaultFactory(codec.Options{})
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.NopRecorder{}
	}

	d := deps.Registry.CreateDemuxer(h, path)
	if d == nil {
		return nil, errors.New(fmt.Errorf("%w: no demuxer accepted the stream", media.ErrUnsupported)).
			Component("pipeline").
			Category(errors.CategoryUnsupported).
			Context("path", path).
			Build()
	}
	info, ok := media.FirstAudioStream(d)
	if !ok {
		_ = d.Close()
		return nil, errors.New(fmt.Errorf("%w: no audio stream", media.ErrUnsupported)).
			Component("pipeline").
			Category(errors.CategoryUnsupported).
			Context("path", path).
			Build()
	}
	c, err := deps.Codecs.Create(info)
	if err != nil {
		_ = d.Close()
		return nil, err
	}

	GetLogger().Info("session opened",
		logger.String("path", path),
		logger.String("codec", c.Name()),
		logger.Uint32("sample_rate", info.SampleRate),
		logger.Int("channels", int(info.Channels)),
		logger.Uint64("duration_ms", d.Duration()))
	return &Session{
		path:    path,
		h:       h,
		demuxer: d,
		codec:   c,
		info:    info,
		rec:     deps.Recorder,
	}, nil
}

// Info describes the stream being decoded.
func (s *Session) Info() media.StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Streams lists every stream the container holds.
func (s *Session) Streams() []media.StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.demuxer.Streams()
}

// CodecName reports the decoder in use.
func (s *Session) CodecName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codec.Name()
}

// Duration returns the stream duration in milliseconds.
func (s *Session) Duration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.demuxer.Duration()
}

// Position returns the demuxer position in milliseconds.
func (s *Session) Position() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.demuxer.Position()
}

// NextFrame returns the next non-empty frame. After the stream ends and
// the codec is flushed it returns media.ErrEndOfStream.
func (s *Session) NextFrame() (media.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return media.AudioFrame{}, errors.Newf("pipeline: session closed").
			Component("pipeline").
			Category(errors.CategoryState).
			Build()
	}

	for range maxEmptyDecodes {
		chunk, err := s.demuxer.ReadChunkFor(s.info.StreamID)
		if errors.Is(err, media.ErrEndOfStream) {
			return s.flush()
		}
		if err != nil {
			return media.AudioFrame{}, err
		}
		s.rec.RecordChunk(s.info.CodecName)

		frame, err := s.codec.Decode(chunk)
		if err != nil {
			return media.AudioFrame{}, err
		}
		if !frame.IsEmpty() {
			s.frames++
			return frame, nil
		}
	}
	return media.AudioFrame{}, errors.New(fmt.Errorf("%w: %d consecutive chunks decoded to nothing", media.ErrInvalidMedia, maxEmptyDecodes)).
		Component("pipeline").
		Category(errors.CategoryCodec).
		Context("codec", s.codec.Name()).
		Build()
}

func (s *Session) flush() (media.AudioFrame, error) {
	if s.flushed {
		return media.AudioFrame{}, media.ErrEndOfStream
	}
	s.flushed = true
	frame, err := s.codec.Flush()
	if err != nil {
		return media.AudioFrame{}, err
	}
	if frame.IsEmpty() {
		return media.AudioFrame{}, media.ErrEndOfStream
	}
	s.frames++
	return frame, nil
}

// SeekTo moves to ms and resets the codec. On error the position is
// unchanged.
func (s *Session) SeekTo(ms uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Newf("pipeline: session closed").
			Component("pipeline").
			Category(errors.CategoryState).
			Build()
	}
	if err := s.demuxer.SeekTo(ms); err != nil {
		return err
	}
	s.codec.Reset()
	s.flushed = false
	return nil
}

// Frames returns the number of frames delivered.
func (s *Session) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Close releases the demuxer and the input. It is safe to call twice.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.demuxer.Close(), s.h.Close())
}
