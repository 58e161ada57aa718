// Package flac is a native FLAC decoder. Frames are parsed, predicted and
// decorrelated at their native depth in int64 and converted to interleaved
// 16-bit PCM.
package flac

import (
	"fmt"
	"sync"
	"time"

	"github.com/tphakala/mediacore/internal/codec/base"
	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/logger"
	"github.com/tphakala/mediacore/internal/media"
	"github.com/tphakala/mediacore/internal/observability/metrics"
)

const codecName = media.CodecFLAC

// GetLogger returns the flac codec logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("flac")
}

// ErrMD5Mismatch is returned by Flush when the decoded audio does not match
// the STREAMINFO signature.
var ErrMD5Mismatch = errors.NewStd("flac: md5 signature mismatch")

// State is the decoder lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateDecoding
	StateFlushing
	StateError
	StateEndOfStream
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateDecoding:
		return "decoding"
	case StateFlushing:
		return "flushing"
	case StateError:
		return "error"
	case StateEndOfStream:
		return "end_of_stream"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Stats counts decoded frames and the problems met on the way.
type Stats struct {
	Frames           uint64
	Samples          uint64 // per channel
	HeaderCRCErrors  uint64
	FrameCRCErrors   uint64
	ReservedErrors   uint64
	BitstreamErrors  uint64
	SyncLost         uint64
	Resyncs          uint64
	SubsetViolations uint64
	DroppedFrames    uint64
	MD5Checked       bool
	MD5Match         bool
}

// Options configure the decoder.
type Options struct {
	base.Options
	Subset       SubsetMode
	VerifyMD5    bool
	MaxBlockSize uint32 // 0 means the format maximum
}

// Codec decodes FLAC frames. All methods are safe for concurrent use.
type Codec struct {
	mu sync.Mutex
	st decoderState
}

// decoderState holds the decoder. Its methods never lock.
type decoderState struct {
	opts   Options
	info   media.StreamInfo
	state  State
	stats  Stats
	err    error
	si     *StreamInfo
	parser *FrameParser
	subset SubsetValidator
	md5    *MD5Validator
	recon  SampleReconstructor
}

var _ media.AudioCodec = (*Codec)(nil)

// New returns a decoder for info. Initialize must be called before Decode.
func New(info media.StreamInfo, opts Options) *Codec {
	opts.Options = opts.Options.WithDefaults()
	return &Codec{st: decoderState{
		opts:   opts,
		info:   info,
		subset: SubsetValidator{Mode: opts.Subset},
	}}
}

func (c *Codec) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.initialize()
}

func (c *Codec) Decode(chunk media.MediaChunk) (media.AudioFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.decode(chunk)
}

// Flush ends the stream and checks the MD5 signature when enabled.
func (c *Codec) Flush() (media.AudioFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.flush()
}

// Reset prepares for data after a seek. The MD5 check is abandoned
// because samples were skipped.
func (c *Codec) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.reset()
}

func (c *Codec) Name() string { return codecName }

func (c *Codec) CanDecode(info media.StreamInfo) bool {
	return info.CodecName == media.CodecFLAC
}

// State returns the lifecycle state.
func (c *Codec) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.state
}

// Stats returns a snapshot of the counters.
func (c *Codec) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.stats
}

// StreamInfo returns the STREAMINFO in use, if one was supplied.
func (c *Codec) StreamInfo() (StreamInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.si == nil {
		return StreamInfo{}, false
	}
	return *c.st.si, true
}

func (s *decoderState) fail(err error) error {
	s.state = StateError
	s.err = err
	return err
}

func (s *decoderState) initialize() error {
	if s.state != StateUninitialized {
		return nil
	}
	if len(s.info.CodecPrivate) > 0 {
		body, ok := streamInfoFromPrivate(s.info.CodecPrivate)
		if !ok {
			return s.fail(errors.New(fmt.Errorf("%w: codec private data of %d bytes", media.ErrInvalidMedia, len(s.info.CodecPrivate))).
				Component("flac").
				Category(errors.CategoryCodec).
				Build())
		}
		si, err := ParseStreamInfo(body)
		if err != nil {
			return s.fail(errors.New(err).
				Component("flac").
				Category(errors.CategoryCodec).
				Build())
		}
		s.si = &si
	}
	s.parser = NewFrameParser(s.si, s.opts.MaxBlockSize)
	if s.opts.VerifyMD5 && s.si != nil {
		s.md5 = NewMD5Validator(s.si.MD5)
	}
	s.state = StateInitialized

	log := GetLogger()
	if s.si != nil {
		log.Debug("decoder initialized",
			logger.Uint32("sample_rate", s.si.SampleRate),
			logger.Int("channels", int(s.si.Channels)),
			logger.Int("bits_per_sample", int(s.si.BitsPerSample)),
			logger.Uint64("total_samples", s.si.TotalSamples),
			logger.String("subset", s.subset.Mode.String()),
			logger.Bool("verify_md5", s.md5 != nil && s.md5.Enabled()))
	} else {
		log.Debug("decoder initialized without STREAMINFO")
	}
	return nil
}

func (s *decoderState) fixedBlockSize() uint32 {
	if s.si == nil {
		return 0
	}
	return s.si.FixedBlockSize()
}

// recordFrameError counts a recoverable error.
func (s *decoderState) recordFrameError(err error) {
	switch {
	case errors.Is(err, ErrHeaderCRC):
		s.stats.HeaderCRCErrors++
	case errors.Is(err, ErrFrameCRC):
		s.stats.FrameCRCErrors++
	case errors.Is(err, ErrReserved):
		s.stats.ReservedErrors++
	case errors.Is(err, ErrSyncLost):
		s.stats.SyncLost++
	default:
		s.stats.BitstreamErrors++
	}
	s.stats.DroppedFrames++
	s.opts.Recorder.RecordDecodeError(codecName, errorType(err))
	if s.md5 != nil {
		s.md5.Invalidate()
	}
	GetLogger().Debug("frame dropped", logger.Error(err))
}

func (s *decoderState) decode(chunk media.MediaChunk) (media.AudioFrame, error) {
	switch s.state {
	case StateUninitialized:
		return media.AudioFrame{}, errors.Newf("flac: decode before initialize").
			Component("flac").
			Category(errors.CategoryState).
			Build()
	case StateError:
		return media.AudioFrame{}, s.err
	case StateEndOfStream:
		return media.AudioFrame{}, media.ErrEndOfStream
	}
	if chunk.IsEmpty() {
		return media.AudioFrame{}, nil
	}
	s.state = StateDecoding
	start := time.Now()

	data := chunk.Data
	out := media.AudioFrame{TimestampSamples: chunk.TimestampSamples}
	var samples []int16
	first := true
	pos := 0
	if !IsSync(data) {
		next := FindSync(data, 0)
		s.recordFrameError(frameError(ErrSyncLost, "chunk does not start with a frame"))
		if next < 0 {
			return media.AudioFrame{}, nil
		}
		s.stats.Resyncs++
		pos = next
	}

	for pos+2 <= len(data) {
		f, err := s.parser.Decode(data[pos:])
		if err != nil {
			if errors.Is(err, ErrBlockTooLarge) {
				// Fails this call only; the next chunk decodes normally.
				s.opts.Recorder.RecordDecodeError(codecName, metrics.ErrTypeOverflow)
				return media.AudioFrame{}, errors.New(err).
					Component("flac").
					Category(errors.CategoryLimit).
					Context("offset", chunk.FileOffset+uint64(pos)).
					Build()
			}
			if !recoverable(err) {
				return media.AudioFrame{}, s.fail(err)
			}
			s.recordFrameError(err)
			next := FindSync(data, pos+1)
			if next < 0 {
				break
			}
			s.stats.Resyncs++
			pos = next
			continue
		}
		h := f.Header

		if v := s.subset.Check(FrameShape{
			BlockSize:         h.BlockSize,
			SampleRate:        h.SampleRate,
			MaxLPCOrder:       f.MaxLPCOrder,
			MaxPartitionOrder: f.MaxPartitionOrder,
		}); len(v) > 0 {
			s.stats.SubsetViolations++
			s.opts.Recorder.RecordDecodeError(codecName, metrics.ErrTypeSubset)
			if s.subset.Rejects(v) {
				s.recordFrameError(frameError(ErrSubset, "%v", v))
				pos += f.Size
				continue
			}
		}

		if first {
			out.SampleRate = h.SampleRate
			out.Channels = uint16(h.Channels)
			out.TimestampSamples = h.FirstSample(s.fixedBlockSize())
			first = false
		} else if h.SampleRate != out.SampleRate || uint16(h.Channels) != out.Channels {
			GetLogger().Warn("format change inside chunk, remainder dropped",
				logger.Uint32("sample_rate", h.SampleRate),
				logger.Int("channels", h.Channels))
			break
		}

		if s.md5 != nil {
			s.md5.Update(f.Channels, int(h.BlockSize), h.BitsPerSample)
		}
		samples = s.recon.Interleave(samples, f.Channels, int(h.BlockSize), h.BitsPerSample)
		s.stats.Frames++
		s.stats.Samples += uint64(h.BlockSize)
		pos += f.Size
	}

	if len(samples) == 0 {
		return media.AudioFrame{}, nil
	}
	out.Samples = samples
	s.opts.Recorder.RecordFrame(codecName, out.Len(), time.Since(start).Seconds())
	return out, nil
}

func (s *decoderState) flush() (media.AudioFrame, error) {
	switch s.state {
	case StateUninitialized:
		return media.AudioFrame{}, nil
	case StateError:
		return media.AudioFrame{}, s.err
	}
	s.state = StateFlushing
	defer func() {
		if s.state == StateFlushing {
			s.state = StateEndOfStream
		}
	}()
	if s.md5 == nil {
		return media.AudioFrame{}, nil
	}
	ok, checked := s.md5.Verify()
	s.stats.MD5Checked = checked
	s.stats.MD5Match = ok && checked
	if checked && !ok {
		GetLogger().Warn("md5 signature mismatch", logger.Uint64("frames", s.stats.Frames))
		return media.AudioFrame{}, errors.New(ErrMD5Mismatch).
			Component("flac").
			Category(errors.CategoryCorruption).
			Context("frames", s.stats.Frames).
			Build()
	}
	return media.AudioFrame{}, nil
}

func (s *decoderState) reset() {
	if s.state == StateUninitialized || s.state == StateError {
		return
	}
	s.state = StateDecoding
	if s.md5 != nil {
		s.md5.Invalidate()
	}
}
