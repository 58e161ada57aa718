// Package alac decodes Apple Lossless frames from MP4 with
// github.com/llehouerou/alac, configured from the sample entry's magic
// cookie.
package alac

import (
	"fmt"
	"sync"
	"time"

	libalac "github.com/llehouerou/alac"

	"github.com/tphakala/mediacore/internal/codec/base"
	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/logger"
	"github.com/tphakala/mediacore/internal/media"
	"github.com/tphakala/mediacore/internal/observability/metrics"
)

const codecName = media.CodecALAC

// GetLogger returns the alac codec logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("alac")
}

// frameDecoder returns little-endian interleaved PCM at the configured depth.
type frameDecoder interface {
	Decode(frame []byte) []byte
}

func newLibDecoder(cfg libalac.Config) (frameDecoder, error) {
	d, err := libalac.NewWithConfig(cfg)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Options configure the decoder.
type Options struct {
	base.Options
	newDecoder func(libalac.Config) (frameDecoder, error)
}

// Stats counts decoded frames.
type Stats struct {
	Frames       uint64
	Samples      uint64 // per channel
	DecodeErrors uint64
}

// Codec decodes ALAC frames. All methods are safe for concurrent use.
type Codec struct {
	mu sync.Mutex

	opts   Options
	info   media.StreamInfo
	cookie Cookie
	dec    frameDecoder
	ready  bool
	stats  Stats
}

var _ media.AudioCodec = (*Codec)(nil)

// New returns a decoder for info. CodecPrivate must hold the magic cookie.
func New(info media.StreamInfo, opts Options) *Codec {
	opts.Options = opts.Options.WithDefaults()
	if opts.newDecoder == nil {
		opts.newDecoder = newLibDecoder
	}
	return &Codec{opts: opts, info: info}
}

func codecErr(err error, category errors.ErrorCategory) error {
	return errors.New(err).
		Component("alac").
		Category(category).
		Build()
}

func (c *Codec) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return nil
	}
	cookie, err := ParseCookie(c.info.CodecPrivate)
	if err != nil {
		return codecErr(err, errors.CategoryCodec)
	}
	dec, err := c.opts.newDecoder(c.config(cookie))
	if err != nil {
		return codecErr(fmt.Errorf("%w: %w", media.ErrUnsupported, err), errors.CategoryCodec)
	}
	c.cookie, c.dec, c.ready = cookie, dec, true
	GetLogger().Debug("decoder initialized",
		logger.Uint32("sample_rate", cookie.SampleRate),
		logger.Int("channels", int(cookie.Channels)),
		logger.Int("bit_depth", int(cookie.BitDepth)),
		logger.Uint32("frame_length", cookie.FrameLength))
	return nil
}

func (c *Codec) config(k Cookie) libalac.Config {
	return libalac.Config{
		SampleRate:  int(k.SampleRate),
		SampleSize:  int(k.BitDepth),
		NumChannels: int(k.Channels),
		FrameSize:   int(k.FrameLength),
	}
}

func (c *Codec) Decode(chunk media.MediaChunk) (media.AudioFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return media.AudioFrame{}, codecErr(errors.NewStd("alac: decode before initialize"), errors.CategoryState)
	}
	if chunk.IsEmpty() {
		return media.AudioFrame{}, nil
	}
	start := time.Now()
	pcm, err := c.decodeFrame(chunk.Data)
	if err != nil {
		c.stats.DecodeErrors++
		c.opts.Recorder.RecordDecodeError(codecName, metrics.ErrTypeBitstream)
		GetLogger().Debug("frame decode failed",
			logger.Uint64("offset", chunk.FileOffset),
			logger.Int("bytes", len(chunk.Data)),
			logger.Error(err))
		return media.AudioFrame{}, nil
	}
	f := media.AudioFrame{
		Samples:          toInt16(pcm, int(c.cookie.BitDepth)/8),
		SampleRate:       c.cookie.SampleRate,
		Channels:         uint16(c.cookie.Channels),
		TimestampSamples: chunk.TimestampSamples,
	}
	c.stats.Frames++
	c.stats.Samples += uint64(f.Len())
	c.opts.Recorder.RecordFrame(codecName, f.Len(), time.Since(start).Seconds())
	return f, nil
}

// decodeFrame runs the library decoder, turning a panic on a corrupt frame
// into an error.
func (c *Codec) decodeFrame(p []byte) (pcm []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: alac frame: %v", media.ErrInvalidMedia, r)
		}
	}()
	pcm = c.dec.Decode(p)
	width := int(c.cookie.BitDepth) / 8 * int(c.cookie.Channels)
	if len(pcm) == 0 || len(pcm)%width != 0 {
		return nil, fmt.Errorf("%w: alac frame decoded to %d bytes", media.ErrInvalidMedia, len(pcm))
	}
	if n := len(pcm) / width; n > int(c.cookie.FrameLength) {
		return nil, fmt.Errorf("%w: alac frame of %d samples, cookie allows %d", media.ErrInvalidMedia, n, c.cookie.FrameLength)
	}
	return pcm, nil
}

// toInt16 keeps the top 16 bits of each little-endian sample.
func toInt16(p []byte, width int) []int16 {
	out := make([]int16, len(p)/width)
	for i := range out {
		s := p[i*width : (i+1)*width]
		out[i] = int16(uint16(s[width-2]) | uint16(s[width-1])<<8)
	}
	return out
}

func (c *Codec) Flush() (media.AudioFrame, error) { return media.AudioFrame{}, nil }

// Reset is a no-op: every ALAC frame decodes independently.
func (c *Codec) Reset() {}

func (c *Codec) Name() string { return codecName }

func (c *Codec) CanDecode(info media.StreamInfo) bool {
	return info.IsAudio() && info.CodecName == media.CodecALAC
}

// Stats returns a snapshot of the counters.
func (c *Codec) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
