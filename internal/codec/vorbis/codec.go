// Package vorbis adapts github.com/jfreymuth/vorbis to the codec
// interface. Header packets come from CodecPrivate or from the first
// chunks; decoded PCM passes through a bounded accumulator.
package vorbis

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/jfreymuth/vorbis"
	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/mediacore/internal/codec/base"
	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/logger"
	"github.com/tphakala/mediacore/internal/media"
	"github.com/tphakala/mediacore/internal/observability/metrics"
	"github.com/tphakala/mediacore/internal/xiph"
)

const codecName = media.CodecVorbis

// DefaultAccumulatorBytes holds two seconds of 48 kHz stereo 16-bit PCM.
const DefaultAccumulatorBytes = 2 * 48000 * 2 * 2

// GetLogger returns the vorbis codec logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("vorbis")
}

// packetDecoder is the part of vorbis.Decoder the codec drives.
type packetDecoder interface {
	ReadHeader(p []byte) error
	HeadersRead() bool
	Decode(p []byte) ([]float32, error)
	Clear()
}

// Options configure the decoder.
type Options struct {
	base.Options
	// AccumulatorBytes caps buffered output. Zero selects the default.
	AccumulatorBytes int
	newDecoder       func() packetDecoder
}

// Stats counts decoded packets and dropped output.
type Stats struct {
	Packets        uint64
	HeaderPackets  uint64
	Samples        uint64 // per channel
	DecodeErrors   uint64
	DroppedSamples uint64 // per channel, lost to the accumulator cap
}

// Codec decodes Vorbis packets. All methods are safe for concurrent use.
type Codec struct {
	mu sync.Mutex

	opts     Options
	info     media.StreamInfo
	dec      packetDecoder
	acc      *ringbuffer.RingBuffer
	ident    xiph.VorbisIdent
	headers  int
	ready    bool
	channels int
	stats    Stats
}

var _ media.AudioCodec = (*Codec)(nil)

// New returns a decoder for info.
func New(info media.StreamInfo, opts Options) *Codec {
	opts.Options = opts.Options.WithDefaults()
	if opts.AccumulatorBytes <= 0 {
		opts.AccumulatorBytes = DefaultAccumulatorBytes
	}
	if opts.newDecoder == nil {
		opts.newDecoder = func() packetDecoder { return &vorbis.Decoder{} }
	}
	return &Codec{opts: opts, info: info}
}

func codecErr(err error, category errors.ErrorCategory) error {
	return errors.New(err).
		Component("vorbis").
		Category(category).
		Build()
}

func (c *Codec) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return nil
	}
	c.dec = c.opts.newDecoder()
	c.acc = ringbuffer.New(c.opts.AccumulatorBytes)
	c.ready = true
	if len(c.info.CodecPrivate) == 0 {
		return nil
	}
	headers, err := xiph.UnpackHeaders(c.info.CodecPrivate)
	if err != nil {
		return codecErr(err, errors.CategoryCodec)
	}
	for _, h := range headers {
		if err := c.readHeader(h); err != nil {
			return err
		}
	}
	return nil
}

// readHeader feeds one header packet.
func (c *Codec) readHeader(p []byte) error {
	if c.headers == 0 {
		id, err := xiph.ParseVorbisIdent(p)
		if err != nil {
			return codecErr(err, errors.CategoryCodec)
		}
		c.ident = id
		c.channels = int(id.Channels)
	}
	if err := c.dec.ReadHeader(p); err != nil {
		return codecErr(fmt.Errorf("%w: header %d: %w", media.ErrInvalidMedia, c.headers, err), errors.CategoryCodec)
	}
	c.headers++
	c.stats.HeaderPackets++
	if c.dec.HeadersRead() {
		GetLogger().Debug("decoder initialized",
			logger.Uint32("sample_rate", c.ident.SampleRate),
			logger.Int("channels", c.channels),
			logger.Int("block_short", c.ident.BlockSize0),
			logger.Int("block_long", c.ident.BlockSize1))
	}
	return nil
}

// isHeaderPacket reports whether p is one of the three header packets.
// Audio packets have the low bit of the first byte clear.
func isHeaderPacket(p []byte) bool {
	return xiph.IsVorbisHeader(p, xiph.VorbisIdentification) ||
		xiph.IsVorbisHeader(p, xiph.VorbisComments) ||
		xiph.IsVorbisHeader(p, xiph.VorbisSetup)
}

func (c *Codec) Decode(chunk media.MediaChunk) (media.AudioFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return media.AudioFrame{}, codecErr(errors.NewStd("vorbis: decode before initialize"), errors.CategoryState)
	}
	if chunk.IsEmpty() {
		return media.AudioFrame{}, nil
	}
	if isHeaderPacket(chunk.Data) {
		if c.dec.HeadersRead() {
			// already configured from CodecPrivate
			return media.AudioFrame{}, nil
		}
		return media.AudioFrame{}, c.readHeader(chunk.Data)
	}
	if !c.dec.HeadersRead() {
		return media.AudioFrame{}, codecErr(fmt.Errorf("%w: audio packet before headers", media.ErrInvalidMedia), errors.CategoryState)
	}

	start := time.Now()
	samples, err := c.dec.Decode(chunk.Data)
	c.stats.Packets++
	if err != nil {
		c.stats.DecodeErrors++
		c.opts.Recorder.RecordDecodeError(codecName, metrics.ErrTypeBitstream)
		GetLogger().Debug("packet decode failed",
			logger.Uint64("timestamp", chunk.TimestampSamples),
			logger.Error(err))
		return media.AudioFrame{}, nil
	}
	c.accumulate(samples)
	frame := c.drain(chunk.TimestampSamples)
	if !frame.IsEmpty() {
		c.stats.Samples += uint64(frame.Len())
		c.opts.Recorder.RecordFrame(codecName, frame.Len(), time.Since(start).Seconds())
	}
	return frame, nil
}

// accumulate converts samples and stores what fits in the accumulator.
func (c *Codec) accumulate(samples []float32) {
	if len(samples) == 0 {
		return
	}
	frameBytes := 2 * max(c.channels, 1)
	fit := min(len(samples)*2, c.acc.Free()/frameBytes*frameBytes)
	if dropped := len(samples)*2 - fit; dropped > 0 {
		c.stats.DroppedSamples += uint64(dropped / frameBytes)
		c.opts.Recorder.RecordDecodeError(codecName, metrics.ErrTypeOverflow)
		GetLogger().Warn("output accumulator full, dropping samples",
			logger.Int("dropped", dropped/frameBytes),
			logger.Int("capacity_bytes", c.acc.Capacity()))
	}
	if fit == 0 {
		return
	}
	pcm := c.opts.Scratch(fit, codecName)
	defer c.opts.Alloc.Free(pcm, codecName)
	for i, s := range samples[:fit/2] {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(base.FloatToInt16(s)))
	}
	if _, err := c.acc.Write(pcm); err != nil {
		GetLogger().Warn("accumulator write failed", logger.Error(err))
	}
}

// drain moves all accumulated samples into a frame.
func (c *Codec) drain(ts uint64) media.AudioFrame {
	n := c.acc.Length()
	if n == 0 {
		return media.AudioFrame{}
	}
	buf := c.opts.Scratch(n, codecName)
	defer c.opts.Alloc.Free(buf, codecName)
	got, err := c.acc.Read(buf)
	if err != nil {
		return media.AudioFrame{}
	}
	out := make([]int16, got/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	return media.AudioFrame{
		Samples:          out,
		SampleRate:       c.ident.SampleRate,
		Channels:         uint16(c.channels),
		TimestampSamples: ts,
	}
}

func (c *Codec) Flush() (media.AudioFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return media.AudioFrame{}, nil
	}
	return c.drain(0), nil
}

// Reset drops decoder overlap and buffered output. Headers are kept.
func (c *Codec) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return
	}
	c.dec.Clear()
	c.acc.Reset()
}

func (c *Codec) Name() string { return codecName }

func (c *Codec) CanDecode(info media.StreamInfo) bool {
	return info.IsAudio() && info.CodecName == media.CodecVorbis
}

// Stats returns a snapshot of the counters.
func (c *Codec) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
