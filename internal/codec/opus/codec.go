// Package opus decodes Opus with libopus through gopkg.in/hraban/opus.v2.
// Mapping families 0, 1 and 255 are supported: a multistream packet is split
// into its elementary streams, each decoded by its own libopus decoder, and
// the decoded channels are routed through the OpusHead mapping table.
package opus

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	libopus "gopkg.in/hraban/opus.v2"

	"github.com/tphakala/mediacore/internal/codec/base"
	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/logger"
	"github.com/tphakala/mediacore/internal/media"
	"github.com/tphakala/mediacore/internal/observability/metrics"
	"github.com/tphakala/mediacore/internal/xiph"
)

const codecName = media.CodecOpus

// Queue ceilings used when Options leave them unset.
const (
	DefaultMaxQueuedFrames  = 64
	DefaultMaxQueuedSamples = 48000 * 2 * 2
)

// maxPacketSamples is 120 ms at 48 kHz, the longest Opus packet.
const maxPacketSamples = 5760

// GetLogger returns the opus codec logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("opus")
}

// streamDecoder decodes one elementary stream.
type streamDecoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

func newLibopusDecoder(rate, channels int) (streamDecoder, error) {
	d, err := libopus.NewDecoder(rate, channels)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Options configure the decoder.
type Options struct {
	base.Options
	MaxQueuedFrames  int
	MaxQueuedSamples int // interleaved
	newDecoder       func(rate, channels int) (streamDecoder, error)
}

// Stats counts decoded packets and discarded output.
type Stats struct {
	Packets      uint64
	Samples      uint64 // per channel, delivered
	DecodeErrors uint64
	PreSkipped   uint64 // per channel
	Overflows    uint64 // queue drops
}

// Codec decodes Opus packets. All methods are safe for concurrent use.
type Codec struct {
	mu sync.Mutex

	opts     Options
	info     media.StreamInfo
	head     xiph.OpusHead
	haveHead bool
	ready    bool
	decoders []streamDecoder
	scratch  [][]int16 // per elementary stream
	mixed    []int16   // interleaved output, reused per packet
	skip     int       // pre-skip samples still to discard
	gain     float64
	queue    frameQueue
	stats    Stats
}

var _ media.AudioCodec = (*Codec)(nil)

// New returns a decoder for info. CodecPrivate, when set, must hold an
// OpusHead packet.
func New(info media.StreamInfo, opts Options) *Codec {
	opts.Options = opts.Options.WithDefaults()
	if opts.MaxQueuedFrames <= 0 {
		opts.MaxQueuedFrames = DefaultMaxQueuedFrames
	}
	if opts.MaxQueuedSamples <= 0 {
		opts.MaxQueuedSamples = DefaultMaxQueuedSamples
	}
	if opts.newDecoder == nil {
		opts.newDecoder = newLibopusDecoder
	}
	return &Codec{opts: opts, info: info, gain: 1}
}

func codecErr(err error, category errors.ErrorCategory) error {
	return errors.New(err).
		Component("opus").
		Category(category).
		Build()
}

func (c *Codec) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return nil
	}
	c.queue = newFrameQueue(c.opts.Options, c.opts.MaxQueuedFrames, c.opts.MaxQueuedSamples)
	c.ready = true
	if len(c.info.CodecPrivate) == 0 {
		return nil
	}
	return c.configure(c.info.CodecPrivate)
}

// configure applies an OpusHead packet and builds the stream decoders.
func (c *Codec) configure(p []byte) error {
	head, err := xiph.ParseOpusHead(p)
	if err != nil {
		return codecErr(err, errors.CategoryCodec)
	}
	c.head = head
	if err := c.createDecoders(); err != nil {
		return err
	}
	c.haveHead = true
	c.skip = int(head.PreSkip)
	c.gain = 1
	if head.OutputGain != 0 {
		c.gain = head.GainScale()
	}
	GetLogger().Debug("decoder initialized",
		logger.Int("channels", int(head.Channels)),
		logger.Int("mapping_family", int(head.MappingFamily)),
		logger.Int("streams", int(head.Streams)),
		logger.Int("coupled", int(head.Coupled)),
		logger.Int("pre_skip", int(head.PreSkip)),
		logger.Int("gain_q8", int(head.OutputGain)))
	return nil
}

func (c *Codec) createDecoders() error {
	c.decoders = make([]streamDecoder, c.head.Streams)
	c.scratch = make([][]int16, c.head.Streams)
	for s := range c.decoders {
		width := c.streamWidth(s)
		d, err := c.opts.newDecoder(xiph.OpusRate, width)
		if err != nil {
			return codecErr(fmt.Errorf("%w: stream %d decoder: %w", media.ErrUnsupported, s, err), errors.CategoryCodec)
		}
		c.decoders[s] = d
		c.scratch[s] = make([]int16, maxPacketSamples*width)
	}
	return nil
}

// streamWidth is 2 for coupled streams, which come first.
func (c *Codec) streamWidth(s int) int {
	if s < int(c.head.Coupled) {
		return 2
	}
	return 1
}

// locate maps a decoded channel index to its stream, the channel within
// that stream and the stream width.
func (c *Codec) locate(decoded int) (stream, ch, width int) {
	coupled := int(c.head.Coupled)
	if decoded < 2*coupled {
		return decoded / 2, decoded % 2, 2
	}
	return coupled + decoded - 2*coupled, 0, 1
}

func (c *Codec) Decode(chunk media.MediaChunk) (media.AudioFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return media.AudioFrame{}, codecErr(errors.NewStd("opus: decode before initialize"), errors.CategoryState)
	}
	if chunk.IsEmpty() {
		return media.AudioFrame{}, nil
	}
	switch {
	case xiph.IsOpusHead(chunk.Data):
		if c.haveHead {
			return media.AudioFrame{}, nil
		}
		return media.AudioFrame{}, c.configure(chunk.Data)
	case xiph.IsOpusTags(chunk.Data):
		return media.AudioFrame{}, nil
	case !c.haveHead:
		return media.AudioFrame{}, codecErr(fmt.Errorf("%w: audio packet before OpusHead", media.ErrInvalidMedia), errors.CategoryState)
	}

	start := time.Now()
	c.stats.Packets++
	pcm, err := c.decodePacket(chunk.Data)
	if err != nil {
		c.stats.DecodeErrors++
		c.opts.Recorder.RecordDecodeError(codecName, metrics.ErrTypeBitstream)
		GetLogger().Debug("packet decode failed",
			logger.Uint64("timestamp", chunk.TimestampSamples),
			logger.Int("bytes", len(chunk.Data)),
			logger.Error(err))
		return media.AudioFrame{}, nil
	}

	channels := int(c.head.Channels)
	if c.skip > 0 {
		k := min(c.skip, len(pcm)/channels)
		pcm = pcm[k*channels:]
		c.skip -= k
		c.stats.PreSkipped += uint64(k)
	}
	if c.gain != 1 {
		for i, s := range pcm {
			pcm[i] = base.ClampInt16(int64(math.Round(float64(s) * c.gain)))
		}
	}

	dropped := c.enqueue(pcm, xiph.OpusFrameSamples(chunk.Data[0])*channels)
	frame := c.drain(chunk.TimestampSamples + uint64(dropped/channels))
	if !frame.IsEmpty() {
		c.stats.Samples += uint64(frame.Len())
		c.opts.Recorder.RecordFrame(codecName, frame.Len(), time.Since(start).Seconds())
	}
	return frame, nil
}

// decodePacket decodes every elementary stream of pkt and interleaves the
// output channels per the mapping table. The result aliases c.mixed and is
// valid until the next call.
func (c *Codec) decodePacket(pkt []byte) ([]int16, error) {
	rest := pkt
	n := -1
	for s, d := range c.decoders {
		sub := rest
		if s < len(c.decoders)-1 {
			var err error
			if sub, rest, err = splitSelfDelimited(rest); err != nil {
				return nil, fmt.Errorf("stream %d: %w", s, err)
			}
		}
		got, err := d.Decode(sub, c.scratch[s])
		if err != nil {
			return nil, fmt.Errorf("stream %d: %w", s, err)
		}
		if n >= 0 && got != n {
			return nil, fmt.Errorf("%w: stream %d decoded %d samples, stream 0 %d", media.ErrInvalidMedia, s, got, n)
		}
		n = got
	}

	channels := int(c.head.Channels)
	out := slices.Grow(c.mixed[:0], n*channels)[:n*channels]
	clear(out)
	c.mixed = out
	for i, m := range c.head.Mapping {
		if m == xiph.SilentChannel {
			continue
		}
		s, ch, width := c.locate(int(m))
		src := c.scratch[s]
		for j := range n {
			out[j*channels+i] = src[j*width+ch]
		}
	}
	return out, nil
}

// enqueue splits pcm into Opus frames of frameLen interleaved samples and
// queues them. It returns the interleaved samples lost to the ceilings.
func (c *Codec) enqueue(pcm []int16, frameLen int) int {
	if frameLen <= 0 {
		frameLen = len(pcm)
	}
	dropped := 0
	for len(pcm) > 0 {
		k := min(frameLen, len(pcm))
		dropped += c.queue.push(pcm[:k:k])
		pcm = pcm[k:]
	}
	if dropped > 0 {
		c.stats.Overflows++
		c.opts.Recorder.RecordDecodeError(codecName, metrics.ErrTypeOverflow)
		GetLogger().Warn("output queue full, dropping samples",
			logger.Int("dropped", dropped/int(c.head.Channels)),
			logger.Int("max_frames", c.opts.MaxQueuedFrames),
			logger.Int("max_samples", c.opts.MaxQueuedSamples))
	}
	return dropped
}

func (c *Codec) drain(ts uint64) media.AudioFrame {
	samples := c.queue.drain()
	if len(samples) == 0 {
		return media.AudioFrame{}
	}
	return media.AudioFrame{
		Samples:          samples,
		SampleRate:       xiph.OpusRate,
		Channels:         uint16(c.head.Channels),
		TimestampSamples: ts,
	}
}

func (c *Codec) Flush() (media.AudioFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready || !c.haveHead {
		return media.AudioFrame{}, nil
	}
	return c.drain(0), nil
}

// Reset rebuilds the stream decoders and empties the queue. The header and
// the remaining pre-skip carry over.
func (c *Codec) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return
	}
	c.queue.reset()
	if !c.haveHead {
		return
	}
	if err := c.createDecoders(); err != nil {
		GetLogger().Warn("decoder reset failed", logger.Error(err))
		c.haveHead = false
	}
}

func (c *Codec) Name() string { return codecName }

func (c *Codec) CanDecode(info media.StreamInfo) bool {
	return info.IsAudio() && info.CodecName == media.CodecOpus
}

// Overflowed reports whether the queue dropped output since the last Reset.
func (c *Codec) Overflowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.overflow
}

// Stats returns a snapshot of the counters.
func (c *Codec) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
