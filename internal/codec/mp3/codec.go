// Package mp3 decodes MPEG-1/2/2.5 Layer III frames with
// github.com/hajimehoshi/go-mp3. The library decodes whole streams, so each
// chunk is decoded together with the frames before it to feed the bit
// reservoir, and only the output of the newest frame is kept.
package mp3

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	gomp3 "github.com/hajimehoshi/go-mp3"

	"github.com/tphakala/mediacore/internal/codec/base"
	"github.com/tphakala/mediacore/internal/demux/mpeg"
	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/logger"
	"github.com/tphakala/mediacore/internal/media"
	"github.com/tphakala/mediacore/internal/observability/metrics"
)

const codecName = media.CodecMP3

// DefaultLookBehind is the number of earlier frames decoded with each chunk.
const DefaultLookBehind = 1

// go-mp3 always produces 16-bit little-endian stereo.
const outputFrameBytes = 4

// GetLogger returns the mp3 codec logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("mp3")
}

// pcmSource is the part of the go-mp3 decoder the codec reads from.
type pcmSource interface {
	io.Reader
	SampleRate() int
}

func newGoMP3(r io.Reader) (pcmSource, error) {
	d, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Options configure the decoder.
type Options struct {
	base.Options
	// LookBehind frames are decoded ahead of each chunk. Zero selects the
	// default; negative disables look-behind.
	LookBehind int
	newDecoder func(r io.Reader) (pcmSource, error)
}

// Stats counts decoded frames.
type Stats struct {
	Frames       uint64
	Samples      uint64 // per channel
	DecodeErrors uint64
}

// Codec decodes MP3 frames. All methods are safe for concurrent use.
type Codec struct {
	mu sync.Mutex

	opts     Options
	info     media.StreamInfo
	history  [][]byte // previous frames, oldest first
	channels int
	ready    bool
	stats    Stats
}

var _ media.AudioCodec = (*Codec)(nil)

// New returns a decoder for info.
func New(info media.StreamInfo, opts Options) *Codec {
	opts.Options = opts.Options.WithDefaults()
	switch {
	case opts.LookBehind == 0:
		opts.LookBehind = DefaultLookBehind
	case opts.LookBehind < 0:
		opts.LookBehind = 0
	}
	if opts.newDecoder == nil {
		opts.newDecoder = newGoMP3
	}
	return &Codec{opts: opts, info: info}
}

func (c *Codec) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return nil
	}
	if c.info.Channels > 2 {
		return errors.New(fmt.Errorf("%w: mp3 with %d channels", media.ErrUnsupported, c.info.Channels)).
			Component("mp3").
			Category(errors.CategoryCodec).
			Build()
	}
	c.channels = int(c.info.Channels)
	c.ready = true
	return nil
}

func (c *Codec) Decode(chunk media.MediaChunk) (media.AudioFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return media.AudioFrame{}, errors.Newf("mp3: decode before initialize").
			Component("mp3").
			Category(errors.CategoryState).
			Build()
	}
	if chunk.IsEmpty() {
		return media.AudioFrame{}, nil
	}
	hdr, ok := mpeg.ParseHeader(chunk.Data)
	if !ok {
		c.recordError(metrics.ErrTypeSyncLost, chunk, fmt.Errorf("%w: no frame header", media.ErrInvalidMedia))
		return media.AudioFrame{}, nil
	}
	if c.channels == 0 {
		c.channels = int(hdr.Channels)
	}

	start := time.Now()
	frame := append([]byte(nil), chunk.Data...)
	defer c.remember(frame)

	input := c.assemble(frame)
	defer c.opts.Alloc.Free(input, codecName)
	src, err := c.opts.newDecoder(bytes.NewReader(input))
	if err != nil {
		c.recordError(metrics.ErrTypeBitstream, chunk, err)
		return media.AudioFrame{}, nil
	}
	pcm, err := io.ReadAll(src)
	if err != nil && len(pcm) == 0 {
		c.recordError(metrics.ErrTypeBitstream, chunk, err)
		return media.AudioFrame{}, nil
	}

	want := int(hdr.SamplesPerFrame()) * outputFrameBytes
	if len(pcm) < want {
		c.recordError(metrics.ErrTypeBitstream, chunk,
			fmt.Errorf("%w: decoded %d bytes, frame needs %d", media.ErrInvalidMedia, len(pcm), want))
		return media.AudioFrame{}, nil
	}
	out := c.convert(pcm[len(pcm)-want:])
	f := media.AudioFrame{
		Samples:          out,
		SampleRate:       uint32(src.SampleRate()),
		Channels:         uint16(c.channels),
		TimestampSamples: chunk.TimestampSamples,
	}
	c.stats.Frames++
	c.stats.Samples += uint64(f.Len())
	c.opts.Recorder.RecordFrame(codecName, f.Len(), time.Since(start).Seconds())
	return f, nil
}

// assemble concatenates the look-behind frames and frame into scratch
// memory from the allocator.
func (c *Codec) assemble(frame []byte) []byte {
	total := len(frame)
	for _, f := range c.history {
		total += len(f)
	}
	buf := c.opts.Scratch(total, codecName)
	n := 0
	for _, f := range c.history {
		n += copy(buf[n:], f)
	}
	copy(buf[n:], frame)
	return buf[:total]
}

// convert turns stereo LE bytes into int16 samples, keeping the left
// channel for mono streams.
func (c *Codec) convert(p []byte) []int16 {
	n := len(p) / outputFrameBytes
	if c.channels == 1 {
		out := make([]int16, n)
		for i := range out {
			out[i] = int16(binary.LittleEndian.Uint16(p[i*outputFrameBytes:]))
		}
		return out
	}
	out := make([]int16, 2*n)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(p[i*2:]))
	}
	return out
}

func (c *Codec) remember(frame []byte) {
	if c.opts.LookBehind == 0 {
		return
	}
	if len(c.history) == c.opts.LookBehind {
		copy(c.history, c.history[1:])
		c.history = c.history[:len(c.history)-1]
	}
	c.history = append(c.history, frame)
}

func (c *Codec) recordError(typ string, chunk media.MediaChunk, err error) {
	c.stats.DecodeErrors++
	c.opts.Recorder.RecordDecodeError(codecName, typ)
	GetLogger().Debug("frame decode failed",
		logger.Uint64("offset", chunk.FileOffset),
		logger.Error(err))
}

// Flush has nothing to emit; every frame is decoded when it arrives.
func (c *Codec) Flush() (media.AudioFrame, error) { return media.AudioFrame{}, nil }

// Reset forgets the look-behind frames.
func (c *Codec) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = c.history[:0]
}

func (c *Codec) Name() string { return codecName }

func (c *Codec) CanDecode(info media.StreamInfo) bool {
	return info.IsAudio() && info.CodecName == media.CodecMP3
}

// Stats returns a snapshot of the counters.
func (c *Codec) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
