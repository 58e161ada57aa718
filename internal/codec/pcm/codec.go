// Package pcm decodes linear PCM of any width, sign and byte order, IEEE
// float PCM, and G.711 A-law and μ-law to interleaved 16-bit samples.
package pcm

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/tphakala/mediacore/internal/codec/base"
	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/logger"
	"github.com/tphakala/mediacore/internal/media"
)

// GetLogger returns the pcm codec logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("pcm")
}

// maxChannels bounds the interleaved layouts accepted.
const maxChannels = 32

// Options configure the decoder.
type Options struct {
	base.Options
}

// Stats counts decoded data.
type Stats struct {
	Chunks  uint64
	Samples uint64 // per channel
	// CarriedBytes counts bytes held back because a chunk ended inside a
	// sample frame.
	CarriedBytes uint64
}

// Codec converts PCM chunks. All methods are safe for concurrent use.
type Codec struct {
	mu sync.Mutex

	opts    Options
	info    media.StreamInfo
	width   int // bytes per sample
	convert func(p []byte, out []int16)
	carry   []byte
	ready   bool
	stats   Stats
}

var _ media.AudioCodec = (*Codec)(nil)

// New returns a decoder for info.
func New(info media.StreamInfo, opts Options) *Codec {
	opts.Options = opts.Options.WithDefaults()
	return &Codec{opts: opts, info: info}
}

// Supports reports whether info describes a layout this package decodes.
func Supports(info media.StreamInfo) bool {
	if !info.IsAudio() || info.Channels > maxChannels {
		return false
	}
	switch info.CodecName {
	case media.CodecALaw, "pcm_alaw", "g711_alaw", media.CodecMuLaw, "pcm_mulaw", "g711_mulaw":
		return info.BitsPerSample == 0 || info.BitsPerSample == 8
	case media.CodecPCM:
		if info.SampleFormat == media.SampleFormatFloat {
			return info.BitsPerSample == 32 || info.BitsPerSample == 64
		}
		return info.BitsPerSample >= 1 && info.BitsPerSample <= 32
	}
	return false
}

func (c *Codec) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return nil
	}
	if !Supports(c.info) {
		return errors.New(fmt.Errorf("%w: %s with %d bits", media.ErrUnsupported, c.info.CodecName, c.info.BitsPerSample)).
			Component("pcm").
			Category(errors.CategoryCodec).
			Build()
	}
	if c.info.Channels == 0 {
		c.info.Channels = 1
	}
	c.width, c.convert = converter(c.info)
	c.ready = true
	GetLogger().Debug("decoder initialized",
		logger.String("codec", c.info.CodecName),
		logger.Uint32("sample_rate", c.info.SampleRate),
		logger.Int("channels", int(c.info.Channels)),
		logger.Int("bits_per_sample", int(c.info.BitsPerSample)))
	return nil
}

// converter picks the sample width and conversion for info.
func converter(info media.StreamInfo) (int, func([]byte, []int16)) {
	switch info.CodecName {
	case media.CodecALaw, "pcm_alaw", "g711_alaw":
		return 1, func(p []byte, out []int16) {
			for i, b := range p {
				out[i] = alawTable[b]
			}
		}
	case media.CodecMuLaw, "pcm_mulaw", "g711_mulaw":
		return 1, func(p []byte, out []int16) {
			for i, b := range p {
				out[i] = mulawTable[b]
			}
		}
	}

	var order binary.ByteOrder = binary.LittleEndian
	if info.ByteOrder == media.BigEndian {
		order = binary.BigEndian
	}
	if info.SampleFormat == media.SampleFormatFloat {
		if info.BitsPerSample == 64 {
			return 8, func(p []byte, out []int16) {
				for i := range out {
					out[i] = base.FloatToInt16(float32(math.Float64frombits(order.Uint64(p[i*8:]))))
				}
			}
		}
		return 4, func(p []byte, out []int16) {
			for i := range out {
				out[i] = base.FloatToInt16(math.Float32frombits(order.Uint32(p[i*4:])))
			}
		}
	}

	width := (int(info.BitsPerSample) + 7) / 8
	unsigned := info.SampleFormat == media.SampleFormatUint
	big := info.ByteOrder == media.BigEndian
	return width, func(p []byte, out []int16) {
		for i := range out {
			s := p[i*width : (i+1)*width]
			// assemble the sample left-justified in 32 bits
			var v uint32
			for j := range width {
				b := s[j]
				if !big {
					b = s[width-1-j]
				}
				v = v<<8 | uint32(b)
			}
			v <<= 32 - 8*uint(width)
			if unsigned {
				v ^= 0x80000000
			}
			out[i] = int16(int32(v) >> 16)
		}
	}
}

func (c *Codec) Decode(chunk media.MediaChunk) (media.AudioFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return media.AudioFrame{}, errors.Newf("pcm: decode before initialize").
			Component("pcm").
			Category(errors.CategoryState).
			Build()
	}
	if chunk.IsEmpty() {
		return media.AudioFrame{}, nil
	}
	start := time.Now()

	data := chunk.Data
	frameBytes := c.width * int(c.info.Channels)
	if len(c.carry) > 0 {
		data = append(c.carry, data...)
		c.carry = nil
	}
	whole := len(data) / frameBytes * frameBytes
	if rest := data[whole:]; len(rest) > 0 {
		c.carry = append([]byte(nil), rest...)
		c.stats.CarriedBytes += uint64(len(rest))
	}
	if whole == 0 {
		return media.AudioFrame{}, nil
	}

	out := make([]int16, whole/c.width)
	c.convert(data[:whole], out)
	frame := media.AudioFrame{
		Samples:          out,
		SampleRate:       c.info.SampleRate,
		Channels:         c.info.Channels,
		TimestampSamples: chunk.TimestampSamples,
	}
	c.stats.Chunks++
	c.stats.Samples += uint64(frame.Len())
	c.opts.Recorder.RecordFrame(c.Name(), frame.Len(), time.Since(start).Seconds())
	return frame, nil
}

// Flush drops any partial sample frame left over.
func (c *Codec) Flush() (media.AudioFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.carry) > 0 {
		GetLogger().Debug("dropping partial sample frame", logger.Int("bytes", len(c.carry)))
		c.carry = nil
	}
	return media.AudioFrame{}, nil
}

func (c *Codec) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.carry = nil
}

func (c *Codec) Name() string {
	switch c.info.CodecName {
	case "pcm_alaw", "g711_alaw":
		return media.CodecALaw
	case "pcm_mulaw", "g711_mulaw":
		return media.CodecMuLaw
	}
	return c.info.CodecName
}

func (c *Codec) CanDecode(info media.StreamInfo) bool { return Supports(info) }

// Stats returns a snapshot of the counters.
func (c *Codec) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
