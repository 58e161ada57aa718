package mp3

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/mediacore/internal/demux/mpeg"
	"github.com/tphakala/mediacore/internal/media"
)

// fakeSource emits one stereo frame per input frame: left is the byte after
// the header, right its negation.
type fakeSource struct {
	out  *bytes.Reader
	rate int
}

func (f *fakeSource) Read(p []byte) (int, error) { return f.out.Read(p) }
func (f *fakeSource) SampleRate() int            { return f.rate }

type fakeLib struct {
	inputs []int // bytes seen per decode
	short  bool
}

func (l *fakeLib) options(o Options) Options {
	o.newDecoder = func(r io.Reader) (pcmSource, error) {
		in, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		l.inputs = append(l.inputs, len(in))
		var pcm []byte
		rate := 0
		for len(in) > 0 {
			h, ok := mpeg.ParseHeader(in)
			if !ok || h.Size > len(in) {
				return nil, assert.AnError
			}
			rate = int(h.SampleRate)
			n := int(h.SamplesPerFrame())
			if l.short {
				n /= 2
			}
			v := int16(in[4])
			for range n {
				pcm = binary.LittleEndian.AppendUint16(pcm, uint16(v))
				pcm = binary.LittleEndian.AppendUint16(pcm, uint16(-v))
			}
			in = in[h.Size:]
		}
		return &fakeSource{out: bytes.NewReader(pcm), rate: rate}, nil
	}
	return o
}

// frame builds a 128 kbps 48 kHz MPEG-1 frame of 384 bytes.
func frame(marker byte, mono bool) []byte {
	f := make([]byte, 384)
	copy(f, []byte{0xFF, 0xFB, 0x94, 0x00})
	if mono {
		f[3] = 0xC0
	}
	f[4] = marker
	return f
}

func newTestCodec(t *testing.T, channels uint16, opts Options) (*Codec, *fakeLib) {
	t.Helper()
	lib := &fakeLib{}
	c := New(media.StreamInfo{CodecName: media.CodecMP3, Channels: channels}, lib.options(opts))
	require.NoError(t, c.Initialize())
	return c, lib
}

func TestStereoWithLookBehind(t *testing.T) {
	t.Parallel()
	c, lib := newTestCodec(t, 2, Options{})

	f, err := c.Decode(media.MediaChunk{Data: frame(1, false)})
	require.NoError(t, err)
	assert.Equal(t, 1152, f.Len())
	assert.Equal(t, uint32(48000), f.SampleRate)
	assert.Equal(t, []int16{1, -1}, f.Samples[:2])

	f, err = c.Decode(media.MediaChunk{Data: frame(2, false), TimestampSamples: 1152})
	require.NoError(t, err)
	assert.Equal(t, 1152, f.Len())
	assert.Equal(t, []int16{2, -2}, f.Samples[:2])
	assert.Equal(t, uint64(1152), f.TimestampSamples)

	_, err = c.Decode(media.MediaChunk{Data: frame(3, false)})
	require.NoError(t, err)
	assert.Equal(t, []int{384, 768, 768}, lib.inputs, "one frame of look-behind")

	c.Reset()
	_, err = c.Decode(media.MediaChunk{Data: frame(4, false)})
	require.NoError(t, err)
	assert.Equal(t, 384, lib.inputs[len(lib.inputs)-1])
	assert.Equal(t, uint64(4), c.Stats().Frames)
}

func TestMonoKeepsLeft(t *testing.T) {
	t.Parallel()
	c, _ := newTestCodec(t, 0, Options{LookBehind: -1})
	f, err := c.Decode(media.MediaChunk{Data: frame(9, true)})
	require.NoError(t, err)
	assert.Equal(t, uint16(1), f.Channels)
	assert.Len(t, f.Samples, 1152)
	assert.Equal(t, int16(9), f.Samples[0])
}

func TestDecodeProblemsAreRecoverable(t *testing.T) {
	t.Parallel()
	c, lib := newTestCodec(t, 2, Options{})

	f, err := c.Decode(media.MediaChunk{Data: []byte{0x00, 0x01, 0x02, 0x03}})
	require.NoError(t, err)
	assert.True(t, f.IsEmpty())

	lib.short = true
	f, err = c.Decode(media.MediaChunk{Data: frame(1, false)})
	require.NoError(t, err)
	assert.True(t, f.IsEmpty())
	assert.Equal(t, uint64(2), c.Stats().DecodeErrors)
}

func TestInitialize(t *testing.T) {
	t.Parallel()
	c := New(media.StreamInfo{CodecName: media.CodecMP3, Channels: 6}, Options{})
	assert.ErrorIs(t, c.Initialize(), media.ErrUnsupported)

	c = New(media.StreamInfo{CodecName: media.CodecMP3}, Options{})
	_, err := c.Decode(media.MediaChunk{Data: frame(1, false)})
	require.Error(t, err)
	assert.True(t, c.CanDecode(media.StreamInfo{CodecName: media.CodecMP3}))
	assert.False(t, c.CanDecode(media.StreamInfo{CodecName: media.CodecAAC}))
}
