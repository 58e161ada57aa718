package alac

import (
	"encoding/binary"
	"testing"

	libalac "github.com/llehouerou/alac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/mediacore/internal/media"
)

func config(frameLen uint32, depth, channels byte, rate uint32) []byte {
	p := binary.BigEndian.AppendUint32(nil, frameLen)
	p = append(p, 0, depth, 40, 10, 14, channels)
	p = binary.BigEndian.AppendUint16(p, 255)
	p = binary.BigEndian.AppendUint32(p, 0)
	p = binary.BigEndian.AppendUint32(p, 0)
	return binary.BigEndian.AppendUint32(p, rate)
}

func atom(typ string, body []byte) []byte {
	p := binary.BigEndian.AppendUint32(nil, uint32(12+len(body)))
	p = append(p, typ...)
	p = append(p, 0, 0, 0, 0)
	return append(p, body...)
}

func TestParseCookie(t *testing.T) {
	t.Parallel()
	bare := config(4096, 16, 2, 44100)
	for name, p := range map[string][]byte{
		"bare":      bare,
		"atom":      atom("alac", bare),
		"quicktime": append(atom("frma", nil), atom("alac", bare)...),
	} {
		c, err := ParseCookie(p)
		require.NoError(t, err, name)
		assert.Equal(t, uint32(4096), c.FrameLength, name)
		assert.Equal(t, uint8(16), c.BitDepth, name)
		assert.Equal(t, uint8(2), c.Channels, name)
		assert.Equal(t, uint32(44100), c.SampleRate, name)
		assert.Equal(t, uint8(40), c.PB, name)
		assert.Equal(t, uint16(255), c.MaxRun, name)
	}

	for name, p := range map[string][]byte{
		"short":     bare[:20],
		"20-bit":    config(4096, 20, 2, 44100),
		"6 channel": config(4096, 16, 6, 44100),
		"no rate":   config(4096, 16, 2, 0),
	} {
		_, err := ParseCookie(p)
		assert.Error(t, err, name)
	}
}

type fakeDecoder struct {
	out   []byte
	panic bool
}

func (f *fakeDecoder) Decode([]byte) []byte {
	if f.panic {
		panic("index out of range")
	}
	return f.out
}

func newTestCodec(t *testing.T, cookie []byte, fake *fakeDecoder) (*Codec, *libalac.Config) {
	t.Helper()
	var got libalac.Config
	c := New(media.StreamInfo{CodecName: media.CodecALAC, CodecPrivate: cookie}, Options{
		newDecoder: func(cfg libalac.Config) (frameDecoder, error) {
			got = cfg
			return fake, nil
		},
	})
	require.NoError(t, c.Initialize())
	return c, &got
}

func TestDecode16(t *testing.T) {
	t.Parallel()
	fake := &fakeDecoder{out: []byte{0x34, 0x12, 0xFF, 0xFF, 0x00, 0x80, 0x01, 0x00}}
	c, cfg := newTestCodec(t, atom("alac", config(4096, 16, 2, 48000)), fake)
	assert.Equal(t, libalac.Config{SampleRate: 48000, SampleSize: 16, NumChannels: 2, FrameSize: 4096}, *cfg)

	f, err := c.Decode(media.MediaChunk{Data: []byte{1}, TimestampSamples: 4096})
	require.NoError(t, err)
	assert.Equal(t, []int16{0x1234, -1, -32768, 1}, f.Samples)
	assert.Equal(t, 2, f.Len())
	assert.Equal(t, uint32(48000), f.SampleRate)
	assert.Equal(t, uint64(4096), f.TimestampSamples)
}

func TestDecode24KeepsTopBits(t *testing.T) {
	t.Parallel()
	fake := &fakeDecoder{out: []byte{0x56, 0x34, 0x12, 0xFF, 0xFF, 0xFF}}
	c, _ := newTestCodec(t, config(4096, 24, 1, 96000), fake)
	f, err := c.Decode(media.MediaChunk{Data: []byte{1}})
	require.NoError(t, err)
	assert.Equal(t, []int16{0x1234, -1}, f.Samples)
}

func TestCorruptFramesAreRecoverable(t *testing.T) {
	t.Parallel()
	fake := &fakeDecoder{out: []byte{1, 2, 3}}
	c, _ := newTestCodec(t, config(2, 16, 2, 44100), fake)

	f, err := c.Decode(media.MediaChunk{Data: []byte{1}})
	require.NoError(t, err)
	assert.True(t, f.IsEmpty(), "partial sample")

	fake.out = make([]byte, 12)
	f, err = c.Decode(media.MediaChunk{Data: []byte{1}})
	require.NoError(t, err)
	assert.True(t, f.IsEmpty(), "more samples than the frame length")

	fake.panic = true
	f, err = c.Decode(media.MediaChunk{Data: []byte{1}})
	require.NoError(t, err)
	assert.True(t, f.IsEmpty())
	assert.Equal(t, uint64(3), c.Stats().DecodeErrors)
}

func TestInitializeRequiresCookie(t *testing.T) {
	t.Parallel()
	c := New(media.StreamInfo{CodecName: media.CodecALAC}, Options{})
	assert.ErrorIs(t, c.Initialize(), media.ErrInvalidMedia)
	_, err := c.Decode(media.MediaChunk{Data: []byte{1}})
	require.Error(t, err)
	assert.True(t, c.CanDecode(media.StreamInfo{CodecName: media.CodecALAC}))
}
