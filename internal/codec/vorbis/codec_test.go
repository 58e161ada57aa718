package vorbis

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/mediacore/internal/media"
	"github.com/tphakala/mediacore/internal/observability/metrics"
	"github.com/tphakala/mediacore/internal/xiph"
)

// fakeDecoder returns each packet's bytes as samples of value b/100.
type fakeDecoder struct {
	headers int
	cleared int
	fail    bool
}

func (f *fakeDecoder) ReadHeader([]byte) error { f.headers++; return nil }
func (f *fakeDecoder) HeadersRead() bool       { return f.headers >= 3 }
func (f *fakeDecoder) Clear()                  { f.cleared++ }

func (f *fakeDecoder) Decode(p []byte) ([]float32, error) {
	if f.fail {
		return nil, assert.AnError
	}
	out := make([]float32, len(p))
	for i, b := range p {
		out[i] = float32(int8(b)) / 100
	}
	return out, nil
}

type errorLog struct {
	metrics.NopRecorder
	errs []string
}

func (e *errorLog) RecordDecodeError(_, typ string) { e.errs = append(e.errs, typ) }

func identHeader(channels byte) []byte {
	p := append([]byte{1}, "vorbis"...)
	p = binary.LittleEndian.AppendUint32(p, 0)
	p = append(p, channels)
	p = binary.LittleEndian.AppendUint32(p, 48000)
	p = binary.LittleEndian.AppendUint32(p, 0)
	p = binary.LittleEndian.AppendUint32(p, 0)
	p = binary.LittleEndian.AppendUint32(p, 0)
	return append(p, 0xB8, 1)
}

func headers(channels byte) [][]byte {
	return [][]byte{
		identHeader(channels),
		append([]byte{3}, "vorbis\x00\x00\x00\x00\x00\x00\x00\x00\x01"...),
		append([]byte{5}, "vorbis\x00"...),
	}
}

func newTestCodec(t *testing.T, info media.StreamInfo, opts Options) (*Codec, *fakeDecoder) {
	t.Helper()
	fake := &fakeDecoder{}
	opts.newDecoder = func() packetDecoder { return fake }
	info.CodecName = media.CodecVorbis
	c := New(info, opts)
	require.NoError(t, c.Initialize())
	return c, fake
}

func TestHeadersFromCodecPrivate(t *testing.T) {
	t.Parallel()
	c, fake := newTestCodec(t, media.StreamInfo{CodecPrivate: xiph.PackHeaders(headers(2))}, Options{})
	assert.Equal(t, 3, fake.headers)

	// header chunks repeated by the demuxer are ignored
	for _, h := range headers(2) {
		f, err := c.Decode(media.MediaChunk{Data: h})
		require.NoError(t, err)
		assert.True(t, f.IsEmpty())
	}
	assert.Equal(t, 3, fake.headers)

	f, err := c.Decode(media.MediaChunk{Data: []byte{50, 100, 0x9C, 0}, TimestampSamples: 640})
	require.NoError(t, err)
	assert.Equal(t, []int16{16383, 32767, -32767, 0}, f.Samples)
	assert.Equal(t, uint16(2), f.Channels)
	assert.Equal(t, uint32(48000), f.SampleRate)
	assert.Equal(t, uint64(640), f.TimestampSamples)
	assert.Equal(t, 2, f.Len())
}

func TestHeadersFromChunks(t *testing.T) {
	t.Parallel()
	c, fake := newTestCodec(t, media.StreamInfo{}, Options{})

	_, err := c.Decode(media.MediaChunk{Data: []byte{0, 1}})
	require.Error(t, err, "audio before headers")

	for _, h := range headers(1) {
		_, err := c.Decode(media.MediaChunk{Data: h})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, fake.headers)
	assert.Equal(t, uint64(3), c.Stats().HeaderPackets)

	f, err := c.Decode(media.MediaChunk{Data: []byte{0, 10}})
	require.NoError(t, err)
	assert.Equal(t, uint16(1), f.Channels)
	assert.Equal(t, 2, f.Len())
}

func TestAccumulatorCapDropsExcess(t *testing.T) {
	t.Parallel()
	rec := &errorLog{}
	opts := Options{AccumulatorBytes: 8}
	opts.Recorder = rec
	c, _ := newTestCodec(t, media.StreamInfo{CodecPrivate: xiph.PackHeaders(headers(2))}, opts)

	// six stereo samples, only two fit in 8 bytes
	f, err := c.Decode(media.MediaChunk{Data: []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}})
	require.NoError(t, err)
	assert.Equal(t, 2, f.Len())
	assert.Equal(t, uint64(4), c.Stats().DroppedSamples)
	assert.Equal(t, []string{metrics.ErrTypeOverflow}, rec.errs)

	// the accumulator drains each call
	f, err = c.Decode(media.MediaChunk{Data: []byte{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, 1, f.Len())
}

func TestDecodeErrorIsRecoverable(t *testing.T) {
	t.Parallel()
	c, fake := newTestCodec(t, media.StreamInfo{CodecPrivate: xiph.PackHeaders(headers(2))}, Options{})
	fake.fail = true
	f, err := c.Decode(media.MediaChunk{Data: []byte{0, 1}})
	require.NoError(t, err)
	assert.True(t, f.IsEmpty())
	assert.Equal(t, uint64(1), c.Stats().DecodeErrors)

	c.Reset()
	assert.Equal(t, 1, fake.cleared)
}

func TestInvalidCodecPrivate(t *testing.T) {
	t.Parallel()
	c := New(media.StreamInfo{CodecName: media.CodecVorbis, CodecPrivate: []byte{9, 0, 0, 0}}, Options{})
	assert.ErrorIs(t, c.Initialize(), media.ErrInvalidMedia)

	bad := xiph.PackHeaders([][]byte{identHeader(0)})
	c = New(media.StreamInfo{CodecName: media.CodecVorbis, CodecPrivate: bad}, Options{})
	assert.ErrorIs(t, c.Initialize(), media.ErrInvalidMedia)
}

func TestCanDecode(t *testing.T) {
	t.Parallel()
	c := New(media.StreamInfo{}, Options{})
	assert.True(t, c.CanDecode(media.StreamInfo{CodecName: media.CodecVorbis}))
	assert.False(t, c.CanDecode(media.StreamInfo{CodecName: media.CodecOpus}))
	assert.Equal(t, "vorbis", c.Name())
}
