package raw

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/mediacore/internal/media"
)

func auFile(encoding, rate, channels uint32, payload []byte) []byte {
	hdr := make([]byte, 28)
	copy(hdr, auMagic)
	binary.BigEndian.PutUint32(hdr[4:], 28)
	binary.BigEndian.PutUint32(hdr[8:], uint32(len(payload)))
	binary.BigEndian.PutUint32(hdr[12:], encoding)
	binary.BigEndian.PutUint32(hdr[16:], rate)
	binary.BigEndian.PutUint32(hdr[20:], channels)
	copy(hdr[24:], "anno")
	return append(hdr, payload...)
}

func TestTelephonyChunksAre20ms(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte{0xFF}, 8000) // one second of mu-law silence
	d, err := Open(media.NewMemoryHandler(data), "call.ulaw", Options{})
	require.NoError(t, err)

	s := d.Streams()[0]
	assert.Equal(t, media.CodecMuLaw, s.CodecName)
	assert.Equal(t, uint32(8000), s.SampleRate)
	assert.Equal(t, uint16(1), s.Channels)
	assert.Equal(t, uint64(1000), s.DurationMs)

	var chunks int
	for !d.EOF() {
		c, err := d.ReadChunk()
		require.NoError(t, err)
		require.Len(t, c.Data, 160)
		assert.Equal(t, uint64(chunks*160), c.TimestampSamples)
		chunks++
	}
	assert.Equal(t, 50, chunks)
	_, err = d.ReadChunk()
	require.ErrorIs(t, err, media.ErrEndOfStream)
}

func TestExtensionLayouts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path  string
		codec string
		bits  uint16
		order media.ByteOrder
		sf    media.SampleFormat
	}{
		{"a.al", media.CodecALaw, 8, media.LittleEndian, media.SampleFormatInt},
		{"a.PCM", media.CodecPCM, 16, media.LittleEndian, media.SampleFormatInt},
		{"a.s24be", media.CodecPCM, 24, media.BigEndian, media.SampleFormatInt},
		{"a.u8", media.CodecPCM, 8, media.LittleEndian, media.SampleFormatUint},
		{"a.f64le", media.CodecPCM, 64, media.LittleEndian, media.SampleFormatFloat},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			f, ok := FormatForPath(tt.path)
			require.True(t, ok)
			assert.Equal(t, tt.codec, f.Codec)
			assert.Equal(t, tt.bits, f.BitsPerSample)
			assert.Equal(t, tt.order, f.ByteOrder)
			assert.Equal(t, tt.sf, f.SampleFormat)
		})
	}

	_, ok := FormatForPath("song.mp3")
	assert.False(t, ok)
	_, err := Open(media.NewMemoryHandler(make([]byte, 64)), "song.mp3", Options{})
	require.ErrorIs(t, err, media.ErrWrongFormat)
}

func TestAUHeader(t *testing.T) {
	t.Parallel()

	payload := make([]byte, 4*100) // 100 stereo 16-bit frames
	d, err := Open(media.NewMemoryHandler(auFile(auPCM16, 22050, 2, payload)), "clip.au", Options{})
	require.NoError(t, err)

	s := d.Streams()[0]
	assert.Equal(t, media.CodecPCM, s.CodecName)
	assert.Equal(t, uint16(16), s.BitsPerSample)
	assert.Equal(t, media.BigEndian, s.ByteOrder)
	assert.Equal(t, uint64(100), s.DurationSamples)

	c, err := d.ReadChunk()
	require.NoError(t, err)
	assert.Len(t, c.Data, 400)
	assert.Equal(t, uint64(28), c.FileOffset)

	// a mislabeled extension still gets header detection
	d, err = Open(media.NewMemoryHandler(auFile(auALaw, 8000, 1, make([]byte, 16))), "clip.raw", Options{})
	require.NoError(t, err)
	assert.Equal(t, media.CodecALaw, d.Format().Codec)

	_, err = Open(media.NewMemoryHandler(auFile(23, 8000, 1, nil)), "clip.au", Options{})
	require.ErrorIs(t, err, media.ErrUnsupported)
}

func TestSeekByByteArithmetic(t *testing.T) {
	t.Parallel()

	f := Format{Codec: media.CodecPCM, SampleRate: 1000, Channels: 2, BitsPerSample: 16}
	data := make([]byte, 4*2000)
	for i := range 2000 {
		binary.LittleEndian.PutUint16(data[i*4:], uint16(i))
	}
	d, err := Open(media.NewMemoryHandler(data), "", Options{Format: &f})
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), d.Duration())

	require.NoError(t, d.SeekTo(1500))
	assert.Equal(t, uint64(1500), d.Position())
	c, err := d.ReadChunk()
	require.NoError(t, err)
	assert.Equal(t, uint64(1500), c.TimestampSamples)
	assert.Equal(t, uint16(1500), binary.LittleEndian.Uint16(c.Data))
	assert.Len(t, c.Data, 500*4)

	require.Error(t, d.SeekTo(2001))
	assert.Equal(t, uint64(2000), d.Position())
}

func TestTrailingPartialFrameIsDropped(t *testing.T) {
	t.Parallel()

	d, err := Open(media.NewMemoryHandler(make([]byte, 4*10+3)), "x.s16le", Options{})
	require.NoError(t, err)
	c, err := d.ReadChunk()
	require.NoError(t, err)
	assert.Len(t, c.Data, 40)
	assert.True(t, d.EOF())
}
