package iso

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/mediacore/internal/bufpool"
	"github.com/tphakala/mediacore/internal/demux/base"
	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/media"
)

func openBytes(t *testing.T, data []byte, opts Options) *Demuxer {
	t.Helper()
	d, err := Open(media.NewMemoryHandler(data), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestParseM4A(t *testing.T) {
	t.Parallel()

	samples := testSamples(5)
	d := openBytes(t, buildM4A(m4aConfig{samples: samples, samplesPerChunk: 2, title: "Dawn Chorus", track: 7}), Options{})

	streams := d.Streams()
	require.Len(t, streams, 1)
	s := streams[0]
	assert.Equal(t, uint32(1), s.StreamID)
	assert.Equal(t, media.CodecAAC, s.CodecName)
	assert.Equal(t, uint32(44100), s.SampleRate)
	assert.Equal(t, uint16(2), s.Channels)
	assert.Equal(t, uint32(128000), s.Bitrate)
	assert.Equal(t, []byte{0x12, 0x10}, s.CodecPrivate)
	assert.Equal(t, uint64(5*1024), s.DurationSamples)
	assert.Equal(t, uint64(5*1024*1000/44100), s.DurationMs)
	assert.Equal(t, "Dawn Chorus", s.Title)
	assert.Equal(t, uint32(7), s.TrackNumber)
	assert.True(t, s.HasArtwork)
	assert.Equal(t, Compliant, d.Report().Level, d.Report())

	for i, want := range samples {
		chunk, err := d.ReadChunk()
		require.NoError(t, err)
		assert.Equal(t, want, chunk.Data, "sample %d", i)
		assert.Equal(t, uint64(i*1024), chunk.TimestampSamples)
		assert.True(t, chunk.Keyframe)
	}
	assert.True(t, d.EOF())
	chunk, err := d.ReadChunk()
	require.ErrorIs(t, err, media.ErrEndOfStream)
	assert.True(t, chunk.IsEmpty())
}

func TestParseSkipsLeadingID3(t *testing.T) {
	t.Parallel()

	prefix := cat(id3Tag(20), id3Tag(5))
	samples := testSamples(3)
	d := openBytes(t, buildM4A(m4aConfig{prefix: prefix, samples: samples}), Options{})

	chunk, err := d.ReadChunk()
	require.NoError(t, err)
	assert.Equal(t, samples[0], chunk.Data)
}

func TestSeekSnapsToSampleAndKeepsPositionOnFailure(t *testing.T) {
	t.Parallel()

	samples := testSamples(5)
	d := openBytes(t, buildM4A(m4aConfig{samples: samples}), Options{})

	require.NoError(t, d.SeekTo(50)) // 2205 ticks, inside sample 2
	assert.Equal(t, uint64(2048*1000/44100), d.Position())

	err := d.SeekTo(10_000)
	require.Error(t, err)
	assert.Equal(t, uint64(2048*1000/44100), d.Position())

	chunk, err := d.ReadChunk()
	require.NoError(t, err)
	assert.Equal(t, samples[2], chunk.Data)
	assert.Equal(t, uint64(2048), chunk.TimestampSamples)
}

func TestLazyTablesServeSameChunks(t *testing.T) {
	t.Parallel()

	samples := testSamples(40)
	data := buildM4A(m4aConfig{samples: samples, samplesPerChunk: 3})
	eager := openBytes(t, data, Options{Tables: TableConfig{Mode: TableModeEager}})
	lazy := openBytes(t, data, Options{Tables: TableConfig{Mode: TableModeLazy}})

	for range samples {
		a, errA := eager.ReadChunk()
		b, errB := lazy.ReadChunk()
		require.NoError(t, errA)
		require.NoError(t, errB)
		assert.Equal(t, a, b)
	}
	lazy.OptimizeMemoryUsage()
}

func TestPCMTrackDeliversWholeChunks(t *testing.T) {
	t.Parallel()

	// QuickTime v0 PCM: sample size 1, one sample per frame.
	frames := 10
	payload := bytes.Repeat([]byte{1, 2, 3, 4}, frames)
	cfg := m4aConfig{
		entry:     pcmEntry("sowt", 2, 16, 8000),
		timescale: 8000,
		delta:     1,
	}
	for i := range frames {
		cfg.samples = append(cfg.samples, payload[i*4:i*4+4])
	}
	cfg.samplesPerChunk = frames
	d := openBytes(t, buildM4A(cfg), Options{})

	s, ok := d.StreamInfo(1)
	require.True(t, ok)
	assert.Equal(t, media.CodecPCM, s.CodecName)
	assert.Equal(t, media.LittleEndian, s.ByteOrder)

	chunk, err := d.ReadChunk()
	require.NoError(t, err)
	assert.Equal(t, payload, chunk.Data)
	assert.True(t, d.EOF())
}

func TestFragmentedFileIsReorderedBySequence(t *testing.T) {
	t.Parallel()

	data, payloads := fragmentedFile([]uint32{2, 1}, []uint32{4, 5, 6})
	d := openBytes(t, data, Options{})

	assert.Equal(t, 2, d.Fragments())
	s := d.Streams()[0]
	assert.Equal(t, uint64(6*1024), s.DurationSamples)

	var got []byte
	var stamps []uint64
	for !d.EOF() {
		chunk, err := d.ReadChunk()
		require.NoError(t, err)
		got = append(got, chunk.Data...)
		stamps = append(stamps, chunk.TimestampSamples)
	}
	assert.Equal(t, cat(payloads[1], payloads[2]), got)
	assert.Equal(t, []uint64{0, 1024, 2048, 3072, 4096, 5120}, stamps)
}

func TestParseRejectsMalformedFiles(t *testing.T) {
	t.Parallel()

	oversized := mkbox("ftyp", []byte("isom"), be32(0))
	copy(oversized, be32(4096))

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"no moov", mkbox("ftyp", []byte("isom"), be32(0), []byte("isom")), media.ErrBadFormat},
		{"box exceeds file", oversized, media.ErrInvalidMedia},
		{"header smaller than 8", cat(be32(4), []byte("free")), media.ErrInvalidMedia},
		{"no audio track", mkbox("moov", mkbox("mvhd", full(0, 0, zeros(96)))), media.ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := New(media.NewMemoryHandler(tt.data), Options{})
			err := d.ParseContainer()
			require.ErrorIs(t, err, tt.want)
			assert.Empty(t, d.Streams())
			_, err = d.ReadChunk()
			require.ErrorIs(t, err, media.ErrNotParsed)
		})
	}
}

func TestStrictModeRejectsNonCompliantFiles(t *testing.T) {
	t.Parallel()

	// An ALAC entry without its cookie is non-compliant but still parses.
	data := buildM4A(m4aConfig{samples: testSamples(2), entry: pcmEntry("alac", 2, 16, 44100)})

	lenient := openBytes(t, data, Options{})
	assert.Equal(t, NonCompliant, lenient.Report().Level)

	_, err := Open(media.NewMemoryHandler(data), Options{Strict: true})
	require.ErrorIs(t, err, media.ErrInvalidMedia)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestStagingUsesInjectedAllocator(t *testing.T) {
	t.Parallel()

	pool := bufpool.New(bufpool.Config{Name: "iso-test"})
	data := buildM4A(m4aConfig{samples: testSamples(3)})
	d := openBytes(t, data, Options{Options: base.Options{Alloc: pool}})
	assert.Positive(t, pool.ComponentUsage()["iso"])

	require.NoError(t, d.Close())
}
