package flac

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flaccodec "github.com/tphakala/mediacore/internal/codec/flac"
	"github.com/tphakala/mediacore/internal/media"
)

const (
	testBlock  = 4096
	testFrames = 10
)

func crc8(p []byte) byte {
	var c byte
	for _, b := range p {
		c ^= b
		for range 8 {
			if c&0x80 != 0 {
				c = c<<1 ^ 0x07
			} else {
				c <<= 1
			}
		}
	}
	return c
}

// testFrame returns a 44.1 kHz 16-bit stereo frame of 4096 samples with
// constant subframes. The frame CRC is left zero; the demuxer only checks
// headers.
func testFrame(number byte, left, right int16) []byte {
	hdr := []byte{0xFF, 0xF8, 0xC9, 0x18, number}
	hdr = append(hdr, crc8(hdr))
	body := []byte{0x00, byte(uint16(left) >> 8), byte(left), 0x00, byte(uint16(right) >> 8), byte(right)}
	return append(append(hdr, body...), 0x00, 0x00)
}

func metadataBlock(typ byte, last bool, body []byte) []byte {
	if last {
		typ |= 0x80
	}
	n := len(body)
	return append([]byte{typ, byte(n >> 16), byte(n >> 8), byte(n)}, body...)
}

func vorbisComment(fields ...string) []byte {
	vendor := "test"
	p := binary.LittleEndian.AppendUint32(nil, uint32(len(vendor)))
	p = append(p, vendor...)
	p = binary.LittleEndian.AppendUint32(p, uint32(len(fields)))
	for _, f := range fields {
		p = binary.LittleEndian.AppendUint32(p, uint32(len(f)))
		p = append(p, f...)
	}
	return p
}

type fileOpts struct {
	id3       bool
	seekTable bool
	picture   bool
}

// buildFile returns a FLAC file and the offsets of its frames.
func buildFile(t *testing.T, o fileOpts) ([]byte, []int64) {
	t.Helper()
	si := flaccodec.StreamInfo{
		MinBlockSize:  testBlock,
		MaxBlockSize:  testBlock,
		SampleRate:    44100,
		Channels:      2,
		BitsPerSample: 16,
		TotalSamples:  testBlock * testFrames,
	}
	var frames [][]byte
	for i := range testFrames {
		frames = append(frames, testFrame(byte(i), int16(i*10), int16(-i*10)))
	}

	var file []byte
	if o.id3 {
		file = append(file, 'I', 'D', '3', 4, 0, 0, 0, 0, 0, 20)
		file = append(file, make([]byte, 20)...)
	}
	file = append(file, "fLaC"...)
	file = append(file, metadataBlock(BlockStreamInfo, false, si.Encode())...)
	file = append(file, metadataBlock(BlockVorbisComment, false,
		vorbisComment("title=Dawn Chorus", "ARTIST=Field Recorder", "TRACKNUMBER=3/12", "Genre=Nature"))...)
	if o.picture {
		file = append(file, metadataBlock(BlockPicture, false, make([]byte, 32))...)
	}
	if o.seekTable {
		frameLen := uint64(len(frames[0]))
		var st []byte
		for _, n := range []uint64{0, 4} {
			st = binary.BigEndian.AppendUint64(st, n*testBlock)
			st = binary.BigEndian.AppendUint64(st, n*frameLen)
			st = binary.BigEndian.AppendUint16(st, testBlock)
		}
		st = binary.BigEndian.AppendUint64(st, 0xFFFFFFFFFFFFFFFF)
		st = append(st, make([]byte, 10)...)
		file = append(file, metadataBlock(BlockSeekTable, false, st)...)
	}
	file = append(file, metadataBlock(BlockPadding, true, make([]byte, 64))...)

	offsets := make([]int64, 0, len(frames))
	for _, f := range frames {
		offsets = append(offsets, int64(len(file)))
		file = append(file, f...)
	}
	return file, offsets
}

func openTest(t *testing.T, data []byte) *Demuxer {
	t.Helper()
	d, err := Open(media.NewMemoryHandler(data), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestParseStreamInfoAndTags(t *testing.T) {
	t.Parallel()
	file, _ := buildFile(t, fileOpts{picture: true})
	d := openTest(t, file)

	streams := d.Streams()
	require.Len(t, streams, 1)
	s := streams[0]
	assert.Equal(t, media.CodecFLAC, s.CodecName)
	assert.Equal(t, uint32(44100), s.SampleRate)
	assert.Equal(t, uint16(2), s.Channels)
	assert.Equal(t, uint16(16), s.BitsPerSample)
	assert.Equal(t, uint64(testBlock*testFrames), s.DurationSamples)
	assert.Equal(t, uint64(928), s.DurationMs)
	assert.Equal(t, uint64(928), d.Duration())
	assert.Len(t, s.CodecPrivate, flaccodec.StreamInfoSize)

	assert.Equal(t, "Dawn Chorus", s.Title)
	assert.Equal(t, "Field Recorder", s.Artist)
	assert.Equal(t, "Nature", s.Genre)
	assert.Equal(t, uint32(3), s.TrackNumber)
	assert.True(t, s.HasArtwork)
}

func TestReadChunksFrameByFrame(t *testing.T) {
	t.Parallel()
	file, offsets := buildFile(t, fileOpts{})
	d := openTest(t, file)

	for i := range testFrames {
		c, err := d.ReadChunk()
		require.NoError(t, err, "frame %d", i)
		assert.Equal(t, uint64(offsets[i]), c.FileOffset)
		assert.Equal(t, uint64(i*testBlock), c.TimestampSamples)
		assert.Len(t, c.Data, len(testFrame(0, 0, 0)))
		assert.True(t, flaccodec.IsSync(c.Data))
	}
	c, err := d.ReadChunk()
	assert.ErrorIs(t, err, media.ErrEndOfStream)
	assert.True(t, c.IsEmpty())
	assert.True(t, d.EOF())
	assert.Equal(t, uint64(928), d.Position())
}

func TestID3PrefixIsSkipped(t *testing.T) {
	t.Parallel()
	file, offsets := buildFile(t, fileOpts{id3: true})
	d := openTest(t, file)
	c, err := d.ReadChunk()
	require.NoError(t, err)
	assert.Equal(t, uint64(offsets[0]), c.FileOffset)
	assert.Equal(t, offsets[0], d.Metadata().AudioStart)
	assert.Equal(t, "Dawn Chorus", d.Streams()[0].Title)
}

func TestSeek(t *testing.T) {
	t.Parallel()
	for name, o := range map[string]fileOpts{
		"seek table": {seekTable: true},
		"scan":       {},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			file, offsets := buildFile(t, o)
			d := openTest(t, file)
			if o.seekTable {
				require.Len(t, d.Metadata().SeekTable, 2)
			}

			// 500 ms is sample 22050, inside frame 5
			require.NoError(t, d.SeekTo(500))
			assert.Equal(t, uint64(464), d.Position())
			c, err := d.ReadChunk()
			require.NoError(t, err)
			assert.Equal(t, uint64(5*testBlock), c.TimestampSamples)
			assert.Equal(t, uint64(offsets[5]), c.FileOffset)

			require.NoError(t, d.SeekTo(0))
			c, err = d.ReadChunk()
			require.NoError(t, err)
			assert.Equal(t, uint64(0), c.TimestampSamples)

			require.NoError(t, d.SeekTo(928))
			c, err = d.ReadChunk()
			require.NoError(t, err)
			assert.Equal(t, uint64(9*testBlock), c.TimestampSamples)
		})
	}
}

func TestSeekBeyondDurationKeepsPosition(t *testing.T) {
	t.Parallel()
	file, _ := buildFile(t, fileOpts{})
	d := openTest(t, file)
	_, err := d.ReadChunk()
	require.NoError(t, err)
	before := d.Position()

	require.Error(t, d.SeekTo(5000))
	assert.Equal(t, before, d.Position())
	c, err := d.ReadChunk()
	require.NoError(t, err)
	assert.Equal(t, uint64(testBlock), c.TimestampSamples)
}

func TestGarbageBetweenFramesIsSkipped(t *testing.T) {
	t.Parallel()
	file, offsets := buildFile(t, fileOpts{})
	audioStart := offsets[0]
	junk := []byte{0x01, 0x02, 0x03, 0x04}
	withJunk := append(append(append([]byte{}, file[:audioStart]...), junk...), file[audioStart:]...)

	d := openTest(t, withJunk)
	c, err := d.ReadChunk()
	require.NoError(t, err)
	assert.Equal(t, uint64(audioStart)+uint64(len(junk)), c.FileOffset)
	assert.Equal(t, uint64(0), c.TimestampSamples)
}

func TestRejections(t *testing.T) {
	t.Parallel()
	file, _ := buildFile(t, fileOpts{})

	_, err := Open(media.NewMemoryHandler([]byte("OggS0000000000000000")), Options{})
	assert.ErrorIs(t, err, media.ErrWrongFormat)

	// first block must be STREAMINFO
	bad := append([]byte("fLaC"), metadataBlock(BlockPadding, true, make([]byte, 8))...)
	_, err = Open(media.NewMemoryHandler(bad), Options{})
	assert.ErrorIs(t, err, media.ErrInvalidMedia)

	// STREAMINFO with the wrong length
	bad = append([]byte("fLaC"), metadataBlock(BlockStreamInfo, true, make([]byte, 20))...)
	_, err = Open(media.NewMemoryHandler(bad), Options{})
	assert.ErrorIs(t, err, media.ErrInvalidMedia)

	// block running past the end
	_, err = Open(media.NewMemoryHandler(file[:60]), Options{})
	assert.ErrorIs(t, err, media.ErrInvalidMedia)
	assert.True(t, media.IsRejection(err))
}

func TestParseSeekTableSkipsPlaceholders(t *testing.T) {
	t.Parallel()
	var p []byte
	for _, sample := range []uint64{8192, 0xFFFFFFFFFFFFFFFF, 0} {
		p = binary.BigEndian.AppendUint64(p, sample)
		p = binary.BigEndian.AppendUint64(p, sample/2)
		p = binary.BigEndian.AppendUint16(p, 4096)
	}
	points, err := parseSeekTable(p)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, uint64(0), points[0].Sample)
	assert.Equal(t, uint64(8192), points[1].Sample)

	_, err = parseSeekTable(p[:20])
	assert.ErrorIs(t, err, media.ErrInvalidMedia)
}

func TestReadBeforeParse(t *testing.T) {
	t.Parallel()
	d := New(media.NewMemoryHandler(nil), Options{})
	_, err := d.ReadChunk()
	assert.ErrorIs(t, err, media.ErrNotParsed)
	assert.Empty(t, d.Streams())
}
