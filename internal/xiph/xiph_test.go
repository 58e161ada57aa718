package xiph

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/mediacore/internal/media"
)

func commentBody(vendor string, fields ...string) []byte {
	p := binary.LittleEndian.AppendUint32(nil, uint32(len(vendor)))
	p = append(p, vendor...)
	p = binary.LittleEndian.AppendUint32(p, uint32(len(fields)))
	for _, f := range fields {
		p = binary.LittleEndian.AppendUint32(p, uint32(len(f)))
		p = append(p, f...)
	}
	return p
}

func TestParseVorbisComment(t *testing.T) {
	t.Parallel()
	vc, err := ParseVorbisComment(commentBody("libvorbis",
		"title=Evening", "Artist=Wren", "ARTIST=second", "DISCNUMBER=2/3", "broken", "TRACKNUMBER= 7 "))
	require.NoError(t, err)
	assert.Equal(t, "libvorbis", vc.Vendor)
	assert.Equal(t, "Wren", vc.Fields["ARTIST"])

	var info media.StreamInfo
	vc.Apply(&info)
	assert.Equal(t, "Evening", info.Title)
	assert.Equal(t, uint32(2), info.DiscNumber)
	assert.Equal(t, uint32(7), info.TrackNumber)
	assert.False(t, info.HasArtwork)
}

func TestParseVorbisCommentRejectsOverruns(t *testing.T) {
	t.Parallel()
	body := commentBody("x", "a=b")
	for name, p := range map[string][]byte{
		"truncated vendor": body[:3],
		"vendor overrun":   {0xFF, 0, 0, 0, 'x'},
		"count missing":    body[:5],
		"huge count":       append(body[:5:5], 0xFF, 0xFF, 0xFF, 0x0F),
		"field overrun":    body[:len(body)-1],
	} {
		_, err := ParseVorbisComment(p)
		assert.ErrorIs(t, err, media.ErrInvalidMedia, name)
	}
}

func TestPackHeadersRoundTrip(t *testing.T) {
	t.Parallel()
	in := [][]byte{[]byte("\x01vorbis"), {}, []byte("setup")}
	out, err := UnpackHeaders(PackHeaders(in))
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, in[0], out[0])
	assert.Empty(t, out[1])
	assert.Equal(t, in[2], out[2])

	_, err = UnpackHeaders([]byte{9, 0, 0, 0, 1})
	assert.ErrorIs(t, err, media.ErrInvalidMedia)
}

func vorbisIdent(channels byte, rate uint32, blocks byte) []byte {
	p := append([]byte{1}, "vorbis"...)
	p = binary.LittleEndian.AppendUint32(p, 0)
	p = append(p, channels)
	p = binary.LittleEndian.AppendUint32(p, rate)
	p = binary.LittleEndian.AppendUint32(p, 0)
	p = binary.LittleEndian.AppendUint32(p, 128000)
	p = binary.LittleEndian.AppendUint32(p, 0)
	return append(p, blocks, 1)
}

func TestParseVorbisIdent(t *testing.T) {
	t.Parallel()
	id, err := ParseVorbisIdent(vorbisIdent(2, 44100, 0xB8))
	require.NoError(t, err)
	assert.Equal(t, uint8(2), id.Channels)
	assert.Equal(t, uint32(44100), id.SampleRate)
	assert.Equal(t, int32(128000), id.BitrateNominal)
	assert.Equal(t, 256, id.BlockSize0)
	assert.Equal(t, 2048, id.BlockSize1)

	for name, p := range map[string][]byte{
		"no channels":    vorbisIdent(0, 44100, 0xB8),
		"no rate":        vorbisIdent(2, 0, 0xB8),
		"small block":    vorbisIdent(2, 44100, 0xB5),
		"inverted block": vorbisIdent(2, 44100, 0x8B),
		"short":          vorbisIdent(2, 44100, 0xB8)[:20],
	} {
		_, err := ParseVorbisIdent(p)
		assert.Error(t, err, name)
	}
}

func opusHead(channels, family byte, tail ...byte) []byte {
	p := append([]byte("OpusHead"), 1, channels)
	p = binary.LittleEndian.AppendUint16(p, 312)
	p = binary.LittleEndian.AppendUint32(p, 44100)
	p = binary.LittleEndian.AppendUint16(p, uint16(0xFF00)) // -1 dB
	p = append(p, family)
	return append(p, tail...)
}

func TestParseOpusHead(t *testing.T) {
	t.Parallel()
	h, err := ParseOpusHead(opusHead(2, 0))
	require.NoError(t, err)
	assert.Equal(t, uint16(312), h.PreSkip)
	assert.Equal(t, uint8(1), h.Streams)
	assert.Equal(t, uint8(1), h.Coupled)
	assert.Equal(t, []uint8{0, 1}, h.Mapping)
	assert.InDelta(t, 0.891, h.GainScale(), 0.001)

	// 5.1: 4 streams, 2 coupled
	h, err = ParseOpusHead(opusHead(6, 1, 4, 2, 0, 4, 1, 2, 3, 5))
	require.NoError(t, err)
	assert.Equal(t, uint8(4), h.Streams)
	assert.Equal(t, []uint8{0, 4, 1, 2, 3, 5}, h.Mapping)

	h, err = ParseOpusHead(opusHead(2, 255, 2, 0, 0, 255))
	require.NoError(t, err)
	assert.Equal(t, uint8(SilentChannel), h.Mapping[1])

	for name, p := range map[string][]byte{
		"family 0 surround": opusHead(3, 0),
		"family 1 nine":     opusHead(9, 1, 9, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8),
		"bad index":         opusHead(2, 1, 1, 0, 0, 1),
		"truncated table":   opusHead(6, 1, 4, 2, 0),
		"unknown family":    opusHead(2, 2, 1, 1, 0, 1),
		"no channels":       opusHead(0, 0),
	} {
		_, err := ParseOpusHead(p)
		assert.Error(t, err, name)
	}
}

func TestOpusPacketSamples(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		pkt  []byte
		want int
	}{
		{"celt fb 20 ms", []byte{31 << 3}, 960},
		{"silk wb 60 ms", []byte{11 << 3}, 2880},
		{"two frames", []byte{31<<3 | 1}, 1920},
		{"code 3 six frames", []byte{31<<3 | 3, 6}, 5760},
		{"code 3 too long", []byte{31<<3 | 3, 7}, 0},
		{"code 3 truncated", []byte{31<<3 | 3}, 0},
		{"celt 2.5 ms", []byte{16 << 3}, 120},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OpusPacketSamples(tt.pkt), tt.name)
	}
}

func TestParseFLACMapping(t *testing.T) {
	t.Parallel()
	p := append([]byte("\x7fFLAC"), 1, 0, 0, 2)
	p = append(p, "fLaC"...)
	p = append(p, 0x00, 0, 0, 34)
	si := make([]byte, 34)
	si[0] = 0x10
	p = append(p, si...)

	m, err := ParseFLACMapping(p)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), m.HeaderPackets)
	assert.Equal(t, si, m.StreamInfo)

	p[5] = 2
	_, err = ParseFLACMapping(p)
	assert.ErrorIs(t, err, media.ErrUnsupported)
}

func TestParseSpeexHeader(t *testing.T) {
	t.Parallel()
	p := make([]byte, speexHeaderSize)
	copy(p, "Speex   ")
	binary.LittleEndian.PutUint32(p[36:], 16000)
	binary.LittleEndian.PutUint32(p[48:], 1)
	binary.LittleEndian.PutUint32(p[68:], 1)
	h, err := ParseSpeexHeader(p)
	require.NoError(t, err)
	assert.Equal(t, uint32(16000), h.SampleRate)
	assert.Equal(t, uint32(1), h.ExtraHeaders)

	binary.LittleEndian.PutUint32(p[48:], 0)
	_, err = ParseSpeexHeader(p)
	assert.ErrorIs(t, err, media.ErrInvalidMedia)
}
