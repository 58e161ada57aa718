package media

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

func synchsafeBytes(n int) []byte {
	return []byte{byte(n >> 21 & 0x7F), byte(n >> 14 & 0x7F), byte(n >> 7 & 0x7F), byte(n & 0x7F)}
}

// v2Frame encodes one frame for the given tag version. flags applies to
// version 4 only.
func v2Frame(version byte, id string, flags byte, payload []byte) []byte {
	switch version {
	case 2:
		n := len(payload)
		return append([]byte{id[0], id[1], id[2], byte(n >> 16), byte(n >> 8), byte(n)}, payload...)
	case 3:
		f := append([]byte(id), 0, 0, 0, 0, 0, 0)
		binary.BigEndian.PutUint32(f[4:], uint32(len(payload)))
		return append(f, payload...)
	default:
		f := append([]byte(id), synchsafeBytes(len(payload))...)
		f = append(f, 0, flags)
		return append(f, payload...)
	}
}

func v2Tag(version, flags byte, body []byte) []byte {
	tag := append([]byte{'I', 'D', '3', version, 0, flags}, synchsafeBytes(len(body))...)
	return append(tag, body...)
}

func textPayload(enc byte, s string) []byte {
	return append([]byte{enc}, s...)
}

func utf16Payload(t *testing.T, s string) []byte {
	t.Helper()
	b, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().Bytes([]byte(s))
	require.NoError(t, err)
	return append([]byte{1}, b...)
}

func joinFrames(frames ...[]byte) []byte {
	var out []byte
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}

func TestParseID3v2Versions(t *testing.T) {
	t.Parallel()

	v22 := v2Tag(2, 0, append(joinFrames(
		v2Frame(2, "TT2", 0, textPayload(0, "Old")),
		v2Frame(2, "TP1", 0, textPayload(0, "Band")),
		v2Frame(2, "TYE", 0, textPayload(0, "1985")),
		v2Frame(2, "TRK", 0, textPayload(0, "7")),
		v2Frame(2, "PIC", 0, []byte{0, 'J', 'P', 'G', 3, 0, 0xFF, 0xD8}),
	), make([]byte, 16)...))

	v23 := v2Tag(3, 0, append(joinFrames(
		v2Frame(3, "TIT2", 0, utf16Payload(t, "Ääni")),
		v2Frame(3, "TPE1", 0, textPayload(0, "Bj\xf6rk")),
		v2Frame(3, "TALB", 0, textPayload(0, "Homogenic\x00")),
		v2Frame(3, "TCON", 0, textPayload(0, "(17)")),
		v2Frame(3, "TYER", 0, textPayload(0, "1997")),
		v2Frame(3, "TRCK", 0, textPayload(0, "3/12")),
		v2Frame(3, "APIC", 0, []byte{0, 'i', 'm', 'a', 'g', 'e', '/', 'p', 'n', 'g', 0, 3, 0}),
	), make([]byte, 32)...))

	extended := append(synchsafeBytes(6), 1, 0)
	v24 := v2Tag(4, 0x40, joinFrames(
		extended,
		v2Frame(4, "TIT2", 0, textPayload(3, "Café")),
		v2Frame(4, "TALB", 0x08, textPayload(3, "compressed")),
		v2Frame(4, "TCON", 0x01, append(synchsafeBytes(5), textPayload(3, "Jazz")...)),
		v2Frame(4, "TDRC", 0, textPayload(3, "2024-05-01")),
		v2Frame(4, "TYER", 0, textPayload(3, "1900")),
		v2Frame(4, "TPOS", 0, textPayload(3, "2/2")),
	))

	tests := []struct {
		name string
		tag  []byte
		want ID3Tags
	}{
		{"v2.2 three letter frames", v22, ID3Tags{
			Title: "Old", Artist: "Band", Date: "1985", TrackNumber: 7, HasArtwork: true,
		}},
		{"v2.3 mixed encodings", v23, ID3Tags{
			Title: "Ääni", Artist: "Björk", Album: "Homogenic", Genre: "Rock",
			Date: "1997", TrackNumber: 3, HasArtwork: true,
		}},
		{"v2.4 extended header and frame flags", v24, ID3Tags{
			Title: "Café", Genre: "Jazz", Date: "2024-05-01", DiscNumber: 2,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseID3v2(tt.tag)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseID3v2Unsynchronisation(t *testing.T) {
	t.Parallel()
	body := v2Frame(3, "TIT2", 0, textPayload(0, "\xffnd"))
	var unsynced []byte
	for _, b := range body {
		unsynced = append(unsynced, b)
		if b == 0xFF {
			unsynced = append(unsynced, 0)
		}
	}
	got, ok := ParseID3v2(v2Tag(3, 0x80, unsynced))
	require.True(t, ok)
	assert.Equal(t, "ÿnd", got.Title)
}

func TestParseID3v2Truncated(t *testing.T) {
	t.Parallel()
	tag := v2Tag(3, 0, joinFrames(
		v2Frame(3, "TIT2", 0, textPayload(0, "Kept")),
		v2Frame(3, "TPE1", 0, textPayload(0, "Lost artist")),
	))
	got, ok := ParseID3v2(tag[:len(tag)-4])
	require.True(t, ok)
	assert.Equal(t, ID3Tags{Title: "Kept"}, got)

	_, ok = ParseID3v2([]byte("ID3"))
	assert.False(t, ok)
	_, ok = ParseID3v2(v2Tag(5, 0, nil))
	assert.False(t, ok, "unknown major version")
}

func id3v1Tag(title, artist, album, year string, track, genre byte) []byte {
	tag := make([]byte, ID3v1Size)
	copy(tag, "TAG")
	copy(tag[3:33], title)
	copy(tag[33:63], artist)
	copy(tag[63:93], album)
	copy(tag[93:97], year)
	tag[126] = track
	tag[127] = genre
	return tag
}

func TestParseID3v1(t *testing.T) {
	t.Parallel()

	got, ok := ParseID3v1(id3v1Tag("Caf\xe9 Song   ", "Artist", "Album", "2001", 9, 17))
	require.True(t, ok)
	assert.Equal(t, ID3Tags{
		Title: "Café Song", Artist: "Artist", Album: "Album", Date: "2001", Genre: "Rock", TrackNumber: 9,
	}, got)

	v10 := id3v1Tag("T", "", "", "", 0, 255)
	copy(v10[97:127], "a comment that fills all thirty")
	got, ok = ParseID3v1(v10)
	require.True(t, ok)
	assert.Zero(t, got.TrackNumber, "no v1.1 track without the zero marker")
	assert.Empty(t, got.Genre)

	_, ok = ParseID3v1(make([]byte, ID3v1Size))
	assert.False(t, ok)
	_, ok = ParseID3v1([]byte("TAG"))
	assert.False(t, ok)
}

func TestID3TagsMergeAndApply(t *testing.T) {
	t.Parallel()
	v2 := ID3Tags{Title: "From v2", TrackNumber: 4}
	v1 := ID3Tags{Title: "From v1", Artist: "Singer", Genre: "Rock", TrackNumber: 9, DiscNumber: 1}

	merged := v2.Merge(v1)
	assert.Equal(t, ID3Tags{Title: "From v2", Artist: "Singer", Genre: "Rock", TrackNumber: 4, DiscNumber: 1}, merged)
	assert.True(t, ID3Tags{}.IsEmpty())
	assert.False(t, merged.IsEmpty())

	info := StreamInfo{HasArtwork: true}
	merged.Apply(&info)
	assert.Equal(t, "From v2", info.Title)
	assert.Equal(t, "Singer", info.Artist)
	assert.Equal(t, uint32(4), info.TrackNumber)
	assert.True(t, info.HasArtwork)
}

func TestContentType(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"(17)", "Rock"},
		{"17", "Rock"},
		{"(8)Jazz Fusion", "Jazz Fusion"},
		{"Ambient", "Ambient"},
		{"(RX)", "RX"},
		{"(300)", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, contentType(tt.in), tt.in)
	}
}
