package media

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// ID3v1Size is the length of the trailing ID3v1 tag.
const ID3v1Size = 128

// ID3Tags are the descriptive fields read from ID3v1 and ID3v2 tags.
type ID3Tags struct {
	Title       string
	Artist      string
	Album       string
	Genre       string
	Date        string
	TrackNumber uint32
	DiscNumber  uint32
	HasArtwork  bool
}

// IsEmpty reports whether no field is set.
func (t ID3Tags) IsEmpty() bool {
	return t == ID3Tags{}
}

// Merge fills the fields t leaves empty from fallback.
func (t ID3Tags) Merge(fallback ID3Tags) ID3Tags {
	pick := func(a, b string) string {
		if a != "" {
			return a
		}
		return b
	}
	t.Title = pick(t.Title, fallback.Title)
	t.Artist = pick(t.Artist, fallback.Artist)
	t.Album = pick(t.Album, fallback.Album)
	t.Genre = pick(t.Genre, fallback.Genre)
	t.Date = pick(t.Date, fallback.Date)
	if t.TrackNumber == 0 {
		t.TrackNumber = fallback.TrackNumber
	}
	if t.DiscNumber == 0 {
		t.DiscNumber = fallback.DiscNumber
	}
	t.HasArtwork = t.HasArtwork || fallback.HasArtwork
	return t
}

// Apply copies the fields into s.
func (t ID3Tags) Apply(s *StreamInfo) {
	s.Title = t.Title
	s.Artist = t.Artist
	s.Album = t.Album
	s.Genre = t.Genre
	s.Date = t.Date
	s.TrackNumber = t.TrackNumber
	s.DiscNumber = t.DiscNumber
	s.HasArtwork = s.HasArtwork || t.HasArtwork
}

// ParseID3v1 reads a 128-byte ID3v1 or ID3v1.1 tag.
func ParseID3v1(p []byte) (ID3Tags, bool) {
	if len(p) < ID3v1Size || string(p[:3]) != "TAG" {
		return ID3Tags{}, false
	}
	t := ID3Tags{
		Title:  latin1Field(p[3:33]),
		Artist: latin1Field(p[33:63]),
		Album:  latin1Field(p[63:93]),
		Date:   latin1Field(p[93:97]),
		Genre:  genreName(int(p[127])),
	}
	if p[125] == 0 && p[126] != 0 {
		t.TrackNumber = uint32(p[126])
	}
	return t, true
}

func latin1Field(p []byte) string {
	if i := bytes.IndexByte(p, 0); i >= 0 {
		p = p[:i]
	}
	return strings.TrimSpace(decodeText(charmap.ISO8859_1, p))
}

// frame IDs of ID3v2.2 mapped to their v2.3 names.
var v22Frames = map[string]string{
	"TT2": "TIT2",
	"TP1": "TPE1",
	"TAL": "TALB",
	"TCO": "TCON",
	"TYE": "TYER",
	"TRK": "TRCK",
	"TPA": "TPOS",
	"PIC": "APIC",
}

// ParseID3v2 reads the text frames of the ID3v2.2, 2.3 or 2.4 tag at the
// start of p. A truncated tag yields the frames that are complete.
func ParseID3v2(p []byte) (ID3Tags, bool) {
	total := ID3v2Size(p)
	if total == 0 {
		return ID3Tags{}, false
	}
	version, flags := p[3], p[5]
	if version < 2 || version > 4 {
		return ID3Tags{}, false
	}
	end := min(int64(len(p)), total)
	if flags&0x10 != 0 {
		end = min(end, total-id3HeaderSize)
	}
	body := p[id3HeaderSize:end]
	if flags&0x80 != 0 && version < 4 {
		body = removeUnsync(body)
	}
	if flags&0x40 != 0 && version > 2 {
		body = skipExtendedHeader(body, version)
	}

	var t ID3Tags
	var year, recorded string
	for len(body) > 0 && body[0] != 0 {
		id, payload, rest, ok := nextFrame(body, version)
		if !ok {
			break
		}
		body = rest
		if version == 2 {
			if mapped, known := v22Frames[id]; known {
				id = mapped
			}
		}
		switch id {
		case "APIC":
			t.HasArtwork = true
		case "TIT2":
			t.Title = textFrame(payload)
		case "TPE1":
			t.Artist = textFrame(payload)
		case "TALB":
			t.Album = textFrame(payload)
		case "TCON":
			t.Genre = contentType(textFrame(payload))
		case "TDRC":
			recorded = textFrame(payload)
		case "TYER":
			year = textFrame(payload)
		case "TRCK":
			t.TrackNumber = leadingNumber(textFrame(payload))
		case "TPOS":
			t.DiscNumber = leadingNumber(textFrame(payload))
		}
	}
	t.Date = recorded
	if t.Date == "" {
		t.Date = year
	}
	return t, true
}

func removeUnsync(p []byte) []byte {
	out := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		out = append(out, p[i])
		if p[i] == 0xFF && i+1 < len(p) && p[i+1] == 0 {
			i++
		}
	}
	return out
}

func skipExtendedHeader(body []byte, version byte) []byte {
	if len(body) < 4 {
		return nil
	}
	var n int
	if version == 4 {
		n = synchsafe(body[:4])
	} else {
		n = int(binary.BigEndian.Uint32(body)) + 4
	}
	if n < 0 || n > len(body) {
		return nil
	}
	return body[n:]
}

func synchsafe(p []byte) int {
	v := 0
	for _, b := range p {
		v = v<<7 | int(b&0x7F)
	}
	return v
}

// nextFrame splits the frame at the start of body. Compressed and
// encrypted frames are returned with a nil payload.
func nextFrame(body []byte, version byte) (id string, payload, rest []byte, ok bool) {
	var size, hdr int
	var format byte
	switch version {
	case 2:
		if len(body) < 6 {
			return "", nil, nil, false
		}
		id, size, hdr = string(body[:3]), int(body[3])<<16|int(body[4])<<8|int(body[5]), 6
	case 3:
		if len(body) < 10 {
			return "", nil, nil, false
		}
		id, size, hdr = string(body[:4]), int(binary.BigEndian.Uint32(body[4:])), 10
		if body[9]&0xC0 != 0 {
			format = 0x0C
		}
	default:
		if len(body) < 10 {
			return "", nil, nil, false
		}
		id, size, hdr = string(body[:4]), synchsafe(body[4:8]), 10
		format = body[9]
	}
	if size < 0 || hdr+size > len(body) {
		return "", nil, nil, false
	}
	payload, rest = body[hdr:hdr+size], body[hdr+size:]
	switch {
	case format&0x0C != 0:
		payload = nil
	case format&0x01 != 0:
		// data length indicator
		if len(payload) < 4 {
			payload = nil
		} else {
			payload = payload[4:]
		}
	}
	if format&0x02 != 0 && payload != nil {
		payload = removeUnsync(payload)
	}
	return id, payload, rest, true
}

// textFrame decodes a text information frame and returns its first value.
func textFrame(p []byte) string {
	if len(p) < 1 {
		return ""
	}
	var enc encoding.Encoding
	text := p[1:]
	switch p[0] {
	case 0:
		enc = charmap.ISO8859_1
	case 1:
		enc = unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	case 2:
		enc = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
	default:
		enc = encoding.Nop
	}
	s := decodeText(enc, text)
	s, _, _ = strings.Cut(s, "\x00")
	return strings.TrimSpace(s)
}

func decodeText(enc encoding.Encoding, p []byte) string {
	out, err := enc.NewDecoder().Bytes(p)
	if err != nil {
		return ""
	}
	return string(out)
}

// contentType resolves "(17)", "17" and "(17)Rock" style genre references.
func contentType(s string) string {
	if rest, ok := strings.CutPrefix(s, "("); ok {
		num, after, found := strings.Cut(rest, ")")
		if !found {
			return s
		}
		if after != "" {
			return after
		}
		s = num
	}
	if n, err := strconv.Atoi(s); err == nil {
		return genreName(n)
	}
	return s
}

func leadingNumber(s string) uint32 {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

func genreName(i int) string {
	if i < 0 || i >= len(id3Genres) {
		return ""
	}
	return id3Genres[i]
}

// id3Genres is the ID3v1 genre list.
var id3Genres = [...]string{
	"Blues", "Classic Rock", "Country", "Dance", "Disco", "Funk", "Grunge", "Hip-Hop",
	"Jazz", "Metal", "New Age", "Oldies", "Other", "Pop", "R&B", "Rap",
	"Reggae", "Rock", "Techno", "Industrial", "Alternative", "Ska", "Death Metal", "Pranks",
	"Soundtrack", "Euro-Techno", "Ambient", "Trip-Hop", "Vocal", "Jazz+Funk", "Fusion", "Trance",
	"Classical", "Instrumental", "Acid", "House", "Game", "Sound Clip", "Gospel", "Noise",
	"AlternRock", "Bass", "Soul", "Punk", "Space", "Meditative", "Instrumental Pop", "Instrumental Rock",
	"Ethnic", "Gothic", "Darkwave", "Techno-Industrial", "Electronic", "Pop-Folk", "Eurodance", "Dream",
	"Southern Rock", "Comedy", "Cult", "Gangsta", "Top 40", "Christian Rap", "Pop/Funk", "Jungle",
	"Native American", "Cabaret", "New Wave", "Psychadelic", "Rave", "Showtunes", "Trailer", "Lo-Fi",
	"Tribal", "Acid Punk", "Acid Jazz", "Polka", "Retro", "Musical", "Rock & Roll", "Hard Rock",
}
