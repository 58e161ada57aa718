package iso

import (
	"strings"
	"unicode/utf8"

	"github.com/tphakala/mediacore/internal/media"
)

// ArtworkSentinel is stored for cover art instead of the image bytes.
const ArtworkSentinel = "[artwork]"

// Metadata holds iTunes-style tags.
type Metadata struct {
	Title       string
	Artist      string
	Album       string
	Date        string
	Genre       string
	TrackNumber uint32
	DiscNumber  uint32
	HasArtwork  bool
	Tags        map[string]string
}

// Apply copies the tags into s.
func (md Metadata) Apply(s *media.StreamInfo) {
	s.Title = md.Title
	s.Artist = md.Artist
	s.Album = md.Album
	s.Date = md.Date
	s.Genre = md.Genre
	s.TrackNumber = md.TrackNumber
	s.DiscNumber = md.DiscNumber
	s.HasArtwork = md.HasArtwork
}

// MetadataExtractor reads ilst atoms below udta/meta.
type MetadataExtractor struct {
	read func(b *box) ([]byte, error)
}

// newMetadataExtractor returns an extractor that loads payloads through read.
func newMetadataExtractor(read func(b *box) ([]byte, error)) *MetadataExtractor {
	return &MetadataExtractor{read: read}
}

// Extract collects tags from every ilst reachable from moov. Unreadable
// items are skipped.
func (x *MetadataExtractor) Extract(moov *box) Metadata {
	md := Metadata{Tags: make(map[string]string)}
	if moov == nil {
		return md
	}
	for _, ilst := range findIlsts(moov) {
		for _, item := range ilst.children {
			x.extractItem(item, &md)
		}
	}
	return md
}

// findIlsts returns ilst boxes under moov/udta/meta and moov/meta.
func findIlsts(moov *box) []*box {
	var out []*box
	metas := moov.all(typeMeta)
	for _, udta := range moov.all(typeUdta) {
		metas = append(metas, udta.all(typeMeta)...)
	}
	for _, meta := range metas {
		out = append(out, meta.all(typeIlst)...)
	}
	return out
}

func (x *MetadataExtractor) extractItem(item *box, md *Metadata) {
	data := item.child(typeData)
	if data == nil {
		return
	}
	p, err := x.read(data)
	if err != nil || len(p) < 8 {
		return
	}
	value := p[8:] // skip type and locale

	switch item.typ {
	case "\xa9nam":
		md.Title = text(value)
		md.Tags["title"] = md.Title
	case "\xa9ART":
		md.Artist = text(value)
		md.Tags["artist"] = md.Artist
	case "aART":
		md.Tags["album_artist"] = text(value)
		if md.Artist == "" {
			md.Artist = md.Tags["album_artist"]
		}
	case "\xa9alb":
		md.Album = text(value)
		md.Tags["album"] = md.Album
	case "\xa9day":
		md.Date = text(value)
		md.Tags["date"] = md.Date
	case "\xa9gen":
		md.Genre = text(value)
		md.Tags["genre"] = md.Genre
	case "\xa9cmt":
		md.Tags["comment"] = text(value)
	case "\xa9wrt":
		md.Tags["composer"] = text(value)
	case "trkn":
		md.TrackNumber = uint32(u16(value, 2))
	case "disk":
		md.DiscNumber = uint32(u16(value, 2))
	case "covr":
		md.HasArtwork = true
		md.Tags["artwork"] = ArtworkSentinel
	}
}

func text(p []byte) string {
	s := strings.TrimRight(string(p), "\x00")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	return s
}
