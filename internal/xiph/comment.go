package xiph

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/tphakala/mediacore/internal/media"
)

// VorbisComment is a decoded comment block as used by Vorbis, Opus and
// FLAC. Field names are upper-cased; repeated fields keep the first value.
type VorbisComment struct {
	Vendor string
	Fields map[string]string
}

// ParseVorbisComment decodes a comment block body: little-endian length
// prefixed vendor string, field count and KEY=value fields.
func ParseVorbisComment(p []byte) (VorbisComment, error) {
	vc := VorbisComment{Fields: make(map[string]string)}
	next := func() ([]byte, error) {
		if len(p) < 4 {
			return nil, fmt.Errorf("%w: comment block truncated", media.ErrInvalidMedia)
		}
		n := binary.LittleEndian.Uint32(p)
		p = p[4:]
		if uint64(n) > uint64(len(p)) {
			return nil, fmt.Errorf("%w: comment of %d bytes in %d", media.ErrInvalidMedia, n, len(p))
		}
		s := p[:n]
		p = p[n:]
		return s, nil
	}
	vendor, err := next()
	if err != nil {
		return vc, err
	}
	vc.Vendor = string(vendor)
	if len(p) < 4 {
		return vc, fmt.Errorf("%w: comment count missing", media.ErrInvalidMedia)
	}
	count := binary.LittleEndian.Uint32(p)
	p = p[4:]
	// each field needs at least its length prefix
	if uint64(count)*4 > uint64(len(p)) {
		return vc, fmt.Errorf("%w: %d comments in %d bytes", media.ErrInvalidMedia, count, len(p))
	}
	for range count {
		field, err := next()
		if err != nil {
			return vc, err
		}
		key, value, ok := strings.Cut(string(field), "=")
		if !ok || key == "" {
			continue
		}
		key = strings.ToUpper(key)
		if _, dup := vc.Fields[key]; !dup {
			vc.Fields[key] = value
		}
	}
	return vc, nil
}

// Apply copies the well-known fields into s.
func (vc VorbisComment) Apply(s *media.StreamInfo) {
	f := vc.Fields
	s.Title = f["TITLE"]
	s.Artist = f["ARTIST"]
	s.Album = f["ALBUM"]
	s.Genre = f["GENRE"]
	s.Date = f["DATE"]
	s.TrackNumber = leadingNumber(f["TRACKNUMBER"])
	s.DiscNumber = leadingNumber(f["DISCNUMBER"])
	if f["METADATA_BLOCK_PICTURE"] != "" {
		s.HasArtwork = true
	}
}

// leadingNumber parses "3" and "3/12" alike.
func leadingNumber(s string) uint32 {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}
