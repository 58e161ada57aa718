package media

import (
	"io"
)

const id3HeaderSize = 10

// ID3v2Size parses a 10-byte ID3v2 header and returns the full tag length
// including header and optional footer, or 0 if hdr is not an ID3v2 header.
func ID3v2Size(hdr []byte) int64 {
	if len(hdr) < id3HeaderSize || hdr[0] != 'I' || hdr[1] != 'D' || hdr[2] != '3' {
		return 0
	}
	if hdr[3] == 0xFF || hdr[4] == 0xFF {
		return 0
	}
	// Synchsafe: the high bit of every size byte must be clear
	for _, b := range hdr[6:10] {
		if b&0x80 != 0 {
			return 0
		}
	}
	size := int64(hdr[6])<<21 | int64(hdr[7])<<14 | int64(hdr[8])<<7 | int64(hdr[9])
	total := size + id3HeaderSize
	if hdr[5]&0x10 != 0 {
		total += id3HeaderSize // footer present
	}
	return total
}

// SkipID3v2 skips any number of consecutive ID3v2 tags at the current position
// and returns the number of bytes skipped. The position is left at the first
// non-tag byte.
func SkipID3v2(h IOHandler) (int64, error) {
	start := h.Tell()
	var hdr [id3HeaderSize]byte
	pos := start
	for {
		if _, err := h.Seek(pos, io.SeekStart); err != nil {
			return pos - start, err
		}
		n, err := io.ReadFull(h, hdr[:])
		if n < id3HeaderSize || err != nil {
			break
		}
		tag := ID3v2Size(hdr[:])
		if tag == 0 || (h.Size() > 0 && pos+tag > h.Size()) {
			break
		}
		pos += tag
	}
	if _, err := h.Seek(pos, io.SeekStart); err != nil {
		return pos - start, err
	}
	return pos - start, nil
}
