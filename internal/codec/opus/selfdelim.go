package opus

import (
	"fmt"

	"github.com/tphakala/mediacore/internal/media"
)

var errTruncated = fmt.Errorf("%w: opus packet truncated", media.ErrInvalidMedia)

// readLength decodes a frame length: one byte below 252, otherwise two
// bytes as second*4 + first.
func readLength(p []byte) (n, used int, ok bool) {
	switch {
	case len(p) < 1:
		return 0, 0, false
	case p[0] < 252:
		return int(p[0]), 1, true
	case len(p) < 2:
		return 0, 0, false
	}
	return int(p[1])*4 + int(p[0]), 2, true
}

// splitSelfDelimited takes the self-delimited packet at the front of p and
// returns it in standard framing, with the bytes that follow it. The extra
// length field is removed; everything else is copied unchanged.
func splitSelfDelimited(p []byte) (pkt, rest []byte, err error) {
	if len(p) < 2 {
		return nil, nil, errTruncated
	}
	toc := p[0]
	switch toc & 0x03 {
	case 0, 1:
		n, used, ok := readLength(p[1:])
		if !ok {
			return nil, nil, errTruncated
		}
		frames := 1 + int(toc&0x03)
		start := 1 + used
		end := start + frames*n
		if end > len(p) {
			return nil, nil, errTruncated
		}
		pkt = make([]byte, 0, 1+end-start)
		pkt = append(pkt, toc)
		return append(pkt, p[start:end]...), p[end:], nil

	case 2:
		n1, u1, ok := readLength(p[1:])
		if !ok {
			return nil, nil, errTruncated
		}
		n2, u2, ok := readLength(p[1+u1:])
		if !ok {
			return nil, nil, errTruncated
		}
		start := 1 + u1 + u2
		end := start + n1 + n2
		if end > len(p) {
			return nil, nil, errTruncated
		}
		pkt = make([]byte, 0, 1+u1+n1+n2)
		pkt = append(pkt, p[:1+u1]...)
		return append(pkt, p[start:end]...), p[end:], nil
	}

	// code 3: frame count byte, optional padding length, frame lengths
	count := p[1]
	m := int(count & 0x3F)
	if m == 0 {
		return nil, nil, fmt.Errorf("%w: opus code 3 packet with no frames", media.ErrInvalidMedia)
	}
	i := 2
	padding := 0
	if count&0x40 != 0 {
		for {
			if i >= len(p) {
				return nil, nil, errTruncated
			}
			b := p[i]
			i++
			if b != 255 {
				padding += int(b)
				break
			}
			padding += 254
		}
	}
	total := 0
	if count&0x80 != 0 {
		for range m - 1 {
			n, used, ok := readLength(p[i:])
			if !ok {
				return nil, nil, errTruncated
			}
			total += n
			i += used
		}
	}
	kept := i
	n, used, ok := readLength(p[i:])
	if !ok {
		return nil, nil, errTruncated
	}
	i += used
	if count&0x80 != 0 {
		total += n
	} else {
		total = m * n
	}
	end := i + total + padding
	if end > len(p) {
		return nil, nil, errTruncated
	}

	pkt = make([]byte, 0, kept+end-i)
	pkt = append(pkt, p[:kept]...)
	return append(pkt, p[i:end]...), p[end:], nil
}
