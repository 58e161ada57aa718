// Package iso demultiplexes ISO base media files (MP4, M4A, MOV, 3GP),
// including fragmented movies.
package iso

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/logger"
	"github.com/tphakala/mediacore/internal/media"
)

// MaxRecursionDepth bounds container nesting.
const MaxRecursionDepth = 32

// maxBoxes bounds the number of headers collected for a single file.
const maxBoxes = 1 << 20

// Box types referenced by the parser
const (
	typeFtyp = "ftyp"
	typeMoov = "moov"
	typeMvhd = "mvhd"
	typeTrak = "trak"
	typeTkhd = "tkhd"
	typeMdia = "mdia"
	typeMdhd = "mdhd"
	typeHdlr = "hdlr"
	typeMinf = "minf"
	typeStbl = "stbl"
	typeStsd = "stsd"
	typeStts = "stts"
	typeStsc = "stsc"
	typeStsz = "stsz"
	typeStz2 = "stz2"
	typeStco = "stco"
	typeCo64 = "co64"
	typeStss = "stss"
	typeUdta = "udta"
	typeMeta = "meta"
	typeIlst = "ilst"
	typeData = "data"
	typeMdat = "mdat"
	typeMvex = "mvex"
	typeTrex = "trex"
	typeMoof = "moof"
	typeMfhd = "mfhd"
	typeTraf = "traf"
	typeTfhd = "tfhd"
	typeTfdt = "tfdt"
	typeTrun = "trun"
)

// GetLogger returns the iso module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("iso")
}

// containers lists the box types whose payload is a sequence of boxes.
var containers = map[string]bool{
	typeMoov: true, typeTrak: true, typeMdia: true, typeMinf: true,
	typeStbl: true, typeUdta: true, typeMeta: true, typeIlst: true,
	"edts": true, "dinf": true, typeMvex: true, typeMoof: true, typeTraf: true,
}

// box is one parsed header plus, for containers, its children.
type box struct {
	typ      string
	offset   int64 // first byte of the header
	size     int64 // header plus payload
	hdrLen   int64 // 8, or 16 for the 64-bit form
	large    bool  // size came from the 64-bit field
	toEnd    bool  // size field was zero
	depth    int
	children []*box
}

func (b *box) payloadOffset() int64 { return b.offset + b.hdrLen }
func (b *box) payloadSize() int64   { return b.size - b.hdrLen }
func (b *box) end() int64           { return b.offset + b.size }

// child returns the first direct child of type typ.
func (b *box) child(typ string) *box {
	for _, c := range b.children {
		if c.typ == typ {
			return c
		}
	}
	return nil
}

// all returns every direct child of type typ.
func (b *box) all(typ string) []*box {
	var out []*box
	for _, c := range b.children {
		if c.typ == typ {
			out = append(out, c)
		}
	}
	return out
}

// path follows a chain of first children, e.g. path("mdia", "minf", "stbl").
func (b *box) path(types ...string) *box {
	cur := b
	for _, t := range types {
		if cur = cur.child(t); cur == nil {
			return nil
		}
	}
	return cur
}

func structural(format string, args ...any) error {
	return errors.New(fmt.Errorf("%w: %s", media.ErrInvalidMedia, fmt.Sprintf(format, args...))).
		Component("iso").
		Category(errors.CategoryContainer).
		Build()
}

// readBoxHeader reads the header at off. parentEnd bounds the box.
func readBoxHeader(h media.IOHandler, off, parentEnd int64) (*box, error) {
	if parentEnd-off < 8 {
		return nil, structural("truncated box header at %d", off)
	}
	if _, err := h.Seek(off, io.SeekStart); err != nil {
		return nil, err
	}
	var hdr [16]byte
	if err := media.ReadFull(h, hdr[:8]); err != nil {
		return nil, err
	}
	b := &box{
		typ:    string(hdr[4:8]),
		offset: off,
		size:   int64(binary.BigEndian.Uint32(hdr[0:4])),
		hdrLen: 8,
	}
	switch b.size {
	case 1:
		if parentEnd-off < 16 {
			return nil, structural("truncated 64-bit size for %q at %d", b.typ, off)
		}
		if err := media.ReadFull(h, hdr[8:16]); err != nil {
			return nil, err
		}
		large := binary.BigEndian.Uint64(hdr[8:16])
		if large < 16 || large > uint64(parentEnd-off) {
			return nil, structural("invalid 64-bit size %d for %q at %d", large, b.typ, off)
		}
		b.size = int64(large)
		b.hdrLen = 16
		b.large = true
	case 0:
		b.size = parentEnd - off
		b.toEnd = true
	default:
		if b.size < 8 {
			return nil, structural("box %q at %d smaller than its header", b.typ, off)
		}
	}
	if b.size > parentEnd-off {
		return nil, structural("box %q at %d exceeds its container", b.typ, off)
	}
	return b, nil
}

// childStart returns where b's children begin. meta is a full box in ISO
// files but a plain container in some QuickTime files.
func childStart(h media.IOHandler, b *box) int64 {
	start := b.payloadOffset()
	if b.typ != typeMeta {
		return start
	}
	var peek [8]byte
	if n, _ := media.ReadAt(h, start, peek[:]); n == 8 && string(peek[4:8]) == typeHdlr {
		return start
	}
	return start + 4
}

type walkEntry struct {
	node       *box
	start, end int64
}

// walkBoxes reads the box tree between start and end. Containers are
// expanded through an explicit worklist, so nesting depth never grows the
// goroutine stack.
func walkBoxes(h media.IOHandler, start, end int64) (*box, error) {
	root := &box{typ: "root", offset: start, size: end - start, depth: -1}
	work := []walkEntry{{node: root, start: start, end: end}}
	count := 0

	for len(work) > 0 {
		e := work[len(work)-1]
		work = work[:len(work)-1]

		off := e.start
		for e.end-off >= 8 {
			b, err := readBoxHeader(h, off, e.end)
			if err != nil {
				return nil, err
			}
			b.depth = e.node.depth + 1
			if b.depth >= MaxRecursionDepth {
				return nil, structural("box nesting deeper than %d at %d", MaxRecursionDepth, off)
			}
			if count++; count > maxBoxes {
				return nil, structural("more than %d boxes", maxBoxes)
			}
			e.node.children = append(e.node.children, b)
			if containers[b.typ] || e.node.typ == typeIlst {
				work = append(work, walkEntry{node: b, start: childStart(h, b), end: b.end()})
			}
			if b.toEnd {
				break
			}
			off = b.end()
		}
	}
	return root, nil
}

// Big-endian field readers over a payload slice. They return zero past the
// end so table parsers can check lengths once up front.
func u16(p []byte, off int) uint16 {
	if off+2 > len(p) {
		return 0
	}
	return binary.BigEndian.Uint16(p[off:])
}

func u32(p []byte, off int) uint32 {
	if off+4 > len(p) {
		return 0
	}
	return binary.BigEndian.Uint32(p[off:])
}

func u64(p []byte, off int) uint64 {
	if off+8 > len(p) {
		return 0
	}
	return binary.BigEndian.Uint64(p[off:])
}
