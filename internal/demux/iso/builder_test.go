package iso

import (
	"encoding/binary"
)

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func mkbox(typ string, parts ...[]byte) []byte {
	body := cat(parts...)
	out := binary.BigEndian.AppendUint32(nil, uint32(8+len(body)))
	out = append(out, typ...)
	return append(out, body...)
}

func full(version byte, flags uint32, parts ...[]byte) []byte {
	return cat([]byte{version, byte(flags >> 16), byte(flags >> 8), byte(flags)}, cat(parts...))
}

func be16(vs ...uint16) []byte {
	var out []byte
	for _, v := range vs {
		out = binary.BigEndian.AppendUint16(out, v)
	}
	return out
}

func be32(vs ...uint32) []byte {
	var out []byte
	for _, v := range vs {
		out = binary.BigEndian.AppendUint32(out, v)
	}
	return out
}

func be64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func zeros(n int) []byte { return make([]byte, n) }

// m4aConfig describes a synthetic single-track file.
type m4aConfig struct {
	prefix          []byte
	samples         [][]byte
	samplesPerChunk int
	timescale       uint32
	delta           uint32
	title           string
	track           uint16
	entry           []byte // sample entry box; defaults to AAC
}

func aacEntry() []byte {
	esds := mkbox("esds", full(0, 0,
		[]byte{0x03, 25}, be16(1), []byte{0},
		[]byte{0x04, 17, 0x40, 0x15}, zeros(3), be32(128000, 128000),
		[]byte{0x05, 2, 0x12, 0x10},
		[]byte{0x06, 1, 0x02},
	))
	return mkbox("mp4a", zeros(6), be16(1),
		be16(0, 0), be32(0), be16(2, 16, 0, 0), be32(44100<<16),
		esds)
}

func pcmEntry(format string, channels, bits uint16, rate uint32) []byte {
	return mkbox(format, zeros(6), be16(1),
		be16(0, 0), be32(0), be16(channels, bits, 0, 0), be32(rate<<16))
}

func (c m4aConfig) stbl(base uint64) []byte {
	n := len(c.samples)
	spc := c.samplesPerChunk
	if spc <= 0 {
		spc = 1
	}
	var offsets []uint32
	off := base
	for i, s := range c.samples {
		if i%spc == 0 {
			offsets = append(offsets, uint32(off))
		}
		off += uint64(len(s))
	}

	var stsc []byte
	entries := uint32(1)
	stsc = be32(1, uint32(min(spc, n)), 1)
	if n%spc != 0 && n > spc {
		entries = 2
		stsc = cat(stsc, be32(uint32(len(offsets)), uint32(n%spc), 1))
	}

	sizes := be32(0, uint32(n))
	for _, s := range c.samples {
		sizes = cat(sizes, be32(uint32(len(s))))
	}

	entry := c.entry
	if entry == nil {
		entry = aacEntry()
	}
	return mkbox("stbl",
		mkbox("stsd", full(0, 0, be32(1), entry)),
		mkbox("stts", full(0, 0, be32(1, uint32(n), c.delta))),
		mkbox("stsc", full(0, 0, be32(entries), stsc)),
		mkbox("stsz", full(0, 0, sizes)),
		mkbox("stco", full(0, 0, be32(uint32(len(offsets))), be32(offsets...))),
	)
}

func (c m4aConfig) moov(base uint64) []byte {
	dur := uint32(len(c.samples)) * c.delta
	trak := mkbox("trak",
		mkbox("tkhd", full(0, 7, zeros(8), be32(1), zeros(68))),
		mkbox("mdia",
			mkbox("mdhd", full(0, 0, zeros(8), be32(c.timescale, dur), be16(0x55c4, 0))),
			mkbox("hdlr", full(0, 0, be32(0), []byte("soun"), zeros(12), []byte("audio\x00"))),
			mkbox("minf",
				mkbox("smhd", full(0, 0, zeros(4))),
				c.stbl(base),
			),
		),
	)
	parts := [][]byte{
		mkbox("mvhd", full(0, 0, zeros(8), be32(c.timescale, dur), zeros(76))),
		trak,
	}
	if c.title != "" || c.track != 0 {
		var items [][]byte
		if c.title != "" {
			items = append(items, mkbox("\xa9nam", mkbox("data", be32(1, 0), []byte(c.title))))
		}
		if c.track != 0 {
			items = append(items, mkbox("trkn", mkbox("data", be32(0, 0), be16(0, c.track, 12, 0))))
		}
		items = append(items, mkbox("covr", mkbox("data", be32(13, 0), []byte{0xff, 0xd8})))
		parts = append(parts, mkbox("udta",
			mkbox("meta", full(0, 0,
				mkbox("hdlr", full(0, 0, be32(0), []byte("mdir"), zeros(12), []byte{0})),
				mkbox("ilst", items...),
			)),
		))
	}
	return mkbox("moov", parts...)
}

func buildM4A(c m4aConfig) []byte {
	if c.timescale == 0 {
		c.timescale = 44100
	}
	if c.delta == 0 {
		c.delta = 1024
	}
	ftyp := mkbox("ftyp", []byte("M4A "), be32(0), []byte("M4A isom"))
	moov := c.moov(0)
	base := uint64(len(c.prefix) + len(ftyp) + len(moov) + 8)
	moov = c.moov(base)
	return cat(c.prefix, ftyp, moov, mkbox("mdat", c.samples...))
}

func testSamples(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = make([]byte, 10+i)
		for j := range out[i] {
			out[i][j] = byte(i + 1)
		}
	}
	return out
}

// id3Tag returns an ID3v2 header with an empty body of size n.
func id3Tag(n int) []byte {
	return cat([]byte{'I', 'D', '3', 4, 0, 0,
		byte(n >> 21 & 0x7f), byte(n >> 14 & 0x7f), byte(n >> 7 & 0x7f), byte(n & 0x7f)}, zeros(n))
}

// fragmentedFile builds a movie with an empty sample table and one moof
// per entry of seqs, each carrying sizes samples of 1024 ticks.
func fragmentedFile(seqs []uint32, sizes []uint32) ([]byte, map[uint32][]byte) {
	empty := mkbox("stbl",
		mkbox("stsd", full(0, 0, be32(1), aacEntry())),
		mkbox("stts", full(0, 0, be32(0))),
		mkbox("stsc", full(0, 0, be32(0))),
		mkbox("stsz", full(0, 0, be32(0, 0))),
		mkbox("stco", full(0, 0, be32(0))),
	)
	moov := mkbox("moov",
		mkbox("mvhd", full(0, 0, zeros(8), be32(44100, 0), zeros(76))),
		mkbox("trak",
			mkbox("tkhd", full(0, 7, zeros(8), be32(1), zeros(68))),
			mkbox("mdia",
				mkbox("mdhd", full(0, 0, zeros(8), be32(44100, 0), be16(0, 0))),
				mkbox("hdlr", full(0, 0, be32(0), []byte("soun"), zeros(12), []byte{0})),
				mkbox("minf", mkbox("smhd", full(0, 0, zeros(4))), empty),
			),
		),
		mkbox("mvex", mkbox("trex", full(0, 0, be32(1, 1, 1024, 0, 0)))),
	)
	out := cat(mkbox("ftyp", []byte("iso6"), be32(0), []byte("iso6dash")), moov)
	payloads := make(map[uint32][]byte)

	for _, seq := range seqs {
		var data []byte
		for i, sz := range sizes {
			for range sz {
				data = append(data, byte(seq*16+uint32(i)))
			}
		}
		payloads[seq] = data
		moof := func(dataOffset uint32) []byte {
			return mkbox("moof",
				mkbox("mfhd", full(0, 0, be32(seq))),
				mkbox("traf",
					mkbox("tfhd", full(0, 0x020000, be32(1))),
					mkbox("tfdt", full(0, 0, be32(0))),
					mkbox("trun", full(0, 0x000201, be32(uint32(len(sizes)), dataOffset), be32(sizes...))),
				),
			)
		}
		m := moof(0)
		m = moof(uint32(len(m) + 8))
		out = cat(out, m, mkbox("mdat", data))
	}
	return out, payloads
}
