package iso

import (
	"encoding/binary"
	"math"

	"github.com/tphakala/mediacore/internal/media"
)

// SampleToChunk is one stsc entry. FirstChunk is 1-based.
type SampleToChunk struct {
	FirstChunk      uint32
	SamplesPerChunk uint32
	DescIndex       uint32
}

// TimeToSample is one stts entry.
type TimeToSample struct {
	Count uint32
	Delta uint32
}

// SampleTableInfo holds the raw sample tables of one track.
type SampleTableInfo struct {
	ChunkOffsets  []uint64
	SampleToChunk []SampleToChunk
	// SampleSizes has one entry per sample unless ConstantSize is set.
	SampleSizes  []uint32
	ConstantSize uint32
	SampleCount  uint32
	TimeToSample []TimeToSample
	// SyncSamples holds 1-based sample numbers. Nil means every sample is a
	// sync sample.
	SyncSamples []uint32
}

// Track is an audio track found in the movie box.
type Track struct {
	ID            uint32
	Handler       string
	Format        string // sample entry fourcc
	CodecName     string
	SampleRate    uint32
	Channels      uint16
	BitsPerSample uint16
	AvgBitrate    uint32
	CodecConfig   []byte
	Timescale     uint32
	Duration      uint64 // in Timescale units
	Language      string

	SampleFormat media.SampleFormat
	ByteOrder    media.ByteOrder
	// BytesPerFrame is set for uncompressed formats where one sample is
	// one PCM frame.
	BytesPerFrame uint32

	Tables SampleTableInfo
}

// IsPCM reports whether the track carries uncompressed or G.711 samples.
func (t *Track) IsPCM() bool {
	switch t.CodecName {
	case media.CodecPCM, media.CodecALaw, media.CodecMuLaw:
		return true
	}
	return false
}

// DurationMs converts the media duration to milliseconds.
func (t *Track) DurationMs() uint64 {
	if t.Timescale == 0 {
		return 0
	}
	return t.Duration * 1000 / uint64(t.Timescale)
}

func parseTkhd(p []byte, t *Track) {
	if len(p) < 4 {
		return
	}
	if p[0] == 1 {
		t.ID = u32(p, 20)
	} else {
		t.ID = u32(p, 12)
	}
}

func parseMdhd(p []byte, t *Track) error {
	if len(p) < 24 {
		return structural("short mdhd")
	}
	var lang uint16
	if p[0] == 1 {
		if len(p) < 36 {
			return structural("short mdhd v1")
		}
		t.Timescale = u32(p, 20)
		t.Duration = u64(p, 24)
		lang = u16(p, 32)
	} else {
		t.Timescale = u32(p, 12)
		t.Duration = uint64(u32(p, 16))
		lang = u16(p, 20)
	}
	if lang != 0 {
		t.Language = string([]byte{
			byte(lang>>10&0x1f) + 0x60,
			byte(lang>>5&0x1f) + 0x60,
			byte(lang&0x1f) + 0x60,
		})
	}
	return nil
}

func parseHdlr(p []byte) string {
	if len(p) < 12 {
		return ""
	}
	return string(p[8:12])
}

func parseStts(p []byte) ([]TimeToSample, error) {
	n := int(u32(p, 4))
	if len(p) < 8 || n > (len(p)-8)/8 {
		return nil, structural("stts entry count %d exceeds box", n)
	}
	out := make([]TimeToSample, n)
	for i := range out {
		out[i] = TimeToSample{Count: u32(p, 8+i*8), Delta: u32(p, 12+i*8)}
	}
	return out, nil
}

func parseStsc(p []byte) ([]SampleToChunk, error) {
	n := int(u32(p, 4))
	if len(p) < 8 || n > (len(p)-8)/12 {
		return nil, structural("stsc entry count %d exceeds box", n)
	}
	out := make([]SampleToChunk, n)
	for i := range out {
		o := 8 + i*12
		out[i] = SampleToChunk{FirstChunk: u32(p, o), SamplesPerChunk: u32(p, o+4), DescIndex: u32(p, o+8)}
		if out[i].FirstChunk == 0 || (i > 0 && out[i].FirstChunk <= out[i-1].FirstChunk) {
			return nil, structural("stsc first chunk out of order at entry %d", i)
		}
	}
	return out, nil
}

func parseStsz(p []byte, st *SampleTableInfo) error {
	if len(p) < 12 {
		return structural("short stsz")
	}
	st.ConstantSize = u32(p, 4)
	st.SampleCount = u32(p, 8)
	if st.ConstantSize != 0 {
		return nil
	}
	n := int(st.SampleCount)
	if n > (len(p)-12)/4 {
		return structural("stsz sample count %d exceeds box", n)
	}
	st.SampleSizes = make([]uint32, n)
	for i := range st.SampleSizes {
		st.SampleSizes[i] = u32(p, 12+i*4)
	}
	return nil
}

// parseStz2 reads the compact sample size box with 4, 8 or 16-bit fields.
func parseStz2(p []byte, st *SampleTableInfo) error {
	if len(p) < 12 {
		return structural("short stz2")
	}
	field := int(p[7])
	n := int(u32(p, 8))
	body := p[12:]
	var need int
	switch field {
	case 4:
		need = (n + 1) / 2
	case 8:
		need = n
	case 16:
		need = n * 2
	default:
		return structural("stz2 field size %d", field)
	}
	if need > len(body) {
		return structural("stz2 sample count %d exceeds box", n)
	}
	st.SampleCount = uint32(n)
	st.SampleSizes = make([]uint32, n)
	for i := range st.SampleSizes {
		switch field {
		case 4:
			b := body[i/2]
			if i%2 == 0 {
				st.SampleSizes[i] = uint32(b >> 4)
			} else {
				st.SampleSizes[i] = uint32(b & 0x0f)
			}
		case 8:
			st.SampleSizes[i] = uint32(body[i])
		case 16:
			st.SampleSizes[i] = uint32(binary.BigEndian.Uint16(body[i*2:]))
		}
	}
	return nil
}

func parseChunkOffsets(p []byte, wide bool) ([]uint64, error) {
	n := int(u32(p, 4))
	w := 4
	if wide {
		w = 8
	}
	if len(p) < 8 || n > (len(p)-8)/w {
		return nil, structural("chunk offset count %d exceeds box", n)
	}
	out := make([]uint64, n)
	for i := range out {
		if wide {
			out[i] = u64(p, 8+i*8)
		} else {
			out[i] = uint64(u32(p, 8+i*4))
		}
	}
	return out, nil
}

func parseStss(p []byte) ([]uint32, error) {
	n := int(u32(p, 4))
	if len(p) < 8 || n > (len(p)-8)/4 {
		return nil, structural("stss entry count %d exceeds box", n)
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = u32(p, 8+i*4)
	}
	return out, nil
}

// audio sample entry layout: 8 byte box header, 6 reserved, 2 data ref index,
// then the sound description fields.
const (
	entryHeader   = 8
	soundFieldsAt = 16
	soundV0Len    = 20
	soundV1Extra  = 16
	soundV2Extra  = 36
)

// parseStsd reads the first audio sample entry into t.
func parseStsd(p []byte, t *Track) error {
	if len(p) < 8 || u32(p, 4) == 0 {
		return structural("empty stsd")
	}
	entry := p[8:]
	size := int(u32(entry, 0))
	if size < soundFieldsAt+soundV0Len || size > len(entry) {
		return structural("sample entry size %d", size)
	}
	entry = entry[:size]
	t.Format = string(entry[4:8])

	s := entry[soundFieldsAt:]
	version := u16(s, 0)
	t.Channels = u16(s, 8)
	t.BitsPerSample = u16(s, 10)
	t.SampleRate = u32(s, 16) >> 16
	childAt := soundFieldsAt + soundV0Len

	switch version {
	case 1:
		childAt += soundV1Extra
	case 2:
		if len(s) < soundV0Len+soundV2Extra {
			return structural("short v2 sound description")
		}
		v2 := s[soundV0Len:]
		t.SampleRate = uint32(math.Float64frombits(binary.BigEndian.Uint64(v2[4:12])))
		t.Channels = uint16(u32(v2, 12))
		t.BitsPerSample = uint16(u32(v2, 20))
		flags := u32(v2, 24)
		if t.Format == "lpcm" {
			applyLPCMFlags(t, flags)
		}
		childAt += soundV2Extra
	}
	if childAt > len(entry) {
		childAt = len(entry)
	}
	children := entry[childAt:]

	switch t.Format {
	case "mp4a":
		t.CodecName = media.CodecAAC
		if esds := findChildBox(children, "esds", true); esds != nil {
			parseEsds(esds, t)
		}
	case "alac":
		t.CodecName = media.CodecALAC
		if cookie := findRawChildBox(children, "alac", true); cookie != nil {
			t.CodecConfig = append([]byte(nil), cookie...)
			if len(cookie) >= 36 {
				t.BitsPerSample = uint16(cookie[17])
				t.Channels = uint16(cookie[21])
				t.SampleRate = binary.BigEndian.Uint32(cookie[32:36])
			}
		}
	case "fLaC":
		t.CodecName = media.CodecFLAC
		if dfla := findChildBox(children, "dfLa", true); dfla != nil && len(dfla) >= 4+4+34 {
			t.CodecConfig = append([]byte(nil), dfla[8:8+34]...)
		}
	case "Opus":
		t.CodecName = media.CodecOpus
		if dops := findChildBox(children, "dOps", true); dops != nil {
			t.CodecConfig = opusHeadFromDOps(dops)
		}
		t.SampleRate = 48000
	case ".mp3":
		t.CodecName = media.CodecMP3
	case "ulaw":
		setPCM(t, media.CodecMuLaw, 8, media.SampleFormatInt, media.BigEndian)
	case "alaw":
		setPCM(t, media.CodecALaw, 8, media.SampleFormatInt, media.BigEndian)
	case "sowt":
		setPCM(t, media.CodecPCM, 16, media.SampleFormatInt, media.LittleEndian)
	case "twos":
		setPCM(t, media.CodecPCM, t.BitsPerSample, media.SampleFormatInt, media.BigEndian)
	case "raw ":
		setPCM(t, media.CodecPCM, 8, media.SampleFormatUint, media.BigEndian)
	case "in24":
		setPCM(t, media.CodecPCM, 24, media.SampleFormatInt, pcmEndian(children))
	case "in32":
		setPCM(t, media.CodecPCM, 32, media.SampleFormatInt, pcmEndian(children))
	case "fl32":
		setPCM(t, media.CodecPCM, 32, media.SampleFormatFloat, pcmEndian(children))
	case "fl64":
		setPCM(t, media.CodecPCM, 64, media.SampleFormatFloat, pcmEndian(children))
	case "lpcm":
		setPCM(t, media.CodecPCM, t.BitsPerSample, t.SampleFormat, t.ByteOrder)
	default:
		t.CodecName = ""
	}
	return nil
}

func setPCM(t *Track, codec string, bits uint16, sf media.SampleFormat, order media.ByteOrder) {
	if bits == 0 {
		bits = 16
	}
	t.CodecName = codec
	t.BitsPerSample = bits
	t.SampleFormat = sf
	t.ByteOrder = order
	t.BytesPerFrame = uint32(t.Channels) * uint32(bits) / 8
}

// applyLPCMFlags decodes the kAudioFormatFlag bits of a v2 lpcm entry.
func applyLPCMFlags(t *Track, flags uint32) {
	switch {
	case flags&0x1 != 0:
		t.SampleFormat = media.SampleFormatFloat
	case flags&0x4 != 0:
		t.SampleFormat = media.SampleFormatInt
	default:
		t.SampleFormat = media.SampleFormatUint
	}
	t.ByteOrder = media.LittleEndian
	if flags&0x2 != 0 {
		t.ByteOrder = media.BigEndian
	}
}

// pcmEndian honours an enda atom inside a QuickTime wave box.
func pcmEndian(children []byte) media.ByteOrder {
	wave := findChildBox(children, "wave", false)
	if wave == nil {
		return media.BigEndian
	}
	if enda := findChildBox(wave, "enda", false); len(enda) >= 2 && enda[1] == 1 {
		return media.LittleEndian
	}
	return media.BigEndian
}

// findRawChildBox scans a run of boxes in p for typ and returns the whole
// box including its header. QuickTime nests codec boxes inside wave, which
// is searched when deep is set.
func findRawChildBox(p []byte, typ string, deep bool) []byte {
	for off := 0; off+8 <= len(p); {
		size := int(binary.BigEndian.Uint32(p[off:]))
		if size < 8 || off+size > len(p) {
			return nil
		}
		name := string(p[off+4 : off+8])
		if name == typ {
			return p[off : off+size]
		}
		if deep && name == "wave" {
			if found := findRawChildBox(p[off+8:off+size], typ, false); found != nil {
				return found
			}
		}
		off += size
	}
	return nil
}

// findChildBox is findRawChildBox returning only the payload.
func findChildBox(p []byte, typ string, deep bool) []byte {
	raw := findRawChildBox(p, typ, deep)
	if raw == nil {
		return nil
	}
	return raw[8:]
}

// parseEsds walks the MPEG-4 descriptors of an esds full box.
func parseEsds(p []byte, t *Track) {
	if len(p) < 4 {
		return
	}
	d := p[4:]
	for len(d) >= 2 {
		tag := d[0]
		size, n := descriptorLength(d[1:])
		if n == 0 {
			return
		}
		body := d[1+n:]
		if size > len(body) {
			size = len(body)
		}
		switch tag {
		case 0x03: // ES_Descriptor
			if len(body) < 3 {
				return
			}
			flags := body[2]
			skip := 3
			if flags&0x80 != 0 {
				skip += 2
			}
			if flags&0x40 != 0 && skip < len(body) {
				skip += 1 + int(body[skip])
			}
			if flags&0x20 != 0 {
				skip += 2
			}
			if skip > len(body) {
				return
			}
			d = body[skip:]
			continue
		case 0x04: // DecoderConfigDescriptor
			if size < 13 {
				return
			}
			switch body[0] {
			case 0x69, 0x6b:
				t.CodecName = media.CodecMP3
			}
			t.AvgBitrate = binary.BigEndian.Uint32(body[9:13])
			d = body[13:size]
			continue
		case 0x05: // DecoderSpecificInfo
			t.CodecConfig = append([]byte(nil), body[:size]...)
			applyAudioSpecificConfig(t)
			return
		}
		d = body[size:]
	}
}

func descriptorLength(p []byte) (int, int) {
	size := 0
	for i := 0; i < 4 && i < len(p); i++ {
		size = size<<7 | int(p[i]&0x7f)
		if p[i]&0x80 == 0 {
			return size, i + 1
		}
	}
	return 0, 0
}

var aacSampleRates = [...]uint32{
	96000, 88200, 64000, 48000, 44100, 32000, 24000,
	22050, 16000, 12000, 11025, 8000, 7350,
}

// applyAudioSpecificConfig fills rate and channels from an AAC config when
// the sample entry left them unset.
func applyAudioSpecificConfig(t *Track) {
	cfg := t.CodecConfig
	if len(cfg) < 2 || t.CodecName != media.CodecAAC {
		return
	}
	idx := (cfg[0]&0x07)<<1 | cfg[1]>>7
	ch := uint16(cfg[1]>>3) & 0x0f
	if int(idx) < len(aacSampleRates) && t.SampleRate == 0 {
		t.SampleRate = aacSampleRates[idx]
	}
	if ch > 0 && ch < 8 && t.Channels == 0 {
		t.Channels = ch
	}
}

// opusHeadFromDOps rebuilds the Ogg OpusHead packet from a dOps box so the
// Opus codec sees the same setup data regardless of container.
func opusHeadFromDOps(p []byte) []byte {
	if len(p) < 11 {
		return nil
	}
	head := make([]byte, 0, 19+2+int(p[1]))
	head = append(head, "OpusHead"...)
	head = append(head, 1, p[1])
	head = binary.LittleEndian.AppendUint16(head, binary.BigEndian.Uint16(p[2:4]))
	head = binary.LittleEndian.AppendUint32(head, binary.BigEndian.Uint32(p[4:8]))
	head = binary.LittleEndian.AppendUint16(head, binary.BigEndian.Uint16(p[8:10]))
	head = append(head, p[10])
	if p[10] != 0 && len(p) >= 13+int(p[1]) {
		head = append(head, p[11:13+int(p[1])]...)
	}
	return head
}
