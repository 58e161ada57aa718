package flac

// Channel assignments
const (
	ChannelLeftSide  = 8
	ChannelRightSide = 9
	ChannelMidSide   = 10
)

// MaxFrameHeaderSize bounds a frame header: 2 sync bytes, 2 code bytes,
// a 7-byte coded number, 2 block size bytes, 2 rate bytes and the CRC.
const MaxFrameHeaderSize = 16

// FrameHeader is a decoded frame header.
type FrameHeader struct {
	VariableBlocking  bool
	BlockSize         uint32
	SampleRate        uint32
	ChannelAssignment uint8
	Channels          int
	BitsPerSample     uint8
	// Number is the frame number for fixed blocking and the first sample
	// number for variable blocking.
	Number uint64
	Size   int // header length including the CRC-8 byte
}

// IsSync reports whether p starts with a frame sync code.
func IsSync(p []byte) bool {
	return len(p) >= 2 && p[0] == 0xFF && p[1]&0xFE == 0xF8
}

// FindSync returns the offset of the first sync code at or after from, or -1.
func FindSync(p []byte, from int) int {
	for i := max(from, 0); i+1 < len(p); i++ {
		if p[i] == 0xFF && p[i+1]&0xFE == 0xF8 {
			return i
		}
	}
	return -1
}

var sampleRateCodes = [12]uint32{0, 88200, 176400, 192000, 8000, 16000, 22050, 24000, 32000, 44100, 48000, 96000}

var sampleSizeCodes = [8]uint8{0, 8, 12, 0, 16, 20, 24, 32}

// ParseFrameHeader decodes the header at the start of p. si supplies the
// values a header may defer to STREAMINFO; it may be nil when none is known.
func ParseFrameHeader(p []byte, si *StreamInfo) (FrameHeader, error) {
	var h FrameHeader
	if !IsSync(p) {
		return h, frameError(ErrSyncLost, "no sync code")
	}
	if len(p) < 5 {
		return h, bitstreamError("header truncated at %d bytes", len(p))
	}
	h.VariableBlocking = p[1]&0x01 != 0
	bsCode := p[2] >> 4
	rateCode := p[2] & 0x0F
	h.ChannelAssignment = p[3] >> 4
	sizeCode := p[3] >> 1 & 0x07
	if p[3]&0x01 != 0 {
		return h, reservedError("header reserved bit set")
	}

	num, n, ok := decodeUTF8Number(p[4:])
	if !ok {
		return h, bitstreamError("invalid coded number")
	}
	if !h.VariableBlocking && num >= 1<<31 {
		return h, bitstreamError("frame number %d out of range", num)
	}
	h.Number = num
	pos := 4 + n

	switch {
	case bsCode == 0:
		return h, reservedError("block size code 0")
	case bsCode == 1:
		h.BlockSize = 192
	case bsCode <= 5:
		h.BlockSize = 576 << (bsCode - 2)
	case bsCode == 6:
		if pos+1 > len(p) {
			return h, bitstreamError("header truncated")
		}
		h.BlockSize = uint32(p[pos]) + 1
		pos++
	case bsCode == 7:
		if pos+2 > len(p) {
			return h, bitstreamError("header truncated")
		}
		h.BlockSize = (uint32(p[pos])<<8 | uint32(p[pos+1])) + 1
		if h.BlockSize > 65535 {
			return h, reservedError("block size 65536")
		}
		pos += 2
	default:
		h.BlockSize = 256 << (bsCode - 8)
	}

	switch {
	case rateCode == 0:
		if si == nil {
			return h, bitstreamError("sample rate deferred to missing STREAMINFO")
		}
		h.SampleRate = si.SampleRate
	case rateCode < 12:
		h.SampleRate = sampleRateCodes[rateCode]
	case rateCode == 12:
		if pos+1 > len(p) {
			return h, bitstreamError("header truncated")
		}
		h.SampleRate = uint32(p[pos]) * 1000
		pos++
	case rateCode == 13 || rateCode == 14:
		if pos+2 > len(p) {
			return h, bitstreamError("header truncated")
		}
		h.SampleRate = uint32(p[pos])<<8 | uint32(p[pos+1])
		if rateCode == 14 {
			h.SampleRate *= 10
		}
		pos += 2
	default:
		return h, reservedError("sample rate code 15")
	}

	switch {
	case h.ChannelAssignment < 8:
		h.Channels = int(h.ChannelAssignment) + 1
	case h.ChannelAssignment <= ChannelMidSide:
		h.Channels = 2
	default:
		return h, reservedError("channel assignment %d", h.ChannelAssignment)
	}

	switch {
	case sizeCode == 3:
		return h, reservedError("sample size code 3")
	case sizeCode == 0:
		if si == nil {
			return h, bitstreamError("sample size deferred to missing STREAMINFO")
		}
		h.BitsPerSample = si.BitsPerSample
	default:
		h.BitsPerSample = sampleSizeCodes[sizeCode]
	}

	if pos+1 > len(p) {
		return h, bitstreamError("header truncated before crc")
	}
	if got := crc8(p[:pos]); got != p[pos] {
		return h, frameError(ErrHeaderCRC, "crc8 %#02x, header says %#02x", got, p[pos])
	}
	h.Size = pos + 1
	return h, nil
}

// FirstSample returns the stream position of the frame's first sample.
// fixed is the stream's fixed block size, or 0 to use the header's.
func (h FrameHeader) FirstSample(fixed uint32) uint64 {
	if h.VariableBlocking {
		return h.Number
	}
	if fixed == 0 {
		fixed = h.BlockSize
	}
	return h.Number * uint64(fixed)
}
