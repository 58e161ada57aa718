package flac

import "encoding/binary"

// MaxFrameBlockSize is the largest block size a frame header can encode.
const MaxFrameBlockSize = 65535

// Frame is one decoded frame. Channels alias the parser's scratch buffers
// and stay valid until the next call to Decode.
type Frame struct {
	Header   FrameHeader
	Channels [][]int64
	Size     int // bytes consumed, including the CRC-16

	MaxLPCOrder       int
	MaxPartitionOrder int
}

// FrameParser decodes whole frames from memory.
type FrameParser struct {
	si       *StreamInfo
	maxBlock uint32
	sub      SubframeDecoder
	scratch  [][]int64
}

// NewFrameParser returns a parser. si may be nil when the stream has no
// STREAMINFO. maxBlock caps the block size the parser allocates for.
func NewFrameParser(si *StreamInfo, maxBlock uint32) *FrameParser {
	if maxBlock == 0 || maxBlock > MaxFrameBlockSize {
		maxBlock = MaxFrameBlockSize
	}
	return &FrameParser{si: si, maxBlock: maxBlock}
}

// SetStreamInfo replaces the values frame headers may defer to.
func (p *FrameParser) SetStreamInfo(si *StreamInfo) { p.si = si }

func (p *FrameParser) channels(n int, blockSize uint32) [][]int64 {
	if len(p.scratch) < n {
		p.scratch = append(p.scratch, make([][]int64, n-len(p.scratch))...)
	}
	for i := range n {
		if uint32(cap(p.scratch[i])) < blockSize {
			p.scratch[i] = make([]int64, blockSize)
		}
		p.scratch[i] = p.scratch[i][:blockSize]
	}
	return p.scratch[:n]
}

// Decode decodes the frame at the start of data.
func (p *FrameParser) Decode(data []byte) (Frame, error) {
	var f Frame
	h, err := ParseFrameHeader(data, p.si)
	if err != nil {
		return f, err
	}
	if h.BlockSize > p.maxBlock {
		return f, errBlockTooLarge(h.BlockSize, p.maxBlock)
	}
	if p.si != nil && p.si.Channels != 0 && h.Channels != int(p.si.Channels) {
		return f, bitstreamError("frame has %d channels, stream has %d", h.Channels, p.si.Channels)
	}
	f.Header = h
	f.MaxPartitionOrder = -1
	ch := p.channels(h.Channels, h.BlockSize)

	br := NewBitReader(data[h.Size:])
	for i := range ch {
		if err := p.sub.Decode(br, h.BlockSize, SideBits(h.ChannelAssignment, i, h.BitsPerSample), ch[i]); err != nil {
			return f, err
		}
		if p.sub.LastType == SubframeLPC {
			f.MaxLPCOrder = max(f.MaxLPCOrder, p.sub.LastOrder)
		}
		f.MaxPartitionOrder = max(f.MaxPartitionOrder, p.sub.PartitionOrder())
	}
	br.Align()

	end := h.Size + br.BytePos()
	if end+2 > len(data) {
		return f, bitstreamError("frame truncated before crc16")
	}
	want := binary.BigEndian.Uint16(data[end:])
	if got := crc16(data[:end]); got != want {
		return f, frameError(ErrFrameCRC, "crc16 %#04x, frame says %#04x", got, want)
	}

	Decorrelate(h.ChannelAssignment, ch)
	f.Channels = ch
	f.Size = end + 2
	return f, nil
}
