package flac

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/icza/bitio"
	"github.com/stretchr/testify/require"
)

type bitioWriter = bitio.Writer

type bitBuffer struct{ bytes.Buffer }

func (b *bitBuffer) writer() *bitio.Writer { return bitio.NewWriter(&b.Buffer) }

// frameSpec describes a frame for buildFrame. Every frame is 16-bit at
// 44.1 kHz with an explicit block size.
type frameSpec struct {
	number     uint8 // < 128, single-byte coded
	blockSize  uint32
	assignment uint8
	subframes  []func(w *bitio.Writer, bps uint8)
}

func constantSubframe(v int64) func(*bitio.Writer, uint8) {
	return func(w *bitio.Writer, bps uint8) {
		must(w.WriteBits(0, 1))
		must(w.WriteBits(0, 6))
		must(w.WriteBits(0, 1))
		must(w.WriteBits(uint64(v)&(1<<bps-1), bps))
	}
}

func verbatimSubframe(vals ...int64) func(*bitio.Writer, uint8) {
	return func(w *bitio.Writer, bps uint8) {
		must(w.WriteBits(0, 1))
		must(w.WriteBits(1, 6))
		must(w.WriteBits(0, 1))
		for _, v := range vals {
			must(w.WriteBits(uint64(v)&(1<<bps-1), bps))
		}
	}
}

// fixedSubframe writes a FIXED subframe with Rice parameter k and a single
// partition.
func fixedSubframe(order int, warmup []int64, residuals []int64, k uint8) func(*bitio.Writer, uint8) {
	return func(w *bitio.Writer, bps uint8) {
		must(w.WriteBits(0, 1))
		must(w.WriteBits(uint64(0x08+order), 6))
		must(w.WriteBits(0, 1))
		for _, v := range warmup {
			must(w.WriteBits(uint64(v)&(1<<bps-1), bps))
		}
		writeRice(w, residuals, k)
	}
}

func writeRice(w *bitio.Writer, residuals []int64, k uint8) {
	must(w.WriteBits(riceMethod4, 2))
	must(w.WriteBits(0, 4)) // partition order
	must(w.WriteBits(uint64(k), 4))
	for _, r := range residuals {
		u := uint64(r<<1) ^ uint64(r>>63)
		for range u >> k {
			must(w.WriteBits(0, 1))
		}
		must(w.WriteBits(1, 1))
		if k > 0 {
			must(w.WriteBits(u&(1<<k-1), k))
		}
	}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func buildHeader(fs frameSpec) []byte {
	channels := len(fs.subframes)
	assignment := fs.assignment
	if assignment < ChannelLeftSide {
		assignment = uint8(channels - 1)
	}
	hdr := []byte{0xFF, 0xF8}
	if fs.blockSize <= 256 {
		hdr = append(hdr, 0x60|0x09, assignment<<4|0x04<<1, fs.number, byte(fs.blockSize-1))
	} else {
		hdr = append(hdr, 0x70|0x09, assignment<<4|0x04<<1, fs.number,
			byte((fs.blockSize-1)>>8), byte(fs.blockSize-1))
	}
	return append(hdr, crc8(hdr))
}

func buildFrame(t *testing.T, fs frameSpec) []byte {
	t.Helper()
	hdr := buildHeader(fs)
	assignment := fs.assignment
	if assignment < ChannelLeftSide {
		assignment = uint8(len(fs.subframes) - 1)
	}
	var body bytes.Buffer
	w := bitio.NewWriter(&body)
	for i, sf := range fs.subframes {
		sf(w, SideBits(assignment, i, 16))
	}
	require.NoError(t, w.Close())
	frame := append(hdr, body.Bytes()...)
	return binary.BigEndian.AppendUint16(frame, crc16(frame))
}

func testStreamInfo(blockSize uint16, channels uint8) StreamInfo {
	return StreamInfo{
		MinBlockSize:  blockSize,
		MaxBlockSize:  blockSize,
		SampleRate:    44100,
		Channels:      channels,
		BitsPerSample: 16,
	}
}
