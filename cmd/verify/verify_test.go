package verify

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/icza/bitio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/mediacore/internal/app"
	"github.com/tphakala/mediacore/internal/media"
	"github.com/tphakala/mediacore/internal/pipeline"
)

type blocks struct {
	data [][]int16
	err  error
}

func (b *blocks) next() ([]int16, error) {
	if len(b.data) == 0 {
		if b.err != nil {
			return nil, b.err
		}
		return nil, io.EOF
	}
	blk := b.data[0]
	b.data = b.data[1:]
	return blk, nil
}

func TestCompareIgnoresBlocking(t *testing.T) {
	t.Parallel()
	native := &blocks{data: [][]int16{{1, 2, 3}, {4, 5, 6, 7}}}
	ref := &blocks{data: [][]int16{{1, 2}, {3, 4, 5, 6}, {7}}}
	rep, err := compare(native, ref, 0)
	require.NoError(t, err)
	assert.True(t, rep.OK())
	assert.Equal(t, uint64(7), rep.Samples)
	assert.Equal(t, int64(-1), rep.FirstMismatch)
}

func TestCompareReportsDifferences(t *testing.T) {
	t.Parallel()
	native := &blocks{data: [][]int16{{1, 2, 9, 4, 5}}}
	ref := &blocks{data: [][]int16{{1, 2, 3, 4}, {6}}}

	rep, err := compare(native, ref, 0)
	require.NoError(t, err)
	assert.False(t, rep.OK())
	assert.Equal(t, uint64(2), rep.Mismatches)
	assert.Equal(t, int64(2), rep.FirstMismatch)
	assert.Equal(t, 6, rep.MaxDiff)

	native = &blocks{data: [][]int16{{1, 2, 4}}}
	ref = &blocks{data: [][]int16{{1, 2, 3}}}
	rep, err = compare(native, ref, 1)
	require.NoError(t, err)
	assert.True(t, rep.OK(), "within tolerance")
	assert.Equal(t, 1, rep.MaxDiff)
}

func TestCompareLengthMismatch(t *testing.T) {
	t.Parallel()
	rep, err := compare(&blocks{data: [][]int16{{1, 2, 3, 4}}}, &blocks{data: [][]int16{{1, 2}}}, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rep.NativeExtra)
	assert.False(t, rep.OK())

	rep, err = compare(&blocks{}, &blocks{data: [][]int16{{1, 2}}}, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rep.ReferenceLeft)
}

func TestCompareDecoderError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	_, err := compare(&blocks{err: boom}, &blocks{data: [][]int16{{1}}}, 0)
	require.ErrorIs(t, err, boom)
	_, err = compare(&blocks{data: [][]int16{{1}}}, &blocks{err: boom}, 0)
	require.ErrorIs(t, err, boom)
}

func TestSignExtend(t *testing.T) {
	t.Parallel()
	assert.Equal(t, int64(-1), signExtend([]byte{0xFF, 0xFF}))
	assert.Equal(t, int64(0x1234), signExtend([]byte{0x34, 0x12}))
	assert.Equal(t, int64(-8388608), signExtend([]byte{0x00, 0x00, 0x80}))
	assert.Equal(t, int64(-128), signExtend([]byte{0x80}))
}

// FLAC fixture: 16-bit stereo at 44.1 kHz in fixed 64-sample blocks of
// VERBATIM subframes.

const (
	fixtureRate  = 44100
	fixtureBlock = 64
)

func crc8(p []byte) byte {
	var c byte
	for _, b := range p {
		c ^= b
		for range 8 {
			if c&0x80 != 0 {
				c = c<<1 ^ 0x07
			} else {
				c <<= 1
			}
		}
	}
	return c
}

func crc16(p []byte) uint16 {
	var c uint16
	for _, b := range p {
		c ^= uint16(b) << 8
		for range 8 {
			if c&0x8000 != 0 {
				c = c<<1 ^ 0x8005
			} else {
				c <<= 1
			}
		}
	}
	return c
}

func writeFLAC(t *testing.T, left, right []int16) string {
	t.Helper()
	require.Equal(t, len(left), len(right))
	require.Zero(t, len(left)%fixtureBlock)

	var pcm bytes.Buffer
	for i := range left {
		_ = binary.Write(&pcm, binary.LittleEndian, left[i])
		_ = binary.Write(&pcm, binary.LittleEndian, right[i])
	}
	sum := md5.Sum(pcm.Bytes())

	var si bytes.Buffer
	w := bitio.NewWriter(&si)
	require.NoError(t, w.WriteBits(fixtureBlock, 16))
	require.NoError(t, w.WriteBits(fixtureBlock, 16))
	require.NoError(t, w.WriteBits(0, 24))
	require.NoError(t, w.WriteBits(0, 24))
	require.NoError(t, w.WriteBits(fixtureRate, 20))
	require.NoError(t, w.WriteBits(1, 3))  // channels - 1
	require.NoError(t, w.WriteBits(15, 5)) // bits per sample - 1
	require.NoError(t, w.WriteBits(uint64(len(left)), 36))
	require.NoError(t, w.Close())
	si.Write(sum[:])
	require.Equal(t, 34, si.Len())

	var file bytes.Buffer
	file.WriteString("fLaC")
	file.Write([]byte{0x80, 0, 0, 34})
	file.Write(si.Bytes())

	for n := 0; n*fixtureBlock < len(left); n++ {
		hdr := []byte{0xFF, 0xF8, 0x69, 0x18, byte(n), fixtureBlock - 1}
		hdr = append(hdr, crc8(hdr))

		var body bytes.Buffer
		bw := bitio.NewWriter(&body)
		for _, ch := range [][]int16{left, right} {
			require.NoError(t, bw.WriteBits(0x02, 8)) // VERBATIM, no wasted bits
			for _, v := range ch[n*fixtureBlock : (n+1)*fixtureBlock] {
				require.NoError(t, bw.WriteBits(uint64(uint16(v)), 16))
			}
		}
		require.NoError(t, bw.Close())

		frame := append(hdr, body.Bytes()...)
		frame = binary.BigEndian.AppendUint16(frame, crc16(frame))
		file.Write(frame)
	}

	path := filepath.Join(t.TempDir(), "fixture.flac")
	require.NoError(t, os.WriteFile(path, file.Bytes(), 0o600))
	return path
}

func ramp(n int, step, offset int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16((i*step+offset)%60000 - 30000)
	}
	return out
}

func TestFileAgreesWithReference(t *testing.T) {
	t.Parallel()
	path := writeFLAC(t, ramp(256, 97, 0), ramp(256, 13, 500))

	rep, err := File(path, pipeline.Deps{}, 0)
	require.NoError(t, err)
	assert.True(t, rep.OK(), "%+v", rep)
	assert.Equal(t, uint64(512), rep.Samples)
}

func TestFileRejectsOtherCodecs(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "x.raw")
	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0o600))
	_, err := File(path, pipeline.Deps{}, 0)
	require.ErrorIs(t, err, media.ErrUnsupported)
}

func TestCommand(t *testing.T) {
	path := writeFLAC(t, ramp(128, 5, 7), ramp(128, 11, 3))

	var out bytes.Buffer
	cmd := Command(&app.Runtime{})
	cmd.SetOut(&out)
	cmd.SetArgs([]string{path})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "OK")
	assert.Contains(t, out.String(), "256 samples identical")
}
