package decode

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/mediacore/internal/app"
	"github.com/tphakala/mediacore/internal/pipeline"
)

func writeInput(t *testing.T, rate, channels, frames int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	data := make([]int, frames*channels)
	for i := range data {
		data[i] = (i*37)%2000 - 1000
	}
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: rate, NumChannels: channels},
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	return path
}

func readOutput(t *testing.T, path string) *audio.IntBuffer {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	return buf
}

func TestRenderRoundTrip(t *testing.T) {
	t.Parallel()
	in := writeInput(t, 22050, 2, 3000)
	s, err := pipeline.Open(in, pipeline.Deps{})
	require.NoError(t, err)
	defer s.Close()

	outPath := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(outPath)
	require.NoError(t, err)
	sum, err := Render(s, f, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Equal(t, uint64(3000), sum.Samples)
	assert.Equal(t, uint32(22050), sum.SampleRate)
	assert.Equal(t, uint16(2), sum.Channels)

	got := readOutput(t, outPath)
	want := readOutput(t, in)
	assert.Equal(t, 22050, got.Format.SampleRate)
	assert.Equal(t, want.Data, got.Data)
}

func TestRenderLimit(t *testing.T) {
	t.Parallel()
	in := writeInput(t, 8000, 1, 8000)
	s, err := pipeline.Open(in, pipeline.Deps{})
	require.NoError(t, err)
	defer s.Close()

	outPath := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(outPath)
	require.NoError(t, err)
	sum, err := Render(s, f, 1234)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Equal(t, uint64(1234), sum.Samples)
	assert.Len(t, readOutput(t, outPath).Data, 1234)
}

func TestSummaryRealtime(t *testing.T) {
	t.Parallel()
	assert.Zero(t, Summary{}.Realtime())
	s := Summary{Samples: 48000, SampleRate: 48000, Elapsed: 500_000_000}
	assert.InDelta(t, 2.0, s.Realtime(), 1e-9)
}

func TestCommand(t *testing.T) {
	in := writeInput(t, 16000, 1, 16000)
	out := filepath.Join(t.TempDir(), "decoded.wav")

	var stdout bytes.Buffer
	cmd := Command(&app.Runtime{})
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"--output", out, "--start", "500", "--duration", "0.25", in})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	assert.Contains(t, stdout.String(), "4000 samples")
	assert.Len(t, readOutput(t, out).Data, 4000)

	cmd = Command(&app.Runtime{})
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "missing.flac")})
	require.Error(t, cmd.ExecuteContext(context.Background()))
}
