package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/mediacore/internal/app"
	"github.com/tphakala/mediacore/internal/demux"
)

func writeWAV(t *testing.T, dir, name string, rate, channels, frames int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Data:           make([]int, frames*channels),
		Format:         &audio.Format{SampleRate: rate, NumChannels: channels},
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	return path
}

func fixtureDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeWAV(t, dir, "a.wav", 44100, 2, 44100)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("plain text, no media here"), 0o600))
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	writeWAV(t, sub, "b.wav", 8000, 1, 4000)
	return dir
}

func TestCollect(t *testing.T) {
	t.Parallel()
	dir := fixtureDir(t)

	flat, err := collect([]string{dir}, false)
	require.NoError(t, err)
	assert.Len(t, flat, 2)

	deep, err := collect([]string{dir}, true)
	require.NoError(t, err)
	assert.Len(t, deep, 3)

	_, err = collect([]string{filepath.Join(dir, "missing")}, false)
	require.Error(t, err)
}

func TestScan(t *testing.T) {
	t.Parallel()
	dir := fixtureDir(t)
	files, err := collect([]string{dir}, true)
	require.NoError(t, err)

	results, err := Scan(context.Background(), demux.NewDefaultRegistry(demux.Options{}), files, 2)
	require.NoError(t, err)
	require.Len(t, results, 3)

	byName := map[string]Result{}
	for _, r := range results {
		byName[filepath.Base(r.Path)] = r
	}

	a := byName["a.wav"]
	assert.Equal(t, demux.FormatRIFF, a.Format)
	assert.Equal(t, "signature", a.Method)
	assert.Equal(t, uint64(1000), a.DurationMs)
	require.Len(t, a.Streams, 1)
	assert.Equal(t, uint32(44100), a.Streams[0].SampleRate)
	assert.Equal(t, uint16(2), a.Streams[0].Channels)

	assert.Equal(t, uint64(500), byName["b.wav"].DurationMs)
	assert.Equal(t, "unrecognized format", byName["notes.txt"].Error)
}

func TestScanCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Scan(ctx, nil, []string{"x.wav"}, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCommandOutputFormats(t *testing.T) {
	dir := fixtureDir(t)
	rt := &app.Runtime{}

	var out bytes.Buffer
	cmd := Command(rt)
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--format", "json", "--jobs", "1", filepath.Join(dir, "a.wav")})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	var results []Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "pcm", results[0].Streams[0].Codec)

	out.Reset()
	cmd = Command(rt)
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--format", "table", dir})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "PATH")
	assert.Contains(t, out.String(), "unrecognized format")

	cmd = Command(rt)
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--format", "xml", dir})
	require.Error(t, cmd.ExecuteContext(context.Background()))
}
