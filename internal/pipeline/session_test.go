package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/mediacore/internal/bufpool"
	"github.com/tphakala/mediacore/internal/conf"
	"github.com/tphakala/mediacore/internal/media"
	"github.com/tphakala/mediacore/internal/observability/metrics"
)

func writeWAV(t *testing.T, rate, channels, frames int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	samples := make([]int, frames*channels)
	for i := range samples {
		samples[i] = i % 1000
	}
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Data:           samples,
		Format:         &audio.Format{SampleRate: rate, NumChannels: channels},
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	return path
}

type chunkCounter struct {
	metrics.NopRecorder
	chunks int
}

func (c *chunkCounter) RecordChunk(string) { c.chunks++ }

func TestDecodeWholeFile(t *testing.T) {
	t.Parallel()
	path := writeWAV(t, 16000, 2, 5000)
	rec := &chunkCounter{}

	s, err := Open(path, Deps{Recorder: rec})
	require.NoError(t, err)
	defer s.Close()

	info := s.Info()
	assert.Equal(t, media.CodecPCM, info.CodecName)
	assert.Equal(t, uint32(16000), info.SampleRate)
	assert.Equal(t, "pcm", s.CodecName())
	assert.Equal(t, uint64(312), s.Duration())
	assert.Len(t, s.Streams(), 1)

	total := 0
	for {
		f, err := s.NextFrame()
		if err != nil {
			require.ErrorIs(t, err, media.ErrEndOfStream)
			break
		}
		if total == 0 {
			assert.Equal(t, []int16{0, 1, 2, 3}, f.Samples[:4])
		}
		total += f.Len()
	}
	assert.Equal(t, 5000, total)
	assert.Equal(t, 2, rec.chunks)
	assert.Equal(t, uint64(2), s.Frames())

	_, err = s.NextFrame()
	require.ErrorIs(t, err, media.ErrEndOfStream, "end of stream is sticky")

	require.NoError(t, s.SeekTo(100))
	f, err := s.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, uint64(1600), f.TimestampSamples)

	pos := s.Position()
	require.Error(t, s.SeekTo(60_000))
	assert.Equal(t, pos, s.Position(), "failed seek keeps the position")

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.NextFrame()
	require.Error(t, err)
}

func TestOpenRejections(t *testing.T) {
	t.Parallel()
	_, err := Open(filepath.Join(t.TempDir(), "missing.wav"), Deps{})
	require.ErrorIs(t, err, media.ErrIO)

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("not audio at all, just some text"), 0o600))
	_, err = Open(path, Deps{})
	require.ErrorIs(t, err, media.ErrUnsupported)
}

func TestNewDepsFromSettings(t *testing.T) {
	t.Parallel()
	settings := conf.DefaultSettings()
	deps, err := NewDeps(settings, nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Contains(t, deps.Codecs.Names(), "opus")

	s, err := Open(writeWAV(t, 8000, 1, 800), deps)
	require.NoError(t, err)
	f, err := s.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, 800, f.Len())
	require.NoError(t, s.Close())

	scratch := bufpool.NewTieredPool()
	deps, err = NewDeps(settings, bufpool.HeapAllocator{}, scratch, nil, nil)
	require.NoError(t, err)
	s, err = Open(writeWAV(t, 8000, 1, 800), deps)
	require.NoError(t, err)
	_, err = s.NextFrame()
	require.NoError(t, err)
	require.NoError(t, s.Close())

	settings.FLAC.SubsetMode = "sometimes"
	_, err = NewDeps(settings, nil, nil, nil, nil)
	require.Error(t, err)
}
