package info

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/mediacore/internal/app"
	"github.com/tphakala/mediacore/internal/buildinfo"
	"github.com/tphakala/mediacore/internal/codec"
	"github.com/tphakala/mediacore/internal/cpuspec"
	"github.com/tphakala/mediacore/internal/demux"
	"github.com/tphakala/mediacore/internal/pipeline"
)

func TestVersionCommand(t *testing.T) {
	t.Parallel()
	var out bytes.Buffer
	cmd := VersionCommand(app.New(buildinfo.NewContext("1.2.3", "2024-05-01", "")))
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Equal(t, "mediacore 1.2.3 (built 2024-05-01)\n", out.String())
}

func TestWrite(t *testing.T) {
	t.Parallel()
	rt := app.New(buildinfo.NewContext("1.2.3", "", ""))
	rt.Deps = pipeline.Deps{
		Registry: demux.NewDefaultRegistry(demux.Options{}),
		Codecs:   codec.NewDefaultFactory(codec.Options{}),
	}

	var out bytes.Buffer
	spec := cpuspec.CPUSpec{BrandName: "Apple M2", LogicalCores: 8, PhysicalCores: 8, PerformanceCores: 4}
	require.NoError(t, write(&out, rt, spec))

	s := out.String()
	assert.Contains(t, s, "mediacore 1.2.3")
	assert.Contains(t, s, "Apple M2 (unknown)")
	assert.Contains(t, s, "4 performance")
	assert.Contains(t, s, "riff")
	assert.Contains(t, s, "m4a")
	assert.Contains(t, s, "flac, pcm, vorbis, opus, mp3, alac")
	assert.NotContains(t, s, "Buffer pool")
}
