package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/mediacore/internal/app"
	"github.com/tphakala/mediacore/internal/buildinfo"
)

func run(t *testing.T, rt *app.Runtime, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := RootCommand(rt)
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionSkipsInitialization(t *testing.T) {
	rt := app.New(buildinfo.NewContext("0.9.0", "2024-01-02", ""))
	out, err := run(t, rt, "version", "--config", filepath.Join(t.TempDir(), "broken.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "mediacore 0.9.0")
	assert.Nil(t, rt.Settings)
}

func TestFlagsOverrideConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("flac:\n  subset_mode: disabled\niso:\n  sample_table_mode: eager\n"), 0o600))

	rt := app.New(nil)
	out, err := run(t, rt, "--config", path, "--flac-subset", "strict", "info")
	require.NoError(t, err)
	assert.Contains(t, out, "Containers:")

	require.NotNil(t, rt.Settings)
	assert.Equal(t, "strict", rt.Settings.FLAC.SubsetMode, "flag wins")
	assert.Equal(t, "eager", rt.Settings.ISO.SampleTableMode, "file wins over default")
	assert.Equal(t, "127.0.0.1:9464", rt.Settings.Metrics.Listen, "default survives")
}

func TestInvalidConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("flac:\n  subset_mode: sometimes\n"), 0o600))

	_, err := run(t, app.New(nil), "--config", path, "info")
	require.Error(t, err)
}
