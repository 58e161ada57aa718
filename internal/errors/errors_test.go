package errors

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)
	ClearErrorHooks()

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
}

func TestBuilderContext(t *testing.T) {
	t.Parallel()

	ee := Newf("box %q exceeds parent", "moov").
		Component("demux.iso").
		Category(CategoryContainer).
		StreamContext("aac", 4096).
		StreamContext("", -1).
		Build()

	assert.Equal(t, "demux.iso", ee.GetComponent())
	ctx := ee.GetContext()
	assert.Equal(t, "aac", ctx["codec"])
	assert.Equal(t, int64(4096), ctx["offset"])

	ctx["codec"] = "changed"
	assert.Equal(t, "aac", ee.GetContext()["codec"], "context must be returned as a copy")
}

func TestFileContextHidesPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path     string
		size     int64
		wantExt  string
		wantSize any
	}{
		{"/home/alice/music/track.FLAC", 5 << 20, "flac", "medium"},
		{`C:\rips\album.v2\song`, 512, "none", "tiny"},
		{"clip.m4a", 0, "m4a", nil},
		{".hidden", 200 << 20, "none", "very-large"},
	}
	for _, tt := range tests {
		ee := Newf("open failed").Category(CategoryFileIO).FileContext(tt.path, tt.size).Build()
		ctx := ee.GetContext()
		assert.Equal(t, tt.wantExt, ctx["file_extension"], tt.path)
		assert.Equal(t, tt.wantSize, ctx["file_size_category"], tt.path)
		for _, v := range ctx {
			assert.NotContains(t, fmt.Sprint(v), "alice", "path must not leak into context")
		}
	}

	ee := Newf("no file").FileContext("", 0).Build()
	assert.Empty(t, ee.GetContext())
}

func TestIsCategoryAndUnwrap(t *testing.T) {
	t.Parallel()

	sentinel := NewStd("sentinel")
	ee := New(fmt.Errorf("wrapped: %w", sentinel)).Category(CategoryCorruption).Build()

	assert.True(t, Is(ee, sentinel))
	assert.True(t, IsCategory(ee, CategoryCorruption))
	assert.False(t, IsCategory(ee, CategoryNotFound))
	assert.True(t, Is(ee, &EnhancedError{Category: CategoryCorruption}))
	assert.True(t, IsCategory(fmt.Errorf("outer: %w", ee), CategoryCorruption))
}

func TestSentinelCategory(t *testing.T) {
	t.Parallel()

	errTruncated := NewSentinel("truncated", CategoryCorruption)
	ee := New(fmt.Errorf("frame 12: %w", errTruncated)).Component("codec.flac").Build()

	assert.Equal(t, CategoryCorruption, ee.Category)
	assert.True(t, Is(ee, errTruncated))
	assert.True(t, IsCategory(errTruncated, CategoryCorruption))

	explicit := New(errTruncated).Category(CategoryLimit).Build()
	assert.Equal(t, CategoryLimit, explicit.Category, "explicit category wins")
}

func TestHooksEnableDetection(t *testing.T) {
	var calls atomic.Int32
	AddErrorHook(func(ee *EnhancedError) { calls.Add(1) })
	t.Cleanup(ClearErrorHooks)

	ee := New(fmt.Errorf("frame crc mismatch")).Build()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, CategoryCorruption, ee.Category)
	require.NotEmpty(t, ee.GetComponent())
}

func TestDetectCategoryByComponent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		component string
		want      ErrorCategory
	}{
		{"demux.iso", CategoryContainer},
		{"codec.flac", CategoryCodec},
		{"bufpool", CategoryBuffer},
		{"memtrack", CategoryMemory},
		{"other", CategoryGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.component, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, detectCategory(fmt.Errorf("boom"), tt.component))
		})
	}
}

func TestLookupComponentPrefersLongestPattern(t *testing.T) {
	t.Parallel()

	got := lookupComponent("github.com/tphakala/mediacore/internal/demux/iso.(*Demuxer).ParseContainer")
	assert.Equal(t, "demux.iso", got)
}

func TestBasicScrub(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Error at https://api.example.com?[REDACTED]",
		basicScrub("Error at https://api.example.com?api_key=secret123&token=abc"))
	assert.Contains(t, basicScrub("Config error: api_key=secret123 is invalid"), "[API_KEY_REDACTED]")
	assert.Equal(t, "open /home/[USER]/music/a.flac failed", basicScrub("open /home/alice/music/a.flac failed"))
}

func TestGenerateErrorTitle(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("x")).Component("codec.flac").Category(CategoryCorruption).
		Context("operation", "decode_frame").Build()
	assert.Equal(t, "Codec.flac Corrupt Data Decode Frame", generateErrorTitle(ee))
}
