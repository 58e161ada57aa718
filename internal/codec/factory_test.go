package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/media"
)

type stubCodec struct {
	media.AudioCodec
	name   string
	accept string
}

func (s *stubCodec) CanDecode(info media.StreamInfo) bool { return info.CodecName == s.accept }
func (s *stubCodec) Initialize() error                    { return nil }
func (s *stubCodec) Name() string                         { return s.name }

func TestFirstMatchWins(t *testing.T) {
	t.Parallel()
	f := NewFactory()
	f.Register("a", func(media.StreamInfo) media.AudioCodec { return &stubCodec{name: "a", accept: "x"} })
	f.Register("b", func(media.StreamInfo) media.AudioCodec { return &stubCodec{name: "b", accept: "x"} })
	f.Register("c", func(media.StreamInfo) media.AudioCodec { return &stubCodec{name: "c", accept: "y"} })

	c, err := f.Create(media.StreamInfo{CodecName: "x"})
	require.NoError(t, err)
	assert.Equal(t, "a", c.Name())

	// replacing keeps the slot
	f.Register("a", func(media.StreamInfo) media.AudioCodec { return &stubCodec{name: "a2", accept: "z"} })
	assert.Equal(t, []string{"a", "b", "c"}, f.Names())
	c, err = f.Create(media.StreamInfo{CodecName: "x"})
	require.NoError(t, err)
	assert.Equal(t, "b", c.Name())

	_, err = f.Create(media.StreamInfo{CodecName: "w"})
	require.ErrorIs(t, err, media.ErrUnsupported)
	assert.True(t, errors.IsCategory(err, errors.CategoryUnsupported))
}

func TestDefaultFactoryLookup(t *testing.T) {
	t.Parallel()
	f := NewDefaultFactory(Options{})
	assert.Equal(t, []string{"flac", "pcm", "vorbis", "opus", "mp3", "alac"}, f.Names())

	tests := []struct {
		info media.StreamInfo
		want string
	}{
		{media.StreamInfo{CodecName: media.CodecFLAC}, "flac"},
		{media.StreamInfo{CodecName: media.CodecPCM, BitsPerSample: 24}, "pcm"},
		{media.StreamInfo{CodecName: media.CodecMuLaw}, "pcm"},
		{media.StreamInfo{CodecName: media.CodecVorbis}, "vorbis"},
		{media.StreamInfo{CodecName: media.CodecOpus}, "opus"},
		{media.StreamInfo{CodecName: media.CodecMP3}, "mp3"},
		{media.StreamInfo{CodecName: media.CodecALAC}, "alac"},
	}
	for _, tt := range tests {
		got, ok := f.Lookup(tt.info)
		assert.True(t, ok, tt.info.CodecName)
		assert.Equal(t, tt.want, got)
	}
	_, ok := f.Lookup(media.StreamInfo{CodecName: media.CodecAAC})
	assert.False(t, ok)
}

func TestCreateInitializes(t *testing.T) {
	t.Parallel()
	f := NewDefaultFactory(Options{})

	c, err := f.Create(media.StreamInfo{CodecName: media.CodecPCM, BitsPerSample: 16, Channels: 1, SampleRate: 8000})
	require.NoError(t, err)
	frame, err := c.Decode(media.MediaChunk{Data: []byte{1, 0}})
	require.NoError(t, err)
	assert.Equal(t, []int16{1}, frame.Samples)

	_, err = f.Create(media.StreamInfo{CodecName: media.CodecALAC})
	assert.ErrorIs(t, err, media.ErrInvalidMedia, "alac without a cookie")

	_, err = f.Create(media.StreamInfo{CodecName: media.CodecAAC})
	assert.ErrorIs(t, err, media.ErrUnsupported)
}
