package codec

import (
	"github.com/tphakala/mediacore/internal/codec/alac"
	"github.com/tphakala/mediacore/internal/codec/base"
	"github.com/tphakala/mediacore/internal/codec/flac"
	"github.com/tphakala/mediacore/internal/codec/mp3"
	"github.com/tphakala/mediacore/internal/codec/opus"
	"github.com/tphakala/mediacore/internal/codec/pcm"
	"github.com/tphakala/mediacore/internal/codec/vorbis"
	"github.com/tphakala/mediacore/internal/media"
)

// Options carry the shared dependencies and per-codec settings handed to
// the built-in constructors.
type Options struct {
	base.Options
	FLAC                   flac.Options
	VorbisAccumulatorBytes int
	OpusMaxQueuedFrames    int
	OpusMaxQueuedSamples   int
	MP3LookBehind          int
}

// RegisterBuiltins adds every built-in codec to f: FLAC, PCM and G.711,
// Vorbis, Opus, MP3 and ALAC, in that order.
func RegisterBuiltins(f *Factory, opts Options) {
	common := opts.Options
	flacOpts := opts.FLAC
	flacOpts.Options = common

	f.Register(media.CodecFLAC, func(info media.StreamInfo) media.AudioCodec {
		return flac.New(info, flacOpts)
	})
	f.Register(media.CodecPCM, func(info media.StreamInfo) media.AudioCodec {
		return pcm.New(info, pcm.Options{Options: common})
	})
	f.Register(media.CodecVorbis, func(info media.StreamInfo) media.AudioCodec {
		return vorbis.New(info, vorbis.Options{Options: common, AccumulatorBytes: opts.VorbisAccumulatorBytes})
	})
	f.Register(media.CodecOpus, func(info media.StreamInfo) media.AudioCodec {
		return opus.New(info, opus.Options{
			Options:          common,
			MaxQueuedFrames:  opts.OpusMaxQueuedFrames,
			MaxQueuedSamples: opts.OpusMaxQueuedSamples,
		})
	})
	f.Register(media.CodecMP3, func(info media.StreamInfo) media.AudioCodec {
		return mp3.New(info, mp3.Options{Options: common, LookBehind: opts.MP3LookBehind})
	})
	f.Register(media.CodecALAC, func(info media.StreamInfo) media.AudioCodec {
		return alac.New(info, alac.Options{Options: common})
	})
}

// NewDefaultFactory returns a factory with the built-in codecs registered.
func NewDefaultFactory(opts Options) *Factory {
	f := NewFactory()
	RegisterBuiltins(f, opts)
	return f
}
