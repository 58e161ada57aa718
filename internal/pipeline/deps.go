package pipeline

import (
	"fmt"

	"github.com/tphakala/mediacore/internal/bufpool"
	"github.com/tphakala/mediacore/internal/codec"
	codecbase "github.com/tphakala/mediacore/internal/codec/base"
	"github.com/tphakala/mediacore/internal/codec/flac"
	"github.com/tphakala/mediacore/internal/conf"
	"github.com/tphakala/mediacore/internal/demux"
	demuxbase "github.com/tphakala/mediacore/internal/demux/base"
	"github.com/tphakala/mediacore/internal/demux/iso"
	"github.com/tphakala/mediacore/internal/observability/metrics"
)

// bytesPerSecond of 48 kHz stereo 16-bit PCM sizes the Vorbis accumulator.
const bytesPerSecond = 48000 * 2 * 2

// NewDeps builds the registry and codec factory from settings. staging
// backs demuxer chunk buffers and scratch backs codec working memory.
// Any of staging, scratch and rec may be nil; cm, when set, also receives
// probe outcomes.
func NewDeps(s *conf.Settings, staging, scratch bufpool.Allocator, rec metrics.DecodeRecorder, cm *metrics.CodecMetrics) (Deps, error) {
	subset, err := flac.ParseSubsetMode(s.FLAC.SubsetMode)
	if err != nil {
		return Deps{}, fmt.Errorf("flac settings: %w", err)
	}
	if rec == nil {
		rec = metrics.NopRecorder{}
	}

	registry := demux.NewDefaultRegistry(demux.Options{
		Options: demuxbase.Options{Alloc: staging, Recorder: rec},
		ISOTables: iso.TableConfig{
			Mode:          iso.ParseTableMode(s.ISO.SampleTableMode),
			LazyThreshold: s.ISO.LazyThreshold,
			PageCacheTTL:  s.ISO.PageCacheTTL,
		},
		ISOStrict: s.ISO.ValidateStrict,
	})
	if cm != nil {
		registry.SetRecorder(cm)
	}

	codecs := codec.NewDefaultFactory(codec.Options{
		Options: codecbase.Options{Alloc: scratch, Recorder: rec},
		FLAC: flac.Options{
			Subset:       subset,
			VerifyMD5:    s.FLAC.VerifyMD5,
			MaxBlockSize: uint32(max(s.FLAC.MaxBlockSize, 0)),
		},
		VorbisAccumulatorBytes: s.Codec.VorbisAccumulatorSeconds * bytesPerSecond,
		OpusMaxQueuedFrames:    s.Codec.OpusMaxQueuedFrames,
		OpusMaxQueuedSamples:   s.Codec.OpusMaxQueuedSamples,
	})

	return Deps{Registry: registry, Codecs: codecs, Recorder: rec}, nil
}
