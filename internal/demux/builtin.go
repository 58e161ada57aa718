package demux

import (
	"github.com/tphakala/mediacore/internal/demux/base"
	"github.com/tphakala/mediacore/internal/demux/chunk"
	"github.com/tphakala/mediacore/internal/demux/flac"
	"github.com/tphakala/mediacore/internal/demux/iso"
	"github.com/tphakala/mediacore/internal/demux/mpeg"
	"github.com/tphakala/mediacore/internal/demux/ogg"
	"github.com/tphakala/mediacore/internal/demux/raw"
	"github.com/tphakala/mediacore/internal/media"
)

// Built-in format ids
const (
	FormatRIFF = "riff"
	FormatAIFF = "aiff"
	FormatOgg  = "ogg"
	FormatFLAC = "flac"
	FormatMP4  = "mp4"
	FormatMP3  = "mp3"
	FormatRaw  = "raw"
)

// Signature priorities. Container magics that cannot occur by accident
// outrank the MPEG sync word, which can.
const (
	PriorityContainer = 100
	PriorityISO       = 90
	PriorityID3       = 80
	PriorityMPEGSync  = 70
)

// Options carry the shared dependencies and per-format settings handed to
// the built-in factories.
type Options struct {
	base.Options
	ISOTables iso.TableConfig
	ISOStrict bool
}

// RegisterBuiltins adds every built-in format to r.
func RegisterBuiltins(r *Registry, opts Options) {
	common := opts.Options

	r.Register(FormatInfo{
		ID:         FormatRIFF,
		Name:       "RIFF WAVE",
		Extensions: []string{"wav", "wave"},
		Factory: func(h media.IOHandler, _ string) (media.Demuxer, error) {
			return chunk.Open(h, chunk.Options{Options: common})
		},
	})
	r.Register(FormatInfo{
		ID:         FormatAIFF,
		Name:       "AIFF",
		Extensions: []string{"aif", "aiff", "aifc"},
		Factory: func(h media.IOHandler, _ string) (media.Demuxer, error) {
			return chunk.Open(h, chunk.Options{Options: common})
		},
	})
	r.Register(FormatInfo{
		ID:         FormatOgg,
		Name:       "Ogg",
		Extensions: []string{"ogg", "oga", "opus", "spx"},
		Factory: func(h media.IOHandler, _ string) (media.Demuxer, error) {
			return ogg.Open(h, ogg.Options{Options: common})
		},
	})
	r.Register(FormatInfo{
		ID:         FormatFLAC,
		Name:       "FLAC",
		Extensions: []string{"flac", "fla"},
		Factory: func(h media.IOHandler, _ string) (media.Demuxer, error) {
			return flac.Open(h, flac.Options{Options: common})
		},
	})
	r.Register(FormatInfo{
		ID:         FormatMP4,
		Name:       "ISO base media",
		Extensions: []string{"mp4", "m4a", "m4b", "mov", "3gp", "3g2"},
		Factory: func(h media.IOHandler, _ string) (media.Demuxer, error) {
			return iso.Open(h, iso.Options{Options: common, Tables: opts.ISOTables, Strict: opts.ISOStrict})
		},
	})
	r.Register(FormatInfo{
		ID:         FormatMP3,
		Name:       "MPEG audio",
		Extensions: []string{"mp3", "mp2"},
		Factory: func(h media.IOHandler, _ string) (media.Demuxer, error) {
			return mpeg.Open(h, mpeg.Options{Options: common})
		},
	})
	r.Register(FormatInfo{
		ID:         FormatRaw,
		Name:       "Raw PCM and telephony",
		Extensions: raw.Extensions(),
		Factory: func(h media.IOHandler, path string) (media.Demuxer, error) {
			return raw.Open(h, path, raw.Options{Options: common})
		},
	})

	r.RegisterSignature(FormatRIFF, []byte("RIFF"), 0, PriorityContainer)
	r.RegisterSignature(FormatRIFF, []byte("RF64"), 0, PriorityContainer)
	r.RegisterSignature(FormatAIFF, []byte("FORM"), 0, PriorityContainer)
	r.RegisterSignature(FormatOgg, []byte("OggS"), 0, PriorityContainer)
	r.RegisterSignature(FormatFLAC, []byte("fLaC"), 0, PriorityContainer)
	r.RegisterSignature(FormatRaw, []byte(".snd"), 0, PriorityContainer)
	r.RegisterSignature(FormatMP4, []byte("ftyp"), 4, PriorityISO)
	r.RegisterSignature(FormatMP3, []byte("ID3"), 0, PriorityID3)
	r.RegisterSignature(FormatMP3, []byte{0xFF, 0xFB}, 0, PriorityMPEGSync)
	r.RegisterSignature(FormatMP3, []byte{0xFF, 0xF3}, 0, PriorityMPEGSync)
	r.RegisterSignature(FormatMP3, []byte{0xFF, 0xFA}, 0, PriorityMPEGSync)
}

// NewDefaultRegistry returns a registry with every built-in format.
func NewDefaultRegistry(opts Options) *Registry {
	r := NewRegistry()
	RegisterBuiltins(r, opts)
	return r
}
