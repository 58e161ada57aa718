// Package raw demultiplexes headerless PCM and telephony files, plus Sun/NeXT
// .au files whose fixed header describes the same kinds of payload.
package raw

import (
	"path/filepath"
	"strings"

	"github.com/tphakala/mediacore/internal/logger"
	"github.com/tphakala/mediacore/internal/media"
)

// GetLogger returns the raw module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("raw")
}

// Chunk durations
const (
	TelephonyChunkMs = 20
	PCMChunkFrames   = 4096
)

// Format describes the sample layout of a raw payload.
type Format struct {
	Codec         string
	SampleRate    uint32
	Channels      uint16
	BitsPerSample uint16
	SampleFormat  media.SampleFormat
	ByteOrder     media.ByteOrder
}

// BytesPerFrame returns the size of one sample across all channels.
func (f Format) BytesPerFrame() int {
	return int(f.BitsPerSample+7) / 8 * int(f.Channels)
}

// IsTelephony reports whether f is G.711 companded audio.
func (f Format) IsTelephony() bool {
	return f.Codec == media.CodecMuLaw || f.Codec == media.CodecALaw
}

// ChunkFrames returns the frames delivered per chunk.
func (f Format) ChunkFrames() int {
	if f.IsTelephony() {
		return max(1, int(f.SampleRate)*TelephonyChunkMs/1000)
	}
	return PCMChunkFrames
}

func (f Format) valid() bool {
	return f.SampleRate > 0 && f.Channels > 0 && f.BitsPerSample > 0
}

var (
	muLaw = Format{Codec: media.CodecMuLaw, SampleRate: 8000, Channels: 1, BitsPerSample: 8}
	aLaw  = Format{Codec: media.CodecALaw, SampleRate: 8000, Channels: 1, BitsPerSample: 8}
)

func pcm(bits uint16, sf media.SampleFormat, order media.ByteOrder) Format {
	return Format{
		Codec:         media.CodecPCM,
		SampleRate:    44100,
		Channels:      2,
		BitsPerSample: bits,
		SampleFormat:  sf,
		ByteOrder:     order,
	}
}

// extensionFormats maps file extensions to their implied layout. "au" and
// "snd" are resolved from the file header instead.
var extensionFormats = map[string]Format{
	"ul":    muLaw,
	"ulaw":  muLaw,
	"mulaw": muLaw,
	"mu":    muLaw,
	"al":    aLaw,
	"alaw":  aLaw,
	"pcm":   pcm(16, media.SampleFormatInt, media.LittleEndian),
	"raw":   pcm(16, media.SampleFormatInt, media.LittleEndian),
	"s16le": pcm(16, media.SampleFormatInt, media.LittleEndian),
	"s16be": pcm(16, media.SampleFormatInt, media.BigEndian),
	"s24le": pcm(24, media.SampleFormatInt, media.LittleEndian),
	"s24be": pcm(24, media.SampleFormatInt, media.BigEndian),
	"s32le": pcm(32, media.SampleFormatInt, media.LittleEndian),
	"s32be": pcm(32, media.SampleFormatInt, media.BigEndian),
	"s8":    pcm(8, media.SampleFormatInt, media.LittleEndian),
	"u8":    pcm(8, media.SampleFormatUint, media.LittleEndian),
	"f32le": pcm(32, media.SampleFormatFloat, media.LittleEndian),
	"f64le": pcm(64, media.SampleFormatFloat, media.LittleEndian),
}

// Extensions lists every extension this package claims, sorted for
// registration.
func Extensions() []string {
	return []string{
		"al", "alaw", "au", "f32le", "f64le", "mu", "mulaw", "pcm", "raw",
		"s16be", "s16le", "s24be", "s24le", "s32be", "s32le", "s8", "snd",
		"u8", "ul", "ulaw",
	}
}

func extension(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// FormatForPath returns the layout implied by path's extension.
func FormatForPath(path string) (Format, bool) {
	f, ok := extensionFormats[extension(path)]
	return f, ok
}

func isAUPath(path string) bool {
	ext := extension(path)
	return ext == "au" || ext == "snd"
}
