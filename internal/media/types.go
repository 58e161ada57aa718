// Package media defines the data model shared by demuxers and codecs.
package media

import "time"

// Codec names reported in StreamInfo.CodecName
const (
	CodecFLAC   = "flac"
	CodecVorbis = "vorbis"
	CodecOpus   = "opus"
	CodecSpeex  = "speex"
	CodecPCM    = "pcm"
	CodecALaw   = "alaw"
	CodecMuLaw  = "mulaw"
	CodecMP3    = "mp3"
	CodecAAC    = "aac"
	CodecALAC   = "alac"
)

// SampleFormat describes how raw PCM samples are stored.
type SampleFormat int

const (
	SampleFormatInt   SampleFormat = iota // signed integer
	SampleFormatUint                      // unsigned integer (8-bit WAV)
	SampleFormatFloat                     // IEEE float
)

// ByteOrder of multi-byte PCM samples.
type ByteOrder int

const (
	LittleEndian ByteOrder = iota
	BigEndian
)

// StreamInfo describes one elementary stream. It is immutable once returned by a demuxer.
type StreamInfo struct {
	StreamID        uint32
	CodecType       string // "audio"
	CodecName       string
	CodecTag        uint32 // FourCC or WAV format tag
	SampleRate      uint32
	Channels        uint16
	BitsPerSample   uint16
	Bitrate         uint32
	DurationSamples uint64
	DurationMs      uint64

	Artist      string
	Title       string
	Album       string
	Genre       string
	Date        string
	TrackNumber uint32
	DiscNumber  uint32
	HasArtwork  bool

	// CodecPrivate carries codec setup data: FLAC STREAMINFO, OpusHead, the
	// three Vorbis headers (length-prefixed), an ALAC cookie or an AAC config.
	CodecPrivate []byte

	SampleFormat SampleFormat
	ByteOrder    ByteOrder
}

// IsAudio reports whether the stream carries audio.
func (s StreamInfo) IsAudio() bool {
	return s.CodecType == "" || s.CodecType == "audio"
}

// SamplesToMs converts a sample count at the stream rate to milliseconds.
func (s StreamInfo) SamplesToMs(samples uint64) uint64 {
	if s.SampleRate == 0 {
		return 0
	}
	return samples * 1000 / uint64(s.SampleRate)
}

// MediaChunk is one unit of compressed data. An empty Data slice marks end of stream.
type MediaChunk struct {
	StreamID         uint32
	Data             []byte
	FileOffset       uint64
	TimestampSamples uint64
	Keyframe         bool
}

// IsEmpty reports whether the chunk carries no payload.
func (c MediaChunk) IsEmpty() bool {
	return len(c.Data) == 0
}

// AudioFrame is decoded PCM. The caller owns Samples after the codec returns.
type AudioFrame struct {
	Samples          []int16 // interleaved
	SampleRate       uint32
	Channels         uint16
	TimestampSamples uint64
}

// Len returns the number of samples per channel.
func (f AudioFrame) Len() int {
	if f.Channels == 0 {
		return 0
	}
	return len(f.Samples) / int(f.Channels)
}

// IsEmpty reports whether the frame carries no samples.
func (f AudioFrame) IsEmpty() bool {
	return len(f.Samples) == 0
}

// TimestampMs returns the frame start in milliseconds.
func (f AudioFrame) TimestampMs() uint64 {
	if f.SampleRate == 0 {
		return 0
	}
	return f.TimestampSamples * 1000 / uint64(f.SampleRate)
}

// Duration returns the playback duration of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(f.Len()) * time.Second / time.Duration(f.SampleRate)
}
