package media

// Demuxer splits a container into MediaChunks.
//
// ParseContainer must be called once before any other method. A failed parse
// leaves the demuxer reporting no streams. SeekTo either repositions the cursor
// or returns an error with the position unchanged.
type Demuxer interface {
	ParseContainer() error
	Streams() []StreamInfo
	StreamInfo(id uint32) (StreamInfo, bool)
	ReadChunk() (MediaChunk, error)
	ReadChunkFor(id uint32) (MediaChunk, error)
	SeekTo(ms uint64) error
	EOF() bool
	Duration() uint64 // ms
	Position() uint64 // ms
	Close() error
}

// AudioCodec turns MediaChunks into AudioFrames. Chunks must be fed in delivery order.
//
// Recoverable per-frame problems yield an empty frame and a nil error. A non-nil
// error means the decode call failed as a whole.
type AudioCodec interface {
	Initialize() error
	Decode(chunk MediaChunk) (AudioFrame, error)
	Flush() (AudioFrame, error)
	Reset()
	Name() string
	CanDecode(info StreamInfo) bool
}

// FirstAudioStream returns the first audio stream of d.
func FirstAudioStream(d Demuxer) (StreamInfo, bool) {
	for _, s := range d.Streams() {
		if s.IsAudio() {
			return s, true
		}
	}
	return StreamInfo{}, false
}
