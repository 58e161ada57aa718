package metrics

// DecodeRecorder is the narrow surface codecs and demuxers report through.
// A nil *CodecMetrics is not a valid recorder; use NopRecorder instead.
type DecodeRecorder interface {
	RecordFrame(codec string, samples int, seconds float64)
	RecordDecodeError(codec, errorType string)
	RecordChunk(format string)
	RecordSeek(format string, ok bool)
}

// NopRecorder discards all observations.
type NopRecorder struct{}

func (NopRecorder) RecordFrame(string, int, float64) {}
func (NopRecorder) RecordDecodeError(string, string) {}
func (NopRecorder) RecordChunk(string) {}
func (NopRecorder) RecordSeek(string, bool) {}

var (
	_ DecodeRecorder = (*CodecMetrics)(nil)
	_ DecodeRecorder = NopRecorder{}
)
