package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Decoder error types used as label values
const (
	ErrTypeHeaderCRC = "header_crc"
	ErrTypeFrameCRC  = "frame_crc"
	ErrTypeReserved  = "reserved_value"
	ErrTypeSyncLost  = "sync_lost"
	ErrTypeSubset    = "subset_violation"
	ErrTypeBitstream = "bitstream"
	ErrTypeOverflow  = "overflow"
)

// CodecErrorsTotal is the family counting recoverable decode errors.
const CodecErrorsTotal = "mediacore_codec_errors_total"

// CodecMetrics tracks decode activity per codec
type CodecMetrics struct {
	framesTotal      *prometheus.CounterVec
	samplesTotal     *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	decodeDuration   *prometheus.HistogramVec
	chunksTotal      *prometheus.CounterVec
	probesTotal      *prometheus.CounterVec
	parseErrorsTotal *prometheus.CounterVec
	seeksTotal       *prometheus.CounterVec
}

// NewCodecMetrics creates and registers codec and demuxer metrics
func NewCodecMetrics(registry prometheus.Registerer) (*CodecMetrics, error) {
	m := &CodecMetrics{
		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediacore_codec_frames_total",
			Help: "Decoded audio frames",
		}, []string{"codec"}),
		samplesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediacore_codec_samples_total",
			Help: "Decoded per-channel samples",
		}, []string{"codec"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: CodecErrorsTotal,
			Help: "Recoverable decode errors by type",
		}, []string{"codec", "error_type"}),
		decodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mediacore_codec_decode_duration_seconds",
			Help:    "Time spent decoding one chunk",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14), // 10us to ~80ms
		}, []string{"codec"}),
		chunksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediacore_demux_chunks_total",
			Help: "Chunks read from containers",
		}, []string{"format"}),
		probesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediacore_demux_probes_total",
			Help: "Format probes by detected format and method",
		}, []string{"format", "method"}), // method: signature, extension, none
		parseErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediacore_demux_parse_errors_total",
			Help: "Container parse failures",
		}, []string{"format"}),
		seeksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediacore_demux_seeks_total",
			Help: "Seek requests by result",
		}, []string{"format", "status"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Describe implements the prometheus.Collector interface
func (m *CodecMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.framesTotal.Describe(ch)
	m.samplesTotal.Describe(ch)
	m.errorsTotal.Describe(ch)
	m.decodeDuration.Describe(ch)
	m.chunksTotal.Describe(ch)
	m.probesTotal.Describe(ch)
	m.parseErrorsTotal.Describe(ch)
	m.seeksTotal.Describe(ch)
}

// Collect implements the prometheus.Collector interface
func (m *CodecMetrics) Collect(ch chan<- prometheus.Metric) {
	m.framesTotal.Collect(ch)
	m.samplesTotal.Collect(ch)
	m.errorsTotal.Collect(ch)
	m.decodeDuration.Collect(ch)
	m.chunksTotal.Collect(ch)
	m.probesTotal.Collect(ch)
	m.parseErrorsTotal.Collect(ch)
	m.seeksTotal.Collect(ch)
}

// RecordFrame records one decoded frame
func (m *CodecMetrics) RecordFrame(codec string, samples int, seconds float64) {
	m.framesTotal.WithLabelValues(codec).Inc()
	m.samplesTotal.WithLabelValues(codec).Add(float64(samples))
	m.decodeDuration.WithLabelValues(codec).Observe(seconds)
}

// RecordDecodeError records a recoverable decode error
func (m *CodecMetrics) RecordDecodeError(codec, errorType string) {
	m.errorsTotal.WithLabelValues(codec, errorType).Inc()
}

// RecordChunk records a chunk read from a container
func (m *CodecMetrics) RecordChunk(format string) {
	m.chunksTotal.WithLabelValues(format).Inc()
}

// RecordProbe records how a format was detected
func (m *CodecMetrics) RecordProbe(format, method string) {
	if format == "" {
		format = "unknown"
	}
	m.probesTotal.WithLabelValues(format, method).Inc()
}

// RecordParseError records a container that failed to parse
func (m *CodecMetrics) RecordParseError(format string) {
	m.parseErrorsTotal.WithLabelValues(format).Inc()
}

// RecordSeek records a seek request
func (m *CodecMetrics) RecordSeek(format string, ok bool) {
	status := "success"
	if !ok {
		status = "error"
	}
	m.seeksTotal.WithLabelValues(format, status).Inc()
}
