package conf

import (
	"fmt"
	"net"
	"slices"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		validateLogging,
		validateBufferPool,
		validateMemory,
		validateFLAC,
		validateISO,
		validateCodec,
		validateMetrics,
		validateTelemetry,
	}
	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

var validLevels = []string{"trace", "debug", "info", "warn", "error"}

func validateLogging(s *Settings) error {
	if s.Logging.DefaultLevel != "" && !slices.Contains(validLevels, s.Logging.DefaultLevel) {
		return fmt.Errorf("logging.default_level %q must be one of %v", s.Logging.DefaultLevel, validLevels)
	}
	if fo := s.Logging.FileOutput; fo != nil && fo.Enabled && fo.Path == "" {
		return fmt.Errorf("logging.file_output.path is required when file output is enabled")
	}
	return nil
}

func validateBufferPool(s *Settings) error {
	bp := s.BufferPool
	switch {
	case bp.MaxPoolSize < 1024*1024:
		return fmt.Errorf("bufferpool.max_pool_size must be at least 1 MiB, got %d", bp.MaxPoolSize)
	case bp.MaxBuffersPerSize < 1:
		return fmt.Errorf("bufferpool.max_buffers_per_size must be positive, got %d", bp.MaxBuffersPerSize)
	case bp.MonitorInterval <= 0:
		return fmt.Errorf("bufferpool.monitor_interval must be positive")
	}
	return nil
}

func validateMemory(s *Settings) error {
	m := s.Memory
	switch {
	case m.TrackingInterval <= 0:
		return fmt.Errorf("memory.tracking_interval must be positive")
	case m.CleanupThreshold < 0 || m.CleanupThreshold > 100:
		return fmt.Errorf("memory.cleanup_threshold must be 0-100, got %d", m.CleanupThreshold)
	}
	return nil
}

func validateFLAC(s *Settings) error {
	if !slices.Contains([]string{"disabled", "enabled", "strict"}, s.FLAC.SubsetMode) {
		return fmt.Errorf("flac.subset_mode %q must be disabled, enabled or strict", s.FLAC.SubsetMode)
	}
	if s.FLAC.MaxBlockSize < 16 || s.FLAC.MaxBlockSize > 65535 {
		return fmt.Errorf("flac.max_block_size must be 16-65535, got %d", s.FLAC.MaxBlockSize)
	}
	return nil
}

func validateISO(s *Settings) error {
	if !slices.Contains([]string{"eager", "lazy", "auto"}, s.ISO.SampleTableMode) {
		return fmt.Errorf("iso.sample_table_mode %q must be eager, lazy or auto", s.ISO.SampleTableMode)
	}
	if s.ISO.LazyThreshold < 0 {
		return fmt.Errorf("iso.lazy_threshold must not be negative")
	}
	return nil
}

func validateCodec(s *Settings) error {
	c := s.Codec
	switch {
	case c.VorbisAccumulatorSeconds < 1 || c.VorbisAccumulatorSeconds > 30:
		return fmt.Errorf("codec.vorbis_accumulator_seconds must be 1-30, got %d", c.VorbisAccumulatorSeconds)
	case c.OpusMaxQueuedFrames < 1:
		return fmt.Errorf("codec.opus_max_queued_frames must be positive")
	case c.OpusMaxQueuedSamples < 5760:
		return fmt.Errorf("codec.opus_max_queued_samples must hold at least one 120 ms frame")
	}
	return nil
}

func validateMetrics(s *Settings) error {
	if !s.Metrics.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(s.Metrics.Listen); err != nil {
		return fmt.Errorf("metrics.listen %q: %w", s.Metrics.Listen, err)
	}
	return nil
}

func validateTelemetry(s *Settings) error {
	if s.Telemetry.Enabled && s.Telemetry.DSN == "" {
		return fmt.Errorf("telemetry.dsn is required when telemetry is enabled")
	}
	return nil
}
