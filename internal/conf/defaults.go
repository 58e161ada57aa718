package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default limits shared with the components that enforce them.
const (
	DefaultMaxPoolSize       = 16 * 1024 * 1024
	DefaultMaxBuffersPerSize = 8
	DefaultMonitorInterval   = 5 * time.Second
	DefaultTrackingInterval  = 5 * time.Second
	DefaultCleanupInterval   = 10 * time.Second
)

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/mediacore.log")
	v.SetDefault("logging.file_output.level", "info")
	v.SetDefault("logging.file_output.max_size", 50)
	v.SetDefault("logging.file_output.max_age", 14)
	v.SetDefault("logging.file_output.max_rotated_files", 5)
	v.SetDefault("logging.file_output.compress", false)

	v.SetDefault("bufferpool.max_pool_size", DefaultMaxPoolSize)
	v.SetDefault("bufferpool.max_buffers_per_size", DefaultMaxBuffersPerSize)
	v.SetDefault("bufferpool.monitor_interval", DefaultMonitorInterval)
	v.SetDefault("bufferpool.preallocate", false)

	v.SetDefault("memory.tracking_interval", DefaultTrackingInterval)
	v.SetDefault("memory.cleanup_interval", DefaultCleanupInterval)
	v.SetDefault("memory.cleanup_threshold", 80)
	v.SetDefault("memory.trend_threshold_mbps", 0.1)

	v.SetDefault("flac.subset_mode", "enabled")
	v.SetDefault("flac.verify_md5", false)
	v.SetDefault("flac.max_block_size", 65535)

	v.SetDefault("iso.sample_table_mode", "auto")
	v.SetDefault("iso.lazy_threshold", 100000)
	v.SetDefault("iso.page_cache_ttl", 30*time.Second)
	v.SetDefault("iso.validate_strict", false)

	v.SetDefault("codec.vorbis_accumulator_seconds", 2)
	v.SetDefault("codec.opus_max_queued_frames", 64)
	v.SetDefault("codec.opus_max_queued_samples", 48000*2*2)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9464")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.dsn", "")
	v.SetDefault("telemetry.environment", "production")
}
