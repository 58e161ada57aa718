// Package conf loads and validates mediacore settings from YAML, environment and flags.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/logger"
)

// envPrefix is prepended to upper-cased keys, e.g. MEDIACORE_FLAC_SUBSET_MODE.
const envPrefix = "MEDIACORE"

// Settings holds the complete configuration.
type Settings struct {
	Debug      bool                 `yaml:"debug" mapstructure:"debug"`
	Logging    logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	BufferPool BufferPoolSettings   `yaml:"bufferpool" mapstructure:"bufferpool"`
	Memory     MemorySettings       `yaml:"memory" mapstructure:"memory"`
	FLAC       FLACSettings         `yaml:"flac" mapstructure:"flac"`
	ISO        ISOSettings          `yaml:"iso" mapstructure:"iso"`
	Codec      CodecSettings        `yaml:"codec" mapstructure:"codec"`
	Metrics    MetricsSettings      `yaml:"metrics" mapstructure:"metrics"`
	Telemetry  TelemetrySettings    `yaml:"telemetry" mapstructure:"telemetry"`
}

// BufferPoolSettings bounds the shared I/O buffer pool.
type BufferPoolSettings struct {
	MaxPoolSize       int           `yaml:"max_pool_size" mapstructure:"max_pool_size"`               // bytes held across all buckets
	MaxBuffersPerSize int           `yaml:"max_buffers_per_size" mapstructure:"max_buffers_per_size"` // free buffers per bucket
	MonitorInterval   time.Duration `yaml:"monitor_interval" mapstructure:"monitor_interval"`
	PreAllocate       bool          `yaml:"preallocate" mapstructure:"preallocate"`
}

// MemorySettings controls the memory tracker.
type MemorySettings struct {
	TrackingInterval   time.Duration `yaml:"tracking_interval" mapstructure:"tracking_interval"`
	CleanupInterval    time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`         // minimum gap between forced cleanups
	CleanupThreshold   int           `yaml:"cleanup_threshold" mapstructure:"cleanup_threshold"`       // pressure percent
	TrendThresholdMBps float64       `yaml:"trend_threshold_mbps" mapstructure:"trend_threshold_mbps"` // growth that triggers cleanup
}

// FLACSettings configures the native FLAC decoder.
type FLACSettings struct {
	SubsetMode   string `yaml:"subset_mode" mapstructure:"subset_mode"` // disabled, enabled, strict
	VerifyMD5    bool   `yaml:"verify_md5" mapstructure:"verify_md5"`
	MaxBlockSize int    `yaml:"max_block_size" mapstructure:"max_block_size"`
}

// ISOSettings configures the MP4 demuxer.
type ISOSettings struct {
	SampleTableMode string        `yaml:"sample_table_mode" mapstructure:"sample_table_mode"` // eager, lazy, auto
	LazyThreshold   int           `yaml:"lazy_threshold" mapstructure:"lazy_threshold"`       // samples above which auto picks lazy
	PageCacheTTL    time.Duration `yaml:"page_cache_ttl" mapstructure:"page_cache_ttl"`
	ValidateStrict  bool          `yaml:"validate_strict" mapstructure:"validate_strict"` // refuse files with compliance errors
}

// CodecSettings bounds codec output buffering.
type CodecSettings struct {
	VorbisAccumulatorSeconds int `yaml:"vorbis_accumulator_seconds" mapstructure:"vorbis_accumulator_seconds"`
	OpusMaxQueuedFrames      int `yaml:"opus_max_queued_frames" mapstructure:"opus_max_queued_frames"`
	OpusMaxQueuedSamples     int `yaml:"opus_max_queued_samples" mapstructure:"opus_max_queued_samples"` // interleaved
}

// MetricsSettings controls the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
}

// TelemetrySettings controls Sentry error reporting.
type TelemetrySettings struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN         string `yaml:"dsn" mapstructure:"dsn"`
	Environment string `yaml:"environment" mapstructure:"environment"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads configuration. An empty configFile searches the default paths;
// a missing file is not an error and yields defaults.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	if err := initViper(v, configFile); err != nil {
		return nil, err
	}
	return loadFrom(v)
}

// Prepare applies defaults, environment binding and the configuration file
// to v. Callers bind their flags afterwards and finish with LoadWithViper.
func Prepare(v *viper.Viper, configFile string) error {
	return initViper(v, configFile)
}

// LoadWithViper unmarshals an already populated viper instance, used when cobra flags are bound.
func LoadWithViper(v *viper.Viper) (*Settings, error) {
	return loadFrom(v)
}

func loadFrom(v *viper.Viper) (*Settings, error) {
	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal-config").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()

	return settings, nil
}

// initViper sets defaults and reads the configuration file.
func initViper(v *viper.Viper, configFile string) error {
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		paths, err := GetDefaultConfigPaths()
		if err != nil {
			return err
		}
		for _, path := range paths {
			v.AddConfigPath(path)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "read-config").
			FileContext(configFile, 0).
			Build()
	}

	return nil
}

// GetSettings returns the most recently loaded settings, or nil.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// GetDefaultConfigPaths returns the directories searched for config.yaml.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	return []string{
		".",
		filepath.Join(homeDir, ".config", "mediacore"),
		"/etc/mediacore",
	}, nil
}

// SaveYAMLConfig writes settings to configPath through a temporary file and rename.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer func() { _ = os.Remove(tempFileName) }()

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}

	return nil
}

// DefaultSettings returns settings populated only from defaults.
func DefaultSettings() *Settings {
	v := viper.New()
	SetDefaults(v)
	s := &Settings{}
	// Defaults are static and always decode.
	_ = v.Unmarshal(s)
	return s
}
