package logger

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	DefaultLevel  string                  `yaml:"default_level" mapstructure:"default_level"` // default log level for all modules
	Timezone      string                  `yaml:"timezone" mapstructure:"timezone"`           // "Local", "UTC", or an IANA name
	Console       *ConsoleOutput          `yaml:"console" mapstructure:"console"`
	FileOutput    *FileOutput             `yaml:"file_output" mapstructure:"file_output"`
	ModuleOutputs map[string]ModuleOutput `yaml:"modules" mapstructure:"modules"`             // per-module output configuration
	ModuleLevels  map[string]string       `yaml:"module_levels" mapstructure:"module_levels"` // per-module log levels
}

// ConsoleOutput represents console logging configuration.
// Console output is text without timestamps; the supervisor adds them.
type ConsoleOutput struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Level   string `yaml:"level" mapstructure:"level"`
}

// FileOutput represents file logging configuration. File output is JSON.
type FileOutput struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	Path            string `yaml:"path" mapstructure:"path"`
	MaxSize         int    `yaml:"max_size" mapstructure:"max_size"`                   // MB before rotation (0 = disabled)
	MaxAge          int    `yaml:"max_age" mapstructure:"max_age"`                     // days to keep rotated logs
	MaxRotatedFiles int    `yaml:"max_rotated_files" mapstructure:"max_rotated_files"` // rotated files to keep
	Compress        bool   `yaml:"compress" mapstructure:"compress"`
	Level           string `yaml:"level" mapstructure:"level"`
}

// ModuleOutput represents per-module output configuration
type ModuleOutput struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	FilePath    string `yaml:"file_path" mapstructure:"file_path"`
	Level       string `yaml:"level" mapstructure:"level"`
	ConsoleAlso bool   `yaml:"console_also" mapstructure:"console_also"`
	MaxSize     int    `yaml:"max_size" mapstructure:"max_size"` // 0 = use FileOutput default
	MaxAge      int    `yaml:"max_age" mapstructure:"max_age"`
}

// Default values for logging configuration. These match conf defaults.
const (
	DefaultLogLevel        = "info"
	DefaultLogPath         = "logs/mediacore.log"
	DefaultDecodeLogPath   = "logs/decode.log"
	DefaultMaxSize         = 50 // MB before rotation
	DefaultMaxAge          = 14 // days to keep rotated files
	DefaultMaxRotatedFiles = 5
	DefaultConsoleEnabled  = true
	DefaultFileEnabled     = false
)

// ensureModuleOutput adds a default module output configuration if not already present.
func ensureModuleOutput(cfg *LoggingConfig, module, filePath string, enabled bool) {
	if _, exists := cfg.ModuleOutputs[module]; !exists {
		cfg.ModuleOutputs[module] = ModuleOutput{
			Enabled:  enabled,
			FilePath: filePath,
			Level:    DefaultLogLevel,
		}
	}
}

// applyConfigDefaults fills nil configuration sections.
func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg == nil {
		return
	}

	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = DefaultLogLevel
	}

	if cfg.Console == nil {
		cfg.Console = &ConsoleOutput{
			Enabled: DefaultConsoleEnabled,
			Level:   DefaultLogLevel,
		}
	}

	if cfg.FileOutput == nil {
		cfg.FileOutput = &FileOutput{
			Enabled:         DefaultFileEnabled,
			Path:            DefaultLogPath,
			Level:           DefaultLogLevel,
			MaxSize:         DefaultMaxSize,
			MaxAge:          DefaultMaxAge,
			MaxRotatedFiles: DefaultMaxRotatedFiles,
		}
	}

	if cfg.ModuleOutputs == nil {
		cfg.ModuleOutputs = make(map[string]ModuleOutput)
	}

	// Per-frame decode diagnostics are high volume; they get their own file
	// when file logging is on so the main log stays readable.
	ensureModuleOutput(cfg, "codec", DefaultDecodeLogPath, cfg.FileOutput.Enabled)
	ensureModuleOutput(cfg, "demux", DefaultDecodeLogPath, cfg.FileOutput.Enabled)
}
