package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	// IANA zones for platforms without a system database
	_ "time/tzdata"

	"github.com/tphakala/mediacore/internal/errors"
)

const (
	// traceLevelValue sits below slog.LevelDebug (-4).
	traceLevelValue = slog.Level(-8)

	// maxLevelWidth pads console level names so module columns align.
	maxLevelWidth = 5

	logDirPermissions = 0o700
)

var (
	globalLogger   *CentralLogger
	globalLoggerMu sync.Mutex
)

// SetGlobal installs cl as the process logger. Passing nil restores the
// console fallback on the next Global call.
func SetGlobal(cl *CentralLogger) {
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()
	globalLogger = cl
}

// Global returns the process logger, creating an info-level stderr logger
// when none has been installed.
func Global() *CentralLogger {
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()
	if globalLogger == nil {
		globalLogger = newConsoleOnly(os.Stderr, slog.LevelInfo)
	}
	return globalLogger
}

func newConsoleOnly(w io.Writer, level slog.Level) *CentralLogger {
	cfg := &LoggingConfig{
		DefaultLevel: "info",
		Timezone:     "Local",
		Console:      &ConsoleOutput{Enabled: true, Level: "info"},
	}
	return &CentralLogger{
		config:        cfg,
		timezone:      time.Local,
		console:       w,
		base:          newTextHandler(w, level, time.Local),
		moduleWriters: make(map[string]*BufferedFileWriter),
		moduleLevels:  make(map[string]slog.Level),
		cache:         make(map[string]*moduleLogger),
	}
}

// NewSlogLogger returns a Logger writing text to w at level, outside the
// central configuration. Tests and one-off tools use it.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) Logger {
	if tz == nil {
		tz = time.UTC
	}
	lvl := parseSlogLevel(level)
	return &moduleLogger{logger: slog.New(newTextHandler(w, lvl, tz)), level: lvl}
}

// CentralLogger routes module loggers to the console, the main JSON file
// or a per-module JSON file. Module loggers are built once per name.
type CentralLogger struct {
	config   *LoggingConfig
	timezone *time.Location
	console  io.Writer
	base     slog.Handler

	mainWriter    *BufferedFileWriter
	moduleWriters map[string]*BufferedFileWriter
	moduleLevels  map[string]slog.Level

	mu    sync.RWMutex
	cache map[string]*moduleLogger
}

// NewCentralLogger opens the configured outputs. Console output goes to
// stderr so command output on stdout stays machine readable.
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	return newCentralLogger(cfg, os.Stderr)
}

func newCentralLogger(cfg *LoggingConfig, console io.Writer) (*CentralLogger, error) {
	if cfg == nil {
		return nil, errors.NewStd("logging config cannot be nil")
	}
	applyConfigDefaults(cfg)

	tz, err := loadTimezone(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	cl := &CentralLogger{
		config:        cfg,
		timezone:      tz,
		console:       console,
		moduleWriters: make(map[string]*BufferedFileWriter),
		moduleLevels:  make(map[string]slog.Level, len(cfg.ModuleLevels)),
		cache:         make(map[string]*moduleLogger),
	}
	for module, lvl := range cfg.ModuleLevels {
		cl.moduleLevels[module] = parseLogLevel(lvl)
	}

	if err := cl.openBase(); err != nil {
		return nil, fmt.Errorf("failed to create base handler: %w", err)
	}
	if err := cl.openModuleWriters(); err != nil {
		_ = cl.closeWriters()
		return nil, err
	}
	return cl, nil
}

func loadTimezone(name string) (*time.Location, error) {
	switch name {
	case "", "Local":
		return time.Local, nil
	case "UTC":
		return time.UTC, nil
	}
	tz, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", name, err)
	}
	return tz, nil
}

// openBase builds the handler used by modules without their own output.
func (cl *CentralLogger) openBase() error {
	var handlers []slog.Handler
	if c := cl.config.Console; c != nil && c.Enabled {
		handlers = append(handlers, newTextHandler(cl.console, parseLogLevel(c.Level), cl.timezone))
	}
	if fo := cl.config.FileOutput; fo != nil && fo.Enabled {
		w, err := openWriter(fo.Path, RotationConfigFromFileOutput(fo))
		if err != nil {
			return err
		}
		cl.mainWriter = w
		handlers = append(handlers, slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLogLevel(fo.Level)}))
	}
	if len(handlers) == 0 {
		handlers = append(handlers, newTextHandler(cl.console, parseLogLevel(cl.config.DefaultLevel), cl.timezone))
	}
	cl.base = combine(handlers)
	return nil
}

// openModuleWriters opens one writer per distinct module file path.
func (cl *CentralLogger) openModuleWriters() error {
	byPath := make(map[string]*BufferedFileWriter)
	for module, mo := range cl.config.ModuleOutputs {
		if !mo.Enabled {
			continue
		}
		if w, ok := byPath[mo.FilePath]; ok {
			cl.moduleWriters[module] = w
			continue
		}
		w, err := openWriter(mo.FilePath, RotationConfigFromModuleOutput(&mo, cl.config.FileOutput))
		if err != nil {
			return fmt.Errorf("module %s: %w", module, err)
		}
		cl.moduleWriters[module] = w
		byPath[mo.FilePath] = w
	}
	return nil
}

func openWriter(path string, rc RotationConfig) (*BufferedFileWriter, error) {
	if dir := filepath.Dir(path); path != "" && dir != "." {
		if err := os.MkdirAll(dir, logDirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}
	}
	var opts []BufferedWriterOption
	if rc.IsEnabled() {
		opts = append(opts, WithRotation(rc))
	}
	w, err := NewBufferedFileWriter(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return w, nil
}

func combine(handlers []slog.Handler) slog.Handler {
	if len(handlers) == 1 {
		return handlers[0]
	}
	return newMultiWriterHandler(handlers...)
}

// Module returns the logger for name. Repeated calls return the same
// logger.
func (cl *CentralLogger) Module(name string) Logger {
	if cl == nil {
		return nil
	}
	cl.mu.RLock()
	ml, ok := cl.cache[name]
	cl.mu.RUnlock()
	if ok {
		return ml
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()
	if ml, ok := cl.cache[name]; ok {
		return ml
	}
	ml = cl.buildLocked(name)
	cl.cache[name] = ml
	return ml
}

func (cl *CentralLogger) buildLocked(name string) *moduleLogger {
	level := parseLogLevel(cl.config.DefaultLevel)
	if l, ok := cl.moduleLevels[name]; ok {
		level = l
	}

	mo, routed := cl.config.ModuleOutputs[name]
	if !routed || !mo.Enabled {
		return &moduleLogger{module: name, logger: slog.New(cl.base), level: level}
	}
	if mo.Level != "" {
		level = parseLogLevel(mo.Level)
	}

	var handlers []slog.Handler
	if w, ok := cl.moduleWriters[name]; ok {
		handlers = append(handlers, slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	if mo.ConsoleAlso && cl.config.Console != nil && cl.config.Console.Enabled {
		handlers = append(handlers, newTextHandler(cl.console, level, cl.timezone))
	}
	if len(handlers) == 0 {
		handlers = append(handlers, cl.base)
	}
	return &moduleLogger{module: name, logger: slog.New(combine(handlers)), level: level}
}

// Flush pushes buffered file output to the OS without syncing.
func (cl *CentralLogger) Flush() error {
	if cl == nil {
		return nil
	}
	cl.mu.RLock()
	defer cl.mu.RUnlock()

	var errs []error
	if cl.mainWriter != nil {
		errs = append(errs, cl.mainWriter.Flush())
	}
	for _, w := range cl.moduleWriters {
		errs = append(errs, w.Flush())
	}
	return errors.Join(errs...)
}

// Close flushes, syncs and closes every file output.
func (cl *CentralLogger) Close() error {
	if cl == nil {
		return nil
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.closeWriters()
}

// closeWriters closes shared module writers once each.
func (cl *CentralLogger) closeWriters() error {
	var errs []error
	if cl.mainWriter != nil {
		if err := cl.mainWriter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("main log: %w", err))
		}
		cl.mainWriter = nil
	}
	closed := make(map[*BufferedFileWriter]bool)
	for module, w := range cl.moduleWriters {
		if closed[w] {
			continue
		}
		closed[w] = true
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("module %s log: %w", module, err))
		}
	}
	cl.moduleWriters = nil
	return errors.Join(errs...)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "trace":
		return traceLevelValue
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// moduleLogger is the Logger handed out by CentralLogger.
type moduleLogger struct {
	module string
	logger *slog.Logger
	level  slog.Level
	fields []Field
}

// Module returns a child logger named parent.name with a copy of the
// parent's fields.
func (m *moduleLogger) Module(name string) Logger {
	if m == nil {
		return nil
	}
	child := name
	if m.module != "" {
		child = m.module + "." + name
	}
	return &moduleLogger{module: child, logger: m.logger, level: m.level, fields: slices.Clone(m.fields)}
}

func (m *moduleLogger) Trace(msg string, fields ...Field) { m.log(traceLevelValue, msg, fields) }
func (m *moduleLogger) Debug(msg string, fields ...Field) { m.log(slog.LevelDebug, msg, fields) }
func (m *moduleLogger) Info(msg string, fields ...Field)  { m.log(slog.LevelInfo, msg, fields) }
func (m *moduleLogger) Warn(msg string, fields ...Field)  { m.log(slog.LevelWarn, msg, fields) }
func (m *moduleLogger) Error(msg string, fields ...Field) { m.log(slog.LevelError, msg, fields) }

// Enabled reports whether level would be written.
func (m *moduleLogger) Enabled(level LogLevel) bool {
	return m != nil && parseSlogLevel(level) >= m.level
}

// With returns a logger that adds fields to every line.
func (m *moduleLogger) With(fields ...Field) Logger {
	if m == nil {
		return nil
	}
	return &moduleLogger{module: m.module, logger: m.logger, level: m.level, fields: slices.Concat(m.fields, fields)}
}

func (m *moduleLogger) log(level slog.Level, msg string, fields []Field) {
	if m == nil || level < m.level {
		return
	}
	attrs := make([]slog.Attr, 0, 1+len(m.fields)+len(fields))
	if m.module != "" {
		attrs = append(attrs, slog.String(moduleKey, m.module))
	}
	for _, f := range m.fields {
		attrs = append(attrs, fieldToAttr(f))
	}
	for _, f := range fields {
		attrs = append(attrs, fieldToAttr(f))
	}
	m.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// fieldToAttr rounds floats to three decimals and durations to
// milliseconds.
func fieldToAttr(f Field) slog.Attr {
	switch v := f.Value.(type) {
	case string:
		return slog.String(f.Key, v)
	case int:
		return slog.Int(f.Key, v)
	case int64:
		return slog.Int64(f.Key, v)
	case uint64:
		return slog.Uint64(f.Key, v)
	case float32:
		return slog.Float64(f.Key, math.Round(float64(v)*1000)/1000)
	case float64:
		return slog.Float64(f.Key, math.Round(v*1000)/1000)
	case bool:
		return slog.Bool(f.Key, v)
	case time.Time:
		return slog.Time(f.Key, v)
	case time.Duration:
		return slog.String(f.Key, v.Round(time.Millisecond).String())
	default:
		return slog.Any(f.Key, v)
	}
}
