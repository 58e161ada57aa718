package logger

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultBufferSize is the write buffer in front of the log file.
const DefaultBufferSize = 32 * 1024

// DefaultFlushInterval is the default interval for auto-flushing buffered writes
const DefaultFlushInterval = 5 * time.Second

// RotationConfig controls lumberjack rotation for a log file.
type RotationConfig struct {
	MaxSize    int // MB
	MaxAge     int // days
	MaxBackups int
	Compress   bool
}

// IsEnabled reports whether size-based rotation is requested.
func (r RotationConfig) IsEnabled() bool {
	return r.MaxSize > 0
}

// RotationConfigFromFileOutput builds rotation settings for the main log file.
func RotationConfigFromFileOutput(fo *FileOutput) RotationConfig {
	if fo == nil {
		return RotationConfig{}
	}
	return RotationConfig{
		MaxSize:    fo.MaxSize,
		MaxAge:     fo.MaxAge,
		MaxBackups: fo.MaxRotatedFiles,
		Compress:   fo.Compress,
	}
}

// RotationConfigFromModuleOutput builds rotation settings for a module file,
// falling back to the main file settings for unset values.
func RotationConfigFromModuleOutput(mo *ModuleOutput, fallback *FileOutput) RotationConfig {
	rc := RotationConfigFromFileOutput(fallback)
	if mo == nil {
		return rc
	}
	if mo.MaxSize > 0 {
		rc.MaxSize = mo.MaxSize
	}
	if mo.MaxAge > 0 {
		rc.MaxAge = mo.MaxAge
	}
	return rc
}

// BufferedFileWriter wraps a log file with buffered I/O and periodic flushing.
// With rotation enabled the sink is a lumberjack.Logger instead of a plain file.
type BufferedFileWriter struct {
	mu          sync.Mutex
	sink        io.WriteCloser
	file        *os.File // nil when rotating
	writer      *bufio.Writer
	bufferSize  int
	filePath    string
	rotation    RotationConfig
	flushEvery  time.Duration
	stopFlush   chan struct{}
	flushDone   chan struct{}
	flushTicker *time.Ticker
	closed      bool
}

// BufferedWriterOption configures a BufferedFileWriter
type BufferedWriterOption func(*BufferedFileWriter)

// WithBufferSize sets the buffer size for the writer
func WithBufferSize(size int) BufferedWriterOption {
	return func(w *BufferedFileWriter) {
		if size > 0 {
			w.bufferSize = size
		}
	}
}

// WithFlushInterval sets the auto-flush interval. Pass 0 to disable auto-flush.
func WithFlushInterval(interval time.Duration) BufferedWriterOption {
	return func(w *BufferedFileWriter) {
		w.flushEvery = interval
	}
}

// WithRotation routes writes through lumberjack with the given limits.
func WithRotation(rc RotationConfig) BufferedWriterOption {
	return func(w *BufferedFileWriter) {
		w.rotation = rc
	}
}

// NewBufferedFileWriter opens filePath for appending.
func NewBufferedFileWriter(filePath string, opts ...BufferedWriterOption) (*BufferedFileWriter, error) {
	w := &BufferedFileWriter{
		bufferSize: DefaultBufferSize,
		filePath:   filePath,
		flushEvery: DefaultFlushInterval,
		stopFlush:  make(chan struct{}),
		flushDone:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.rotation.IsEnabled() {
		w.sink = &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    w.rotation.MaxSize,
			MaxAge:     w.rotation.MaxAge,
			MaxBackups: w.rotation.MaxBackups,
			Compress:   w.rotation.Compress,
		}
	} else {
		file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, LogFilePermissions) //nolint:gosec // path comes from config
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", filePath, err)
		}
		w.file = file
		w.sink = file
	}

	w.writer = bufio.NewWriterSize(w.sink, w.bufferSize)

	if w.flushEvery > 0 {
		w.flushTicker = time.NewTicker(w.flushEvery)
		go w.autoFlushLoop()
	} else {
		close(w.flushDone)
	}

	return w, nil
}

func (w *BufferedFileWriter) autoFlushLoop() {
	defer close(w.flushDone)

	for {
		select {
		case <-w.stopFlush:
			return
		case <-w.flushTicker.C:
			// Errors resurface on the next Write
			_ = w.Flush()
		}
	}
}

// Write writes data to the buffer. Thread-safe.
func (w *BufferedFileWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer == nil {
		return 0, fmt.Errorf("writer is closed")
	}

	return w.writer.Write(p)
}

// Flush flushes the buffer to the OS. It does not fsync.
func (w *BufferedFileWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.flushLocked()
}

func (w *BufferedFileWriter) flushLocked() error {
	if w.writer == nil {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	return nil
}

// Rotate forces lumberjack to start a new file. A no-op without rotation.
func (w *BufferedFileWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	lj, ok := w.sink.(*lumberjack.Logger)
	if !ok {
		return nil
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	return lj.Rotate()
}

// Close flushes, syncs and closes the underlying sink. Close is idempotent.
func (w *BufferedFileWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	if w.flushTicker != nil {
		w.flushTicker.Stop()
		close(w.stopFlush)
	}
	<-w.flushDone

	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	if err := w.flushLocked(); err != nil {
		errs = append(errs, err)
	}
	if w.file != nil {
		if err := w.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("failed to sync file: %w", err))
		}
	}
	if err := w.sink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close log sink: %w", err))
	}
	w.writer = nil
	w.file = nil

	return errors.Join(errs...)
}

// FilePath returns the path of the underlying file
func (w *BufferedFileWriter) FilePath() string {
	return w.filePath
}

// Buffered returns the number of bytes buffered but not yet written
func (w *BufferedFileWriter) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writer == nil {
		return 0
	}
	return w.writer.Buffered()
}

var _ io.WriteCloser = (*BufferedFileWriter)(nil)
