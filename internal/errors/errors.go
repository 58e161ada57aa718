// Package errors builds categorized errors for the media pipeline and hands
// them to an optional telemetry reporter. It also passes through the
// standard library helpers so callers need a single import.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"runtime"
	"strings"
	"sync"
	"time"
)

// ErrorCategory groups errors for reporting.
type ErrorCategory string

// CategorizedError is implemented by errors that know their own category.
type CategorizedError interface {
	error
	ErrorCategory() ErrorCategory
}

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryFileIO        ErrorCategory = "file-io"
	CategoryConfiguration ErrorCategory = "configuration"
	CategorySystem        ErrorCategory = "system-resource"
	CategoryGeneric       ErrorCategory = "generic"
	CategoryNotFound      ErrorCategory = "not-found"
	CategoryState         ErrorCategory = "state"
	CategoryLimit         ErrorCategory = "limit"

	CategoryContainer   ErrorCategory = "container-parse" // box, page or chunk structure
	CategoryCodec       ErrorCategory = "codec-decode"    // bitstream decode
	CategoryCorruption  ErrorCategory = "data-corruption" // CRC mismatch, lost sync
	CategoryUnsupported ErrorCategory = "unsupported"     // unknown format or codec feature
	CategoryBuffer      ErrorCategory = "buffer-pool"
	CategoryMemory      ErrorCategory = "memory-tracking"
)

// ComponentUnknown is used when the component cannot be determined.
const ComponentUnknown = "unknown"

// packagePath is skipped when walking the stack for component detection.
const packagePath = "github.com/tphakala/mediacore/internal/errors"

// sentinel is a comparable error value carrying a category.
type sentinel struct {
	msg string
	cat ErrorCategory
}

func (s *sentinel) Error() string                { return s.msg }
func (s *sentinel) ErrorCategory() ErrorCategory { return s.cat }

// NewSentinel returns a sentinel error that supplies cat to any error
// built from it without an explicit category.
func NewSentinel(text string, cat ErrorCategory) error {
	return &sentinel{msg: text, cat: cat}
}

// EnhancedError wraps an error with component, category and context.
type EnhancedError struct {
	Err       error
	Category  ErrorCategory
	Context   map[string]any
	Timestamp time.Time

	mu        sync.RWMutex
	component string
	reported  bool
}

func (ee *EnhancedError) Error() string { return ee.Err.Error() }
func (ee *EnhancedError) Unwrap() error { return ee.Err }

// Is matches another EnhancedError by category, otherwise the wrapped
// chain.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return Is(ee.Err, target)
}

// ErrorCategory implements CategorizedError so wrapping keeps the category.
func (ee *EnhancedError) ErrorCategory() ErrorCategory { return ee.Category }

// GetComponent returns the component that built the error.
func (ee *EnhancedError) GetComponent() string {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	return ee.component
}

// GetContext returns a copy of the context map.
func (ee *EnhancedError) GetContext() map[string]any {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	if ee.Context == nil {
		return nil
	}
	return maps.Clone(ee.Context)
}

// GetMessage returns the wrapped error text.
func (ee *EnhancedError) GetMessage() string {
	if ee.Err == nil {
		return ""
	}
	return ee.Err.Error()
}

// MarkReported records that telemetry has seen the error.
func (ee *EnhancedError) MarkReported() {
	ee.mu.Lock()
	defer ee.mu.Unlock()
	ee.reported = true
}

// IsReported reports whether telemetry has seen the error.
func (ee *EnhancedError) IsReported() bool {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	return ee.reported
}

// ErrorBuilder assembles an EnhancedError.
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New starts a builder around err.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf starts a builder around a formatted error.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component names the subsystem. When unset it is detected from the
// caller while telemetry is active.
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the category. When unset it comes from a categorized
// error in the chain, or is inferred while telemetry is active.
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context attaches a key/value pair.
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// StreamContext records the codec and byte offset an error relates to.
// A negative offset is omitted.
func (eb *ErrorBuilder) StreamContext(codec string, offset int64) *ErrorBuilder {
	if codec != "" {
		eb.Context("codec", codec)
	}
	if offset >= 0 {
		eb.Context("offset", offset)
	}
	return eb
}

// FileContext records the extension and a size class of a media file.
// The path itself is never stored.
func (eb *ErrorBuilder) FileContext(filePath string, fileSize int64) *ErrorBuilder {
	if filePath != "" {
		eb.Context("file_extension", fileExtension(filePath))
	}
	if fileSize > 0 {
		eb.Context("file_size_category", categorizeFileSize(fileSize))
	}
	return eb
}

func fileExtension(path string) string {
	base := path[strings.LastIndexAny(path, `/\`)+1:]
	if dot := strings.LastIndex(base, "."); dot > 0 && dot < len(base)-1 {
		return strings.ToLower(base[dot+1:])
	}
	return "none"
}

func categorizeFileSize(size int64) string {
	switch {
	case size < 1<<10:
		return "tiny"
	case size < 1<<20:
		return "small"
	case size < 10<<20:
		return "medium"
	case size < 100<<20:
		return "large"
	default:
		return "very-large"
	}
}

// Build creates the error and reports it when telemetry or hooks are
// active.
func (eb *ErrorBuilder) Build() *EnhancedError {
	active := hasActiveReporting.Load()

	if eb.category == "" {
		eb.category = categoryFromChain(eb.err)
	}
	if active {
		if eb.component == "" {
			eb.component = detectComponent()
		}
		if eb.category == "" {
			eb.category = detectCategory(eb.err, eb.component)
		}
	}
	if eb.component == "" {
		eb.component = ComponentUnknown
	}
	if eb.category == "" {
		eb.category = CategoryGeneric
	}

	ee := &EnhancedError{
		Err:       eb.err,
		component: eb.component,
		Category:  eb.category,
		Context:   eb.context,
		Timestamp: time.Now(),
	}
	if active {
		reportToTelemetry(ee)
	}
	return ee
}

// categoryFromChain returns the category of the first categorized error in
// err's chain.
func categoryFromChain(err error) ErrorCategory {
	var ce CategorizedError
	if err != nil && stderrors.As(err, &ce) {
		return ce.ErrorCategory()
	}
	return ""
}

var (
	componentRegistry = make(map[string]string)
	registryMutex     sync.RWMutex
)

// RegisterComponent maps a package path fragment to a component name. The
// longest matching fragment wins.
func RegisterComponent(packagePattern, componentName string) {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	componentRegistry[packagePattern] = componentName
}

func init() {
	for _, c := range []string{"bufpool", "memtrack", "boundedbuf", "pipeline", "telemetry"} {
		RegisterComponent(c, c)
	}
	RegisterComponent("conf", "configuration")
	for _, sub := range []string{"iso", "ogg", "flac", "raw", "chunk", "mpeg"} {
		RegisterComponent("demux/"+sub, "demux."+sub)
	}
	for _, sub := range []string{"flac", "vorbis", "opus", "pcm", "mp3", "alac"} {
		RegisterComponent("codec/"+sub, "codec."+sub)
	}
}

// detectComponent walks the stack for the first frame outside this
// package that maps to a component.
func detectComponent() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		f, more := frames.Next()
		if !strings.Contains(f.Function, packagePath) {
			if c := lookupComponent(f.Function); c != ComponentUnknown {
				return c
			}
		}
		if !more {
			return ComponentUnknown
		}
	}
}

// lookupComponent maps a function name to a component by the longest
// registered fragment, falling back to the package name.
func lookupComponent(funcName string) string {
	if funcName == "" {
		return ComponentUnknown
	}
	registryMutex.RLock()
	best, bestLen := "", 0
	for pattern, component := range componentRegistry {
		if len(pattern) > bestLen && strings.Contains(funcName, pattern) {
			best, bestLen = component, len(pattern)
		}
	}
	registryMutex.RUnlock()
	if best != "" {
		return best
	}

	last := funcName[strings.LastIndex(funcName, "/")+1:]
	if dot := strings.Index(last, "."); dot > 0 {
		return last[:dot]
	}
	return ComponentUnknown
}

// detectCategory infers a category from the message, then the component.
func detectCategory(err error, component string) ErrorCategory {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "crc") || strings.Contains(msg, "sync"):
		return CategoryCorruption
	case strings.Contains(msg, "unsupported"):
		return CategoryUnsupported
	case strings.Contains(msg, "file") || strings.Contains(msg, "read") || strings.Contains(msg, "open"):
		return CategoryFileIO
	case strings.Contains(msg, "mismatch") || strings.Contains(msg, "invalid"):
		return CategoryValidation
	}

	switch {
	case strings.HasPrefix(component, "demux"):
		return CategoryContainer
	case strings.HasPrefix(component, "codec"):
		return CategoryCodec
	case component == "bufpool" || component == "boundedbuf":
		return CategoryBuffer
	case component == "memtrack":
		return CategoryMemory
	}
	return CategoryGeneric
}

// NewStd returns a plain error.
func NewStd(text string) error { return stderrors.New(text) }

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }

// Unwrap returns the result of calling Unwrap on err.
func Unwrap(err error) error { return stderrors.Unwrap(err) }

// Join returns an error wrapping errs, or nil when all are nil.
func Join(errs ...error) error { return stderrors.Join(errs...) }

// IsCategory reports whether err carries category, either from an
// EnhancedError or a categorized sentinel.
func IsCategory(err error, category ErrorCategory) bool {
	return categoryFromChain(err) == category && category != ""
}
