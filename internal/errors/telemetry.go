// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// ErrorHook is called synchronously for every error built while reporting is active.
type ErrorHook func(ee *EnhancedError)

var (
	telemetryMu             sync.RWMutex
	globalTelemetryReporter TelemetryReporter
	errorHooks              []ErrorHook

	// hasActiveReporting lets Build skip stack walking when nothing listens.
	hasActiveReporting atomic.Bool
)

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a new Sentry telemetry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError reports an enhanced error to Sentry with privacy protection
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}

	scrubbedMessage := scrubMessageForPrivacy(fmt.Sprintf("[%s] %s", ee.Category, ee.GetMessage()))
	component := ee.GetComponent()

	sentry.WithScope(func(scope *sentry.Scope) {
		errorTitle := generateErrorTitle(ee)

		scope.SetTag("error_title", errorTitle)
		scope.SetTag("component", component)
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))

		for key, value := range ee.GetContext() {
			if strValue, ok := value.(string); ok {
				value = scrubMessageForPrivacy(strValue)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}

		level := getErrorLevel(ee.Category)
		scope.SetLevel(level)
		scope.SetFingerprint([]string{errorTitle, component, string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = scrubbedMessage
		event.Level = level
		event.Exception = []sentry.Exception{{
			Type:  errorTitle,
			Value: scrubbedMessage,
		}}

		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

// generateErrorTitle creates a meaningful error title based on enhanced error context
func generateErrorTitle(ee *EnhancedError) string {
	var titleParts []string

	if component := ee.GetComponent(); component != "" && component != ComponentUnknown {
		titleParts = append(titleParts, titleCase(component))
	}

	if categoryTitle := formatCategoryForTitle(ee.Category); categoryTitle != "" {
		titleParts = append(titleParts, categoryTitle)
	}

	if operation, ok := ee.GetContext()["operation"].(string); ok && operation != "" {
		titleParts = append(titleParts, formatOperationForTitle(operation))
	}

	if len(titleParts) == 0 {
		return fmt.Sprintf("%T", ee.Err)
	}

	return strings.Join(titleParts, " ")
}

// formatCategoryForTitle converts error categories to human-readable titles
func formatCategoryForTitle(category ErrorCategory) string {
	switch category {
	case CategoryValidation:
		return "Validation Error"
	case CategoryFileIO:
		return "File I/O Error"
	case CategoryContainer:
		return "Container Parse Error"
	case CategoryCodec:
		return "Decode Error"
	case CategoryCorruption:
		return "Corrupt Data"
	case CategoryUnsupported:
		return "Unsupported Media"
	case CategoryBuffer:
		return "Buffer Pool Error"
	case CategoryMemory:
		return "Memory Tracking Error"
	case CategoryConfiguration:
		return "Configuration Error"
	case CategorySystem:
		return "System Error"
	default:
		return string(category)
	}
}

// formatOperationForTitle converts operation context to human-readable format
func formatOperationForTitle(operation string) string {
	words := strings.Fields(strings.ReplaceAll(operation, "_", " "))
	for i, word := range words {
		words[i] = titleCase(word)
	}
	return strings.Join(words, " ")
}

// titleCase capitalizes the first letter of a string
func titleCase(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// getErrorLevel returns appropriate Sentry level based on category
func getErrorLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryCorruption, CategoryUnsupported, CategoryFileIO:
		return sentry.LevelWarning // Bad input files are expected in the wild
	case CategoryCodec, CategoryContainer:
		return sentry.LevelWarning
	case CategoryBuffer, CategoryMemory, CategoryLimit:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

// SetTelemetryReporter sets the global telemetry reporter
func SetTelemetryReporter(reporter TelemetryReporter) {
	telemetryMu.Lock()
	defer telemetryMu.Unlock()
	globalTelemetryReporter = reporter
	updateActiveReporting()
}

// GetTelemetryReporter returns the current telemetry reporter
func GetTelemetryReporter() TelemetryReporter {
	telemetryMu.RLock()
	defer telemetryMu.RUnlock()
	return globalTelemetryReporter
}

// AddErrorHook registers a hook invoked for each built error.
func AddErrorHook(hook ErrorHook) {
	telemetryMu.Lock()
	defer telemetryMu.Unlock()
	errorHooks = append(errorHooks, hook)
	updateActiveReporting()
}

// ClearErrorHooks removes all registered error hooks.
func ClearErrorHooks() {
	telemetryMu.Lock()
	defer telemetryMu.Unlock()
	errorHooks = nil
	updateActiveReporting()
}

// updateActiveReporting must be called with telemetryMu held.
func updateActiveReporting() {
	active := len(errorHooks) > 0 || (globalTelemetryReporter != nil && globalTelemetryReporter.IsEnabled())
	hasActiveReporting.Store(active)
}

// reportToTelemetry reports an error to the configured telemetry system and hooks
func reportToTelemetry(ee *EnhancedError) {
	telemetryMu.RLock()
	reporter := globalTelemetryReporter
	hooks := make([]ErrorHook, len(errorHooks))
	copy(hooks, errorHooks)
	telemetryMu.RUnlock()

	for _, hook := range hooks {
		hook(ee)
	}

	if reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}

// PrivacyScrubber is a function type for privacy scrubbing
type PrivacyScrubber func(string) string

var globalPrivacyScrubber atomic.Pointer[PrivacyScrubber]

// SetPrivacyScrubber sets the global privacy scrubbing function
func SetPrivacyScrubber(scrubber PrivacyScrubber) {
	if scrubber == nil {
		globalPrivacyScrubber.Store(nil)
		return
	}
	globalPrivacyScrubber.Store(&scrubber)
}

// scrubMessageForPrivacy applies privacy protection to error messages
func scrubMessageForPrivacy(message string) string {
	if p := globalPrivacyScrubber.Load(); p != nil {
		return (*p)(message)
	}
	return basicScrub(message)
}

var (
	urlQueryRegex   = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	queryParamRegex = regexp.MustCompile(`[?&]([^=\s]+)=([^&\s]+)`)
	homePathRegex   = regexp.MustCompile(`(/home/|/Users/|C:\\Users\\)[^/\\\s]+`)
	apiKeyRegexes   = []*regexp.Regexp{
		regexp.MustCompile(`api[_-]?key[=:]\S+`),
		regexp.MustCompile(`token[=:]\S+`),
		regexp.MustCompile(`auth[=:]\S+`),
		regexp.MustCompile(`[0-9a-fA-F]{32,}`),
	}
)

// basicScrub anonymizes URLs, credentials and user home directories in file paths
func basicScrub(message string) string {
	scrubbed := urlQueryRegex.ReplaceAllString(message, "$1?[REDACTED]")
	scrubbed = queryParamRegex.ReplaceAllString(scrubbed, "?[REDACTED]")
	for _, re := range apiKeyRegexes {
		scrubbed = re.ReplaceAllString(scrubbed, "[API_KEY_REDACTED]")
	}
	return homePathRegex.ReplaceAllString(scrubbed, "${1}[USER]")
}
