package media

import (
	"github.com/tphakala/mediacore/internal/errors"
)

// Sentinel errors raised at construction and header rejection points. The
// registry and codec factory convert them into nil results for their callers.
// Errors built around them inherit their category.
var (
	ErrBadFormat     = errors.NewSentinel("bad format", errors.CategoryContainer)
	ErrWrongFormat   = errors.NewSentinel("wrong format", errors.CategoryUnsupported)
	ErrInvalidMedia  = errors.NewSentinel("invalid media", errors.CategoryContainer)
	ErrIO            = errors.NewSentinel("i/o error", errors.CategoryFileIO)
	ErrUnsupported   = errors.NewSentinel("unsupported", errors.CategoryUnsupported)
	ErrEndOfStream   = errors.NewSentinel("end of stream", errors.CategoryState)
	ErrNotParsed     = errors.NewSentinel("container not parsed", errors.CategoryState)
	ErrUnknownStream = errors.NewSentinel("unknown stream", errors.CategoryNotFound)
)

// IsRejection reports whether err is one of the construction-time rejections
// that callers treat as "cannot play this file".
func IsRejection(err error) bool {
	return errors.Is(err, ErrBadFormat) ||
		errors.Is(err, ErrWrongFormat) ||
		errors.Is(err, ErrInvalidMedia) ||
		errors.Is(err, ErrUnsupported)
}
