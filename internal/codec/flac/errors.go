package flac

import (
	"fmt"

	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/observability/metrics"
)

// Frame-level failures. They are recoverable: the decoder drops the frame
// and resynchronizes on the next sync code.
var (
	ErrHeaderCRC = errors.NewStd("flac: frame header crc mismatch")
	ErrFrameCRC  = errors.NewStd("flac: frame crc mismatch")
	ErrReserved  = errors.NewStd("flac: reserved field value")
	ErrSyncLost  = errors.NewStd("flac: no frame sync")
	ErrBitstream = errors.NewStd("flac: invalid bitstream")
	ErrSubset    = errors.NewStd("flac: streamable subset violation")
)

// ErrBlockTooLarge fails the decode call that met it: the frame needs more
// scratch memory than the decoder is allowed.
var ErrBlockTooLarge = errors.NewStd("flac: block size above limit")

func errBlockTooLarge(size, limit uint32) error {
	return fmt.Errorf("%w: %d samples, limit %d", ErrBlockTooLarge, size, limit)
}

// recoverable reports whether err only loses the current frame.
func recoverable(err error) bool {
	return errors.Is(err, ErrHeaderCRC) || errors.Is(err, ErrFrameCRC) ||
		errors.Is(err, ErrReserved) || errors.Is(err, ErrSyncLost) ||
		errors.Is(err, ErrBitstream) || errors.Is(err, ErrSubset)
}

func frameError(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

func reservedError(format string, args ...any) error {
	return frameError(ErrReserved, format, args...)
}

func bitstreamError(format string, args ...any) error {
	return frameError(ErrBitstream, format, args...)
}

// errorType maps a frame error to its metrics label.
func errorType(err error) string {
	switch {
	case errors.Is(err, ErrHeaderCRC):
		return metrics.ErrTypeHeaderCRC
	case errors.Is(err, ErrFrameCRC):
		return metrics.ErrTypeFrameCRC
	case errors.Is(err, ErrReserved):
		return metrics.ErrTypeReserved
	case errors.Is(err, ErrSyncLost):
		return metrics.ErrTypeSyncLost
	case errors.Is(err, ErrSubset):
		return metrics.ErrTypeSubset
	default:
		return metrics.ErrTypeBitstream
	}
}
