// Package base holds options and helpers shared by the container demuxers.
package base

import (
	"io"

	"github.com/tphakala/mediacore/internal/boundedbuf"
	"github.com/tphakala/mediacore/internal/bufpool"
	"github.com/tphakala/mediacore/internal/media"
	"github.com/tphakala/mediacore/internal/observability/metrics"
)

// DefaultMaxStaging bounds any single structure read from a container.
const DefaultMaxStaging = 64 << 20

// Options are the dependencies every demuxer accepts.
type Options struct {
	Alloc      bufpool.Allocator
	Recorder   metrics.DecodeRecorder
	MaxStaging int // ceiling for a single staged structure, in bytes
}

// WithDefaults fills unset fields.
func (o Options) WithDefaults() Options {
	if o.Alloc == nil {
		o.Alloc = bufpool.HeapAllocator{}
	}
	if o.Recorder == nil {
		o.Recorder = metrics.NopRecorder{}
	}
	if o.MaxStaging <= 0 {
		o.MaxStaging = DefaultMaxStaging
	}
	return o
}

// NewStaging returns a bounded buffer for component.
func (o Options) NewStaging(component string) *boundedbuf.Buffer {
	return boundedbuf.New(o.MaxStaging, o.Alloc, component)
}

// ReadInto replaces the contents of buf with n bytes read from h at its
// current position. It fails with ErrInvalidMedia if n exceeds the ceiling.
func ReadInto(h media.IOHandler, buf *boundedbuf.Buffer, n int64) error {
	if n < 0 || n > int64(buf.MaxSize()) {
		return media.ErrInvalidMedia
	}
	if !buf.Resize(int(n)) {
		return media.ErrInvalidMedia
	}
	return media.ReadFull(h, buf.Bytes())
}

// ReadPayload reads n bytes at off into a new caller-owned slice.
func ReadPayload(h media.IOHandler, off int64, n int) ([]byte, error) {
	if n < 0 {
		return nil, media.ErrInvalidMedia
	}
	if _, err := h.Seek(off, io.SeekStart); err != nil {
		return nil, err
	}
	data := make([]byte, n)
	if err := media.ReadFull(h, data); err != nil {
		return nil, err
	}
	return data, nil
}
