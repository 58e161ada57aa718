package media

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/tphakala/mediacore/internal/errors"
)

// IOHandler is the only byte source demuxers use.
type IOHandler interface {
	io.ReadSeekCloser
	Tell() int64
	EOF() bool
	Size() int64
	LastError() error
}

// FileHandler reads from an open file.
type FileHandler struct {
	mu      sync.Mutex
	f       *os.File
	size    int64
	pos     int64
	eof     bool
	lastErr error
}

// OpenFile opens path for reading.
func OpenFile(path string) (*FileHandler, error) {
	f, err := os.Open(path) //nolint:gosec // caller supplies the media path
	if err != nil {
		return nil, errors.New(fmt.Errorf("%w: %w", ErrIO, err)).
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.New(fmt.Errorf("%w: %w", ErrIO, err)).
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	return &FileHandler{f: f, size: st.Size()}, nil
}

func (h *FileHandler) Read(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, err := h.f.Read(p)
	h.pos += int64(n)
	if err == io.EOF {
		h.eof = true
	} else if err != nil {
		h.lastErr = err
	}
	return n, err
}

func (h *FileHandler) Seek(offset int64, whence int) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	pos, err := h.f.Seek(offset, whence)
	if err != nil {
		h.lastErr = err
		return h.pos, err
	}
	h.pos = pos
	h.eof = false
	return pos, nil
}

func (h *FileHandler) Tell() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}

func (h *FileHandler) EOF() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.eof || h.pos >= h.size
}

func (h *FileHandler) Size() int64 { return h.size }

func (h *FileHandler) LastError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

func (h *FileHandler) Close() error {
	return h.f.Close()
}

// MemoryHandler serves bytes from memory.
type MemoryHandler struct {
	r    *bytes.Reader
	size int64
	eof  bool
}

// NewMemoryHandler wraps data. The slice must not be modified afterwards.
func NewMemoryHandler(data []byte) *MemoryHandler {
	return &MemoryHandler{r: bytes.NewReader(data), size: int64(len(data))}
}

func (h *MemoryHandler) Read(p []byte) (int, error) {
	n, err := h.r.Read(p)
	if err == io.EOF {
		h.eof = true
	}
	return n, err
}

func (h *MemoryHandler) Seek(offset int64, whence int) (int64, error) {
	pos, err := h.r.Seek(offset, whence)
	if err == nil {
		h.eof = false
	}
	return pos, err
}

func (h *MemoryHandler) Tell() int64      { return h.size - int64(h.r.Len()) }
func (h *MemoryHandler) EOF() bool        { return h.eof || h.r.Len() == 0 }
func (h *MemoryHandler) Size() int64      { return h.size }
func (h *MemoryHandler) LastError() error { return nil }
func (h *MemoryHandler) Close() error     { return nil }

// ReadFull reads exactly len(p) bytes or returns an error wrapping ErrIO.
func ReadFull(h IOHandler, p []byte) error {
	if _, err := io.ReadFull(h, p); err != nil {
		return fmt.Errorf("%w: read %d bytes at %d: %w", ErrIO, len(p), h.Tell()-int64(len(p)), err)
	}
	return nil
}

// ReadAt reads len(p) bytes at off and restores the previous position.
func ReadAt(h IOHandler, off int64, p []byte) (int, error) {
	saved := h.Tell()
	defer func() { _, _ = h.Seek(saved, io.SeekStart) }()

	if _, err := h.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(h, p)
}

var (
	_ IOHandler = (*FileHandler)(nil)
	_ IOHandler = (*MemoryHandler)(nil)
)
