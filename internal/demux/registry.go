// Package demux selects and instantiates container demuxers from content
// signatures and file extensions.
package demux

import (
	"io"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/tphakala/mediacore/internal/logger"
	"github.com/tphakala/mediacore/internal/media"
)

// GetLogger returns the demux module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("demux")
}

// Factory builds a demuxer over h. path may be empty.
type Factory func(h media.IOHandler, path string) (media.Demuxer, error)

// FormatInfo describes a registered container format.
type FormatInfo struct {
	ID         string
	Name       string
	Extensions []string
	Factory    Factory
}

// ProbeRecorder receives probe outcomes; *metrics.CodecMetrics satisfies it.
type ProbeRecorder interface {
	RecordProbe(format, method string)
	RecordParseError(format string)
}

// Registry maps byte streams to demuxers.
type Registry struct {
	mu         sync.RWMutex
	formats    map[string]*FormatInfo
	extensions map[string]string
	signatures []Signature // sorted by priority, then registration order
	nextOrder  int
	compare    matchFunc
	recorder   ProbeRecorder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	cmp, mode := selectCompare()
	GetLogger().Debug("signature compare selected", logger.String("mode", mode))
	return &Registry{
		formats:    make(map[string]*FormatInfo),
		extensions: make(map[string]string),
		compare:    cmp,
	}
}

// SetRecorder attaches a probe recorder. Passing nil disables it.
func (r *Registry) SetRecorder(rec ProbeRecorder) {
	r.mu.Lock()
	r.recorder = rec
	r.mu.Unlock()
}

// Register adds or replaces a format and its extensions.
func (r *Registry) Register(info FormatInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := info
	f.Extensions = slices.Clone(info.Extensions)
	r.formats[f.ID] = &f
	for _, ext := range f.Extensions {
		r.extensions[strings.ToLower(strings.TrimPrefix(ext, "."))] = f.ID
	}
}

// RegisterSignature adds a magic byte sequence for formatID.
func (r *Registry) RegisterSignature(formatID string, magic []byte, offset, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.signatures = append(r.signatures, Signature{
		FormatID: formatID,
		Magic:    slices.Clone(magic),
		Offset:   offset,
		Priority: priority,
		order:    r.nextOrder,
	})
	r.nextOrder++
	sort.SliceStable(r.signatures, func(i, j int) bool {
		return r.signatures[i].Priority > r.signatures[j].Priority
	})
}

// Formats lists registered formats sorted by id.
func (r *Registry) Formats() []FormatInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]FormatInfo, 0, len(r.formats))
	for _, f := range r.formats {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// readHeader reads up to ProbeSize bytes from the start of h and restores the position.
func readHeader(h media.IOHandler) []byte {
	header := make([]byte, ProbeSize)
	n, _ := media.ReadAt(h, 0, header)
	return header[:n]
}

// ProbeFormat returns the id of the highest-priority signature matching the
// start of h, or "" if nothing matches. Ties go to the earliest registration.
func (r *Registry) ProbeFormat(h media.IOHandler) string {
	if h == nil {
		return ""
	}
	return r.probeHeader(readHeader(h))
}

func (r *Registry) probeHeader(header []byte) string {
	// Signatures check their own length; a 3-byte "ID3" still matches.
	if len(header) == 0 {
		return ""
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	best := -1
	for i, sig := range r.signatures {
		if !sig.matches(header, r.compare) {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		b := r.signatures[best]
		if sig.Priority > b.Priority || (sig.Priority == b.Priority && sig.order < b.order) {
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	return r.signatures[best].FormatID
}

// probeBehindID3 looks past leading ID3v2 tags for a more specific format.
// Tags are commonly prepended to FLAC and Ogg files as well as MP3.
func (r *Registry) probeBehindID3(h media.IOHandler, header []byte) string {
	size := media.ID3v2Size(header)
	if size == 0 {
		return ""
	}
	saved := h.Tell()
	defer func() { _, _ = h.Seek(saved, io.SeekStart) }()

	if _, err := h.Seek(0, io.SeekStart); err != nil {
		return ""
	}
	skipped, err := media.SkipID3v2(h)
	if err != nil || skipped == 0 {
		return ""
	}
	after := make([]byte, ProbeSize)
	n, _ := io.ReadFull(h, after)
	return r.probeHeader(after[:n])
}

// FormatForExtension returns the format registered for path's extension.
func (r *Registry) FormatForExtension(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		return ""
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.extensions[ext]
}

// Detect resolves the format id for h and path and reports how it was found.
func (r *Registry) Detect(h media.IOHandler, path string) (id, method string) {
	if extID := r.FormatForExtension(path); extID == FormatRaw {
		// Headerless telephony data has no signature, and random PCM can
		// look like anything, so raw extensions bypass probing
		return FormatRaw, "extension"
	}

	header := readHeader(h)
	id = r.probeHeader(header)
	if id == FormatMP3 {
		if behind := r.probeBehindID3(h, header); behind != "" {
			return behind, "signature"
		}
	}
	if id != "" {
		return id, "signature"
	}
	if id = r.FormatForExtension(path); id != "" {
		return id, "extension"
	}
	return "", ""
}

// CreateDemuxer probes h, falls back to the extension of path and builds
// the matching demuxer. It returns nil when the format is unknown or the
// factory rejects the stream.
func (r *Registry) CreateDemuxer(h media.IOHandler, path string) media.Demuxer {
	if h == nil {
		return nil
	}
	log := GetLogger()

	id, method := r.Detect(h, path)
	if id == "" {
		log.Debug("no demuxer for stream", logger.String("path", path))
		return nil
	}

	r.mu.RLock()
	f := r.formats[id]
	rec := r.recorder
	r.mu.RUnlock()

	if f == nil || f.Factory == nil {
		log.Debug("format has no factory", logger.String("format", id))
		return nil
	}
	if rec != nil {
		rec.RecordProbe(id, method)
	}

	if _, err := h.Seek(0, io.SeekStart); err != nil {
		log.Warn("cannot rewind stream", logger.Error(err))
		return nil
	}
	d, err := f.Factory(h, path)
	if err != nil {
		if rec != nil {
			rec.RecordParseError(id)
		}
		log.Warn("demuxer rejected stream",
			logger.String("format", id),
			logger.String("method", method),
			logger.Error(err))
		return nil
	}
	return d
}
