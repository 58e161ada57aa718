// Package codec selects and instantiates audio decoders for demuxed streams.
package codec

import (
	"fmt"
	"sync"

	"github.com/tphakala/mediacore/internal/errors"
	"github.com/tphakala/mediacore/internal/logger"
	"github.com/tphakala/mediacore/internal/media"
)

// GetLogger returns the codec factory logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("codec")
}

// Constructor builds an uninitialized codec for info.
type Constructor func(info media.StreamInfo) media.AudioCodec

type entry struct {
	name  string
	ctor  Constructor
	probe media.AudioCodec // answers CanDecode
}

// Factory creates codecs. The first registered codec whose CanDecode
// accepts a stream wins.
type Factory struct {
	mu      sync.RWMutex
	entries []entry
}

// NewFactory returns an empty factory.
func NewFactory() *Factory {
	return &Factory{}
}

// Register appends a codec, or replaces one of the same name in place.
func (f *Factory) Register(name string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e := entry{name: name, ctor: ctor, probe: ctor(media.StreamInfo{})}
	for i := range f.entries {
		if f.entries[i].name == name {
			f.entries[i] = e
			return
		}
	}
	f.entries = append(f.entries, e)
}

// Names lists registered codecs in selection order.
func (f *Factory) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.name
	}
	return out
}

// Lookup returns the name of the codec that would decode info.
func (f *Factory) Lookup(info media.StreamInfo) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, e := range f.entries {
		if e.probe.CanDecode(info) {
			return e.name, true
		}
	}
	return "", false
}

// Create returns an initialized codec for info.
func (f *Factory) Create(info media.StreamInfo) (media.AudioCodec, error) {
	f.mu.RLock()
	var ctor Constructor
	var name string
	for _, e := range f.entries {
		if e.probe.CanDecode(info) {
			ctor, name = e.ctor, e.name
			break
		}
	}
	f.mu.RUnlock()

	if ctor == nil {
		return nil, errors.New(fmt.Errorf("%w: no decoder for %q", media.ErrUnsupported, info.CodecName)).
			Component("codec").
			Category(errors.CategoryUnsupported).
			Context("codec", info.CodecName).
			Context("bits_per_sample", info.BitsPerSample).
			Build()
	}

	c := ctor(info)
	if err := c.Initialize(); err != nil {
		GetLogger().Warn("codec initialization failed",
			logger.String("codec", name),
			logger.Uint32("stream", info.StreamID),
			logger.Error(err))
		return nil, err
	}
	GetLogger().Debug("codec created",
		logger.String("codec", name),
		logger.Uint32("stream", info.StreamID),
		logger.Uint32("sample_rate", info.SampleRate),
		logger.Int("channels", int(info.Channels)))
	return c, nil
}
