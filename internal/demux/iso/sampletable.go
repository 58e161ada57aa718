package iso

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// TableMode selects how sample positions are held in memory.
type TableMode int

const (
	// TableModeAuto picks lazy above the configured sample threshold.
	TableModeAuto TableMode = iota
	// TableModeEager materializes every sample offset and time.
	TableModeEager
	// TableModeLazy keeps run-length tables and computes offsets in pages.
	TableModeLazy
)

func (m TableMode) String() string {
	switch m {
	case TableModeEager:
		return "eager"
	case TableModeLazy:
		return "lazy"
	default:
		return "auto"
	}
}

// ParseTableMode maps a config string to a TableMode.
func ParseTableMode(s string) TableMode {
	switch strings.ToLower(s) {
	case "eager":
		return TableModeEager
	case "lazy":
		return TableModeLazy
	default:
		return TableModeAuto
	}
}

const (
	DefaultLazyThreshold = 100_000
	DefaultPageCacheTTL  = 30 * time.Second

	// PageSize is the number of sample offsets computed per lazy page.
	PageSize = 1024

	coarseThreshold = 64 * 1024
	coarseStride    = 1024
)

// TableConfig configures a SampleTableManager.
type TableConfig struct {
	Mode          TableMode
	LazyThreshold int
	PageCacheTTL  time.Duration
}

// SampleInfo locates one sample. Index is 0-based; Time and Duration are
// in track timescale units.
type SampleInfo struct {
	Index    uint32
	Offset   uint64
	Size     uint32
	Time     uint64
	Duration uint32
	Sync     bool
}

type chunkRun struct {
	firstChunk      uint32 // 0-based
	chunks          uint32
	samplesPerChunk uint32
	firstSample     uint32
}

type timeRun struct {
	firstSample uint32
	count       uint32
	delta       uint32
	startTime   uint64
}

type sizeRun struct {
	firstSample uint32
	size        uint32
}

// SampleTableManager answers position and time queries for one track. It
// is owned by a single demuxer and is not safe for concurrent use.
type SampleTableManager struct {
	cfg   TableConfig
	mode  TableMode
	count uint32

	chunkOffsets []uint64
	chunks       []chunkRun
	times        []timeRun
	totalTime    uint64

	constSize uint32
	sizes     []uint32
	sizeRuns  []sizeRun

	sync []uint32 // 1-based, nil when every sample is a sync sample

	// eager mode
	offsets     []uint64
	sampleTimes []uint64
	coarse      []uint64 // sampleTimes[i*coarseStride]

	// lazy mode
	pages *cache.Cache
}

// NewSampleTableManager returns an empty manager.
func NewSampleTableManager(cfg TableConfig) *SampleTableManager {
	if cfg.LazyThreshold <= 0 {
		cfg.LazyThreshold = DefaultLazyThreshold
	}
	if cfg.PageCacheTTL <= 0 {
		cfg.PageCacheTTL = DefaultPageCacheTTL
	}
	return &SampleTableManager{cfg: cfg}
}

// Build indexes st. On error the manager is left empty.
func (m *SampleTableManager) Build(st *SampleTableInfo) error {
	if err := m.build(st); err != nil {
		*m = SampleTableManager{cfg: m.cfg}
		return err
	}
	return nil
}

func (m *SampleTableManager) build(st *SampleTableInfo) error {
	*m = SampleTableManager{cfg: m.cfg}
	m.count = st.SampleCount
	if m.count == 0 {
		m.mode = TableModeEager
		return nil
	}

	m.constSize = st.ConstantSize
	if m.constSize == 0 {
		if uint32(len(st.SampleSizes)) != m.count {
			return structural("sample size table has %d entries for %d samples", len(st.SampleSizes), m.count)
		}
		m.sizes = append([]uint32(nil), st.SampleSizes...)
	}

	if len(st.ChunkOffsets) == 0 || len(st.SampleToChunk) == 0 {
		return structural("missing chunk tables for %d samples", m.count)
	}
	m.chunkOffsets = append([]uint64(nil), st.ChunkOffsets...)
	if err := m.buildChunkRuns(st.SampleToChunk); err != nil {
		return err
	}
	if len(st.TimeToSample) == 0 {
		return structural("missing time-to-sample table")
	}
	m.buildTimeRuns(st.TimeToSample)
	if len(st.SyncSamples) > 0 {
		m.sync = append([]uint32(nil), st.SyncSamples...)
		sort.Slice(m.sync, func(i, j int) bool { return m.sync[i] < m.sync[j] })
	}

	m.mode = m.cfg.Mode
	if m.mode == TableModeAuto {
		m.mode = TableModeEager
		if int(m.count) > m.cfg.LazyThreshold {
			m.mode = TableModeLazy
		}
	}
	if m.mode == TableModeLazy {
		m.pages = cache.New(m.cfg.PageCacheTTL, 0)
		return nil
	}

	m.offsets = m.computeOffsets(0, m.count)
	m.sampleTimes = make([]uint64, m.count)
	for _, r := range m.times {
		t := r.startTime
		for i := uint32(0); i < r.count && r.firstSample+i < m.count; i++ {
			m.sampleTimes[r.firstSample+i] = t
			t += uint64(r.delta)
		}
	}
	if m.count > coarseThreshold {
		m.coarse = make([]uint64, 0, m.count/coarseStride+1)
		for i := uint32(0); i < m.count; i += coarseStride {
			m.coarse = append(m.coarse, m.sampleTimes[i])
		}
	}
	return nil
}

func (m *SampleTableManager) buildChunkRuns(entries []SampleToChunk) error {
	numChunks := uint32(len(m.chunkOffsets))
	var sample uint64
	for i, e := range entries {
		if e.FirstChunk == 0 || e.FirstChunk > numChunks {
			return structural("stsc entry %d references chunk %d of %d", i, e.FirstChunk, numChunks)
		}
		last := numChunks
		if i+1 < len(entries) {
			last = min(entries[i+1].FirstChunk-1, numChunks)
		}
		first := e.FirstChunk - 1
		if last <= first || e.SamplesPerChunk == 0 {
			continue
		}
		m.chunks = append(m.chunks, chunkRun{
			firstChunk:      first,
			chunks:          last - first,
			samplesPerChunk: e.SamplesPerChunk,
			firstSample:     uint32(min(sample, uint64(m.count))),
		})
		sample += uint64(last-first) * uint64(e.SamplesPerChunk)
	}
	if sample < uint64(m.count) {
		return structural("chunk map covers %d of %d samples", sample, m.count)
	}
	return nil
}

func (m *SampleTableManager) buildTimeRuns(entries []TimeToSample) {
	var sample uint32
	var t uint64
	for _, e := range entries {
		if e.Count == 0 || sample >= m.count {
			continue
		}
		n := min(e.Count, m.count-sample)
		m.times = append(m.times, timeRun{firstSample: sample, count: n, delta: e.Delta, startTime: t})
		sample += n
		t += uint64(n) * uint64(e.Delta)
	}
	if sample < m.count {
		// Short stts: extend with the last known delta.
		var delta uint32
		if len(m.times) > 0 {
			delta = m.times[len(m.times)-1].delta
		}
		n := m.count - sample
		m.times = append(m.times, timeRun{firstSample: sample, count: n, delta: delta, startTime: t})
		t += uint64(n) * uint64(delta)
	}
	m.totalTime = t
}

// Mode returns the resolved storage mode.
func (m *SampleTableManager) Mode() TableMode { return m.mode }

// SampleCount returns the number of indexed samples.
func (m *SampleTableManager) SampleCount() uint32 { return m.count }

// TotalTime returns the summed sample durations in timescale units.
func (m *SampleTableManager) TotalTime() uint64 { return m.totalTime }

func (m *SampleTableManager) sizeAt(i uint32) uint32 {
	switch {
	case m.constSize != 0:
		return m.constSize
	case m.sizeRuns != nil:
		k := sort.Search(len(m.sizeRuns), func(j int) bool { return m.sizeRuns[j].firstSample > i }) - 1
		return m.sizeRuns[k].size
	default:
		return m.sizes[i]
	}
}

// chunkOf returns the 0-based chunk holding sample i, the first sample of
// that chunk and the number of samples in it.
func (m *SampleTableManager) chunkOf(i uint32) (chunk, first, n uint32) {
	k := sort.Search(len(m.chunks), func(j int) bool { return m.chunks[j].firstSample > i }) - 1
	if k < 0 {
		k = 0
	}
	r := m.chunks[k]
	idx := (i - r.firstSample) / r.samplesPerChunk
	first = r.firstSample + idx*r.samplesPerChunk
	n = min(r.samplesPerChunk, m.count-first)
	return r.firstChunk + idx, first, n
}

// ChunkSpan returns the first sample and sample count of the chunk holding
// sample i.
func (m *SampleTableManager) ChunkSpan(i uint32) (first, n uint32) {
	if i >= m.count {
		return 0, 0
	}
	_, first, n = m.chunkOf(i)
	return first, n
}

// computeOffsets returns the file offsets of samples [from, from+n).
func (m *SampleTableManager) computeOffsets(from, n uint32) []uint64 {
	n = min(n, m.count-from)
	out := make([]uint64, n)
	if n == 0 {
		return out
	}
	chunk, first, inChunk := m.chunkOf(from)
	off := m.chunkOffsets[chunk]
	for s := first; s < from; s++ {
		off += uint64(m.sizeAt(s))
	}
	end := first + inChunk
	for k := range out {
		s := from + uint32(k)
		if s == end {
			chunk, first, inChunk = m.chunkOf(s)
			off = m.chunkOffsets[chunk]
			end = first + inChunk
		}
		out[k] = off
		off += uint64(m.sizeAt(s))
	}
	return out
}

func (m *SampleTableManager) offsetAt(i uint32) uint64 {
	if m.mode != TableModeLazy {
		return m.offsets[i]
	}
	page := i / PageSize
	key := strconv.FormatUint(uint64(page), 10)
	if v, ok := m.pages.Get(key); ok {
		return v.([]uint64)[i%PageSize]
	}
	offs := m.computeOffsets(page*PageSize, PageSize)
	m.pages.SetDefault(key, offs)
	return offs[i%PageSize]
}

func (m *SampleTableManager) timeRunOf(i uint32) timeRun {
	k := sort.Search(len(m.times), func(j int) bool { return m.times[j].firstSample > i }) - 1
	return m.times[max(k, 0)]
}

// SampleToTime returns the decode time of sample i.
func (m *SampleTableManager) SampleToTime(i uint32) uint64 {
	if i >= m.count {
		return m.totalTime
	}
	if m.sampleTimes != nil {
		return m.sampleTimes[i]
	}
	r := m.timeRunOf(i)
	return r.startTime + uint64(i-r.firstSample)*uint64(r.delta)
}

// TimeToSample returns the sample whose span contains t, clamped to the
// last sample.
func (m *SampleTableManager) TimeToSample(t uint64) uint32 {
	if m.count == 0 {
		return 0
	}
	if t >= m.totalTime {
		return m.count - 1
	}
	if m.sampleTimes != nil {
		lo, hi := uint32(0), m.count
		if m.coarse != nil {
			c := sort.Search(len(m.coarse), func(j int) bool { return m.coarse[j] > t }) - 1
			lo = uint32(max(c, 0)) * coarseStride
			hi = min(lo+coarseStride, m.count)
		}
		window := m.sampleTimes[lo:hi]
		k := sort.Search(len(window), func(j int) bool { return window[j] > t }) - 1
		return lo + uint32(max(k, 0))
	}
	k := sort.Search(len(m.times), func(j int) bool { return m.times[j].startTime > t }) - 1
	r := m.times[max(k, 0)]
	if r.delta == 0 {
		return r.firstSample
	}
	return r.firstSample + min(uint32((t-r.startTime)/uint64(r.delta)), r.count-1)
}

// IsSync reports whether sample i is a sync sample.
func (m *SampleTableManager) IsSync(i uint32) bool {
	if m.sync == nil {
		return true
	}
	k := sort.Search(len(m.sync), func(j int) bool { return m.sync[j] >= i+1 })
	return k < len(m.sync) && m.sync[k] == i+1
}

// SyncSampleAtOrBefore returns the nearest sync sample not after i.
func (m *SampleTableManager) SyncSampleAtOrBefore(i uint32) uint32 {
	if m.sync == nil {
		return i
	}
	k := sort.Search(len(m.sync), func(j int) bool { return m.sync[j] > i+1 }) - 1
	if k < 0 {
		return m.sync[0] - 1
	}
	return m.sync[k] - 1
}

// Sample returns everything known about sample i.
func (m *SampleTableManager) Sample(i uint32) (SampleInfo, bool) {
	if i >= m.count {
		return SampleInfo{}, false
	}
	r := m.timeRunOf(i)
	return SampleInfo{
		Index:    i,
		Offset:   m.offsetAt(i),
		Size:     m.sizeAt(i),
		Time:     m.SampleToTime(i),
		Duration: r.delta,
		Sync:     m.IsSync(i),
	}, true
}

// OptimizeMemoryUsage collapses runs of equal sample sizes and drops
// expired lazy pages. Query results do not change.
func (m *SampleTableManager) OptimizeMemoryUsage() {
	if m.pages != nil {
		m.pages.DeleteExpired()
	}
	if m.sizes == nil {
		return
	}
	var runs []sizeRun
	for i, s := range m.sizes {
		if len(runs) == 0 || runs[len(runs)-1].size != s {
			runs = append(runs, sizeRun{firstSample: uint32(i), size: s})
		}
	}
	switch {
	case len(runs) == 1:
		m.constSize = runs[0].size
		m.sizes = nil
	case len(runs)*8 < len(m.sizes)*4:
		m.sizeRuns = runs
		m.sizes = nil
	}
}

// MemoryUsage estimates the bytes held by the index.
func (m *SampleTableManager) MemoryUsage() int {
	n := len(m.chunkOffsets)*8 + len(m.chunks)*16 + len(m.times)*24 +
		len(m.sizes)*4 + len(m.sizeRuns)*8 + len(m.sync)*4 +
		len(m.offsets)*8 + len(m.sampleTimes)*8 + len(m.coarse)*8
	if m.pages != nil {
		n += m.pages.ItemCount() * PageSize * 8
	}
	return n
}

// Close drops cached pages.
func (m *SampleTableManager) Close() {
	if m.pages != nil {
		m.pages.Flush()
	}
}
