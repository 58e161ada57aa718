package iso

import (
	"sort"
)

// tfhd and trun flag bits
const (
	tfhdBaseDataOffset     = 0x000001
	tfhdSampleDescIndex    = 0x000002
	tfhdDefaultDuration    = 0x000008
	tfhdDefaultSize        = 0x000010
	tfhdDefaultFlags       = 0x000020
	trunDataOffset         = 0x000001
	trunFirstSampleFlags   = 0x000004
	trunSampleDuration     = 0x000100
	trunSampleSize         = 0x000200
	trunSampleFlags        = 0x000400
	trunCompositionOffsets = 0x000800
	sampleFlagNonSync      = 0x00010000
)

// TrackDefaults are the trex values for one track.
type TrackDefaults struct {
	TrackID         uint32
	SampleDescIndex uint32
	Duration        uint32
	Size            uint32
	Flags           uint32
}

// TrackRun is one trun box.
type TrackRun struct {
	SampleCount   uint32
	DataOffset    int32
	HasDataOffset bool
	FirstFlags    uint32
	HasFirstFlags bool
	Durations     []uint32
	Sizes         []uint32
	Flags         []uint32
}

// TrackFragment is one traf box with defaults resolved.
type TrackFragment struct {
	TrackID             uint32
	BaseDataOffset      uint64
	DefaultDuration     uint32
	DefaultSize         uint32
	DefaultFlags        uint32
	BaseMediaDecodeTime uint64
	HasDecodeTime       bool
	Runs                []TrackRun
}

// MovieFragment is one moof box and the mdat that follows it.
type MovieFragment struct {
	SequenceNumber uint32
	MoofOffset     uint64
	MoofSize       uint64
	MdatOffset     uint64 // payload start, zero when not found
	MdatSize       uint64
	Tracks         []TrackFragment
}

// FragmentHandler collects movie fragments and merges them into track
// sample tables.
type FragmentHandler struct {
	defaults  map[uint32]TrackDefaults
	fragments []MovieFragment
	current   int
	sorted    bool
}

// NewFragmentHandler returns an empty handler.
func NewFragmentHandler() *FragmentHandler {
	return &FragmentHandler{defaults: make(map[uint32]TrackDefaults), sorted: true}
}

// SetDefaults records trex values for a track.
func (f *FragmentHandler) SetDefaults(d TrackDefaults) {
	f.defaults[d.TrackID] = d
}

// Defaults returns the trex values for trackID.
func (f *FragmentHandler) Defaults(trackID uint32) (TrackDefaults, bool) {
	d, ok := f.defaults[trackID]
	return d, ok
}

// parseTrex reads a trex payload.
func parseTrex(p []byte) (TrackDefaults, error) {
	if len(p) < 24 {
		return TrackDefaults{}, structural("short trex")
	}
	return TrackDefaults{
		TrackID:         u32(p, 4),
		SampleDescIndex: u32(p, 8),
		Duration:        u32(p, 12),
		Size:            u32(p, 16),
		Flags:           u32(p, 20),
	}, nil
}

// ParseMovieFragment decodes moof. read loads a box payload; mdat is the
// box following moof, or nil.
func (f *FragmentHandler) ParseMovieFragment(moof, mdat *box, read func(*box) ([]byte, error)) (MovieFragment, error) {
	frag := MovieFragment{MoofOffset: uint64(moof.offset), MoofSize: uint64(moof.size)}
	if mdat != nil {
		frag.MdatOffset = uint64(mdat.payloadOffset())
		frag.MdatSize = uint64(mdat.payloadSize())
	}

	mfhd := moof.child(typeMfhd)
	if mfhd == nil {
		return frag, structural("moof at %d without mfhd", moof.offset)
	}
	p, err := read(mfhd)
	if err != nil {
		return frag, err
	}
	if len(p) < 8 {
		return frag, structural("short mfhd")
	}
	frag.SequenceNumber = u32(p, 4)

	for _, traf := range moof.all(typeTraf) {
		tf, err := f.parseTraf(traf, &frag, read)
		if err != nil {
			return frag, err
		}
		frag.Tracks = append(frag.Tracks, tf)
	}
	return frag, nil
}

func (f *FragmentHandler) parseTraf(traf *box, frag *MovieFragment, read func(*box) ([]byte, error)) (TrackFragment, error) {
	var tf TrackFragment
	tfhd := traf.child(typeTfhd)
	if tfhd == nil {
		return tf, structural("traf at %d without tfhd", traf.offset)
	}
	p, err := read(tfhd)
	if err != nil {
		return tf, err
	}
	if len(p) < 8 {
		return tf, structural("short tfhd")
	}
	flags := u32(p, 0) & 0xffffff
	tf.TrackID = u32(p, 4)
	if d, ok := f.defaults[tf.TrackID]; ok {
		tf.DefaultDuration, tf.DefaultSize, tf.DefaultFlags = d.Duration, d.Size, d.Flags
	}
	off := 8
	tf.BaseDataOffset = frag.MoofOffset
	if flags&tfhdBaseDataOffset != 0 {
		tf.BaseDataOffset = u64(p, off)
		off += 8
	}
	if flags&tfhdSampleDescIndex != 0 {
		off += 4
	}
	if flags&tfhdDefaultDuration != 0 {
		tf.DefaultDuration = u32(p, off)
		off += 4
	}
	if flags&tfhdDefaultSize != 0 {
		tf.DefaultSize = u32(p, off)
		off += 4
	}
	if flags&tfhdDefaultFlags != 0 {
		tf.DefaultFlags = u32(p, off)
		off += 4
	}
	if off > len(p) {
		return tf, structural("tfhd flags exceed box")
	}

	if tfdt := traf.child(typeTfdt); tfdt != nil {
		if p, err = read(tfdt); err != nil {
			return tf, err
		}
		if len(p) >= 8 {
			tf.HasDecodeTime = true
			if p[0] == 1 {
				tf.BaseMediaDecodeTime = u64(p, 4)
			} else {
				tf.BaseMediaDecodeTime = uint64(u32(p, 4))
			}
		}
	}

	for _, trun := range traf.all(typeTrun) {
		if p, err = read(trun); err != nil {
			return tf, err
		}
		run, err := parseTrun(p)
		if err != nil {
			return tf, err
		}
		tf.Runs = append(tf.Runs, run)
	}
	return tf, nil
}

func parseTrun(p []byte) (TrackRun, error) {
	var run TrackRun
	if len(p) < 8 {
		return run, structural("short trun")
	}
	flags := u32(p, 0) & 0xffffff
	run.SampleCount = u32(p, 4)
	off := 8
	if flags&trunDataOffset != 0 {
		run.DataOffset = int32(u32(p, off))
		run.HasDataOffset = true
		off += 4
	}
	if flags&trunFirstSampleFlags != 0 {
		run.FirstFlags = u32(p, off)
		run.HasFirstFlags = true
		off += 4
	}

	per := 0
	for _, bit := range []uint32{trunSampleDuration, trunSampleSize, trunSampleFlags, trunCompositionOffsets} {
		if flags&bit != 0 {
			per += 4
		}
	}
	if off > len(p) || (per > 0 && int(run.SampleCount) > (len(p)-off)/per) {
		return run, structural("trun sample count %d exceeds box", run.SampleCount)
	}
	if per == 0 && run.SampleCount > 1<<24 {
		return run, structural("trun sample count %d", run.SampleCount)
	}

	n := int(run.SampleCount)
	if flags&trunSampleDuration != 0 {
		run.Durations = make([]uint32, n)
	}
	if flags&trunSampleSize != 0 {
		run.Sizes = make([]uint32, n)
	}
	if flags&trunSampleFlags != 0 {
		run.Flags = make([]uint32, n)
	}
	for i := range n {
		if run.Durations != nil {
			run.Durations[i] = u32(p, off)
			off += 4
		}
		if run.Sizes != nil {
			run.Sizes[i] = u32(p, off)
			off += 4
		}
		if run.Flags != nil {
			run.Flags[i] = u32(p, off)
			off += 4
		}
		if flags&trunCompositionOffsets != 0 {
			off += 4
		}
	}
	return run, nil
}

// AddFragment stores frag. A fragment whose sequence number is already
// known is rejected.
func (f *FragmentHandler) AddFragment(frag MovieFragment) bool {
	for _, existing := range f.fragments {
		if existing.SequenceNumber == frag.SequenceNumber {
			return false
		}
	}
	if n := len(f.fragments); n > 0 && f.fragments[n-1].SequenceNumber > frag.SequenceNumber {
		f.sorted = false
	}
	f.fragments = append(f.fragments, frag)
	return true
}

// ReorderFragments sorts fragments by sequence number. Streaming sources
// can deliver them out of order.
func (f *FragmentHandler) ReorderFragments() {
	if f.sorted {
		return
	}
	sort.SliceStable(f.fragments, func(i, j int) bool {
		return f.fragments[i].SequenceNumber < f.fragments[j].SequenceNumber
	})
	f.sorted = true
	f.current = 0
}

// Fragments returns the stored fragments in their current order.
func (f *FragmentHandler) Fragments() []MovieFragment {
	return f.fragments
}

// Count returns the number of stored fragments.
func (f *FragmentHandler) Count() int { return len(f.fragments) }

// CurrentFragment returns the fragment at the cursor. Call ReorderFragments
// first when fragments arrived out of order.
func (f *FragmentHandler) CurrentFragment() (*MovieFragment, bool) {
	if f.current >= len(f.fragments) {
		return nil, false
	}
	return &f.fragments[f.current], true
}

// SeekToFragment moves the cursor to the fragment with seq.
func (f *FragmentHandler) SeekToFragment(seq uint32) bool {
	for i := range f.fragments {
		if f.fragments[i].SequenceNumber == seq {
			f.current = i
			return true
		}
	}
	return false
}

// Fragment returns the fragment with seq.
func (f *FragmentHandler) Fragment(seq uint32) (*MovieFragment, bool) {
	for i := range f.fragments {
		if f.fragments[i].SequenceNumber == seq {
			return &f.fragments[i], true
		}
	}
	return nil, false
}

// HasMissingFragments reports gaps in the sequence numbers.
func (f *FragmentHandler) HasMissingFragments() bool {
	if len(f.fragments) < 2 {
		return false
	}
	f.ReorderFragments()
	for i := 1; i < len(f.fragments); i++ {
		if f.fragments[i].SequenceNumber != f.fragments[i-1].SequenceNumber+1 {
			return true
		}
	}
	return false
}

// UpdateSampleTables appends the samples of tf to t. Sample times continue
// from the end of the existing table, so decode time is strictly
// increasing. Contiguous runs share one chunk entry.
func (f *FragmentHandler) UpdateSampleTables(frag *MovieFragment, tf *TrackFragment, t *Track) error {
	st := &t.Tables
	if st.ConstantSize != 0 {
		// Expand to per-sample sizes so fragment samples can differ.
		st.SampleSizes = make([]uint32, st.SampleCount)
		for i := range st.SampleSizes {
			st.SampleSizes[i] = st.ConstantSize
		}
		st.ConstantSize = 0
	}

	var next uint64 // data offset following the previous run
	for ri, run := range tf.Runs {
		if run.SampleCount == 0 {
			continue
		}
		var start uint64
		switch {
		case run.HasDataOffset:
			start = uint64(int64(tf.BaseDataOffset) + int64(run.DataOffset))
		case ri > 0:
			start = next
		case frag.MdatOffset != 0:
			start = frag.MdatOffset
		default:
			start = tf.BaseDataOffset
		}

		if ri == 0 || start != next {
			st.ChunkOffsets = append(st.ChunkOffsets, start)
			st.SampleToChunk = appendChunkEntry(st.SampleToChunk, uint32(len(st.ChunkOffsets)), run.SampleCount)
		} else {
			// Extend the previous chunk.
			last := &st.SampleToChunk[len(st.SampleToChunk)-1]
			if last.FirstChunk == uint32(len(st.ChunkOffsets)) {
				last.SamplesPerChunk += run.SampleCount
			} else {
				st.SampleToChunk = append(st.SampleToChunk, SampleToChunk{
					FirstChunk:      uint32(len(st.ChunkOffsets)),
					SamplesPerChunk: chunkSamples(st, uint32(len(st.ChunkOffsets))) + run.SampleCount,
					DescIndex:       1,
				})
			}
		}

		next = start
		for i := range run.SampleCount {
			size := tf.DefaultSize
			if run.Sizes != nil {
				size = run.Sizes[i]
			}
			dur := tf.DefaultDuration
			if run.Durations != nil {
				dur = run.Durations[i]
			}
			flags := tf.DefaultFlags
			switch {
			case run.Flags != nil:
				flags = run.Flags[i]
			case i == 0 && run.HasFirstFlags:
				flags = run.FirstFlags
			}
			if size == 0 {
				return structural("fragment %d track %d sample %d has no size", frag.SequenceNumber, tf.TrackID, i)
			}
			st.SampleSizes = append(st.SampleSizes, size)
			st.TimeToSample = appendTimeEntry(st.TimeToSample, dur)
			if st.SyncSamples != nil && flags&sampleFlagNonSync == 0 {
				st.SyncSamples = append(st.SyncSamples, st.SampleCount+1)
			}
			st.SampleCount++
			next += uint64(size)
		}
	}
	return nil
}

// chunkSamples returns the samples per chunk in effect for 1-based chunk.
func chunkSamples(st *SampleTableInfo, chunk uint32) uint32 {
	var n uint32
	for _, e := range st.SampleToChunk {
		if e.FirstChunk > chunk {
			break
		}
		n = e.SamplesPerChunk
	}
	return n
}

func appendChunkEntry(entries []SampleToChunk, chunk, samples uint32) []SampleToChunk {
	if n := len(entries); n > 0 && entries[n-1].SamplesPerChunk == samples {
		return entries
	}
	return append(entries, SampleToChunk{FirstChunk: chunk, SamplesPerChunk: samples, DescIndex: 1})
}

func appendTimeEntry(entries []TimeToSample, delta uint32) []TimeToSample {
	if n := len(entries); n > 0 && entries[n-1].Delta == delta {
		entries[n-1].Count++
		return entries
	}
	return append(entries, TimeToSample{Count: 1, Delta: delta})
}
