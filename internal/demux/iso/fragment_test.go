package iso

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFragmentOrdering(t *testing.T) {
	t.Parallel()

	f := NewFragmentHandler()
	for _, seq := range []uint32{3, 1, 2} {
		require.True(t, f.AddFragment(MovieFragment{SequenceNumber: seq}))
	}
	assert.False(t, f.AddFragment(MovieFragment{SequenceNumber: 2}), "duplicate sequence")

	f.ReorderFragments()
	cur, ok := f.CurrentFragment()
	require.True(t, ok)
	assert.Equal(t, uint32(1), cur.SequenceNumber)
	assert.False(t, f.HasMissingFragments())

	require.True(t, f.SeekToFragment(3))
	cur, _ = f.CurrentFragment()
	assert.Equal(t, uint32(3), cur.SequenceNumber)
	assert.False(t, f.SeekToFragment(9))

	require.True(t, f.AddFragment(MovieFragment{SequenceNumber: 5}))
	assert.True(t, f.HasMissingFragments())
}

func TestUpdateSampleTablesContinuesTimeline(t *testing.T) {
	t.Parallel()

	tr := &Track{ID: 1, Tables: SampleTableInfo{
		SampleCount:   2,
		ConstantSize:  100,
		ChunkOffsets:  []uint64{1000},
		SampleToChunk: []SampleToChunk{{1, 2, 1}},
		TimeToSample:  []TimeToSample{{2, 1024}},
	}}
	frag := &MovieFragment{SequenceNumber: 1, MoofOffset: 5000}
	tf := &TrackFragment{
		TrackID:         1,
		BaseDataOffset:  5000,
		DefaultDuration: 1024,
		Runs: []TrackRun{
			{SampleCount: 3, DataOffset: 200, HasDataOffset: true, Sizes: []uint32{10, 20, 30}},
			{SampleCount: 1, Sizes: []uint32{40}},
		},
	}

	f := NewFragmentHandler()
	require.NoError(t, f.UpdateSampleTables(frag, tf, tr))

	st := tr.Tables
	assert.Equal(t, uint32(6), st.SampleCount)
	assert.Equal(t, []uint32{100, 100, 10, 20, 30, 40}, st.SampleSizes)
	assert.Equal(t, []uint64{1000, 5200}, st.ChunkOffsets, "contiguous runs share a chunk")
	assert.Equal(t, []SampleToChunk{{1, 2, 1}, {2, 4, 1}}, st.SampleToChunk)
	assert.Equal(t, []TimeToSample{{6, 1024}}, st.TimeToSample)

	m := NewSampleTableManager(TableConfig{})
	require.NoError(t, m.Build(&st))
	s, _ := m.Sample(5)
	assert.Equal(t, uint64(5260), s.Offset)
	assert.Equal(t, uint64(5*1024), s.Time)
}

func TestUpdateSampleTablesRejectsSizelessSamples(t *testing.T) {
	t.Parallel()

	tr := &Track{ID: 1}
	tf := &TrackFragment{TrackID: 1, Runs: []TrackRun{{SampleCount: 2}}}
	err := NewFragmentHandler().UpdateSampleTables(&MovieFragment{}, tf, tr)
	require.Error(t, err)
}

func TestParseTrunFlags(t *testing.T) {
	t.Parallel()

	// data offset, first sample flags, per-sample duration and size
	p := full(0, 0x000305, be32(2), be32(0xfffffff0), be32(0x02000000),
		be32(512, 11), be32(256, 22))
	run, err := parseTrun(p)
	require.NoError(t, err)
	assert.Equal(t, int32(-16), run.DataOffset)
	assert.True(t, run.HasFirstFlags)
	assert.Equal(t, []uint32{512, 256}, run.Durations)
	assert.Equal(t, []uint32{11, 22}, run.Sizes)
	assert.Nil(t, run.Flags)

	_, err = parseTrun(full(0, 0x000200, be32(1000), be32(1)))
	require.Error(t, err, "count larger than the box")
}
