package iso

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/mediacore/internal/media"
)

type expectedSample struct {
	offset uint64
	size   uint32
	time   uint64
}

// randomTables builds tables with uneven chunks, gaps between chunks and
// two time runs, plus the brute-force expected layout.
func randomTables(r *rand.Rand, n int) (*SampleTableInfo, []expectedSample) {
	st := &SampleTableInfo{SampleCount: uint32(n)}
	for range n {
		st.SampleSizes = append(st.SampleSizes, uint32(1+r.IntN(500)))
	}
	st.SampleToChunk = []SampleToChunk{{1, 7, 1}, {10, 3, 1}, {50, 11, 1}}

	want := make([]expectedSample, n)
	off := uint64(4096)
	sample := 0
	for chunk := uint32(1); sample < n; chunk++ {
		spc := 7
		switch {
		case chunk >= 50:
			spc = 11
		case chunk >= 10:
			spc = 3
		}
		off += uint64(r.IntN(64)) // gap
		st.ChunkOffsets = append(st.ChunkOffsets, off)
		for k := 0; k < spc && sample < n; k++ {
			want[sample].offset = off
			want[sample].size = st.SampleSizes[sample]
			off += uint64(st.SampleSizes[sample])
			sample++
		}
	}

	first := n / 5
	st.TimeToSample = []TimeToSample{{uint32(first), 1024}, {uint32(n - first), 512}}
	var t uint64
	for i := range want {
		want[i].time = t
		if i < first {
			t += 1024
		} else {
			t += 512
		}
	}
	return st, want
}

func TestSampleTableModesAgree(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(1, 2))
	st, want := randomTables(r, 5000)

	for _, mode := range []TableMode{TableModeEager, TableModeLazy} {
		t.Run(mode.String(), func(t *testing.T) {
			t.Parallel()
			m := NewSampleTableManager(TableConfig{Mode: mode})
			require.NoError(t, m.Build(st))
			defer m.Close()
			assert.Equal(t, mode, m.Mode())

			for i, w := range want {
				s, ok := m.Sample(uint32(i))
				require.True(t, ok)
				require.Equal(t, w.offset, s.Offset, "offset of %d", i)
				require.Equal(t, w.size, s.Size, "size of %d", i)
				require.Equal(t, w.time, s.Time, "time of %d", i)
			}
			rr := rand.New(rand.NewPCG(5, uint64(mode)))
			for range 500 {
				i := rr.IntN(len(want))
				ts := want[i].time + uint64(rr.IntN(512))
				assert.Equal(t, uint32(i), m.TimeToSample(ts), "time %d", ts)
			}
			_, ok := m.Sample(uint32(len(want)))
			assert.False(t, ok)
		})
	}
}

func TestCoarseIndexOnLargeTables(t *testing.T) {
	t.Parallel()

	n := uint32(70_000)
	st := &SampleTableInfo{
		SampleCount:   n,
		ConstantSize:  4,
		ChunkOffsets:  []uint64{0},
		SampleToChunk: []SampleToChunk{{1, n, 1}},
		TimeToSample:  []TimeToSample{{n, 2}},
	}
	m := NewSampleTableManager(TableConfig{Mode: TableModeEager})
	require.NoError(t, m.Build(st))
	require.NotNil(t, m.coarse)

	for _, i := range []uint32{0, 1, 1023, 1024, 1025, 65535, 69_999} {
		assert.Equal(t, i, m.TimeToSample(uint64(i)*2))
		assert.Equal(t, i, m.TimeToSample(uint64(i)*2+1))
	}
	assert.Equal(t, n-1, m.TimeToSample(1<<40))
}

func TestAutoModePicksLazyAboveThreshold(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(3, 4))
	st, _ := randomTables(r, 300)

	m := NewSampleTableManager(TableConfig{LazyThreshold: 100})
	require.NoError(t, m.Build(st))
	assert.Equal(t, TableModeLazy, m.Mode())

	m = NewSampleTableManager(TableConfig{LazyThreshold: 1000})
	require.NoError(t, m.Build(st))
	assert.Equal(t, TableModeEager, m.Mode())
}

func TestOptimizeMemoryUsageKeepsResults(t *testing.T) {
	t.Parallel()

	n := 4096
	st := &SampleTableInfo{SampleCount: uint32(n)}
	for i := range n {
		size := uint32(371)
		if i >= 3000 {
			size = 372
		}
		st.SampleSizes = append(st.SampleSizes, size)
	}
	st.ChunkOffsets = []uint64{100, 1_000_000}
	st.SampleToChunk = []SampleToChunk{{1, 2048, 1}}
	st.TimeToSample = []TimeToSample{{uint32(n), 1152}}

	for _, mode := range []TableMode{TableModeEager, TableModeLazy} {
		m := NewSampleTableManager(TableConfig{Mode: mode})
		require.NoError(t, m.Build(st))

		before := make([]SampleInfo, n)
		for i := range before {
			before[i], _ = m.Sample(uint32(i))
		}
		usage := m.MemoryUsage()
		m.OptimizeMemoryUsage()
		assert.Less(t, m.MemoryUsage(), usage)
		for i := range before {
			s, _ := m.Sample(uint32(i))
			require.Equal(t, before[i], s)
		}
		m.Close()
	}
}

func TestSyncSampleLookup(t *testing.T) {
	t.Parallel()

	st := &SampleTableInfo{
		SampleCount:   10,
		ConstantSize:  1,
		ChunkOffsets:  []uint64{0},
		SampleToChunk: []SampleToChunk{{1, 10, 1}},
		TimeToSample:  []TimeToSample{{10, 1}},
		SyncSamples:   []uint32{1, 5, 9},
	}
	m := NewSampleTableManager(TableConfig{})
	require.NoError(t, m.Build(st))

	assert.Equal(t, uint32(0), m.SyncSampleAtOrBefore(3))
	assert.Equal(t, uint32(4), m.SyncSampleAtOrBefore(4))
	assert.Equal(t, uint32(4), m.SyncSampleAtOrBefore(7))
	assert.Equal(t, uint32(8), m.SyncSampleAtOrBefore(9))
	assert.True(t, m.IsSync(4))
	assert.False(t, m.IsSync(5))
}

func TestBuildRejectsInconsistentTables(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		st   SampleTableInfo
	}{
		{"sizes short", SampleTableInfo{
			SampleCount: 3, SampleSizes: []uint32{1, 2},
			ChunkOffsets: []uint64{0}, SampleToChunk: []SampleToChunk{{1, 3, 1}}, TimeToSample: []TimeToSample{{3, 1}},
		}},
		{"chunk map short", SampleTableInfo{
			SampleCount: 8, ConstantSize: 1,
			ChunkOffsets: []uint64{0, 10}, SampleToChunk: []SampleToChunk{{1, 3, 1}}, TimeToSample: []TimeToSample{{8, 1}},
		}},
		{"first chunk beyond table", SampleTableInfo{
			SampleCount: 2, ConstantSize: 1,
			ChunkOffsets: []uint64{0}, SampleToChunk: []SampleToChunk{{2, 2, 1}}, TimeToSample: []TimeToSample{{2, 1}},
		}},
		{"no offsets", SampleTableInfo{
			SampleCount: 2, ConstantSize: 1,
			SampleToChunk: []SampleToChunk{{1, 2, 1}}, TimeToSample: []TimeToSample{{2, 1}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewSampleTableManager(TableConfig{})
			err := m.Build(&tt.st)
			require.ErrorIs(t, err, media.ErrInvalidMedia)
			assert.Equal(t, uint32(0), m.SampleCount())
		})
	}
}

func TestShortTimeTableIsExtended(t *testing.T) {
	t.Parallel()

	st := &SampleTableInfo{
		SampleCount: 4, ConstantSize: 1,
		ChunkOffsets: []uint64{0}, SampleToChunk: []SampleToChunk{{1, 4, 1}},
		TimeToSample: []TimeToSample{{2, 10}},
	}
	m := NewSampleTableManager(TableConfig{})
	require.NoError(t, m.Build(st))
	assert.Equal(t, uint64(40), m.TotalTime())
	assert.Equal(t, uint64(30), m.SampleToTime(3))
}
