package opus

import (
	"encoding/binary"

	"github.com/tphakala/mediacore/internal/boundedbuf"
	"github.com/tphakala/mediacore/internal/codec/base"
)

// MaxQueuedSamplesLimit bounds the configurable sample ceiling.
const MaxQueuedSamplesLimit = 48000 * 8 * 10

// frameQueue holds decoded Opus frames until they are handed out. Samples
// are stored little-endian in a ring sized to the sample ceiling and lens
// records the interleaved length of each queued frame. The queue never
// grows past its frame or sample ceiling; the oldest frames give way.
type frameQueue struct {
	opts       base.Options
	ring       *boundedbuf.Circular
	lens       []int
	maxFrames  int
	maxSamples int
	overflow   bool
}

func newFrameQueue(opts base.Options, maxFrames, maxSamples int) frameQueue {
	maxSamples = min(maxSamples, MaxQueuedSamplesLimit)
	ring := boundedbuf.NewCircular(2*maxSamples, opts.Alloc, codecName)
	if ring == nil {
		ring = boundedbuf.NewCircular(2*maxSamples, nil, codecName)
	}
	return frameQueue{
		opts:       opts,
		ring:       ring,
		lens:       make([]int, 0, maxFrames),
		maxFrames:  maxFrames,
		maxSamples: maxSamples,
	}
}

// queued returns the interleaved samples waiting in the ring.
func (q *frameQueue) queued() int { return q.ring.Available() / 2 }

// push appends f and returns how many interleaved samples were discarded
// to stay within the ceilings.
func (q *frameQueue) push(f []int16) (dropped int) {
	if len(f) == 0 {
		return 0
	}
	if len(f) > q.maxSamples {
		q.overflow = true
		return len(f)
	}
	need := 2 * len(f)
	for len(q.lens) > 0 && (len(q.lens) >= q.maxFrames || q.ring.Space() < need) {
		dropped += q.lens[0]
		q.ring.Skip(2 * q.lens[0])
		q.lens = q.lens[:copy(q.lens, q.lens[1:])]
		q.overflow = true
	}

	buf := q.opts.Scratch(need, codecName)
	for i, s := range f {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	q.ring.Write(buf)
	q.opts.Alloc.Free(buf, codecName)
	q.lens = append(q.lens, len(f))
	return dropped
}

// drain returns all queued samples in order and empties the queue.
func (q *frameQueue) drain() []int16 {
	n := q.ring.Available()
	q.lens = q.lens[:0]
	if n == 0 {
		return nil
	}
	buf := q.opts.Scratch(n, codecName)
	defer q.opts.Alloc.Free(buf, codecName)
	q.ring.Read(buf)
	out := make([]int16, n/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	return out
}

func (q *frameQueue) reset() {
	q.ring.Clear()
	q.lens = q.lens[:0]
	q.overflow = false
}
