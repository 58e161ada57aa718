package flac

import (
	"crypto/md5" //nolint:gosec // FLAC defines its signature as MD5
	"hash"
)

// MD5Validator hashes reconstructed samples at their native depth, as
// little-endian signed integers interleaved by channel, and compares the
// digest with the STREAMINFO signature.
type MD5Validator struct {
	h       hash.Hash
	want    [16]byte
	enabled bool
	valid   bool // false once samples were skipped by a seek or a lost frame
	scratch []byte
	samples uint64
}

// NewMD5Validator returns a validator for want. An all-zero signature
// disables checking.
func NewMD5Validator(want [16]byte) *MD5Validator {
	return &MD5Validator{
		h:       md5.New(), //nolint:gosec // format-defined checksum
		want:    want,
		enabled: want != [16]byte{},
		valid:   true,
	}
}

// Enabled reports whether a signature is being checked.
func (m *MD5Validator) Enabled() bool { return m.enabled && m.valid }

// Invalidate stops checking; used when samples are skipped.
func (m *MD5Validator) Invalidate() { m.valid = false }

// Update hashes blockSize frames of ch at bps bits.
func (m *MD5Validator) Update(ch [][]int64, blockSize int, bps uint8) {
	if !m.Enabled() {
		return
	}
	width := int(bps+7) / 8
	need := blockSize * len(ch) * width
	if cap(m.scratch) < need {
		m.scratch = make([]byte, need)
	}
	buf := m.scratch[:need]
	k := 0
	for i := range blockSize {
		for c := range ch {
			v := ch[c][i]
			for b := range width {
				buf[k] = byte(v >> (8 * b))
				k++
			}
		}
	}
	m.h.Write(buf)
	m.samples += uint64(blockSize)
}

// Verify reports whether the digest matches. checked is false when no
// comparison was possible.
func (m *MD5Validator) Verify() (ok, checked bool) {
	if !m.Enabled() || m.samples == 0 {
		return true, false
	}
	var got [16]byte
	copy(got[:], m.h.Sum(nil))
	return got == m.want, true
}

// Reset restarts hashing from the beginning of the stream.
func (m *MD5Validator) Reset() {
	m.h.Reset()
	m.samples = 0
	m.valid = true
}
