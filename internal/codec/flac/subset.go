package flac

import (
	"fmt"
	"strings"
)

// SubsetMode selects how streamable-subset violations are treated.
type SubsetMode int

const (
	SubsetDisabled SubsetMode = iota // no checks
	SubsetEnabled                    // count violations, keep decoding
	SubsetStrict                     // reject violating frames
)

func (m SubsetMode) String() string {
	switch m {
	case SubsetDisabled:
		return "disabled"
	case SubsetStrict:
		return "strict"
	default:
		return "enabled"
	}
}

// ParseSubsetMode accepts disabled, enabled or strict.
func ParseSubsetMode(s string) (SubsetMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled", "off":
		return SubsetDisabled, nil
	case "", "enabled", "on":
		return SubsetEnabled, nil
	case "strict":
		return SubsetStrict, nil
	}
	return SubsetEnabled, fmt.Errorf("unknown subset mode %q", s)
}

// Streamable subset limits
const (
	SubsetMaxBlockSize      = 16384
	SubsetMaxBlockSize48k   = 4608
	SubsetMaxLPCOrder48k    = 12
	SubsetMaxPartitionOrder = 8
)

// SubsetValidator checks frames against the streamable subset.
type SubsetValidator struct {
	Mode SubsetMode
}

// FrameShape summarizes the properties of a decoded frame the subset
// constrains.
type FrameShape struct {
	BlockSize         uint32
	SampleRate        uint32
	MaxLPCOrder       int
	MaxPartitionOrder int
}

// Check returns the violations in shape. It returns nil when the mode is
// disabled.
func (v SubsetValidator) Check(shape FrameShape) []string {
	if v.Mode == SubsetDisabled {
		return nil
	}
	var out []string
	if shape.BlockSize > SubsetMaxBlockSize {
		out = append(out, fmt.Sprintf("block size %d above %d", shape.BlockSize, SubsetMaxBlockSize))
	}
	if shape.SampleRate <= 48000 {
		if shape.BlockSize > SubsetMaxBlockSize48k {
			out = append(out, fmt.Sprintf("block size %d above %d at %d Hz", shape.BlockSize, SubsetMaxBlockSize48k, shape.SampleRate))
		}
		if shape.MaxLPCOrder > SubsetMaxLPCOrder48k {
			out = append(out, fmt.Sprintf("LPC order %d above %d at %d Hz", shape.MaxLPCOrder, SubsetMaxLPCOrder48k, shape.SampleRate))
		}
	}
	if shape.MaxPartitionOrder > SubsetMaxPartitionOrder {
		out = append(out, fmt.Sprintf("partition order %d above %d", shape.MaxPartitionOrder, SubsetMaxPartitionOrder))
	}
	return out
}

// Rejects reports whether violations should drop the frame.
func (v SubsetValidator) Rejects(violations []string) bool {
	return v.Mode == SubsetStrict && len(violations) > 0
}
