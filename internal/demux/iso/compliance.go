package iso

import (
	"fmt"
	"math"
	"slices"

	"github.com/tphakala/mediacore/internal/media"
)

// ComplianceLevel classifies a file after validation.
type ComplianceLevel int

const (
	Compliant ComplianceLevel = iota
	CompliantWithWarnings
	NonCompliant
)

func (l ComplianceLevel) String() string {
	switch l {
	case Compliant:
		return "compliant"
	case CompliantWithWarnings:
		return "warnings"
	default:
		return "non-compliant"
	}
}

// ComplianceReport is the advisory result of validation.
type ComplianceReport struct {
	Level    ComplianceLevel
	Brand    string
	Warnings []string
	Errors   []string
}

func (r *ComplianceReport) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *ComplianceReport) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ComplianceReport) classify() {
	switch {
	case len(r.Errors) > 0:
		r.Level = NonCompliant
	case len(r.Warnings) > 0:
		r.Level = CompliantWithWarnings
	default:
		r.Level = Compliant
	}
}

const maxTimescale = 192_000_000

var validBrands = []string{
	"isom", "iso2", "mp41", "mp42", "M4A ", "M4B ", "M4V ", "qt  ",
	"3gp4", "3gp5", "3gp6", "3g2a", "dash", "iso5", "iso6",
}

// minimum payload sizes for fixed-layout boxes
var minPayload = map[string]int64{
	typeFtyp: 8,
	typeMvhd: 96,
	typeTkhd: 80,
	typeMdhd: 24,
	typeHdlr: 20,
}

// boxes that never need the 64-bit size form
var smallOnly = map[string]bool{
	typeFtyp: true, typeMvhd: true, typeTkhd: true, typeMdhd: true,
	typeHdlr: true, typeStsd: true, typeMfhd: true, typeTfhd: true,
}

var allowedChildren = map[string][]string{
	typeMoov: {typeMvhd, typeTrak, typeUdta, typeMeta, "iods", typeMvex},
	typeTrak: {typeTkhd, "tref", "edts", typeMdia, typeUdta, typeMeta},
	typeMdia: {typeMdhd, typeHdlr, typeMinf},
	typeMinf: {"vmhd", "smhd", "hmhd", "nmhd", "dinf", typeStbl},
	typeStbl: {typeStsd, typeStts, "ctts", typeStsc, typeStsz, typeStz2, typeStco, typeCo64, typeStss, "sgpd", "sbgp", "sdtp"},
}

var requiredChildren = map[string][][]string{
	typeMoov: {{typeMvhd}, {typeTrak}},
	typeTrak: {{typeTkhd}, {typeMdia}},
	typeMdia: {{typeMdhd}, {typeHdlr}, {typeMinf}},
	typeMinf: {{typeStbl}},
	typeStbl: {{typeStsd}, {typeStts}, {typeStsc}, {typeStsz, typeStz2}, {typeStco, typeCo64}},
}

// ComplianceValidator checks structure and codec parameters. It never
// modifies the parse result.
type ComplianceValidator struct{}

// NewComplianceValidator returns a validator.
func NewComplianceValidator() *ComplianceValidator { return &ComplianceValidator{} }

// Validate inspects the box tree, the ftyp brands and the parsed tracks.
func (v *ComplianceValidator) Validate(root *box, brands []string, tracks []*Track) ComplianceReport {
	var r ComplianceReport
	if len(brands) > 0 {
		r.Brand = brands[0]
	}
	v.validateBrands(&r, brands)
	v.validateTree(&r, root)
	for _, t := range tracks {
		v.ValidateTimescale(&r, t.Timescale, t.Duration)
		v.validateCodec(&r, t)
		v.validateSampleTables(&r, t)
	}
	r.classify()
	return r
}

func (v *ComplianceValidator) validateBrands(r *ComplianceReport, brands []string) {
	if len(brands) == 0 {
		r.warn("no ftyp box")
		return
	}
	for _, b := range brands {
		if slices.Contains(validBrands, b) {
			return
		}
	}
	r.warn("no recognized brand in %q", brands)
}

func (v *ComplianceValidator) validateTree(r *ComplianceReport, root *box) {
	if root == nil {
		return
	}
	stack := []*box{root}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range b.children {
			v.validateBoxSize(r, c, b)
			stack = append(stack, c)
		}
		if allowed, ok := allowedChildren[b.typ]; ok {
			for _, c := range b.children {
				if !slices.Contains(allowed, c.typ) {
					r.warn("unexpected %q inside %q at %d", c.typ, b.typ, c.offset)
				}
			}
		}
		for _, alts := range requiredChildren[b.typ] {
			if !slices.ContainsFunc(b.children, func(c *box) bool { return slices.Contains(alts, c.typ) }) {
				r.fail("%q at %d is missing %q", b.typ, b.offset, alts)
			}
		}
	}
}

func (v *ComplianceValidator) validateBoxSize(r *ComplianceReport, b, parent *box) {
	if b.toEnd && b.end() != parent.end() {
		r.fail("zero-size box %q at %d is not last in its container", b.typ, b.offset)
	}
	if b.large {
		if b.size < 16 {
			r.fail("64-bit size %d of %q below 16", b.size, b.typ)
		}
		if smallOnly[b.typ] {
			r.warn("%q at %d uses a 64-bit size", b.typ, b.offset)
		} else if b.size <= math.MaxUint32 {
			r.warn("%q at %d uses a 64-bit size for %d bytes", b.typ, b.offset, b.size)
		}
	}
	if need, ok := minPayload[b.typ]; ok && b.payloadSize() < need {
		r.fail("%q at %d has %d payload bytes, need %d", b.typ, b.offset, b.payloadSize(), need)
	}
	if b.end() > parent.end() {
		r.fail("%q at %d exceeds its container", b.typ, b.offset)
	}
}

// ValidateTimescale checks that timescale is usable and that duration
// converts to nanoseconds without overflow.
func (v *ComplianceValidator) ValidateTimescale(r *ComplianceReport, timescale uint32, duration uint64) {
	switch {
	case timescale == 0:
		r.fail("timescale is zero")
		return
	case timescale > maxTimescale:
		r.warn("timescale %d above %d", timescale, maxTimescale)
	}
	if duration > uint64(math.MaxInt64)/uint64(timescale) {
		r.warn("duration %d overflows at timescale %d", duration, timescale)
	}
}

func (v *ComplianceValidator) validateCodec(r *ComplianceReport, t *Track) {
	switch t.CodecName {
	case media.CodecAAC:
		if !slices.Contains(aacSampleRates[:], t.SampleRate) {
			r.warn("track %d: AAC sample rate %d not standard", t.ID, t.SampleRate)
		}
		if len(t.CodecConfig) == 0 {
			r.fail("track %d: AAC without decoder config", t.ID)
		} else if profile := t.CodecConfig[0] >> 3; profile < 1 || profile > 4 {
			r.warn("track %d: AAC object type %d", t.ID, profile)
		}
	case media.CodecALAC:
		c := t.CodecConfig
		if len(c) < 4 || c[0] != 0 || c[1] != 0 || c[2] != 0 || c[3] != 0x24 {
			r.fail("track %d: malformed ALAC cookie", t.ID)
		}
	case media.CodecMuLaw, media.CodecALaw:
		if t.SampleRate != 8000 {
			r.warn("track %d: telephony rate %d, expected 8000", t.ID, t.SampleRate)
		}
		if t.Channels != 1 {
			r.warn("track %d: telephony with %d channels", t.ID, t.Channels)
		}
		if t.BitsPerSample != 8 {
			r.fail("track %d: telephony with %d bits", t.ID, t.BitsPerSample)
		}
	case media.CodecPCM:
		if t.SampleRate < 8000 || t.SampleRate > 192000 {
			r.warn("track %d: PCM rate %d out of range", t.ID, t.SampleRate)
		}
		if t.Channels < 1 || t.Channels > 8 {
			r.fail("track %d: PCM with %d channels", t.ID, t.Channels)
		}
		if !slices.Contains([]uint16{8, 16, 24, 32, 64}, t.BitsPerSample) {
			r.fail("track %d: PCM with %d bits", t.ID, t.BitsPerSample)
		}
	case "":
		r.warn("track %d: unknown sample entry %q", t.ID, t.Format)
	}
}

func (v *ComplianceValidator) validateSampleTables(r *ComplianceReport, t *Track) {
	st := &t.Tables
	if st.SampleCount == 0 {
		return
	}
	if len(st.ChunkOffsets) == 0 {
		r.fail("track %d: no chunk offsets", t.ID)
	}
	if st.ConstantSize == 0 && uint32(len(st.SampleSizes)) != st.SampleCount {
		r.fail("track %d: %d sizes for %d samples", t.ID, len(st.SampleSizes), st.SampleCount)
	}
	var covered uint64
	for i, e := range st.SampleToChunk {
		if e.FirstChunk == 0 || int(e.FirstChunk) > len(st.ChunkOffsets) {
			r.fail("track %d: stsc entry %d first chunk %d", t.ID, i, e.FirstChunk)
			return
		}
		last := uint32(len(st.ChunkOffsets))
		if i+1 < len(st.SampleToChunk) {
			last = st.SampleToChunk[i+1].FirstChunk - 1
		}
		covered += uint64(last-e.FirstChunk+1) * uint64(e.SamplesPerChunk)
	}
	if covered != uint64(st.SampleCount) {
		r.warn("track %d: chunk map covers %d of %d samples", t.ID, covered, st.SampleCount)
	}
	var timed uint64
	for _, e := range st.TimeToSample {
		timed += uint64(e.Count)
	}
	if timed != uint64(st.SampleCount) {
		r.warn("track %d: stts covers %d of %d samples", t.ID, timed, st.SampleCount)
	}
}
