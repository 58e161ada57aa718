package flac

// Subframe types
const (
	SubframeConstant = iota
	SubframeVerbatim
	SubframeFixed
	SubframeLPC
)

// MaxLPCOrder is the largest LPC predictor order.
const MaxLPCOrder = 32

// SubframeHeader is the decoded subframe type byte plus wasted bits.
type SubframeHeader struct {
	Type       int
	Order      int
	WastedBits uint8
}

// SubframeDecoder decodes one channel of a frame. Prediction and residual
// arithmetic use int64 so 32-bit sources and side channels cannot overflow.
type SubframeDecoder struct {
	residual ResidualDecoder
	coeffs   [MaxLPCOrder]int64

	// results of the last subframe, for subset checks
	LastType  int
	LastOrder int
}

// PartitionOrder returns the Rice partition order of the last subframe, or
// -1 when it carried no residual.
func (d *SubframeDecoder) PartitionOrder() int {
	if d.LastType == SubframeFixed || d.LastType == SubframeLPC {
		return d.residual.PartitionOrder
	}
	return -1
}

func readSubframeHeader(br *BitReader) (SubframeHeader, error) {
	var h SubframeHeader
	pad, err := br.ReadBits(1)
	if err != nil {
		return h, err
	}
	if pad != 0 {
		return h, reservedError("subframe padding bit set")
	}
	code, err := br.ReadBits(6)
	if err != nil {
		return h, err
	}
	switch {
	case code == 0:
		h.Type = SubframeConstant
	case code == 1:
		h.Type = SubframeVerbatim
	case code >= 0x08 && code <= 0x0C:
		h.Type, h.Order = SubframeFixed, int(code-0x08)
	case code >= 0x20:
		h.Type, h.Order = SubframeLPC, int(code-0x1F)
	default:
		return h, reservedError("subframe type %#02x", code)
	}
	wasted, err := br.ReadBits(1)
	if err != nil {
		return h, err
	}
	if wasted == 1 {
		k, err := br.ReadUnary()
		if err != nil {
			return h, err
		}
		if k+1 > 32 {
			return h, bitstreamError("%d wasted bits", k+1)
		}
		h.WastedBits = uint8(k + 1)
	}
	return h, nil
}

// Decode reads one subframe of blockSize samples at bps bits into out.
func (d *SubframeDecoder) Decode(br *BitReader, blockSize uint32, bps uint8, out []int64) error {
	h, err := readSubframeHeader(br)
	if err != nil {
		return err
	}
	if h.WastedBits >= bps {
		return bitstreamError("%d wasted bits at depth %d", h.WastedBits, bps)
	}
	bps -= h.WastedBits
	d.LastType, d.LastOrder = h.Type, h.Order
	out = out[:blockSize]

	switch h.Type {
	case SubframeConstant:
		v, err := br.ReadSigned(bps)
		if err != nil {
			return err
		}
		for i := range out {
			out[i] = v
		}
	case SubframeVerbatim:
		for i := range out {
			if out[i], err = br.ReadSigned(bps); err != nil {
				return err
			}
		}
	case SubframeFixed:
		if err := d.decodeFixed(br, h.Order, bps, out); err != nil {
			return err
		}
	case SubframeLPC:
		if err := d.decodeLPC(br, h.Order, bps, out); err != nil {
			return err
		}
	}

	if h.WastedBits > 0 {
		for i := range out {
			out[i] <<= h.WastedBits
		}
	}
	return nil
}

func (d *SubframeDecoder) readWarmup(br *BitReader, order int, bps uint8, out []int64) error {
	if order > len(out) {
		return bitstreamError("predictor order %d exceeds block size %d", order, len(out))
	}
	for i := range order {
		v, err := br.ReadSigned(bps)
		if err != nil {
			return err
		}
		out[i] = v
	}
	return nil
}

func (d *SubframeDecoder) decodeFixed(br *BitReader, order int, bps uint8, out []int64) error {
	if err := d.readWarmup(br, order, bps, out); err != nil {
		return err
	}
	if err := d.residual.Decode(br, uint32(len(out)), order, out); err != nil {
		return err
	}
	RestoreFixed(out, order)
	return nil
}

func (d *SubframeDecoder) decodeLPC(br *BitReader, order int, bps uint8, out []int64) error {
	if err := d.readWarmup(br, order, bps, out); err != nil {
		return err
	}
	prec, err := br.ReadBits(4)
	if err != nil {
		return err
	}
	if prec == 0x0F {
		return reservedError("LPC coefficient precision 15")
	}
	precision := uint8(prec + 1)
	shift, err := br.ReadSigned(5)
	if err != nil {
		return err
	}
	if shift < 0 {
		return reservedError("negative LPC shift %d", shift)
	}
	coeffs := d.coeffs[:order]
	for i := range coeffs {
		if coeffs[i], err = br.ReadSigned(precision); err != nil {
			return err
		}
	}
	if err := d.residual.Decode(br, uint32(len(out)), order, out); err != nil {
		return err
	}
	RestoreLPC(out, coeffs, uint(shift))
	return nil
}

// RestoreFixed replaces residuals in s[order:] with samples predicted by the
// fixed polynomial predictor of the given order.
func RestoreFixed(s []int64, order int) {
	switch order {
	case 1:
		for i := 1; i < len(s); i++ {
			s[i] += s[i-1]
		}
	case 2:
		for i := 2; i < len(s); i++ {
			s[i] += 2*s[i-1] - s[i-2]
		}
	case 3:
		for i := 3; i < len(s); i++ {
			s[i] += 3*s[i-1] - 3*s[i-2] + s[i-3]
		}
	case 4:
		for i := 4; i < len(s); i++ {
			s[i] += 4*s[i-1] - 6*s[i-2] + 4*s[i-3] - s[i-4]
		}
	}
}

// RestoreLPC replaces residuals in s[len(coeffs):] with LPC predictions.
// coeffs[0] applies to the most recent sample.
func RestoreLPC(s []int64, coeffs []int64, shift uint) {
	order := len(coeffs)
	for i := order; i < len(s); i++ {
		var sum int64
		for j, c := range coeffs {
			sum += c * s[i-1-j]
		}
		s[i] += sum >> shift
	}
}
