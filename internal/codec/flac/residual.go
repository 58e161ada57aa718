package flac

// MaxPartitionOrder is the largest Rice partition order accepted.
const MaxPartitionOrder = 8

// Residual coding methods
const (
	riceMethod4 = 0 // 4-bit parameters, escape 0b1111
	riceMethod5 = 1 // 5-bit parameters, escape 0b11111
)

// maxFoldedResidual is the largest folded value whose signed form lies in
// [-(2^31)+1, 2^31-1].
const maxFoldedResidual = 1<<32 - 2

// ResidualDecoder reads partitioned Rice coded residuals.
type ResidualDecoder struct {
	// PartitionOrder is the order of the last decoded block, for subset
	// checks.
	PartitionOrder int
}

// zigzag unfolds a Rice coded value: 2n encodes n, 2n+1 encodes -n-1.
func zigzag(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

// ValidatePartitionOrder checks that blockSize splits into 2^order equal
// partitions and that the first one has room past the warm-up samples.
func ValidatePartitionOrder(blockSize uint32, order, predictorOrder int) error {
	if order > MaxPartitionOrder {
		return bitstreamError("partition order %d above %d", order, MaxPartitionOrder)
	}
	if blockSize&(1<<order-1) != 0 {
		return bitstreamError("block size %d not divisible into %d partitions", blockSize, 1<<order)
	}
	if int(blockSize>>order) <= predictorOrder {
		return bitstreamError("partition of %d samples cannot hold predictor order %d",
			blockSize>>order, predictorOrder)
	}
	return nil
}

// Decode fills out[predictorOrder:blockSize] with residuals.
func (d *ResidualDecoder) Decode(br *BitReader, blockSize uint32, predictorOrder int, out []int64) error {
	method, err := br.ReadBits(2)
	if err != nil {
		return err
	}
	var paramBits uint8
	var escape uint64
	switch method {
	case riceMethod4:
		paramBits, escape = 4, 0x0F
	case riceMethod5:
		paramBits, escape = 5, 0x1F
	default:
		return reservedError("residual coding method %d", method)
	}
	po, err := br.ReadBits(4)
	if err != nil {
		return err
	}
	order := int(po)
	if err := ValidatePartitionOrder(blockSize, order, predictorOrder); err != nil {
		return err
	}
	d.PartitionOrder = order

	partLen := int(blockSize >> order)
	i := predictorOrder
	for part := 0; part < 1<<order; part++ {
		n := partLen
		if part == 0 {
			n -= predictorOrder
		}
		param, err := br.ReadBits(paramBits)
		if err != nil {
			return err
		}
		if param == escape {
			if err := d.decodeEscaped(br, out[i:i+n]); err != nil {
				return err
			}
			i += n
			continue
		}
		k := uint8(param)
		for range n {
			q, err := br.ReadUnary()
			if err != nil {
				return err
			}
			r, err := br.ReadBits(k)
			if err != nil {
				return err
			}
			if uint64(q) > maxFoldedResidual>>k {
				return bitstreamError("rice quotient %d with parameter %d overflows", q, k)
			}
			u := uint64(q)<<k | r
			if u > maxFoldedResidual {
				return bitstreamError("residual %d outside the 32-bit range", zigzag(u))
			}
			out[i] = zigzag(u)
			i++
		}
	}
	return nil
}

// decodeEscaped reads residuals stored as fixed-width signed values.
func (d *ResidualDecoder) decodeEscaped(br *BitReader, out []int64) error {
	bits, err := br.ReadBits(5)
	if err != nil {
		return err
	}
	for j := range out {
		if bits == 0 {
			out[j] = 0
			continue
		}
		if out[j], err = br.ReadSigned(uint8(bits)); err != nil {
			return err
		}
	}
	return nil
}
