package pcm

// ITU-T G.711 expansion tables, built once at package init.
var (
	alawTable  [256]int16
	mulawTable [256]int16
)

func init() {
	for i := range 256 {
		alawTable[i] = expandALaw(byte(i))
		mulawTable[i] = expandMuLaw(byte(i))
	}
}

func expandALaw(a byte) int16 {
	a ^= 0x55
	t := int32(a&0x0F) << 4
	switch seg := (a & 0x70) >> 4; seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= seg - 1
	}
	if a&0x80 != 0 {
		return int16(t)
	}
	return int16(-t)
}

const mulawBias = 0x84

func expandMuLaw(u byte) int16 {
	u = ^u
	t := int32(u&0x0F)<<3 + mulawBias
	t <<= (u & 0x70) >> 4
	if u&0x80 != 0 {
		return int16(mulawBias - t)
	}
	return int16(t - mulawBias)
}

// ALaw returns the linear value of an A-law byte.
func ALaw(b byte) int16 { return alawTable[b] }

// MuLaw returns the linear value of a μ-law byte.
func MuLaw(b byte) int16 { return mulawTable[b] }
