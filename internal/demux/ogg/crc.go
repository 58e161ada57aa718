package ogg

// Page checksum: CRC-32 with polynomial 0x04C11DB7, MSB-first, zero
// initial value and no final xor.

var crcTable = makeCRCTable(0x04C11DB7)

func makeCRCTable(poly uint32) (t [256]uint32) {
	for i := range t {
		r := uint32(i) << 24
		for range 8 {
			if r&0x80000000 != 0 {
				r = r<<1 ^ poly
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return t
}

func crcUpdate(crc uint32, p []byte) uint32 {
	for _, b := range p {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}

// pageChecksum computes the checksum of a page whose CRC field is at
// header[22:26], treating that field as zero.
func pageChecksum(header, body []byte) uint32 {
	var zero [4]byte
	crc := crcUpdate(0, header[:22])
	crc = crcUpdate(crc, zero[:])
	crc = crcUpdate(crc, header[26:])
	return crcUpdate(crc, body)
}
