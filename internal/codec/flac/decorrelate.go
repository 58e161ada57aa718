package flac

// SideBits returns the depth of channel ch under assignment. The side
// channel of a stereo decorrelated frame carries one extra bit.
func SideBits(assignment uint8, ch int, bps uint8) uint8 {
	switch {
	case assignment == ChannelLeftSide && ch == 1,
		assignment == ChannelRightSide && ch == 0,
		assignment == ChannelMidSide && ch == 1:
		return bps + 1
	}
	return bps
}

// Decorrelate converts decoded subframes to left and right channels in
// place. Independent assignments are left untouched.
func Decorrelate(assignment uint8, ch [][]int64) {
	if len(ch) < 2 {
		return
	}
	a, b := ch[0], ch[1]
	switch assignment {
	case ChannelLeftSide:
		// a = left, b = side
		for i := range b {
			b[i] = a[i] - b[i]
		}
	case ChannelRightSide:
		// a = side, b = right
		for i := range a {
			a[i] += b[i]
		}
	case ChannelMidSide:
		// a = mid, b = side
		for i := range a {
			mid := a[i]<<1 | b[i]&1
			side := b[i]
			a[i] = (mid + side) >> 1
			b[i] = (mid - side) >> 1
		}
	}
}
