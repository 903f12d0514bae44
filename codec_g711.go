package audiodev

import (
	"sort"
)

// Magnitudes of the positive half of each companding law, indexed by the code with the
// sign bit removed. Both tables are strictly increasing.
var (
	mulawMagnitude [128]int32
	alawMagnitude  [128]int32
)

func init() {
	for k := range 128 {
		mulawMagnitude[k] = int32(mulawDecode(byte(0xff - k)))
		alawMagnitude[k] = int32(alawDecode(byte(0x80|k) ^ 0x55))
	}
}

// mulawDecode expands one mu-law code. 0xff decodes to +0 and 0x7f to -0.
func mulawDecode(u byte) int16 {
	u = ^u
	t := (int32(u&0x0f) << 3) + 0x84
	t <<= (u & 0x70) >> 4
	if u&0x80 != 0 {
		return int16(0x84 - t)
	}

	return int16(t - 0x84)
}

// alawDecode expands one A-law code.
func alawDecode(a byte) int16 {
	a ^= 0x55
	t := int32(a&0x0f) << 4
	seg := (a & 0x70) >> 4
	switch seg {
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

// closest returns the index of the magnitude nearest to a; on a tie the smaller one wins.
func closest(tbl *[128]int32, a int32) int {
	i := sort.Search(len(tbl), func(i int) bool { return tbl[i] >= a })
	if i == len(tbl) {
		return len(tbl) - 1
	}
	if i > 0 && a-tbl[i-1] <= tbl[i]-a {
		return i - 1
	}

	return i
}

// mulawEncode returns the code whose decoded value is closest to s, ties toward zero.
func mulawEncode(s int16) byte {
	if s >= 0 {
		return 0xff - byte(closest(&mulawMagnitude, int32(s)))
	}

	return 0x7f - byte(closest(&mulawMagnitude, -int32(s)))
}

// alawEncode returns the code whose decoded value is closest to s, ties toward zero.
func alawEncode(s int16) byte {
	if s >= 0 {
		return (0x80 | byte(closest(&alawMagnitude, int32(s)))) ^ 0x55
	}

	return byte(closest(&alawMagnitude, -int32(s))) ^ 0x55
}

type mulawCodec struct{}

func (mulawCodec) decode(dst []int16, src []byte) {
	for i := range dst {
		dst[i] = mulawDecode(src[i])
	}
}

func (mulawCodec) encode(dst []byte, src []int16) {
	for i, s := range src {
		dst[i] = mulawEncode(s)
	}
}

type alawCodec struct{}

func (alawCodec) decode(dst []int16, src []byte) {
	for i := range dst {
		dst[i] = alawDecode(src[i])
	}
}

func (alawCodec) encode(dst []byte, src []int16) {
	for i, s := range src {
		dst[i] = alawEncode(s)
	}
}
