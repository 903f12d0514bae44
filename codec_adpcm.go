package audiodev

// OKI MSM6258 ADPCM tables.
var (
	adpcmEstimIndex = [16]int32{
		2, 6, 10, 14, 18, 22, 26, 30,
		-2, -6, -10, -14, -18, -22, -26, -30,
	}

	adpcmEstim = [49]int32{
		16, 17, 19, 21, 23, 25, 28, 31, 34, 37,
		41, 45, 50, 55, 60, 66, 73, 80, 88, 97,
		107, 118, 130, 143, 157, 173, 190, 209, 230, 253,
		279, 307, 337, 371, 408, 449, 494, 544, 598, 658,
		724, 796, 876, 963, 1060, 1166, 1282, 1411, 1552,
	}

	adpcmEstimStep = [16]int32{
		-1, -1, -1, -1, 2, 4, 6, 8,
		-1, -1, -1, -1, 2, 4, 6, 8,
	}
)

// adpcmCodec is a 4-bit OKI ADPCM codec. Two samples are packed per byte, low nibble first.
// The predictor state is carried across calls, so one instance serves one stream.
type adpcmCodec struct {
	amp   int32
	estim int32
}

func clampInt16(v int32) int32 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}

	return v
}

func (c *adpcmCodec) step(estim int32) {
	c.estim = estim
	if c.estim < 0 {
		c.estim = 0
	} else if c.estim > 48 {
		c.estim = 48
	}
}

func (c *adpcmCodec) encodeSample(a int16) byte {
	df := int32(a) - c.amp
	dl := adpcmEstim[c.estim]
	v := (df / 16) * 8 / dl

	var s byte
	if df < 0 {
		v = -v
		s = 0x08
	}
	b := byte(min(v/2, 7))
	s |= b

	c.amp = clampInt16(c.amp + adpcmEstimIndex[s]*dl)
	c.step(c.estim + adpcmEstimStep[b])

	return s
}

func (c *adpcmCodec) decodeSample(b byte) int16 {
	c.amp = clampInt16(c.amp + adpcmEstim[c.estim]*adpcmEstimIndex[b])
	c.step(c.estim + adpcmEstimStep[b])

	return int16(c.amp)
}

func (c *adpcmCodec) decode(dst []int16, src []byte) {
	for i := 0; i+1 < len(dst); i += 2 {
		b := src[i/2]
		dst[i] = c.decodeSample(b & 0x0f)
		dst[i+1] = c.decodeSample(b >> 4)
	}
}

func (c *adpcmCodec) encode(dst []byte, src []int16) {
	for i := 0; i+1 < len(src); i += 2 {
		lo := c.encodeSample(src[i])
		hi := c.encodeSample(src[i+1])
		dst[i/2] = lo | hi<<4
	}
}

func (c *adpcmCodec) reset() {
	c.amp = 0
	c.estim = 0
}
