package audiodev

// linearCodec converts signed or unsigned linear samples of 8, 16, 24 or 32 bit containers.
// Valid bits are MSB aligned: decoding keeps the upper 16 bits, encoding zero fills the rest.
type linearCodec struct {
	bytes     int
	bigEndian bool
	xor       uint16
}

func newLinearCodec(f Format) linearCodec {
	c := linearCodec{
		bytes:     int(f.Stride / 8),
		bigEndian: f.Encoding.isBigEndian(),
	}
	if !f.Encoding.isSigned() {
		c.xor = 0x8000
	}

	return c
}

// get24 reads a packed 24-bit container.
func get24(b []byte, bigEndian bool) uint32 {
	if bigEndian {
		return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	}

	return uint32(b[2])<<16 | uint32(b[1])<<8 | uint32(b[0])
}

// put24 writes a packed 24-bit container.
func put24(b []byte, v uint32, bigEndian bool) {
	if bigEndian {
		b[0], b[1], b[2] = byte(v>>16), byte(v>>8), byte(v)
		return
	}
	b[0], b[1], b[2] = byte(v), byte(v>>8), byte(v>>16)
}

func (c linearCodec) decode(dst []int16, src []byte) {
	for i := range dst {
		b := src[i*c.bytes : (i+1)*c.bytes]
		var v uint16
		switch c.bytes {
		case 1:
			v = uint16(b[0]) << 8
		case 2:
			if c.bigEndian {
				v = uint16(b[0])<<8 | uint16(b[1])
			} else {
				v = uint16(b[1])<<8 | uint16(b[0])
			}
		case 3:
			v = uint16(get24(b, c.bigEndian) >> 8)
		case 4:
			if c.bigEndian {
				v = uint16(b[0])<<8 | uint16(b[1])
			} else {
				v = uint16(b[3])<<8 | uint16(b[2])
			}
		}
		dst[i] = int16(v ^ c.xor)
	}
}

func (c linearCodec) encode(dst []byte, src []int16) {
	for i, s := range src {
		b := dst[i*c.bytes : (i+1)*c.bytes]
		v := uint16(s) ^ c.xor
		switch c.bytes {
		case 1:
			b[0] = byte(v >> 8)
		case 2:
			if c.bigEndian {
				b[0], b[1] = byte(v>>8), byte(v)
			} else {
				b[0], b[1] = byte(v), byte(v>>8)
			}
		case 3:
			put24(b, uint32(v)<<8, c.bigEndian)
		case 4:
			if c.bigEndian {
				b[0], b[1], b[2], b[3] = byte(v>>8), byte(v), 0, 0
			} else {
				b[0], b[1], b[2], b[3] = 0, 0, byte(v), byte(v>>8)
			}
		}
	}
}
