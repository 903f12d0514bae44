package audiodev

import (
	"fmt"
)

// decoder converts samples of an external encoding into internal samples.
// len(dst) is the number of samples; src holds exactly the bytes for them.
type decoder interface {
	decode(dst []int16, src []byte)
}

// encoder converts internal samples into an external encoding.
type encoder interface {
	encode(dst []byte, src []int16)
}

// newDecoder returns the decoder from f into the internal format, or nil when f already is internal.
func newDecoder(f Format) (decoder, error) {
	f = f.normalize()
	if f.isInternal() {
		return nil, nil
	}

	switch {
	case f.Encoding == AUDIO_ENCODING_ULAW:
		return mulawCodec{}, nil
	case f.Encoding == AUDIO_ENCODING_ALAW:
		return alawCodec{}, nil
	case f.Encoding == AUDIO_ENCODING_ADPCM:
		return &adpcmCodec{}, nil
	case f.Encoding.IsLinear():
		return newLinearCodec(f), nil
	}

	return nil, fmt.Errorf("no decoder for %s: %w", f.Encoding, ErrUnsupportedFormat)
}

// newEncoder returns the encoder from the internal format into f, or nil when f already is internal.
func newEncoder(f Format) (encoder, error) {
	f = f.normalize()
	if f.isInternal() {
		return nil, nil
	}

	switch {
	case f.Encoding == AUDIO_ENCODING_ULAW:
		return mulawCodec{}, nil
	case f.Encoding == AUDIO_ENCODING_ALAW:
		return alawCodec{}, nil
	case f.Encoding == AUDIO_ENCODING_ADPCM:
		return &adpcmCodec{}, nil
	case f.Encoding.IsLinear():
		return newLinearCodec(f), nil
	}

	return nil, fmt.Errorf("no encoder for %s: %w", f.Encoding, ErrUnsupportedFormat)
}

// decodeStage runs a decoder between a byte ring and an internal ring.
type decodeStage struct {
	dec decoder
}

// apply converts as many frames as both rings allow and returns the number converted.
func (s *decodeStage) apply(dst *Ring[int16], src *Ring[byte]) uint {
	align := src.fmt.FrameAlign()
	channels := src.fmt.Channels
	total := uint(0)
	for {
		n := min(src.HeadFrames(), dst.TailFrames())
		n -= n % align
		if n == 0 {
			break
		}
		s.dec.decode(dst.Tail()[:n*channels], src.Head()[:src.fmt.FramesToBytes(n)])
		src.Consume(n)
		_ = dst.Append(n)
		total += n
	}

	return total
}

// encodeStage runs an encoder between an internal ring and a byte ring.
type encodeStage struct {
	enc encoder
}

func (s *encodeStage) apply(dst *Ring[byte], src *Ring[int16]) uint {
	align := dst.fmt.FrameAlign()
	channels := src.fmt.Channels
	total := uint(0)
	for {
		n := min(src.HeadFrames(), dst.TailFrames())
		n -= n % align
		if n == 0 {
			break
		}
		s.enc.encode(dst.Tail()[:dst.fmt.FramesToBytes(n)], src.Head()[:n*channels])
		src.Consume(n)
		_ = dst.Append(n)
		total += n
	}

	return total
}

// copyIn moves internal samples stored in a byte ring into an internal ring without conversion.
func copyIn(dst *Ring[int16], src *Ring[byte]) uint {
	total := uint(0)
	for {
		n := min(src.HeadFrames(), dst.TailFrames())
		if n == 0 {
			break
		}
		samples := dst.Tail()[:n*dst.fmt.Channels]
		bytesToInternal(samples, src.Head())
		src.Consume(n)
		_ = dst.Append(n)
		total += n
	}

	return total
}

// copyOut is the reverse of copyIn.
func copyOut(dst *Ring[byte], src *Ring[int16]) uint {
	total := uint(0)
	for {
		n := min(src.HeadFrames(), dst.TailFrames())
		if n == 0 {
			break
		}
		internalToBytes(dst.Tail(), src.Head()[:n*src.fmt.Channels])
		src.Consume(n)
		_ = dst.Append(n)
		total += n
	}

	return total
}

// bytesToInternal reads native endian 16-bit samples.
func bytesToInternal(dst []int16, src []byte) {
	for i := range dst {
		if nativeLittleEndian {
			dst[i] = int16(uint16(src[2*i]) | uint16(src[2*i+1])<<8)
		} else {
			dst[i] = int16(uint16(src[2*i])<<8 | uint16(src[2*i+1]))
		}
	}
}

// internalToBytes writes native endian 16-bit samples.
func internalToBytes(dst []byte, src []int16) {
	for i, s := range src {
		if nativeLittleEndian {
			dst[2*i] = byte(s)
			dst[2*i+1] = byte(uint16(s) >> 8)
		} else {
			dst[2*i] = byte(uint16(s) >> 8)
			dst[2*i+1] = byte(s)
		}
	}
}
