// Package audiodev implements a multiplexing audio device layer: per-open tracks with
// format conversion, a per-direction track mixer that drives a single hardware backend,
// and the audio/sound/audioctl/mixer device surface on top of them.
package audiodev

import (
	"encoding/binary"
	"fmt"
)

// Encoding is a sample encoding tag. The values correspond to the AUDIO_ENCODING_*
// constants of the audioio interface.
type Encoding uint32

const (
	AUDIO_ENCODING_NONE            Encoding = 0
	AUDIO_ENCODING_ULAW            Encoding = 1  // ITU G.711 mu-law.
	AUDIO_ENCODING_ALAW            Encoding = 2  // ITU G.711 A-law.
	AUDIO_ENCODING_PCM16           Encoding = 3  // Legacy, same as SLINEAR.
	AUDIO_ENCODING_PCM8            Encoding = 4  // Legacy, same as ULINEAR.
	AUDIO_ENCODING_ADPCM           Encoding = 5  // 4-bit OKI ADPCM.
	AUDIO_ENCODING_SLINEAR_LE      Encoding = 6  // Signed linear, little endian.
	AUDIO_ENCODING_SLINEAR_BE      Encoding = 7  // Signed linear, big endian.
	AUDIO_ENCODING_ULINEAR_LE      Encoding = 8  // Unsigned linear, little endian.
	AUDIO_ENCODING_ULINEAR_BE      Encoding = 9  // Unsigned linear, big endian.
	AUDIO_ENCODING_SLINEAR         Encoding = 10 // Signed linear, native endian.
	AUDIO_ENCODING_ULINEAR         Encoding = 11 // Unsigned linear, native endian.
	AUDIO_ENCODING_MPEG_L1_STREAM  Encoding = 12
	AUDIO_ENCODING_MPEG_L1_PACKETS Encoding = 13
	AUDIO_ENCODING_MPEG_L1_SYSTEM  Encoding = 14
	AUDIO_ENCODING_MPEG_L2_STREAM  Encoding = 15
	AUDIO_ENCODING_MPEG_L2_PACKETS Encoding = 16
	AUDIO_ENCODING_MPEG_L2_SYSTEM  Encoding = 17
	AUDIO_ENCODING_AC3             Encoding = 18
)

// Native endian aliases, resolved at init.
var (
	AUDIO_ENCODING_SLINEAR_NE Encoding
	AUDIO_ENCODING_ULINEAR_NE Encoding
	AUDIO_ENCODING_SLINEAR_OE Encoding
	AUDIO_ENCODING_ULINEAR_OE Encoding
)

const (
	AUDIO_MIN_FREQUENCY = 1000
	AUDIO_MAX_FREQUENCY = 192000
	AUDIO_MAX_CHANNELS  = 12

	// AUDIO_INTERNAL_BITS is the width of one sample in the internal format.
	AUDIO_INTERNAL_BITS = 16
)

var nativeLittleEndian = binary.NativeEndian.Uint16([]byte{1, 0}) == 1

func init() {
	if nativeLittleEndian {
		AUDIO_ENCODING_SLINEAR_NE = AUDIO_ENCODING_SLINEAR_LE
		AUDIO_ENCODING_ULINEAR_NE = AUDIO_ENCODING_ULINEAR_LE
		AUDIO_ENCODING_SLINEAR_OE = AUDIO_ENCODING_SLINEAR_BE
		AUDIO_ENCODING_ULINEAR_OE = AUDIO_ENCODING_ULINEAR_BE
	} else {
		AUDIO_ENCODING_SLINEAR_NE = AUDIO_ENCODING_SLINEAR_BE
		AUDIO_ENCODING_ULINEAR_NE = AUDIO_ENCODING_ULINEAR_BE
		AUDIO_ENCODING_SLINEAR_OE = AUDIO_ENCODING_SLINEAR_LE
		AUDIO_ENCODING_ULINEAR_OE = AUDIO_ENCODING_ULINEAR_LE
	}
}

var encodingNames = map[Encoding]string{
	AUDIO_ENCODING_NONE:            "none",
	AUDIO_ENCODING_ULAW:            "mulaw",
	AUDIO_ENCODING_ALAW:            "alaw",
	AUDIO_ENCODING_PCM16:           "pcm16",
	AUDIO_ENCODING_PCM8:            "pcm8",
	AUDIO_ENCODING_ADPCM:           "adpcm",
	AUDIO_ENCODING_SLINEAR_LE:      "slinear_le",
	AUDIO_ENCODING_SLINEAR_BE:      "slinear_be",
	AUDIO_ENCODING_ULINEAR_LE:      "ulinear_le",
	AUDIO_ENCODING_ULINEAR_BE:      "ulinear_be",
	AUDIO_ENCODING_SLINEAR:         "slinear",
	AUDIO_ENCODING_ULINEAR:         "ulinear",
	AUDIO_ENCODING_MPEG_L1_STREAM:  "mpeg_l1_stream",
	AUDIO_ENCODING_MPEG_L1_PACKETS: "mpeg_l1_packets",
	AUDIO_ENCODING_MPEG_L1_SYSTEM:  "mpeg_l1_system",
	AUDIO_ENCODING_MPEG_L2_STREAM:  "mpeg_l2_stream",
	AUDIO_ENCODING_MPEG_L2_PACKETS: "mpeg_l2_packets",
	AUDIO_ENCODING_MPEG_L2_SYSTEM:  "mpeg_l2_system",
	AUDIO_ENCODING_AC3:             "ac3",
}

// String returns the name of the encoding.
func (e Encoding) String() string {
	if name, ok := encodingNames[e]; ok {
		return name
	}

	return fmt.Sprintf("encoding(%d)", uint32(e))
}

// ParseEncoding returns the encoding with the given name.
func ParseEncoding(name string) (Encoding, error) {
	for e, n := range encodingNames {
		if n == name {
			return e, nil
		}
	}

	return AUDIO_ENCODING_NONE, fmt.Errorf("unknown encoding %q: %w", name, ErrInvalidParameter)
}

// IsLinear reports whether e is one of the signed or unsigned linear encodings.
func (e Encoding) IsLinear() bool {
	switch e {
	case AUDIO_ENCODING_SLINEAR_LE, AUDIO_ENCODING_SLINEAR_BE,
		AUDIO_ENCODING_ULINEAR_LE, AUDIO_ENCODING_ULINEAR_BE,
		AUDIO_ENCODING_SLINEAR, AUDIO_ENCODING_ULINEAR,
		AUDIO_ENCODING_PCM16, AUDIO_ENCODING_PCM8:
		return true
	}

	return false
}

// IsCompressed reports whether e is a bitstream encoding that cannot be mixed.
func (e Encoding) IsCompressed() bool {
	return e >= AUDIO_ENCODING_MPEG_L1_STREAM && e <= AUDIO_ENCODING_AC3
}

func (e Encoding) isSigned() bool {
	switch e {
	case AUDIO_ENCODING_SLINEAR_LE, AUDIO_ENCODING_SLINEAR_BE, AUDIO_ENCODING_SLINEAR, AUDIO_ENCODING_PCM16:
		return true
	}

	return false
}

func (e Encoding) isBigEndian() bool {
	switch e {
	case AUDIO_ENCODING_SLINEAR_BE, AUDIO_ENCODING_ULINEAR_BE:
		return true
	case AUDIO_ENCODING_SLINEAR, AUDIO_ENCODING_ULINEAR, AUDIO_ENCODING_PCM16, AUDIO_ENCODING_PCM8:
		return !nativeLittleEndian
	}

	return false
}

// Format describes one PCM stream format.
type Format struct {
	Encoding   Encoding
	Precision  uint // Valid bits per sample.
	Stride     uint // Container bits per sample.
	Channels   uint
	SampleRate uint
}

// String returns a short description such as "slinear_le 16/16 2ch 48000Hz".
func (f Format) String() string {
	return fmt.Sprintf("%s %d/%d %dch %dHz", f.Encoding, f.Precision, f.Stride, f.Channels, f.SampleRate)
}

// FrameBits returns the number of bits in one frame.
func (f Format) FrameBits() uint {
	return f.Stride * f.Channels
}

// FrameAlign returns the smallest number of frames that occupies a whole number of bytes.
func (f Format) FrameAlign() uint {
	align := uint(1)
	for (align*f.FrameBits())%8 != 0 {
		align++
	}

	return align
}

// FramesToBytes converts a frame count into bytes. The count must be frame aligned.
func (f Format) FramesToBytes(frames uint) uint {
	return frames * f.FrameBits() / 8
}

// BytesToFrames converts a byte count into whole frames, rounded down to the frame alignment.
func (f Format) BytesToFrames(n uint) uint {
	if f.FrameBits() == 0 {
		return 0
	}
	frames := n * 8 / f.FrameBits()

	return frames - frames%f.FrameAlign()
}

// normalize folds legacy and alias encodings into their canonical forms.
func (f Format) normalize() Format {
	switch f.Encoding {
	case AUDIO_ENCODING_PCM16:
		f.Encoding = AUDIO_ENCODING_SLINEAR_NE
	case AUDIO_ENCODING_PCM8:
		f.Encoding = AUDIO_ENCODING_ULINEAR_NE
	case AUDIO_ENCODING_SLINEAR:
		f.Encoding = AUDIO_ENCODING_SLINEAR_NE
	case AUDIO_ENCODING_ULINEAR:
		f.Encoding = AUDIO_ENCODING_ULINEAR_NE
	}

	if f.Stride == 8 {
		switch f.Encoding {
		case AUDIO_ENCODING_SLINEAR_BE:
			f.Encoding = AUDIO_ENCODING_SLINEAR_LE
		case AUDIO_ENCODING_ULINEAR_BE:
			f.Encoding = AUDIO_ENCODING_ULINEAR_LE
		}
	}

	return f
}

// Validate checks that f describes a format the conversion layer accepts.
// Compressed encodings are reported as unsupported here; the device accepts them only
// when the backend advertises them.
func (f Format) Validate() error {
	switch {
	case f.Encoding == AUDIO_ENCODING_ULAW || f.Encoding == AUDIO_ENCODING_ALAW:
		if f.Precision != 8 || f.Stride != 8 {
			return fmt.Errorf("%s requires precision 8, got %d: %w", f.Encoding, f.Precision, ErrInvalidParameter)
		}
	case f.Encoding == AUDIO_ENCODING_ADPCM:
		if f.Precision != 4 || f.Stride != 4 {
			return fmt.Errorf("adpcm requires precision 4, got %d: %w", f.Precision, ErrInvalidParameter)
		}
	case f.Encoding.IsLinear():
		switch f.Stride {
		case 8, 16, 24, 32:
		default:
			return fmt.Errorf("invalid stride %d: %w", f.Stride, ErrInvalidParameter)
		}
		switch f.Precision {
		case 8, 16, 24, 32:
		default:
			return fmt.Errorf("invalid precision %d: %w", f.Precision, ErrInvalidParameter)
		}
		if f.Precision > f.Stride {
			return fmt.Errorf("precision %d exceeds stride %d: %w", f.Precision, f.Stride, ErrInvalidParameter)
		}
	case f.Encoding.IsCompressed():
		return fmt.Errorf("%s: %w", f.Encoding, ErrUnsupportedFormat)
	default:
		return fmt.Errorf("%s: %w", f.Encoding, ErrUnsupportedFormat)
	}

	if f.Channels < 1 || f.Channels > AUDIO_MAX_CHANNELS {
		return fmt.Errorf("invalid channels %d: %w", f.Channels, ErrInvalidParameter)
	}
	if f.SampleRate < AUDIO_MIN_FREQUENCY || f.SampleRate > AUDIO_MAX_FREQUENCY {
		return fmt.Errorf("invalid sample rate %d: %w", f.SampleRate, ErrInvalidParameter)
	}

	return nil
}

// isInternal reports whether f is the internal sample encoding, independent of channels and rate.
func (f Format) isInternal() bool {
	f = f.normalize()

	return f.Encoding == AUDIO_ENCODING_SLINEAR_NE && f.Precision == AUDIO_INTERNAL_BITS && f.Stride == AUDIO_INTERNAL_BITS
}

// internalFormat returns the internal format with the given channels and rate.
func internalFormat(channels, rate uint) Format {
	return Format{
		Encoding:   AUDIO_ENCODING_SLINEAR_NE,
		Precision:  AUDIO_INTERNAL_BITS,
		Stride:     AUDIO_INTERNAL_BITS,
		Channels:   channels,
		SampleRate: rate,
	}
}

// DefaultFormat is the format of /dev/audio after open: mu-law, 8 bits, mono, 8000 Hz.
var DefaultFormat = Format{
	Encoding:   AUDIO_ENCODING_ULAW,
	Precision:  8,
	Stride:     8,
	Channels:   1,
	SampleRate: 8000,
}
