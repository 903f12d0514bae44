// Package alsa drives a Linux ALSA hardware PCM (hw:C,D) and its card's control
// interface directly through the kernel ioctl ABI, and exposes them as an
// audiodev.HWBackend.
package alsa

import (
	"fmt"

	"github.com/gen2brain/audiodev"
)

// PcmFormat defines the sample format for a PCM stream.
// These values correspond to the SNDRV_PCM_FORMAT_* constants in the ALSA kernel headers.
type PcmFormat int32

const (
	SNDRV_PCM_FORMAT_INVALID PcmFormat = -1
	SNDRV_PCM_FORMAT_S8      PcmFormat = 0
	SNDRV_PCM_FORMAT_U8      PcmFormat = 1
	SNDRV_PCM_FORMAT_S16_LE  PcmFormat = 2
	SNDRV_PCM_FORMAT_S16_BE  PcmFormat = 3
	SNDRV_PCM_FORMAT_U16_LE  PcmFormat = 4
	SNDRV_PCM_FORMAT_U16_BE  PcmFormat = 5
	SNDRV_PCM_FORMAT_S24_LE  PcmFormat = 6
	SNDRV_PCM_FORMAT_S24_BE  PcmFormat = 7
	SNDRV_PCM_FORMAT_U24_LE  PcmFormat = 8
	SNDRV_PCM_FORMAT_U24_BE  PcmFormat = 9
	SNDRV_PCM_FORMAT_S32_LE  PcmFormat = 10
	SNDRV_PCM_FORMAT_S32_BE  PcmFormat = 11
	SNDRV_PCM_FORMAT_U32_LE  PcmFormat = 12
	SNDRV_PCM_FORMAT_U32_BE  PcmFormat = 13
	SNDRV_PCM_FORMAT_MU_LAW  PcmFormat = 20
	SNDRV_PCM_FORMAT_A_LAW   PcmFormat = 21
	SNDRV_PCM_FORMAT_S24_3LE PcmFormat = 32
	SNDRV_PCM_FORMAT_S24_3BE PcmFormat = 33
	SNDRV_PCM_FORMAT_U24_3LE PcmFormat = 34
	SNDRV_PCM_FORMAT_U24_3BE PcmFormat = 35
)

// PcmParam identifies a hardware parameter for a PCM device.
// These values correspond to the SNDRV_PCM_HW_PARAM_* constants.
type PcmParam int

const (
	SNDRV_PCM_HW_PARAM_ACCESS      PcmParam = 0
	SNDRV_PCM_HW_PARAM_FORMAT      PcmParam = 1
	SNDRV_PCM_HW_PARAM_SUBFORMAT   PcmParam = 2
	SNDRV_PCM_HW_PARAM_SAMPLE_BITS PcmParam = 8
	SNDRV_PCM_HW_PARAM_FRAME_BITS  PcmParam = 9
	SNDRV_PCM_HW_PARAM_CHANNELS    PcmParam = 10
	SNDRV_PCM_HW_PARAM_RATE        PcmParam = 11
	SNDRV_PCM_HW_PARAM_PERIOD_TIME PcmParam = 12
	SNDRV_PCM_HW_PARAM_PERIOD_SIZE PcmParam = 13
	SNDRV_PCM_HW_PARAM_PERIODS     PcmParam = 15
	SNDRV_PCM_HW_PARAM_BUFFER_SIZE PcmParam = 17
	SNDRV_PCM_HW_PARAM_TICK_TIME   PcmParam = 19
)

const (
	SNDRV_PCM_ACCESS_RW_INTERLEAVED = 3

	SNDRV_PCM_INTERVAL_INTEGER = 1 << 2

	SNDRV_PCM_STREAM_PLAYBACK = 0
	SNDRV_PCM_STREAM_CAPTURE  = 1

	SNDRV_PCM_TSTAMP_ENABLE = 1
)

// MixerCtlType defines the value type of mixer control.
type MixerCtlType int32

const (
	SNDRV_CTL_ELEM_TYPE_NONE       MixerCtlType = 0
	SNDRV_CTL_ELEM_TYPE_BOOLEAN    MixerCtlType = 1
	SNDRV_CTL_ELEM_TYPE_INTEGER    MixerCtlType = 2
	SNDRV_CTL_ELEM_TYPE_ENUMERATED MixerCtlType = 3
	SNDRV_CTL_ELEM_TYPE_BYTES      MixerCtlType = 4
	SNDRV_CTL_ELEM_TYPE_IEC958     MixerCtlType = 5
	SNDRV_CTL_ELEM_TYPE_INTEGER64  MixerCtlType = 6
)

const (
	SNDRV_CTL_ELEM_IFACE_MIXER = 2

	SNDRV_CTL_ELEM_ACCESS_READ     = 1 << 0
	SNDRV_CTL_ELEM_ACCESS_WRITE    = 1 << 1
	SNDRV_CTL_ELEM_ACCESS_INACTIVE = 1 << 8
)

// formatMap pairs ALSA sample formats with the audiodev encodings they carry.
var formatMap = []struct {
	pcm       PcmFormat
	enc       audiodev.Encoding
	precision uint
	stride    uint
}{
	{SNDRV_PCM_FORMAT_S16_LE, audiodev.AUDIO_ENCODING_SLINEAR_LE, 16, 16},
	{SNDRV_PCM_FORMAT_S16_BE, audiodev.AUDIO_ENCODING_SLINEAR_BE, 16, 16},
	{SNDRV_PCM_FORMAT_U16_LE, audiodev.AUDIO_ENCODING_ULINEAR_LE, 16, 16},
	{SNDRV_PCM_FORMAT_U16_BE, audiodev.AUDIO_ENCODING_ULINEAR_BE, 16, 16},
	{SNDRV_PCM_FORMAT_S24_3LE, audiodev.AUDIO_ENCODING_SLINEAR_LE, 24, 24},
	{SNDRV_PCM_FORMAT_S24_3BE, audiodev.AUDIO_ENCODING_SLINEAR_BE, 24, 24},
	{SNDRV_PCM_FORMAT_U24_3LE, audiodev.AUDIO_ENCODING_ULINEAR_LE, 24, 24},
	{SNDRV_PCM_FORMAT_U24_3BE, audiodev.AUDIO_ENCODING_ULINEAR_BE, 24, 24},
	{SNDRV_PCM_FORMAT_S24_LE, audiodev.AUDIO_ENCODING_SLINEAR_LE, 24, 32},
	{SNDRV_PCM_FORMAT_S24_BE, audiodev.AUDIO_ENCODING_SLINEAR_BE, 24, 32},
	{SNDRV_PCM_FORMAT_U24_LE, audiodev.AUDIO_ENCODING_ULINEAR_LE, 24, 32},
	{SNDRV_PCM_FORMAT_U24_BE, audiodev.AUDIO_ENCODING_ULINEAR_BE, 24, 32},
	{SNDRV_PCM_FORMAT_S32_LE, audiodev.AUDIO_ENCODING_SLINEAR_LE, 32, 32},
	{SNDRV_PCM_FORMAT_S32_BE, audiodev.AUDIO_ENCODING_SLINEAR_BE, 32, 32},
	{SNDRV_PCM_FORMAT_U32_LE, audiodev.AUDIO_ENCODING_ULINEAR_LE, 32, 32},
	{SNDRV_PCM_FORMAT_U32_BE, audiodev.AUDIO_ENCODING_ULINEAR_BE, 32, 32},
	{SNDRV_PCM_FORMAT_S8, audiodev.AUDIO_ENCODING_SLINEAR, 8, 8},
	{SNDRV_PCM_FORMAT_U8, audiodev.AUDIO_ENCODING_ULINEAR, 8, 8},
	{SNDRV_PCM_FORMAT_MU_LAW, audiodev.AUDIO_ENCODING_ULAW, 8, 8},
	{SNDRV_PCM_FORMAT_A_LAW, audiodev.AUDIO_ENCODING_ALAW, 8, 8},
}

// PcmFormatOf returns the ALSA sample format that carries f.
func PcmFormatOf(f audiodev.Format) (PcmFormat, error) {
	stride := f.Stride
	if stride == 0 {
		stride = f.Precision
	}
	enc := f.Encoding
	if f.Precision == 8 {
		// Byte order is meaningless for 8-bit samples.
		switch enc {
		case audiodev.AUDIO_ENCODING_SLINEAR_LE, audiodev.AUDIO_ENCODING_SLINEAR_BE:
			enc = audiodev.AUDIO_ENCODING_SLINEAR
		case audiodev.AUDIO_ENCODING_ULINEAR_LE, audiodev.AUDIO_ENCODING_ULINEAR_BE:
			enc = audiodev.AUDIO_ENCODING_ULINEAR
		}
	}
	for _, m := range formatMap {
		if m.enc == enc && m.precision == f.Precision && m.stride == stride {
			return m.pcm, nil
		}
	}

	return SNDRV_PCM_FORMAT_INVALID, fmt.Errorf("alsa: no sample format for %s: %w", f, audiodev.ErrUnsupportedFormat)
}

// Encoding returns the audiodev encoding, precision and stride of the format.
// The last result is false when the format has no audiodev equivalent.
func (f PcmFormat) Encoding() (audiodev.Encoding, uint, uint, bool) {
	for _, m := range formatMap {
		if m.pcm == f {
			return m.enc, m.precision, m.stride, true
		}
	}

	return audiodev.AUDIO_ENCODING_NONE, 0, 0, false
}

// Bits returns the number of bits a sample occupies in memory.
func (f PcmFormat) Bits() uint {
	if _, _, stride, ok := f.Encoding(); ok {
		return stride
	}

	return 0
}

// String returns the ALSA name of the format.
func (f PcmFormat) String() string {
	if name, ok := pcmFormatNames[f]; ok {
		return name
	}

	return fmt.Sprintf("FORMAT_%d", int32(f))
}

var pcmFormatNames = map[PcmFormat]string{
	SNDRV_PCM_FORMAT_S8:      "S8",
	SNDRV_PCM_FORMAT_U8:      "U8",
	SNDRV_PCM_FORMAT_S16_LE:  "S16_LE",
	SNDRV_PCM_FORMAT_S16_BE:  "S16_BE",
	SNDRV_PCM_FORMAT_U16_LE:  "U16_LE",
	SNDRV_PCM_FORMAT_U16_BE:  "U16_BE",
	SNDRV_PCM_FORMAT_S24_LE:  "S24_LE",
	SNDRV_PCM_FORMAT_S24_BE:  "S24_BE",
	SNDRV_PCM_FORMAT_U24_LE:  "U24_LE",
	SNDRV_PCM_FORMAT_U24_BE:  "U24_BE",
	SNDRV_PCM_FORMAT_S32_LE:  "S32_LE",
	SNDRV_PCM_FORMAT_S32_BE:  "S32_BE",
	SNDRV_PCM_FORMAT_U32_LE:  "U32_LE",
	SNDRV_PCM_FORMAT_U32_BE:  "U32_BE",
	SNDRV_PCM_FORMAT_MU_LAW:  "MU_LAW",
	SNDRV_PCM_FORMAT_A_LAW:   "A_LAW",
	SNDRV_PCM_FORMAT_S24_3LE: "S24_3LE",
	SNDRV_PCM_FORMAT_S24_3BE: "S24_3BE",
	SNDRV_PCM_FORMAT_U24_3LE: "U24_3LE",
	SNDRV_PCM_FORMAT_U24_3BE: "U24_3BE",
}
