package alsa

import (
	"fmt"
	"os"
	"syscall"
	"unsafe"

	"github.com/gen2brain/audiodev"
)

// streamCaps is the refined capability space of one PCM stream.
type streamCaps struct {
	Formats     []PcmFormat
	MinChannels uint32
	MaxChannels uint32
	MinRate     uint32
	MaxRate     uint32
}

// queryCaps asks the kernel to restrict the full parameter space to what the stream
// supports. The stream is opened non-blocking and closed again.
func queryCaps(card, device uint, capture bool) (streamCaps, error) {
	path := pcmPath(card, device, capture)
	file, err := os.OpenFile(path, os.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		return streamCaps{}, fmt.Errorf("failed to open PCM device %s for query: %w", path, err)
	}
	defer file.Close()

	hwParams := &sndPcmHwParams{}
	paramInit(hwParams)
	paramSetMask(hwParams, SNDRV_PCM_HW_PARAM_ACCESS, SNDRV_PCM_ACCESS_RW_INTERLEAVED)

	if err := ioctl(file.Fd(), SNDRV_PCM_IOCTL_HW_REFINE, uintptr(unsafe.Pointer(hwParams))); err != nil {
		return streamCaps{}, fmt.Errorf("ioctl HW_REFINE failed: %w", err)
	}

	return capsOf(hwParams), nil
}

// capsOf extracts the supported formats and ranges from refined parameters.
func capsOf(p *sndPcmHwParams) streamCaps {
	var caps streamCaps
	mask := &p.Masks[SNDRV_PCM_HW_PARAM_FORMAT-SNDRV_PCM_HW_PARAM_ACCESS]
	for _, m := range formatMap {
		if mask.test(uint(m.pcm)) {
			caps.Formats = append(caps.Formats, m.pcm)
		}
	}
	ch := p.Intervals[SNDRV_PCM_HW_PARAM_CHANNELS-SNDRV_PCM_HW_PARAM_SAMPLE_BITS]
	caps.MinChannels, caps.MaxChannels = ch.MinVal, ch.MaxVal
	rate := p.Intervals[SNDRV_PCM_HW_PARAM_RATE-SNDRV_PCM_HW_PARAM_SAMPLE_BITS]
	caps.MinRate, caps.MaxRate = rate.MinVal, rate.MaxVal

	return caps
}

// descs returns one format descriptor per supported sample format. Each runs with two
// channels when the stream allows it.
func (c streamCaps) descs(mode audiodev.Mode) []audiodev.FormatDesc {
	channels := min(max(2, c.MinChannels), c.MaxChannels, audiodev.AUDIO_MAX_CHANNELS)
	if channels == 0 || c.MaxRate == 0 {
		return nil
	}

	var out []audiodev.FormatDesc
	for _, f := range c.Formats {
		enc, precision, stride, _ := f.Encoding()
		out = append(out, audiodev.FormatDesc{
			Mode:      mode,
			Encoding:  enc,
			Precision: precision,
			Stride:    stride,
			Channels:  uint(channels),
			MinRate:   uint(c.MinRate),
			MaxRate:   uint(min(c.MaxRate, audiodev.AUDIO_MAX_FREQUENCY)),
		})
	}

	return out
}

// paramInit initializes a sndPcmHwParams struct to allow all possible values.
func paramInit(p *sndPcmHwParams) {
	for n := range p.Masks {
		for i := range p.Masks[n].Bits {
			p.Masks[n].Bits[i] = ^uint32(0)
		}
	}
	for n := range p.Mres {
		for i := range p.Mres[n].Bits {
			p.Mres[n].Bits[i] = ^uint32(0)
		}
	}

	for n := range p.Intervals {
		p.Intervals[n] = sndInterval{MaxVal: ^uint32(0)}
	}
	for n := range p.Ires {
		p.Ires[n] = sndInterval{MaxVal: ^uint32(0)}
	}

	p.Rmask = ^uint32(0)
	p.Info = ^uint32(0)
}

func paramSetMask(p *sndPcmHwParams, param PcmParam, bit uint32) {
	if param < SNDRV_PCM_HW_PARAM_ACCESS || param > SNDRV_PCM_HW_PARAM_SUBFORMAT {
		return
	}

	mask := &p.Masks[param-SNDRV_PCM_HW_PARAM_ACCESS]
	clear(mask.Bits[:])
	if bit >= 256 {
		return
	}
	mask.Bits[bit>>5] |= 1 << (bit & 31)
}

func paramSetInt(p *sndPcmHwParams, param PcmParam, val uint32) {
	if param < SNDRV_PCM_HW_PARAM_SAMPLE_BITS || param > SNDRV_PCM_HW_PARAM_TICK_TIME {
		return
	}

	// The interval array index is the parameter value minus the value of the first interval param.
	p.Intervals[param-SNDRV_PCM_HW_PARAM_SAMPLE_BITS] = sndInterval{
		MinVal: val,
		MaxVal: val,
		Flags:  SNDRV_PCM_INTERVAL_INTEGER,
	}
}

// paramGetInt reads the lower bound of an interval, which the driver narrows to the
// final value.
func paramGetInt(p *sndPcmHwParams, param PcmParam) uint32 {
	if param < SNDRV_PCM_HW_PARAM_SAMPLE_BITS || param > SNDRV_PCM_HW_PARAM_TICK_TIME {
		return 0
	}

	return p.Intervals[param-SNDRV_PCM_HW_PARAM_SAMPLE_BITS].MinVal
}
