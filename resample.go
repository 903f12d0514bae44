package audiodev

import (
	"math/bits"
)

// resampler is a linear interpolating rate converter. The phase is a 32-bit fraction of
// one input frame period and the step is in/out split into an integer and a 32-bit fraction,
// so no floating point is involved.
type resampler struct {
	channels uint
	inRate   uint
	outRate  uint
	stepInt  uint
	stepFrac uint32
	phase    uint32

	// prev is src[i]; the frame at the source head is src[i+1].
	prev   [AUDIO_MAX_CHANNELS]int16
	primed bool
	// skip counts input frames still to be passed over before the next output.
	skip uint
}

func newResampler(channels, inRate, outRate uint) *resampler {
	if inRate == outRate {
		return nil
	}

	return &resampler{
		channels: channels,
		inRate:   inRate,
		outRate:  outRate,
		stepInt:  inRate / outRate,
		stepFrac: uint32((uint64(inRate%outRate) << 32) / uint64(outRate)),
	}
}

func (r *resampler) name() string { return "freq" }

func (r *resampler) reset() {
	r.phase = 0
	r.primed = false
	r.skip = 0
	clear(r.prev[:])
}

func (r *resampler) take(src *Ring[int16]) {
	copy(r.prev[:r.channels], src.Head()[:r.channels])
	src.Consume(1)
}

func (r *resampler) apply(dst, src *Ring[int16]) uint {
	consumed := uint(0)
	if !r.primed {
		if src.Used() == 0 {
			return 0
		}
		r.take(src)
		consumed++
		r.primed = true
	}

	for r.skip > 0 && src.Used() > 0 {
		r.take(src)
		consumed++
		r.skip--
	}
	if r.skip > 0 {
		return consumed
	}

	phase := int64(r.phase)
	for dst.Free() > 0 && src.Used() > 0 {
		cur := src.Head()[:r.channels]
		out := dst.Tail()[:r.channels]
		for ch := range r.channels {
			diff := int64(cur[ch]) - int64(r.prev[ch])
			out[ch] = r.prev[ch] + int16((diff*phase)>>32)
		}
		_ = dst.Append(1)

		frac, carry := bits.Add32(r.phase, r.stepFrac, 0)
		r.phase = frac
		phase = int64(frac)
		adv := r.stepInt + uint(carry)
		for adv > 0 && src.Used() > 0 {
			r.take(src)
			consumed++
			adv--
		}
		if adv > 0 {
			r.skip = adv
			break
		}
	}

	return consumed
}
