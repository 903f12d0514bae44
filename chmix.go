package audiodev

// filter is one internal-to-internal stage of a track's conversion chain.
type filter interface {
	// apply converts as many frames from src into dst as both allow and returns the
	// number of frames consumed from src.
	apply(dst, src *Ring[int16]) uint
	// reset drops any state carried between calls.
	reset()
	name() string
}

// channelMixer changes the channel count of internal frames.
type channelMixer struct {
	srcCh, dstCh uint
}

func newChannelMixer(srcCh, dstCh uint) *channelMixer {
	if srcCh == dstCh {
		return nil
	}

	return &channelMixer{srcCh: srcCh, dstCh: dstCh}
}

func (m *channelMixer) name() string { return "chmix" }

func (m *channelMixer) reset() {}

func (m *channelMixer) apply(dst, src *Ring[int16]) uint {
	total := uint(0)
	for {
		n := min(src.HeadFrames(), dst.TailFrames())
		if n == 0 {
			break
		}
		m.mix(dst.Tail()[:n*m.dstCh], src.Head()[:n*m.srcCh], n)
		src.Consume(n)
		_ = dst.Append(n)
		total += n
	}

	return total
}

func (m *channelMixer) mix(d, s []int16, frames uint) {
	si, di := uint(0), uint(0)
	for range frames {
		switch {
		case m.srcCh == 1:
			// Mono goes to the first two outputs, the rest is silent.
			for ch := range m.dstCh {
				if ch < 2 {
					d[di+ch] = s[si]
				} else {
					d[di+ch] = 0
				}
			}
		case m.dstCh == 1:
			sum := int32(0)
			for ch := range m.srcCh {
				sum += int32(s[si+ch])
			}
			d[di] = int16(sum / int32(m.srcCh))
		case m.srcCh > m.dstCh:
			copy(d[di:di+m.dstCh], s[si:si+m.dstCh])
		default:
			copy(d[di:di+m.srcCh], s[si:si+m.srcCh])
			for ch := m.srcCh; ch < m.dstCh; ch++ {
				d[di+ch] = 0
			}
		}
		si += m.srcCh
		di += m.dstCh
	}
}
