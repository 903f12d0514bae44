package audiodev

import (
	"fmt"
	"time"
)

const (
	// AUDIO_MID_BALANCE is the centre of the 0..64 balance range.
	AUDIO_MID_BALANCE = 32
	// AUDIO_MAX_VOLUME is the inner track volume for unity gain.
	AUDIO_MAX_VOLUME = 256
)

// volumeToInner maps an outer gain 0..255 to the inner track volume 0..256.
func volumeToInner(v uint) uint {
	if v < 127 {
		return v
	}

	return v + 1
}

// volumeToOuter maps an inner track volume 0..256 to the outer gain 0..255.
func volumeToOuter(v uint) uint {
	if v < 127 {
		return v
	}

	return v - 1
}

// Track is one open's stream in one direction.
//
// Playback: user ring -> [decode] -> [chmix] -> [freq] -> internal ring -> mixer.
// Record: mixer -> internal ring -> [freq] -> [chmix] -> [encode] -> user ring.
type Track struct {
	id    int
	mixer *trackMixer
	mode  Mode // AUMODE_PLAY or AUMODE_RECORD.

	usrfmt       Format
	usrbuf       *Ring[byte]
	usrBlkFrames uint

	// rings[0] feeds filters[0], whose output is rings[1], and so on. On playback the last
	// ring is intbuf; on record the first one is.
	dec     *decodeStage
	enc     *encodeStage
	filters []filter
	rings   []*Ring[int16]
	intbuf  *Ring[int16]

	// passthrough tracks carry a compressed bitstream that bypasses conversion and mixing.
	passthrough bool

	sub     [AUDIO_MAX_CHANNELS * 4]byte
	subUsed int

	paused   bool
	playAll  bool
	volume   uint
	balance  uint
	started  bool
	draining bool

	inputCounter  uint64 // User bytes accepted (playback) or produced (record).
	outputCounter uint64 // Internal frames taken by (playback) or given from (record) the mixer.
	usrOut        uint64 // User bytes that left the user ring.
	dropFrames    uint64
	eof           uint64
	seq           uint64
	blocks        uint64

	wq waitq
}

// newTrack creates a track attached to mixer with the default user format.
func newTrack(m *trackMixer, mode Mode, id int) (*Track, error) {
	t := &Track{
		id:      id,
		mixer:   m,
		mode:    mode,
		volume:  AUDIO_MAX_VOLUME,
		balance: AUDIO_MID_BALANCE,
	}
	if err := t.setFormat(DefaultFormat); err != nil {
		return nil, err
	}

	return t, nil
}

// Format returns the user format of the track.
func (t *Track) Format() Format {
	return t.usrfmt
}

// Filters returns the names of the conversion stages, in data flow order.
func (t *Track) Filters() []string {
	var names []string
	if t.dec != nil {
		names = append(names, "codec")
	}
	for _, f := range t.filters {
		names = append(names, f.name())
	}
	if t.enc != nil {
		names = append(names, "codec")
	}

	return names
}

// blockBytes returns the size of one mixer block in user format bytes.
func (t *Track) blockBytes() uint {
	return t.usrfmt.FramesToBytes(t.usrBlkFrames)
}

// setFormat validates f, rebuilds the conversion chain and resizes the rings.
// Buffered data is discarded. The caller holds both device locks when the track is live.
func (t *Track) setFormat(f Format) error {
	f = f.normalize()
	m := t.mixer
	mixfmt := m.trackFormat()

	if f.Encoding.IsCompressed() {
		return t.setPassthrough(f)
	}
	if err := f.Validate(); err != nil {
		return err
	}

	var (
		dec     *decodeStage
		enc     *encodeStage
		filters []filter
		rings   []*Ring[int16]
	)

	usrBlkFrames := (m.fpb*f.SampleRate + mixfmt.SampleRate - 1) / mixfmt.SampleRate
	if align := f.FrameAlign(); usrBlkFrames%align != 0 {
		usrBlkFrames += align - usrBlkFrames%align
	}

	chmix := newChannelMixer(f.Channels, mixfmt.Channels)
	if t.mode == AUMODE_RECORD {
		chmix = newChannelMixer(mixfmt.Channels, f.Channels)
	}
	freq := newResampler(mixfmt.Channels, f.SampleRate, mixfmt.SampleRate)
	if t.mode == AUMODE_RECORD {
		freq = newResampler(mixfmt.Channels, mixfmt.SampleRate, f.SampleRate)
	}

	intbuf := newRing[int16](mixfmt, m.fpb)
	if t.mode == AUMODE_PLAY {
		d, err := newDecoder(f)
		if err != nil {
			return err
		}
		if d != nil {
			dec = &decodeStage{dec: d}
		}
		rings = append(rings, newRing[int16](internalFormat(f.Channels, f.SampleRate), usrBlkFrames))
		if chmix != nil {
			filters = append(filters, chmix)
			rings = append(rings, newRing[int16](internalFormat(mixfmt.Channels, f.SampleRate), usrBlkFrames))
		}
		if freq != nil {
			filters = append(filters, freq)
			rings = append(rings, intbuf)
		}
		// Without a rate change the last ring already has the mixer format.
		rings[len(rings)-1] = intbuf
	} else {
		e, err := newEncoder(f)
		if err != nil {
			return err
		}
		if e != nil {
			enc = &encodeStage{enc: e}
		}
		rings = append(rings, intbuf)
		if freq != nil {
			filters = append(filters, freq)
			rings = append(rings, newRing[int16](internalFormat(mixfmt.Channels, f.SampleRate), usrBlkFrames))
		}
		if chmix != nil {
			filters = append(filters, chmix)
			rings = append(rings, newRing[int16](internalFormat(f.Channels, f.SampleRate), usrBlkFrames))
		}
	}

	t.usrfmt = f
	t.usrBlkFrames = usrBlkFrames
	t.usrbuf = newRing[byte](f, usrBlkFrames*m.dev.usrBlocks())
	t.dec, t.enc = dec, enc
	t.filters = filters
	t.rings = rings
	t.intbuf = intbuf
	t.passthrough = false
	t.subUsed = 0
	t.started = false

	return nil
}

// setPassthrough configures the track to carry an undecoded bitstream. Frames are bytes.
func (t *Track) setPassthrough(f Format) error {
	if t.mode != AUMODE_PLAY {
		return fmt.Errorf("%s recording: %w", f.Encoding, ErrUnsupportedFormat)
	}
	if f.Channels < 1 || f.Channels > AUDIO_MAX_CHANNELS {
		return fmt.Errorf("invalid channels %d: %w", f.Channels, ErrInvalidParameter)
	}
	if f.SampleRate < AUDIO_MIN_FREQUENCY || f.SampleRate > AUDIO_MAX_FREQUENCY {
		return fmt.Errorf("invalid sample rate %d: %w", f.SampleRate, ErrInvalidParameter)
	}

	m := t.mixer
	blk := m.blockBytes()
	raw := Format{Encoding: f.Encoding, Precision: 8, Stride: 8, Channels: 1, SampleRate: f.SampleRate}

	t.usrfmt = f
	t.usrBlkFrames = blk
	t.usrbuf = newRing[byte](raw, blk*t.mixer.dev.usrBlocks())
	t.dec, t.enc = nil, nil
	t.filters = nil
	t.rings = nil
	t.intbuf = newRing[int16](m.trackFormat(), m.fpb)
	t.passthrough = true
	t.subUsed = 0
	t.started = false

	return nil
}

// clear discards all buffered data and filter state.
func (t *Track) clear() {
	t.usrbuf.Reset()
	for _, r := range t.rings {
		r.Reset()
	}
	t.intbuf.Reset()
	for _, f := range t.filters {
		f.reset()
	}
	if c, ok := t.decoderState(); ok {
		c.reset()
	}
	t.subUsed = 0
	t.started = false
	t.draining = false
}

func (t *Track) decoderState() (*adpcmCodec, bool) {
	if t.dec != nil {
		if c, ok := t.dec.dec.(*adpcmCodec); ok {
			return c, true
		}
	}
	if t.enc != nil {
		if c, ok := t.enc.enc.(*adpcmCodec); ok {
			return c, true
		}
	}

	return nil, false
}

// enqueue copies user bytes into the user ring and returns how many were taken.
// A trailing partial frame is held back until the rest of it arrives.
func (t *Track) enqueue(p []byte) int {
	fb := int(t.usrbuf.fmt.FramesToBytes(t.usrbuf.fmt.FrameAlign()))
	align := t.usrbuf.fmt.FrameAlign()
	n := 0

	if t.subUsed > 0 {
		if t.usrbuf.Free() < align {
			return 0
		}
		c := copy(t.sub[t.subUsed:fb], p)
		t.subUsed += c
		n += c
		p = p[c:]
		if t.subUsed < fb {
			t.inputCounter += uint64(n)
			return n
		}
		writeRing(t.usrbuf, t.sub[:fb])
		t.subUsed = 0
	}

	w := writeRing(t.usrbuf, p)
	n += w
	p = p[w:]
	if len(p) > 0 && len(p) < fb && t.usrbuf.Free() >= align {
		t.subUsed = copy(t.sub[:], p)
		n += t.subUsed
	}
	t.inputCounter += uint64(n)

	return n
}

// dequeue copies recorded bytes out of the user ring.
func (t *Track) dequeue(p []byte) int {
	n := readRing(t.usrbuf, p)
	t.usrOut += uint64(n)

	return n
}

// chainEmpty reports whether no frames wait between the user ring and the mixer.
func (t *Track) chainEmpty() bool {
	for _, r := range t.rings {
		if r.Used() > 0 {
			return false
		}
	}

	return t.intbuf.Used() == 0
}

// runFilters advances data through the internal stages once and reports whether anything moved.
func (t *Track) runFilters() bool {
	moved := false
	for i, f := range t.filters {
		if f.apply(t.rings[i+1], t.rings[i]) > 0 {
			moved = true
		}
	}

	return moved
}

// pull fills the internal ring from the user ring through the chain.
// Called from the mixer tick with the interrupt lock held.
func (t *Track) pull() {
	used := t.usrbuf.Bytes()
	defer func() { t.usrOut += uint64(used - t.usrbuf.Bytes()) }()

	for t.intbuf.Free() > 0 {
		before := t.intbuf.Used()
		moved := false
		if t.dec != nil {
			moved = t.dec.apply(t.rings[0], t.usrbuf) > 0
		} else {
			moved = copyIn(t.rings[0], t.usrbuf) > 0
		}
		if t.runFilters() {
			moved = true
		}
		if !moved && t.intbuf.Used() == before {
			break
		}
	}
}

// push moves frames from the internal ring through the chain into the user ring.
// When the user ring is full its oldest data is dropped and counted.
func (t *Track) push() {
	last := t.rings[len(t.rings)-1]
	for {
		moved := t.runFilters()
		if last.Used() > 0 && t.usrbuf.Free() == 0 {
			drop := min(t.usrBlkFrames, t.usrbuf.Used())
			t.usrbuf.Consume(drop)
			t.dropFrames += uint64(drop)
		}
		var n uint
		if t.enc != nil {
			n = t.enc.apply(t.usrbuf, last)
		} else {
			n = copyOut(t.usrbuf, last)
		}
		t.inputCounter += uint64(t.usrbuf.fmt.FramesToBytes(n))
		if !moved && n == 0 {
			break
		}
	}
}

// drainTimeout bounds how long draining the track may take.
func (t *Track) drainTimeout() time.Duration {
	blk := t.mixer.blockDuration()
	if t.passthrough {
		return time.Duration(t.usrbuf.Capacity()/max(t.usrBlkFrames, 1)+4) * blk * 2
	}
	d := time.Duration(t.usrbuf.Capacity()) * time.Second / time.Duration(t.usrfmt.SampleRate) * 2

	return d + 4*blk
}
