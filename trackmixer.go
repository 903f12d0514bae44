package audiodev

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// MixerState is the run state of one direction's track mixer.
type MixerState int

const (
	MixerIdle     MixerState = iota // Hardware stopped.
	MixerRunning                    // Hardware has outstanding blocks and tracks have data.
	MixerDraining                   // No track has data; queued blocks are finishing.
)

var mixerStateNames = map[MixerState]string{
	MixerIdle:     "idle",
	MixerRunning:  "running",
	MixerDraining: "draining",
}

// String returns the name of the state.
func (s MixerState) String() string {
	if name, ok := mixerStateNames[s]; ok {
		return name
	}

	return fmt.Sprintf("state(%d)", int(s))
}

const (
	// hwBlocks is the number of blocks in the hardware ring: one owned by the backend and
	// one being mixed.
	hwBlocks = 2
	// idleBlocks is how many silent blocks are played after the last track ran dry.
	idleBlocks = 2
)

// MixerStats is a snapshot of one track mixer's counters.
type MixerStats struct {
	State          MixerState
	Busy           bool
	HWFormat       Format
	FramesPerBlock uint
	MixSeq         uint64
	HWSeq          uint64
	OutputFrames   uint64 // Frames handed to the backend (playback) or received (record).
	CompleteFrames uint64 // Frames the backend reported as done.
	Clipped        uint64 // Samples saturated while mixing.
}

// trackMixer drives one direction of the hardware. All fields below the lock comment
// are protected by the device interrupt lock.
type trackMixer struct {
	dev   *Device
	mode  Mode
	hwfmt Format
	fpb   uint

	enc encoder
	dec decoder

	// tracks is replaced under the thread lock and read by the completion callbacks.
	tracks atomic.Pointer[[]*Track]

	// Protected by the interrupt lock.
	hwbuf         *Ring[byte]
	accum         []int32
	block         []int16
	state         MixerState
	busy          bool
	suspended     bool
	idle          int
	gen           uint64
	mixseq        uint64
	hwseq         uint64
	outputCounter uint64
	completeCount uint64
	clipped       uint64
	failed        error
}

// blockFrames returns the block size in frames for blkMs milliseconds of f: rounded up
// to a power of two and clamped so a block stays within [128, 65536] bytes.
func blockFrames(f Format, blkMs uint) uint {
	frames := max(f.SampleRate*blkMs/1000, 1)
	p := uint(1)
	for p < frames {
		p <<= 1
	}
	frames = p

	bytes := f.FramesToBytes(frames)
	for bytes < 128 {
		frames <<= 1
		bytes = f.FramesToBytes(frames)
	}
	for bytes > 65536 && frames > 1 {
		frames >>= 1
		bytes = f.FramesToBytes(frames)
	}

	return frames
}

func newTrackMixer(d *Device, mode Mode, hwfmt Format) (*trackMixer, error) {
	m := &trackMixer{
		dev:   d,
		mode:  mode,
		hwfmt: hwfmt,
		fpb:   blockFrames(hwfmt, d.blkMs),
	}

	var err error
	if mode == AUMODE_PLAY {
		m.enc, err = newEncoder(hwfmt)
	} else {
		m.dec, err = newDecoder(hwfmt)
	}
	if err != nil {
		return nil, fmt.Errorf("hardware format %s: %w", hwfmt, err)
	}

	m.hwbuf = newRing[byte](hwfmt, m.fpb*hwBlocks)
	m.accum = make([]int32, m.fpb*hwfmt.Channels)
	m.block = make([]int16, m.fpb*hwfmt.Channels)
	m.tracks.Store(&[]*Track{})

	return m, nil
}

// trackFormat is the internal format every attached track converts to or from.
func (m *trackMixer) trackFormat() Format {
	return internalFormat(m.hwfmt.Channels, m.hwfmt.SampleRate)
}

// blockBytes returns the size of one hardware block in bytes.
func (m *trackMixer) blockBytes() uint {
	return m.hwfmt.FramesToBytes(m.fpb)
}

// blockDuration returns the play time of one block.
func (m *trackMixer) blockDuration() time.Duration {
	return time.Duration(m.fpb) * time.Second / time.Duration(m.hwfmt.SampleRate)
}

func (m *trackMixer) log() *slog.Logger {
	dir := "play"
	if m.mode == AUMODE_RECORD {
		dir = "record"
	}

	return m.dev.log.With("mixer", dir)
}

// attach publishes t to the completion callbacks. Caller holds the thread lock.
func (m *trackMixer) attach(t *Track) {
	old := *m.tracks.Load()
	list := make([]*Track, 0, len(old)+1)
	list = append(list, old...)
	list = append(list, t)
	m.tracks.Store(&list)
}

// detach removes t from the published list. Caller holds the thread lock.
func (m *trackMixer) detach(t *Track) {
	old := *m.tracks.Load()
	list := make([]*Track, 0, len(old))
	for _, o := range old {
		if o != t {
			list = append(list, o)
		}
	}
	m.tracks.Store(&list)
}

func (m *trackMixer) numTracks() int {
	return len(*m.tracks.Load())
}

func (m *trackMixer) wakeTracks() {
	for _, t := range *m.tracks.Load() {
		t.wq.broadcast()
	}
	m.dev.notifyAsync(m.mode)
}

// fail records a backend failure; every blocked and following operation returns ErrIO.
func (m *trackMixer) fail(err error) {
	m.failed = err
	m.busy = false
	m.state = MixerIdle
	m.log().Error("hardware failure", "err", err)
	m.wakeTracks()
}

// stats returns the counters. Caller holds the interrupt lock.
func (m *trackMixer) stats() MixerStats {
	return MixerStats{
		State:          m.state,
		Busy:           m.busy,
		HWFormat:       m.hwfmt,
		FramesPerBlock: m.fpb,
		MixSeq:         m.mixseq,
		HWSeq:          m.hwseq,
		OutputFrames:   m.outputCounter,
		CompleteFrames: m.completeCount,
		Clipped:        m.clipped,
	}
}

// halt stops the hardware. Caller holds the interrupt lock.
func (m *trackMixer) halt() {
	if !m.busy {
		return
	}
	m.busy = false
	m.state = MixerIdle
	m.gen++

	var err error
	if m.mode == AUMODE_PLAY {
		err = m.dev.hw.HaltOutput()
	} else {
		err = m.dev.hw.HaltInput()
	}
	if err != nil {
		m.log().Warn("halt failed", "err", err)
	}
	m.hwbuf.Reset()
	m.log().Debug("mixer idle", "hwseq", m.hwseq)
}

// Playback.

// start begins playback if any track can supply a block. Caller holds the interrupt lock.
func (m *trackMixer) start() {
	if m.failed != nil || m.suspended {
		return
	}
	if m.busy {
		if m.state == MixerDraining {
			m.state = MixerRunning
			m.idle = 0
			m.fill()
		}
		return
	}

	if !m.mixBlock() {
		return
	}
	m.state = MixerRunning
	m.idle = 0
	m.fill()
	m.busy = true
	m.log().Debug("mixer start", "fpb", m.fpb, "format", m.hwfmt.String())
	m.triggerOutput()
}

// flushIdle lets a running mixer go straight to draining once no track has data left.
// Blocks mixed ahead of the one the hardware is playing are dropped unless another track
// than flushed contributed to them, so the next completion halts. Caller holds the
// interrupt lock.
func (m *trackMixer) flushIdle(flushed *Track) {
	if !m.busy || m.state == MixerIdle {
		return
	}
	tracks := *m.tracks.Load()
	playing := m.hwseq + 1
	for _, t := range tracks {
		if !t.paused && (t.usrbuf.Used() > 0 || !t.chainEmpty()) {
			return
		}
		if t != flushed && t.seq > playing {
			playing = t.seq
		}
	}
	m.state = MixerDraining
	m.idle = idleBlocks + 1

	for m.mixseq > playing && m.hwbuf.Used() > m.fpb {
		m.hwbuf.Unappend(m.fpb)
		m.outputCounter -= uint64(m.fpb)
		m.mixseq--
	}
	flushed.seq = min(flushed.seq, m.mixseq)
}

// fill mixes into every free hardware block while there is work.
func (m *trackMixer) fill() {
	for m.hwbuf.Free() >= m.fpb && m.state == MixerRunning {
		if m.mixBlock() {
			m.idle = 0
			continue
		}
		m.idle++
		if m.idle > idleBlocks {
			m.state = MixerDraining
			break
		}
		clear(m.accum)
		m.mixseq++
		m.emit()
	}
}

func (m *trackMixer) triggerOutput() {
	m.gen++
	gen := m.gen
	block := m.hwbuf.Head()[:m.blockBytes()]
	if err := m.dev.hw.StartOutput(block, func() { m.outputDone(gen) }); err != nil {
		m.fail(fmt.Errorf("start output failed: %w", err))
	}
}

// outputDone is the completion callback for one played block.
func (m *trackMixer) outputDone(gen uint64) {
	m.dev.intrLock.Lock()
	defer m.dev.intrLock.Unlock()

	if !m.busy || gen != m.gen {
		return
	}
	m.hwbuf.Consume(m.fpb)
	m.hwseq++
	m.completeCount += uint64(m.fpb)

	m.fill()
	if m.hwbuf.Used() > 0 {
		m.triggerOutput()
	} else {
		m.halt()
	}
	m.wakeTracks()
}

// mixBlock sums one block of every ready track into the next free hardware block and
// reports whether any track contributed.
func (m *trackMixer) mixBlock() bool {
	tracks := *m.tracks.Load()
	for _, t := range tracks {
		if t.passthrough && !t.paused {
			return m.passBlock(t)
		}
	}

	clear(m.accum)
	mixed := 0
	for _, t := range tracks {
		if t.paused {
			continue
		}
		t.pull()
		n := t.intbuf.Used()
		if n < m.fpb {
			switch {
			case t.draining:
				if n == 0 {
					continue
				}
			case t.playAll && t.started:
				if n == 0 {
					continue
				}
				t.dropFrames += uint64(m.fpb - n)
			default:
				continue
			}
		}
		if n > 0 {
			m.addTrack(t, n)
			t.intbuf.Consume(n)
		}
		t.outputCounter += uint64(n)
		t.started = true
		t.blocks++
		t.seq = m.mixseq + 1
		mixed++
	}
	if mixed == 0 {
		return false
	}

	m.mixseq++
	m.emit()

	return true
}

// addTrack accumulates n frames of t with its volume and balance applied.
func (m *trackMixer) addTrack(t *Track, n uint) {
	channels := m.hwfmt.Channels
	src := t.intbuf.Head()[:n*channels]
	acc := m.accum[:n*channels]

	if t.volume == AUDIO_MAX_VOLUME && t.balance == AUDIO_MID_BALANCE {
		for i, s := range src {
			acc[i] += int32(s)
		}
		return
	}

	left, right := int32(AUDIO_MAX_VOLUME), int32(AUDIO_MAX_VOLUME)
	if t.balance < AUDIO_MID_BALANCE {
		right = int32(t.balance) * AUDIO_MAX_VOLUME / AUDIO_MID_BALANCE
	} else if t.balance > AUDIO_MID_BALANCE {
		left = int32(64-t.balance) * AUDIO_MAX_VOLUME / AUDIO_MID_BALANCE
	}
	vol := int32(t.volume)
	for i, s := range src {
		v := int32(s) * vol / AUDIO_MAX_VOLUME
		switch uint(i) % channels {
		case 0:
			v = v * left / AUDIO_MAX_VOLUME
		case 1:
			v = v * right / AUDIO_MAX_VOLUME
		}
		acc[i] += v
	}
}

// emit clips the accumulator and writes it into the hardware ring.
func (m *trackMixer) emit() {
	for i, a := range m.accum {
		if a > 32767 {
			a = 32767
			m.clipped++
		} else if a < -32768 {
			a = -32768
			m.clipped++
		}
		m.block[i] = int16(a)
	}

	dst := m.hwbuf.Tail()[:m.blockBytes()]
	if m.enc != nil {
		m.enc.encode(dst, m.block)
	} else {
		internalToBytes(dst, m.block)
	}
	_ = m.hwbuf.Append(m.fpb)
	m.outputCounter += uint64(m.fpb)
}

// passBlock copies one block of an undecoded bitstream straight into the hardware ring.
func (m *trackMixer) passBlock(t *Track) bool {
	size := m.blockBytes()
	if t.usrbuf.Used() < size && !(t.draining && t.usrbuf.Used() > 0) {
		return false
	}

	dst := m.hwbuf.Tail()[:size]
	n := readRing(t.usrbuf, dst)
	clear(dst[n:])
	_ = m.hwbuf.Append(m.fpb)
	m.outputCounter += uint64(m.fpb)
	m.mixseq++
	t.outputCounter += uint64(n)
	t.usrOut += uint64(n)
	t.started = true
	t.blocks++
	t.seq = m.mixseq

	return true
}

// Recording.

// recording reports whether any attached track wants data.
func (m *trackMixer) recording() bool {
	for _, t := range *m.tracks.Load() {
		if !t.paused {
			return true
		}
	}

	return false
}

// startInput begins capture if a track is waiting for data. Caller holds the interrupt lock.
func (m *trackMixer) startInput() {
	if m.busy || m.failed != nil || m.suspended || !m.recording() {
		return
	}
	m.busy = true
	m.state = MixerRunning
	m.log().Debug("mixer start", "fpb", m.fpb, "format", m.hwfmt.String())
	m.triggerInput()
}

func (m *trackMixer) triggerInput() {
	m.gen++
	gen := m.gen
	block := m.hwbuf.Tail()[:m.blockBytes()]
	if err := m.dev.hw.StartInput(block, func() { m.inputDone(gen) }); err != nil {
		m.fail(fmt.Errorf("start input failed: %w", err))
	}
}

// inputDone is the completion callback for one captured block.
func (m *trackMixer) inputDone(gen uint64) {
	m.dev.intrLock.Lock()
	defer m.dev.intrLock.Unlock()

	if !m.busy || gen != m.gen {
		return
	}
	_ = m.hwbuf.Append(m.fpb)
	m.hwseq++
	m.completeCount += uint64(m.fpb)
	m.outputCounter += uint64(m.fpb)

	src := m.hwbuf.Head()[:m.blockBytes()]
	if m.dec != nil {
		m.dec.decode(m.block, src)
	} else {
		bytesToInternal(m.block, src)
	}
	m.hwbuf.Consume(m.fpb)
	m.distribute()

	if m.recording() {
		m.triggerInput()
	} else {
		m.halt()
	}
	m.wakeTracks()
}

// distribute hands the decoded block to every recording track.
func (m *trackMixer) distribute() {
	channels := m.hwfmt.Channels
	for _, t := range *m.tracks.Load() {
		if t.paused {
			continue
		}
		n := min(t.intbuf.Free(), m.fpb)
		if n < m.fpb {
			t.dropFrames += uint64(m.fpb - n)
		}
		copy(t.intbuf.Tail()[:n*channels], m.block[:n*channels])
		_ = t.intbuf.Append(n)
		t.outputCounter += uint64(n)
		t.blocks++
		t.seq = m.hwseq
		t.push()
	}
}
