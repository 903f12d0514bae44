package audiodev

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hwCall struct {
	block []byte
	done  func()
}

// fakeHW records started blocks; the test completes them by calling done.
type fakeHW struct {
	outs, ins   []hwCall
	outHalts    int
	inHalts     int
	startOutErr error
}

func (h *fakeHW) Open(Mode) error                        { return nil }
func (h *fakeHW) Close() error                           { return nil }
func (h *fakeHW) QueryFormat(int) (FormatDesc, error)    { return FormatDesc{}, ErrInvalidParameter }
func (h *fakeHW) SetFormat(Mode, Format, Format) error   { return nil }
func (h *fakeHW) QueryDevinfo(int) (MixerDevinfo, error) { return MixerDevinfo{}, ErrInvalidParameter }
func (h *fakeHW) GetPort(*MixerCtrl) error               { return ErrInvalidParameter }
func (h *fakeHW) SetPort(*MixerCtrl) error               { return ErrInvalidParameter }
func (h *fakeHW) GetProps() Props                        { return AUDIO_PROP_PLAYBACK | AUDIO_PROP_CAPTURE }
func (h *fakeHW) GetDev() (DeviceInfo, error)            { return DeviceInfo{Name: "fake"}, nil }
func (h *fakeHW) HaltOutput() error                      { h.outHalts++; return nil }
func (h *fakeHW) HaltInput() error                       { h.inHalts++; return nil }

func (h *fakeHW) StartOutput(block []byte, done func()) error {
	if h.startOutErr != nil {
		return h.startOutErr
	}
	h.outs = append(h.outs, hwCall{append([]byte(nil), block...), done})

	return nil
}

func (h *fakeHW) StartInput(block []byte, done func()) error {
	h.ins = append(h.ins, hwCall{block, done})

	return nil
}

func (h *fakeHW) completeOutput() {
	h.outs[len(h.outs)-1].done()
}

// attachTrack adds a playback or record track in the mixer's own format.
func attachTrack(t *testing.T, m *trackMixer) *Track {
	t.Helper()
	tr, err := newTrack(m, m.mode, m.numTracks()+1)
	require.NoError(t, err)
	require.NoError(t, tr.setFormat(Format{AUDIO_ENCODING_SLINEAR_LE, 16, 16, 2, 48000}))
	m.attach(tr)

	return tr
}

func writeFrames(t *testing.T, tr *Track, frames int, l, r int16) {
	t.Helper()
	p := make([]byte, 4*frames)
	for i := 0; i < len(p); i += 4 {
		internalToBytes(p[i:i+4], []int16{l, r})
	}
	require.Equal(t, len(p), tr.enqueue(p))
}

// lastBlock returns the samples of the most recently mixed hardware block.
func lastBlock(m *trackMixer) []int16 {
	return append([]int16(nil), m.block...)
}

func TestMixerVolumeBalance(t *testing.T) {
	m := newTestMixer(t, AUMODE_PLAY)
	tr := attachTrack(t, m)

	writeFrames(t, tr, 512, 1000, 1000)
	tr.volume = 128
	require.True(t, m.mixBlock())
	b := lastBlock(m)
	assert.Equal(t, int16(500), b[0])
	assert.Equal(t, int16(500), b[1])
	m.hwbuf.Reset()

	writeFrames(t, tr, 512, 1000, 1000)
	tr.volume = AUDIO_MAX_VOLUME
	tr.balance = 0
	require.True(t, m.mixBlock())
	b = lastBlock(m)
	assert.Equal(t, int16(1000), b[0], "left stays at full level")
	assert.Equal(t, int16(0), b[1])
	m.hwbuf.Reset()

	writeFrames(t, tr, 512, 1000, 1000)
	tr.balance = 48
	require.True(t, m.mixBlock())
	b = lastBlock(m)
	assert.Equal(t, int16(500), b[0])
	assert.Equal(t, int16(1000), b[1])
}

func TestMixerClips(t *testing.T) {
	m := newTestMixer(t, AUMODE_PLAY)
	a := attachTrack(t, m)
	b := attachTrack(t, m)
	writeFrames(t, a, 512, 30000, -30000)
	writeFrames(t, b, 512, 30000, -30000)

	require.True(t, m.mixBlock())
	blk := lastBlock(m)
	assert.Equal(t, int16(32767), blk[0])
	assert.Equal(t, int16(-32768), blk[1])
	assert.Equal(t, uint64(1024), m.clipped)
	assert.Equal(t, uint64(512), a.outputCounter)
	assert.Equal(t, uint64(1), m.mixseq)
	assert.Equal(t, uint64(1), a.seq)
}

func TestMixerPartialBlock(t *testing.T) {
	m := newTestMixer(t, AUMODE_PLAY)
	tr := attachTrack(t, m)

	writeFrames(t, tr, 100, 1, 1)
	assert.False(t, m.mixBlock(), "a partial block is held")
	assert.Equal(t, uint(100), tr.intbuf.Used())

	tr.playAll = true
	assert.False(t, m.mixBlock(), "not started yet")

	tr.started = true
	require.True(t, m.mixBlock())
	assert.Equal(t, uint64(412), tr.dropFrames)
	assert.Zero(t, tr.intbuf.Used())
	blk := lastBlock(m)
	assert.Equal(t, int16(1), blk[2*99])
	assert.Equal(t, int16(0), blk[2*100], "the rest of the block is silence")
	m.hwbuf.Reset()

	assert.False(t, m.mixBlock(), "an empty track is not mixed")
	assert.Equal(t, uint64(412), tr.dropFrames)

	tr.playAll = false
	tr.draining = true
	writeFrames(t, tr, 10, 1, 1)
	require.True(t, m.mixBlock())
	assert.Equal(t, uint64(412), tr.dropFrames, "drain padding is not counted")

	tr.paused = true
	writeFrames(t, tr, 512, 1, 1)
	m.hwbuf.Reset()
	assert.False(t, m.mixBlock(), "paused tracks are skipped")
}

func TestMixerPlaybackCycle(t *testing.T) {
	m := newTestMixer(t, AUMODE_PLAY)
	hw := m.dev.hw.(*fakeHW)
	tr := attachTrack(t, m)
	writeFrames(t, tr, 3*512, 100, -100)

	m.start()
	require.True(t, m.busy)
	assert.Equal(t, MixerRunning, m.state)
	require.Len(t, hw.outs, 1)
	assert.Equal(t, uint(2*512), m.hwbuf.Used(), "the hardware ring is full")

	// Three blocks of data followed by two blocks of silence.
	for i := 1; i <= 4; i++ {
		hw.completeOutput()
		require.Len(t, hw.outs, i+1)
		assert.Equal(t, uint64(i), m.hwseq)
	}
	assert.Equal(t, MixerDraining, m.state)
	assert.Equal(t, uint64(3), tr.seq)

	hw.completeOutput()
	assert.False(t, m.busy)
	assert.Equal(t, MixerIdle, m.state)
	assert.Equal(t, 1, hw.outHalts)
	assert.Equal(t, uint64(5), m.hwseq)
	assert.Equal(t, uint64(5*512), m.outputCounter)
	assert.Equal(t, uint64(5*512), m.completeCount)

	silent := hw.outs[4].block
	assert.Equal(t, make([]byte, len(silent)), silent)

	// A stale completion is ignored.
	hw.outs[0].done()
	assert.Equal(t, uint64(5), m.hwseq)

	stats := m.stats()
	assert.Equal(t, MixerIdle, stats.State)
	assert.Equal(t, uint(512), stats.FramesPerBlock)
}

func TestMixerFlushIdle(t *testing.T) {
	m := newTestMixer(t, AUMODE_PLAY)
	hw := m.dev.hw.(*fakeHW)
	tr := attachTrack(t, m)
	writeFrames(t, tr, 4*512, 1, 1)

	m.start()
	require.True(t, m.busy)
	require.Equal(t, uint64(2), m.mixseq, "one block playing and one mixed ahead")
	m.flushIdle(tr)
	assert.Equal(t, MixerRunning, m.state, "the track still has data")

	tr.clear()
	m.flushIdle(tr)
	assert.Equal(t, MixerDraining, m.state)
	assert.Equal(t, uint64(1), m.mixseq, "the block mixed ahead is dropped")
	assert.Equal(t, m.fpb, m.hwbuf.Used())
	assert.LessOrEqual(t, tr.seq, m.mixseq)

	hw.completeOutput()
	assert.False(t, m.busy, "the playing block was the last one")
	assert.Equal(t, MixerIdle, m.state)
	assert.Len(t, hw.outs, 1)
	assert.Equal(t, uint64(1), m.hwseq)
}

func TestMixerFlushKeepsOtherTracks(t *testing.T) {
	m := newTestMixer(t, AUMODE_PLAY)
	hw := m.dev.hw.(*fakeHW)
	tr := attachTrack(t, m)
	other := attachTrack(t, m)
	writeFrames(t, tr, 4*512, 1, 1)
	writeFrames(t, other, 2*512, 2, 2)

	m.start()
	require.Equal(t, uint64(2), m.mixseq)
	require.Equal(t, uint64(2), other.seq)

	tr.clear()
	m.flushIdle(tr)
	assert.Equal(t, MixerDraining, m.state)
	assert.Equal(t, uint64(2), m.mixseq, "the other track's last block stays queued")

	hw.completeOutput()
	require.True(t, m.busy)
	hw.completeOutput()
	assert.False(t, m.busy)
	assert.Len(t, hw.outs, 2)
}

func TestMixerStartFailure(t *testing.T) {
	m := newTestMixer(t, AUMODE_PLAY)
	hw := m.dev.hw.(*fakeHW)
	hw.startOutErr = ErrIO
	tr := attachTrack(t, m)
	writeFrames(t, tr, 512, 1, 1)

	m.start()
	assert.ErrorIs(t, m.failed, ErrIO)
	assert.False(t, m.busy)

	// A failed mixer stays down.
	hw.startOutErr = nil
	writeFrames(t, tr, 512, 1, 1)
	m.start()
	assert.Empty(t, hw.outs)
}

func TestMixerRecordCycle(t *testing.T) {
	m := newTestMixer(t, AUMODE_RECORD)
	hw := m.dev.hw.(*fakeHW)
	tr := attachTrack(t, m)

	m.startInput()
	require.True(t, m.busy)
	require.Len(t, hw.ins, 1)

	in := hw.ins[0]
	for i := 0; i < len(in.block); i += 4 {
		internalToBytes(in.block[i:i+4], []int16{7, -7})
	}
	in.done()

	assert.Equal(t, uint64(1), m.hwseq)
	assert.Equal(t, uint(512), tr.usrbuf.Used())
	assert.Equal(t, uint64(1), tr.seq)
	require.Len(t, hw.ins, 2, "capture continues while a track records")

	out := make([]byte, 8)
	require.Equal(t, 8, tr.dequeue(out))
	want := make([]byte, 8)
	internalToBytes(want, []int16{7, -7, 7, -7})
	assert.Equal(t, want, out)

	tr.paused = true
	hw.ins[1].done()
	assert.False(t, m.busy)
	assert.Equal(t, 1, hw.inHalts)
}

func TestMixerRecordOverrun(t *testing.T) {
	m := newTestMixer(t, AUMODE_RECORD)
	hw := m.dev.hw.(*fakeHW)
	tr := attachTrack(t, m)

	m.startInput()
	for range 15 {
		hw.ins[len(hw.ins)-1].done()
	}
	assert.Equal(t, uint(13*512), tr.usrbuf.Used())
	assert.Equal(t, uint64(2*512), tr.dropFrames)
	assert.Equal(t, uint64(15*512), m.completeCount)
}
