package audiodev_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/gen2brain/audiodev"
	"github.com/gen2brain/audiodev/backend/loopback"
)

var (
	user = audiodev.Proc{PID: 100, UID: 1000}

	// hwFormat is the format the default loopback device runs at.
	hwFormat = audiodev.Format{
		Encoding:   audiodev.AUDIO_ENCODING_SLINEAR_LE,
		Precision:  16,
		Stride:     16,
		Channels:   2,
		SampleRate: 48000,
	}
)

// newDevice attaches a device to a new loopback backend.
func newDevice(t *testing.T, cfg *loopback.Config) (*audiodev.Device, *loopback.Device) {
	t.Helper()
	hw := loopback.New(cfg)
	d, err := audiodev.Attach(hw, &audiodev.Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Name:   t.Name(),
	})
	require.NoError(t, err, "Attach should succeed")
	t.Cleanup(func() { _ = d.Detach() })

	return d, hw
}

// openFile opens node and closes it when the test ends.
func openFile(t *testing.T, d *audiodev.Device, node audiodev.Node, flags int) *audiodev.File {
	t.Helper()
	f, err := d.Open(node, flags, user)
	require.NoError(t, err, "Open %s should succeed", node)
	t.Cleanup(func() { _ = f.Close() })

	return f
}

func setPause(t *testing.T, f *audiodev.File, mode audiodev.Mode, pause bool) {
	t.Helper()
	var info audiodev.Info
	audiodev.InitInfo(&info)
	v := uint8(0)
	if pause {
		v = 1
	}
	if mode&audiodev.AUMODE_PLAY != 0 {
		info.Play.Pause = v
	}
	if mode&audiodev.AUMODE_RECORD != 0 {
		info.Record.Pause = v
	}
	require.NoError(t, f.SetInfo(&info))
}

// pcm returns frames stereo frames of the internal format with the given sample values.
func pcm(frames int, l, r int16) []byte {
	p := make([]byte, 4*frames)
	for i := 0; i < len(p); i += 4 {
		p[i], p[i+1] = byte(l), byte(uint16(l)>>8)
		p[i+2], p[i+3] = byte(r), byte(uint16(r)>>8)
	}

	return p
}

func samples(p []byte) []int16 {
	out := make([]int16, len(p)/2)
	for i := range out {
		out[i] = int16(uint16(p[2*i]) | uint16(p[2*i+1])<<8)
	}

	return out
}

// TestScenarios runs the end-to-end playback and open scenarios.
func TestScenarios(t *testing.T) {
	t.Run("PlaybackSilence", testPlaybackSilence)
	t.Run("MulawConversion", testMulawConversion)
	t.Run("DoubleOpen", testDoubleOpen)
	t.Run("DoubleOpenClips", testDoubleOpenClips)
	t.Run("HalfDuplexConflict", testHalfDuplexConflict)
	t.Run("DrainPausedTrack", testDrainPausedTrack)
	t.Run("FlushDuringPlay", testFlushDuringPlay)
}

func testPlaybackSilence(t *testing.T) {
	d, hw := newDevice(t, &loopback.Config{Period: 5 * time.Millisecond})
	f := openFile(t, d, audiodev.NodeAudio, unix.O_WRONLY)

	data := bytes.Repeat([]byte{0xff}, 8000)
	n, err := f.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, f.Drain())

	info, err := f.GetInfo()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, info.Play.Samples, uint64(8000), "every byte was consumed")
	assert.Zero(t, info.Play.Error, "no underruns")
	assert.Zero(t, info.Play.EOF)
	require.NoError(t, f.Close())

	played := hw.PlayedBytes()
	require.NotEmpty(t, played, "the backend received blocks")
	assert.Equal(t, make([]byte, len(played)), played, "mu-law 0xff decodes to zero amplitude")
}

func testMulawConversion(t *testing.T) {
	d, hw := newDevice(t, &loopback.Config{
		Formats: []audiodev.FormatDesc{{
			Mode:      audiodev.AUMODE_PLAY | audiodev.AUMODE_RECORD,
			Encoding:  audiodev.AUDIO_ENCODING_SLINEAR_LE,
			Precision: 16,
			Stride:    16,
			Channels:  2,
			Rates:     []uint{44100},
		}},
	})
	f := openFile(t, d, audiodev.NodeAudio, unix.O_WRONLY)
	require.NoError(t, f.SetFormat(audiodev.AUMODE_PLAY, audiodev.Format{
		Encoding:   audiodev.AUDIO_ENCODING_ULAW,
		Precision:  8,
		Channels:   1,
		SampleRate: 8000,
	}))
	assert.Equal(t, []string{"codec", "chmix", "freq"}, f.TrackFilters(audiodev.AUMODE_PLAY))

	_, err := f.Write(bytes.Repeat([]byte{0x7f}, 8000))
	require.NoError(t, err)
	require.NoError(t, f.Drain())

	// The resampler holds back the final input frame until a successor arrives.
	assert.InDelta(t, 44100, f.TrackFrames(audiodev.AUMODE_PLAY), 16, "one second at 44.1 kHz")

	play, _ := d.Stats()
	assert.Equal(t, uint(44100), play.HWFormat.SampleRate)
	played := hw.PlayedBytes()
	assert.GreaterOrEqual(t, len(played), 44100*4, "88200 samples or more")
	assert.Equal(t, make([]byte, len(played)), played)
	assert.Zero(t, play.Clipped)
}

func testDoubleOpen(t *testing.T) {
	d, hw := newDevice(t, nil)
	a := openFile(t, d, audiodev.NodeAudio, unix.O_WRONLY)
	b := openFile(t, d, audiodev.NodeAudio, unix.O_WRONLY)
	for _, f := range []*audiodev.File{a, b} {
		require.NoError(t, f.SetFormat(audiodev.AUMODE_PLAY, hwFormat))
		setPause(t, f, audiodev.AUMODE_PLAY, true)
	}

	block := 2048
	var wa, wb int
	for range 10 {
		n, err := a.Write(pcm(block/4, 1000, -1000))
		require.NoError(t, err)
		wa += n
		n, err = b.Write(pcm(block/4, 1000, -1000))
		require.NoError(t, err)
		wb += n
	}
	setPause(t, a, audiodev.AUMODE_PLAY, false)
	setPause(t, b, audiodev.AUMODE_PLAY, false)
	require.NoError(t, a.Drain())
	require.NoError(t, b.Drain())

	for f, written := range map[*audiodev.File]int{a: wa, b: wb} {
		info, err := f.GetInfo()
		require.NoError(t, err)
		assert.Equal(t, uint64(written), info.Play.Samples)
		assert.Zero(t, info.Play.Seek)
	}

	mixed := false
	for _, s := range samples(hw.PlayedBytes()) {
		switch s {
		case 2000, -2000:
			mixed = true
		case 0, 1000, -1000:
		default:
			t.Fatalf("unexpected sample %d", s)
		}
	}
	assert.True(t, mixed, "both streams were summed")

	play, _ := d.Stats()
	assert.Zero(t, play.Clipped, "2000 is within full scale")
}

func testDoubleOpenClips(t *testing.T) {
	d, _ := newDevice(t, nil)
	a := openFile(t, d, audiodev.NodeAudio, unix.O_WRONLY)
	b := openFile(t, d, audiodev.NodeAudio, unix.O_WRONLY)
	for _, f := range []*audiodev.File{a, b} {
		require.NoError(t, f.SetFormat(audiodev.AUMODE_PLAY, hwFormat))
		setPause(t, f, audiodev.AUMODE_PLAY, true)
		_, err := f.Write(pcm(4*512, 30000, -30000))
		require.NoError(t, err)
	}
	setPause(t, a, audiodev.AUMODE_PLAY, false)
	setPause(t, b, audiodev.AUMODE_PLAY, false)
	require.NoError(t, a.Drain())
	require.NoError(t, b.Drain())

	play, _ := d.Stats()
	assert.NotZero(t, play.Clipped)
}

func testHalfDuplexConflict(t *testing.T) {
	d, _ := newDevice(t, &loopback.Config{Props: audiodev.AUDIO_PROP_PLAYBACK | audiodev.AUDIO_PROP_CAPTURE})
	r := openFile(t, d, audiodev.NodeAudio, unix.O_RDONLY)
	assert.Equal(t, audiodev.AUMODE_RECORD, r.Mode())

	other := audiodev.Proc{PID: 200, UID: user.UID}
	_, err := d.Open(audiodev.NodeAudio, unix.O_WRONLY, other)
	assert.ErrorIs(t, err, audiodev.ErrNoDevice)
	assert.Equal(t, unix.ENODEV, audiodev.Errno(err))

	require.NoError(t, r.Close())
	w, err := d.Open(audiodev.NodeAudio, unix.O_WRONLY, other)
	require.NoError(t, err, "the play direction is free once the recorder is gone")
	require.NoError(t, w.Close())
}

func testDrainPausedTrack(t *testing.T) {
	d, hw := newDevice(t, nil)
	f, err := d.Open(audiodev.NodeAudio, unix.O_WRONLY, user)
	require.NoError(t, err)
	setPause(t, f, audiodev.AUMODE_PLAY, true)

	_, err = f.Write([]byte{1, 2, 3, 4})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, f.Close())
	assert.Less(t, time.Since(start), 100*time.Millisecond, "close returns promptly")
	assert.Zero(t, hw.Counters().OutputStarts, "the hardware was never started")
}

func testFlushDuringPlay(t *testing.T) {
	d, _ := newDevice(t, &loopback.Config{Period: 5 * time.Millisecond})
	f := openFile(t, d, audiodev.NodeAudio, unix.O_WRONLY)
	require.NoError(t, f.SetFormat(audiodev.AUMODE_PLAY, hwFormat))

	_, err := f.Write(pcm(12*512, 100, 100))
	require.NoError(t, err)
	play, _ := d.Stats()
	require.Equal(t, audiodev.MixerRunning, play.State)

	require.NoError(t, f.Flush())
	flushed, _ := d.Stats()
	info, err := f.GetBufInfo()
	require.NoError(t, err)
	assert.Zero(t, info.Play.Seek)
	samples := info.Play.Samples

	assert.Eventually(t, func() bool {
		play, _ := d.Stats()
		return play.State == audiodev.MixerIdle
	}, time.Second, time.Millisecond, "the mixer goes idle after the playing block")
	play, _ = d.Stats()
	assert.LessOrEqual(t, play.HWSeq-flushed.HWSeq, uint64(1), "only the block in flight is played after a flush")

	info, err = f.GetBufInfo()
	require.NoError(t, err)
	assert.Equal(t, samples, info.Play.Samples, "samples are not reset by a flush")
	assert.Zero(t, info.Play.Error)
}

// TestProperties checks what must hold for any stream.
func TestProperties(t *testing.T) {
	t.Run("ByteAccounting", testByteAccounting)
	t.Run("RoundTrip", testRoundTrip)
	t.Run("IdempotentSetInfo", testIdempotentSetInfo)
	t.Run("StickyVsReset", testStickyVsReset)
	t.Run("ModeMask", testModeMask)
	t.Run("NoopChain", testNoopChain)
	t.Run("BoundedLatency", testBoundedLatency)
}

func testByteAccounting(t *testing.T) {
	d, _ := newDevice(t, nil)
	f := openFile(t, d, audiodev.NodeAudio, unix.O_WRONLY)
	require.NoError(t, f.SetFormat(audiodev.AUMODE_PLAY, hwFormat))

	written := uint64(0)
	rng := rand.New(rand.NewSource(1))
	for range 40 {
		n, err := f.Write(make([]byte, 1+rng.Intn(3000)))
		require.NoError(t, err)
		written += uint64(n)

		info, err := f.GetBufInfo()
		require.NoError(t, err)
		require.GreaterOrEqual(t, written, uint64(info.Play.Seek))
		require.Equal(t, written-uint64(info.Play.Seek), info.Play.Samples)
	}

	seek, err := f.WSeek()
	require.NoError(t, err)
	assert.LessOrEqual(t, uint64(seek), written)
}

func testRoundTrip(t *testing.T) {
	d, hw := newDevice(t, nil)
	f := openFile(t, d, audiodev.NodeAudio, unix.O_WRONLY)
	require.NoError(t, f.SetFormat(audiodev.AUMODE_PLAY, hwFormat))

	data := make([]byte, 10*2048)
	rand.New(rand.NewSource(2)).Read(data)
	_, err := f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Drain())

	played := hw.PlayedBytes()
	require.GreaterOrEqual(t, len(played), len(data))
	assert.Equal(t, data, played[:len(data)], "every byte leaves unchanged and in order")
}

func testIdempotentSetInfo(t *testing.T) {
	d, _ := newDevice(t, nil)
	f := openFile(t, d, audiodev.NodeAudio, unix.O_WRONLY)

	var info audiodev.Info
	audiodev.InitInfo(&info)
	info.Play.Encoding = audiodev.AUDIO_ENCODING_SLINEAR_BE
	info.Play.Precision = 16
	info.Play.SampleRate = 22050
	info.Play.Channels = 2
	info.Play.Gain = 200
	info.Play.Balance = 20

	first := info
	require.NoError(t, f.SetInfo(&first))
	before, err := f.GetInfo()
	require.NoError(t, err)

	second := info
	require.NoError(t, f.SetInfo(&second))
	after, err := f.GetInfo()
	require.NoError(t, err)

	assert.Equal(t, before, after)
	assert.Equal(t, first, second, "SETINFO returns the resulting state")
	assert.Equal(t, uint(200), after.Play.Gain)
	assert.Equal(t, uint8(20), after.Play.Balance)
}

func testStickyVsReset(t *testing.T) {
	d, _ := newDevice(t, nil)
	sticky := audiodev.Format{
		Encoding:   audiodev.AUDIO_ENCODING_SLINEAR_LE,
		Precision:  16,
		Stride:     16,
		Channels:   2,
		SampleRate: 44100,
	}

	f, err := d.Open(audiodev.NodeSound, unix.O_WRONLY, user)
	require.NoError(t, err)
	require.NoError(t, f.SetFormat(audiodev.AUMODE_PLAY, sticky))
	setPause(t, f, audiodev.AUMODE_PLAY, true)
	require.NoError(t, f.Close())

	audio := openFile(t, d, audiodev.NodeAudio, unix.O_WRONLY)
	info, err := audio.GetInfo()
	require.NoError(t, err)
	assert.Equal(t, audiodev.AUDIO_ENCODING_ULAW, info.Play.Encoding, "/dev/audio resets to the default")
	assert.Equal(t, uint(8000), info.Play.SampleRate)
	assert.Equal(t, uint(1), info.Play.Channels)
	assert.Zero(t, info.Play.Pause)
	require.NoError(t, audio.Close())

	sound := openFile(t, d, audiodev.NodeSound, unix.O_WRONLY)
	info, err = sound.GetInfo()
	require.NoError(t, err)
	assert.Equal(t, sticky.Encoding, info.Play.Encoding, "/dev/sound inherits the last format")
	assert.Equal(t, sticky.SampleRate, info.Play.SampleRate)
	assert.Equal(t, sticky.Channels, info.Play.Channels)
	assert.Equal(t, uint8(1), info.Play.Pause)

	// /dev/audioctl has no tracks and reports the sticky parameters.
	ctl := openFile(t, d, audiodev.NodeAudioCtl, unix.O_RDONLY)
	info, err = ctl.GetInfo()
	require.NoError(t, err)
	assert.Equal(t, sticky.SampleRate, info.Play.SampleRate)
	assert.Zero(t, info.Play.Open)
}

func testModeMask(t *testing.T) {
	full := audiodev.AUDIO_PROP_FULLDUPLEX | audiodev.AUDIO_PROP_PLAYBACK | audiodev.AUDIO_PROP_CAPTURE
	half := audiodev.AUDIO_PROP_PLAYBACK | audiodev.AUDIO_PROP_CAPTURE
	play := audiodev.AUMODE_PLAY | audiodev.AUMODE_PLAY_ALL

	testCases := map[string]struct {
		props audiodev.Props
		flags int
		want  audiodev.Mode
	}{
		"full wronly":     {full, unix.O_WRONLY, play},
		"full rdonly":     {full, unix.O_RDONLY, audiodev.AUMODE_RECORD},
		"full rdwr":       {full, unix.O_RDWR, play | audiodev.AUMODE_RECORD},
		"half wronly":     {half, unix.O_WRONLY, play},
		"half rdonly":     {half, unix.O_RDONLY, audiodev.AUMODE_RECORD},
		"half rdwr":       {half, unix.O_RDWR, play},
		"capture rdwr":    {audiodev.AUDIO_PROP_CAPTURE, unix.O_RDWR, audiodev.AUMODE_RECORD},
		"playback rdonly": {audiodev.AUDIO_PROP_PLAYBACK, unix.O_RDONLY, 0},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			d, _ := newDevice(t, &loopback.Config{Props: tc.props})
			f, err := d.Open(audiodev.NodeAudio, tc.flags, user)
			if tc.want == 0 {
				assert.ErrorIs(t, err, audiodev.ErrNoDevice)
				return
			}
			require.NoError(t, err)
			defer f.Close()

			assert.Equal(t, tc.want, f.Mode())
			info, err := f.GetInfo()
			require.NoError(t, err)
			assert.Equal(t, tc.want, info.Mode)
		})
	}
}

func testNoopChain(t *testing.T) {
	d, _ := newDevice(t, nil)
	f := openFile(t, d, audiodev.NodeAudio, unix.O_RDWR)
	require.NoError(t, f.SetFormat(audiodev.AUMODE_PLAY|audiodev.AUMODE_RECORD, hwFormat))

	assert.Empty(t, f.TrackFilters(audiodev.AUMODE_PLAY))
	assert.Empty(t, f.TrackFilters(audiodev.AUMODE_RECORD))

	require.NoError(t, f.SetFormat(audiodev.AUMODE_RECORD, audiodev.Format{
		Encoding:   audiodev.AUDIO_ENCODING_ALAW,
		Precision:  8,
		Channels:   1,
		SampleRate: 16000,
	}))
	assert.Equal(t, []string{"freq", "chmix", "codec"}, f.TrackFilters(audiodev.AUMODE_RECORD))
	assert.Empty(t, f.TrackFilters(audiodev.AUMODE_PLAY), "the play track is untouched")
}

func testBoundedLatency(t *testing.T) {
	d, hw := newDevice(t, &loopback.Config{Period: 10 * time.Millisecond})
	f := openFile(t, d, audiodev.NodeAudio, unix.O_WRONLY)
	require.NoError(t, f.SetFormat(audiodev.AUMODE_PLAY, hwFormat))

	blocks, err := d.Sysctl(audiodev.SysctlUsrbufBlocks)
	require.NoError(t, err)
	bound := time.Duration(blocks+3) * 11 * time.Millisecond

	start := time.Now()
	_, err = f.Write(pcm(512, 1, 1))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(hw.Played()) > 0 }, bound, time.Millisecond)
	assert.Less(t, time.Since(start), bound)
}

// TestLifecycle covers errors, suspend and detach.
func TestLifecycle(t *testing.T) {
	t.Run("Multiuser", testMultiuser)
	t.Run("HardwareFailure", testHardwareFailure)
	t.Run("Nonblocking", testNonblocking)
	t.Run("DrainInterrupted", testDrainInterrupted)
	t.Run("SuspendResume", testSuspendResume)
	t.Run("Detach", testDetach)
	t.Run("DetachWakesWriter", testDetachWakesWriter)
	t.Run("CloseTwice", testCloseTwice)
	t.Run("EOFCounter", testEOFCounter)
	t.Run("FullDuplexOpensBoth", testFullDuplexOpensBoth)
}

func testFullDuplexOpensBoth(t *testing.T) {
	d, hw := newDevice(t, &loopback.Config{Source: loopback.SourceTone})
	w := openFile(t, d, audiodev.NodeAudio, unix.O_WRONLY)
	assert.Equal(t, audiodev.AUMODE_PLAY|audiodev.AUMODE_RECORD, hw.OpenMode(), "a later open may record")

	r := openFile(t, d, audiodev.NodeAudio, unix.O_RDONLY)
	n, err := r.Read(make([]byte, 64))
	require.NoError(t, err)
	assert.Positive(t, n)

	_, err = w.Write(make([]byte, 64))
	require.NoError(t, err)

	t.Run("HalfDuplex", func(t *testing.T) {
		d, hw := newDevice(t, &loopback.Config{Props: audiodev.AUDIO_PROP_PLAYBACK | audiodev.AUDIO_PROP_CAPTURE})
		openFile(t, d, audiodev.NodeAudio, unix.O_RDWR)
		assert.Equal(t, audiodev.AUMODE_PLAY, hw.OpenMode())
	})
}

func testMultiuser(t *testing.T) {
	d, _ := newDevice(t, nil)
	openFile(t, d, audiodev.NodeAudio, unix.O_WRONLY)

	_, err := d.Open(audiodev.NodeAudio, unix.O_WRONLY, audiodev.Proc{PID: 300, UID: 1001})
	assert.ErrorIs(t, err, audiodev.ErrAlreadyOpen)
	assert.Equal(t, unix.EPERM, audiodev.Errno(err))

	root, err := d.Open(audiodev.NodeAudio, unix.O_WRONLY, audiodev.Proc{PID: 1, UID: 0})
	require.NoError(t, err, "root may always open")
	require.NoError(t, root.Close())

	ctl, err := d.Open(audiodev.NodeAudioCtl, unix.O_RDONLY, audiodev.Proc{PID: 300, UID: 1001})
	require.NoError(t, err, "audioctl opens no tracks")
	require.NoError(t, ctl.Close())

	require.NoError(t, d.SetSysctl(audiodev.SysctlMultiuser, 1))
	other, err := d.Open(audiodev.NodeAudio, unix.O_WRONLY, audiodev.Proc{PID: 300, UID: 1001})
	require.NoError(t, err)
	require.NoError(t, other.Close())
}

func testHardwareFailure(t *testing.T) {
	d, hw := newDevice(t, nil)
	hw.FailOutput(unix.EIO)
	f, err := d.Open(audiodev.NodeAudio, unix.O_WRONLY, user)
	require.NoError(t, err)

	_, err = f.Write(make([]byte, 1000))
	require.NoError(t, err, "the data was accepted before the failure")
	_, err = f.Write(make([]byte, 1000))
	assert.ErrorIs(t, err, audiodev.ErrIO)
	assert.Equal(t, int16(unix.POLLERR), f.Poll(unix.POLLOUT)&unix.POLLERR)
	assert.ErrorIs(t, f.Drain(), audiodev.ErrIO)
	require.NoError(t, f.Close())

	hw.FailOutput(nil)
	g := openFile(t, d, audiodev.NodeAudio, unix.O_WRONLY)
	_, err = g.Write(make([]byte, 1000))
	require.NoError(t, err)
	assert.NoError(t, g.Drain(), "a new open starts from a clean state")
}

func testNonblocking(t *testing.T) {
	// No block ever completes, so nothing is consumed or captured.
	d, _ := newDevice(t, &loopback.Config{Period: time.Hour})
	f := openFile(t, d, audiodev.NodeAudio, unix.O_RDWR|unix.O_NONBLOCK)
	setPause(t, f, audiodev.AUMODE_PLAY|audiodev.AUMODE_RECORD, true)

	info, err := f.GetInfo()
	require.NoError(t, err)
	size := int(info.Play.BufferSize)

	n, err := f.Write(make([]byte, size+100))
	require.NoError(t, err)
	assert.Equal(t, size, n, "a short count instead of blocking")
	_, err = f.Write(make([]byte, 10))
	assert.ErrorIs(t, err, audiodev.ErrWouldBlock)
	assert.Equal(t, unix.EAGAIN, audiodev.Errno(err))
	assert.Zero(t, f.Poll(unix.POLLOUT))

	_, err = f.Read(make([]byte, 16))
	assert.ErrorIs(t, err, audiodev.ErrWouldBlock)

	require.NoError(t, f.SetNonblock(false))
	require.NoError(t, f.Flush())
	assert.Equal(t, int16(unix.POLLOUT), f.Poll(unix.POLLOUT))
	assert.Equal(t, int16(audiodev.POLLWRNORM), f.Poll(audiodev.POLLWRNORM))
}

func testDrainInterrupted(t *testing.T) {
	d, _ := newDevice(t, &loopback.Config{Period: 200 * time.Millisecond})
	f := openFile(t, d, audiodev.NodeAudio, unix.O_WRONLY)
	_, err := f.Write(make([]byte, 500))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = f.DrainContext(ctx)
	assert.ErrorIs(t, err, audiodev.ErrInterrupted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, unix.EINTR, audiodev.Errno(err))
	require.NoError(t, f.Flush())
}

func testSuspendResume(t *testing.T) {
	d, hw := newDevice(t, nil)
	m := openFile(t, d, audiodev.NodeMixer, unix.O_RDWR)
	require.NoError(t, m.MixerWrite(&audiodev.MixerCtrl{
		Dev:    loopback.OutputsMaster,
		Type:   audiodev.AUDIO_MIXER_VALUE,
		Levels: []uint8{100, 120},
	}))

	f := openFile(t, d, audiodev.NodeAudio, unix.O_WRONLY)
	require.NoError(t, f.SetFormat(audiodev.AUMODE_PLAY, hwFormat))
	_, err := f.Write(pcm(8*512, 5, 5))
	require.NoError(t, err)

	require.NoError(t, d.Suspend())
	play, _ := d.Stats()
	assert.Equal(t, audiodev.MixerIdle, play.State)

	// Power loss resets the hardware controls.
	hw.SetControl(audiodev.MixerCtrl{Dev: loopback.OutputsMaster, Type: audiodev.AUDIO_MIXER_VALUE, Levels: []uint8{0, 0}})
	commits := hw.Counters().Commits

	require.NoError(t, d.Resume())
	assert.Equal(t, []uint8{100, 120}, hw.Control(loopback.OutputsMaster).Levels)
	assert.Equal(t, commits+1, hw.Counters().Commits)
	require.NoError(t, f.Drain(), "playback continues after resume")
}

func testDetach(t *testing.T) {
	d, hw := newDevice(t, nil)
	f, err := d.Open(audiodev.NodeAudio, unix.O_WRONLY, user)
	require.NoError(t, err)

	require.NoError(t, d.Detach())
	assert.False(t, hw.IsOpen())

	_, err = f.Write([]byte{1})
	assert.ErrorIs(t, err, audiodev.ErrDeviceGone)
	assert.Equal(t, unix.ENXIO, audiodev.Errno(err))
	assert.Equal(t, int16(unix.POLLNVAL), f.Poll(unix.POLLOUT))

	_, err = d.Open(audiodev.NodeAudio, unix.O_WRONLY, user)
	assert.ErrorIs(t, err, audiodev.ErrDeviceGone)
	assert.NoError(t, f.Close())
	assert.NoError(t, d.Detach(), "detach is idempotent")
}

func testDetachWakesWriter(t *testing.T) {
	d, _ := newDevice(t, nil)
	f := openFile(t, d, audiodev.NodeAudio, unix.O_WRONLY)
	setPause(t, f, audiodev.AUMODE_PLAY, true)

	errc := make(chan error, 1)
	go func() {
		_, err := f.Write(make([]byte, 1<<20))
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, d.Detach())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, audiodev.ErrIO)
	case <-time.After(time.Second):
		t.Fatal("blocked writer was not woken by detach")
	}
}

func testCloseTwice(t *testing.T) {
	d, _ := newDevice(t, nil)
	f, err := d.Open(audiodev.NodeAudio, unix.O_WRONLY, user)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.ErrorIs(t, f.Close(), audiodev.ErrBadDescriptor)
	_, err = f.GetInfo()
	assert.ErrorIs(t, err, audiodev.ErrBadDescriptor)
	assert.Equal(t, unix.EBADF, audiodev.Errno(err))
}

func testEOFCounter(t *testing.T) {
	d, _ := newDevice(t, nil)
	f := openFile(t, d, audiodev.NodeAudio, unix.O_WRONLY)

	for range 3 {
		n, err := f.Write(nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	}
	info, err := f.GetInfo()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), info.Play.EOF)

	_, err = f.Read(make([]byte, 8))
	assert.ErrorIs(t, err, audiodev.ErrBadDescriptor, "not open for recording")
}
