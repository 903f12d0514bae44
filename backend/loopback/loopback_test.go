package loopback_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/audiodev"
	"github.com/gen2brain/audiodev/backend/loopback"
)

var stereo = audiodev.Format{
	Encoding:   audiodev.AUDIO_ENCODING_SLINEAR_LE,
	Precision:  16,
	Stride:     16,
	Channels:   2,
	SampleRate: 48000,
}

func openDevice(t *testing.T, cfg *loopback.Config) *loopback.Device {
	t.Helper()
	d := loopback.New(cfg)
	require.NoError(t, d.SetFormat(audiodev.AUMODE_PLAY|audiodev.AUMODE_RECORD, stereo, stereo))
	require.NoError(t, d.Open(audiodev.AUMODE_PLAY|audiodev.AUMODE_RECORD))
	t.Cleanup(func() { _ = d.Close() })

	return d
}

func TestDefaults(t *testing.T) {
	d := loopback.New(nil)
	assert.Equal(t, audiodev.AUDIO_PROP_FULLDUPLEX|audiodev.AUDIO_PROP_PLAYBACK|audiodev.AUDIO_PROP_CAPTURE, d.GetProps())

	desc, err := d.QueryFormat(0)
	require.NoError(t, err)
	assert.True(t, desc.SupportsRate(48000))
	assert.False(t, desc.SupportsRate(8000))
	_, err = d.QueryFormat(1)
	assert.ErrorIs(t, err, audiodev.ErrInvalidParameter)

	dev, err := d.GetDev()
	require.NoError(t, err)
	assert.Equal(t, "loopback", dev.Name)

	require.NoError(t, d.Open(audiodev.AUMODE_PLAY))
	assert.True(t, d.IsOpen())
	assert.ErrorIs(t, d.Open(audiodev.AUMODE_PLAY), audiodev.ErrDeviceBusy)
	assert.Equal(t, audiodev.AUMODE_PLAY, d.OpenMode())
	assert.ErrorIs(t, d.StartInput(make([]byte, 4), func() {}), audiodev.ErrIO, "capture was not opened")
	require.NoError(t, d.Close())
	assert.False(t, d.IsOpen())
	assert.Equal(t, 1, d.Counters().Opens)
}

func TestOutput(t *testing.T) {
	d := openDevice(t, nil)

	done := make(chan struct{}, 1)
	block := []byte{1, 2, 3, 4}
	require.NoError(t, d.StartOutput(block, func() { done <- struct{}{} }))
	block[0] = 9
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("output block never completed")
	}
	assert.Equal(t, [][]byte{{1, 2, 3, 4}}, d.Played(), "the block is copied when started")
	assert.Equal(t, []byte{1, 2, 3, 4}, d.PlayedBytes())

	d.ResetPlayed()
	assert.Empty(t, d.Played())

	t.Run("Halt", func(t *testing.T) {
		d := openDevice(t, &loopback.Config{Period: 20 * time.Millisecond})
		called := make(chan struct{}, 1)
		require.NoError(t, d.StartOutput(make([]byte, 4), func() { called <- struct{}{} }))
		require.NoError(t, d.HaltOutput())
		select {
		case <-called:
			t.Fatal("a halted block completed")
		case <-time.After(50 * time.Millisecond):
		}
		assert.Equal(t, 1, d.Counters().OutputHalts)
	})

	t.Run("Fail", func(t *testing.T) {
		d := openDevice(t, nil)
		d.FailOutput(audiodev.ErrIO)
		assert.ErrorIs(t, d.StartOutput(make([]byte, 4), func() {}), audiodev.ErrIO)
		d.FailOutput(nil)
		assert.NoError(t, d.StartOutput(make([]byte, 4), func() {}))
		assert.Equal(t, 1, d.Counters().OutputStarts)
	})
}

func capture(t *testing.T, d *loopback.Device, n int) []byte {
	t.Helper()
	block := make([]byte, n)
	done := make(chan struct{})
	require.NoError(t, d.StartInput(block, func() { close(done) }))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("input block never completed")
	}

	return block
}

func TestInput(t *testing.T) {
	t.Run("Silence", func(t *testing.T) {
		d := openDevice(t, nil)
		assert.Equal(t, make([]byte, 64), capture(t, d, 64))
	})

	t.Run("Tone", func(t *testing.T) {
		d := openDevice(t, &loopback.Config{Source: loopback.SourceTone})
		block := capture(t, d, 4*48)
		peak := int16(0)
		for i := 0; i < len(block); i += 4 {
			l := int16(uint16(block[i]) | uint16(block[i+1])<<8)
			r := int16(uint16(block[i+2]) | uint16(block[i+3])<<8)
			require.Equal(t, l, r, "every channel carries the tone")
			peak = max(peak, l)
		}
		assert.InDelta(t, 16384, peak, 100, "one full 1 kHz period at half scale")
	})

	t.Run("Loop", func(t *testing.T) {
		d := openDevice(t, &loopback.Config{Source: loopback.SourceLoop})
		done := make(chan struct{})
		require.NoError(t, d.StartOutput([]byte{5, 6, 7, 8}, func() { close(done) }))
		<-done
		assert.Equal(t, []byte{5, 6, 7, 8}, capture(t, d, 4))
		assert.Equal(t, make([]byte, 4), capture(t, d, 4), "silence once the queue is empty")
	})

	t.Run("Fail", func(t *testing.T) {
		d := openDevice(t, nil)
		d.FailInput(audiodev.ErrIO)
		assert.ErrorIs(t, d.StartInput(make([]byte, 4), func() {}), audiodev.ErrIO)
	})
}

func TestMixer(t *testing.T) {
	d := loopback.New(nil)

	di, err := d.QueryDevinfo(loopback.OutputsSelect)
	require.NoError(t, err)
	assert.Equal(t, "select", di.Label)
	assert.Equal(t, loopback.ClassOutputs, di.Class)
	_, err = d.QueryDevinfo(10)
	assert.ErrorIs(t, err, audiodev.ErrInvalidParameter)

	c := audiodev.MixerCtrl{Dev: loopback.RecordVolume, Type: audiodev.AUDIO_MIXER_VALUE, Levels: []uint8{7, 9}}
	require.NoError(t, d.SetPort(&c))
	c.Levels = make([]uint8, 2)
	require.NoError(t, d.GetPort(&c))
	assert.Equal(t, []uint8{7, 9}, c.Levels)

	assert.ErrorIs(t, d.SetPort(&audiodev.MixerCtrl{Dev: loopback.RecordVolume, Type: audiodev.AUDIO_MIXER_VALUE, Levels: make([]uint8, 3)}), audiodev.ErrInvalidParameter)
	assert.ErrorIs(t, d.GetPort(&audiodev.MixerCtrl{Dev: loopback.ClassInputs, Type: audiodev.AUDIO_MIXER_CLASS}), audiodev.ErrInvalidParameter)
	assert.ErrorIs(t, d.SetPort(&audiodev.MixerCtrl{Dev: loopback.RecordSource, Type: audiodev.AUDIO_MIXER_ENUM, Ord: 3}), audiodev.ErrInvalidParameter)

	d.SetControl(audiodev.MixerCtrl{Dev: loopback.RecordSource, Type: audiodev.AUDIO_MIXER_ENUM, Ord: loopback.SourceCD})
	assert.Equal(t, loopback.SourceCD, d.Control(loopback.RecordSource).Ord)

	require.NoError(t, d.CommitSettings())
	assert.Equal(t, 1, d.Counters().Commits)
}
