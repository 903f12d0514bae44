package wavfile_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/gen2brain/audiodev"
	"github.com/gen2brain/audiodev/backend/wavfile"
)

var user = audiodev.Proc{PID: 1, UID: 1000}

func attach(t *testing.T, hw audiodev.HWBackend) *audiodev.Device {
	t.Helper()
	d, err := audiodev.Attach(hw, &audiodev.Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Detach() })

	return d
}

// writeWAV creates a WAV file holding samples.
func writeWAV(t *testing.T, bitDepth, rate, channels int, samples []int) string {
	t.Helper()
	name := filepath.Join(t.TempDir(), "in.wav")
	f, err := os.Create(name)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, rate, bitDepth, channels, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: bitDepth,
	}))
	require.NoError(t, enc.Close())

	return name
}

func TestNew(t *testing.T) {
	_, err := wavfile.New(wavfile.Config{})
	assert.ErrorIs(t, err, audiodev.ErrInvalidParameter)

	in, err := os.Open(writeWAV(t, 8, 8000, 1, []int{1, 2, 3}))
	require.NoError(t, err)
	defer in.Close()
	_, err = wavfile.New(wavfile.Config{In: in})
	assert.ErrorIs(t, err, audiodev.ErrUnsupportedFormat)

	out, err := os.Create(filepath.Join(t.TempDir(), "out.wav"))
	require.NoError(t, err)
	defer out.Close()
	d, err := wavfile.New(wavfile.Config{Out: out, Rate: 44100, Channels: 1})
	require.NoError(t, err)
	assert.Equal(t, audiodev.AUDIO_PROP_PLAYBACK, d.GetProps())

	desc, err := d.QueryFormat(0)
	require.NoError(t, err)
	assert.Equal(t, []uint{44100}, desc.Rates)
	_, err = d.QueryFormat(1)
	assert.ErrorIs(t, err, audiodev.ErrInvalidParameter)

	stereo := audiodev.Format{Encoding: audiodev.AUDIO_ENCODING_SLINEAR_LE, Precision: 16, Stride: 16, Channels: 2, SampleRate: 44100}
	assert.ErrorIs(t, d.SetFormat(audiodev.AUMODE_PLAY, stereo, audiodev.Format{}), audiodev.ErrUnsupportedFormat)
}

func TestPlayback(t *testing.T) {
	name := filepath.Join(t.TempDir(), "out.wav")
	out, err := os.Create(name)
	require.NoError(t, err)
	defer out.Close()

	hw, err := wavfile.New(wavfile.Config{Out: out, Period: time.Millisecond})
	require.NoError(t, err)
	d := attach(t, hw)

	f, err := d.Open(audiodev.NodeAudio, unix.O_WRONLY, user)
	require.NoError(t, err)
	require.NoError(t, f.SetFormat(audiodev.AUMODE_PLAY, audiodev.Format{
		Encoding:   audiodev.AUDIO_ENCODING_SLINEAR_LE,
		Precision:  16,
		Channels:   2,
		SampleRate: 48000,
	}))

	data := make([]byte, 4*1024)
	for i := 0; i < len(data); i += 4 {
		v := uint16(i / 4)
		data[i], data[i+1] = byte(v), byte(v>>8)
		data[i+2], data[i+3] = byte(-v), byte((-v)>>8)
	}
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Drain())
	assert.GreaterOrEqual(t, hw.Written(), len(data))
	require.NoError(t, f.Close())

	in, err := os.Open(name)
	require.NoError(t, err)
	defer in.Close()
	dec := wav.NewDecoder(in)
	require.True(t, dec.IsValidFile())
	assert.Equal(t, uint32(48000), dec.SampleRate)
	assert.Equal(t, uint16(2), dec.NumChans)
	assert.Equal(t, uint16(16), dec.BitDepth)

	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(buf.Data), 2*1024)
	for i := 0; i < 1024; i++ {
		require.Equal(t, i, buf.Data[2*i], "left sample %d", i)
		require.Equal(t, -i, buf.Data[2*i+1], "right sample %d", i)
	}
}

func TestRecord(t *testing.T) {
	samples := make([]int, 2048)
	for i := range samples {
		samples[i] = i - 1024
	}
	in, err := os.Open(writeWAV(t, 16, 48000, 1, samples))
	require.NoError(t, err)
	defer in.Close()

	hw, err := wavfile.New(wavfile.Config{In: in, Period: 2 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, audiodev.AUDIO_PROP_CAPTURE, hw.GetProps())
	d := attach(t, hw)

	f, err := d.Open(audiodev.NodeAudio, unix.O_RDONLY, user)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.SetFormat(audiodev.AUMODE_RECORD, audiodev.Format{
		Encoding:   audiodev.AUDIO_ENCODING_SLINEAR_LE,
		Precision:  16,
		Channels:   1,
		SampleRate: 48000,
	}))

	got := make([]byte, 0, 2*len(samples))
	buf := make([]byte, 1000)
	for len(got) < cap(got) {
		n, err := f.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:min(n, cap(got)-len(got))]...)
	}

	// Recording restarted when the format changed, so the stream starts at a block boundary.
	first := int(int16(uint16(got[0]) | uint16(got[1])<<8))
	require.GreaterOrEqual(t, first, -1024)
	require.Less(t, first, 512, "most of the ramp is still ahead")
	for i := 0; i+1 < len(got); i += 2 {
		v := int(int16(uint16(got[i]) | uint16(got[i+1])<<8))
		want := first + i/2
		if want >= 1024 {
			want = 0
		}
		require.Equal(t, want, v, "sample %d", i/2)
	}
}
