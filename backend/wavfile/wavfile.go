// Package wavfile implements an audio backend on WAV files: played blocks are encoded
// into one WAV stream and recorded blocks are decoded from another.
package wavfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/gen2brain/audiodev"
)

// Config configures a WAV backend. At least one of Out and In must be set.
type Config struct {
	// Out receives the played audio. The WAV header is finalized when the device closes.
	Out io.WriteSeeker
	// In is the WAV stream recording reads from. It must hold 16-bit PCM.
	In io.ReadSeeker
	// Rate and Channels of the playback stream. Default 48000 and 2.
	Rate     uint
	Channels uint
	// Period delays each completion. Zero completes blocks as fast as they arrive.
	Period time.Duration
}

// Device is a WAV file backend.
type Device struct {
	cfg Config

	mu      sync.Mutex
	enc     *wav.Encoder
	dec     *wav.Decoder
	inFmt   audiodev.Format
	buf     *audio.IntBuffer
	written int
	eof     bool
	halted  [2]chan struct{}
}

// New validates cfg and returns a device. The record format is taken from the WAV header of In.
func New(cfg Config) (*Device, error) {
	if cfg.Out == nil && cfg.In == nil {
		return nil, fmt.Errorf("wavfile: no input or output: %w", audiodev.ErrInvalidParameter)
	}
	if cfg.Rate == 0 {
		cfg.Rate = 48000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 2
	}

	d := &Device{cfg: cfg}
	if cfg.In != nil {
		dec := wav.NewDecoder(cfg.In)
		if !dec.IsValidFile() {
			return nil, errors.New("wavfile: invalid WAV input")
		}
		if dec.BitDepth != 16 || dec.WavAudioFormat != 1 {
			return nil, fmt.Errorf("wavfile: input is %d-bit format %d, want 16-bit PCM: %w",
				dec.BitDepth, dec.WavAudioFormat, audiodev.ErrUnsupportedFormat)
		}
		d.inFmt = audiodev.Format{
			Encoding:   audiodev.AUDIO_ENCODING_SLINEAR_LE,
			Precision:  16,
			Stride:     16,
			Channels:   uint(dec.NumChans),
			SampleRate: uint(dec.SampleRate),
		}
	}

	return d, nil
}

// Open implements audiodev.HWBackend.
func (d *Device) Open(mode audiodev.Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if mode&audiodev.AUMODE_PLAY != 0 && d.cfg.Out != nil && d.enc == nil {
		if _, err := d.cfg.Out.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("wavfile: rewind output: %w", err)
		}
		d.enc = wav.NewEncoder(d.cfg.Out, int(d.cfg.Rate), 16, int(d.cfg.Channels), 1)
		d.written = 0
	}
	if mode&audiodev.AUMODE_RECORD != 0 && d.cfg.In != nil && d.dec == nil {
		if _, err := d.cfg.In.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("wavfile: rewind input: %w", err)
		}
		d.dec = wav.NewDecoder(d.cfg.In)
		if err := d.dec.FwdToPCM(); err != nil {
			d.dec = nil
			return fmt.Errorf("wavfile: read input header: %w", err)
		}
		d.eof = false
	}
	d.halted = [2]chan struct{}{make(chan struct{}), make(chan struct{})}

	return nil
}

// Close implements audiodev.HWBackend. It finalizes the WAV output.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dec = nil
	if d.enc == nil {
		return nil
	}
	err := d.enc.Close()
	d.enc = nil
	if err != nil {
		return fmt.Errorf("wavfile: finalize output: %w", err)
	}

	return nil
}

// QueryFormat implements audiodev.HWBackend.
func (d *Device) QueryFormat(index int) (audiodev.FormatDesc, error) {
	var list []audiodev.FormatDesc
	if d.cfg.Out != nil {
		list = append(list, audiodev.FormatDesc{
			Mode:      audiodev.AUMODE_PLAY,
			Encoding:  audiodev.AUDIO_ENCODING_SLINEAR_LE,
			Precision: 16,
			Stride:    16,
			Channels:  d.cfg.Channels,
			Rates:     []uint{d.cfg.Rate},
		})
	}
	if d.cfg.In != nil {
		list = append(list, audiodev.FormatDesc{
			Mode:      audiodev.AUMODE_RECORD,
			Encoding:  d.inFmt.Encoding,
			Precision: 16,
			Stride:    16,
			Channels:  d.inFmt.Channels,
			Rates:     []uint{d.inFmt.SampleRate},
		})
	}
	if index < 0 || index >= len(list) {
		return audiodev.FormatDesc{}, audiodev.ErrInvalidParameter
	}

	return list[index], nil
}

// SetFormat implements audiodev.HWBackend. Only the advertised formats are accepted.
func (d *Device) SetFormat(mode audiodev.Mode, play, rec audiodev.Format) error {
	if mode&audiodev.AUMODE_PLAY != 0 && (play.Channels != d.cfg.Channels || play.SampleRate != d.cfg.Rate) {
		return fmt.Errorf("wavfile: play format %s: %w", play, audiodev.ErrUnsupportedFormat)
	}
	if mode&audiodev.AUMODE_RECORD != 0 && rec != d.inFmt {
		return fmt.Errorf("wavfile: record format %s: %w", rec, audiodev.ErrUnsupportedFormat)
	}

	return nil
}

// complete calls done after the configured period unless the direction is halted first.
func (d *Device) complete(halted chan struct{}, done func()) {
	go func() {
		if d.cfg.Period > 0 {
			t := time.NewTimer(d.cfg.Period)
			defer t.Stop()
			select {
			case <-t.C:
			case <-halted:
				return
			}
		}
		done()
	}()
}

// StartOutput implements audiodev.HWBackend.
func (d *Device) StartOutput(block []byte, done func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.enc == nil {
		return fmt.Errorf("wavfile: no output: %w", audiodev.ErrIO)
	}
	n := len(block) / 2
	if d.buf == nil || cap(d.buf.Data) < n {
		d.buf = &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: int(d.cfg.Channels), SampleRate: int(d.cfg.Rate)},
			Data:           make([]int, n),
			SourceBitDepth: 16,
		}
	}
	d.buf.Data = d.buf.Data[:n]
	for i := range d.buf.Data {
		d.buf.Data[i] = int(int16(binary.LittleEndian.Uint16(block[2*i:])))
	}
	if err := d.enc.Write(d.buf); err != nil {
		return fmt.Errorf("wavfile: write: %w", err)
	}
	d.written += len(block)
	d.complete(d.halted[0], done)

	return nil
}

// StartInput implements audiodev.HWBackend. Past the end of the input, blocks are silent.
func (d *Device) StartInput(block []byte, done func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dec == nil {
		return fmt.Errorf("wavfile: no input: %w", audiodev.ErrIO)
	}
	clear(block)
	if !d.eof {
		buf := &audio.IntBuffer{
			Format: &audio.Format{NumChannels: int(d.inFmt.Channels), SampleRate: int(d.inFmt.SampleRate)},
			Data:   make([]int, len(block)/2),
		}
		n, err := d.dec.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("wavfile: read: %w", err)
		}
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(block[2*i:], uint16(int16(buf.Data[i])))
		}
		if n < len(buf.Data) {
			d.eof = true
		}
	}
	d.complete(d.halted[1], done)

	return nil
}

// HaltOutput implements audiodev.HWBackend.
func (d *Device) HaltOutput() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	close(d.halted[0])
	d.halted[0] = make(chan struct{})

	return nil
}

// HaltInput implements audiodev.HWBackend.
func (d *Device) HaltInput() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	close(d.halted[1])
	d.halted[1] = make(chan struct{})

	return nil
}

// QueryDevinfo implements audiodev.HWBackend. WAV files have no mixer.
func (d *Device) QueryDevinfo(int) (audiodev.MixerDevinfo, error) {
	return audiodev.MixerDevinfo{}, audiodev.ErrInvalidParameter
}

// GetPort implements audiodev.HWBackend.
func (d *Device) GetPort(*audiodev.MixerCtrl) error {
	return audiodev.ErrInvalidParameter
}

// SetPort implements audiodev.HWBackend.
func (d *Device) SetPort(*audiodev.MixerCtrl) error {
	return audiodev.ErrInvalidParameter
}

// GetProps implements audiodev.HWBackend.
func (d *Device) GetProps() audiodev.Props {
	var p audiodev.Props
	if d.cfg.Out != nil {
		p |= audiodev.AUDIO_PROP_PLAYBACK
	}
	if d.cfg.In != nil {
		p |= audiodev.AUDIO_PROP_CAPTURE
	}
	if d.cfg.Out != nil && d.cfg.In != nil {
		p |= audiodev.AUDIO_PROP_FULLDUPLEX | audiodev.AUDIO_PROP_INDEPENDENT
	}

	return p
}

// GetDev implements audiodev.HWBackend.
func (d *Device) GetDev() (audiodev.DeviceInfo, error) {
	return audiodev.DeviceInfo{Name: "wavfile", Version: "1.0", Config: "wav"}, nil
}

// Written returns the number of PCM bytes encoded since the last open.
func (d *Device) Written() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.written
}
