// Package loopback implements a clocked in-memory audio backend. Played blocks are
// captured for inspection and can be fed back as the capture source.
package loopback

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/gen2brain/audiodev"
)

// Source selects what capture returns.
type Source int

const (
	SourceSilence Source = iota // Zero samples.
	SourceTone                  // A 1 kHz sine at half scale on every channel.
	SourceLoop                  // Blocks played earlier, in order; silence when none are queued.
)

// Config configures a loopback device. Zero values select the defaults.
type Config struct {
	// Formats are the advertised formats. Defaults to SLINEAR_LE 16-bit stereo at 44100
	// and 48000 Hz in both directions.
	Formats []audiodev.FormatDesc
	// Props defaults to full duplex with playback and capture.
	Props audiodev.Props
	// Period is the time one block takes. Defaults to 2ms regardless of block size.
	Period time.Duration
	// Source selects the capture data.
	Source Source
	// Name is reported by GetDev.
	Name string
}

// DefaultFormats is the format list used when Config.Formats is empty.
var DefaultFormats = []audiodev.FormatDesc{
	{
		Mode:      audiodev.AUMODE_PLAY | audiodev.AUMODE_RECORD,
		Encoding:  audiodev.AUDIO_ENCODING_SLINEAR_LE,
		Precision: 16,
		Stride:    16,
		Channels:  2,
		Rates:     []uint{44100, 48000},
	},
}

// Counters counts backend calls.
type Counters struct {
	Opens        int
	Closes       int
	OutputStarts int
	InputStarts  int
	OutputHalts  int
	InputHalts   int
	Commits      int
	SetFormats   int
}

// Device is a loopback backend. It implements audiodev.HWBackend and audiodev.SettingsCommitter.
type Device struct {
	cfg Config

	mu       sync.Mutex
	open     bool
	mode     audiodev.Mode
	play     audiodev.Format
	rec      audiodev.Format
	outTimer *time.Timer
	inTimer  *time.Timer
	played   [][]byte
	loop     [][]byte
	phase    float64
	failOut  error
	failIn   error
	counters Counters

	devinfo []audiodev.MixerDevinfo
	values  map[int]audiodev.MixerCtrl
}

// New returns a loopback device.
func New(cfg *Config) *Device {
	d := &Device{}
	if cfg != nil {
		d.cfg = *cfg
	}
	if len(d.cfg.Formats) == 0 {
		d.cfg.Formats = DefaultFormats
	}
	if d.cfg.Props == 0 {
		d.cfg.Props = audiodev.AUDIO_PROP_FULLDUPLEX | audiodev.AUDIO_PROP_PLAYBACK | audiodev.AUDIO_PROP_CAPTURE
	}
	if d.cfg.Period == 0 {
		d.cfg.Period = 2 * time.Millisecond
	}
	if d.cfg.Name == "" {
		d.cfg.Name = "loopback"
	}
	d.devinfo, d.values = defaultControls()

	return d
}

// Open implements audiodev.HWBackend.
func (d *Device) Open(mode audiodev.Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.open {
		return fmt.Errorf("loopback: already open: %w", audiodev.ErrDeviceBusy)
	}
	d.open = true
	d.mode = mode
	d.counters.Opens++

	return nil
}

// OpenMode returns the directions of the last Open.
func (d *Device) OpenMode() audiodev.Mode {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.mode
}

// Close implements audiodev.HWBackend.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	d.open = false
	d.counters.Closes++

	return nil
}

func (d *Device) stopLocked() {
	if d.outTimer != nil {
		d.outTimer.Stop()
		d.outTimer = nil
	}
	if d.inTimer != nil {
		d.inTimer.Stop()
		d.inTimer = nil
	}
}

// QueryFormat implements audiodev.HWBackend.
func (d *Device) QueryFormat(index int) (audiodev.FormatDesc, error) {
	if index < 0 || index >= len(d.cfg.Formats) {
		return audiodev.FormatDesc{}, audiodev.ErrInvalidParameter
	}

	return d.cfg.Formats[index], nil
}

// SetFormat implements audiodev.HWBackend.
func (d *Device) SetFormat(mode audiodev.Mode, play, rec audiodev.Format) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if mode&audiodev.AUMODE_PLAY != 0 {
		d.play = play
	}
	if mode&audiodev.AUMODE_RECORD != 0 {
		d.rec = rec
	}
	d.counters.SetFormats++

	return nil
}

// StartOutput implements audiodev.HWBackend. The block is captured when its period ends.
func (d *Device) StartOutput(block []byte, done func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failOut != nil {
		return d.failOut
	}
	if !d.open || d.mode&audiodev.AUMODE_PLAY == 0 {
		return fmt.Errorf("loopback: not open for playback: %w", audiodev.ErrIO)
	}
	data := slices.Clone(block)
	d.counters.OutputStarts++
	d.outTimer = time.AfterFunc(d.cfg.Period, func() {
		d.mu.Lock()
		d.played = append(d.played, data)
		if d.cfg.Source == SourceLoop {
			d.loop = append(d.loop, data)
		}
		d.mu.Unlock()
		done()
	})

	return nil
}

// StartInput implements audiodev.HWBackend. The block is filled when its period ends.
func (d *Device) StartInput(block []byte, done func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failIn != nil {
		return d.failIn
	}
	if !d.open || d.mode&audiodev.AUMODE_RECORD == 0 {
		return fmt.Errorf("loopback: not open for recording: %w", audiodev.ErrIO)
	}
	d.counters.InputStarts++
	d.inTimer = time.AfterFunc(d.cfg.Period, func() {
		d.mu.Lock()
		d.capture(block)
		d.mu.Unlock()
		done()
	})

	return nil
}

// capture fills block from the configured source. Caller holds mu.
func (d *Device) capture(block []byte) {
	clear(block)
	switch d.cfg.Source {
	case SourceLoop:
		if len(d.loop) > 0 {
			copy(block, d.loop[0])
			d.loop = d.loop[1:]
		}
	case SourceTone:
		f := d.rec
		if f.Encoding != audiodev.AUDIO_ENCODING_SLINEAR_LE || f.Precision != 16 || f.Channels == 0 {
			return
		}
		step := 2 * math.Pi * 1000 / float64(f.SampleRate)
		for i := 0; i+2*int(f.Channels) <= len(block); i += 2 * int(f.Channels) {
			v := int16(math.Sin(d.phase) * 16384)
			for c := 0; c < int(f.Channels); c++ {
				block[i+2*c] = byte(v)
				block[i+2*c+1] = byte(uint16(v) >> 8)
			}
			d.phase += step
		}
		d.phase = math.Mod(d.phase, 2*math.Pi)
	}
}

// HaltOutput implements audiodev.HWBackend.
func (d *Device) HaltOutput() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.outTimer != nil {
		d.outTimer.Stop()
		d.outTimer = nil
	}
	d.counters.OutputHalts++

	return nil
}

// HaltInput implements audiodev.HWBackend.
func (d *Device) HaltInput() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.inTimer != nil {
		d.inTimer.Stop()
		d.inTimer = nil
	}
	d.counters.InputHalts++

	return nil
}

// GetProps implements audiodev.HWBackend.
func (d *Device) GetProps() audiodev.Props {
	return d.cfg.Props
}

// GetDev implements audiodev.HWBackend.
func (d *Device) GetDev() (audiodev.DeviceInfo, error) {
	return audiodev.DeviceInfo{Name: d.cfg.Name, Version: "1.0", Config: "loopback"}, nil
}

// CommitSettings implements audiodev.SettingsCommitter.
func (d *Device) CommitSettings() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.counters.Commits++

	return nil
}

// Played returns a copy of every block played so far.
func (d *Device) Played() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([][]byte, len(d.played))
	for i, b := range d.played {
		out[i] = slices.Clone(b)
	}

	return out
}

// PlayedBytes returns every played block concatenated.
func (d *Device) PlayedBytes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []byte
	for _, b := range d.played {
		out = append(out, b...)
	}

	return out
}

// ResetPlayed forgets the played blocks.
func (d *Device) ResetPlayed() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.played = nil
}

// Counters returns the call counters.
func (d *Device) Counters() Counters {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.counters
}

// IsOpen reports whether the device is open.
func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.open
}

// Formats returns the hardware formats last set.
func (d *Device) Formats() (play, rec audiodev.Format) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.play, d.rec
}

// FailOutput makes StartOutput return err. A nil err clears the failure.
func (d *Device) FailOutput(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.failOut = err
}

// FailInput makes StartInput return err. A nil err clears the failure.
func (d *Device) FailInput(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.failIn = err
}
