package alsa

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gen2brain/audiodev"
)

// DefaultPeriods is the number of blocks the kernel buffer holds by default.
const DefaultPeriods = 4

// Config selects a hardware PCM and configures its buffering.
type Config struct {
	Card   uint
	Device uint
	// Periods is the number of blocks the kernel buffer holds. Defaults to DefaultPeriods.
	Periods uint
	// Logger receives the backend log. Defaults to slog.Default().
	Logger *slog.Logger
}

// Device drives one hardware PCM and the mixer of its card.
// It implements audiodev.HWBackend.
type Device struct {
	cfg     Config
	log     *slog.Logger
	mixer   *mixer
	formats []audiodev.FormatDesc
	props   audiodev.Props

	mu        sync.Mutex
	out, in   *stream
	play, rec audiodev.Format
	workers   *errgroup.Group
}

// New checks hw:card,device and opens the control interface of its card. A card
// without a usable control interface gets an empty mixer.
func New(cfg Config) (*Device, error) {
	if cfg.Periods < 2 {
		cfg.Periods = DefaultPeriods
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	d := &Device{cfg: cfg, log: cfg.Logger.With("pcm", fmt.Sprintf("hw:%d,%d", cfg.Card, cfg.Device))}

	var errs []error
	for _, dir := range []audiodev.Mode{audiodev.AUMODE_PLAY, audiodev.AUMODE_RECORD} {
		caps, err := queryCaps(cfg.Card, cfg.Device, dir == audiodev.AUMODE_RECORD)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		d.addFormats(caps.descs(dir))
		if dir == audiodev.AUMODE_PLAY {
			d.props |= audiodev.AUDIO_PROP_PLAYBACK
		} else {
			d.props |= audiodev.AUDIO_PROP_CAPTURE
		}
	}
	if len(d.formats) == 0 {
		return nil, fmt.Errorf("alsa: hw:%d,%d has no usable stream: %w", cfg.Card, cfg.Device,
			errors.Join(append(errs, audiodev.ErrNoDevice)...))
	}
	if d.props&(audiodev.AUDIO_PROP_PLAYBACK|audiodev.AUDIO_PROP_CAPTURE) == audiodev.AUDIO_PROP_PLAYBACK|audiodev.AUDIO_PROP_CAPTURE {
		d.props |= audiodev.AUDIO_PROP_FULLDUPLEX | audiodev.AUDIO_PROP_INDEPENDENT
	}

	m, err := openMixer(cfg.Card)
	if err != nil {
		d.log.Warn("no mixer controls", "err", err)
	} else {
		d.mixer = m
	}

	return d, nil
}

// addFormats merges descs into the format list. Playback and capture descriptors that
// only differ in direction become one.
func (d *Device) addFormats(descs []audiodev.FormatDesc) {
	for _, desc := range descs {
		i := slices.IndexFunc(d.formats, func(f audiodev.FormatDesc) bool {
			return f.Encoding == desc.Encoding && f.Precision == desc.Precision && f.Stride == desc.Stride &&
				f.Channels == desc.Channels && f.MinRate == desc.MinRate && f.MaxRate == desc.MaxRate
		})
		if i < 0 {
			d.formats = append(d.formats, desc)
			continue
		}
		d.formats[i].Mode |= desc.Mode
	}
}

// Release closes the control interface. The device must be closed.
func (d *Device) Release() error {
	return d.mixer.Close()
}

// Open implements audiodev.HWBackend. Each direction gets its own transfer goroutine.
func (d *Device) Open(mode audiodev.Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.workers != nil {
		return fmt.Errorf("alsa: already open: %w", audiodev.ErrDeviceBusy)
	}

	var streams []*stream
	for _, dir := range []audiodev.Mode{audiodev.AUMODE_PLAY, audiodev.AUMODE_RECORD} {
		if mode&dir == 0 {
			continue
		}
		p, err := openPcm(d.cfg.Card, d.cfg.Device, dir == audiodev.AUMODE_RECORD)
		if err != nil {
			for _, s := range streams {
				_ = s.pcm.Close()
			}
			if errors.Is(err, syscall.EBUSY) {
				return fmt.Errorf("alsa: %w: %w", err, audiodev.ErrDeviceBusy)
			}

			return fmt.Errorf("alsa: %w: %w", err, audiodev.ErrNoDevice)
		}
		s := &stream{
			pcm:     p,
			periods: uint32(d.cfg.Periods),
			jobs:    make(chan job, 4),
			log:     d.log.With("stream", streamName(dir)),
		}
		if dir == audiodev.AUMODE_PLAY {
			d.out = s
		} else {
			d.in = s
		}
		streams = append(streams, s)
	}

	d.workers = &errgroup.Group{}
	for _, s := range streams {
		d.workers.Go(s.run)
	}
	d.log.Debug("opened", "mode", uint32(mode))

	return nil
}

// Close implements audiodev.HWBackend. It waits for the transfer goroutines to exit.
func (d *Device) Close() error {
	d.mu.Lock()
	workers, streams := d.workers, []*stream{d.out, d.in}
	d.out, d.in, d.workers = nil, nil, nil
	d.mu.Unlock()

	if workers == nil {
		return nil
	}
	for _, s := range streams {
		if s != nil {
			s.halt()
			close(s.jobs)
		}
	}
	err := workers.Wait()
	for _, s := range streams {
		if s != nil {
			err = errors.Join(err, s.pcm.Close())
		}
	}
	d.log.Debug("closed")

	return err
}

// QueryFormat implements audiodev.HWBackend.
func (d *Device) QueryFormat(index int) (audiodev.FormatDesc, error) {
	if index < 0 || index >= len(d.formats) {
		return audiodev.FormatDesc{}, audiodev.ErrInvalidParameter
	}

	return d.formats[index], nil
}

// SetFormat implements audiodev.HWBackend. The hardware is configured when the next
// block starts, once the block size is known.
func (d *Device) SetFormat(mode audiodev.Mode, play, rec audiodev.Format) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if mode&audiodev.AUMODE_PLAY != 0 {
		if _, err := PcmFormatOf(play); err != nil {
			return err
		}
		d.play = play
	}
	if mode&audiodev.AUMODE_RECORD != 0 {
		if _, err := PcmFormatOf(rec); err != nil {
			return err
		}
		d.rec = rec
	}

	return nil
}

// StartOutput implements audiodev.HWBackend. The block is copied.
func (d *Device) StartOutput(block []byte, done func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.out.start(d.play, slices.Clone(block), done)
}

// StartInput implements audiodev.HWBackend. The block is filled before done runs.
func (d *Device) StartInput(block []byte, done func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.in.start(d.rec, block, done)
}

// HaltOutput implements audiodev.HWBackend.
func (d *Device) HaltOutput() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.out.halt()

	return nil
}

// HaltInput implements audiodev.HWBackend.
func (d *Device) HaltInput() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.in.halt()

	return nil
}

// QueryDevinfo implements audiodev.HWBackend.
func (d *Device) QueryDevinfo(index int) (audiodev.MixerDevinfo, error) {
	if d.mixer == nil || index < 0 || index >= len(d.mixer.devinfo) {
		return audiodev.MixerDevinfo{}, audiodev.ErrInvalidParameter
	}
	di := d.mixer.devinfo[index]
	di.Members = slices.Clone(di.Members)

	return di, nil
}

// GetPort implements audiodev.HWBackend.
func (d *Device) GetPort(ctrl *audiodev.MixerCtrl) error {
	if d.mixer == nil {
		return audiodev.ErrInvalidParameter
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.mixer.get(ctrl)
}

// SetPort implements audiodev.HWBackend.
func (d *Device) SetPort(ctrl *audiodev.MixerCtrl) error {
	if d.mixer == nil {
		return audiodev.ErrInvalidParameter
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.mixer.set(ctrl)
}

// GetProps implements audiodev.HWBackend.
func (d *Device) GetProps() audiodev.Props {
	return d.props
}

// GetDev implements audiodev.HWBackend.
func (d *Device) GetDev() (audiodev.DeviceInfo, error) {
	info := audiodev.DeviceInfo{
		Name:   fmt.Sprintf("hw:%d,%d", d.cfg.Card, d.cfg.Device),
		Config: fmt.Sprintf("hw:%d,%d", d.cfg.Card, d.cfg.Device),
	}
	if d.mixer != nil {
		info.Name = d.mixer.Name()
		info.Version = cString(d.mixer.cardInfo.Driver[:])
	}

	return info, nil
}

// Xruns returns the number of underruns and overruns recovered since the device was opened.
func (d *Device) Xruns() (play, rec int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.out != nil {
		play = int(d.out.pcm.xruns.Load())
	}
	if d.in != nil {
		rec = int(d.in.pcm.xruns.Load())
	}

	return play, rec
}

func streamName(dir audiodev.Mode) string {
	if dir == audiodev.AUMODE_RECORD {
		return "capture"
	}

	return "playback"
}

// job is one block handed to a transfer goroutine.
type job struct {
	gen    uint64
	format audiodev.Format
	block  []byte
	done   func()
}

// stream runs the blocking transfers of one direction. A halt bumps gen; blocks of an
// older generation are dropped without calling done.
type stream struct {
	pcm     *pcm
	periods uint32
	jobs    chan job
	log     *slog.Logger

	// mu orders the copy of captured data against halt.
	mu  sync.Mutex
	gen atomic.Uint64
	err atomic.Pointer[error]

	// Owned by the transfer goroutine.
	want    pcmConfig
	lastGen uint64
	buf     []byte
}

func (s *stream) start(format audiodev.Format, block []byte, done func()) error {
	if s == nil {
		return fmt.Errorf("alsa: direction not open: %w", audiodev.ErrIO)
	}
	if err := s.err.Swap(nil); err != nil {
		return fmt.Errorf("alsa: %w: %w", *err, audiodev.ErrIO)
	}

	select {
	case s.jobs <- job{gen: s.gen.Load(), format: format, block: block, done: done}:
		return nil
	default:
		return fmt.Errorf("alsa: transfer queue full: %w", audiodev.ErrDeviceBusy)
	}
}

func (s *stream) halt() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.gen.Add(1)
	s.mu.Unlock()

	// A stream that never started has nothing to drop.
	if err := s.pcm.drop(); err != nil && !errors.Is(err, syscall.EBADFD) {
		s.log.Debug("drop failed", "err", err)
	}
}

// run is the transfer goroutine. It exits when jobs is closed.
func (s *stream) run() error {
	for j := range s.jobs {
		if j.gen != s.gen.Load() {
			continue
		}
		err := s.setup(j)
		if err == nil {
			err = s.transfer(j)
		}
		if j.gen != s.gen.Load() {
			continue
		}
		if err != nil {
			s.log.Error("transfer failed", "err", err)
			s.err.Store(&err)
		}
		j.done()
	}

	return nil
}

// setup configures and prepares the hardware for the first block of a run, or when the
// format or block size changed.
func (s *stream) setup(j job) error {
	pf, err := PcmFormatOf(j.format)
	if err != nil {
		return err
	}
	want := pcmConfig{
		Format:      pf,
		Channels:    uint32(j.format.Channels),
		Rate:        uint32(j.format.SampleRate),
		PeriodCount: s.periods,
	}
	if fb := want.frameBytes(); fb > 0 {
		want.PeriodSize = uint32(len(j.block) / fb)
	}
	if want == s.want && j.gen == s.lastGen {
		return nil
	}

	if want != s.want {
		_ = s.pcm.drop()
		if err := s.pcm.setConfig(want); err != nil {
			return err
		}
		s.want = want
		s.log.Debug("configured", "format", pf.String(), "channels", want.Channels, "rate", want.Rate,
			"period", s.pcm.config.PeriodSize, "periods", s.pcm.config.PeriodCount)
	}
	if err := s.pcm.prepare(); err != nil {
		return err
	}
	s.lastGen = j.gen

	return nil
}

func (s *stream) transfer(j job) error {
	if !s.pcm.capture {
		if err := s.pcm.transfer(j.block); err != nil {
			return err
		}
		s.waitPlayed(j.gen)

		return nil
	}

	s.buf = slices.Grow(s.buf[:0], len(j.block))[:len(j.block)]
	if err := s.pcm.transfer(s.buf); err != nil {
		return err
	}
	s.mu.Lock()
	if j.gen == s.gen.Load() {
		copy(j.block, s.buf)
	}
	s.mu.Unlock()

	return nil
}

// waitPlayed returns once no more than two periods are queued ahead of the hardware,
// so the completion of a block arrives while the next one can still be queued in time.
func (s *stream) waitPlayed(gen uint64) {
	period := int(s.want.PeriodSize)
	if period == 0 || s.want.Rate == 0 {
		return
	}
	tick := time.Duration(period) * time.Second / time.Duration(s.want.Rate) / 4
	for gen == s.gen.Load() {
		delay, err := s.pcm.delay()
		if err != nil || delay <= 2*period {
			return
		}
		time.Sleep(tick)
	}
}
