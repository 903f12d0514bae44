package audiodev

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// Node is the kind of device node a file was opened through.
// The values correspond to the minor number bits of the audio character devices.
type Node int

const (
	NodeSound    Node = 0x00 // /dev/sound: inherits the last set parameters.
	NodeMixer    Node = 0x10 // /dev/mixer: mixer controls only.
	NodeAudio    Node = 0x80 // /dev/audio: resets to the default format on open.
	NodeAudioCtl Node = 0xc0 // /dev/audioctl: info and mixer ioctls only, no tracks.
)

var nodeNames = map[Node]string{
	NodeSound:    "sound",
	NodeMixer:    "mixer",
	NodeAudio:    "audio",
	NodeAudioCtl: "audioctl",
}

// String returns the device node name.
func (n Node) String() string {
	if name, ok := nodeNames[n]; ok {
		return name
	}

	return fmt.Sprintf("node(%#x)", int(n))
}

// Proc identifies the process that opens a device.
type Proc struct {
	PID int
	UID int
	// Signals receives SIGIO for files with FIOASYNC enabled. Sends never block.
	Signals chan<- os.Signal
}

// Config holds the tunables of a Device. Zero values select the defaults.
type Config struct {
	// BlockMs is the duration of one mixer block in milliseconds.
	BlockMs uint
	// Blocks is the total buffering per stream, in blocks.
	Blocks uint
	// Multiuser allows opens by different users at the same time.
	Multiuser bool
	// Logger receives the device log. Defaults to slog.Default().
	Logger *slog.Logger
	// Name is used in log records.
	Name string
}

const (
	DefaultBlockMs = 10
	DefaultBlocks  = 16
)

// stickyParams are the parameters /dev/sound opens start from.
type stickyParams struct {
	play   Format
	rec    Format
	ppause bool
	rpause bool
}

// Device multiplexes the open files of one sound device onto its hardware backend.
//
// lock is the thread lock: it is held by every open, close, ioctl, read and write, and is
// released only while sleeping. intrLock protects everything the completion callbacks touch.
// intrLock is never held while taking lock.
type Device struct {
	hw    HWBackend
	log   *slog.Logger
	props Props

	lock     sync.Mutex
	intrLock sync.Mutex

	formats []FormatDesc
	pmixer  *trackMixer
	rmixer  *trackMixer
	pfmt    Format
	rfmt    Format
	mixer   *mixerSnapshot

	blkMs     uint
	blocks    uint
	multiuser bool

	files      map[*File]struct{}
	asyncFiles atomic.Pointer[[]*File]
	mixerAsync []*File
	popens     int
	ropens     int
	ownerUID   int
	sticky     stickyParams
	trackID    int
	dying      bool
}

// Attach queries the backend, selects the hardware formats and builds the track mixers.
func Attach(hw HWBackend, cfg *Config) (*Device, error) {
	if hw == nil {
		return nil, fmt.Errorf("attach failed: backend is nil: %w", ErrInvalidParameter)
	}
	if cfg == nil {
		cfg = &Config{}
	}

	d := &Device{
		hw:        hw,
		log:       cfg.Logger,
		blkMs:     cfg.BlockMs,
		blocks:    cfg.Blocks,
		multiuser: cfg.Multiuser,
		files:     make(map[*File]struct{}),
		sticky: stickyParams{
			play: DefaultFormat,
			rec:  DefaultFormat,
		},
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	if cfg.Name != "" {
		d.log = d.log.With("device", cfg.Name)
	}
	if d.blkMs == 0 {
		d.blkMs = DefaultBlockMs
	}
	if d.blocks == 0 {
		d.blocks = DefaultBlocks
	}
	d.asyncFiles.Store(&[]*File{})

	d.props = hw.GetProps()
	if d.props&(AUDIO_PROP_PLAYBACK|AUDIO_PROP_CAPTURE) == 0 {
		d.props |= AUDIO_PROP_PLAYBACK | AUDIO_PROP_CAPTURE
	}

	for i := 0; ; i++ {
		desc, err := hw.QueryFormat(i)
		if err != nil {
			break
		}
		d.formats = append(d.formats, desc)
	}
	if len(d.formats) == 0 {
		return nil, fmt.Errorf("attach failed: backend advertises no formats: %w", ErrNoDevice)
	}

	if err := d.setupHW(); err != nil {
		return nil, fmt.Errorf("attach failed: %w", err)
	}

	mixer, err := newMixerSnapshot(hw)
	if err != nil {
		return nil, fmt.Errorf("attach failed: %w", err)
	}
	d.mixer = mixer

	d.log.Info("audio device attached",
		"props", fmt.Sprintf("%#x", uint32(d.props)),
		"play", d.pfmt.String(),
		"record", d.rfmt.String(),
		"blk_ms", d.blkMs,
		"controls", len(d.mixer.devinfo))

	return d, nil
}

func (d *Device) canPlay() bool {
	return d.props&AUDIO_PROP_PLAYBACK != 0
}

func (d *Device) canRecord() bool {
	return d.props&AUDIO_PROP_CAPTURE != 0
}

func (d *Device) fullDuplex() bool {
	return d.props&AUDIO_PROP_FULLDUPLEX != 0
}

// hwOpenMode returns the directions the hardware is opened for. A full-duplex device is
// opened for every direction it supports, whatever the first open asked for.
func (d *Device) hwOpenMode(mode Mode) Mode {
	if !d.fullDuplex() {
		return mode &^ AUMODE_PLAY_ALL
	}
	var hw Mode
	if d.canPlay() {
		hw |= AUMODE_PLAY
	}
	if d.canRecord() {
		hw |= AUMODE_RECORD
	}

	return hw
}

// usrBlocks returns the size of a track's user ring in blocks.
func (d *Device) usrBlocks() uint {
	if d.blocks <= hwBlocks+1 {
		return 1
	}

	return d.blocks - hwBlocks - 1
}

// selectFreq picks the hardware rate: 48000, then 44100, else the highest supported.
func selectFreq(desc FormatDesc) uint {
	for _, r := range []uint{48000, 44100} {
		if desc.SupportsRate(r) {
			return r
		}
	}
	if len(desc.Rates) == 0 {
		return desc.MaxRate
	}
	best := uint(0)
	for _, r := range desc.Rates {
		best = max(best, r)
	}

	return best
}

// selectFormat chooses the hardware format for one direction. Formats the mixer can use
// without conversion win; otherwise the first convertible format is taken.
func (d *Device) selectFormat(mode Mode) (Format, error) {
	var (
		found bool
		best  Format
	)
	for _, desc := range d.formats {
		if desc.Mode&mode == 0 || desc.Encoding.IsCompressed() {
			continue
		}
		f := Format{
			Encoding:   desc.Encoding,
			Precision:  desc.Precision,
			Stride:     desc.Stride,
			Channels:   min(desc.Channels, AUDIO_MAX_CHANNELS),
			SampleRate: selectFreq(desc),
		}.normalize()
		if f.Validate() != nil {
			continue
		}
		if f.isInternal() {
			return f, nil
		}
		if !found {
			best, found = f, true
		}
	}
	if !found {
		return Format{}, fmt.Errorf("no usable hardware format: %w", ErrUnsupportedFormat)
	}

	return best, nil
}

// setupHW selects and sets the hardware formats and builds the mixers.
func (d *Device) setupHW() error {
	var mode Mode
	if d.canPlay() {
		f, err := d.selectFormat(AUMODE_PLAY)
		if err != nil {
			return fmt.Errorf("playback: %w", err)
		}
		d.pfmt = f
		mode |= AUMODE_PLAY
	}
	if d.canRecord() {
		f, err := d.selectFormat(AUMODE_RECORD)
		if err != nil {
			return fmt.Errorf("record: %w", err)
		}
		d.rfmt = f
		mode |= AUMODE_RECORD
	}

	if err := d.hw.SetFormat(mode, d.pfmt, d.rfmt); err != nil {
		return fmt.Errorf("set format failed: %w", err)
	}

	return d.buildMixers()
}

func (d *Device) buildMixers() error {
	d.pmixer, d.rmixer = nil, nil
	if d.canPlay() {
		m, err := newTrackMixer(d, AUMODE_PLAY, d.pfmt)
		if err != nil {
			return err
		}
		d.pmixer = m
	}
	if d.canRecord() {
		m, err := newTrackMixer(d, AUMODE_RECORD, d.rfmt)
		if err != nil {
			return err
		}
		d.rmixer = m
	}

	return nil
}

// advertises reports whether the backend lists encoding e for mode.
func (d *Device) advertises(mode Mode, e Encoding) bool {
	for _, desc := range d.formats {
		if desc.Mode&mode != 0 && desc.Encoding == e {
			return true
		}
	}

	return false
}

// mode2aumode converts open flags into track directions for this device.
func (d *Device) mode2aumode(flags int) Mode {
	var mode Mode
	switch flags & unix.O_ACCMODE {
	case unix.O_WRONLY:
		mode = AUMODE_PLAY | AUMODE_PLAY_ALL
	case unix.O_RDONLY:
		mode = AUMODE_RECORD
	case unix.O_RDWR:
		mode = AUMODE_PLAY | AUMODE_PLAY_ALL | AUMODE_RECORD
		if !d.fullDuplex() {
			mode &^= AUMODE_RECORD
		}
	}
	if !d.canPlay() {
		mode &^= AUMODE_PLAY | AUMODE_PLAY_ALL
		if flags&unix.O_ACCMODE == unix.O_RDWR && d.canRecord() {
			mode |= AUMODE_RECORD
		}
	}
	if !d.canRecord() {
		mode &^= AUMODE_RECORD
	}

	return mode
}

// Open opens the device through node on behalf of proc.
func (d *Device) Open(node Node, flags int, proc Proc) (*File, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.dying {
		return nil, fmt.Errorf("open failed: %w", ErrDeviceGone)
	}

	f := &File{
		dev:      d,
		id:       uuid.New(),
		node:     node,
		flags:    flags,
		proc:     proc,
		nonblock: flags&unix.O_NONBLOCK != 0,
	}

	switch node {
	case NodeAudio, NodeSound:
		if err := d.openTracks(f); err != nil {
			return nil, fmt.Errorf("open failed: %w", err)
		}
	case NodeAudioCtl, NodeMixer:
	default:
		return nil, fmt.Errorf("open failed: node %#x: %w", int(node), ErrNoDevice)
	}

	d.files[f] = struct{}{}
	d.log.Debug("open", "file", f.id, "node", node.String(), "mode", fmt.Sprintf("%#x", uint32(f.mode)), "pid", proc.PID)

	return f, nil
}

func (d *Device) openTracks(f *File) error {
	mode := d.mode2aumode(f.flags)
	if mode == 0 {
		return ErrNoDevice
	}
	play := mode&AUMODE_PLAY != 0
	rec := mode&AUMODE_RECORD != 0

	if !d.fullDuplex() && ((play && d.ropens > 0) || (rec && d.popens > 0)) {
		return fmt.Errorf("half duplex device in use by the other direction: %w", ErrNoDevice)
	}
	if d.popens+d.ropens > 0 && !d.multiuser && f.proc.UID != d.ownerUID && f.proc.UID != 0 {
		return ErrAlreadyOpen
	}
	if play && d.passthroughActive() {
		return fmt.Errorf("pass-through stream active: %w", ErrDeviceBusy)
	}

	pfmt, rfmt := DefaultFormat, DefaultFormat
	ppause, rpause := false, false
	if f.node == NodeSound {
		pfmt, rfmt = d.sticky.play, d.sticky.rec
		ppause, rpause = d.sticky.ppause, d.sticky.rpause
	}

	var ptrack, rtrack *Track
	if play {
		d.trackID++
		t, err := newTrack(d.pmixer, AUMODE_PLAY, d.trackID)
		if err != nil {
			return err
		}
		if err := d.setTrackFormat(t, pfmt); err != nil {
			d.log.Debug("sticky play format rejected, using default", "format", pfmt.String(), "err", err)
		}
		t.paused = ppause
		t.playAll = mode&AUMODE_PLAY_ALL != 0
		ptrack = t
	}
	if rec {
		d.trackID++
		t, err := newTrack(d.rmixer, AUMODE_RECORD, d.trackID)
		if err != nil {
			return err
		}
		if err := d.setTrackFormat(t, rfmt); err != nil {
			d.log.Debug("sticky record format rejected, using default", "format", rfmt.String(), "err", err)
		}
		t.paused = rpause
		rtrack = t
	}

	if d.popens+d.ropens == 0 {
		if err := d.hw.Open(d.hwOpenMode(mode)); err != nil {
			return fmt.Errorf("hardware open failed: %w", err)
		}
		d.ownerUID = f.proc.UID
	}

	f.mode = mode
	f.ptrack, f.rtrack = ptrack, rtrack
	if ptrack != nil {
		d.pmixer.attach(ptrack)
		d.popens++
	}
	if rtrack != nil {
		d.rmixer.attach(rtrack)
		d.ropens++
		d.intrLock.Lock()
		d.rmixer.startInput()
		d.intrLock.Unlock()
	}

	return nil
}

// setTrackFormat installs f on t, switching the hardware for pass-through encodings.
// Caller holds the thread lock.
func (d *Device) setTrackFormat(t *Track, f Format) error {
	f = f.normalize()
	if f.Encoding.IsCompressed() && !d.advertises(t.mode, f.Encoding) {
		return fmt.Errorf("%s not supported by hardware: %w", f.Encoding, ErrUnsupportedFormat)
	}
	if f.Encoding.IsCompressed() && d.pmixer.numTracks() > 1 {
		return fmt.Errorf("pass-through needs exclusive playback: %w", ErrDeviceBusy)
	}

	old := t.usrfmt
	wasPass := t.passthrough

	d.intrLock.Lock()
	err := t.setFormat(f)
	d.intrLock.Unlock()
	if err != nil {
		return err
	}

	switch {
	case t.passthrough && (!wasPass || old != t.usrfmt):
		err = d.hw.SetFormat(AUMODE_PLAY, f, d.rfmt)
	case wasPass && !t.passthrough:
		err = d.hw.SetFormat(AUMODE_PLAY, d.pfmt, d.rfmt)
	}
	if err != nil {
		return fmt.Errorf("set hardware format failed: %w", err)
	}

	return nil
}

func (d *Device) passthroughActive() bool {
	if d.pmixer == nil {
		return false
	}
	for _, t := range *d.pmixer.tracks.Load() {
		if t.passthrough {
			return true
		}
	}

	return false
}

// drainTrack waits until everything t buffered has been played. Caller holds the thread lock.
func (d *Device) drainTrack(ctx context.Context, f *File, t *Track) error {
	if t.paused {
		return nil
	}
	m := t.mixer
	timeout := t.drainTimeout()

	d.intrLock.Lock()
	t.draining = true
	m.start()
	d.intrLock.Unlock()

	defer func() {
		d.intrLock.Lock()
		t.draining = false
		t.started = false
		d.intrLock.Unlock()
	}()

	for {
		d.intrLock.Lock()
		done := t.usrbuf.Used() == 0 && t.chainEmpty() && t.seq <= m.hwseq
		failed := m.failed
		ch := t.wq.wait()
		d.intrLock.Unlock()

		if done {
			return nil
		}
		if failed != nil || d.dying {
			return ErrIO
		}
		if f != nil && f.closing {
			return ErrIO
		}

		err := sleep(ctx, &d.lock, ch, timeout)
		if errors.Is(err, errTimeout) {
			d.log.Warn("drain timeout", "track", t.id, "seq", t.seq, "hwseq", m.hwseq)
			return ErrIO
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInterrupted, err)
		}
	}
}

// close releases the tracks of f. Caller holds the thread lock.
func (d *Device) closeTracks(f *File) {
	if t := f.rtrack; t != nil {
		d.rmixer.detach(t)
		d.ropens--
		d.intrLock.Lock()
		f.rtrack = nil
		if d.ropens == 0 || !d.rmixer.recording() {
			d.rmixer.halt()
		}
		d.intrLock.Unlock()
	}

	if t := f.ptrack; t != nil {
		if !d.dying {
			if err := d.drainTrack(context.Background(), nil, t); err != nil {
				d.log.Debug("drain on close failed", "file", f.id, "err", err)
			}
		}
		d.pmixer.detach(t)
		d.popens--
		d.intrLock.Lock()
		f.ptrack = nil
		if d.popens == 0 {
			d.pmixer.halt()
		}
		d.intrLock.Unlock()
		if t.passthrough {
			if err := d.hw.SetFormat(AUMODE_PLAY, d.pfmt, d.rfmt); err != nil {
				d.log.Warn("restore hardware format failed", "err", err)
			}
		}
	}

	if d.popens+d.ropens == 0 && !d.dying {
		if err := d.hw.Close(); err != nil {
			d.log.Warn("hardware close failed", "err", err)
		}
		d.intrLock.Lock()
		for _, m := range []*trackMixer{d.pmixer, d.rmixer} {
			if m != nil && !errors.Is(m.failed, ErrDeviceGone) {
				m.failed = nil
			}
		}
		d.intrLock.Unlock()
	}
}

// publishAsync refreshes the list of files the completion callbacks signal. Caller holds the thread lock.
func (d *Device) publishAsync() {
	list := make([]*File, 0)
	for f := range d.files {
		if f.async && (f.ptrack != nil || f.rtrack != nil) {
			list = append(list, f)
		}
	}
	d.asyncFiles.Store(&list)
}

// notifyAsync sends SIGIO to async files whose track in mode became ready.
// Called with the interrupt lock held; closeTracks clears the track pointers under it.
func (d *Device) notifyAsync(mode Mode) {
	for _, f := range *d.asyncFiles.Load() {
		var ready bool
		if pt := f.ptrack; mode == AUMODE_PLAY && pt != nil {
			ready = pt.usrbuf.Free() >= pt.usrBlkFrames
		}
		if rt := f.rtrack; mode == AUMODE_RECORD && rt != nil {
			ready = rt.usrbuf.Used() > 0
		}
		if ready {
			signalProc(f.proc, syscall.SIGIO)
		}
	}
}

func signalProc(p Proc, sig os.Signal) {
	if p.Signals == nil {
		return
	}
	select {
	case p.Signals <- sig:
	default:
	}
}

// Suspend saves the mixer controls and stops the hardware.
func (d *Device) Suspend() error {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.intrLock.Lock()
	for _, m := range []*trackMixer{d.pmixer, d.rmixer} {
		if m != nil {
			m.suspended = true
			m.halt()
		}
	}
	d.intrLock.Unlock()

	if err := d.mixer.save(d.hw); err != nil {
		return fmt.Errorf("suspend failed: %w", err)
	}
	d.log.Debug("suspended")

	return nil
}

// Resume restores the mixer controls and restarts the mixers that have work.
func (d *Device) Resume() error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if err := d.mixer.restore(d.hw); err != nil {
		return fmt.Errorf("resume failed: %w", err)
	}

	d.intrLock.Lock()
	if d.pmixer != nil {
		d.pmixer.suspended = false
		d.pmixer.start()
	}
	if d.rmixer != nil {
		d.rmixer.suspended = false
		d.rmixer.startInput()
	}
	d.intrLock.Unlock()
	d.log.Debug("resumed")

	return nil
}

// Detach tears the device down. Blocked callers return ErrIO and further operations
// return ErrDeviceGone.
func (d *Device) Detach() error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.dying {
		return nil
	}
	d.dying = true

	d.intrLock.Lock()
	for _, m := range []*trackMixer{d.pmixer, d.rmixer} {
		if m != nil {
			m.halt()
			m.failed = ErrDeviceGone
			m.wakeTracks()
		}
	}
	d.intrLock.Unlock()

	for f := range d.files {
		f.idle.broadcast()
	}

	var err error
	if d.popens+d.ropens > 0 {
		err = d.hw.Close()
	}
	d.log.Info("audio device detached")

	return err
}

// Stats returns the counters of the playback and record mixers. A missing direction
// is reported as the zero value.
func (d *Device) Stats() (play, rec MixerStats) {
	d.intrLock.Lock()
	defer d.intrLock.Unlock()

	if d.pmixer != nil {
		play = d.pmixer.stats()
	}
	if d.rmixer != nil {
		rec = d.rmixer.stats()
	}

	return play, rec
}

// Props returns the device properties.
func (d *Device) Props() Props {
	return d.props
}
