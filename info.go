package audiodev

import (
	"fmt"
)

// PrInfo is the per-direction half of Info.
type PrInfo struct {
	SampleRate uint
	Channels   uint
	Precision  uint
	Encoding   Encoding
	Gain       uint // Track volume, 0..255.
	Port       uint
	AvailPorts uint
	Seek       uint   // User bytes queued in the user ring.
	Samples    uint64 // User bytes transferred through the user ring.
	EOF        uint64 // Zero length writes.
	Pause      uint8
	Error      uint64 // Frames dropped by overruns and underruns.
	Waiting    uint8
	Balance    uint8
	Open       uint8
	Active     uint8
	BufferSize uint
}

// Info is the argument of AUDIO_GETINFO and AUDIO_SETINFO.
type Info struct {
	Play        PrInfo
	Record      PrInfo
	MonitorGain uint
	Blocksize   uint
	Hiwat       uint
	Lowat       uint
	Mode        Mode
}

const (
	unset   = ^uint(0)
	unset8  = uint8(0xff)
	unset64 = ^uint64(0)
)

// InitInfo marks every field of info as unspecified, so that AUDIO_SETINFO leaves it alone.
func InitInfo(info *Info) {
	for _, p := range []*PrInfo{&info.Play, &info.Record} {
		*p = PrInfo{
			SampleRate: unset,
			Channels:   unset,
			Precision:  unset,
			Encoding:   Encoding(^uint32(0)),
			Gain:       unset,
			Port:       unset,
			AvailPorts: unset,
			Seek:       unset,
			Samples:    unset64,
			EOF:        unset64,
			Pause:      unset8,
			Error:      unset64,
			Waiting:    unset8,
			Balance:    unset8,
			Open:       unset8,
			Active:     unset8,
			BufferSize: unset,
		}
	}
	info.MonitorGain = unset
	info.Blocksize = unset
	info.Hiwat = unset
	info.Lowat = unset
	info.Mode = Mode(^uint32(0))
}

// apply returns cur with the specified format fields of p.
func (p *PrInfo) apply(cur Format) Format {
	f := cur
	if p.Encoding != Encoding(^uint32(0)) {
		f.Encoding = p.Encoding
	}
	if p.Precision != unset {
		f.Precision = p.Precision
		f.Stride = p.Precision
	}
	if p.Channels != unset {
		f.Channels = p.Channels
	}
	if p.SampleRate != unset {
		f.SampleRate = p.SampleRate
	}
	if f.Encoding == AUDIO_ENCODING_ADPCM {
		f.Precision, f.Stride = 4, 4
	}

	return f
}

// fillFormat copies a format into the format fields of p.
func (p *PrInfo) fillFormat(f Format) {
	p.SampleRate = f.SampleRate
	p.Channels = f.Channels
	p.Precision = f.Precision
	p.Encoding = f.Encoding
}

// selectors names the mixer controls behind the port fields.
var selectors = map[Mode][2]string{
	AUMODE_PLAY:   {"outputs", "select"},
	AUMODE_RECORD: {"record", "source"},
}

// getInfo fills info from the live state of f. Caller holds the thread lock.
func (d *Device) getInfo(f *File, info *Info, buffersOnly bool) {
	*info = Info{}
	if !buffersOnly {
		for mode, p := range map[Mode]*PrInfo{AUMODE_PLAY: &info.Play, AUMODE_RECORD: &info.Record} {
			sel := selectors[mode]
			p.Port, p.AvailPorts = d.port(sel[0], sel[1])
		}
		if g := d.portGain("monitor", "output"); g >= 0 {
			info.MonitorGain = uint(g)
		}
	}

	d.intrLock.Lock()
	defer d.intrLock.Unlock()

	fill := func(p *PrInfo, t *Track, m *trackMixer, mode Mode, sticky Format, pause bool) {
		if t == nil {
			p.fillFormat(sticky)
			p.Pause = boolByte(pause)
			p.Gain = AUDIO_MAX_GAIN
			p.Balance = AUDIO_MID_BALANCE
			return
		}
		p.Seek = t.usrbuf.Bytes()
		p.Samples = t.usrOut
		if mode == AUMODE_RECORD {
			p.Samples = t.inputCounter
		} else {
			p.Seek += uint(t.subUsed)
		}
		p.EOF = t.eof
		p.Error = t.dropFrames
		p.BufferSize = t.usrbuf.fmt.FramesToBytes(t.usrbuf.Capacity())
		p.Active = boolByte(m.busy)
		p.Open = 1
		p.Pause = boolByte(t.paused)
		if buffersOnly {
			return
		}
		p.fillFormat(t.usrfmt)
		p.Gain = volumeToOuter(t.volume)
		p.Balance = uint8(t.balance)
	}

	fill(&info.Play, f.ptrack, d.pmixer, AUMODE_PLAY, d.sticky.play, d.sticky.ppause)
	fill(&info.Record, f.rtrack, d.rmixer, AUMODE_RECORD, d.sticky.rec, d.sticky.rpause)
	if buffersOnly {
		return
	}

	info.Mode = f.mode
	info.Lowat = 1
	info.Hiwat = d.usrBlocks()
	if t := f.ptrack; t != nil {
		info.Blocksize = t.blockBytes()
	} else if t := f.rtrack; t != nil {
		info.Blocksize = t.blockBytes()
	}
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}

	return 0
}

// trackState is what setInfo may change on a track, for rollback.
type trackState struct {
	format  Format
	paused  bool
	volume  uint
	balance uint
	playAll bool
}

func saveTrack(t *Track) trackState {
	return trackState{format: t.usrfmt, paused: t.paused, volume: t.volume, balance: t.balance, playAll: t.playAll}
}

// setInfo validates and applies the specified fields of info. On any failure everything
// is restored to the state before the call. Caller holds the thread lock.
func (d *Device) setInfo(f *File, info *Info) error {
	tracks := map[Mode]*Track{AUMODE_PLAY: f.ptrack, AUMODE_RECORD: f.rtrack}
	prinfo := map[Mode]*PrInfo{AUMODE_PLAY: &info.Play, AUMODE_RECORD: &info.Record}
	saved := make(map[Mode]trackState)
	for mode, t := range tracks {
		if t != nil {
			saved[mode] = saveTrack(t)
		}
	}
	oldMode := f.mode

	rollback := func() {
		for mode, s := range saved {
			t := tracks[mode]
			if t.usrfmt != s.format {
				if err := d.setTrackFormat(t, s.format); err != nil {
					d.log.Error("set info rollback failed", "file", f.id, "track", t.id, "err", err)
				}
			}
			d.intrLock.Lock()
			t.paused, t.volume, t.balance, t.playAll = s.paused, s.volume, s.balance, s.playAll
			d.intrLock.Unlock()
		}
		f.mode = oldMode
	}

	// Validate everything that does not touch the hardware first.
	for mode, p := range prinfo {
		if p.Gain != unset && p.Gain > AUDIO_MAX_GAIN {
			return fmt.Errorf("set info failed: gain %d: %w", p.Gain, ErrInvalidParameter)
		}
		if p.Balance != unset8 && p.Balance > 2*AUDIO_MID_BALANCE {
			return fmt.Errorf("set info failed: balance %d: %w", p.Balance, ErrInvalidParameter)
		}
		if t := tracks[mode]; t != nil {
			nf := p.apply(t.usrfmt).normalize()
			if !nf.Encoding.IsCompressed() {
				if err := nf.Validate(); err != nil {
					return fmt.Errorf("set info failed: %w", err)
				}
			}
		}
	}
	if info.MonitorGain != unset && info.MonitorGain > AUDIO_MAX_GAIN {
		return fmt.Errorf("set info failed: monitor gain %d: %w", info.MonitorGain, ErrInvalidParameter)
	}

	for _, mode := range []Mode{AUMODE_PLAY, AUMODE_RECORD} {
		t := tracks[mode]
		if t == nil {
			continue
		}
		p := prinfo[mode]
		nf := p.apply(t.usrfmt).normalize()
		if nf != t.usrfmt {
			if err := d.setTrackFormat(t, nf); err != nil {
				rollback()
				return fmt.Errorf("set info failed: %w", err)
			}
			d.log.Debug("track format", "file", f.id, "track", t.id, "format", nf.String(), "filters", t.Filters())
		}

		d.intrLock.Lock()
		if p.Gain != unset {
			t.volume = volumeToInner(p.Gain)
		}
		if p.Balance != unset8 {
			t.balance = uint(p.Balance)
		}
		if p.Pause != unset8 {
			t.paused = p.Pause != 0
		}
		d.intrLock.Unlock()
	}

	// The directions of an open are fixed; only PLAY_ALL can change, and only when playing.
	if info.Mode != Mode(^uint32(0)) && f.mode&AUMODE_PLAY != 0 {
		f.mode = f.mode&(AUMODE_PLAY|AUMODE_RECORD) | info.Mode&AUMODE_PLAY_ALL
		if t := f.ptrack; t != nil {
			d.intrLock.Lock()
			t.playAll = f.mode&AUMODE_PLAY_ALL != 0
			d.intrLock.Unlock()
		}
	}

	// Mixer backed fields last. A failure here still restores the tracks.
	for mode, p := range prinfo {
		if p.Port == unset || tracks[mode] == nil {
			continue
		}
		sel := selectors[mode]
		if err := d.setPort(sel[0], sel[1], p.Port); err != nil {
			rollback()
			return fmt.Errorf("set info failed: %w", err)
		}
	}
	if info.MonitorGain != unset {
		if err := d.setPortGain("monitor", "output", info.MonitorGain); err != nil {
			rollback()
			return fmt.Errorf("set info failed: %w", err)
		}
	}

	// Sticky parameters follow every successful SETINFO.
	if t := f.ptrack; t != nil {
		d.sticky.play, d.sticky.ppause = t.usrfmt, t.paused
	}
	if t := f.rtrack; t != nil {
		d.sticky.rec, d.sticky.rpause = t.usrfmt, t.paused
	}

	d.intrLock.Lock()
	if t := f.ptrack; t != nil && !t.paused && t.usrbuf.Used() > 0 {
		d.pmixer.start()
	}
	if t := f.rtrack; t != nil && !t.paused {
		d.rmixer.startInput()
	}
	d.intrLock.Unlock()

	return nil
}

// AUDIO_ENCODINGFLAG_EMULATED marks encodings that are converted in software.
const AUDIO_ENCODINGFLAG_EMULATED = 1

// EncodingInfo is one entry of the AUDIO_GETENC enumeration.
type EncodingInfo struct {
	Index     int
	Name      string
	Encoding  Encoding
	Precision uint
	Flags     uint
}

var softEncodings = []struct {
	enc  Encoding
	prec uint
}{
	{AUDIO_ENCODING_ULAW, 8},
	{AUDIO_ENCODING_ALAW, 8},
	{AUDIO_ENCODING_SLINEAR_LE, 8},
	{AUDIO_ENCODING_ULINEAR_LE, 8},
	{AUDIO_ENCODING_SLINEAR_LE, 16},
	{AUDIO_ENCODING_SLINEAR_BE, 16},
	{AUDIO_ENCODING_ULINEAR_LE, 16},
	{AUDIO_ENCODING_ULINEAR_BE, 16},
	{AUDIO_ENCODING_SLINEAR_LE, 24},
	{AUDIO_ENCODING_SLINEAR_BE, 24},
	{AUDIO_ENCODING_ULINEAR_LE, 24},
	{AUDIO_ENCODING_ULINEAR_BE, 24},
	{AUDIO_ENCODING_SLINEAR_LE, 32},
	{AUDIO_ENCODING_SLINEAR_BE, 32},
	{AUDIO_ENCODING_ULINEAR_LE, 32},
	{AUDIO_ENCODING_ULINEAR_BE, 32},
	{AUDIO_ENCODING_ADPCM, 4},
}

// encodings lists every encoding an open can select, software conversions first,
// then compressed encodings the hardware takes directly.
func (d *Device) encodings() []EncodingInfo {
	native := func(e Encoding, prec uint) bool {
		for _, desc := range d.formats {
			if desc.Encoding == e && desc.Precision == prec {
				return true
			}
		}
		return false
	}

	var list []EncodingInfo
	for _, se := range softEncodings {
		ei := EncodingInfo{Index: len(list), Name: se.enc.String(), Encoding: se.enc, Precision: se.prec}
		if !native(se.enc, se.prec) {
			ei.Flags = AUDIO_ENCODINGFLAG_EMULATED
		}
		list = append(list, ei)
	}
	for _, desc := range d.formats {
		if desc.Encoding.IsCompressed() && desc.Mode&AUMODE_PLAY != 0 {
			list = append(list, EncodingInfo{Index: len(list), Name: desc.Encoding.String(), Encoding: desc.Encoding, Precision: desc.Precision})
		}
	}

	return list
}
