package audiodev

import (
	"errors"
	"fmt"
	"slices"
	"syscall"
)

// mixerSnapshot is the control graph of the backend plus the last known value of each control.
type mixerSnapshot struct {
	devinfo []MixerDevinfo
	values  []MixerCtrl
}

// newMixerSnapshot enumerates the controls of hw and reads their values.
func newMixerSnapshot(hw HWBackend) (*mixerSnapshot, error) {
	s := &mixerSnapshot{}
	for i := 0; ; i++ {
		di, err := hw.QueryDevinfo(i)
		if err != nil {
			if errors.Is(err, ErrInvalidParameter) {
				break
			}

			return nil, fmt.Errorf("query devinfo %d failed: %w", i, err)
		}
		di.Index = i
		s.devinfo = append(s.devinfo, di)
	}

	s.values = make([]MixerCtrl, len(s.devinfo))
	if err := s.save(hw); err != nil {
		return nil, err
	}

	return s, nil
}

func newCtrl(di MixerDevinfo) MixerCtrl {
	c := MixerCtrl{Dev: di.Index, Type: di.Type}
	if di.Type == AUDIO_MIXER_VALUE {
		c.Levels = make([]uint8, max(di.Value.NumChannels, 1))
	}

	return c
}

// save reads every control from hw.
func (s *mixerSnapshot) save(hw HWBackend) error {
	for i, di := range s.devinfo {
		if di.Type == AUDIO_MIXER_CLASS {
			continue
		}
		c := newCtrl(di)
		if err := hw.GetPort(&c); err != nil {
			return fmt.Errorf("get port %q failed: %w", di.Label, err)
		}
		s.values[i] = c
	}

	return nil
}

// restore writes every saved control back to hw.
func (s *mixerSnapshot) restore(hw HWBackend) error {
	for i, di := range s.devinfo {
		if di.Type == AUDIO_MIXER_CLASS {
			continue
		}
		c := s.values[i]
		c.Levels = slices.Clone(c.Levels)
		if err := hw.SetPort(&c); err != nil {
			return fmt.Errorf("set port %q failed: %w", di.Label, err)
		}
	}
	if sc, ok := hw.(SettingsCommitter); ok {
		if err := sc.CommitSettings(); err != nil {
			return fmt.Errorf("commit settings failed: %w", err)
		}
	}

	return nil
}

// className returns the label of the class control di belongs to.
func (s *mixerSnapshot) className(di MixerDevinfo) string {
	if di.Class >= 0 && di.Class < len(s.devinfo) {
		return s.devinfo[di.Class].Label
	}

	return ""
}

// lookup finds a control by class and label, as in "outputs" and "master".
func (s *mixerSnapshot) lookup(class, label string) (MixerDevinfo, bool) {
	for _, di := range s.devinfo {
		if di.Type == AUDIO_MIXER_CLASS || di.Label != label {
			continue
		}
		if s.className(di) == class {
			return di, true
		}
	}

	return MixerDevinfo{}, false
}

// name returns the "class.label" name of a control.
func (s *mixerSnapshot) name(di MixerDevinfo) string {
	if c := s.className(di); c != "" && di.Type != AUDIO_MIXER_CLASS {
		return c + "." + di.Label
	}

	return di.Label
}

// checkCtrl validates c against the control it addresses.
func (s *mixerSnapshot) checkCtrl(c *MixerCtrl) (MixerDevinfo, error) {
	if c == nil || c.Dev < 0 || c.Dev >= len(s.devinfo) {
		return MixerDevinfo{}, ErrInvalidParameter
	}
	di := s.devinfo[c.Dev]
	if di.Type == AUDIO_MIXER_CLASS || c.Type != di.Type {
		return di, ErrInvalidParameter
	}
	if di.Type == AUDIO_MIXER_VALUE && (len(c.Levels) == 0 || len(c.Levels) > max(di.Value.NumChannels, 1)) {
		return di, ErrInvalidParameter
	}

	return di, nil
}

// mixerRead reads one control through the backend. Caller holds the thread lock.
func (d *Device) mixerRead(c *MixerCtrl) error {
	if _, err := d.mixer.checkCtrl(c); err != nil {
		return fmt.Errorf("mixer read failed: %w", err)
	}
	if err := d.hw.GetPort(c); err != nil {
		return fmt.Errorf("mixer read failed: %w", err)
	}

	return nil
}

// mixerWrite writes one control, commits it, updates the snapshot and signals
// mixer listeners. Caller holds the thread lock.
func (d *Device) mixerWrite(c *MixerCtrl, from *File) error {
	di, err := d.mixer.checkCtrl(c)
	if err != nil {
		return fmt.Errorf("mixer write failed: %w", err)
	}
	if err := d.hw.SetPort(c); err != nil {
		return fmt.Errorf("mixer write failed: %w", err)
	}
	if sc, ok := d.hw.(SettingsCommitter); ok {
		if err := sc.CommitSettings(); err != nil {
			return fmt.Errorf("commit settings failed: %w", err)
		}
	}

	v := *c
	v.Levels = slices.Clone(c.Levels)
	if di.Type == AUDIO_MIXER_VALUE && len(v.Levels) < max(di.Value.NumChannels, 1) {
		// A single level sets all channels.
		lv := v.Levels[0]
		v.Levels = make([]uint8, di.Value.NumChannels)
		for i := range v.Levels {
			v.Levels[i] = lv
		}
	}
	d.mixer.values[c.Dev] = v
	d.mixerSignal(from)

	return nil
}

// mixerDevinfo returns the description of control index.
func (d *Device) mixerDevinfo(index int) (MixerDevinfo, error) {
	if index < 0 || index >= len(d.mixer.devinfo) {
		return MixerDevinfo{}, ErrInvalidParameter
	}
	di := d.mixer.devinfo[index]
	di.Members = slices.Clone(di.Members)

	return di, nil
}

// mixerSignal sends SIGIO to every /dev/mixer file that enabled it, except the writer.
func (d *Device) mixerSignal(from *File) {
	for _, f := range d.mixerAsync {
		if f != from {
			signalProc(f.proc, syscall.SIGIO)
		}
	}
}

func (d *Device) setMixerAsync(f *File, on bool) {
	d.mixerAsync = slices.DeleteFunc(d.mixerAsync, func(x *File) bool { return x == f })
	if on {
		d.mixerAsync = append(d.mixerAsync, f)
	}
}

// portGain reads the first level of a value control, or -1 if the control is missing.
func (d *Device) portGain(class, label string) int {
	di, ok := d.mixer.lookup(class, label)
	if !ok || di.Type != AUDIO_MIXER_VALUE {
		return -1
	}
	c := newCtrl(di)
	if err := d.hw.GetPort(&c); err != nil {
		return -1
	}

	return int(c.Levels[0])
}

func (d *Device) setPortGain(class, label string, gain uint) error {
	di, ok := d.mixer.lookup(class, label)
	if !ok || di.Type != AUDIO_MIXER_VALUE {
		return fmt.Errorf("no %s.%s control: %w", class, label, ErrInvalidParameter)
	}
	c := newCtrl(di)
	for i := range c.Levels {
		c.Levels[i] = uint8(gain)
	}

	return d.mixerWrite(&c, nil)
}

// port returns the selected port mask of an enum or set selector, and the mask of all choices.
func (d *Device) port(class, label string) (uint, uint) {
	di, ok := d.mixer.lookup(class, label)
	if !ok || (di.Type != AUDIO_MIXER_ENUM && di.Type != AUDIO_MIXER_SET) {
		return 0, 0
	}
	var avail uint
	for _, m := range di.Members {
		avail |= portBit(di, m)
	}
	c := newCtrl(di)
	if err := d.hw.GetPort(&c); err != nil {
		return 0, avail
	}
	if di.Type == AUDIO_MIXER_SET {
		return uint(c.Mask), avail
	}
	for _, m := range di.Members {
		if m.Ord == c.Ord {
			return portBit(di, m), avail
		}
	}

	return 0, avail
}

// portBit maps an enum ordinal onto a mask bit, so that enum and set ports look alike.
func portBit(di MixerDevinfo, m MixerMember) uint {
	if di.Type == AUDIO_MIXER_SET {
		return uint(m.Ord)
	}

	return 1 << uint(m.Ord)
}

func (d *Device) setPort(class, label string, port uint) error {
	di, ok := d.mixer.lookup(class, label)
	if !ok || (di.Type != AUDIO_MIXER_ENUM && di.Type != AUDIO_MIXER_SET) {
		return fmt.Errorf("no %s.%s selector: %w", class, label, ErrInvalidParameter)
	}
	c := newCtrl(di)
	if di.Type == AUDIO_MIXER_SET {
		var all uint
		for _, m := range di.Members {
			all |= uint(m.Ord)
		}
		if port&^all != 0 {
			return fmt.Errorf("port %#x: %w", port, ErrInvalidParameter)
		}
		c.Mask = int(port)

		return d.mixerWrite(&c, nil)
	}
	for _, m := range di.Members {
		if portBit(di, m) == port {
			c.Ord = m.Ord

			return d.mixerWrite(&c, nil)
		}
	}

	return fmt.Errorf("port %#x: %w", port, ErrInvalidParameter)
}
