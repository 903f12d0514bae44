package audiodev

import (
	"fmt"
	"sort"
	"strings"
)

// Sysctl names of a device. Mixer controls appear as "mixer.<class>.<label>".
const (
	SysctlMultiuser    = "multiuser"
	SysctlBlkMs        = "blk_ms"
	SysctlBufferSize   = "buffer_size"
	SysctlUsrbufBlocks = "usrbuf_blocks"

	sysctlMixerPrefix = "mixer."
)

// SysctlNames lists the sysctl nodes of the device.
func (d *Device) SysctlNames() []string {
	d.lock.Lock()
	defer d.lock.Unlock()

	names := []string{SysctlMultiuser, SysctlBlkMs, SysctlBufferSize, SysctlUsrbufBlocks}
	var mixer []string
	for _, di := range d.mixer.devinfo {
		if di.Type == AUDIO_MIXER_VALUE || di.Type == AUDIO_MIXER_ENUM {
			mixer = append(mixer, sysctlMixerPrefix+d.mixer.name(di))
		}
	}
	sort.Strings(mixer)

	return append(names, mixer...)
}

// Sysctl reads one sysctl node.
func (d *Device) Sysctl(name string) (int, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	switch name {
	case SysctlMultiuser:
		return int(boolByte(d.multiuser)), nil
	case SysctlBlkMs:
		return int(d.blkMs), nil
	case SysctlBufferSize:
		m := d.pmixer
		if m == nil {
			m = d.rmixer
		}
		return int(m.hwbuf.fmt.FramesToBytes(m.hwbuf.Capacity())), nil
	case SysctlUsrbufBlocks:
		return int(d.usrBlocks()), nil
	}

	if label, ok := strings.CutPrefix(name, sysctlMixerPrefix); ok {
		for i, di := range d.mixer.devinfo {
			if d.mixer.name(di) != label {
				continue
			}
			v := d.mixer.values[i]
			switch di.Type {
			case AUDIO_MIXER_VALUE:
				return int(v.Levels[0]), nil
			case AUDIO_MIXER_ENUM:
				return v.Ord, nil
			}
		}
	}

	return 0, fmt.Errorf("sysctl %q: %w", name, ErrInvalidParameter)
}

// SetSysctl writes one sysctl node. blk_ms can only change while the device is closed.
func (d *Device) SetSysctl(name string, value int) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	switch name {
	case SysctlMultiuser:
		d.multiuser = value != 0
		return nil
	case SysctlBlkMs:
		if value < 1 || value > 1000 {
			return fmt.Errorf("sysctl blk_ms %d: %w", value, ErrInvalidParameter)
		}
		if d.popens+d.ropens > 0 {
			return fmt.Errorf("sysctl blk_ms: %w", ErrDeviceBusy)
		}
		old := d.blkMs
		d.blkMs = uint(value)
		if err := d.buildMixers(); err != nil {
			d.blkMs = old
			if rerr := d.buildMixers(); rerr != nil {
				d.log.Error("rebuild mixers failed", "err", rerr)
			}
			return fmt.Errorf("sysctl blk_ms: %w", err)
		}
		d.log.Debug("block size changed", "blk_ms", d.blkMs)
		return nil
	case SysctlBufferSize, SysctlUsrbufBlocks:
		return fmt.Errorf("sysctl %s is read-only: %w", name, ErrPermission)
	}
	if strings.HasPrefix(name, sysctlMixerPrefix) {
		return fmt.Errorf("sysctl %s is read-only: %w", name, ErrPermission)
	}

	return fmt.Errorf("sysctl %q: %w", name, ErrInvalidParameter)
}
