package loopback

import (
	"fmt"
	"slices"

	"github.com/gen2brain/audiodev"
)

// Control indexes.
const (
	ClassOutputs = iota
	ClassInputs
	ClassRecord
	ClassMonitor
	OutputsMaster
	InputsDAC
	RecordSource
	RecordVolume
	MonitorOutput
	OutputsSelect
)

// Record sources and output ports, as enum ordinals.
const (
	SourceMic = iota
	SourceLine
	SourceCD
)

const (
	PortSpeaker = iota
	PortHeadphones
)

func class(index int, label string) audiodev.MixerDevinfo {
	return audiodev.MixerDevinfo{
		Index: index,
		Type:  audiodev.AUDIO_MIXER_CLASS,
		Class: index,
		Label: label,
		Next:  audiodev.AUDIO_MIXER_LAST,
		Prev:  audiodev.AUDIO_MIXER_LAST,
	}
}

func value(index, cls int, label string, channels int) audiodev.MixerDevinfo {
	return audiodev.MixerDevinfo{
		Index: index,
		Type:  audiodev.AUDIO_MIXER_VALUE,
		Class: cls,
		Label: label,
		Next:  audiodev.AUDIO_MIXER_LAST,
		Prev:  audiodev.AUDIO_MIXER_LAST,
		Value: audiodev.MixerValueInfo{Units: "volume", NumChannels: channels, Delta: 8},
	}
}

func enum(index, cls int, label string, members ...string) audiodev.MixerDevinfo {
	di := audiodev.MixerDevinfo{
		Index: index,
		Type:  audiodev.AUDIO_MIXER_ENUM,
		Class: cls,
		Label: label,
		Next:  audiodev.AUDIO_MIXER_LAST,
		Prev:  audiodev.AUDIO_MIXER_LAST,
	}
	for i, m := range members {
		di.Members = append(di.Members, audiodev.MixerMember{Label: m, Ord: i})
	}

	return di
}

// defaultControls builds the control graph: output master, DAC input, record source and
// volume, monitor gain and output port.
func defaultControls() ([]audiodev.MixerDevinfo, map[int]audiodev.MixerCtrl) {
	devinfo := []audiodev.MixerDevinfo{
		class(ClassOutputs, "outputs"),
		class(ClassInputs, "inputs"),
		class(ClassRecord, "record"),
		class(ClassMonitor, "monitor"),
		value(OutputsMaster, ClassOutputs, "master", 2),
		value(InputsDAC, ClassInputs, "dac", 2),
		enum(RecordSource, ClassRecord, "source", "mic", "line", "cd"),
		value(RecordVolume, ClassRecord, "volume", 2),
		value(MonitorOutput, ClassMonitor, "output", 1),
		enum(OutputsSelect, ClassOutputs, "select", "speaker", "headphones"),
	}

	values := make(map[int]audiodev.MixerCtrl)
	for _, di := range devinfo {
		c := audiodev.MixerCtrl{Dev: di.Index, Type: di.Type}
		switch di.Type {
		case audiodev.AUDIO_MIXER_CLASS:
			continue
		case audiodev.AUDIO_MIXER_VALUE:
			c.Levels = make([]uint8, di.Value.NumChannels)
			for i := range c.Levels {
				c.Levels[i] = 192
			}
		}
		values[di.Index] = c
	}

	mon := values[MonitorOutput]
	mon.Levels[0] = 0
	values[MonitorOutput] = mon

	return devinfo, values
}

// QueryDevinfo implements audiodev.HWBackend.
func (d *Device) QueryDevinfo(index int) (audiodev.MixerDevinfo, error) {
	if index < 0 || index >= len(d.devinfo) {
		return audiodev.MixerDevinfo{}, audiodev.ErrInvalidParameter
	}
	di := d.devinfo[index]
	di.Members = slices.Clone(di.Members)

	return di, nil
}

// GetPort implements audiodev.HWBackend.
func (d *Device) GetPort(ctrl *audiodev.MixerCtrl) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, ok := d.values[ctrl.Dev]
	if !ok || v.Type != ctrl.Type {
		return fmt.Errorf("loopback: control %d: %w", ctrl.Dev, audiodev.ErrInvalidParameter)
	}
	switch v.Type {
	case audiodev.AUDIO_MIXER_VALUE:
		n := len(ctrl.Levels)
		if n == 0 || n > len(v.Levels) {
			return fmt.Errorf("loopback: control %d: %d channels: %w", ctrl.Dev, n, audiodev.ErrInvalidParameter)
		}
		copy(ctrl.Levels, v.Levels)
	case audiodev.AUDIO_MIXER_ENUM:
		ctrl.Ord = v.Ord
	case audiodev.AUDIO_MIXER_SET:
		ctrl.Mask = v.Mask
	}

	return nil
}

// SetPort implements audiodev.HWBackend.
func (d *Device) SetPort(ctrl *audiodev.MixerCtrl) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	v, ok := d.values[ctrl.Dev]
	if !ok || v.Type != ctrl.Type {
		return fmt.Errorf("loopback: control %d: %w", ctrl.Dev, audiodev.ErrInvalidParameter)
	}
	switch v.Type {
	case audiodev.AUDIO_MIXER_VALUE:
		switch len(ctrl.Levels) {
		case 1:
			for i := range v.Levels {
				v.Levels[i] = ctrl.Levels[0]
			}
		case len(v.Levels):
			copy(v.Levels, ctrl.Levels)
		default:
			return fmt.Errorf("loopback: control %d: %d channels: %w", ctrl.Dev, len(ctrl.Levels), audiodev.ErrInvalidParameter)
		}
	case audiodev.AUDIO_MIXER_ENUM:
		if ctrl.Ord < 0 || ctrl.Ord >= len(d.devinfo[ctrl.Dev].Members) {
			return fmt.Errorf("loopback: control %d: ordinal %d: %w", ctrl.Dev, ctrl.Ord, audiodev.ErrInvalidParameter)
		}
		v.Ord = ctrl.Ord
	case audiodev.AUDIO_MIXER_SET:
		v.Mask = ctrl.Mask
	}
	d.values[ctrl.Dev] = v

	return nil
}

// Control returns the current value of control index, bypassing the device layer.
func (d *Device) Control(index int) audiodev.MixerCtrl {
	d.mu.Lock()
	defer d.mu.Unlock()

	v := d.values[index]
	v.Levels = slices.Clone(v.Levels)

	return v
}

// SetControl changes a control behind the device layer's back, as a hardware reset would.
func (d *Device) SetControl(c audiodev.MixerCtrl) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c.Levels = slices.Clone(c.Levels)
	d.values[c.Dev] = c
}
